package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// IDValue is the {id, value} pair used for the indicator and country
// fields of an observation.
type IDValue struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// Observation is one normalized (indicator, country, year, value) data
// point. The JSON shape is the World Bank v2 record shape, which every
// source is normalized into.
type Observation struct {
	Indicator   IDValue `json:"indicator"`
	Country     IDValue `json:"country"`
	CountryISO3 string  `json:"countryiso3code"`
	Date        string  `json:"date"`
	Value       float64 `json:"value"`
	Unit        string  `json:"unit"`
	ObsStatus   string  `json:"obs_status"`
	Decimal     int     `json:"decimal"`
}

// Metadata is the source-opaque first element of a cache file.
type Metadata map[string]any

// NewMetadata builds the metadata written by plugins that do their own
// pagination and therefore report a single logical page.
func NewMetadata(source string, total int) Metadata {
	return Metadata{
		"page":        1,
		"pages":       1,
		"per_page":    10000,
		"total":       total,
		"sourceid":    source,
		"lastupdated": "",
	}
}

// CacheEntry is the cached result of one (indicator, group) fetch.
// It serializes as the two-element array [metadata, [observation, ...]].
type CacheEntry struct {
	Metadata     Metadata
	Observations []Observation
	ModTime      time.Time // file modification time; zero until read from disk
}

// MarshalJSON implements json.Marshaler.
func (e CacheEntry) MarshalJSON() ([]byte, error) {
	meta := e.Metadata
	if meta == nil {
		meta = Metadata{}
	}
	obs := e.Observations
	if obs == nil {
		obs = []Observation{}
	}
	return json.Marshal([]any{meta, obs})
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *CacheEntry) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 2 {
		return fmt.Errorf("cache entry: expected [metadata, records], got %d elements", len(parts))
	}
	var meta Metadata
	if err := json.Unmarshal(parts[0], &meta); err != nil {
		return fmt.Errorf("cache entry metadata: %w", err)
	}
	var raw []rawObservation
	if err := json.Unmarshal(parts[1], &raw); err != nil {
		return fmt.Errorf("cache entry records: %w", err)
	}
	obs := make([]Observation, 0, len(raw))
	for _, r := range raw {
		v, ok := ParseNumber(r.Value)
		if !ok {
			continue
		}
		dec, _ := ParseNumber(r.Decimal)
		obs = append(obs, Observation{
			Indicator:   r.Indicator,
			Country:     r.Country,
			CountryISO3: r.CountryISO3,
			Date:        r.Date,
			Value:       v,
			Unit:        r.Unit,
			ObsStatus:   r.ObsStatus,
			Decimal:     int(dec),
		})
	}
	e.Metadata = meta
	e.Observations = obs
	return nil
}

// rawObservation accepts records written by other tools, where value may
// be null or a numeric string.
type rawObservation struct {
	Indicator   IDValue `json:"indicator"`
	Country     IDValue `json:"country"`
	CountryISO3 string  `json:"countryiso3code"`
	Date        string  `json:"date"`
	Value       any     `json:"value"`
	Unit        string  `json:"unit"`
	ObsStatus   string  `json:"obs_status"`
	Decimal     any     `json:"decimal"`
}

// IsFinite reports whether v can be stored as an observation value.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ParseNumber converts a decoded JSON value into a finite float64. It
// accepts numbers and numeric strings; nil, empty strings, "NaN" and other
// non-numeric values report false.
func ParseNumber(v any) (float64, bool) {
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int:
		f = float64(val)
	case int64:
		f = float64(val)
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if !IsFinite(f) {
		return 0, false
	}
	return f, true
}
