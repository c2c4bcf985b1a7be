package source

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/seenimoa/landlinked/pkg/models"
)

// NewObservation builds a canonical observation for sources that report
// one numeric value per country and year.
func NewObservation(ind models.Indicator, c models.Country, year int, value float64, unit string) models.Observation {
	return models.Observation{
		Indicator:   models.IDValue{ID: ind.Code, Value: ind.Description},
		Country:     models.IDValue{ID: c.ISO2, Value: c.Name},
		CountryISO3: c.ISO3,
		Date:        strconv.Itoa(year),
		Value:       value,
		Unit:        unit,
	}
}

// NewEntry wraps normalized observations in a cache entry with
// single-page metadata. No observations is ErrNoData.
func NewEntry(sourceName, code string, obs []models.Observation) (*models.CacheEntry, error) {
	if len(obs) == 0 {
		return nil, fmt.Errorf("%s: %w: %s", sourceName, ErrNoData, code)
	}
	return &models.CacheEntry{
		Metadata:     models.NewMetadata(sourceName, len(obs)),
		Observations: obs,
	}, nil
}

// Year extracts a calendar year from a decoded JSON value such as 2015,
// 2015.0, "2015" or "2015-01-01".
func Year(v any) (int, bool) {
	switch val := v.(type) {
	case string:
		s := strings.TrimSpace(val)
		if len(s) > 4 {
			s = s[:4]
		}
		y, err := strconv.Atoi(s)
		if err != nil {
			return 0, false
		}
		return y, true
	default:
		f, ok := models.ParseNumber(v)
		if !ok {
			return 0, false
		}
		return int(f), true
	}
}

// InRange reports whether start <= year <= end.
func InRange(year, start, end int) bool {
	return year >= start && year <= end
}
