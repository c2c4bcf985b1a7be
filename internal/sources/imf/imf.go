// Package imf implements the IMF DataMapper source. An indicator is
// downloaded once for all countries, keyed by ISO3, and filtered per
// group. Accepted years extend past the present to include projections.
package imf

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/seenimoa/landlinked/internal/infra"
	"github.com/seenimoa/landlinked/internal/source"
	"github.com/seenimoa/landlinked/pkg/models"
)

const (
	DefaultBaseURL = "https://www.imf.org/external/datamapper/api/v1"
	DefaultDelay   = 500 * time.Millisecond
	DefaultTimeout = 30 * time.Second

	// DefaultForecastEndYear is the last projection year kept.
	DefaultForecastEndYear = 2030
)

// countryYears maps ISO3 -> year -> value.
type countryYears map[string]map[string]any

// Plugin is the IMF source.
type Plugin struct {
	source.Base
	values *infra.Memo[countryYears]
}

// New creates the IMF plugin. s.EndYear is the last accepted year,
// projections included.
func New(s source.Settings, cat source.Catalogue) *Plugin {
	s.Name = models.SourceIMF
	s.URL = "https://www.imf.org/external/datamapper"
	s.DB = "IMF DataMapper"
	if s.BaseURL == "" {
		s.BaseURL = DefaultBaseURL
	}
	if s.Delay == 0 {
		s.Delay = DefaultDelay
	}
	if s.Timeout == 0 {
		s.Timeout = DefaultTimeout
	}
	if s.StartYear == 0 {
		s.StartYear = 2010
	}
	if s.EndYear == 0 {
		s.EndYear = DefaultForecastEndYear
	}
	return &Plugin{Base: source.NewBase(s, cat), values: infra.NewMemo[countryYears]()}
}

type response struct {
	Values map[string]countryYears `json:"values"`
}

// remoteCode returns the DataMapper code of ind.
func remoteCode(ind models.Indicator) string {
	return ind.Param(models.ParamIMFCode, ind.Code)
}

func (p *Plugin) fetchAll(ctx context.Context, imfCode string) (countryYears, error) {
	return p.values.Get(ctx, imfCode, func(ctx context.Context) (countryYears, error) {
		u := strings.TrimRight(p.BaseURL(), "/") + "/" + url.PathEscape(imfCode)
		var body response
		if err := p.GetJSON(ctx, u, &body); err != nil {
			return nil, err
		}
		data := body.Values[imfCode]
		if data == nil {
			data = countryYears{}
		}
		return data, nil
	})
}

// FetchIndicator implements source.Plugin.
func (p *Plugin) FetchIndicator(ctx context.Context, code, group string, countries []models.Country) (*models.CacheEntry, error) {
	ind, err := p.Require(code)
	if err != nil {
		return nil, err
	}
	if len(countries) == 0 {
		return nil, fmt.Errorf("%s: %w: group %s is empty", p.Name(), source.ErrNoData, group)
	}

	all, err := p.fetchAll(ctx, remoteCode(ind))
	if err != nil {
		return nil, err
	}

	start, end := p.Years()
	seen := make(map[string]bool, len(countries))
	var obs []models.Observation
	for _, c := range countries {
		iso3 := strings.ToUpper(c.ISO3)
		if iso3 == "" || seen[iso3] {
			continue
		}
		seen[iso3] = true

		years := all[iso3]
		keys := make([]string, 0, len(years))
		for y := range years {
			keys = append(keys, y)
		}
		sort.Strings(keys)
		for _, key := range keys {
			year, ok := source.Year(key)
			if !ok || !source.InRange(year, start, end) {
				continue
			}
			value, ok := models.ParseNumber(years[key])
			if !ok {
				continue
			}
			c.ISO3 = iso3
			obs = append(obs, source.NewObservation(ind, c, year, value, ind.Unit))
		}
	}
	return source.NewEntry(p.Name(), code, obs)
}
