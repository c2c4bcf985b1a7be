// Package unsdg implements the UN SDG Global Database source. A series is
// downloaded once for all countries and then filtered per group by UN M49
// area code.
package unsdg

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/seenimoa/landlinked/internal/directory"
	"github.com/seenimoa/landlinked/internal/infra"
	"github.com/seenimoa/landlinked/internal/source"
	"github.com/seenimoa/landlinked/pkg/models"
)

const (
	DefaultBaseURL = "https://unstats.un.org/sdgs/UNSDGAPIV5/v1/sdg"
	DefaultDelay   = 300 * time.Millisecond
	DefaultTimeout = 30 * time.Second

	pageSize = 10000
)

// AreaCodes maps countries to UN M49 codes and back.
type AreaCodes interface {
	M49(iso3 string) (int, bool)
	Country(m49 int) (models.Country, bool)
}

// Plugin is the UN SDG source.
type Plugin struct {
	source.Base
	areas  AreaCodes
	series *infra.Memo[[]dataPoint]
}

// New creates the UN SDG plugin.
func New(s source.Settings, cat source.Catalogue, areas AreaCodes) *Plugin {
	s.Name = models.SourceUNSDG
	s.URL = "https://unstats.un.org/sdgs/dataportal"
	s.DB = "UN SDG Global Database"
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
		s.EndYear = 2025
	}
	return &Plugin{
		Base:   source.NewBase(s, cat),
		areas:  areas,
		series: infra.NewMemo[[]dataPoint](),
	}
}

type seriesPage struct {
	TotalPages int         `json:"totalPages"`
	Data       []dataPoint `json:"data"`
}

type dataPoint struct {
	GeoAreaCode     any `json:"geoAreaCode"`
	TimePeriodStart any `json:"timePeriodStart"`
	Year            any `json:"year"`
	Value           any `json:"value"`
}

func (d dataPoint) year() (int, bool) {
	if d.TimePeriodStart != nil {
		return source.Year(d.TimePeriodStart)
	}
	return source.Year(d.Year)
}

// fetchSeries downloads every page of a series. The result is shared by
// all groups; a failed download is not kept.
func (p *Plugin) fetchSeries(ctx context.Context, code string) ([]dataPoint, error) {
	return p.series.Get(ctx, code, func(ctx context.Context) ([]dataPoint, error) {
		var all []dataPoint
		for page := 1; ; page++ {
			u := fmt.Sprintf("%s/Series/Data?seriesCode=%s&pageSize=%d&page=%d",
				strings.TrimRight(p.BaseURL(), "/"), url.QueryEscape(code), pageSize, page)
			var body seriesPage
			if err := p.GetJSON(ctx, u, &body); err != nil {
				return nil, err
			}
			all = append(all, body.Data...)
			if page >= body.TotalPages {
				break
			}
		}
		p.Logger().Debug("series downloaded", "indicator", code, "points", len(all))
		return all, nil
	})
}

// FetchIndicator implements source.Plugin.
func (p *Plugin) FetchIndicator(ctx context.Context, code, group string, countries []models.Country) (*models.CacheEntry, error) {
	ind, err := p.Require(code)
	if err != nil {
		return nil, err
	}

	members := make(map[int]models.Country, len(countries))
	for _, c := range countries {
		m49, ok := p.areas.M49(c.ISO3)
		if !ok {
			p.Logger().Debug("no area code", "country", c.Name, "iso3", c.ISO3)
			continue
		}
		members[m49] = c
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("%s: %w: no group country has an area code", p.Name(), source.ErrNoData)
	}

	points, err := p.fetchSeries(ctx, code)
	if err != nil {
		return nil, err
	}

	start, end := p.Years()
	type key struct{ area, year int }
	seen := make(map[key]bool)
	var obs []models.Observation
	for _, dp := range points {
		area, ok := directory.AreaCode(dp.GeoAreaCode)
		if !ok {
			continue
		}
		member, ok := members[area]
		if !ok {
			continue
		}
		year, ok := dp.year()
		if !ok || !source.InRange(year, start, end) {
			continue
		}
		value, ok := models.ParseNumber(dp.Value)
		if !ok {
			continue
		}
		k := key{area, year}
		if seen[k] {
			continue
		}
		seen[k] = true

		country := member
		if ref, ok := p.areas.Country(area); ok {
			country = ref
		}
		obs = append(obs, source.NewObservation(ind, country, year, value, ind.Unit))
	}
	return source.NewEntry(p.Name(), code, obs)
}
