// Package worldbank implements the World Bank API v2 source. Responses are
// already in the canonical [metadata, records] shape, so normalization
// only drops null values.
package worldbank

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/landlinked/internal/source"
	"github.com/seenimoa/landlinked/pkg/models"
)

const (
	DefaultBaseURL     = "https://api.worldbank.org/v2"
	DefaultDelay       = 500 * time.Millisecond
	DefaultTimeout     = 10 * time.Second
	DefaultPageWorkers = 4

	perPage = 10000
)

// Plugin is the World Bank source.
type Plugin struct {
	source.Base
	pageWorkers int
}

// New creates the World Bank plugin. Zero settings take the package
// defaults; pageWorkers caps concurrent page downloads.
func New(s source.Settings, cat source.Catalogue, pageWorkers int) *Plugin {
	s.Name = models.SourceWorldBank
	s.URL = "https://data.worldbank.org"
	s.DB = "World Development Indicators"
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
	if pageWorkers <= 0 {
		pageWorkers = DefaultPageWorkers
	}
	return &Plugin{Base: source.NewBase(s, cat), pageWorkers: pageWorkers}
}

// record is one World Bank observation as returned by the API.
type record struct {
	Indicator   models.IDValue `json:"indicator"`
	Country     models.IDValue `json:"country"`
	CountryISO3 string         `json:"countryiso3code"`
	Date        string         `json:"date"`
	Value       any            `json:"value"`
	Unit        string         `json:"unit"`
	ObsStatus   string         `json:"obs_status"`
	Decimal     any            `json:"decimal"`
}

// page is one decoded response page.
type page struct {
	meta    models.Metadata
	records []record
	empty   bool // error payload or missing records
}

func (p *page) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) < 2 {
		// [{"message": [...]}] for unknown indicators or countries.
		p.empty = true
		return nil
	}
	if err := json.Unmarshal(parts[0], &p.meta); err != nil {
		return fmt.Errorf("metadata: %w", err)
	}
	if err := json.Unmarshal(parts[1], &p.records); err != nil {
		return fmt.Errorf("records: %w", err)
	}
	p.empty = p.records == nil
	return nil
}

func (p *Plugin) pageURL(code, countries string, n int) string {
	start, end := p.Years()
	return fmt.Sprintf("%s/country/%s/indicator/%s?date=%d:%d&per_page=%d&format=json&page=%d",
		strings.TrimRight(p.BaseURL(), "/"), countries, url.PathEscape(code), start, end, perPage, n)
}

// FetchIndicator implements source.Plugin.
func (p *Plugin) FetchIndicator(ctx context.Context, code, group string, countries []models.Country) (*models.CacheEntry, error) {
	if _, err := p.Require(code); err != nil {
		return nil, err
	}
	codes := make([]string, 0, len(countries))
	for _, c := range countries {
		if c.ISO2 != "" {
			codes = append(codes, c.ISO2)
		}
	}
	if len(codes) == 0 {
		return nil, fmt.Errorf("%s: %w: group %s has no ISO2 codes", p.Name(), source.ErrNoData, group)
	}
	joined := strings.Join(codes, ";")

	var first page
	if err := p.GetJSON(ctx, p.pageURL(code, joined, 1), &first); err != nil {
		return nil, err
	}
	if first.empty {
		return nil, fmt.Errorf("%s: %w: %s", p.Name(), source.ErrNoData, code)
	}

	records := first.records
	pages := 1
	if n, ok := models.ParseNumber(first.meta["pages"]); ok {
		pages = int(n)
	}
	if pages > 1 {
		rest, err := p.fetchPages(ctx, code, joined, pages)
		if err != nil {
			return nil, err
		}
		records = append(records, rest...)
	}

	obs := normalize(records)
	if len(obs) == 0 {
		return nil, fmt.Errorf("%s: %w: %s", p.Name(), source.ErrNoData, code)
	}
	p.Logger().Debug("fetched", "indicator", code, "group", group, "pages", pages, "records", len(obs))
	return &models.CacheEntry{Metadata: first.meta, Observations: obs}, nil
}

// fetchPages downloads pages 2..pages concurrently and returns their
// records in page order. Any page failure fails the whole fetch.
func (p *Plugin) fetchPages(ctx context.Context, code, countries string, pages int) ([]record, error) {
	results := make([][]record, pages+1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(pages-1, p.pageWorkers))
	for n := 2; n <= pages; n++ {
		n := n
		g.Go(func() error {
			var pg page
			if err := p.GetJSON(gctx, p.pageURL(code, countries, n), &pg); err != nil {
				return err
			}
			results[n] = pg.records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []record
	for _, recs := range results[2:] {
		out = append(out, recs...)
	}
	return out, nil
}

func normalize(records []record) []models.Observation {
	obs := make([]models.Observation, 0, len(records))
	for _, r := range records {
		v, ok := models.ParseNumber(r.Value)
		if !ok {
			continue
		}
		dec, _ := models.ParseNumber(r.Decimal)
		obs = append(obs, models.Observation{
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
	return obs
}
