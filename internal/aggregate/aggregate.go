// Package aggregate turns cached per-country observations into one
// series per (indicator, group) using the indicator's aggregation rule.
// It only reads the cache; it never fetches and never writes.
package aggregate

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/seenimoa/landlinked/internal/cache"
	"github.com/seenimoa/landlinked/internal/catalogue"
	"github.com/seenimoa/landlinked/internal/infra"
	"github.com/seenimoa/landlinked/pkg/models"
)

var (
	// ErrNoData means the indicator has never been cached for the group.
	ErrNoData = errors.New("no cached data")

	// ErrUnknownIndicator means the code is not in the catalogue.
	ErrUnknownIndicator = errors.New("unknown indicator")
)

// Indicators resolves catalogue entries.
type Indicators interface {
	Get(code string) (models.Indicator, bool)
}

// Reader reads cache entries.
type Reader interface {
	Read(code, group string) (*models.CacheEntry, error)
}

// Row is one per-country observation of an indicator table.
type Row struct {
	CountryID   string  `json:"country_id"`
	CountryName string  `json:"country"`
	ISO3        string  `json:"iso3,omitempty"`
	Date        string  `json:"date"`
	Value       float64 `json:"value"`
}

// countryKey is the per-country join key: ISO2 id, or the upper-cased name.
func (r Row) countryKey() string {
	return models.Country{ISO2: r.CountryID, Name: r.CountryName}.Key()
}

// Point is one date of an aggregate series.
type Point struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// JoinedRow is a value row matched with its weight.
type JoinedRow struct {
	Row
	Weight float64 `json:"weight"`
}

// Result is an aggregate series. Joined holds the matched rows of a
// weighted aggregation and is empty otherwise.
type Result struct {
	Indicator string         `json:"indicator"`
	Group     string         `json:"group"`
	Rule      models.AggRule `json:"rule"`
	Series    []Point        `json:"series"`
	Joined    []JoinedRow    `json:"joined,omitempty"`
}

// Engine computes aggregate series from the cache.
type Engine struct {
	indicators Indicators
	cache      Reader
	logger     *slog.Logger
}

// New creates an engine.
func New(indicators Indicators, cache Reader, logger *slog.Logger) *Engine {
	return &Engine{
		indicators: indicators,
		cache:      cache,
		logger:     infra.OrDefault(logger).With("component", "aggregate"),
	}
}

// LoadTable returns the cached rows of (code, group) regardless of cache
// age. A missing or unreadable entry is ErrNoData.
func (e *Engine) LoadTable(code, group string) ([]Row, error) {
	entry, err := e.cache.Read(code, group)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s for %s", ErrNoData, code, group)
		}
		return nil, err
	}
	rows := make([]Row, 0, len(entry.Observations))
	for _, o := range entry.Observations {
		if !models.IsFinite(o.Value) {
			continue
		}
		rows = append(rows, Row{
			CountryID:   o.Country.ID,
			CountryName: o.Country.Value,
			ISO3:        o.CountryISO3,
			Date:        o.Date,
			Value:       o.Value,
		})
	}
	return rows, nil
}

// Compute aggregates (code, group) with the indicator's rule. A cached
// entry without usable rows yields an empty series and no error.
func (e *Engine) Compute(code, group string) (*Result, error) {
	ind, ok := e.indicators.Get(code)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIndicator, code)
	}
	res := &Result{Indicator: code, Group: group, Rule: ind.Agg, Series: []Point{}}

	switch ind.Agg.Kind {
	case models.AggSum, models.AggMean:
		rows, err := e.LoadTable(code, group)
		if err != nil {
			return nil, err
		}
		res.Series = reduce(rows, ind.Agg.Kind)
	case models.AggWeighted:
		if _, ok := e.indicators.Get(ind.Agg.WeightBy); !ok || ind.Agg.WeightBy == "" {
			return nil, &catalogue.ConfigurationError{
				Indicator: code,
				Reason:    fmt.Sprintf("weight_by %q is not in the catalogue", ind.Agg.WeightBy),
			}
		}
		rows, err := e.LoadTable(code, group)
		if err != nil {
			return nil, err
		}
		weights, err := e.LoadTable(ind.Agg.WeightBy, group)
		if err != nil {
			return nil, fmt.Errorf("weights %s: %w", ind.Agg.WeightBy, err)
		}
		res.Joined = join(rows, weights)
		res.Series = weighted(res.Joined)
	default:
		return nil, &catalogue.ConfigurationError{
			Indicator: code,
			Reason:    fmt.Sprintf("unknown aggregation rule %s", ind.Agg.Kind),
		}
	}

	e.logger.Debug("aggregated", "indicator", code, "group", group, "rule", ind.Agg.String(), "points", len(res.Series))
	return res, nil
}

type acc struct {
	sum float64
	n   int
}

// reduce sums or averages rows per date.
func reduce(rows []Row, kind models.AggKind) []Point {
	byDate := make(map[string]*acc)
	for _, r := range rows {
		a := byDate[r.Date]
		if a == nil {
			a = &acc{}
			byDate[r.Date] = a
		}
		a.sum += r.Value
		a.n++
	}
	points := make([]Point, 0, len(byDate))
	for date, a := range byDate {
		v := a.sum
		if kind == models.AggMean {
			v /= float64(a.n)
		}
		points = append(points, Point{Date: date, Value: v})
	}
	sortPoints(points)
	return points
}

// join is an inner join of values and weights on (country, date). A key
// present several times on both sides yields every pairing.
func join(values, weights []Row) []JoinedRow {
	type key struct{ country, date string }
	index := make(map[key][]float64, len(weights))
	for _, w := range weights {
		k := key{w.countryKey(), w.Date}
		index[k] = append(index[k], w.Value)
	}
	var out []JoinedRow
	for _, v := range values {
		for _, w := range index[key{v.countryKey(), v.Date}] {
			out = append(out, JoinedRow{Row: v, Weight: w})
		}
	}
	return out
}

// weighted computes sum(v*w)/sum(w) per date. Dates whose weights sum to
// zero are omitted.
func weighted(rows []JoinedRow) []Point {
	type wacc struct{ vw, w float64 }
	byDate := make(map[string]*wacc)
	for _, r := range rows {
		a := byDate[r.Date]
		if a == nil {
			a = &wacc{}
			byDate[r.Date] = a
		}
		a.vw += r.Value * r.Weight
		a.w += r.Weight
	}
	points := make([]Point, 0, len(byDate))
	for date, a := range byDate {
		if a.w == 0 {
			continue
		}
		v := a.vw / a.w
		if !models.IsFinite(v) {
			continue
		}
		points = append(points, Point{Date: date, Value: v})
	}
	sortPoints(points)
	return points
}

// sortPoints orders points by date, numerically when both dates are
// years.
func sortPoints(points []Point) {
	sort.Slice(points, func(i, j int) bool {
		a, errA := strconv.Atoi(points[i].Date)
		b, errB := strconv.Atoi(points[j].Date)
		if errA == nil && errB == nil {
			return a < b
		}
		return points[i].Date < points[j].Date
	})
}
