package aggregate

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seenimoa/landlinked/internal/cache"
	"github.com/seenimoa/landlinked/internal/catalogue"
	"github.com/seenimoa/landlinked/internal/infra"
	"github.com/seenimoa/landlinked/pkg/models"
)

// indicatorMap lets tests build entries the catalogue would reject.
type indicatorMap map[string]models.Indicator

func (m indicatorMap) Get(code string) (models.Indicator, bool) {
	ind, ok := m[code]
	return ind, ok
}

var indicators = indicatorMap{
	"X":     {Code: "X", Agg: models.Sum()},
	"POP":   {Code: "POP", Agg: models.Sum()},
	"AVG":   {Code: "AVG", Agg: models.Mean()},
	"GROW":  {Code: "GROW", Agg: models.Weighted("POP")},
	"BOGUS": {Code: "BOGUS", Agg: models.AggRule{}},
	"ORPH":  {Code: "ORPH", Agg: models.Weighted("MISSING")},
}

type obs struct {
	id, name, date string
	value          float64
}

func write(t *testing.T, store *cache.Store, code string, rows ...obs) {
	t.Helper()
	entry := &models.CacheEntry{Metadata: models.NewMetadata("test", len(rows))}
	for _, r := range rows {
		entry.Observations = append(entry.Observations, models.Observation{
			Indicator: models.IDValue{ID: code},
			Country:   models.IDValue{ID: r.id, Value: r.name},
			Date:      r.date,
			Value:     r.value,
		})
	}
	require.NoError(t, store.Write(code, "g", entry))
}

func newEngine(t *testing.T) (*Engine, *cache.Store) {
	t.Helper()
	store := cache.New(t.TempDir(), 0, cache.WithLogger(infra.Discard()))
	return New(indicators, store, infra.Discard()), store
}

func series(res *Result) map[string]float64 {
	out := make(map[string]float64, len(res.Series))
	for _, p := range res.Series {
		out[p.Date] = p.Value
	}
	return out
}

func TestSumEndToEnd(t *testing.T) {
	e, store := newEngine(t)
	write(t, store, "X",
		obs{"A", "Alpha", "2020", 5},
		obs{"B", "Beta", "2020", 7},
		obs{"A", "Alpha", "2021", 9},
	)

	res, err := e.Compute("X", "g")
	require.NoError(t, err)
	assert.Equal(t, []Point{{"2020", 12}, {"2021", 9}}, res.Series)
	assert.Equal(t, models.AggSum, res.Rule.Kind)
	assert.Empty(t, res.Joined)
}

func TestSumMissingCountryIsNotZero(t *testing.T) {
	e, store := newEngine(t)
	write(t, store, "X",
		obs{"A", "Alpha", "2020", 10},
		obs{"B", "Beta", "2020", 20},
		obs{"C", "Gamma", "2019", 1},
	)

	res, err := e.Compute("X", "g")
	require.NoError(t, err)
	assert.Equal(t, 30.0, series(res)["2020"])
}

func TestMean(t *testing.T) {
	e, store := newEngine(t)
	write(t, store, "AVG",
		obs{"A", "Alpha", "2020", 10},
		obs{"B", "Beta", "2020", 20},
		obs{"A", "Alpha", "2021", 4},
	)

	res, err := e.Compute("AVG", "g")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"2020": 15, "2021": 4}, series(res))
}

func TestWeighted(t *testing.T) {
	e, store := newEngine(t)
	write(t, store, "GROW", obs{"A", "Alpha", "2021", 10}, obs{"B", "Beta", "2021", 20})
	write(t, store, "POP", obs{"A", "Alpha", "2021", 2}, obs{"B", "Beta", "2021", 8})

	res, err := e.Compute("GROW", "g")
	require.NoError(t, err)
	require.Len(t, res.Series, 1)
	assert.InDelta(t, 18.0, res.Series[0].Value, 1e-12)
	assert.Len(t, res.Joined, 2)
	assert.Equal(t, "POP", res.Rule.WeightBy)
}

func TestWeightedJoinExcludesUnmatchedRows(t *testing.T) {
	e, store := newEngine(t)
	write(t, store, "GROW",
		obs{"A", "Alpha", "2021", 10},
		obs{"B", "Beta", "2021", 20},
		obs{"C", "Gamma", "2021", 1000}, // no weight
		obs{"A", "Alpha", "2022", 5},    // no weight for this year
	)
	write(t, store, "POP",
		obs{"A", "Alpha", "2021", 2},
		obs{"B", "Beta", "2021", 8},
		obs{"D", "Delta", "2021", 50}, // no value
	)

	res, err := e.Compute("GROW", "g")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"2021": 18}, series(res))
	assert.Len(t, res.Joined, 2)
}

func TestWeightedJoinsByNameWhenIDMissing(t *testing.T) {
	e, store := newEngine(t)
	write(t, store, "GROW", obs{"", "Alpha", "2021", 10}, obs{"B", "Beta", "2021", 20})
	write(t, store, "POP", obs{"", "ALPHA", "2021", 1}, obs{"B", "Beta", "2021", 1})

	res, err := e.Compute("GROW", "g")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"2021": 15}, series(res))
}

func TestWeightedZeroWeightSumOmitsDate(t *testing.T) {
	e, store := newEngine(t)
	write(t, store, "GROW",
		obs{"A", "Alpha", "2020", 10},
		obs{"A", "Alpha", "2021", 10},
	)
	write(t, store, "POP",
		obs{"A", "Alpha", "2020", 0},
		obs{"A", "Alpha", "2021", 3},
	)

	res, err := e.Compute("GROW", "g")
	require.NoError(t, err)
	assert.Equal(t, []Point{{"2021", 10}}, res.Series)
}

func TestWeightedMissingWeightCache(t *testing.T) {
	e, store := newEngine(t)
	write(t, store, "GROW", obs{"A", "Alpha", "2021", 10})

	_, err := e.Compute("GROW", "g")
	assert.ErrorIs(t, err, ErrNoData)
}

func TestConfigurationErrors(t *testing.T) {
	e, store := newEngine(t)
	write(t, store, "BOGUS", obs{"A", "Alpha", "2021", 10})
	write(t, store, "ORPH", obs{"A", "Alpha", "2021", 10})

	for _, code := range []string{"BOGUS", "ORPH"} {
		_, err := e.Compute(code, "g")
		var cfgErr *catalogue.ConfigurationError
		require.ErrorAs(t, err, &cfgErr, code)
		assert.Equal(t, code, cfgErr.Indicator)
	}
}

func TestUnknownIndicator(t *testing.T) {
	e, _ := newEngine(t)
	_, err := e.Compute("NOPE", "g")
	assert.ErrorIs(t, err, ErrUnknownIndicator)
}

func TestNeverCachedVersusEmpty(t *testing.T) {
	e, store := newEngine(t)

	_, err := e.Compute("X", "g")
	assert.ErrorIs(t, err, ErrNoData)

	write(t, store, "X")
	res, err := e.Compute("X", "g")
	require.NoError(t, err)
	assert.NotNil(t, res.Series)
	assert.Empty(t, res.Series)
}

func TestCorruptCacheIsNoData(t *testing.T) {
	e, store := newEngine(t)
	require.NoError(t, os.MkdirAll(store.Dir(), 0o755))
	require.NoError(t, os.WriteFile(store.Path("X", "g"), []byte("not json"), 0o644))

	_, err := e.Compute("X", "g")
	assert.ErrorIs(t, err, ErrNoData)
}

func TestComputeIsIdempotentAndReadOnly(t *testing.T) {
	e, store := newEngine(t)
	write(t, store, "GROW", obs{"A", "Alpha", "2021", 10}, obs{"B", "Beta", "2021", 20}, obs{"A", "Alpha", "2020", 3})
	write(t, store, "POP", obs{"A", "Alpha", "2021", 2}, obs{"B", "Beta", "2021", 8}, obs{"A", "Alpha", "2020", 1})

	before, err := os.ReadFile(store.Path("GROW", "g"))
	require.NoError(t, err)

	first, err := e.Compute("GROW", "g")
	require.NoError(t, err)
	second, err := e.Compute("GROW", "g")
	require.NoError(t, err)
	assert.Equal(t, first.Series, second.Series)

	after, err := os.ReadFile(store.Path("GROW", "g"))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSeriesSortedNumerically(t *testing.T) {
	e, store := newEngine(t)
	write(t, store, "X",
		obs{"A", "Alpha", "2021", 1},
		obs{"A", "Alpha", "999", 1},
		obs{"A", "Alpha", "2010", 1},
	)
	res, err := e.Compute("X", "g")
	require.NoError(t, err)

	var dates []string
	for _, p := range res.Series {
		dates = append(dates, p.Date)
	}
	assert.Equal(t, []string{"999", "2010", "2021"}, dates)
}

func TestLoadTable(t *testing.T) {
	e, store := newEngine(t)
	write(t, store, "X", obs{"BO", "Bolivia", "2020", 5})

	rows, err := e.LoadTable("X", "g")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, Row{CountryID: "BO", CountryName: "Bolivia", Date: "2020", Value: 5}, rows[0])
}
