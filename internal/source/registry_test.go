package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seenimoa/landlinked/internal/cache"
	"github.com/seenimoa/landlinked/internal/infra"
	"github.com/seenimoa/landlinked/pkg/models"
)

var epoch = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

// stubPlugin is an in-memory Plugin.
type stubPlugin struct {
	name  string
	inds  []models.Indicator
	fetch func(code string) (*models.CacheEntry, error)
	calls atomic.Int32
}

func (s *stubPlugin) Name() string                   { return s.name }
func (s *stubPlugin) Info() Info                     { return Info{Name: s.name, Indicators: len(s.inds)} }
func (s *stubPlugin) Indicators() []models.Indicator { return s.inds }
func (s *stubPlugin) Indicator(code string) (models.Indicator, bool) {
	for _, ind := range s.inds {
		if ind.Code == code {
			return ind, true
		}
	}
	return models.Indicator{}, false
}

func (s *stubPlugin) FetchIndicator(_ context.Context, code, _ string, _ []models.Country) (*models.CacheEntry, error) {
	s.calls.Add(1)
	return s.fetch(code)
}

func entryFor(code string, n int) *models.CacheEntry {
	obs := make([]models.Observation, n)
	for i := range obs {
		obs[i] = models.Observation{
			Indicator: models.IDValue{ID: code},
			Country:   models.IDValue{ID: "BO", Value: "Bolivia"},
			Date:      fmt.Sprint(2010 + i),
			Value:     float64(i),
		}
	}
	return &models.CacheEntry{Metadata: models.NewMetadata("stub", n), Observations: obs}
}

func indicators(prefix string, n int) []models.Indicator {
	out := make([]models.Indicator, n)
	for i := range out {
		out[i] = models.Indicator{Code: fmt.Sprintf("%s.%02d", prefix, i), Source: "stub", Agg: models.Sum()}
	}
	return out
}

type recorder struct {
	mu  sync.Mutex
	got map[string]int
}

func (r *recorder) ObserveFetch(source, status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.got == nil {
		r.got = map[string]int{}
	}
	r.got[source+"/"+status]++
}

func newRegistry(t *testing.T, opts ...RegistryOption) (*Registry, *cache.Store) {
	t.Helper()
	clock := infra.NewFakeClock(epoch)
	store := cache.New(t.TempDir(), 0, cache.WithClock(clock), cache.WithLogger(infra.Discard()))
	opts = append([]RegistryOption{WithClock(clock), WithLogger(infra.Discard())}, opts...)
	return NewRegistry(store, opts...), store
}

func TestRegisterGetList(t *testing.T) {
	r, _ := newRegistry(t)
	wb := &stubPlugin{name: "World Bank", inds: indicators("WB", 2)}
	empty := &stubPlugin{name: "FAOSTAT"}
	require.NoError(t, r.Register(wb))
	require.NoError(t, r.Register(empty))
	assert.Error(t, r.Register(&stubPlugin{}))

	p, err := r.Get("World Bank")
	require.NoError(t, err)
	assert.Same(t, wb, p)

	_, err = r.Get("Nope")
	var nf *ErrPluginNotFound
	assert.ErrorAs(t, err, &nf)

	all := r.GetAll()
	require.Len(t, all, 1)
	assert.Equal(t, "World Bank", all[0].Name())
	assert.Len(t, r.List(), 2)

	// Re-registering replaces in place.
	wb2 := &stubPlugin{name: "World Bank", inds: indicators("WB", 1)}
	require.NoError(t, r.Register(wb2))
	assert.Len(t, r.List(), 2)
	p, _ = r.Get("World Bank")
	assert.Same(t, wb2, p)
}

func TestGetIndicatorFetchesThenServesCache(t *testing.T) {
	r, store := newRegistry(t)
	p := &stubPlugin{name: "stub", inds: indicators("X", 1), fetch: func(code string) (*models.CacheEntry, error) {
		return entryFor(code, 3), nil
	}}

	out := r.GetIndicator(context.Background(), p, "X.00", "lldcs", nil)
	assert.Equal(t, StatusFetched, out.Status)
	assert.Equal(t, 3, out.Records)

	out = r.GetIndicator(context.Background(), p, "X.00", "lldcs", nil)
	assert.Equal(t, StatusCached, out.Status)
	assert.EqualValues(t, 1, p.calls.Load())

	_, err := store.Read("X.00", "lldcs")
	assert.NoError(t, err)
}

func TestGetIndicatorStaleEntryRefetched(t *testing.T) {
	r, store := newRegistry(t)
	require.NoError(t, store.Write("X.00", "lldcs", entryFor("X.00", 1)))
	old := epoch.Add(-40 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(store.Path("X.00", "lldcs"), old, old))

	p := &stubPlugin{name: "stub", inds: indicators("X", 1), fetch: func(code string) (*models.CacheEntry, error) {
		return entryFor(code, 5), nil
	}}
	out := r.GetIndicator(context.Background(), p, "X.00", "lldcs", nil)
	assert.Equal(t, StatusFetched, out.Status)
	assert.Equal(t, 5, out.Records)
}

func TestGetIndicatorFailureKeepsOldEntry(t *testing.T) {
	r, store := newRegistry(t)
	require.NoError(t, store.Write("X.00", "lldcs", entryFor("X.00", 2)))
	old := epoch.Add(-40 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(store.Path("X.00", "lldcs"), old, old))

	p := &stubPlugin{name: "stub", inds: indicators("X", 1), fetch: func(string) (*models.CacheEntry, error) {
		return nil, &FetchError{Source: "stub", URL: "http://x", Attempts: 3, Err: errors.New("boom")}
	}}
	out := r.GetIndicator(context.Background(), p, "X.00", "lldcs", nil)
	assert.Equal(t, StatusFailed, out.Status)
	var fe *FetchError
	assert.ErrorAs(t, out.Err, &fe)

	entry, err := store.Read("X.00", "lldcs")
	require.NoError(t, err)
	assert.Len(t, entry.Observations, 2)
	assert.True(t, old.Equal(entry.ModTime))
}

func TestGetIndicatorNoDataAndPanic(t *testing.T) {
	r, store := newRegistry(t)

	noData := &stubPlugin{name: "stub", fetch: func(string) (*models.CacheEntry, error) {
		return nil, fmt.Errorf("stub: %w", ErrNoData)
	}}
	out := r.GetIndicator(context.Background(), noData, "A", "lldcs", nil)
	assert.Equal(t, StatusNoData, out.Status)

	nilEntry := &stubPlugin{name: "stub", fetch: func(string) (*models.CacheEntry, error) { return nil, nil }}
	out = r.GetIndicator(context.Background(), nilEntry, "B", "lldcs", nil)
	assert.Equal(t, StatusNoData, out.Status)

	panicky := &stubPlugin{name: "stub", fetch: func(string) (*models.CacheEntry, error) { panic("kaboom") }}
	out = r.GetIndicator(context.Background(), panicky, "C", "lldcs", nil)
	assert.Equal(t, StatusFailed, out.Status)
	assert.Contains(t, out.Err.Error(), "kaboom")

	for _, code := range []string{"A", "B", "C"} {
		_, err := store.Read(code, "lldcs")
		assert.ErrorIs(t, err, cache.ErrNotFound)
	}
}

func TestDownloadAllIndicatorsIsolatesFailures(t *testing.T) {
	rec := &recorder{}
	r, store := newRegistry(t, WithRecorder(rec))
	inds := indicators("WB", 20)
	failing := inds[7].Code

	var inFlight, peak atomic.Int32
	p := &stubPlugin{name: "World Bank", inds: inds, fetch: func(code string) (*models.CacheEntry, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		if code == failing {
			return nil, &FetchError{Source: "World Bank", Attempts: 3, Err: errors.New("HTTP 500")}
		}
		return entryFor(code, 2), nil
	}}

	rep := r.DownloadAllIndicators(context.Background(), p, "lldcs", nil)
	require.Len(t, rep.Outcomes, 20)
	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, 19, rep.Count(StatusFetched))
	assert.Equal(t, 1, rep.Count(StatusFailed))
	assert.Equal(t, failing, rep.Outcomes[7].Indicator)
	assert.LessOrEqual(t, peak.Load(), int32(DefaultMaxWorkers))

	keys, err := store.List()
	require.NoError(t, err)
	assert.Len(t, keys, 19)

	assert.Equal(t, 19, rec.got["World Bank/fetched"])
	assert.Equal(t, 1, rec.got["World Bank/error"])
}

func TestDownloadAllIndicatorsBatches(t *testing.T) {
	r, _ := newRegistry(t, WithBatching(3, 2))
	p := &stubPlugin{name: "stub", inds: indicators("B", 7), fetch: func(code string) (*models.CacheEntry, error) {
		return entryFor(code, 1), nil
	}}
	rep := r.DownloadAllIndicators(context.Background(), p, "sids", nil)
	assert.Equal(t, 7, rep.Count(StatusFetched))
	for i, out := range rep.Outcomes {
		assert.Equal(t, fmt.Sprintf("B.%02d", i), out.Indicator)
		assert.Equal(t, "sids", out.Group)
	}
}

func TestDownloadGroupSkipsEmptyPlugins(t *testing.T) {
	r, _ := newRegistry(t)
	ok := func(code string) (*models.CacheEntry, error) { return entryFor(code, 1), nil }
	a := &stubPlugin{name: "A", inds: indicators("A", 2), fetch: ok}
	empty := &stubPlugin{name: "E", fetch: ok}
	b := &stubPlugin{name: "B", inds: indicators("B", 3), fetch: ok}
	for _, p := range []Plugin{a, empty, b} {
		require.NoError(t, r.Register(p))
	}

	reports := r.DownloadGroup(context.Background(), "lldcs", nil)
	require.Len(t, reports, 2)
	assert.Equal(t, "A", reports[0].Source)
	assert.Equal(t, "B", reports[1].Source)
	assert.Equal(t, reports[0].RunID, reports[1].RunID)
	assert.EqualValues(t, 0, empty.calls.Load())
}
