package worldbank

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seenimoa/landlinked/internal/infra"
	"github.com/seenimoa/landlinked/internal/source"
	"github.com/seenimoa/landlinked/pkg/models"
)

type catalogue []models.Indicator

func (c catalogue) BySource(s string) []models.Indicator {
	var out []models.Indicator
	for _, ind := range c {
		if ind.Source == s {
			out = append(out, ind)
		}
	}
	return out
}

var testCatalogue = catalogue{
	{Code: "SP.POP.TOTL", Source: models.SourceWorldBank, Agg: models.Sum()},
	{Code: "SH_STA_STNT", Source: models.SourceUNSDG, Agg: models.Mean()},
}

var group = []models.Country{
	{Name: "Bolivia", ISO2: "BO", ISO3: "BOL"},
	{Name: "Chad", ISO2: "TD", ISO3: "TCD"},
}

func newPlugin(t *testing.T, url string) *Plugin {
	t.Helper()
	return New(source.Settings{
		BaseURL: url,
		Clock:   infra.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
		Logger:  infra.Discard(),
	}, testCatalogue, 0)
}

func pageBody(pageNum, pages int, year int) string {
	return fmt.Sprintf(`[{"page":%d,"pages":%d,"per_page":10000,"total":%d,"sourceid":"2","lastupdated":"2025-01-28"},[
		{"indicator":{"id":"SP.POP.TOTL","value":"Population, total"},"country":{"id":"BO","value":"Bolivia"},"countryiso3code":"BOL","date":"%d","value":%d,"unit":"","obs_status":"","decimal":0},
		{"indicator":{"id":"SP.POP.TOTL","value":"Population, total"},"country":{"id":"TD","value":"Chad"},"countryiso3code":"TCD","date":"%d","value":null,"unit":"","obs_status":"","decimal":0}
	]]`, pageNum, pages, pages*2, year, year, year)
}

func TestPluginIdentity(t *testing.T) {
	p := newPlugin(t, "")
	assert.Equal(t, "World Bank", p.Name())
	assert.Equal(t, DefaultBaseURL, p.BaseURL())
	require.Len(t, p.Indicators(), 1)
	assert.Equal(t, DefaultDelay, p.Throttle().Delay())
}

func TestFetchSinglePage(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Write([]byte(pageBody(1, 1, 2020)))
	}))
	defer srv.Close()

	entry, err := newPlugin(t, srv.URL).FetchIndicator(context.Background(), "SP.POP.TOTL", "lldcs", group)
	require.NoError(t, err)

	assert.Equal(t, "/country/BO;TD/indicator/SP.POP.TOTL", gotPath)
	assert.Contains(t, gotQuery, "date=2010:2025")
	assert.Contains(t, gotQuery, "per_page=10000")
	assert.Contains(t, gotQuery, "format=json")

	// The null Chad value is dropped.
	require.Len(t, entry.Observations, 1)
	obs := entry.Observations[0]
	assert.Equal(t, "BO", obs.Country.ID)
	assert.Equal(t, "BOL", obs.CountryISO3)
	assert.Equal(t, 2020.0, obs.Value)
	assert.Equal(t, "2025-01-28", entry.Metadata["lastupdated"])
}

func TestFetchMultiplePagesConcurrently(t *testing.T) {
	const pages = 5
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		n, _ := strconv.Atoi(r.URL.Query().Get("page"))
		w.Write([]byte(pageBody(n, pages, 2010+n)))
	}))
	defer srv.Close()

	entry, err := newPlugin(t, srv.URL).FetchIndicator(context.Background(), "SP.POP.TOTL", "lldcs", group)
	require.NoError(t, err)
	assert.EqualValues(t, pages, hits.Load())

	require.Len(t, entry.Observations, pages)
	for i, obs := range entry.Observations {
		assert.Equal(t, strconv.Itoa(2011+i), obs.Date, "pages merged in order")
	}
}

func TestFetchPagesRespectsWorkerLimit(t *testing.T) {
	const pages, workers = 9, 2
	var inFlight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		pg, _ := strconv.Atoi(r.URL.Query().Get("page"))
		w.Write([]byte(pageBody(pg, pages, 2010+pg)))
	}))
	defer srv.Close()

	p := New(source.Settings{
		BaseURL: srv.URL,
		Clock:   infra.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
		Logger:  infra.Discard(),
	}, testCatalogue, workers)

	entry, err := p.FetchIndicator(context.Background(), "SP.POP.TOTL", "lldcs", group)
	require.NoError(t, err)
	require.Len(t, entry.Observations, pages)
	assert.LessOrEqual(t, peak.Load(), int32(workers))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
}

func TestFetchPageFailureFailsWholeFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if n == 3 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(pageBody(n, 3, 2010+n)))
	}))
	defer srv.Close()

	entry, err := newPlugin(t, srv.URL).FetchIndicator(context.Background(), "SP.POP.TOTL", "lldcs", group)
	assert.Nil(t, entry)
	var fe *source.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 3, fe.Attempts)
}

func TestFetchErrorPayloadIsNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"message":[{"id":"120","key":"Invalid value","value":"The provided parameter value is not valid"}]}]`))
	}))
	defer srv.Close()

	entry, err := newPlugin(t, srv.URL).FetchIndicator(context.Background(), "SP.POP.TOTL", "lldcs", group)
	assert.Nil(t, entry)
	assert.ErrorIs(t, err, source.ErrNoData)
}

func TestFetchAllNullIsNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"page":1,"pages":1,"total":0},null]`))
	}))
	defer srv.Close()

	_, err := newPlugin(t, srv.URL).FetchIndicator(context.Background(), "SP.POP.TOTL", "lldcs", group)
	assert.ErrorIs(t, err, source.ErrNoData)
}

func TestFetchUnknownIndicator(t *testing.T) {
	_, err := newPlugin(t, "http://unused").FetchIndicator(context.Background(), "SH_STA_STNT", "lldcs", group)
	assert.ErrorIs(t, err, source.ErrUnknownIndicator)
}
