package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/landlinked/internal/cache"
	"github.com/seenimoa/landlinked/internal/infra"
	"github.com/seenimoa/landlinked/pkg/models"
)

// Batch defaults for DownloadAllIndicators.
const (
	DefaultBatchSize  = 20
	DefaultMaxWorkers = 8
)

// Status is the result class of one indicator download.
type Status string

const (
	StatusCached  Status = "cached"  // valid cache entry, no fetch
	StatusFetched Status = "fetched" // fetched and written
	StatusNoData  Status = "no_data" // source had nothing for the group
	StatusFailed  Status = "error"   // fetch or write failed
)

// Outcome is the result of one (indicator, group) download.
type Outcome struct {
	Indicator string        `json:"indicator"`
	Source    string        `json:"source"`
	Group     string        `json:"group"`
	Status    Status        `json:"status"`
	Records   int           `json:"records"`
	Duration  time.Duration `json:"duration"`
	Err       error         `json:"-"`
}

// Report summarizes DownloadAllIndicators for one plugin and group.
type Report struct {
	RunID    string    `json:"run_id"`
	Source   string    `json:"source"`
	Group    string    `json:"group"`
	Outcomes []Outcome `json:"outcomes"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
}

// Count returns the number of outcomes with status st.
func (r Report) Count(st Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == st {
			n++
		}
	}
	return n
}

// Recorder receives one observation per download outcome.
type Recorder interface {
	ObserveFetch(source, status string, d time.Duration)
}

// Registry holds the registered plugins and drives cache-aware downloads.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	byName  map[string]Plugin

	store     *cache.Store
	batchSize int
	workers   int
	clock     infra.Clock
	logger    *slog.Logger
	recorder  Recorder
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithBatching sets the batch size and per-batch worker limit.
func WithBatching(size, workers int) RegistryOption {
	return func(r *Registry) {
		if size > 0 {
			r.batchSize = size
		}
		if workers > 0 {
			r.workers = workers
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(rec Recorder) RegistryOption {
	return func(r *Registry) { r.recorder = rec }
}

// WithClock sets the clock used to time downloads.
func WithClock(c infra.Clock) RegistryOption {
	return func(r *Registry) { r.clock = c }
}

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates an empty registry writing to store.
func NewRegistry(store *cache.Store, opts ...RegistryOption) *Registry {
	r := &Registry{
		byName:    make(map[string]Plugin),
		store:     store,
		batchSize: DefaultBatchSize,
		workers:   DefaultMaxWorkers,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.clock = infra.OrReal(r.clock)
	r.logger = infra.OrDefault(r.logger).With("component", "registry")
	return r
}

// Register adds p. A second plugin with the same name replaces the first.
func (r *Registry) Register(p Plugin) error {
	if p == nil || p.Name() == "" {
		return errors.New("plugin name cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[p.Name()]; ok {
		for i, existing := range r.plugins {
			if existing.Name() == p.Name() {
				r.plugins[i] = p
			}
		}
	} else {
		r.plugins = append(r.plugins, p)
	}
	r.byName[p.Name()] = p
	return nil
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[name]
	if !ok {
		return nil, &ErrPluginNotFound{Name: name}
	}
	return p, nil
}

// GetAll returns the plugins serving at least one indicator, in
// registration order.
func (r *Registry) GetAll() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Plugin, 0, len(r.plugins))
	for _, p := range r.plugins {
		if len(p.Indicators()) > 0 {
			out = append(out, p)
		}
	}
	return out
}

// List returns the info of every registered plugin.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]Info, 0, len(r.plugins))
	for _, p := range r.plugins {
		infos = append(infos, p.Info())
	}
	return infos
}

// GetIndicator serves (code, group) from a valid cache entry or fetches
// and caches it. A failed fetch leaves any existing entry untouched.
func (r *Registry) GetIndicator(ctx context.Context, p Plugin, code, group string, countries []models.Country) Outcome {
	start := r.clock.Now()
	out := Outcome{Indicator: code, Source: p.Name(), Group: group}

	if entry, ok := r.store.Fresh(code, group); ok {
		out.Status = StatusCached
		out.Records = len(entry.Observations)
		return r.finish(out, start)
	}

	entry, err := safeFetch(ctx, p, code, group, countries)
	switch {
	case errors.Is(err, ErrNoData):
		out.Status = StatusNoData
		out.Err = err
	case err != nil:
		out.Status = StatusFailed
		out.Err = err
	default:
		if werr := r.store.Write(code, group, entry); werr != nil {
			out.Status = StatusFailed
			out.Err = fmt.Errorf("writing cache: %w", werr)
			break
		}
		out.Status = StatusFetched
		out.Records = len(entry.Observations)
	}
	return r.finish(out, start)
}

func (r *Registry) finish(out Outcome, start time.Time) Outcome {
	out.Duration = r.clock.Now().Sub(start)
	if r.recorder != nil {
		r.recorder.ObserveFetch(out.Source, string(out.Status), out.Duration)
	}
	return out
}

// safeFetch calls p.FetchIndicator, converting a panic into an error and
// a nil entry into ErrNoData.
func safeFetch(ctx context.Context, p Plugin, code, group string, countries []models.Country) (entry *models.CacheEntry, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			entry = nil
			err = fmt.Errorf("%s: panic fetching %s: %v\n%s", p.Name(), code, rec, debug.Stack())
		}
	}()
	entry, err = p.FetchIndicator(ctx, code, group, countries)
	if err == nil && entry == nil {
		err = fmt.Errorf("%s: %w", p.Name(), ErrNoData)
	}
	return entry, err
}

// DownloadAllIndicators downloads every indicator of p for group in
// batches, with a bounded number of concurrent workers per batch. One
// indicator's failure never affects another.
func (r *Registry) DownloadAllIndicators(ctx context.Context, p Plugin, group string, countries []models.Country) Report {
	return r.download(ctx, uuid.NewString(), p, group, countries)
}

func (r *Registry) download(ctx context.Context, runID string, p Plugin, group string, countries []models.Country) Report {
	inds := p.Indicators()
	rep := Report{
		RunID:    runID,
		Source:   p.Name(),
		Group:    group,
		Outcomes: make([]Outcome, len(inds)),
		Started:  r.clock.Now(),
	}
	log := r.logger.With("run_id", runID, "source", p.Name(), "group", group)
	log.Info("download started", "indicators", len(inds))

	for lo := 0; lo < len(inds); lo += r.batchSize {
		hi := min(lo+r.batchSize, len(inds))

		var g errgroup.Group
		g.SetLimit(r.workers)
		for i := lo; i < hi; i++ {
			i := i
			code := inds[i].Code
			g.Go(func() error {
				out := r.GetIndicator(ctx, p, code, group, countries)
				rep.Outcomes[i] = out
				logOutcome(log, out)
				return nil
			})
		}
		_ = g.Wait()
	}

	rep.Finished = r.clock.Now()
	log.Info("download finished",
		"fetched", rep.Count(StatusFetched),
		"cached", rep.Count(StatusCached),
		"no_data", rep.Count(StatusNoData),
		"errors", rep.Count(StatusFailed),
	)
	return rep
}

func logOutcome(log *slog.Logger, out Outcome) {
	attrs := []any{"indicator", out.Indicator, "status", out.Status, "records", out.Records}
	switch out.Status {
	case StatusFailed:
		log.Error("indicator failed", append(attrs, "error", out.Err)...)
	case StatusNoData:
		log.Info("indicator has no data", attrs...)
	default:
		log.Debug("indicator done", attrs...)
	}
}

// DownloadGroup runs DownloadAllIndicators for every non-empty plugin,
// one plugin after another. All reports share one run id.
func (r *Registry) DownloadGroup(ctx context.Context, group string, countries []models.Country) []Report {
	runID := uuid.NewString()
	var reports []Report
	for _, p := range r.GetAll() {
		if ctx.Err() != nil {
			break
		}
		reports = append(reports, r.download(ctx, runID, p, group, countries))
	}
	return reports
}
