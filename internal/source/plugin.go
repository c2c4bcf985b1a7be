// Package source defines the contract every indicator source implements,
// the scaffolding they share (throttling, retries, HTTP/JSON) and the
// registry that drives cache-aware downloads across sources.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/seenimoa/landlinked/internal/infra"
	"github.com/seenimoa/landlinked/pkg/models"
)

// Info describes a source for display.
type Info struct {
	Name       string `json:"name"`
	URL        string `json:"url"`
	DB         string `json:"db"`
	Indicators int    `json:"indicators"`
}

// Plugin retrieves indicators from one remote source and normalizes them
// into cache entries.
type Plugin interface {
	// Name returns the source name matched against Indicator.Source.
	Name() string

	// Info returns display metadata.
	Info() Info

	// Indicators returns the catalogue entries served by this source.
	Indicators() []models.Indicator

	// Indicator looks up one served indicator.
	Indicator(code string) (models.Indicator, bool)

	// FetchIndicator fetches code for the given group members. It returns
	// a normalized entry, or nil and an error wrapping ErrNoData,
	// ErrUnknownIndicator, ErrMissingParams, or a *FetchError.
	FetchIndicator(ctx context.Context, code, group string, countries []models.Country) (*models.CacheEntry, error)
}

// Catalogue is the part of the indicator catalogue sources depend on.
type Catalogue interface {
	BySource(source string) []models.Indicator
}

// Settings configures the shared Base of a plugin.
type Settings struct {
	Name    string // source name, e.g. "World Bank"
	URL     string // display URL
	DB      string // display database name
	BaseURL string // API root

	Delay    time.Duration // minimum interval between requests
	Timeout  time.Duration // per-request timeout
	Attempts int
	Backoff  time.Duration

	StartYear int
	EndYear   int

	Client *http.Client // overrides the default client built from Timeout
	Clock  infra.Clock
	Logger *slog.Logger
}

// Base provides the catalogue subset, throttle, retry policy and HTTP
// client shared by all plugin variants. Embed it in concrete plugins.
type Base struct {
	settings   Settings
	indicators []models.Indicator
	byCode     map[string]models.Indicator
	client     *http.Client
	throttle   *infra.Throttle
	retry      infra.RetryPolicy
	logger     *slog.Logger
}

// NewBase builds the shared scaffolding for a plugin serving the entries
// of cat whose Source equals s.Name.
func NewBase(s Settings, cat Catalogue) Base {
	s.Clock = infra.OrReal(s.Clock)
	if s.Attempts <= 0 {
		s.Attempts = infra.DefaultAttempts
	}
	if s.Backoff <= 0 {
		s.Backoff = infra.DefaultBackoff
	}
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: s.Timeout}
	}

	var inds []models.Indicator
	if cat != nil {
		inds = cat.BySource(s.Name)
	}
	byCode := make(map[string]models.Indicator, len(inds))
	for _, ind := range inds {
		byCode[ind.Code] = ind
	}

	return Base{
		settings:   s,
		indicators: inds,
		byCode:     byCode,
		client:     client,
		throttle:   infra.NewThrottle(s.Delay, s.Clock),
		retry:      infra.RetryPolicy{Attempts: s.Attempts, Backoff: s.Backoff, Clock: s.Clock},
		logger:     infra.OrDefault(s.Logger).With("source", s.Name),
	}
}

func (b *Base) Name() string { return b.settings.Name }

func (b *Base) Info() Info {
	return Info{Name: b.settings.Name, URL: b.settings.URL, DB: b.settings.DB, Indicators: len(b.indicators)}
}

func (b *Base) Indicators() []models.Indicator {
	out := make([]models.Indicator, len(b.indicators))
	copy(out, b.indicators)
	return out
}

func (b *Base) Indicator(code string) (models.Indicator, bool) {
	ind, ok := b.byCode[code]
	return ind, ok
}

// Require returns the served indicator or ErrUnknownIndicator.
func (b *Base) Require(code string) (models.Indicator, error) {
	ind, ok := b.byCode[code]
	if !ok {
		return models.Indicator{}, fmt.Errorf("%s: %w: %s", b.settings.Name, ErrUnknownIndicator, code)
	}
	return ind, nil
}

// BaseURL returns the API root.
func (b *Base) BaseURL() string { return b.settings.BaseURL }

// Years returns the accepted observation year range.
func (b *Base) Years() (start, end int) { return b.settings.StartYear, b.settings.EndYear }

// Logger returns the plugin logger.
func (b *Base) Logger() *slog.Logger { return b.logger }

// Throttle returns the plugin's request throttle.
func (b *Base) Throttle() *infra.Throttle { return b.throttle }

// GetJSON fetches url and decodes its JSON body into dst. Each attempt
// waits on the throttle first. Network errors, 5xx/429 responses and
// undecodable bodies are retried; other 4xx responses are not. Failures
// are returned as *FetchError.
func (b *Base) GetJSON(ctx context.Context, url string, dst any) error {
	attempts, err := b.retry.Do(ctx, func(attempt int) error {
		if err := b.throttle.Wait(ctx); err != nil {
			return infra.Permanent(err)
		}
		err := b.getOnce(ctx, url, dst)
		if err != nil && !infra.IsPermanent(err) {
			b.logger.Warn("request failed", "url", url, "attempt", attempt, "error", err)
		}
		return err
	})
	if err != nil {
		return &FetchError{Source: b.settings.Name, URL: url, Attempts: attempts, Err: err}
	}
	return nil
}

func (b *Base) getOnce(ctx context.Context, url string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return infra.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return infra.Permanent(err)
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		serr := &StatusError{Code: resp.StatusCode, Body: string(body)}
		if serr.retryable() {
			return serr
		}
		return infra.Permanent(serr)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
