// Package sources wires the four indicator sources into a registry.
package sources

import (
	"log/slog"
	"net/http"

	"github.com/seenimoa/landlinked/internal/cache"
	"github.com/seenimoa/landlinked/internal/config"
	"github.com/seenimoa/landlinked/internal/infra"
	"github.com/seenimoa/landlinked/internal/source"
	"github.com/seenimoa/landlinked/internal/sources/faostat"
	"github.com/seenimoa/landlinked/internal/sources/imf"
	"github.com/seenimoa/landlinked/internal/sources/unsdg"
	"github.com/seenimoa/landlinked/internal/sources/worldbank"
	"github.com/seenimoa/landlinked/pkg/models"
)

// AreaCodes maps countries to UN M49 codes and back.
type AreaCodes interface {
	M49(iso3 string) (int, bool)
	Country(m49 int) (models.Country, bool)
}

// Options carries the runtime collaborators shared by every source.
type Options struct {
	Client   *http.Client // overrides per-source clients; tests only
	Clock    infra.Clock
	Logger   *slog.Logger
	Recorder source.Recorder
}

// NewRegistry builds the World Bank, UN SDG, FAOSTAT and IMF plugins from
// cfg and registers them, in that order, on a registry writing to store.
func NewRegistry(cfg *config.Config, cat source.Catalogue, areas AreaCodes, store *cache.Store, opts Options) (*source.Registry, error) {
	reg := source.NewRegistry(store,
		source.WithBatching(cfg.Fetch.BatchSize, cfg.Fetch.MaxWorkers),
		source.WithClock(opts.Clock),
		source.WithLogger(opts.Logger),
		source.WithRecorder(opts.Recorder),
	)

	settings := func(sc config.SourceConfig, endYear int) source.Settings {
		return source.Settings{
			BaseURL:   sc.BaseURL,
			Delay:     sc.Delay,
			Timeout:   sc.Timeout,
			Attempts:  cfg.Fetch.MaxAttempts,
			Backoff:   cfg.Fetch.RetryBackoff,
			StartYear: cfg.Fetch.StartYear,
			EndYear:   endYear,
			Client:    opts.Client,
			Clock:     opts.Clock,
			Logger:    opts.Logger,
		}
	}

	plugins := []source.Plugin{
		worldbank.New(settings(cfg.Sources.WorldBank, cfg.Fetch.EndYear), cat, cfg.Fetch.PageWorkers),
		unsdg.New(settings(cfg.Sources.UNSDG, cfg.Fetch.EndYear), cat, areas),
		faostat.New(settings(cfg.Sources.FAOSTAT, cfg.Fetch.EndYear), cat, areas),
		imf.New(settings(cfg.Sources.IMF.SourceConfig, cfg.Sources.IMF.ForecastEndYear), cat),
	}
	for _, p := range plugins {
		if err := reg.Register(p); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
