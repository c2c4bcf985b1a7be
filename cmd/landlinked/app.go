package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/seenimoa/landlinked/internal/aggregate"
	"github.com/seenimoa/landlinked/internal/cache"
	"github.com/seenimoa/landlinked/internal/catalogue"
	"github.com/seenimoa/landlinked/internal/config"
	"github.com/seenimoa/landlinked/internal/directory"
	"github.com/seenimoa/landlinked/internal/infra"
	"github.com/seenimoa/landlinked/internal/metrics"
	"github.com/seenimoa/landlinked/internal/source"
	"github.com/seenimoa/landlinked/internal/sources"
)

// app holds the components shared by every subcommand.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	catalogue *catalogue.Catalogue
	directory *directory.Directory
	store     *cache.Store
	engine    *aggregate.Engine
	metrics   *metrics.Metrics
	clock     infra.Clock
}

// newApp loads the reference data named in cfg and builds the cache store
// and aggregation engine on top of it.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	cat, err := catalogue.Load(cfg.Data.Catalogue)
	if err != nil {
		return nil, err
	}
	dir, err := directory.Load(cfg.Data.CountryCodes, cfg.Data.GroupsDir)
	if err != nil {
		return nil, err
	}
	store := cache.New(cfg.Cache.Dir, cfg.Cache.Validity(), cache.WithLogger(logger))
	return &app{
		cfg:       cfg,
		logger:    logger,
		catalogue: cat,
		directory: dir,
		store:     store,
		engine:    aggregate.New(cat, store, logger),
		metrics:   metrics.New(),
		clock:     infra.Real(),
	}, nil
}

func (a *app) registry(opts sources.Options) (*source.Registry, error) {
	if opts.Logger == nil {
		opts.Logger = a.logger
	}
	if opts.Recorder == nil {
		opts.Recorder = a.metrics
	}
	if opts.Clock == nil {
		opts.Clock = a.clock
	}
	return sources.NewRegistry(a.cfg, a.catalogue, a.directory.AreaCodes(), a.store, opts)
}

// runUpdate downloads every indicator of every plugin for each group, one
// group after another. Unknown groups are logged and skipped. A summary
// line per plugin and group is written to w.
func (a *app) runUpdate(ctx context.Context, reg *source.Registry, groups []string, w io.Writer) error {
	var skipped []string
	for _, g := range groups {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		group := strings.ToLower(strings.TrimSpace(g))
		members, err := a.directory.Members(group)
		if err != nil {
			a.logger.Warn("skipping group", "group", group, "error", err)
			skipped = append(skipped, group)
			continue
		}
		for _, rep := range reg.DownloadGroup(ctx, group, members) {
			fmt.Fprintf(w, "%-10s %-6s cached=%d fetched=%d no_data=%d error=%d (%s)\n",
				rep.Source, group,
				rep.Count(source.StatusCached), rep.Count(source.StatusFetched),
				rep.Count(source.StatusNoData), rep.Count(source.StatusFailed),
				rep.Finished.Sub(rep.Started).Round(time.Millisecond))
		}
	}
	a.metrics.MarkRun(a.clock.Now())
	if path := a.cfg.Update.MetricsFile; path != "" {
		if err := a.metrics.WriteTextfile(path); err != nil {
			return err
		}
	}
	if len(skipped) == len(groups) && len(groups) > 0 {
		return fmt.Errorf("no known groups in %v", groups)
	}
	return nil
}
