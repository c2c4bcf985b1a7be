// landlinked downloads development indicators for groups of countries and
// serves group-level aggregates.
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/seenimoa/landlinked/api"
	"github.com/seenimoa/landlinked/internal/config"
	"github.com/seenimoa/landlinked/internal/infra"
	"github.com/seenimoa/landlinked/internal/sources"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global config and components
var (
	cfg *config.Config
	a   *app
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "landlinked",
	Short: "Indicator downloads and group aggregates for landlocked developing countries",
	Long: `landlinked fetches development indicators from the World Bank, UN SDG,
FAOSTAT and IMF APIs for groups of countries, caches them on disk and
aggregates them into group-level time series.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
			cfg.Logging.Level = lvl
		}
		logger, err := infra.NewLogger(cfg.Logging, os.Stderr)
		if err != nil {
			return fmt.Errorf("failed to build logger: %w", err)
		}
		a, err = newApp(cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to load reference data: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(aggregateCmd)
	rootCmd.AddCommand(indicatorsCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(serveCmd)
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("landlinked %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Update Command (batch driver) ---

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Download all indicators for the configured groups",
	Long: `Download every catalogued indicator from every source for each group.
Valid cache entries are kept; stale or missing ones are refetched.

Examples:
  landlinked update
  landlinked update --groups lldcs,sids
  landlinked update --schedule "0 3 * * 0" --metrics-file /var/lib/node_exporter/landlinked.prom`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if groups, _ := cmd.Flags().GetStringSlice("groups"); len(groups) > 0 {
			cfg.Update.Groups = groups
		}
		if spec, _ := cmd.Flags().GetString("schedule"); spec != "" {
			cfg.Update.Schedule = spec
		}
		if path, _ := cmd.Flags().GetString("metrics-file"); path != "" {
			cfg.Update.MetricsFile = path
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		reg, err := a.registry(sources.Options{})
		if err != nil {
			return err
		}
		if cfg.Update.Schedule == "" {
			return a.runUpdate(ctx, reg, cfg.Update.Groups, cmd.OutOrStdout())
		}

		c := cron.New()
		if _, err := c.AddFunc(cfg.Update.Schedule, func() {
			if err := a.runUpdate(ctx, reg, cfg.Update.Groups, cmd.OutOrStdout()); err != nil {
				a.logger.Error("scheduled update failed", "error", err)
			}
		}); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", cfg.Update.Schedule, err)
		}
		a.logger.Info("update scheduled", "schedule", cfg.Update.Schedule, "groups", cfg.Update.Groups)
		c.Start()
		<-ctx.Done()
		<-c.Stop().Done()
		return nil
	},
}

func init() {
	updateCmd.Flags().StringSlice("groups", nil, "groups to update (default: update.groups from config)")
	updateCmd.Flags().String("schedule", "", "cron spec; run repeatedly instead of once")
	updateCmd.Flags().String("metrics-file", "", "write Prometheus metrics to this file after each run")
}

// --- Aggregate Command ---

var aggregateCmd = &cobra.Command{
	Use:   "aggregate [indicator] [group]",
	Short: "Print the group-level series of a cached indicator",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, group := args[0], strings.ToLower(args[1])
		res, err := a.engine.Compute(code, group)
		if err != nil {
			return err
		}
		ind, _ := a.catalogue.Get(code)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s (%s) for %s, %s\n", ind.Description, code, group, res.Rule)
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, p := range res.Series {
			fmt.Fprintf(tw, "%s\t%g\n", p.Date, p.Value)
		}
		return tw.Flush()
	},
}

// --- Indicators Command ---

var indicatorsCmd = &cobra.Command{
	Use:   "indicators",
	Short: "List catalogued indicators",
	RunE: func(cmd *cobra.Command, args []string) error {
		inds := a.catalogue.All()
		if src, _ := cmd.Flags().GetString("source"); src != "" {
			inds = a.catalogue.BySource(src)
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "CODE\tSOURCE\tAGG\tDESCRIPTION")
		for _, ind := range inds {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", ind.Code, ind.Source, ind.Agg, ind.Description)
		}
		return tw.Flush()
	},
}

func init() {
	indicatorsCmd.Flags().String("source", "", "only list indicators of this source (e.g. \"World Bank\")")
}

// --- Cache Commands ---

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the indicator cache",
}

var cacheStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cache size and age",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := a.store.Status()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "  Directory: %s\n", st.Dir)
		fmt.Fprintf(out, "  Files:     %d\n", st.Count)
		fmt.Fprintf(out, "  Validity:  %s\n", a.store.Validity())
		if st.Newest != nil {
			fmt.Fprintf(out, "  Newest:    %s (%s)\n", st.Newest.Name, st.Newest.ModTime.Format("2006-01-02 15:04"))
			fmt.Fprintf(out, "  Oldest:    %s (%s)\n", st.Oldest.Name, st.Oldest.ModTime.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cached indicator file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := a.store.Clear(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "cache cleared: %s\n", a.store.Dir())
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatusCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}

// --- Serve Command (API Server) ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		reg, err := a.registry(sources.Options{})
		if err != nil {
			return err
		}
		srv := api.NewServer(api.Deps{
			Config:    cfg,
			Catalogue: a.catalogue,
			Directory: a.directory,
			Store:     a.store,
			Engine:    a.engine,
			Registry:  reg,
			Metrics:   a.metrics,
			Logger:    a.logger,
			Version:   version,
		})
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		a.logger.Info("starting API server", "addr", addr)
		return srv.ListenAndServe(ctx, addr)
	},
}
