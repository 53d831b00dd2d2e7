// Package cli implements the command-line interface of the heatmap backend.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dp-cuteam/yclients-heatmap/internal/config"
	"github.com/dp-cuteam/yclients-heatmap/internal/etl"
	"github.com/dp-cuteam/yclients-heatmap/internal/logging"
	"github.com/dp-cuteam/yclients-heatmap/internal/store"
	"github.com/dp-cuteam/yclients-heatmap/internal/store/postgres"
	"github.com/dp-cuteam/yclients-heatmap/internal/store/sqlite"
	"github.com/dp-cuteam/yclients-heatmap/internal/yclients"
	"github.com/dp-cuteam/yclients-heatmap/pkg/version"
)

var (
	// Global flags
	cfgFile  string
	logLevel string
	driver   string

	// Global config
	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "heatmap",
		Short: "Occupancy and financial reporting backend for multi-branch venues",
		Long: `heatmap pulls bookings from the YClients scheduling platform, normalizes
them into hourly staff occupancy, aggregates per-group load and serves
heatmap grids, month reports and anomaly overviews over HTTP.

Rebuilds are idempotent: rerunning over the same date range replaces the
aggregates wholesale and leaves no residue from earlier runs.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: ./heatmap.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&driver, "driver", "",
		"storage driver (sqlite, postgres)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(rebuildCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(seedCmd)
}

func initConfig() error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return err
	}

	// Override with CLI flags
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if driver != "" {
		cfg.Database.Driver = driver
	}

	// Reinitialize logger with config
	logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Pretty: true,
	})

	return nil
}

// openStore opens the configured backend and ensures the schema exists.
func openStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Database.Driver {
	case "sqlite":
		if dir := filepath.Dir(cfg.Database.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database dir: %w", err)
			}
		}
		st, err = sqlite.Open(cfg.Database.Path)
	case "postgres":
		st, err = postgres.Connect(ctx, cfg.Database.Connection)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.InitSchema(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// newPipeline wires the upstream client, directory and pipeline from config.
func newPipeline(st store.Store) (*etl.Pipeline, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	client, err := yclients.New(yclients.Config{
		BaseURL:      cfg.YClients.BaseURL,
		PartnerToken: cfg.YClients.PartnerToken,
		UserToken:    cfg.YClients.UserToken,
		Timeout:      time.Duration(cfg.YClients.TimeoutSeconds) * time.Second,
		Retries:      cfg.YClients.Retries,
	})
	if err != nil {
		return nil, err
	}
	return etl.NewPipeline(etl.Options{
		Store:        st,
		Source:       client,
		Directory:    etl.NewDirectory(client),
		Location:     loc,
		PageSize:     cfg.Rebuild.PageSize,
		BranchIDs:    cfg.Rebuild.BranchIDs,
		StartDate:    cfg.Rebuild.StartDate,
		ConfigPath:   cfg.Groups.ConfigPath,
		ResolvedPath: cfg.Groups.ResolvedPath,
	}), nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println(version.Info())
	},
}
