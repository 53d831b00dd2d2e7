package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dp-cuteam/yclients-heatmap/internal/api"
	"github.com/dp-cuteam/yclients-heatmap/internal/logging"
	"github.com/dp-cuteam/yclients-heatmap/internal/report"
	"github.com/dp-cuteam/yclients-heatmap/internal/schedule"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the reporting HTTP API",
	Long: `Serve exposes heatmap grids, month reports, anomaly overviews, manual
metric entry and rebuild control over HTTP.

Example:
  heatmap serve
  heatmap serve --addr :9090`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "",
		"listen address (default :8080)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveAddr != "" {
		cfg.Serve.Addr = serveAddr
	}
	if err := cfg.ValidateServe(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	var load report.LoadSource
	if cfg.Groups.LoadGroupName != "" {
		groups, err := schedule.LoadGroupConfigPreferResolved(cfg.Groups.ResolvedPath, cfg.Groups.ConfigPath)
		if err != nil {
			logging.Warn().Err(err).Msg("group config unavailable, occupancy feed disabled")
		} else {
			load = report.NewGroupLoadSource(st, groups, cfg.Groups.LoadGroupName)
		}
	}
	reports := report.NewService(st, load)

	// Rebuild endpoints are served only when upstream credentials are
	// configured; the read side works without them.
	var runner *api.Runner
	if cfg.YClients.PartnerToken != "" {
		pipeline, err := newPipeline(st)
		if err != nil {
			return err
		}
		runner = api.NewRunner(pipeline)
	} else {
		logging.Warn().Msg("no partner token configured, rebuild endpoints disabled")
		runner = api.NewRunner(nil)
	}

	handler := api.NewHandler(st, reports, runner)
	server := api.NewServer(cfg.Serve.Addr, api.NewRouter(handler, cfg.Serve.AllowedOrigins))

	errChan := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", cfg.Serve.Addr).Msg("HTTP API listening")
		errChan <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-sigChan:
		logging.Info().Str("signal", sig.String()).Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}
