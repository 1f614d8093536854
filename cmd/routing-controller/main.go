// Command routing-controller runs the Traefik routing-table
// controller: it loads configuration, connects to the configured
// backend, optionally supervises an embedded Traefik process, and
// serves a read-only HTTP view of its routing table (get_route and
// get_all_routes) until told to shut down. Grounded on the teacher's
// cmd/mcp-manager/main.go wiring order (config -> logging -> backend
// -> domain services -> HTTP server -> signal-driven graceful
// shutdown).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jupyterhub/traefik-routing-controller/internal/adminapi"
	"github.com/jupyterhub/traefik-routing-controller/internal/api"
	"github.com/jupyterhub/traefik-routing-controller/internal/audit"
	"github.com/jupyterhub/traefik-routing-controller/internal/backend"
	"github.com/jupyterhub/traefik-routing-controller/internal/config"
	"github.com/jupyterhub/traefik-routing-controller/internal/routingtable"
	"github.com/jupyterhub/traefik-routing-controller/internal/traefikproc"
)

const version = "0.1.0"

func main() {
	root := &cobra.Command{
		Use:     "routing-controller",
		Short:   "Adapts the JupyterHub proxy API onto a Traefik dynamic configuration backend",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
	root.AddCommand(newVersionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the controller version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

func run() error {
	cfg := config.Load()
	logger := setupLogging(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	be, err := backend.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("construct backend: %w", err)
	}
	defer be.Close()

	if err := traefikproc.WriteAdminBootstrap(ctx, cfg, be); err != nil {
		return fmt.Errorf("write traefik admin bootstrap: %w", err)
	}

	var supervisor *traefikproc.Supervisor
	var waiter *adminapi.Waiter
	if cfg.Traefik.ShouldStart {
		supervisor = traefikproc.NewSupervisor(cfg, logger)
		if err := supervisor.Start(ctx); err != nil {
			return fmt.Errorf("start traefik: %w", err)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Traefik.ShutdownGracePeriod+5*time.Second)
			defer stopCancel()
			if err := supervisor.Stop(stopCtx); err != nil {
				logger.Error("failed to stop traefik", slog.String("error", err.Error()))
			}
		}()
	}
	client := adminapi.New(cfg)
	waiter = adminapi.NewWaiter(client, cfg.CheckRouteTimeout)

	auditDSN := ""
	if cfg.Audit.Enabled {
		auditDSN = cfg.Audit.DSN
	}
	auditSink, err := audit.New(ctx, auditDSN, logger)
	if err != nil {
		logger.Warn("audit sink unavailable, continuing without audit logging", slog.String("error", err.Error()))
		auditSink = nil
	}
	defer auditSink.Close()

	controller := routingtable.New(cfg, be, waiter, auditSink, logger)
	if err := controller.Start(ctx); err != nil {
		return fmt.Errorf("start routing table: %w", err)
	}

	handler := api.NewHandler(controller, logger, version)
	router := handler.SetupRouter(true, nil)
	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("starting routing controller",
			slog.String("version", version),
			slog.String("address", server.Addr),
			slog.String("backend", cfg.Backend.Kind))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server forced to shutdown", slog.String("error", err.Error()))
	}
	if err := controller.Stop(shutdownCtx); err != nil {
		logger.Error("failed to stop routing table", slog.String("error", err.Error()))
	}

	logger.Info("shutdown complete")
	return nil
}

func setupLogging(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: logLevel(cfg.Logging.Level)}
	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func logLevel(level string) slog.Level {
	switch level {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
