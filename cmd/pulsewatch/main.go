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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/hazz-dev/pulsewatch/internal/config"
	"github.com/hazz-dev/pulsewatch/internal/credential"
	"github.com/hazz-dev/pulsewatch/internal/govern"
	"github.com/hazz-dev/pulsewatch/internal/incident"
	"github.com/hazz-dev/pulsewatch/internal/metrics"
	"github.com/hazz-dev/pulsewatch/internal/monitor"
	"github.com/hazz-dev/pulsewatch/internal/notify"
	"github.com/hazz-dev/pulsewatch/internal/probe"
	"github.com/hazz-dev/pulsewatch/internal/report"
	"github.com/hazz-dev/pulsewatch/internal/server"
	"github.com/hazz-dev/pulsewatch/internal/status"
	"github.com/hazz-dev/pulsewatch/internal/storage"
	"github.com/hazz-dev/pulsewatch/internal/version"
	"github.com/hazz-dev/pulsewatch/internal/ws"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "pulsewatch",
		Short:        "Multi-tenant endpoint monitor with incident tracking and alerting",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "config.yml", "config file path")

	root.AddCommand(versionCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(checkCmd())
	root.AddCommand(statusCmd())

	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pulsewatch %s (commit %s, built %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the monitoring engine and API server",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := slog.Default()

	// 1. Load config
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger.Info("config loaded", "tenants", len(cfg.Tenants))

	// 2. Open SQLite
	db, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	// 3. Metrics registry
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	recorder := metrics.New(registry)

	// 4. Dispatcher and the governor feeding it
	dispatcher, err := notify.NewDispatcher(cfg, logger)
	if err != nil {
		return fmt.Errorf("building dispatcher: %w", err)
	}
	notifier := govern.NotifierFunc(func(n govern.Notice) {
		// Fire-and-forget: the governor never waits on channel sends.
		go func() {
			for _, out := range dispatcher.Dispatch(n) {
				recorder.AlertSent(out.Channel, out.Err == nil)
			}
		}()
	})

	thresholds := make(map[probe.Kind]time.Duration, len(cfg.Thresholds))
	for kind, ms := range cfg.Thresholds {
		thresholds[kind] = time.Duration(ms) * time.Millisecond
	}
	governor := govern.New(govern.Config{
		Debounce:        cfg.Alerting.Debounce.Duration,
		Escalation:      cfg.Alerting.Escalation.Duration,
		Reminder:        cfg.Alerting.Reminder.Duration,
		FlapWindow:      cfg.Alerting.FlapWindow.Duration,
		FlapChanges:     cfg.Alerting.FlapChanges,
		SLAWindow:       cfg.Alerting.SLAWindow,
		SLACooldown:     cfg.Alerting.SLACooldown.Duration,
		WarningSustain:  cfg.Alerting.WarningSustain.Duration,
		WarningCooldown: cfg.Alerting.WarningCooldown.Duration,
	}, thresholds, notifier, logger)

	// 5. Engine
	tracker := status.New()
	ledger := incident.New(db, logger)
	orch, err := monitor.New(cfg, monitor.Deps{
		Store:    db,
		Tracker:  tracker,
		Ledger:   ledger,
		Governor: governor,
		Tokens:   credential.New(logger),
		Metrics:  recorder,
		Notifier: notifier,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("building orchestrator: %w", err)
	}

	// 6. Live push hub
	hub := ws.New(logger)
	defer hub.Close()
	orch.Subscribe(func(desc probe.Descriptor, rec status.Record) {
		hub.Broadcast(ws.Event{
			Tenant:    desc.Tenant,
			Kind:      string(desc.Kind),
			Status:    string(rec.Status),
			LatencyMs: rec.Latency.Milliseconds(),
			Error:     rec.LastError,
			CheckedAt: rec.LastCheckedAt,
		})
	})

	// 7. API server
	reporter := report.New(db, cfg.Report)
	metricsHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	apiServer := server.New(cfg, tracker, db, orch, reporter, metricsHandler, logger)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer.Router())
	mux.Handle("/metrics", apiServer.Router())
	mux.Handle("/ws", hub)

	httpServer := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: mux,
	}

	// 8. Signal context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// 9. Start the engine
	orch.Start(ctx)
	logger.Info("monitoring started", "tenants", len(cfg.Tenants))

	// 10. Start HTTP server in background
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "address", cfg.Server.Address)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// 11. Wait for signal or server error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("HTTP server: %w", err)
	}

	// 12. Graceful shutdown: cycle loops first, then the governor's timers
	// (via Wait), then the HTTP server.
	orch.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run a one-off probe of every configured tenant endpoint",
		RunE:  runCheck,
	}
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	return executeCheck(cmd, cfg)
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the latest stored status for every tenant endpoint",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	return executeStatus(cmd, db)
}
