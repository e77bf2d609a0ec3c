package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/systmms/keyvault2kube/internal/config"
	kverrors "github.com/systmms/keyvault2kube/internal/errors"
	"github.com/systmms/keyvault2kube/internal/metrics"
	"github.com/systmms/keyvault2kube/internal/notify"
	"github.com/systmms/keyvault2kube/internal/reconcile"
)

const metricsShutdownTimeout = 5 * time.Second

func NewSyncCommand(app *App) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync tagged vault secrets into Kubernetes",
		Long: `Sync polls every configured vault on a fixed interval and creates or
patches the Kubernetes secrets described by the entries' tags.

A secret is patched only when the version of one of its vault entries
changed. SIGINT and SIGTERM stop the loop between cycles.

Examples:
  KEY_VAULT_URLS=https://prod.vault.azure.net/ keyvault2kube sync
  keyvault2kube sync --config keyvault2kube.yaml --interval 1m
  keyvault2kube sync --once --done-file /tmp/done`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSync(ctx, app, once)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Run a single cycle and exit")
	cmd.Flags().String(config.KeyInterval, "", "Polling interval (default 5m)")
	cmd.Flags().String(config.KeyDoneFile, "", "File touched after each successful cycle (default /tmp/done)")
	cmd.Flags().Bool(config.KeyMetricsEnabled, false, "Serve Prometheus metrics and /health")
	cmd.Flags().Int(config.KeyMetricsPort, 0, "Metrics port (default 9090)")
	bindFlags(app, cmd, config.KeyInterval, config.KeyDoneFile, config.KeyMetricsEnabled, config.KeyMetricsPort)

	return cmd
}

// bindFlags routes flag values through the configuration overrides, so that
// flags win over environment variables and the configuration file.
func bindFlags(app *App, cmd *cobra.Command, keys ...string) {
	if app.Config.Overrides == nil {
		app.Config.Overrides = config.NewOverrides()
	}
	for _, key := range keys {
		_ = app.Config.Overrides.BindPFlag(key, cmd.Flags().Lookup(key))
	}
}

func runSync(ctx context.Context, app *App, once bool) error {
	logger := app.logger()

	sources, err := app.loadSources()
	if err != nil {
		return err
	}
	defer closeSources(sources, logger)

	cluster, err := app.cluster()
	if err != nil {
		return err
	}

	def := app.Config.Definition
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	syncMetrics := metrics.NewSyncMetrics(reg)

	runnerConfig := reconcile.RunnerConfig{
		Interval: def.SyncInterval(),
		DoneFile: def.DoneFile,
		Once:     once,
	}

	if def.Notifications.Enabled() {
		manager, err := notify.NewManagerFromConfig(def.Notifications,
			notify.WithLogger(logger),
			notify.WithMetrics(syncMetrics))
		if err != nil {
			return kverrors.ConfigError{
				Field:      "notifications",
				Message:    err.Error(),
				Suggestion: "Check the notification URLs, methods and payload templates",
			}
		}
		manager.Start(context.WithoutCancel(ctx))
		defer manager.Stop()
		runnerConfig.Notifier = manager
		logger.Debug("Notifications enabled for %d target(s)", len(manager.Providers()))
	}

	reconciler := reconcile.NewReconciler(sources, cluster, logger,
		reconcile.WithBuilder(app.builder()),
		reconcile.WithMetrics(syncMetrics))
	runner := reconcile.NewRunner(reconciler, runnerConfig, logger, syncMetrics)

	if def.Metrics.Enabled && !once {
		serverConfig := metrics.DefaultServerConfig()
		serverConfig.Enabled = true
		serverConfig.Port = def.Metrics.Port
		serverConfig.Path = def.Metrics.Path

		server := metrics.NewServer(serverConfig, reg, runner.Health, logger)
		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsShutdownTimeout)
			defer cancel()
			if err := server.Stop(stopCtx); err != nil {
				logger.Warn("Failed to stop metrics server: %v", err)
			}
		}()
	}

	logger.Info("Syncing %d source(s)", len(sources))
	return runner.Run(ctx)
}
