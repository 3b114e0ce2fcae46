package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/watzon/ruletick/internal/config"
	"github.com/watzon/ruletick/internal/executor"
	"github.com/watzon/ruletick/internal/history"
	"github.com/watzon/ruletick/internal/manifest"
	"github.com/watzon/ruletick/internal/metrics"
	"github.com/watzon/ruletick/internal/scheduler"
)

var (
	runManifestPath string
	runNoWatch      bool
	runDryRun       bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler",
	Long: `Run the scheduler until interrupted.

The scheduler will:
  - Sync schedules from the manifest, if one is configured
  - Run a scheduling cycle every poll interval
  - Sweep execution history older than the retention period
  - Serve Prometheus metrics, if enabled
  - Re-sync the manifest when it changes

Use --dry-run to log executions instead of calling the rule runner.`,
	RunE: runScheduler,
}

func init() {
	runCmd.Flags().StringVar(&runManifestPath, "manifest", "", "Path to schedule manifest (overrides manifest.path)")
	runCmd.Flags().BoolVar(&runNoWatch, "no-watch", false, "Disable manifest watching")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Log executions instead of running rules")

	rootCmd.AddCommand(runCmd)
}

func runScheduler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runManifestPath != "" {
		cfg.Manifest.Path = runManifestPath
	}
	if runDryRun {
		cfg.Executor.Kind = config.ExecutorLog
	}

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			log.Info().Msg("Shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
	}()

	if cfg.Manifest.Path != "" {
		watcher, err := syncManifest(ctx, a, !runNoWatch && cfg.Manifest.Watch)
		if err != nil {
			return err
		}
		if watcher != nil {
			defer func() { _ = watcher.Stop() }()
		}
	}

	exec, err := executor.New(&cfg.Executor)
	if err != nil {
		return err
	}

	sched, err := a.newScheduler(ctx, exec)
	if err != nil {
		return err
	}

	recorder := history.NewRecorder(a.history, cfg.History.Retention, cfg.History.CleanupInterval)
	recorder.Start(ctx)
	defer recorder.Stop()

	if cfg.Metrics.Enabled {
		srv := startMetricsServer(&cfg.Metrics)
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	heartbeat := scheduler.NewHeartbeat(sched, cfg.Scheduler.PollInterval)
	heartbeat.OnCycle(func(*scheduler.Report) {
		metrics.UpdateDBStats(a.db.Stats())
	})

	log.Info().
		Str("node", cfg.Node.Name).
		Str("holder", sched.Holder()).
		Str("executor", cfg.Executor.Kind).
		Str("claims", cfg.Scheduler.ClaimBackend).
		Msg("Starting ruletick")

	heartbeat.Start(ctx)
	<-ctx.Done()
	heartbeat.Stop()

	return nil
}

// syncManifest applies the configured manifest and, when watch is set,
// returns a watcher that keeps applying it.
func syncManifest(ctx context.Context, a *app, watch bool) (*manifest.Watcher, error) {
	m, err := manifest.Load(a.cfg.Manifest.Path)
	if err != nil {
		return nil, err
	}

	syncer := manifest.NewSyncer(a.service, operator(&a.cfg.Manifest), a.cfg.Manifest.Prune)
	if _, err := syncer.Sync(ctx, m); err != nil {
		return nil, err
	}

	if !watch {
		return nil, nil
	}

	watcher, err := manifest.NewWatcher(a.cfg.Manifest.Path, syncer)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to set up manifest watcher, continuing without hot-reload")
		return nil, nil
	}
	if err := watcher.Start(ctx); err != nil {
		_ = watcher.Stop()
		log.Warn().Err(err).Msg("Failed to set up manifest watcher, continuing without hot-reload")
		return nil, nil
	}

	return watcher, nil
}

func startMetricsServer(cfg *config.MetricsConfig) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, metrics.Handler())

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Str("path", cfg.Path).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server error")
		}
	}()

	return srv
}
