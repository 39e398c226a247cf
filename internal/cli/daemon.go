package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quotabar/quotabar/internal/config"
	"github.com/quotabar/quotabar/internal/server"
	"github.com/quotabar/quotabar/pkg/agent"
	"github.com/quotabar/quotabar/pkg/browser"
	"github.com/quotabar/quotabar/pkg/fetcher"
	"github.com/quotabar/quotabar/pkg/model"
	"github.com/quotabar/quotabar/pkg/notify"
	"github.com/quotabar/quotabar/pkg/refresh"
	"github.com/quotabar/quotabar/pkg/snapshot"
	"github.com/quotabar/quotabar/pkg/state"
	"github.com/quotabar/quotabar/pkg/storage"
	"github.com/quotabar/quotabar/pkg/tokenusage"
)

// tokenRefreshInterval paces the accounting-CLI runs. Token totals move
// slowly; an hourly cadence is plenty.
const tokenRefreshInterval = time.Hour

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the monitoring daemon",
	Long: `Connects to the embedded browser, reacts to session lifecycle events,
refreshes usage on a periodic schedule, evaluates notification thresholds,
and keeps the snapshot files current for widgets and scripts.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	store, err := initSnapshotStore(cfg)
	if err != nil {
		return fmt.Errorf("init snapshot store: %w", err)
	}

	// A mode change recorded while no process was running leaves the
	// persisted snapshots in the old semantics; converge them first.
	if mode := cfg.DisplayMode(); cfg.CachedDisplayMode() != mode {
		if err := convertPersistedSnapshots(store, mode); err != nil {
			logger.Warn("converting stale snapshots failed", "error", err)
		} else {
			cfg.SetDisplayMode(mode)
			if err := cfg.Save(); err != nil {
				logger.Warn("persisting cached display mode failed", "error", err)
			}
		}
	}

	history, err := initHistory(cfg)
	if err != nil {
		return fmt.Errorf("init history: %w", err)
	}
	defer history.Close()

	notifiers := initNotifiers(cfg)
	engine := notify.NewEngine(
		cfg.ProviderThresholds,
		history,
		notifiers,
		func() bool { return len(notifiers) > 0 },
		logger,
	)

	runner := initShell(cfg)
	pool := browser.NewCDPPool(cfg.Browser.Endpoint, logger)

	manager := state.NewManager(state.Options{
		Sessions:   pool,
		Fetchers:   fetcher.DefaultRegistry(nil),
		Store:      store,
		Refresh:    snapshot.NewMarkerRefresher(store),
		Thresholds: engine,
		History:    history,
		Logger:     logger,

		DisplayMode: cfg.DisplayMode(),
		PersistMode: func(mode model.DisplayMode) {
			cfg.SetDisplayMode(mode)
			if err := cfg.Save(); err != nil {
				logger.Warn("persisting display mode failed", "error", err)
			}
		},
		Visible: cfg.VisibleProvider,
	})

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Event loop: session readiness and cookie changes drive fetches.
	go manager.Run(ctx, pool.Events())

	// Open sessions eagerly so the pool starts emitting events.
	for _, p := range model.AllProviders() {
		if _, err := pool.GetSession(ctx, p); err != nil {
			logger.Warn("opening browser session failed", "provider", p, "error", err)
		}
	}
	defer pool.Close(context.Background())

	// Reconcile launchd wake-up jobs with the schedule file.
	if schedules, err := config.LoadSchedules(cfg.Storage.SchedulesPath); err != nil {
		logger.Warn("loading wake-up schedules failed", "error", err)
	} else {
		agent.NewScheduler(runner, cfg.Storage.AgentsDir, cfg.Storage.LogDir,
			cfg.Shell.Path, logger).ReconcileAll(ctx, schedules)
	}

	usageRunner := refresh.NewRunner("usage", cfg.RefreshInterval, manager.RefreshEligible, logger)
	usageRunner.Start()
	defer usageRunner.Stop()

	tokenSvc := tokenusage.NewService(runner, logger, nil)
	tokenRunner := refresh.NewRunner("tokens",
		func() time.Duration { return tokenRefreshInterval },
		func(ctx context.Context) {
			refreshTokens(ctx, cfg, logger, tokenSvc, store, history)
		},
		logger)
	tokenRunner.Start()
	defer tokenRunner.Stop()

	// Live settings reload: other processes (the menu bar app, the CLI)
	// save the config atomically; pick the changes up without a restart.
	go func() {
		err := config.Watch(ctx, cfg.Path(), logger, func() {
			applySettings(cfg, logger, manager)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("config watch stopped", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	var srv *http.Server
	if cfg.Server.Enabled {
		srv = &http.Server{
			Addr:         cfg.Server.Listen,
			Handler:      server.NewServer(store, history, logger).Handler(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		}
		go func() {
			logger.Info("api server started", "listen", cfg.Server.Listen)
			errCh <- srv.ListenAndServe()
		}()
	}

	logger.Info("daemon started", "browser", cfg.Browser.Endpoint)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
		cancel()
		if srv != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		}
		return nil
	}
}

// applySettings rereads the config file and pushes the live-tunable
// settings into the running collaborators. The manager converts cached
// snapshots when the display mode changed; the refresh runner rereads
// its interval on the next cycle by itself.
func applySettings(cfg *config.Config, logger *slog.Logger, manager *state.Manager) {
	fresh, err := config.Load(cfg.Path())
	if err != nil {
		logger.Warn("reloading config failed", "error", err)
		return
	}

	cfg.SetRefreshInterval(fresh.Refresh.IntervalMinutes)
	for _, p := range model.AllProviders() {
		cfg.SetProviderThresholds(p, fresh.ProviderThresholds(p))
	}
	manager.SetDisplayMode(fresh.DisplayMode())

	logger.Info("settings reloaded",
		"interval", fresh.Refresh.IntervalMinutes,
		"mode", fresh.DisplayMode())
}

// refreshTokens runs the accounting CLI for every provider with a
// configured command and persists the results.
func refreshTokens(ctx context.Context, cfg *config.Config, logger *slog.Logger, svc *tokenusage.Service, store *snapshot.Store, history storage.History) {
	for _, p := range model.AllProviders() {
		opts := tokenOptions(cfg, p)
		if opts.Command == "" {
			continue
		}
		snap, err := svc.Fetch(ctx, p, opts)
		if err != nil {
			logger.Warn("token refresh failed", "provider", p, "error", err)
			continue
		}
		if err := store.SaveTokenUsage(snap); err != nil {
			logger.Warn("persisting token snapshot failed", "provider", p, "error", err)
		}
		if err := history.RecordTokenDaily(ctx, p, snap.Daily); err != nil {
			logger.Warn("recording token series failed", "provider", p, "error", err)
		}
	}
}
