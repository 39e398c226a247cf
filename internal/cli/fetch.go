package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/quotabar/quotabar/internal/config"
	"github.com/quotabar/quotabar/pkg/browser"
	"github.com/quotabar/quotabar/pkg/fetcher"
	"github.com/quotabar/quotabar/pkg/model"
	"github.com/quotabar/quotabar/pkg/snapshot"
	"github.com/quotabar/quotabar/pkg/state"
)

// readyTimeout bounds how long a one-shot fetch waits for the browser
// session to finish loading the usage page.
const readyTimeout = 45 * time.Second

var fetchCmd = &cobra.Command{
	Use:   "fetch [provider]",
	Short: "Fetch usage for a provider now",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	targets := model.AllProviders()
	if len(args) == 1 {
		p, ok := model.ParseProvider(args[0])
		if !ok {
			return fmt.Errorf("unknown provider %q", args[0])
		}
		targets = []model.UsageProvider{p}
	}

	store, err := initSnapshotStore(cfg)
	if err != nil {
		return err
	}

	pool := browser.NewCDPPool(cfg.Browser.Endpoint, logger)
	defer pool.Close(cmd.Context())

	manager := state.NewManager(state.Options{
		Sessions:    pool,
		Fetchers:    fetcher.DefaultRegistry(nil),
		Store:       store,
		Refresh:     snapshot.NewMarkerRefresher(store),
		Logger:      logger,
		DisplayMode: cfg.DisplayMode(),
		Visible:     cfg.VisibleProvider,
	})

	for _, p := range targets {
		if err := fetchOnce(cmd.Context(), manager, pool, p); err != nil {
			return err
		}
		printState(manager.State(p))
	}
	return nil
}

// runFetchForProvider performs a one-shot fetch for a single provider with
// its own browser pool. Used by deep-link refreshes.
func runFetchForProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger, p model.UsageProvider) error {
	store, err := initSnapshotStore(cfg)
	if err != nil {
		return err
	}

	pool := browser.NewCDPPool(cfg.Browser.Endpoint, logger)
	defer pool.Close(ctx)

	manager := state.NewManager(state.Options{
		Sessions:    pool,
		Fetchers:    fetcher.DefaultRegistry(nil),
		Store:       store,
		Refresh:     snapshot.NewMarkerRefresher(store),
		Logger:      logger,
		DisplayMode: cfg.DisplayMode(),
		Visible:     cfg.VisibleProvider,
	})

	return fetchOnce(ctx, manager, pool, p)
}

// fetchOnce waits for the provider's session to become ready, then runs a
// manual fetch.
func fetchOnce(ctx context.Context, manager *state.Manager, pool *browser.Pool, p model.UsageProvider) error {
	session, err := pool.GetSession(ctx, p)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(readyTimeout)
	for !session.IsReady() {
		if time.Now().After(deadline) {
			return fmt.Errorf("session for %s not ready after %s", p, readyTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}

	manager.FetchNow(ctx, p)
	return nil
}

func printState(st state.ProviderState) {
	fmt.Printf("%s:\n", st.Provider.DisplayName())
	if st.LastFetch.Outcome == state.FetchFailed {
		fmt.Printf("  fetch failed: %s\n", st.LastFetch.Message)
		fmt.Printf("  auto-refresh: %s\n", st.AutoRefresh)
		return
	}
	if st.Snapshot == nil {
		fmt.Println("  not fetched")
		return
	}
	printWindow("5h window", st.Snapshot.Primary, st.Snapshot.DisplayMode)
	printWindow("weekly window", st.Snapshot.Secondary, st.Snapshot.DisplayMode)
}

func printWindow(label string, w *model.UsageWindow, mode model.DisplayMode) {
	if w == nil {
		fmt.Printf("  %s: not reported\n", label)
		return
	}
	verb := "used"
	if mode == model.ModeRemaining {
		verb = "remaining"
	}
	line := fmt.Sprintf("  %s: %.1f%% %s", label, w.UsedPercent, verb)
	if w.ResetAt != nil {
		line += fmt.Sprintf(", resets %s", w.ResetAt.Local().Format("Mon 15:04"))
	}
	fmt.Println(line)
}
