package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quotabar/quotabar/internal/deeplink"
	"github.com/quotabar/quotabar/pkg/model"
	"github.com/quotabar/quotabar/pkg/tokenusage"
)

var openCmd = &cobra.Command{
	Use:   "open <url>",
	Short: "Handle a quotabar:// deep link",
	Long: `Routes a deep link fired by a widget or script. Unknown routes and
provider ids are silently ignored.`,
	Args: cobra.ExactArgs(1),
	RunE: runOpen,
}

func init() {
	rootCmd.AddCommand(openCmd)
}

func runOpen(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	runner := initShell(cfg)

	router := &deeplink.Router{
		Action: func() deeplink.TapAction {
			if cfg.TapAction() == string(deeplink.TapRefresh) {
				return deeplink.TapRefresh
			}
			return deeplink.TapOpenPage
		},
		OpenPage: func(ctx context.Context, url string) error {
			_, err := runner.RunChecked(ctx, fmt.Sprintf("open %q", url), 15*time.Second)
			return err
		},
		RefreshUsage: func(ctx context.Context, p model.UsageProvider) {
			if err := runFetchForProvider(ctx, cfg, logger, p); err != nil {
				logger.Warn("deep-link refresh failed", "provider", p, "error", err)
			}
		},
		RefreshTokens: func(ctx context.Context, p model.UsageProvider) {
			svc := tokenusage.NewService(runner, logger, nil)
			snap, err := svc.Fetch(ctx, p, tokenOptions(cfg, p))
			if err != nil {
				logger.Warn("deep-link token refresh failed", "provider", p, "error", err)
				return
			}
			if store, err := initSnapshotStore(cfg); err == nil {
				if err := store.SaveTokenUsage(snap); err != nil {
					logger.Warn("persisting token snapshot failed", "provider", p, "error", err)
				}
			}
		},
		Logger: logger,
	}

	router.Handle(cmd.Context(), args[0])
	return nil
}
