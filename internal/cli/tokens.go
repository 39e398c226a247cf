package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quotabar/quotabar/pkg/model"
	"github.com/quotabar/quotabar/pkg/tokenusage"
)

var tokensCmd = &cobra.Command{
	Use:   "tokens <provider>",
	Short: "Fetch token usage and cost via the accounting CLI",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokens,
}

func init() {
	rootCmd.AddCommand(tokensCmd)
}

func runTokens(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	p, ok := model.ParseProvider(args[0])
	if !ok {
		return fmt.Errorf("unknown provider %q", args[0])
	}

	svc := tokenusage.NewService(initShell(cfg), logger, nil)
	snap, err := svc.Fetch(cmd.Context(), p, tokenOptions(cfg, p))
	if err != nil {
		return err
	}

	store, err := initSnapshotStore(cfg)
	if err != nil {
		return err
	}
	if err := store.SaveTokenUsage(snap); err != nil {
		logger.Warn("persisting token snapshot failed", "provider", p, "error", err)
	}

	history, err := initHistory(cfg)
	if err == nil {
		defer history.Close()
		if err := history.RecordTokenDaily(cmd.Context(), p, snap.Daily); err != nil {
			logger.Warn("recording token series failed", "provider", p, "error", err)
		}
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "PERIOD\tTOKENS\tCOST\n")
	fmt.Fprintf(w, "today\t%d\t$%.2f\n", snap.Today.TotalTokens, snap.Today.CostUSD)
	fmt.Fprintf(w, "this week\t%d\t$%.2f\n", snap.ThisWeek.TotalTokens, snap.ThisWeek.CostUSD)
	fmt.Fprintf(w, "this month\t%d\t$%.2f\n", snap.ThisMonth.TotalTokens, snap.ThisMonth.CostUSD)
	return w.Flush()
}
