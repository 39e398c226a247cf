package cli

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quotabar/quotabar/pkg/model"
	"github.com/quotabar/quotabar/pkg/snapshot"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last persisted usage for every provider",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := initSnapshotStore(cfg)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "PROVIDER\tMODE\t5H\t5H RESET\tWEEKLY\tWEEKLY RESET\tFETCHED\n")
	for _, p := range model.AllProviders() {
		snap, err := store.LoadUsage(p)
		if errors.Is(err, snapshot.ErrNotFound) {
			fmt.Fprintf(w, "%s\t-\tnot fetched\t-\t-\t-\t-\n", p.DisplayName())
			continue
		}
		if err != nil {
			return fmt.Errorf("load snapshot for %s: %w", p, err)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			p.DisplayName(), snap.DisplayMode,
			windowCell(snap.Primary), resetCell(snap.Primary),
			windowCell(snap.Secondary), resetCell(snap.Secondary),
			snap.FetchedAt.Local().Format("Jan 2 15:04"),
		)
	}
	return w.Flush()
}

func windowCell(w *model.UsageWindow) string {
	if w == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", w.UsedPercent)
}

func resetCell(w *model.UsageWindow) string {
	if w == nil || w.ResetAt == nil {
		return "-"
	}
	return w.ResetAt.Local().Format("Jan 2 15:04")
}
