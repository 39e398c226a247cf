package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quotabar/quotabar/pkg/model"
	"github.com/quotabar/quotabar/pkg/snapshot"
)

var modeCmd = &cobra.Command{
	Use:   "mode [used|remaining|used_with_pacing]",
	Short: "Show or change the display mode",
	Long: `Changing the mode rewrites every persisted snapshot so widgets and
scripts read values in the new semantics without recomputing them.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMode,
}

func init() {
	rootCmd.AddCommand(modeCmd)
}

func runMode(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if len(args) == 0 {
		fmt.Println(cfg.DisplayMode())
		return nil
	}

	mode, ok := model.ParseDisplayMode(args[0])
	if !ok {
		return fmt.Errorf("unknown display mode %q", args[0])
	}

	store, err := initSnapshotStore(cfg)
	if err != nil {
		return err
	}
	if err := convertPersistedSnapshots(store, mode); err != nil {
		return err
	}

	cfg.SetDisplayMode(mode)
	if err := cfg.Save(); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Printf("display mode set to %s\n", mode)
	return nil
}

// convertPersistedSnapshots rewrites every persisted snapshot for the
// target mode and pokes the widget reload marker. Providers without a
// snapshot are skipped, never an error.
func convertPersistedSnapshots(store *snapshot.Store, mode model.DisplayMode) error {
	refresher := snapshot.NewMarkerRefresher(store)
	for _, p := range model.AllProviders() {
		snap, err := store.LoadUsage(p)
		if errors.Is(err, snapshot.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("load snapshot for %s: %w", p, err)
		}
		if err := store.SaveUsage(snap.ConvertTo(mode)); err != nil {
			return fmt.Errorf("persist converted snapshot for %s: %w", p, err)
		}
		refresher.NotifyUpdated(p)
	}
	return nil
}
