package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quotabar/quotabar/pkg/model"
)

var thresholdsCmd = &cobra.Command{
	Use:   "thresholds",
	Short: "Manage notification thresholds",
}

var thresholdsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show configured thresholds",
	RunE:  runThresholdsShow,
}

var thresholdsSetCmd = &cobra.Command{
	Use:   "set <provider>",
	Short: "Configure a threshold level",
	Args:  cobra.ExactArgs(1),
	RunE:  runThresholdsSet,
}

func init() {
	rootCmd.AddCommand(thresholdsCmd)
	thresholdsCmd.AddCommand(thresholdsShowCmd)
	thresholdsCmd.AddCommand(thresholdsSetCmd)

	thresholdsSetCmd.Flags().String("window", "primary", "Window (primary or secondary)")
	thresholdsSetCmd.Flags().String("level", "warning", "Level (warning or danger)")
	thresholdsSetCmd.Flags().Bool("enabled", true, "Enable the threshold")
	thresholdsSetCmd.Flags().Float64("percent", 0, "Threshold percent (1-100)")
}

func runThresholdsShow(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "PROVIDER\tWINDOW\tLEVEL\tENABLED\tPERCENT\n")
	for _, p := range model.AllProviders() {
		th := cfg.ProviderThresholds(p)
		for _, kind := range []model.WindowKind{model.WindowPrimary, model.WindowSecondary} {
			for _, level := range model.ThresholdLevels() {
				setting := th.Window(kind).Level(level)
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%.0f%%\n",
					p.DisplayName(), kind, level, setting.Enabled, setting.Percent)
			}
		}
	}
	return w.Flush()
}

func runThresholdsSet(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	p, ok := model.ParseProvider(args[0])
	if !ok {
		return fmt.Errorf("unknown provider %q", args[0])
	}

	windowRaw, _ := cmd.Flags().GetString("window")
	kind := model.WindowKind(windowRaw)
	if kind != model.WindowPrimary && kind != model.WindowSecondary {
		return fmt.Errorf("unknown window %q", windowRaw)
	}
	levelRaw, _ := cmd.Flags().GetString("level")
	level := model.ThresholdLevel(levelRaw)
	if level != model.LevelWarning && level != model.LevelDanger {
		return fmt.Errorf("unknown level %q", levelRaw)
	}
	enabled, _ := cmd.Flags().GetBool("enabled")
	percent, _ := cmd.Flags().GetFloat64("percent")

	th := cfg.ProviderThresholds(p)
	windows := th.Window(kind)
	setting := windows.Level(level)
	wasEnabled := setting.Enabled
	oldPercent := setting.Percent

	setting.Enabled = enabled
	if cmd.Flags().Changed("percent") {
		setting.Percent = percent
	}
	if level == model.LevelDanger {
		windows.Danger = setting
	} else {
		windows.Warning = setting
	}
	if kind == model.WindowSecondary {
		th.Secondary = windows
	} else {
		th.Primary = windows
	}
	cfg.SetProviderThresholds(p, th)
	if err := cfg.Save(); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	// A percent change or a re-enable is an explicit request to allow
	// re-notification: clear the dedup anchor for this level.
	if setting.Percent != oldPercent || (enabled && !wasEnabled) {
		history, err := initHistory(cfg)
		if err != nil {
			logger.Warn("opening history for anchor reset failed", "error", err)
		} else {
			defer history.Close()
			if err := history.DeleteAnchor(cmd.Context(), p, kind, level); err != nil {
				logger.Warn("clearing notification anchor failed", "error", err)
			}
		}
	}

	fmt.Printf("%s %s %s: enabled=%t percent=%.0f%%\n",
		p.DisplayName(), kind, level, setting.Enabled, setting.Percent)
	return nil
}
