package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quotabar/quotabar/internal/config"
	"github.com/quotabar/quotabar/pkg/agent"
	"github.com/quotabar/quotabar/pkg/model"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage scheduled wake-up calls",
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show configured wake-up schedules",
	RunE:  runScheduleList,
}

var scheduleSetCmd = &cobra.Command{
	Use:   "set <provider>",
	Short: "Configure a provider's wake-up schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleSet,
}

var scheduleApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Reconcile launchd jobs with the configured schedules",
	RunE:  runScheduleApply,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.AddCommand(scheduleListCmd)
	scheduleCmd.AddCommand(scheduleSetCmd)
	scheduleCmd.AddCommand(scheduleApplyCmd)

	scheduleSetCmd.Flags().Bool("enabled", true, "Enable the schedule")
	scheduleSetCmd.Flags().String("hours", "", "Comma-separated hours 0-23, e.g. 8,13,21")
	scheduleSetCmd.Flags().String("extra-args", "", "Extra CLI arguments for the wake-up command")
}

func runScheduleList(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	schedules, err := config.LoadSchedules(cfg.Storage.SchedulesPath)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "PROVIDER\tENABLED\tHOURS\tEXTRA ARGS\n")
	for _, s := range schedules {
		fmt.Fprintf(w, "%s\t%t\t%s\t%s\n",
			s.Provider.DisplayName(), s.Enabled, formatHours(s.Hours), s.ExtraArgs)
	}
	return w.Flush()
}

func runScheduleSet(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	p, ok := model.ParseProvider(args[0])
	if !ok {
		return fmt.Errorf("unknown provider %q", args[0])
	}

	enabled, _ := cmd.Flags().GetBool("enabled")
	hoursRaw, _ := cmd.Flags().GetString("hours")
	extraArgs, _ := cmd.Flags().GetString("extra-args")

	hours, err := parseHours(hoursRaw)
	if err != nil {
		return err
	}

	schedules, err := config.LoadSchedules(cfg.Storage.SchedulesPath)
	if err != nil {
		return err
	}
	for i := range schedules {
		if schedules[i].Provider != p {
			continue
		}
		schedules[i].Enabled = enabled
		if cmd.Flags().Changed("hours") {
			schedules[i].Hours = hours
		}
		if cmd.Flags().Changed("extra-args") {
			schedules[i].ExtraArgs = extraArgs
		}
		schedules[i].Normalize()
	}
	if err := config.SaveSchedules(cfg.Storage.SchedulesPath, schedules); err != nil {
		return err
	}
	fmt.Printf("schedule for %s saved; run 'quotabar schedule apply' to register it\n", p.DisplayName())
	return nil
}

func runScheduleApply(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	schedules, err := config.LoadSchedules(cfg.Storage.SchedulesPath)
	if err != nil {
		return err
	}

	scheduler := agent.NewScheduler(initShell(cfg),
		cfg.Storage.AgentsDir, cfg.Storage.LogDir, cfg.Shell.Path, logger)
	scheduler.ReconcileAll(cmd.Context(), schedules)
	return nil
}

func parseHours(raw string) ([]int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var hours []int
	for _, part := range strings.Split(raw, ",") {
		h, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || h < 0 || h > 23 {
			return nil, fmt.Errorf("invalid hour %q", part)
		}
		hours = append(hours, h)
	}
	return hours, nil
}

func formatHours(hours []int) string {
	if len(hours) == 0 {
		return "-"
	}
	parts := make([]string, len(hours))
	for i, h := range hours {
		parts[i] = strconv.Itoa(h)
	}
	return strings.Join(parts, ",")
}
