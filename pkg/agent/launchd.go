package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/quotabar/quotabar/pkg/model"
	"github.com/quotabar/quotabar/pkg/shell"
)

// launchctlTimeout bounds each launchctl invocation. launchctl answers in
// milliseconds when healthy; anything longer means the daemon is wedged.
const launchctlTimeout = 15 * time.Second

// Scheduler keeps launchd jobs in sync with wake-up schedules.
type Scheduler struct {
	runner    shell.Runner
	agentsDir string
	logDir    string
	shellPath string
	domain    string
	logger    *slog.Logger
}

// NewScheduler creates a scheduler writing descriptors under agentsDir
// (typically ~/Library/LaunchAgents) and job logs under logDir. The
// launchd domain target is derived from the current user.
func NewScheduler(runner shell.Runner, agentsDir, logDir, shellPath string, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner:    runner,
		agentsDir: agentsDir,
		logDir:    logDir,
		shellPath: shellPath,
		domain:    fmt.Sprintf("gui/%d", os.Getuid()),
		logger:    logger,
	}
}

func (s *Scheduler) plistPath(label string) string {
	return filepath.Join(s.agentsDir, label+".plist")
}

func (s *Scheduler) logPath(provider model.UsageProvider) string {
	return filepath.Join(s.logDir, fmt.Sprintf("wakeup-%s.log", provider.StorageKey()))
}

// Install registers the schedule's job, replacing any prior registration.
// launchd has no partial-update primitive, so install is always
// bootout-then-bootstrap: unregister whatever is there (ignoring
// not-registered outcomes), regenerate the descriptor, register fresh.
func (s *Scheduler) Install(ctx context.Context, schedule model.WakeUpSchedule) error {
	if !schedule.ShouldRegister() {
		return fmt.Errorf("schedule for %s is not registrable", schedule.Provider)
	}

	label := schedule.Label()
	path := s.plistPath(label)

	s.bootout(ctx, label)

	content, err := RenderPlist(schedule, s.shellPath, s.logPath(schedule.Provider))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.agentsDir, 0o755); err != nil {
		return fmt.Errorf("create agents dir: %w", err)
	}
	if err := writeFileAtomic(path, []byte(content)); err != nil {
		return fmt.Errorf("write plist %s: %w", path, err)
	}

	cmd := fmt.Sprintf("launchctl bootstrap %s %q", s.domain, path)
	if _, err := s.runner.RunChecked(ctx, cmd, launchctlTimeout); err != nil {
		return fmt.Errorf("bootstrap %s: %w", label, err)
	}

	s.logger.Info("registered wake-up job", "label", label, "hours", schedule.Hours)
	return nil
}

// Uninstall unregisters the provider's job and removes its descriptor.
// Both steps are best-effort: an absent job or file is the desired end
// state, not an error.
func (s *Scheduler) Uninstall(ctx context.Context, provider model.UsageProvider) error {
	label := provider.AgentLabel()
	s.bootout(ctx, label)

	if err := os.Remove(s.plistPath(label)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove plist for %s: %w", label, err)
	}
	s.logger.Info("unregistered wake-up job", "label", label)
	return nil
}

// IsInstalled reports whether launchd currently knows the provider's job.
func (s *Scheduler) IsInstalled(ctx context.Context, provider model.UsageProvider) bool {
	cmd := fmt.Sprintf("launchctl print %s/%s", s.domain, provider.AgentLabel())
	result, err := s.runner.Run(ctx, cmd, launchctlTimeout)
	return err == nil && result.ExitCode == 0
}

// ReconcileAll forces the registration state of every schedule to match
// its desired state, regardless of what launchd currently believes. Run
// at startup to heal drift from crashes or manual tampering.
func (s *Scheduler) ReconcileAll(ctx context.Context, schedules []model.WakeUpSchedule) {
	for _, schedule := range schedules {
		var err error
		if schedule.ShouldRegister() {
			err = s.Install(ctx, schedule)
		} else {
			err = s.Uninstall(ctx, schedule.Provider)
		}
		if err != nil {
			s.logger.Warn("schedule reconciliation failed", "provider", schedule.Provider, "error", err)
		}
	}
}

// bootout unregisters a job, swallowing the not-registered outcome.
func (s *Scheduler) bootout(ctx context.Context, label string) {
	cmd := fmt.Sprintf("launchctl bootout %s/%s", s.domain, label)
	if result, err := s.runner.Run(ctx, cmd, launchctlTimeout); err != nil {
		s.logger.Debug("bootout failed", "label", label, "error", err)
	} else if result.ExitCode != 0 {
		s.logger.Debug("bootout exited nonzero", "label", label, "code", result.ExitCode)
	}
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".plist-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
