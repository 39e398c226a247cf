// Package tokenusage integrates the external token-accounting CLI
// (ccusage) through the login shell and normalizes its daily report into
// a TokenUsageSnapshot.
package tokenusage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/quotabar/quotabar/pkg/model"
	"github.com/quotabar/quotabar/pkg/shell"
)

// DefaultTimeout is the budget for an accounting CLI call. Deliberately
// longer than quick path-resolution probes: a cold ccusage run walks the
// full transcript directory.
const DefaultTimeout = 60 * time.Second

// Options configure one provider's CLI integration.
type Options struct {
	// Command is the base invocation, e.g. "ccusage" or "npx ccusage@latest".
	Command string
	// ExtraArgs are free-form user-supplied arguments spliced between the
	// base invocation and the fixed suffix.
	ExtraArgs string
	// Timeout overrides DefaultTimeout when positive.
	Timeout time.Duration
}

// Service fetches token usage via the accounting CLI.
type Service struct {
	runner shell.Runner
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates the service. clock may be nil for wall time.
func NewService(runner shell.Runner, logger *slog.Logger, clock func() time.Time) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{runner: runner, logger: logger, now: clock}
}

// BuildCommand composes the full command line: base invocation, optional
// extra arguments, then the fixed `-s <YYYYMMDD> -j` suffix anchoring the
// query to the first day of the current month in JSON mode. The suffix
// format is a hard dependency on the external tool's argument parser.
func BuildCommand(base, extraArgs string, now time.Time) string {
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	parts := []string{base}
	if trimmed := strings.TrimSpace(extraArgs); trimmed != "" {
		parts = append(parts, trimmed)
	}
	parts = append(parts, fmt.Sprintf("-s %s -j", monthStart.Format("20060102")))
	return strings.Join(parts, " ")
}

// report mirrors the CLI's daily JSON output. Unknown fields are ignored;
// the tool adds fields between releases.
type report struct {
	Daily []reportDay `json:"daily"`
}

type reportDay struct {
	Date        string  `json:"date"`
	TotalTokens int64   `json:"totalTokens"`
	TotalCost   float64 `json:"totalCost"`
}

// Fetch runs the CLI and aggregates its report into a snapshot.
func (s *Service) Fetch(ctx context.Context, provider model.UsageProvider, opts Options) (*model.TokenUsageSnapshot, error) {
	if opts.Command == "" {
		opts.Command = "ccusage"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	now := s.now()
	command := BuildCommand(opts.Command, opts.ExtraArgs, now)
	s.logger.Debug("running accounting CLI", "provider", provider, "command", command)

	result, err := s.runner.RunChecked(ctx, command, timeout)
	if err != nil {
		return nil, fmt.Errorf("accounting CLI: %w", err)
	}

	var rep report
	if err := json.Unmarshal([]byte(result.Stdout), &rep); err != nil {
		return nil, fmt.Errorf("decode accounting CLI output: %w", err)
	}

	return aggregate(provider, rep, now), nil
}

// aggregate folds the daily series into today/this-week/this-month
// periods. The query is already anchored at the month start, so every
// entry belongs to this month.
func aggregate(provider model.UsageProvider, rep report, now time.Time) *model.TokenUsageSnapshot {
	snap := &model.TokenUsageSnapshot{
		Provider:  provider,
		FetchedAt: model.NewTimestamp(now),
	}

	today := now.Format("2006-01-02")
	weekStart := startOfWeek(now)

	for _, day := range rep.Daily {
		snap.Daily = append(snap.Daily, model.DailyTokenUsage{
			Date:        day.Date,
			TotalTokens: day.TotalTokens,
			CostUSD:     day.TotalCost,
		})

		snap.ThisMonth.TotalTokens += day.TotalTokens
		snap.ThisMonth.CostUSD += day.TotalCost

		if day.Date == today {
			snap.Today.TotalTokens += day.TotalTokens
			snap.Today.CostUSD += day.TotalCost
		}
		if d, err := time.ParseInLocation("2006-01-02", day.Date, now.Location()); err == nil && !d.Before(weekStart) {
			snap.ThisWeek.TotalTokens += day.TotalTokens
			snap.ThisWeek.CostUSD += day.TotalCost
		}
	}
	return snap
}

// startOfWeek returns midnight of the current week's Monday.
func startOfWeek(now time.Time) time.Time {
	weekday := int(now.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	return time.Date(now.Year(), now.Month(), now.Day()-weekday+1, 0, 0, 0, 0, now.Location())
}
