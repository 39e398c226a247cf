// Package agent generates launchd job descriptors for scheduled wake-up
// calls and reconciles them against the launchd daemon.
package agent

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/quotabar/quotabar/pkg/model"
)

// plistTemplate is the launchd job descriptor. One StartCalendarInterval
// entry per enabled hour, minute fixed at 0; stdout and stderr share one
// per-provider log. RunAtLoad stays false so registering the job never
// fires an immediate wake-up.
const plistTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>{{.Label}}</string>
	<key>ProgramArguments</key>
	<array>
		<string>{{.ShellPath}}</string>
		<string>-l</string>
		<string>-c</string>
		<string>{{.Command}}</string>
	</array>
	<key>StartCalendarInterval</key>
	<array>
{{- range .Hours}}
		<dict>
			<key>Hour</key>
			<integer>{{.}}</integer>
			<key>Minute</key>
			<integer>0</integer>
		</dict>
{{- end}}
	</array>
	<key>StandardOutPath</key>
	<string>{{.LogPath}}</string>
	<key>StandardErrorPath</key>
	<string>{{.LogPath}}</string>
	<key>RunAtLoad</key>
	<false/>
</dict>
</plist>
`

var plistTmpl = template.Must(template.New("plist").Parse(plistTemplate))

// xmlEscaper covers the command string, the only field that can carry
// user-supplied text (extra CLI arguments).
var xmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

type plistData struct {
	Label     string
	ShellPath string
	Command   string
	Hours     []int
	LogPath   string
}

// wakeBase is the per-provider CLI invocation that produces a minimal
// authenticated request, enough to count as activity on the account.
func wakeBase(provider model.UsageProvider) string {
	if provider == model.ProviderCodex {
		return `codex exec --skip-git-repo-check "Reply with OK"`
	}
	return `claude -p "Reply with OK"`
}

// WakeCommand composes the scheduled command line: an echo preamble that
// stamps the log with the firing time, then the provider CLI with any
// user-supplied extra arguments appended.
func WakeCommand(schedule model.WakeUpSchedule) string {
	parts := []string{wakeBase(schedule.Provider)}
	if extra := strings.TrimSpace(schedule.ExtraArgs); extra != "" {
		parts = append(parts, extra)
	}
	return fmt.Sprintf(`echo "[quotabar] wake %s $(date)"; %s`,
		schedule.Provider, strings.Join(parts, " "))
}

// RenderPlist produces the descriptor for a schedule. The output is
// deterministic for a given schedule, so install can regenerate and
// compare or replace without tracking prior state.
func RenderPlist(schedule model.WakeUpSchedule, shellPath, logPath string) (string, error) {
	if shellPath == "" {
		shellPath = "/bin/zsh"
	}
	var buf bytes.Buffer
	err := plistTmpl.Execute(&buf, plistData{
		Label:     schedule.Label(),
		ShellPath: shellPath,
		Command:   xmlEscaper.Replace(WakeCommand(schedule)),
		Hours:     schedule.Hours,
		LogPath:   logPath,
	})
	if err != nil {
		return "", fmt.Errorf("render plist: %w", err)
	}
	return buf.String(), nil
}
