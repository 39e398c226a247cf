// Package shell runs command lines inside the user's login shell with a
// hard timeout and structured result capture.
//
// Commands always go through the login shell with login-mode flags, not
// the bare binary: the CLI tools this system depends on are frequently
// installed by Homebrew or nvm into directories only the user's shell
// initialization adds to PATH.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrTimeout indicates the process was terminated because it exceeded its
// budget. Distinct from a nonzero exit: a token-accounting CLI timing out
// must not be mistaken for the CLI being missing.
var ErrTimeout = errors.New("shell: command timed out")

// ExitError carries a nonzero exit code and the captured stderr.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("shell: command exited with code %d", e.Code)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// NotFoundError indicates the shell itself, or the command inside it,
// could not be launched. Carries the attempted command for diagnostics.
type NotFoundError struct {
	Command string
}

func (e *NotFoundError) Error() string {
	return "shell: command not found: " + e.Command
}

// Result is the structured outcome of a completed command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes a command line and captures its outcome. Run does not
// fail on nonzero exit; RunChecked does.
type Runner interface {
	Run(ctx context.Context, command string, timeout time.Duration) (*Result, error)
	RunChecked(ctx context.Context, command string, timeout time.Duration) (*Result, error)
}

// Common install locations injected ahead of the command. Login shells
// whose init files do not export PATH in non-interactive invocations
// would otherwise miss them.
var defaultPathPrefix = []string{
	"/opt/homebrew/bin",
	"/usr/local/bin",
	"/usr/bin",
	"/bin",
}

// Shell exit code for "command not found".
const exitCommandNotFound = 127

// LoginShell is the default Runner, invoking `$SHELL -l -c <command>`.
type LoginShell struct {
	// Path of the shell binary; defaults to /bin/zsh.
	Path string
}

// NewLoginShell returns a runner for the given shell binary. An empty
// path selects /bin/zsh.
func NewLoginShell(path string) *LoginShell {
	if path == "" {
		path = "/bin/zsh"
	}
	return &LoginShell{Path: path}
}

// Run executes the command, returning a Result even for nonzero exits.
// Errors are reserved for timeout, launch failure, and context
// cancellation.
func (l *LoginShell) Run(ctx context.Context, command string, timeout time.Duration) (*Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, l.Path, "-l", "-c", PrefixPath(command))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%w after %s: %s", ErrTimeout, timeout, command)
	}

	result := &Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if result.ExitCode == exitCommandNotFound {
				return nil, &NotFoundError{Command: command}
			}
			return result, nil
		}
		if errors.Is(err, exec.ErrNotFound) {
			return nil, &NotFoundError{Command: l.Path}
		}
		return nil, fmt.Errorf("launch %q: %w", command, err)
	}
	return result, nil
}

// RunChecked executes the command and converts a nonzero exit into an
// ExitError.
func (l *LoginShell) RunChecked(ctx context.Context, command string, timeout time.Duration) (*Result, error) {
	result, err := l.Run(ctx, command, timeout)
	if err != nil {
		return nil, err
	}
	if result.ExitCode != 0 {
		return nil, &ExitError{Code: result.ExitCode, Stderr: result.Stderr}
	}
	return result, nil
}

// PrefixPath injects the common install locations ahead of the command,
// unless the command already sets PATH explicitly.
func PrefixPath(command string) string {
	if strings.Contains(command, "PATH=") {
		return command
	}
	return `export PATH="` + strings.Join(defaultPathPrefix, ":") + `:$PATH"; ` + command
}
