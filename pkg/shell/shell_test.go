package shell_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/quotabar/quotabar/pkg/shell"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Tests run against /bin/sh: every platform this builds on has it, and
// the runner only relies on -l/-c semantics.
func newTestRunner() *shell.LoginShell {
	return shell.NewLoginShell("/bin/sh")
}

func TestRun_CapturesOutput(t *testing.T) {
	r := newTestRunner()
	result, err := r.Run(context.Background(), "echo out; echo err >&2", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "out\n", result.Stdout)
	assert.Equal(t, "err\n", result.Stderr)
	assert.Zero(t, result.ExitCode)
}

func TestRun_NonzeroExitIsNotAnError(t *testing.T) {
	r := newTestRunner()
	result, err := r.Run(context.Background(), "echo oops >&2; exit 3", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, "oops\n", result.Stderr)
}

func TestRunChecked_NonzeroExit(t *testing.T) {
	r := newTestRunner()
	_, err := r.RunChecked(context.Background(), "exit 7", 10*time.Second)
	var exitErr *shell.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 7, exitErr.Code)
}

func TestRun_Timeout(t *testing.T) {
	r := newTestRunner()
	start := time.Now()
	_, err := r.Run(context.Background(), "sleep 5", 150*time.Millisecond)
	assert.ErrorIs(t, err, shell.ErrTimeout)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestRun_CommandNotFound(t *testing.T) {
	r := newTestRunner()
	_, err := r.Run(context.Background(), "definitely-not-a-real-binary-xyz", 10*time.Second)
	var notFound *shell.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Contains(t, notFound.Command, "definitely-not-a-real-binary-xyz")
}

func TestRun_ShellNotFound(t *testing.T) {
	r := shell.NewLoginShell("/no/such/shell")
	_, err := r.Run(context.Background(), "echo hi", time.Second)
	assert.Error(t, err)
}

func TestPrefixPath(t *testing.T) {
	prefixed := shell.PrefixPath("ccusage -j")
	assert.True(t, strings.HasPrefix(prefixed, `export PATH="`))
	assert.Contains(t, prefixed, "/opt/homebrew/bin")
	assert.True(t, strings.HasSuffix(prefixed, "ccusage -j"))

	// A command managing its own PATH passes through untouched.
	explicit := `PATH=/custom/bin ccusage -j`
	assert.Equal(t, explicit, shell.PrefixPath(explicit))
}

func TestRun_PathPrefixVisibleToCommand(t *testing.T) {
	r := newTestRunner()
	result, err := r.Run(context.Background(), "echo $PATH", 10*time.Second)
	require.NoError(t, err)
	assert.Contains(t, result.Stdout, "/opt/homebrew/bin")
}
