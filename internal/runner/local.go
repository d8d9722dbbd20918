package runner

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"batchbridge/internal/apperrors"
)

// killGrace is how long Wait lingers after the context fires before the
// output pipes are forcibly closed.
const killGrace = 5 * time.Second

// Local runs commands through a shell on the host.
type Local struct {
	shell string
}

// NewLocal creates a Local runner. shell defaults to /bin/sh.
func NewLocal(shell string) *Local {
	if shell == "" {
		shell = "/bin/sh"
	}
	return &Local{shell: shell}
}

// Run executes command via `shell -c` in its own process group. On timeout
// the whole group receives SIGKILL, so helpers spawned by the scheduler CLI
// die with it, and a Result with TimedOut set is returned.
func (l *Local) Run(ctx context.Context, command string, timeout time.Duration) (Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	stdout := newCapBuffer()
	stderr := newCapBuffer()

	cmd := exec.CommandContext(ctx, l.shell, "-c", command)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = killGrace

	runErr := cmd.Run()
	timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)

	res := Result{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		TimedOut:  timedOut,
		Truncated: stdout.truncated || stderr.truncated,
	}
	if res.Truncated {
		slog.Warn("Command output truncated", "limit", MaxCaptureBytes)
	}

	if runErr == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if timedOut {
		// Killed before the shell could even report an exit status.
		res.ExitCode = -1
		return res, nil
	}
	return Result{}, apperrors.Internal("runner.spawn", runErr)
}

// Ready verifies the shell exists.
func (l *Local) Ready(ctx context.Context) error {
	if _, err := exec.LookPath(l.shell); err != nil {
		return apperrors.Internal("runner.ready", err)
	}
	return nil
}

// Close is a no-op for the local runner.
func (l *Local) Close() error { return nil }

var _ Runner = (*Local)(nil)
