package executor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/mensylisir/xmexec/common"
	"github.com/mensylisir/xmexec/logger"
)

// waitDelay bounds how long output pipes may stay open after the shell has
// exited or been killed, e.g. held by a backgrounded child.
const waitDelay = 2 * time.Second

// LocalExecutor runs command text as a child process of the current program.
// On POSIX hosts the text goes to /bin/bash -c; on Windows it goes to bash
// inside the Linux subsystem via wsl.exe. The zero value is not usable; use
// NewLocalExecutor. A LocalExecutor is immutable and safe for concurrent use.
type LocalExecutor struct {
	workDir string
	goos    string
}

// LocalOption configures a LocalExecutor.
type LocalOption func(*LocalExecutor)

// WithWorkDir sets the default working directory for every call. It must be
// an absolute path; on Windows hosts a drive-letter path.
func WithWorkDir(dir string) LocalOption {
	return func(l *LocalExecutor) {
		l.workDir = dir
	}
}

// withPlatform overrides the detected GOOS.
func withPlatform(goos string) LocalOption {
	return func(l *LocalExecutor) {
		l.goos = goos
	}
}

// NewLocalExecutor creates a LocalExecutor for the current platform.
func NewLocalExecutor(opts ...LocalOption) *LocalExecutor {
	l := &LocalExecutor{goos: runtime.GOOS}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// WorkDir returns the default working directory ("" means the caller's).
func (l *LocalExecutor) WorkDir() string {
	return l.workDir
}

// Execute runs command in the default working directory.
func (l *LocalExecutor) Execute(ctx context.Context, command string) *CommandResult {
	return l.ExecuteIn(ctx, command, "")
}

// ExecuteIn runs command in dir, or in the default working directory when dir is empty.
func (l *LocalExecutor) ExecuteIn(ctx context.Context, command, dir string) *CommandResult {
	return l.run(ctx, command, command, dir)
}

// ExecuteSudo runs command through sudo in the default working directory.
func (l *LocalExecutor) ExecuteSudo(ctx context.Context, command, password string) *CommandResult {
	return l.ExecuteSudoIn(ctx, command, password, "")
}

// ExecuteSudoIn runs command through sudo in dir. See SudoCommand for the rewrite.
func (l *LocalExecutor) ExecuteSudoIn(ctx context.Context, command, password, dir string) *CommandResult {
	return l.run(ctx, SudoCommand(command, password), redactedSudoCommand(command, password), dir)
}

func (l *LocalExecutor) run(ctx context.Context, text, display, dir string) *CommandResult {
	result := newResult(display)
	log := logger.Log.WithRun(common.LocalHost, result.RunID, display)

	cmd, err := l.command(ctx, text, dir)
	if err != nil {
		log.Warnf("Could not build local command: %v", err)
		return result.fail(err)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debugf("Running local command in %q", cmd.Dir)
	runErr := cmd.Run()

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
		result.complete(stdout.String(), stderr.String(), 0)
	case ctx.Err() != nil:
		result.fail(errors.Wrap(ctx.Err(), "local command interrupted"))
	case errors.As(runErr, &exitErr):
		result.complete(stdout.String(), stderr.String(), exitStatus(exitErr.ProcessState))
	case errors.Is(runErr, exec.ErrWaitDelay) && cmd.ProcessState != nil:
		// The shell exited but a background child still holds the pipes.
		log.Debugf("Stopped waiting for output held by background processes")
		result.complete(stdout.String(), stderr.String(), exitStatus(cmd.ProcessState))
	default:
		result.fail(errors.Wrapf(runErr, "failed to run %s", cmd.Path))
	}

	if result.Failed() {
		log.Warnf("Local command failed after %s: %v", result.Duration(), result.Err)
	} else {
		log.Debugf("Local command exited with %d after %s", result.ExitCode, result.Duration())
	}
	return result
}

// exitStatus reports the exit code of a finished process, or 128+signal when
// it was killed by a signal, the way shells report it.
func exitStatus(state *os.ProcessState) int {
	if status, ok := state.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal())
	}
	return state.ExitCode()
}

// command builds the process for text. dir falls back to the default working
// directory. On Windows the subsystem cannot take a native working directory,
// so a `cd` is prepended to the text instead.
func (l *LocalExecutor) command(ctx context.Context, text, dir string) (*exec.Cmd, error) {
	if dir == "" {
		dir = l.workDir
	}

	if l.goos == "windows" {
		if dir != "" {
			wslDir, err := ConvertPathToWsl(dir)
			if err != nil {
				return nil, err
			}
			text = fmt.Sprintf(common.CdCmdTpl, ShellEscape(wslDir), text)
		}
		cmd := exec.CommandContext(ctx, common.WslLauncher, "-e", common.BashPath, "-c", text)
		cmd.WaitDelay = waitDelay
		return cmd, nil
	}

	cmd := exec.CommandContext(ctx, common.BashPath, "-c", text)
	cmd.Dir = dir
	cmd.WaitDelay = waitDelay
	return cmd, nil
}
