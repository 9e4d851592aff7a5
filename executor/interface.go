package executor

import (
	"context"
)

// Executor runs command text on a target (the local machine or a remote host)
// and reports the outcome as data. Implementations never return execution
// faults as errors and never panic on them; inspect CommandResult.Err,
// ExitCode and Errors instead.
type Executor interface {
	// Execute runs the command text through the target's shell.
	Execute(ctx context.Context, command string) *CommandResult

	// ExecuteSudo runs the command text with superuser privileges. An empty
	// password assumes passwordless sudo on the target.
	ExecuteSudo(ctx context.Context, command, password string) *CommandResult
}

var (
	_ Executor = (*LocalExecutor)(nil)
	_ Executor = (*RemoteExecutor)(nil)
)
