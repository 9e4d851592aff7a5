package executor

import (
	"time"

	"github.com/google/uuid"
)

// CommandResult is the outcome of one Execute/Run call. It is created fresh per
// call and not modified after the call returns.
//
// Exactly one of two shapes applies: either the command completed (Output,
// Errors and ExitCode are meaningful and Err is nil), or the execution
// mechanism itself failed (Err is set, the streams are empty and ExitCode is -1).
type CommandResult struct {
	RunID string `yaml:"runId"`
	// Command is the text that was run, with any sudo password redacted.
	Command   string    `yaml:"command"`
	Output    string    `yaml:"output"`
	Errors    string    `yaml:"errors"`
	ExitCode  int       `yaml:"exitCode"`
	Err       error     `yaml:"-"`
	StartTime time.Time `yaml:"startTime"`
	EndTime   time.Time `yaml:"endTime"`
}

// Outcome is either Completed or Failed.
type Outcome interface {
	isOutcome()
}

// Completed means the command ran to its own exit, successfully or not.
type Completed struct {
	Output   string
	Errors   string
	ExitCode int
}

// Failed means the command could not be run or its status could not be collected.
type Failed struct {
	Cause error
}

func (Completed) isOutcome() {}
func (Failed) isOutcome()    {}

func newResult(command string) *CommandResult {
	return &CommandResult{
		RunID:     uuid.New().String(),
		Command:   command,
		ExitCode:  -1,
		StartTime: time.Now(),
	}
}

func (r *CommandResult) complete(stdout, stderr string, exitCode int) *CommandResult {
	r.Output = stdout
	r.Errors = stderr
	r.ExitCode = exitCode
	r.EndTime = time.Now()
	return r
}

func (r *CommandResult) fail(cause error) *CommandResult {
	r.Output = ""
	r.Errors = ""
	r.ExitCode = -1
	r.Err = cause
	r.EndTime = time.Now()
	return r
}

// Outcome returns the tagged view of the result.
func (r *CommandResult) Outcome() Outcome {
	if r.Err != nil {
		return Failed{Cause: r.Err}
	}
	return Completed{Output: r.Output, Errors: r.Errors, ExitCode: r.ExitCode}
}

// Failed reports whether the execution mechanism failed.
func (r *CommandResult) Failed() bool {
	return r.Err != nil
}

// Success reports whether the command completed with exit status 0.
// Output on stderr does not make a command unsuccessful.
func (r *CommandResult) Success() bool {
	return r.Err == nil && r.ExitCode == 0
}

// Duration is the wall-clock time between start and end.
func (r *CommandResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}
