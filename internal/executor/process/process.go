// Package process runs a single external command with a wall-clock budget.
//
// The Runner interface is the seam an isolation layer plugs into: the judge
// only ever talks to a Runner, so a namespaced or containerised
// implementation can replace LocalRunner without touching pipeline logic.
package process

import (
	"context"
	"errors"
	"io/fs"
	"os/exec"
	"strings"
	"time"
)

// Command describes one stage invocation.
type Command struct {
	Args    []string
	Dir     string
	Stdin   *string // nil means the child reads from the null device
	Timeout time.Duration
}

// String renders the argument vector for diagnostics.
func (c Command) String() string {
	return strings.Join(c.Args, " ")
}

// Outcome is produced once per Run. Exactly one of the terminal flags
// (StartFailed, TimedOut, Interrupted) is set when the command did not run
// to completion.
type Outcome struct {
	Stdout         string
	Stderr         string
	TimedOut       bool
	StartFailed    bool
	Interrupted    bool
	Truncated      bool
	FailureMessage string
	ExitCode       int
	Duration       time.Duration

	// StartErr is the launch error behind StartFailed.
	StartErr error
}

// BinaryMissing reports whether the launch failed because the executable
// could not be located or executed, as opposed to any later failure.
func (o Outcome) BinaryMissing() bool {
	if !o.StartFailed || o.StartErr == nil {
		return false
	}
	return errors.Is(o.StartErr, exec.ErrNotFound) ||
		errors.Is(o.StartErr, fs.ErrNotExist) ||
		errors.Is(o.StartErr, fs.ErrPermission)
}

// Runner executes a command and never returns an error: every failure mode
// is described by the Outcome.
type Runner interface {
	Run(ctx context.Context, cmd Command) Outcome
}

// normalize converts line endings to LF and drops one trailing newline, so a
// program printing "2\n" reports "2".
func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.TrimSuffix(s, "\n")
}
