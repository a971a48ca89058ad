package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultTimeout applies when a Command carries no timeout of its own.
	DefaultTimeout = 10 * time.Second
	// DefaultDrainWait bounds how long output is collected after a forced kill.
	DefaultDrainWait = 100 * time.Millisecond
	// DefaultOutputLimit caps each captured stream.
	DefaultOutputLimit = 1 << 20
)

// Options tunes a LocalRunner. Zero values select the defaults.
type Options struct {
	DrainWait   time.Duration
	OutputLimit int
}

// LocalRunner runs commands directly on the host. It performs no isolation
// beyond the wall-clock timeout.
type LocalRunner struct {
	drainWait   time.Duration
	outputLimit int
	logger      *slog.Logger
}

// NewLocalRunner creates a LocalRunner.
func NewLocalRunner(opts Options, logger *slog.Logger) *LocalRunner {
	if opts.DrainWait <= 0 {
		opts.DrainWait = DefaultDrainWait
	}
	if opts.OutputLimit <= 0 {
		opts.OutputLimit = DefaultOutputLimit
	}
	return &LocalRunner{
		drainWait:   opts.DrainWait,
		outputLimit: opts.OutputLimit,
		logger:      logger,
	}
}

// Run launches the command and waits for it up to cmd.Timeout.
//
// Stdin is fed from its own goroutine while stdout and stderr are drained
// concurrently, so no ordering of reads and writes can stall the child on a
// full pipe. When the stage ends, by exit, timeout or cancellation, the whole
// process group is killed without a grace period and the drains get DrainWait
// to flush what is left. Output captured after a timeout is best-effort and
// may be truncated.
func (r *LocalRunner) Run(ctx context.Context, c Command) Outcome {
	start := time.Now()

	if len(c.Args) == 0 {
		return startFailure(c, errors.New("empty command"), start)
	}
	if err := ctx.Err(); err != nil {
		return Outcome{Interrupted: true, FailureMessage: "Execution interrupted", ExitCode: -1}
	}

	cmd := exec.Command(c.Args[0], c.Args[1:]...)
	cmd.Dir = c.Dir
	setProcessGroup(cmd)

	p, err := newPipes(c.Stdin != nil)
	if err != nil {
		return startFailure(c, err, start)
	}
	defer p.closeReaders()

	cmd.Stdout = p.stdoutW
	cmd.Stderr = p.stderrW
	if p.stdinR != nil {
		cmd.Stdin = p.stdinR
	}

	if err := cmd.Start(); err != nil {
		p.closeChildEnds()
		if p.stdinW != nil {
			p.stdinW.Close()
		}
		return startFailure(c, err, start)
	}
	// The child holds its own copies; ours must go or the drains never see EOF.
	p.closeChildEnds()

	if p.stdinW != nil {
		go func(input string) {
			defer p.stdinW.Close()
			// EPIPE here just means the program exited without reading.
			_, _ = io.WriteString(p.stdinW, input)
		}(*c.Stdin)
	}

	stdout := newCapBuffer(r.outputLimit)
	stderr := newCapBuffer(r.outputLimit)

	var drains errgroup.Group
	drains.Go(func() error { return drain(stdout, p.stdoutR) })
	drains.Go(func() error { return drain(stderr, p.stderrR) })

	drained := make(chan struct{})
	go func() {
		if err := drains.Wait(); err != nil {
			r.logger.Debug("output drain failed", slog.String("cmd", c.String()), slog.String("error", err.Error()))
		}
		close(drained)
	}()

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	out := Outcome{ExitCode: -1}
	var waitErr error
	exitedInTime := false

	select {
	case waitErr = <-exited:
		exitedInTime = true
	case <-timer.C:
		out.TimedOut = true
	case <-ctx.Done():
		out.Interrupted = true
	}

	// The group holds only this stage's processes, so whatever is still in it
	// (a timed-out program, or children a finished program left behind) is
	// killed before the stage ends. Their exit also releases the pipes.
	killProcessGroup(cmd)
	select {
	case <-drained:
	case <-time.After(r.drainWait):
		r.logger.Debug("output drain abandoned", slog.String("cmd", c.String()))
	}
	// Unblocks any drain still parked on a pipe held by a process outside the group.
	p.closeReaders()

	if exitedInTime {
		out.ExitCode = exitCode(cmd, waitErr)
	}

	so, soTrunc := stdout.snapshot()
	se, seTrunc := stderr.snapshot()
	out.Stdout = normalize(so)
	out.Stderr = normalize(se)
	out.Truncated = soTrunc || seTrunc
	out.Duration = time.Since(start)

	switch {
	case out.TimedOut:
		out.FailureMessage = "Execution timed out"
	case out.Interrupted:
		out.FailureMessage = "Execution interrupted"
	}

	r.logger.Debug("process finished",
		slog.String("cmd", c.String()),
		slog.Int("exitCode", out.ExitCode),
		slog.Bool("timedOut", out.TimedOut),
		slog.Bool("interrupted", out.Interrupted),
		slog.Bool("truncated", out.Truncated),
		slog.Duration("duration", out.Duration),
	)
	return out
}

func drain(dst io.Writer, src io.Reader) error {
	_, err := io.Copy(dst, src)
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	return -1
}

func startFailure(c Command, err error, start time.Time) Outcome {
	name := "<empty>"
	if len(c.Args) > 0 {
		name = c.Args[0]
	}
	return Outcome{
		StartFailed:    true,
		StartErr:       err,
		FailureMessage: fmt.Sprintf("Cannot run program %q: %v", name, err),
		ExitCode:       -1,
		Duration:       time.Since(start),
	}
}

// pipes holds both ends of the three standard streams. The parent keeps the
// read ends of stdout/stderr and the write end of stdin.
type pipes struct {
	stdoutR, stdoutW *os.File
	stderrR, stderrW *os.File
	stdinR, stdinW   *os.File
}

func newPipes(withStdin bool) (*pipes, error) {
	p := &pipes{}
	var err error
	if p.stdoutR, p.stdoutW, err = os.Pipe(); err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	if p.stderrR, p.stderrW, err = os.Pipe(); err != nil {
		p.closeReaders()
		p.closeChildEnds()
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}
	if withStdin {
		if p.stdinR, p.stdinW, err = os.Pipe(); err != nil {
			p.closeReaders()
			p.closeChildEnds()
			return nil, fmt.Errorf("creating stdin pipe: %w", err)
		}
	}
	return p, nil
}

func (p *pipes) closeChildEnds() {
	for _, f := range []*os.File{p.stdoutW, p.stderrW, p.stdinR} {
		if f != nil {
			f.Close()
		}
	}
}

// closeReaders is safe to call more than once.
func (p *pipes) closeReaders() {
	for _, f := range []*os.File{p.stdoutR, p.stderrR} {
		if f != nil {
			f.Close()
		}
	}
}
