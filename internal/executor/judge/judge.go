// Package judge drives a language pipeline through a process.Runner and
// folds the stage outcomes into an executor.ExecutionResult.
//
// Per request the judge moves through:
//
//	Created -> Compiling -> CompileFailed
//	                     -> Running -> Completed | TimedOut | RunError
//
// Languages without a compile stage go straight from Created to Running.
package judge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/code-judge/internal/apperror"
	"github.com/sakif/code-judge/internal/executor"
	"github.com/sakif/code-judge/internal/executor/pipeline"
	"github.com/sakif/code-judge/internal/executor/process"
	"github.com/sakif/code-judge/internal/executor/workspace"
)

// State is a node of the per-request state machine.
type State string

const (
	StateCreated       State = "created"
	StateCompiling     State = "compiling"
	StateCompileFailed State = "compile_failed"
	StateRunning       State = "running"
	StateCompleted     State = "completed"
	StateTimedOut      State = "timed_out"
	StateRunError      State = "run_error"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	switch s {
	case StateCompileFailed, StateCompleted, StateTimedOut, StateRunError:
		return true
	}
	return false
}

// Config holds the per-stage budgets.
type Config struct {
	CompileTimeout time.Duration
	RunTimeout     time.Duration
	// MaxCodeBytes rejects larger submissions; zero disables the check.
	MaxCodeBytes int
}

// DefaultConfig mirrors the ten second budget each stage gets.
func DefaultConfig() Config {
	return Config{
		CompileTimeout: 10 * time.Second,
		RunTimeout:     10 * time.Second,
		MaxCodeBytes:   64 * 1024,
	}
}

// Judge implements executor.Executor on top of local toolchains.
type Judge struct {
	workspaces *workspace.Manager
	selector   *pipeline.Selector
	runner     process.Runner
	config     Config
	logger     *slog.Logger
}

var _ executor.Executor = (*Judge)(nil)

// New creates a Judge. The runner is the only component that touches
// processes, so an isolating Runner can be swapped in here.
func New(
	workspaces *workspace.Manager,
	selector *pipeline.Selector,
	runner process.Runner,
	cfg Config,
	logger *slog.Logger,
) *Judge {
	return &Judge{
		workspaces: workspaces,
		selector:   selector,
		runner:     runner,
		config:     cfg,
		logger:     logger,
	}
}

// Execute compiles and runs req.Code. Only validation problems (empty or
// oversized code) and internal failures come back as errors; in both cases a
// well-formed result is returned alongside. Everything that goes wrong with
// the submitted program itself is reported inside the result.
func (j *Judge) Execute(ctx context.Context, req executor.ExecutionRequest) (*executor.ExecutionResult, error) {
	res := &executor.ExecutionResult{Language: req.Language, Logs: []string{}}

	if strings.TrimSpace(req.Code) == "" {
		err := apperror.EmptyCode()
		res.Error = msg(err.Error())
		return res, err
	}
	if j.config.MaxCodeBytes > 0 && len(req.Code) > j.config.MaxCodeBytes {
		err := apperror.ValidationFailed("code",
			fmt.Sprintf("code must be %d bytes or less", j.config.MaxCodeBytes))
		res.Error = msg(err.Error())
		return res, err
	}

	lang, ok := executor.ParseLanguage(req.Language)
	if !ok {
		res.Error = msg(apperror.UnsupportedLanguage(req.Language).Error())
		return res, nil
	}

	ws, err := j.workspaces.Acquire()
	if err != nil {
		res.Error = msg("Failed to prepare workspace")
		return res, apperror.Internal("failed to prepare workspace", err)
	}
	defer j.workspaces.Release(ws)
	res.Logs = append(res.Logs, "Workspace: "+ws.Path)

	p, err := j.selector.Select(lang, ws.Path)
	if err != nil {
		res.Error = msg(err.Error())
		return res, nil
	}
	if err := j.workspaces.WriteFile(ws, p.SourceFile, []byte(req.Code)); err != nil {
		res.Error = msg("Failed to write source file")
		return res, apperror.Internal("failed to write source file", err)
	}

	start := time.Now()
	outcome, state := j.runPipeline(ctx, p, ws, req.Stdin, res)

	res.Output = outcome.Stdout
	res.Stderr = outcome.Stderr
	res.Error = errorFor(outcome, state)

	j.logger.Info("execution finished",
		slog.String("language", string(lang)),
		slog.String("state", string(state)),
		slog.Bool("compiled", p.HasCompileStage()),
		slog.Bool("failed", res.Failed()),
		slog.Duration("duration", time.Since(start)),
	)
	return res, nil
}

// runPipeline runs the stages in order and returns the outcome that decides
// the result: the first stage that fails, or the last stage.
func (j *Judge) runPipeline(
	ctx context.Context,
	p *pipeline.Pipeline,
	ws *workspace.Workspace,
	stdin *string,
	res *executor.ExecutionResult,
) (process.Outcome, State) {
	state := StateCreated
	var out process.Outcome

	for i, stage := range p.Stages {
		last := i == len(p.Stages)-1

		cmd := process.Command{Args: stage.Args, Dir: ws.Path}
		switch stage.Kind {
		case pipeline.StageCompile:
			state = j.transition(state, StateCompiling)
			cmd.Timeout = j.config.CompileTimeout
		default:
			state = j.transition(state, StateRunning)
			cmd.Timeout = j.config.RunTimeout
			cmd.Stdin = stdin
		}

		res.Logs = append(res.Logs, cmd.String())
		out = j.runner.Run(ctx, cmd)
		if out.Truncated {
			res.Logs = append(res.Logs, "Output truncated: "+cmd.String())
		}

		if out.BinaryMissing() && len(stage.Fallback) > 0 {
			j.logger.Warn("primary binary unavailable, using fallback",
				slog.String("primary", stage.Args[0]),
				slog.String("fallback", stage.Fallback[0]),
			)
			cmd.Args = stage.Fallback
			res.Logs = append(res.Logs, cmd.String())
			out = j.runner.Run(ctx, cmd)
			if out.Truncated {
				res.Logs = append(res.Logs, "Output truncated: "+cmd.String())
			}
		}

		if next, stop := settle(stage, out, last); stop {
			return out, j.transition(state, next)
		}
	}
	return out, state
}

// settle decides whether the pipeline ends after a stage and in which state.
func settle(stage pipeline.Stage, out process.Outcome, last bool) (State, bool) {
	failed := out.StartFailed || out.TimedOut || out.Interrupted ||
		(stage.StopOnStderr && out.Stderr != "")

	if stage.Kind == pipeline.StageCompile {
		if failed {
			return StateCompileFailed, true
		}
		return "", false
	}

	switch {
	case out.TimedOut:
		return StateTimedOut, true
	case failed:
		return StateRunError, true
	case last && out.Stderr != "":
		return StateRunError, true
	case last:
		return StateCompleted, true
	}
	return "", false
}

func (j *Judge) transition(from, to State) State {
	j.logger.Debug("judge state",
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.Bool("terminal", to.Terminal()),
	)
	return to
}

// errorFor maps the deciding outcome to the result's error field. A run that
// merely wrote to stderr is not an error: the stderr text is returned as is.
func errorFor(out process.Outcome, state State) *string {
	switch {
	case out.StartFailed:
		return msg(out.FailureMessage)
	case out.TimedOut:
		return msg(executor.MsgTimedOut)
	case out.Interrupted:
		return msg(executor.MsgInterrupted)
	case state == StateCompileFailed:
		return msg(executor.MsgCompileFail)
	}
	return nil
}

func msg(s string) *string {
	return &s
}
