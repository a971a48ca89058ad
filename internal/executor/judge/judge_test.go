package judge_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/code-judge/internal/apperror"
	"github.com/sakif/code-judge/internal/executor"
	"github.com/sakif/code-judge/internal/executor/judge"
	"github.com/sakif/code-judge/internal/executor/pipeline"
	"github.com/sakif/code-judge/internal/executor/process"
	"github.com/sakif/code-judge/internal/executor/workspace"
)

// fakeRunner replays scripted outcomes and records every command, along with
// what the workspace looked like at the time.
type fakeRunner struct {
	mu       sync.Mutex
	outcomes []process.Outcome
	commands []process.Command
	sources  []string
}

func (f *fakeRunner) Run(ctx context.Context, cmd process.Command) process.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.commands = append(f.commands, cmd)
	entries, _ := os.ReadDir(cmd.Dir)
	for _, e := range entries {
		f.sources = append(f.sources, e.Name())
	}

	idx := len(f.commands) - 1
	if idx < len(f.outcomes) {
		return f.outcomes[idx]
	}
	return process.Outcome{}
}

type fixture struct {
	judge  *judge.Judge
	runner *fakeRunner
	root   string
}

func newFixture(t *testing.T, outcomes ...process.Outcome) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	root := t.TempDir()
	mgr, err := workspace.NewManager(root, logger)
	require.NoError(t, err)
	sel, err := pipeline.NewSelector(pipeline.DefaultToolchain())
	require.NoError(t, err)

	runner := &fakeRunner{outcomes: outcomes}
	return &fixture{
		judge:  judge.New(mgr, sel, runner, judge.DefaultConfig(), logger),
		runner: runner,
		root:   root,
	}
}

// assertNoWorkspaces checks the cleanup invariant: nothing is left under the root.
func (f *fixture) assertNoWorkspaces(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.root)
	require.NoError(t, err)
	assert.Empty(t, entries, "workspace left behind")
}

func strptr(s string) *string { return &s }

func TestExecuteEmptyCode(t *testing.T) {
	for _, code := range []string{"", "   ", "\n\t"} {
		f := newFixture(t)

		res, err := f.judge.Execute(context.Background(), executor.ExecutionRequest{Language: "python", Code: code})

		require.Error(t, err)
		assert.True(t, errors.Is(err, apperror.ErrValidation))
		require.NotNil(t, res)
		assert.Equal(t, executor.MsgNoCode, res.ErrorMessage())
		assert.Empty(t, f.runner.commands, "no process may be launched")
		f.assertNoWorkspaces(t)
	}
}

func TestExecuteOversizedCode(t *testing.T) {
	f := newFixture(t)
	code := make([]byte, judge.DefaultConfig().MaxCodeBytes+1)
	for i := range code {
		code[i] = 'x'
	}

	res, err := f.judge.Execute(context.Background(), executor.ExecutionRequest{Language: "c", Code: string(code)})

	assert.True(t, errors.Is(err, apperror.ErrValidation))
	assert.True(t, res.Failed())
	assert.Empty(t, f.runner.commands)
}

func TestExecuteUnsupportedLanguage(t *testing.T) {
	f := newFixture(t)

	res, err := f.judge.Execute(context.Background(), executor.ExecutionRequest{Language: "ruby", Code: "puts 1"})

	require.NoError(t, err)
	assert.Equal(t, "Unsupported language: ruby", res.ErrorMessage())
	assert.Equal(t, "ruby", res.Language)
	assert.Empty(t, f.runner.commands)
	f.assertNoWorkspaces(t)
}

func TestExecutePythonSuccess(t *testing.T) {
	f := newFixture(t, process.Outcome{Stdout: "2"})

	res, err := f.judge.Execute(context.Background(), executor.ExecutionRequest{
		Language: "Python",
		Code:     "print(1+1)",
		Stdin:    strptr("ignored\n"),
	})

	require.NoError(t, err)
	assert.Equal(t, "2", res.Output)
	assert.Equal(t, "", res.Stderr)
	assert.Nil(t, res.Error)
	assert.Equal(t, "Python", res.Language)

	require.Len(t, f.runner.commands, 1)
	cmd := f.runner.commands[0]
	assert.Equal(t, []string{"python3", "main.py"}, cmd.Args)
	require.NotNil(t, cmd.Stdin)
	assert.Equal(t, "ignored\n", *cmd.Stdin)
	assert.Equal(t, judge.DefaultConfig().RunTimeout, cmd.Timeout)
	assert.Contains(t, f.runner.sources, "main.py")

	require.Len(t, res.Logs, 2)
	assert.Equal(t, "Workspace: "+cmd.Dir, res.Logs[0])
	assert.Equal(t, "python3 main.py", res.Logs[1])
	f.assertNoWorkspaces(t)
}

func TestExecuteReportsTruncatedOutput(t *testing.T) {
	f := newFixture(t, process.Outcome{Stdout: "yyyy", Truncated: true})

	res, err := f.judge.Execute(context.Background(), executor.ExecutionRequest{Language: "python", Code: "while True: print('y')"})

	require.NoError(t, err)
	assert.Nil(t, res.Error)
	assert.Equal(t, "yyyy", res.Output)
	require.Len(t, res.Logs, 3)
	assert.Equal(t, "python3 main.py", res.Logs[1])
	assert.Equal(t, "Output truncated: python3 main.py", res.Logs[2])
	f.assertNoWorkspaces(t)
}

func TestExecutePythonFallsBackOnMissingBinary(t *testing.T) {
	missing := process.Outcome{
		StartFailed:    true,
		StartErr:       &exec.Error{Name: "python3", Err: exec.ErrNotFound},
		FailureMessage: `Cannot run program "python3"`,
	}
	f := newFixture(t, missing, process.Outcome{Stdout: "2"})

	res, err := f.judge.Execute(context.Background(), executor.ExecutionRequest{Language: "python", Code: "print(1+1)"})

	require.NoError(t, err)
	assert.Nil(t, res.Error)
	assert.Equal(t, "2", res.Output)
	require.Len(t, f.runner.commands, 2)
	assert.Equal(t, []string{"python", "main.py"}, f.runner.commands[1].Args)
	assert.Contains(t, res.Logs, "python main.py")
}

func TestExecutePythonFallbackIsTriedOnce(t *testing.T) {
	missing := process.Outcome{
		StartFailed:    true,
		StartErr:       &exec.Error{Name: "python", Err: exec.ErrNotFound},
		FailureMessage: `Cannot run program "python"`,
	}
	f := newFixture(t, missing, missing)

	res, err := f.judge.Execute(context.Background(), executor.ExecutionRequest{Language: "python", Code: "print(1)"})

	require.NoError(t, err)
	assert.Len(t, f.runner.commands, 2)
	assert.Equal(t, `Cannot run program "python"`, res.ErrorMessage())
	f.assertNoWorkspaces(t)
}

func TestExecutePythonScriptErrorDoesNotFallBack(t *testing.T) {
	f := newFixture(t, process.Outcome{Stderr: "NameError: name 'x' is not defined", ExitCode: 1})

	res, err := f.judge.Execute(context.Background(), executor.ExecutionRequest{Language: "python", Code: "print(x)"})

	require.NoError(t, err)
	assert.Len(t, f.runner.commands, 1)
	assert.Contains(t, res.Stderr, "NameError")
	assert.Nil(t, res.Error)
}

func TestExecuteCompileFailureShortCircuits(t *testing.T) {
	f := newFixture(t, process.Outcome{Stderr: "main.cpp:1:1: error: expected unqualified-id", ExitCode: 1})

	res, err := f.judge.Execute(context.Background(), executor.ExecutionRequest{Language: "cpp", Code: "int main( {"})

	require.NoError(t, err)
	require.Len(t, f.runner.commands, 1, "run stage must not execute")
	assert.Equal(t, "g++", f.runner.commands[0].Args[0])
	assert.Nil(t, f.runner.commands[0].Stdin, "compile stages get no input")
	assert.Equal(t, judge.DefaultConfig().CompileTimeout, f.runner.commands[0].Timeout)
	assert.NotEmpty(t, res.Stderr)
	assert.Equal(t, executor.MsgCompileFail, res.ErrorMessage())
	f.assertNoWorkspaces(t)
}

func TestExecuteCompileWarningsOnStdoutContinue(t *testing.T) {
	f := newFixture(t,
		process.Outcome{Stdout: "Note: Main.java uses unchecked operations."},
		process.Outcome{Stdout: "hello"},
	)

	res, err := f.judge.Execute(context.Background(), executor.ExecutionRequest{Language: "java", Code: "class Main {}"})

	require.NoError(t, err)
	require.Len(t, f.runner.commands, 2)
	assert.Equal(t, []string{"java", "-cp", ".", "Main"}, f.runner.commands[1].Args)
	assert.Equal(t, "hello", res.Output)
	assert.Nil(t, res.Error)
	assert.Equal(t, []string{"Workspace: " + f.runner.commands[0].Dir, "javac Main.java", "java -cp . Main"}, res.Logs)
	assert.Contains(t, f.runner.sources, "Main.java")
}

func TestExecuteCompilerMissing(t *testing.T) {
	f := newFixture(t, process.Outcome{
		StartFailed:    true,
		StartErr:       &exec.Error{Name: "gcc", Err: exec.ErrNotFound},
		FailureMessage: `Cannot run program "gcc": exec: "gcc": executable file not found in $PATH`,
	})

	res, err := f.judge.Execute(context.Background(), executor.ExecutionRequest{Language: "c", Code: "int main(){}"})

	require.NoError(t, err)
	assert.Len(t, f.runner.commands, 1)
	assert.Contains(t, res.ErrorMessage(), "gcc")
	f.assertNoWorkspaces(t)
}

func TestExecuteRunTimeout(t *testing.T) {
	f := newFixture(t,
		process.Outcome{},
		process.Outcome{Stdout: "partial", TimedOut: true, FailureMessage: "Execution timed out"},
	)

	res, err := f.judge.Execute(context.Background(), executor.ExecutionRequest{Language: "c", Code: "int main(){for(;;);}"})

	require.NoError(t, err)
	assert.Equal(t, executor.MsgTimedOut, res.ErrorMessage())
	assert.Equal(t, "partial", res.Output)
	f.assertNoWorkspaces(t)
}

func TestExecuteCompileTimeout(t *testing.T) {
	f := newFixture(t, process.Outcome{TimedOut: true})

	res, err := f.judge.Execute(context.Background(), executor.ExecutionRequest{Language: "java", Code: "class Main {}"})

	require.NoError(t, err)
	assert.Len(t, f.runner.commands, 1)
	assert.Equal(t, executor.MsgTimedOut, res.ErrorMessage())
}

func TestExecuteInterrupted(t *testing.T) {
	f := newFixture(t, process.Outcome{Interrupted: true})

	res, err := f.judge.Execute(context.Background(), executor.ExecutionRequest{Language: "python", Code: "import time"})

	require.NoError(t, err)
	assert.Equal(t, executor.MsgInterrupted, res.ErrorMessage())
}

func TestExecuteWorkspaceFailure(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	root := t.TempDir()
	mgr, err := workspace.NewManager(root, logger)
	require.NoError(t, err)
	sel, err := pipeline.NewSelector(pipeline.DefaultToolchain())
	require.NoError(t, err)
	j := judge.New(mgr, sel, &fakeRunner{}, judge.DefaultConfig(), logger)

	// Root vanishes after construction.
	require.NoError(t, os.RemoveAll(root))
	require.NoError(t, os.WriteFile(root, []byte("not a dir"), 0o600))
	t.Cleanup(func() { os.Remove(root) })

	res, err := j.Execute(context.Background(), executor.ExecutionRequest{Language: "python", Code: "print(1)"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrInternal))
	assert.True(t, res.Failed())
}

func TestStateTerminal(t *testing.T) {
	assert.True(t, judge.StateCompileFailed.Terminal())
	assert.True(t, judge.StateCompleted.Terminal())
	assert.True(t, judge.StateTimedOut.Terminal())
	assert.True(t, judge.StateRunError.Terminal())
	assert.False(t, judge.StateCreated.Terminal())
	assert.False(t, judge.StateCompiling.Terminal())
	assert.False(t, judge.StateRunning.Terminal())
}

func TestExecuteLeavesNothingBehindUnderConcurrency(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.judge.Execute(context.Background(), executor.ExecutionRequest{Language: "cpp", Code: "int main(){}"})
		}()
	}
	wg.Wait()

	f.assertNoWorkspaces(t)

	dirs := make(map[string]bool)
	for _, c := range f.runner.commands {
		dirs[filepath.Clean(c.Dir)] = true
	}
	assert.Len(t, dirs, 16, "every request gets its own workspace")
}
