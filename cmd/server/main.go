// Command server runs the code-judge HTTP API.
//
// main only reads configuration, builds the judge from its parts and starts
// the server; all behaviour lives under internal/.
package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/sakif/code-judge/internal/config"
	"github.com/sakif/code-judge/internal/executor/judge"
	"github.com/sakif/code-judge/internal/executor/pipeline"
	"github.com/sakif/code-judge/internal/executor/process"
	"github.com/sakif/code-judge/internal/executor/workspace"
	"github.com/sakif/code-judge/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	// === JUDGE ===
	workspaces, err := workspace.NewManager(cfg.WorkspaceRoot, logger)
	if err != nil {
		logger.Error("failed to prepare workspace root", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// A broken toolchain file is rejected here rather than on the first request.
	selector, err := pipeline.NewSelector(cfg.Toolchain)
	if err != nil {
		logger.Error("invalid toolchain", slog.String("error", err.Error()))
		os.Exit(1)
	}

	runner := process.NewLocalRunner(process.Options{DrainWait: cfg.DrainWait}, logger)
	j := judge.New(workspaces, selector, runner, cfg.Judge, logger)

	logger.Info("judge ready",
		slog.String("workspace_root", workspaces.Root()),
		slog.Duration("compile_timeout", cfg.Judge.CompileTimeout),
		slog.Duration("run_timeout", cfg.Judge.RunTimeout),
	)

	// === SERVER ===
	srv, err := server.New(server.Config{
		Port:           cfg.Port,
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.AllowedOrigins,
		WriteTimeout:   cfg.Judge.CompileTimeout + cfg.Judge.RunTimeout + 10*time.Second,
	}, logger, j)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until SIGINT/SIGTERM.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
