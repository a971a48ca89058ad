// Package config loads the judge server configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sakif/code-judge/internal/executor"
	"github.com/sakif/code-judge/internal/executor/judge"
	"github.com/sakif/code-judge/internal/executor/pipeline"
	"github.com/sakif/code-judge/internal/executor/process"
)

type Config struct {
	Port     int
	LogLevel slog.Level

	WorkspaceRoot string // parent of per-request workspaces; empty means os.TempDir()
	Judge         judge.Config
	DrainWait     time.Duration
	Toolchain     pipeline.Toolchain

	JWTSecret      string // empty disables authentication
	AllowedOrigins []string
}

// Load reads the environment. Unset variables fall back to defaults; set but
// malformed ones are errors.
func Load() (*Config, error) {
	defaults := judge.DefaultConfig()
	cfg := &Config{
		WorkspaceRoot:  os.Getenv("JUDGE_WORKSPACE_ROOT"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		AllowedOrigins: splitList(envOr("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")),
	}

	var err error
	if cfg.Port, err = intEnv("PORT", 8080); err != nil {
		return nil, err
	}
	if err = cfg.LogLevel.UnmarshalText([]byte(envOr("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("config: LOG_LEVEL: %w", err)
	}
	if cfg.Judge.CompileTimeout, err = durationEnv("JUDGE_COMPILE_TIMEOUT", defaults.CompileTimeout); err != nil {
		return nil, err
	}
	if cfg.Judge.RunTimeout, err = durationEnv("JUDGE_RUN_TIMEOUT", defaults.RunTimeout); err != nil {
		return nil, err
	}
	if cfg.DrainWait, err = durationEnv("JUDGE_DRAIN_WAIT", process.DefaultDrainWait); err != nil {
		return nil, err
	}
	if cfg.Judge.MaxCodeBytes, err = intEnv("JUDGE_MAX_CODE_BYTES", defaults.MaxCodeBytes); err != nil {
		return nil, err
	}

	cfg.Toolchain = pipeline.DefaultToolchain()
	if path := os.Getenv("JUDGE_TOOLCHAIN_FILE"); path != "" {
		overrides, err := LoadToolchain(path)
		if err != nil {
			return nil, err
		}
		cfg.Toolchain = cfg.Toolchain.Merge(overrides)
	}

	return cfg, nil
}

// LoadToolchain reads per-language command overrides from a YAML file:
//
//	cpp:
//	  compile: clang++ -O2 -std=c++20 {src} -o {bin}
//	python:
//	  run: pypy3 {src}
func LoadToolchain(path string) (pipeline.Toolchain, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading toolchain file: %w", err)
	}

	var raw map[string]pipeline.Template
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parsing toolchain file %s: %w", path, err)
	}

	tc := make(pipeline.Toolchain, len(raw))
	for key, tpl := range raw {
		lang, ok := executor.ParseLanguage(key)
		if !ok {
			return nil, fmt.Errorf("config: toolchain file %s: unsupported language %q", path, key)
		}
		tc[lang] = tpl
	}
	return tc, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("config: invalid %s value %q", key, v)
	}
	return n, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("config: invalid %s value %q", key, v)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
