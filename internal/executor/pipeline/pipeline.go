// Package pipeline maps a language to the ordered stages that compile and
// run a submission.
//
// Stage commands are written as templates (e.g. "g++ -O2 {src} -o {bin}")
// and tokenized with shlex before placeholders are substituted, so workspace
// paths containing spaces stay a single argument.
//
// Placeholders:
//
//	{src}  source filename, relative to the workspace
//	{bin}  absolute path of the compiled executable
//	{dir}  absolute workspace path
package pipeline

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/shlex"

	"github.com/sakif/code-judge/internal/apperror"
	"github.com/sakif/code-judge/internal/executor"
)

// StageKind tells compile stages from the run stage.
type StageKind string

const (
	StageCompile StageKind = "compile"
	StageRun     StageKind = "run"
)

// Stage is one external-process invocation within a pipeline.
type Stage struct {
	Kind StageKind
	Args []string
	// Fallback is tried once, only when Args[0] could not be started.
	Fallback []string
	// StopOnStderr ends the pipeline when the stage writes anything to stderr.
	StopOnStderr bool
}

// Pipeline is the resolved plan for one request.
type Pipeline struct {
	Language   executor.Language
	SourceFile string
	Stages     []Stage
}

// HasCompileStage reports whether the first stage is a compile step.
func (p *Pipeline) HasCompileStage() bool {
	return len(p.Stages) > 0 && p.Stages[0].Kind == StageCompile
}

// Template describes how one language is built and run.
type Template struct {
	SourceFile  string `yaml:"source"`
	Compile     string `yaml:"compile,omitempty"`
	Run         string `yaml:"run"`
	RunFallback string `yaml:"runFallback,omitempty"`
}

// Toolchain holds a Template per supported language.
type Toolchain map[executor.Language]Template

// DefaultToolchain assumes the usual binaries are on PATH.
func DefaultToolchain() Toolchain {
	return Toolchain{
		executor.LanguageJava: {
			SourceFile: "Main.java",
			Compile:    "javac Main.java",
			Run:        "java -cp . Main",
		},
		executor.LanguagePython: {
			SourceFile:  "main.py",
			Run:         "python3 {src}",
			RunFallback: "python {src}",
		},
		executor.LanguageC: {
			SourceFile: "main.c",
			Compile:    "gcc -O2 {src} -o {bin}",
			Run:        "{bin}",
		},
		executor.LanguageCPP: {
			SourceFile: "main.cpp",
			Compile:    "g++ -O2 -std=c++17 {src} -o {bin}",
			Run:        "{bin}",
		},
	}
}

// Merge returns a copy of t with every non-empty field of overrides applied.
func (t Toolchain) Merge(overrides Toolchain) Toolchain {
	out := make(Toolchain, len(t))
	for lang, tpl := range t {
		out[lang] = tpl
	}
	for lang, o := range overrides {
		tpl := out[lang]
		if o.SourceFile != "" {
			tpl.SourceFile = o.SourceFile
		}
		if o.Compile != "" {
			tpl.Compile = o.Compile
		}
		if o.Run != "" {
			tpl.Run = o.Run
		}
		if o.RunFallback != "" {
			tpl.RunFallback = o.RunFallback
		}
		out[lang] = tpl
	}
	return out
}

type compiled struct {
	source   string
	compile  []string
	run      []string
	fallback []string
}

// Selector resolves languages to pipelines. It is immutable after
// construction and safe for concurrent use.
type Selector struct {
	langs map[executor.Language]compiled
}

// NewSelector tokenizes and validates every template up front so a bad
// toolchain is rejected at startup rather than per request.
func NewSelector(tc Toolchain) (*Selector, error) {
	s := &Selector{langs: make(map[executor.Language]compiled, len(tc))}
	for _, lang := range executor.Languages() {
		tpl, ok := tc[lang]
		if !ok {
			return nil, fmt.Errorf("pipeline: no toolchain for %s", lang)
		}
		c, err := compileTemplate(tpl)
		if err != nil {
			return nil, fmt.Errorf("pipeline: %s: %w", lang, err)
		}
		s.langs[lang] = c
	}
	return s, nil
}

func compileTemplate(tpl Template) (compiled, error) {
	var c compiled
	if tpl.SourceFile == "" {
		return c, fmt.Errorf("source filename is required")
	}
	if strings.ContainsAny(tpl.SourceFile, `/\`) {
		return c, fmt.Errorf("source filename %q must not contain a path", tpl.SourceFile)
	}
	c.source = tpl.SourceFile

	var err error
	if tpl.Compile != "" {
		if c.compile, err = split("compile", tpl.Compile); err != nil {
			return c, err
		}
	}
	if tpl.Run == "" {
		return c, fmt.Errorf("run command is required")
	}
	if c.run, err = split("run", tpl.Run); err != nil {
		return c, err
	}
	if tpl.RunFallback != "" {
		if c.fallback, err = split("runFallback", tpl.RunFallback); err != nil {
			return c, err
		}
	}
	return c, nil
}

func split(field, cmd string) ([]string, error) {
	args, err := shlex.Split(cmd)
	if err != nil {
		return nil, fmt.Errorf("parsing %s command %q: %w", field, cmd, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%s command is empty", field)
	}
	return args, nil
}

// Select returns the pipeline for lang with placeholders resolved against
// the workspace dir. Anything outside the supported set is an
// UnsupportedLanguage error.
func (s *Selector) Select(lang executor.Language, dir string) (*Pipeline, error) {
	c, ok := s.langs[lang]
	if !ok {
		return nil, apperror.UnsupportedLanguage(string(lang))
	}

	vars := strings.NewReplacer(
		"{src}", c.source,
		"{bin}", filepath.Join(dir, "main"+exeSuffix()),
		"{dir}", dir,
	)

	p := &Pipeline{Language: lang, SourceFile: c.source}
	if c.compile != nil {
		p.Stages = append(p.Stages, Stage{
			Kind:         StageCompile,
			Args:         expand(vars, c.compile),
			StopOnStderr: true,
		})
	}
	p.Stages = append(p.Stages, Stage{
		Kind:     StageRun,
		Args:     expand(vars, c.run),
		Fallback: expand(vars, c.fallback),
	})
	return p, nil
}

func expand(vars *strings.Replacer, args []string) []string {
	if args == nil {
		return nil
	}
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = vars.Replace(a)
	}
	return out
}

func exeSuffix() string {
	if runtime.GOOS == "windows" {
		return ".exe"
	}
	return ""
}
