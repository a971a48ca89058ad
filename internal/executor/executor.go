// Package executor defines the request/result types shared by the judge and
// its HTTP surface, plus the Executor interface every judge implements.
package executor

import (
	"context"
	"sort"
	"strings"
)

// Language is one of the closed set of languages the judge can run.
type Language string

const (
	LanguageJava   Language = "java"
	LanguagePython Language = "python"
	LanguageC      Language = "c"
	LanguageCPP    Language = "cpp"
)

// Messages placed in ExecutionResult.Error. Callers compare against these,
// so they are part of the wire contract.
const (
	MsgNoCode      = "No code provided"
	MsgTimedOut    = "Execution timed out"
	MsgCompileFail = "Compilation failed"
	MsgInterrupted = "Execution interrupted"
)

var languages = map[Language]struct{}{
	LanguageJava:   {},
	LanguagePython: {},
	LanguageC:      {},
	LanguageCPP:    {},
}

// ParseLanguage matches raw case-insensitively against the supported set.
func ParseLanguage(raw string) (Language, bool) {
	lang := Language(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := languages[lang]
	return lang, ok
}

// Languages returns the supported identifiers in sorted order.
func Languages() []Language {
	out := make([]Language, 0, len(languages))
	for lang := range languages {
		out = append(out, lang)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ExecutionRequest represents a request to compile and run a program.
type ExecutionRequest struct {
	Language string  `json:"language"`
	Code     string  `json:"code"`
	Stdin    *string `json:"input,omitempty"`
}

// ExecutionResult is the only artifact the judge hands back to callers.
// Error is nil when every stage completed cleanly. Logs is a diagnostic
// trail (workspace path, commands run) with no semantic meaning.
type ExecutionResult struct {
	Language string   `json:"language"`
	Output   string   `json:"output"`
	Stderr   string   `json:"stderr"`
	Error    *string  `json:"error"`
	Logs     []string `json:"logs"`
}

// Failed reports whether the result carries an error message.
func (r *ExecutionResult) Failed() bool {
	return r.Error != nil
}

// ErrorMessage returns the error string or "" when the run was clean.
func (r *ExecutionResult) ErrorMessage() string {
	if r.Error == nil {
		return ""
	}
	return *r.Error
}

// Executor compiles and runs untrusted code.
type Executor interface {
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)
}
