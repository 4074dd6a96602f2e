package execengine

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Errors surfaced by engines. The router maps them onto the
// execution_error event.
var (
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrTimeout             = errors.New("execution timed out")
)

// Request is one code run.
type Request struct {
	Language string
	Code     string
	Stdin    string
}

// StageResult is the outcome of one sandbox stage (compile or run).
type StageResult struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	Code   int    `json:"code"`
	Signal string `json:"signal,omitempty"`
	Output string `json:"output,omitempty"`
}

// Result is the normalized sandbox response broadcast to the session.
type Result struct {
	Success       bool         `json:"success"`
	Language      string       `json:"language"`
	Version       string       `json:"version"`
	Compile       *StageResult `json:"compile,omitempty"`
	Run           *StageResult `json:"run,omitempty"`
	Output        string       `json:"output"`
	Error         string       `json:"error,omitempty"`
	ExitCode      int          `json:"exitCode"`
	ExecutionTime time.Time    `json:"executionTime"`
}

// Runtime is one language/version pair offered by the sandbox.
type Runtime struct {
	Language string   `json:"language"`
	Version  string   `json:"version"`
	Aliases  []string `json:"aliases,omitempty"`
}

// Engine abstracts the code-execution backend.
type Engine interface {
	// Execute runs one request and returns the normalized result.
	// Unknown languages fail with ErrUnsupportedLanguage before any
	// network call; deadline hits fail with ErrTimeout.
	Execute(ctx context.Context, req Request) (*Result, error)

	// Runtimes lists the language/version pairs the sandbox offers.
	Runtimes(ctx context.Context) ([]Runtime, error)
}

// languageVersions is the closed set of supported languages and the
// sandbox versions they are pinned to.
var languageVersions = map[string]string{
	"javascript": "18.15.0",
	"typescript": "5.0.3",
	"python":     "3.10.0",
	"java":       "15.0.2",
	"csharp":     "6.12.0",
	"php":        "8.2.3",
	"ruby":       "3.0.1",
	"go":         "1.16.2",
	"rust":       "1.68.2",
	"cpp":        "10.2.0",
	"c":          "10.2.0",
	"kotlin":     "1.8.20",
	"swift":      "5.3.3",
}

// fileNames maps each language to the source file name the sandbox
// expects.
var fileNames = map[string]string{
	"javascript": "main.js",
	"typescript": "main.ts",
	"python":     "main.py",
	"java":       "Main.java",
	"csharp":     "Main.cs",
	"php":        "main.php",
	"ruby":       "main.rb",
	"go":         "main.go",
	"rust":       "main.rs",
	"cpp":        "main.cpp",
	"c":          "main.c",
	"kotlin":     "Main.kt",
	"swift":      "main.swift",
}

// Resolve normalizes a language name and returns its pinned version and
// source file name.
func Resolve(language string) (lang, version, fileName string, err error) {
	lang = strings.ToLower(strings.TrimSpace(language))
	version, ok := languageVersions[lang]
	if !ok {
		return "", "", "", ErrUnsupportedLanguage
	}
	fileName, ok = fileNames[lang]
	if !ok {
		fileName = "main.txt"
	}
	return lang, version, fileName, nil
}

// Supported reports whether language is in the closed set.
func Supported(language string) bool {
	_, ok := languageVersions[strings.ToLower(strings.TrimSpace(language))]
	return ok
}

// Languages returns the closed language set.
func Languages() []string {
	out := make([]string, 0, len(languageVersions))
	for l := range languageVersions {
		out = append(out, l)
	}
	return out
}
