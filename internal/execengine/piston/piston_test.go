package piston

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lakshmih20/S3-CodeCollab-2025/internal/execengine"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	disabledLogger := zerolog.New(nil)
	return New(srv.URL, timeout, &disabledLogger)
}

func TestExecute(t *testing.T) {
	var gotBody map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/execute" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"language": "python",
			"version":  "3.10.0",
			"run": map[string]any{
				"stdout": "4\n",
				"stderr": "",
				"code":   0,
			},
		})
	}, 0)

	res, err := c.Execute(context.Background(), execengine.Request{
		Language: "python",
		Code:     "print(2+2)",
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if gotBody["language"] != "python" || gotBody["version"] != "3.10.0" {
		t.Errorf("request carried %v/%v", gotBody["language"], gotBody["version"])
	}
	files := gotBody["files"].([]any)
	if name := files[0].(map[string]any)["name"]; name != "main.py" {
		t.Errorf("file name = %v, want main.py", name)
	}
	if ct := gotBody["compile_timeout"]; ct != float64(10000) {
		t.Errorf("compile_timeout = %v, want 10000", ct)
	}
	if rt := gotBody["run_timeout"]; rt != float64(3000) {
		t.Errorf("run_timeout = %v, want 3000", rt)
	}
	if ml := gotBody["run_memory_limit"]; ml != float64(-1) {
		t.Errorf("run_memory_limit = %v, want -1", ml)
	}

	if !res.Success {
		t.Error("expected success")
	}
	if res.Output != "4\n" {
		t.Errorf("output = %q, want %q", res.Output, "4\n")
	}
	if res.ExitCode != 0 {
		t.Errorf("exitCode = %d", res.ExitCode)
	}
	if res.ExecutionTime.IsZero() {
		t.Error("executionTime not set")
	}
}

func TestExecuteUnsupportedLanguage(t *testing.T) {
	called := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	}, 0)

	_, err := c.Execute(context.Background(), execengine.Request{Language: "brainfuck"})
	if !errors.Is(err, execengine.ErrUnsupportedLanguage) {
		t.Fatalf("expected ErrUnsupportedLanguage, got %v", err)
	}
	if called {
		t.Error("sandbox was called for an unsupported language")
	}
}

func TestExecuteCompileErrorFallback(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"language": "java",
			"version":  "15.0.2",
			"compile": map[string]any{
				"stdout": "",
				"stderr": "error: ';' expected",
				"code":   1,
			},
			"run": map[string]any{
				"stdout": "",
				"stderr": "",
				"code":   1,
			},
		})
	}, 0)

	res, err := c.Execute(context.Background(), execengine.Request{Language: "java", Code: "class Main {"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.Success {
		t.Error("expected failure")
	}
	if res.Error != "error: ';' expected" {
		t.Errorf("error = %q, want compile stderr", res.Error)
	}
	if res.ExitCode != 1 {
		t.Errorf("exitCode = %d, want 1", res.ExitCode)
	}
}

func TestExecuteTimeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}, 30*time.Millisecond)

	start := time.Now()
	_, err := c.Execute(context.Background(), execengine.Request{Language: "python", Code: "while True: pass"})
	if !errors.Is(err, execengine.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("timeout took too long to fire")
	}
}

func TestExecuteSandboxError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown runtime", http.StatusBadRequest)
	}, 0)

	_, err := c.Execute(context.Background(), execengine.Request{Language: "python", Code: "x"})
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if errors.Is(err, execengine.ErrTimeout) || errors.Is(err, execengine.ErrUnsupportedLanguage) {
		t.Errorf("status error misclassified: %v", err)
	}
}

func TestRuntimes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/runtimes" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]map[string]any{
			{"language": "python", "version": "3.10.0", "aliases": []string{"py"}},
			{"language": "go", "version": "1.16.2"},
		})
	}, 0)

	runtimes, err := c.Runtimes(context.Background())
	if err != nil {
		t.Fatalf("Runtimes failed: %v", err)
	}
	if len(runtimes) != 2 {
		t.Fatalf("expected 2 runtimes, got %d", len(runtimes))
	}
	if runtimes[0].Language != "python" || runtimes[0].Version != "3.10.0" {
		t.Errorf("unexpected runtime %+v", runtimes[0])
	}
}
