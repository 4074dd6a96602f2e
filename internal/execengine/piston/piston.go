package piston

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lakshmih20/S3-CodeCollab-2025/internal/execengine"
)

// Sandbox-side stage timeouts, in milliseconds. Memory is unbounded.
const (
	compileTimeoutMS = 10000
	runTimeoutMS     = 3000
	memoryUnbounded  = -1

	defaultTimeout = 15 * time.Second
)

// Client talks to a Piston-compatible execution sandbox.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zerolog.Logger
}

// New creates a sandbox client. timeout bounds the whole HTTP exchange;
// zero means the 15s default.
func New(baseURL string, timeout time.Duration, logger *zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     logger,
	}
}

type executeRequest struct {
	Language           string        `json:"language"`
	Version            string        `json:"version"`
	Files              []requestFile `json:"files"`
	Stdin              string        `json:"stdin"`
	CompileTimeout     int           `json:"compile_timeout"`
	RunTimeout         int           `json:"run_timeout"`
	CompileMemoryLimit int64         `json:"compile_memory_limit"`
	RunMemoryLimit     int64         `json:"run_memory_limit"`
}

type requestFile struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type executeResponse struct {
	Language string                  `json:"language"`
	Version  string                  `json:"version"`
	Compile  *execengine.StageResult `json:"compile"`
	Run      *execengine.StageResult `json:"run"`
	Message  string                  `json:"message"`
}

// Execute runs one request against POST {base}/execute.
func (c *Client) Execute(ctx context.Context, req execengine.Request) (*execengine.Result, error) {
	lang, version, fileName, err := execengine.Resolve(req.Language)
	if err != nil {
		return nil, err
	}

	body := executeRequest{
		Language:           lang,
		Version:            version,
		Files:              []requestFile{{Name: fileName, Content: req.Code}},
		Stdin:              req.Stdin,
		CompileTimeout:     compileTimeoutMS,
		RunTimeout:         runTimeoutMS,
		CompileMemoryLimit: memoryUnbounded,
		RunMemoryLimit:     memoryUnbounded,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal execute request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build execute request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w after %s", execengine.ErrTimeout, time.Since(start).Round(time.Millisecond))
		}
		return nil, fmt.Errorf("call sandbox: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read sandbox response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sandbox returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out executeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode sandbox response: %w", err)
	}

	result := normalize(&out, lang, version)
	c.log.Debug().
		Str("language", lang).
		Int("exit_code", result.ExitCode).
		Dur("took", time.Since(start)).
		Msg("sandbox execution finished")
	return result, nil
}

// normalize folds the raw sandbox response into the broadcast shape:
// output from the run stage, error from run stderr falling back to
// compile stderr, exit code from run falling back to compile.
func normalize(resp *executeResponse, lang, version string) *execengine.Result {
	r := &execengine.Result{
		Language:      lang,
		Version:       version,
		Compile:       resp.Compile,
		Run:           resp.Run,
		ExecutionTime: time.Now(),
	}
	if resp.Language != "" {
		r.Language = resp.Language
	}
	if resp.Version != "" {
		r.Version = resp.Version
	}

	switch {
	case resp.Run != nil:
		r.Output = resp.Run.Stdout
		r.ExitCode = resp.Run.Code
		r.Error = resp.Run.Stderr
		if r.Error == "" && resp.Compile != nil {
			r.Error = resp.Compile.Stderr
		}
	case resp.Compile != nil:
		r.ExitCode = resp.Compile.Code
		r.Error = resp.Compile.Stderr
	}
	if r.Error == "" && resp.Message != "" {
		r.Error = resp.Message
	}
	r.Success = r.ExitCode == 0 && resp.Run != nil
	return r
}

// Runtimes lists language/version pairs from GET {base}/runtimes.
func (c *Client) Runtimes(ctx context.Context) ([]execengine.Runtime, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/runtimes", nil)
	if err != nil {
		return nil, fmt.Errorf("build runtimes request: %w", err)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return nil, execengine.ErrTimeout
		}
		return nil, fmt.Errorf("call sandbox: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sandbox returned status %d", resp.StatusCode)
	}

	var runtimes []execengine.Runtime
	if err := json.NewDecoder(resp.Body).Decode(&runtimes); err != nil {
		return nil, fmt.Errorf("decode runtimes: %w", err)
	}
	return runtimes, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

var _ execengine.Engine = (*Client)(nil)
