package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/lakshmih20/S3-CodeCollab-2025/internal/auth"
	"github.com/lakshmih20/S3-CodeCollab-2025/internal/config"
	"github.com/lakshmih20/S3-CodeCollab-2025/internal/core"
	"github.com/lakshmih20/S3-CodeCollab-2025/internal/execengine"
	"github.com/lakshmih20/S3-CodeCollab-2025/internal/metrics"
	"github.com/lakshmih20/S3-CodeCollab-2025/internal/proto"
	"github.com/lakshmih20/S3-CodeCollab-2025/internal/session"
	"github.com/lakshmih20/S3-CodeCollab-2025/internal/store/sqlite"
)

// stubEngine satisfies the execution engine without a sandbox.
type stubEngine struct {
	runtimes []execengine.Runtime
	result   execengine.Result
	err      error
}

var _ execengine.Engine = (*stubEngine)(nil)

func (e *stubEngine) Execute(ctx context.Context, req execengine.Request) (*execengine.Result, error) {
	if e.err != nil {
		return nil, e.err
	}
	res := e.result
	return &res, nil
}

func (e *stubEngine) Runtimes(ctx context.Context) ([]execengine.Runtime, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.runtimes, nil
}

type testServer struct {
	ts       *httptest.Server
	cfg      config.Config
	accounts *auth.Service
	registry *session.Registry
	engine   *stubEngine
}

// startTestServer wires the full HTTP layer against an in-memory store.
func startTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()

	cfg := config.Default()
	cfg.JWTSecret = "test-secret"
	cfg.DatabasePath = ":memory:"
	if mutate != nil {
		mutate(&cfg)
	}

	disabledLogger := zerolog.New(nil)

	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	accounts := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      24 * time.Hour,
	})
	verifier := auth.NewVerifier(auth.VerifierConfig{
		Secret:         cfg.JWTSecret,
		Issuer:         cfg.JWTIssuer,
		Audience:       cfg.JWTAudience,
		AllowDevTokens: cfg.AllowDevTokens,
	})

	registry := session.NewRegistry(session.RegistryConfig{
		MaxUsers:    cfg.MaxUsersPerSession,
		AllowGuests: cfg.AllowGuestsDefault,
		EmptyTTL:    cfg.EmptySessionTTL,
	}, &disabledLogger)
	hub := core.NewHub(&disabledLogger)
	engine := &stubEngine{}
	limiter := core.NewIPRateLimiter(cfg.RateLimitMaxConns, cfg.RateLimitWindow)

	var router *core.Router
	ticker := metrics.NewTicker(time.Second, registry, func(id string, snap metrics.Snapshot) {
		router.BroadcastMetrics(id, snap)
	}, &disabledLogger)
	router = core.NewRouter(hub, registry, engine, ticker, &disabledLogger)

	server := NewServer(Deps{
		Hub:      hub,
		Router:   router,
		Registry: registry,
		Verifier: verifier,
		Accounts: accounts,
		Engine:   engine,
		Limiter:  limiter,
	}, &cfg, &disabledLogger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testServer{ts: ts, cfg: cfg, accounts: accounts, registry: registry, engine: engine}
}

// registerUser creates an account and returns its token.
func (f *testServer) registerUser(t *testing.T, username string) string {
	t.Helper()

	token, err := f.accounts.Register(context.Background(), username, username+"@example.com", "password123")
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return token
}

// guestToken mints a guest credential through the REST endpoint.
func (f *testServer) guestToken(t *testing.T) string {
	t.Helper()

	resp, err := f.ts.Client().Post(f.ts.URL+"/api/guest", "application/json", nil)
	if err != nil {
		t.Fatalf("guest login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != stdhttp.StatusOK {
		t.Fatalf("guest login status = %d", resp.StatusCode)
	}

	var body AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode guest response: %v", err)
	}
	return body.Token
}

// doJSON performs an authenticated JSON request and decodes the response
// into out when non-nil.
func (f *testServer) doJSON(t *testing.T, method, path, token string, body, out any) int {
	t.Helper()

	var reqBody *bytes.Buffer
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(b)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := stdhttp.NewRequest(method, f.ts.URL+path, reqBody)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := f.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

// createSession provisions a session over REST and returns its snapshot.
func (f *testServer) createSession(t *testing.T, token string, body any) session.Info {
	t.Helper()

	var info session.Info
	status := f.doJSON(t, stdhttp.MethodPost, "/api/sessions/create", token, body, &info)
	if status != stdhttp.StatusCreated {
		t.Fatalf("create session status = %d", status)
	}
	if info.InviteKey == "" {
		t.Fatalf("create session returned no invite key")
	}
	return info
}

// dialWS opens a realtime connection authenticated by token.
func (f *testServer) dialWS(t *testing.T, ctx context.Context, token string, query url.Values) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws"
	q := url.Values{}
	if token != "" {
		q.Set("token", token)
	}
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	if len(q) > 0 {
		wsURL += "?" + q.Encode()
	}

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	return conn
}

type wsEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// readEvent reads until an event of the wanted type arrives, discarding
// others. The context deadline bounds the wait.
func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn, eventType string) json.RawMessage {
	t.Helper()

	for {
		var env wsEnvelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			t.Fatalf("read waiting for %q: %v", eventType, err)
		}
		if env.Type == eventType {
			return env.Data
		}
	}
}

func sendEvent(t *testing.T, ctx context.Context, conn *websocket.Conn, eventType string, payload any) {
	t.Helper()

	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal %s payload: %v", eventType, err)
		}
		raw = b
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: eventType, Data: raw}); err != nil {
		t.Fatalf("send %s: %v", eventType, err)
	}
}

func decodeInto(t *testing.T, raw json.RawMessage, v any) {
	t.Helper()

	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("decode event payload: %v", err)
	}
}
