package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	stdhttp "net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/lakshmih20/S3-CodeCollab-2025/internal/auth"
	"github.com/lakshmih20/S3-CodeCollab-2025/internal/config"
	"github.com/lakshmih20/S3-CodeCollab-2025/internal/core"
	"github.com/lakshmih20/S3-CodeCollab-2025/internal/proto"
)

// WSHandler upgrades HTTP connections and bridges them to core.Conn.
// Admission order: rate limit by address, then resolve the principal,
// then register with the hub.
type WSHandler struct {
	hub      *core.Hub
	router   *core.Router
	verifier *auth.Verifier
	limiter  *core.IPRateLimiter
	cfg      *config.Config
	log      *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(deps Deps, cfg *config.Config, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{
		hub:      deps.Hub,
		router:   deps.Router,
		verifier: deps.Verifier,
		limiter:  deps.Limiter,
		cfg:      cfg,
		log:      logger,
	}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ip := clientIP(r)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	if h.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageBytes)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if !h.limiter.Allow(ip) {
		h.log.Warn().Str("ip", ip).Msg("connection rate limit exceeded")
		_ = wsjson.Write(ctx, conn, proto.Outbound{
			Type: proto.OutConnectionError,
			Data: proto.Error{Code: proto.ErrCodeRateLimited, Message: "too many connections from this address"},
		})
		conn.Close(websocket.StatusPolicyViolation, "rate limited")
		return
	}

	principal, authenticated := h.authenticate(ctx, r)
	if !authenticated && h.cfg.RequireAuth {
		_ = wsjson.Write(ctx, conn, proto.Outbound{
			Type: proto.OutConnectionError,
			Data: proto.Error{Code: proto.ErrCodeInvalidToken, Message: "authentication required"},
		})
		conn.Close(websocket.StatusPolicyViolation, "authentication required")
		return
	}

	client := core.NewConn(principal, ip, authenticated)
	h.hub.Register(client)
	defer h.hub.Unregister(client)
	defer h.limiter.Cleanup(ip)
	defer h.router.HandleDisconnect(client)

	h.log.Info().
		Str("conn_id", client.ID).
		Str("user_id", principal.UserID).
		Str("ip", ip).
		Bool("authenticated", authenticated).
		Msg("ws connection established")

	// Clients may name a session in the handshake URL instead of sending
	// join_session themselves.
	q := r.URL.Query()
	if key, sid := q.Get("inviteKey"), q.Get("sessionId"); key != "" || sid != "" {
		payload, _ := json.Marshal(proto.JoinSessionData{InviteKey: key, SessionID: sid})
		h.router.Dispatch(ctx, client, proto.Inbound{Type: proto.InJoinSession, Data: payload})
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("conn_id", client.ID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

// authenticate resolves the handshake credential from the token query
// parameter or the Authorization header. Absent or rejected credentials
// produce a guest principal; the caller decides whether guests may stay.
func (h *WSHandler) authenticate(ctx context.Context, r *stdhttp.Request) (auth.Principal, bool) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if header := r.Header.Get("Authorization"); header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) == 2 && parts[0] == "Bearer" {
				token = parts[1]
			}
		}
	}

	if token != "" {
		p, err := h.verifier.Verify(ctx, token)
		if err == nil {
			return p, true
		}
		h.log.Debug().Err(err).Msg("ws token rejected, falling back to guest")
	}
	return auth.NewGuestPrincipal(), false
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Conn) error {
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return err
		}
		h.router.Dispatch(ctx, client, inbound)
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Conn) error {
	for {
		select {
		case event, ok := <-client.Events:
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, conn, event); err != nil {
				h.log.Error().Err(err).Str("conn_id", client.ID).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// clientIP extracts the originating address, honoring the first
// X-Forwarded-For hop when a proxy sits in front.
func clientIP(r *stdhttp.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
