package core

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/lakshmih20/S3-CodeCollab-2025/internal/proto"
)

// Hub indexes live connections and their session bindings and performs
// room fan-out. It holds no session state; the registry owns that.
type Hub struct {
	mu        sync.Mutex
	conns     map[string]*Conn
	bySession map[string]map[string]*Conn

	log *zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zerolog.Logger) *Hub {
	return &Hub{
		conns:     make(map[string]*Conn),
		bySession: make(map[string]map[string]*Conn),
		log:       logger,
	}
}

// Register adds a connection to the hub.
func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	h.conns[c.ID] = c
	total := len(h.conns)
	h.mu.Unlock()
	h.log.Debug().Str("conn_id", c.ID).Str("user_id", c.Principal.UserID).Int("total", total).Msg("connection registered")
}

// Unregister removes a connection and any session index entry.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	delete(h.conns, c.ID)
	for sessionID, conns := range h.bySession {
		if _, ok := conns[c.ID]; ok {
			delete(conns, c.ID)
			if len(conns) == 0 {
				delete(h.bySession, sessionID)
			}
		}
	}
	total := len(h.conns)
	h.mu.Unlock()
	h.log.Debug().Str("conn_id", c.ID).Int("total", total).Msg("connection unregistered")
}

// ConnCount returns the number of live connections.
func (h *Hub) ConnCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// BindSession indexes a connection under its bound session.
func (h *Hub) BindSession(c *Conn, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.bySession[sessionID]
	if !ok {
		conns = make(map[string]*Conn)
		h.bySession[sessionID] = conns
	}
	conns[c.ID] = c
}

// UnbindSession removes a connection's session index entry.
func (h *Hub) UnbindSession(c *Conn, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.bySession[sessionID]; ok {
		delete(conns, c.ID)
		if len(conns) == 0 {
			delete(h.bySession, sessionID)
		}
	}
}

// DropSession removes a whole session's index and returns the
// connections that were bound, for terminal notification.
func (h *Hub) DropSession(sessionID string) []*Conn {
	h.mu.Lock()
	conns := h.bySession[sessionID]
	delete(h.bySession, sessionID)
	out := make([]*Conn, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	h.mu.Unlock()

	for _, c := range out {
		c.FinishLeaveAny()
	}
	return out
}

// Send enqueues an event for one connection, logging a drop when the
// consumer cannot keep up.
func (h *Hub) Send(c *Conn, msg proto.Outbound) {
	if !c.trySend(msg) {
		h.log.Warn().Str("conn_id", c.ID).Str("event", msg.Type).Msg("send buffer full, event dropped")
	}
}

// BroadcastToSession fans an event out to every connection bound to the
// session. The index snapshot is taken under the hub lock; enqueueing
// happens after release.
func (h *Hub) BroadcastToSession(sessionID string, msg proto.Outbound) {
	h.broadcast(sessionID, "", msg)
}

// BroadcastToPeers fans an event out to the session excluding one
// connection (the sender's own socket; their other tabs still receive).
func (h *Hub) BroadcastToPeers(sessionID, exceptConnID string, msg proto.Outbound) {
	h.broadcast(sessionID, exceptConnID, msg)
}

func (h *Hub) broadcast(sessionID, exceptConnID string, msg proto.Outbound) {
	h.mu.Lock()
	targets := make([]*Conn, 0, len(h.bySession[sessionID]))
	for _, c := range h.bySession[sessionID] {
		if c.ID == exceptConnID {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		h.Send(c, msg)
	}
}

// SessionConns returns how many connections are bound to a session.
func (h *Hub) SessionConns(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.bySession[sessionID])
}
