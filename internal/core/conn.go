package core

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/lakshmih20/S3-CodeCollab-2025/internal/auth"
	"github.com/lakshmih20/S3-CodeCollab-2025/internal/proto"
)

// Connection binding states. A connection is bound to at most one
// session at a time.
type ConnState int

const (
	StateUnbound ConnState = iota
	StateJoining
	StateBound
	StateLeaving
)

// State machine errors.
var (
	ErrAlreadyBound   = errors.New("connection already bound to a session")
	ErrJoinInProgress = errors.New("join already in progress")
	ErrNotBound       = errors.New("connection not bound to a session")
)

const sendBuffer = 256

// Conn is one realtime connection as seen by the core layer. The write
// loop drains Events; enqueueing never blocks a handler.
type Conn struct {
	ID            string
	Principal     auth.Principal
	RemoteIP      string
	Authenticated bool

	Events chan proto.Outbound

	mu         sync.Mutex
	state      ConnState
	sessionID  string
	monitoring bool
}

// NewConn constructs an unbound connection.
func NewConn(principal auth.Principal, remoteIP string, authenticated bool) *Conn {
	return &Conn{
		ID:            uuid.NewString(),
		Principal:     principal,
		RemoteIP:      remoteIP,
		Authenticated: authenticated,
		Events:        make(chan proto.Outbound, sendBuffer),
	}
}

// trySend enqueues an outbound event, reporting false when the buffer is
// full (slow consumer, event dropped).
func (c *Conn) trySend(msg proto.Outbound) bool {
	select {
	case c.Events <- msg:
		return true
	default:
		return false
	}
}

// State returns the current binding state.
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the bound session id, empty while unbound.
func (c *Conn) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// BeginJoin moves UNBOUND → JOINING.
func (c *Conn) BeginJoin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateUnbound:
		c.state = StateJoining
		return nil
	case StateJoining:
		return ErrJoinInProgress
	default:
		return ErrAlreadyBound
	}
}

// CompleteJoin moves JOINING → BOUND and records the session.
func (c *Conn) CompleteJoin(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateJoining {
		c.state = StateBound
		c.sessionID = sessionID
	}
}

// AbortJoin moves JOINING back to UNBOUND after a failed admission.
func (c *Conn) AbortJoin() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateJoining {
		c.state = StateUnbound
	}
}

// BeginLeave moves BOUND → LEAVING exactly once and returns the session
// being left. Late duplicate leaves (explicit racing implicit) get ok
// false.
func (c *Conn) BeginLeave() (sessionID string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateBound {
		return "", false
	}
	c.state = StateLeaving
	return c.sessionID, true
}

// FinishLeave moves LEAVING → UNBOUND and clears the binding.
func (c *Conn) FinishLeave() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateLeaving {
		c.state = StateUnbound
		c.sessionID = ""
	}
}

// FinishLeaveAny force-clears the binding and the monitoring flag
// regardless of state, used when a session is deleted out from under its
// bound connections. The ticker drops the whole session separately.
func (c *Conn) FinishLeaveAny() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateUnbound
	c.sessionID = ""
	c.monitoring = false
}

// SetMonitoring flips the metrics subscription flag, returning whether
// the flag actually changed.
func (c *Conn) SetMonitoring(on bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.monitoring == on {
		return false
	}
	c.monitoring = on
	return true
}

// Monitoring reports whether this connection subscribed to metrics.
func (c *Conn) Monitoring() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.monitoring
}
