package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/lakshmih20/S3-CodeCollab-2025/internal/core"
	"github.com/lakshmih20/S3-CodeCollab-2025/internal/session"
)

// SessionHandlers provides HTTP handlers for session management endpoints.
// Creation and teardown go through the same registry the realtime layer
// uses; the join endpoint validates an invite without attaching anyone.
type SessionHandlers struct {
	registry *session.Registry
	router   *core.Router
	log      *zerolog.Logger
}

// NewSessionHandlers creates a new session handlers instance.
func NewSessionHandlers(registry *session.Registry, router *core.Router, logger *zerolog.Logger) *SessionHandlers {
	return &SessionHandlers{
		registry: registry,
		router:   router,
		log:      logger,
	}
}

// CreateSessionRequest represents the create session request body. All
// fields are optional; defaults come from server configuration.
type CreateSessionRequest struct {
	Name        string `json:"name"`
	MaxUsers    int    `json:"maxUsers"`
	AllowGuests *bool  `json:"allowGuests"`
}

// JoinSessionRequest represents the join validation request body.
type JoinSessionRequest struct {
	InviteKey string `json:"inviteKey" binding:"required"`
}

// InviteKeyResponse carries a freshly issued invite key.
type InviteKeyResponse struct {
	InviteKey string `json:"inviteKey"`
}

// Create handles session creation.
// POST /api/sessions/create
func (h *SessionHandlers) Create(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	// An empty body is fine; every field has a server-side default.
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.log.Debug().Err(err).Msg("invalid create session request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	s, key, err := h.registry.Create(principal, session.CreateOptions{
		Name:        req.Name,
		MaxUsers:    req.MaxUsers,
		AllowGuests: req.AllowGuests,
	})
	if err != nil {
		h.log.Error().Err(err).Str("user_id", principal.UserID).Msg("failed to create session")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	info := s.Snapshot()
	info.InviteKey = key
	c.JSON(http.StatusCreated, info)
}

// Join validates an invite key and returns the session it names. No
// membership is created here; the realtime join does that.
// POST /api/sessions/join
func (h *SessionHandlers) Join(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req JoinSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid join session request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	s, err := h.registry.GetByInviteKey(req.InviteKey)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "invalid invite key"})
		return
	}

	if err := s.CheckJoin(principal); err != nil {
		switch {
		case errors.Is(err, session.ErrSessionFull):
			c.JSON(http.StatusConflict, ErrorResponse{Error: "session is full"})
		case errors.Is(err, session.ErrGuestDenied):
			c.JSON(http.StatusForbidden, ErrorResponse{Error: "guests are not allowed in this session"})
		default:
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "session no longer exists"})
		}
		return
	}

	info := s.Snapshot()
	if principal.UserID == s.CreatorID {
		if key, kerr := h.registry.InviteKey(s.ID); kerr == nil {
			info.InviteKey = key
		}
	}
	c.JSON(http.StatusOK, info)
}

// List handles listing live sessions. Invite keys are never included.
// GET /api/sessions
func (h *SessionHandlers) List(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.List())
}

// Get returns one session's metadata. The invite key is included only for
// the creator or members holding the invite permission.
// GET /api/sessions/:id
func (h *SessionHandlers) Get(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	s, err := h.registry.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "session not found"})
		return
	}

	info := s.Snapshot()
	perms, _ := s.PermissionsOf(principal.UserID)
	if perms.CanInviteOthers || principal.UserID == s.CreatorID {
		if key, kerr := h.registry.InviteKey(s.ID); kerr == nil {
			info.InviteKey = key
		}
	}
	c.JSON(http.StatusOK, info)
}

// RegenerateKey rotates a session's invite key. Creator only; the old key
// stops resolving the moment this returns.
// POST /api/sessions/:id/regenerate-key
func (h *SessionHandlers) RegenerateKey(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	key, err := h.registry.RotateInviteKey(c.Param("id"), principal.UserID)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "session not found"})
		case errors.Is(err, session.ErrNotCreator):
			c.JSON(http.StatusForbidden, ErrorResponse{Error: "only the session creator may rotate the key"})
		default:
			h.log.Error().Err(err).Str("session_id", c.Param("id")).Msg("failed to rotate invite key")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		}
		return
	}

	c.JSON(http.StatusOK, InviteKeyResponse{InviteKey: key})
}

// Delete tears a session down, notifying every attached connection.
// DELETE /api/sessions/:id
func (h *SessionHandlers) Delete(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	if err := h.router.DeleteSession(c.Param("id"), principal.UserID); err != nil {
		switch {
		case errors.Is(err, session.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "session not found"})
		case errors.Is(err, session.ErrNotCreator):
			c.JSON(http.StatusForbidden, ErrorResponse{Error: "only the session creator may delete it"})
		default:
			h.log.Error().Err(err).Str("session_id", c.Param("id")).Msg("failed to delete session")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		}
		return
	}

	c.Status(http.StatusNoContent)
}
