package auth

import (
	"strings"

	"github.com/google/uuid"
)

// Role classifies what a principal fundamentally is, independent of any
// per-session permission vector.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
	RoleGuest Role = "guest"
)

// Origin records which verification path produced a principal.
type Origin string

const (
	// OriginVerified marks principals proven by the federated or
	// locally-signed token paths.
	OriginVerified Origin = "verified"
	// OriginAutoCreated marks principals accepted through the development
	// token path without signature proof.
	OriginAutoCreated Origin = "auto-created"
	// OriginGuest marks synthetic guest principals.
	OriginGuest Origin = "guest"
)

// Principal is a normalized identity attached to one realtime connection.
type Principal struct {
	UserID      string `json:"userId"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role"`
	Avatar      string `json:"avatar,omitempty"`
	Origin      Origin `json:"origin"`
}

// IsGuest reports whether the principal is a guest identity.
func (p Principal) IsGuest() bool {
	return p.Role == RoleGuest
}

// NewGuestPrincipal returns a guest principal with a synthetic,
// non-reusable user id.
func NewGuestPrincipal() Principal {
	id := uuid.NewString()
	return Principal{
		UserID:      "guest-" + id,
		DisplayName: "Guest " + strings.ToUpper(id[:6]),
		Role:        RoleGuest,
		Origin:      OriginGuest,
	}
}

// displayNameFor derives a display name from explicit name, email
// local-part, and subject, in that order.
func displayNameFor(name, email, sub string) string {
	if name != "" {
		return name
	}
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at]
	}
	if email != "" {
		return email
	}
	return sub
}

func roleFor(claim string) Role {
	switch Role(claim) {
	case RoleAdmin:
		return RoleAdmin
	case RoleGuest:
		return RoleGuest
	default:
		return RoleUser
	}
}
