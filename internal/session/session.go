package session

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/lakshmih20/S3-CodeCollab-2025/internal/auth"
)

// Limits enforced on session mutations. Both are re-checked inside the
// state engine even though the router validates first.
const (
	MaxCodeBytes = 1_000_000
	MaxPathLen   = 500
)

// Settings holds the per-session knobs fixed at creation time.
type Settings struct {
	MaxUsers           int         `json:"maxUsers"`
	AllowGuests        bool        `json:"allowGuests"`
	DefaultPermissions Permissions `json:"defaultPermissions"`
}

// FileEntry is one node of the session's in-memory workspace. Directory
// entries have paths ending in "/" and Type "directory".
type FileEntry struct {
	Type         string    `json:"type"`
	Content      string    `json:"content"`
	CreatedBy    string    `json:"createdBy"`
	LastEditedBy string    `json:"lastEditedBy"`
	LastModified time.Time `json:"lastModified"`
}

const (
	FileTypeFile      = "file"
	FileTypeDirectory = "directory"
)

// FileState is a FileEntry paired with its path, used in snapshots.
type FileState struct {
	Path         string    `json:"path"`
	Type         string    `json:"type"`
	Content      string    `json:"content"`
	CreatedBy    string    `json:"createdBy"`
	LastEditedBy string    `json:"lastEditedBy"`
	LastModified time.Time `json:"lastModified"`
}

// ChatMessage is one entry of the session chat log.
type ChatMessage struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Content     string    `json:"content"`
	Type        string    `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
}

// Project describes an optional shared or template-created project
// attached to the session.
type Project struct {
	Mode     string          `json:"mode"`
	OwnerID  string          `json:"ownerId"`
	Template string          `json:"template,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

const (
	ProjectModeShare  = "share"
	ProjectModeCreate = "create"
)

// UserInfo is the public view of a session member.
type UserInfo struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
	Avatar      string `json:"avatar,omitempty"`
}

// Info is a consistent snapshot of session metadata. InviteKey is filled
// by the caller only for recipients allowed to see it.
type Info struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatorID string    `json:"creatorId"`
	CreatedAt time.Time `json:"createdAt"`
	UserCount int       `json:"userCount"`
	MaxUsers  int       `json:"maxUsers"`
	Users     []UserInfo `json:"users"`
	InviteKey string    `json:"inviteKey,omitempty"`
	Project   *Project  `json:"project,omitempty"`
}

// member tracks one attached user: identity, live connection count and
// join time. A member exists iff conns > 0.
type member struct {
	principal auth.Principal
	conns     int
	joinedAt  time.Time
}

// Session is an ephemeral collaboration room. ID, Name, CreatorID and
// CreatedAt are immutable after creation; everything else is guarded by mu.
// The invite key lives in the registry's index, not here.
type Session struct {
	ID        string
	Name      string
	CreatorID string
	CreatedAt time.Time

	mu          sync.Mutex
	settings    Settings
	members     map[string]*member
	permissions map[string]Permissions
	codeBuffer  string
	files       map[string]*FileEntry
	chatLog     []ChatMessage
	project     *Project
	closed      bool
}

func newSession(id, name string, creator auth.Principal, settings Settings) *Session {
	s := &Session{
		ID:          id,
		Name:        name,
		CreatorID:   creator.UserID,
		CreatedAt:   time.Now(),
		settings:    settings,
		members:     make(map[string]*member),
		permissions: make(map[string]Permissions),
		files:       make(map[string]*FileEntry),
	}
	// Pseudo-join: the creator's permission row exists from birth even
	// though members stays empty until a realtime connection binds.
	s.permissions[creator.UserID] = CreatorPermissions()
	return s
}

// Settings returns a copy of the session settings.
func (s *Session) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// UserCount returns the number of distinct attached members.
func (s *Session) UserCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}

// IsMember reports whether userID currently holds at least one bound
// connection.
func (s *Session) IsMember(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.members[userID]
	return ok
}

// PermissionsOf returns the permission vector for userID.
func (s *Session) PermissionsOf(userID string) (Permissions, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.permissions[userID]
	return p, ok
}

// Code returns the shared code buffer.
func (s *Session) Code() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codeBuffer
}

// Empty reports whether the session has no attached members.
func (s *Session) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members) == 0
}

// Users returns a snapshot of the attached members sorted by join time.
func (s *Session) Users() []UserInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usersLocked()
}

func (s *Session) usersLocked() []UserInfo {
	users := make([]UserInfo, 0, len(s.members))
	for _, m := range s.members {
		users = append(users, UserInfo{
			UserID:      m.principal.UserID,
			DisplayName: m.principal.DisplayName,
			Role:        string(m.principal.Role),
			Avatar:      m.principal.Avatar,
		})
	}
	sort.Slice(users, func(i, j int) bool {
		return s.members[users[i].UserID].joinedAt.Before(s.members[users[j].UserID].joinedAt)
	})
	return users
}

// Snapshot returns a consistent metadata snapshot.
func (s *Session) Snapshot() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Info {
	var project *Project
	if s.project != nil {
		p := *s.project
		project = &p
	}
	return Info{
		ID:        s.ID,
		Name:      s.Name,
		CreatorID: s.CreatorID,
		CreatedAt: s.CreatedAt,
		UserCount: len(s.members),
		MaxUsers:  s.settings.MaxUsers,
		Users:     s.usersLocked(),
		Project:   project,
	}
}

// Files returns a snapshot of the workspace sorted by path.
func (s *Session) Files() []FileState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filesLocked()
}

func (s *Session) filesLocked() []FileState {
	out := make([]FileState, 0, len(s.files))
	for path, e := range s.files {
		out = append(out, FileState{
			Path:         path,
			Type:         e.Type,
			Content:      e.Content,
			CreatedBy:    e.CreatedBy,
			LastEditedBy: e.LastEditedBy,
			LastModified: e.LastModified,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// ChatLog returns a copy of the chat log.
func (s *Session) ChatLog() []ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChatMessage, len(s.chatLog))
	copy(out, s.chatLog)
	return out
}
