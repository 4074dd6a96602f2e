package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lakshmih20/S3-CodeCollab-2025/internal/auth"
)

// Registry errors.
var (
	ErrInvalidInvite   = errors.New("invalid invite key")
	ErrSessionNotFound = errors.New("session not found")
)

// Registry is the directory of live sessions. Its mutex covers only the
// top-level indexes and GC timers; per-session state has its own lock.
// The registry lock is never held while a session lock is held.
type Registry struct {
	mu          sync.Mutex
	byID        map[string]*Session
	byInviteKey map[string]*Session
	keyByID     map[string]string
	gcTimers    map[string]*time.Timer

	defaults Settings
	emptyTTL time.Duration
	log      *zerolog.Logger
}

// RegistryConfig carries the registry defaults.
type RegistryConfig struct {
	MaxUsers    int
	AllowGuests bool
	EmptyTTL    time.Duration
}

// NewRegistry creates an empty session registry.
func NewRegistry(cfg RegistryConfig, logger *zerolog.Logger) *Registry {
	if cfg.MaxUsers <= 0 {
		cfg.MaxUsers = 10
	}
	if cfg.EmptyTTL <= 0 {
		cfg.EmptyTTL = time.Hour
	}
	return &Registry{
		byID:        make(map[string]*Session),
		byInviteKey: make(map[string]*Session),
		keyByID:     make(map[string]string),
		gcTimers:    make(map[string]*time.Timer),
		defaults: Settings{
			MaxUsers:           cfg.MaxUsers,
			AllowGuests:        cfg.AllowGuests,
			DefaultPermissions: DefaultPermissions(),
		},
		emptyTTL: cfg.EmptyTTL,
		log:      logger,
	}
}

// CreateOptions are the caller-controlled parts of a new session.
type CreateOptions struct {
	Name        string
	MaxUsers    int
	AllowGuests *bool
}

// Create makes a new session owned by creator and registers it. The
// session starts empty and already scheduled for garbage collection; the
// first join cancels the sweep.
func (r *Registry) Create(creator auth.Principal, opts CreateOptions) (*Session, string, error) {
	settings := r.defaults
	if opts.MaxUsers > 0 {
		settings.MaxUsers = opts.MaxUsers
	}
	if opts.AllowGuests != nil {
		settings.AllowGuests = *opts.AllowGuests
	}
	name := opts.Name
	if name == "" {
		name = "Untitled Session"
	}

	s := newSession(uuid.NewString(), name, creator, settings)

	r.mu.Lock()
	key, err := r.uniqueKeyLocked()
	if err != nil {
		r.mu.Unlock()
		return nil, "", err
	}
	r.byID[s.ID] = s
	r.byInviteKey[key] = s
	r.keyByID[s.ID] = key
	r.scheduleGCLocked(s.ID)
	r.mu.Unlock()

	r.log.Info().
		Str("session_id", s.ID).
		Str("creator_id", creator.UserID).
		Str("name", name).
		Int("max_users", settings.MaxUsers).
		Bool("allow_guests", settings.AllowGuests).
		Msg("session created")
	return s, key, nil
}

func (r *Registry) uniqueKeyLocked() (string, error) {
	for {
		key, err := generateInviteKey()
		if err != nil {
			return "", err
		}
		if _, taken := r.byInviteKey[key]; !taken {
			return key, nil
		}
	}
}

// Get returns the session with the given id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// GetByInviteKey resolves an invite key to its session.
func (r *Registry) GetByInviteKey(key string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byInviteKey[key]
	if !ok {
		return nil, ErrInvalidInvite
	}
	return s, nil
}

// InviteKey returns the current invite key of a session.
func (r *Registry) InviteKey(id string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keyByID[id]
	if !ok {
		return "", ErrSessionNotFound
	}
	return key, nil
}

// List returns snapshots of all live sessions sorted by creation time.
func (r *Registry) List() []Info {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// TotalMembers returns the number of attached members across all sessions.
func (r *Registry) TotalMembers() int {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	total := 0
	for _, s := range sessions {
		total += s.UserCount()
	}
	return total
}

// RotateInviteKey atomically replaces a session's invite key. Creator
// only. Joins with the old key fail from the moment this returns.
func (r *Registry) RotateInviteKey(id, byUserID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[id]
	if !ok {
		return "", ErrSessionNotFound
	}
	if s.CreatorID != byUserID {
		return "", ErrNotCreator
	}

	newKey, err := r.uniqueKeyLocked()
	if err != nil {
		return "", err
	}
	delete(r.byInviteKey, r.keyByID[id])
	r.byInviteKey[newKey] = s
	r.keyByID[id] = newKey

	r.log.Info().Str("session_id", id).Msg("invite key rotated")
	return newKey, nil
}

// Delete removes a session on behalf of its creator. Returns the members
// present at deletion so the caller can notify and unbind them.
func (r *Registry) Delete(id, byUserID string) ([]UserInfo, error) {
	r.mu.Lock()
	s, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	if s.CreatorID != byUserID {
		r.mu.Unlock()
		return nil, ErrNotCreator
	}
	r.purgeLocked(id)
	r.mu.Unlock()

	members := s.MarkClosed()
	r.log.Info().Str("session_id", id).Int("members", len(members)).Msg("session deleted")
	return members, nil
}

// NotifyEmpty schedules the delayed garbage sweep for a drained session.
func (r *Registry) NotifyEmpty(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return
	}
	r.scheduleGCLocked(id)
}

// NotifyJoined cancels a pending garbage sweep after a member attached.
func (r *Registry) NotifyJoined(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.gcTimers[id]; ok {
		t.Stop()
		delete(r.gcTimers, id)
	}
}

func (r *Registry) scheduleGCLocked(id string) {
	if t, ok := r.gcTimers[id]; ok {
		t.Stop()
	}
	r.gcTimers[id] = time.AfterFunc(r.emptyTTL, func() { r.sweep(id) })
}

// sweep re-checks emptiness at timer expiry and purges if still empty.
// Idempotent: a session already gone is a no-op.
func (r *Registry) sweep(id string) {
	r.mu.Lock()
	s, ok := r.byID[id]
	r.mu.Unlock()
	if !ok {
		return
	}

	if !s.CloseIfEmpty() {
		return
	}

	r.mu.Lock()
	r.purgeLocked(id)
	r.mu.Unlock()
	r.log.Info().Str("session_id", id).Msg("empty session purged")
}

// purgeLocked removes every index entry for id. Caller holds r.mu.
func (r *Registry) purgeLocked(id string) {
	if t, ok := r.gcTimers[id]; ok {
		t.Stop()
		delete(r.gcTimers, id)
	}
	if key, ok := r.keyByID[id]; ok {
		delete(r.byInviteKey, key)
		delete(r.keyByID, id)
	}
	delete(r.byID, id)
}
