package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lakshmih20/S3-CodeCollab-2025/internal/auth"
)

// Domain errors surfaced by admission and the state engine. The router
// maps them onto wire error events.
var (
	ErrSessionClosed      = errors.New("session closed")
	ErrSessionFull        = errors.New("session full")
	ErrGuestDenied        = errors.New("guests are not allowed in this session")
	ErrNotMember          = errors.New("user is not a session member")
	ErrCodeTooLarge       = errors.New("code payload exceeds size limit")
	ErrInvalidPath        = errors.New("invalid path")
	ErrFileNotFound       = errors.New("file not found")
	ErrInvalidOperation   = errors.New("invalid file operation")
	ErrInvalidAccessLevel = errors.New("invalid access level")
	ErrNotCreator         = errors.New("only the session creator may do this")
	ErrNotProjectOwner    = errors.New("only the project owner may do this")
)

// ValidatePath rejects empty paths, paths over the length limit and any
// path containing "..", resolvable or not.
func ValidatePath(p string) error {
	if p == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	if len(p) > MaxPathLen {
		return fmt.Errorf("%w: longer than %d chars", ErrInvalidPath, MaxPathLen)
	}
	if strings.Contains(p, "..") {
		return fmt.Errorf("%w: contains ..", ErrInvalidPath)
	}
	return nil
}

// JoinResult is the state snapshot produced atomically by a successful
// join, from which the router builds the session_joined reply.
type JoinResult struct {
	NewMember   bool
	Info        Info
	Permissions Permissions
	Code        string
	Files       []FileState
}

// Join attaches a principal to the session, or re-attaches one more
// connection for an existing member. Idempotent for current members;
// capacity and guest policy apply to new members only.
func (s *Session) Join(p auth.Principal) (JoinResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return JoinResult{}, ErrSessionClosed
	}

	m, existing := s.members[p.UserID]
	if !existing {
		if len(s.members) >= s.settings.MaxUsers {
			return JoinResult{}, ErrSessionFull
		}
		if p.IsGuest() && !s.settings.AllowGuests {
			return JoinResult{}, ErrGuestDenied
		}
		m = &member{principal: p, joinedAt: time.Now()}
		s.members[p.UserID] = m
		if _, ok := s.permissions[p.UserID]; !ok {
			if p.UserID == s.CreatorID {
				s.permissions[p.UserID] = CreatorPermissions()
			} else {
				s.permissions[p.UserID] = s.settings.DefaultPermissions
			}
		}
	}
	m.conns++

	return JoinResult{
		NewMember:   !existing,
		Info:        s.snapshotLocked(),
		Permissions: s.permissions[p.UserID],
		Code:        s.codeBuffer,
		Files:       s.filesLocked(),
	}, nil
}

// CheckJoin reports whether p would be admitted, without attaching.
// Used by the REST join endpoint, which validates the invite but leaves
// membership to the realtime connection.
func (s *Session) CheckJoin(p auth.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if _, existing := s.members[p.UserID]; existing {
		return nil
	}
	if len(s.members) >= s.settings.MaxUsers {
		return ErrSessionFull
	}
	if p.IsGuest() && !s.settings.AllowGuests {
		return ErrGuestDenied
	}
	return nil
}

// LeaveResult describes the membership change produced by Leave.
type LeaveResult struct {
	Removed     bool
	Empty       bool
	UserCount   int
	DisplayName string
	Users       []UserInfo
}

// Leave detaches one connection of userID. The member is removed when the
// last connection goes; the permission row stays for rejoin.
func (s *Session) Leave(userID string) (LeaveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.members[userID]
	if !ok {
		return LeaveResult{}, ErrNotMember
	}
	m.conns--
	res := LeaveResult{DisplayName: m.principal.DisplayName}
	if m.conns <= 0 {
		delete(s.members, userID)
		res.Removed = true
	}
	res.UserCount = len(s.members)
	res.Empty = len(s.members) == 0
	res.Users = s.usersLocked()
	return res, nil
}

// SetCode overwrites the shared code buffer (last writer wins).
func (s *Session) SetCode(userID, code string) error {
	if len(code) > MaxCodeBytes {
		return ErrCodeTooLarge
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[userID]; !ok {
		return ErrNotMember
	}
	s.codeBuffer = code
	return nil
}

// UpsertFile creates or overwrites a file entry at path.
func (s *Session) UpsertFile(path, content, userID string) (FileState, error) {
	if err := ValidatePath(path); err != nil {
		return FileState{}, err
	}
	if len(content) > MaxCodeBytes {
		return FileState{}, ErrCodeTooLarge
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[userID]; !ok {
		return FileState{}, ErrNotMember
	}
	return s.upsertFileLocked(path, content, userID), nil
}

func (s *Session) upsertFileLocked(path, content, userID string) FileState {
	now := time.Now()
	e, ok := s.files[path]
	if !ok {
		e = &FileEntry{Type: FileTypeFile, CreatedBy: userID}
		s.files[path] = e
	}
	e.Content = content
	e.LastEditedBy = userID
	e.LastModified = now
	return FileState{
		Path:         path,
		Type:         e.Type,
		Content:      e.Content,
		CreatedBy:    e.CreatedBy,
		LastEditedBy: e.LastEditedBy,
		LastModified: e.LastModified,
	}
}

// File operation actions accepted by ApplyFileOp.
const (
	FileOpCreate = "create"
	FileOpDelete = "delete"
	FileOpRename = "rename"
	FileOpSave   = "save"
)

// FileOp is a parsed file_operation request.
type FileOp struct {
	Action  string
	Path    string
	NewPath string
	Content string
	Dir     bool
}

// ApplyFileOp applies a create/delete/rename/save operation to the file
// map. Delete and rename act on whole directory subtrees.
func (s *Session) ApplyFileOp(op FileOp, userID string) error {
	if err := ValidatePath(op.Path); err != nil {
		return err
	}
	if len(op.Content) > MaxCodeBytes {
		return ErrCodeTooLarge
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[userID]; !ok {
		return ErrNotMember
	}

	now := time.Now()
	switch op.Action {
	case FileOpCreate:
		path := op.Path
		if op.Dir && !strings.HasSuffix(path, "/") {
			path += "/"
		}
		typ := FileTypeFile
		if op.Dir {
			typ = FileTypeDirectory
		}
		s.files[path] = &FileEntry{
			Type:         typ,
			Content:      op.Content,
			CreatedBy:    userID,
			LastEditedBy: userID,
			LastModified: now,
		}
	case FileOpDelete:
		if _, ok := s.files[op.Path]; !ok && !s.hasSubtreeLocked(op.Path) {
			return ErrFileNotFound
		}
		delete(s.files, op.Path)
		s.deleteSubtreeLocked(op.Path)
	case FileOpRename:
		if err := ValidatePath(op.NewPath); err != nil {
			return err
		}
		if err := s.renameLocked(op.Path, op.NewPath, userID, now); err != nil {
			return err
		}
	case FileOpSave:
		s.upsertFileLocked(op.Path, op.Content, userID)
	default:
		return fmt.Errorf("%w: %q", ErrInvalidOperation, op.Action)
	}
	return nil
}

func (s *Session) hasSubtreeLocked(path string) bool {
	prefix := strings.TrimSuffix(path, "/") + "/"
	for p := range s.files {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

func (s *Session) deleteSubtreeLocked(path string) {
	prefix := strings.TrimSuffix(path, "/") + "/"
	for p := range s.files {
		if strings.HasPrefix(p, prefix) {
			delete(s.files, p)
		}
	}
}

func (s *Session) renameLocked(oldPath, newPath, userID string, now time.Time) error {
	if e, ok := s.files[oldPath]; ok {
		delete(s.files, oldPath)
		e.LastEditedBy = userID
		e.LastModified = now
		if e.Type == FileTypeDirectory && !strings.HasSuffix(newPath, "/") {
			newPath += "/"
		}
		s.files[newPath] = e
	} else if !s.hasSubtreeLocked(oldPath) {
		return ErrFileNotFound
	}

	// Move any children along with the entry.
	oldPrefix := strings.TrimSuffix(oldPath, "/") + "/"
	newPrefix := strings.TrimSuffix(newPath, "/") + "/"
	for p, e := range s.files {
		if strings.HasPrefix(p, oldPrefix) {
			delete(s.files, p)
			s.files[newPrefix+strings.TrimPrefix(p, oldPrefix)] = e
		}
	}
	return nil
}

// CreateFile inserts a session-scoped file named "<sessionID>/<name>".
// The name must be non-empty; the composed path alone would pass
// validation with a bare trailing slash.
func (s *Session) CreateFile(name, content, userID string) (FileState, error) {
	if name == "" {
		return FileState{}, fmt.Errorf("%w: empty name", ErrInvalidPath)
	}
	path := s.ID + "/" + name
	return s.UpsertFile(path, content, userID)
}

// CreateFolder inserts a directory entry "<sessionID>/<name>/".
func (s *Session) CreateFolder(name, userID string) (FileState, error) {
	name = strings.TrimSuffix(name, "/")
	if name == "" {
		return FileState{}, fmt.Errorf("%w: empty name", ErrInvalidPath)
	}
	path := s.ID + "/" + name + "/"
	if err := ValidatePath(path); err != nil {
		return FileState{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[userID]; !ok {
		return FileState{}, ErrNotMember
	}
	now := time.Now()
	e := &FileEntry{
		Type:         FileTypeDirectory,
		CreatedBy:    userID,
		LastEditedBy: userID,
		LastModified: now,
	}
	s.files[path] = e
	return FileState{
		Path:         path,
		Type:         e.Type,
		CreatedBy:    e.CreatedBy,
		LastEditedBy: e.LastEditedBy,
		LastModified: e.LastModified,
	}, nil
}

// AppendChat appends a message to the chat log and returns it.
func (s *Session) AppendChat(userID, content, msgType string) (ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[userID]
	if !ok {
		return ChatMessage{}, ErrNotMember
	}
	if msgType == "" {
		msgType = "text"
	}
	msg := ChatMessage{
		ID:          uuid.NewString(),
		UserID:      userID,
		DisplayName: m.principal.DisplayName,
		Content:     content,
		Type:        msgType,
		Timestamp:   time.Now(),
	}
	s.chatLog = append(s.chatLog, msg)
	return msg, nil
}

// SetPermissions replaces the permission vector of targetID. Creator-only,
// checked against the immutable CreatorID rather than a permission flag.
func (s *Session) SetPermissions(byUserID, targetID string, perms Permissions) error {
	if byUserID != s.CreatorID {
		return ErrNotCreator
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, isMember := s.members[targetID]
	_, hasRow := s.permissions[targetID]
	if !isMember && !hasRow {
		return ErrNotMember
	}
	s.permissions[targetID] = perms
	return nil
}

// SetProject attaches a project to the session. Creator-only. In create
// mode the named template's starter files are preloaded.
func (s *Session) SetProject(byUserID, mode, template string, data []byte) (*Project, []FileState, error) {
	if byUserID != s.CreatorID {
		return nil, nil, ErrNotCreator
	}
	if mode != ProjectModeShare && mode != ProjectModeCreate {
		return nil, nil, fmt.Errorf("%w: project mode %q", ErrInvalidOperation, mode)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p := &Project{Mode: mode, OwnerID: byUserID, Template: template, Data: data}
	s.project = p

	var created []FileState
	if mode == ProjectModeCreate {
		for _, tf := range templateFiles(template) {
			created = append(created, s.upsertFileLocked(s.ID+"/"+tf.name, tf.content, byUserID))
		}
	}
	out := *p
	return &out, created, nil
}

// ApplyAccessLevel recomputes a member's edit/execute flags from a coarse
// access level. Only the project owner may call it.
func (s *Session) ApplyAccessLevel(byUserID, targetID, level string) (Permissions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.project == nil || s.project.OwnerID != byUserID {
		return Permissions{}, ErrNotProjectOwner
	}
	current, ok := s.permissions[targetID]
	if !ok {
		if _, isMember := s.members[targetID]; !isMember {
			return Permissions{}, ErrNotMember
		}
		current = s.settings.DefaultPermissions
	}
	updated, ok := applyAccessLevel(current, level)
	if !ok {
		return Permissions{}, fmt.Errorf("%w: %q", ErrInvalidAccessLevel, level)
	}
	s.permissions[targetID] = updated
	return updated, nil
}

// MarkClosed flags the session as closed so late joins fail. Returns the
// members present at close time.
func (s *Session) MarkClosed() []UserInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.usersLocked()
}

// CloseIfEmpty closes the session only if no members are attached.
// Used by the garbage sweep so a join racing the timer wins.
func (s *Session) CloseIfEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.members) > 0 {
		return false
	}
	s.closed = true
	return true
}
