package proto

import (
	"encoding/json"

	"github.com/lakshmih20/S3-CodeCollab-2025/internal/session"
)

// Inbound is the envelope for events coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Outbound is the envelope for events sent to the client.
type Outbound struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Client → hub event names.
const (
	InJoinSession        = "join_session"
	InLeaveSession       = "leave_session"
	InCodeChange         = "code_change"
	InRealtimeCodeChange = "realtime_code_change"
	InFileOperation      = "file_operation"
	InCreateFile         = "create_file"
	InCreateFolder       = "create_folder"
	InCursorUpdate       = "cursor_update"
	InFileActivityUpdate = "file_activity_update"
	InChatMessage        = "chat_message"
	InExecuteCode        = "execute_code"
	InUpdatePermissions  = "update_user_permissions"
	InProjectShareInit   = "project_share_init"
	InProjectCreateInit  = "project_create_init"
	InAccessRightsUpdate = "access_rights_update"
	InGetSessionUsers    = "get_session_users"
	InGetSessionInfo     = "get_session_info"
	InGetSessionFiles    = "get_session_files"
	InStartMonitoring    = "start_performance_monitoring"
	InStopMonitoring     = "stop_performance_monitoring"
)

// Hub → client event names.
const (
	OutSessionJoined      = "session_joined"
	OutUserJoinedSession  = "user_joined_session"
	OutSessionUpdate      = "session_update"
	OutCodeUpdate         = "code_update"
	OutSessionFilesState  = "session_files_state"
	OutUserLeftSession    = "user_left_session"
	OutSessionLeft        = "session_left"
	OutRealtimeCodeUpdate = "realtime_code_update"
	OutFileOperation      = "file_operation"
	OutFileCreated        = "file_created"
	OutFolderCreated      = "folder_created"
	OutCursorUpdate       = "cursor_update"
	OutFileActivityUpdate = "file_activity_update"
	OutChatMessage        = "chat_message"
	OutExecutionStarted   = "execution_started"
	OutExecutionResult    = "execution_result"
	OutExecutionError     = "execution_error"
	OutPermissionsUpdated = "permissions_updated"
	OutProjectShareInit   = "project_share_init"
	OutProjectCreateInit  = "project_create_init"
	OutAccessRightsUpdate = "access_rights_update"
	OutSessionUsers       = "session_users"
	OutSessionInfo        = "session_info"
	OutSessionFiles       = "session_files"
	OutMonitoringStarted  = "monitoring_started"
	OutMonitoringStopped  = "monitoring_stopped"
	OutPerformanceMetrics = "performance_metrics"
	OutSessionError       = "session_error"
	OutError              = "error"
	OutConnectionError    = "connection_error"
	OutSessionDeleted     = "session_deleted"
)

// Wire error codes tied to the outbound error event family.
const (
	ErrCodeInvalidToken        = "invalid_token"
	ErrCodeGuestDenied         = "guest_denied"
	ErrCodeInvalidInvite       = "invalid_invite"
	ErrCodeSessionFull         = "session_full"
	ErrCodeAccessDenied        = "access_denied"
	ErrCodeInvalidPayload      = "invalid_payload"
	ErrCodeUnsupportedLanguage = "unsupported_language"
	ErrCodeExecutionTimeout    = "execution_timeout"
	ErrCodeExecutionFailed     = "execution_failed"
	ErrCodeRateLimited         = "rate_limited"
	ErrCodeAlreadyJoined       = "already_joined"
	ErrCodeNotInSession        = "not_in_session"
	ErrCodeInternal            = "internal_error"
)

// Error is the payload of session_error, error and connection_error.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// JoinSessionData identifies the target session by invite key or, for
// rejoins, by session id.
type JoinSessionData struct {
	InviteKey string `json:"inviteKey,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// CodeChangeData carries the replacement shared code buffer. Clients send
// either a bare JSON string or {"code": ...}; both decode.
type CodeChangeData struct {
	Code string `json:"code"`
}

func (d *CodeChangeData) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		d.Code = s
		return nil
	}
	type plain CodeChangeData
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*d = CodeChangeData(p)
	return nil
}

// RealtimeCodeChangeData is a per-file live edit.
type RealtimeCodeChangeData struct {
	FilePath string `json:"filePath"`
	Content  string `json:"content"`
}

// FileOperationData is a structured workspace mutation.
type FileOperationData struct {
	Action string            `json:"action"`
	Path   string            `json:"path"`
	Data   FileOperationArgs `json:"data"`
}

// FileOperationArgs are the per-action arguments of a file operation.
type FileOperationArgs struct {
	NewPath string `json:"newPath,omitempty"`
	Content string `json:"content,omitempty"`
	Type    string `json:"type,omitempty"`
}

// CreateFileData names a new session-scoped file.
type CreateFileData struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// CreateFolderData names a new session-scoped folder.
type CreateFolderData struct {
	Name string `json:"name"`
}

// CursorUpdateData is transient presence; position and selection are
// client-defined shapes passed through opaquely.
type CursorUpdateData struct {
	FilePath  string          `json:"filePath"`
	Position  json.RawMessage `json:"position,omitempty"`
	Selection json.RawMessage `json:"selection,omitempty"`
	Color     string          `json:"color,omitempty"`
}

// FileActivityData reports which file a member is looking at.
type FileActivityData struct {
	FilePath string `json:"filePath"`
}

// ChatMessageData is an inbound chat message.
type ChatMessageData struct {
	Content string `json:"content"`
	Type    string `json:"type,omitempty"`
}

// ExecuteCodeData is a run request for the sandbox.
type ExecuteCodeData struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Input    string `json:"input,omitempty"`
}

// UpdatePermissionsData replaces a member's permission vector.
type UpdatePermissionsData struct {
	UserID      string              `json:"userId"`
	Permissions session.Permissions `json:"permissions"`
}

// ProjectInitData configures project sharing or creation.
type ProjectInitData struct {
	Template string          `json:"template,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// AccessRightsData maps a member onto a coarse access level.
type AccessRightsData struct {
	UserID      string `json:"userId"`
	AccessLevel string `json:"accessLevel"`
}

// SessionView is the recipient-specific session object inside
// session_joined and session_info.
type SessionView struct {
	session.Info
	UserPermissions session.Permissions `json:"userPermissions"`
}

// SessionJoinedData confirms a successful join to the joiner.
type SessionJoinedData struct {
	Session SessionView `json:"session"`
}

// UserJoinedData announces a new member to the room.
type UserJoinedData struct {
	User      session.UserInfo `json:"user"`
	UserCount int              `json:"userCount"`
}

// SessionUpdateData refreshes the room's member view.
type SessionUpdateData struct {
	UserCount int                `json:"userCount"`
	Users     []session.UserInfo `json:"users"`
}

// CodeUpdateData carries the shared code buffer to peers.
type CodeUpdateData struct {
	Code   string `json:"code"`
	UserID string `json:"userId,omitempty"`
}

// RealtimeCodeUpdateData relays a live per-file edit to peers.
type RealtimeCodeUpdateData struct {
	FilePath string `json:"filePath"`
	Content  string `json:"content"`
	UserID   string `json:"userId"`
}

// FileOperationEvent echoes an applied file operation to peers.
type FileOperationEvent struct {
	Action string            `json:"action"`
	Path   string            `json:"path"`
	Data   FileOperationArgs `json:"data"`
	UserID string            `json:"userId"`
}

// FileCreatedData announces a new file to the room.
type FileCreatedData struct {
	File   session.FileState `json:"file"`
	UserID string            `json:"userId"`
}

// FolderCreatedData announces a new folder to the room.
type FolderCreatedData struct {
	Folder session.FileState `json:"folder"`
	UserID string            `json:"userId"`
}

// CursorUpdateEvent relays presence to peers.
type CursorUpdateEvent struct {
	CursorUpdateData
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
}

// FileActivityEvent relays file focus to peers.
type FileActivityEvent struct {
	FilePath string `json:"filePath"`
	UserID   string `json:"userId"`
}

// UserLeftData announces a departed member to the room.
type UserLeftData struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	UserCount   int    `json:"userCount"`
}

// SessionLeftData confirms an explicit leave to the leaver.
type SessionLeftData struct {
	SessionID string `json:"sessionId"`
}

// ExecutionStartedData tells the room a run is in flight.
type ExecutionStartedData struct {
	UserID   string `json:"userId"`
	Language string `json:"language"`
}

// ExecutionErrorData reports a failed run.
type ExecutionErrorData struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Language string `json:"language,omitempty"`
}

// PermissionsUpdatedData announces a replaced permission vector.
type PermissionsUpdatedData struct {
	UserID      string              `json:"userId"`
	Permissions session.Permissions `json:"permissions"`
}

// ProjectInitEvent announces project setup to the room.
type ProjectInitEvent struct {
	Project *session.Project    `json:"project"`
	Files   []session.FileState `json:"files,omitempty"`
	UserID  string              `json:"userId"`
}

// AccessRightsEvent announces an access-level change to the room.
type AccessRightsEvent struct {
	UserID      string              `json:"userId"`
	AccessLevel string              `json:"accessLevel"`
	Permissions session.Permissions `json:"permissions"`
}

// SessionUsersData answers get_session_users.
type SessionUsersData struct {
	Users     []session.UserInfo `json:"users"`
	UserCount int                `json:"userCount"`
}

// SessionFilesData answers get_session_files.
type SessionFilesData struct {
	Files []session.FileState `json:"files"`
}

// MonitoringData acknowledges a metrics subscription change.
type MonitoringData struct {
	SessionID string `json:"sessionId"`
}

// SessionDeletedData is the terminal room broadcast of a deletion.
type SessionDeletedData struct {
	SessionID string `json:"sessionId"`
}
