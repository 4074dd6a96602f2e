package core

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"

	"github.com/lakshmih20/S3-CodeCollab-2025/internal/execengine"
	"github.com/lakshmih20/S3-CodeCollab-2025/internal/metrics"
	"github.com/lakshmih20/S3-CodeCollab-2025/internal/proto"
	"github.com/lakshmih20/S3-CodeCollab-2025/internal/session"
)

// Router dispatches inbound events: parse, require a bound session,
// check the event's permission, apply the mutation, then fan out. All
// network sends happen with no lock held.
type Router struct {
	hub      *Hub
	registry *session.Registry
	engine   execengine.Engine
	metrics  *metrics.Ticker
	log      *zerolog.Logger
}

// NewRouter wires the event router.
func NewRouter(hub *Hub, registry *session.Registry, engine execengine.Engine, ticker *metrics.Ticker, logger *zerolog.Logger) *Router {
	return &Router{
		hub:      hub,
		registry: registry,
		engine:   engine,
		metrics:  ticker,
		log:      logger,
	}
}

// Dispatch routes one inbound event from a connection. Unknown events
// are logged and ignored.
func (r *Router) Dispatch(ctx context.Context, c *Conn, in proto.Inbound) {
	r.metrics.CountEvent()

	switch in.Type {
	case proto.InJoinSession:
		r.handleJoin(c, in.Data)
	case proto.InLeaveSession:
		r.leave(c, true)
	case proto.InCodeChange:
		r.handleCodeChange(c, in.Data)
	case proto.InRealtimeCodeChange:
		r.handleRealtimeCodeChange(c, in.Data)
	case proto.InFileOperation:
		r.handleFileOperation(c, in.Data)
	case proto.InCreateFile:
		r.handleCreateFile(c, in.Data)
	case proto.InCreateFolder:
		r.handleCreateFolder(c, in.Data)
	case proto.InCursorUpdate:
		r.handleCursorUpdate(c, in.Data)
	case proto.InFileActivityUpdate:
		r.handleFileActivity(c, in.Data)
	case proto.InChatMessage:
		r.handleChat(c, in.Data)
	case proto.InExecuteCode:
		r.handleExecute(ctx, c, in.Data)
	case proto.InUpdatePermissions:
		r.handleUpdatePermissions(c, in.Data)
	case proto.InProjectShareInit:
		r.handleProjectInit(c, in.Data, session.ProjectModeShare)
	case proto.InProjectCreateInit:
		r.handleProjectInit(c, in.Data, session.ProjectModeCreate)
	case proto.InAccessRightsUpdate:
		r.handleAccessRights(c, in.Data)
	case proto.InGetSessionUsers:
		r.handleGetUsers(c)
	case proto.InGetSessionInfo:
		r.handleGetInfo(c)
	case proto.InGetSessionFiles:
		r.handleGetFiles(c)
	case proto.InStartMonitoring:
		r.handleStartMonitoring(c)
	case proto.InStopMonitoring:
		r.handleStopMonitoring(c)
	default:
		r.log.Warn().Str("event", in.Type).Str("conn_id", c.ID).Msg("unknown event ignored")
	}
}

// HandleDisconnect performs the implicit leave for a dropped transport.
func (r *Router) HandleDisconnect(c *Conn) {
	r.leave(c, false)
}

// sendError replies to the sender with a typed error event and counts
// the rejection.
func (r *Router) sendError(c *Conn, event, code, message string) {
	r.metrics.CountError()
	r.hub.Send(c, proto.Outbound{Type: event, Data: proto.Error{Code: code, Message: message}})
}

func (r *Router) decode(c *Conn, raw json.RawMessage, v any) bool {
	if len(raw) == 0 {
		r.sendError(c, proto.OutError, proto.ErrCodeInvalidPayload, "event payload required")
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		r.sendError(c, proto.OutError, proto.ErrCodeInvalidPayload, "malformed event payload")
		return false
	}
	return true
}

// requireBound resolves the connection's bound session, rejecting events
// sent before join_session.
func (r *Router) requireBound(c *Conn) (*session.Session, bool) {
	id := c.SessionID()
	if id == "" {
		r.sendError(c, proto.OutError, proto.ErrCodeNotInSession, "join a session first")
		return nil, false
	}
	s, err := r.registry.Get(id)
	if err != nil {
		r.sendError(c, proto.OutError, proto.ErrCodeNotInSession, "session no longer exists")
		return nil, false
	}
	return s, true
}

func (r *Router) requirePerm(c *Conn, s *session.Session, name string, allowed func(session.Permissions) bool) bool {
	perms, ok := s.PermissionsOf(c.Principal.UserID)
	if !ok || !allowed(perms) {
		r.sendError(c, proto.OutError, proto.ErrCodeAccessDenied, "missing permission: "+name)
		return false
	}
	return true
}

// replyStateError maps a state-engine error onto the sender's error
// event.
func (r *Router) replyStateError(c *Conn, err error) {
	switch {
	case errors.Is(err, session.ErrCodeTooLarge),
		errors.Is(err, session.ErrInvalidPath),
		errors.Is(err, session.ErrFileNotFound),
		errors.Is(err, session.ErrInvalidOperation),
		errors.Is(err, session.ErrInvalidAccessLevel):
		r.sendError(c, proto.OutError, proto.ErrCodeInvalidPayload, err.Error())
	case errors.Is(err, session.ErrNotMember):
		r.sendError(c, proto.OutError, proto.ErrCodeNotInSession, err.Error())
	case errors.Is(err, session.ErrNotCreator), errors.Is(err, session.ErrNotProjectOwner):
		r.sendError(c, proto.OutError, proto.ErrCodeAccessDenied, err.Error())
	default:
		r.log.Error().Err(err).Str("conn_id", c.ID).Msg("unexpected state error")
		r.sendError(c, proto.OutError, proto.ErrCodeInternal, "internal error")
	}
}

func userInfoFor(c *Conn) session.UserInfo {
	return session.UserInfo{
		UserID:      c.Principal.UserID,
		DisplayName: c.Principal.DisplayName,
		Role:        string(c.Principal.Role),
		Avatar:      c.Principal.Avatar,
	}
}

func (r *Router) handleJoin(c *Conn, raw json.RawMessage) {
	var data proto.JoinSessionData
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			r.sendError(c, proto.OutSessionError, proto.ErrCodeInvalidPayload, "malformed join payload")
			return
		}
	}
	if data.InviteKey == "" && data.SessionID == "" {
		r.sendError(c, proto.OutSessionError, proto.ErrCodeInvalidPayload, "inviteKey or sessionId required")
		return
	}

	if err := c.BeginJoin(); err != nil {
		r.sendError(c, proto.OutError, proto.ErrCodeAlreadyJoined, err.Error())
		return
	}

	var (
		s   *session.Session
		err error
	)
	if data.InviteKey != "" {
		s, err = r.registry.GetByInviteKey(data.InviteKey)
	} else {
		s, err = r.registry.Get(data.SessionID)
	}
	if err != nil {
		c.AbortJoin()
		r.sendError(c, proto.OutSessionError, proto.ErrCodeInvalidInvite, "invalid invite key")
		return
	}

	res, err := s.Join(c.Principal)
	if err != nil {
		c.AbortJoin()
		switch {
		case errors.Is(err, session.ErrSessionFull):
			r.sendError(c, proto.OutSessionError, proto.ErrCodeSessionFull, "session is full")
		case errors.Is(err, session.ErrGuestDenied):
			r.sendError(c, proto.OutSessionError, proto.ErrCodeGuestDenied, "guests are not allowed in this session")
		default:
			r.sendError(c, proto.OutSessionError, proto.ErrCodeInvalidInvite, "session unavailable")
		}
		return
	}

	r.registry.NotifyJoined(s.ID)
	c.CompleteJoin(s.ID)
	r.hub.BindSession(c, s.ID)

	view := proto.SessionView{Info: res.Info, UserPermissions: res.Permissions}
	if res.Permissions.CanInviteOthers || c.Principal.UserID == s.CreatorID {
		if key, kerr := r.registry.InviteKey(s.ID); kerr == nil {
			view.Info.InviteKey = key
		}
	}

	r.hub.Send(c, proto.Outbound{Type: proto.OutSessionJoined, Data: proto.SessionJoinedData{Session: view}})
	r.hub.Send(c, proto.Outbound{Type: proto.OutCodeUpdate, Data: proto.CodeUpdateData{Code: res.Code}})
	r.hub.Send(c, proto.Outbound{Type: proto.OutSessionFilesState, Data: res.Files})

	if res.NewMember {
		r.hub.BroadcastToPeers(s.ID, c.ID, proto.Outbound{
			Type: proto.OutUserJoinedSession,
			Data: proto.UserJoinedData{User: userInfoFor(c), UserCount: res.Info.UserCount},
		})
		r.hub.BroadcastToPeers(s.ID, c.ID, proto.Outbound{
			Type: proto.OutSessionUpdate,
			Data: proto.SessionUpdateData{UserCount: res.Info.UserCount, Users: res.Info.Users},
		})
	}

	r.log.Info().
		Str("session_id", s.ID).
		Str("user_id", c.Principal.UserID).
		Bool("new_member", res.NewMember).
		Int("user_count", res.Info.UserCount).
		Msg("user joined session")
}

// leave runs both the explicit leave_session path and the implicit
// disconnect path. Peer notifications fire exactly once per departed
// member.
func (r *Router) leave(c *Conn, explicit bool) {
	sessionID, ok := c.BeginLeave()
	if !ok {
		if explicit {
			r.sendError(c, proto.OutError, proto.ErrCodeNotInSession, "not in a session")
		}
		return
	}

	r.hub.UnbindSession(c, sessionID)
	if c.SetMonitoring(false) {
		r.metrics.Unsubscribe(sessionID)
	}

	if s, err := r.registry.Get(sessionID); err == nil {
		res, lerr := s.Leave(c.Principal.UserID)
		if lerr == nil && res.Removed {
			r.hub.BroadcastToSession(sessionID, proto.Outbound{
				Type: proto.OutUserLeftSession,
				Data: proto.UserLeftData{
					UserID:      c.Principal.UserID,
					DisplayName: res.DisplayName,
					UserCount:   res.UserCount,
				},
			})
			r.hub.BroadcastToSession(sessionID, proto.Outbound{
				Type: proto.OutSessionUpdate,
				Data: proto.SessionUpdateData{UserCount: res.UserCount, Users: res.Users},
			})
			if res.Empty {
				r.registry.NotifyEmpty(sessionID)
			}
		}
	}

	c.FinishLeave()
	if explicit {
		r.hub.Send(c, proto.Outbound{Type: proto.OutSessionLeft, Data: proto.SessionLeftData{SessionID: sessionID}})
	}

	r.log.Info().
		Str("session_id", sessionID).
		Str("user_id", c.Principal.UserID).
		Bool("explicit", explicit).
		Msg("user left session")
}

func (r *Router) handleCodeChange(c *Conn, raw json.RawMessage) {
	s, ok := r.requireBound(c)
	if !ok {
		return
	}
	if !r.requirePerm(c, s, "canEditFiles", func(p session.Permissions) bool { return p.CanEditFiles }) {
		return
	}
	var data proto.CodeChangeData
	if !r.decode(c, raw, &data) {
		return
	}
	if len(data.Code) > session.MaxCodeBytes {
		r.sendError(c, proto.OutError, proto.ErrCodeInvalidPayload, "code payload exceeds size limit")
		return
	}

	if err := s.SetCode(c.Principal.UserID, data.Code); err != nil {
		r.replyStateError(c, err)
		return
	}
	r.hub.BroadcastToPeers(s.ID, c.ID, proto.Outbound{
		Type: proto.OutCodeUpdate,
		Data: proto.CodeUpdateData{Code: data.Code, UserID: c.Principal.UserID},
	})
}

func (r *Router) handleRealtimeCodeChange(c *Conn, raw json.RawMessage) {
	s, ok := r.requireBound(c)
	if !ok {
		return
	}
	if !r.requirePerm(c, s, "canEditFiles", func(p session.Permissions) bool { return p.CanEditFiles }) {
		return
	}
	var data proto.RealtimeCodeChangeData
	if !r.decode(c, raw, &data) {
		return
	}
	if err := session.ValidatePath(data.FilePath); err != nil {
		r.sendError(c, proto.OutError, proto.ErrCodeInvalidPayload, err.Error())
		return
	}
	if len(data.Content) > session.MaxCodeBytes {
		r.sendError(c, proto.OutError, proto.ErrCodeInvalidPayload, "content exceeds size limit")
		return
	}

	if _, err := s.UpsertFile(data.FilePath, data.Content, c.Principal.UserID); err != nil {
		r.replyStateError(c, err)
		return
	}
	r.hub.BroadcastToPeers(s.ID, c.ID, proto.Outbound{
		Type: proto.OutRealtimeCodeUpdate,
		Data: proto.RealtimeCodeUpdateData{
			FilePath: data.FilePath,
			Content:  data.Content,
			UserID:   c.Principal.UserID,
		},
	})
}

func (r *Router) handleFileOperation(c *Conn, raw json.RawMessage) {
	s, ok := r.requireBound(c)
	if !ok {
		return
	}
	if !r.requirePerm(c, s, "canEditFiles", func(p session.Permissions) bool { return p.CanEditFiles }) {
		return
	}
	var data proto.FileOperationData
	if !r.decode(c, raw, &data) {
		return
	}
	if err := session.ValidatePath(data.Path); err != nil {
		r.sendError(c, proto.OutError, proto.ErrCodeInvalidPayload, err.Error())
		return
	}

	op := session.FileOp{
		Action:  data.Action,
		Path:    data.Path,
		NewPath: data.Data.NewPath,
		Content: data.Data.Content,
		Dir:     data.Data.Type == session.FileTypeDirectory,
	}
	if err := s.ApplyFileOp(op, c.Principal.UserID); err != nil {
		r.replyStateError(c, err)
		return
	}
	r.hub.BroadcastToPeers(s.ID, c.ID, proto.Outbound{
		Type: proto.OutFileOperation,
		Data: proto.FileOperationEvent{
			Action: data.Action,
			Path:   data.Path,
			Data:   data.Data,
			UserID: c.Principal.UserID,
		},
	})
}

func (r *Router) handleCreateFile(c *Conn, raw json.RawMessage) {
	s, ok := r.requireBound(c)
	if !ok {
		return
	}
	if !r.requirePerm(c, s, "canCreateFiles", func(p session.Permissions) bool { return p.CanCreateFiles }) {
		return
	}
	var data proto.CreateFileData
	if !r.decode(c, raw, &data) {
		return
	}
	if data.Name == "" {
		r.sendError(c, proto.OutError, proto.ErrCodeInvalidPayload, "file name required")
		return
	}

	file, err := s.CreateFile(data.Name, data.Content, c.Principal.UserID)
	if err != nil {
		r.replyStateError(c, err)
		return
	}
	r.hub.BroadcastToSession(s.ID, proto.Outbound{
		Type: proto.OutFileCreated,
		Data: proto.FileCreatedData{File: file, UserID: c.Principal.UserID},
	})
}

func (r *Router) handleCreateFolder(c *Conn, raw json.RawMessage) {
	s, ok := r.requireBound(c)
	if !ok {
		return
	}
	if !r.requirePerm(c, s, "canCreateFolders", func(p session.Permissions) bool { return p.CanCreateFolders }) {
		return
	}
	var data proto.CreateFolderData
	if !r.decode(c, raw, &data) {
		return
	}
	if data.Name == "" {
		r.sendError(c, proto.OutError, proto.ErrCodeInvalidPayload, "folder name required")
		return
	}

	folder, err := s.CreateFolder(data.Name, c.Principal.UserID)
	if err != nil {
		r.replyStateError(c, err)
		return
	}
	r.hub.BroadcastToSession(s.ID, proto.Outbound{
		Type: proto.OutFolderCreated,
		Data: proto.FolderCreatedData{Folder: folder, UserID: c.Principal.UserID},
	})
}

func (r *Router) handleCursorUpdate(c *Conn, raw json.RawMessage) {
	s, ok := r.requireBound(c)
	if !ok {
		return
	}
	if !r.requirePerm(c, s, "canViewFiles", func(p session.Permissions) bool { return p.CanViewFiles }) {
		return
	}
	var data proto.CursorUpdateData
	if !r.decode(c, raw, &data) {
		return
	}
	if data.FilePath != "" {
		if err := session.ValidatePath(data.FilePath); err != nil {
			r.sendError(c, proto.OutError, proto.ErrCodeInvalidPayload, err.Error())
			return
		}
	}

	// Presence only, no state change.
	r.hub.BroadcastToPeers(s.ID, c.ID, proto.Outbound{
		Type: proto.OutCursorUpdate,
		Data: proto.CursorUpdateEvent{
			CursorUpdateData: data,
			UserID:           c.Principal.UserID,
			DisplayName:      c.Principal.DisplayName,
		},
	})
}

func (r *Router) handleFileActivity(c *Conn, raw json.RawMessage) {
	s, ok := r.requireBound(c)
	if !ok {
		return
	}
	if !r.requirePerm(c, s, "canViewFiles", func(p session.Permissions) bool { return p.CanViewFiles }) {
		return
	}
	var data proto.FileActivityData
	if !r.decode(c, raw, &data) {
		return
	}
	if data.FilePath != "" {
		if err := session.ValidatePath(data.FilePath); err != nil {
			r.sendError(c, proto.OutError, proto.ErrCodeInvalidPayload, err.Error())
			return
		}
	}

	r.hub.BroadcastToPeers(s.ID, c.ID, proto.Outbound{
		Type: proto.OutFileActivityUpdate,
		Data: proto.FileActivityEvent{FilePath: data.FilePath, UserID: c.Principal.UserID},
	})
}

func (r *Router) handleChat(c *Conn, raw json.RawMessage) {
	s, ok := r.requireBound(c)
	if !ok {
		return
	}
	if !r.requirePerm(c, s, "canChat", func(p session.Permissions) bool { return p.CanChat }) {
		return
	}
	var data proto.ChatMessageData
	if !r.decode(c, raw, &data) {
		return
	}
	if data.Content == "" {
		r.sendError(c, proto.OutError, proto.ErrCodeInvalidPayload, "message content required")
		return
	}

	msg, err := s.AppendChat(c.Principal.UserID, data.Content, data.Type)
	if err != nil {
		r.replyStateError(c, err)
		return
	}
	r.hub.BroadcastToSession(s.ID, proto.Outbound{Type: proto.OutChatMessage, Data: msg})
}

func (r *Router) handleExecute(ctx context.Context, c *Conn, raw json.RawMessage) {
	s, ok := r.requireBound(c)
	if !ok {
		return
	}
	if !r.requirePerm(c, s, "canExecute", func(p session.Permissions) bool { return p.CanExecute }) {
		return
	}
	var data proto.ExecuteCodeData
	if !r.decode(c, raw, &data) {
		return
	}
	if data.Language == "" {
		r.sendError(c, proto.OutError, proto.ErrCodeInvalidPayload, "language required")
		return
	}
	if len(data.Code) > session.MaxCodeBytes {
		r.sendError(c, proto.OutError, proto.ErrCodeInvalidPayload, "code payload exceeds size limit")
		return
	}

	// Unknown language fails before execution_started: nobody else has
	// seen anything yet, so only the sender hears about it.
	if !execengine.Supported(data.Language) {
		r.metrics.CountError()
		r.hub.Send(c, proto.Outbound{
			Type: proto.OutExecutionError,
			Data: proto.ExecutionErrorData{
				Code:     proto.ErrCodeUnsupportedLanguage,
				Message:  "unsupported language: " + data.Language,
				Language: data.Language,
			},
		})
		return
	}

	r.hub.BroadcastToSession(s.ID, proto.Outbound{
		Type: proto.OutExecutionStarted,
		Data: proto.ExecutionStartedData{UserID: c.Principal.UserID, Language: data.Language},
	})

	sessionID := s.ID
	go func() {
		result, err := r.engine.Execute(ctx, execengine.Request{
			Language: data.Language,
			Code:     data.Code,
			Stdin:    data.Input,
		})
		if err != nil {
			r.broadcastExecutionError(sessionID, data.Language, err)
			return
		}
		r.hub.BroadcastToSession(sessionID, proto.Outbound{Type: proto.OutExecutionResult, Data: result})
	}()
}

// broadcastExecutionError surfaces a sandbox failure to the whole room,
// since the room already saw execution_started.
func (r *Router) broadcastExecutionError(sessionID, language string, err error) {
	data := proto.ExecutionErrorData{Language: language}
	switch {
	case errors.Is(err, execengine.ErrUnsupportedLanguage):
		data.Code = proto.ErrCodeUnsupportedLanguage
		data.Message = "unsupported language: " + language
	case errors.Is(err, execengine.ErrTimeout):
		data.Code = proto.ErrCodeExecutionTimeout
		data.Message = "execution timed out"
	default:
		data.Code = proto.ErrCodeExecutionFailed
		data.Message = err.Error()
	}
	r.log.Warn().Str("session_id", sessionID).Str("code", data.Code).Err(err).Msg("execution failed")
	r.hub.BroadcastToSession(sessionID, proto.Outbound{Type: proto.OutExecutionError, Data: data})
}

func (r *Router) handleUpdatePermissions(c *Conn, raw json.RawMessage) {
	s, ok := r.requireBound(c)
	if !ok {
		return
	}
	var data proto.UpdatePermissionsData
	if !r.decode(c, raw, &data) {
		return
	}
	if data.UserID == "" {
		r.sendError(c, proto.OutError, proto.ErrCodeInvalidPayload, "userId required")
		return
	}

	if err := s.SetPermissions(c.Principal.UserID, data.UserID, data.Permissions); err != nil {
		r.replyStateError(c, err)
		return
	}
	r.hub.BroadcastToSession(s.ID, proto.Outbound{
		Type: proto.OutPermissionsUpdated,
		Data: proto.PermissionsUpdatedData{UserID: data.UserID, Permissions: data.Permissions},
	})
}

func (r *Router) handleProjectInit(c *Conn, raw json.RawMessage, mode string) {
	s, ok := r.requireBound(c)
	if !ok {
		return
	}
	var data proto.ProjectInitData
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			r.sendError(c, proto.OutError, proto.ErrCodeInvalidPayload, "malformed project payload")
			return
		}
	}

	project, files, err := s.SetProject(c.Principal.UserID, mode, data.Template, data.Data)
	if err != nil {
		r.replyStateError(c, err)
		return
	}

	event := proto.OutProjectShareInit
	if mode == session.ProjectModeCreate {
		event = proto.OutProjectCreateInit
	}
	r.hub.BroadcastToSession(s.ID, proto.Outbound{
		Type: event,
		Data: proto.ProjectInitEvent{Project: project, Files: files, UserID: c.Principal.UserID},
	})
}

func (r *Router) handleAccessRights(c *Conn, raw json.RawMessage) {
	s, ok := r.requireBound(c)
	if !ok {
		return
	}
	var data proto.AccessRightsData
	if !r.decode(c, raw, &data) {
		return
	}
	if data.UserID == "" || data.AccessLevel == "" {
		r.sendError(c, proto.OutError, proto.ErrCodeInvalidPayload, "userId and accessLevel required")
		return
	}

	perms, err := s.ApplyAccessLevel(c.Principal.UserID, data.UserID, data.AccessLevel)
	if err != nil {
		r.replyStateError(c, err)
		return
	}
	r.hub.BroadcastToSession(s.ID, proto.Outbound{
		Type: proto.OutAccessRightsUpdate,
		Data: proto.AccessRightsEvent{
			UserID:      data.UserID,
			AccessLevel: data.AccessLevel,
			Permissions: perms,
		},
	})
}

func (r *Router) handleGetUsers(c *Conn) {
	s, ok := r.requireBound(c)
	if !ok {
		return
	}
	users := s.Users()
	r.hub.Send(c, proto.Outbound{
		Type: proto.OutSessionUsers,
		Data: proto.SessionUsersData{Users: users, UserCount: len(users)},
	})
}

func (r *Router) handleGetInfo(c *Conn) {
	s, ok := r.requireBound(c)
	if !ok {
		return
	}
	perms, _ := s.PermissionsOf(c.Principal.UserID)
	view := proto.SessionView{Info: s.Snapshot(), UserPermissions: perms}
	if perms.CanInviteOthers || c.Principal.UserID == s.CreatorID {
		if key, err := r.registry.InviteKey(s.ID); err == nil {
			view.Info.InviteKey = key
		}
	}
	r.hub.Send(c, proto.Outbound{Type: proto.OutSessionInfo, Data: view})
}

func (r *Router) handleGetFiles(c *Conn) {
	s, ok := r.requireBound(c)
	if !ok {
		return
	}
	r.hub.Send(c, proto.Outbound{
		Type: proto.OutSessionFiles,
		Data: proto.SessionFilesData{Files: s.Files()},
	})
}

func (r *Router) handleStartMonitoring(c *Conn) {
	s, ok := r.requireBound(c)
	if !ok {
		return
	}
	if c.SetMonitoring(true) {
		r.metrics.Subscribe(s.ID)
	}
	r.hub.Send(c, proto.Outbound{Type: proto.OutMonitoringStarted, Data: proto.MonitoringData{SessionID: s.ID}})
}

func (r *Router) handleStopMonitoring(c *Conn) {
	s, ok := r.requireBound(c)
	if !ok {
		return
	}
	if c.SetMonitoring(false) {
		r.metrics.Unsubscribe(s.ID)
	}
	r.hub.Send(c, proto.Outbound{Type: proto.OutMonitoringStopped, Data: proto.MonitoringData{SessionID: s.ID}})
}

// DeleteSession tears a session down on behalf of its creator: purge
// from the registry, then notify and unbind every bound connection.
func (r *Router) DeleteSession(sessionID, byUserID string) error {
	if _, err := r.registry.Delete(sessionID, byUserID); err != nil {
		return err
	}

	msg := proto.Outbound{Type: proto.OutSessionDeleted, Data: proto.SessionDeletedData{SessionID: sessionID}}
	for _, c := range r.hub.DropSession(sessionID) {
		r.hub.Send(c, msg)
	}
	r.metrics.DropSession(sessionID)
	return nil
}

// BroadcastMetrics delivers one metrics snapshot to a session room; it
// is the ticker's fan-out hook.
func (r *Router) BroadcastMetrics(sessionID string, snap metrics.Snapshot) {
	r.hub.BroadcastToSession(sessionID, proto.Outbound{Type: proto.OutPerformanceMetrics, Data: snap})
}
