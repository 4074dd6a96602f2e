package core

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lakshmih20/S3-CodeCollab-2025/internal/auth"
	"github.com/lakshmih20/S3-CodeCollab-2025/internal/execengine"
	"github.com/lakshmih20/S3-CodeCollab-2025/internal/metrics"
	"github.com/lakshmih20/S3-CodeCollab-2025/internal/proto"
	"github.com/lakshmih20/S3-CodeCollab-2025/internal/session"
)

type fakeEngine struct {
	mu     sync.Mutex
	result execengine.Result
	err    error
	last   execengine.Request
}

var _ execengine.Engine = (*fakeEngine)(nil)

func (f *fakeEngine) Execute(ctx context.Context, req execengine.Request) (*execengine.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	res := f.result
	return &res, nil
}

func (f *fakeEngine) Runtimes(ctx context.Context) ([]execengine.Runtime, error) {
	return nil, nil
}

func (f *fakeEngine) respond(res execengine.Result, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.result = res
	f.err = err
}

func (f *fakeEngine) lastRequest() execengine.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

type routerFixture struct {
	router   *Router
	registry *session.Registry
	hub      *Hub
	engine   *fakeEngine
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()

	disabledLogger := zerolog.New(nil)
	registry := session.NewRegistry(session.RegistryConfig{EmptyTTL: time.Hour}, &disabledLogger)
	hub := NewHub(&disabledLogger)
	engine := &fakeEngine{}

	var router *Router
	ticker := metrics.NewTicker(20*time.Millisecond, registry, func(id string, snap metrics.Snapshot) {
		router.BroadcastMetrics(id, snap)
	}, &disabledLogger)
	router = NewRouter(hub, registry, engine, ticker, &disabledLogger)

	return &routerFixture{router: router, registry: registry, hub: hub, engine: engine}
}

func (f *routerFixture) connect(t *testing.T, userID string) *Conn {
	t.Helper()

	c := NewConn(auth.Principal{
		UserID:      userID,
		DisplayName: userID,
		Role:        auth.RoleUser,
	}, "127.0.0.1", true)
	f.hub.Register(c)
	return c
}

func (f *routerFixture) createSession(t *testing.T, creator *Conn, opts session.CreateOptions) (*session.Session, string) {
	t.Helper()

	s, key, err := f.registry.Create(creator.Principal, opts)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return s, key
}

func (f *routerFixture) dispatch(t *testing.T, c *Conn, event string, payload any) {
	t.Helper()

	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal %s payload: %v", event, err)
		}
		raw = b
	}
	f.router.Dispatch(context.Background(), c, proto.Inbound{Type: event, Data: raw})
}

// join performs join_session via invite key and consumes the three-event
// snapshot burst, returning the session_joined payload.
func (f *routerFixture) join(t *testing.T, c *Conn, inviteKey string) proto.SessionJoinedData {
	t.Helper()

	f.dispatch(t, c, proto.InJoinSession, proto.JoinSessionData{InviteKey: inviteKey})
	ev := mustEvent(t, c.Events, proto.OutSessionJoined)
	joined, ok := ev.Data.(proto.SessionJoinedData)
	if !ok {
		t.Fatalf("session_joined payload is %T", ev.Data)
	}
	mustEvent(t, c.Events, proto.OutCodeUpdate)
	mustEvent(t, c.Events, proto.OutSessionFilesState)
	return joined
}

func TestJoinDeliversSnapshotAndNotifiesPeers(t *testing.T) {
	f := newRouterFixture(t)
	creator := f.connect(t, "alice")
	_, key := f.createSession(t, creator, session.CreateOptions{Name: "review"})

	joined := f.join(t, creator, key)
	if joined.Session.InviteKey != key {
		t.Fatalf("creator join missing invite key: %+v", joined.Session.Info)
	}
	if joined.Session.UserCount != 1 || joined.Session.Name != "review" {
		t.Fatalf("unexpected session view: %+v", joined.Session.Info)
	}

	peer := f.connect(t, "bob")
	peerView := f.join(t, peer, key)
	if peerView.Session.InviteKey != "" {
		t.Fatalf("joiner without invite permission received the key")
	}
	if peerView.Session.UserCount != 2 {
		t.Fatalf("peer userCount = %d, want 2", peerView.Session.UserCount)
	}

	notice := mustEvent(t, creator.Events, proto.OutUserJoinedSession).Data.(proto.UserJoinedData)
	if notice.User.UserID != "bob" || notice.UserCount != 2 {
		t.Fatalf("unexpected join notice: %+v", notice)
	}
	update := mustEvent(t, creator.Events, proto.OutSessionUpdate).Data.(proto.SessionUpdateData)
	if len(update.Users) != 2 {
		t.Fatalf("session_update users = %d, want 2", len(update.Users))
	}
	noEvent(t, peer.Events, proto.OutUserJoinedSession)
}

func TestJoinInvalidKeyLeavesConnUnbound(t *testing.T) {
	f := newRouterFixture(t)
	creator := f.connect(t, "alice")
	_, key := f.createSession(t, creator, session.CreateOptions{})

	c := f.connect(t, "bob")
	f.dispatch(t, c, proto.InJoinSession, proto.JoinSessionData{InviteKey: "AAAABBBBCCCC"})
	ev := mustEvent(t, c.Events, proto.OutSessionError)
	if got := errCode(t, ev); got != proto.ErrCodeInvalidInvite {
		t.Fatalf("error code = %q, want invalid_invite", got)
	}
	if c.State() != StateUnbound {
		t.Fatalf("conn bound after failed join")
	}

	// A rejected join must not poison the connection.
	f.join(t, c, key)
}

func TestSecondJoinRejected(t *testing.T) {
	f := newRouterFixture(t)
	creator := f.connect(t, "alice")
	_, key := f.createSession(t, creator, session.CreateOptions{})
	f.join(t, creator, key)

	f.dispatch(t, creator, proto.InJoinSession, proto.JoinSessionData{InviteKey: key})
	ev := mustEvent(t, creator.Events, proto.OutError)
	if got := errCode(t, ev); got != proto.ErrCodeAlreadyJoined {
		t.Fatalf("error code = %q, want already_joined", got)
	}
}

func TestJoinFullSession(t *testing.T) {
	f := newRouterFixture(t)
	creator := f.connect(t, "alice")
	_, key := f.createSession(t, creator, session.CreateOptions{MaxUsers: 1})
	f.join(t, creator, key)

	peer := f.connect(t, "bob")
	f.dispatch(t, peer, proto.InJoinSession, proto.JoinSessionData{InviteKey: key})
	ev := mustEvent(t, peer.Events, proto.OutSessionError)
	if got := errCode(t, ev); got != proto.ErrCodeSessionFull {
		t.Fatalf("error code = %q, want session_full", got)
	}
	if peer.State() != StateUnbound {
		t.Fatalf("refused conn left bound")
	}
}

func TestGuestJoinDenied(t *testing.T) {
	f := newRouterFixture(t)
	creator := f.connect(t, "alice")
	_, key := f.createSession(t, creator, session.CreateOptions{})

	guest := NewConn(auth.NewGuestPrincipal(), "127.0.0.1", false)
	f.hub.Register(guest)
	f.dispatch(t, guest, proto.InJoinSession, proto.JoinSessionData{InviteKey: key})
	ev := mustEvent(t, guest.Events, proto.OutSessionError)
	if got := errCode(t, ev); got != proto.ErrCodeGuestDenied {
		t.Fatalf("error code = %q, want guest_denied", got)
	}
	if guest.State() != StateUnbound {
		t.Fatalf("denied guest left bound")
	}
}

func TestEventBeforeJoinRejected(t *testing.T) {
	f := newRouterFixture(t)
	c := f.connect(t, "alice")

	f.dispatch(t, c, proto.InCodeChange, map[string]string{"code": "x"})
	ev := mustEvent(t, c.Events, proto.OutError)
	if got := errCode(t, ev); got != proto.ErrCodeNotInSession {
		t.Fatalf("error code = %q, want not_in_session", got)
	}
}

func TestExplicitLeaveNotifiesPeers(t *testing.T) {
	f := newRouterFixture(t)
	creator := f.connect(t, "alice")
	_, key := f.createSession(t, creator, session.CreateOptions{})
	f.join(t, creator, key)
	peer := f.connect(t, "bob")
	f.join(t, peer, key)

	f.dispatch(t, peer, proto.InLeaveSession, nil)
	mustEvent(t, peer.Events, proto.OutSessionLeft)

	left := mustEvent(t, creator.Events, proto.OutUserLeftSession).Data.(proto.UserLeftData)
	if left.UserID != "bob" || left.UserCount != 1 {
		t.Fatalf("unexpected leave notice: %+v", left)
	}

	// Leaving twice is an error, not a double notification.
	f.dispatch(t, peer, proto.InLeaveSession, nil)
	ev := mustEvent(t, peer.Events, proto.OutError)
	if got := errCode(t, ev); got != proto.ErrCodeNotInSession {
		t.Fatalf("error code = %q, want not_in_session", got)
	}
	noEvent(t, creator.Events, proto.OutUserLeftSession)
}

func TestMultiTabDepartureNotifiesOnLastConn(t *testing.T) {
	f := newRouterFixture(t)
	creator := f.connect(t, "alice")
	_, key := f.createSession(t, creator, session.CreateOptions{})
	f.join(t, creator, key)

	tab1 := f.connect(t, "bob")
	tab2 := f.connect(t, "bob")
	f.join(t, tab1, key)
	f.join(t, tab2, key)

	f.router.HandleDisconnect(tab1)
	noEvent(t, creator.Events, proto.OutUserLeftSession)

	f.router.HandleDisconnect(tab2)
	left := mustEvent(t, creator.Events, proto.OutUserLeftSession).Data.(proto.UserLeftData)
	if left.UserID != "bob" {
		t.Fatalf("unexpected departure notice: %+v", left)
	}
}

func TestCodeChangeFanout(t *testing.T) {
	f := newRouterFixture(t)
	creator := f.connect(t, "alice")
	s, key := f.createSession(t, creator, session.CreateOptions{})
	f.join(t, creator, key)
	peer := f.connect(t, "bob")
	f.join(t, peer, key)

	f.dispatch(t, peer, proto.InCodeChange, map[string]string{"code": "print(1)"})

	update := mustEvent(t, creator.Events, proto.OutCodeUpdate).Data.(proto.CodeUpdateData)
	if update.Code != "print(1)" || update.UserID != "bob" {
		t.Fatalf("unexpected code update: %+v", update)
	}
	noEvent(t, peer.Events, proto.OutCodeUpdate)
	if got := s.Code(); got != "print(1)" {
		t.Fatalf("session code = %q, want %q", got, "print(1)")
	}
}

func TestCodeChangeSizeBoundary(t *testing.T) {
	f := newRouterFixture(t)
	creator := f.connect(t, "alice")
	s, key := f.createSession(t, creator, session.CreateOptions{})
	f.join(t, creator, key)

	max := strings.Repeat("a", session.MaxCodeBytes)
	f.dispatch(t, creator, proto.InCodeChange, map[string]string{"code": max})
	if len(s.Code()) != session.MaxCodeBytes {
		t.Fatalf("payload at the size limit rejected")
	}

	f.dispatch(t, creator, proto.InCodeChange, map[string]string{"code": max + "a"})
	ev := mustEvent(t, creator.Events, proto.OutError)
	if got := errCode(t, ev); got != proto.ErrCodeInvalidPayload {
		t.Fatalf("error code = %q, want invalid_payload", got)
	}
	if len(s.Code()) != session.MaxCodeBytes {
		t.Fatalf("oversize payload mutated state")
	}
}

func TestFileOperationRejectsTraversalPath(t *testing.T) {
	f := newRouterFixture(t)
	creator := f.connect(t, "alice")
	s, key := f.createSession(t, creator, session.CreateOptions{})
	f.join(t, creator, key)

	f.dispatch(t, creator, proto.InFileOperation, proto.FileOperationData{
		Action: session.FileOpCreate,
		Path:   "../../etc/passwd",
	})
	ev := mustEvent(t, creator.Events, proto.OutError)
	if got := errCode(t, ev); got != proto.ErrCodeInvalidPayload {
		t.Fatalf("error code = %q, want invalid_payload", got)
	}
	if len(s.Files()) != 0 {
		t.Fatalf("traversal path created a file")
	}
}

func TestPermissionDeniedBlocksMutation(t *testing.T) {
	f := newRouterFixture(t)
	creator := f.connect(t, "alice")
	s, key := f.createSession(t, creator, session.CreateOptions{})
	f.join(t, creator, key)
	peer := f.connect(t, "bob")
	f.join(t, peer, key)

	perms := session.DefaultPermissions()
	perms.CanEditFiles = false
	f.dispatch(t, creator, proto.InUpdatePermissions, proto.UpdatePermissionsData{UserID: "bob", Permissions: perms})
	mustEvent(t, peer.Events, proto.OutPermissionsUpdated)

	f.dispatch(t, peer, proto.InCodeChange, map[string]string{"code": "nope"})
	ev := mustEvent(t, peer.Events, proto.OutError)
	if got := errCode(t, ev); got != proto.ErrCodeAccessDenied {
		t.Fatalf("error code = %q, want access_denied", got)
	}
	noEvent(t, creator.Events, proto.OutCodeUpdate)
	if s.Code() != "" {
		t.Fatalf("denied event mutated state")
	}
}

func TestDemotionSurvivesRejoin(t *testing.T) {
	f := newRouterFixture(t)
	creator := f.connect(t, "alice")
	_, key := f.createSession(t, creator, session.CreateOptions{})
	f.join(t, creator, key)
	peer := f.connect(t, "bob")
	f.join(t, peer, key)

	perms := session.DefaultPermissions()
	perms.CanEditFiles = false
	f.dispatch(t, creator, proto.InUpdatePermissions, proto.UpdatePermissionsData{UserID: "bob", Permissions: perms})

	f.dispatch(t, peer, proto.InLeaveSession, nil)
	mustEvent(t, peer.Events, proto.OutSessionLeft)

	rejoined := f.join(t, peer, key)
	if rejoined.Session.UserPermissions.CanEditFiles {
		t.Fatalf("demotion lost across rejoin")
	}
}

func TestPermissionUpdatesAreCreatorOnly(t *testing.T) {
	f := newRouterFixture(t)
	creator := f.connect(t, "alice")
	_, key := f.createSession(t, creator, session.CreateOptions{})
	f.join(t, creator, key)
	peer := f.connect(t, "bob")
	f.join(t, peer, key)

	// Even holding canManagePermissions does not make bob the creator.
	elevated := session.DefaultPermissions()
	elevated.CanManagePermissions = true
	f.dispatch(t, creator, proto.InUpdatePermissions, proto.UpdatePermissionsData{UserID: "bob", Permissions: elevated})
	mustEvent(t, peer.Events, proto.OutPermissionsUpdated)

	downgrade := session.DefaultPermissions()
	downgrade.CanExecute = false
	f.dispatch(t, peer, proto.InUpdatePermissions, proto.UpdatePermissionsData{UserID: "alice", Permissions: downgrade})
	ev := mustEvent(t, peer.Events, proto.OutError)
	if got := errCode(t, ev); got != proto.ErrCodeAccessDenied {
		t.Fatalf("error code = %q, want access_denied", got)
	}
}

func TestChatReachesWholeRoom(t *testing.T) {
	f := newRouterFixture(t)
	creator := f.connect(t, "alice")
	_, key := f.createSession(t, creator, session.CreateOptions{})
	f.join(t, creator, key)
	peer := f.connect(t, "bob")
	f.join(t, peer, key)

	f.dispatch(t, peer, proto.InChatMessage, map[string]string{"content": "hi"})

	for _, c := range []*Conn{creator, peer} {
		msg := mustEvent(t, c.Events, proto.OutChatMessage).Data.(session.ChatMessage)
		if msg.Content != "hi" || msg.UserID != "bob" {
			t.Fatalf("unexpected chat payload: %+v", msg)
		}
	}

	f.dispatch(t, peer, proto.InChatMessage, map[string]string{"content": ""})
	ev := mustEvent(t, peer.Events, proto.OutError)
	if got := errCode(t, ev); got != proto.ErrCodeInvalidPayload {
		t.Fatalf("error code = %q, want invalid_payload", got)
	}
}

func TestExecuteBroadcastsStartAndResult(t *testing.T) {
	f := newRouterFixture(t)
	f.engine.respond(execengine.Result{Success: true, Language: "python", Output: "4\n"}, nil)
	creator := f.connect(t, "alice")
	_, key := f.createSession(t, creator, session.CreateOptions{})
	f.join(t, creator, key)
	peer := f.connect(t, "bob")
	f.join(t, peer, key)

	f.dispatch(t, peer, proto.InExecuteCode, map[string]string{"language": "python", "code": "print(2+2)"})

	for _, c := range []*Conn{creator, peer} {
		started := mustEvent(t, c.Events, proto.OutExecutionStarted).Data.(proto.ExecutionStartedData)
		if started.UserID != "bob" || started.Language != "python" {
			t.Fatalf("unexpected execution_started: %+v", started)
		}
		result := mustEvent(t, c.Events, proto.OutExecutionResult).Data.(*execengine.Result)
		if !result.Success || result.Output != "4\n" {
			t.Fatalf("unexpected execution_result: %+v", result)
		}
	}

	req := f.engine.lastRequest()
	if req.Language != "python" || req.Code != "print(2+2)" {
		t.Fatalf("engine request = %+v", req)
	}
}

func TestExecuteUnknownLanguageFailsSenderOnly(t *testing.T) {
	f := newRouterFixture(t)
	creator := f.connect(t, "alice")
	_, key := f.createSession(t, creator, session.CreateOptions{})
	f.join(t, creator, key)
	peer := f.connect(t, "bob")
	f.join(t, peer, key)

	f.dispatch(t, peer, proto.InExecuteCode, map[string]string{"language": "brainfuck", "code": "+"})

	execErr := mustEvent(t, peer.Events, proto.OutExecutionError).Data.(proto.ExecutionErrorData)
	if execErr.Code != proto.ErrCodeUnsupportedLanguage {
		t.Fatalf("error code = %q, want unsupported_language", execErr.Code)
	}
	noEvent(t, creator.Events, proto.OutExecutionStarted)
	noEvent(t, creator.Events, proto.OutExecutionError)
}

func TestExecuteTimeoutReachesRoom(t *testing.T) {
	f := newRouterFixture(t)
	f.engine.respond(execengine.Result{}, execengine.ErrTimeout)
	creator := f.connect(t, "alice")
	_, key := f.createSession(t, creator, session.CreateOptions{})
	f.join(t, creator, key)
	peer := f.connect(t, "bob")
	f.join(t, peer, key)

	f.dispatch(t, peer, proto.InExecuteCode, map[string]string{"language": "go", "code": "for {}"})

	for _, c := range []*Conn{creator, peer} {
		mustEvent(t, c.Events, proto.OutExecutionStarted)
		execErr := mustEvent(t, c.Events, proto.OutExecutionError).Data.(proto.ExecutionErrorData)
		if execErr.Code != proto.ErrCodeExecutionTimeout {
			t.Fatalf("error code = %q, want execution_timeout", execErr.Code)
		}
	}
}

func TestSessionInfoIncludesKeyForCreatorOnly(t *testing.T) {
	f := newRouterFixture(t)
	creator := f.connect(t, "alice")
	_, key := f.createSession(t, creator, session.CreateOptions{})
	f.join(t, creator, key)
	peer := f.connect(t, "bob")
	f.join(t, peer, key)

	f.dispatch(t, creator, proto.InGetSessionInfo, nil)
	view := mustEvent(t, creator.Events, proto.OutSessionInfo).Data.(proto.SessionView)
	if view.InviteKey != key {
		t.Fatalf("creator view missing invite key")
	}

	f.dispatch(t, peer, proto.InGetSessionInfo, nil)
	view = mustEvent(t, peer.Events, proto.OutSessionInfo).Data.(proto.SessionView)
	if view.InviteKey != "" {
		t.Fatalf("member view leaked the invite key")
	}
}

func TestUnknownEventIgnored(t *testing.T) {
	f := newRouterFixture(t)
	c := f.connect(t, "alice")

	f.dispatch(t, c, "definitely_not_an_event", nil)
	if got := len(c.Events); got != 0 {
		t.Fatalf("unknown event produced %d events", got)
	}
}

func TestDeleteSessionNotifiesAndUnbinds(t *testing.T) {
	f := newRouterFixture(t)
	creator := f.connect(t, "alice")
	s, key := f.createSession(t, creator, session.CreateOptions{})
	f.join(t, creator, key)
	peer := f.connect(t, "bob")
	f.join(t, peer, key)

	if err := f.router.DeleteSession(s.ID, "bob"); err == nil {
		t.Fatalf("non-creator delete succeeded")
	}
	if err := f.router.DeleteSession(s.ID, "alice"); err != nil {
		t.Fatalf("delete session: %v", err)
	}

	for _, c := range []*Conn{creator, peer} {
		mustEvent(t, c.Events, proto.OutSessionDeleted)
		if c.State() != StateUnbound {
			t.Fatalf("conn still bound after session delete")
		}
	}
	if _, err := f.registry.Get(s.ID); err == nil {
		t.Fatalf("session still resolvable after delete")
	}
}

func TestMonitoringDeliversMetrics(t *testing.T) {
	f := newRouterFixture(t)
	creator := f.connect(t, "alice")
	_, key := f.createSession(t, creator, session.CreateOptions{})
	f.join(t, creator, key)

	f.dispatch(t, creator, proto.InStartMonitoring, nil)
	mustEvent(t, creator.Events, proto.OutMonitoringStarted)

	ev := mustEvent(t, creator.Events, proto.OutPerformanceMetrics)
	snap, ok := ev.Data.(metrics.Snapshot)
	if !ok {
		t.Fatalf("metrics payload is %T", ev.Data)
	}
	if snap.ActiveUsers != 1 {
		t.Fatalf("activeUsers = %d, want 1", snap.ActiveUsers)
	}

	f.dispatch(t, creator, proto.InStopMonitoring, nil)
	mustEvent(t, creator.Events, proto.OutMonitoringStopped)
}

func TestMonitoringRestartsAfterSessionDelete(t *testing.T) {
	f := newRouterFixture(t)
	creator := f.connect(t, "alice")
	s, key := f.createSession(t, creator, session.CreateOptions{})
	f.join(t, creator, key)

	f.dispatch(t, creator, proto.InStartMonitoring, nil)
	mustEvent(t, creator.Events, proto.OutMonitoringStarted)
	mustEvent(t, creator.Events, proto.OutPerformanceMetrics)

	if err := f.router.DeleteSession(s.ID, "alice"); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	mustEvent(t, creator.Events, proto.OutSessionDeleted)
	if creator.Monitoring() {
		t.Fatalf("monitoring flag survived session delete")
	}

	// A tick in flight during teardown may still land; let it, then
	// flush so later metrics can only come from a fresh subscription.
	time.Sleep(50 * time.Millisecond)
	for len(creator.Events) > 0 {
		<-creator.Events
	}

	_, key2 := f.createSession(t, creator, session.CreateOptions{Name: "second"})
	f.join(t, creator, key2)

	f.dispatch(t, creator, proto.InStartMonitoring, nil)
	mustEvent(t, creator.Events, proto.OutMonitoringStarted)
	snap := mustEvent(t, creator.Events, proto.OutPerformanceMetrics).Data.(metrics.Snapshot)
	if snap.ActiveUsers != 1 {
		t.Fatalf("activeUsers = %d, want 1", snap.ActiveUsers)
	}
}
