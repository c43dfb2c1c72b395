package realtime

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/coauthorhq/coauthor/backend/internal/auth"
)

type stubVerifier struct {
	identities map[string]auth.Identity
}

func (v *stubVerifier) VerifyToken(token string) (auth.Identity, error) {
	identity, ok := v.identities[token]
	if !ok {
		return auth.Identity{}, errors.New("unknown token")
	}
	return identity, nil
}

type adjustment struct {
	workspaceID string
	delta       int64
}

type recordingSink struct {
	mu          sync.Mutex
	adjustments []adjustment
	edits       []string
	activities  []string
}

func (s *recordingSink) AdjustActiveUsers(_ context.Context, workspaceID string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adjustments = append(s.adjustments, adjustment{workspaceID: workspaceID, delta: delta})
	return nil
}

func (s *recordingSink) RecordEdit(_ context.Context, workspaceID, _, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edits = append(s.edits, workspaceID+"/"+documentID)
	return nil
}

func (s *recordingSink) RecordActivity(_ context.Context, _, _, _, action string, _ map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activities = append(s.activities, action)
	return nil
}

func (s *recordingSink) adjustmentLog() []adjustment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]adjustment(nil), s.adjustments...)
}

type sessionFixture struct {
	store      *memoryStore
	rooms      *RoomManager
	presence   *Registry
	dispatcher *Dispatcher
	sink       *recordingSink
	verifier   *stubVerifier
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	store := newMemoryStore()
	rooms, err := NewRoomManager(RoomManagerConfig{Store: store, FlushDelay: time.Hour})
	if err != nil {
		t.Fatalf("failed to construct room manager: %v", err)
	}
	return &sessionFixture{
		store:      store,
		rooms:      rooms,
		presence:   NewRegistry(),
		dispatcher: NewDispatcher(),
		sink:       &recordingSink{},
		verifier: &stubVerifier{identities: map[string]auth.Identity{
			"token-a": {UserID: "user-a", DisplayName: "Ada"},
			"token-b": {UserID: "user-b", DisplayName: "Grace"},
		}},
	}
}

func (f *sessionFixture) newSession(t *testing.T, connectionID string) (*Session, *fakePeer) {
	t.Helper()
	transport := &fakePeer{id: connectionID}
	session, err := NewSession(SessionConfig{
		Transport:  transport,
		Verifier:   f.verifier,
		Rooms:      f.rooms,
		Presence:   f.presence,
		Analytics:  f.sink,
		Dispatcher: f.dispatcher,
	})
	if err != nil {
		t.Fatalf("failed to construct session: %v", err)
	}
	return session, transport
}

func waitFor(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestJoinSeedsJoinerOnly(t *testing.T) {
	fixture := newSessionFixture(t)
	fixture.store.content["doc-1"] = "hello"
	ctx := context.Background()

	sessionA, peerA := fixture.newSession(t, "conn-a")
	sessionA.HandleJoin(ctx, JoinPayload{Token: "token-a", DocumentID: "doc-1"})

	initData, ok := peerA.lastOf(EventInit)
	if !ok {
		t.Fatalf("expected init event for joiner")
	}
	init := initData.(InitPayload)
	if init.Snapshot != "hello" || init.Version != 1 || init.DocumentID != "doc-1" {
		t.Fatalf("unexpected init payload %#v", init)
	}

	sessionB, peerB := fixture.newSession(t, "conn-b")
	sessionB.HandleJoin(ctx, JoinPayload{Token: "token-b", DocumentID: "doc-1"})

	if peerB.countOf(EventInit) != 1 {
		t.Fatalf("expected init for second joiner")
	}
	if peerA.countOf(EventInit) != 1 {
		t.Fatalf("init must go to the joiner only, conn-a saw %d", peerA.countOf(EventInit))
	}

	presenceData, ok := peerA.lastOf(EventPresenceUpdate)
	if !ok {
		t.Fatalf("expected presence broadcast to reach existing member")
	}
	if users := presenceData.(PresenceBroadcast).Users; len(users) != 2 {
		t.Fatalf("expected 2 presence entries, got %#v", users)
	}
}

func TestJoinRejectsMissingFields(t *testing.T) {
	fixture := newSessionFixture(t)
	session, peer := fixture.newSession(t, "conn-a")

	session.HandleJoin(context.Background(), JoinPayload{DocumentID: "doc-1"})
	if peer.countOf(EventError) != 1 {
		t.Fatalf("expected error event for missing token")
	}
	if len(fixture.presence.List("doc-1")) != 0 {
		t.Fatalf("rejected join must not leave presence behind")
	}
}

func TestJoinRejectsBadToken(t *testing.T) {
	fixture := newSessionFixture(t)
	session, peer := fixture.newSession(t, "conn-a")

	session.HandleJoin(context.Background(), JoinPayload{Token: "forged", DocumentID: "doc-1"})
	if peer.countOf(EventError) != 1 {
		t.Fatalf("expected authentication error event")
	}
	if session.Identity() != nil {
		t.Fatalf("identity must stay unset after rejected join")
	}
}

func TestDocUpdateFansOutToOthersOnly(t *testing.T) {
	fixture := newSessionFixture(t)
	fixture.store.content["doc-1"] = "hello"
	ctx := context.Background()

	sessionA, peerA := fixture.newSession(t, "conn-a")
	sessionA.HandleJoin(ctx, JoinPayload{Token: "token-a", DocumentID: "doc-1", WorkspaceID: "ws-1"})
	sessionB, peerB := fixture.newSession(t, "conn-b")
	sessionB.HandleJoin(ctx, JoinPayload{Token: "token-b", DocumentID: "doc-1", WorkspaceID: "ws-1"})

	sessionA.HandleDocUpdate(ctx, DocUpdatePayload{
		DocumentID: "doc-1",
		Delta:      &EditDelta{Snapshot: stringPtr("hello world")},
	})

	updateData, ok := peerB.lastOf(EventDocUpdate)
	if !ok {
		t.Fatalf("expected doc:update for the other member")
	}
	update := updateData.(DocBroadcast)
	if update.Content == nil || *update.Content != "hello world" {
		t.Fatalf("unexpected broadcast content %#v", update.Content)
	}
	if update.Version != 2 || update.User.ID != "user-a" {
		t.Fatalf("unexpected broadcast %#v", update)
	}
	if peerA.countOf(EventDocUpdate) != 0 {
		t.Fatalf("sender must not receive its own update")
	}

	fixture.sink.mu.Lock()
	edits := append([]string(nil), fixture.sink.edits...)
	fixture.sink.mu.Unlock()
	if len(edits) != 1 || edits[0] != "ws-1/doc-1" {
		t.Fatalf("unexpected edit records %v", edits)
	}
}

func TestDocUpdateRequiresJoin(t *testing.T) {
	fixture := newSessionFixture(t)
	session, peer := fixture.newSession(t, "conn-a")

	session.HandleDocUpdate(context.Background(), DocUpdatePayload{
		DocumentID: "doc-1",
		Delta:      &EditDelta{Snapshot: stringPtr("sneaky")},
	})
	if peer.countOf(EventError) != 1 {
		t.Fatalf("expected not-authenticated error")
	}
	if fixture.store.writeCount() != 0 {
		t.Fatalf("unauthenticated edit must not reach the store")
	}
}

func TestWorkspaceCountedOncePerConnection(t *testing.T) {
	fixture := newSessionFixture(t)
	ctx := context.Background()
	session, _ := fixture.newSession(t, "conn-a")

	session.HandleJoin(ctx, JoinPayload{Token: "token-a", DocumentID: "doc-1", WorkspaceID: "ws-1"})
	session.HandleJoin(ctx, JoinPayload{Token: "token-a", DocumentID: "doc-2", WorkspaceID: "ws-1"})

	log := fixture.sink.adjustmentLog()
	if len(log) != 1 || log[0] != (adjustment{workspaceID: "ws-1", delta: 1}) {
		t.Fatalf("expected a single increment, got %v", log)
	}

	session.HandleLeave(ctx, LeavePayload{DocumentID: "doc-1", WorkspaceID: "ws-1"})
	session.HandleLeave(ctx, LeavePayload{DocumentID: "doc-2", WorkspaceID: "ws-1"})

	log = fixture.sink.adjustmentLog()
	if len(log) != 2 || log[1] != (adjustment{workspaceID: "ws-1", delta: -1}) {
		t.Fatalf("expected exactly one decrement, got %v", log)
	}
}

func TestDisconnectCleansUpEverything(t *testing.T) {
	fixture := newSessionFixture(t)
	ctx := context.Background()

	sessionA, peerA := fixture.newSession(t, "conn-a")
	sessionA.HandleJoin(ctx, JoinPayload{Token: "token-a", DocumentID: "doc-1", WorkspaceID: "ws-1"})
	sessionB, _ := fixture.newSession(t, "conn-b")
	sessionB.HandleJoin(ctx, JoinPayload{Token: "token-b", DocumentID: "doc-1", WorkspaceID: "ws-1"})

	sessionB.HandleDisconnect(ctx)

	if entries := fixture.presence.List("doc-1"); len(entries) != 1 || entries[0].ConnectionID != "conn-a" {
		t.Fatalf("unexpected presence after disconnect %#v", entries)
	}
	presenceData, ok := peerA.lastOf(EventPresenceUpdate)
	if !ok {
		t.Fatalf("expected presence broadcast to survivor")
	}
	if users := presenceData.(PresenceBroadcast).Users; len(users) != 1 {
		t.Fatalf("expected single remaining entry, got %#v", users)
	}
	if docs := fixture.rooms.DocumentsFor("conn-b"); len(docs) != 0 {
		t.Fatalf("expected room membership cleared, got %v", docs)
	}

	log := fixture.sink.adjustmentLog()
	if len(log) != 3 || log[2] != (adjustment{workspaceID: "ws-1", delta: -1}) {
		t.Fatalf("expected disconnect decrement, got %v", log)
	}
	waitFor(t, "notification stream teardown", func() bool {
		return !fixture.dispatcher.Connected("user-b")
	})
}

func TestDisconnectReleasesNotificationForwarder(t *testing.T) {
	fixture := newSessionFixture(t)
	ctx := context.Background()
	baseline := runtime.NumGoroutine()

	const connections = 25
	for i := 0; i < connections; i++ {
		session, _ := fixture.newSession(t, fmt.Sprintf("conn-%d", i))
		session.HandleJoin(ctx, JoinPayload{Token: "token-a", DocumentID: "doc-1"})
		session.HandleDisconnect(ctx)
	}

	waitFor(t, "forwarder goroutines to exit", func() bool {
		return runtime.NumGoroutine() <= baseline
	})
	if fixture.dispatcher.Connected("user-a") {
		t.Fatalf("expected all personal subscriptions released")
	}
}

func TestCursorBeforeJoinIsNoOp(t *testing.T) {
	fixture := newSessionFixture(t)
	ctx := context.Background()

	sessionA, peerA := fixture.newSession(t, "conn-a")
	sessionA.HandleJoin(ctx, JoinPayload{Token: "token-a", DocumentID: "doc-1"})

	sessionB, _ := fixture.newSession(t, "conn-b")
	sessionB.HandleJoin(ctx, JoinPayload{Token: "token-b", DocumentID: "doc-2"})
	sessionB.HandleCursor(CursorPayload{DocumentID: "doc-1", Selection: []byte(`{"start":0,"end":1}`)})

	if peerA.countOf(EventCursorUpdate) != 0 {
		t.Fatalf("cursor for an unjoined room must not broadcast")
	}
}

func TestCursorRelaysToOthers(t *testing.T) {
	fixture := newSessionFixture(t)
	ctx := context.Background()

	sessionA, peerA := fixture.newSession(t, "conn-a")
	sessionA.HandleJoin(ctx, JoinPayload{Token: "token-a", DocumentID: "doc-1"})
	sessionB, peerB := fixture.newSession(t, "conn-b")
	sessionB.HandleJoin(ctx, JoinPayload{Token: "token-b", DocumentID: "doc-1"})

	sessionA.HandleCursor(CursorPayload{DocumentID: "doc-1", Selection: []byte(`{"start":3,"end":9}`)})

	cursorData, ok := peerB.lastOf(EventCursorUpdate)
	if !ok {
		t.Fatalf("expected cursor broadcast")
	}
	cursor := cursorData.(CursorBroadcast)
	if cursor.User.ID != "user-a" || string(cursor.Selection) != `{"start":3,"end":9}` {
		t.Fatalf("unexpected cursor broadcast %#v", cursor)
	}
	if peerA.countOf(EventCursorUpdate) != 0 {
		t.Fatalf("sender must not receive its own cursor")
	}
}

func TestTypingRelaysWithPayloadIdentityFallback(t *testing.T) {
	fixture := newSessionFixture(t)
	ctx := context.Background()

	sessionA, peerA := fixture.newSession(t, "conn-a")
	sessionA.HandleJoin(ctx, JoinPayload{Token: "token-a", DocumentID: "doc-1"})

	sessionB, _ := fixture.newSession(t, "conn-b")
	sessionB.HandleTyping(TypingPayload{
		DocumentID:  "doc-1",
		IsTyping:    true,
		UserID:      "user-b",
		DisplayName: "Grace",
	})

	typingData, ok := peerA.lastOf(EventPresenceTyping)
	if !ok {
		t.Fatalf("expected typing broadcast")
	}
	typing := typingData.(TypingBroadcast)
	if !typing.IsTyping || typing.User.DisplayName != "Grace" {
		t.Fatalf("unexpected typing broadcast %#v", typing)
	}
	if entries := fixture.presence.List("doc-1"); len(entries) != 2 {
		t.Fatalf("expected typing to create presence entry, got %#v", entries)
	}
}

func TestNotificationForwardedToSession(t *testing.T) {
	fixture := newSessionFixture(t)
	session, peer := fixture.newSession(t, "conn-a")
	session.HandleJoin(context.Background(), JoinPayload{Token: "token-a", DocumentID: "doc-1"})

	waitFor(t, "personal subscription", func() bool {
		return fixture.dispatcher.Connected("user-a")
	})
	fixture.dispatcher.Publish(UserMessage{UserID: "user-a", Type: "mention", Title: "Grace mentioned you"})

	waitFor(t, "forwarded notification", func() bool {
		return peer.countOf(EventNotification) == 1
	})
	data, _ := peer.lastOf(EventNotification)
	if message := data.(UserMessage); message.Title != "Grace mentioned you" {
		t.Fatalf("unexpected notification %#v", message)
	}
}
