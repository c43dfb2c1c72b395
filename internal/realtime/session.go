package realtime

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/coauthorhq/coauthor/backend/internal/auth"
)

var (
	errMissingTransport = errors.New("transport is required")
	errMissingVerifier  = errors.New("token verifier is required")
	errMissingRooms     = errors.New("room manager is required")
	errMissingPresence  = errors.New("presence registry is required")
)

// TokenVerifier authenticates the credential presented on join.
type TokenVerifier interface {
	VerifyToken(token string) (auth.Identity, error)
}

// ActivitySink receives the usage signals the session emits. Calls are fire
// and forget; failures are logged and never surface to the client.
type ActivitySink interface {
	AdjustActiveUsers(ctx context.Context, workspaceID string, delta int64) error
	RecordEdit(ctx context.Context, workspaceID, userID, documentID string) error
	RecordActivity(ctx context.Context, workspaceID, userID, documentID, action string, meta map[string]string) error
}

// SessionConfig describes the dependencies for one connection session.
type SessionConfig struct {
	Transport  Peer
	Verifier   TokenVerifier
	Rooms      *RoomManager
	Presence   *Registry
	Analytics  ActivitySink
	Dispatcher *Dispatcher
	Logger     *zap.Logger
}

// Session is the protocol state machine for a single live connection. It owns
// the connection's authenticated identity (set once on the first successful
// join, immutable afterwards), the set of workspaces it has been counted
// into, and the personal notification subscription.
type Session struct {
	transport  Peer
	verifier   TokenVerifier
	rooms      *RoomManager
	presence   *Registry
	analytics  ActivitySink
	dispatcher *Dispatcher
	logger     *zap.Logger

	identity         *auth.Identity
	joinedWorkspaces map[string]struct{}
	lastWorkspaceID  string

	lifetime context.Context
	cancel   context.CancelFunc
}

// NewSession constructs a session around a connected transport.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Transport == nil {
		return nil, errMissingTransport
	}
	if cfg.Verifier == nil {
		return nil, errMissingVerifier
	}
	if cfg.Rooms == nil {
		return nil, errMissingRooms
	}
	if cfg.Presence == nil {
		return nil, errMissingPresence
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	lifetime, cancel := context.WithCancel(context.Background())
	return &Session{
		transport:        cfg.Transport,
		verifier:         cfg.Verifier,
		rooms:            cfg.Rooms,
		presence:         cfg.Presence,
		analytics:        cfg.Analytics,
		dispatcher:       cfg.Dispatcher,
		logger:           logger,
		joinedWorkspaces: make(map[string]struct{}),
		lifetime:         lifetime,
		cancel:           cancel,
	}, nil
}

// ID returns the connection id of the underlying transport.
func (s *Session) ID() string {
	return s.transport.ID()
}

// Send pushes an event to this connection.
func (s *Session) Send(event string, data any) error {
	return s.transport.Send(event, data)
}

// Identity returns the authenticated identity, or nil before the first
// successful join.
func (s *Session) Identity() *auth.Identity {
	return s.identity
}

func (s *Session) sendError(message string) {
	if err := s.transport.Send(EventError, ErrorPayload{Message: message}); err != nil {
		s.logger.Debug("error event dropped", zap.String("connection_id", s.ID()), zap.Error(err))
	}
}

func (s *Session) userRef() UserRef {
	if s.identity == nil {
		return UserRef{}
	}
	return UserRef{ID: s.identity.UserID, DisplayName: s.identity.DisplayName}
}

// record runs a fire-and-forget side effect, logging failures. Analytics and
// presence bookkeeping never break the editing path.
func (s *Session) record(what string, fn func() error) {
	if err := fn(); err != nil {
		s.logger.Warn("session side effect failed",
			zap.String("connection_id", s.ID()), zap.String("effect", what), zap.Error(err))
	}
}

// HandleJoin authenticates the connection (first join only sets identity),
// enrolls it in the document room and seeds it with the current snapshot.
func (s *Session) HandleJoin(ctx context.Context, payload JoinPayload) {
	if payload.Token == "" || payload.DocumentID == "" {
		s.sendError("join requires token and documentId")
		return
	}
	identity, err := s.verifier.VerifyToken(payload.Token)
	if err != nil {
		s.logger.Info("join rejected",
			zap.String("connection_id", s.ID()), zap.Error(err))
		s.sendError("authentication failed")
		return
	}
	if s.identity == nil {
		s.identity = &identity
		s.subscribePersonal(identity.UserID)
	}

	if workspaceID := payload.WorkspaceID; workspaceID != "" {
		s.lastWorkspaceID = workspaceID
		if _, counted := s.joinedWorkspaces[workspaceID]; !counted {
			s.joinedWorkspaces[workspaceID] = struct{}{}
			if s.analytics != nil {
				s.record("active users increment", func() error {
					return s.analytics.AdjustActiveUsers(ctx, workspaceID, 1)
				})
			}
		}
		if s.analytics != nil {
			s.record("join activity", func() error {
				return s.analytics.RecordActivity(ctx, workspaceID, s.identity.UserID, payload.DocumentID, "join", nil)
			})
		}
	}

	s.presence.Add(payload.DocumentID, s.ID(), Entry{
		UserID:      s.identity.UserID,
		DisplayName: s.identity.DisplayName,
	})
	snapshot, version := s.rooms.InitFromStore(ctx, payload.DocumentID)
	s.rooms.AddConnection(payload.DocumentID, s)

	if err := s.Send(EventInit, InitPayload{
		DocumentID: payload.DocumentID,
		Snapshot:   snapshot,
		Version:    version,
	}); err != nil {
		s.logger.Debug("init event dropped", zap.String("connection_id", s.ID()), zap.Error(err))
	}
	s.broadcastPresence(payload.DocumentID)
}

// subscribePersonal opens the per-user notification stream and forwards its
// messages to this connection until the session ends. The forwarder watches
// the session lifetime itself: unsubscribing only removes the stream from the
// dispatcher, it never closes the channel (the dispatcher's lock-free publish
// could still be holding a reference to it).
func (s *Session) subscribePersonal(userID string) {
	if s.dispatcher == nil {
		return
	}
	stream, _ := s.dispatcher.Subscribe(s.lifetime, userID)
	go func() {
		for {
			select {
			case <-s.lifetime.Done():
				return
			case message, ok := <-stream:
				if !ok {
					return
				}
				if err := s.Send(EventNotification, message); err != nil {
					s.logger.Debug("notification dropped",
						zap.String("connection_id", s.ID()), zap.Error(err))
				}
			}
		}
	}()
}

// HandleDocUpdate accepts an edit and fans the update out to the rest of the
// room. The sender never receives its own update back.
func (s *Session) HandleDocUpdate(ctx context.Context, payload DocUpdatePayload) {
	if payload.DocumentID == "" || payload.Delta == nil {
		s.sendError("doc:update requires documentId and delta")
		return
	}
	if s.identity == nil {
		s.sendError("not authenticated")
		return
	}

	s.rooms.ReceiveEdit(payload.DocumentID, EditInput{
		ConnectionID: s.ID(),
		User:         s.userRef(),
		Content:      payload.Delta.Snapshot,
	}, func(update DocBroadcast) {
		s.broadcastOthers(payload.DocumentID, EventDocUpdate, update)
	})

	workspaceID := payload.WorkspaceID
	if workspaceID == "" {
		workspaceID = s.lastWorkspaceID
	}
	if s.analytics != nil && workspaceID != "" {
		s.record("edit counter", func() error {
			return s.analytics.RecordEdit(ctx, workspaceID, s.identity.UserID, payload.DocumentID)
		})
	}
}

// HandleCursor updates the connection's stored selection and relays it to the
// rest of the room. A cursor for a room the connection never joined is a
// no-op.
func (s *Session) HandleCursor(payload CursorPayload) {
	if payload.DocumentID == "" || s.identity == nil {
		return
	}
	if !s.presence.UpdateSelection(payload.DocumentID, s.ID(), payload.Selection) {
		return
	}
	s.broadcastOthers(payload.DocumentID, EventCursorUpdate, CursorBroadcast{
		DocumentID: payload.DocumentID,
		User:       s.userRef(),
		Selection:  payload.Selection,
	})
}

// HandleTyping updates the typing flag and relays it to the rest of the room.
// Identity fields fall back to the payload so indicators keep working for
// clients that race typing ahead of the join handshake.
func (s *Session) HandleTyping(payload TypingPayload) {
	if payload.DocumentID == "" {
		return
	}
	userID, displayName := payload.UserID, payload.DisplayName
	if s.identity != nil {
		if userID == "" {
			userID = s.identity.UserID
		}
		if displayName == "" {
			displayName = s.identity.DisplayName
		}
	}
	s.presence.SetTyping(payload.DocumentID, s.ID(), userID, displayName, payload.IsTyping)
	s.broadcastOthers(payload.DocumentID, EventPresenceTyping, TypingBroadcast{
		DocumentID: payload.DocumentID,
		User:       UserRef{ID: userID, DisplayName: displayName},
		IsTyping:   payload.IsTyping,
	})
}

// HandleLeave removes the connection from a document room and, when this was
// its last tie to the workspace, releases the active-user count it claimed on
// join. The count is released at most once per workspace per connection.
func (s *Session) HandleLeave(ctx context.Context, payload LeavePayload) {
	if payload.DocumentID == "" {
		return
	}
	s.presence.Remove(payload.DocumentID, s.ID())
	s.broadcastOthers(payload.DocumentID, EventPresenceUpdate, PresenceBroadcast{
		DocumentID: payload.DocumentID,
		Users:      s.presence.List(payload.DocumentID),
	})
	s.rooms.RemoveConnection(ctx, payload.DocumentID, s.ID())

	workspaceID := payload.WorkspaceID
	if workspaceID == "" {
		workspaceID = s.lastWorkspaceID
	}
	if workspaceID == "" {
		return
	}
	if _, counted := s.joinedWorkspaces[workspaceID]; counted {
		delete(s.joinedWorkspaces, workspaceID)
		if s.analytics != nil {
			s.record("active users decrement", func() error {
				return s.analytics.AdjustActiveUsers(ctx, workspaceID, -1)
			})
		}
	}
	if s.analytics != nil && s.identity != nil {
		s.record("leave activity", func() error {
			return s.analytics.RecordActivity(ctx, workspaceID, s.identity.UserID, payload.DocumentID, "leave", nil)
		})
	}
}

// HandleDisconnect tears the connection down: rooms are derived from actual
// membership rather than client bookkeeping, every presence entry is removed,
// every workspace count still held is released, and the personal notification
// stream is closed.
func (s *Session) HandleDisconnect(ctx context.Context) {
	for _, documentID := range s.rooms.DocumentsFor(s.ID()) {
		s.presence.Remove(documentID, s.ID())
		s.broadcastOthers(documentID, EventPresenceUpdate, PresenceBroadcast{
			DocumentID: documentID,
			Users:      s.presence.List(documentID),
		})
		s.rooms.RemoveConnection(ctx, documentID, s.ID())
	}
	for workspaceID := range s.joinedWorkspaces {
		delete(s.joinedWorkspaces, workspaceID)
		if s.analytics == nil {
			continue
		}
		wsID := workspaceID
		s.record("active users decrement", func() error {
			return s.analytics.AdjustActiveUsers(ctx, wsID, -1)
		})
		if s.identity != nil {
			s.record("disconnect activity", func() error {
				return s.analytics.RecordActivity(ctx, wsID, s.identity.UserID, "", "disconnect", nil)
			})
		}
	}
	s.cancel()
}

// broadcastPresence sends the room's presence list to every member,
// including the originating connection.
func (s *Session) broadcastPresence(documentID string) {
	payload := PresenceBroadcast{
		DocumentID: documentID,
		Users:      s.presence.List(documentID),
	}
	for _, peer := range s.rooms.Peers(documentID) {
		if err := peer.Send(EventPresenceUpdate, payload); err != nil {
			s.logger.Debug("presence broadcast dropped",
				zap.String("connection_id", peer.ID()), zap.Error(err))
		}
	}
}

// broadcastOthers sends an event to every room member except this connection.
func (s *Session) broadcastOthers(documentID, event string, data any) {
	for _, peer := range s.rooms.Peers(documentID) {
		if peer.ID() == s.ID() {
			continue
		}
		if err := peer.Send(event, data); err != nil {
			s.logger.Debug("broadcast dropped",
				zap.String("connection_id", peer.ID()), zap.Error(err))
		}
	}
}
