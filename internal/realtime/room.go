package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	errMissingStore = errors.New("document store is required")
	errNoFlushDelay = errors.New("flush delay must be positive")
)

// DocumentStore is the persistence contract the room manager writes through.
// LoadDocument returns the stored full content plus a version hint (how many
// persisted versions exist, minimum 1). SaveDocument replaces the stored
// content without cutting a version snapshot; live keystrokes are not history.
type DocumentStore interface {
	LoadDocument(ctx context.Context, documentID string) (string, int64, error)
	SaveDocument(ctx context.Context, documentID, content string, updatedAt time.Time) error
}

// Peer is a connection as seen by a room: an id for exclusion during fanout
// and a way to push an event down the wire.
type Peer interface {
	ID() string
	Send(event string, data any) error
}

// EditInput is one accepted edit. Content is nil when the client payload had
// no recognizable snapshot; such edits still bump the version (configurable)
// and are broadcast, but never change the in-memory or stored content.
type EditInput struct {
	ConnectionID string
	User         UserRef
	Content      *string
}

type room struct {
	mu       sync.Mutex
	snapshot string
	version  int64
	pending  []EditInput
	peers    map[string]Peer
	order    []string
	timer    *time.Timer

	// fanout is queued under mu in version order and drained under fanoutMu,
	// so concurrent edits reach the room in the order their versions were
	// assigned. fanoutMu is never taken while holding mu.
	fanoutMu sync.Mutex
	fanout   []fanoutEnvelope
}

// fanoutEnvelope pairs one update payload with its delivery callback.
type fanoutEnvelope struct {
	notify func(DocBroadcast)
	update DocBroadcast
}

func (r *room) drainFanout() {
	r.fanoutMu.Lock()
	defer r.fanoutMu.Unlock()
	for {
		r.mu.Lock()
		if len(r.fanout) == 0 {
			r.mu.Unlock()
			return
		}
		next := r.fanout[0]
		r.fanout = r.fanout[1:]
		r.mu.Unlock()
		next.notify(next.update)
	}
}

// RoomManagerConfig describes the dependencies for the room manager.
type RoomManagerConfig struct {
	Store DocumentStore
	// FlushDelay is the debounce window between the first buffered edit and
	// the persistence write.
	FlushDelay time.Duration
	// VersionEmptyEdits controls whether content-less edits bump the room
	// version. On by default so every accepted edit is observable.
	VersionEmptyEdits *bool
	Clock             func() time.Time
	Logger            *zap.Logger
}

// RoomManager owns the in-memory rooms for all open documents. Each room holds
// the latest full-content snapshot, a monotonically increasing version, the
// buffer of edits waiting for the next flush and the set of member
// connections. Edits are last-writer-wins: a flush persists only the newest
// buffered edit and discards the rest.
type RoomManager struct {
	store             DocumentStore
	flushDelay        time.Duration
	versionEmptyEdits bool
	clock             func() time.Time
	logger            *zap.Logger

	mu    sync.Mutex
	rooms map[string]*room
}

// NewRoomManager constructs the room manager.
func NewRoomManager(cfg RoomManagerConfig) (*RoomManager, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.FlushDelay <= 0 {
		return nil, errNoFlushDelay
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	versionEmptyEdits := true
	if cfg.VersionEmptyEdits != nil {
		versionEmptyEdits = *cfg.VersionEmptyEdits
	}
	return &RoomManager{
		store:             cfg.Store,
		flushDelay:        cfg.FlushDelay,
		versionEmptyEdits: versionEmptyEdits,
		clock:             clock,
		logger:            logger,
		rooms:             make(map[string]*room),
	}, nil
}

func newRoom(snapshot string, version int64) *room {
	return &room{snapshot: snapshot, version: version, peers: make(map[string]Peer)}
}

// InitFromStore returns the current snapshot and version for a document,
// loading from the store only when no in-memory room exists yet. A load
// failure is logged and degrades to an empty room rather than failing the
// join; the document heals on the next successful flush.
func (m *RoomManager) InitFromStore(ctx context.Context, documentID string) (string, int64) {
	m.mu.Lock()
	if existing, ok := m.rooms[documentID]; ok {
		m.mu.Unlock()
		existing.mu.Lock()
		defer existing.mu.Unlock()
		return existing.snapshot, existing.version
	}
	m.mu.Unlock()

	snapshot, version, err := m.store.LoadDocument(ctx, documentID)
	if err != nil {
		m.logger.Warn("document load failed, starting empty room",
			zap.String("document_id", documentID), zap.Error(err))
		snapshot, version = "", 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another join may have raced us here; the first room wins.
	if existing, ok := m.rooms[documentID]; ok {
		existing.mu.Lock()
		defer existing.mu.Unlock()
		return existing.snapshot, existing.version
	}
	m.rooms[documentID] = newRoom(snapshot, version)
	return snapshot, version
}

// AddConnection registers a connection as a member of a document room. When
// no room exists yet one is created with empty content and version zero; the
// normal join path calls InitFromStore first, so this only happens for edits
// or joins racing ahead of the store load.
func (m *RoomManager) AddConnection(documentID string, peer Peer) {
	m.mu.Lock()
	rm, ok := m.rooms[documentID]
	if !ok {
		rm = newRoom("", 0)
		m.rooms[documentID] = rm
	}
	m.mu.Unlock()

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if _, ok := rm.peers[peer.ID()]; !ok {
		rm.order = append(rm.order, peer.ID())
	}
	rm.peers[peer.ID()] = peer
}

// Peers returns the member connections of a room in join order.
func (m *RoomManager) Peers(documentID string) []Peer {
	m.mu.Lock()
	rm, ok := m.rooms[documentID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	peers := make([]Peer, 0, len(rm.order))
	for _, id := range rm.order {
		if peer, ok := rm.peers[id]; ok {
			peers = append(peers, peer)
		}
	}
	return peers
}

// DocumentsFor returns every room a connection is currently a member of.
// Disconnect handling derives its cleanup set from this rather than trusting
// client bookkeeping.
func (m *RoomManager) DocumentsFor(connectionID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, rm := range m.rooms {
		rm.mu.Lock()
		_, member := rm.peers[connectionID]
		rm.mu.Unlock()
		if member {
			ids = append(ids, id)
		}
	}
	return ids
}

// ReceiveEdit accepts an edit into a document room: buffers it, bumps the
// room version and invokes broadcast with the update payload for fanout to
// the rest of the room before returning. Fanout is queued while the room lock
// is held and drained through a per-room serial section, so two edits racing
// in from different connections are always delivered in version order. The
// first buffered edit arms the flush timer; later edits within the window do
// not reset it, so a burst persists exactly once per window.
func (m *RoomManager) ReceiveEdit(documentID string, edit EditInput, broadcast func(DocBroadcast)) {
	m.mu.Lock()
	rm, ok := m.rooms[documentID]
	if !ok {
		rm = newRoom("", 0)
		m.rooms[documentID] = rm
	}
	m.mu.Unlock()

	rm.mu.Lock()
	rm.pending = append(rm.pending, edit)
	if edit.Content != nil || m.versionEmptyEdits {
		rm.version++
	}
	if broadcast != nil {
		rm.fanout = append(rm.fanout, fanoutEnvelope{
			notify: broadcast,
			update: DocBroadcast{
				DocumentID: documentID,
				Content:    edit.Content,
				User:       edit.User,
				Version:    rm.version,
			},
		})
	}
	if rm.timer == nil {
		rm.timer = time.AfterFunc(m.flushDelay, func() {
			if err := m.Flush(context.Background(), documentID); err != nil {
				m.logger.Error("debounced flush failed",
					zap.String("document_id", documentID), zap.Error(err))
			}
		})
	}
	rm.mu.Unlock()

	if broadcast != nil {
		rm.drainFanout()
	}
}

// Flush persists the newest buffered edit for a document and clears the
// buffer. An edit without content persists the current snapshot unchanged, so
// the write still refreshes the stored timestamp. The in-memory snapshot is
// updated only after the store write succeeds; on failure the buffered edits
// are already dropped and the next flush carries whatever arrives later.
func (m *RoomManager) Flush(ctx context.Context, documentID string) error {
	m.mu.Lock()
	rm, ok := m.rooms[documentID]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	rm.mu.Lock()
	if rm.timer != nil {
		rm.timer.Stop()
		rm.timer = nil
	}
	if len(rm.pending) == 0 {
		rm.mu.Unlock()
		return nil
	}
	last := rm.pending[len(rm.pending)-1]
	rm.pending = nil
	content := rm.snapshot
	if last.Content != nil {
		content = *last.Content
	}
	rm.mu.Unlock()

	if err := m.store.SaveDocument(ctx, documentID, content, m.clock()); err != nil {
		m.logger.Error("document save failed",
			zap.String("document_id", documentID), zap.Error(err))
		return err
	}

	rm.mu.Lock()
	rm.snapshot = content
	rm.mu.Unlock()
	return nil
}

// RemoveConnection drops a connection from a room. When the last member
// leaves the room is flushed immediately and evicted from memory; eviction is
// unconditional so a failed final flush cannot pin a dead room, at the cost
// of losing that buffered edit.
func (m *RoomManager) RemoveConnection(ctx context.Context, documentID, connectionID string) {
	m.mu.Lock()
	rm, ok := m.rooms[documentID]
	m.mu.Unlock()
	if !ok {
		return
	}

	rm.mu.Lock()
	if _, member := rm.peers[connectionID]; !member {
		rm.mu.Unlock()
		return
	}
	delete(rm.peers, connectionID)
	for i, id := range rm.order {
		if id == connectionID {
			rm.order = append(rm.order[:i], rm.order[i+1:]...)
			break
		}
	}
	empty := len(rm.peers) == 0
	rm.mu.Unlock()

	if !empty {
		return
	}
	if err := m.Flush(ctx, documentID); err != nil {
		m.logger.Error("final flush before eviction failed",
			zap.String("document_id", documentID), zap.Error(err))
	}
	m.mu.Lock()
	rm.mu.Lock()
	if len(rm.peers) == 0 {
		if rm.timer != nil {
			rm.timer.Stop()
			rm.timer = nil
		}
		delete(m.rooms, documentID)
	}
	rm.mu.Unlock()
	m.mu.Unlock()
}

// RoomCount reports how many rooms are resident, for health reporting.
func (m *RoomManager) RoomCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}
