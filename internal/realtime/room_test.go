package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type savedWrite struct {
	documentID string
	content    string
}

type memoryStore struct {
	mu        sync.Mutex
	content   map[string]string
	version   map[string]int64
	loadCalls int
	writes    []savedWrite
	loadErr   error
	saveErr   error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{content: make(map[string]string), version: make(map[string]int64)}
}

func (s *memoryStore) LoadDocument(_ context.Context, documentID string) (string, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadCalls++
	if s.loadErr != nil {
		return "", 0, s.loadErr
	}
	version := s.version[documentID]
	if version == 0 {
		version = 1
	}
	return s.content[documentID], version, nil
}

func (s *memoryStore) SaveDocument(_ context.Context, documentID, content string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.content[documentID] = content
	s.writes = append(s.writes, savedWrite{documentID: documentID, content: content})
	return nil
}

func (s *memoryStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

func (s *memoryStore) lastWrite(t *testing.T) savedWrite {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.writes) == 0 {
		t.Fatalf("expected at least one persisted write")
	}
	return s.writes[len(s.writes)-1]
}

type fakePeer struct {
	mu     sync.Mutex
	id     string
	events []sentEvent
}

type sentEvent struct {
	event string
	data  any
}

func (p *fakePeer) ID() string {
	return p.id
}

func (p *fakePeer) Send(event string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, sentEvent{event: event, data: data})
	return nil
}

func (p *fakePeer) countOf(event string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, sent := range p.events {
		if sent.event == event {
			total++
		}
	}
	return total
}

func (p *fakePeer) lastOf(event string) (any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.events) - 1; i >= 0; i-- {
		if p.events[i].event == event {
			return p.events[i].data, true
		}
	}
	return nil, false
}

func stringPtr(value string) *string {
	return &value
}

func newTestRoomManager(t *testing.T, store DocumentStore, delay time.Duration, opts ...func(*RoomManagerConfig)) *RoomManager {
	t.Helper()
	cfg := RoomManagerConfig{Store: store, FlushDelay: delay}
	for _, opt := range opts {
		opt(&cfg)
	}
	manager, err := NewRoomManager(cfg)
	if err != nil {
		t.Fatalf("failed to construct room manager: %v", err)
	}
	return manager
}

func TestInitFromStoreLoadsOnceThenServesMemory(t *testing.T) {
	store := newMemoryStore()
	store.content["doc-1"] = "hello"
	store.version["doc-1"] = 1
	manager := newTestRoomManager(t, store, time.Hour)

	snapshot, version := manager.InitFromStore(context.Background(), "doc-1")
	if snapshot != "hello" || version != 1 {
		t.Fatalf("unexpected initial state %q v%d", snapshot, version)
	}

	manager.ReceiveEdit("doc-1", EditInput{ConnectionID: "conn-a", Content: stringPtr("hello world")}, nil)

	snapshot, version = manager.InitFromStore(context.Background(), "doc-1")
	if snapshot != "hello" {
		t.Fatalf("snapshot must not change before flush, got %q", snapshot)
	}
	if version != 2 {
		t.Fatalf("expected version 2 after one edit, got %d", version)
	}
	if store.loadCalls != 1 {
		t.Fatalf("expected a single store load, got %d", store.loadCalls)
	}
}

func TestInitFromStoreDegradesToEmptyOnLoadFailure(t *testing.T) {
	store := newMemoryStore()
	store.loadErr = errors.New("connection refused")
	manager := newTestRoomManager(t, store, time.Hour)

	snapshot, version := manager.InitFromStore(context.Background(), "doc-1")
	if snapshot != "" || version != 0 {
		t.Fatalf("expected empty room after load failure, got %q v%d", snapshot, version)
	}
}

func TestFlushPersistsOnlyNewestEdit(t *testing.T) {
	store := newMemoryStore()
	manager := newTestRoomManager(t, store, time.Hour)
	manager.InitFromStore(context.Background(), "doc-1")

	manager.ReceiveEdit("doc-1", EditInput{ConnectionID: "conn-a", Content: stringPtr("one")}, nil)
	manager.ReceiveEdit("doc-1", EditInput{ConnectionID: "conn-b", Content: stringPtr("two")}, nil)
	manager.ReceiveEdit("doc-1", EditInput{ConnectionID: "conn-a", Content: stringPtr("three")}, nil)

	if err := manager.Flush(context.Background(), "doc-1"); err != nil {
		t.Fatalf("unexpected flush error: %v", err)
	}
	if store.writeCount() != 1 {
		t.Fatalf("expected one persisted write, got %d", store.writeCount())
	}
	if write := store.lastWrite(t); write.content != "three" {
		t.Fatalf("expected newest edit to win, got %q", write.content)
	}

	snapshot, version := manager.InitFromStore(context.Background(), "doc-1")
	if snapshot != "three" || version != 3 {
		t.Fatalf("unexpected post-flush state %q v%d", snapshot, version)
	}
}

func TestFlushWithoutPendingEditsIsNoOp(t *testing.T) {
	store := newMemoryStore()
	manager := newTestRoomManager(t, store, time.Hour)
	manager.InitFromStore(context.Background(), "doc-1")

	if err := manager.Flush(context.Background(), "doc-1"); err != nil {
		t.Fatalf("unexpected flush error: %v", err)
	}
	if store.writeCount() != 0 {
		t.Fatalf("expected no writes, got %d", store.writeCount())
	}
}

func TestContentlessEditPersistsCurrentSnapshot(t *testing.T) {
	store := newMemoryStore()
	store.content["doc-1"] = "hello"
	manager := newTestRoomManager(t, store, time.Hour)
	manager.InitFromStore(context.Background(), "doc-1")

	broadcasts := 0
	manager.ReceiveEdit("doc-1", EditInput{ConnectionID: "conn-a"}, func(update DocBroadcast) {
		broadcasts++
		if update.Content != nil {
			t.Fatalf("expected null content in broadcast, got %q", *update.Content)
		}
		if update.Version != 2 {
			t.Fatalf("expected version bump for contentless edit, got %d", update.Version)
		}
	})
	if broadcasts != 1 {
		t.Fatalf("expected exactly one broadcast, got %d", broadcasts)
	}

	if err := manager.Flush(context.Background(), "doc-1"); err != nil {
		t.Fatalf("unexpected flush error: %v", err)
	}
	if write := store.lastWrite(t); write.content != "hello" {
		t.Fatalf("expected snapshot re-written unchanged, got %q", write.content)
	}
}

func TestContentlessEditVersioningCanBeDisabled(t *testing.T) {
	store := newMemoryStore()
	disabled := false
	manager := newTestRoomManager(t, store, time.Hour, func(cfg *RoomManagerConfig) {
		cfg.VersionEmptyEdits = &disabled
	})
	manager.InitFromStore(context.Background(), "doc-1")

	manager.ReceiveEdit("doc-1", EditInput{ConnectionID: "conn-a"}, func(update DocBroadcast) {
		if update.Version != 1 {
			t.Fatalf("expected version untouched, got %d", update.Version)
		}
	})
	manager.ReceiveEdit("doc-1", EditInput{ConnectionID: "conn-a", Content: stringPtr("real")}, func(update DocBroadcast) {
		if update.Version != 2 {
			t.Fatalf("expected content edit to bump version, got %d", update.Version)
		}
	})
}

func TestDebounceWindowPersistsOncePerBurst(t *testing.T) {
	store := newMemoryStore()
	manager := newTestRoomManager(t, store, 40*time.Millisecond)
	manager.InitFromStore(context.Background(), "doc-1")

	manager.ReceiveEdit("doc-1", EditInput{ConnectionID: "conn-a", Content: stringPtr("first")}, nil)
	time.Sleep(25 * time.Millisecond)
	// Inside the window: must not re-arm the timer.
	manager.ReceiveEdit("doc-1", EditInput{ConnectionID: "conn-a", Content: stringPtr("second")}, nil)
	time.Sleep(35 * time.Millisecond)

	if store.writeCount() != 1 {
		t.Fatalf("expected a single debounced write, got %d", store.writeCount())
	}
	if write := store.lastWrite(t); write.content != "second" {
		t.Fatalf("expected last edit of the burst, got %q", write.content)
	}

	// A fresh edit after the window arms a new timer and persists again.
	manager.ReceiveEdit("doc-1", EditInput{ConnectionID: "conn-a", Content: stringPtr("third")}, nil)
	time.Sleep(60 * time.Millisecond)
	if store.writeCount() != 2 {
		t.Fatalf("expected a second debounced write, got %d", store.writeCount())
	}
}

func TestLastConnectionLeavingFlushesAndEvicts(t *testing.T) {
	store := newMemoryStore()
	store.content["doc-1"] = "hello"
	manager := newTestRoomManager(t, store, time.Hour)

	peer := &fakePeer{id: "conn-a"}
	manager.InitFromStore(context.Background(), "doc-1")
	manager.AddConnection("doc-1", peer)
	manager.ReceiveEdit("doc-1", EditInput{ConnectionID: "conn-a", Content: stringPtr("goodbye")}, nil)

	manager.RemoveConnection(context.Background(), "doc-1", "conn-a")

	if store.writeCount() != 1 {
		t.Fatalf("expected eviction flush, got %d writes", store.writeCount())
	}
	if write := store.lastWrite(t); write.content != "goodbye" {
		t.Fatalf("unexpected evicted content %q", write.content)
	}
	if manager.RoomCount() != 0 {
		t.Fatalf("expected room evicted, got %d resident", manager.RoomCount())
	}

	// Next join must hit the store again, observing external changes.
	store.mu.Lock()
	store.content["doc-1"] = "rewritten elsewhere"
	store.version["doc-1"] = 7
	store.mu.Unlock()

	snapshot, version := manager.InitFromStore(context.Background(), "doc-1")
	if snapshot != "rewritten elsewhere" || version != 7 {
		t.Fatalf("expected re-read from store, got %q v%d", snapshot, version)
	}
	if store.loadCalls != 2 {
		t.Fatalf("expected second store load, got %d", store.loadCalls)
	}
}

func TestEvictionSurvivesFlushFailure(t *testing.T) {
	store := newMemoryStore()
	store.saveErr = errors.New("disk full")
	manager := newTestRoomManager(t, store, time.Hour)

	peer := &fakePeer{id: "conn-a"}
	manager.InitFromStore(context.Background(), "doc-1")
	manager.AddConnection("doc-1", peer)
	manager.ReceiveEdit("doc-1", EditInput{ConnectionID: "conn-a", Content: stringPtr("lost")}, nil)

	manager.RemoveConnection(context.Background(), "doc-1", "conn-a")
	if manager.RoomCount() != 0 {
		t.Fatalf("failed flush must not pin the room, %d resident", manager.RoomCount())
	}
}

func TestFlushFailureLeavesSnapshotUntouched(t *testing.T) {
	store := newMemoryStore()
	store.content["doc-1"] = "hello"
	manager := newTestRoomManager(t, store, time.Hour)
	manager.InitFromStore(context.Background(), "doc-1")

	store.mu.Lock()
	store.saveErr = errors.New("disk full")
	store.mu.Unlock()

	manager.ReceiveEdit("doc-1", EditInput{ConnectionID: "conn-a", Content: stringPtr("doomed")}, nil)
	if err := manager.Flush(context.Background(), "doc-1"); err == nil {
		t.Fatalf("expected flush error")
	}

	snapshot, _ := manager.InitFromStore(context.Background(), "doc-1")
	if snapshot != "hello" {
		t.Fatalf("snapshot must survive a failed flush, got %q", snapshot)
	}

	// The buffer was consumed; a retry without new edits writes nothing.
	store.mu.Lock()
	store.saveErr = nil
	store.mu.Unlock()
	if err := manager.Flush(context.Background(), "doc-1"); err != nil {
		t.Fatalf("unexpected flush error: %v", err)
	}
	if store.writeCount() != 0 {
		t.Fatalf("expected no writes after consumed buffer, got %d", store.writeCount())
	}
}

func TestConcurrentEditsBroadcastInVersionOrder(t *testing.T) {
	store := newMemoryStore()
	manager := newTestRoomManager(t, store, time.Hour)

	var mu sync.Mutex
	var delivered []int64
	broadcast := func(update DocBroadcast) {
		mu.Lock()
		delivered = append(delivered, update.Version)
		mu.Unlock()
	}

	const workers = 8
	const editsPerWorker = 200
	start := make(chan struct{})
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for i := 0; i < editsPerWorker; i++ {
				manager.ReceiveEdit("doc-1", EditInput{
					ConnectionID: "conn-a",
					Content:      stringPtr("draft"),
				}, broadcast)
			}
		}()
	}
	close(start)
	wg.Wait()

	if len(delivered) != workers*editsPerWorker {
		t.Fatalf("expected %d broadcasts, got %d", workers*editsPerWorker, len(delivered))
	}
	for i := 1; i < len(delivered); i++ {
		if delivered[i] <= delivered[i-1] {
			t.Fatalf("broadcast order regressed at index %d: version %d after %d",
				i, delivered[i], delivered[i-1])
		}
	}
}

func TestDocumentsForTracksMembership(t *testing.T) {
	store := newMemoryStore()
	manager := newTestRoomManager(t, store, time.Hour)

	peer := &fakePeer{id: "conn-a"}
	manager.AddConnection("doc-1", peer)
	manager.AddConnection("doc-2", peer)
	manager.AddConnection("doc-2", &fakePeer{id: "conn-b"})

	docs := manager.DocumentsFor("conn-a")
	if len(docs) != 2 {
		t.Fatalf("expected membership in 2 rooms, got %v", docs)
	}
	if docs := manager.DocumentsFor("conn-missing"); len(docs) != 0 {
		t.Fatalf("expected no membership, got %v", docs)
	}
}
