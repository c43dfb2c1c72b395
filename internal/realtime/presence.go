package realtime

import (
	"encoding/json"
	"sync"
)

// Entry is one connection's presence inside a document room.
type Entry struct {
	ConnectionID string          `json:"connectionId"`
	UserID       string          `json:"userId"`
	DisplayName  string          `json:"displayName"`
	Selection    json.RawMessage `json:"selection,omitempty"`
	IsTyping     bool            `json:"isTyping"`
}

type presenceBucket struct {
	order   []string
	entries map[string]*Entry
}

// Registry tracks which connections are present in which document rooms.
// Buckets keep insertion order so presence lists are stable across updates;
// an updated entry keeps its original position. Empty buckets are deleted so
// iterating documents never yields ghosts.
type Registry struct {
	mu      sync.Mutex
	buckets map[string]*presenceBucket
}

// NewRegistry constructs an empty presence registry.
func NewRegistry() *Registry {
	return &Registry{buckets: make(map[string]*presenceBucket)}
}

// Add upserts the presence entry for a connection in a document room. An
// existing entry is replaced in place, preserving its list position.
func (r *Registry) Add(documentID, connectionID string, entry Entry) {
	entry.ConnectionID = connectionID
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket, ok := r.buckets[documentID]
	if !ok {
		bucket = &presenceBucket{entries: make(map[string]*Entry)}
		r.buckets[documentID] = bucket
	}
	if existing, ok := bucket.entries[connectionID]; ok {
		*existing = entry
		return
	}
	bucket.order = append(bucket.order, connectionID)
	bucket.entries[connectionID] = &entry
}

// UpdateSelection replaces the stored selection for a connection. It reports
// false when the connection has no presence entry in the room; callers treat
// that as a no-op rather than creating a half-initialized entry.
func (r *Registry) UpdateSelection(documentID, connectionID string, selection json.RawMessage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket, ok := r.buckets[documentID]
	if !ok {
		return false
	}
	entry, ok := bucket.entries[connectionID]
	if !ok {
		return false
	}
	entry.Selection = selection
	return true
}

// SetTyping upserts the typing flag for a connection. Unlike UpdateSelection
// this creates the entry when missing, using the provided identity fields, so
// typing indicators survive clients that emit typing before a join settles.
func (r *Registry) SetTyping(documentID, connectionID, userID, displayName string, isTyping bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket, ok := r.buckets[documentID]
	if !ok {
		bucket = &presenceBucket{entries: make(map[string]*Entry)}
		r.buckets[documentID] = bucket
	}
	if entry, ok := bucket.entries[connectionID]; ok {
		entry.IsTyping = isTyping
		return
	}
	bucket.order = append(bucket.order, connectionID)
	bucket.entries[connectionID] = &Entry{
		ConnectionID: connectionID,
		UserID:       userID,
		DisplayName:  displayName,
		IsTyping:     isTyping,
	}
}

// Remove deletes the presence entry for a connection. Removing the last entry
// deletes the bucket itself.
func (r *Registry) Remove(documentID, connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket, ok := r.buckets[documentID]
	if !ok {
		return
	}
	if _, ok := bucket.entries[connectionID]; !ok {
		return
	}
	delete(bucket.entries, connectionID)
	for i, id := range bucket.order {
		if id == connectionID {
			bucket.order = append(bucket.order[:i], bucket.order[i+1:]...)
			break
		}
	}
	if len(bucket.entries) == 0 {
		delete(r.buckets, documentID)
	}
}

// List returns the presence entries for a document room in insertion order.
// Unknown documents yield an empty, non-nil slice so the result always
// serializes as a JSON array.
func (r *Registry) List(documentID string) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket, ok := r.buckets[documentID]
	if !ok {
		return []Entry{}
	}
	entries := make([]Entry, 0, len(bucket.order))
	for _, id := range bucket.order {
		if entry, ok := bucket.entries[id]; ok {
			entries = append(entries, *entry)
		}
	}
	return entries
}

// Documents returns the ids of all rooms with at least one presence entry.
func (r *Registry) Documents() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.buckets))
	for id := range r.buckets {
		ids = append(ids, id)
	}
	return ids
}
