// Package realtime implements the live collaborative-editing core: per-document
// rooms with debounced persistence, presence tracking, per-connection protocol
// sessions and the per-user notification channel fanout.
package realtime

import "encoding/json"

// Client → server events.
const (
	EventJoin         = "join"
	EventDocUpdate    = "doc:update"
	EventCursorUpdate = "cursor:update"
	EventTyping       = "typing"
	EventLeave        = "leave"
)

// Server → client events.
const (
	EventInit           = "init"
	EventPresenceUpdate = "presence:update"
	EventPresenceTyping = "presence:typing"
	EventNotification   = "notification"
	EventError          = "error"
)

// Envelope frames every message on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// UserRef identifies the acting user inside broadcast payloads.
type UserRef struct {
	ID          string `json:"id"`
	DisplayName string `json:"name"`
}

// JoinPayload opens (or re-opens) a document room on a connection.
type JoinPayload struct {
	Token       string `json:"token"`
	DocumentID  string `json:"documentId"`
	WorkspaceID string `json:"workspaceId,omitempty"`
}

// EditDelta carries the client's full-content snapshot. A delta without a
// snapshot field is accepted but changes nothing (see RoomManager).
type EditDelta struct {
	Snapshot *string `json:"snapshot,omitempty"`
}

// DocUpdatePayload submits an edit to a document room.
type DocUpdatePayload struct {
	DocumentID  string     `json:"documentId"`
	Delta       *EditDelta `json:"delta"`
	Version     int64      `json:"version,omitempty"`
	WorkspaceID string     `json:"workspaceId,omitempty"`
}

// CursorPayload reports a cursor/selection change.
type CursorPayload struct {
	DocumentID string          `json:"documentId"`
	Selection  json.RawMessage `json:"selection,omitempty"`
}

// TypingPayload reports typing state, optionally overriding identity fields
// for clients that render remote typing indicators themselves.
type TypingPayload struct {
	DocumentID  string `json:"documentId"`
	IsTyping    bool   `json:"isTyping"`
	UserID      string `json:"userId,omitempty"`
	DisplayName string `json:"name,omitempty"`
}

// LeavePayload closes a document room on a connection.
type LeavePayload struct {
	DocumentID  string `json:"documentId"`
	WorkspaceID string `json:"workspaceId,omitempty"`
}

// InitPayload seeds a joining client with the room's current state.
type InitPayload struct {
	DocumentID string `json:"documentId"`
	Snapshot   string `json:"snapshot"`
	Version    int64  `json:"version"`
}

// DocBroadcast is the doc:update fanned out to the rest of a room. Content is
// null for accepted edits that carried no snapshot payload; receivers must
// treat those as version-only updates.
type DocBroadcast struct {
	DocumentID string  `json:"documentId"`
	Content    *string `json:"content"`
	User       UserRef `json:"user"`
	Version    int64   `json:"version"`
}

// CursorBroadcast is the cursor:update fanned out to the rest of a room.
type CursorBroadcast struct {
	DocumentID string          `json:"documentId"`
	User       UserRef         `json:"user"`
	Selection  json.RawMessage `json:"selection,omitempty"`
}

// TypingBroadcast is the presence:typing fanned out to the rest of a room.
type TypingBroadcast struct {
	DocumentID string  `json:"documentId"`
	User       UserRef `json:"user"`
	IsTyping   bool    `json:"isTyping"`
}

// PresenceBroadcast is the presence:update fanned out to a whole room.
type PresenceBroadcast struct {
	DocumentID string  `json:"documentId"`
	Users      []Entry `json:"users"`
}

// ErrorPayload is sent to the offending connection only.
type ErrorPayload struct {
	Message string `json:"message"`
}
