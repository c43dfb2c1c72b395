package realtime

import (
	"context"
	"sync"
	"time"
)

// UserMessage is a payload addressed to every live connection of one user,
// regardless of which document rooms those connections have open. The
// notifications service publishes these; sessions forward them as
// "notification" events.
type UserMessage struct {
	UserID      string            `json:"-"`
	Type        string            `json:"type"`
	Title       string            `json:"title"`
	Body        string            `json:"body,omitempty"`
	DocumentID  string            `json:"documentId,omitempty"`
	WorkspaceID string            `json:"workspaceId,omitempty"`
	Meta        map[string]string `json:"meta,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// Dispatcher fans UserMessages out to per-user subscriber channels. Delivery
// is best effort: a subscriber whose buffer is full misses the message rather
// than blocking the publisher.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*dispatchSubscriber
	nextID      int64
	bufferSize  int
}

type dispatchSubscriber struct {
	id     int64
	stream chan UserMessage
}

// NewDispatcher constructs an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*dispatchSubscriber),
		bufferSize:  16,
	}
}

// Subscribe opens a message stream for a user. The stream is abandoned when
// the context ends or the cleanup function runs, whichever comes first.
// Subscribing with an empty user id yields a closed stream.
func (d *Dispatcher) Subscribe(ctx context.Context, userID string) (<-chan UserMessage, func()) {
	if userID == "" {
		ch := make(chan UserMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &dispatchSubscriber{
		id:     d.nextSequence(),
		stream: make(chan UserMessage, d.bufferSize),
	}
	d.registerSubscriber(userID, subscriber)
	cleanup := func() {
		d.unregisterSubscriber(userID, subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers a message to every current subscriber of its user.
func (d *Dispatcher) Publish(message UserMessage) {
	if message.UserID == "" || message.Type == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.UserID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*dispatchSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// Connected reports whether the user has at least one live subscriber. The
// notifications service uses this to decide between live delivery and the
// email fallback.
func (d *Dispatcher) Connected(userID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[userID]) > 0
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) registerSubscriber(userID string, subscriber *dispatchSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[userID]; !ok {
		d.subscribers[userID] = make(map[int64]*dispatchSubscriber)
	}
	d.subscribers[userID][subscriber.id] = subscriber
}

func (d *Dispatcher) unregisterSubscriber(userID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[userID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, userID)
		}
	}
	d.mu.Unlock()
}
