package realtime

import (
	"context"
	"testing"
	"time"
)

func TestDispatcherDeliversToAllUserSubscribers(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, _ := dispatcher.Subscribe(ctx, "user-1")
	second, _ := dispatcher.Subscribe(ctx, "user-1")
	other, _ := dispatcher.Subscribe(ctx, "user-2")

	dispatcher.Publish(UserMessage{UserID: "user-1", Type: "mention", Title: "Ada mentioned you"})

	for _, stream := range []<-chan UserMessage{first, second} {
		select {
		case message := <-stream:
			if message.Type != "mention" {
				t.Fatalf("unexpected message %#v", message)
			}
		case <-time.After(time.Second):
			t.Fatalf("expected delivery to user-1 subscriber")
		}
	}
	select {
	case message := <-other:
		t.Fatalf("unexpected cross-user delivery %#v", message)
	default:
	}
}

func TestDispatcherConnectedReflectsSubscriptions(t *testing.T) {
	dispatcher := NewDispatcher()
	if dispatcher.Connected("user-1") {
		t.Fatalf("expected no subscribers yet")
	}

	_, cleanup := dispatcher.Subscribe(context.Background(), "user-1")
	if !dispatcher.Connected("user-1") {
		t.Fatalf("expected live subscriber")
	}

	cleanup()
	if dispatcher.Connected("user-1") {
		t.Fatalf("expected subscriber gone after cleanup")
	}
}

func TestDispatcherDropsWhenSubscriberBufferFull(t *testing.T) {
	dispatcher := NewDispatcher()
	stream, cleanup := dispatcher.Subscribe(context.Background(), "user-1")
	defer cleanup()

	for i := 0; i < dispatcher.bufferSize+8; i++ {
		dispatcher.Publish(UserMessage{UserID: "user-1", Type: "mention", Title: "hi"})
	}

	received := 0
	for {
		select {
		case <-stream:
			received++
		default:
			if received != dispatcher.bufferSize {
				t.Fatalf("expected %d buffered messages, got %d", dispatcher.bufferSize, received)
			}
			return
		}
	}
}

func TestDispatcherIgnoresAnonymousSubscriptions(t *testing.T) {
	dispatcher := NewDispatcher()
	stream, cleanup := dispatcher.Subscribe(context.Background(), "")
	defer cleanup()

	if _, open := <-stream; open {
		t.Fatalf("expected closed stream for empty user id")
	}
}
