package notify

import (
	"context"
	"testing"
	"time"

	"chat-relay/internal/chat"
)

func TestBroker_SessionScopedFanOut(t *testing.T) {
	b := NewBroker(nil)
	ctx := context.Background()

	chA, cancelA := b.Subscribe(ctx, "session-a")
	defer cancelA()
	chB, cancelB := b.Subscribe(ctx, "session-b")
	defer cancelB()

	b.MessageInserted(ctx, chat.Message{ID: "m1", SessionID: "session-a", Role: chat.RoleUser})

	select {
	case ev := <-chA:
		if ev.Type != EventInsert || ev.Message.ID != "m1" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("subscriber A saw nothing")
	}

	select {
	case ev := <-chB:
		t.Fatalf("subscriber B leaked another session's event: %+v", ev)
	default:
	}
}

func TestBroker_MultipleSubscribersSameSession(t *testing.T) {
	b := NewBroker(nil)
	ctx := context.Background()

	ch1, cancel1 := b.Subscribe(ctx, "s")
	defer cancel1()
	ch2, cancel2 := b.Subscribe(ctx, "s")
	defer cancel2()

	b.MessageUpdated(ctx, chat.Message{ID: "m1", SessionID: "s", Status: chat.StatusCompleted})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.Type != EventUpdate {
				t.Fatalf("subscriber %d: type = %s", i, ev.Type)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d saw nothing", i)
		}
	}
}

func TestBroker_CancelDetachesAndCloses(t *testing.T) {
	b := NewBroker(nil)
	ctx := context.Background()

	ch, cancel := b.Subscribe(ctx, "s")
	cancel()
	// cancel is safe to call twice
	cancel()

	if _, open := <-ch; open {
		t.Fatalf("channel should be closed after cancel")
	}

	// Publishing after cancel must not panic or block.
	b.MessageInserted(ctx, chat.Message{ID: "m1", SessionID: "s"})
}

func TestBroker_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := NewBroker(nil)
	ctx := context.Background()

	ch, cancel := b.Subscribe(ctx, "s")
	defer cancel()

	// Overfill the buffer; the sends must all return.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*3; i++ {
			b.MessageInserted(ctx, chat.Message{ID: "m", SessionID: "s"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on a slow subscriber")
	}

	// The subscriber still holds a full buffer of events to recover from.
	if len(ch) != subscriberBuffer {
		t.Fatalf("expected full buffer (%d), got %d", subscriberBuffer, len(ch))
	}
}
