// Package notify fans message change events out to delivery-channel
// subscribers, in-process or across processes via Redis pub/sub.
package notify

import (
	"context"

	"chat-relay/internal/chat"
)

type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
)

// Event is one row-level change. Delivery is at-least-once and best-effort:
// subscribers reconcile idempotently and fall back to polling for anything
// missed.
type Event struct {
	Type      EventType    `json:"type"`
	SessionID string       `json:"session_id"`
	Message   chat.Message `json:"message"`
}

// Subscriber scopes a stream of events to one session. The returned cancel
// fully detaches the subscription; the channel is closed afterwards.
type Subscriber interface {
	Subscribe(ctx context.Context, sessionID string) (<-chan Event, func())
}

// Nop discards events. Worker processes without a configured fan-out use it;
// clients then resolve via the polling path.
type Nop struct{}

func (Nop) MessageInserted(context.Context, chat.Message) {}
func (Nop) MessageUpdated(context.Context, chat.Message)  {}
