package chat

import "context"

// Task is the unit of background work handed off at ACK time. It carries
// everything the agent bridge needs so queue consumers do not have to
// re-derive submission context.
type Task struct {
	RequestID          string `json:"request_id"`
	SessionID          string `json:"session_id"`
	TenantID           string `json:"tenant_id"`
	UserID             string `json:"user_id"`
	BotID              string `json:"bot_id"`
	BotName            string `json:"bot_name"`
	Text               string `json:"text"`
	AssistantMessageID string `json:"assistant_message_id"`
}

// Runner schedules a task as detached background work. Implementations must
// guarantee the work completes even after the submitting HTTP response is
// sent: either tracked goroutines drained at shutdown, or a durable queue.
type Runner interface {
	Dispatch(ctx context.Context, task Task) error
}

// EventPublisher fans message change events out to delivery-channel
// subscribers. Publish failures are delivery concerns, not correctness
// concerns: the durable row is authoritative and polling covers missed
// events, so these methods do not return errors.
type EventPublisher interface {
	MessageInserted(ctx context.Context, m Message)
	MessageUpdated(ctx context.Context, m Message)
}

// Authorizer answers whether a (tenant, user, bot) combination may interact.
// The service treats the verdict as opaque: ErrBotNotFound, ErrForbidden, or
// nil.
type Authorizer interface {
	Authorize(ctx context.Context, tenantID, userID, botID string) error
}
