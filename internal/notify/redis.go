package notify

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"chat-relay/internal/chat"
	"chat-relay/internal/metrics"
)

// RedisChannel crosses process boundaries: the worker publishes
// reconciliation updates that the API process's SSE handlers deliver.
type RedisChannel struct {
	client  *redis.Client
	log     zerolog.Logger
	metrics *metrics.Metrics
}

func NewRedisChannel(client *redis.Client, log zerolog.Logger, m *metrics.Metrics) *RedisChannel {
	return &RedisChannel{
		client:  client,
		log:     log.With().Str("component", "notify").Logger(),
		metrics: m,
	}
}

func channelFor(sessionID string) string {
	return "chat:events:" + sessionID
}

func (r *RedisChannel) publish(ctx context.Context, ev Event) {
	r.metrics.EventPublished(string(ev.Type))

	body, err := json.Marshal(ev)
	if err != nil {
		r.log.Error().Err(err).Msg("event marshal failed")
		return
	}
	if err := r.client.Publish(ctx, channelFor(ev.SessionID), body).Err(); err != nil {
		// Push is best-effort; the durable row covers the miss.
		r.log.Warn().Err(err).
			Str("session_id", ev.SessionID).
			Msg("event publish failed")
	}
}

func (r *RedisChannel) MessageInserted(ctx context.Context, m chat.Message) {
	r.publish(ctx, Event{Type: EventInsert, SessionID: m.SessionID, Message: m})
}

func (r *RedisChannel) MessageUpdated(ctx context.Context, m chat.Message) {
	r.publish(ctx, Event{Type: EventUpdate, SessionID: m.SessionID, Message: m})
}

func (r *RedisChannel) Subscribe(ctx context.Context, sessionID string) (<-chan Event, func()) {
	pubsub := r.client.Subscribe(ctx, channelFor(sessionID))
	out := make(chan Event, subscriberBuffer)

	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.log.Warn().Err(err).Msg("event decode failed")
				continue
			}
			select {
			case out <- ev:
			default:
			}
		}
	}()

	cancel := func() {
		_ = pubsub.Close()
	}
	return out, cancel
}
