package delivery

import (
	"context"
	"errors"
	"time"

	"chat-relay/internal/chat"
	"chat-relay/internal/notify"
)

// ErrWaitTimeout is the client-local give-up. It is deliberately a distinct
// condition from a server-reported failure: the server may still complete
// the request after the client stopped listening.
var ErrWaitTimeout = errors.New("delivery: timed out waiting for result")

// StatusFunc is the polling fallback, typically the status endpoint.
type StatusFunc func(ctx context.Context, requestID string) (*chat.StatusResult, error)

// WaitConfig carries the three independent windows: how long to trust push
// alone, how often to poll after that, and when to give up entirely.
type WaitConfig struct {
	PushGrace    time.Duration
	PollInterval time.Duration
	GiveUp       time.Duration
}

func (c WaitConfig) withDefaults() WaitConfig {
	if c.PushGrace <= 0 {
		c.PushGrace = 10 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.GiveUp <= 0 {
		c.GiveUp = 5 * time.Minute
	}
	return c
}

// Result is the terminal outcome as observed by the client. A failed Status
// is a server-reported failure and still a valid Result.
type Result struct {
	Status    chat.MessageStatus
	Content   string
	ErrorText string
	LatencyMS int64
}

type Waiter struct {
	sub    notify.Subscriber // nil means poll-only
	status StatusFunc
	cfg    WaitConfig
}

func NewWaiter(sub notify.Subscriber, status StatusFunc, cfg WaitConfig) *Waiter {
	return &Waiter{sub: sub, status: status, cfg: cfg.withDefaults()}
}

// Await blocks until the request reaches a terminal state through either the
// push channel or polling, or until the give-up window closes. Abandoning
// the wait does not cancel the server-side work.
func (w *Waiter) Await(ctx context.Context, sessionID, requestID string) (*Result, error) {
	var events <-chan notify.Event
	if w.sub != nil {
		ch, cancel := w.sub.Subscribe(ctx, sessionID)
		defer cancel()
		events = ch
	}

	giveUp := time.NewTimer(w.cfg.GiveUp)
	defer giveUp.Stop()

	// Polling starts only after the push grace elapses; push is the cheap
	// path and usually wins.
	grace := w.cfg.PushGrace
	if events == nil {
		grace = 0
	}
	poll := time.NewTimer(grace)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-giveUp.C:
			return nil, ErrWaitTimeout

		case ev, ok := <-events:
			if !ok {
				// Push channel gone; keep polling.
				events = nil
				poll.Reset(0)
				continue
			}
			if r, ok := resultFromEvent(ev, requestID); ok {
				return r, nil
			}

		case <-poll.C:
			st, err := w.status(ctx, requestID)
			if err == nil && st.Status.Terminal() {
				r := &Result{
					Status:  st.Status,
					Content: st.OutputText,
				}
				if st.ErrorText != nil {
					r.ErrorText = *st.ErrorText
				}
				if st.LatencyMS != nil {
					r.LatencyMS = *st.LatencyMS
				}
				return r, nil
			}
			// Poll errors are tolerated: transient fetch failures must not
			// abort the wait.
			poll.Reset(w.cfg.PollInterval)
		}
	}
}

func resultFromEvent(ev notify.Event, requestID string) (*Result, bool) {
	m := ev.Message
	if m.Role != chat.RoleAssistant || m.RequestID == nil || *m.RequestID != requestID {
		return nil, false
	}
	if !m.Status.Terminal() {
		return nil, false
	}
	r := &Result{Status: m.Status, Content: m.Content}
	if m.ErrorText != nil {
		r.ErrorText = *m.ErrorText
	}
	if m.LatencyMS != nil {
		r.LatencyMS = *m.LatencyMS
	}
	return r, true
}
