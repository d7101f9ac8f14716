package bridge

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"chat-relay/internal/chat"
)

// ErrRunnerClosed means the process is draining and no new work is accepted.
var ErrRunnerClosed = errors.New("bridge: runner is shut down")

// GoRunner executes tasks on tracked goroutines. A bare `go` statement would
// race the process lifecycle; here every task is registered in a WaitGroup
// that Shutdown drains, so reconciliation survives the submitting request.
type GoRunner struct {
	bridge *Bridge
	log    zerolog.Logger

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

func NewGoRunner(b *Bridge, log zerolog.Logger) *GoRunner {
	return &GoRunner{
		bridge: b,
		log:    log.With().Str("component", "runner").Logger(),
	}
}

func (r *GoRunner) Dispatch(_ context.Context, task chat.Task) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRunnerClosed
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		// Deliberately detached from the request context: the HTTP response
		// has already been sent by the time this runs.
		if err := r.bridge.Process(context.Background(), task); err != nil {
			r.log.Error().Err(err).
				Str("request_id", task.RequestID).
				Msg("background task failed")
		}
	}()
	return nil
}

// Shutdown stops accepting work and waits for in-flight tasks, bounded by
// ctx.
func (r *GoRunner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TaskPublisher is the durable-queue half; satisfied by
// rabbitmq.Publisher.
type TaskPublisher interface {
	PublishTask(ctx context.Context, task chat.Task) error
}

// QueueRunner hands tasks to a durable queue for the worker process. The
// completion guarantee comes from broker persistence rather than process
// lifetime.
type QueueRunner struct {
	pub TaskPublisher
}

func NewQueueRunner(pub TaskPublisher) *QueueRunner {
	return &QueueRunner{pub: pub}
}

func (r *QueueRunner) Dispatch(ctx context.Context, task chat.Task) error {
	return r.pub.PublishTask(ctx, task)
}
