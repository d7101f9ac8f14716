package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"chat-relay/internal/chat"
)

func TestGoRunner_ProcessesAndDrains(t *testing.T) {
	inv := &fakeInvoker{text: "answered"}
	fx := newFixture(t, inv)
	runner := NewGoRunner(fx.bridge, zerolog.Nop())

	if err := runner.Dispatch(context.Background(), fx.task); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := runner.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	// Shutdown returning means the dispatched work finished.
	m := fx.placeholder(t)
	if m.Status != chat.StatusCompleted || m.Content != "answered" {
		t.Fatalf("work not reconciled before drain: status=%s content=%q", m.Status, m.Content)
	}
}

func TestGoRunner_RejectsAfterShutdown(t *testing.T) {
	fx := newFixture(t, &fakeInvoker{text: "ok"})
	runner := NewGoRunner(fx.bridge, zerolog.Nop())

	if err := runner.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := runner.Dispatch(context.Background(), fx.task); !errors.Is(err, ErrRunnerClosed) {
		t.Fatalf("expected ErrRunnerClosed, got %v", err)
	}
}

type capturePublisher struct {
	tasks []chat.Task
	err   error
}

func (p *capturePublisher) PublishTask(_ context.Context, task chat.Task) error {
	if p.err != nil {
		return p.err
	}
	p.tasks = append(p.tasks, task)
	return nil
}

func TestQueueRunner_PublishesTask(t *testing.T) {
	pub := &capturePublisher{}
	runner := NewQueueRunner(pub)

	task := chat.Task{RequestID: "1700000000000-x", SessionID: "s1"}
	if err := runner.Dispatch(context.Background(), task); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(pub.tasks) != 1 || pub.tasks[0].RequestID != task.RequestID {
		t.Fatalf("task not published: %+v", pub.tasks)
	}

	pub.err = errors.New("broker down")
	if err := runner.Dispatch(context.Background(), task); err == nil {
		t.Fatalf("expected publish error to surface")
	}
}
