package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

type captureRunner struct {
	tasks []Task
	err   error
}

func (r *captureRunner) Dispatch(_ context.Context, task Task) error {
	if r.err != nil {
		return r.err
	}
	r.tasks = append(r.tasks, task)
	return nil
}

type recordingEvents struct {
	inserted []Message
	updated  []Message
}

func (e *recordingEvents) MessageInserted(_ context.Context, m Message) {
	e.inserted = append(e.inserted, m)
}

func (e *recordingEvents) MessageUpdated(_ context.Context, m Message) {
	e.updated = append(e.updated, m)
}

type allowAll struct{}

func (allowAll) Authorize(context.Context, string, string, string) error { return nil }

type denyAll struct{ err error }

func (d denyAll) Authorize(context.Context, string, string, string) error { return d.err }

func newTestService(t *testing.T, runner Runner, authz Authorizer) (*Service, *Repo, *recordingEvents) {
	t.Helper()
	repo := NewRepo(openTestDB(t))
	events := &recordingEvents{}
	svc := NewService(repo, runner, events, authz, zerolog.Nop())
	return svc, repo, events
}

func TestResolveSession_CreateAndReuse(t *testing.T) {
	svc, _, _ := newTestService(t, &captureRunner{}, allowAll{})
	ctx := context.Background()

	p := ResolveParams{TenantID: "t1", UserID: "u1", BotID: "bot-1", ExternalID: "ext-1"}
	first, err := svc.ResolveSession(ctx, p)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	second, err := svc.ResolveSession(ctx, p)
	if err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("external id produced two sessions: %s vs %s", first.ID, second.ID)
	}

	// No external id means a fresh session each time.
	p.ExternalID = ""
	third, err := svc.ResolveSession(ctx, p)
	if err != nil {
		t.Fatalf("resolve fresh: %v", err)
	}
	if third.ID == first.ID {
		t.Fatalf("expected a new session without external id")
	}
}

func TestResolveSession_AuthzDenied(t *testing.T) {
	svc, _, _ := newTestService(t, &captureRunner{}, denyAll{err: ErrForbidden})

	_, err := svc.ResolveSession(context.Background(), ResolveParams{
		TenantID: "t1", UserID: "u1", BotID: "bot-1",
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestSubmit_AcksAndSchedules(t *testing.T) {
	runner := &captureRunner{}
	svc, repo, events := newTestService(t, runner, allowAll{})
	ctx := context.Background()

	session, err := svc.ResolveSession(ctx, ResolveParams{TenantID: "t1", UserID: "u1", BotID: "bot-1"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	ack, err := svc.Submit(ctx, SubmitParams{
		SessionID: session.ID,
		Text:      "what is the refund policy",
		UserID:    "u1",
		BotName:   "support",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if ack.Status != StatusQueued {
		t.Fatalf("ack status = %s, want queued", ack.Status)
	}
	if ack.RequestID == "" || ack.AssistantMessageID == "" {
		t.Fatalf("incomplete ack: %+v", ack)
	}

	// Both rows exist: the user message and the queued placeholder.
	msgs, err := repo.ListMessages(ctx, session.ID, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	placeholder, err := repo.GetMessageByID(ctx, ack.AssistantMessageID)
	if err != nil {
		t.Fatalf("get placeholder: %v", err)
	}
	if placeholder.Status != StatusQueued || placeholder.Content != ProcessingContent {
		t.Fatalf("unexpected placeholder: status=%s content=%q", placeholder.Status, placeholder.Content)
	}
	if placeholder.RequestID == nil || *placeholder.RequestID != ack.RequestID {
		t.Fatalf("placeholder request id mismatch")
	}

	if len(runner.tasks) != 1 {
		t.Fatalf("expected 1 dispatched task, got %d", len(runner.tasks))
	}
	task := runner.tasks[0]
	if task.RequestID != ack.RequestID || task.AssistantMessageID != ack.AssistantMessageID {
		t.Fatalf("task not correlated with ack: %+v", task)
	}
	if task.Text != "what is the refund policy" || task.BotID != "bot-1" {
		t.Fatalf("task lost submission context: %+v", task)
	}

	// Insert events for both rows went out on the delivery channel.
	if len(events.inserted) != 2 {
		t.Fatalf("expected 2 insert events, got %d", len(events.inserted))
	}

	// First message titles the session.
	got, _ := repo.GetSessionByID(ctx, session.ID)
	if got.Title != "what is the refund policy" {
		t.Fatalf("title not derived from first message: %q", got.Title)
	}
}

func TestSubmit_Validation(t *testing.T) {
	svc, _, _ := newTestService(t, &captureRunner{}, allowAll{})
	ctx := context.Background()

	if _, err := svc.Submit(ctx, SubmitParams{SessionID: "s", Text: "hi"}); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if _, err := svc.Submit(ctx, SubmitParams{UserID: "u1", SessionID: "s", Text: "   "}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for blank text, got %v", err)
	}
	if _, err := svc.Submit(ctx, SubmitParams{UserID: "u1", SessionID: "missing", Text: "hi"}); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSubmit_OtherUsersSessionReadsAsNotFound(t *testing.T) {
	svc, _, _ := newTestService(t, &captureRunner{}, allowAll{})
	ctx := context.Background()

	session, err := svc.ResolveSession(ctx, ResolveParams{TenantID: "t1", UserID: "owner", BotID: "bot-1"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	_, err = svc.Submit(ctx, SubmitParams{SessionID: session.ID, Text: "hi", UserID: "intruder"})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSubmit_DispatchFailureStillAcks(t *testing.T) {
	runner := &captureRunner{err: errors.New("queue down")}
	svc, repo, events := newTestService(t, runner, allowAll{})
	ctx := context.Background()

	session, err := svc.ResolveSession(ctx, ResolveParams{TenantID: "t1", UserID: "u1", BotID: "bot-1"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	ack, err := svc.Submit(ctx, SubmitParams{SessionID: session.ID, Text: "hi", UserID: "u1"})
	if err != nil {
		t.Fatalf("submit should still ack: %v", err)
	}

	// The placeholder was terminated so the request id never dangles.
	placeholder, err := repo.GetMessageByID(ctx, ack.AssistantMessageID)
	if err != nil {
		t.Fatalf("get placeholder: %v", err)
	}
	if placeholder.Status != StatusFailed {
		t.Fatalf("expected failed placeholder, got %s", placeholder.Status)
	}
	if placeholder.ErrorText == nil || !strings.Contains(*placeholder.ErrorText, "queue down") {
		t.Fatalf("error text missing cause: %v", placeholder.ErrorText)
	}
	if len(events.updated) != 1 {
		t.Fatalf("expected 1 update event, got %d", len(events.updated))
	}
}

func TestStatus(t *testing.T) {
	svc, repo, _ := newTestService(t, &captureRunner{}, allowAll{})
	ctx := context.Background()

	// Unknown ids read as queued so pollers ride out consistency gaps.
	st, err := svc.Status(ctx, "1700000000000-unknown")
	if err != nil {
		t.Fatalf("status unknown: %v", err)
	}
	if st.Status != StatusQueued {
		t.Fatalf("unknown request id status = %s, want queued", st.Status)
	}

	session, err := svc.ResolveSession(ctx, ResolveParams{TenantID: "t1", UserID: "u1", BotID: "bot-1"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	ack, err := svc.Submit(ctx, SubmitParams{SessionID: session.ID, Text: "hi", UserID: "u1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, err := repo.CompleteMessage(ctx, ack.AssistantMessageID, "done", 120, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// Status is a pure read; asking twice changes nothing.
	for i := 0; i < 2; i++ {
		st, err = svc.Status(ctx, ack.RequestID)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if st.Status != StatusCompleted || st.OutputText != "done" {
			t.Fatalf("unexpected status result: %+v", st)
		}
		if st.LatencyMS == nil || *st.LatencyMS != 120 {
			t.Fatalf("latency missing: %v", st.LatencyMS)
		}
	}

	if _, err := svc.Status(ctx, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty request id, got %v", err)
	}
}

func TestRenameSession(t *testing.T) {
	svc, _, _ := newTestService(t, &captureRunner{}, allowAll{})
	ctx := context.Background()

	session, err := svc.ResolveSession(ctx, ResolveParams{TenantID: "t1", UserID: "u1", BotID: "bot-1"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if err := svc.RenameSession(ctx, "u1", session.ID, "Billing questions"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	got, err := svc.GetSession(ctx, "u1", session.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "Billing questions" {
		t.Fatalf("title = %q", got.Title)
	}

	long := strings.Repeat("x", 101)
	if err := svc.RenameSession(ctx, "u1", session.ID, long); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for long title, got %v", err)
	}
}

func TestDeleteSession_HidesFromReads(t *testing.T) {
	svc, _, _ := newTestService(t, &captureRunner{}, allowAll{})
	ctx := context.Background()

	session, err := svc.ResolveSession(ctx, ResolveParams{TenantID: "t1", UserID: "u1", BotID: "bot-1"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := svc.DeleteSession(ctx, "u1", session.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.GetSession(ctx, "u1", session.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("deleted session should read as not found, got %v", err)
	}
}
