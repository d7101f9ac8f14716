package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"chat-relay/internal/agent"
	"chat-relay/internal/chat"
	"chat-relay/internal/common"
)

const testHookURL = "http://agent.test/hook"

type fakeInvoker struct {
	text    string
	err     error
	payload agent.Payload
	calls   int
}

func (f *fakeInvoker) Invoke(_ context.Context, p agent.Payload) (string, error) {
	f.calls++
	f.payload = p
	return f.text, f.err
}

type recordingEvents struct {
	updated []chat.Message
}

func (e *recordingEvents) MessageInserted(context.Context, chat.Message) {}
func (e *recordingEvents) MessageUpdated(_ context.Context, m chat.Message) {
	e.updated = append(e.updated, m)
}

type fixture struct {
	bridge  *Bridge
	repo    *chat.Repo
	events  *recordingEvents
	invoker *fakeInvoker
	task    chat.Task
}

func newFixture(t *testing.T, inv *fakeInvoker) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&chat.Session{}, &chat.Message{}, &chat.Bot{}, &chat.BotAccess{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	repo := chat.NewRepo(db)
	ctx := context.Background()

	session := &chat.Session{
		ID:       common.MustULID(),
		TenantID: "t1",
		UserID:   "u1",
		BotID:    "bot-1",
		Status:   chat.SessionActive,
	}
	if err := repo.CreateSession(ctx, session); err != nil {
		t.Fatalf("create session: %v", err)
	}

	userMsg := &chat.Message{
		ID:        common.MustULID(),
		SessionID: session.ID,
		Role:      chat.RoleUser,
		Content:   "what is the refund policy",
		Status:    chat.StatusDelivered,
	}
	if err := repo.InsertMessage(ctx, userMsg); err != nil {
		t.Fatalf("insert user msg: %v", err)
	}

	requestID := chat.NewRequestID("")
	placeholder := &chat.Message{
		ID:        common.MustULID(),
		SessionID: session.ID,
		Role:      chat.RoleAssistant,
		Content:   chat.ProcessingContent,
		Status:    chat.StatusQueued,
		RequestID: &requestID,
		Metadata:  chat.Metadata{"processing": true},
	}
	if err := repo.InsertMessage(ctx, placeholder); err != nil {
		t.Fatalf("insert placeholder: %v", err)
	}

	reg := agent.NewRegistry(testHookURL)
	reg.Register(testHookURL, inv)

	events := &recordingEvents{}
	b := New(repo, reg, events, zerolog.Nop(), nil, Config{Timeout: time.Second, HistoryWindow: 20})

	return &fixture{
		bridge:  b,
		repo:    repo,
		events:  events,
		invoker: inv,
		task: chat.Task{
			RequestID:          requestID,
			SessionID:          session.ID,
			TenantID:           "t1",
			UserID:             "u1",
			BotID:              "bot-1",
			BotName:            "support",
			Text:               "what is the refund policy",
			AssistantMessageID: placeholder.ID,
		},
	}
}

func (f *fixture) placeholder(t *testing.T) *chat.Message {
	t.Helper()
	m, err := f.repo.GetMessageByID(context.Background(), f.task.AssistantMessageID)
	if err != nil {
		t.Fatalf("get placeholder: %v", err)
	}
	return m
}

func TestProcess_Success(t *testing.T) {
	fx := newFixture(t, &fakeInvoker{text: "Refunds take 5 business days."})

	if err := fx.bridge.Process(context.Background(), fx.task); err != nil {
		t.Fatalf("process: %v", err)
	}

	m := fx.placeholder(t)
	if m.Status != chat.StatusCompleted {
		t.Fatalf("status = %s, want completed", m.Status)
	}
	if m.Content != "Refunds take 5 business days." {
		t.Fatalf("content = %q", m.Content)
	}
	if m.ErrorText != nil {
		t.Fatalf("unexpected error text: %q", *m.ErrorText)
	}
	if m.LatencyMS == nil || *m.LatencyMS < 0 {
		t.Fatalf("latency not recorded: %v", m.LatencyMS)
	}
	if v, ok := m.Metadata["processing"].(bool); !ok || v {
		t.Fatalf("processing flag not cleared: %v", m.Metadata["processing"])
	}
	if _, ok := m.Metadata["completed_at"]; !ok {
		t.Fatalf("completed_at missing from metadata")
	}

	if len(fx.events.updated) != 1 {
		t.Fatalf("expected 1 update event, got %d", len(fx.events.updated))
	}
	ev := fx.events.updated[0]
	if ev.Status != chat.StatusCompleted || ev.ID != fx.task.AssistantMessageID {
		t.Fatalf("unexpected event: %+v", ev)
	}

	// The webhook saw prior conversation but not the placeholder itself.
	hist := fx.invoker.payload.ConversationHistory
	if len(hist) != 1 || hist[0].Content != "what is the refund policy" {
		t.Fatalf("unexpected history: %+v", hist)
	}
	if fx.invoker.payload.RequestID != fx.task.RequestID {
		t.Fatalf("request id not forwarded")
	}
}

func TestProcess_EmptyResponseDegradesToCompleted(t *testing.T) {
	fx := newFixture(t, &fakeInvoker{err: agent.ErrEmptyResponse})

	if err := fx.bridge.Process(context.Background(), fx.task); err != nil {
		t.Fatalf("process: %v", err)
	}

	m := fx.placeholder(t)
	if m.Status != chat.StatusCompleted {
		t.Fatalf("status = %s, want completed (degraded)", m.Status)
	}
	if m.Content != degradedContent {
		t.Fatalf("content = %q", m.Content)
	}
	if m.ErrorText != nil {
		t.Fatalf("degraded success must not carry error text")
	}
}

func TestProcess_Timeout(t *testing.T) {
	fx := newFixture(t, &fakeInvoker{err: context.DeadlineExceeded})

	if err := fx.bridge.Process(context.Background(), fx.task); err != nil {
		t.Fatalf("process: %v", err)
	}

	m := fx.placeholder(t)
	if m.Status != chat.StatusFailed {
		t.Fatalf("status = %s, want failed", m.Status)
	}
	if m.Content != timeoutContent {
		t.Fatalf("content = %q", m.Content)
	}
	if m.ErrorText == nil || !strings.Contains(*m.ErrorText, "timed out") {
		t.Fatalf("error text should mention the timeout: %v", m.ErrorText)
	}
}

func TestProcess_AgentStatusError(t *testing.T) {
	fx := newFixture(t, &fakeInvoker{err: &agent.StatusError{Code: 524}})

	if err := fx.bridge.Process(context.Background(), fx.task); err != nil {
		t.Fatalf("process: %v", err)
	}

	m := fx.placeholder(t)
	if m.Status != chat.StatusFailed {
		t.Fatalf("status = %s, want failed", m.Status)
	}
	if m.ErrorText == nil || !strings.Contains(*m.ErrorText, "524") {
		t.Fatalf("error text should carry the status code: %v", m.ErrorText)
	}
	if !strings.Contains(m.Content, "status 524") {
		t.Fatalf("user-facing content should name the status: %q", m.Content)
	}
}

func TestProcess_GenericError(t *testing.T) {
	fx := newFixture(t, &fakeInvoker{err: errors.New("connection refused")})

	if err := fx.bridge.Process(context.Background(), fx.task); err != nil {
		t.Fatalf("process: %v", err)
	}

	m := fx.placeholder(t)
	if m.Status != chat.StatusFailed {
		t.Fatalf("status = %s, want failed", m.Status)
	}
	if m.Content != genericContent {
		t.Fatalf("content = %q", m.Content)
	}
	if m.ErrorText == nil || !strings.Contains(*m.ErrorText, "connection refused") {
		t.Fatalf("cause lost: %v", m.ErrorText)
	}
}

func TestProcess_IdempotentUnderRedelivery(t *testing.T) {
	fx := newFixture(t, &fakeInvoker{text: "first answer"})
	ctx := context.Background()

	if err := fx.bridge.Process(ctx, fx.task); err != nil {
		t.Fatalf("first process: %v", err)
	}
	fx.invoker.text = "second answer"
	if err := fx.bridge.Process(ctx, fx.task); err != nil {
		t.Fatalf("redelivered process: %v", err)
	}

	m := fx.placeholder(t)
	if m.Content != "first answer" {
		t.Fatalf("redelivery overwrote the terminal row: %q", m.Content)
	}
	if fx.invoker.calls != 1 {
		t.Fatalf("redelivery re-invoked the agent: %d calls", fx.invoker.calls)
	}
	if len(fx.events.updated) != 1 {
		t.Fatalf("expected exactly 1 update event, got %d", len(fx.events.updated))
	}
}

func TestProcess_MissingPlaceholderIsAnError(t *testing.T) {
	fx := newFixture(t, &fakeInvoker{text: "ok"})

	task := fx.task
	task.AssistantMessageID = common.MustULID()
	if err := fx.bridge.Process(context.Background(), task); err == nil {
		t.Fatalf("expected error for missing placeholder so consumers can nack")
	}
	if fx.invoker.calls != 0 {
		t.Fatalf("agent should not be called without a placeholder")
	}
}

func TestProcess_BotSpecificWebhook(t *testing.T) {
	inv := &fakeInvoker{text: "ok"}
	fx := newFixture(t, &fakeInvoker{text: "wrong endpoint"})
	ctx := context.Background()

	if err := fx.repo.CreateBot(ctx, &chat.Bot{ID: "bot-1", Name: "support", WebhookURL: "http://special.test/hook"}); err != nil {
		t.Fatalf("create bot: %v", err)
	}
	fx.bridge.agents.Register("http://special.test/hook", inv)

	if err := fx.bridge.Process(ctx, fx.task); err != nil {
		t.Fatalf("process: %v", err)
	}
	if inv.calls != 1 {
		t.Fatalf("bot-specific endpoint not used")
	}
	if fx.invoker.calls != 0 {
		t.Fatalf("default endpoint used despite bot override")
	}
}
