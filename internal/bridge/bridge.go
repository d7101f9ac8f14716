// Package bridge performs the outbound agent call and reconciles the
// assistant placeholder with whatever came back.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"chat-relay/internal/agent"
	"chat-relay/internal/chat"
	"chat-relay/internal/metrics"
)

// User-facing terminal contents. The timeout wording nudges toward a
// narrower query because long-running agent calls usually mean an
// over-broad one.
const (
	degradedContent = "Your request is still being processed. Please try again shortly."
	timeoutContent  = "The request took too long to process. Try narrowing your query."
	genericContent  = "Something went wrong while processing your request."
)

type Config struct {
	// Timeout is the hard deadline on the agent call; deployments run this
	// anywhere from 30s to 5 minutes.
	Timeout time.Duration
	// HistoryWindow bounds the recent conversation sent along.
	HistoryWindow int
}

type Bridge struct {
	repo    *chat.Repo
	agents  *agent.Registry
	events  chat.EventPublisher
	log     zerolog.Logger
	metrics *metrics.Metrics
	cfg     Config
}

func New(repo *chat.Repo, agents *agent.Registry, events chat.EventPublisher, log zerolog.Logger, m *metrics.Metrics, cfg Config) *Bridge {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 20
	}
	return &Bridge{
		repo:    repo,
		agents:  agents,
		events:  events,
		log:     log.With().Str("component", "bridge").Logger(),
		metrics: m,
		cfg:     cfg,
	}
}

// Process runs one task to a terminal placeholder state. It never reports
// agent failures upward: those become failed rows, visible only through the
// delivery channel and the status query. The returned error covers
// infrastructure problems (store unreachable) so queue consumers can nack.
//
// Idempotent against duplicate dispatch: the placeholder is updated by id
// under a status=queued guard, so a second run finds nothing to do.
func (b *Bridge) Process(ctx context.Context, task chat.Task) error {
	log := b.log.With().
		Str("request_id", task.RequestID).
		Str("session_id", task.SessionID).
		Logger()

	placeholder, err := b.repo.GetMessageByID(ctx, task.AssistantMessageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Error().Str("message_id", task.AssistantMessageID).Msg("placeholder missing")
			return fmt.Errorf("placeholder %s: %w", task.AssistantMessageID, err)
		}
		return err
	}
	if placeholder.Status != chat.StatusQueued {
		log.Info().Str("status", string(placeholder.Status)).Msg("placeholder already terminal, skipping")
		return nil
	}

	history, err := b.loadHistory(ctx, task)
	if err != nil {
		// History is an enrichment; the agent can answer without it.
		log.Warn().Err(err).Msg("history load failed, sending without it")
		history = nil
	}

	webhookURL := ""
	if bot, err := b.repo.GetBotByID(ctx, task.BotID); err == nil {
		webhookURL = bot.WebhookURL
	}
	inv, err := b.agents.For(webhookURL)
	if err != nil {
		return b.reconcileFailure(ctx, placeholder, task, genericContent, err.Error(), "config_error")
	}

	payload := agent.Payload{
		Message:             task.Text,
		ConversationHistory: history,
		ConversationID:      task.SessionID,
		SessionID:           task.SessionID,
		BotID:               task.BotID,
		BotName:             task.BotName,
		UserID:              task.UserID,
		RequestID:           task.RequestID,
		AssistantMessageID:  task.AssistantMessageID,
	}

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	text, err := inv.Invoke(callCtx, payload)
	switch {
	case err == nil:
		return b.reconcileSuccess(ctx, placeholder, task, text, "completed")

	case errors.Is(err, agent.ErrEmptyResponse):
		// Silence is worse than a soft answer: degrade to completed with a
		// "try again" body.
		log.Warn().Msg("agent response unparseable, degrading to placeholder text")
		return b.reconcileSuccess(ctx, placeholder, task, degradedContent, "parse_error")

	case isTimeout(err):
		errText := fmt.Sprintf("agent call timed out after %s: %v", b.cfg.Timeout, err)
		return b.reconcileFailure(ctx, placeholder, task, timeoutContent, errText, "timeout")

	default:
		var statusErr *agent.StatusError
		if errors.As(err, &statusErr) {
			content := fmt.Sprintf("The agent returned an error (status %d).", statusErr.Code)
			errText := fmt.Sprintf("webhook failed: status %d", statusErr.Code)
			return b.reconcileFailure(ctx, placeholder, task, content, errText, "agent_error")
		}
		return b.reconcileFailure(ctx, placeholder, task, genericContent, err.Error(), "agent_error")
	}
}

func (b *Bridge) loadHistory(ctx context.Context, task chat.Task) ([]agent.HistoryEntry, error) {
	recent, err := b.repo.ListRecentMessagesDesc(ctx, task.SessionID, b.cfg.HistoryWindow)
	if err != nil {
		return nil, err
	}
	history := make([]agent.HistoryEntry, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		m := recent[i]
		if m.ID == task.AssistantMessageID {
			continue
		}
		history = append(history, agent.HistoryEntry{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return history, nil
}

func (b *Bridge) reconcileSuccess(ctx context.Context, placeholder *chat.Message, task chat.Task, content, outcome string) error {
	latency := b.latency(task.RequestID, placeholder.CreatedAt)
	meta := finishedMeta(placeholder.Metadata)

	updated, err := b.repo.CompleteMessage(ctx, placeholder.ID, content, latency, meta)
	if err != nil {
		return fmt.Errorf("complete placeholder: %w", err)
	}
	if !updated {
		b.log.Info().Str("request_id", task.RequestID).Msg("placeholder reconciled elsewhere")
		return nil
	}

	b.metrics.AgentOutcome(outcome, float64(latency)/1000)
	b.publishUpdate(ctx, placeholder, chat.StatusCompleted, content, nil, latency, meta)
	b.log.Info().
		Str("request_id", task.RequestID).
		Int64("latency_ms", latency).
		Msg("placeholder completed")
	return nil
}

func (b *Bridge) reconcileFailure(ctx context.Context, placeholder *chat.Message, task chat.Task, content, errText, outcome string) error {
	latency := b.latency(task.RequestID, placeholder.CreatedAt)
	meta := finishedMeta(placeholder.Metadata)

	updated, err := b.repo.FailMessage(ctx, placeholder.ID, content, errText, latency, meta)
	if err != nil {
		return fmt.Errorf("fail placeholder: %w", err)
	}
	if !updated {
		b.log.Info().Str("request_id", task.RequestID).Msg("placeholder reconciled elsewhere")
		return nil
	}

	b.metrics.AgentOutcome(outcome, float64(latency)/1000)
	b.publishUpdate(ctx, placeholder, chat.StatusFailed, content, &errText, latency, meta)
	b.log.Warn().
		Str("request_id", task.RequestID).
		Str("error_text", errText).
		Int64("latency_ms", latency).
		Msg("placeholder failed")
	return nil
}

func (b *Bridge) publishUpdate(ctx context.Context, placeholder *chat.Message, status chat.MessageStatus, content string, errText *string, latency int64, meta chat.Metadata) {
	m := *placeholder
	m.Status = status
	m.Content = content
	m.ErrorText = errText
	m.LatencyMS = &latency
	m.Metadata = meta
	b.events.MessageUpdated(ctx, m)
}

// latency prefers the submission time embedded in the request id; the
// placeholder's own insert time is the fallback for foreign ids.
func (b *Bridge) latency(requestID string, createdAt time.Time) int64 {
	if _, ok := chat.RequestSubmittedAt(requestID); ok {
		return chat.RequestLatencyMS(requestID, time.Now())
	}
	ms := time.Since(createdAt).Milliseconds()
	if ms < 0 {
		ms = 0
	}
	return ms
}

func finishedMeta(meta chat.Metadata) chat.Metadata {
	out := chat.Metadata{}
	for k, v := range meta {
		out[k] = v
	}
	out["processing"] = false
	out["completed_at"] = time.Now().UTC().Format(time.RFC3339)
	return out
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
