package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"chat-relay/internal/common"
)

// ProcessingContent is the placeholder body shown while the agent works.
const ProcessingContent = "Processing your request..."

const defaultTitle = "New Chat"

type Service struct {
	repo   *Repo
	runner Runner
	events EventPublisher
	authz  Authorizer
	log    zerolog.Logger
}

func NewService(repo *Repo, runner Runner, events EventPublisher, authz Authorizer, log zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		runner: runner,
		events: events,
		authz:  authz,
		log:    log.With().Str("component", "chat").Logger(),
	}
}

func (s *Service) Repo() *Repo { return s.repo }

// --- session resolution ---

type ResolveParams struct {
	TenantID   string
	UserID     string
	BotID      string
	ExternalID string
}

// ResolveSession creates a conversation for (tenant, user, bot). With an
// external id the call is an idempotent upsert; without one it always
// creates a fresh session. Distinguishing "continue" from "new chat" is the
// caller's job via explicit session ids, never a server-side heuristic.
func (s *Service) ResolveSession(ctx context.Context, p ResolveParams) (*Session, error) {
	if p.UserID == "" {
		return nil, ErrUnauthenticated
	}
	if p.BotID == "" {
		return nil, fmt.Errorf("%w: bot id", ErrValidation)
	}
	if err := s.authz.Authorize(ctx, p.TenantID, p.UserID, p.BotID); err != nil {
		return nil, err
	}

	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	session := &Session{
		ID:            id,
		TenantID:      p.TenantID,
		UserID:        p.UserID,
		BotID:         p.BotID,
		Title:         defaultTitle,
		Status:        SessionActive,
		LastMessageAt: now,
	}
	if p.ExternalID != "" {
		session.ExternalID = &p.ExternalID
	}

	resolved, created, err := s.repo.CreateSessionOrGetExisting(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	if created {
		s.log.Info().
			Str("session_id", resolved.ID).
			Str("bot_id", p.BotID).
			Str("tenant_id", p.TenantID).
			Msg("session created")
	}
	return resolved, nil
}

// GetSession returns the caller's session. Other users' sessions read as
// not found rather than forbidden, hiding their existence.
func (s *Service) GetSession(ctx context.Context, userID, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id", ErrValidation)
	}
	session, err := s.repo.GetSessionByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if session.UserID != userID || session.Status == SessionDeleted {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func (s *Service) DeleteSession(ctx context.Context, userID, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: session id", ErrValidation)
	}
	deleted, err := s.repo.SoftDeleteSession(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrSessionNotFound
	}
	return nil
}

func (s *Service) RenameSession(ctx context.Context, userID, sessionID, title string) error {
	title = strings.TrimSpace(title)
	if sessionID == "" || title == "" {
		return fmt.Errorf("%w: session id and title", ErrValidation)
	}
	if len(title) > 100 {
		return fmt.Errorf("%w: title exceeds 100 characters", ErrValidation)
	}
	updated, err := s.repo.UpdateSessionTitle(ctx, sessionID, userID, title)
	if err != nil {
		return err
	}
	if !updated {
		return ErrSessionNotFound
	}
	return nil
}

func (s *Service) ListMessages(ctx context.Context, userID, sessionID string, limit int) ([]Message, error) {
	if _, err := s.GetSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	return s.repo.ListMessages(ctx, sessionID, limit)
}

// --- submission (the ACK path) ---

type SubmitParams struct {
	SessionID string
	Text      string
	UserID    string
	BotName   string
	// MessageID is the caller's correlation id for the request id suffix;
	// generated when absent.
	MessageID string
}

// Ack is the 202 payload: the work is queued, the placeholder reserves the
// response slot, and the request id is the handle for push and poll alike.
type Ack struct {
	RequestID          string        `json:"request_id"`
	Status             MessageStatus `json:"status"`
	AssistantMessageID string        `json:"assistant_message_id"`
}

// Submit inserts the user message and the assistant placeholder, schedules
// the agent call as detached work, and returns without waiting on any of it.
// The response must come back well under a second no matter how slow the
// agent is.
func (s *Service) Submit(ctx context.Context, p SubmitParams) (*Ack, error) {
	if p.UserID == "" {
		return nil, ErrUnauthenticated
	}
	if p.SessionID == "" || strings.TrimSpace(p.Text) == "" {
		return nil, fmt.Errorf("%w: session id and text", ErrValidation)
	}

	session, err := s.GetSession(ctx, p.UserID, p.SessionID)
	if err != nil {
		return nil, err
	}

	botName := p.BotName
	bot, botErr := s.repo.GetBotByID(ctx, session.BotID)
	if botErr == nil && botName == "" {
		botName = bot.Name
	}

	requestID := NewRequestID(p.MessageID)
	now := time.Now()

	// User message first. A failed audit record must not block the
	// conversation: log and move on, the placeholder is the guarantee that
	// matters.
	userMsgID, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	userMsg := &Message{
		ID:        userMsgID,
		SessionID: session.ID,
		Role:      RoleUser,
		Content:   p.Text,
		Status:    StatusDelivered,
		Metadata: Metadata{
			"user_id":  p.UserID,
			"bot_id":   session.BotID,
			"bot_name": botName,
		},
	}
	if err := s.repo.InsertMessage(ctx, userMsg); err != nil {
		s.log.Warn().Err(err).
			Str("session_id", session.ID).
			Str("request_id", requestID).
			Msg("user message insert failed, continuing")
		userMsg = nil
	} else {
		s.events.MessageInserted(ctx, *userMsg)
	}

	placeholderID, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	placeholderMeta := Metadata{
		"request_id": requestID,
		"bot_id":     session.BotID,
		"bot_name":   botName,
		"processing": true,
	}
	if userMsg != nil {
		placeholderMeta["user_message_id"] = userMsg.ID
	}
	placeholder := &Message{
		ID:        placeholderID,
		SessionID: session.ID,
		Role:      RoleAssistant,
		Content:   ProcessingContent,
		Status:    StatusQueued,
		RequestID: &requestID,
		Metadata:  placeholderMeta,
	}
	if err := s.repo.InsertMessage(ctx, placeholder); err != nil {
		// Without the placeholder there is nothing for the request id to
		// resolve to; an ACK here would be a deferred dead end.
		s.log.Error().Err(err).
			Str("session_id", session.ID).
			Str("request_id", requestID).
			Msg("assistant placeholder insert failed")
		return nil, fmt.Errorf("%w: %v", ErrPlaceholderCreate, err)
	}
	s.events.MessageInserted(ctx, *placeholder)

	title := ""
	if session.Title == "" || session.Title == defaultTitle {
		title = deriveTitle(p.Text)
	}
	if err := s.repo.TouchSession(ctx, session.ID, title, now); err != nil {
		s.log.Warn().Err(err).Str("session_id", session.ID).Msg("session touch failed")
	}

	task := Task{
		RequestID:          requestID,
		SessionID:          session.ID,
		TenantID:           session.TenantID,
		UserID:             p.UserID,
		BotID:              session.BotID,
		BotName:            botName,
		Text:               p.Text,
		AssistantMessageID: placeholder.ID,
	}
	if err := s.runner.Dispatch(ctx, task); err != nil {
		// Scheduling failed, so nothing will ever reconcile the placeholder.
		// Terminate it now; the client discovers the failure through push or
		// Status Query like any other terminal state.
		s.log.Error().Err(err).Str("request_id", requestID).Msg("dispatch failed")
		errText := fmt.Sprintf("dispatch failed: %v", err)
		placeholderMeta["processing"] = false
		failed, failErr := s.repo.FailMessage(ctx, placeholder.ID,
			"The request could not be scheduled for processing.",
			errText, RequestLatencyMS(requestID, time.Now()), placeholderMeta)
		if failErr != nil {
			s.log.Error().Err(failErr).Str("request_id", requestID).Msg("placeholder fail-mark failed")
		} else if failed {
			placeholder.Status = StatusFailed
			placeholder.Content = "The request could not be scheduled for processing."
			placeholder.ErrorText = &errText
			s.events.MessageUpdated(ctx, *placeholder)
		}
	}

	return &Ack{
		RequestID:          requestID,
		Status:             StatusQueued,
		AssistantMessageID: placeholder.ID,
	}, nil
}

// --- status query ---

type StatusResult struct {
	Status     MessageStatus `json:"status"`
	OutputText string        `json:"output_text"`
	ErrorText  *string       `json:"error_text,omitempty"`
	LatencyMS  *int64        `json:"latency_ms,omitempty"`
}

// Status is a pure read keyed by request id, safe to poll. An unknown id
// reads as still queued: callers poll across eventual-consistency windows
// and a 404 would make them give up too early.
func (s *Service) Status(ctx context.Context, requestID string) (*StatusResult, error) {
	if requestID == "" {
		return nil, fmt.Errorf("%w: request id", ErrValidation)
	}
	m, err := s.repo.GetMessageByRequestID(ctx, requestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &StatusResult{Status: StatusQueued}, nil
		}
		return nil, err
	}
	return &StatusResult{
		Status:     m.Status,
		OutputText: m.Content,
		ErrorText:  m.ErrorText,
		LatencyMS:  m.LatencyMS,
	}, nil
}

func deriveTitle(text string) string {
	title := strings.Join(strings.Fields(text), " ")
	runes := []rune(title)
	if len(runes) > 80 {
		title = string(runes[:80])
	}
	return title
}
