package chat

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// --- sessions ---

func (r *Repo) CreateSession(ctx context.Context, s *Session) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *Repo) GetSessionByID(ctx context.Context, id string) (*Session, error) {
	var s Session
	if err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repo) GetSessionByExternalID(ctx context.Context, externalID string) (*Session, error) {
	var s Session
	if err := r.db.WithContext(ctx).
		Where("external_id = ?", externalID).
		First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateSessionOrGetExisting inserts s, and when its external id already
// exists returns the existing row (touching updated_at) instead. Callers
// retrying "start chat" with the same external id must not end up with two
// sessions.
func (r *Repo) CreateSessionOrGetExisting(ctx context.Context, s *Session) (*Session, bool, error) {
	if s.ExternalID == nil || *s.ExternalID == "" {
		s.ExternalID = nil
		if err := r.db.WithContext(ctx).Create(s).Error; err != nil {
			return nil, false, err
		}
		return s, true, nil
	}

	createErr := r.db.WithContext(ctx).Create(s).Error
	if createErr == nil {
		return s, true, nil
	}

	existing, getErr := r.GetSessionByExternalID(ctx, *s.ExternalID)
	if getErr == nil {
		now := time.Now()
		err := r.db.WithContext(ctx).Model(&Session{}).
			Where("id = ?", existing.ID).
			Update("updated_at", now).Error
		if err != nil {
			return nil, false, err
		}
		existing.UpdatedAt = now
		return existing, false, nil
	}
	if errors.Is(getErr, gorm.ErrRecordNotFound) {
		return nil, false, createErr
	}
	return nil, false, getErr
}

// SoftDeleteSession flips an active session owned by userID to deleted.
// Rows are never hard-removed.
func (r *Repo) SoftDeleteSession(ctx context.Context, id, userID string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Session{}).
		Where("id = ? AND user_id = ? AND status = ?", id, userID, SessionActive).
		Updates(map[string]any{
			"status":     SessionDeleted,
			"updated_at": time.Now(),
		})
	return res.RowsAffected > 0, res.Error
}

func (r *Repo) UpdateSessionTitle(ctx context.Context, id, userID, title string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Session{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]any{
			"title":      title,
			"updated_at": time.Now(),
		})
	return res.RowsAffected > 0, res.Error
}

// TouchSession records message activity; title is only applied when
// non-empty (title-on-first-message).
func (r *Repo) TouchSession(ctx context.Context, id, title string, at time.Time) error {
	updates := map[string]any{
		"last_message_at": at,
		"updated_at":      at,
	}
	if title != "" {
		updates["title"] = title
	}
	return r.db.WithContext(ctx).Model(&Session{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// --- messages ---

func (r *Repo) InsertMessage(ctx context.Context, m *Message) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *Repo) GetMessageByID(ctx context.Context, id string) (*Message, error) {
	var m Message
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *Repo) GetMessageByRequestID(ctx context.Context, requestID string) (*Message, error) {
	var m Message
	if err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns up to limit messages in ascending insertion order.
func (r *Repo) ListMessages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	var msgs []Message
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id ASC").
		Limit(limit).
		Find(&msgs).Error
	return msgs, err
}

// ListRecentMessagesDesc returns the most recent messages, newest first.
func (r *Repo) ListRecentMessagesDesc(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	var msgs []Message
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id DESC").
		Limit(limit).
		Find(&msgs).Error
	return msgs, err
}

// CompleteMessage moves a queued placeholder to completed. The status
// predicate makes the terminal transition happen at most once: a second
// reconciliation attempt matches zero rows.
func (r *Repo) CompleteMessage(ctx context.Context, id, content string, latencyMS int64, meta Metadata) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Message{}).
		Where("id = ? AND status = ?", id, StatusQueued).
		Updates(map[string]any{
			"content":    content,
			"status":     StatusCompleted,
			"latency_ms": latencyMS,
			"error_text": nil,
			"metadata":   meta,
		})
	return res.RowsAffected > 0, res.Error
}

// FailMessage moves a queued placeholder to failed, mirroring
// CompleteMessage's guard.
func (r *Repo) FailMessage(ctx context.Context, id, content, errorText string, latencyMS int64, meta Metadata) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Message{}).
		Where("id = ? AND status = ?", id, StatusQueued).
		Updates(map[string]any{
			"content":    content,
			"status":     StatusFailed,
			"latency_ms": latencyMS,
			"error_text": errorText,
			"metadata":   meta,
		})
	return res.RowsAffected > 0, res.Error
}

// --- bots ---

func (r *Repo) CreateBot(ctx context.Context, b *Bot) error {
	return r.db.WithContext(ctx).Create(b).Error
}

func (r *Repo) GetBotByID(ctx context.Context, id string) (*Bot, error) {
	var b Bot
	if err := r.db.WithContext(ctx).First(&b, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *Repo) GrantBotAccess(ctx context.Context, tenantID, botID string) error {
	return r.db.WithContext(ctx).Create(&BotAccess{TenantID: tenantID, BotID: botID}).Error
}

func (r *Repo) HasBotAccess(ctx context.Context, tenantID, botID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&BotAccess{}).
		Where("tenant_id = ? AND bot_id = ?", tenantID, botID).
		Count(&count).Error
	return count > 0, err
}
