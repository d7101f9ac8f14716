package chat

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type SessionStatus string

const (
	SessionActive  SessionStatus = "active"
	SessionDeleted SessionStatus = "deleted"
)

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

type MessageStatus string

const (
	// StatusDelivered marks user messages, which are written once and final.
	StatusDelivered MessageStatus = "delivered"
	// StatusQueued marks an assistant placeholder awaiting reconciliation.
	StatusQueued MessageStatus = "queued"
	// StatusCompleted and StatusFailed are the two terminal placeholder
	// states. Neither ever transitions again.
	StatusCompleted MessageStatus = "completed"
	StatusFailed    MessageStatus = "failed"
)

func (s MessageStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Metadata is a free-form JSON column (bot identity, processing flag,
// correlation ids).
type Metadata map[string]any

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *Metadata) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("metadata: unsupported column type %T", value)
	}
	if len(b) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(b, m)
}

// Session is a conversation scoped to (tenant, user, bot). The same scope may
// own many sessions; ExternalID, when present, is the idempotency key for
// callers that retry session creation.
type Session struct {
	ID            string        `gorm:"primaryKey;size:26" json:"id"`
	TenantID      string        `gorm:"size:36;index:idx_chat_sessions_owner,priority:1;not null" json:"tenant_id"`
	UserID        string        `gorm:"size:36;index:idx_chat_sessions_owner,priority:2;not null" json:"user_id"`
	BotID         string        `gorm:"size:36;index;not null" json:"bot_id"`
	ExternalID    *string       `gorm:"size:128;uniqueIndex" json:"external_id,omitempty"`
	Title         string        `gorm:"size:128" json:"title"`
	Status        SessionStatus `gorm:"size:16;index;not null" json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	LastMessageAt time.Time     `json:"last_message_at"`
}

func (Session) TableName() string { return "chat_sessions" }

// Message rows carry the delivery state machine. A request id maps to at most
// one assistant row (unique index); the row is created queued and mutated in
// place, never replaced.
type Message struct {
	ID        string        `gorm:"primaryKey;size:26" json:"id"`
	SessionID string        `gorm:"size:26;index;not null" json:"session_id"`
	Role      MessageRole   `gorm:"size:16;index;not null" json:"role"`
	Content   string        `gorm:"type:text;not null" json:"content"`
	Status    MessageStatus `gorm:"size:16;index;not null" json:"status"`
	RequestID *string       `gorm:"size:128;uniqueIndex" json:"request_id,omitempty"`
	ErrorText *string       `gorm:"type:text" json:"error_text,omitempty"`
	LatencyMS *int64        `json:"latency_ms,omitempty"`
	Metadata  Metadata      `gorm:"type:json" json:"metadata,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

func (Message) TableName() string { return "chat_messages" }

// Bot is the agent behind a conversation. WebhookURL empty means the
// deployment-wide default endpoint applies.
type Bot struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	Name       string    `gorm:"size:128;not null" json:"name"`
	WebhookURL string    `gorm:"size:512" json:"webhook_url"`
	CreatedAt  time.Time `json:"created_at"`
}

func (Bot) TableName() string { return "bots" }

// BotAccess is a tenant's entitlement to a bot.
type BotAccess struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	TenantID string `gorm:"size:36;index:uniq_bot_access,unique,priority:1;not null"`
	BotID    string `gorm:"size:36;index:uniq_bot_access,unique,priority:2;not null"`
}

func (BotAccess) TableName() string { return "bot_access" }
