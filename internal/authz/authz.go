// Package authz implements the bot-entitlement check backed by the bots and
// bot_access tables.
package authz

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"chat-relay/internal/chat"
)

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Authorize reports whether the tenant may interact with the bot. The user
// id is accepted for interface symmetry; entitlement is per tenant.
func (s *Store) Authorize(ctx context.Context, tenantID, _ string, botID string) error {
	var bot chat.Bot
	if err := s.db.WithContext(ctx).First(&bot, "id = ?", botID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return chat.ErrBotNotFound
		}
		return err
	}

	var count int64
	err := s.db.WithContext(ctx).Model(&chat.BotAccess{}).
		Where("tenant_id = ? AND bot_id = ?", tenantID, botID).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count == 0 {
		return chat.ErrForbidden
	}
	return nil
}
