// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message model.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/chat-relay/internal/domain"
)

// CreateMessage inserts a new message row stamped with at.
//
// IDs are UUIDv7, which increase monotonically within the process, so rows
// sharing a timestamp still sort in the order they were created.
func CreateMessage(ctx context.Context, db *gorm.DB, userID string, sender domain.Sender, text string, at time.Time) (*domain.Message, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	m := &domain.Message{
		ID:        id.String(),
		UserID:    userID,
		Text:      text,
		Sender:    sender,
		CreatedAt: at.UTC(),
	}
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	return m, nil
}

// ListMessages returns a user's messages oldest first, ties on CreatedAt
// broken by ID (creation order, see CreateMessage). limit <= 0 means no limit.
func ListMessages(ctx context.Context, db *gorm.DB, userID string, limit int) ([]domain.Message, error) {
	out := []domain.Message{}
	q := db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw("SELECT COUNT(*) FROM messages WHERE user_id = ?", userID).Scan(&total).Error
	return total, err
}

// GetMessage fetches a message by ID scoped to its owner.
func GetMessage(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}
