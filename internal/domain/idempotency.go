package domain

import "time"

// Idempotency records the outcome of a previously processed send, keyed by
// (user_id, key). A retry carrying the same Idempotency-Key is answered from
// the stored message pair instead of archiving a second exchange.
type Idempotency struct {
	ID            string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	UserID        string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_key,priority:1"`
	Key           string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_key,priority:2"`
	UserMessageID string    `gorm:"type:TEXT NOT NULL"`
	BotMessageID  string    `gorm:"type:TEXT NOT NULL"`
	Status        int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt     time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt     time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
