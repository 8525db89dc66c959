package repo

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/chat-relay/internal/domain"
)

// MessagesStats returns how many turns userID has and when the newest one
// was written. Both feed the history ETag; latest is nil for an empty log.
//
// The newest timestamp is read back as a row rather than through MAX(),
// which SQLite hands back as TEXT.
func MessagesStats(ctx context.Context, db *gorm.DB, userID string) (count int64, latest *time.Time, err error) {
	scope := func() *gorm.DB {
		return db.WithContext(ctx).Model(&domain.Message{}).Where("user_id = ?", userID)
	}

	if err := scope().Count(&count).Error; err != nil {
		return 0, nil, fmt.Errorf("count messages: %w", err)
	}
	if count == 0 {
		return 0, nil, nil
	}

	var newest []time.Time
	if err := scope().Order("created_at DESC").Limit(1).Pluck("created_at", &newest).Error; err != nil {
		return 0, nil, fmt.Errorf("latest message: %w", err)
	}
	if len(newest) == 0 {
		return 0, nil, nil
	}
	return count, &newest[0], nil
}
