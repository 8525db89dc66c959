// Package services – MessageService
//
// This file implements MessageService, the message archive. It appends
// immutable user and bot turns to a user's log and reads the log back in
// creation order.
//
// Observability: all public methods are OpenTelemetry-instrumented; spans
// include the user identifier.
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/chat-relay/internal/domain"
	"github.com/tbourn/chat-relay/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MessageService appends to and reads from the message archive.
type MessageService struct {
	DB *gorm.DB

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

func (s *MessageService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Append stores text for userID as a turn by sender. Text must be non-blank
// and is stored exactly as supplied.
func (s *MessageService) Append(ctx context.Context, userID, text string, sender domain.Sender) (*domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Append",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("sender", string(sender)),
		),
	)
	defer span.End()

	return s.appendAt(ctx, userID, text, sender, s.now())
}

// AppendReply stores a bot turn answering prompt. Its timestamp is forced
// strictly after the prompt's so history always shows the pair in order,
// even when the clock does not advance between the two writes.
func (s *MessageService) AppendReply(ctx context.Context, prompt *domain.Message, text string) (*domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "AppendReply",
		trace.WithAttributes(attribute.String("user.id", prompt.UserID)),
	)
	defer span.End()

	at := s.now()
	if floor := prompt.CreatedAt.Add(time.Microsecond); at.Before(floor) {
		at = floor
	}
	return s.appendAt(ctx, prompt.UserID, text, domain.SenderBot, at)
}

func (s *MessageService) appendAt(ctx context.Context, userID, text string, sender domain.Sender, at time.Time) (*domain.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, invalid(MsgTextEmpty)
	}
	if !sender.Valid() {
		return nil, invalid(MsgUnknownSender)
	}
	// PostgreSQL stores microseconds; truncating keeps the returned value equal to the stored one.
	m, err := repo.CreateMessage(ctx, s.DB, userID, sender, text, at.Truncate(time.Microsecond))
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return m, nil
}

// History returns every turn for userID, oldest first.
func (s *MessageService) History(ctx context.Context, userID string) ([]domain.HistoryEntry, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "History",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	msgs, err := repo.ListMessages(ctx, s.DB, userID, 0)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	out := make([]domain.HistoryEntry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Entry())
	}
	span.SetAttributes(attribute.Int("messages", len(out)))
	return out, nil
}

// Stats returns the number of turns and the newest timestamp for userID.
// latest is nil when the log is empty.
func (s *MessageService) Stats(ctx context.Context, userID string) (count int64, latest *time.Time, err error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Stats",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	return repo.MessagesStats(ctx, s.DB, userID)
}

// Get loads one of userID's messages by id.
func (s *MessageService) Get(ctx context.Context, userID, id string) (*domain.Message, error) {
	return repo.GetMessage(ctx, s.DB, id, userID)
}
