// Package services – SessionService
//
// SessionService composes the credential store, token issuing, the message
// archive and the reply resolver into the three client-facing flows:
// register, login, and send-message.
//
// A send performs two archive writes with the resolver call between them and
// is not transactional: if the process dies after the first write, the user
// turn stays without a reply. Clients that need safe retries pass an
// idempotency key; a completed send is recorded under it and a retry with the
// same key returns the stored pair instead of writing a second one.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/chat-relay/internal/domain"
	"github.com/tbourn/chat-relay/internal/repo"
	"github.com/tbourn/chat-relay/internal/resolver"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TokenIssuer signs tokens for a user id.
type TokenIssuer interface {
	Issue(userID string) (string, time.Time, error)
}

// ReplyResolver produces a bot reply for a prompt. It never fails.
type ReplyResolver interface {
	Resolve(ctx context.Context, text string) resolver.Reply
}

// Session is the result of a successful register or login.
type Session struct {
	User      *domain.User
	Token     string
	ExpiresAt time.Time
}

// Exchange is the result of one send.
type Exchange struct {
	UserMessage string
	BotMessage  string
	// Source is where the reply came from; empty for replays.
	Source resolver.Source
	// Replayed is true when the pair was served from an idempotency record.
	Replayed bool
}

// SessionService orchestrates the register, login and send-message flows.
type SessionService struct {
	Users    *UserService
	Tokens   TokenIssuer
	Messages *MessageService
	Resolver ReplyResolver

	// DB backs idempotency records; nil disables them.
	DB             *gorm.DB
	IdempotencyTTL time.Duration

	// MaxTextRunes caps prompt length; <= 0 means unlimited.
	MaxTextRunes int
}

// Register creates an account and issues its first token.
func (s *SessionService) Register(ctx context.Context, name, email, password string) (*Session, error) {
	u, err := s.Users.Register(ctx, name, email, password)
	if err != nil {
		return nil, err
	}
	return s.issue(u)
}

// Login checks credentials and issues a token.
func (s *SessionService) Login(ctx context.Context, email, password string) (*Session, error) {
	u, err := s.Users.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return s.issue(u)
}

func (s *SessionService) issue(u *domain.User) (*Session, error) {
	tok, exp, err := s.Tokens.Issue(u.ID)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &Session{User: u, Token: tok, ExpiresAt: exp}, nil
}

// SendMessage archives text as a user turn, resolves a reply, archives the
// reply as a bot turn, and returns both. Blank text is rejected before
// anything is written.
//
// Once validated, the send runs to completion even if ctx is cancelled.
//
// When idemKey is non-empty and a live record exists for (userID, idemKey),
// the stored pair is returned with Replayed set and nothing is written.
func (s *SessionService) SendMessage(ctx context.Context, userID, text, idemKey string) (*Exchange, error) {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "SendMessage",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Bool("idempotent", idemKey != ""),
		),
	)
	defer span.End()

	if strings.TrimSpace(text) == "" {
		return nil, invalid(MsgTextEmpty)
	}
	if s.MaxTextRunes > 0 && utf8.RuneCountInString(text) > s.MaxTextRunes {
		return nil, invalid(MsgTextTooLong)
	}

	// A client hanging up must not leave a user turn without its reply; the
	// resolver's own timeout still bounds the remote call.
	ctx = context.WithoutCancel(ctx)

	if idemKey != "" && s.DB != nil {
		ex, err := s.Replay(ctx, userID, idemKey)
		if err == nil {
			span.SetAttributes(attribute.Bool("replayed", true))
			return ex, nil
		}
		if !errors.Is(err, ErrReplayNotFound) {
			return nil, err
		}
	}

	prompt, err := s.Messages.Append(ctx, userID, text, domain.SenderUser)
	if err != nil {
		return nil, err
	}

	reply := s.Resolver.Resolve(ctx, text)

	bot, err := s.Messages.AppendReply(ctx, prompt, reply.Text)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("reply.source", string(reply.Source)))

	if idemKey != "" && s.DB != nil {
		s.remember(ctx, userID, idemKey, prompt.ID, bot.ID)
	}

	return &Exchange{
		UserMessage: prompt.Text,
		BotMessage:  bot.Text,
		Source:      reply.Source,
	}, nil
}

// Replay returns the pair stored under (userID, key), or ErrReplayNotFound.
func (s *SessionService) Replay(ctx context.Context, userID, key string) (*Exchange, error) {
	if s.DB == nil {
		return nil, ErrReplayNotFound
	}
	rec, err := repo.GetIdempotency(ctx, s.DB, userID, key, time.Now().UTC())
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrReplayNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load idempotency record: %w", err)
	}

	prompt, err := s.Messages.Get(ctx, userID, rec.UserMessageID)
	if err != nil {
		return nil, fmt.Errorf("load replayed prompt: %w", err)
	}
	bot, err := s.Messages.Get(ctx, userID, rec.BotMessageID)
	if err != nil {
		return nil, fmt.Errorf("load replayed reply: %w", err)
	}
	return &Exchange{UserMessage: prompt.Text, BotMessage: bot.Text, Replayed: true}, nil
}

// remember records a completed send. Failures only lose replay ability, so
// they are logged and dropped.
func (s *SessionService) remember(ctx context.Context, userID, key, promptID, botID string) {
	ttl := s.IdempotencyTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	_, err := repo.CreateIdempotency(ctx, s.DB, userID, key, promptID, botID, 200, ttl)
	if errors.Is(err, repo.ErrDuplicate) {
		// an expired record still holds the unique slot
		if n, perr := repo.PurgeExpiredIdempotency(ctx, s.DB, time.Now().UTC()); perr == nil && n > 0 {
			_, err = repo.CreateIdempotency(ctx, s.DB, userID, key, promptID, botID, 200, ttl)
		}
	}
	switch {
	case errors.Is(err, repo.ErrDuplicate):
		log.Ctx(ctx).Warn().Str("user_id", userID).Msg("idempotency key completed twice concurrently")
	case err != nil:
		log.Ctx(ctx).Error().Err(err).Str("user_id", userID).Msg("failed to record idempotency key")
	}
}
