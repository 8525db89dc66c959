// Package handlers provides HTTP handler implementations for the public API.
//
// Handlers are transport-thin: they bind request bodies, call application
// services, and translate results and errors into HTTP responses.
package handlers

import (
	"context"
	"time"

	"github.com/tbourn/chat-relay/internal/domain"
	"github.com/tbourn/chat-relay/internal/services"
)

//
// Service contracts (context-aware)
//

// SessionService covers the register, login and send-message flows.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type SessionService interface {
	// Register creates an account and issues its first token.
	Register(ctx context.Context, name, email, password string) (*services.Session, error)
	// Login checks credentials and issues a token.
	Login(ctx context.Context, email, password string) (*services.Session, error)
	// SendMessage archives a prompt and its reply and returns both.
	SendMessage(ctx context.Context, userID, text, idemKey string) (*services.Exchange, error)
}

// HistoryService reads a user's conversation log.
type HistoryService interface {
	// History returns every turn, oldest first.
	History(ctx context.Context, userID string) ([]domain.HistoryEntry, error)
	// Stats returns the turn count and newest timestamp, for ETags.
	Stats(ctx context.Context, userID string) (int64, *time.Time, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints for auth, messages and health.
type Handlers struct {
	sessions SessionService
	history  HistoryService

	// now stamps health responses; overridable in tests.
	now func() time.Time
}

// New constructs and returns a Handlers instance bound to the given services.
func New(sessions SessionService, history HistoryService) *Handlers {
	return &Handlers{sessions: sessions, history: history, now: time.Now}
}
