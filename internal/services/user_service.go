// Package services – UserService
//
// UserService is the credential store: it registers accounts with bcrypt
// password hashes, checks logins, and loads users by id.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/tbourn/chat-relay/internal/auth"
	"github.com/tbourn/chat-relay/internal/domain"
	"github.com/tbourn/chat-relay/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MinPasswordRunes is the shortest accepted password.
const MinPasswordRunes = 6

// UserService registers and authenticates users.
type UserService struct {
	DB     *gorm.DB
	Hasher auth.Hasher

	dummyOnce sync.Once
	dummyHash string
}

// NewUserService returns a UserService hashing at the given bcrypt cost.
func NewUserService(db *gorm.DB, cost int) *UserService {
	return &UserService{DB: db, Hasher: auth.NewHasher(cost)}
}

// Register creates a user. Name and email must be non-blank; the password
// must be non-empty and at least MinPasswordRunes long, whitespace counting
// like any other character. The email is stored as given.
func (s *UserService) Register(ctx context.Context, name, email, password string) (*domain.User, error) {
	tr := otel.Tracer("services/UserService")
	ctx, span := tr.Start(ctx, "Register")
	defer span.End()

	if strings.TrimSpace(name) == "" || strings.TrimSpace(email) == "" || password == "" {
		return nil, invalid(MsgAllFieldsRequired)
	}
	if utf8.RuneCountInString(password) < MinPasswordRunes {
		return nil, invalid(MsgPasswordTooShort)
	}

	exists, err := repo.EmailExists(ctx, s.DB, email)
	if err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	}
	if exists {
		return nil, ErrDuplicateEmail
	}

	hash, err := s.Hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u, err := repo.CreateUser(ctx, s.DB, name, email, hash)
	if errors.Is(err, repo.ErrDuplicateEmail) {
		// lost a race with a concurrent registration
		return nil, ErrDuplicateEmail
	}
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	span.SetAttributes(attribute.String("user.id", u.ID))
	return u, nil
}

// Login returns the user whose email and password match. Unknown emails and
// wrong passwords both yield ErrInvalidCredentials; an unknown email is still
// compared against a dummy hash so both paths cost one bcrypt comparison.
func (s *UserService) Login(ctx context.Context, email, password string) (*domain.User, error) {
	tr := otel.Tracer("services/UserService")
	ctx, span := tr.Start(ctx, "Login")
	defer span.End()

	if strings.TrimSpace(email) == "" || password == "" {
		return nil, invalid(MsgCredentialsRequired)
	}

	u, err := repo.GetUserByEmail(ctx, s.DB, email)
	if errors.Is(err, repo.ErrNotFound) {
		_ = s.Hasher.Compare(s.dummy(), password)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	switch err := s.Hasher.Compare(u.PasswordHash, password); {
	case errors.Is(err, auth.ErrMismatch):
		return nil, ErrInvalidCredentials
	case err != nil:
		return nil, fmt.Errorf("compare password: %w", err)
	}
	span.SetAttributes(attribute.String("user.id", u.ID))
	return u, nil
}

// GetByID loads a user or returns ErrUserNotFound.
func (s *UserService) GetByID(ctx context.Context, id string) (*domain.User, error) {
	tr := otel.Tracer("services/UserService")
	ctx, span := tr.Start(ctx, "GetByID", trace.WithAttributes(attribute.String("user.id", id)))
	defer span.End()

	u, err := repo.GetUserByID(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return u, nil
}

// dummy returns a hash at the service's cost that no password matches in practice.
func (s *UserService) dummy() string {
	s.dummyOnce.Do(func() {
		h, err := s.Hasher.Hash("dummy-password-for-timing")
		if err == nil {
			s.dummyHash = h
		}
	})
	return s.dummyHash
}
