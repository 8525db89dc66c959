package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/chat-relay/internal/auth"
	"github.com/tbourn/chat-relay/internal/domain"
	"github.com/tbourn/chat-relay/internal/resolver"
)

// ---------- test helpers ----------

func newSvcDB(t *testing.T, migrate bool) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if migrate {
		if err := db.AutoMigrate(&domain.User{}, &domain.Message{}, &domain.Idempotency{}); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func newUsers(db *gorm.DB) *UserService { return NewUserService(db, bcrypt.MinCost) }

func mustUser(t *testing.T, s *UserService, name, email, pw string) *domain.User {
	t.Helper()
	u, err := s.Register(context.Background(), name, email, pw)
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return u
}

// fakeResolver returns a canned reply and counts calls.
type fakeResolver struct {
	reply resolver.Reply
	calls int
}

func (f *fakeResolver) Resolve(context.Context, string) resolver.Reply {
	f.calls++
	return f.reply
}

// fakeIssuer signs "tok-<uid>" or fails.
type fakeIssuer struct{ err error }

func (f fakeIssuer) Issue(uid string) (string, time.Time, error) {
	if f.err != nil {
		return "", time.Time{}, f.err
	}
	return "tok-" + uid, time.Unix(0, 0), nil
}

func newSession(t *testing.T, db *gorm.DB, res ReplyResolver) *SessionService {
	t.Helper()
	ts, err := auth.NewTokenService("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("token service: %v", err)
	}
	return &SessionService{
		Users:          newUsers(db),
		Tokens:         ts,
		Messages:       &MessageService{DB: db},
		Resolver:       res,
		DB:             db,
		IdempotencyTTL: time.Hour,
	}
}
