package repo

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/chat-relay/internal/domain"
)

func TestOpenSQLite_ErrorOnBadPath(t *testing.T) {
	base := t.TempDir()
	bad := filepath.Join(base, "does-not-exist", "app.db")

	db, err := OpenSQLite(bad)
	if err == nil || db != nil {
		t.Fatalf("expected error opening %q, got db=%v err=%v", bad, db, err)
	}

	lower := strings.ToLower(err.Error())
	if !(os.IsNotExist(err) ||
		strings.Contains(lower, "unable to open database file") ||
		strings.Contains(lower, "no such file or directory") ||
		strings.Contains(lower, "out of memory")) {
		t.Fatalf("unexpected error opening %q: %v", bad, err)
	}
}

func TestOpenDB_EmptyDSN(t *testing.T) {
	if _, err := OpenDB("   "); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
}

func TestIsPostgresDSN(t *testing.T) {
	cases := map[string]bool{
		"postgres://u:p@h:5432/db": true,
		"POSTGRESQL://u@h/db":      true,
		"relay.db":                 false,
		"file:x?mode=memory":       false,
		" postgres://trimmed/db ":  true,
	}
	for in, want := range cases {
		if got := IsPostgresDSN(in); got != want {
			t.Errorf("IsPostgresDSN(%q) = %v; want %v", in, got, want)
		}
	}
}

func TestOpenDB_SQLite_SetsPragmas_Pool_AndAutoMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.db")

	db, err := OpenDB(path)
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	var (
		journalMode string
		syncVal     int
		fkOn        int
		busyMS      int
	)
	if err := db.Raw("PRAGMA journal_mode;").Row().Scan(&journalMode); err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if strings.ToLower(journalMode) != "wal" {
		t.Fatalf("expected journal_mode=wal, got %q", journalMode)
	}
	if err := db.Raw("PRAGMA synchronous;").Row().Scan(&syncVal); err != nil {
		t.Fatalf("PRAGMA synchronous: %v", err)
	}
	// NORMAL == 1
	if syncVal != 1 {
		t.Fatalf("expected synchronous=1 (NORMAL), got %d", syncVal)
	}
	if err := db.Raw("PRAGMA foreign_keys;").Row().Scan(&fkOn); err != nil {
		t.Fatalf("PRAGMA foreign_keys: %v", err)
	}
	if fkOn != 1 {
		t.Fatalf("expected foreign_keys=1, got %d", fkOn)
	}
	if err := db.Raw("PRAGMA busy_timeout;").Row().Scan(&busyMS); err != nil {
		t.Fatalf("PRAGMA busy_timeout: %v", err)
	}
	if busyMS != 5000 {
		t.Fatalf("expected busy_timeout=5000, got %d", busyMS)
	}

	if stats := sqlDB.Stats(); stats.MaxOpenConnections != 10 {
		t.Fatalf("expected MaxOpenConnections=10, got %d", stats.MaxOpenConnections)
	}

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	m := db.Migrator()
	for _, tbl := range []any{&domain.User{}, &domain.Message{}, &domain.Idempotency{}} {
		if !m.HasTable(tbl) {
			t.Fatalf("expected table for %T to exist", tbl)
		}
	}

	// Quick insert round-trip to prove schema is usable.
	now := time.Now().UTC()
	if err := db.Create(&domain.User{ID: "u1", Name: "Ann", Email: "ann@x.com", PasswordHash: "h"}).Error; err != nil {
		t.Fatalf("insert user: %v", err)
	}
	if err := db.Create(&domain.Message{ID: "m1", UserID: "u1", Text: "hi", Sender: domain.SenderUser, CreatedAt: now}).Error; err != nil {
		t.Fatalf("insert message: %v", err)
	}
	// foreign_keys=ON: orphans are rejected
	if err := db.Create(&domain.Message{ID: "m2", UserID: "ghost", Text: "hi", Sender: domain.SenderUser, CreatedAt: now}).Error; err == nil {
		t.Fatalf("expected FK violation for unknown user")
	}

	var got domain.User
	if err := db.First(&got, "id = ?", "u1").Error; err != nil || got.Email != "ann@x.com" {
		t.Fatalf("readback user failed: err=%v got=%+v", err, got)
	}
}

// sqlRecorder keeps every statement GORM traces.
type sqlRecorder struct{ stmts []string }

func (r *sqlRecorder) LogMode(logger.LogLevel) logger.Interface      { return r }
func (r *sqlRecorder) Info(context.Context, string, ...interface{})  {}
func (r *sqlRecorder) Warn(context.Context, string, ...interface{})  {}
func (r *sqlRecorder) Error(context.Context, string, ...interface{}) {}
func (r *sqlRecorder) Trace(_ context.Context, _ time.Time, fc func() (string, int64), _ error) {
	sql, _ := fc()
	r.stmts = append(r.stmts, sql)
}

func TestSchema_PostgresDDL(t *testing.T) {
	rec := &sqlRecorder{}
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN: "host=127.0.0.1 user=relay dbname=relay sslmode=disable",
	}), &gorm.Config{DryRun: true, DisableAutomaticPing: true, Logger: rec})
	if err != nil {
		t.Fatalf("open postgres dialector: %v", err)
	}

	for _, tbl := range []any{&domain.User{}, &domain.Message{}, &domain.Idempotency{}} {
		if err := db.Migrator().CreateTable(tbl); err != nil {
			t.Fatalf("create table %T: %v", tbl, err)
		}
	}

	ddl := strings.Join(rec.stmts, "\n")
	if !strings.Contains(ddl, `CREATE TABLE "idempotency"`) {
		t.Fatalf("idempotency table not emitted:\n%s", ddl)
	}
	if strings.Contains(strings.ToUpper(ddl), "DATETIME") {
		t.Fatalf("DATETIME is not a PostgreSQL type:\n%s", ddl)
	}
	for _, col := range []string{`"created_at" timestamptz`, `"expires_at" timestamptz`} {
		if !strings.Contains(ddl, col) {
			t.Fatalf("expected %s in DDL:\n%s", col, ddl)
		}
	}
}

// Compile-time guards to ensure signature stability.
var (
	_ func(string) (*gorm.DB, error) = OpenSQLite
	_ func(string) (*gorm.DB, error) = OpenDB
)
