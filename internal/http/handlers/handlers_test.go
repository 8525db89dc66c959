package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/chat-relay/internal/domain"
	"github.com/tbourn/chat-relay/internal/resolver"
	"github.com/tbourn/chat-relay/internal/services"
)

// ---------- fakes ----------

type fakeSessions struct {
	register func(ctx context.Context, name, email, password string) (*services.Session, error)
	login    func(ctx context.Context, email, password string) (*services.Session, error)
	send     func(ctx context.Context, userID, text, idemKey string) (*services.Exchange, error)
}

func (f fakeSessions) Register(ctx context.Context, name, email, password string) (*services.Session, error) {
	return f.register(ctx, name, email, password)
}
func (f fakeSessions) Login(ctx context.Context, email, password string) (*services.Session, error) {
	return f.login(ctx, email, password)
}
func (f fakeSessions) SendMessage(ctx context.Context, userID, text, idemKey string) (*services.Exchange, error) {
	return f.send(ctx, userID, text, idemKey)
}

type fakeHistory struct {
	entries  []domain.HistoryEntry
	err      error
	statsErr error
	calls    int
}

func (f *fakeHistory) History(context.Context, string) ([]domain.HistoryEntry, error) {
	f.calls++
	return f.entries, f.err
}
func (f *fakeHistory) Stats(context.Context, string) (int64, *time.Time, error) {
	if f.statsErr != nil {
		return 0, nil, f.statsErr
	}
	if len(f.entries) == 0 {
		return 0, nil, nil
	}
	ts := f.entries[len(f.entries)-1].Timestamp
	return int64(len(f.entries)), &ts, nil
}

var ann = &domain.User{ID: "u-ann", Name: "Ann", Email: "ann@x.com", PasswordHash: "$2a$hash"}

// newEngine mounts the handlers; authed routes get a stub gate that sets ann.
func newEngine(h *Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
	r.GET("/health", h.Health)

	authed := r.Group("", func(c *gin.Context) {
		if c.GetHeader("Authorization") != "" {
			c.Set("userID", ann.ID)
			c.Set("user", ann)
		}
		c.Next()
	})
	authed.GET("/auth/profile", h.Profile)
	authed.POST("/message", func(c *gin.Context) {
		if k := c.GetHeader("Idempotency-Key"); k != "" {
			c.Set("idem.key", k)
		}
		h.PostMessage(c)
	})
	authed.GET("/chat/history", h.History)
	return r
}

func do(r http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeErr(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return er
}

// ---------- auth ----------

func TestRegister_Created(t *testing.T) {
	var got [3]string
	h := New(fakeSessions{register: func(_ context.Context, n, e, p string) (*services.Session, error) {
		got = [3]string{n, e, p}
		return &services.Session{User: ann, Token: "tok"}, nil
	}}, &fakeHistory{})

	w := do(newEngine(h), http.MethodPost, "/auth/register", `{"name":"Ann","email":"ann@x.com","password":"secret1"}`, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if got != [3]string{"Ann", "ann@x.com", "secret1"} {
		t.Fatalf("service got %v", got)
	}
	var resp AuthResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Message != "User registered successfully" || resp.Token != "tok" || resp.User.ID != "u-ann" || resp.User.Email != "ann@x.com" {
		t.Fatalf("unexpected body: %+v", resp)
	}
	if bytes.Contains(w.Body.Bytes(), []byte("hash")) || bytes.Contains(w.Body.Bytes(), []byte("password")) {
		t.Fatalf("password material leaked: %s", w.Body.String())
	}
}

func TestRegister_Errors(t *testing.T) {
	var fail error
	h := New(fakeSessions{register: func(context.Context, string, string, string) (*services.Session, error) {
		return nil, fail
	}}, &fakeHistory{})
	r := newEngine(h)

	fail = &services.ValidationError{Msg: services.MsgAllFieldsRequired}
	// empty body still reaches the service
	w := do(r, http.MethodPost, "/auth/register", "", nil)
	if er := decodeErr(t, w); w.Code != 400 || er.Error != "All fields are required" {
		t.Fatalf("empty body: %d %+v", w.Code, er)
	}

	fail = services.ErrDuplicateEmail
	w = do(r, http.MethodPost, "/auth/register", `{"name":"Ann","email":"ann@x.com","password":"secret1"}`, nil)
	if er := decodeErr(t, w); w.Code != 400 || er.Error != "User already exists with this email" {
		t.Fatalf("duplicate: %d %+v", w.Code, er)
	}

	w = do(r, http.MethodPost, "/auth/register", `{"name":`, nil)
	if er := decodeErr(t, w); w.Code != 400 || er.Code != ErrCodeBadRequest {
		t.Fatalf("malformed: %d %+v", w.Code, er)
	}
}

func TestLogin(t *testing.T) {
	h := New(fakeSessions{login: func(_ context.Context, e, p string) (*services.Session, error) {
		switch {
		case e == "" || p == "":
			return nil, &services.ValidationError{Msg: services.MsgCredentialsRequired}
		case e == "ann@x.com" && p == "secret1":
			return &services.Session{User: ann, Token: "tok"}, nil
		default:
			return nil, services.ErrInvalidCredentials
		}
	}}, &fakeHistory{})
	r := newEngine(h)

	w := do(r, http.MethodPost, "/auth/login", `{"email":"ann@x.com","password":"secret1"}`, nil)
	var resp AuthResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if w.Code != 200 || resp.Message != "Login successful" || resp.Token != "tok" {
		t.Fatalf("login ok: %d %s", w.Code, w.Body.String())
	}

	w = do(r, http.MethodPost, "/auth/login", `{"email":"nobody@x.com","password":"secret1"}`, nil)
	if er := decodeErr(t, w); w.Code != 401 || er.Error != "Invalid email or password" {
		t.Fatalf("unknown email: %d %+v", w.Code, er)
	}

	w = do(r, http.MethodPost, "/auth/login", `{"email":"ann@x.com"}`, nil)
	if er := decodeErr(t, w); w.Code != 400 || er.Error != "Email and password are required" {
		t.Fatalf("missing password: %d %+v", w.Code, er)
	}
}

func TestProfile(t *testing.T) {
	r := newEngine(New(fakeSessions{}, &fakeHistory{}))

	w := do(r, http.MethodGet, "/auth/profile", "", map[string]string{"Authorization": "Bearer x"})
	var resp ProfileResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if w.Code != 200 || resp.User.Name != "Ann" || strings.Contains(w.Body.String(), "hash") {
		t.Fatalf("profile: %d %s", w.Code, w.Body.String())
	}

	// without the gate having set a user
	w = do(r, http.MethodGet, "/auth/profile", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without user, got %d", w.Code)
	}
}

// ---------- messages ----------

func TestPostMessage(t *testing.T) {
	var gotUID, gotText, gotKey string
	h := New(fakeSessions{send: func(_ context.Context, uid, text, key string) (*services.Exchange, error) {
		gotUID, gotText, gotKey = uid, text, key
		if strings.TrimSpace(text) == "" {
			return nil, &services.ValidationError{Msg: services.MsgTextEmpty}
		}
		if key == "again" {
			return &services.Exchange{UserMessage: text, BotMessage: "stored", Replayed: true}, nil
		}
		return &services.Exchange{UserMessage: text, BotMessage: "Hi there! How can I help you today?", Source: resolver.SourceFallback}, nil
	}}, &fakeHistory{})
	r := newEngine(h)
	auth := map[string]string{"Authorization": "Bearer x"}

	w := do(r, http.MethodPost, "/message", `{"text":"hello"}`, auth)
	var resp PostMessageResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if w.Code != 200 || resp.UserMessage != "hello" || resp.BotMessage != "Hi there! How can I help you today?" {
		t.Fatalf("post: %d %s", w.Code, w.Body.String())
	}
	if gotUID != "u-ann" || gotText != "hello" || gotKey != "" {
		t.Fatalf("service args: %q %q %q", gotUID, gotText, gotKey)
	}
	if w.Header().Get(HeaderReplySource) != "fallback" || w.Header().Get(HeaderReplayed) != "" {
		t.Fatalf("headers: %v", w.Header())
	}

	w = do(r, http.MethodPost, "/message", `{"text":"   "}`, auth)
	if er := decodeErr(t, w); w.Code != 400 || er.Error != "Text cannot be empty" {
		t.Fatalf("blank: %d %+v", w.Code, er)
	}

	hdr := map[string]string{"Authorization": "Bearer x", "Idempotency-Key": "again"}
	w = do(r, http.MethodPost, "/message", `{"text":"hello"}`, hdr)
	if w.Code != 200 || w.Header().Get(HeaderReplayed) != "true" || gotKey != "again" {
		t.Fatalf("replay: %d headers=%v key=%q", w.Code, w.Header(), gotKey)
	}
}

func TestPostMessage_InternalError(t *testing.T) {
	h := New(fakeSessions{send: func(context.Context, string, string, string) (*services.Exchange, error) {
		return nil, errors.New("append message: disk I/O error")
	}}, &fakeHistory{})
	w := do(newEngine(h), http.MethodPost, "/message", `{"text":"hello"}`, map[string]string{"Authorization": "Bearer x"})
	if er := decodeErr(t, w); w.Code != 500 || er.Error != "Internal server error" {
		t.Fatalf("expected generic 500, got %d %+v", w.Code, er)
	}
}

func TestHistory_BodyAndETag(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	hist := &fakeHistory{entries: []domain.HistoryEntry{
		{Text: "hello", Sender: domain.SenderUser, Timestamp: t0},
		{Text: "Hi there!", Sender: domain.SenderBot, Timestamp: t0.Add(time.Microsecond)},
	}}
	r := newEngine(New(fakeSessions{}, hist))
	auth := map[string]string{"Authorization": "Bearer x"}

	w := do(r, http.MethodGet, "/chat/history", "", auth)
	if w.Code != 200 {
		t.Fatalf("status=%d", w.Code)
	}
	var body struct {
		Messages []map[string]any `json:"messages"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if len(body.Messages) != 2 || body.Messages[0]["sender"] != "user" || body.Messages[1]["sender"] != "bot" {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
	for _, m := range body.Messages {
		if len(m) != 3 {
			t.Fatalf("entry must have text/sender/timestamp only: %v", m)
		}
	}

	etag := w.Header().Get("ETag")
	if !strings.HasPrefix(etag, `W/"history:u-ann:2:`) {
		t.Fatalf("unexpected etag %q", etag)
	}
	w = do(r, http.MethodGet, "/chat/history", "", map[string]string{"Authorization": "Bearer x", "If-None-Match": etag})
	if w.Code != http.StatusNotModified || hist.calls != 1 {
		t.Fatalf("expected 304 without reloading, got %d calls=%d", w.Code, hist.calls)
	}

	hist.entries = append(hist.entries, domain.HistoryEntry{Text: "more", Sender: domain.SenderUser, Timestamp: t0.Add(time.Second)})
	w = do(r, http.MethodGet, "/chat/history", "", map[string]string{"Authorization": "Bearer x", "If-None-Match": etag})
	if w.Code != 200 || w.Header().Get("ETag") == etag {
		t.Fatalf("etag must change after append: %d %q", w.Code, w.Header().Get("ETag"))
	}
}

func TestHistory_EmptyAndErrors(t *testing.T) {
	hist := &fakeHistory{entries: []domain.HistoryEntry{}}
	r := newEngine(New(fakeSessions{}, hist))
	auth := map[string]string{"Authorization": "Bearer x"}

	w := do(r, http.MethodGet, "/chat/history", "", auth)
	if w.Code != 200 || !strings.Contains(w.Body.String(), `"messages":[]`) {
		t.Fatalf("empty history: %d %s", w.Code, w.Body.String())
	}

	// stats failure only drops the ETag
	hist.statsErr = errors.New("stats down")
	w = do(r, http.MethodGet, "/chat/history", "", auth)
	if w.Code != 200 || w.Header().Get("ETag") != "" {
		t.Fatalf("stats failure: %d etag=%q", w.Code, w.Header().Get("ETag"))
	}

	hist.err = errors.New("list down")
	w = do(r, http.MethodGet, "/chat/history", "", auth)
	if w.Code != 500 {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

// ---------- health ----------

func TestHealth(t *testing.T) {
	h := New(fakeSessions{}, &fakeHistory{})
	fixed := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	h.now = func() time.Time { return fixed }

	w := do(newEngine(h), http.MethodGet, "/health", "", nil)
	var resp HealthResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if w.Code != 200 || resp.Message != "Server is running!" || !resp.Timestamp.Equal(fixed) {
		t.Fatalf("health: %d %s", w.Code, w.Body.String())
	}
}
