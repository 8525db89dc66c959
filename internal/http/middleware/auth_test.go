package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/chat-relay/internal/domain"
)

type fakeVerifier map[string]string // token -> uid

func (f fakeVerifier) Verify(tok string) (string, error) {
	if uid, ok := f[tok]; ok {
		return uid, nil
	}
	return "", errors.New("bad token")
}

type fakeUsers map[string]*domain.User

func (f fakeUsers) GetByID(_ context.Context, id string) (*domain.User, error) {
	if u, ok := f[id]; ok {
		return u, nil
	}
	return nil, errors.New("not found")
}

func newAuthRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	verifier := fakeVerifier{"good": "u1", "ghost": "u404"}
	users := fakeUsers{"u1": {ID: "u1", Name: "Ann", Email: "ann@x.com"}}
	r.GET("/me", RequireAuth(verifier, users), func(c *gin.Context) {
		u := UserFrom(c)
		c.JSON(http.StatusOK, gin.H{"uid": UserIDFrom(c), "name": u.Name})
	})
	return r
}

func TestRequireAuth_Success(t *testing.T) {
	r := newAuthRouter()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "bearer good")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["uid"] != "u1" || body["name"] != "Ann" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestRequireAuth_Failures(t *testing.T) {
	cases := []struct {
		name   string
		header string
		code   string
		msg    string
	}{
		{"missing header", "", "unauthorized", MsgNoToken},
		{"wrong scheme", "Basic Zm9vOmJhcg==", "unauthorized", MsgNoToken},
		{"scheme without token", "Bearer   ", "unauthorized", MsgNoToken},
		{"bad token", "Bearer nope", "invalid_token", MsgInvalidToken},
		{"token for deleted user", "Bearer ghost", "invalid_token", MsgInvalidToken},
	}
	r := newAuthRouter()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			r.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", w.Code)
			}
			var body map[string]string
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("bad json: %v", err)
			}
			if body["code"] != tc.code || body["error"] != tc.msg {
				t.Fatalf("unexpected body: %v", body)
			}
			if body["request_id"] == "" || body["request_id"] != w.Header().Get("X-Request-ID") {
				t.Fatalf("request_id missing or mismatched: %v", body)
			}
			if w.Header().Get("WWW-Authenticate") == "" {
				t.Fatalf("expected WWW-Authenticate header")
			}
		})
	}
}

func TestUserHelpers_OutsideAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if UserIDFrom(c) != "" || UserFrom(c) != nil {
		t.Fatalf("helpers should be empty without RequireAuth")
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]struct {
		tok string
		ok  bool
	}{
		"Bearer abc":   {"abc", true},
		"BEARER  abc ": {"abc", true},
		"Bearer":       {"", false},
		"Token abc":    {"", false},
		"":             {"", false},
	}
	for in, want := range cases {
		tok, ok := bearerToken(in)
		if tok != want.tok || ok != want.ok {
			t.Errorf("bearerToken(%q) = (%q, %v); want (%q, %v)", in, tok, ok, want.tok, want.ok)
		}
	}
}
