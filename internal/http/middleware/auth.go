// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RequireAuth, the bearer-token gate in front of every
// protected route. It verifies the token, loads the user it names, and stores
// both in the Gin context for downstream handlers.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/chat-relay/internal/domain"
)

// Messages returned by RequireAuth. Verify failures and unknown users share
// one message so a caller cannot tell them apart.
const (
	MsgNoToken      = "Access denied. No token provided."
	MsgInvalidToken = "Invalid token."
)

// TokenVerifier resolves a raw bearer token to a user id.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// UserLookup loads a user by id.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
}

// RequireAuth returns a Gin middleware that admits only requests carrying
// "Authorization: Bearer <token>" for an existing user.
//
// Responses on failure (handlers never run):
//
//	401 {"request_id": "...", "code": "unauthorized",  "error": "Access denied. No token provided."}
//	401 {"request_id": "...", "code": "invalid_token", "error": "Invalid token."}
func RequireAuth(tokens TokenVerifier, users UserLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortUnauthorized(c, "unauthorized", MsgNoToken)
			return
		}
		uid, err := tokens.Verify(raw)
		if err != nil {
			abortUnauthorized(c, "invalid_token", MsgInvalidToken)
			return
		}
		u, err := users.GetByID(c.Request.Context(), uid)
		if err != nil || u == nil {
			if err != nil {
				LoggerFrom(c).Debug().Err(err).Msg("token user lookup failed")
			}
			abortUnauthorized(c, "invalid_token", MsgInvalidToken)
			return
		}

		c.Set(ctxKeyUserID, u.ID)
		c.Set(ctxKeyUser, u)
		c.Next()
	}
}

// UserIDFrom returns the authenticated user id, or "" outside RequireAuth.
func UserIDFrom(c *gin.Context) string { return userIDFromCtx(c) }

// UserFrom returns the authenticated user, or nil outside RequireAuth.
func UserFrom(c *gin.Context) *domain.User {
	if v, ok := c.Get(ctxKeyUser); ok {
		if u, ok := v.(*domain.User); ok {
			return u
		}
	}
	return nil
}

// bearerToken extracts the credential from an Authorization header value.
// The scheme match is case-insensitive.
func bearerToken(h string) (string, bool) {
	h = strings.TrimSpace(h)
	scheme, tok, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

func abortUnauthorized(c *gin.Context, code, msg string) {
	authFailures.WithLabelValues(code).Inc()
	c.Header("WWW-Authenticate", `Bearer realm="api"`)
	abortJSON(c, http.StatusUnauthorized, code, msg)
}
