// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file validates the Idempotency-Key header on message sends. The key is
// stashed for the handler, which passes it to the session service; that is
// where the recorded pair is looked up and replayed. The middleware only
// peeks at storage to flag the request as a replay so the rate limiter lets
// it through for free.
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header carrying a client chosen key
// that stays the same across retries of one send.
const HeaderIdempotencyKey = "Idempotency-Key"

const defaultIdempotencyKeyLen = 128

// GetIdempotencyKey returns the key accepted by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	s := ctxString(c, ctxKeyIdemKey)
	return s, s != ""
}

// IsReplay reports whether a live record already exists for the caller's key.
func IsReplay(c *gin.Context) bool { return ctxBool(c, ctxKeyIdemReplay) }

// IdempotencyOptions configures IdempotencyValidator.
type IdempotencyOptions struct {
	// MaxLen caps the key length; <= 0 means 128.
	MaxLen int
}

// IdempotencyLookup reports whether a still-valid record exists for
// (userID, key) at now. Expiry is the lookup's business.
type IdempotencyLookup func(ctx context.Context, userID, key string, now time.Time) (bool, error)

// IdempotencyValidator checks Idempotency-Key when present. Keys must be
// 1..MaxLen characters from [A-Za-z0-9._~:-]; otherwise the request fails with
//
//	400 {"code":"bad_idempotency_key","error":"Invalid Idempotency-Key header"}
//
// Install after RequireAuth: the replay lookup is scoped to the caller. A
// failed lookup is logged and treated as a miss.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = defaultIdempotencyKeyLen
	}

	return func(c *gin.Context) {
		key, present := c.Request.Header[http.CanonicalHeaderKey(HeaderIdempotencyKey)]
		if !present {
			c.Next()
			return
		}
		if len(key) != 1 || !validIdempotencyKey(key[0], maxLen) {
			abortJSON(c, http.StatusBadRequest, "bad_idempotency_key", "Invalid Idempotency-Key header")
			return
		}
		c.Set(ctxKeyIdemKey, key[0])

		uid := userIDFromCtx(c)
		if lookup == nil || uid == "" {
			c.Next()
			return
		}
		found, err := lookup(c.Request.Context(), uid, key[0], time.Now().UTC())
		if err != nil {
			LoggerFrom(c).Warn().Err(err).Msg("idempotency lookup failed")
		}
		if found {
			c.Set(ctxKeyIdemReplay, true)
			c.Set(ctxKeyRateBypass, true)
		}
		c.Next()
	}
}

func validIdempotencyKey(k string, maxLen int) bool {
	if k == "" || len(k) > maxLen {
		return false
	}
	for i := 0; i < len(k); i++ {
		if !isTokenChar(k[i]) {
			return false
		}
	}
	return true
}
