package middleware

import (
	"github.com/gin-gonic/gin"
)

// Gin context keys shared by the middleware in this package.
const (
	ctxKeyRequestID  = "requestID"
	ctxKeyLogger     = "logger"
	ctxKeyUserID     = "userID"
	ctxKeyUser       = "user"
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"
)

// requestIDHeader carries the correlation id in both directions.
const requestIDHeader = "X-Request-ID"

// RequestIDFrom returns the correlation id set by RequestID, falling back to
// the response header for chains that set it some other way.
func RequestIDFrom(c *gin.Context) string {
	if s := ctxString(c, ctxKeyRequestID); s != "" {
		return s
	}
	return c.Writer.Header().Get(requestIDHeader)
}

func userIDFromCtx(c *gin.Context) string { return ctxString(c, ctxKeyUserID) }

func ctxString(c *gin.Context, key string) string {
	if v, ok := c.Get(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func ctxBool(c *gin.Context, key string) bool {
	if v, ok := c.Get(key); ok {
		b, _ := v.(bool)
		return b
	}
	return false
}

// abortJSON stops the chain with the API error envelope.
func abortJSON(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": RequestIDFrom(c),
		"code":       code,
		"error":      msg,
	})
}
