// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file holds the correlation and access-log plumbing:
//
//   - RequestID tags every request with an X-Request-ID, reusing a
//     well-formed inbound value.
//   - Logger is the verbose access log used in debug mode; RedactingLogger
//     (redact_logger.go) is the production variant. Both attach a
//     request-scoped zerolog.Logger to the Gin context and the request
//     context, so services reach it through log.Ctx(ctx).
//   - Recovery turns panics into the JSON 500 envelope.
//
// Order them RequestID → Logger/RedactingLogger → Recovery so that panics are
// logged with the correlation id.
package middleware

import (
	"net/http"
	"runtime/debug"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// maxRequestIDLen bounds client supplied correlation ids.
	maxRequestIDLen = 64
	// maxQueryLogRunes caps the raw query logged by Logger.
	maxQueryLogRunes = 512
	// replySourceHeader is set by the message handler to remote|fallback.
	replySourceHeader = "X-Reply-Source"
)

// RequestID propagates a correlation id. An inbound X-Request-ID is reused
// only when it is short and made of token characters; anything else is
// replaced by a fresh UUID so clients cannot inject text into log lines.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if !validRequestID(rid) {
			rid = uuid.NewString()
		}
		c.Set(ctxKeyRequestID, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

func validRequestID(s string) bool {
	if s == "" || len(s) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isTokenChar(s[i]) {
			return false
		}
	}
	return true
}

// isTokenChar accepts ASCII letters, digits and ._~-:
func isTokenChar(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	case b == '.', b == '_', b == '~', b == '-', b == ':':
		return true
	}
	return false
}

// Logger writes one access log line per request with client details and the
// raw query. It does not scrub anything, so it is only installed when gin
// runs in debug mode.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		l := attachLogger(c, log.With().
			Str("request_id", RequestIDFrom(c)).
			Str("remote_ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent()))

		c.Next()

		logAccess(l, c, start, func(e *zerolog.Event) {
			e.Str("query", truncateRunes(c.Request.URL.RawQuery, maxQueryLogRunes)).
				Int64("bytes_in", c.Request.ContentLength)
		})
	}
}

// attachLogger builds the request-scoped logger and stores it where
// LoggerFrom and log.Ctx can find it.
func attachLogger(c *gin.Context, with zerolog.Context) zerolog.Logger {
	l := with.Logger()
	c.Set(ctxKeyLogger, &l)
	c.Request = c.Request.WithContext(l.WithContext(c.Request.Context()))
	return l
}

// logAccess emits the access line shared by Logger and RedactingLogger.
// Level follows the outcome: error for 5xx or gin errors, warn for 4xx.
func logAccess(l zerolog.Logger, c *gin.Context, start time.Time, extra func(*zerolog.Event)) {
	status := c.Writer.Status()

	var ev *zerolog.Event
	switch {
	case len(c.Errors) > 0:
		ev = l.Error().Str("errors", c.Errors.String())
	case status >= 500:
		ev = l.Error()
	case status >= 400:
		ev = l.Warn()
	default:
		ev = l.Info()
	}

	ev = ev.Str("method", c.Request.Method).
		Str("path", routeOrPath(c)).
		Str("user_id", userIDFromCtx(c)).
		Int("status", status).
		Int("bytes_out", c.Writer.Size()).
		Dur("latency", time.Since(start))
	if src := c.Writer.Header().Get(replySourceHeader); src != "" {
		ev = ev.Str("reply_source", src)
	}
	if IsReplay(c) {
		ev = ev.Bool("replayed", true)
	}
	if extra != nil {
		extra(ev)
	}
	ev.Msg("http_request")
}

func routeOrPath(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return c.Request.URL.Path
}

// Recovery converts a panic into 500 {"code":"internal_error"} unless a
// response was already started, and logs the panic with its stack.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("request_id", RequestIDFrom(c)).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Header(requestIDHeader, RequestIDFrom(c))
			abortJSON(c, http.StatusInternalServerError, "internal_error", "Internal server error")
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger, or the global logger when no
// access-log middleware ran. Never nil.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(ctxKeyLogger); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.Logger
	return &l
}

// truncateRunes cuts s to at most max runes and marks the cut with an
// ellipsis. max <= 0 disables truncation.
func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i] + "…"
		}
		n++
	}
	return s
}
