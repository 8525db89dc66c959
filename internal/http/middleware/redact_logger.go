// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, the production access log. It never
// logs bodies, and it scrubs the request metadata it does log: bearer
// credentials and generator keys are masked outright, and JWTs, email
// addresses and UUIDs found in the query string or other headers are
// replaced with typed placeholders.
package middleware

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RedactOptions configures RedactingLogger.
type RedactOptions struct {
	// MaskHeaders are extra header names (case-insensitive) whose values are
	// replaced with "[REDACTED]".
	MaskHeaders []string
	// LogHeaders includes the scrubbed request headers in each line.
	LogHeaders bool
}

const redactedValue = "[REDACTED]"

var (
	// Three base64url segments starting with a JSON object header ("eyJ").
	jwtRE = regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]*`)
	// UUID ids are user and message identifiers in this API.
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
)

// redactor scrubs strings and header sets.
type redactor struct {
	masked map[string]struct{}
}

func newRedactor(extra []string) *redactor {
	r := &redactor{masked: map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
		"api-key":       {},
	}}
	for _, h := range extra {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			r.masked[h] = struct{}{}
		}
	}
	return r
}

// scrub replaces tokens before ids so the id pattern never eats into a JWT.
func (r *redactor) scrub(s string) string {
	if s == "" {
		return s
	}
	s = jwtRE.ReplaceAllString(s, "[REDACTED:token]")
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	return emailRE.ReplaceAllString(s, "[REDACTED:email]")
}

func (r *redactor) headers(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		if _, ok := r.masked[strings.ToLower(k)]; ok {
			out[k] = redactedValue
			continue
		}
		out[k] = r.scrub(strings.Join(vv, ", "))
	}
	return out
}

// RedactingLogger returns the scrubbing access-log middleware. Like Logger it
// attaches a request-scoped logger carrying only the request id.
//
//	r.Use(middleware.RequestID(), middleware.RedactingLogger(middleware.RedactOptions{}))
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	red := newRedactor(opts.MaskHeaders)

	return func(c *gin.Context) {
		start := time.Now()
		query := red.scrub(c.Request.URL.RawQuery)
		var hdrs map[string]string
		if opts.LogHeaders {
			hdrs = red.headers(c.Request.Header)
		}
		l := attachLogger(c, log.With().Str("request_id", RequestIDFrom(c)))

		c.Next()

		logAccess(l, c, start, func(e *zerolog.Event) {
			if query != "" {
				e.Str("query", query)
			}
			if hdrs != nil {
				e.Interface("headers", hdrs)
			}
		})
	}
}
