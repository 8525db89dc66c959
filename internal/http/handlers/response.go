// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the response helpers shared by every endpoint: the error
// envelope, fail() for aborting with it, and the mapping from service errors
// to HTTP status codes.
//
// Example error response:
//
//	HTTP/1.1 400 Bad Request
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "validation_error",
//	  "error": "Text cannot be empty"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/chat-relay/internal/http/middleware"
	"github.com/tbourn/chat-relay/internal/services"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"validation_error"`
	// Human-readable message (safe to show to users)
	Error string `json:"error" example:"Text cannot be empty"`
}

// fail aborts the request with a structured error. Server errors (>=500) are
// logged with the request-scoped logger; cause, if non-nil, is logged but
// never sent to the client.
func fail(c *gin.Context, status int, code, msg string, cause ...error) {
	if status >= http.StatusInternalServerError {
		ev := middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code)
		if len(cause) > 0 && cause[0] != nil {
			ev = ev.Err(cause[0])
		}
		ev.Msg("api error")
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: middleware.RequestIDFrom(c),
		Code:      code,
		Error:     msg,
	})
}

// Fail is the exported variant of fail() for the router's fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// failService maps a service-layer error onto the envelope. Unknown errors
// become a generic 500.
func failService(c *gin.Context, err error) {
	var ve *services.ValidationError
	switch {
	case errors.As(err, &ve):
		fail(c, http.StatusBadRequest, ErrCodeValidation, ve.Msg)
	case errors.Is(err, services.ErrDuplicateEmail):
		fail(c, http.StatusBadRequest, ErrCodeDuplicateEmail, MsgDuplicateEmail)
	case errors.Is(err, services.ErrInvalidCredentials):
		fail(c, http.StatusUnauthorized, ErrCodeInvalidCredentials, MsgInvalidCredentials)
	case errors.Is(err, services.ErrUserNotFound):
		fail(c, http.StatusNotFound, ErrCodeUserNotFound, MsgUserNotFound)
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, MsgInternal, err)
	}
}
