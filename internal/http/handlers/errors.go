// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case and give clients a stable, machine-readable
// value to branch on next to the human-readable "error" message.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "duplicate_email",
//	  "error": "User already exists with this email"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeValidation       = "validation_error"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"

	// Domain-specific:
	ErrCodeDuplicateEmail     = "duplicate_email"
	ErrCodeInvalidCredentials = "invalid_credentials"
	ErrCodeUserNotFound       = "user_not_found"
)

// Client-facing messages that are not produced by the service layer.
const (
	MsgRouteNotFound      = "Route not found"
	MsgMethodNotAllowed   = "Method not allowed"
	MsgInternal           = "Internal server error"
	MsgDuplicateEmail     = "User already exists with this email"
	MsgInvalidCredentials = "Invalid email or password"
	MsgUserNotFound       = "User not found"
	MsgMalformedBody      = "Request body must be valid JSON"
)
