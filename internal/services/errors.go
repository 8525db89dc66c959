// Package services defines the business logic for accounts, the message
// archive, and the send-message flow. This file centralizes service-level
// error values so that they can be consistently returned by service methods
// and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import "errors"

// ErrValidation is the class of all user-correctable input errors. Every
// *ValidationError matches it with errors.Is.
var ErrValidation = errors.New("validation failed")

// ValidationError carries a short, client-safe explanation.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Unwrap lets errors.Is(err, ErrValidation) succeed.
func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(msg string) error { return &ValidationError{Msg: msg} }

// Validation messages.
const (
	MsgAllFieldsRequired   = "All fields are required"
	MsgPasswordTooShort    = "Password must be at least 6 characters"
	MsgCredentialsRequired = "Email and password are required"
	MsgTextEmpty           = "Text cannot be empty"
	MsgTextTooLong         = "Text is too long"
	MsgUnknownSender       = "Sender must be user or bot"
)

// Account errors.
var (
	// ErrDuplicateEmail is returned by Register when the email is taken.
	ErrDuplicateEmail = errors.New("user already exists with this email")

	// ErrInvalidCredentials covers both an unknown email and a wrong password.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrUserNotFound indicates that no user has the requested id.
	ErrUserNotFound = errors.New("user not found")
)

// ErrReplayNotFound is returned by Replay when no live record exists for the key.
var ErrReplayNotFound = errors.New("no stored result for idempotency key")
