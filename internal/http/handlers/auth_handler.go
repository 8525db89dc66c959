// Auth HTTP handlers.
//
// This file exposes the account endpoints:
//   - POST /auth/register  (create account, returns a token)
//   - POST /auth/login     (exchange credentials for a token)
//   - GET  /auth/profile   (current user; requires a bearer token)
//
// Field validation lives in the service layer so that messages stay identical
// no matter which transport calls it.
package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/chat-relay/internal/domain"
	"github.com/tbourn/chat-relay/internal/http/middleware"
)

//
// DTOs
//

// RegisterRequest is the JSON payload for creating an account.
type RegisterRequest struct {
	Name     string `json:"name"     example:"Ann"`
	Email    string `json:"email"    example:"ann@x.com"`
	Password string `json:"password" example:"secret1"`
}

// LoginRequest is the JSON payload for signing in.
type LoginRequest struct {
	Email    string `json:"email"    example:"ann@x.com"`
	Password string `json:"password" example:"secret1"`
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	Message string            `json:"message" example:"Login successful"`
	User    domain.PublicUser `json:"user"`
	Token   string            `json:"token"   example:"eyJhbGciOiJIUzI1NiIs..."`
}

// ProfileResponse wraps the authenticated user.
type ProfileResponse struct {
	User domain.PublicUser `json:"user"`
}

const (
	msgRegistered = "User registered successfully"
	msgLoggedIn   = "Login successful"
)

// bindJSON decodes the body into dst. An empty body leaves dst zeroed so the
// service reports the missing fields.
func bindJSON(c *gin.Context, dst any) bool {
	err := c.ShouldBindJSON(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	fail(c, http.StatusBadRequest, ErrCodeBadRequest, MsgMalformedBody)
	return false
}

//
// Handlers
//

// Register godoc
// @ID          register
// @Summary     Register a new user
// @Description Creates an account and returns it with a bearer token.
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.RegisterRequest  true  "Account details"
// @Success     201   {object}  handlers.AuthResponse
// @Failure     400   {object}  handlers.ErrorResponse  "Validation error or duplicate email"
// @Failure     500   {object}  handlers.ErrorResponse  "Internal error"
// @Router      /auth/register [post]
func (h *Handlers) Register(c *gin.Context) {
	var req RegisterRequest
	if !bindJSON(c, &req) {
		return
	}

	sess, err := h.sessions.Register(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusCreated, AuthResponse{
		Message: msgRegistered,
		User:    sess.User.Public(),
		Token:   sess.Token,
	})
}

// Login godoc
// @ID          login
// @Summary     Log in
// @Description Checks email and password and returns a bearer token.
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.LoginRequest  true  "Credentials"
// @Success     200   {object}  handlers.AuthResponse
// @Failure     400   {object}  handlers.ErrorResponse  "Missing email or password"
// @Failure     401   {object}  handlers.ErrorResponse  "Invalid email or password"
// @Failure     500   {object}  handlers.ErrorResponse  "Internal error"
// @Router      /auth/login [post]
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if !bindJSON(c, &req) {
		return
	}

	sess, err := h.sessions.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, AuthResponse{
		Message: msgLoggedIn,
		User:    sess.User.Public(),
		Token:   sess.Token,
	})
}

// Profile godoc
// @ID          profile
// @Summary     Current user
// @Tags        Auth
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.ProfileResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or invalid token"
// @Router      /auth/profile [get]
func (h *Handlers) Profile(c *gin.Context) {
	u := middleware.UserFrom(c)
	if u == nil {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, middleware.MsgNoToken)
		return
	}
	ok(c, http.StatusOK, ProfileResponse{User: u.Public()})
}
