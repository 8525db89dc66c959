// Message HTTP handlers.
//
// This file exposes the conversation endpoints (both require a bearer token):
//   - POST /message        (send a prompt, receive the bot reply)
//   - GET  /chat/history   (full conversation log, ETag support)
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous send with
// that key completed, the stored pair is returned with
// `Idempotency-Replayed: true` and nothing new is archived.
package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/chat-relay/internal/domain"
	"github.com/tbourn/chat-relay/internal/http/middleware"
)

//
// DTOs
//

// PostMessageRequest is the JSON payload for sending a prompt. Text is
// archived exactly as sent; it must not be blank.
type PostMessageRequest struct {
	Text string `json:"text" example:"hello"`
}

// PostMessageResponse echoes the prompt and carries the bot reply.
type PostMessageResponse struct {
	UserMessage string `json:"userMessage" example:"hello"`
	BotMessage  string `json:"botMessage"  example:"Hi there! How can I help you today?"`
}

// HistoryResponse is the caller's full conversation, oldest first.
type HistoryResponse struct {
	Messages []domain.HistoryEntry `json:"messages"`
}

// Response headers set by PostMessage.
const (
	HeaderReplayed    = "Idempotency-Replayed"
	HeaderReplySource = "X-Reply-Source"
)

//
// Handlers
//

// PostMessage godoc
// @ID          postMessage
// @Summary     Send a message and get the bot reply
// @Description Archives the prompt, resolves a reply (remote generator or fallback table), archives the reply, and returns both.
// @Description Supports idempotency via the Idempotency-Key header (same key → same result).
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.PostMessageRequest  true  "Prompt"
// @Success     200  {object}  handlers.PostMessageResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Text cannot be empty"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or invalid token"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /message [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	var req PostMessageRequest
	if !bindJSON(c, &req) {
		return
	}

	idemKey, _ := middleware.GetIdempotencyKey(c)
	ex, err := h.sessions.SendMessage(c.Request.Context(), middleware.UserIDFrom(c), req.Text, idemKey)
	if err != nil {
		failService(c, err)
		return
	}

	if ex.Replayed {
		c.Header(HeaderReplayed, "true")
	} else if ex.Source != "" {
		c.Header(HeaderReplySource, string(ex.Source))
	}
	ok(c, http.StatusOK, PostMessageResponse{
		UserMessage: ex.UserMessage,
		BotMessage:  ex.BotMessage,
	})
}

// History godoc
// @ID          chatHistory
// @Summary     Conversation history
// @Description Returns every message of the caller, oldest first. Sends a weak ETag; a matching If-None-Match yields 304.
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
// @Param       If-None-Match  header  string  false  "ETag from a previous response"
// @Success     200  {object}  handlers.HistoryResponse
// @Success     304  "Not modified"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or invalid token"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /chat/history [get]
func (h *Handlers) History(c *gin.Context) {
	ctx := c.Request.Context()
	uid := middleware.UserIDFrom(c)

	// ETag pre-check (best effort).
	if count, latest, err := h.history.Stats(ctx, uid); err == nil {
		var ts int64
		if latest != nil {
			ts = latest.UnixMicro()
		}
		etag := fmt.Sprintf(`W/"history:%s:%d:%d"`, uid, count, ts)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	msgs, err := h.history.History(ctx, uid)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, HistoryResponse{Messages: msgs})
}
