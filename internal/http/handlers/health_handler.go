package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Message   string    `json:"message"   example:"Server is running!"`
	Timestamp time.Time `json:"timestamp" example:"2025-01-02T15:04:05Z"`
}

// Health godoc
// @ID          health
// @Summary     Liveness check
// @Description Reports that the process is serving. Does not check dependencies.
// @Tags        Health
// @Produce     json
// @Success     200  {object}  handlers.HealthResponse
// @Router      /health [get]
func (h *Handlers) Health(c *gin.Context) {
	ok(c, http.StatusOK, HealthResponse{
		Message:   "Server is running!",
		Timestamp: h.now().UTC(),
	})
}
