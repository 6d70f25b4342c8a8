package idletracking

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jobportal/backend/pkg/response"
)

// Handler handles GET /admin/sessions/:id/idle-periods.
type Handler struct {
	repo *Repository
}

// NewHandler creates an idle tracking handler.
func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

// ListBySession handles GET /admin/sessions/:id/idle-periods.
func (h *Handler) ListBySession(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	list, err := h.repo.ListBySession(c.Request.Context(), sessionID)
	if err != nil {
		response.Internal(c, "failed to list idle periods")
		return
	}
	var total int64
	for _, t := range list {
		total += t.IdleDuration
	}
	response.OK(c, gin.H{"idle_periods": list, "total_idle_ms": total})
}
