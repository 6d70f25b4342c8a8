package sessions

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jobportal/backend/pkg/response"
)

// Handler handles GET /admin/users/:id/sessions.
type Handler struct {
	repo     *Repository
	maxLimit int
}

// NewHandler creates a sessions handler. maxLimit caps the page size.
func NewHandler(repo *Repository, maxLimit int) *Handler {
	return &Handler{repo: repo, maxLimit: maxLimit}
}

// ListByUser handles GET /admin/users/:id/sessions (newest first, paginated).
func (h *Handler) ListByUser(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}
	limit, offset := response.Pagination(c, 50, h.maxLimit)
	list, err := h.repo.ListByUser(c.Request.Context(), userID, limit, offset)
	if err != nil {
		response.Internal(c, "failed to list sessions")
		return
	}
	response.Paged(c, gin.H{"sessions": list}, response.Page{Limit: limit, Offset: offset, Count: len(list)})
}
