// Package admins serves the admin presence roster over HTTP.
package admins

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/jobportal/backend/internal/models"
	"github.com/jobportal/backend/pkg/response"
)

// Roster lists admins with their latest session and validated status.
type Roster interface {
	Roster(ctx context.Context, limit, offset int) ([]models.RosterEntry, error)
}

// Handler handles GET /admin/users/status.
type Handler struct {
	roster   Roster
	maxLimit int
}

// NewHandler creates a roster handler. maxLimit caps the page size and is the default.
func NewHandler(roster Roster, maxLimit int) *Handler {
	if maxLimit <= 0 {
		maxLimit = 200
	}
	return &Handler{roster: roster, maxLimit: maxLimit}
}

// Status handles GET /admin/users/status?limit=&offset=.
func (h *Handler) Status(c *gin.Context) {
	limit, offset := response.Pagination(c, h.maxLimit, h.maxLimit)
	list, err := h.roster.Roster(c.Request.Context(), limit, offset)
	if err != nil {
		response.Internal(c, "failed to load admin roster")
		return
	}
	if list == nil {
		list = []models.RosterEntry{}
	}
	response.Paged(c, gin.H{"users": list}, response.Page{Limit: limit, Offset: offset, Count: len(list)})
}
