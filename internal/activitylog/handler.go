package activitylog

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jobportal/backend/internal/middleware"
	"github.com/jobportal/backend/internal/models"
	"github.com/jobportal/backend/pkg/queue"
	"github.com/jobportal/backend/pkg/response"
)

// maxExportWindow bounds a single export request.
const maxExportWindow = 31 * 24 * time.Hour

// Enqueuer hands export jobs to the worker.
type Enqueuer interface {
	EnqueueActivityExport(ctx context.Context, payload queue.ActivityExportPayload) error
}

// ExportRequest is the body for POST /admin/activity-logs/export.
type ExportRequest struct {
	UserID *uuid.UUID `json:"user_id"`
	From   time.Time  `json:"from" binding:"required"`
	To     time.Time  `json:"to" binding:"required"`
}

// Handler handles the activity journal endpoints.
type Handler struct {
	repo     *Repository
	queue    Enqueuer
	maxLimit int
	logger   *zap.Logger
}

// NewHandler creates an activity log handler.
func NewHandler(repo *Repository, q Enqueuer, maxLimit int, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, queue: q, maxLimit: maxLimit, logger: logger}
}

// List handles GET /admin/activity-logs?user_id=&type=&since=&until=&limit=&offset= (newest first).
func (h *Handler) List(c *gin.Context) {
	f, err := ParseFilter(c)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	f.Limit, f.Offset = response.Pagination(c, 100, h.maxLimit)
	list, err := h.repo.List(c.Request.Context(), f)
	if err != nil {
		response.Internal(c, "failed to list activity logs")
		return
	}
	response.Paged(c, gin.H{"activity_logs": list}, response.Page{Limit: f.Limit, Offset: f.Offset, Count: len(list)})
}

// Export handles POST /admin/activity-logs/export (super_admin). The export runs in the worker.
func (h *Handler) Export(c *gin.Context) {
	var req ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if !req.To.After(req.From) {
		response.BadRequest(c, "to must be after from")
		return
	}
	if req.To.Sub(req.From) > maxExportWindow {
		response.BadRequest(c, "export window exceeds 31 days")
		return
	}
	requester, _ := middleware.UserID(c)
	payload := queue.ActivityExportPayload{
		ExportID:    uuid.New(),
		UserID:      req.UserID,
		From:        req.From.UTC(),
		To:          req.To.UTC(),
		RequestedBy: requester,
	}
	if err := h.queue.EnqueueActivityExport(c.Request.Context(), payload); err != nil {
		h.logger.Error("enqueue activity export", zap.Error(err))
		response.ServiceUnavailable(c, "export queue unavailable")
		return
	}
	response.Accepted(c, gin.H{"export_id": payload.ExportID})
}

// ParseFilter reads the journal filter query parameters.
func ParseFilter(c *gin.Context) (models.ActivityLogFilter, error) {
	var f models.ActivityLogFilter
	if v := c.Query("user_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, errInvalid("user_id")
		}
		f.UserID = &id
	}
	if v := c.Query("type"); v != "" {
		t, ok := models.ParseActivityType(v)
		if !ok {
			return f, errInvalid("type")
		}
		f.ActivityType = t
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"since", &f.Since}, {"until", &f.Until}} {
		v := c.Query(p.name)
		if v == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errInvalid(p.name)
		}
		*p.dst = &ts
	}
	return f, nil
}

type errInvalid string

func (e errInvalid) Error() string { return "invalid " + string(e) }
