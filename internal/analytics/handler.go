package analytics

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jobportal/backend/pkg/response"
)

// defaultWindow is the summary window when since is omitted.
const defaultWindow = 24 * time.Hour

// Handler handles GET /admin/analytics/presence.
type Handler struct {
	pool *pgxpool.Pool
}

// NewHandler creates an analytics handler.
func NewHandler(pool *pgxpool.Pool) *Handler {
	return &Handler{pool: pool}
}

// SummaryResponse is the JSON shape for the presence summary.
type SummaryResponse struct {
	Since            time.Time        `json:"since"`
	Until            time.Time        `json:"until"`
	AdminsTotal      int              `json:"admins_total"`
	AdminsConnected  int              `json:"admins_connected"`
	StatusCounts     map[string]int   `json:"status_counts"`
	Sessions         int              `json:"sessions"`
	DistinctAdmins   int              `json:"distinct_admins"`
	TotalWorkSeconds int64            `json:"total_work_seconds"`
	TotalIdleSeconds int64            `json:"total_idle_seconds"`
	AvgWorkSeconds   int64            `json:"avg_work_seconds"`
	IdleRatio        *float64         `json:"idle_ratio,omitempty"`
	ActivityCounts   map[string]int64 `json:"activity_counts"`
}

// Presence handles GET /admin/analytics/presence?since=&until= (RFC3339; default last 24h).
// Sessions are counted by login time inside the window.
func (h *Handler) Presence(c *gin.Context) {
	until := time.Now().UTC()
	if v := c.Query("until"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			response.BadRequest(c, "invalid until")
			return
		}
		until = ts.UTC()
	}
	since := until.Add(-defaultWindow)
	if v := c.Query("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			response.BadRequest(c, "invalid since")
			return
		}
		since = ts.UTC()
	}
	if !until.After(since) {
		response.BadRequest(c, "until must be after since")
		return
	}

	ctx := c.Request.Context()
	out := SummaryResponse{
		Since:          since,
		Until:          until,
		StatusCounts:   map[string]int{},
		ActivityCounts: map[string]int64{},
	}

	// Current roster by status
	const statusQ = `SELECT current_status, COUNT(*) FROM users
		WHERE role IN ('admin', 'super_admin') GROUP BY current_status`
	rows, err := h.pool.Query(ctx, statusQ)
	if err != nil {
		response.Internal(c, "failed to load status counts")
		return
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			response.Internal(c, "failed to load status counts")
			return
		}
		out.StatusCounts[status] = n
		out.AdminsTotal += n
		if status != "offline" {
			out.AdminsConnected += n
		}
	}
	rows.Close()

	// Session aggregates
	const sessionQ = `SELECT COUNT(*), COUNT(DISTINCT user_id),
		COALESCE(SUM(total_work_time), 0), COALESCE(SUM(total_idle_time), 0)
		FROM activity_sessions WHERE login_time >= $1 AND login_time < $2`
	var workMs, idleMs int64
	if err := h.pool.QueryRow(ctx, sessionQ, since, until).Scan(&out.Sessions, &out.DistinctAdmins, &workMs, &idleMs); err != nil {
		response.Internal(c, "failed to load session aggregates")
		return
	}
	out.TotalWorkSeconds = workMs / 1000
	out.TotalIdleSeconds = idleMs / 1000
	if out.Sessions > 0 {
		out.AvgWorkSeconds = out.TotalWorkSeconds / int64(out.Sessions)
	}
	if workMs+idleMs > 0 {
		ratio := float64(idleMs) / float64(workMs+idleMs)
		out.IdleRatio = &ratio
	}

	// Journal volume by type
	const activityQ = `SELECT activity_type, COUNT(*) FROM activity_logs
		WHERE timestamp >= $1 AND timestamp < $2 GROUP BY activity_type`
	rows, err = h.pool.Query(ctx, activityQ, since, until)
	if err != nil {
		response.Internal(c, "failed to load activity counts")
		return
	}
	defer rows.Close()
	for rows.Next() {
		var t string
		var n int64
		if err := rows.Scan(&t, &n); err != nil {
			response.Internal(c, "failed to load activity counts")
			return
		}
		out.ActivityCounts[t] = n
	}

	response.OK(c, out)
}
