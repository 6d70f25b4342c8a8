package activitylog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jobportal/backend/internal/models"
)

const columns = `id, user_id, session_id, activity_type, timestamp, COALESCE(ip_address,''), COALESCE(user_email,''), COALESCE(metadata, '{}'::jsonb)`

// Repository handles activity_logs. Rows are append-only.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an activity log repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scan(row pgx.Row) (*models.ActivityLog, error) {
	var l models.ActivityLog
	if err := row.Scan(&l.ID, &l.UserID, &l.SessionID, &l.ActivityType, &l.Timestamp, &l.IPAddress, &l.UserEmail, &l.Metadata); err != nil {
		return nil, err
	}
	return &l, nil
}

// Insert appends a journal entry.
func (r *Repository) Insert(ctx context.Context, l *models.ActivityLog) error {
	meta := l.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO activity_logs (id, user_id, session_id, activity_type, timestamp, ip_address, user_email, metadata)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6,''), NULLIF($7,''), $8)`,
		l.ID, l.UserID, l.SessionID, string(l.ActivityType), l.Timestamp, l.IPAddress, l.UserEmail, meta)
	return err
}

// whereClause builds the WHERE clause and arguments for a filter. Argument numbering starts at $1.
func whereClause(f models.ActivityLogFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.UserID != nil {
		add("user_id = $%d", *f.UserID)
	}
	if f.ActivityType != "" {
		add("activity_type = $%d", string(f.ActivityType))
	}
	if f.Since != nil {
		add("timestamp >= $%d", *f.Since)
	}
	if f.Until != nil {
		add("timestamp < $%d", *f.Until)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List returns journal entries matching f, newest first.
func (r *Repository) List(ctx context.Context, f models.ActivityLogFilter) ([]models.ActivityLog, error) {
	where, args := whereClause(f)
	args = append(args, f.Limit, f.Offset)
	q := fmt.Sprintf(`SELECT %s FROM activity_logs%s ORDER BY timestamp DESC, id LIMIT $%d OFFSET $%d`,
		columns, where, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.ActivityLog
	for rows.Next() {
		l, err := scan(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *l)
	}
	return list, rows.Err()
}

// Each streams entries in [from, to) oldest first, optionally for one user, calling fn for every row.
func (r *Repository) Each(ctx context.Context, userID *uuid.UUID, from, to time.Time, fn func(*models.ActivityLog) error) error {
	where, args := whereClause(models.ActivityLogFilter{UserID: userID, Since: &from, Until: &to})
	rows, err := r.pool.Query(ctx, `SELECT `+columns+` FROM activity_logs`+where+` ORDER BY timestamp, id`, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		l, err := scan(rows)
		if err != nil {
			return err
		}
		if err := fn(l); err != nil {
			return err
		}
	}
	return rows.Err()
}
