package idletracking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jobportal/backend/internal/models"
)

const columns = `id, user_id, session_id, idle_start_time, idle_end_time, idle_duration, COALESCE(metadata, '{}'::jsonb)`

// Repository handles idle_trackings.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an idle tracking repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scan(row pgx.Row) (*models.IdleTracking, error) {
	var t models.IdleTracking
	if err := row.Scan(&t.ID, &t.UserID, &t.SessionID, &t.IdleStartTime, &t.IdleEndTime, &t.IdleDuration, &t.Metadata); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetOpenBySession returns the session's open interval, or nil if none is open.
func (r *Repository) GetOpenBySession(ctx context.Context, sessionID uuid.UUID) (*models.IdleTracking, error) {
	q := `SELECT ` + columns + ` FROM idle_trackings WHERE session_id = $1 AND idle_end_time IS NULL LIMIT 1`
	t, err := scan(r.pool.QueryRow(ctx, q, sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

// Open inserts a new interval. It does nothing when the session already has an open interval.
func (r *Repository) Open(ctx context.Context, t *models.IdleTracking) error {
	meta := t.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO idle_trackings (id, user_id, session_id, idle_start_time, idle_duration, metadata)
		 VALUES ($1, $2, $3, $4, 0, $5)
		 ON CONFLICT (session_id) WHERE idle_end_time IS NULL DO NOTHING`,
		t.ID, t.UserID, t.SessionID, t.IdleStartTime, meta)
	return err
}

// MarkAway records on an open interval that the actor went from idle to away.
func (r *Repository) MarkAway(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE idle_trackings
		 SET metadata = COALESCE(metadata, '{}'::jsonb) || jsonb_build_object('transitioned_to_away', true, 'away_at', $2::timestamptz)
		 WHERE id = $1 AND idle_end_time IS NULL`,
		id, at.UTC())
	return err
}

// Close ends an open interval. Closing an interval that is no longer open returns models.ErrIdleAlreadyClosed
// so its duration is never counted twice.
func (r *Repository) Close(ctx context.Context, t *models.IdleTracking) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE idle_trackings SET idle_end_time = $2, idle_duration = $3 WHERE id = $1 AND idle_end_time IS NULL`,
		t.ID, t.IdleEndTime, t.IdleDuration)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrIdleAlreadyClosed
	}
	return nil
}

// ListBySession returns every interval of a session in start order.
func (r *Repository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.IdleTracking, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+columns+` FROM idle_trackings WHERE session_id = $1 ORDER BY idle_start_time`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.IdleTracking
	for rows.Next() {
		t, err := scan(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *t)
	}
	return list, rows.Err()
}
