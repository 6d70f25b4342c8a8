package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jobportal/backend/internal/models"
)

var (
	// ErrOpenSessionExists is returned by Create when the user already has a non-ended session.
	ErrOpenSessionExists = errors.New("user already has an open session")
	// ErrSessionEnded is returned when updating a session that is missing or already ended.
	ErrSessionEnded = errors.New("session not found or already ended")
)

// columns selected for every ActivitySession read.
const columns = `id, user_id, login_time, logout_time, idle_start_time, total_idle_time, total_work_time,
	status, COALESCE(ip_address,''), COALESCE(user_agent,''), COALESCE(device,''), created_at, updated_at`

// Repository handles activity_sessions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a session repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*models.ActivitySession, error) {
	var s models.ActivitySession
	err := row.Scan(&s.ID, &s.UserID, &s.LoginTime, &s.LogoutTime, &s.IdleStartTime, &s.TotalIdleTime, &s.TotalWorkTime,
		&s.Status, &s.IPAddress, &s.UserAgent, &s.Device, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetOpenByUser returns the user's non-ended session, or nil if there is none.
func (r *Repository) GetOpenByUser(ctx context.Context, userID uuid.UUID) (*models.ActivitySession, error) {
	q := `SELECT ` + columns + ` FROM activity_sessions
		WHERE user_id = $1 AND status <> 'ended' ORDER BY login_time DESC LIMIT 1`
	s, err := scanSession(r.pool.QueryRow(ctx, q, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// GetByID returns a session by ID, or nil if it does not exist.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.ActivitySession, error) {
	q := `SELECT ` + columns + ` FROM activity_sessions WHERE id = $1`
	s, err := scanSession(r.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// Create inserts a new session. The partial unique index on open sessions makes a concurrent second
// open session fail with ErrOpenSessionExists instead of creating a duplicate.
func (r *Repository) Create(ctx context.Context, s *models.ActivitySession) error {
	const q = `INSERT INTO activity_sessions
		(id, user_id, login_time, idle_start_time, total_idle_time, total_work_time, status, ip_address, user_agent, device, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8,''), NULLIF($9,''), NULLIF($10,''), $11, $12)
		ON CONFLICT (user_id) WHERE status <> 'ended' DO NOTHING`
	tag, err := r.pool.Exec(ctx, q, s.ID, s.UserID, s.LoginTime, s.IdleStartTime, s.TotalIdleTime, s.TotalWorkTime,
		string(s.Status), s.IPAddress, s.UserAgent, s.Device, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOpenSessionExists
	}
	return nil
}

// Update rewrites the mutable columns of an open session.
func (r *Repository) Update(ctx context.Context, s *models.ActivitySession) error {
	const q = `UPDATE activity_sessions SET idle_start_time = $2, total_idle_time = $3, total_work_time = $4,
		status = $5, ip_address = NULLIF($6,''), user_agent = NULLIF($7,''), device = NULLIF($8,''), updated_at = $9
		WHERE id = $1 AND status <> 'ended'`
	tag, err := r.pool.Exec(ctx, q, s.ID, s.IdleStartTime, s.TotalIdleTime, s.TotalWorkTime,
		string(s.Status), s.IPAddress, s.UserAgent, s.Device, s.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionEnded
	}
	return nil
}

// Finalize ends an open session with its logout time and final idle and work totals.
func (r *Repository) Finalize(ctx context.Context, s *models.ActivitySession) error {
	const q = `UPDATE activity_sessions SET logout_time = $2, idle_start_time = NULL, total_idle_time = $3,
		total_work_time = $4, status = 'ended', updated_at = $5
		WHERE id = $1 AND status <> 'ended'`
	tag, err := r.pool.Exec(ctx, q, s.ID, s.LogoutTime, s.TotalIdleTime, s.TotalWorkTime, s.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionEnded
	}
	return nil
}

// ListByUser returns a user's sessions, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.ActivitySession, error) {
	q := `SELECT ` + columns + ` FROM activity_sessions WHERE user_id = $1 ORDER BY login_time DESC LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, q, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.ActivitySession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

// StaleSession is an open session whose owner has not signalled since before a cutoff.
type StaleSession struct {
	SessionID    uuid.UUID
	UserID       uuid.UUID
	LastActivity *time.Time
}

// ListStale returns open sessions whose owner's last activity (or the login time, if none) is before cutoff.
func (r *Repository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]StaleSession, error) {
	const q = `SELECT s.id, s.user_id, u.last_activity
		FROM activity_sessions s JOIN users u ON u.id = s.user_id
		WHERE s.status <> 'ended' AND COALESCE(u.last_activity, s.login_time) < $1
		ORDER BY s.login_time LIMIT $2`
	rows, err := r.pool.Query(ctx, q, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []StaleSession
	for rows.Next() {
		var s StaleSession
		if err := rows.Scan(&s.SessionID, &s.UserID, &s.LastActivity); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}
