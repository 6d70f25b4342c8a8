package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jobportal/backend/internal/models"
)

const userColumns = `id, email, password_hash, full_name, role, COALESCE(photo_url,''),
	current_status, last_activity, COALESCE(last_known_ip,''), created_at, updated_at`

// Repository handles user persistence, including the presence columns.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an auth repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.Password, &u.FullName, &u.Role, &u.PhotoURL,
		&u.CurrentStatus, &u.LastActivity, &u.LastKnownIP, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByID returns a user by ID, or nil if it does not exist.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// GetByEmail returns a user by email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

// UpdatePasswordHash replaces a user's password hash.
func (r *Repository) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, hash)
	return err
}

// UpdatePresence writes the presence columns. An empty ip keeps the last known one.
func (r *Repository) UpdatePresence(ctx context.Context, id uuid.UUID, status models.Status, at time.Time, ip string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET current_status = $2, last_activity = $3,
		 last_known_ip = COALESCE(NULLIF($4,''), last_known_ip), updated_at = NOW()
		 WHERE id = $1`,
		id, string(status), at, ip)
	return err
}

// ListAdminRoster returns admin-eligible users with their most recent session (open or ended),
// ordered by name.
func (r *Repository) ListAdminRoster(ctx context.Context, limit, offset int) ([]models.RosterEntry, error) {
	const q = `SELECT u.id, u.email, u.full_name, u.role, COALESCE(u.photo_url,''), u.current_status,
		u.last_activity, COALESCE(u.last_known_ip,''),
		s.id, s.login_time, s.logout_time, s.idle_start_time, s.total_idle_time, s.total_work_time,
		s.status, COALESCE(s.ip_address,''), COALESCE(s.user_agent,''), COALESCE(s.device,''), s.created_at, s.updated_at
		FROM users u
		LEFT JOIN LATERAL (
			SELECT * FROM activity_sessions WHERE user_id = u.id ORDER BY login_time DESC LIMIT 1
		) s ON TRUE
		WHERE u.role IN ('admin', 'super_admin')
		ORDER BY u.full_name, u.email
		LIMIT $1 OFFSET $2`
	rows, err := r.pool.Query(ctx, q, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.RosterEntry
	for rows.Next() {
		var (
			u                          models.UserPublic
			sid                        *uuid.UUID
			login, created, updated    *time.Time
			logout, idleStart          *time.Time
			idleTotal, workTotal       *int64
			status                     *string
			sessIP, sessUA, sessDevice string
		)
		if err := rows.Scan(&u.ID, &u.Email, &u.FullName, &u.Role, &u.PhotoURL, &u.CurrentStatus,
			&u.LastActivity, &u.LastKnownIP,
			&sid, &login, &logout, &idleStart, &idleTotal, &workTotal,
			&status, &sessIP, &sessUA, &sessDevice, &created, &updated); err != nil {
			return nil, err
		}
		u.CurrentStatus = models.ValidateStatus(string(u.CurrentStatus))
		entry := models.RosterEntry{User: u, Status: u.CurrentStatus}
		if sid != nil {
			s := &models.ActivitySession{
				ID:            *sid,
				UserID:        u.ID,
				LogoutTime:    logout,
				IdleStartTime: idleStart,
				IPAddress:     sessIP,
				UserAgent:     sessUA,
				Device:        sessDevice,
			}
			if login != nil {
				s.LoginTime = *login
			}
			if idleTotal != nil {
				s.TotalIdleTime = *idleTotal
			}
			if workTotal != nil {
				s.TotalWorkTime = *workTotal
			}
			if status != nil {
				s.Status = models.SessionStatus(*status)
			}
			if created != nil {
				s.CreatedAt = *created
			}
			if updated != nil {
				s.UpdatedAt = *updated
			}
			entry.Session = s
		}
		list = append(list, entry)
	}
	return list, rows.Err()
}
