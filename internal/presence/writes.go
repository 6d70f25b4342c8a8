package presence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jobportal/backend/internal/models"
)

// SessionStore persists ActivitySession rows.
type SessionStore interface {
	GetOpenByUser(ctx context.Context, userID uuid.UUID) (*models.ActivitySession, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.ActivitySession, error)
	Create(ctx context.Context, s *models.ActivitySession) error
	Update(ctx context.Context, s *models.ActivitySession) error
	Finalize(ctx context.Context, s *models.ActivitySession) error
}

// IdleStore persists IdleTracking rows. Open must be a no-op when the session already has an open interval,
// and Close must only close a still-open interval.
type IdleStore interface {
	GetOpenBySession(ctx context.Context, sessionID uuid.UUID) (*models.IdleTracking, error)
	Open(ctx context.Context, t *models.IdleTracking) error
	MarkAway(ctx context.Context, id uuid.UUID, at time.Time) error
	Close(ctx context.Context, t *models.IdleTracking) error
}

// ActivityLogStore appends journal entries.
type ActivityLogStore interface {
	Insert(ctx context.Context, l *models.ActivityLog) error
}

// ActorStore reads admin identities and writes their presence fields.
type ActorStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	UpdatePresence(ctx context.Context, id uuid.UUID, status models.Status, at time.Time, ip string) error
	ListAdminRoster(ctx context.Context, limit, offset int) ([]models.RosterEntry, error)
}

// Stores groups every durable store a Write can touch.
type Stores struct {
	Sessions SessionStore
	Idle     IdleStore
	Logs     ActivityLogStore
	Actors   ActorStore
	Status   StatusStore
}

// Write is one side-effecting persistence intent produced by the Engine.
type Write interface {
	// Defining writes must succeed for the transition to be broadcast.
	Defining() bool
	Apply(ctx context.Context, s *Stores) error
	Name() string
}

// CreateSession inserts a new session row.
type CreateSession struct{ Session *models.ActivitySession }

func (CreateSession) Defining() bool { return true }
func (CreateSession) Name() string   { return "create_session" }
func (w CreateSession) Apply(ctx context.Context, s *Stores) error {
	return s.Sessions.Create(ctx, w.Session)
}

// UpdateSession rewrites the mutable columns of an open session.
type UpdateSession struct{ Session *models.ActivitySession }

func (UpdateSession) Defining() bool { return true }
func (UpdateSession) Name() string   { return "update_session" }
func (w UpdateSession) Apply(ctx context.Context, s *Stores) error {
	return s.Sessions.Update(ctx, w.Session)
}

// FinalizeSession ends a session.
type FinalizeSession struct{ Session *models.ActivitySession }

func (FinalizeSession) Defining() bool { return true }
func (FinalizeSession) Name() string   { return "finalize_session" }
func (w FinalizeSession) Apply(ctx context.Context, s *Stores) error {
	return s.Sessions.Finalize(ctx, w.Session)
}

// OpenIdle starts an idle interval.
type OpenIdle struct{ Idle *models.IdleTracking }

func (OpenIdle) Defining() bool { return true }
func (OpenIdle) Name() string   { return "open_idle" }
func (w OpenIdle) Apply(ctx context.Context, s *Stores) error {
	return s.Idle.Open(ctx, w.Idle)
}

// MarkIdleAway tags the open interval as having transitioned to away.
type MarkIdleAway struct {
	IdleID uuid.UUID
	At     time.Time
}

func (MarkIdleAway) Defining() bool { return true }
func (MarkIdleAway) Name() string   { return "mark_idle_away" }
func (w MarkIdleAway) Apply(ctx context.Context, s *Stores) error {
	return s.Idle.MarkAway(ctx, w.IdleID, w.At)
}

// CloseIdle ends an idle interval. An interval that is already closed counts as applied.
type CloseIdle struct{ Idle *models.IdleTracking }

func (CloseIdle) Defining() bool { return true }
func (CloseIdle) Name() string   { return "close_idle" }
func (w CloseIdle) Apply(ctx context.Context, s *Stores) error {
	if err := s.Idle.Close(ctx, w.Idle); err != nil && !errors.Is(err, models.ErrIdleAlreadyClosed) {
		return err
	}
	return nil
}

// SetPresence writes the actor's current status, last activity and last known IP.
type SetPresence struct {
	UserID   uuid.UUID
	Previous models.Status
	Status   models.Status
	At       time.Time
	IP       string
}

func (SetPresence) Defining() bool { return true }
func (SetPresence) Name() string   { return "set_presence" }
func (w SetPresence) Apply(ctx context.Context, s *Stores) error {
	if err := s.Actors.UpdatePresence(ctx, w.UserID, w.Status, w.At, w.IP); err != nil {
		return err
	}
	if s.Status == nil {
		return nil
	}
	ok, err := s.Status.CompareAndSet(ctx, w.UserID, w.Previous, w.Status)
	if err != nil {
		return err
	}
	if !ok {
		// another instance moved the actor in between; last writer wins
		return s.Status.Set(ctx, w.UserID, w.Status)
	}
	return nil
}

// AppendLog inserts a journal entry. Journal failures never block a presence broadcast.
type AppendLog struct{ Log *models.ActivityLog }

func (AppendLog) Defining() bool { return false }
func (AppendLog) Name() string   { return "append_log" }
func (w AppendLog) Apply(ctx context.Context, s *Stores) error {
	return s.Logs.Insert(ctx, w.Log)
}
