// Package presence tracks admin online/idle/away/offline state, the session and idle-interval
// bookkeeping behind it, and the activity journal.
//
// The Engine decides transitions without I/O. The Tracker loads the persisted snapshot, runs the
// Engine, applies the resulting writes in order on the actor's lane and broadcasts only transitions
// whose defining writes were stored.
package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jobportal/backend/internal/metrics"
	"github.com/jobportal/backend/internal/models"
)

// DefaultPersistTimeout bounds each store call when no timeout is configured.
const DefaultPersistTimeout = 5 * time.Second

// Broadcaster fans presence events out to dashboards. Delivery is best-effort.
type Broadcaster interface {
	PublishStatusChange(ctx context.Context, change models.StatusChange)
	PublishActivity(ctx context.Context, echo models.ActivityEcho)
}

// Conn identifies the actor and transport details of one live connection.
type Conn struct {
	UserID    uuid.UUID
	Email     string
	IP        string
	UserAgent string
}

// Options tunes a Tracker.
type Options struct {
	PersistTimeout time.Duration
	Now            func() time.Time
	// Connected reports whether the actor still has a live connection on this instance.
	// Disconnect is dropped while it returns true.
	Connected func(userID uuid.UUID) bool
}

// Tracker serializes presence events per actor and applies Engine decisions to the stores.
type Tracker struct {
	engine      *Engine
	stores      *Stores
	broadcaster Broadcaster
	lanes       *Lanes
	logger      *zap.Logger
	timeout     time.Duration
	now         func() time.Time
	connected   func(uuid.UUID) bool
}

// NewTracker creates a presence tracker.
func NewTracker(stores *Stores, broadcaster Broadcaster, logger *zap.Logger, opts Options) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = DefaultPersistTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	t := &Tracker{
		engine:      NewEngine(),
		stores:      stores,
		broadcaster: broadcaster,
		lanes:       NewLanes(),
		logger:      logger,
		timeout:     opts.PersistTimeout,
		now:         opts.Now,
		connected:   opts.Connected,
	}
	t.lanes.OnPanic = func(key uuid.UUID, v any) {
		logger.Error("presence task panicked", zap.String("user_id", key.String()), zap.Any("panic", v))
	}
	return t
}

// Connect opens or reuses the actor's session and moves them online.
func (t *Tracker) Connect(ctx context.Context, c Conn) (Decision, error) {
	ev := t.event(c)
	return t.handle(ctx, c.UserID, "connect", ev, func(snap Snapshot, ev Event, now time.Time) Decision {
		return t.engine.Connect(snap, ev, now)
	})
}

// Status handles a user:activity signal. status is clamped by models.ValidateStatus.
func (t *Tracker) Status(ctx context.Context, c Conn, status, instanceID string, clientTS int64) (Decision, error) {
	ev := t.event(c)
	ev.InstanceID = instanceID
	ev.ClientTime = clientTime(clientTS)
	target := models.ValidateStatus(status)
	return t.handle(ctx, c.UserID, "user:activity", ev, func(snap Snapshot, ev Event, now time.Time) Decision {
		return t.engine.Status(snap, target, ev, now)
	})
}

// Activity handles an activity:specific signal. Unknown activity types are dropped with a warning.
func (t *Tracker) Activity(ctx context.Context, c Conn, activityType string, metadata map[string]any, clientTS int64) (Decision, error) {
	activity, ok := models.ParseActivityType(activityType)
	if !ok {
		metrics.DroppedEvents.WithLabelValues("activity:specific").Inc()
		t.logger.Warn("unknown activity type dropped",
			zap.String("user_id", c.UserID.String()), zap.String("activity_type", activityType))
		return Decision{Drop: true, Reason: "unknown activity type"}, nil
	}
	ev := t.event(c)
	ev.Metadata = metadata
	ev.ClientTime = clientTime(clientTS)
	if id, ok := metadata["instanceId"].(string); ok {
		ev.InstanceID = id
	}
	return t.handle(ctx, c.UserID, "activity:"+string(activity), ev, func(snap Snapshot, ev Event, now time.Time) Decision {
		return t.engine.Activity(snap, activity, ev, now)
	})
}

// Disconnect finalizes the actor's session and moves them offline. The connection count is read
// again on the lane, so a connection opened after the caller's check keeps the session.
func (t *Tracker) Disconnect(ctx context.Context, c Conn, reason string) (Decision, error) {
	ev := t.event(c)
	ev.Reason = reason
	return t.handle(ctx, c.UserID, "disconnect", ev, func(snap Snapshot, ev Event, now time.Time) Decision {
		if t.connected != nil && t.connected(ev.UserID) {
			return Decision{Previous: snap.Previous, Next: snap.Previous, Drop: true, Reason: "actor still connected"}
		}
		return t.engine.Disconnect(snap, ev, now)
	})
}

// FinalizeStale ends a session whose actor stopped signalling without a disconnect.
// It is a no-op when the session has already ended or is no longer the actor's open session.
func (t *Tracker) FinalizeStale(ctx context.Context, sessionID uuid.UUID, reason string) (Decision, error) {
	var sess *models.ActivitySession
	err := t.persist("get_session", func(ctx context.Context) error {
		var err error
		sess, err = t.stores.Sessions.GetByID(ctx, sessionID)
		return err
	})
	if err != nil {
		return Decision{}, fmt.Errorf("load session: %w", err)
	}
	if sess == nil || sess.Ended() {
		return Decision{Drop: true, Reason: "session already ended"}, nil
	}
	ev := Event{UserID: sess.UserID, IP: sess.IPAddress, UserAgent: sess.UserAgent, Reason: reason}
	return t.handle(ctx, sess.UserID, "finalize_stale", ev, func(snap Snapshot, ev Event, now time.Time) Decision {
		if snap.Session == nil || snap.Session.ID != sessionID {
			return Decision{Previous: snap.Previous, Next: snap.Previous, Drop: true, Reason: "session no longer open"}
		}
		return t.engine.Disconnect(snap, ev, now)
	})
}

// Roster returns every admin with their latest session and validated status.
func (t *Tracker) Roster(ctx context.Context, limit, offset int) ([]models.RosterEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	list, err := t.stores.Actors.ListAdminRoster(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list roster: %w", err)
	}
	for i := range list {
		list[i].Status = models.ValidateStatus(string(list[i].Status))
	}
	return list, nil
}

// Wait blocks until every queued presence task has run.
func (t *Tracker) Wait() {
	t.lanes.Wait()
}

type decideFunc func(snap Snapshot, ev Event, now time.Time) Decision

func (t *Tracker) handle(ctx context.Context, userID uuid.UUID, event string, ev Event, decide decideFunc) (Decision, error) {
	var d Decision
	err := t.lanes.Do(ctx, userID, func() {
		d = t.process(event, ev, decide)
	})
	return d, err
}

// process runs on the actor's lane. It never uses the caller's context: once started, writes are not cancelled.
func (t *Tracker) process(event string, ev Event, decide decideFunc) Decision {
	log := t.logger.With(zap.String("user_id", ev.UserID.String()), zap.String("event", event))

	var actor *models.User
	if err := t.persist("get_actor", func(ctx context.Context) error {
		var err error
		actor, err = t.stores.Actors.GetByID(ctx, ev.UserID)
		return err
	}); err != nil || actor == nil {
		metrics.DroppedEvents.WithLabelValues(event).Inc()
		log.Warn("presence event dropped: actor not found", zap.Error(err))
		return Decision{Drop: true, Reason: "actor not found"}
	}
	if !actor.Role.AdminEligible() {
		metrics.DroppedEvents.WithLabelValues(event).Inc()
		log.Warn("presence event dropped: actor is not an admin", zap.String("role", string(actor.Role)))
		return Decision{Drop: true, Reason: "actor is not an admin"}
	}
	if ev.Email == "" {
		ev.Email = actor.Email
	}
	log = log.With(zap.String("identifier", BuildIdentifier(ev.Email, ev.IP)))

	snap, err := t.snapshot(actor)
	if err != nil {
		metrics.DroppedEvents.WithLabelValues(event).Inc()
		log.Error("presence event dropped: load snapshot", zap.Error(err))
		return Decision{Drop: true, Reason: "snapshot unavailable"}
	}

	now := t.now()
	d := decide(snap, ev, now)
	if d.Drop {
		metrics.DroppedEvents.WithLabelValues(event).Inc()
		log.Warn("presence event dropped", zap.String("reason", d.Reason))
		return d
	}

	stored, logged := t.apply(log, d)
	metrics.ObserveTransition(string(d.Previous), string(d.Next), d.Broadcast && stored)
	if !stored {
		log.Error("transition not broadcast: defining write failed",
			zap.String("from", string(d.Previous)), zap.String("to", string(d.Next)))
		d.Broadcast = false
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()
	if d.Broadcast {
		change := models.StatusChange{
			UserID:         actor.ID,
			Status:         d.Next,
			PreviousStatus: d.Previous,
			Session:        d.Session,
			User:           actor.Identity(),
			IPAddress:      ev.IP,
			InstanceID:     ev.InstanceID,
			Timestamp:      now,
		}
		if d.Session != nil {
			id := d.Session.ID
			change.SessionID = &id
		}
		t.broadcaster.PublishStatusChange(ctx, change)
		log.Info("presence changed", zap.String("from", string(d.Previous)), zap.String("to", string(d.Next)))
	}
	for _, l := range logged {
		t.broadcaster.PublishActivity(ctx, models.EchoOf(l))
	}
	return d
}

func (t *Tracker) snapshot(actor *models.User) (Snapshot, error) {
	snap := Snapshot{Previous: models.ValidateStatus(string(actor.CurrentStatus))}
	if t.stores.Status != nil {
		if err := t.persist("get_status", func(ctx context.Context) error {
			s, err := t.stores.Status.Get(ctx, actor.ID)
			if err == nil {
				snap.Previous = s
			}
			return err
		}); err != nil {
			t.logger.Warn("status store unavailable, using persisted actor status",
				zap.String("user_id", actor.ID.String()), zap.Error(err))
		}
	}
	if err := t.persist("get_open_session", func(ctx context.Context) error {
		var err error
		snap.Session, err = t.stores.Sessions.GetOpenByUser(ctx, actor.ID)
		return err
	}); err != nil {
		return snap, err
	}
	if snap.Session == nil {
		return snap, nil
	}
	if snap.Previous == models.StatusOffline {
		// An expired status key reads as offline while the session is still open.
		snap.Previous = models.ValidateStatus(string(actor.CurrentStatus))
		if snap.Previous == models.StatusOffline {
			snap.Previous = models.StatusOnline
		}
	}
	err := t.persist("get_open_idle", func(ctx context.Context) error {
		var err error
		snap.OpenIdle, err = t.stores.Idle.GetOpenBySession(ctx, snap.Session.ID)
		return err
	})
	return snap, err
}

// apply runs the writes in order. It reports whether every defining write was stored (timeouts are
// logged and tolerated) and returns the journal entries that were inserted.
func (t *Tracker) apply(log *zap.Logger, d Decision) (bool, []*models.ActivityLog) {
	var logged []*models.ActivityLog
	for _, w := range d.Writes {
		err := t.persist(w.Name(), func(ctx context.Context) error { return w.Apply(ctx, t.stores) })
		if err == nil {
			if a, ok := w.(AppendLog); ok {
				logged = append(logged, a.Log)
			}
			continue
		}
		timedOut := errors.Is(err, context.DeadlineExceeded)
		cause := "error"
		if timedOut {
			cause = "timeout"
		}
		metrics.PersistFailures.WithLabelValues(w.Name(), cause).Inc()
		log.Error("presence write failed", zap.String("write", w.Name()), zap.String("cause", cause), zap.Error(err))
		if !w.Defining() || timedOut {
			continue
		}
		return false, logged
	}
	return true, logged
}

func (t *Tracker) persist(op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()
	start := time.Now()
	err := fn(ctx)
	metrics.PersistDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	return err
}

func (t *Tracker) event(c Conn) Event {
	return Event{UserID: c.UserID, Email: c.Email, IP: c.IP, UserAgent: c.UserAgent}
}

func clientTime(ms int64) *time.Time {
	if ms <= 0 {
		return nil
	}
	ts := time.UnixMilli(ms).UTC()
	return &ts
}
