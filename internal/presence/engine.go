package presence

import (
	"time"

	"github.com/google/uuid"

	"github.com/jobportal/backend/internal/models"
)

// Event is one presence-relevant signal from a connection.
type Event struct {
	UserID     uuid.UUID
	Email      string
	IP         string
	UserAgent  string
	InstanceID string
	Metadata   map[string]any
	Reason     string     // disconnect reason
	ClientTime *time.Time // client-reported time, journaled only
}

// Snapshot is the persisted state the Engine decides against.
type Snapshot struct {
	Previous models.Status
	Session  *models.ActivitySession // open (non-ended) session, if any
	OpenIdle *models.IdleTracking    // open idle interval of Session, if any
}

// Decision is the outcome of one transition: the status move, whether it is broadcast-worthy,
// and the ordered writes that realise it.
type Decision struct {
	Previous  models.Status
	Next      models.Status
	Broadcast bool
	Drop      bool
	Reason    string
	Session   *models.ActivitySession // session state after the writes
	Writes    []Write
}

// Logs returns the journal entries the decision will append, in order.
func (d *Decision) Logs() []*models.ActivityLog {
	var out []*models.ActivityLog
	for _, w := range d.Writes {
		if a, ok := w.(AppendLog); ok {
			out = append(out, a.Log)
		}
	}
	return out
}

// Engine is the presence state machine. It holds no state and performs no I/O.
type Engine struct {
	newID func() uuid.UUID
}

// NewEngine creates an Engine.
func NewEngine() *Engine {
	return &Engine{newID: uuid.New}
}

// Connect handles an authenticated connection: reuse the open session or start a new one, and move to online.
func (e *Engine) Connect(snap Snapshot, ev Event, now time.Time) Decision {
	prev := models.ValidateStatus(string(snap.Previous))
	d := Decision{Previous: prev, Next: models.StatusOnline, Broadcast: true}

	if snap.Session != nil && !snap.Session.Ended() {
		sess := snap.Session.Clone()
		sess.IPAddress = ev.IP
		if ev.UserAgent != "" {
			sess.UserAgent = ev.UserAgent
			sess.Device = DeviceFingerprint(ev.UserAgent)
		}
		sess.TotalWorkTime = sess.WorkTime(now).Milliseconds()
		sess.UpdatedAt = now
		d.Session = sess
		d.Writes = append(d.Writes, UpdateSession{Session: sess})
		d.Writes = append(d.Writes, e.journal(ev, sess, models.ActivityReconnected, now, map[string]any{
			"identifier":      BuildIdentifier(ev.Email, ev.IP),
			"previous_status": string(prev),
		}))
	} else {
		sess := &models.ActivitySession{
			ID:        e.newID(),
			UserID:    ev.UserID,
			LoginTime: now,
			Status:    models.SessionActive,
			IPAddress: ev.IP,
			UserAgent: ev.UserAgent,
			Device:    DeviceFingerprint(ev.UserAgent),
			CreatedAt: now,
			UpdatedAt: now,
		}
		d.Session = sess
		d.Writes = append(d.Writes, CreateSession{Session: sess})
		d.Writes = append(d.Writes, e.journal(ev, sess, models.ActivityLogin, now, map[string]any{
			"identifier": BuildIdentifier(ev.Email, ev.IP),
			"device":     sess.Device,
		}))
	}
	d.Writes = append(d.Writes, e.setPresence(ev, prev, models.StatusOnline, now))
	return d
}

// Status handles an explicit status signal (user:activity). target must already be validated.
// Only active, idle and away move the machine; other targets are dropped.
func (e *Engine) Status(snap Snapshot, target models.Status, ev Event, now time.Time) Decision {
	if target != models.StatusActive && !target.Inactive() {
		return Decision{Previous: snap.Previous, Next: snap.Previous, Drop: true, Reason: "unsupported status " + string(target)}
	}
	if snap.Session == nil || snap.Session.Ended() {
		return Decision{Previous: snap.Previous, Next: snap.Previous, Drop: true, Reason: "no active session"}
	}
	d := e.transition(snap, target, ev, now)
	if len(d.Logs()) == 0 {
		// Signals that move no interval, repeats included, are still journaled.
		meta := map[string]any{
			"status":          string(target),
			"previous_status": string(d.Previous),
			"repeat":          d.Previous == target,
		}
		if ev.InstanceID != "" {
			meta["instance_id"] = ev.InstanceID
		}
		if ev.ClientTime != nil {
			meta["client_timestamp"] = ev.ClientTime.UTC()
		}
		d.Writes = append(d.Writes, e.journal(ev, d.Session, signalActivity(d.Previous, target), now, meta))
	}
	d.Writes = append(d.Writes, e.setPresence(ev, d.Previous, target, now))
	return d
}

// signalActivity names the journal entry for a status signal.
func signalActivity(prev, target models.Status) models.ActivityType {
	switch {
	case target == models.StatusIdle:
		return models.ActivityIdleStart
	case target == models.StatusAway:
		return models.ActivitySessionPause
	case prev == models.StatusOnline:
		return models.ActivitySessionStart
	default:
		return models.ActivitySessionResume
	}
}

// Activity handles a named client activity (activity:specific). The activity itself is always journaled;
// activities with a target status additionally run the transition rules of Status.
func (e *Engine) Activity(snap Snapshot, activity models.ActivityType, ev Event, now time.Time) Decision {
	if snap.Session == nil || snap.Session.Ended() {
		return Decision{Previous: snap.Previous, Next: snap.Previous, Drop: true, Reason: "no active session"}
	}
	target, moves := activity.TargetStatus()
	if activity == models.ActivityManualOverride {
		if s, ok := ev.Metadata["status"].(string); ok {
			if v := models.ValidateStatus(s); v == models.StatusActive || v.Inactive() {
				target, moves = v, true
			}
		}
	}

	var d Decision
	if moves {
		d = e.transition(snap, target, ev, now)
	} else {
		prev := models.ValidateStatus(string(snap.Previous))
		d = Decision{Previous: prev, Next: prev, Session: snap.Session.Clone()}
		target = prev
	}

	alreadyJournaled := false
	for _, l := range d.Logs() {
		if l.ActivityType == activity {
			alreadyJournaled = true
		}
	}
	if !alreadyJournaled {
		meta := copyMeta(ev.Metadata)
		if ev.ClientTime != nil {
			meta["client_timestamp"] = ev.ClientTime.UTC()
		}
		d.Writes = append(d.Writes, e.journal(ev, d.Session, activity, now, meta))
	}
	d.Writes = append(d.Writes, e.setPresence(ev, d.Previous, target, now))
	return d
}

// Disconnect closes any open idle interval, finalizes the session and moves the actor offline.
func (e *Engine) Disconnect(snap Snapshot, ev Event, now time.Time) Decision {
	prev := models.ValidateStatus(string(snap.Previous))
	d := Decision{Previous: prev, Next: models.StatusOffline, Broadcast: true}

	var sess *models.ActivitySession
	if snap.Session != nil && !snap.Session.Ended() {
		sess = snap.Session.Clone()
		d.Writes = append(d.Writes, e.closeIdle(snap, sess, now)...)
		sess.LogoutTime = &now
		sess.Status = models.SessionEnded
		sess.IdleStartTime = nil
		sess.TotalWorkTime = sess.WorkTime(now).Milliseconds()
		sess.UpdatedAt = now
		d.Writes = append(d.Writes, FinalizeSession{Session: sess})
	}
	d.Session = sess

	meta := map[string]any{"reason": ev.Reason}
	if sess != nil {
		meta["total_idle_time"] = sess.TotalIdleTime
		meta["total_work_time"] = sess.TotalWorkTime
	}
	d.Writes = append(d.Writes, e.journal(ev, sess, models.ActivityLogout, now, meta))
	d.Writes = append(d.Writes, e.setPresence(ev, prev, models.StatusOffline, now))
	return d
}

// transition applies the idle-interval bookkeeping for a move to target. The caller guarantees an open session.
func (e *Engine) transition(snap Snapshot, target models.Status, ev Event, now time.Time) Decision {
	prev := models.ValidateStatus(string(snap.Previous))
	sess := snap.Session.Clone()
	d := Decision{Previous: prev, Next: target, Broadcast: prev != target, Session: sess}

	switch {
	case target == models.StatusIdle:
		if snap.OpenIdle == nil {
			d.Writes = append(d.Writes, e.openIdle(sess, ev, prev, now, false)...)
			if prev != models.StatusIdle {
				d.Writes = append(d.Writes, e.journal(ev, sess, models.ActivityIdleStart, now, map[string]any{
					"previous_status": string(prev),
				}))
			}
		}
	case target == models.StatusAway:
		if snap.OpenIdle == nil {
			d.Writes = append(d.Writes, e.openIdle(sess, ev, prev, now, true)...)
		} else if prev != models.StatusAway {
			d.Writes = append(d.Writes, MarkIdleAway{IdleID: snap.OpenIdle.ID, At: now})
		}
		if prev != models.StatusAway {
			d.Writes = append(d.Writes, e.journal(ev, sess, models.ActivitySessionPause, now, map[string]any{
				"previous_status": string(prev),
			}))
		}
	case target.Working():
		if snap.OpenIdle != nil || sess.IdleStartTime != nil {
			before := sess.TotalIdleTime
			writes := e.closeIdle(snap, sess, now)
			sess.Status = models.SessionActive
			sess.TotalWorkTime = sess.WorkTime(now).Milliseconds()
			sess.UpdatedAt = now
			d.Writes = append(d.Writes, writes...)
			d.Writes = append(d.Writes, UpdateSession{Session: sess})

			kind := models.ActivityIdleEnd
			if prev == models.StatusAway {
				kind = models.ActivitySessionResume
			}
			d.Writes = append(d.Writes, e.journal(ev, sess, kind, now, map[string]any{
				"previous_status": string(prev),
				"idle_duration":   sess.TotalIdleTime - before,
				"total_idle_time": sess.TotalIdleTime,
			}))
		}
	}
	return d
}

// openIdle starts an interval at now and marks the session idle.
func (e *Engine) openIdle(sess *models.ActivitySession, ev Event, prev models.Status, now time.Time, away bool) []Write {
	meta := map[string]any{
		"reason":          "status_change",
		"previous_status": string(prev),
	}
	if ev.InstanceID != "" {
		meta["instance_id"] = ev.InstanceID
	}
	if away {
		meta["transitioned_to_away"] = true
		meta["away_at"] = now.UTC()
	}
	idle := &models.IdleTracking{
		ID:            e.newID(),
		UserID:        sess.UserID,
		SessionID:     sess.ID,
		IdleStartTime: now,
		Metadata:      meta,
	}
	start := now
	sess.IdleStartTime = &start
	sess.Status = models.SessionIdle
	sess.UpdatedAt = now
	return []Write{OpenIdle{Idle: idle}, UpdateSession{Session: sess}}
}

// closeIdle ends the open interval at now and folds its duration into the session's idle total.
func (e *Engine) closeIdle(snap Snapshot, sess *models.ActivitySession, now time.Time) []Write {
	var start *time.Time
	if snap.OpenIdle != nil {
		t := snap.OpenIdle.IdleStartTime
		start = &t
	} else if sess.IdleStartTime != nil {
		start = sess.IdleStartTime
	}
	if start == nil {
		return nil
	}
	dur := now.Sub(*start)
	if dur < 0 {
		dur = 0
	}
	sess.TotalIdleTime += dur.Milliseconds()
	sess.IdleStartTime = nil

	if snap.OpenIdle == nil {
		return nil
	}
	closed := *snap.OpenIdle
	end := now
	closed.IdleEndTime = &end
	closed.IdleDuration = dur.Milliseconds()
	return []Write{CloseIdle{Idle: &closed}}
}

func (e *Engine) setPresence(ev Event, prev, next models.Status, now time.Time) Write {
	return SetPresence{UserID: ev.UserID, Previous: prev, Status: next, At: now, IP: ev.IP}
}

func (e *Engine) journal(ev Event, sess *models.ActivitySession, t models.ActivityType, now time.Time, meta map[string]any) AppendLog {
	l := &models.ActivityLog{
		ID:           e.newID(),
		UserID:       ev.UserID,
		ActivityType: t,
		Timestamp:    now,
		IPAddress:    ev.IP,
		UserEmail:    ev.Email,
		Metadata:     meta,
	}
	if sess != nil {
		id := sess.ID
		l.SessionID = &id
	}
	return AppendLog{Log: l}
}

func copyMeta(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
