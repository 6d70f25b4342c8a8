package presence

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobportal/backend/internal/models"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func writeNames(d Decision) []string {
	names := make([]string, 0, len(d.Writes))
	for _, w := range d.Writes {
		names = append(names, w.Name())
	}
	return names
}

func logTypes(d Decision) []models.ActivityType {
	var out []models.ActivityType
	for _, l := range d.Logs() {
		out = append(out, l.ActivityType)
	}
	return out
}

func openSession(userID uuid.UUID) *models.ActivitySession {
	return &models.ActivitySession{ID: uuid.New(), UserID: userID, LoginTime: t0, Status: models.SessionActive}
}

func testEvent() Event {
	return Event{UserID: uuid.New(), Email: "ann@example.com", IP: "192.0.2.1", UserAgent: "curl/8.0"}
}

func TestEngineConnectNewSession(t *testing.T) {
	e := NewEngine()
	ev := testEvent()

	d := e.Connect(Snapshot{Previous: models.StatusOffline}, ev, t0)

	assert.True(t, d.Broadcast)
	assert.Equal(t, models.StatusOffline, d.Previous)
	assert.Equal(t, models.StatusOnline, d.Next)
	require.NotNil(t, d.Session)
	assert.Equal(t, ev.UserID, d.Session.UserID)
	assert.Equal(t, t0, d.Session.LoginTime)
	assert.Equal(t, models.SessionActive, d.Session.Status)
	assert.Equal(t, []string{"create_session", "append_log", "set_presence"}, writeNames(d))
	assert.Equal(t, []models.ActivityType{models.ActivityLogin}, logTypes(d))
}

func TestEngineConnectReusesOpenSession(t *testing.T) {
	e := NewEngine()
	ev := testEvent()
	sess := openSession(ev.UserID)

	d := e.Connect(Snapshot{Previous: models.StatusIdle, Session: sess}, ev, t0.Add(time.Hour))

	require.NotNil(t, d.Session)
	assert.Equal(t, sess.ID, d.Session.ID)
	assert.Equal(t, ev.IP, d.Session.IPAddress)
	assert.Equal(t, []string{"update_session", "append_log", "set_presence"}, writeNames(d))
	assert.Equal(t, []models.ActivityType{models.ActivityReconnected}, logTypes(d))
	assert.Empty(t, sess.IPAddress, "snapshot must not be mutated")
}

func TestEngineStatusIdleThenActive(t *testing.T) {
	e := NewEngine()
	ev := testEvent()
	sess := openSession(ev.UserID)

	idle := e.Status(Snapshot{Previous: models.StatusOnline, Session: sess}, models.StatusIdle, ev, t0.Add(time.Minute))
	assert.True(t, idle.Broadcast)
	assert.Equal(t, []string{"open_idle", "update_session", "append_log", "set_presence"}, writeNames(idle))
	assert.Equal(t, []models.ActivityType{models.ActivityIdleStart}, logTypes(idle))
	assert.Equal(t, models.SessionIdle, idle.Session.Status)

	open := idle.Writes[0].(OpenIdle).Idle
	back := e.Status(Snapshot{Previous: models.StatusIdle, Session: idle.Session, OpenIdle: open},
		models.StatusActive, ev, t0.Add(6*time.Minute))
	assert.True(t, back.Broadcast)
	assert.Equal(t, []string{"close_idle", "update_session", "append_log", "set_presence"}, writeNames(back))
	assert.Equal(t, []models.ActivityType{models.ActivityIdleEnd}, logTypes(back))
	assert.Equal(t, (5 * time.Minute).Milliseconds(), back.Session.TotalIdleTime)
	assert.Nil(t, back.Session.IdleStartTime)

	closed := back.Writes[0].(CloseIdle).Idle
	assert.Equal(t, (5 * time.Minute).Milliseconds(), closed.IdleDuration)
	require.NotNil(t, closed.IdleEndTime)
}

func TestEngineStatusRepeatIdleIsJournaledNotBroadcast(t *testing.T) {
	e := NewEngine()
	ev := testEvent()
	ev.InstanceID = "tab-1"
	sess := openSession(ev.UserID)
	open := &models.IdleTracking{ID: uuid.New(), SessionID: sess.ID, IdleStartTime: t0}

	d := e.Status(Snapshot{Previous: models.StatusIdle, Session: sess, OpenIdle: open}, models.StatusIdle, ev, t0.Add(time.Minute))

	assert.False(t, d.Broadcast)
	assert.Equal(t, []string{"append_log", "set_presence"}, writeNames(d))
	require.Len(t, d.Logs(), 1)
	l := d.Logs()[0]
	assert.Equal(t, models.ActivityIdleStart, l.ActivityType)
	assert.Equal(t, true, l.Metadata["repeat"])
	assert.Equal(t, "idle", l.Metadata["status"])
	assert.Equal(t, "tab-1", l.Metadata["instance_id"])
	assert.Equal(t, sess.ID, *l.SessionID)
}

func TestEngineStatusActiveWithoutIntervalIsJournaled(t *testing.T) {
	e := NewEngine()
	ev := testEvent()
	sess := openSession(ev.UserID)

	d := e.Status(Snapshot{Previous: models.StatusOnline, Session: sess}, models.StatusActive, ev, t0.Add(time.Minute))
	assert.True(t, d.Broadcast)
	assert.Equal(t, []models.ActivityType{models.ActivitySessionStart}, logTypes(d))
	assert.Equal(t, false, d.Logs()[0].Metadata["repeat"])

	d = e.Status(Snapshot{Previous: models.StatusActive, Session: sess}, models.StatusActive, ev, t0.Add(2*time.Minute))
	assert.False(t, d.Broadcast)
	assert.Equal(t, []models.ActivityType{models.ActivitySessionResume}, logTypes(d))

	d = e.Status(Snapshot{Previous: models.StatusAway, Session: sess, OpenIdle: &models.IdleTracking{ID: uuid.New(), SessionID: sess.ID, IdleStartTime: t0}},
		models.StatusAway, ev, t0.Add(3*time.Minute))
	assert.False(t, d.Broadcast)
	assert.Equal(t, []models.ActivityType{models.ActivitySessionPause}, logTypes(d))
}

func TestEngineStatusIdleToAwayMarksInterval(t *testing.T) {
	e := NewEngine()
	ev := testEvent()
	sess := openSession(ev.UserID)
	open := &models.IdleTracking{ID: uuid.New(), SessionID: sess.ID, IdleStartTime: t0}

	d := e.Status(Snapshot{Previous: models.StatusIdle, Session: sess, OpenIdle: open}, models.StatusAway, ev, t0.Add(time.Minute))

	assert.True(t, d.Broadcast)
	assert.Equal(t, []string{"mark_idle_away", "append_log", "set_presence"}, writeNames(d))
	assert.Equal(t, []models.ActivityType{models.ActivitySessionPause}, logTypes(d))
	assert.Equal(t, open.ID, d.Writes[0].(MarkIdleAway).IdleID)
}

func TestEngineStatusAwayToActiveResumes(t *testing.T) {
	e := NewEngine()
	ev := testEvent()
	sess := openSession(ev.UserID)
	open := &models.IdleTracking{ID: uuid.New(), SessionID: sess.ID, IdleStartTime: t0}

	d := e.Status(Snapshot{Previous: models.StatusAway, Session: sess, OpenIdle: open}, models.StatusActive, ev, t0.Add(time.Minute))

	assert.Equal(t, []models.ActivityType{models.ActivitySessionResume}, logTypes(d))
}

func TestEngineStatusDrops(t *testing.T) {
	e := NewEngine()
	ev := testEvent()

	d := e.Status(Snapshot{Previous: models.StatusOffline}, models.StatusIdle, ev, t0)
	assert.True(t, d.Drop)
	assert.Empty(t, d.Writes)

	d = e.Status(Snapshot{Previous: models.StatusOnline, Session: openSession(ev.UserID)}, models.StatusOffline, ev, t0)
	assert.True(t, d.Drop)
}

func TestEngineActivityJournalsOnce(t *testing.T) {
	e := NewEngine()
	ev := testEvent()
	sess := openSession(ev.UserID)

	d := e.Activity(Snapshot{Previous: models.StatusActive, Session: sess}, models.ActivityTabHidden, ev, t0)
	assert.Equal(t, []models.ActivityType{models.ActivityIdleStart, models.ActivityTabHidden}, logTypes(d))
	assert.Equal(t, models.StatusIdle, d.Next)

	d = e.Activity(Snapshot{Previous: models.StatusActive, Session: sess}, models.ActivityPageUnload, ev, t0)
	assert.False(t, d.Broadcast)
	assert.Equal(t, []models.ActivityType{models.ActivityPageUnload}, logTypes(d))
	assert.Equal(t, models.StatusActive, d.Next)
}

func TestEngineManualOverride(t *testing.T) {
	e := NewEngine()
	ev := testEvent()
	ev.Metadata = map[string]any{"status": "away"}
	sess := openSession(ev.UserID)

	d := e.Activity(Snapshot{Previous: models.StatusActive, Session: sess}, models.ActivityManualOverride, ev, t0)

	assert.True(t, d.Broadcast)
	assert.Equal(t, models.StatusAway, d.Next)
	assert.Contains(t, logTypes(d), models.ActivityManualOverride)
}

func TestEngineDisconnectClosesIdleAndFinalizes(t *testing.T) {
	e := NewEngine()
	ev := testEvent()
	ev.Reason = "client_closed"
	sess := openSession(ev.UserID)
	start := t0.Add(30 * time.Minute)
	sess.IdleStartTime = &start
	sess.Status = models.SessionIdle
	open := &models.IdleTracking{ID: uuid.New(), SessionID: sess.ID, IdleStartTime: start}

	d := e.Disconnect(Snapshot{Previous: models.StatusIdle, Session: sess, OpenIdle: open}, ev, t0.Add(time.Hour))

	assert.True(t, d.Broadcast)
	assert.Equal(t, models.StatusOffline, d.Next)
	assert.Equal(t, []string{"close_idle", "finalize_session", "append_log", "set_presence"}, writeNames(d))
	require.NotNil(t, d.Session)
	assert.True(t, d.Session.Ended())
	assert.Equal(t, (30 * time.Minute).Milliseconds(), d.Session.TotalIdleTime)
	assert.Equal(t, (30 * time.Minute).Milliseconds(), d.Session.TotalWorkTime)
	assert.Equal(t, "client_closed", d.Logs()[0].Metadata["reason"])
}

func TestEngineDisconnectWithoutSession(t *testing.T) {
	e := NewEngine()
	d := e.Disconnect(Snapshot{Previous: models.StatusOffline}, testEvent(), t0)

	assert.Nil(t, d.Session)
	assert.Equal(t, []string{"append_log", "set_presence"}, writeNames(d))
	assert.Nil(t, d.Logs()[0].SessionID)
}
