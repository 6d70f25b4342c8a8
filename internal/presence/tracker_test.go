package presence

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobportal/backend/internal/models"
)

type fakeSessions struct {
	mu        sync.Mutex
	rows      map[uuid.UUID]*models.ActivitySession
	createErr error
	delay     time.Duration
}

func (f *fakeSessions) GetOpenByUser(_ context.Context, userID uuid.UUID) (*models.ActivitySession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.rows {
		if s.UserID == userID && !s.Ended() {
			return s.Clone(), nil
		}
	}
	return nil, nil
}

func (f *fakeSessions) GetByID(_ context.Context, id uuid.UUID) (*models.ActivitySession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[id].Clone(), nil
}

func (f *fakeSessions) Create(_ context.Context, s *models.ActivitySession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.rows[s.ID] = s.Clone()
	return nil
}

func (f *fakeSessions) Update(ctx context.Context, s *models.ActivitySession) error {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[s.ID] = s.Clone()
	return nil
}

func (f *fakeSessions) Finalize(_ context.Context, s *models.ActivitySession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.rows[s.ID]; ok && cur.Ended() {
		return errors.New("session already ended")
	}
	f.rows[s.ID] = s.Clone()
	return nil
}

func (f *fakeSessions) get(id uuid.UUID) *models.ActivitySession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[id].Clone()
}

type fakeIdle struct {
	mu       sync.Mutex
	rows     map[uuid.UUID]*models.IdleTracking
	closeErr error
}

func (f *fakeIdle) GetOpenBySession(_ context.Context, sessionID uuid.UUID) (*models.IdleTracking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.SessionID == sessionID && r.Open() {
			c := *r
			return &c, nil
		}
	}
	return nil, nil
}

func (f *fakeIdle) Open(_ context.Context, t *models.IdleTracking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *t
	f.rows[t.ID] = &c
	return nil
}

func (f *fakeIdle) MarkAway(_ context.Context, id uuid.UUID, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.rows[id]; ok {
		r.Metadata = map[string]any{"transitioned_to_away": true}
	}
	return nil
}

func (f *fakeIdle) Close(_ context.Context, t *models.IdleTracking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closeErr != nil {
		return f.closeErr
	}
	c := *t
	f.rows[t.ID] = &c
	return nil
}

type fakeLogs struct {
	mu   sync.Mutex
	rows []*models.ActivityLog
	err  error
}

func (f *fakeLogs) Insert(_ context.Context, l *models.ActivityLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, l)
	return nil
}

func (f *fakeIdle) open() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.rows {
		if r.Open() {
			n++
		}
	}
	return n
}

func (f *fakeLogs) types() []models.ActivityType {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ActivityType
	for _, l := range f.rows {
		out = append(out, l.ActivityType)
	}
	return out
}

type fakeActors struct {
	mu    sync.Mutex
	users map[uuid.UUID]*models.User
}

func (f *fakeActors) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, nil
	}
	c := *u
	return &c, nil
}

func (f *fakeActors) UpdatePresence(_ context.Context, id uuid.UUID, status models.Status, at time.Time, ip string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		u.CurrentStatus = status
		u.LastActivity = &at
		if ip != "" {
			u.LastKnownIP = ip
		}
	}
	return nil
}

func (f *fakeActors) ListAdminRoster(_ context.Context, _, _ int) ([]models.RosterEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.RosterEntry
	for _, u := range f.users {
		if u.Role.AdminEligible() {
			out = append(out, models.RosterEntry{User: u.ToPublic(), Status: u.CurrentStatus})
		}
	}
	return out, nil
}

type recorder struct {
	mu       sync.Mutex
	changes  []models.StatusChange
	activity []models.ActivityEcho
}

func (r *recorder) PublishStatusChange(_ context.Context, c models.StatusChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *recorder) PublishActivity(_ context.Context, e models.ActivityEcho) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activity = append(r.activity, e)
}

func (r *recorder) statuses() []models.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Status
	for _, c := range r.changes {
		out = append(out, c.Status)
	}
	return out
}

type fixture struct {
	tracker  *Tracker
	sessions *fakeSessions
	idle     *fakeIdle
	logs     *fakeLogs
	actors   *fakeActors
	status   *MemoryStore
	rec      *recorder
	clock    time.Time
	advance  func(time.Duration)
	admin    Conn
	live     atomic.Bool
}

func newFixture(t *testing.T, timeout time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		sessions: &fakeSessions{rows: map[uuid.UUID]*models.ActivitySession{}},
		idle:     &fakeIdle{rows: map[uuid.UUID]*models.IdleTracking{}},
		logs:     &fakeLogs{},
		actors:   &fakeActors{users: map[uuid.UUID]*models.User{}},
		status:   NewMemoryStore(),
		rec:      &recorder{},
		clock:    t0,
	}
	admin := &models.User{ID: uuid.New(), Email: "ann@example.com", FullName: "Ann", Role: models.RoleAdmin, CurrentStatus: models.StatusOffline}
	f.actors.users[admin.ID] = admin
	f.admin = Conn{UserID: admin.ID, Email: admin.Email, IP: "192.0.2.1", UserAgent: "curl/8.0"}

	var mu sync.Mutex
	f.tracker = NewTracker(&Stores{
		Sessions: f.sessions,
		Idle:     f.idle,
		Logs:     f.logs,
		Actors:   f.actors,
		Status:   f.status,
	}, f.rec, nil, Options{
		PersistTimeout: timeout,
		Connected:      func(uuid.UUID) bool { return f.live.Load() },
		Now: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return f.clock
		},
	})
	f.advance = func(d time.Duration) {
		mu.Lock()
		f.clock = f.clock.Add(d)
		mu.Unlock()
	}
	return f
}

func TestTrackerFullSession(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()

	d, err := f.tracker.Connect(ctx, f.admin)
	require.NoError(t, err)
	sessionID := d.Session.ID

	f.advance(10 * time.Minute)
	_, err = f.tracker.Status(ctx, f.admin, "idle", "tab-1", 0)
	require.NoError(t, err)

	f.advance(5 * time.Minute)
	_, err = f.tracker.Status(ctx, f.admin, "active", "tab-1", 0)
	require.NoError(t, err)

	f.advance(15 * time.Minute)
	_, err = f.tracker.Disconnect(ctx, f.admin, "client_closed")
	require.NoError(t, err)

	assert.Equal(t, []models.Status{models.StatusOnline, models.StatusIdle, models.StatusActive, models.StatusOffline}, f.rec.statuses())

	sess := f.sessions.get(sessionID)
	require.NotNil(t, sess)
	assert.True(t, sess.Ended())
	assert.Equal(t, (5 * time.Minute).Milliseconds(), sess.TotalIdleTime)
	assert.Equal(t, (25 * time.Minute).Milliseconds(), sess.TotalWorkTime)

	assert.Equal(t, []models.ActivityType{
		models.ActivityLogin, models.ActivityIdleStart, models.ActivityIdleEnd, models.ActivityLogout,
	}, f.logs.types())

	s, _ := f.status.Get(ctx, f.admin.UserID)
	assert.Equal(t, models.StatusOffline, s)
}

func TestTrackerReconnectReusesSession(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()

	first, err := f.tracker.Connect(ctx, f.admin)
	require.NoError(t, err)
	second, err := f.tracker.Connect(ctx, f.admin)
	require.NoError(t, err)

	assert.Equal(t, first.Session.ID, second.Session.ID)
	assert.Len(t, f.sessions.rows, 1)
	assert.Equal(t, []models.ActivityType{models.ActivityLogin, models.ActivityReconnected}, f.logs.types())
}

func TestTrackerDropsNonAdmins(t *testing.T) {
	f := newFixture(t, time.Second)
	employer := &models.User{ID: uuid.New(), Email: "emp@example.com", Role: models.RoleEmployer}
	f.actors.users[employer.ID] = employer

	d, err := f.tracker.Connect(context.Background(), Conn{UserID: employer.ID})
	require.NoError(t, err)

	assert.True(t, d.Drop)
	assert.Empty(t, f.rec.statuses())
	assert.Empty(t, f.sessions.rows)

	d, err = f.tracker.Connect(context.Background(), Conn{UserID: uuid.New()})
	require.NoError(t, err)
	assert.True(t, d.Drop)
}

func TestTrackerDefiningFailureSuppressesBroadcast(t *testing.T) {
	f := newFixture(t, time.Second)
	f.sessions.createErr = errors.New("db down")

	d, err := f.tracker.Connect(context.Background(), f.admin)
	require.NoError(t, err)

	assert.False(t, d.Broadcast)
	assert.Empty(t, f.rec.statuses())
	assert.Empty(t, f.logs.types(), "writes after the failure are not applied")
	s, _ := f.status.Get(context.Background(), f.admin.UserID)
	assert.Equal(t, models.StatusOffline, s)
}

func TestTrackerJournalFailureStillBroadcasts(t *testing.T) {
	f := newFixture(t, time.Second)
	f.logs.err = errors.New("journal unavailable")

	_, err := f.tracker.Connect(context.Background(), f.admin)
	require.NoError(t, err)

	assert.Equal(t, []models.Status{models.StatusOnline}, f.rec.statuses())
	assert.Empty(t, f.rec.activity, "failed journal entries are not echoed")
}

func TestTrackerTimeoutStillBroadcasts(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)
	ctx := context.Background()
	_, err := f.tracker.Connect(ctx, f.admin)
	require.NoError(t, err)

	f.sessions.delay = time.Second
	f.advance(time.Minute)
	_, err = f.tracker.Status(ctx, f.admin, "idle", "", 0)
	require.NoError(t, err)

	assert.Equal(t, []models.Status{models.StatusOnline, models.StatusIdle}, f.rec.statuses())
}

func TestTrackerUnknownActivityDropped(t *testing.T) {
	f := newFixture(t, time.Second)
	d, err := f.tracker.Activity(context.Background(), f.admin, "levitate", nil, 0)
	require.NoError(t, err)
	assert.True(t, d.Drop)
	assert.Empty(t, f.logs.types())
}

func TestTrackerActivityEchoesJournal(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	_, err := f.tracker.Connect(ctx, f.admin)
	require.NoError(t, err)

	_, err = f.tracker.Activity(ctx, f.admin, "tab_hidden", map[string]any{"instanceId": "tab-9"}, t0.UnixMilli())
	require.NoError(t, err)

	assert.Equal(t, []models.Status{models.StatusOnline, models.StatusIdle}, f.rec.statuses())
	assert.Equal(t, "tab-9", f.rec.changes[1].InstanceID)
	var types []models.ActivityType
	for _, e := range f.rec.activity {
		types = append(types, e.ActivityType)
	}
	assert.Equal(t, []models.ActivityType{models.ActivityLogin, models.ActivityIdleStart, models.ActivityTabHidden}, types)
}

func TestTrackerFinalizeStale(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	d, err := f.tracker.Connect(ctx, f.admin)
	require.NoError(t, err)

	f.advance(time.Hour)
	fin, err := f.tracker.FinalizeStale(ctx, d.Session.ID, "stale_session")
	require.NoError(t, err)
	assert.False(t, fin.Drop)
	assert.Equal(t, models.StatusOffline, fin.Next)
	assert.True(t, f.sessions.get(d.Session.ID).Ended())

	again, err := f.tracker.FinalizeStale(ctx, d.Session.ID, "stale_session")
	require.NoError(t, err)
	assert.True(t, again.Drop)
	assert.Equal(t, []models.Status{models.StatusOnline, models.StatusOffline}, f.rec.statuses())
}

func TestTrackerRosterClampsStatus(t *testing.T) {
	f := newFixture(t, time.Second)
	f.actors.users[f.admin.UserID].CurrentStatus = "napping"

	list, err := f.tracker.Roster(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.StatusOffline, list[0].Status)
}

func TestTrackerDisconnectKeepsSessionWhileConnected(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()

	first, err := f.tracker.Connect(ctx, f.admin)
	require.NoError(t, err)
	// A refreshed tab registers before the old tab's disconnect reaches the lane.
	f.live.Store(true)
	_, err = f.tracker.Connect(ctx, f.admin)
	require.NoError(t, err)

	d, err := f.tracker.Disconnect(ctx, f.admin, "client_closed")
	require.NoError(t, err)
	assert.True(t, d.Drop)
	assert.False(t, f.sessions.get(first.Session.ID).Ended())

	f.advance(time.Minute)
	idle, err := f.tracker.Status(ctx, f.admin, "idle", "tab-2", 0)
	require.NoError(t, err)
	assert.False(t, idle.Drop)
	assert.Equal(t, []models.Status{models.StatusOnline, models.StatusOnline, models.StatusIdle}, f.rec.statuses())

	f.live.Store(false)
	_, err = f.tracker.Disconnect(ctx, f.admin, "client_closed")
	require.NoError(t, err)
	assert.True(t, f.sessions.get(first.Session.ID).Ended())
	s, _ := f.status.Get(ctx, f.admin.UserID)
	assert.Equal(t, models.StatusOffline, s)
}

func TestTrackerRepeatedIdleJournaledOnce(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	_, err := f.tracker.Connect(ctx, f.admin)
	require.NoError(t, err)

	f.advance(time.Minute)
	_, err = f.tracker.Status(ctx, f.admin, "idle", "tab-1", 0)
	require.NoError(t, err)
	f.advance(time.Minute)
	again, err := f.tracker.Status(ctx, f.admin, "idle", "tab-1", 0)
	require.NoError(t, err)

	assert.False(t, again.Broadcast)
	assert.Equal(t, []models.Status{models.StatusOnline, models.StatusIdle}, f.rec.statuses())
	assert.Equal(t, 1, f.idle.open())
	assert.Equal(t, []models.ActivityType{models.ActivityLogin, models.ActivityIdleStart, models.ActivityIdleStart}, f.logs.types())

	f.logs.mu.Lock()
	repeat := f.logs.rows[2]
	f.logs.mu.Unlock()
	assert.Equal(t, true, repeat.Metadata["repeat"])
	assert.Equal(t, "tab-1", repeat.Metadata["instance_id"])
	assert.Len(t, f.rec.activity, 3, "every journaled entry is echoed")
}

func TestTrackerExpiredStatusFallsBackToPersisted(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	_, err := f.tracker.Connect(ctx, f.admin)
	require.NoError(t, err)
	_, err = f.tracker.Status(ctx, f.admin, "active", "", 0)
	require.NoError(t, err)

	// status key expired; the users row still says active
	require.NoError(t, f.status.Set(ctx, f.admin.UserID, models.StatusOffline))

	_, err = f.tracker.Status(ctx, f.admin, "idle", "", 0)
	require.NoError(t, err)
	require.Len(t, f.rec.changes, 3)
	assert.Equal(t, models.StatusActive, f.rec.changes[2].PreviousStatus)
	assert.Equal(t, models.StatusIdle, f.rec.changes[2].Status)
}

func TestTrackerAlreadyClosedIntervalCountsAsApplied(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	_, err := f.tracker.Connect(ctx, f.admin)
	require.NoError(t, err)
	_, err = f.tracker.Status(ctx, f.admin, "idle", "", 0)
	require.NoError(t, err)

	f.idle.mu.Lock()
	f.idle.closeErr = models.ErrIdleAlreadyClosed
	f.idle.mu.Unlock()

	d, err := f.tracker.Status(ctx, f.admin, "active", "", 0)
	require.NoError(t, err)
	assert.True(t, d.Broadcast)
	assert.Equal(t, []models.Status{models.StatusOnline, models.StatusIdle, models.StatusActive}, f.rec.statuses())
}
