// Package dashboard is the read side of admin presence: a live roster kept in sync from a REST
// snapshot plus WebSocket deltas.
package dashboard

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jobportal/backend/internal/models"
)

// FlagTTL is how long new and updated rows stay flagged.
const FlagTTL = 3 * time.Second

// ConnState is the dashboard's transport state.
type ConnState string

const (
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateDisconnected ConnState = "disconnected"
)

// Row is one rendered roster line.
type Row struct {
	UserID    uuid.UUID
	Name      string
	Email     string
	IP        string
	Status    models.Status
	LoginTime *time.Time
	Duration  time.Duration
	Ended     bool
	New       bool
	Updated   bool
}

type entry struct {
	user      models.UserPublic
	session   *models.ActivitySession
	status    models.Status
	newAt     time.Time
	updatedAt time.Time
}

// RosterView holds the dashboard's roster. It is safe for concurrent use.
type RosterView struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*entry
	state   ConnState
	flagTTL time.Duration
	now     func() time.Time
}

// NewRosterView creates an empty view in the disconnected state.
func NewRosterView() *RosterView {
	return &RosterView{
		entries: make(map[uuid.UUID]*entry),
		state:   StateDisconnected,
		flagTTL: FlagTTL,
		now:     time.Now,
	}
}

// ApplySnapshot replaces the roster. Snapshot rows are not flagged.
func (v *RosterView) ApplySnapshot(list []models.RosterEntry) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.entries = make(map[uuid.UUID]*entry, len(list))
	for _, e := range list {
		v.entries[e.User.ID] = &entry{
			user:    e.User,
			session: e.Session.Clone(),
			status:  models.ValidateStatus(string(e.Status)),
		}
	}
}

// ApplyStatusChange applies one statusChanged delta. Unknown actors are added and flagged new;
// known actors are updated and flagged updated.
func (v *RosterView) ApplyStatusChange(c models.StatusChange) {
	v.mu.Lock()
	defer v.mu.Unlock()
	now := v.now()
	e, ok := v.entries[c.UserID]
	if !ok {
		e = &entry{
			user: models.UserPublic{
				ID:       c.UserID,
				Email:    c.User.Email,
				FullName: c.User.Name,
				Role:     c.User.Role,
				PhotoURL: c.User.Photo,
			},
			newAt: now,
		}
		v.entries[c.UserID] = e
	} else {
		e.updatedAt = now
	}
	e.status = models.ValidateStatus(string(c.Status))
	e.user.CurrentStatus = e.status
	if c.IPAddress != "" {
		e.user.LastKnownIP = c.IPAddress
	}
	if c.Session != nil {
		e.session = c.Session.Clone()
	}
	ts := c.Timestamp
	e.user.LastActivity = &ts
}

// SetState records the transport state.
func (v *RosterView) SetState(s ConnState) {
	v.mu.Lock()
	v.state = s
	v.mu.Unlock()
}

// State returns the transport state.
func (v *RosterView) State() ConnState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Len returns the number of actors in the roster.
func (v *RosterView) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.entries)
}

// Rows returns the roster at now, ordered by name then email, with durations recomputed
// and expired flags cleared.
func (v *RosterView) Rows(now time.Time) []Row {
	v.mu.Lock()
	defer v.mu.Unlock()
	rows := make([]Row, 0, len(v.entries))
	for id, e := range v.entries {
		r := Row{
			UserID: id,
			Name:   e.user.FullName,
			Email:  e.user.Email,
			IP:     e.user.LastKnownIP,
			Status: e.status,
		}
		if !e.newAt.IsZero() {
			if now.Sub(e.newAt) < v.flagTTL {
				r.New = true
			} else {
				e.newAt = time.Time{}
			}
		}
		if !e.updatedAt.IsZero() {
			if now.Sub(e.updatedAt) < v.flagTTL {
				r.Updated = true
			} else {
				e.updatedAt = time.Time{}
			}
		}
		if s := e.session; s != nil {
			login := s.LoginTime
			r.LoginTime = &login
			r.Duration = s.WorkTime(now)
			r.Ended = s.Ended()
			if r.IP == "" {
				r.IP = s.IPAddress
			}
		}
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := strings.ToLower(rows[i].Name), strings.ToLower(rows[j].Name)
		if a != b {
			return a < b
		}
		return rows[i].Email < rows[j].Email
	})
	return rows
}
