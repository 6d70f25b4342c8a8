package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrIdleAlreadyClosed is returned when closing an interval that is no longer open.
var ErrIdleAlreadyClosed = errors.New("idle interval already closed")

// IdleTracking bounds one idle (or away) interval inside a session.
type IdleTracking struct {
	ID            uuid.UUID      `json:"id"`
	UserID        uuid.UUID      `json:"user_id"`
	SessionID     uuid.UUID      `json:"session_id"`
	IdleStartTime time.Time      `json:"idle_start_time"`
	IdleEndTime   *time.Time     `json:"idle_end_time,omitempty"`
	IdleDuration  int64          `json:"idle_duration"` // ms
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Open reports whether the interval has not been closed yet.
func (t *IdleTracking) Open() bool {
	return t.IdleEndTime == nil
}
