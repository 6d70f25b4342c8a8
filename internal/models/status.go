package models

import "strings"

// Status is the presence state of an admin actor.
type Status string

const (
	StatusOffline Status = "offline"
	StatusOnline  Status = "online"
	StatusActive  Status = "active"
	StatusIdle    Status = "idle"
	StatusAway    Status = "away"
)

// Statuses lists every valid presence status.
var Statuses = []Status{StatusOffline, StatusOnline, StatusActive, StatusIdle, StatusAway}

// ValidateStatus clamps any candidate string to a valid Status. Unknown or empty input is offline.
func ValidateStatus(candidate string) Status {
	if s := Status(strings.ToLower(strings.TrimSpace(candidate))); s.Valid() {
		return s
	}
	return StatusOffline
}

// Valid reports whether s is one of the five known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusOffline, StatusOnline, StatusActive, StatusIdle, StatusAway:
		return true
	}
	return false
}

// Inactive reports whether the actor is connected but not working (idle or away).
func (s Status) Inactive() bool {
	return s == StatusIdle || s == StatusAway
}

// Working reports whether the actor is connected and working (online or active).
func (s Status) Working() bool {
	return s == StatusOnline || s == StatusActive
}
