package models

import (
	"time"

	"github.com/google/uuid"
)

// RosterEntry is one admin in a roster snapshot: the actor, the latest session (active or ended) and validated status.
type RosterEntry struct {
	User    UserPublic       `json:"user"`
	Session *ActivitySession `json:"session,omitempty"`
	Status  Status           `json:"status"`
}

// StatusChange is the payload of statusChanged and the admin{Online,Offline,Idle,Away} events.
type StatusChange struct {
	UserID         uuid.UUID        `json:"user_id"`
	Status         Status           `json:"status"`
	PreviousStatus Status           `json:"previous_status"`
	Session        *ActivitySession `json:"session,omitempty"`
	User           Identity         `json:"user"`
	IPAddress      string           `json:"ip_address"`
	InstanceID     string           `json:"instance_id,omitempty"`
	Timestamp      time.Time        `json:"timestamp"`
	SessionID      *uuid.UUID       `json:"session_id,omitempty"`
}

// ActivityEcho is the payload of activityLogged and activity:<type> events.
type ActivityEcho struct {
	UserID       uuid.UUID      `json:"user_id"`
	SessionID    *uuid.UUID     `json:"session_id,omitempty"`
	ActivityType ActivityType   `json:"activity_type"`
	UserEmail    string         `json:"user_email"`
	IPAddress    string         `json:"ip_address"`
	Timestamp    time.Time      `json:"timestamp"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// EchoOf builds the echo payload for a journal entry.
func EchoOf(l *ActivityLog) ActivityEcho {
	return ActivityEcho{
		UserID:       l.UserID,
		SessionID:    l.SessionID,
		ActivityType: l.ActivityType,
		UserEmail:    l.UserEmail,
		IPAddress:    l.IPAddress,
		Timestamp:    l.Timestamp,
		Metadata:     l.Metadata,
	}
}
