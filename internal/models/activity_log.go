package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ActivityType identifies a journaled admin activity.
type ActivityType string

const (
	ActivityLogin            ActivityType = "login"
	ActivityLogout           ActivityType = "logout"
	ActivityIdleStart        ActivityType = "idle_start"
	ActivityIdleEnd          ActivityType = "idle_end"
	ActivitySessionStart     ActivityType = "session_start"
	ActivitySessionEnd       ActivityType = "session_end"
	ActivitySessionResume    ActivityType = "session_resume"
	ActivitySessionPause     ActivityType = "session_pause"
	ActivityTabHidden        ActivityType = "tab_hidden"
	ActivityTabVisible       ActivityType = "tab_visible"
	ActivityPageFocus        ActivityType = "page_focus"
	ActivityPageBlur         ActivityType = "page_blur"
	ActivityMouse            ActivityType = "mouse_activity"
	ActivityKeyboard         ActivityType = "keyboard_activity"
	ActivityConnectionLost   ActivityType = "connection_lost"
	ActivityReconnected      ActivityType = "reconnected"
	ActivityManualOverride   ActivityType = "manual_override"
	ActivityPageUnload       ActivityType = "page_unload"
	ActivityComponentUnmount ActivityType = "component_unmount"
)

var activityTypes = map[ActivityType]struct{}{
	ActivityLogin: {}, ActivityLogout: {}, ActivityIdleStart: {}, ActivityIdleEnd: {},
	ActivitySessionStart: {}, ActivitySessionEnd: {}, ActivitySessionResume: {}, ActivitySessionPause: {},
	ActivityTabHidden: {}, ActivityTabVisible: {}, ActivityPageFocus: {}, ActivityPageBlur: {},
	ActivityMouse: {}, ActivityKeyboard: {}, ActivityConnectionLost: {}, ActivityReconnected: {},
	ActivityManualOverride: {}, ActivityPageUnload: {}, ActivityComponentUnmount: {},
}

// ParseActivityType returns the activity type for s and whether it is a known type.
func ParseActivityType(s string) (ActivityType, bool) {
	t := ActivityType(strings.ToLower(strings.TrimSpace(s)))
	_, ok := activityTypes[t]
	return t, ok
}

// TargetStatus returns the presence status a named client activity implies.
// ok is false for activities that are journaled without moving the state machine.
func (t ActivityType) TargetStatus() (Status, bool) {
	switch t {
	case ActivityTabHidden, ActivityPageBlur, ActivityIdleStart:
		return StatusIdle, true
	case ActivityTabVisible, ActivityPageFocus, ActivityMouse, ActivityKeyboard,
		ActivityIdleEnd, ActivitySessionResume:
		return StatusActive, true
	case ActivitySessionPause:
		return StatusAway, true
	}
	return "", false
}

// ActivityLog is one immutable journal entry.
type ActivityLog struct {
	ID           uuid.UUID      `json:"id"`
	UserID       uuid.UUID      `json:"user_id"`
	SessionID    *uuid.UUID     `json:"session_id,omitempty"`
	ActivityType ActivityType   `json:"activity_type"`
	Timestamp    time.Time      `json:"timestamp"`
	IPAddress    string         `json:"ip_address"`
	UserEmail    string         `json:"user_email"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// ActivityLogFilter narrows journal queries.
type ActivityLogFilter struct {
	UserID       *uuid.UUID
	ActivityType ActivityType
	Since        *time.Time
	Until        *time.Time
	Limit        int
	Offset       int
}
