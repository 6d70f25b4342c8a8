package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of an ActivitySession.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionIdle   SessionStatus = "idle"
	SessionEnded  SessionStatus = "ended"
)

// ActivitySession is one login-to-logout span of an admin. Durations are milliseconds.
type ActivitySession struct {
	ID            uuid.UUID     `json:"id"`
	UserID        uuid.UUID     `json:"user_id"`
	LoginTime     time.Time     `json:"login_time"`
	LogoutTime    *time.Time    `json:"logout_time,omitempty"`
	IdleStartTime *time.Time    `json:"idle_start_time,omitempty"`
	TotalIdleTime int64         `json:"total_idle_time"`
	TotalWorkTime int64         `json:"total_work_time"`
	Status        SessionStatus `json:"status"`
	IPAddress     string        `json:"ip_address"`
	UserAgent     string        `json:"user_agent"`
	Device        string        `json:"device"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Ended reports whether the session has been finalized.
func (s *ActivitySession) Ended() bool {
	return s.Status == SessionEnded
}

// Elapsed returns login-to-now, or login-to-logout once ended.
func (s *ActivitySession) Elapsed(now time.Time) time.Duration {
	end := now
	if s.LogoutTime != nil {
		end = *s.LogoutTime
	}
	if end.Before(s.LoginTime) {
		return 0
	}
	return end.Sub(s.LoginTime)
}

// WorkTime returns elapsed time minus accumulated idle time, never negative.
func (s *ActivitySession) WorkTime(now time.Time) time.Duration {
	w := s.Elapsed(now) - time.Duration(s.TotalIdleTime)*time.Millisecond
	if w < 0 {
		return 0
	}
	return w
}

// Clone returns a copy that shares no pointers with s.
func (s *ActivitySession) Clone() *ActivitySession {
	if s == nil {
		return nil
	}
	c := *s
	if s.LogoutTime != nil {
		t := *s.LogoutTime
		c.LogoutTime = &t
	}
	if s.IdleStartTime != nil {
		t := *s.IdleStartTime
		c.IdleStartTime = &t
	}
	return &c
}
