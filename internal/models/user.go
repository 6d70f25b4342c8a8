package models

import (
	"time"

	"github.com/google/uuid"
)

// Role represents user role in the back office.
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleEmployer   Role = "employer"
)

// AdminEligible reports whether users with this role are presence-tracked admins.
func (r Role) AdminEligible() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// User represents a back-office user. Presence fields are written only by the presence tracker.
type User struct {
	ID            uuid.UUID  `json:"id"`
	Email         string     `json:"email"`
	Password      string     `json:"-"`
	FullName      string     `json:"full_name"`
	Role          Role       `json:"role"`
	PhotoURL      string     `json:"photo_url,omitempty"`
	CurrentStatus Status     `json:"current_status"`
	LastActivity  *time.Time `json:"last_activity,omitempty"`
	LastKnownIP   string     `json:"last_known_ip,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// UserPublic is User without sensitive fields for API responses.
type UserPublic struct {
	ID            uuid.UUID  `json:"id"`
	Email         string     `json:"email"`
	FullName      string     `json:"full_name"`
	Role          Role       `json:"role"`
	PhotoURL      string     `json:"photo_url,omitempty"`
	CurrentStatus Status     `json:"current_status"`
	LastActivity  *time.Time `json:"last_activity,omitempty"`
	LastKnownIP   string     `json:"last_known_ip,omitempty"`
}

// ToPublic converts User to UserPublic.
func (u *User) ToPublic() UserPublic {
	return UserPublic{
		ID:            u.ID,
		Email:         u.Email,
		FullName:      u.FullName,
		Role:          u.Role,
		PhotoURL:      u.PhotoURL,
		CurrentStatus: ValidateStatus(string(u.CurrentStatus)),
		LastActivity:  u.LastActivity,
		LastKnownIP:   u.LastKnownIP,
	}
}

// Identity is the actor projection carried in presence broadcasts.
type Identity struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
	Photo string `json:"photo,omitempty"`
}

// Identity returns the broadcast projection of u.
func (u *User) Identity() Identity {
	return Identity{Name: u.FullName, Email: u.Email, Role: u.Role, Photo: u.PhotoURL}
}
