package models

import (
	"time"
)

// UserRole represents the role of a user in the system
type UserRole string

const (
	RoleStudent UserRole = "student"
	RoleTeacher UserRole = "teacher"
	RoleAdmin   UserRole = "admin"
)

// User is a read-only projection of a Casdoor account. The service never
// writes users; it only resolves display names for analytics output.
type User struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email"`
	Role        UserRole  `json:"role"`
	Avatar      string    `json:"avatar,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// FullName returns the best displayable name for reports.
func (u *User) FullName() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Name
}

// IsStudent checks if the user has the student role
func (u *User) IsStudent() bool {
	return u.Role == RoleStudent
}

// IsTeacher checks if the user has the teacher role
func (u *User) IsTeacher() bool {
	return u.Role == RoleTeacher
}
