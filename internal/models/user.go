package models

import (
	"time"

	"github.com/google/uuid"
)

// Role represents user role in the platform.
type Role string

const (
	RoleStudent     Role = "student"
	RoleOrganizer   Role = "organizer"
	RoleCampusAdmin Role = "campus_admin"
	RoleSuperAdmin  Role = "super_admin"
)

// ValidRole reports whether s is a known role.
func ValidRole(s string) bool {
	switch Role(s) {
	case RoleStudent, RoleOrganizer, RoleCampusAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// User represents a platform user bound to a home campus.
type User struct {
	ID         uuid.UUID `json:"id"`
	Email      string    `json:"email"`
	Password   string    `json:"-"`
	FullName   string    `json:"full_name"`
	StudentID  string    `json:"student_id,omitempty"` // format YYYY-XXXXXX for students
	Department string    `json:"department,omitempty"`
	Role       Role      `json:"role"`
	CampusID   uuid.UUID `json:"campus_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// UserPublic is User without sensitive fields for API responses.
type UserPublic struct {
	ID         uuid.UUID `json:"id"`
	Email      string    `json:"email"`
	FullName   string    `json:"full_name"`
	StudentID  string    `json:"student_id,omitempty"`
	Department string    `json:"department,omitempty"`
	Role       Role      `json:"role"`
	CampusID   uuid.UUID `json:"campus_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// ToPublic converts User to UserPublic.
func (u *User) ToPublic() UserPublic {
	return UserPublic{
		ID:         u.ID,
		Email:      u.Email,
		FullName:   u.FullName,
		StudentID:  u.StudentID,
		Department: u.Department,
		Role:       u.Role,
		CampusID:   u.CampusID,
		CreatedAt:  u.CreatedAt,
	}
}
