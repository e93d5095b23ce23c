package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin   UserRole = "ADMIN"
	RoleHOD     UserRole = "HOD"
	RoleFaculty UserRole = "FACULTY"
	RoleStudent UserRole = "STUDENT"
)

// CanReview reports whether the role may approve or reject bookings.
func (r UserRole) CanReview() bool {
	return r == RoleAdmin || r == RoleHOD || r == RoleFaculty
}

// User mirrors the campus identity directory: the read side consumed for rule
// evaluation and notification recipient resolution. Accounts are issued and
// managed by the external identity service.
type User struct {
	ID         string    `db:"id" json:"id"`
	Email      string    `db:"email" json:"email"`
	FullName   string    `db:"full_name" json:"full_name"`
	Role       UserRole  `db:"role" json:"role"`
	Department string    `db:"department" json:"department"`
	Contact    string    `db:"contact" json:"contact"`
	Active     bool      `db:"active" json:"active"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
