package models

import "time"

// UserRole distinguishes staff from guardian accounts.
type UserRole string

const (
	RoleAdmin    UserRole = "ADMIN"
	RoleGuardian UserRole = "GUARDIAN"
)

// User is a portal account. Guardians own student registrations; admins
// manage receipts and reports.
type User struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         UserRole  `db:"role" json:"role"`
	Active       bool      `db:"active" json:"active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Pagination describes list slicing metadata.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
