package users

import (
	"errors"
	"time"
)

// User represents a user account for management.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	RoleIDs   []string  `json:"role_ids"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListFilter narrows ListUsers.
type ListFilter struct {
	Search     string
	ActiveOnly bool
}

// UpsertInput creates a user or updates the one with the same email.
type UpsertInput struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Name     string `json:"name" validate:"required,max=120"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Active   *bool  `json:"is_active,omitempty"`
}

// ErrNotFound indicates the user does not exist.
var ErrNotFound = errors.New("users: not found")
