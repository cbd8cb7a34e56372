package roles

import (
	"errors"
	"time"
)

// DefaultColor is used when a role is created without a badge color.
const DefaultColor = "#64748b"

var (
	// ErrNotFound indicates that the role does not exist.
	ErrNotFound = errors.New("roles: not found")
	// ErrDuplicateCode indicates that another role already uses the code.
	ErrDuplicateCode = errors.New("roles: code already in use")
)

// Role is a permission subject managed from the settings page.
type Role struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Code      string    `json:"code"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateInput carries the fields of a new role.
type CreateInput struct {
	ID    string `json:"id" validate:"omitempty,max=64"`
	Name  string `json:"name" validate:"required,max=120"`
	Code  string `json:"code" validate:"required,alphanum,uppercase,max=32"`
	Color string `json:"color" validate:"omitempty,hexcolor"`
}
