package auth

import (
	"time"

	"github.com/google/uuid"
)

// User represents a staff account of a tenant restaurant.
type User struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	Email        string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
