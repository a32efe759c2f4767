package domain

import "github.com/google/uuid"

// NewInstanceKey generates a fresh, never reused instance key.
func NewInstanceKey() string {
	return uuid.NewString()
}
