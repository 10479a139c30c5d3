// Package uid generates opaque identifiers for ledger events, shop items and
// shop requests.
package uid

import "github.com/google/uuid"

// New generates a new random (v4) identifier.
func New() string {
	return uuid.New().String()
}

// NewOrdered generates a time-ordered (v7) identifier, so ledger rows sort
// roughly by insertion time. Falls back to v4 if the clock source fails.
func NewOrdered() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// IsValid checks if a string is a valid UUID.
func IsValid(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
