package reservation

import "github.com/google/uuid"

// NewID generates a time-ordered UUIDv7 string for bookings, periods and audit entries.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
