package domain

import "time"

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationCompleted ReservationStatus = "completed"
	ReservationExpired   ReservationStatus = "expired"
	ReservationCancelled ReservationStatus = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s ReservationStatus) Terminal() bool {
	switch s {
	case ReservationCompleted, ReservationExpired, ReservationCancelled:
		return true
	}
	return false
}

// Reservation is a temporary hold a user places on one unit of a drop,
// convertible into a purchase before ExpiresAt. The server enforces at
// most one active reservation per (user, drop); local state mirrors that
// invariant defensively.
type Reservation struct {
	ID        string            `json:"id"`
	DropID    string            `json:"drop_id"`
	UserID    string            `json:"user_id"`
	Status    ReservationStatus `json:"status"`
	ExpiresAt time.Time         `json:"expires_at"`
	CreatedAt time.Time         `json:"created_at"`
}

// Purchase is the record produced when an active reservation is converted
// before its deadline.
type Purchase struct {
	ID            string    `json:"id"`
	ReservationID string    `json:"reservation_id"`
	DropID        string    `json:"drop_id"`
	UserID        string    `json:"user_id"`
	Price         float64   `json:"price"`
	CompletedAt   time.Time `json:"completed_at"`
}

// User identifies the authenticated viewer. Credential storage lives with
// the auth collaborator; this core only carries identity.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}
