package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/mcdev12/dropwatch/internal/domain"
)

// Reason tags a user-actionable REST failure so callers can branch on it
// without string matching.
type Reason string

const (
	ReasonSoldOut          Reason = "sold_out"
	ReasonAlreadyReserved  Reason = "already_reserved"
	ReasonNotStarted       Reason = "not_started"
	ReasonUnauthenticated  Reason = "unauthenticated"
	ReasonExpired          Reason = "expired"
	ReasonAlreadyCompleted Reason = "already_completed"
	ReasonNotFound         Reason = "not_found"
	ReasonValidation       Reason = "validation"
	ReasonServerError      Reason = "server_error"
)

// APIError is a non-2xx response from the server. It is a value the
// caller inspects, never a fault: local state is untouched when one is
// returned.
type APIError struct {
	Status  int
	Message string
	Reason  Reason
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api: %s (status %d)", e.Message, e.Status)
	}
	return fmt.Sprintf("api: status %d", e.Status)
}

// Is maps tagged reasons onto the domain sentinels so call sites can use
// errors.Is against domain errors directly.
func (e *APIError) Is(target error) bool {
	switch target {
	case domain.ErrSoldOut:
		return e.Reason == ReasonSoldOut
	case domain.ErrAlreadyReserved:
		return e.Reason == ReasonAlreadyReserved
	case domain.ErrNotStarted:
		return e.Reason == ReasonNotStarted
	case domain.ErrUnauthenticated:
		return e.Reason == ReasonUnauthenticated
	case domain.ErrExpired:
		return e.Reason == ReasonExpired
	case domain.ErrAlreadyCompleted:
		return e.Reason == ReasonAlreadyCompleted
	case domain.ErrDropNotFound, domain.ErrReservationNotFound:
		return e.Reason == ReasonNotFound
	}
	return false
}

// classify derives a Reason from the response. Servers that send an
// explicit reason field win; otherwise fall back to status code and
// message wording.
func classify(status int, reason, message string) Reason {
	if r := Reason(reason); r != "" {
		switch r {
		case ReasonSoldOut, ReasonAlreadyReserved, ReasonNotStarted,
			ReasonUnauthenticated, ReasonExpired, ReasonAlreadyCompleted,
			ReasonNotFound, ReasonValidation, ReasonServerError:
			return r
		}
	}

	switch status {
	case http.StatusUnauthorized:
		return ReasonUnauthenticated
	case http.StatusNotFound:
		return ReasonNotFound
	case http.StatusGone:
		return ReasonExpired
	}
	if status >= 500 {
		return ReasonServerError
	}

	msg := strings.ToLower(message)
	switch {
	case strings.Contains(msg, "sold out"), strings.Contains(msg, "out of stock"):
		return ReasonSoldOut
	case strings.Contains(msg, "already reserved"), strings.Contains(msg, "active reservation"):
		return ReasonAlreadyReserved
	case strings.Contains(msg, "not started"), strings.Contains(msg, "not yet"):
		return ReasonNotStarted
	case strings.Contains(msg, "expired"):
		return ReasonExpired
	case strings.Contains(msg, "already completed"), strings.Contains(msg, "already purchased"):
		return ReasonAlreadyCompleted
	}
	return ReasonValidation
}
