package domain

import "errors"

var (
	ErrDropNotFound        = errors.New("drop not found")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrSoldOut             = errors.New("drop sold out")
	ErrAlreadyReserved     = errors.New("drop already reserved")
	ErrNotStarted          = errors.New("drop not started")
	ErrUnauthenticated     = errors.New("not authenticated")
	ErrExpired             = errors.New("reservation expired")
	ErrAlreadyCompleted    = errors.New("reservation already completed")
	ErrNotActive           = errors.New("reservation not active")
)
