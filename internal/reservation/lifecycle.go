package reservation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/dropwatch/internal/domain"
)

// API is what the lifecycle needs from the REST boundary.
type API interface {
	CreateReservation(ctx context.Context, dropID string) (domain.Reservation, error)
	CancelReservation(ctx context.Context, id string) error
	CompletePurchase(ctx context.Context, reservationID string) (domain.Purchase, error)
}

// Scheduler is what the lifecycle needs from the expiry countdown layer.
type Scheduler interface {
	Start(id string, expiresAt time.Time, onExpire func(id string))
	Cancel(id string)
}

// Lifecycle drives reservations through their state machine. REST calls
// are fire-to-completion; their results are applied or discarded based on
// the reservation's state at the time they resolve.
type Lifecycle struct {
	api   API
	store *Store
	sched Scheduler

	mu     sync.RWMutex
	userID string // empty when unauthenticated
}

// NewLifecycle wires the lifecycle over a store, the REST client and the
// countdown scheduler.
func NewLifecycle(api API, store *Store, sched Scheduler) *Lifecycle {
	return &Lifecycle{api: api, store: store, sched: sched}
}

// SetUser records the authenticated viewer.
func (l *Lifecycle) SetUser(userID string) {
	l.mu.Lock()
	l.userID = userID
	l.mu.Unlock()
}

// ClearUser forgets the viewer on logout.
func (l *Lifecycle) ClearUser() {
	l.SetUser("")
}

// UserID returns the current viewer, empty when unauthenticated.
func (l *Lifecycle) UserID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.userID
}

// Reserve places a reservation against a drop. Local preconditions are a
// fast-fail only; the server decision is authoritative. On any failure the
// store is left exactly as it was and the tagged reason is returned to the
// caller. On success the reservation is inserted, becomes the active one
// for the drop, and its countdown starts.
func (l *Lifecycle) Reserve(ctx context.Context, dropID string) (domain.Reservation, error) {
	if l.UserID() == "" {
		return domain.Reservation{}, domain.ErrUnauthenticated
	}
	if _, ok := l.store.ActiveForDrop(dropID); ok {
		return domain.Reservation{}, domain.ErrAlreadyReserved
	}

	r, err := l.api.CreateReservation(ctx, dropID)
	if err != nil {
		log.Warn().Err(err).Str("drop_id", dropID).Msg("reserve failed")
		return domain.Reservation{}, err
	}
	if r.Status == "" {
		r.Status = domain.ReservationActive
	}

	l.store.Insert(r)
	l.sched.Start(r.ID, r.ExpiresAt, l.MarkExpired)

	log.Info().
		Str("reservation_id", r.ID).
		Str("drop_id", r.DropID).
		Time("expires_at", r.ExpiresAt).
		Msg("reservation created")
	return r, nil
}

// CompletePurchase converts an active reservation into a purchase. On
// failure the reservation stays active so the user can retry before the
// deadline — unless the failure says the server already expired it, in
// which case it is force-transitioned to expired. A purchase response that
// resolves after the reservation went terminal is discarded silently.
func (l *Lifecycle) CompletePurchase(ctx context.Context, reservationID string) (domain.Purchase, error) {
	r, ok := l.store.Get(reservationID)
	if !ok {
		return domain.Purchase{}, domain.ErrReservationNotFound
	}
	switch r.Status {
	case domain.ReservationActive:
	case domain.ReservationExpired:
		return domain.Purchase{}, domain.ErrExpired
	case domain.ReservationCompleted:
		return domain.Purchase{}, domain.ErrAlreadyCompleted
	default:
		return domain.Purchase{}, domain.ErrNotActive
	}

	p, err := l.api.CompletePurchase(ctx, reservationID)
	if err != nil {
		if errors.Is(err, domain.ErrExpired) {
			if l.store.Transition(reservationID, domain.ReservationExpired) {
				l.sched.Cancel(reservationID)
				log.Info().Str("reservation_id", reservationID).Msg("reservation expired server-side during purchase")
			}
		}
		return domain.Purchase{}, err
	}

	if l.store.Transition(reservationID, domain.ReservationCompleted) {
		l.sched.Cancel(reservationID)
		log.Info().
			Str("reservation_id", reservationID).
			Str("purchase_id", p.ID).
			Msg("purchase completed")
	}
	return p, nil
}

// Cancel releases a reservation before its deadline.
func (l *Lifecycle) Cancel(ctx context.Context, reservationID string) error {
	if _, ok := l.store.Get(reservationID); !ok {
		return domain.ErrReservationNotFound
	}
	if err := l.api.CancelReservation(ctx, reservationID); err != nil {
		return err
	}
	if l.store.Transition(reservationID, domain.ReservationCancelled) {
		l.sched.Cancel(reservationID)
		log.Info().Str("reservation_id", reservationID).Msg("reservation cancelled")
	}
	return nil
}

// MarkExpired is the shared sink for both expiry sources: the local
// countdown and the server's expiry signal. Whichever arrives first wins
// the transition; the other finds the reservation terminal and no-ops.
func (l *Lifecycle) MarkExpired(reservationID string) {
	if l.store.Transition(reservationID, domain.ReservationExpired) {
		l.sched.Cancel(reservationID)
		log.Info().Str("reservation_id", reservationID).Msg("reservation expired")
	}
}

// MarkCompleted applies a server-confirmed completion, e.g. a push event
// naming this viewer. Terminal reservations ignore it.
func (l *Lifecycle) MarkCompleted(reservationID string) {
	if l.store.Transition(reservationID, domain.ReservationCompleted) {
		l.sched.Cancel(reservationID)
		log.Info().Str("reservation_id", reservationID).Msg("reservation completed via server event")
	}
}
