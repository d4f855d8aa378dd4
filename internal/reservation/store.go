// Package reservation owns the viewer's reservation collection and its
// state machine. Three independent sources mutate it — REST results, push
// events, and the local expiry countdown — so every transition funnels
// through a terminal-state guard that makes their races idempotent.
package reservation

import (
	"sync"

	"github.com/mcdev12/dropwatch/internal/domain"
)

// Store holds reservations keyed by ID, plus a secondary index mapping
// drop ID to the single active reservation for that drop. The index is
// maintained atomically with the primary map so "active reservation for
// drop X" is an O(1) lookup, never a scan.
type Store struct {
	mu     sync.RWMutex
	byID   map[string]domain.Reservation
	active map[string]string // drop ID -> active reservation ID

	subMu   sync.Mutex
	subs    map[int]func()
	nextSub int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		byID:   make(map[string]domain.Reservation),
		active: make(map[string]string),
		subs:   make(map[int]func()),
	}
}

// ReplaceAll rebuilds the store from a server snapshot. If the server
// returns more than one active reservation for a drop — which its own
// invariant forbids — the most recently created one keeps the active
// index and the rest stay reachable by ID only. The store never rejects
// a snapshot.
func (s *Store) ReplaceAll(reservations []domain.Reservation) {
	s.mu.Lock()
	s.byID = make(map[string]domain.Reservation, len(reservations))
	s.active = make(map[string]string)
	for _, r := range reservations {
		s.byID[r.ID] = r
		if r.Status != domain.ReservationActive {
			continue
		}
		cur, taken := s.active[r.DropID]
		if !taken || newerThan(r, s.byID[cur]) {
			s.active[r.DropID] = r.ID
		}
	}
	s.mu.Unlock()
	s.notify()
}

func newerThan(a, b domain.Reservation) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// Insert adds a reservation, typically the result of a successful reserve
// call. An active insert takes over the drop's active index.
func (s *Store) Insert(r domain.Reservation) {
	s.mu.Lock()
	s.byID[r.ID] = r
	if r.Status == domain.ReservationActive {
		s.active[r.DropID] = r.ID
	}
	s.mu.Unlock()
	s.notify()
}

// Transition moves a reservation from active into the given state.
// It returns false without mutating when the reservation is unknown, is
// already terminal, or the target is not a legal edge — a benign race,
// not an error: whichever of the timer and the server signal fires first
// wins, the loser no-ops here.
func (s *Store) Transition(id string, to domain.ReservationStatus) bool {
	if !to.Terminal() {
		return false
	}
	s.mu.Lock()
	r, ok := s.byID[id]
	if !ok || r.Status != domain.ReservationActive {
		s.mu.Unlock()
		return false
	}
	r.Status = to
	s.byID[id] = r
	if s.active[r.DropID] == id {
		delete(s.active, r.DropID)
	}
	s.mu.Unlock()
	s.notify()
	return true
}

// ActiveForDrop returns the active reservation for a drop, if any.
func (s *Store) ActiveForDrop(dropID string) (domain.Reservation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.active[dropID]
	if !ok {
		return domain.Reservation{}, false
	}
	return s.byID[id], true
}

// Get returns a reservation by ID.
func (s *Store) Get(id string) (domain.Reservation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[id]
	return r, ok
}

// List returns all held reservations in unspecified order.
func (s *Store) List() []domain.Reservation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Reservation, 0, len(s.byID))
	for _, r := range s.byID {
		out = append(out, r)
	}
	return out
}

// Subscribe registers fn to run after every mutation and returns a
// function that removes the subscription.
func (s *Store) Subscribe(fn func()) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify() {
	s.subMu.Lock()
	fns := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
