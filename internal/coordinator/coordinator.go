// Package coordinator wires the caches, the reservation lifecycle, the
// expiry scheduler and the push channel together. It performs the initial
// load, re-synchronizes after every (re)connect, and routes push events
// to the right mutator. The full-reconciliation fetch is the only strong
// consistency point: events missed while disconnected are never replayed.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/dropwatch/internal/domain"
	"github.com/mcdev12/dropwatch/internal/notify"
	"github.com/mcdev12/dropwatch/internal/realtime"
	"github.com/mcdev12/dropwatch/internal/reservation"
	"github.com/mcdev12/dropwatch/internal/stockcache"
)

// API is what the coordinator needs from the REST boundary.
type API interface {
	FetchDrops(ctx context.Context) ([]domain.Drop, error)
	FetchUserReservations(ctx context.Context, status string) ([]domain.Reservation, error)
}

// Channel is what the coordinator needs from the push boundary.
type Channel interface {
	Connect(ctx context.Context) error
	On(name string, h realtime.Handler)
	OnConnect(fn func())
	RemoveAllHandlers()
	IsConnected() bool
}

// Scheduler is what the coordinator needs from the countdown layer.
type Scheduler interface {
	Start(id string, expiresAt time.Time, onExpire func(id string))
	Cancel(id string)
	Shutdown()
}

// Coordinator owns no drop or reservation data itself; it only mutates
// the stores through their components.
type Coordinator struct {
	api       API
	cache     *stockcache.Cache
	store     *reservation.Store
	lifecycle *reservation.Lifecycle
	channel   Channel
	sched     Scheduler
	notifier  notify.Notifier

	// refetchOnNewDrop chooses the Dashboard behavior (full refetch) over
	// a local upsert of the pushed drop.
	refetchOnNewDrop bool

	mu      sync.Mutex
	baseCtx context.Context
}

// Config carries the coordinator's collaborators.
type Config struct {
	API       API
	Cache     *stockcache.Cache
	Store     *reservation.Store
	Lifecycle *reservation.Lifecycle
	Channel   Channel
	Scheduler Scheduler
	Notifier  notify.Notifier

	// UpsertOnNewDrop applies the pushed drop locally instead of
	// refetching the whole list.
	UpsertOnNewDrop bool
}

// New builds a coordinator. A nil Notifier defaults to the log sink.
func New(cfg Config) *Coordinator {
	n := cfg.Notifier
	if n == nil {
		n = notify.Log{}
	}
	return &Coordinator{
		api:              cfg.API,
		cache:            cfg.Cache,
		store:            cfg.Store,
		lifecycle:        cfg.Lifecycle,
		channel:          cfg.Channel,
		sched:            cfg.Scheduler,
		notifier:         n,
		refetchOnNewDrop: !cfg.UpsertOnNewDrop,
	}
}

// Start performs the initial load, registers the push handlers and opens
// the channel. Every later (re)connect re-runs the full reconciliation.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	c.baseCtx = ctx
	c.mu.Unlock()

	if err := c.Reconcile(ctx); err != nil {
		// A failed initial load is not fatal: the first successful
		// connect reconciles again.
		log.Warn().Err(err).Msg("initial load failed, waiting for channel reconciliation")
	}

	c.registerHandlers()
	c.channel.OnConnect(func() {
		if err := c.Reconcile(c.ctx()); err != nil {
			log.Error().Err(err).Msg("post-connect reconciliation failed")
		}
	})
	return c.channel.Connect(ctx)
}

// Stop detaches the push handlers — the connection itself persists for
// the session — and cancels every countdown.
func (c *Coordinator) Stop() {
	c.channel.RemoveAllHandlers()
	c.sched.Shutdown()
}

// Reconcile refetches authoritative state and overwrites local state to
// correct drift. Runs on initial mount and after every (re)connect.
func (c *Coordinator) Reconcile(ctx context.Context) error {
	drops, err := c.api.FetchDrops(ctx)
	if err != nil {
		return fmt.Errorf("fetch drops: %w", err)
	}
	c.cache.ReplaceAll(drops)
	log.Debug().Int("drops", len(drops)).Msg("drop list reconciled")

	if c.lifecycle.UserID() == "" {
		return nil
	}
	return c.reconcileReservations(ctx)
}

// SetAuthenticated installs the viewer identity and re-runs the
// reservation reconciliation step only.
func (c *Coordinator) SetAuthenticated(userID string) {
	c.lifecycle.SetUser(userID)
	if err := c.reconcileReservations(c.ctx()); err != nil {
		log.Error().Err(err).Msg("reservation reconciliation after login failed")
	}
}

// ClearAuthenticated drops the viewer identity and all reservation state.
func (c *Coordinator) ClearAuthenticated() {
	c.lifecycle.ClearUser()
	for _, r := range c.store.List() {
		c.sched.Cancel(r.ID)
	}
	c.store.ReplaceAll(nil)
}

// IsLive reports whether push updates are flowing.
func (c *Coordinator) IsLive() bool {
	return c.channel.IsConnected()
}

func (c *Coordinator) reconcileReservations(ctx context.Context) error {
	reservations, err := c.api.FetchUserReservations(ctx, "")
	if err != nil {
		return fmt.Errorf("fetch reservations: %w", err)
	}
	c.store.ReplaceAll(reservations)

	// Restart countdowns from the snapshot. Entries that are already past
	// their deadline take the scheduler's immediate-expiry path, which
	// routes them through the state machine like any other expiry.
	for _, r := range c.store.List() {
		if r.Status == domain.ReservationActive {
			c.sched.Start(r.ID, r.ExpiresAt, c.lifecycle.MarkExpired)
		} else {
			c.sched.Cancel(r.ID)
		}
	}
	log.Debug().Int("reservations", len(reservations)).Msg("reservations reconciled")
	return nil
}

func (c *Coordinator) registerHandlers() {
	c.channel.On(realtime.EventStockUpdate, c.handleStockUpdate)
	c.channel.On(realtime.EventNewDrop, c.handleNewDrop)
	c.channel.On(realtime.EventPurchaseCompleted, c.handlePurchaseCompleted)
	c.channel.On(realtime.EventReservationExpired, c.handleReservationExpired)
}

func (c *Coordinator) handleStockUpdate(ev realtime.Event) {
	var p realtime.StockUpdatePayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		log.Warn().Err(err).Msg("bad stockUpdate payload")
		return
	}
	// Unknown drops no-op inside the cache; the next reconciliation picks
	// them up.
	c.cache.PatchStock(p.DropID, p.NewStock)
	if p.Reason == realtime.ReasonReservationExpired {
		c.notifier.Info(fmt.Sprintf("Stock released for drop %s", p.DropID))
	}
}

func (c *Coordinator) handleNewDrop(ev realtime.Event) {
	if c.refetchOnNewDrop {
		if drops, err := c.api.FetchDrops(c.ctx()); err == nil {
			c.cache.ReplaceAll(drops)
		} else {
			log.Warn().Err(err).Msg("drop refetch after newDrop failed")
		}
	} else {
		var d domain.Drop
		if err := json.Unmarshal(ev.Data, &d); err != nil {
			log.Warn().Err(err).Msg("bad newDrop payload")
			return
		}
		c.cache.Upsert(d)
	}
	c.notifier.Success("New drop available!")
}

// handlePurchaseCompleted refetches the drop list so aggregate display
// data reflects the sale. It only touches this viewer's reservation state
// when the event names the viewer.
func (c *Coordinator) handlePurchaseCompleted(ev realtime.Event) {
	var p realtime.PurchaseCompletedPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		log.Warn().Err(err).Msg("bad purchaseCompleted payload")
		return
	}

	if drops, err := c.api.FetchDrops(c.ctx()); err == nil {
		c.cache.ReplaceAll(drops)
	} else {
		log.Warn().Err(err).Msg("drop refetch after purchaseCompleted failed")
	}

	if p.UserID != "" && p.UserID == c.lifecycle.UserID() && p.ReservationID != "" {
		c.lifecycle.MarkCompleted(p.ReservationID)
	}
}

func (c *Coordinator) handleReservationExpired(ev realtime.Event) {
	var p realtime.ReservationExpiredPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		log.Warn().Err(err).Msg("bad reservationExpired payload")
		return
	}
	if _, ok := c.store.Get(p.ReservationID); ok {
		c.lifecycle.MarkExpired(p.ReservationID)
		c.notifier.Error("Your reservation expired")
	}
}

func (c *Coordinator) ctx() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.baseCtx != nil {
		return c.baseCtx
	}
	return context.Background()
}
