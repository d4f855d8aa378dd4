package realtime

import (
	"encoding/json"
	"time"

	"github.com/mcdev12/dropwatch/internal/domain"
)

// Event is the wire envelope for every push message. Data holds the
// event-specific payload, decoded by the handler that consumes it.
type Event struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"event"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// Push event names sent by the server.
const (
	EventStockUpdate        = "stockUpdate"
	EventNewDrop            = "newDrop"
	EventPurchaseCompleted  = "purchaseCompleted"
	EventReservationCreated = "reservationCreated"
	EventReservationExpired = "reservationExpired"
)

// Stock change reasons carried on stockUpdate events.
const (
	ReasonPurchase           = "purchase"
	ReasonReservation        = "reservation"
	ReasonReservationExpired = "reservation_expired"
)

// StockUpdatePayload patches one drop's stock count.
type StockUpdatePayload struct {
	DropID   string `json:"drop_id"`
	NewStock int    `json:"new_stock"`
	Reason   string `json:"reason,omitempty"`
}

// PurchaseCompletedPayload announces a finished purchase to every viewer.
// ReservationID and UserID are set so the buyer can reconcile their own
// reservation; other viewers only use it to refresh aggregate data.
type PurchaseCompletedPayload struct {
	DropID        string           `json:"drop_id"`
	UserID        string           `json:"user_id,omitempty"`
	ReservationID string           `json:"reservation_id,omitempty"`
	Purchase      *domain.Purchase `json:"purchase,omitempty"`
}

// ReservationExpiredPayload tells the owner a reservation lapsed
// server-side.
type ReservationExpiredPayload struct {
	ReservationID string `json:"reservation_id"`
	DropID        string `json:"drop_id"`
	UserID        string `json:"user_id,omitempty"`
}

// ReservationCreatedPayload announces a new hold on a drop.
type ReservationCreatedPayload struct {
	ReservationID string `json:"reservation_id"`
	DropID        string `json:"drop_id"`
	UserID        string `json:"user_id,omitempty"`
}

// ParseEventPayload decodes an event's payload into its typed struct.
// Unknown event names return (nil, nil).
func ParseEventPayload(ev Event) (interface{}, error) {
	switch ev.Name {
	case EventStockUpdate:
		var p StockUpdatePayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case EventNewDrop:
		var p domain.Drop
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case EventPurchaseCompleted:
		var p PurchaseCompletedPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case EventReservationCreated:
		var p ReservationCreatedPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case EventReservationExpired:
		var p ReservationExpiredPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, nil
	}
}
