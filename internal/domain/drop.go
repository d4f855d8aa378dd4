package domain

import "time"

// Drop is a catalog item with finite stock released for time-boxed
// purchase. Drops are created by the remote catalog and refreshed
// wholesale on fetch; the client only ever patches the Stock field.
type Drop struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Description  string     `json:"description,omitempty"`
	Price        float64    `json:"price"`
	Stock        int        `json:"stock"`
	InitialStock int        `json:"initial_stock"`
	StartTime    *time.Time `json:"drop_start_time,omitempty"`
	ImageURL     string     `json:"image_url,omitempty"`
}

// Started reports whether the drop is open for reservations at the given
// instant. A drop without a start time is always open.
func (d Drop) Started(now time.Time) bool {
	return d.StartTime == nil || !d.StartTime.After(now)
}

// SoldOut reports whether no stock remains.
func (d Drop) SoldOut() bool {
	return d.Stock <= 0
}
