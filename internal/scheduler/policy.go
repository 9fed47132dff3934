// Package scheduler places exam sessions into date, slot and venue cells. Everything in
// it is pure and deterministic: identical inputs always produce identical placements.
package scheduler

import "fmt"

// DateOrder decides which exam dates the allocator tries first.
type DateOrder string

const (
	// DateOrderEarliest walks the exam period chronologically.
	DateOrderEarliest DateOrder = "earliest"
	// DateOrderSpread prefers dates with fewer committed sessions, ties by date.
	DateOrderSpread DateOrder = "spread"
)

// VenueSharing decides whether several sessions may sit in one venue cell.
type VenueSharing string

const (
	// VenueSharingExclusive allows one session per venue cell.
	VenueSharingExclusive VenueSharing = "exclusive"
	// VenueSharingShared lets sessions co-occupy a cell while seats remain.
	VenueSharingShared VenueSharing = "shared"
)

// Policy is the fixed placement configuration for one batch.
type Policy struct {
	DateOrder           DateOrder    `json:"date_order"`
	VenueSharing        VenueSharing `json:"venue_sharing"`
	MaxVenuesPerSession int          `json:"max_venues_per_session"`
}

// DefaultPolicy returns earliest-first, exclusive cells, single venue.
func DefaultPolicy() Policy {
	return Policy{
		DateOrder:           DateOrderEarliest,
		VenueSharing:        VenueSharingExclusive,
		MaxVenuesPerSession: 1,
	}
}

// ParsePolicy validates raw configuration values. Empty values fall back to the defaults.
func ParsePolicy(dateOrder, sharing string, maxVenues int) (Policy, error) {
	p := DefaultPolicy()
	switch DateOrder(dateOrder) {
	case "":
	case DateOrderEarliest, DateOrderSpread:
		p.DateOrder = DateOrder(dateOrder)
	default:
		return p, fmt.Errorf("unknown date order %q", dateOrder)
	}
	switch VenueSharing(sharing) {
	case "":
	case VenueSharingExclusive, VenueSharingShared:
		p.VenueSharing = VenueSharing(sharing)
	default:
		return p, fmt.Errorf("unknown venue sharing policy %q", sharing)
	}
	if maxVenues > 0 {
		p.MaxVenuesPerSession = maxVenues
	}
	return p, nil
}
