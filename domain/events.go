package domain

import (
	"fmt"
	"strconv"
)

// PriceLevel is one entry of an order book side. A quantity of exactly 0 in
// a delta means "remove this level"; a stored level always has quantity > 0.
type PriceLevel struct {
	Price     float64 `json:"price"`
	Quantity  float64 `json:"quantity"`
	Timestamp int64   `json:"timestamp"`
	Venue     VenueID `json:"venue"`
}

// VenueEvent is the normalized per-venue event stream. Events are delivered
// in arrival order on a single channel per venue.
type VenueEvent interface {
	venueEvent()
}

// SnapshotEvent is a complete, self-consistent book state at SequenceID.
type SnapshotEvent struct {
	Symbol     string
	Venue      VenueID
	Timestamp  int64
	SequenceID int64
	Bids       []PriceLevel
	Asks       []PriceLevel
}

// DeltaEvent is an incremental set of level changes covering the sequence
// window [FirstSequenceID, FinalSequenceID]. Adjacency rules are
// venue-specific, see SequenceRule.
type DeltaEvent struct {
	Symbol          string
	Venue           VenueID
	Timestamp       int64
	FirstSequenceID int64
	FinalSequenceID int64
	BidChanges      []PriceLevel
	AskChanges      []PriceLevel
}

// StateEvent reports a connection state transition. Reason is set on
// disconnects ("manual" for a user-initiated one).
type StateEvent struct {
	Venue  VenueID
	State  ConnectionState
	Reason string
}

// ErrorEvent carries a venue-scoped error from the taxonomy in errors.go.
type ErrorEvent struct {
	Venue VenueID
	Err   error
}

func (*SnapshotEvent) venueEvent() {}
func (*DeltaEvent) venueEvent()    {}
func (*StateEvent) venueEvent()    {}
func (*ErrorEvent) venueEvent()    {}

// Subscription is a cancelable typed stream.
type Subscription[T any] struct {
	Stream      chan T
	Unsubscribe func()
	Topic       string
}

// ParseLevels converts venue [price, quantity, ...] string tuples into price
// levels. Extra tuple elements are ignored. A malformed tuple fails the
// whole message rather than producing NaN levels.
func ParseLevels(raw [][]string, venue VenueID, ts int64) ([]PriceLevel, error) {
	levels := make([]PriceLevel, 0, len(raw))
	for _, entry := range raw {
		if len(entry) < 2 {
			return nil, fmt.Errorf("price level has %d fields, want at least 2", len(entry))
		}
		price, err := strconv.ParseFloat(entry[0], 64)
		if err != nil {
			return nil, fmt.Errorf("bad price %q: %w", entry[0], err)
		}
		qty, err := strconv.ParseFloat(entry[1], 64)
		if err != nil {
			return nil, fmt.Errorf("bad quantity %q: %w", entry[1], err)
		}
		levels = append(levels, PriceLevel{Price: price, Quantity: qty, Timestamp: ts, Venue: venue})
	}
	return levels, nil
}
