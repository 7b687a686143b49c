package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrDeltaOutdated marks a delta whose final sequence id is at or behind
	// the book. Such deltas are dropped without touching the book.
	ErrDeltaOutdated = errors.New("orderbook delta is outdated")
	// ErrSequenceGap marks a delta that does not chain from the last applied
	// sequence id. The book must be resynchronized before further deltas.
	ErrSequenceGap = errors.New("orderbook delta is out of sequence")

	ErrBookNotFound  = errors.New("order book not found")
	ErrVenueNotFound = errors.New("venue not found")
)

// TransportError is a socket-level failure or non-normal closure. The
// supervisor reacts to it with backoff reconnection.
type TransportError struct {
	Venue  VenueID
	Reason string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: transport error: %s: %s", e.Venue, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: transport error: %s", e.Venue, e.Reason)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolParseError is a malformed or unexpected wire message. The message
// is dropped and the connection stays open.
type ProtocolParseError struct {
	Venue VenueID
	Msg   string
	Err   error
}

func (e *ProtocolParseError) Error() string {
	return fmt.Sprintf("%s: protocol parse error: %s: %s", e.Venue, e.Msg, e.Err)
}

func (e *ProtocolParseError) Unwrap() error { return e.Err }

// VenueSubscriptionError is a venue-side rejection of a subscription.
// Terminal for the current session; requires a manual reconnect with
// corrected parameters.
type VenueSubscriptionError struct {
	Venue VenueID
	Msg   string
}

func (e *VenueSubscriptionError) Error() string {
	return fmt.Sprintf("%s: subscription rejected: %s", e.Venue, e.Msg)
}

// ReconnectBudgetExhausted is raised after the supervisor has burned through
// its reconnect attempts. The venue stays disconnected until a manual
// reconnect.
type ReconnectBudgetExhausted struct {
	Venue    VenueID
	Attempts int
}

func (e *ReconnectBudgetExhausted) Error() string {
	return fmt.Sprintf("%s: gave up reconnecting after %d attempts", e.Venue, e.Attempts)
}
