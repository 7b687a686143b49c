package domain

// VenueAdapter owns one transport connection to one venue's market-data
// endpoint and translates its wire protocol into the normalized event
// stream.
type VenueAdapter interface {
	Venue() VenueID

	// Connect is idempotent: a no-op when already connected or mid-connect.
	// After a successful connect the adapter emits one Connected state
	// event, then at least one SnapshotEvent before any DeltaEvent.
	Connect(symbol *MarketSymbol, depth int) error

	// Disconnect closes the transport with a normal closure code, cancels
	// any pending reconnect or in-flight snapshot fetch, and resets
	// sequence bookkeeping. Safe to call when not connected.
	Disconnect() error

	// Resync requests a fresh snapshot after a detected gap. Depending on
	// the venue this re-fetches a REST snapshot or resubscribes the
	// channel.
	Resync()

	// Rule is the venue's delta continuity policy.
	Rule() SequenceRule

	// Events is the ordered, single-stream event feed for this venue. It
	// stays open across reconnects for the adapter's lifetime.
	Events() <-chan VenueEvent
}
