package domain

import (
	"sort"
	"sync/atomic"
)

// AggregatedOrderbook is the read-only projection of a materialized book
// handed to consumers: sorted level arrays, aggregate volumes, spread and
// mid price. Recomputed on every accepted snapshot or delta and published
// by atomic pointer swap, so readers never observe a half-applied book.
type AggregatedOrderbook struct {
	Symbol         string       `json:"symbol"`
	Venue          VenueID      `json:"venue"`
	Timestamp      int64        `json:"timestamp"`
	LastSequenceID int64        `json:"lastSequenceId"`
	Bids           []PriceLevel `json:"bids"`
	Asks           []PriceLevel `json:"asks"`
	TotalBidVolume float64      `json:"totalBidVolume"`
	TotalAskVolume float64      `json:"totalAskVolume"`
	Spread         float64      `json:"spread"`
	MidPrice       float64      `json:"midPrice"`
	Synchronized   bool         `json:"synchronized"`
}

// MaterializedBook is the authoritative local order book for one
// (venue, symbol) pair. Both sides are keyed by price, so no two entries
// ever share a price; zero-quantity entries are deleted, not stored. All
// mutation happens on the venue's single delivery goroutine.
type MaterializedBook struct {
	Symbol string
	Venue  VenueID

	bids map[float64]PriceLevel
	asks map[float64]PriceLevel

	lastSequenceID int64
	synchronized   bool

	aggregated atomic.Pointer[AggregatedOrderbook]
}

func NewMaterializedBook(venue VenueID, symbol string) *MaterializedBook {
	b := &MaterializedBook{
		Symbol: symbol,
		Venue:  venue,
		bids:   make(map[float64]PriceLevel),
		asks:   make(map[float64]PriceLevel),
	}
	b.recompute(0)
	return b
}

func (b *MaterializedBook) LastSequenceID() int64 { return b.lastSequenceID }
func (b *MaterializedBook) Synchronized() bool    { return b.synchronized }

// Aggregated returns the latest published projection. Safe to call from any
// goroutine.
func (b *MaterializedBook) Aggregated() *AggregatedOrderbook {
	return b.aggregated.Load()
}

// ApplySnapshot replaces both sides wholesale and marks the book
// synchronized.
func (b *MaterializedBook) ApplySnapshot(s *SnapshotEvent) *AggregatedOrderbook {
	b.bids = make(map[float64]PriceLevel, len(s.Bids))
	b.asks = make(map[float64]PriceLevel, len(s.Asks))
	for _, lvl := range s.Bids {
		if lvl.Quantity > 0 {
			b.bids[lvl.Price] = lvl
		}
	}
	for _, lvl := range s.Asks {
		if lvl.Quantity > 0 {
			b.asks[lvl.Price] = lvl
		}
	}
	b.lastSequenceID = s.SequenceID
	b.synchronized = true
	return b.recompute(s.Timestamp)
}

// ApplyDelta upserts the changed levels and advances the sequence id. The
// caller is expected to have run the venue's SequenceRule first; the
// outdated guard is still enforced here so re-applying an old delta is a
// no-op.
func (b *MaterializedBook) ApplyDelta(d *DeltaEvent) (*AggregatedOrderbook, error) {
	if d.FinalSequenceID <= b.lastSequenceID {
		return nil, ErrDeltaOutdated
	}
	applyChanges(b.bids, d.BidChanges)
	applyChanges(b.asks, d.AskChanges)
	b.lastSequenceID = d.FinalSequenceID
	return b.recompute(d.Timestamp), nil
}

// Desync marks the book untrusted. Deltas must not be applied again until a
// fresh snapshot arrives.
func (b *MaterializedBook) Desync() {
	b.synchronized = false
	if agg := b.aggregated.Load(); agg != nil {
		stale := *agg
		stale.Synchronized = false
		b.aggregated.Store(&stale)
	}
}

func applyChanges(side map[float64]PriceLevel, changes []PriceLevel) {
	for _, lvl := range changes {
		if lvl.Quantity == 0 {
			delete(side, lvl.Price)
		} else {
			side[lvl.Price] = lvl
		}
	}
}

// recompute rebuilds the aggregated projection: bids sorted descending,
// asks ascending, then one pass for volumes, spread and mid price.
func (b *MaterializedBook) recompute(ts int64) *AggregatedOrderbook {
	bids := sortedLevels(b.bids, func(i, j PriceLevel) bool { return i.Price > j.Price })
	asks := sortedLevels(b.asks, func(i, j PriceLevel) bool { return i.Price < j.Price })

	agg := &AggregatedOrderbook{
		Symbol:         b.Symbol,
		Venue:          b.Venue,
		Timestamp:      ts,
		LastSequenceID: b.lastSequenceID,
		Bids:           bids,
		Asks:           asks,
		Synchronized:   b.synchronized,
	}
	for _, lvl := range bids {
		agg.TotalBidVolume += lvl.Quantity
	}
	for _, lvl := range asks {
		agg.TotalAskVolume += lvl.Quantity
	}
	if len(bids) > 0 && len(asks) > 0 {
		bestBid := bids[0].Price
		bestAsk := asks[0].Price
		agg.Spread = bestAsk - bestBid
		agg.MidPrice = (bestBid + bestAsk) / 2
	}
	b.aggregated.Store(agg)
	return agg
}

func sortedLevels(side map[float64]PriceLevel, less func(i, j PriceLevel) bool) []PriceLevel {
	levels := make([]PriceLevel, 0, len(side))
	for _, lvl := range side {
		levels = append(levels, lvl)
	}
	sort.Slice(levels, func(i, j int) bool { return less(levels[i], levels[j]) })
	return levels
}
