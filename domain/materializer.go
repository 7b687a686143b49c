package domain

import (
	"github.com/gammazero/deque"
	"github.com/sirupsen/logrus"
)

// Deltas buffered per symbol while waiting for the bootstrap snapshot.
// Venues with a REST bootstrap stream deltas before the snapshot lands; the
// window rule drops the stale ones when the queue is drained.
const pendingDeltaLimit = 4096

// bookState is one symbol's book plus its bootstrap bookkeeping. The book
// stays nil until the first snapshot arrives.
type bookState struct {
	book             *MaterializedBook
	pendingDeltas    deque.Deque[*DeltaEvent]
	awaitingSnapshot bool
}

// OrderBookMaterializer owns the materialized books of one venue. It applies
// snapshots and sequence-validated deltas in arrival order and asks the
// adapter to resynchronize when a delta does not chain. Symbols are fully
// independent: each has its own book, bootstrap flag and delta buffer.
//
// All methods except Reset are called from the venue's single delivery
// goroutine.
type OrderBookMaterializer struct {
	venue   VenueID
	rule    SequenceRule
	resync  func()
	storage *BookStorage

	books map[string]*bookState

	log *logrus.Entry
}

func NewOrderBookMaterializer(venue VenueID, rule SequenceRule, resync func(), storage *BookStorage) *OrderBookMaterializer {
	return &OrderBookMaterializer{
		venue:   venue,
		rule:    rule,
		resync:  resync,
		storage: storage,
		books:   make(map[string]*bookState),
		log:     logrus.WithField("component", string(venue)+"-materializer"),
	}
}

func (m *OrderBookMaterializer) state(symbol string) *bookState {
	st, ok := m.books[symbol]
	if !ok {
		st = &bookState{awaitingSnapshot: true}
		m.books[symbol] = st
	}
	return st
}

// OnSnapshot replaces the book wholesale, then drains the deltas buffered
// for that symbol through the sequence rule. Returns the projection of the
// final state.
func (m *OrderBookMaterializer) OnSnapshot(s *SnapshotEvent) *AggregatedOrderbook {
	st := m.state(s.Symbol)
	if st.book == nil {
		st.book = NewMaterializedBook(m.venue, s.Symbol)
		m.storage.Add(m.venue, s.Symbol, st.book)
	}

	agg := st.book.ApplySnapshot(s)
	st.awaitingSnapshot = false

	for st.pendingDeltas.Len() > 0 {
		d := st.pendingDeltas.PopFront()
		if next, err := m.applyValidated(st, d); next != nil {
			agg = next
		} else if IsSequenceGap(err) {
			// The buffered stream itself has a hole; the resync has
			// already been requested, stop draining.
			st.pendingDeltas.Clear()
			return st.book.Aggregated()
		}
	}
	return agg
}

// OnDelta applies one delta. It returns a nil projection when the delta was
// dropped (stale, unsynchronized book, or buffered during bootstrap) and
// ErrSequenceGap when a resynchronization has been triggered.
func (m *OrderBookMaterializer) OnDelta(d *DeltaEvent) (*AggregatedOrderbook, error) {
	st := m.state(d.Symbol)
	if st.book == nil || st.awaitingSnapshot {
		buffer(st, d)
		return nil, nil
	}

	if !st.book.Synchronized() {
		// Desynced: everything up to the next snapshot is untrusted.
		return nil, nil
	}

	return m.applyValidated(st, d)
}

func (m *OrderBookMaterializer) applyValidated(st *bookState, d *DeltaEvent) (*AggregatedOrderbook, error) {
	if err := m.rule.Validate(d, st.book.LastSequenceID()); err != nil {
		if IsOutdated(err) {
			return nil, nil
		}
		m.log.WithFields(logrus.Fields{
			"symbol":  d.Symbol,
			"first":   d.FirstSequenceID,
			"final":   d.FinalSequenceID,
			"lastSeq": st.book.LastSequenceID(),
		}).Warn("sequence gap detected, forcing resync")

		st.book.Desync()
		st.awaitingSnapshot = true
		if m.resync != nil {
			m.resync()
		}
		return nil, ErrSequenceGap
	}

	agg, err := st.book.ApplyDelta(d)
	if err != nil {
		return nil, nil
	}
	return agg, nil
}

func buffer(st *bookState, d *DeltaEvent) {
	if st.pendingDeltas.Len() >= pendingDeltaLimit {
		st.pendingDeltas.PopFront()
	}
	st.pendingDeltas.PushBack(d)
}

// Book returns the materialized book for a symbol, if any.
func (m *OrderBookMaterializer) Book(symbol string) (*MaterializedBook, bool) {
	st, ok := m.books[symbol]
	if !ok || st.book == nil {
		return nil, false
	}
	return st.book, true
}

// Reset discards all books and buffered deltas. Called on manual disconnect
// and on reconnect-budget exhaustion, when last-known data must be cleared.
func (m *OrderBookMaterializer) Reset() {
	m.books = make(map[string]*bookState)
	m.storage.Remove(m.venue)
}
