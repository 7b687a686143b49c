package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// adjacencyRule accepts only deltas that chain exactly one past the book.
type adjacencyRule struct{}

func (adjacencyRule) Validate(d *DeltaEvent, lastSequenceID int64) error {
	if d.FinalSequenceID <= lastSequenceID {
		return ErrDeltaOutdated
	}
	if d.FinalSequenceID == lastSequenceID+1 {
		return nil
	}
	return ErrSequenceGap
}

func delta(seq int64, bids ...PriceLevel) *DeltaEvent {
	return &DeltaEvent{
		Symbol:          "btcusdt",
		Venue:           VenueBinance,
		FirstSequenceID: seq,
		FinalSequenceID: seq,
		BidChanges:      bids,
	}
}

func newTestMaterializer(resync func()) (*OrderBookMaterializer, *BookStorage) {
	storage := NewBookStorage()
	return NewOrderBookMaterializer(VenueBinance, adjacencyRule{}, resync, storage), storage
}

func TestMaterializer_BuffersDeltasUntilSnapshot(t *testing.T) {
	m, _ := newTestMaterializer(nil)

	agg, err := m.OnDelta(delta(11, lvl(98, 5)))
	assert.NoError(t, err)
	assert.Nil(t, agg)

	agg, err = m.OnDelta(delta(12, lvl(97, 1)))
	assert.NoError(t, err)
	assert.Nil(t, agg)

	// snapshot at 10 drains the buffer: 11 and 12 chain onto it
	final := m.OnSnapshot(testSnapshot())
	assert.Equal(t, int64(12), final.LastSequenceID)
	assert.Contains(t, prices(final.Bids), 98.0)
	assert.Contains(t, prices(final.Bids), 97.0)
}

func TestMaterializer_DrainDropsStaleBufferedDeltas(t *testing.T) {
	m, _ := newTestMaterializer(nil)

	// older than the snapshot, must be dropped by the rule during drain
	_, _ = m.OnDelta(delta(9, lvl(50, 1)))
	_, _ = m.OnDelta(delta(11, lvl(98, 5)))

	final := m.OnSnapshot(testSnapshot())
	assert.Equal(t, int64(11), final.LastSequenceID)
	assert.NotContains(t, prices(final.Bids), 50.0)
}

func TestMaterializer_GapTriggersResync(t *testing.T) {
	resyncs := 0
	m, _ := newTestMaterializer(func() { resyncs++ })

	m.OnSnapshot(testSnapshot())

	agg, err := m.OnDelta(delta(11, lvl(98, 5)))
	assert.NoError(t, err)
	assert.Equal(t, int64(11), agg.LastSequenceID)

	// 13 does not chain onto 11
	agg, err = m.OnDelta(delta(13, lvl(97, 1)))
	assert.Nil(t, agg)
	assert.ErrorIs(t, err, ErrSequenceGap)
	assert.Equal(t, 1, resyncs)

	book, ok := m.Book("btcusdt")
	assert.True(t, ok)
	assert.False(t, book.Synchronized())
	assert.False(t, book.Aggregated().Synchronized)
}

func TestMaterializer_AfterGapDeltasBufferUntilSnapshot(t *testing.T) {
	m, _ := newTestMaterializer(func() {})

	m.OnSnapshot(testSnapshot())
	_, err := m.OnDelta(delta(13, lvl(97, 1)))
	assert.ErrorIs(t, err, ErrSequenceGap)

	// desynced: nothing applies until the replacement snapshot
	agg, err := m.OnDelta(delta(14, lvl(96, 1)))
	assert.NoError(t, err)
	assert.Nil(t, agg)
	book, _ := m.Book("btcusdt")
	assert.Equal(t, int64(10), book.LastSequenceID())

	s := testSnapshot()
	s.SequenceID = 20
	final := m.OnSnapshot(s)
	assert.True(t, final.Synchronized)
	assert.Equal(t, int64(20), final.LastSequenceID)
}

func TestMaterializer_DrainGapReturnsUnsynchronizedProjection(t *testing.T) {
	resyncs := 0
	m, _ := newTestMaterializer(func() { resyncs++ })

	// 13 cannot chain onto the snapshot's 10 during the drain
	_, _ = m.OnDelta(delta(13, lvl(97, 1)))

	final := m.OnSnapshot(testSnapshot())
	assert.False(t, final.Synchronized)
	assert.Equal(t, 1, resyncs)
}

func TestMaterializer_BuffersPerSymbol(t *testing.T) {
	m, _ := newTestMaterializer(nil)

	ethDelta := &DeltaEvent{
		Symbol:          "ethusdt",
		Venue:           VenueBinance,
		FirstSequenceID: 6,
		FinalSequenceID: 6,
		BidChanges:      []PriceLevel{lvl(200, 1)},
	}
	_, err := m.OnDelta(ethDelta)
	assert.NoError(t, err)

	// the btcusdt snapshot must not consume ethusdt's buffered delta
	m.OnSnapshot(testSnapshot())

	eth := m.OnSnapshot(&SnapshotEvent{
		Symbol:     "ethusdt",
		Venue:      VenueBinance,
		SequenceID: 5,
		Bids:       []PriceLevel{lvl(201, 2)},
		Asks:       []PriceLevel{lvl(202, 2)},
	})
	assert.Equal(t, int64(6), eth.LastSequenceID)
	assert.Contains(t, prices(eth.Bids), 200.0)

	btc, ok := m.Book("btcusdt")
	assert.True(t, ok)
	assert.Equal(t, int64(10), btc.LastSequenceID())
}

func TestMaterializer_OutdatedDeltaDropped(t *testing.T) {
	m, _ := newTestMaterializer(nil)
	m.OnSnapshot(testSnapshot())

	agg, err := m.OnDelta(delta(10, lvl(100, 9)))
	assert.NoError(t, err)
	assert.Nil(t, agg)

	book, _ := m.Book("btcusdt")
	assert.Equal(t, 2.0, book.Aggregated().Bids[0].Quantity)
}

func TestMaterializer_ResetClearsBooksAndStorage(t *testing.T) {
	m, storage := newTestMaterializer(nil)
	m.OnSnapshot(testSnapshot())

	_, err := storage.Get(VenueBinance, "btcusdt")
	assert.NoError(t, err)

	m.Reset()

	_, ok := m.Book("btcusdt")
	assert.False(t, ok)
	_, err = storage.Get(VenueBinance, "btcusdt")
	assert.ErrorIs(t, err, ErrVenueNotFound)

	// back to bootstrap: deltas buffer again
	agg, err := m.OnDelta(delta(11, lvl(98, 5)))
	assert.NoError(t, err)
	assert.Nil(t, agg)
}
