package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func lvl(price, qty float64) PriceLevel {
	return PriceLevel{Price: price, Quantity: qty, Venue: VenueBinance}
}

func testSnapshot() *SnapshotEvent {
	return &SnapshotEvent{
		Symbol:     "btcusdt",
		Venue:      VenueBinance,
		Timestamp:  1000,
		SequenceID: 10,
		Bids:       []PriceLevel{lvl(100, 2), lvl(99, 1)},
		Asks:       []PriceLevel{lvl(101, 3), lvl(102, 1)},
	}
}

func TestMaterializedBook_ApplySnapshot(t *testing.T) {
	book := NewMaterializedBook(VenueBinance, "btcusdt")
	agg := book.ApplySnapshot(testSnapshot())

	assert.Equal(t, int64(10), agg.LastSequenceID)
	assert.True(t, agg.Synchronized)
	assert.Equal(t, 100.0, agg.Bids[0].Price)
	assert.Equal(t, 99.0, agg.Bids[1].Price)
	assert.Equal(t, 101.0, agg.Asks[0].Price)
	assert.Equal(t, 102.0, agg.Asks[1].Price)
	assert.Equal(t, 3.0, agg.TotalBidVolume)
	assert.Equal(t, 4.0, agg.TotalAskVolume)
	assert.Equal(t, 1.0, agg.Spread)
	assert.Equal(t, 100.5, agg.MidPrice)
}

func TestMaterializedBook_ApplyDelta(t *testing.T) {
	book := NewMaterializedBook(VenueBinance, "btcusdt")
	book.ApplySnapshot(testSnapshot())

	// zero the best bid and introduce a new level below
	agg, err := book.ApplyDelta(&DeltaEvent{
		Symbol:          "btcusdt",
		Timestamp:       1001,
		FirstSequenceID: 11,
		FinalSequenceID: 11,
		BidChanges:      []PriceLevel{lvl(100, 0), lvl(98, 5)},
	})
	assert.NoError(t, err)

	assert.Equal(t, int64(11), agg.LastSequenceID)
	assert.Equal(t, []float64{99, 98}, prices(agg.Bids))
	assert.Equal(t, []float64{101, 102}, prices(agg.Asks))
	assert.Equal(t, 2.0, agg.Spread)
	assert.Equal(t, 100.0, agg.MidPrice)
}

func TestMaterializedBook_OutdatedDeltaIsNoop(t *testing.T) {
	book := NewMaterializedBook(VenueBinance, "btcusdt")
	book.ApplySnapshot(testSnapshot())

	_, err := book.ApplyDelta(&DeltaEvent{
		FirstSequenceID: 10,
		FinalSequenceID: 10,
		BidChanges:      []PriceLevel{lvl(100, 99)},
	})
	assert.ErrorIs(t, err, ErrDeltaOutdated)
	assert.Equal(t, 2.0, book.Aggregated().Bids[0].Quantity)
	assert.Equal(t, int64(10), book.LastSequenceID())
}

func TestMaterializedBook_PriceUniqueness(t *testing.T) {
	book := NewMaterializedBook(VenueBinance, "btcusdt")
	book.ApplySnapshot(testSnapshot())

	// two deltas touching the same price must replace, never duplicate
	_, err := book.ApplyDelta(&DeltaEvent{
		FinalSequenceID: 11,
		BidChanges:      []PriceLevel{lvl(100, 7)},
	})
	assert.NoError(t, err)
	_, err = book.ApplyDelta(&DeltaEvent{
		FinalSequenceID: 12,
		BidChanges:      []PriceLevel{lvl(100, 4)},
	})
	assert.NoError(t, err)

	agg := book.Aggregated()
	assert.Len(t, agg.Bids, 2)
	assert.Equal(t, 4.0, agg.Bids[0].Quantity)
}

func TestMaterializedBook_Desync(t *testing.T) {
	book := NewMaterializedBook(VenueBinance, "btcusdt")
	book.ApplySnapshot(testSnapshot())

	book.Desync()

	assert.False(t, book.Synchronized())
	agg := book.Aggregated()
	assert.False(t, agg.Synchronized)
	// the stale projection stays readable
	assert.Equal(t, 100.0, agg.Bids[0].Price)

	// a fresh snapshot restores trust
	s := testSnapshot()
	s.SequenceID = 20
	book.ApplySnapshot(s)
	assert.True(t, book.Aggregated().Synchronized)
	assert.Equal(t, int64(20), book.LastSequenceID())
}

func TestMaterializedBook_EmptySide(t *testing.T) {
	book := NewMaterializedBook(VenueBinance, "btcusdt")
	agg := book.ApplySnapshot(&SnapshotEvent{
		Symbol:     "btcusdt",
		SequenceID: 1,
		Bids:       []PriceLevel{lvl(100, 2)},
	})

	assert.Equal(t, 0.0, agg.Spread)
	assert.Equal(t, 0.0, agg.MidPrice)
	assert.Empty(t, agg.Asks)
}

func prices(levels []PriceLevel) []float64 {
	out := make([]float64, len(levels))
	for i, l := range levels {
		out[i] = l.Price
	}
	return out
}
