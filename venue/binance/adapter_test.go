package binance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantglass/depthbridge/domain"
)

func TestHandleDepthUpdate(t *testing.T) {
	a := NewAdapter(Options{})

	a.onMessage([]byte(`{
		"e": "depthUpdate",
		"E": 1700000000000,
		"s": "BTCUSDT",
		"U": 157,
		"u": 160,
		"b": [["26500.10", "0.5"], ["26499.00", "0"]],
		"a": [["26501.00", "1.2"]]
	}`))

	ev := <-a.Events()
	delta, ok := ev.(*domain.DeltaEvent)
	require.True(t, ok)

	assert.Equal(t, "btcusdt", delta.Symbol)
	assert.Equal(t, domain.VenueBinance, delta.Venue)
	assert.Equal(t, int64(157), delta.FirstSequenceID)
	assert.Equal(t, int64(160), delta.FinalSequenceID)
	require.Len(t, delta.BidChanges, 2)
	assert.Equal(t, 26500.10, delta.BidChanges[0].Price)
	assert.Equal(t, 0.5, delta.BidChanges[0].Quantity)
	assert.Equal(t, 0.0, delta.BidChanges[1].Quantity)
	require.Len(t, delta.AskChanges, 1)
}

func TestHandleDepthUpdate_IgnoresNonDepthEvents(t *testing.T) {
	a := NewAdapter(Options{})

	a.onMessage([]byte(`{"result": null, "id": 1}`))

	select {
	case ev := <-a.Events():
		t.Fatalf("unexpected event: %#v", ev)
	default:
	}
}

func TestHandleDepthUpdate_MalformedLevels(t *testing.T) {
	a := NewAdapter(Options{})

	a.onMessage([]byte(`{
		"e": "depthUpdate", "E": 1, "s": "BTCUSDT", "U": 1, "u": 2,
		"b": [["not-a-number", "0.5"]], "a": []
	}`))

	ev := <-a.Events()
	errEv, ok := ev.(*domain.ErrorEvent)
	require.True(t, ok)

	var parseErr *domain.ProtocolParseError
	assert.ErrorAs(t, errEv.Err, &parseErr)
}

func TestHandlePartialSnapshot(t *testing.T) {
	a := NewAdapter(Options{SnapshotOnly: true})
	symbol, err := domain.NewMarketSymbol("btc", "usdt")
	require.NoError(t, err)
	a.symbol = symbol

	a.onMessage([]byte(`{
		"lastUpdateId": 160,
		"bids": [["26500.10", "0.5"]],
		"asks": [["26501.00", "1.2"]]
	}`))

	ev := <-a.Events()
	snap, ok := ev.(*domain.SnapshotEvent)
	require.True(t, ok)

	assert.Equal(t, "btcusdt", snap.Symbol)
	assert.Equal(t, int64(160), snap.SequenceID)
	require.Len(t, snap.Bids, 1)
	require.Len(t, snap.Asks, 1)
}
