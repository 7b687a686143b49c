package metrics

import (
	"math"

	"github.com/quantglass/depthbridge/domain"
)

// OrderbookMetrics is the derived per-book analytics snapshot computed
// after every accepted event.
type OrderbookMetrics struct {
	Symbol           string         `json:"symbol"`
	Venue            domain.VenueID `json:"venue"`
	Timestamp        int64          `json:"timestamp"`
	BestBid          float64        `json:"bestBid"`
	BestAsk          float64        `json:"bestAsk"`
	Spread           float64        `json:"spread"`
	SpreadPercentage float64        `json:"spreadPercentage"`
	MidPrice         float64        `json:"midPrice"`
	WeightedMidPrice float64        `json:"weightedMidPrice"`
	BidDepth         float64        `json:"bidDepth"`
	AskDepth         float64        `json:"askDepth"`
	Imbalance        float64        `json:"imbalance"`
}

// depthBand is the fraction of the best price that still counts toward
// near-touch depth.
const depthBand = 0.01

// Calculate derives the metrics for one aggregated book. A book with an
// empty side yields zero-valued price metrics rather than NaN or Inf.
func Calculate(book *domain.AggregatedOrderbook) *OrderbookMetrics {
	m := &OrderbookMetrics{
		Symbol:    book.Symbol,
		Venue:     book.Venue,
		Timestamp: book.Timestamp,
	}

	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return m
	}

	m.BestBid = book.Bids[0].Price
	m.BestAsk = book.Asks[0].Price
	m.Spread = m.BestAsk - m.BestBid
	m.MidPrice = (m.BestBid + m.BestAsk) / 2
	if m.MidPrice != 0 {
		m.SpreadPercentage = m.Spread / m.MidPrice * 100
	}

	for _, lvl := range book.Bids {
		if lvl.Price < m.BestBid*(1-depthBand) {
			break
		}
		m.BidDepth += lvl.Quantity
	}
	for _, lvl := range book.Asks {
		if lvl.Price > m.BestAsk*(1+depthBand) {
			break
		}
		m.AskDepth += lvl.Quantity
	}

	askVolume := book.TotalAskVolume
	if askVolume == 0 {
		askVolume = 1
	}
	m.Imbalance = book.TotalBidVolume / askVolume

	bidVolume := book.TotalBidVolume
	weighted := (m.BestBid*book.TotalAskVolume + m.BestAsk*bidVolume) / (bidVolume + book.TotalAskVolume)
	if math.IsNaN(weighted) {
		weighted = m.MidPrice
	}
	m.WeightedMidPrice = weighted

	return m
}
