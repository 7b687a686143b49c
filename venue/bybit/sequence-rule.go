package bybit

import "github.com/quantglass/depthbridge/domain"

// SequenceRule is Bybit's v5 orderbook continuity policy: every delta's
// update id must be exactly one past the book's. The stream numbers updates
// densely per topic, so anything further ahead means a missed message.
type SequenceRule struct{}

func (r *SequenceRule) Validate(d *domain.DeltaEvent, lastSequenceID int64) error {
	if d.FinalSequenceID <= lastSequenceID {
		return domain.ErrDeltaOutdated
	}
	if d.FinalSequenceID == lastSequenceID+1 {
		return nil
	}
	return domain.ErrSequenceGap
}
