package kucoin

import "github.com/quantglass/depthbridge/domain"

// SequenceRule is Kucoin's level2 continuity policy. Updates carry a
// [sequenceStart, sequenceEnd] range; an update applies when its range
// touches the position right after the book's last applied sequence.
type SequenceRule struct{}

func (r *SequenceRule) Validate(d *domain.DeltaEvent, lastSequenceID int64) error {
	if d.FinalSequenceID <= lastSequenceID {
		return domain.ErrDeltaOutdated
	}
	if d.FirstSequenceID <= lastSequenceID+1 {
		return nil
	}
	return domain.ErrSequenceGap
}
