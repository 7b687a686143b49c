package okx

import "github.com/quantglass/depthbridge/domain"

// SequenceRule is OKX's books-channel continuity policy: each update
// carries prevSeqId, which must equal the sequence id of the previously
// applied message. FirstSequenceID holds prevSeqId for this venue.
type SequenceRule struct{}

func (r *SequenceRule) Validate(d *domain.DeltaEvent, lastSequenceID int64) error {
	if d.FinalSequenceID <= lastSequenceID {
		return domain.ErrDeltaOutdated
	}
	if d.FirstSequenceID == lastSequenceID {
		return nil
	}
	return domain.ErrSequenceGap
}
