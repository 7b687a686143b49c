package deribit

import "github.com/quantglass/depthbridge/domain"

// SequenceRule is Deribit's book-channel continuity policy: every change
// notification names its predecessor via prev_change_id, which must equal
// the book's last applied change_id. FirstSequenceID holds prev_change_id
// for this venue.
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
