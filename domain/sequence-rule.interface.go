package domain

import "errors"

// SequenceRule is a venue's continuity policy for deltas. Validate returns
// nil when the delta chains from lastSequenceID, ErrDeltaOutdated when it is
// stale, and ErrSequenceGap when an update was missed. Binance-style venues
// chain U/u windows, Deribit-style venues chain prev_change_id; the policy
// on violation is always the same: a gap forces a resync.
type SequenceRule interface {
	Validate(delta *DeltaEvent, lastSequenceID int64) error
}

func IsOutdated(err error) bool {
	return errors.Is(err, ErrDeltaOutdated)
}

func IsSequenceGap(err error) bool {
	return errors.Is(err, ErrSequenceGap)
}
