package binance

import "github.com/quantglass/depthbridge/domain"

// SequenceRule is Binance's diff-stream continuity policy:
//   - drop any event whose u is <= the book's last update id;
//   - the first event after a snapshot must straddle it,
//     U <= lastUpdateId+1 <= u;
//   - afterwards each event's U must equal the previous event's u+1, which
//     the straddle check also enforces.
type SequenceRule struct{}

func (r *SequenceRule) Validate(d *domain.DeltaEvent, lastSequenceID int64) error {
	if d.FinalSequenceID <= lastSequenceID {
		return domain.ErrDeltaOutdated
	}
	if d.FirstSequenceID <= lastSequenceID+1 && d.FinalSequenceID >= lastSequenceID+1 {
		return nil
	}
	return domain.ErrSequenceGap
}

// SnapshotStreamRule covers the partial depth stream, which never emits
// deltas. Any delta on that stream is a protocol violation treated as a gap.
type SnapshotStreamRule struct{}

func (r *SnapshotStreamRule) Validate(d *domain.DeltaEvent, lastSequenceID int64) error {
	if d.FinalSequenceID <= lastSequenceID {
		return domain.ErrDeltaOutdated
	}
	return domain.ErrSequenceGap
}
