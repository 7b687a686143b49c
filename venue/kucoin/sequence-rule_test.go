package kucoin

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quantglass/depthbridge/domain"
)

func d(start, end int64) *domain.DeltaEvent {
	return &domain.DeltaEvent{FirstSequenceID: start, FinalSequenceID: end}
}

func TestSequenceRule(t *testing.T) {
	rule := &SequenceRule{}

	assert.ErrorIs(t, rule.Validate(d(95, 100), 100), domain.ErrDeltaOutdated)
	assert.NoError(t, rule.Validate(d(101, 105), 100))
	// range straddling the book position is still applicable
	assert.NoError(t, rule.Validate(d(98, 103), 100))
	assert.ErrorIs(t, rule.Validate(d(103, 105), 100), domain.ErrSequenceGap)
}
