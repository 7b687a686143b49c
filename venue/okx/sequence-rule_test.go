package okx

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quantglass/depthbridge/domain"
)

func d(prev, seq int64) *domain.DeltaEvent {
	return &domain.DeltaEvent{FirstSequenceID: prev, FinalSequenceID: seq}
}

func TestSequenceRule(t *testing.T) {
	rule := &SequenceRule{}

	assert.ErrorIs(t, rule.Validate(d(99, 100), 100), domain.ErrDeltaOutdated)
	assert.NoError(t, rule.Validate(d(100, 104), 100))
	assert.ErrorIs(t, rule.Validate(d(102, 104), 100), domain.ErrSequenceGap)
}
