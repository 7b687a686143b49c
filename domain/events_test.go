package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevels(t *testing.T) {
	levels, err := ParseLevels([][]string{
		{"26500.10", "0.5"},
		{"26499.00", "0"},
	}, VenueBinance, 1000)
	require.NoError(t, err)

	require.Len(t, levels, 2)
	assert.Equal(t, 26500.10, levels[0].Price)
	assert.Equal(t, 0.5, levels[0].Quantity)
	assert.Equal(t, 0.0, levels[1].Quantity)
	assert.Equal(t, int64(1000), levels[0].Timestamp)
	assert.Equal(t, VenueBinance, levels[0].Venue)
}

func TestParseLevels_ExtraTupleElements(t *testing.T) {
	// kucoin appends a sequence, okx appends order counts
	levels, err := ParseLevels([][]string{{"26500.1", "2", "0", "1"}}, VenueOKX, 1)
	require.NoError(t, err)
	require.Len(t, levels, 1)
	assert.Equal(t, 2.0, levels[0].Quantity)
}

func TestParseLevels_Malformed(t *testing.T) {
	_, err := ParseLevels([][]string{{"26500.1"}}, VenueBinance, 1)
	assert.Error(t, err)

	_, err = ParseLevels([][]string{{"x", "1"}}, VenueBinance, 1)
	assert.Error(t, err)

	_, err = ParseLevels([][]string{{"1", "y"}}, VenueBinance, 1)
	assert.Error(t, err)
}
