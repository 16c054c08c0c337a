package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloodFill_ReplacesConnectedRegion(t *testing.T) {
	w := newTestWorld(t, 8, fillGen{fill: Stone})
	// carve an L-shaped pocket of air
	pocket := []Position{{1, 1, 1}, {2, 1, 1}, {3, 1, 1}, {3, 2, 1}}
	for _, p := range pocket {
		require.NoError(t, w.SetBlock(p, Empty))
	}
	require.NoError(t, w.SetBlock(Position{6, 6, 6}, Empty))

	filled := w.FloodFill(Position{0, 1, 1}, []Block{Empty}, Water)
	assert.Equal(t, len(pocket), filled)

	for _, p := range pocket {
		got, err := w.GetBlock(p)
		require.NoError(t, err)
		assert.Equal(t, Water, got, "pocket block %v", p)
	}
	isolated, err := w.GetBlock(Position{6, 6, 6})
	require.NoError(t, err)
	assert.Equal(t, Empty, isolated, "disconnected air must not be filled")
}

func TestFloodFill_HeightCappedAt64(t *testing.T) {
	w := newTestWorld(t, 70, nil)
	filled := w.FloodFill(Position{0, 0, 0}, []Block{Empty}, Stone)
	assert.Equal(t, 70*MaxHeight*70, filled)

	above, err := w.GetBlock(Position{0, MaxHeight, 0})
	require.NoError(t, err)
	assert.Equal(t, Empty, above)
}

func TestFloodFill_NothingToFill(t *testing.T) {
	w := newTestWorld(t, 4, fillGen{fill: Stone})
	assert.Zero(t, w.FloodFill(Position{1, 1, 1}, []Block{Water}, Empty))
	assert.Zero(t, w.NumChanges())
}
