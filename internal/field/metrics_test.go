package field

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_CoherenceOneWhenPhasesIdentical(t *testing.T) {
	for _, n := range []int{2, 3, 9} {
		f := newTestField(t, n)
		phases := make([]float64, n)
		for i := range phases {
			phases[i] = 1.2345
		}
		require.NoError(t, f.SetPhases(phases))
		assert.InDelta(t, 1.0, f.Metrics().Coherence, 1e-12, "n=%d", n)
	}
}

func TestMetrics_CoherenceNearZeroWhenPhasesOpposed(t *testing.T) {
	f := newTestField(t, 2)
	require.NoError(t, f.SetPhases([]float64{0, math.Pi}))
	assert.InDelta(t, 0.0, f.Metrics().Coherence, 1e-12)
}

func TestMetrics_TurbulenceZeroWithoutEdges(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Agents = 3
	adj := make([][]bool, 3)
	for i := range adj {
		adj[i] = make([]bool, 3)
	}
	f, err := NewWithAdjacency(cfg, adj)
	require.NoError(t, err)
	require.Equal(t, 0, f.EdgeCount())

	m := f.Metrics()
	assert.Zero(t, m.Turbulence)
	assert.Zero(t, m.Kohanist)
}

func TestMetrics_KohanistHighWhenAlignedComparableReciprocal(t *testing.T) {
	f := newTestField(t, 4)
	require.NoError(t, f.SetPhases([]float64{0.5, 0.5, 0.5, 0.5}))
	require.NoError(t, f.SetIntent([]float64{0.8, 0.8, 0.8, 0.8}))
	require.NoError(t, f.SetLove([]float64{0.9, 0.9, 0.9, 0.9}))
	assert.InDelta(t, 1.0, f.Metrics().Kohanist, 1e-9)
}

func TestMetrics_KohanistZeroWhenAnyFactorMissing(t *testing.T) {
	// Opposed phases kill the alignment factor regardless of intent/love.
	f := newTestField(t, 2)
	require.NoError(t, f.SetPhases([]float64{0, math.Pi}))
	require.NoError(t, f.SetIntent([]float64{1, 1}))
	require.NoError(t, f.SetLove([]float64{1, 1}))
	assert.InDelta(t, 0.0, f.Metrics().Kohanist, 1e-9)

	// Zero love on one side kills reciprocity even with perfect alignment.
	require.NoError(t, f.SetPhases([]float64{1, 1}))
	require.NoError(t, f.SetLove([]float64{1, 0}))
	assert.InDelta(t, 0.0, f.Metrics().Kohanist, 1e-9)
}

func TestRatioOf(t *testing.T) {
	cases := []struct {
		a, b, want float64
	}{
		{1, 1, 1},
		{-2, 2, 1},
		{1, 2, 0.5},
		{0, 5, 0},
		{0, 0, 0},
	}
	for _, tc := range cases {
		assert.InDelta(t, tc.want, ratioOf(tc.a, tc.b), 1e-9, "a=%v b=%v", tc.a, tc.b)
	}
}

func TestMetrics_PureNoSideEffects(t *testing.T) {
	f := newTestField(t, 5)
	require.NoError(t, f.SetIntent([]float64{1, 2, 3, 4, 5}))
	before := f.ExportSnapshot()
	_ = f.Metrics()
	_ = f.Metrics()
	assert.Equal(t, before, f.ExportSnapshot())
}
