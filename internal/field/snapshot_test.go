package field

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_RoundTripOnFreshInstance(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Agents = 8
	src, err := New(cfg)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(99))
	intent := make([]float64, 8)
	love := make([]float64, 8)
	phase := make([]float64, 8)
	for i := range intent {
		intent[i] = rng.NormFloat64()
		love[i] = rng.Float64()
		phase[i] = rng.Float64() * twoPi
	}
	require.NoError(t, src.SetIntent(intent))
	require.NoError(t, src.SetLove(love))
	require.NoError(t, src.SetPhases(phase))
	for i := 0; i < 25; i++ {
		src.Step(0)
	}

	exported := src.ExportSnapshot()

	dst, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, dst.ImportSnapshot(exported))
	restored := dst.ExportSnapshot()

	requireArraysClose(t, exported.Intent, restored.Intent)
	requireArraysClose(t, exported.Potential, restored.Potential)
	requireArraysClose(t, exported.Love, restored.Love)
	requireArraysClose(t, exported.Phase, restored.Phase)
	requireArraysClose(t, exported.NaturalFrequency, restored.NaturalFrequency)
	requireArraysClose(t, exported.Source, restored.Source)
	requireArraysClose(t, exported.EdgeCoherence, restored.EdgeCoherence)
	assert.Equal(t, exported.Config, restored.Config)
}

func TestSnapshot_RoundTripThroughJSON(t *testing.T) {
	f := newTestField(t, 5)
	require.NoError(t, f.SetIntent([]float64{0.1, -0.2, 0.3, 0, 1.5}))
	f.Step(0)

	raw, err := json.Marshal(f.ExportSnapshot())
	require.NoError(t, err)
	var decoded Snapshot
	require.NoError(t, json.Unmarshal(raw, &decoded))

	dst := newTestField(t, 5)
	require.NoError(t, dst.ImportSnapshot(decoded))
	requireArraysClose(t, f.ExportSnapshot().Intent, dst.ExportSnapshot().Intent)
}

func TestSnapshot_ImportRejectsMismatchedShape(t *testing.T) {
	small := newTestField(t, 3)
	big := newTestField(t, 6)

	err := big.ImportSnapshot(small.ExportSnapshot())
	assert.ErrorContains(t, err, "agents")

	s := big.ExportSnapshot()
	s.EdgeCoherence = s.EdgeCoherence[:2]
	err = big.ImportSnapshot(s)
	assert.ErrorContains(t, err, "edge coherence")

	s = big.ExportSnapshot()
	s.Love = s.Love[:4]
	err = big.ImportSnapshot(s)
	assert.ErrorContains(t, err, "love")
}

func TestSnapshot_ExportIsDeepCopy(t *testing.T) {
	f := newTestField(t, 4)
	s := f.ExportSnapshot()
	s.Intent[0] = 1234
	assert.Zero(t, f.ExportSnapshot().Intent[0])
}

func requireArraysClose(t *testing.T, want, got []float64) {
	t.Helper()
	require.Equal(t, len(want), len(got))
	for i := range want {
		require.InDelta(t, want[i], got[i], 1e-9, "index %d", i)
	}
}
