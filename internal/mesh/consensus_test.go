package mesh

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s0fractal/consciousness-mesh-sub001/internal/field"
	"github.com/s0fractal/consciousness-mesh-sub001/internal/mesh/protocol"
)

func tableWith(t *testing.T, metrics ...field.Metrics) *sharedTable {
	t.Helper()
	table := newSharedTable(len(metrics) + 4)
	for i, m := range metrics {
		table.put(fmt.Sprintf("peer-%d", i), &sharedEntry{
			Metrics:    m,
			ReceivedAt: time.Now(),
		})
	}
	return table
}

func TestConsensus_FiresWhenClusterAgrees(t *testing.T) {
	d := newConsensusDetector(0.66, 0.3)
	local := field.Metrics{Coherence: 0.5, Turbulence: 0.1, Love: 0.5}
	table := tableWith(t, local, local)

	state := d.evaluate(local, table)
	require.NotNil(t, state)
	assert.Equal(t, 3, state.Agreeing)
	assert.Equal(t, 3, state.Total)
	assert.InDelta(t, 0.5, state.Metrics.Coherence, 1e-12)
	assert.InDelta(t, 0.5, state.Metrics.Love, 1e-12)
	assert.False(t, state.ReachedAt.IsZero())
}

func TestConsensus_NeedsAtLeastTwoSharedEntries(t *testing.T) {
	d := newConsensusDetector(0.66, 0.3)
	local := field.Metrics{Coherence: 0.5, Turbulence: 0.1, Love: 0.5}

	assert.Nil(t, d.evaluate(local, tableWith(t)))
	assert.Nil(t, d.evaluate(local, tableWith(t, local)))
	assert.NotNil(t, d.evaluate(local, tableWith(t, local, local)))
}

func TestConsensus_SameMeanDoesNotRefire(t *testing.T) {
	d := newConsensusDetector(0.66, 0.3)
	local := field.Metrics{Coherence: 0.5, Turbulence: 0.1, Love: 0.5}
	table := tableWith(t, local, local)

	require.NotNil(t, d.evaluate(local, table))
	assert.Nil(t, d.evaluate(local, table))

	// Any change in the mean, however small, counts as a new consensus.
	shifted := local
	shifted.Love += 0.001
	state := d.evaluate(shifted, table)
	require.NotNil(t, state)
	assert.Equal(t, uint64(2), d.eventsFired)
}

func TestConsensus_OutlierDragsMeanPastEveryone(t *testing.T) {
	d := newConsensusDetector(0.66, 0.3)
	local := field.Metrics{Coherence: 0.5, Turbulence: 0.1, Love: 0.5}
	outlier := field.Metrics{Coherence: 5, Turbulence: 5, Love: 5}
	table := tableWith(t, local, outlier)

	// The mean lands between the cluster and the outlier, so nothing is
	// within epsilon and no consensus forms.
	assert.Nil(t, d.evaluate(local, table))
}

func TestConsensus_PartialAgreementAboveThreshold(t *testing.T) {
	d := newConsensusDetector(0.66, 0.3)
	member := field.Metrics{Coherence: 0.5, Turbulence: 0.5, Love: 0.5}
	stray := field.Metrics{Coherence: 0.8, Turbulence: 0.8, Love: 0.8}
	table := tableWith(t, member, member, stray)

	state := d.evaluate(member, table)
	require.NotNil(t, state)
	assert.Equal(t, 3, state.Agreeing)
	assert.Equal(t, 4, state.Total)
}

func TestConsensus_SupportRequiresExactMatch(t *testing.T) {
	d := newConsensusDetector(0.66, 0.3)
	local := field.Metrics{Coherence: 0.5, Turbulence: 0.1, Love: 0.5}
	state := d.evaluate(local, tableWith(t, local, local))
	require.NotNil(t, state)

	match := protocol.Proposal{Metrics: state.Metrics}
	assert.True(t, d.support("node-b", match))
	assert.True(t, d.support("node-b", match))
	assert.Equal(t, []string{"node-b"}, d.current.Supporters)

	off := match
	off.Metrics.Love += 1e-9
	assert.False(t, d.support("node-c", off))
}

func TestConsensus_SupportWithoutCurrentState(t *testing.T) {
	d := newConsensusDetector(0.66, 0.3)
	assert.False(t, d.support("node-b", protocol.Proposal{}))
}

func TestSerializeMetrics_Stable(t *testing.T) {
	m := field.Metrics{Coherence: 0.25, Turbulence: 0.5, Love: 0.75}
	assert.Equal(t, serializeMetrics(m), serializeMetrics(m))
	assert.NotEqual(t, serializeMetrics(m), serializeMetrics(field.Metrics{Coherence: 0.25, Turbulence: 0.5, Love: 0.7500001}))
}
