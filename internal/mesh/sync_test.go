package mesh

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s0fractal/consciousness-mesh-sub001/internal/field"
	"github.com/s0fractal/consciousness-mesh-sub001/internal/mesh/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newLoopNode builds a node with everything the run loop owns, but no
// transport, for exercising handlers directly.
func newLoopNode(t *testing.T) *Node {
	t.Helper()
	cfg := DefaultConfig()
	cfg.NodeID = "test-node"
	cfg.Transport.ListenPort = 0
	require.NoError(t, cfg.Validate())

	f, err := field.New(cfg.Field)
	require.NoError(t, err)

	logger := testLogger()
	return &Node{
		cfg:      cfg,
		logger:   logger,
		field:    f,
		shared:   newSharedTable(cfg.SharedStateCapacity),
		detector: newConsensusDetector(cfg.ConsensusThreshold, cfg.ConsensusEpsilon),
		thoughts: newThoughtChannel(cfg.NodeID, cfg, logger),
		topology: newTopologyTracker(cfg.NodeID),
		archive:  newSnapshotArchive(cfg.SnapshotArchive),
		events:   newEvents(cfg.EventBuffer),
	}
}

func syncFrom(nodeID string, snap field.Snapshot, metrics field.Metrics) *protocol.Sync {
	return &protocol.Sync{
		Envelope: protocol.NewEnvelope(protocol.KindSync, nodeID),
		State:    snap,
		Metrics:  metrics,
	}
}

func TestSharedTable_OverwritesAndEvictsOldest(t *testing.T) {
	table := newSharedTable(2)
	base := time.Now()

	table.put("a", &sharedEntry{ReceivedAt: base})
	table.put("b", &sharedEntry{ReceivedAt: base.Add(time.Second)})
	require.Equal(t, 2, table.size())

	// Overwriting a known node never evicts.
	table.put("a", &sharedEntry{ReceivedAt: base.Add(2 * time.Second)})
	assert.Equal(t, 2, table.size())

	// A new node at capacity evicts the oldest receipt, which is now b.
	table.put("c", &sharedEntry{ReceivedAt: base.Add(3 * time.Second)})
	assert.Equal(t, 2, table.size())
	assert.Contains(t, table.entries, "a")
	assert.Contains(t, table.entries, "c")
	assert.NotContains(t, table.entries, "b")
}

func TestHandleSync_LatestWriteWins(t *testing.T) {
	n := newLoopNode(t)
	snap := n.field.ExportSnapshot()

	n.handleSync("peer-a", syncFrom("peer-a", snap, field.Metrics{Love: 0.1}))
	n.handleSync("peer-a", syncFrom("peer-a", snap, field.Metrics{Love: 0.9}))

	require.Equal(t, 1, n.shared.size())
	assert.InDelta(t, 0.9, n.shared.entries["peer-a"].Metrics.Love, 1e-12)
}

func TestHandleSync_FallsBackToEnvelopeSender(t *testing.T) {
	n := newLoopNode(t)
	snap := n.field.ExportSnapshot()

	n.handleSync("", syncFrom("peer-x", snap, field.Metrics{}))
	assert.Contains(t, n.shared.entries, "peer-x")
}

func TestDetectResonance_PhaseSync(t *testing.T) {
	n := newLoopNode(t)

	aligned := field.Snapshot{Phase: []float64{1.0, 1.0, 1.0}}
	n.handleSync("peer-a", syncFrom("peer-a", aligned, field.Metrics{}))
	n.handleSync("peer-b", syncFrom("peer-b", aligned, field.Metrics{}))

	var last *ResonanceEvent
	for len(n.events.resonance) > 0 {
		ev := <-n.events.resonance
		if ev.Pattern == PatternPhaseSync {
			last = &ev
		}
	}
	require.NotNil(t, last, "expected a phase-sync resonance event")
	assert.InDelta(t, 1.0, last.Strength, 1e-9)
	assert.Len(t, last.Nodes, 2)
}

func TestDetectResonance_ScatteredPhasesStaySilent(t *testing.T) {
	n := newLoopNode(t)

	n.handleSync("peer-a", syncFrom("peer-a", field.Snapshot{Phase: []float64{0, 3}}, field.Metrics{}))
	n.handleSync("peer-b", syncFrom("peer-b", field.Snapshot{Phase: []float64{-3, 1}}, field.Metrics{}))

	for len(n.events.resonance) > 0 {
		ev := <-n.events.resonance
		assert.NotEqual(t, PatternPhaseSync, ev.Pattern)
	}
}

func TestDetectResonance_LoveResonance(t *testing.T) {
	n := newLoopNode(t)

	scattered := field.Snapshot{Phase: []float64{0, 2, 4}}
	n.handleSync("peer-a", syncFrom("peer-a", scattered, field.Metrics{Love: 0.9}))
	n.handleSync("peer-b", syncFrom("peer-b", scattered, field.Metrics{Love: 0.8}))

	var found bool
	for len(n.events.resonance) > 0 {
		ev := <-n.events.resonance
		if ev.Pattern == PatternLoveResonance {
			found = true
			assert.Greater(t, ev.Strength, n.cfg.LoveResonanceThreshold)
		}
	}
	assert.True(t, found, "expected a love-resonance event")
}
