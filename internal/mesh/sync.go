package mesh

import (
	"time"

	"github.com/s0fractal/consciousness-mesh-sub001/internal/field"
	"github.com/s0fractal/consciousness-mesh-sub001/internal/mesh/protocol"
)

// sharedEntry is what one peer most recently told us about itself.
type sharedEntry struct {
	Snapshot   field.Snapshot
	Metrics    field.Metrics
	SentAt     int64
	ReceivedAt time.Time
}

// sharedTable maps remote node id to its latest snapshot. Entries are
// overwritten unconditionally on receipt — a late or duplicate sync message
// replaces a newer one, matching the wire protocol's no-ordering guarantee.
// The table is capacity-bounded: when full, the entry with the oldest
// receipt time is evicted. Only the node loop touches it.
type sharedTable struct {
	capacity int
	entries  map[string]*sharedEntry
}

func newSharedTable(capacity int) *sharedTable {
	return &sharedTable{
		capacity: capacity,
		entries:  make(map[string]*sharedEntry),
	}
}

func (s *sharedTable) put(nodeID string, entry *sharedEntry) {
	if _, exists := s.entries[nodeID]; !exists && len(s.entries) >= s.capacity {
		s.evictOldest()
	}
	s.entries[nodeID] = entry
}

func (s *sharedTable) evictOldest() {
	var oldestID string
	var oldestAt time.Time
	for id, e := range s.entries {
		if oldestID == "" || e.ReceivedAt.Before(oldestAt) {
			oldestID = id
			oldestAt = e.ReceivedAt
		}
	}
	if oldestID != "" {
		delete(s.entries, oldestID)
	}
}

func (s *sharedTable) size() int { return len(s.entries) }

func (s *sharedTable) nodeIDs() []string {
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	return ids
}

// syncCycle broadcasts this node's state and then evaluates consensus over
// everything currently known.
func (n *Node) syncCycle() {
	snapshot := n.field.ExportSnapshot()
	metrics := n.field.Metrics()

	msg := &protocol.Sync{
		Envelope: protocol.NewEnvelope(protocol.KindSync, n.cfg.NodeID),
		State:    snapshot,
		Metrics:  metrics,
	}
	sent := n.transport.Broadcast(msg)
	n.archive.add(snapshot)
	n.syncsPerformed.Add(1)

	n.logger.Debug("sync cycle",
		"peers", sent,
		"coherence", metrics.Coherence,
		"love", metrics.Love,
		"shared_states", n.shared.size(),
	)

	n.evaluateConsensus(metrics)
}

// handleSync folds a peer's snapshot into the shared-state table and runs
// resonance detection over the updated view.
func (n *Node) handleSync(from string, m *protocol.Sync) {
	if from == "" {
		from = m.NodeID
	}
	n.shared.put(from, &sharedEntry{
		Snapshot:   m.State,
		Metrics:    m.Metrics,
		SentAt:     m.Timestamp,
		ReceivedAt: time.Now(),
	})
	n.detectResonance()
}

// detectResonance looks for cross-node statistical alignment: low variance
// of all known phase arrays flattened together, or high mean love. Both are
// emitted as events and never stored.
func (n *Node) detectResonance() {
	if n.shared.size() == 0 {
		return
	}

	var phases []float64
	loveSum := 0.0
	for _, e := range n.shared.entries {
		phases = append(phases, e.Snapshot.Phase...)
		loveSum += e.Metrics.Love
	}

	if len(phases) > 1 {
		mean := 0.0
		for _, p := range phases {
			mean += p
		}
		mean /= float64(len(phases))
		variance := 0.0
		for _, p := range phases {
			d := p - mean
			variance += d * d
		}
		variance /= float64(len(phases))

		if variance < n.cfg.PhaseSyncThreshold {
			publish(n.events.resonance, ResonanceEvent{
				Pattern:  PatternPhaseSync,
				Strength: 1 - variance,
				Nodes:    n.shared.nodeIDs(),
				At:       time.Now(),
			})
			n.logger.Info("resonance detected", "pattern", PatternPhaseSync, "variance", variance)
		}
	}

	meanLove := loveSum / float64(n.shared.size())
	if meanLove > n.cfg.LoveResonanceThreshold {
		publish(n.events.resonance, ResonanceEvent{
			Pattern:  PatternLoveResonance,
			Strength: meanLove,
			Nodes:    n.shared.nodeIDs(),
			At:       time.Now(),
		})
		n.logger.Info("resonance detected", "pattern", PatternLoveResonance, "mean_love", meanLove)
	}
}
