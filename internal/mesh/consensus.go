package mesh

import (
	"encoding/json"
	"math"
	"time"

	"github.com/s0fractal/consciousness-mesh-sub001/internal/field"
	"github.com/s0fractal/consciousness-mesh-sub001/internal/mesh/protocol"
	"github.com/s0fractal/consciousness-mesh-sub001/internal/recognition"
)

// ConsensusState is the approximate agreement last reached by the mesh. It
// is replaced wholesale on every new consensus, never merged.
type ConsensusState struct {
	Metrics    field.Metrics `json:"metrics"`
	Agreeing   int           `json:"agreeing"`
	Total      int           `json:"total"`
	Supporters []string      `json:"supporters"`
	ReachedAt  time.Time     `json:"reachedAt"`
}

// consensusDetector aggregates local and peer metrics into an agreement
// ratio against a threshold. Change detection compares the serialized mean
// for exact equality: float-noise-level changes re-fire consensus, matching
// the source behavior (see DESIGN.md).
type consensusDetector struct {
	threshold float64
	epsilon   float64

	current        *ConsensusState
	currentSerial  string
	eventsFired    uint64
	lastEvaluation time.Time
}

func newConsensusDetector(threshold, epsilon float64) *consensusDetector {
	return &consensusDetector{threshold: threshold, epsilon: epsilon}
}

// evaluate runs the agreement procedure over local metrics plus every
// shared-state entry. It returns the new state when consensus fired, nil
// otherwise. It requires at least two shared entries; with fewer there is
// no mesh to agree with.
func (d *consensusDetector) evaluate(local field.Metrics, table *sharedTable) *ConsensusState {
	d.lastEvaluation = time.Now()
	if table.size() < 2 {
		return nil
	}

	members := make([]field.Metrics, 0, table.size()+1)
	members = append(members, local)
	for _, e := range table.entries {
		members = append(members, e.Metrics)
	}

	var mean field.Metrics
	for _, m := range members {
		mean.Coherence += m.Coherence
		mean.Turbulence += m.Turbulence
		mean.Love += m.Love
	}
	total := float64(len(members))
	mean.Coherence /= total
	mean.Turbulence /= total
	mean.Love /= total

	agreeing := 0
	for _, m := range members {
		distance := math.Abs(m.Coherence-mean.Coherence) +
			math.Abs(m.Turbulence-mean.Turbulence) +
			math.Abs(m.Love-mean.Love)
		if distance < d.epsilon {
			agreeing++
		}
	}

	ratio := float64(agreeing) / total
	if ratio < d.threshold {
		return nil
	}

	serial := serializeMetrics(mean)
	if serial == d.currentSerial {
		return nil
	}

	state := &ConsensusState{
		Metrics:   mean,
		Agreeing:  agreeing,
		Total:     len(members),
		ReachedAt: time.Now(),
	}
	d.current = state
	d.currentSerial = serial
	d.eventsFired++
	return state
}

// support appends a proposer to the current consensus when its proposal
// matches the stored mean exactly.
func (d *consensusDetector) support(proposer string, proposal protocol.Proposal) bool {
	if d.current == nil || serializeMetrics(proposal.Metrics) != d.currentSerial {
		return false
	}
	for _, s := range d.current.Supporters {
		if s == proposer {
			return true
		}
	}
	d.current.Supporters = append(d.current.Supporters, proposer)
	return true
}

func serializeMetrics(m field.Metrics) string {
	raw, _ := json.Marshal(struct {
		H float64 `json:"h"`
		T float64 `json:"t"`
		L float64 `json:"l"`
	}{m.Coherence, m.Turbulence, m.Love})
	return string(raw)
}

// evaluateConsensus runs the detector at the end of a sync cycle and, on a
// new consensus, emits the event and proposes it to the mesh.
func (n *Node) evaluateConsensus(local field.Metrics) {
	state := n.detector.evaluate(local, n.shared)
	if state == nil {
		return
	}
	n.consensusFired.Add(1)

	ratio := float64(state.Agreeing) / float64(state.Total)
	publish(n.events.consensus, ConsensusEvent{
		Metrics:  state.Metrics,
		Agreeing: state.Agreeing,
		Total:    state.Total,
		Ratio:    ratio,
		At:       state.ReachedAt,
	})
	n.logger.Info("consensus reached",
		"agreeing", state.Agreeing,
		"total", state.Total,
		"coherence", state.Metrics.Coherence,
		"love", state.Metrics.Love,
	)

	n.transport.Broadcast(&protocol.ConsensusProposal{
		Envelope: protocol.NewEnvelope(protocol.KindProposal, n.cfg.NodeID),
		Proposal: protocol.Proposal{
			Metrics:    state.Metrics,
			Signature:  recognition.Signature(n.cfg.NodeID, protocol.Version),
			Supporters: append([]string{n.cfg.NodeID}, state.Supporters...),
		},
	})
}

// handleProposal records a remote proposer as a supporter of the matching
// consensus state. Proposals for other means are ignored.
func (n *Node) handleProposal(from string, m *protocol.ConsensusProposal) {
	if from == "" {
		from = m.NodeID
	}
	if n.detector.support(from, m.Proposal) {
		n.logger.Debug("consensus supported", "proposer", from)
	}
}
