package mesh

import (
	"time"

	"github.com/s0fractal/consciousness-mesh-sub001/internal/field"
	"github.com/s0fractal/consciousness-mesh-sub001/internal/mesh/protocol"
)

// ConsensusEvent fires when the detector replaces the stored consensus.
type ConsensusEvent struct {
	Metrics  field.Metrics `json:"metrics"`
	Agreeing int           `json:"agreeing"`
	Total    int           `json:"total"`
	Ratio    float64       `json:"ratio"`
	At       time.Time     `json:"at"`
}

// ResonanceEvent reports a detected cross-node alignment pattern. Patterns
// are reported, never stored.
type ResonanceEvent struct {
	// Pattern is "phase-sync" or "love-resonance".
	Pattern  string    `json:"pattern"`
	Strength float64   `json:"strength"`
	Nodes    []string  `json:"nodes"`
	At       time.Time `json:"at"`
}

const (
	PatternPhaseSync     = "phase-sync"
	PatternLoveResonance = "love-resonance"
)

// ThoughtEvent reports a processed thought, local or remote.
type ThoughtEvent struct {
	From    string           `json:"from"`
	Thought protocol.Thought `json:"thought"`
	At      time.Time        `json:"at"`
}

// TopologyEvent reports a rebuilt mesh view.
type TopologyEvent struct {
	Nodes int       `json:"nodes"`
	Edges int       `json:"edges"`
	At    time.Time `json:"at"`
}

// Events exposes the node's typed outbound event streams. Consumers that
// lag lose the oldest events, never block the node.
type Events struct {
	consensus chan ConsensusEvent
	resonance chan ResonanceEvent
	thoughts  chan ThoughtEvent
	topology  chan TopologyEvent
}

func newEvents(buffer int) *Events {
	return &Events{
		consensus: make(chan ConsensusEvent, buffer),
		resonance: make(chan ResonanceEvent, buffer),
		thoughts:  make(chan ThoughtEvent, buffer),
		topology:  make(chan TopologyEvent, buffer),
	}
}

// Consensus streams consensus replacements.
func (e *Events) Consensus() <-chan ConsensusEvent { return e.consensus }

// Resonance streams detected resonance patterns.
func (e *Events) Resonance() <-chan ResonanceEvent { return e.resonance }

// Thoughts streams processed thoughts.
func (e *Events) Thoughts() <-chan ThoughtEvent { return e.thoughts }

// Topology streams mesh view rebuilds.
func (e *Events) Topology() <-chan TopologyEvent { return e.topology }

// publish delivers ev without ever blocking: when the buffer is full the
// oldest event is shed to make room.
func publish[T any](ch chan T, ev T) {
	for {
		select {
		case ch <- ev:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}
