package mesh

import (
	"github.com/s0fractal/consciousness-mesh-sub001/internal/field"
	"github.com/s0fractal/consciousness-mesh-sub001/internal/mesh/transport"
)

// Counters are the node's cumulative activity counts.
type Counters struct {
	MessagesSent      uint64 `json:"messagesSent"`
	MessagesReceived  uint64 `json:"messagesReceived"`
	MessagesDropped   uint64 `json:"messagesDropped"`
	SyncsPerformed    uint64 `json:"syncsPerformed"`
	ConsensusEvents   uint64 `json:"consensusEvents"`
	ThoughtsProcessed uint64 `json:"thoughtsProcessed"`
	ThoughtsDropped   uint64 `json:"thoughtsDropped"`
}

// Status is a point-in-time snapshot of one node, assembled inside the node
// loop so every field is mutually consistent.
type Status struct {
	NodeID            string               `json:"nodeId"`
	Active            bool                 `json:"active"`
	Peers             []transport.PeerInfo `json:"peers"`
	Metrics           field.Metrics        `json:"metrics"`
	Consensus         *ConsensusState      `json:"consensus,omitempty"`
	SharedStates      int                  `json:"sharedStates"`
	TopologyNodes     int                  `json:"topologyNodes"`
	TopologyEdges     int                  `json:"topologyEdges"`
	ArchivedSnapshots int                  `json:"archivedSnapshots"`
	Counters          Counters             `json:"counters"`
}

func (n *Node) buildStatus() Status {
	view := n.topology.view(n.field, n.activePeerIDs())

	var consensus *ConsensusState
	if n.detector.current != nil {
		c := *n.detector.current
		c.Supporters = append([]string(nil), n.detector.current.Supporters...)
		consensus = &c
	}

	return Status{
		NodeID:            n.cfg.NodeID,
		Active:            n.started.Load(),
		Peers:             n.transport.Peers(),
		Metrics:           n.field.Metrics(),
		Consensus:         consensus,
		SharedStates:      n.shared.size(),
		TopologyNodes:     len(view.Nodes),
		TopologyEdges:     len(view.Edges),
		ArchivedSnapshots: n.archive.size(),
		Counters: Counters{
			MessagesSent:      n.transport.MessagesSent(),
			MessagesReceived:  n.transport.MessagesReceived(),
			MessagesDropped:   n.transport.MessagesDropped(),
			SyncsPerformed:    n.syncsPerformed.Load(),
			ConsensusEvents:   n.consensusFired.Load(),
			ThoughtsProcessed: n.thoughts.processed,
			ThoughtsDropped:   n.thoughts.dropped,
		},
	}
}
