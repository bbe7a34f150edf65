package mesh

import (
	"fmt"
	"sort"
	"time"

	"github.com/s0fractal/consciousness-mesh-sub001/internal/field"
	"github.com/s0fractal/consciousness-mesh-sub001/internal/mesh/protocol"
	"github.com/s0fractal/consciousness-mesh-sub001/internal/mesh/transport"
)

// topologyTracker maintains this node's view of the mesh graph: itself, its
// directly connected peers, everything learned from topology-update messages,
// and a pseudo-node per local field agent so observers can see the internal
// lattice. Only the node loop touches it.
type topologyTracker struct {
	nodeID string

	// learnedNodes/learnedEdges come from remote topology-update messages
	// and persist across peer churn.
	learnedNodes map[string]struct{}
	learnedEdges map[topoKey]struct{}
}

type topoKey struct {
	From string
	To   string
}

func newTopologyTracker(nodeID string) *topologyTracker {
	return &topologyTracker{
		nodeID:       nodeID,
		learnedNodes: make(map[string]struct{}),
		learnedEdges: make(map[topoKey]struct{}),
	}
}

// merge folds a remote node's view into the learned sets. It reports whether
// anything new was added.
func (tt *topologyTracker) merge(t protocol.Topology) bool {
	changed := false
	for _, node := range t.Nodes {
		if node == "" {
			continue
		}
		if _, ok := tt.learnedNodes[node]; !ok {
			tt.learnedNodes[node] = struct{}{}
			changed = true
		}
	}
	for _, e := range t.Edges {
		if e.From == "" || e.To == "" {
			continue
		}
		key := canonicalEdge(e.From, e.To)
		if _, ok := tt.learnedEdges[key]; !ok {
			tt.learnedEdges[key] = struct{}{}
			changed = true
		}
	}
	return changed
}

// agentNode names one field agent as a mesh pseudo-node.
func agentNode(nodeID string, index int) string {
	return fmt.Sprintf("%s:%d", nodeID, index)
}

func canonicalEdge(a, b string) topoKey {
	if b < a {
		a, b = b, a
	}
	return topoKey{From: a, To: b}
}

// view assembles the full topology: this node, its agents and their lattice
// edges, directly connected peers, and everything learned remotely. Nodes
// and edges are sorted so equal views serialize identically.
func (tt *topologyTracker) view(f *field.Field, activePeers []string) protocol.Topology {
	nodes := make(map[string]struct{})
	edges := make(map[topoKey]struct{})

	nodes[tt.nodeID] = struct{}{}
	for i := 0; i < f.Agents(); i++ {
		agent := agentNode(tt.nodeID, i)
		nodes[agent] = struct{}{}
		edges[canonicalEdge(tt.nodeID, agent)] = struct{}{}
	}
	for _, e := range f.Edges() {
		edges[canonicalEdge(agentNode(tt.nodeID, e.A), agentNode(tt.nodeID, e.B))] = struct{}{}
	}

	for _, peer := range activePeers {
		if peer == "" {
			continue
		}
		nodes[peer] = struct{}{}
		edges[canonicalEdge(tt.nodeID, peer)] = struct{}{}
	}

	for node := range tt.learnedNodes {
		nodes[node] = struct{}{}
	}
	for key := range tt.learnedEdges {
		nodes[key.From] = struct{}{}
		nodes[key.To] = struct{}{}
		edges[key] = struct{}{}
	}

	out := protocol.Topology{
		Nodes: make([]string, 0, len(nodes)),
		Edges: make([]protocol.TopoEdge, 0, len(edges)),
	}
	for node := range nodes {
		out.Nodes = append(out.Nodes, node)
	}
	sort.Strings(out.Nodes)
	for key := range edges {
		out.Edges = append(out.Edges, protocol.TopoEdge{From: key.From, To: key.To})
	}
	sort.Slice(out.Edges, func(i, j int) bool {
		if out.Edges[i].From != out.Edges[j].From {
			return out.Edges[i].From < out.Edges[j].From
		}
		return out.Edges[i].To < out.Edges[j].To
	})
	return out
}

// activePeerIDs lists the ids of peers past the handshake.
func (n *Node) activePeerIDs() []string {
	infos := n.transport.Peers()
	ids := make([]string, 0, len(infos))
	for _, info := range infos {
		if info.State == transport.StateActive && info.ID != "" {
			ids = append(ids, info.ID)
		}
	}
	return ids
}

// publishTopology rebuilds the full view, emits the event, and broadcasts it
// to the mesh. Updates always carry the complete view, never deltas.
func (n *Node) publishTopology() {
	view := n.topology.view(n.field, n.activePeerIDs())
	publish(n.events.topology, TopologyEvent{
		Nodes: len(view.Nodes),
		Edges: len(view.Edges),
		At:    time.Now(),
	})
	n.transport.Broadcast(&protocol.TopologyUpdate{
		Envelope: protocol.NewEnvelope(protocol.KindTopology, n.cfg.NodeID),
		Topology: view,
	})
	n.logger.Debug("topology published", "nodes", len(view.Nodes), "edges", len(view.Edges))
}

// handleTopology merges a remote view; a rebuilt local view is broadcast only
// when the merge actually added something, so gossip converges instead of
// echoing forever.
func (n *Node) handleTopology(m *protocol.TopologyUpdate) {
	if n.topology.merge(m.Topology) {
		n.publishTopology()
	}
}
