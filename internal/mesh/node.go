package mesh

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/s0fractal/consciousness-mesh-sub001/internal/field"
	"github.com/s0fractal/consciousness-mesh-sub001/internal/mesh/protocol"
	"github.com/s0fractal/consciousness-mesh-sub001/internal/mesh/transport"
)

var errNodeStopped = errors.New("mesh: node stopped")

type statusRequest struct {
	reply chan Status
}

type thoughtRequest struct {
	content string
	reply   chan struct{}
}

type applyRequest struct {
	kind   field.EventKind
	params field.EventParams
	reply  chan error
}

// Node runs one mesh participant: a local field simulation plus the sync,
// consensus, thought and topology machinery over a TCP transport. All
// simulation and protocol state is confined to the run loop goroutine;
// outside callers interact through request channels and event streams.
type Node struct {
	cfg    Config
	logger *slog.Logger

	field     *field.Field
	transport *transport.Transport
	shared    *sharedTable
	detector  *consensusDetector
	thoughts  *thoughtChannel
	topology  *topologyTracker
	archive   *snapshotArchive
	events    *Events

	syncsPerformed atomic.Uint64
	consensusFired atomic.Uint64

	started  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	statusReq  chan statusRequest
	thoughtReq chan thoughtRequest
	applyReq   chan applyRequest
}

// New validates cfg and assembles a node. The node does not listen or dial
// until Start.
func New(cfg Config, logger *slog.Logger) (*Node, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	f, err := field.New(cfg.Field)
	if err != nil {
		return nil, fmt.Errorf("mesh: %w", err)
	}

	log := logger.With("component", "node", "node_id", shortID(cfg.NodeID))
	tr := transport.New(cfg.NodeID, cfg.Field.Agents, cfg.Transport, logger)

	return &Node{
		cfg:        cfg,
		logger:     log,
		field:      f,
		transport:  tr,
		shared:     newSharedTable(cfg.SharedStateCapacity),
		detector:   newConsensusDetector(cfg.ConsensusThreshold, cfg.ConsensusEpsilon),
		thoughts:   newThoughtChannel(cfg.NodeID, cfg, logger),
		topology:   newTopologyTracker(cfg.NodeID),
		archive:    newSnapshotArchive(cfg.SnapshotArchive),
		events:     newEvents(cfg.EventBuffer),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		statusReq:  make(chan statusRequest),
		thoughtReq: make(chan thoughtRequest),
		applyReq:   make(chan applyRequest),
	}, nil
}

// Start brings the transport up and launches the run loop.
func (n *Node) Start() error {
	if !n.started.CompareAndSwap(false, true) {
		return errors.New("mesh: node already started")
	}
	if err := n.transport.Start(); err != nil {
		n.started.Store(false)
		return err
	}
	n.logger.Info("node started",
		"addr", n.transport.Addr(),
		"agents", n.cfg.Field.Agents,
		"peers", len(n.cfg.Transport.Peers),
	)
	go n.run()
	return nil
}

// Stop shuts the node down and waits for the run loop to drain. Safe to
// call more than once.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		close(n.stop)
	})
	if n.started.Load() {
		<-n.done
	}
}

// Events exposes the node's outbound event streams.
func (n *Node) Events() *Events { return n.events }

// Addr reports the transport's listen address, empty before Start.
func (n *Node) Addr() string { return n.transport.Addr() }

// ID returns the node's wire identity.
func (n *Node) ID() string { return n.cfg.NodeID }

// Status assembles a consistent snapshot inside the run loop.
func (n *Node) Status() Status {
	req := statusRequest{reply: make(chan Status, 1)}
	select {
	case n.statusReq <- req:
		return <-req.reply
	case <-n.done:
		return Status{NodeID: n.cfg.NodeID}
	}
}

// BroadcastThought classifies, signs and broadcasts a thought, applying it
// locally as well.
func (n *Node) BroadcastThought(content string) error {
	req := thoughtRequest{content: content, reply: make(chan struct{}, 1)}
	select {
	case n.thoughtReq <- req:
		<-req.reply
		return nil
	case <-n.done:
		return errNodeStopped
	}
}

// ApplyEvent injects a field event such as a pacemaker flip or love surge.
func (n *Node) ApplyEvent(kind field.EventKind, params field.EventParams) error {
	req := applyRequest{kind: kind, params: params, reply: make(chan error, 1)}
	select {
	case n.applyReq <- req:
		return <-req.reply
	case <-n.done:
		return errNodeStopped
	}
}

// run is the single goroutine that owns all field, sync, consensus, thought
// and topology state.
func (n *Node) run() {
	defer close(n.done)
	defer n.transport.Stop()

	stepTicker := time.NewTicker(n.cfg.StepInterval.Std())
	defer stepTicker.Stop()
	syncTicker := time.NewTicker(n.cfg.SyncInterval.Std())
	defer syncTicker.Stop()

	for {
		select {
		case <-n.stop:
			n.logger.Info("node stopping")
			return

		case <-stepTicker.C:
			n.field.Step(n.cfg.Field.DT)

		case <-syncTicker.C:
			n.syncCycle()

		case in := <-n.transport.Inbox():
			n.dispatch(in)

		case ev := <-n.transport.PeerEvents():
			n.handlePeerEvent(ev)

		case req := <-n.statusReq:
			req.reply <- n.buildStatus()

		case req := <-n.thoughtReq:
			n.broadcastThought(req.content)
			req.reply <- struct{}{}

		case req := <-n.applyReq:
			req.reply <- n.field.ApplyEvent(req.kind, req.params)
		}
	}
}

// dispatch routes one decoded inbound message. Handshakes and recognition
// pings never reach here; the transport consumes them.
func (n *Node) dispatch(in transport.Inbound) {
	from := in.Peer.ID()
	switch m := in.Msg.(type) {
	case *protocol.Sync:
		n.handleSync(from, m)
	case *protocol.ThoughtBroadcast:
		n.handleThought(from, m)
	case *protocol.ConsensusProposal:
		n.handleProposal(from, m)
	case *protocol.TopologyUpdate:
		n.handleTopology(m)
	default:
		n.logger.Warn("unhandled message kind", "kind", in.Msg.Kind(), "peer", shortID(from))
	}
}

// handlePeerEvent rebuilds and rebroadcasts the topology on every peer
// transition, and drops departed peers from the shared-state table.
func (n *Node) handlePeerEvent(ev transport.PeerEvent) {
	id := ev.Peer.ID()
	n.logger.Info("peer transition", "peer", shortID(id), "state", ev.State)
	if ev.State == transport.StateClosed && id != "" {
		delete(n.shared.entries, id)
	}
	n.publishTopology()
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
