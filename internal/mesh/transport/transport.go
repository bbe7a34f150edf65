// Package transport manages the TCP side of the mesh: it accepts inbound
// connections, dials configured peers, frames the byte stream into
// newline-delimited JSON messages, walks each connection through the peer
// state machine and hands decoded messages to the owning node.
package transport

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/net/netutil"

	"github.com/s0fractal/consciousness-mesh-sub001/internal/mesh/protocol"
	"github.com/s0fractal/consciousness-mesh-sub001/internal/recognition"
)

var (
	errOutboxFull = errors.New("transport: peer outbox full")
	errNotActive  = errors.New("transport: peer not active")
)

// Config holds transport settings.
type Config struct {
	// ListenPort is the TCP port to accept peers on; 0 picks an ephemeral
	// port (the bound address is available from Addr after Start).
	ListenPort int `json:"listen_port" yaml:"listen_port"`
	// Peers are "host:port" addresses dialed once at startup. A failed
	// dial is logged and abandoned; the node runs with fewer connections.
	Peers []string `json:"peers" yaml:"peers"`

	MaxPeers     int           `json:"max_peers" yaml:"max_peers"`
	DialTimeout  time.Duration `json:"dial_timeout" yaml:"dial_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	MaxLineBytes int           `json:"max_line_bytes" yaml:"max_line_bytes"`
	OutboxSize   int           `json:"outbox_size" yaml:"outbox_size"`

	// Breaker guards per-peer sends: after FailureThreshold consecutive
	// full-outbox drops the breaker opens and sends to that peer fail fast
	// until ResetTimeout passes.
	Breaker struct {
		FailureThreshold uint32        `json:"failure_threshold" yaml:"failure_threshold"`
		ResetTimeout     time.Duration `json:"reset_timeout" yaml:"reset_timeout"`
	} `json:"breaker" yaml:"breaker"`
}

// DefaultConfig returns production-ready transport defaults.
func DefaultConfig() Config {
	cfg := Config{
		ListenPort:   8881,
		MaxPeers:     64,
		DialTimeout:  5 * time.Second,
		WriteTimeout: 2 * time.Second,
		MaxLineBytes: 4 << 20,
		OutboxSize:   128,
	}
	cfg.Breaker.FailureThreshold = 8
	cfg.Breaker.ResetTimeout = 10 * time.Second
	return cfg
}

// Inbound is one decoded message with the peer it arrived from.
type Inbound struct {
	Peer *Peer
	Msg  protocol.Message
}

// PeerEvent reports a peer state transition.
type PeerEvent struct {
	Peer  *Peer
	State PeerState
}

// Transport owns every peer connection of one node.
type Transport struct {
	nodeID    string
	meshSize  int
	signature string
	cfg       Config
	logger    *slog.Logger

	listener net.Listener

	mu    sync.Mutex
	peers map[*Peer]struct{}
	byID  map[string]*Peer

	inbox      chan Inbound
	peerEvents chan PeerEvent

	messagesSent     atomic.Uint64
	messagesReceived atomic.Uint64
	messagesDropped  atomic.Uint64

	started  atomic.Bool
	shutdown chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a transport for nodeID declaring meshSize agents.
func New(nodeID string, meshSize int, cfg Config, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		nodeID:     nodeID,
		meshSize:   meshSize,
		signature:  recognition.Signature(nodeID, protocol.Version),
		cfg:        cfg,
		logger:     logger.With("component", "transport", "node_id", shortID(nodeID)),
		peers:      make(map[*Peer]struct{}),
		byID:       make(map[string]*Peer),
		inbox:      make(chan Inbound, 256),
		peerEvents: make(chan PeerEvent, 64),
		shutdown:   make(chan struct{}),
	}
}

// Start binds the listener and dials every configured peer.
func (t *Transport) Start() error {
	if !t.started.CompareAndSwap(false, true) {
		return errors.New("transport: already started")
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", t.cfg.ListenPort))
	if err != nil {
		t.started.Store(false)
		return fmt.Errorf("transport: listen: %w", err)
	}
	t.listener = netutil.LimitListener(ln, t.cfg.MaxPeers)
	t.logger.Info("listening", "addr", t.listener.Addr().String())

	t.wg.Add(1)
	go t.acceptLoop()

	for _, addr := range t.cfg.Peers {
		t.wg.Add(1)
		go t.dial(addr)
	}
	return nil
}

// Stop closes the listener and every peer socket. Idempotent.
func (t *Transport) Stop() {
	t.stopOnce.Do(func() {
		close(t.shutdown)
		if t.listener != nil {
			_ = t.listener.Close()
		}
		t.mu.Lock()
		open := make([]*Peer, 0, len(t.peers))
		for p := range t.peers {
			open = append(open, p)
		}
		t.mu.Unlock()
		for _, p := range open {
			t.closePeer(p, errors.New("transport stopped"))
		}
		t.wg.Wait()
		t.logger.Info("transport stopped")
	})
}

// Addr returns the bound listen address, empty before Start.
func (t *Transport) Addr() string {
	if t.listener == nil {
		return ""
	}
	return t.listener.Addr().String()
}

// Signature returns the local recognition signature presented in handshakes.
func (t *Transport) Signature() string { return t.signature }

// Inbox delivers decoded non-handshake messages to the owning node.
func (t *Transport) Inbox() <-chan Inbound { return t.inbox }

// PeerEvents delivers peer state transitions.
func (t *Transport) PeerEvents() <-chan PeerEvent { return t.peerEvents }

// ActivePeerCount counts peers in the active state.
func (t *Transport) ActivePeerCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for p := range t.peers {
		if p.isActive() {
			n++
		}
	}
	return n
}

// Peers snapshots every live peer record.
func (t *Transport) Peers() []PeerInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]PeerInfo, 0, len(t.peers))
	for p := range t.peers {
		out = append(out, p.Info())
	}
	return out
}

// MessagesSent returns the cumulative count of wire messages written.
func (t *Transport) MessagesSent() uint64 { return t.messagesSent.Load() }

// MessagesReceived returns the cumulative count of decoded inbound messages.
func (t *Transport) MessagesReceived() uint64 { return t.messagesReceived.Load() }

// MessagesDropped returns the count of sends shed by full outboxes or open
// breakers.
func (t *Transport) MessagesDropped() uint64 { return t.messagesDropped.Load() }

// Broadcast encodes msg once and sends it to every active peer, returning
// the number of peers it was queued for.
func (t *Transport) Broadcast(msg protocol.Message) int {
	line, err := protocol.Encode(msg)
	if err != nil {
		t.logger.Error("encode broadcast", "kind", msg.Kind(), "error", err)
		return 0
	}
	t.mu.Lock()
	targets := make([]*Peer, 0, len(t.peers))
	for p := range t.peers {
		if p.isActive() {
			targets = append(targets, p)
		}
	}
	t.mu.Unlock()

	sent := 0
	for _, p := range targets {
		if err := t.send(p, line); err == nil {
			sent++
		}
	}
	return sent
}

// SendTo sends msg to one active peer by node id.
func (t *Transport) SendTo(nodeID string, msg protocol.Message) error {
	t.mu.Lock()
	p := t.byID[nodeID]
	t.mu.Unlock()
	if p == nil || !p.isActive() {
		return errNotActive
	}
	line, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return t.send(p, line)
}

func (t *Transport) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.shutdown:
			default:
				t.logger.Error("accept failed", "error", err)
			}
			return
		}
		t.startPeer(conn, false)
	}
}

func (t *Transport) dial(addr string) {
	defer t.wg.Done()
	conn, err := net.DialTimeout("tcp", addr, t.cfg.DialTimeout)
	if err != nil {
		// Dial abandoned: the node runs with fewer connections.
		t.logger.Warn("peer dial failed", "addr", addr, "error", err)
		return
	}
	select {
	case <-t.shutdown:
		_ = conn.Close()
		return
	default:
	}
	p := t.startPeer(conn, true)
	t.sendHandshake(p)
}

func (t *Transport) startPeer(conn net.Conn, outbound bool) *Peer {
	settings := gobreaker.Settings{
		Name:    conn.RemoteAddr().String(),
		Timeout: t.cfg.Breaker.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= t.cfg.Breaker.FailureThreshold
		},
	}
	p := &Peer{
		addr:     conn.RemoteAddr().String(),
		state:    StateConnected,
		lastSeen: time.Now(),
		conn:     conn,
		outbox:   make(chan []byte, t.cfg.OutboxSize),
		breaker:  gobreaker.NewCircuitBreaker(settings),
		outbound: outbound,
		done:     make(chan struct{}),
	}

	t.mu.Lock()
	t.peers[p] = struct{}{}
	t.mu.Unlock()

	t.wg.Add(2)
	go t.readLoop(p)
	go t.writeLoop(p)

	t.logger.Info("peer connected", "addr", p.addr, "outbound", outbound)
	return p
}

func (t *Transport) sendHandshake(p *Peer) {
	msg := &protocol.Handshake{
		Envelope:  protocol.NewEnvelope(protocol.KindHandshake, t.nodeID),
		Signature: t.signature,
		MeshSize:  t.meshSize,
		Version:   protocol.Version,
	}
	line, err := protocol.Encode(msg)
	if err != nil {
		t.logger.Error("encode handshake", "error", err)
		return
	}
	if err := t.send(p, line); err != nil {
		t.logger.Warn("handshake send failed", "addr", p.addr, "error", err)
		return
	}
	p.setState(StateHandshakeSent)
}

// send queues one encoded line for a peer through its circuit breaker.
// It never blocks: a full outbox counts as a failure and is dropped.
func (t *Transport) send(p *Peer, line []byte) error {
	_, err := p.breaker.Execute(func() (any, error) {
		select {
		case p.outbox <- line:
			return nil, nil
		default:
			return nil, errOutboxFull
		}
	})
	if err != nil {
		t.messagesDropped.Add(1)
	}
	return err
}

func (t *Transport) readLoop(p *Peer) {
	defer t.wg.Done()
	defer t.closePeer(p, nil)

	scanner := bufio.NewScanner(p.conn)
	scanner.Buffer(make([]byte, 0, 64<<10), t.cfg.MaxLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		msg, err := protocol.Decode(line)
		if err != nil {
			// Malformed or unknown messages are dropped without
			// penalty; the connection stays open.
			var unknown *protocol.UnknownTypeError
			if errors.As(err, &unknown) {
				t.logger.Warn("ignoring unknown message type", "type", unknown.Type, "peer", p.ID())
			} else {
				t.logger.Warn("dropping malformed message", "peer", p.ID(), "error", err)
			}
			continue
		}
		t.messagesReceived.Add(1)
		p.touch()

		switch m := msg.(type) {
		case *protocol.Handshake:
			t.handleHandshake(p, m)
		case *protocol.RecognitionPing:
			t.handlePing(p, m)
		default:
			select {
			case t.inbox <- Inbound{Peer: p, Msg: msg}:
			case <-t.shutdown:
				return
			}
		}
	}
	if err := scanner.Err(); err != nil {
		select {
		case <-t.shutdown:
		default:
			t.logger.Warn("peer read failed", "peer", p.ID(), "addr", p.addr, "error", err)
		}
	}
}

func (t *Transport) writeLoop(p *Peer) {
	defer t.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case line := <-p.outbox:
			if t.cfg.WriteTimeout > 0 {
				_ = p.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
			}
			if _, err := p.conn.Write(line); err != nil {
				t.logger.Warn("peer write failed", "peer", p.ID(), "error", err)
				t.closePeer(p, err)
				return
			}
			t.messagesSent.Add(1)
		}
	}
}

func (t *Transport) handleHandshake(p *Peer, m *protocol.Handshake) {
	result := recognition.Compare(t.signature, m.Signature)

	t.mu.Lock()
	if existing, ok := t.byID[m.NodeID]; ok && existing != p {
		t.mu.Unlock()
		t.logger.Warn("duplicate connection for peer, closing newest", "peer", shortID(m.NodeID))
		t.closePeer(p, errors.New("duplicate peer connection"))
		return
	}
	t.byID[m.NodeID] = p
	t.mu.Unlock()

	p.mu.Lock()
	p.id = m.NodeID
	p.meshSize = m.MeshSize
	p.version = m.Version
	p.signature = m.Signature
	p.recognition = result
	p.state = StateRecognized
	alreadySent := p.outbound
	p.mu.Unlock()

	if !alreadySent {
		t.sendHandshake(p)
	}
	p.setState(StateActive)
	t.logger.Info("peer recognized",
		"peer", shortID(m.NodeID),
		"mesh_size", m.MeshSize,
		"version", m.Version,
		"recognized", result.Recognized,
		"resonance", result.Resonance,
	)
	t.emitPeerEvent(PeerEvent{Peer: p, State: StateActive})
}

// handlePing records the recognition result of a probe. The transport only
// records; it does not reply (pings are caller-initiated).
func (t *Transport) handlePing(p *Peer, m *protocol.RecognitionPing) {
	result := recognition.Compare(t.signature, m.Signature)
	p.mu.Lock()
	p.recognition = result
	p.mu.Unlock()
	t.logger.Debug("recognition ping", "peer", p.ID(), "resonance", result.Resonance)
}

func (t *Transport) closePeer(p *Peer, cause error) {
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.conn.Close()

		p.mu.Lock()
		id := p.id
		p.state = StateClosed
		p.mu.Unlock()

		t.mu.Lock()
		delete(t.peers, p)
		if id != "" && t.byID[id] == p {
			delete(t.byID, id)
		}
		t.mu.Unlock()

		if cause != nil {
			t.logger.Info("peer closed", "peer", shortID(id), "addr", p.addr, "cause", cause)
		} else {
			t.logger.Info("peer closed", "peer", shortID(id), "addr", p.addr)
		}
		t.emitPeerEvent(PeerEvent{Peer: p, State: StateClosed})
	})
}

// emitPeerEvent never blocks: when the consumer lags, the oldest transition
// is shed in favor of the newest.
func (t *Transport) emitPeerEvent(ev PeerEvent) {
	for {
		select {
		case t.peerEvents <- ev:
			return
		default:
			select {
			case <-t.peerEvents:
			default:
			}
		}
	}
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
