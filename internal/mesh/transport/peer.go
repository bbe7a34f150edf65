package transport

import (
	"net"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/s0fractal/consciousness-mesh-sub001/internal/recognition"
)

// PeerState tracks a peer connection through its lifecycle.
type PeerState string

const (
	StateConnecting    PeerState = "connecting"
	StateConnected     PeerState = "connected"
	StateHandshakeSent PeerState = "handshake-sent"
	StateRecognized    PeerState = "recognized"
	StateActive        PeerState = "active"
	// StateClosed is terminal.
	StateClosed PeerState = "closed"
)

// Peer is one live connection's record: identity learned from the handshake,
// connection state, recognition result and the outbound write queue. A peer
// record lives for the duration of one TCP connection.
type Peer struct {
	mu          sync.Mutex
	id          string
	addr        string
	state       PeerState
	lastSeen    time.Time
	meshSize    int
	version     string
	signature   string
	recognition recognition.Result

	conn      net.Conn
	outbox    chan []byte
	breaker   *gobreaker.CircuitBreaker
	outbound  bool
	done      chan struct{}
	closeOnce sync.Once
}

// PeerInfo is a read-only snapshot of a peer record.
type PeerInfo struct {
	ID         string             `json:"id"`
	Addr       string             `json:"addr"`
	State      PeerState          `json:"state"`
	MeshSize   int                `json:"meshSize"`
	Version    string             `json:"version"`
	Recognized bool               `json:"recognized"`
	Resonance  float64            `json:"resonance"`
	LastSeen   time.Time          `json:"lastSeen"`
	Result     recognition.Result `json:"-"`
}

// ID returns the peer's node id, empty until its handshake arrives.
func (p *Peer) ID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id
}

// State returns the peer's current connection state.
func (p *Peer) State() PeerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Recognition returns the recorded recognition result.
func (p *Peer) Recognition() recognition.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.recognition
}

// Info snapshots the record.
func (p *Peer) Info() PeerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PeerInfo{
		ID:         p.id,
		Addr:       p.addr,
		State:      p.state,
		MeshSize:   p.meshSize,
		Version:    p.version,
		Recognized: p.recognition.Recognized,
		Resonance:  p.recognition.Resonance,
		LastSeen:   p.lastSeen,
		Result:     p.recognition,
	}
}

func (p *Peer) setState(s PeerState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Peer) isActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == StateActive
}

func (p *Peer) touch() {
	p.mu.Lock()
	p.lastSeen = time.Now()
	p.mu.Unlock()
}
