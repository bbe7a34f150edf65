// Package protocol defines the newline-delimited JSON wire format spoken
// between mesh nodes. Each line is one UTF-8 JSON object carrying a common
// envelope (type, nodeId, timestamp) plus a type-specific payload. Lines are
// decoded once at the transport boundary into a closed set of message
// structs and matched exhaustively from there.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/s0fractal/consciousness-mesh-sub001/internal/field"
)

// Version is the protocol version declared in handshakes.
const Version = "1.0.0"

// Message kinds on the wire.
const (
	KindHandshake       = "handshake"
	KindSync            = "consciousness-sync"
	KindThought         = "thought-broadcast"
	KindProposal        = "consensus-proposal"
	KindTopology        = "topology-update"
	KindRecognitionPing = "recognition-ping"
)

// Envelope carries the fields common to every wire message.
type Envelope struct {
	Type      string `json:"type"`
	NodeID    string `json:"nodeId"`
	Timestamp int64  `json:"timestamp"` // ms since epoch
}

// NewEnvelope stamps an envelope for an outbound message.
func NewEnvelope(kind, nodeID string) Envelope {
	return Envelope{
		Type:      kind,
		NodeID:    nodeID,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Message is the closed sum of wire message kinds.
type Message interface {
	Kind() string
	Sender() string
	SentAt() int64
}

func (e Envelope) Kind() string   { return e.Type }
func (e Envelope) Sender() string { return e.NodeID }
func (e Envelope) SentAt() int64  { return e.Timestamp }

// Handshake opens a peer connection: identity, recognition signature,
// declared mesh size and protocol version.
type Handshake struct {
	Envelope
	Signature string `json:"signature"`
	MeshSize  int    `json:"meshSize"`
	Version   string `json:"version"`
}

// Sync carries one node's exported field snapshot plus its metrics.
type Sync struct {
	Envelope
	State   field.Snapshot `json:"state"`
	Metrics field.Metrics  `json:"metrics"`
}

// Thought is a discrete influence event perturbing receivers' fields.
type Thought struct {
	Content   string  `json:"content"`
	Intensity float64 `json:"intensity"`
	Emotion   string  `json:"emotion"`
	Signature string  `json:"signature"`
}

// ThoughtBroadcast distributes a thought to every active peer.
type ThoughtBroadcast struct {
	Envelope
	Thought Thought `json:"thought"`
}

// Proposal is an approximate-consensus claim: the mean metrics a proposer
// believes the mesh agrees on, plus the nodes backing it.
type Proposal struct {
	Metrics    field.Metrics `json:"metrics"`
	Signature  string        `json:"signature"`
	Supporters []string      `json:"supporters"`
}

// ConsensusProposal announces a newly detected consensus state.
type ConsensusProposal struct {
	Envelope
	Proposal Proposal `json:"proposal"`
}

// TopoEdge is one observed mesh link.
type TopoEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Topology is the full observed node/edge list, never a diff.
type Topology struct {
	Nodes []string   `json:"nodes"`
	Edges []TopoEdge `json:"edges"`
}

// TopologyUpdate rebroadcasts the sender's observed graph.
type TopologyUpdate struct {
	Envelope
	Topology Topology `json:"topology"`
}

// RecognitionPing re-presents a signature mid-session; the receiver records
// the comparison and does not reply.
type RecognitionPing struct {
	Envelope
	Signature string `json:"signature"`
}

// UnknownTypeError reports a syntactically valid message of a kind this
// node does not speak. Receivers log and ignore these.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("protocol: unknown message type %q", e.Type)
}

// Decode parses one wire line into its typed message.
func Decode(line []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("protocol: malformed message: %w", err)
	}

	var msg Message
	switch env.Type {
	case KindHandshake:
		msg = &Handshake{}
	case KindSync:
		msg = &Sync{}
	case KindThought:
		msg = &ThoughtBroadcast{}
	case KindProposal:
		msg = &ConsensusProposal{}
	case KindTopology:
		msg = &TopologyUpdate{}
	case KindRecognitionPing:
		msg = &RecognitionPing{}
	default:
		return nil, &UnknownTypeError{Type: env.Type}
	}

	if err := json.Unmarshal(line, msg); err != nil {
		return nil, fmt.Errorf("protocol: malformed %s payload: %w", env.Type, err)
	}
	return msg, nil
}

// Encode serializes a message as one newline-terminated wire line.
func Encode(msg Message) ([]byte, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", msg.Kind(), err)
	}
	return append(raw, '\n'), nil
}
