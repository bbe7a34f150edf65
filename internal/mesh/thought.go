package mesh

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/rand"
	"regexp"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/yasserelgammal/rate-limiter/limiter"
	"github.com/yasserelgammal/rate-limiter/store"

	"github.com/s0fractal/consciousness-mesh-sub001/internal/field"
	"github.com/s0fractal/consciousness-mesh-sub001/internal/mesh/protocol"
)

// Emotion classes matched in order; the first match wins.
var emotionClasses = []struct {
	name string
	re   *regexp.Regexp
}{
	{"love", regexp.MustCompile(`(?i)\b(love|heart|care|caring|tender|embrace|beloved)\b`)},
	{"joy", regexp.MustCompile(`(?i)\b(joy|happy|happiness|delight|laugh|smile|celebrate)\b`)},
	{"curiosity", regexp.MustCompile(`(?i)\b(wonder|curious|curiosity|question|explore|why|how)\b`)},
	{"emergence", regexp.MustCompile(`(?i)\b(emerge|emergence|become|becoming|transform|awaken|arise)\b`)},
}

const emotionNeutral = "neutral"

// classifyEmotion assigns the first matching emotion class, else neutral.
func classifyEmotion(text string) string {
	for _, class := range emotionClasses {
		if class.re.MatchString(text) {
			return class.name
		}
	}
	return emotionNeutral
}

// thoughtSignature derives the dedup/trace key of a thought. It is a key,
// not a verified credential.
func thoughtSignature(content, sender string, timestamp int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", content, sender, timestamp)))
	return hex.EncodeToString(sum[:])
}

// Field influence factors per emotion, applied by processThought.
const (
	loveInfluence      = 0.1
	emergenceInfluence = 0.05
)

const seenTTL = time.Hour

// thoughtChannel broadcasts and receives discrete influence events. Seen
// signatures are deduplicated with a bloom filter backed by a TTL map, and
// inbound thoughts are rate-limited per peer. Only the node loop calls
// into it.
type thoughtChannel struct {
	nodeID string
	logger *slog.Logger
	rng    *rand.Rand

	seenFilter *bloom.BloomFilter
	seenTimes  map[string]time.Time

	limiter      *limiter.TokenBucket
	limiterStore store.Store

	history    []protocol.Thought
	historyCap int

	processed uint64
	dropped   uint64
}

func newThoughtChannel(nodeID string, cfg Config, logger *slog.Logger) *thoughtChannel {
	tc := &thoughtChannel{
		nodeID:     nodeID,
		logger:     logger.With("component", "thoughts"),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		seenFilter: bloom.NewWithEstimates(100000, 0.01),
		seenTimes:  make(map[string]time.Time),
		historyCap: cfg.ThoughtHistory,
	}
	tc.limiterStore = store.NewMemoryStore(time.Minute)
	tc.limiter, _ = limiter.NewTokenBucket(
		limiter.Config{
			Rate:     cfg.ThoughtRate.PerSecond,
			Duration: time.Second,
			Burst:    cfg.ThoughtRate.Burst,
		},
		tc.limiterStore,
	)
	return tc
}

func (tc *thoughtChannel) seen(signature string) bool {
	if !tc.seenFilter.Test([]byte(signature)) {
		return false
	}
	// The bloom filter can report false positives; the TTL map is the
	// authority for entries still inside their window.
	_, ok := tc.seenTimes[signature]
	return ok
}

func (tc *thoughtChannel) markSeen(signature string) {
	tc.seenFilter.Add([]byte(signature))
	tc.seenTimes[signature] = time.Now()
	if len(tc.seenTimes) > 4*tc.historyCap {
		tc.pruneSeen()
	}
}

func (tc *thoughtChannel) pruneSeen() {
	cutoff := time.Now().Add(-seenTTL)
	for sig, at := range tc.seenTimes {
		if at.Before(cutoff) {
			delete(tc.seenTimes, sig)
		}
	}
	if len(tc.seenTimes) > 8*tc.historyCap {
		// Degenerate flood: reset everything rather than grow without
		// bound.
		tc.logger.Warn("resetting thought dedup state", "seen", len(tc.seenTimes))
		tc.seenFilter.ClearAll()
		tc.seenTimes = make(map[string]time.Time)
	}
}

func (tc *thoughtChannel) remember(t protocol.Thought) {
	if tc.historyCap <= 0 {
		return
	}
	tc.history = append(tc.history, t)
	if len(tc.history) > tc.historyCap {
		tc.history = tc.history[len(tc.history)-tc.historyCap:]
	}
}

// compose classifies and signs a new local thought.
func (tc *thoughtChannel) compose(content string) protocol.Thought {
	now := time.Now().UnixMilli()
	return protocol.Thought{
		Content:   content,
		Intensity: tc.rng.Float64(),
		Emotion:   classifyEmotion(content),
		Signature: thoughtSignature(content, tc.nodeID, now),
	}
}

// allowed applies per-peer rate limiting to inbound thoughts.
func (tc *thoughtChannel) allowed(peerID string) bool {
	if tc.limiter == nil {
		return true
	}
	return tc.limiter.Allow(peerID)
}

// processThought perturbs the field according to the thought's emotion:
// love raises every agent's love, emergence raises every natural frequency.
func processThought(f *field.Field, t protocol.Thought) {
	switch t.Emotion {
	case "love":
		f.BoostLove(t.Intensity * loveInfluence)
	case "emergence":
		f.RaiseNaturalFrequency(t.Intensity * emergenceInfluence)
	}
}

// broadcastThought sends a local thought to every active peer and applies
// it to the local field.
func (n *Node) broadcastThought(content string) {
	thought := n.thoughts.compose(content)
	n.thoughts.markSeen(thought.Signature)

	msg := &protocol.ThoughtBroadcast{
		Envelope: protocol.NewEnvelope(protocol.KindThought, n.cfg.NodeID),
		Thought:  thought,
	}
	sent := n.transport.Broadcast(msg)
	n.logger.Info("thought broadcast",
		"emotion", thought.Emotion,
		"intensity", thought.Intensity,
		"peers", sent,
	)

	n.applyThought(n.cfg.NodeID, thought)
}

// handleThought processes an inbound thought-broadcast: rate limit, dedup,
// then field influence.
func (n *Node) handleThought(from string, m *protocol.ThoughtBroadcast) {
	if from == "" {
		from = m.NodeID
	}
	if !n.thoughts.allowed(from) {
		n.thoughts.dropped++
		n.logger.Warn("thought rate limited", "peer", from)
		return
	}
	if n.thoughts.seen(m.Thought.Signature) {
		n.thoughts.dropped++
		return
	}
	n.thoughts.markSeen(m.Thought.Signature)
	n.applyThought(from, m.Thought)
}

func (n *Node) applyThought(from string, thought protocol.Thought) {
	processThought(n.field, thought)
	n.thoughts.remember(thought)
	n.thoughts.processed++
	publish(n.events.thoughts, ThoughtEvent{
		From:    from,
		Thought: thought,
		At:      time.Now(),
	})
}
