package field

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

const twoPi = 2 * math.Pi

// Edge is one undirected edge (A < B) of the agent graph.
type Edge struct {
	A int `json:"a"`
	B int `json:"b"`
}

// Field owns one node's local state vector: five per-agent arrays, a fixed
// adjacency graph and one signed coherence value per undirected edge. All
// mutation is expected to happen from a single goroutine.
type Field struct {
	cfg Config
	n   int

	intent      []float64
	potential   []float64
	love        []float64
	phase       []float64
	naturalFreq []float64
	source      []float64

	adj           [][]bool
	edges         []Edge
	edgeCoherence []float64

	// nodeEdges[i] lists indices of edges incident to agent i;
	// edgePeers[e] lists indices of edges sharing a node with edge e.
	nodeEdges [][]int
	edgePeers [][]int

	elapsed    float64
	reversions []reversion
}

// New creates a field over a ring topology of cfg.Agents agents.
func New(cfg Config) (*Field, error) {
	if cfg.Agents < 2 {
		return nil, fmt.Errorf("field: need at least 2 agents, got %d", cfg.Agents)
	}
	adj := RingAdjacency(cfg.Agents)
	return NewWithAdjacency(cfg, adj)
}

// NewWithAdjacency creates a field over an explicit adjacency matrix, which
// must be square of size cfg.Agents, symmetric and loop-free.
func NewWithAdjacency(cfg Config, adj [][]bool) (*Field, error) {
	n := cfg.Agents
	if n < 2 {
		return nil, fmt.Errorf("field: need at least 2 agents, got %d", n)
	}
	if len(adj) != n {
		return nil, fmt.Errorf("field: adjacency has %d rows, want %d", len(adj), n)
	}
	for i := range adj {
		if len(adj[i]) != n {
			return nil, fmt.Errorf("field: adjacency row %d has %d columns, want %d", i, len(adj[i]), n)
		}
		if adj[i][i] {
			return nil, fmt.Errorf("field: adjacency has self-loop at %d", i)
		}
		for j := range adj[i] {
			if adj[i][j] != adj[j][i] {
				return nil, fmt.Errorf("field: adjacency not symmetric at (%d,%d)", i, j)
			}
		}
	}

	f := &Field{
		cfg:         cfg,
		n:           n,
		intent:      make([]float64, n),
		potential:   make([]float64, n),
		love:        make([]float64, n),
		phase:       make([]float64, n),
		naturalFreq: make([]float64, n),
		source:      make([]float64, n),
		adj:         adj,
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if adj[i][j] {
				f.edges = append(f.edges, Edge{A: i, B: j})
			}
		}
	}
	f.edgeCoherence = make([]float64, len(f.edges))
	f.buildIncidence()

	rng := rand.New(rand.NewSource(cfg.Seed))
	for i := 0; i < n; i++ {
		jitter := cfg.FrequencySpread * (2*rng.Float64() - 1)
		f.naturalFreq[i] = cfg.BaseFrequency + jitter
	}

	return f, nil
}

// RingAdjacency builds the default ring topology over n agents.
func RingAdjacency(n int) [][]bool {
	adj := make([][]bool, n)
	for i := range adj {
		adj[i] = make([]bool, n)
	}
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		if i != j {
			adj[i][j] = true
			adj[j][i] = true
		}
	}
	return adj
}

func (f *Field) buildIncidence() {
	f.nodeEdges = make([][]int, f.n)
	for e, edge := range f.edges {
		f.nodeEdges[edge.A] = append(f.nodeEdges[edge.A], e)
		f.nodeEdges[edge.B] = append(f.nodeEdges[edge.B], e)
	}
	f.edgePeers = make([][]int, len(f.edges))
	for e, edge := range f.edges {
		seen := map[int]struct{}{e: {}}
		for _, other := range f.nodeEdges[edge.A] {
			if _, ok := seen[other]; !ok {
				seen[other] = struct{}{}
				f.edgePeers[e] = append(f.edgePeers[e], other)
			}
		}
		for _, other := range f.nodeEdges[edge.B] {
			if _, ok := seen[other]; !ok {
				seen[other] = struct{}{}
				f.edgePeers[e] = append(f.edgePeers[e], other)
			}
		}
	}
}

// Agents returns N.
func (f *Field) Agents() int { return f.n }

// EdgeCount returns E.
func (f *Field) EdgeCount() int { return len(f.edges) }

// Edges returns the undirected edge list.
func (f *Field) Edges() []Edge {
	out := make([]Edge, len(f.edges))
	copy(out, f.edges)
	return out
}

// Config returns the current coupling constants.
func (f *Field) Config() Config { return f.cfg }

// SetPhases overwrites the phase array, wrapping each value to [0, 2π).
func (f *Field) SetPhases(phases []float64) error {
	if len(phases) != f.n {
		return fmt.Errorf("field: got %d phases, want %d", len(phases), f.n)
	}
	for i, p := range phases {
		f.phase[i] = wrapPhase(p)
	}
	return nil
}

// SetIntent overwrites the intent array and the derived potential.
func (f *Field) SetIntent(intent []float64) error {
	if len(intent) != f.n {
		return fmt.Errorf("field: got %d intent values, want %d", len(intent), f.n)
	}
	copy(f.intent, intent)
	copy(f.potential, intent)
	return nil
}

// SetLove overwrites the love array, clamping each value to [0,1].
func (f *Field) SetLove(love []float64) error {
	if len(love) != f.n {
		return fmt.Errorf("field: got %d love values, want %d", len(love), f.n)
	}
	for i, v := range love {
		f.love[i] = clamp01(v)
	}
	return nil
}

// MeanLove returns the mean of the love array.
func (f *Field) MeanLove() float64 {
	sum := 0.0
	for _, v := range f.love {
		sum += v
	}
	return sum / float64(f.n)
}

// BoostLove raises every agent's love by delta, clamped to 1.
func (f *Field) BoostLove(delta float64) {
	for i := range f.love {
		f.love[i] = clamp01(f.love[i] + delta)
	}
}

// RaiseNaturalFrequency raises every agent's intrinsic phase velocity.
// The increase is unbounded; callers own any runaway concern.
func (f *Field) RaiseNaturalFrequency(delta float64) {
	for i := range f.naturalFreq {
		f.naturalFreq[i] += delta
	}
}

// NaturalFrequencies returns a copy of the per-agent phase velocities.
func (f *Field) NaturalFrequencies() []float64 {
	out := make([]float64, f.n)
	copy(out, f.naturalFreq)
	return out
}

// Step advances all field arrays by one explicit-Euler step of dt simulated
// seconds. A non-positive dt falls back to the configured default.
func (f *Field) Step(dt float64) {
	if dt <= 0 {
		dt = f.cfg.DT
	}
	n := f.n
	cfg := f.cfg

	newIntent := make([]float64, n)
	newLove := make([]float64, n)
	newPhase := make([]float64, n)
	newCoherence := make([]float64, len(f.edges))

	for i := 0; i < n; i++ {
		lapPotential := 0.0
		lapIntent := 0.0
		lapLove := 0.0
		loveGrad := 0.0
		kuramoto := 0.0
		for j := 0; j < n; j++ {
			if !f.adj[i][j] {
				continue
			}
			lapPotential += f.potential[j] - f.potential[i]
			lapIntent += f.intent[j] - f.intent[i]
			lapLove += f.love[j] - f.love[i]
			loveGrad += (f.love[i] + f.love[j]) / 2 * (f.love[j] - f.love[i])
			kuramoto += math.Sin(f.phase[j] - f.phase[i])
		}

		flux := 0.0
		for _, e := range f.nodeEdges[i] {
			flux += f.incidenceSign(i, e) * f.edgeCoherence[e]
		}

		dIntent := cfg.Diffusion*lapPotential +
			cfg.Sigma*flux -
			cfg.Diffusion*lapIntent +
			cfg.LoveCoupling*loveGrad +
			f.source[i] -
			cfg.Decay*f.intent[i] +
			cfg.LoveGain*f.love[i]
		newIntent[i] = f.intent[i] + dt*dIntent

		dLove := -cfg.LoveDamping*f.love[i] +
			cfg.LoveDiffusion*lapLove +
			cfg.LoveGrowth*f.love[i]*f.intent[i]
		newLove[i] = clamp01(f.love[i] + dt*dLove)

		dPhase := f.naturalFreq[i] +
			cfg.PhaseCoupling*kuramoto +
			cfg.LoveGain*f.potential[i]
		newPhase[i] = wrapPhase(f.phase[i] + dt*dPhase)
	}

	for e, edge := range f.edges {
		edgeLap := 0.0
		for _, other := range f.edgePeers[e] {
			edgeLap += f.edgeCoherence[other] - f.edgeCoherence[e]
		}
		dCoherence := (f.potential[edge.A] - f.potential[edge.B]) -
			cfg.EdgeDamping*f.edgeCoherence[e] +
			cfg.EdgeDiffusion*edgeLap +
			cfg.EdgeIntentGain*(f.intent[edge.A]-f.intent[edge.B])
		newCoherence[e] = f.edgeCoherence[e] + dt*dCoherence
	}

	copy(f.intent, newIntent)
	copy(f.love, newLove)
	copy(f.phase, newPhase)
	copy(f.edgeCoherence, newCoherence)
	// Simplified Poisson relation: potential tracks intent.
	copy(f.potential, f.intent)

	f.elapsed += dt
	f.expireReversions()
}

// incidenceSign is the inflow incidence of agent i on edge e. Positive
// coherence on e=(A,B) transports intent from A toward B, so the sign is -1
// at A, +1 at B and 0 off the edge.
func (f *Field) incidenceSign(i, e int) float64 {
	switch {
	case f.edges[e].A == i:
		return -1
	case f.edges[e].B == i:
		return 1
	default:
		return 0
	}
}

// edgeCurrents fills out with the per-edge current of the present state.
func (f *Field) edgeCurrents(out []float64) {
	for e, edge := range f.edges {
		avgLove := (f.love[edge.A] + f.love[edge.B]) / 2
		out[e] = (f.potential[edge.A] - f.potential[edge.B]) +
			f.cfg.Sigma*f.edgeCoherence[e] -
			f.cfg.Diffusion*(f.intent[edge.A]-f.intent[edge.B]) +
			f.cfg.LoveCoupling*avgLove*(f.love[edge.A]-f.love[edge.B])
	}
}

func wrapPhase(p float64) float64 {
	p = math.Mod(p, twoPi)
	if p < 0 {
		p += twoPi
	}
	return p
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

var errAgentIndex = errors.New("field: agent index out of range")
