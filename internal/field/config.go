package field

// Config holds the coupling constants for one field instance. Constants are
// fixed at construction and only change transiently through ApplyEvent.
type Config struct {
	// Agents is the number of agents N. Immutable after construction.
	Agents int `json:"agents" yaml:"agents"`

	// DT is the default integration step in simulated seconds.
	DT float64 `json:"dt" yaml:"dt"`

	// Sigma couples edge coherence into the per-edge current and intent flow.
	Sigma float64 `json:"sigma" yaml:"sigma"`
	// Diffusion weights graph-Laplacian diffusion of potential and intent.
	Diffusion float64 `json:"diffusion" yaml:"diffusion"`
	// LoveCoupling weights the love-gradient term in the intent update.
	LoveCoupling float64 `json:"love_coupling" yaml:"love_coupling"`
	// Decay damps intent toward zero.
	Decay float64 `json:"decay" yaml:"decay"`
	// LoveGain feeds the love field into intent and potential into phase.
	LoveGain float64 `json:"love_gain" yaml:"love_gain"`

	// EdgeDamping damps edge coherence.
	EdgeDamping float64 `json:"edge_damping" yaml:"edge_damping"`
	// EdgeDiffusion weights diffusion among edges sharing a node.
	EdgeDiffusion float64 `json:"edge_diffusion" yaml:"edge_diffusion"`
	// EdgeIntentGain feeds the intent difference across an edge back into
	// that edge's coherence.
	EdgeIntentGain float64 `json:"edge_intent_gain" yaml:"edge_intent_gain"`

	// LoveDamping, LoveDiffusion and LoveGrowth drive the love field update.
	LoveDamping   float64 `json:"love_damping" yaml:"love_damping"`
	LoveDiffusion float64 `json:"love_diffusion" yaml:"love_diffusion"`
	LoveGrowth    float64 `json:"love_growth" yaml:"love_growth"`

	// PhaseCoupling is the Kuramoto coupling strength K.
	PhaseCoupling float64 `json:"phase_coupling" yaml:"phase_coupling"`

	// BaseFrequency and FrequencySpread set the per-agent natural phase
	// velocities at init: base plus a seeded uniform jitter in
	// [-spread, +spread].
	BaseFrequency   float64 `json:"base_frequency" yaml:"base_frequency"`
	FrequencySpread float64 `json:"frequency_spread" yaml:"frequency_spread"`
	Seed            int64   `json:"seed" yaml:"seed"`
}

// DefaultConfig returns coupling constants that keep the explicit-Euler
// integration stable at the default step.
func DefaultConfig() Config {
	return Config{
		Agents:          10,
		DT:              0.1,
		Sigma:           0.5,
		Diffusion:       0.1,
		LoveCoupling:    0.2,
		Decay:           0.1,
		LoveGain:        0.05,
		EdgeDamping:     0.3,
		EdgeDiffusion:   0.05,
		EdgeIntentGain:  0.1,
		LoveDamping:     0.05,
		LoveDiffusion:   0.1,
		LoveGrowth:      0.3,
		PhaseCoupling:   0.5,
		BaseFrequency:   1.0,
		FrequencySpread: 0.1,
		Seed:            42,
	}
}
