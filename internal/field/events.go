package field

import (
	"fmt"
	"math"
)

// EventKind names a one-shot or timed field perturbation.
type EventKind string

const (
	// PacemakerFlip rotates every phase by π/2 and inverts edge coherence
	// scaled by 0.8. One-shot.
	PacemakerFlip EventKind = "PACEMAKER_FLIP"
	// LoveSurge transiently injects source forcing on every agent and
	// amplifies love growth, reverting after the event duration.
	LoveSurge EventKind = "LOVE_SURGE"
	// ResonanceBoost transiently raises sigma and lowers both dampings,
	// reverting after the event duration.
	ResonanceBoost EventKind = "RESONANCE_BOOST"
	// PairBond aligns phase, intent and love of two named agents to their
	// averages, then amplifies their love. One-shot.
	PairBond EventKind = "PAIR_BOND"
)

// EventParams tunes an event. Zero values select documented defaults.
type EventParams struct {
	// Amplitude scales the perturbation: source injection for LoveSurge,
	// love amplification factor for PairBond.
	Amplitude float64 `json:"amplitude"`
	// Duration is the transient window in simulated seconds for timed
	// events. Reversion is applied at the first step boundary at or past
	// the deadline.
	Duration float64 `json:"duration"`
	// AgentA and AgentB name the pair for PairBond.
	AgentA int `json:"agentA"`
	AgentB int `json:"agentB"`
}

const (
	defaultSurgeAmplitude = 1.0
	defaultEventDuration  = 1.0
	defaultBondFactor     = 1.5

	surgeGrowthFactor  = 3.0
	boostSigmaFactor   = 2.0
	boostDampingFactor = 0.5
	flipCoherenceScale = -0.8
)

// reversion restores transiently modified state once the field's simulated
// time passes the deadline.
type reversion struct {
	deadline float64
	restore  func()
}

// ApplyEvent perturbs the field. Timed events are reverted by Step once
// their duration of simulated time has elapsed. It is safe to apply events
// between steps; an event never straddles a partial step.
func (f *Field) ApplyEvent(kind EventKind, p EventParams) error {
	switch kind {
	case PacemakerFlip:
		for i := range f.phase {
			f.phase[i] = wrapPhase(f.phase[i] + math.Pi/2)
		}
		for e := range f.edgeCoherence {
			f.edgeCoherence[e] *= flipCoherenceScale
		}
		return nil

	case LoveSurge:
		amp := p.Amplitude
		if amp == 0 {
			amp = defaultSurgeAmplitude
		}
		prevSource := make([]float64, f.n)
		copy(prevSource, f.source)
		prevGrowth := f.cfg.LoveGrowth
		for i := range f.source {
			f.source[i] += amp
		}
		f.cfg.LoveGrowth *= surgeGrowthFactor
		f.schedule(p.Duration, func() {
			copy(f.source, prevSource)
			f.cfg.LoveGrowth = prevGrowth
		})
		return nil

	case ResonanceBoost:
		prevSigma := f.cfg.Sigma
		prevEdgeDamping := f.cfg.EdgeDamping
		prevLoveDamping := f.cfg.LoveDamping
		f.cfg.Sigma *= boostSigmaFactor
		f.cfg.EdgeDamping *= boostDampingFactor
		f.cfg.LoveDamping *= boostDampingFactor
		f.schedule(p.Duration, func() {
			f.cfg.Sigma = prevSigma
			f.cfg.EdgeDamping = prevEdgeDamping
			f.cfg.LoveDamping = prevLoveDamping
		})
		return nil

	case PairBond:
		a, b := p.AgentA, p.AgentB
		if a < 0 || a >= f.n || b < 0 || b >= f.n {
			return errAgentIndex
		}
		if a == b {
			return fmt.Errorf("field: pair bond needs two distinct agents, got %d twice", a)
		}
		factor := p.Amplitude
		if factor == 0 {
			factor = defaultBondFactor
		}
		meanPhase := wrapPhase((f.phase[a] + f.phase[b]) / 2)
		meanIntent := (f.intent[a] + f.intent[b]) / 2
		meanLove := (f.love[a] + f.love[b]) / 2
		f.phase[a], f.phase[b] = meanPhase, meanPhase
		f.intent[a], f.intent[b] = meanIntent, meanIntent
		f.potential[a], f.potential[b] = meanIntent, meanIntent
		bonded := clamp01(meanLove * factor)
		f.love[a], f.love[b] = bonded, bonded
		return nil

	default:
		return fmt.Errorf("field: unknown event kind %q", kind)
	}
}

func (f *Field) schedule(duration float64, restore func()) {
	if duration <= 0 {
		duration = defaultEventDuration
	}
	f.reversions = append(f.reversions, reversion{
		deadline: f.elapsed + duration,
		restore:  restore,
	})
}

// expireReversions runs at the end of each step. Reversions fire in the
// order they were scheduled so nested transients unwind oldest-first.
func (f *Field) expireReversions() {
	if len(f.reversions) == 0 {
		return
	}
	remaining := f.reversions[:0]
	for _, r := range f.reversions {
		if f.elapsed >= r.deadline {
			r.restore()
		} else {
			remaining = append(remaining, r)
		}
	}
	f.reversions = remaining
}
