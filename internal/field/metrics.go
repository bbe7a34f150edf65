package field

import "math"

// ratioEpsilon guards ratioOf against zero denominators.
const ratioEpsilon = 1e-9

// Metrics is the scalar summary of a field state. Coherence and Love are
// always in [0,1]; Turbulence and Kohanist are non-negative.
type Metrics struct {
	// Coherence is the magnitude of the mean unit phase vector (Kuramoto
	// order parameter). 1 means perfect phase alignment.
	Coherence float64 `json:"coherence"`
	// Turbulence is the standard deviation of the per-edge currents.
	Turbulence float64 `json:"turbulence"`
	// Love is the mean of the love array.
	Love float64 `json:"love"`
	// Kohanist is the mean pairwise composite of phase alignment, intent
	// magnitude parity and love reciprocity over adjacent agents.
	Kohanist float64 `json:"kohanist"`
}

// Metrics computes the summary metrics of the current state. It is a pure
// read of the field and has no side effects.
func (f *Field) Metrics() Metrics {
	var m Metrics

	sumCos, sumSin := 0.0, 0.0
	for _, p := range f.phase {
		sumCos += math.Cos(p)
		sumSin += math.Sin(p)
	}
	n := float64(f.n)
	m.Coherence = math.Hypot(sumCos/n, sumSin/n)

	if e := len(f.edges); e > 0 {
		currents := make([]float64, e)
		f.edgeCurrents(currents)
		mean := 0.0
		for _, c := range currents {
			mean += c
		}
		mean /= float64(e)
		variance := 0.0
		for _, c := range currents {
			d := c - mean
			variance += d * d
		}
		m.Turbulence = math.Sqrt(variance / float64(e))

		kohanist := 0.0
		for _, edge := range f.edges {
			alignment := math.Max(0, math.Cos(f.phase[edge.A]-f.phase[edge.B]))
			intentParity := ratioOf(f.intent[edge.A], f.intent[edge.B])
			loveParity := ratioOf(f.love[edge.A], f.love[edge.B])
			kohanist += alignment * intentParity * loveParity
		}
		m.Kohanist = kohanist / float64(e)
	}

	m.Love = f.MeanLove()
	return m
}

// ratioOf is min(|a|,|b|) / max(|a|,|b|,ε): 1 when magnitudes match, falling
// toward 0 as they diverge.
func ratioOf(a, b float64) float64 {
	a, b = math.Abs(a), math.Abs(b)
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	return lo / math.Max(hi, ratioEpsilon)
}
