package field

import "fmt"

// Snapshot is a serialized copy of the field arrays plus the coupling
// configuration. It is what travels inside consciousness-sync messages.
type Snapshot struct {
	Agents           int       `json:"agents"`
	Intent           []float64 `json:"intent"`
	Potential        []float64 `json:"potential"`
	Love             []float64 `json:"love"`
	Phase            []float64 `json:"phase"`
	NaturalFrequency []float64 `json:"naturalFrequency"`
	Source           []float64 `json:"source"`
	EdgeCoherence    []float64 `json:"edgeCoherence"`
	Config           Config    `json:"config"`
}

// ExportSnapshot deep-copies the current state.
func (f *Field) ExportSnapshot() Snapshot {
	s := Snapshot{
		Agents:           f.n,
		Intent:           make([]float64, f.n),
		Potential:        make([]float64, f.n),
		Love:             make([]float64, f.n),
		Phase:            make([]float64, f.n),
		NaturalFrequency: make([]float64, f.n),
		Source:           make([]float64, f.n),
		EdgeCoherence:    make([]float64, len(f.edges)),
		Config:           f.cfg,
	}
	copy(s.Intent, f.intent)
	copy(s.Potential, f.potential)
	copy(s.Love, f.love)
	copy(s.Phase, f.phase)
	copy(s.NaturalFrequency, f.naturalFreq)
	copy(s.Source, f.source)
	copy(s.EdgeCoherence, f.edgeCoherence)
	return s
}

// ImportSnapshot restores a snapshot taken from a field of equal agent count
// and edge count. Pending timed reversions are discarded: the restored
// coupling constants come from the snapshot.
func (f *Field) ImportSnapshot(s Snapshot) error {
	if s.Agents != f.n {
		return fmt.Errorf("field: snapshot has %d agents, field has %d", s.Agents, f.n)
	}
	for name, arr := range map[string][]float64{
		"intent":           s.Intent,
		"potential":        s.Potential,
		"love":             s.Love,
		"phase":            s.Phase,
		"naturalFrequency": s.NaturalFrequency,
		"source":           s.Source,
	} {
		if len(arr) != f.n {
			return fmt.Errorf("field: snapshot %s has %d values, want %d", name, len(arr), f.n)
		}
	}
	if len(s.EdgeCoherence) != len(f.edges) {
		return fmt.Errorf("field: snapshot has %d edge coherence values, want %d", len(s.EdgeCoherence), len(f.edges))
	}

	copy(f.intent, s.Intent)
	copy(f.potential, s.Potential)
	copy(f.love, s.Love)
	copy(f.phase, s.Phase)
	copy(f.naturalFreq, s.NaturalFrequency)
	copy(f.source, s.Source)
	copy(f.edgeCoherence, s.EdgeCoherence)
	cfg := s.Config
	cfg.Agents = f.n
	f.cfg = cfg
	f.reversions = nil
	return nil
}
