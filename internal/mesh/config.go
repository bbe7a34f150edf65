package mesh

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/s0fractal/consciousness-mesh-sub001/internal/field"
	"github.com/s0fractal/consciousness-mesh-sub001/internal/mesh/transport"
)

// Duration is a time.Duration that unmarshals from YAML strings like "250ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: bad duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std converts to time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds one node's construction-time settings. Nothing here is
// reloadable at runtime.
type Config struct {
	// NodeID identifies this node on the wire; a UUID is generated when
	// left empty.
	NodeID string `yaml:"node_id"`

	// StepInterval drives FieldSimulator.Step; SyncInterval drives the
	// broadcast/consensus cycle.
	StepInterval Duration `yaml:"step_interval"`
	SyncInterval Duration `yaml:"sync_interval"`

	// ConsensusThreshold is the agreement ratio needed to fire consensus;
	// ConsensusEpsilon is the L1 metric distance that counts as agreeing.
	ConsensusThreshold float64 `yaml:"consensus_threshold"`
	ConsensusEpsilon   float64 `yaml:"consensus_epsilon"`

	// PhaseSyncThreshold is the flattened phase variance below which a
	// phase-sync resonance pattern is emitted; LoveResonanceThreshold is
	// the mean peer love above which love-resonance is emitted.
	PhaseSyncThreshold     float64 `yaml:"phase_sync_threshold"`
	LoveResonanceThreshold float64 `yaml:"love_resonance_threshold"`

	// SharedStateCapacity bounds the shared-state table;
	// ThoughtHistory bounds the retained thought log;
	// SnapshotArchive bounds the compressed local snapshot ring;
	// EventBuffer sizes each outbound event stream.
	SharedStateCapacity int `yaml:"shared_state_capacity"`
	ThoughtHistory      int `yaml:"thought_history"`
	SnapshotArchive     int `yaml:"snapshot_archive"`
	EventBuffer         int `yaml:"event_buffer"`

	// ThoughtRate limits inbound thought-broadcasts per peer per second.
	ThoughtRate struct {
		PerSecond int64 `yaml:"per_second"`
		Burst     int64 `yaml:"burst"`
	} `yaml:"thought_rate"`

	Transport transport.Config `yaml:"transport"`
	Field     field.Config     `yaml:"field"`
}

// DefaultConfig returns the documented defaults: 100ms simulation steps,
// 1s sync cycles, 0.66 consensus threshold over a 10-agent ring.
func DefaultConfig() Config {
	cfg := Config{
		StepInterval:           Duration(100 * time.Millisecond),
		SyncInterval:           Duration(time.Second),
		ConsensusThreshold:     0.66,
		ConsensusEpsilon:       0.3,
		PhaseSyncThreshold:     0.01,
		LoveResonanceThreshold: 0.7,
		SharedStateCapacity:    128,
		ThoughtHistory:         256,
		SnapshotArchive:        32,
		EventBuffer:            64,
		Transport:              transport.DefaultConfig(),
		Field:                  field.DefaultConfig(),
	}
	cfg.ThoughtRate.PerSecond = 20
	cfg.ThoughtRate.Burst = 40
	return cfg
}

// Load reads a YAML config file over the defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate fills the node id when absent and rejects unusable settings.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		c.NodeID = uuid.NewString()
	}
	if c.StepInterval <= 0 {
		return errors.New("config: step_interval must be positive")
	}
	if c.SyncInterval <= 0 {
		return errors.New("config: sync_interval must be positive")
	}
	if c.ConsensusThreshold <= 0 || c.ConsensusThreshold > 1 {
		return fmt.Errorf("config: consensus_threshold %v outside (0,1]", c.ConsensusThreshold)
	}
	if c.ConsensusEpsilon <= 0 {
		return errors.New("config: consensus_epsilon must be positive")
	}
	if c.Field.Agents < 2 {
		return fmt.Errorf("config: mesh size %d too small, need at least 2 agents", c.Field.Agents)
	}
	if c.SharedStateCapacity < 2 {
		return errors.New("config: shared_state_capacity must be at least 2")
	}
	if c.EventBuffer < 1 {
		return errors.New("config: event_buffer must be at least 1")
	}
	return nil
}
