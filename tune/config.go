package tune

import (
	"bytes"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// SteppingModeUniform selects the sign-based step policy: a fixed step whose
// magnitude shrinks by StepReductionFactor whenever the accuracy budget sign
// flips between phases.
const SteppingModeUniform = "uniform_decrease"

// SteppingModeInterpolate selects the curve-fitting step policy: the next
// target rate is read off an interpolated accuracy-budget-vs-rate curve.
const SteppingModeInterpolate = "interpolate"

// ValidSteppingModes is the set of recognized stepping mode names.
// Empty string defaults to interpolate.
var ValidSteppingModes = map[string]bool{
	"":                      true,
	SteppingModeUniform:     true,
	SteppingModeInterpolate: true,
}

// SearchConfig holds the accuracy-aware rate-search parameters for one
// compression algorithm (the accuracy_aware_training section of an
// AlgorithmSpec). Zero values are not meaningful defaults; start from
// DefaultSearchConfig or load from YAML, which applies defaults first.
type SearchConfig struct {
	// MaximalAccuracyDrop is the tolerable accuracy degradation relative to
	// the uncompressed baseline, in percent. The minimal tolerable accuracy
	// is baseline * (1 - MaximalAccuracyDrop/100).
	MaximalAccuracyDrop float64 `yaml:"maximal_accuracy_drop"`

	// InitialTrainingPhaseEpochs is the number of unconditional training
	// epochs run at the starting compression rate before the search begins.
	InitialTrainingPhaseEpochs int `yaml:"initial_training_phase_epochs"`

	// PatienceEpochs is how many epochs a phase trains at a fixed target rate
	// before the target is re-evaluated.
	PatienceEpochs int `yaml:"patience_epochs"`

	// ValidateEveryNEpochs controls periodic validation inside a phase.
	// 0 disables periodic validation (only phase-end validations run).
	// The search loop always forces per-epoch validation once it starts.
	ValidateEveryNEpochs int `yaml:"validate_every_n_epochs"`

	// MinimalCompressionRateStep terminates the search once the step between
	// consecutive target rates shrinks below this value.
	MinimalCompressionRateStep float64 `yaml:"minimal_compression_rate_step"`

	// MaximalTotalEpochs caps the total number of training epochs across all
	// phases, including the initial training phase.
	MaximalTotalEpochs int `yaml:"maximal_total_epochs"`

	// InitialCompressionRateStep seeds the step size for the sign-based
	// policy before any oscillation shrinks it.
	InitialCompressionRateStep float64 `yaml:"initial_compression_rate_step"`

	// StepReductionFactor scales the step down on oscillation. Must be in (0, 1).
	StepReductionFactor float64 `yaml:"step_reduction_factor"`

	// MinimalCompressionRate is the lowest target rate worth compressing for.
	// A predicted target below it aborts the search as infeasible.
	MinimalCompressionRate float64 `yaml:"minimal_compression_rate"`

	// MaximalCompressionRate is the highest permitted target rate. A predicted
	// target above it ends the search successfully with the current model.
	MaximalCompressionRate float64 `yaml:"maximal_compression_rate"`

	// HigherIsBetter states the metric direction: true for accuracy-like
	// metrics, false for loss-like metrics.
	HigherIsBetter bool `yaml:"higher_is_better"`

	// SteppingMode selects the step predictor. See ValidSteppingModes.
	SteppingMode string `yaml:"stepping_mode"`

	// FullCompressionFactor is the K in the synthetic boundary point
	// (rate 1.0 -> -K * MaximalAccuracyDrop) used by the interpolate policy.
	FullCompressionFactor float64 `yaml:"full_compression_factor"`

	// CurveSamples is the number of points the interpolate policy samples
	// over [0, 1] when locating the zero-budget rate.
	CurveSamples int `yaml:"curve_samples"`
}

// DefaultSearchConfig returns the standard search parameters.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		MaximalAccuracyDrop:        1.0,
		InitialTrainingPhaseEpochs: 5,
		PatienceEpochs:             3,
		ValidateEveryNEpochs:       1,
		MinimalCompressionRateStep: 0.025,
		MaximalTotalEpochs:         10000,
		InitialCompressionRateStep: 0.1,
		StepReductionFactor:        0.5,
		MinimalCompressionRate:     0.05,
		MaximalCompressionRate:     0.95,
		HigherIsBetter:             true,
		SteppingMode:               SteppingModeInterpolate,
		FullCompressionFactor:      10,
		CurveSamples:               1000,
	}
}

// searchConfigKeys mirrors the yaml tags on SearchConfig. A custom
// unmarshaler takes the node over from the strict decoder, so unknown keys
// have to be rejected here by hand.
var searchConfigKeys = map[string]bool{
	"maximal_accuracy_drop":         true,
	"initial_training_phase_epochs": true,
	"patience_epochs":               true,
	"validate_every_n_epochs":       true,
	"minimal_compression_rate_step": true,
	"maximal_total_epochs":          true,
	"initial_compression_rate_step": true,
	"step_reduction_factor":         true,
	"minimal_compression_rate":      true,
	"maximal_compression_rate":      true,
	"higher_is_better":              true,
	"stepping_mode":                 true,
	"full_compression_factor":       true,
	"curve_samples":                 true,
}

// UnmarshalYAML decodes a SearchConfig on top of DefaultSearchConfig, so
// omitted keys keep their defaults (including the non-zero ones like
// higher_is_better).
func (c *SearchConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: accuracy_aware_training must be a mapping", value.Line)
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		key := value.Content[i]
		if !searchConfigKeys[key.Value] {
			return fmt.Errorf("line %d: unknown accuracy_aware_training key %q", key.Line, key.Value)
		}
	}
	type plain SearchConfig
	out := plain(DefaultSearchConfig())
	if err := value.Decode(&out); err != nil {
		return err
	}
	*c = SearchConfig(out)
	return nil
}

// Validate checks parameter ranges and the stepping mode name.
func (c *SearchConfig) Validate() error {
	if c.MaximalAccuracyDrop < 0 || math.IsNaN(c.MaximalAccuracyDrop) || math.IsInf(c.MaximalAccuracyDrop, 0) {
		return fmt.Errorf("maximal_accuracy_drop must be a non-negative percentage, got %v", c.MaximalAccuracyDrop)
	}
	if c.InitialTrainingPhaseEpochs < 0 {
		return fmt.Errorf("initial_training_phase_epochs must be non-negative, got %d", c.InitialTrainingPhaseEpochs)
	}
	if c.PatienceEpochs < 0 {
		return fmt.Errorf("patience_epochs must be non-negative, got %d", c.PatienceEpochs)
	}
	if c.ValidateEveryNEpochs < 0 {
		return fmt.Errorf("validate_every_n_epochs must be non-negative, got %d", c.ValidateEveryNEpochs)
	}
	if c.MinimalCompressionRateStep <= 0 {
		return fmt.Errorf("minimal_compression_rate_step must be positive, got %f", c.MinimalCompressionRateStep)
	}
	if c.MaximalTotalEpochs < 1 {
		return fmt.Errorf("maximal_total_epochs must be at least 1, got %d", c.MaximalTotalEpochs)
	}
	if c.InitialCompressionRateStep <= 0 {
		return fmt.Errorf("initial_compression_rate_step must be positive, got %f", c.InitialCompressionRateStep)
	}
	if c.StepReductionFactor <= 0 || c.StepReductionFactor >= 1 {
		return fmt.Errorf("step_reduction_factor must be in (0, 1), got %f", c.StepReductionFactor)
	}
	if c.MinimalCompressionRate < 0 || c.MinimalCompressionRate >= c.MaximalCompressionRate || c.MaximalCompressionRate > 1 {
		return fmt.Errorf("compression rate bounds must satisfy 0 <= minimal < maximal <= 1, got [%f, %f]",
			c.MinimalCompressionRate, c.MaximalCompressionRate)
	}
	if !ValidSteppingModes[c.SteppingMode] {
		return fmt.Errorf("unknown stepping_mode %q; valid: %s, %s", c.SteppingMode, SteppingModeUniform, SteppingModeInterpolate)
	}
	if c.FullCompressionFactor <= 0 {
		return fmt.Errorf("full_compression_factor must be positive, got %f", c.FullCompressionFactor)
	}
	if c.CurveSamples < 2 {
		return fmt.Errorf("curve_samples must be at least 2, got %d", c.CurveSamples)
	}
	return nil
}

// AlgorithmSpec configures one compression algorithm. The algorithm's own
// transformation parameters live with the algorithm implementation; this spec
// carries only the identifier and the optional accuracy-aware section the
// search loop consumes.
type AlgorithmSpec struct {
	Algorithm     string        `yaml:"algorithm"`
	AccuracyAware *SearchConfig `yaml:"accuracy_aware_training"`
}

// CompressionSpec is the top-level compression configuration: an ordered list
// of algorithm entries. Exactly one entry must name an adaptive-capable
// algorithm with an accuracy_aware_training section for the adaptive loop to
// resolve against.
type CompressionSpec struct {
	Compression []AlgorithmSpec `yaml:"compression"`
}

// SearchConfigFor returns the accuracy-aware section for the named algorithm,
// or nil if the algorithm is absent or carries no section.
func (s *CompressionSpec) SearchConfigFor(algorithm string) *SearchConfig {
	for i := range s.Compression {
		if s.Compression[i].Algorithm == algorithm {
			return s.Compression[i].AccuracyAware
		}
	}
	return nil
}

// Validate checks algorithm entries and any accuracy-aware sections.
func (s *CompressionSpec) Validate() error {
	if len(s.Compression) == 0 {
		return fmt.Errorf("compression spec has no algorithm entries")
	}
	seen := make(map[string]bool, len(s.Compression))
	for i := range s.Compression {
		name := s.Compression[i].Algorithm
		if name == "" {
			return fmt.Errorf("compression entry %d has no algorithm name", i)
		}
		if seen[name] {
			return fmt.Errorf("duplicate compression entry for algorithm %q", name)
		}
		seen[name] = true
		if cfg := s.Compression[i].AccuracyAware; cfg != nil {
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("accuracy_aware_training for %q: %w", name, err)
			}
		}
	}
	return nil
}

// LoadCompressionSpec reads and strictly parses a YAML compression spec.
// Unknown keys are rejected so typos in recognized option names surface
// immediately.
func LoadCompressionSpec(path string) (*CompressionSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading compression spec: %w", err)
	}
	var spec CompressionSpec
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&spec); err != nil {
		return nil, fmt.Errorf("parsing compression spec: %w", err)
	}
	return &spec, nil
}
