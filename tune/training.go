package tune

import (
	"errors"
	"math"
)

// ErrMissingBaseline reports that the uncompressed reference metric could not
// be established before the search started.
var ErrMissingBaseline = errors.New("missing baseline accuracy")

// Model is the trainable model under compression. The search machinery
// treats it as opaque: the user callables operate on it and checkpoint IO
// persists it. Models that know their uncompressed validation metric ahead
// of time additionally implement BaselineCarrier.
type Model any

// BaselineCarrier is the optional capability for models that carry their
// uncompressed validation metric, measured before compression was applied.
type BaselineCarrier interface {
	BaselineAccuracy() (float64, bool)
}

// TrainEpochFunc runs one epoch of compression-aware training and returns
// the mean training loss. The epoch index is the cumulative epoch count
// across all search phases.
type TrainEpochFunc func(ctrl CompressionController, model Model, epoch int) (float64, error)

// ValidateFunc evaluates the model and returns the validation metric the
// search budget is computed from. The epoch index is the cumulative epoch
// count at the time of the call.
type ValidateFunc func(model Model, epoch int) (float64, error)

// ConfigureOptimizersFunc rebuilds optimizer state before the initial
// training phase.
type ConfigureOptimizersFunc func() error

// TrainingFuncs bundles the user-supplied callables for one search run.
// TrainEpoch and Validate are required; ConfigureOptimizers may be nil.
type TrainingFuncs struct {
	TrainEpoch          TrainEpochFunc
	Validate            ValidateFunc
	ConfigureOptimizers ConfigureOptimizersFunc
}

// Check reports whether the required callables are present.
func (f TrainingFuncs) Check() error {
	if f.TrainEpoch == nil {
		return errors.New("training funcs: TrainEpoch is required")
	}
	if f.Validate == nil {
		return errors.New("training funcs: Validate is required")
	}
	return nil
}

// SearchState is the mutable bookkeeping of one compression-rate search.
// The runner owns it; the orchestrator and the step predictor read and write
// it through the runner. Optional values carry an explicit Set/Valid flag
// next to them rather than encoding absence in a magic number.
type SearchState struct {
	// CumulativeEpochCount counts training epochs across the whole run.
	CumulativeEpochCount int
	// TrainingEpochCount counts training epochs since the last reset, i.e.
	// within the current search phase.
	TrainingEpochCount int

	// BestMetric is the best validation metric seen since the last reset.
	// Reset installs an infinity sentinel on the losing side of the metric
	// direction, so the first validation always wins.
	BestMetric float64
	// CurrentMetric is the result of the most recent validation.
	CurrentMetric      float64
	CurrentMetricValid bool

	// RateTarget is the compression rate the current phase trains at.
	// Unset until the search sets its first target.
	RateTarget    float64
	RateTargetSet bool
	// RateStep is the magnitude of the most recent target change. The
	// search terminates once it shrinks below the configured minimum.
	RateStep float64

	// AccuracyBudget is CurrentMetric minus MinimalTolerableAccuracy.
	// Non-negative means the compressed model is within tolerance.
	AccuracyBudget float64

	// LastStepDirection records the sign of the accuracy budget at the
	// previous target update: -1, 0 or +1. Unset before the first update.
	// A sign change between updates signals oscillation around the optimum.
	LastStepDirection    float64
	LastStepDirectionSet bool

	// BaselineAccuracy is the uncompressed reference metric.
	BaselineAccuracy float64
	// MinimalTolerableAccuracy is the lowest acceptable validation metric,
	// BaselineAccuracy scaled down by the configured maximal drop.
	MinimalTolerableAccuracy float64
}

// ResetBest clears the phase-best metric to the sentinel that loses against
// any real validation result for the given metric direction.
func (s *SearchState) ResetBest(higherIsBetter bool) {
	if higherIsBetter {
		s.BestMetric = math.Inf(-1)
	} else {
		s.BestMetric = math.Inf(1)
	}
}

// TrainingRunner executes the per-epoch mechanics of an accuracy-aware
// search: stepping schedulers, invoking the user callables, tracking metric
// state, dumping checkpoints and recording the rate-to-budget history.
// Runner is the standard implementation; host-framework integrations may
// substitute their own.
type TrainingRunner interface {
	// SetTrainingFuncs installs the user callables for the run.
	SetTrainingFuncs(funcs TrainingFuncs)

	// RetrieveBaseline establishes BaselineAccuracy and the derived
	// MinimalTolerableAccuracy from the model, or fails with
	// ErrMissingBaseline.
	RetrieveBaseline(model Model) error

	// ConfigureOptimizers invokes the optional optimizer setup callable.
	ConfigureOptimizers() error

	// TrainEpoch steps the compression scheduler, trains for one epoch and
	// runs the periodic validation if one is due. It reports the validation
	// metric and whether validation ran this epoch.
	TrainEpoch(model Model, ctrl CompressionController) (metric float64, validated bool, err error)

	// Validate runs the validation callable, updates the phase-best metric
	// and records the result as the current metric.
	Validate(model Model) (float64, error)

	// DumpCheckpoint persists the model after an epoch, and additionally
	// under a per-rate best name when the current metric is the phase best.
	DumpCheckpoint(model Model, ctrl CompressionController) error

	// UpdateTrainingHistory records the accuracy budget reached at the
	// given compression rate, derived from the given best metric.
	UpdateTrainingHistory(rate, bestMetric float64)

	// TrainingHistory returns the recorded rate-to-budget mapping.
	TrainingHistory() *History

	// LoadBestCheckpoint restores the checkpoint of the highest compression
	// rate whose recorded budget is non-negative, returning that rate.
	LoadBestCheckpoint(model Model) (float64, error)

	// ResetTraining starts a new search phase: the phase epoch counter goes
	// back to zero and the phase-best metric is cleared.
	ResetTraining()

	// EmitScalar forwards a scalar to the telemetry sink, keyed by the
	// given step. Fire-and-forget.
	EmitScalar(key string, value float64, step int)

	// SetValidateEveryN changes the periodic validation cadence. Zero
	// disables periodic validation.
	SetValidateEveryN(n int)

	// State exposes the runner's mutable search state.
	State() *SearchState
}

// BestCheckpointDumper is the optional TrainingRunner capability to file a
// best-named checkpoint for the current naming rate independent of the
// metric bookkeeping the regular dump consults. The adaptive loop calls it
// after the initial training phase, so the seeded starting rate always has a
// restorable best file.
type BestCheckpointDumper interface {
	DumpBestCheckpoint(model Model, ctrl CompressionController) error
}

// TrainingLoop runs a complete accuracy-aware training session over a model.
type TrainingLoop interface {
	// Run drives the model through the search and returns it holding the
	// final (best feasible) compression state.
	Run(model Model, funcs TrainingFuncs) (Model, error)
}
