package tune

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/vanyalzr/nncf/tune/telemetry"
)

// ErrRateBelowMinimum reports that the search drove the target compression
// rate under the configured minimum, i.e. no rate worth compressing for can
// hold the tolerable accuracy.
var ErrRateBelowMinimum = errors.New("cannot produce a compressed model with the specified minimal tolerable accuracy")

// Telemetry keys emitted during a search run. Controller statistics
// additionally go out under ScalarStatisticsPrefix + statistic name.
const (
	ScalarMetricValue      = "val/accuracy_aware/metric_value"
	ScalarAccuracyBudget   = "val/accuracy_aware/accuracy_budget"
	ScalarTargetRate       = "compression/accuracy_aware/target_compression_rate"
	ScalarRateStep         = "compression/accuracy_aware/compression_rate_step"
	ScalarStatisticsPrefix = "compression/statistics/"
)

// LoopOptions carries the infrastructure the adaptive loop wires into its
// standard runner. The zero value gives a runner without checkpointing or
// telemetry, which is enough for dry runs but rules out final rollback.
type LoopOptions struct {
	CheckpointDir string
	CheckpointTag string
	Checkpoints   CheckpointIO
	Telemetry     telemetry.Sink

	// Runner substitutes a custom TrainingRunner, e.g. one bridging a host
	// training framework. The checkpoint and telemetry fields above only
	// apply to the standard runner and are ignored when Runner is set.
	Runner TrainingRunner

	// Predictor substitutes a custom step predictor. Nil selects the one
	// named by the search config's stepping_mode.
	Predictor StepPredictor
}

// AdaptiveLoop searches for the maximal compression rate that keeps the
// model within the tolerable accuracy drop. A run starts with an initial
// training phase at the controller's own schedule, then takes over the rate:
// train for up to patience epochs at a fixed target, measure the accuracy
// budget, predict the next target, and repeat until the step size shrinks
// below the configured minimum or the epoch budget runs out. The model
// finishes holding the checkpoint of the best feasible rate found.
type AdaptiveLoop struct {
	cfg       SearchConfig
	ctrl      RateController
	runner    TrainingRunner
	predictor StepPredictor
}

var _ TrainingLoop = (*AdaptiveLoop)(nil)

// NewAdaptiveLoop resolves the adaptive controller inside ctrl, pairs it
// with its accuracy_aware_training section from the compression spec and
// assembles the loop around them.
func NewAdaptiveLoop(spec *CompressionSpec, ctrl CompressionController, opts LoopOptions) (*AdaptiveLoop, error) {
	rc, err := ResolveRateController(ctrl)
	if err != nil {
		return nil, err
	}
	cfg := spec.SearchConfigFor(rc.Algorithm())
	if cfg == nil {
		return nil, fmt.Errorf("no accuracy_aware_training section for algorithm %q in the compression spec", rc.Algorithm())
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("accuracy_aware_training for %q: %w", rc.Algorithm(), err)
	}
	runner := opts.Runner
	if runner == nil {
		runner = NewRunner(RunnerConfig{
			Search:        *cfg,
			CheckpointDir: opts.CheckpointDir,
			CheckpointTag: opts.CheckpointTag,
			Checkpoints:   opts.Checkpoints,
			Telemetry:     opts.Telemetry,
		})
	}
	predictor := opts.Predictor
	if predictor == nil {
		predictor = NewStepPredictor(*cfg)
	}
	return &AdaptiveLoop{cfg: *cfg, ctrl: rc, runner: runner, predictor: predictor}, nil
}

// Runner exposes the loop's training runner, mainly so callers can inspect
// the search state and history after a run.
func (l *AdaptiveLoop) Runner() TrainingRunner {
	return l.runner
}

// Run drives the search. It returns the model restored to the best feasible
// compression state, or the live model when the search walks off the top of
// the permitted rate range.
func (l *AdaptiveLoop) Run(model Model, funcs TrainingFuncs) (Model, error) {
	if err := funcs.Check(); err != nil {
		return nil, err
	}
	l.runner.SetTrainingFuncs(funcs)
	if err := l.runner.RetrieveBaseline(model); err != nil {
		return nil, err
	}
	if err := l.runInitialPhase(model); err != nil {
		return nil, err
	}

	state := l.runner.State()
	l.runner.EmitScalar(ScalarTargetRate, l.ctrl.CompressionRate(), state.CumulativeEpochCount)
	l.runner.UpdateTrainingHistory(l.ctrl.CompressionRate(), state.BestMetric)

	l.runner.SetValidateEveryN(1)
	for state.RateStep >= l.cfg.MinimalCompressionRateStep && state.CumulativeEpochCount < l.cfg.MaximalTotalEpochs {
		if state.RateTargetSet {
			l.runner.UpdateTrainingHistory(state.RateTarget, state.BestMetric)
		}
		changed := l.updateTargetRate()
		logrus.Infof("current target compression rate: %.3f", state.RateTarget)
		logrus.Infof("current accuracy budget: %.3f", state.AccuracyBudget)
		logrus.Infof("current compression rate step: %.3f", state.RateStep)

		if changed {
			if state.RateTarget < l.cfg.MinimalCompressionRate {
				return nil, fmt.Errorf("%w: target rate %.3f is below the minimal compression rate %.3f",
					ErrRateBelowMinimum, state.RateTarget, l.cfg.MinimalCompressionRate)
			}
			if state.RateTarget > l.cfg.MaximalCompressionRate {
				logrus.Infof("reached the maximal possible compression rate %.3f", l.cfg.MaximalCompressionRate)
				return model, nil
			}
			l.runner.ResetTraining()
			l.ctrl.SetCompressionRate(state.RateTarget)
			l.runner.EmitScalar(ScalarTargetRate, state.RateTarget, state.CumulativeEpochCount)
			l.runner.EmitScalar(ScalarRateStep, state.RateStep, state.CumulativeEpochCount)
		}

		metric, validated, err := l.runner.TrainEpoch(model, l.ctrl)
		if err != nil {
			return nil, err
		}
		if validated {
			state.AccuracyBudget = metric - state.MinimalTolerableAccuracy
			l.runner.EmitScalar(ScalarAccuracyBudget, state.AccuracyBudget, state.CumulativeEpochCount)
		}
	}

	rate, err := l.runner.LoadBestCheckpoint(model)
	if err != nil {
		return nil, err
	}
	logrus.Infof("final compression rate after rollback: %.3f", rate)
	return model, nil
}

// runInitialPhase trains at the controller's own schedule before the search
// takes over, establishes the starting accuracy budget and files a best
// checkpoint for the final rate so the seeded history entry is restorable.
func (l *AdaptiveLoop) runInitialPhase(model Model) error {
	if err := l.runner.ConfigureOptimizers(); err != nil {
		return err
	}
	for i := 0; i < l.cfg.InitialTrainingPhaseEpochs; i++ {
		if _, _, err := l.runner.TrainEpoch(model, l.ctrl); err != nil {
			return err
		}
	}
	metric, err := l.runner.Validate(model)
	if err != nil {
		return err
	}
	state := l.runner.State()
	state.AccuracyBudget = metric - state.MinimalTolerableAccuracy
	l.runner.EmitScalar(ScalarAccuracyBudget, state.AccuracyBudget, state.CumulativeEpochCount)
	logrus.Infof("accuracy budget after the initial training phase: %.4f", state.AccuracyBudget)
	// A schedule that moved the rate mid-phase can leave the phase best filed
	// under an earlier rate's name; the rate the history seeds must have its
	// own best file for the final rollback.
	if dumper, ok := l.runner.(BestCheckpointDumper); ok {
		return dumper.DumpBestCheckpoint(model, l.ctrl)
	}
	return l.runner.DumpCheckpoint(model, l.ctrl)
}

// updateTargetRate re-evaluates the target compression rate. The first call
// sets the initial target and hands schedule control to the search; later
// calls move the target only once the phase has trained for the configured
// patience. It reports whether the target was re-evaluated.
func (l *AdaptiveLoop) updateTargetRate() bool {
	state := l.runner.State()
	current := l.ctrl.CompressionRate()
	bestBudget := state.BestMetric - state.MinimalTolerableAccuracy

	if !state.RateTargetSet {
		delta := l.predictor.NextStep(state, l.runner.TrainingHistory(), current)
		state.RateTarget = current + delta
		state.RateTargetSet = true
		state.LastStepDirection = signOf(bestBudget)
		state.LastStepDirectionSet = true
		l.ctrl.DisableScheduler()
		return true
	}
	if state.TrainingEpochCount >= l.cfg.PatienceEpochs {
		delta := l.predictor.NextStep(state, l.runner.TrainingHistory(), current)
		state.RateTarget += delta
		state.LastStepDirection = signOf(bestBudget)
		state.LastStepDirectionSet = true
		return true
	}
	return false
}
