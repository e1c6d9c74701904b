package tune

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedPredictor replays canned target deltas and step overrides, so loop
// tests can steer the search without a real accuracy curve.
type scriptedPredictor struct {
	deltas []float64
	steps  []float64 // 0 keeps the current step
	calls  int
}

func (p *scriptedPredictor) NextStep(state *SearchState, _ *History, _ float64) float64 {
	i := p.calls
	p.calls++
	if i >= len(p.deltas) {
		i = len(p.deltas) - 1
	}
	if p.steps != nil && p.steps[i] != 0 {
		state.RateStep = p.steps[i]
	}
	return p.deltas[i]
}

func specWith(mutate func(*SearchConfig)) *CompressionSpec {
	cfg := DefaultSearchConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	return &CompressionSpec{Compression: []AlgorithmSpec{
		{Algorithm: "magnitude_sparsity", AccuracyAware: &cfg},
	}}
}

func constantFuncs(metric float64) TrainingFuncs {
	return TrainingFuncs{
		TrainEpoch: func(CompressionController, Model, int) (float64, error) { return 0.5, nil },
		Validate:   func(Model, int) (float64, error) { return metric, nil },
	}
}

// TestNewAdaptiveLoop_Errors verifies controller resolution and spec lookup
// failures surface at construction time.
func TestNewAdaptiveLoop_Errors(t *testing.T) {
	spec := specWith(nil)

	_, err := NewAdaptiveLoop(spec, basicController{algorithm: "quantization"}, LoopOptions{})
	assert.True(t, errors.Is(err, ErrNoAdaptiveController), "got %v", err)

	_, err = NewAdaptiveLoop(spec, &fakeRateController{algorithm: "filter_pruning"}, LoopOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no accuracy_aware_training section")

	bad := specWith(func(cfg *SearchConfig) { cfg.StepReductionFactor = 1.5 })
	_, err = NewAdaptiveLoop(bad, &fakeRateController{algorithm: "magnitude_sparsity"}, LoopOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step_reduction_factor")

	loop, err := NewAdaptiveLoop(spec, &fakeRateController{algorithm: "magnitude_sparsity"}, LoopOptions{})
	require.NoError(t, err)
	assert.NotNil(t, loop.Runner())
}

// TestAdaptiveLoop_Run_RequiresCallables verifies that a run refuses to start
// without the required training callables.
func TestAdaptiveLoop_Run_RequiresCallables(t *testing.T) {
	loop, err := NewAdaptiveLoop(specWith(nil), &fakeRateController{algorithm: "magnitude_sparsity"}, LoopOptions{})
	require.NoError(t, err)

	_, err = loop.Run(carrierModel{baseline: 80, ok: true}, TrainingFuncs{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "TrainEpoch is required")
}

// TestAdaptiveLoop_Run_RequiresCarriedBaseline verifies that a model without
// a pre-computed baseline accuracy fails the run before any training.
func TestAdaptiveLoop_Run_RequiresCarriedBaseline(t *testing.T) {
	loop, err := NewAdaptiveLoop(specWith(nil), &fakeRateController{algorithm: "magnitude_sparsity", rate: 0.5}, LoopOptions{})
	require.NoError(t, err)

	trainEpochs := 0
	funcs := constantFuncs(80)
	funcs.TrainEpoch = func(CompressionController, Model, int) (float64, error) {
		trainEpochs++
		return 0.5, nil
	}

	_, err = loop.Run(struct{}{}, funcs)

	assert.True(t, errors.Is(err, ErrMissingBaseline), "got %v", err)
	assert.Equal(t, 0, trainEpochs, "a run without a baseline must not train")
}

// TestAdaptiveLoop_Run_InfeasibleTarget verifies the abort when the
// predicted target rate falls below the minimal compression rate.
func TestAdaptiveLoop_Run_InfeasibleTarget(t *testing.T) {
	ctrl := &fakeRateController{algorithm: "magnitude_sparsity", rate: 0.5}
	loop, err := NewAdaptiveLoop(
		specWith(func(cfg *SearchConfig) { cfg.InitialTrainingPhaseEpochs = 1 }),
		ctrl,
		LoopOptions{Predictor: &scriptedPredictor{deltas: []float64{-0.48}}},
	)
	require.NoError(t, err)

	_, err = loop.Run(carrierModel{baseline: 80, ok: true}, constantFuncs(80))

	assert.True(t, errors.Is(err, ErrRateBelowMinimum), "got %v", err)
	assert.Equal(t, 1, ctrl.disabledCount)
	assert.Empty(t, ctrl.setRates, "infeasible target must not reach the controller")
}

// TestAdaptiveLoop_Run_EarlySuccessAboveMaximalRate verifies that walking
// off the top of the permitted rate range ends the search successfully with
// the live model, without a rollback.
func TestAdaptiveLoop_Run_EarlySuccessAboveMaximalRate(t *testing.T) {
	store := &fakeStore{}
	ctrl := &fakeRateController{algorithm: "magnitude_sparsity", rate: 0.5}
	loop, err := NewAdaptiveLoop(
		specWith(func(cfg *SearchConfig) { cfg.InitialTrainingPhaseEpochs = 1 }),
		ctrl,
		LoopOptions{
			Checkpoints:   store,
			CheckpointDir: "ckpts",
			Predictor:     &scriptedPredictor{deltas: []float64{0.6}},
		},
	)
	require.NoError(t, err)

	model := carrierModel{baseline: 80, ok: true}
	out, err := loop.Run(model, constantFuncs(80))

	require.NoError(t, err)
	assert.Equal(t, Model(model), out)
	assert.Empty(t, store.restores, "early success must not roll back")
	assert.Empty(t, ctrl.setRates, "out-of-range target must not reach the controller")
}

// TestAdaptiveLoop_Run_ForcesPerEpochValidation verifies that the search
// phase validates every epoch even when the config disabled periodic
// validation, and that the finished run rolls back to the starting rate
// recorded after the initial phase.
func TestAdaptiveLoop_Run_ForcesPerEpochValidation(t *testing.T) {
	store := &fakeStore{}
	ctrl := &fakeRateController{algorithm: "magnitude_sparsity", rate: 0.5}
	loop, err := NewAdaptiveLoop(
		specWith(func(cfg *SearchConfig) {
			cfg.InitialTrainingPhaseEpochs = 2
			cfg.ValidateEveryNEpochs = 0
		}),
		ctrl,
		LoopOptions{
			Checkpoints:   store,
			CheckpointDir: "ckpts",
			// One in-range move, with the step collapsing below the minimum
			// so the search ends after a single phase epoch.
			Predictor: &scriptedPredictor{deltas: []float64{0.1}, steps: []float64{0.01}},
		},
	)
	require.NoError(t, err)

	validations := 0
	funcs := constantFuncs(80)
	funcs.Validate = func(Model, int) (float64, error) {
		validations++
		return 80, nil
	}

	_, err = loop.Run(carrierModel{baseline: 80, ok: true}, funcs)

	require.NoError(t, err)
	// One phase-end validation after the initial epochs, one forced
	// per-epoch validation in the single search epoch.
	assert.Equal(t, 2, validations)
	assert.Equal(t, []string{
		filepath.Join("ckpts", "acc_aware_checkpoint_best_compression_rate_0.500.ckpt"),
	}, store.restores)
}

// TestAdaptiveLoop_Run_SeededRateRestorableAfterRampingSchedule verifies
// that the rate seeding the history after the initial phase has a restorable
// best checkpoint even when the controller's own schedule moved the rate
// mid-phase, leaving the phase best filed under another rate's name.
func TestAdaptiveLoop_Run_SeededRateRestorableAfterRampingSchedule(t *testing.T) {
	store := &fakeStore{}
	ctrl := &fakeRateController{algorithm: "magnitude_sparsity", rate: 0.3, rampPerStep: 0.1}
	loop, err := NewAdaptiveLoop(
		specWith(func(cfg *SearchConfig) { cfg.InitialTrainingPhaseEpochs = 2 }),
		ctrl,
		LoopOptions{
			Checkpoints:   store,
			CheckpointDir: "ckpts",
			Predictor:     &scriptedPredictor{deltas: []float64{0.1}, steps: []float64{0.01}},
		},
	)
	require.NoError(t, err)

	// Accuracy falls as the schedule raises the rate, so the phase best lands
	// on the first initial epoch.
	funcs := TrainingFuncs{
		TrainEpoch: func(CompressionController, Model, int) (float64, error) { return 0.5, nil },
		Validate:   func(Model, int) (float64, error) { return 100 - 50*ctrl.rate, nil },
	}

	_, err = loop.Run(carrierModel{baseline: 80, ok: true}, funcs)

	require.NoError(t, err)
	best := filepath.Join("ckpts", "acc_aware_checkpoint_best_compression_rate_0.500.ckpt")
	assert.Contains(t, store.saves, filepath.Join("ckpts", "acc_aware_checkpoint_best_compression_rate_0.400.ckpt"),
		"the mid-ramp phase best keeps its own file")
	assert.Contains(t, store.saves, best)
	assert.Equal(t, []string{best}, store.restores)
}

// TestAdaptiveLoop_Run_PatienceGatesTargetUpdates verifies that after the
// first target is set, the target only moves once the phase has trained for
// the configured patience, and that schedule control is taken exactly once.
func TestAdaptiveLoop_Run_PatienceGatesTargetUpdates(t *testing.T) {
	store := &fakeStore{}
	ctrl := &fakeRateController{algorithm: "magnitude_sparsity", rate: 0.5}
	predictor := &scriptedPredictor{deltas: []float64{0.05, 0}, steps: []float64{0, 0.01}}
	loop, err := NewAdaptiveLoop(
		specWith(func(cfg *SearchConfig) {
			cfg.InitialTrainingPhaseEpochs = 0
			cfg.PatienceEpochs = 3
		}),
		ctrl,
		LoopOptions{Checkpoints: store, CheckpointDir: "ckpts", Predictor: predictor},
	)
	require.NoError(t, err)

	trainEpochs := 0
	funcs := constantFuncs(80)
	funcs.TrainEpoch = func(CompressionController, Model, int) (float64, error) {
		trainEpochs++
		return 0.5, nil
	}

	_, err = loop.Run(carrierModel{baseline: 80, ok: true}, funcs)

	require.NoError(t, err)
	assert.Equal(t, 2, predictor.calls)
	assert.Equal(t, []float64{0.55, 0.55}, ctrl.setRates)
	assert.Equal(t, 1, ctrl.disabledCount)
	// Three patience epochs at the first target plus one after the second
	// update before the shrunken step ends the search.
	assert.Equal(t, 4, trainEpochs)
}

// TestAdaptiveLoop_Run_NoFeasibleRollback verifies that a search that never
// met the tolerable accuracy fails at rollback time.
func TestAdaptiveLoop_Run_NoFeasibleRollback(t *testing.T) {
	store := &fakeStore{}
	ctrl := &fakeRateController{algorithm: "magnitude_sparsity", rate: 0.5}
	loop, err := NewAdaptiveLoop(
		specWith(func(cfg *SearchConfig) { cfg.InitialTrainingPhaseEpochs = 0 }),
		ctrl,
		LoopOptions{
			Checkpoints:   store,
			CheckpointDir: "ckpts",
			Predictor:     &scriptedPredictor{deltas: []float64{0.1}, steps: []float64{0.01}},
		},
	)
	require.NoError(t, err)

	// Validation stays 2 points under the minimal tolerable accuracy of 79.2.
	_, err = loop.Run(carrierModel{baseline: 80, ok: true}, constantFuncs(77.2))

	assert.True(t, errors.Is(err, ErrNoFeasibleCheckpoint), "got %v", err)
}
