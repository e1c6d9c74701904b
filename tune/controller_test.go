package tune

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRateController is an adaptive-capable controller for tests. Its
// scheduler counts epoch steps, raising the rate by rampPerStep each time,
// until the schedule is disabled.
type fakeRateController struct {
	algorithm      string
	rate           float64
	rampPerStep    float64
	disabled       bool
	disabledCount  int
	schedulerSteps int
	setRates       []float64
}

func (f *fakeRateController) Algorithm() string { return f.algorithm }

func (f *fakeRateController) Scheduler() CompressionScheduler {
	if f.disabled {
		return NoopScheduler{}
	}
	return fakeScheduler{ctrl: f}
}

func (f *fakeRateController) Statistics() map[string]float64 {
	return map[string]float64{"level": f.rate}
}

func (f *fakeRateController) CompressionRate() float64 { return f.rate }

func (f *fakeRateController) SetCompressionRate(rate float64) {
	f.rate = rate
	f.setRates = append(f.setRates, rate)
}

func (f *fakeRateController) DisableScheduler() {
	f.disabled = true
	f.disabledCount++
}

type fakeScheduler struct{ ctrl *fakeRateController }

func (s fakeScheduler) EpochStep() {
	s.ctrl.schedulerSteps++
	s.ctrl.rate += s.ctrl.rampPerStep
}

// basicController is a non-adaptive controller for tests.
type basicController struct {
	algorithm string
	stats     map[string]float64
}

func (b basicController) Algorithm() string { return b.algorithm }

func (b basicController) Scheduler() CompressionScheduler { return NoopScheduler{} }

func (b basicController) Statistics() map[string]float64 { return b.stats }

// TestCompositeController_Statistics_PrefixesKeys verifies that child
// statistics are merged under per-algorithm prefixes.
func TestCompositeController_Statistics_PrefixesKeys(t *testing.T) {
	sparsity := &fakeRateController{algorithm: "magnitude_sparsity", rate: 0.4}
	quant := basicController{algorithm: "quantization", stats: map[string]float64{"bits": 8}}
	composite := NewCompositeController(sparsity, quant)

	got := composite.Statistics()
	want := map[string]float64{
		"magnitude_sparsity/level": 0.4,
		"quantization/bits":        8,
	}
	assert.Equal(t, want, got)
	assert.Equal(t, "composite", composite.Algorithm())
}

// TestCompositeController_Scheduler_StepsAllChildren verifies that one
// composite epoch step reaches every child's scheduler.
func TestCompositeController_Scheduler_StepsAllChildren(t *testing.T) {
	first := &fakeRateController{algorithm: "magnitude_sparsity"}
	second := &fakeRateController{algorithm: "filter_pruning"}
	composite := NewCompositeController(first, second)

	composite.Scheduler().EpochStep()

	if first.schedulerSteps != 1 || second.schedulerSteps != 1 {
		t.Errorf("expected one step on each child, got %d and %d", first.schedulerSteps, second.schedulerSteps)
	}
}

func TestResolveRateController_Direct(t *testing.T) {
	ctrl := &fakeRateController{algorithm: "filter_pruning"}
	got, err := ResolveRateController(ctrl)
	require.NoError(t, err)
	assert.Same(t, ctrl, got.(*fakeRateController))
}

// TestResolveRateController_Composite_PicksAdaptiveChild verifies that
// resolution looks through a composite and skips non-adaptive children.
func TestResolveRateController_Composite_PicksAdaptiveChild(t *testing.T) {
	pruning := &fakeRateController{algorithm: "filter_pruning"}
	composite := NewCompositeController(
		basicController{algorithm: "quantization"},
		pruning,
	)

	got, err := ResolveRateController(composite)
	require.NoError(t, err)
	assert.Same(t, pruning, got.(*fakeRateController))
}

// TestResolveRateController_NoCandidate verifies the error cases where no
// child qualifies: no rate capability, or a capability under a non-adaptive
// algorithm name.
func TestResolveRateController_NoCandidate(t *testing.T) {
	cases := []struct {
		name string
		ctrl CompressionController
	}{
		{"plain controller", basicController{algorithm: "quantization"}},
		{"adaptive name without capability", basicController{algorithm: "filter_pruning"}},
		{"capability under non-adaptive name", &fakeRateController{algorithm: "quantization"}},
		{"empty composite", NewCompositeController()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ResolveRateController(tc.ctrl)
			if !errors.Is(err, ErrNoAdaptiveController) {
				t.Errorf("expected ErrNoAdaptiveController, got %v", err)
			}
		})
	}
}

func TestResolveRateController_MultipleCandidates(t *testing.T) {
	composite := NewCompositeController(
		&fakeRateController{algorithm: "magnitude_sparsity"},
		&fakeRateController{algorithm: "filter_pruning"},
	)

	_, err := ResolveRateController(composite)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMultipleAdaptiveControllers))
	assert.Contains(t, err.Error(), "magnitude_sparsity")
	assert.Contains(t, err.Error(), "filter_pruning")
}
