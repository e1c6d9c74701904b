package tune

import (
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"
)

// StepPredictor proposes the next change of the target compression rate.
// NextStep returns a signed delta to add to the current target (or, before
// the first target exists, to the controller's current rate) and updates
// state.RateStep to the magnitude of that delta. Predictors read the
// phase-best metric and the step bookkeeping from the state; recording the
// budget sign after the update is the orchestrator's job.
type StepPredictor interface {
	NextStep(state *SearchState, history *History, currentRate float64) float64
}

// NewStepPredictor returns the predictor for the configured stepping mode.
// The mode must have passed SearchConfig.Validate; unknown names panic.
func NewStepPredictor(cfg SearchConfig) StepPredictor {
	switch cfg.SteppingMode {
	case SteppingModeUniform:
		return &UniformDecrease{ReductionFactor: cfg.StepReductionFactor}
	case "", SteppingModeInterpolate:
		return &Interpolate{
			MaximalAccuracyDrop:   cfg.MaximalAccuracyDrop,
			FullCompressionFactor: cfg.FullCompressionFactor,
			Samples:               cfg.CurveSamples,
		}
	default:
		panic(fmt.Sprintf("unknown stepping mode %q", cfg.SteppingMode))
	}
}

// UniformDecrease steps the target by the current rate step in the direction
// of the accuracy budget sign: up while the compressed model stays within
// tolerance, down otherwise. The step magnitude shrinks by ReductionFactor
// whenever the budget sign differs from the one recorded at the previous
// target update, i.e. when the search starts oscillating around the optimum.
// A budget of exactly zero yields a zero delta and keeps the target in place.
type UniformDecrease struct {
	ReductionFactor float64
}

// NextStep implements StepPredictor.
func (u *UniformDecrease) NextStep(state *SearchState, history *History, currentRate float64) float64 {
	budgetSign := signOf(state.BestMetric - state.MinimalTolerableAccuracy)
	if state.LastStepDirectionSet && state.LastStepDirection != budgetSign {
		state.RateStep *= u.ReductionFactor
	}
	return budgetSign * state.RateStep
}

// Interpolate fits a curve through the recorded rate-to-budget history and
// jumps the target straight to the rate where the predicted budget crosses
// zero. Two synthetic anchors frame the fit: the uncompressed model keeps
// the full budget (rate 0 -> +MaximalAccuracyDrop) and the fully compressed
// model overshoots it FullCompressionFactor times (rate 1 -> -K*drop).
type Interpolate struct {
	MaximalAccuracyDrop   float64
	FullCompressionFactor float64
	// Samples is how many evenly spaced rates in [0, 1] the fitted curve is
	// evaluated at when locating the zero crossing. Must be at least 2.
	Samples int
}

// NextStep implements StepPredictor.
func (p *Interpolate) NextStep(state *SearchState, history *History, currentRate float64) float64 {
	logrus.Infof("compressed training history: %s", history)
	fit := p.fitCurve(history)

	samples := floats.Span(make([]float64, p.Samples), 0, 1)
	absBudgets := make([]float64, len(samples))
	for i, rate := range samples {
		absBudgets[i] = math.Abs(fit.Predict(rate))
	}
	predicted := samples[floats.MinIdx(absBudgets)]
	logrus.Infof("predicted compression rate %.4f, current compression rate %.4f", predicted, currentRate)

	base := currentRate
	if state.RateTargetSet {
		base = state.RateTarget
	}
	state.RateStep = math.Abs(predicted - base)
	return predicted - base
}

// fitCurve interpolates the history augmented with the boundary anchors.
// Linear below 4 sample points, cubic from 4 up.
func (p *Interpolate) fitCurve(history *History) interp.Predictor {
	curve := history.Clone()
	curve.Set(0, p.MaximalAccuracyDrop)
	curve.Set(1, -p.FullCompressionFactor*p.MaximalAccuracyDrop)

	rates := curve.Rates()
	sort.Float64s(rates)
	budgets := make([]float64, len(rates))
	for i, rate := range rates {
		budgets[i], _ = curve.Get(rate)
	}

	var fit interp.FittablePredictor
	if len(rates) < 4 {
		fit = &interp.PiecewiseLinear{}
	} else {
		fit = &interp.NotAKnotCubic{}
	}
	// Rates are unique and sorted, and the anchors guarantee at least two
	// points, so fitting cannot fail.
	if err := fit.Fit(rates, budgets); err != nil {
		panic(fmt.Sprintf("fitting accuracy budget curve: %v", err))
	}
	return fit
}

// signOf is the three-valued sign: -1, 0 or +1.
func signOf(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}
