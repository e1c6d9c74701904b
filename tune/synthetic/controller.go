package synthetic

import (
	"math"

	"github.com/vanyalzr/nncf/tune"
)

// ControllerParams configures the synthetic sparsity controller.
type ControllerParams struct {
	// InitialRate is applied to the model at construction.
	InitialRate float64
	// TargetRate is where the ramp schedule ends up.
	TargetRate float64
	// RampEpochs is how many epoch steps the ramp takes to reach TargetRate.
	// Zero jumps to TargetRate on the first step.
	RampEpochs int
}

// DefaultControllerParams starts and stays at a moderate sparsity level, so
// the initial training phase runs at a stable rate.
func DefaultControllerParams() ControllerParams {
	return ControllerParams{InitialRate: 0.35, TargetRate: 0.35, RampEpochs: 5}
}

// SparsityController is a magnitude-sparsity controller over a synthetic
// model. Its scheduler ramps the sparsity level along a cubic curve; the
// adaptive search disables the scheduler and sets rates directly.
type SparsityController struct {
	model      *Model
	rate       float64
	rampTarget float64
	scheduler  tune.CompressionScheduler
}

var _ tune.RateController = (*SparsityController)(nil)

// NewSparsityController compresses the model to the initial rate and arms
// the ramp schedule toward the target rate.
func NewSparsityController(model *Model, params ControllerParams) *SparsityController {
	c := &SparsityController{model: model, rampTarget: clamp01(params.TargetRate)}
	c.apply(params.InitialRate)
	c.scheduler = &rampScheduler{
		ctrl:    c,
		initial: clamp01(params.InitialRate),
		target:  c.rampTarget,
		epochs:  params.RampEpochs,
	}
	return c
}

// Algorithm identifies the controller.
func (c *SparsityController) Algorithm() string { return "magnitude_sparsity" }

// Scheduler returns the active scheduler.
func (c *SparsityController) Scheduler() tune.CompressionScheduler { return c.scheduler }

// Statistics reports the current and scheduled sparsity levels.
func (c *SparsityController) Statistics() map[string]float64 {
	return map[string]float64{
		"sparsity_level":        c.rate,
		"target_sparsity_level": c.rampTarget,
	}
}

// CompressionRate returns the sparsity level the controller holds.
func (c *SparsityController) CompressionRate() float64 { return c.rate }

// SetCompressionRate moves the controller and the model to the given level,
// clamped to [0, 1].
func (c *SparsityController) SetCompressionRate(rate float64) {
	c.apply(rate)
}

// DisableScheduler freezes the schedule; epoch steps no longer move the rate.
func (c *SparsityController) DisableScheduler() {
	c.scheduler = tune.NoopScheduler{}
}

func (c *SparsityController) apply(rate float64) {
	c.rate = clamp01(rate)
	c.model.ApplyCompression(c.rate)
}

// rampScheduler moves the sparsity level from initial to target along a
// cubic ease-in: slow at first, catching up to the target by the last ramp
// epoch and holding it afterwards.
type rampScheduler struct {
	ctrl    *SparsityController
	initial float64
	target  float64
	epochs  int
	epoch   int
}

func (s *rampScheduler) EpochStep() {
	s.epoch++
	progress := 1.0
	if s.epochs > 0 && s.epoch < s.epochs {
		progress = float64(s.epoch) / float64(s.epochs)
	}
	remaining := 1 - progress
	s.ctrl.apply(s.target + (s.initial-s.target)*remaining*remaining*remaining)
}

func clamp01(x float64) float64 {
	return math.Min(1, math.Max(0, x))
}
