package tune

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoAdaptiveController reports that a compression setup contains no
// controller the adaptive search can drive.
var ErrNoAdaptiveController = errors.New("no adaptive compression controller")

// ErrMultipleAdaptiveControllers reports that more than one controller in a
// composite setup is adaptive-capable, which leaves the search target
// ambiguous.
var ErrMultipleAdaptiveControllers = errors.New("multiple adaptive compression controllers")

// AdaptiveAlgorithms names the compression algorithms whose controllers
// support compression-rate targeting.
var AdaptiveAlgorithms = map[string]bool{
	"magnitude_sparsity": true,
	"rb_sparsity":        true,
	"filter_pruning":     true,
}

// CompressionScheduler advances a controller's internal compression schedule.
// The training runner steps it once per epoch before the train function runs.
type CompressionScheduler interface {
	EpochStep()
}

// NoopScheduler ignores epoch steps. Rate controllers install it when the
// adaptive search takes over rate scheduling.
type NoopScheduler struct{}

// EpochStep does nothing.
func (NoopScheduler) EpochStep() {}

// CompressionController is the minimal view of a compression algorithm the
// training machinery needs: an identity, a schedule, and statistics to log.
type CompressionController interface {
	// Algorithm returns the algorithm name, e.g. "filter_pruning".
	Algorithm() string

	// Scheduler returns the controller's active compression scheduler.
	Scheduler() CompressionScheduler

	// Statistics returns current compression statistics as scalar values
	// keyed by statistic name.
	Statistics() map[string]float64
}

// RateController is the capability a controller must offer for the adaptive
// search to drive it: a readable and settable compression rate, and a way to
// hand schedule control over to the search.
type RateController interface {
	CompressionController

	// CompressionRate returns the rate the controller currently holds the
	// model at, in [0, 1].
	CompressionRate() float64

	// SetCompressionRate moves the controller to the given rate. Values are
	// clamped to the controller's own feasible range.
	SetCompressionRate(rate float64)

	// DisableScheduler replaces the controller's scheduler so that epoch
	// steps no longer move the compression rate.
	DisableScheduler()
}

// compositeChildren is the optional capability a composite controller exposes
// for resolution to look inside it.
type compositeChildren interface {
	Children() []CompressionController
}

// CompositeController aggregates several compression controllers behind the
// single-controller interface. Scheduler steps fan out to every child and
// statistics are merged under per-algorithm prefixes.
type CompositeController struct {
	children []CompressionController
}

// NewCompositeController builds a composite over the given children.
func NewCompositeController(children ...CompressionController) *CompositeController {
	return &CompositeController{children: children}
}

// Add appends a child controller.
func (c *CompositeController) Add(child CompressionController) {
	c.children = append(c.children, child)
}

// Children returns the child controllers in registration order.
func (c *CompositeController) Children() []CompressionController {
	return c.children
}

// Algorithm identifies the composite as such rather than as any one child.
func (c *CompositeController) Algorithm() string { return "composite" }

// Scheduler returns a scheduler that steps every child's scheduler in order.
func (c *CompositeController) Scheduler() CompressionScheduler {
	return compositeScheduler{children: c.children}
}

// Statistics merges child statistics, prefixing each key with the child's
// algorithm name so same-named statistics from different algorithms stay
// distinguishable.
func (c *CompositeController) Statistics() map[string]float64 {
	merged := make(map[string]float64)
	for _, child := range c.children {
		prefix := child.Algorithm()
		for key, value := range child.Statistics() {
			merged[prefix+"/"+key] = value
		}
	}
	return merged
}

type compositeScheduler struct {
	children []CompressionController
}

func (s compositeScheduler) EpochStep() {
	for _, child := range s.children {
		if sched := child.Scheduler(); sched != nil {
			sched.EpochStep()
		}
	}
}

// ResolveRateController locates the single adaptive-capable controller in a
// compression setup. For a composite controller its direct children are
// examined, otherwise the controller itself. A child qualifies when its
// algorithm is in AdaptiveAlgorithms and it implements RateController.
func ResolveRateController(ctrl CompressionController) (RateController, error) {
	candidates := adaptiveCandidates(ctrl)
	switch len(candidates) {
	case 0:
		return nil, fmt.Errorf("%w: none of the configured algorithms supports compression-rate targeting", ErrNoAdaptiveController)
	case 1:
		return candidates[0], nil
	default:
		names := make([]string, len(candidates))
		for i, c := range candidates {
			names[i] = c.Algorithm()
		}
		return nil, fmt.Errorf("%w: %s", ErrMultipleAdaptiveControllers, strings.Join(names, ", "))
	}
}

func adaptiveCandidates(ctrl CompressionController) []RateController {
	children := []CompressionController{ctrl}
	if composite, ok := ctrl.(compositeChildren); ok {
		children = composite.Children()
	}
	var out []RateController
	for _, child := range children {
		rc, ok := child.(RateController)
		if ok && AdaptiveAlgorithms[rc.Algorithm()] {
			out = append(out, rc)
		}
	}
	return out
}
