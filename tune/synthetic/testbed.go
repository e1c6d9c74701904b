package synthetic

import (
	"github.com/vanyalzr/nncf/tune"
)

// Testbed bundles a synthetic model with its controller and exposes the
// training callables the search loop consumes.
type Testbed struct {
	Model      *Model
	Controller *SparsityController
}

// NewTestbed builds a model and compresses it under a fresh controller.
func NewTestbed(model ModelParams, controller ControllerParams) *Testbed {
	m := NewModel(model)
	return &Testbed{Model: m, Controller: NewSparsityController(m, controller)}
}

// Funcs returns callables operating on the testbed's model. They close over
// the testbed, the way real integrations close over their framework session.
func (t *Testbed) Funcs() tune.TrainingFuncs {
	return tune.TrainingFuncs{
		TrainEpoch: func(_ tune.CompressionController, _ tune.Model, _ int) (float64, error) {
			return t.Model.TrainEpoch(), nil
		},
		Validate: func(_ tune.Model, _ int) (float64, error) {
			return t.Model.Validate(), nil
		},
		ConfigureOptimizers: func() error { return nil },
	}
}
