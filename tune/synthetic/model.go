// Package synthetic provides a deterministic stand-in for an ML training
// framework: a model whose validation accuracy responds to compression
// through a closed-form curve, and a sparsity controller driving it. It
// exists so the search loop can be exercised end to end, from the CLI and
// from tests, without any real training.
package synthetic

import (
	"encoding/json"
	"math"
	"math/rand"
)

// ModelParams shapes the synthetic accuracy response. Accuracy values are on
// the same scale as the tolerable-drop settings work in, conventionally
// percent (e.g. 85.2 for a 85.2% top-1 model).
type ModelParams struct {
	// BaselineAccuracy is the uncompressed validation accuracy.
	BaselineAccuracy float64
	// Fragility is the fraction of accuracy lost at full compression.
	Fragility float64
	// Sharpness is the exponent of the accuracy-vs-rate response. Higher
	// values keep the model near baseline until late in the rate range.
	Sharpness float64
	// Recovery is the per-epoch pull toward the converged accuracy, in (0, 1].
	Recovery float64
	// Disruption is the immediate accuracy hit per unit of rate change.
	Disruption float64
	// Noise is the standard deviation of measurement noise on validation.
	// Zero gives fully deterministic runs.
	Noise float64
	// Seed seeds the measurement-noise generator.
	Seed int64
}

// DefaultModelParams returns a model that tolerates roughly 45% compression
// at a 1% accuracy drop.
func DefaultModelParams() ModelParams {
	return ModelParams{
		BaselineAccuracy: 85.2,
		Fragility:        0.25,
		Sharpness:        4,
		Recovery:         0.6,
		Disruption:       8,
		Noise:            0,
		Seed:             1,
	}
}

// Model is a synthetic compressible model. Its accuracy converges
// exponentially toward a rate-dependent asymptote while training, takes an
// immediate hit whenever the compression rate moves, and reports its
// baseline through the carrier capability.
type Model struct {
	params   ModelParams
	rate     float64
	accuracy float64
	rng      *rand.Rand
}

// NewModel returns an uncompressed model at its baseline accuracy.
func NewModel(params ModelParams) *Model {
	return &Model{
		params:   params,
		accuracy: params.BaselineAccuracy,
		rng:      rand.New(rand.NewSource(params.Seed)),
	}
}

// BaselineAccuracy reports the pre-compression reference metric.
func (m *Model) BaselineAccuracy() (float64, bool) {
	return m.params.BaselineAccuracy, true
}

// CompressionRate returns the rate currently applied to the model.
func (m *Model) CompressionRate() float64 { return m.rate }

// Accuracy returns the model's current true accuracy, without measurement
// noise.
func (m *Model) Accuracy() float64 { return m.accuracy }

// asymptote is the accuracy the model converges to at the current rate.
func (m *Model) asymptote() float64 {
	return m.params.BaselineAccuracy * (1 - m.params.Fragility*math.Pow(m.rate, m.params.Sharpness))
}

// ApplyCompression moves the model to the given rate. The accuracy drops
// immediately in proportion to how far the rate moved; training afterwards
// recovers it toward the new asymptote.
func (m *Model) ApplyCompression(rate float64) {
	delta := math.Abs(rate - m.rate)
	m.rate = rate
	m.accuracy -= m.params.Disruption * delta
	if m.accuracy < 0 {
		m.accuracy = 0
	}
}

// TrainEpoch advances the accuracy one recovery step toward the asymptote
// and returns a training-loss proxy.
func (m *Model) TrainEpoch() float64 {
	m.accuracy += m.params.Recovery * (m.asymptote() - m.accuracy)
	return (100 - m.accuracy) / 100
}

// Validate measures the accuracy, with optional Gaussian noise. The model's
// state is not affected.
func (m *Model) Validate() float64 {
	metric := m.accuracy
	if m.params.Noise > 0 {
		metric += m.rng.NormFloat64() * m.params.Noise
	}
	return metric
}

type modelState struct {
	CompressionRate float64 `json:"compression_rate"`
	Accuracy        float64 `json:"accuracy"`
}

// MarshalState serializes the rate and accuracy, the model's whole state.
func (m *Model) MarshalState() ([]byte, error) {
	return json.Marshal(modelState{CompressionRate: m.rate, Accuracy: m.accuracy})
}

// UnmarshalState restores a serialized state.
func (m *Model) UnmarshalState(data []byte) error {
	var st modelState
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	m.rate = st.CompressionRate
	m.accuracy = st.Accuracy
	return nil
}
