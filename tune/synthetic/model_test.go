package synthetic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestModel_RecoversTowardAsymptote verifies the training dynamics: after a
// compression hit, accuracy climbs monotonically and converges to the
// rate-dependent asymptote.
func TestModel_RecoversTowardAsymptote(t *testing.T) {
	m := NewModel(DefaultModelParams())
	m.ApplyCompression(0.5)

	// 85.2 * (1 - 0.25 * 0.5^4)
	asymptote := 83.86875
	require.Less(t, m.Accuracy(), asymptote)

	prev := m.Accuracy()
	for i := 0; i < 20; i++ {
		m.TrainEpoch()
		assert.Greater(t, m.Accuracy(), prev)
		assert.LessOrEqual(t, m.Accuracy(), asymptote+1e-9)
		prev = m.Accuracy()
	}
	assert.InDelta(t, asymptote, m.Accuracy(), 1e-5)
}

// TestModel_DisruptionOnRateChange verifies the immediate accuracy hit is
// proportional to how far the rate moved, in either direction.
func TestModel_DisruptionOnRateChange(t *testing.T) {
	m := NewModel(DefaultModelParams())

	m.ApplyCompression(0.3)
	assert.InDelta(t, 85.2-8*0.3, m.Accuracy(), 1e-9)

	m.ApplyCompression(0.1)
	assert.InDelta(t, 85.2-8*0.3-8*0.2, m.Accuracy(), 1e-9)
}

// TestModel_ValidateNoise verifies that validation is exact without noise
// and deterministic under a fixed seed with it.
func TestModel_ValidateNoise(t *testing.T) {
	exact := NewModel(DefaultModelParams())
	exact.ApplyCompression(0.4)
	assert.Equal(t, exact.Accuracy(), exact.Validate())
	assert.Equal(t, exact.Validate(), exact.Validate())

	params := DefaultModelParams()
	params.Noise = 0.1
	a, b := NewModel(params), NewModel(params)
	for i := 0; i < 5; i++ {
		assert.Equal(t, a.Validate(), b.Validate())
	}
}

// TestModel_StateRoundTrip verifies that a restored model continues exactly
// where the saved one left off.
func TestModel_StateRoundTrip(t *testing.T) {
	saved := NewModel(DefaultModelParams())
	saved.ApplyCompression(0.4)
	for i := 0; i < 3; i++ {
		saved.TrainEpoch()
	}

	data, err := saved.MarshalState()
	require.NoError(t, err)

	restored := NewModel(DefaultModelParams())
	require.NoError(t, restored.UnmarshalState(data))
	assert.Equal(t, saved.CompressionRate(), restored.CompressionRate())
	assert.Equal(t, saved.Accuracy(), restored.Accuracy())

	assert.Equal(t, saved.TrainEpoch(), restored.TrainEpoch())
	assert.Equal(t, saved.Accuracy(), restored.Accuracy())
}

func TestModel_CarriesBaseline(t *testing.T) {
	baseline, ok := NewModel(DefaultModelParams()).BaselineAccuracy()
	assert.True(t, ok)
	assert.Equal(t, 85.2, baseline)
}
