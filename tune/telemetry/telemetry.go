// Package telemetry carries scalar observations out of the compression-rate
// search: validation metrics, accuracy budgets, target rates and controller
// statistics, each keyed by name and stamped with the cumulative epoch they
// were observed at. Sinks are fire-and-forget; a sink failure must never
// interrupt training.
package telemetry

// Sink receives scalar observations.
type Sink interface {
	Record(key string, value float64, step int)
}

// Nop discards every observation.
type Nop struct{}

// Record does nothing.
func (Nop) Record(string, float64, int) {}

// Scalar is one recorded observation.
type Scalar struct {
	Key   string
	Value float64
	Step  int
}

// Memory retains observations in arrival order, for inspection in tests.
type Memory struct {
	Scalars []Scalar
}

// Record appends the observation.
func (m *Memory) Record(key string, value float64, step int) {
	m.Scalars = append(m.Scalars, Scalar{Key: key, Value: value, Step: step})
}

// ByKey returns the observations recorded under the given key, in order.
func (m *Memory) ByKey(key string) []Scalar {
	var out []Scalar
	for _, s := range m.Scalars {
		if s.Key == key {
			out = append(out, s)
		}
	}
	return out
}

// Last returns the most recent observation under the given key.
func (m *Memory) Last(key string) (Scalar, bool) {
	for i := len(m.Scalars) - 1; i >= 0; i-- {
		if m.Scalars[i].Key == key {
			return m.Scalars[i], true
		}
	}
	return Scalar{}, false
}

// Multi fans every observation out to all member sinks in order.
type Multi []Sink

// Record forwards the observation to each member sink.
func (m Multi) Record(key string, value float64, step int) {
	for _, s := range m {
		s.Record(key, value, step)
	}
}
