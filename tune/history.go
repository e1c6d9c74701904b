package tune

import (
	"fmt"
	"strings"
)

// History maps each compression rate tried so far to the best accuracy budget
// achieved while training at that rate. Entries keep their first-insertion
// order; setting an existing rate overwrites the budget in place (last write
// wins). Keys are raw float64 rates: two rates are the same entry only when
// they compare exactly equal, so callers that want coalescing must quantize
// before inserting.
type History struct {
	rates   []float64
	budgets map[float64]float64
}

// NewHistory creates an empty training history.
func NewHistory() *History {
	return &History{budgets: make(map[float64]float64)}
}

// Set records the accuracy budget for a compression rate, overwriting any
// previous budget at exactly that rate.
func (h *History) Set(rate, budget float64) {
	if _, ok := h.budgets[rate]; !ok {
		h.rates = append(h.rates, rate)
	}
	h.budgets[rate] = budget
}

// Get returns the budget recorded for rate and whether the rate is present.
func (h *History) Get(rate float64) (float64, bool) {
	b, ok := h.budgets[rate]
	return b, ok
}

// Len returns the number of distinct rates recorded.
func (h *History) Len() int {
	return len(h.rates)
}

// Rates returns the recorded rates in insertion order.
func (h *History) Rates() []float64 {
	out := make([]float64, len(h.rates))
	copy(out, h.rates)
	return out
}

// Clone returns an independent copy of the history. Predictors augment the
// clone with synthetic boundary points without disturbing the recorded data.
func (h *History) Clone() *History {
	c := &History{
		rates:   make([]float64, len(h.rates)),
		budgets: make(map[float64]float64, len(h.budgets)),
	}
	copy(c.rates, h.rates)
	for r, b := range h.budgets {
		c.budgets[r] = b
	}
	return c
}

// String renders the history as "{rate: budget, ...}" in insertion order.
func (h *History) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, r := range h.rates {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%.3f: %+.4f", r, h.budgets[r])
	}
	sb.WriteByte('}')
	return sb.String()
}
