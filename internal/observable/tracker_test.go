package observable

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feed(tr *Tracker, values []float64) {
	for _, v := range values {
		tr.Append(v)
	}
}

func stepSeries(head, tail int, from, to, noise float64) []float64 {
	var out []float64
	for i := 0; i < head+tail; i++ {
		v := from
		if i >= head {
			v = to
		}
		out = append(out, v+noise*math.Pow(-1, float64(i)))
	}
	return out
}

func TestMonotonicSeriesHasNoTransition(t *testing.T) {
	series := map[string]func(i int) float64{
		"linear down": func(i int) float64 { return 100 - float64(i) },
		"linear up":   func(i int) float64 { return float64(i) / 10 },
		"accelerating": func(i int) float64 {
			return -float64(i * i)
		},
		"decelerating": func(i int) float64 { return -math.Sqrt(float64(i)) },
	}
	for name, f := range series {
		t.Run(name, func(t *testing.T) {
			tr := NewTracker(12, DefaultThresholds())
			for i := 0; i < 80; i++ {
				tr.Append(f(i))
				assert.False(t, tr.HadPhaseTransition(), "after %d values", i+1)
			}
		})
	}
}

func TestStepSeriesHasTransition(t *testing.T) {
	for _, noise := range []float64{0, 0.01} {
		tr := NewTracker(12, DefaultThresholds())
		feed(tr, stepSeries(20, 20, 1, 0.2, noise))

		m, ok := tr.MinDiffIndex()
		require.True(t, ok)
		assert.Equal(t, 19, m, "the drop is between values 19 and 20")
		assert.True(t, tr.HadPhaseTransition(), "noise %g", noise)
	}
}

func TestStepNeedsLongEnoughTail(t *testing.T) {
	tr := NewTracker(12, DefaultThresholds())
	feed(tr, stepSeries(20, 8, 1, 0.2, 0))
	assert.False(t, tr.HadPhaseTransition())
}

func TestStepNeedsHeadMargin(t *testing.T) {
	tr := NewTracker(12, DefaultThresholds())
	feed(tr, stepSeries(3, 30, 1, 0.2, 0))
	assert.False(t, tr.HadPhaseTransition())
}

func TestTrendingTailIsNotAPlateau(t *testing.T) {
	var values []float64
	for i := 0; i < 20; i++ {
		values = append(values, 5)
	}
	for i := 0; i < 20; i++ {
		values = append(values, 4-0.1*float64(i))
	}
	tr := NewTracker(12, DefaultThresholds())
	feed(tr, values)

	m, _ := tr.MinDiffIndex()
	assert.Equal(t, 19, m)
	assert.False(t, tr.HadPhaseTransition())
}

func TestSmallStepIsNotSignificant(t *testing.T) {
	tr := NewTracker(12, DefaultThresholds())
	// a drop of 0.03 against noise of ±0.01
	feed(tr, stepSeries(20, 20, 1, 0.97, 0.01))
	assert.False(t, tr.HadPhaseTransition())
}

func TestAppendIgnoresNonFinite(t *testing.T) {
	tr := NewTracker(12, DefaultThresholds())
	tr.Append(1)
	tr.Append(math.NaN())
	tr.Append(math.Inf(1))
	tr.Append(2)
	assert.Equal(t, 2, tr.Len())
	assert.Equal(t, []float64{1, 2}, tr.Values())

	empty := NewTracker(12, DefaultThresholds())
	_, ok := empty.MinDiffIndex()
	assert.False(t, ok)
	assert.False(t, empty.HadPhaseTransition())
}
