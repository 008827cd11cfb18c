// Package observable records scalar convergence diagnostics and detects the
// step-like "phase transition" charge flipping goes through when it locks
// onto a solution.
package observable

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Thresholds are the empirical constants of the transition test.
type Thresholds struct {
	// Margin is the number of points skipped on each side of the steepest
	// descent before the head and tail windows start.
	Margin int
	// CorrelationCutoff decides whether the whole tail is tested for a trend
	// or only its extreme subsets.
	CorrelationCutoff float64
	// MaxSlope is the largest slope, per iteration, of a plateau.
	MaxSlope float64
	// SubsetLen is the size of the highest and lowest tail subsets.
	SubsetLen int
	// Significance is the step size, in pooled standard deviations, that
	// counts as a transition.
	Significance float64
}

// DefaultThresholds returns the values used by SUPERFLIP-style solvers.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Margin:            4,
		CorrelationCutoff: 0.5,
		MaxSlope:          0.05,
		SubsetLen:         5,
		Significance:      3,
	}
}

// Tracker is an append-only series with its steepest descent.
type Tracker struct {
	tailLen      int
	thresholds   Thresholds
	values       []float64
	diffs        []float64
	minDiff      float64
	minDiffIndex int
}

// NewTracker returns an empty tracker requiring tailLen points after the
// steepest descent before a transition can be reported.
func NewTracker(tailLen int, thresholds Thresholds) *Tracker {
	return &Tracker{tailLen: tailLen, thresholds: thresholds, minDiffIndex: -1}
}

// Append adds a value. NaN and infinities are ignored.
func (t *Tracker) Append(x float64) {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return
	}
	t.values = append(t.values, x)
	n := len(t.values)
	if n < 2 {
		return
	}
	diff := t.values[n-1] - t.values[n-2]
	if t.minDiffIndex < 0 || diff < t.minDiff {
		t.minDiff = diff
		t.minDiffIndex = len(t.diffs)
	}
	t.diffs = append(t.diffs, diff)
}

// Len returns the number of values.
func (t *Tracker) Len() int { return len(t.values) }

// Values returns a copy of the series.
func (t *Tracker) Values() []float64 {
	return append([]float64(nil), t.values...)
}

// MinDiffIndex returns m such that values[m+1]-values[m] is the smallest
// successive difference so far (the first one on ties).
func (t *Tracker) MinDiffIndex() (int, bool) {
	return t.minDiffIndex, t.minDiffIndex >= 0
}

// HadPhaseTransition reports whether the series shows a significant drop at
// MinDiffIndex followed by a plateau of at least tailLen points.
func (t *Tracker) HadPhaseTransition() bool {
	m, ok := t.MinDiffIndex()
	if !ok || len(t.diffs)-m < t.tailLen {
		return false
	}
	th := t.thresholds
	before := m - th.Margin
	after := m + th.Margin
	if before < 0 || after >= len(t.values) {
		return false
	}
	tail := t.values[after:]
	if len(tail) < th.SubsetLen || len(tail) < 2 {
		return false
	}
	if t.stillTrending(tail) {
		return false
	}

	meanTail, varTail := stat.MeanVariance(tail, nil)
	head := t.values[max(before-t.tailLen/2, 0):before]
	var step, sd float64
	switch len(head) {
	case 0:
		return false
	case 1:
		step = math.Abs(head[0] - meanTail)
		sd = math.Sqrt(varTail)
	default:
		meanHead, varHead := stat.MeanVariance(head, nil)
		step = math.Abs(meanHead - meanTail)
		sd = math.Sqrt(varHead + varTail)
	}
	if math.IsNaN(step) || math.IsNaN(sd) {
		return false
	}
	if sd == 0 {
		return step > 0
	}
	return step/sd > th.Significance
}

// stillTrending applies the plateau test to the tail: a linear fit against
// position must be flat, either overall when the tail is well correlated
// with position, or on its highest and lowest subsets otherwise.
func (t *Tracker) stillTrending(tail []float64) bool {
	th := t.thresholds
	x := make([]float64, len(tail))
	for i := range x {
		x[i] = float64(i)
	}
	if math.Abs(correlation(x, tail)) > th.CorrelationCutoff {
		return math.Abs(slope(x, tail)) > th.MaxSlope
	}

	order := make([]int, len(tail))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return tail[order[a]] < tail[order[b]] })
	k := min(th.SubsetLen, len(order))
	down := order[:k]
	up := order[len(order)-k:]
	for _, subset := range [][]int{down, up} {
		sx := make([]float64, len(subset))
		sy := make([]float64, len(subset))
		for i, p := range subset {
			sx[i] = x[p]
			sy[i] = tail[p]
		}
		if math.Abs(slope(sx, sy)) > th.MaxSlope {
			return true
		}
	}
	return false
}

// correlation is the Pearson coefficient, 0 when either series is constant.
func correlation(x, y []float64) float64 {
	c := stat.Correlation(x, y, nil)
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return 0
	}
	return c
}

// slope is the least-squares slope of y on x, 0 when x is constant.
func slope(x, y []float64) float64 {
	if len(x) < 2 {
		return 0
	}
	_, beta := stat.LinearRegression(x, y, nil, false)
	if math.IsNaN(beta) || math.IsInf(beta, 0) {
		return 0
	}
	return beta
}
