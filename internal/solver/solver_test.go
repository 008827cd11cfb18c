package solver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"charge-flip/internal/flipping"
	"charge-flip/internal/observable"
	"charge-flip/internal/synth"
	"charge-flip/pkg/crystal"
)

type countingMetrics struct {
	iterations  int
	guesses     int
	accepted    int
	attempts    int
	transitions int
}

func (m *countingMetrics) IterationDone(string, float64) { m.iterations++ }
func (m *countingMetrics) DeltaGuessed(accepted bool, _ float64) {
	m.guesses++
	if accepted {
		m.accepted++
	}
}
func (m *countingMetrics) AttemptStarted()        { m.attempts++ }
func (m *countingMetrics) TransitionDetected(int) { m.transitions++ }

func newIterator(t *testing.T, seed int64) *flipping.Iterator {
	t.Helper()
	c := synth.DefaultConfig().
		WithCell(crystal.UnitCell{A: 7, B: 7, C: 7, Alpha: 90, Beta: 90, Gamma: 90}).
		WithAtoms(5, 6).
		WithSeed(21)
	s, err := synth.Generate(c)
	require.NoError(t, err)
	it, err := flipping.NewIterator(s.FObs, flipping.WithSeed(seed))
	require.NoError(t, err)
	return it
}

func smallBudget() Params {
	return DefaultParams().WithAttempts(2, 40)
}

func TestRunFinishes(t *testing.T) {
	m := &countingMetrics{}
	s, err := New(newIterator(t, 1), smallBudget(), WithMetrics(m))
	require.NoError(t, err)
	assert.Equal(t, GuessingDelta, s.State())

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Finished, s.State())
	assert.Equal(t, res.Success, !res.MaxAttemptsExceeded)
	assert.LessOrEqual(t, res.Attempts, 2)
	assert.NotEmpty(t, res.DeltaTrajectory)
	assert.Positive(t, res.Iterations)
	assert.Equal(t, res.Iterations, m.iterations)
	assert.Equal(t, len(res.DeltaTrajectory), m.guesses)
	assert.Equal(t, res.Attempts, m.attempts)
	assert.Equal(t, len(res.TransitionIterations), m.transitions)
	if res.Success {
		assert.Equal(t, flipping.LowDensityElimination, res.Final.Strategy)
		assert.Len(t, res.TransitionIterations, 1)
	}

	// stepping a finished solver is a no-op
	before := s.Iterations()
	_, state, err := s.Step()
	require.NoError(t, err)
	assert.Equal(t, Finished, state)
	assert.Equal(t, before, s.Iterations())
}

func TestDefaultParamsSolve(t *testing.T) {
	if testing.Short() {
		t.Skip("full solver runs")
	}
	for _, structure := range []int64{1, 2} {
		s, err := synth.Generate(synth.DefaultConfig().WithSeed(structure))
		require.NoError(t, err)

		run := func() Result {
			it, err := flipping.NewIterator(s.FObs, flipping.WithSeed(1))
			require.NoError(t, err)
			sv, err := New(it, DefaultParams())
			require.NoError(t, err)
			res, err := sv.Run(context.Background())
			require.NoError(t, err)
			return res
		}
		a, b := run(), run()

		assert.True(t, a.Success, "structure %d", structure)
		assert.False(t, a.MaxAttemptsExceeded, "structure %d", structure)
		assert.Less(t, a.Final.R1, 0.3, "structure %d", structure)
		assert.Equal(t, flipping.LowDensityElimination, a.Final.Strategy)

		assert.Equal(t, a.DeltaTrajectory, b.DeltaTrajectory, "structure %d", structure)
		assert.Equal(t, a.TransitionIterations, b.TransitionIterations, "structure %d", structure)
		assert.Equal(t, a.Final.R1, b.Final.R1, "structure %d", structure)
	}
}

func TestRunIsDeterministic(t *testing.T) {
	run := func() Result {
		s, err := New(newIterator(t, 7), smallBudget())
		require.NoError(t, err)
		res, err := s.Run(context.Background())
		require.NoError(t, err)
		return res
	}
	a, b := run(), run()
	assert.Equal(t, a.DeltaTrajectory, b.DeltaTrajectory)
	assert.Equal(t, a.Attempts, b.Attempts)
	assert.Equal(t, a.Iterations, b.Iterations)
	assert.Equal(t, a.Success, b.Success)
	assert.Equal(t, a.Final.R1, b.Final.R1)
}

func TestGuessingBudgetExhausted(t *testing.T) {
	p := DefaultParams()
	p.RatioLow, p.RatioHigh = 1e8, 1e9
	p.MaxGuessingRounds = 3

	s, err := New(newIterator(t, 1), p)
	require.NoError(t, err)
	res, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, res.MaxAttemptsExceeded)
	assert.False(t, res.Success)
	assert.Equal(t, 0, res.Attempts)
	assert.Equal(t, 3, res.GuessingRounds)
	require.Len(t, res.DeltaTrajectory, 3)
	assert.Equal(t, 3*p.DeltaGuessingSubIterations, res.Iterations)
	// every rejection shrinks delta
	for i := 1; i < len(res.DeltaTrajectory); i++ {
		if res.DeltaTrajectory[i-1] > 0 {
			assert.InDelta(t, res.DeltaTrajectory[i-1]*p.DeltaShrink, res.DeltaTrajectory[i], 1e-12)
		}
	}
}

func TestStreamingYieldsEveryGuess(t *testing.T) {
	p := DefaultParams().WithStreaming(false)
	p.RatioLow, p.RatioHigh = 1e8, 1e9
	p.MaxGuessingRounds = 4

	s, err := New(newIterator(t, 1), p)
	require.NoError(t, err)
	var states []State
	for _, state := range s.All() {
		states = append(states, state)
	}
	require.NoError(t, s.Err())
	assert.Equal(t, []State{GuessingDelta, GuessingDelta, GuessingDelta, GuessingDelta, Finished}, states)
	assert.Equal(t, 4*p.DeltaGuessingSubIterations, s.Iterations())
}

func TestAllFollowsStateOrder(t *testing.T) {
	s, err := New(newIterator(t, 3), smallBudget())
	require.NoError(t, err)

	allowed := map[State][]State{
		GuessingDelta: {GuessingDelta, Solving, Finished},
		Solving:       {Solving, Polishing, GuessingDelta, Finished},
		Polishing:     {Finished},
	}
	prev := GuessingDelta
	last := prev
	for snap, next := range s.All() {
		assert.Contains(t, allowed[prev], next, "%s -> %s", prev, next)
		assert.Positive(t, snap.Iteration)
		prev, last = next, next
	}
	require.NoError(t, s.Err())
	assert.Equal(t, Finished, last)
}

func TestRunHonoursContext(t *testing.T) {
	s, err := New(newIterator(t, 1), smallBudget())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, s.Iterations())
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, DefaultParams())
	assert.ErrorIs(t, err, flipping.ErrInvalidArgument)

	it := newIterator(t, 1)
	for name, p := range map[string]Params{
		"sub iterations": DefaultParams().WithDeltaGuessing(0, 0.8),
		"fraction":       DefaultParams().WithDeltaGuessing(10, 1.5),
		"attempts":       DefaultParams().WithAttempts(0, 10),
		"iterations":     DefaultParams().WithAttempts(1, 0),
		"ratio window":   func() Params { p := DefaultParams(); p.RatioLow = 2; return p }(),
	} {
		_, err := New(it, p)
		assert.ErrorIs(t, err, flipping.ErrInvalidArgument, name)
	}
}

func TestPolishingUsesLowDensityElimination(t *testing.T) {
	it := newIterator(t, 1)
	it.SetDelta(0.05)
	s, err := New(it, DefaultParams())
	require.NoError(t, err)
	s.state = Polishing

	snap, next, err := s.Step()
	require.NoError(t, err)
	assert.Equal(t, Finished, next)
	assert.Equal(t, flipping.LowDensityElimination, snap.Strategy)
	assert.Equal(t, DefaultParams().PolishingIterations, snap.Iteration)
	assert.Equal(t, DefaultParams().PolishingIterations, s.Iterations())
	assert.True(t, s.Result().Success)
	// the working iterator is left alone
	assert.Equal(t, 0, it.Iteration())
}

func stepSeries(head, tail int, from, to float64) []float64 {
	var v []float64
	for i := 0; i < head; i++ {
		v = append(v, from)
	}
	for i := 0; i < tail; i++ {
		v = append(v, to)
	}
	return v
}

func TestTransitionNeedsAgreement(t *testing.T) {
	p := DefaultParams()
	track := func(values []float64) *observable.Tracker {
		tr := observable.NewTracker(p.PhaseTransitionTailLen, p.Thresholds)
		for _, v := range values {
			tr.Append(v)
		}
		return tr
	}
	s := &Solver{params: p}

	s.r1 = track(stepSeries(20, 20, 0.5, 0.2))
	s.ratio = track(stepSeries(22, 18, 3, 1))
	assert.True(t, s.transitionDetected())

	s.ratio = track(stepSeries(26, 14, 3, 1))
	assert.False(t, s.transitionDetected(), "steepest descents 6 iterations apart")

	s.ratio = track(stepSeries(40, 0, 3, 1))
	assert.False(t, s.transitionDetected(), "flat ratio")
}
