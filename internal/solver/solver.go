// Package solver drives a flipping iterator through delta guessing, solving
// and polishing until it locks onto a solution or runs out of attempts.
//
// The solver is an explicit state machine. Step does the work of the current
// state and returns the resulting snapshot with the next state; callers may
// inspect, log or stop between any two steps.
package solver

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"charge-flip/internal/flipping"
	"charge-flip/internal/observable"
)

// State is a solver state.
type State int

const (
	GuessingDelta State = iota
	Solving
	Polishing
	Finished
)

func (s State) String() string {
	switch s {
	case GuessingDelta:
		return "guessing_delta"
	case Solving:
		return "solving"
	case Polishing:
		return "polishing"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// Metrics receives solver events. internal/metrics provides a prometheus
// implementation.
type Metrics interface {
	IterationDone(strategy string, r1 float64)
	DeltaGuessed(accepted bool, delta float64)
	AttemptStarted()
	TransitionDetected(iterations int)
}

type noMetrics struct{}

func (noMetrics) IterationDone(string, float64) {}
func (noMetrics) DeltaGuessed(bool, float64)    {}
func (noMetrics) AttemptStarted()               {}
func (noMetrics) TransitionDetected(int)        {}

// Option configures a Solver.
type Option func(*Solver)

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(s *Solver) { s.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(s *Solver) { s.metrics = m }
}

// Solver owns an iterator and moves it through the solving states.
type Solver struct {
	it      *flipping.Iterator
	params  Params
	logger  *slog.Logger
	metrics Metrics

	state   State
	current flipping.Snapshot
	err     error

	deltaReady      bool
	pendingRestart  bool
	guessingRounds  int
	deltaTrajectory []float64

	attempt     int
	solveIter   int
	r1          *observable.Tracker
	ratio       *observable.Tracker
	transitions []int
	exceeded    bool

	iterations int
}

// New returns a solver in the GuessingDelta state.
func New(it *flipping.Iterator, params Params, opts ...Option) (*Solver, error) {
	if it == nil {
		return nil, fmt.Errorf("%w: nil iterator", flipping.ErrInvalidArgument)
	}
	if err := params.validate(); err != nil {
		return nil, err
	}
	s := &Solver{it: it, params: params, state: GuessingDelta}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = noMetrics{}
	}
	s.current = it.Snapshot()
	return s, nil
}

// State returns the state the next Step will run.
func (s *Solver) State() State { return s.state }

// Current returns the last snapshot produced.
func (s *Solver) Current() flipping.Snapshot { return s.current }

// Attempts returns the number of solving attempts started.
func (s *Solver) Attempts() int { return s.attempt }

// TransitionIterations returns the iteration, within its attempt, at which
// each detected transition happened.
func (s *Solver) TransitionIterations() []int {
	return append([]int(nil), s.transitions...)
}

// MaxAttemptsExceeded reports whether the solver finished without a
// transition.
func (s *Solver) MaxAttemptsExceeded() bool { return s.exceeded }

// DeltaTrajectory returns every delta tried during guessing, in order.
func (s *Solver) DeltaTrajectory() []float64 {
	return append([]float64(nil), s.deltaTrajectory...)
}

// Iterations returns the total number of iterator steps taken.
func (s *Solver) Iterations() int { return s.iterations }

// Step runs the current state and returns the resulting snapshot together
// with the next state. Stepping a finished solver returns the final snapshot.
func (s *Solver) Step() (flipping.Snapshot, State, error) {
	if s.err != nil {
		return s.current, s.state, s.err
	}
	var next State
	var err error
	switch s.state {
	case GuessingDelta:
		next, err = s.guessDelta()
	case Solving:
		next, err = s.solve()
	case Polishing:
		next, err = s.polish()
	case Finished:
		next = Finished
	default:
		err = fmt.Errorf("solver in unknown state %d", s.state)
	}
	if err != nil {
		s.err = fmt.Errorf("%s: %w", s.state, err)
		return s.current, s.state, s.err
	}
	if next != s.state {
		s.logger.Info("solver transition",
			"from", s.state.String(),
			"to", next.String(),
			"delta", s.it.Delta(),
			"attempt", s.attempt,
			"r1", s.current.R1)
	}
	s.state = next
	return s.current, next, nil
}

// step advances the working iterator once.
func (s *Solver) step() (flipping.Snapshot, error) {
	snap, err := s.it.Step()
	if err != nil {
		return snap, err
	}
	s.iterations++
	s.current = snap
	s.metrics.IterationDone(snap.Strategy.String(), snap.R1)
	return snap, nil
}

func (s *Solver) guessDelta() (State, error) {
	p := s.params
	if !s.deltaReady {
		s.it.SetDelta(s.it.FlippedFractionAsDelta(p.InitialFlippedFraction))
		s.deltaReady = true
		s.logger.Debug("initial delta", "delta", s.it.Delta(), "flipped_fraction", p.InitialFlippedFraction)
	}
	for {
		if s.guessingRounds >= p.MaxGuessingRounds {
			s.logger.Warn("delta guessing budget exhausted", "rounds", s.guessingRounds)
			s.exceeded = true
			return Finished, nil
		}
		if s.pendingRestart {
			if err := s.it.Restart(flipping.RandomStart()); err != nil {
				return GuessingDelta, err
			}
			s.current = s.it.Snapshot()
			s.pendingRestart = false
		}
		s.guessingRounds++
		for i := 0; i < p.DeltaGuessingSubIterations; i++ {
			if _, err := s.step(); err != nil {
				return GuessingDelta, err
			}
		}
		delta := s.it.Delta()
		s.deltaTrajectory = append(s.deltaTrajectory, delta)

		ratio, ok := s.it.CTotOverCFlip()
		accepted := false
		switch {
		case !ok:
			// no cell below delta: nothing to judge, try fresh phases
		case ratio < p.RatioLow:
			s.it.SetDelta(delta * p.DeltaShrink)
		case ratio > p.RatioHigh:
			s.it.SetDelta(delta * p.DeltaGrow)
		default:
			accepted = true
		}
		s.metrics.DeltaGuessed(accepted, delta)
		s.logger.Debug("delta guess",
			"round", s.guessingRounds,
			"delta", delta,
			"ratio", ratio,
			"signal", ok,
			"accepted", accepted)

		// the next batch, whenever it comes, starts from fresh phases
		s.pendingRestart = p.RestartOnRejection || accepted
		if accepted {
			return s.beginAttempt(), nil
		}
		if p.YieldDuringDeltaGuessing {
			return GuessingDelta, nil
		}
	}
}

// beginAttempt resets the trackers for a new solving attempt.
func (s *Solver) beginAttempt() State {
	s.attempt++
	s.solveIter = 0
	s.r1 = observable.NewTracker(s.params.PhaseTransitionTailLen, s.params.Thresholds)
	s.ratio = observable.NewTracker(s.params.PhaseTransitionTailLen, s.params.Thresholds)
	s.metrics.AttemptStarted()
	return Solving
}

func (s *Solver) solve() (State, error) {
	p := s.params
	for s.solveIter < p.MaxSolvingIterations {
		snap, err := s.step()
		if err != nil {
			return Solving, err
		}
		n := s.solveIter
		s.solveIter++

		if snap.RatioOK {
			s.r1.Append(snap.R1)
			s.ratio.Append(snap.Ratio)
		}
		if n >= p.PhaseTransitionTailLen && s.transitionDetected() {
			s.transitions = append(s.transitions, n)
			s.metrics.TransitionDetected(n)
			s.logger.Info("phase transition", "attempt", s.attempt, "iteration", n, "r1", snap.R1)
			return Polishing, nil
		}
		if s.solveIter%p.YieldSolvingInterval == 0 {
			return Solving, nil
		}
	}
	if s.attempt >= p.MaxAttempts {
		s.exceeded = true
		s.logger.Warn("no phase transition within attempt budget", "attempts", s.attempt)
		return Finished, nil
	}
	s.logger.Debug("attempt exhausted", "attempt", s.attempt, "iterations", s.solveIter)
	return GuessingDelta, nil
}

// transitionDetected requires both trackers to see a transition at roughly
// the same place.
func (s *Solver) transitionDetected() bool {
	m1, ok1 := s.r1.MinDiffIndex()
	m2, ok2 := s.ratio.MinDiffIndex()
	if !ok1 || !ok2 {
		return false
	}
	if abs(m1-m2) > s.params.TransitionAgreement {
		return false
	}
	return s.r1.HadPhaseTransition() && s.ratio.HadPhaseTransition()
}

// polish refines the solution with low-density elimination, using the
// converged delta as the density cutoff and starting from F000 = 0.
func (s *Solver) polish() (State, error) {
	delta := s.it.Delta()
	polisher, err := flipping.NewIterator(s.it.FObs(),
		flipping.WithStrategy(flipping.LowDensity(flipping.FixedCutoff(delta))),
		flipping.WithStart(flipping.StartFrom(s.it.FCalc(), 0)),
		flipping.WithDelta(delta),
		flipping.WithResolutionFactor(s.it.ResolutionFactor()),
		flipping.WithLogger(s.logger))
	if err != nil {
		return Polishing, fmt.Errorf("polishing iterator: %w", err)
	}
	for i := 0; i < s.params.PolishingIterations; i++ {
		snap, err := polisher.Step()
		if err != nil {
			return Polishing, err
		}
		s.iterations++
		s.current = snap
		s.metrics.IterationDone(snap.Strategy.String(), snap.R1)
	}
	return Finished, nil
}

// Result summarises a finished run.
type Result struct {
	Final                flipping.Snapshot
	Success              bool
	MaxAttemptsExceeded  bool
	Attempts             int
	TransitionIterations []int
	DeltaTrajectory      []float64
	GuessingRounds       int
	Iterations           int
}

// Result returns the summary of the run so far.
func (s *Solver) Result() Result {
	return Result{
		Final:                s.current,
		Success:              s.state == Finished && !s.exceeded,
		MaxAttemptsExceeded:  s.exceeded,
		Attempts:             s.attempt,
		TransitionIterations: s.TransitionIterations(),
		DeltaTrajectory:      s.DeltaTrajectory(),
		GuessingRounds:       s.guessingRounds,
		Iterations:           s.iterations,
	}
}

// Run steps the solver until it finishes, ctx is done or an error occurs.
func (s *Solver) Run(ctx context.Context) (Result, error) {
	for s.state != Finished {
		if err := ctx.Err(); err != nil {
			return s.Result(), err
		}
		if _, _, err := s.Step(); err != nil {
			return s.Result(), err
		}
	}
	return s.Result(), nil
}

// All yields every step's snapshot with the state that follows it, ending
// after the step that reaches Finished. An error ends the sequence and is
// reported by Err.
func (s *Solver) All() iter.Seq2[flipping.Snapshot, State] {
	return func(yield func(flipping.Snapshot, State) bool) {
		for s.state != Finished {
			snap, next, err := s.Step()
			if err != nil {
				return
			}
			if !yield(snap, next) {
				return
			}
		}
	}
}

// Err returns the error that stopped the solver, if any.
func (s *Solver) Err() error { return s.err }

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
