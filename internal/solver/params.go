package solver

import (
	"fmt"

	"charge-flip/internal/flipping"
	"charge-flip/internal/observable"
)

// Params controls the solving state machine.
type Params struct {
	// Delta guessing
	DeltaGuessingSubIterations int     `yaml:"delta_guessing_sub_iterations" json:"delta_guessing_sub_iterations"`
	InitialFlippedFraction     float64 `yaml:"initial_flipped_fraction" json:"initial_flipped_fraction"`
	YieldDuringDeltaGuessing   bool    `yaml:"yield_during_delta_guessing" json:"yield_during_delta_guessing"`
	RestartOnRejection         bool    `yaml:"restart_on_rejection" json:"restart_on_rejection"`
	RatioLow                   float64 `yaml:"ratio_low" json:"ratio_low"`
	RatioHigh                  float64 `yaml:"ratio_high" json:"ratio_high"`
	DeltaShrink                float64 `yaml:"delta_shrink" json:"delta_shrink"`
	DeltaGrow                  float64 `yaml:"delta_grow" json:"delta_grow"`
	MaxGuessingRounds          int     `yaml:"max_guessing_rounds" json:"max_guessing_rounds"`

	// Solving
	MaxSolvingIterations   int `yaml:"max_solving_iterations" json:"max_solving_iterations"`
	MaxAttempts            int `yaml:"max_attempts" json:"max_attempts"`
	YieldSolvingInterval   int `yaml:"yield_solving_interval" json:"yield_solving_interval"`
	PhaseTransitionTailLen int `yaml:"phase_transition_tail_len" json:"phase_transition_tail_len"`
	// TransitionAgreement is how far apart, in iterations, the steepest
	// descents of R1 and cTot/cFlip may be for a transition to be tested.
	TransitionAgreement int                   `yaml:"transition_agreement" json:"transition_agreement"`
	Thresholds          observable.Thresholds `yaml:"-" json:"-"`

	// Polishing
	PolishingIterations int `yaml:"polishing_iterations" json:"polishing_iterations"`
}

// DefaultParams returns the SUPERFLIP-derived defaults.
func DefaultParams() Params {
	return Params{
		DeltaGuessingSubIterations: 10,
		InitialFlippedFraction:     0.8,
		RestartOnRejection:         true,
		// cTot/cFlip window and the delta corrections applied outside it
		RatioLow:          0.8,
		RatioHigh:         1.0,
		DeltaShrink:       0.9,
		DeltaGrow:         1.07,
		MaxGuessingRounds: 200,

		MaxSolvingIterations:   500,
		MaxAttempts:            5,
		YieldSolvingInterval:   10,
		PhaseTransitionTailLen: 12,
		TransitionAgreement:    4,
		Thresholds:             observable.DefaultThresholds(),

		PolishingIterations: 5,
	}
}

// WithAttempts returns a copy of p with a different attempt budget.
func (p Params) WithAttempts(maxAttempts, maxSolvingIterations int) Params {
	p.MaxAttempts = maxAttempts
	p.MaxSolvingIterations = maxSolvingIterations
	return p
}

// WithDeltaGuessing returns a copy of p with a different guessing batch.
func (p Params) WithDeltaGuessing(subIterations int, initialFlippedFraction float64) Params {
	p.DeltaGuessingSubIterations = subIterations
	p.InitialFlippedFraction = initialFlippedFraction
	return p
}

// WithStreaming returns a copy of p that yields after every guessing batch,
// optionally without restarting the iterator on rejection.
func (p Params) WithStreaming(restartOnRejection bool) Params {
	p.YieldDuringDeltaGuessing = true
	p.RestartOnRejection = restartOnRejection
	return p
}

// WithThresholds returns a copy of p with different transition thresholds.
func (p Params) WithThresholds(th observable.Thresholds) Params {
	p.Thresholds = th
	return p
}

func (p Params) validate() error {
	switch {
	case p.DeltaGuessingSubIterations < 1:
		return fmt.Errorf("%w: delta guessing needs at least one sub-iteration", flipping.ErrInvalidArgument)
	case p.InitialFlippedFraction < 0 || p.InitialFlippedFraction > 1:
		return fmt.Errorf("%w: initial flipped fraction %g outside [0, 1]", flipping.ErrInvalidArgument, p.InitialFlippedFraction)
	case p.RatioLow > p.RatioHigh:
		return fmt.Errorf("%w: ratio window [%g, %g] is empty", flipping.ErrInvalidArgument, p.RatioLow, p.RatioHigh)
	case p.MaxSolvingIterations < 1 || p.MaxAttempts < 1:
		return fmt.Errorf("%w: solving needs at least one attempt and one iteration", flipping.ErrInvalidArgument)
	case p.YieldSolvingInterval < 1:
		return fmt.Errorf("%w: yield interval must be positive", flipping.ErrInvalidArgument)
	case p.PolishingIterations < 0:
		return fmt.Errorf("%w: negative polishing iterations", flipping.ErrInvalidArgument)
	}
	return nil
}
