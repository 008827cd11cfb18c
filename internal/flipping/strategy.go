package flipping

import (
	"fmt"
	"math"
	"math/cmplx"

	"charge-flip/internal/density"
	"charge-flip/internal/reciprocal"
)

// StrategyKind selects the density modification rule.
type StrategyKind int

const (
	// BasicFlip inverts the sign of every cell below delta.
	BasicFlip StrategyKind = iota
	// WeakReflectionFlip is BasicFlip followed by a phase transfer that
	// shifts the phases of the weakest reflections (Oszlányi & Sütő, 2005).
	WeakReflectionFlip
	// LowDensityElimination zeroes every cell below a cutoff.
	LowDensityElimination
)

func (k StrategyKind) String() string {
	switch k {
	case BasicFlip:
		return "basic"
	case WeakReflectionFlip:
		return "weak"
	case LowDensityElimination:
		return "lde"
	default:
		return "unknown"
	}
}

// ParseStrategyKind maps "basic", "weak" or "lde" to a kind.
func ParseStrategyKind(s string) (StrategyKind, error) {
	switch s {
	case "basic", "":
		return BasicFlip, nil
	case "weak":
		return WeakReflectionFlip, nil
	case "lde":
		return LowDensityElimination, nil
	default:
		return 0, fmt.Errorf("%w: unknown strategy %q", ErrInvalidArgument, s)
	}
}

// CutoffFunc supplies the low-density cutoff for a map; ok is false when the
// map carries no usable signal.
type CutoffFunc func(m *density.Map) (rhoC float64, ok bool)

// Strategy is a density modification rule with its parameters.
type Strategy struct {
	Kind StrategyKind

	// DeltaVarphi is the phase shift, in radians, given to weak reflections.
	DeltaVarphi float64
	// WeakFraction is the fraction of reflections treated as weak.
	WeakFraction float64

	// Cutoff overrides the default low-density cutoff.
	Cutoff CutoffFunc
}

// Basic returns the plain charge flipping strategy.
func Basic() Strategy {
	return Strategy{Kind: BasicFlip}
}

// WeakReflection returns charge flipping with weak-reflection phase shifts.
func WeakReflection(deltaVarphi, weakFraction float64) Strategy {
	return Strategy{Kind: WeakReflectionFlip, DeltaVarphi: deltaVarphi, WeakFraction: weakFraction}
}

// DefaultWeakReflection uses a π/2 shift on the weakest 20%.
func DefaultWeakReflection() Strategy {
	return WeakReflection(math.Pi/2, 0.2)
}

// LowDensity returns low-density elimination; a nil cutoff uses
// DefaultLowDensityCutoff.
func LowDensity(cutoff CutoffFunc) Strategy {
	return Strategy{Kind: LowDensityElimination, Cutoff: cutoff}
}

// FixedCutoff returns a CutoffFunc that always yields rhoC.
func FixedCutoff(rhoC float64) CutoffFunc {
	return func(*density.Map) (float64, bool) { return rhoC, true }
}

func (s Strategy) validate() error {
	switch s.Kind {
	case BasicFlip, LowDensityElimination:
		return nil
	case WeakReflectionFlip:
		if s.WeakFraction < 0 || s.WeakFraction > 1 {
			return fmt.Errorf("%w: weak reflection fraction %g outside [0, 1]", ErrInvalidArgument, s.WeakFraction)
		}
		return nil
	default:
		return fmt.Errorf("%w: strategy kind %d", ErrInvalidArgument, s.Kind)
	}
}

// modify applies the real-space part of the strategy to m in place.
func (s Strategy) modify(m *density.Map, delta float64) {
	switch s.Kind {
	case BasicFlip, WeakReflectionFlip:
		FlipCharges(m.Data, delta)
	case LowDensityElimination:
		cutoff := s.Cutoff
		if cutoff == nil {
			cutoff = DefaultLowDensityCutoff
		}
		if rhoC, ok := cutoff(m); ok {
			EliminateLowDensity(m.Data, rhoC)
		}
	}
}

// transferPhases builds the next f_calc from the fixed amplitudes and the
// structure factors g of the modified map.
func (s Strategy) transferPhases(fObs, g *reciprocal.Set) (*reciprocal.Set, error) {
	if s.Kind == WeakReflectionFlip {
		return OszlanyiSutoPhaseTransfer(fObs, g, s.DeltaVarphi, s.WeakFraction)
	}
	return fObs.PhaseTransfer(g)
}

// FlipCharges inverts the sign of every value below delta.
func FlipCharges(rho []float64, delta float64) {
	for i, v := range rho {
		if v < delta {
			rho[i] = -v
		}
	}
}

// EliminateLowDensity sets every value below rhoC to zero.
func EliminateLowDensity(rho []float64, rhoC float64) {
	for i, v := range rho {
		if v < rhoC {
			rho[i] = 0
		}
	}
}

// DefaultLowDensityCutoff returns 0.2 times the mean of the positive cells
// (Shiono & Woolfson, 1992). Maps without positive cells, or with all cells
// equal, have no cutoff.
func DefaultLowDensityCutoff(m *density.Map) (float64, bool) {
	var sum float64
	var n int
	first := 0.0
	uniform := true
	for i, v := range m.Data {
		if i == 0 {
			first = v
		} else if v != first {
			uniform = false
		}
		if v > 0 {
			sum += v
			n++
		}
	}
	if n == 0 || uniform {
		return 0, false
	}
	return 0.2 * sum / float64(n), true
}

// OszlanyiSutoPhaseTransfer combines target amplitudes with source phases,
// except for the weakest fraction of target reflections which keep the
// source modulus and get their phase shifted by deltaVarphi. Target and
// source must share indices.
func OszlanyiSutoPhaseTransfer(target, source *reciprocal.Set, deltaVarphi, weakFraction float64) (*reciprocal.Set, error) {
	next, err := target.PhaseTransfer(source)
	if err != nil {
		return nil, err
	}
	cut := int(weakFraction * float64(target.Len()))
	if cut <= 0 {
		return next, nil
	}
	data := next.Data()
	order := target.SortPermutation(true)
	for _, i := range order[len(order)-cut:] {
		g := source.Value(i)
		data[i] = cmplx.Rect(cmplx.Abs(g), cmplx.Phase(g)+deltaVarphi)
	}
	return reciprocal.New(target.Cell(), target.SpaceGroup(), target.Indices(), data)
}
