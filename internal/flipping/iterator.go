// Package flipping implements density modification iterations: charge
// flipping (Oszlányi & Sütő, 2004), its weak-reflection variant, and
// low-density elimination.
//
// One Step alternates between real space, where the current map is modified,
// and reciprocal space, where the observed amplitudes are imposed on the
// phases of the modified map.
package flipping

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"charge-flip/internal/density"
	"charge-flip/internal/reciprocal"
)

// ErrInvalidArgument reports a malformed iterator construction or restart.
var ErrInvalidArgument = errors.New("invalid argument")

// Start is an optional starting point. FCalc and F000 are given together or
// not at all.
type Start struct {
	FCalc *reciprocal.Set
	F000  *float64
}

// RandomStart requests randomised phases.
func RandomStart() Start { return Start{} }

// StartFrom starts from the given structure factors and F000.
func StartFrom(fCalc *reciprocal.Set, f000 float64) Start {
	return Start{FCalc: fCalc, F000: &f000}
}

func (s Start) validate() error {
	if (s.FCalc == nil) != (s.F000 == nil) {
		return fmt.Errorf("%w: f_calc and f_000 must be given together", ErrInvalidArgument)
	}
	return nil
}

// Option configures an Iterator.
type Option func(*Iterator)

// WithStrategy selects the modification strategy (default Basic).
func WithStrategy(s Strategy) Option {
	return func(it *Iterator) { it.strategy = s }
}

// WithStart sets the starting point (default random phases).
func WithStart(s Start) Option {
	return func(it *Iterator) { it.start = s }
}

// WithRand sets the random source used for phase randomisation.
func WithRand(rng *rand.Rand) Option {
	return func(it *Iterator) { it.rng = rng }
}

// WithSeed seeds a private random source.
func WithSeed(seed int64) Option {
	return func(it *Iterator) { it.rng = rand.New(rand.NewSource(seed)) }
}

// WithDelta sets the initial flipping threshold.
func WithDelta(delta float64) Option {
	return func(it *Iterator) { it.delta = math.Max(delta, 0) }
}

// WithResolutionFactor sets the grid step as a fraction of d_min (default 1/2).
func WithResolutionFactor(f float64) Option {
	return func(it *Iterator) { it.resolutionFactor = f }
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(it *Iterator) { it.logger = l }
}

// WithObserver registers a callback invoked after every Step.
func WithObserver(fn func(Snapshot)) Option {
	return func(it *Iterator) { it.observer = fn }
}

// Iterator owns f_calc and its map; f_obs is fixed at construction.
type Iterator struct {
	original         *reciprocal.Set
	fObs             *reciprocal.Set
	strategy         Strategy
	transform        *density.Transform
	resolutionFactor float64
	rng              *rand.Rand
	logger           *slog.Logger
	observer         func(Snapshot)
	start            Start

	delta     float64
	iteration int
	fCalc     *reciprocal.Set
	f000      float64
	rho       *density.Map
	g         *reciprocal.Set

	diag diagnostics
}

// diagnostics memoizes derived quantities of the current state.
type diagnostics struct {
	r1     *float64
	cTot   *float64
	cFlip  map[float64]float64
	deltaQ map[float64]float64
}

// NewIterator prepares f_obs (absences removed, expanded to P1, merged,
// phases discarded), the grid and the starting map.
func NewIterator(fObs *reciprocal.Set, opts ...Option) (*Iterator, error) {
	if fObs == nil || fObs.Len() == 0 || !fObs.HasData() {
		return nil, fmt.Errorf("%w: f_obs has no data", ErrInvalidArgument)
	}
	it := &Iterator{
		original:         fObs,
		strategy:         Basic(),
		resolutionFactor: 0.5,
	}
	for _, opt := range opts {
		opt(it)
	}
	if err := it.strategy.validate(); err != nil {
		return nil, err
	}
	if err := it.start.validate(); err != nil {
		return nil, err
	}
	if it.rng == nil {
		it.rng = rand.New(rand.NewSource(1))
	}
	if it.logger == nil {
		it.logger = slog.Default()
	}

	it.fObs = fObs.EliminateSystematicAbsences().ExpandToP1().MergeEquivalents().DiscardPhases()
	if it.fObs.Len() == 0 || !it.fObs.HasData() {
		return nil, fmt.Errorf("%w: f_obs has no reflections after symmetry reduction", ErrInvalidArgument)
	}
	grid := density.NewGridding(it.fObs, it.resolutionFactor)
	it.transform = density.NewTransform(it.fObs.Cell(), grid)

	if err := it.Restart(it.start); err != nil {
		return nil, err
	}
	return it, nil
}

// Restart reinitialises the iteration from start, or from random phases.
func (it *Iterator) Restart(start Start) error {
	if err := start.validate(); err != nil {
		return err
	}
	fCalc, f000 := start.FCalc, 0.0
	if fCalc == nil {
		fCalc = it.fObs.RandomizePhases(it.rng)
	} else {
		f000 = *start.F000
		if fCalc.Len() != it.fObs.Len() {
			return fmt.Errorf("%w: starting f_calc has %d reflections, f_obs %d",
				ErrInvalidArgument, fCalc.Len(), it.fObs.Len())
		}
	}
	rho, err := it.transform.ToMap(fCalc, f000)
	if err != nil {
		return fmt.Errorf("restart: %w", err)
	}
	it.fCalc, it.f000, it.rho, it.g = fCalc, f000, rho, nil
	it.iteration = 0
	it.diag = diagnostics{}
	it.logger.Debug("flipping iterator restarted",
		"strategy", it.strategy.Kind.String(),
		"reflections", it.fObs.Len(),
		"grid", it.transform.Grid().N,
		"random", start.FCalc == nil)
	return nil
}

// Step performs one modification cycle and returns the new state.
func (it *Iterator) Step() (Snapshot, error) {
	modified := it.rho.Clone()
	it.strategy.modify(modified, it.delta)

	g, g000, err := it.transform.ToStructureFactors(modified, it.fObs)
	if err != nil {
		return Snapshot{}, fmt.Errorf("structure factors of modified map: %w", err)
	}
	fCalc, err := it.strategy.transferPhases(it.fObs, g)
	if err != nil {
		return Snapshot{}, fmt.Errorf("phase transfer: %w", err)
	}
	rho, err := it.transform.ToMap(fCalc, g000)
	if err != nil {
		return Snapshot{}, fmt.Errorf("density of new f_calc: %w", err)
	}

	it.fCalc, it.f000, it.rho, it.g = fCalc, g000, rho, g
	it.iteration++
	it.diag = diagnostics{}

	snap := it.Snapshot()
	if it.observer != nil {
		it.observer(snap)
	}
	return snap, nil
}

// Snapshot returns the current state. The returned value shares no mutable
// data with the iterator.
func (it *Iterator) Snapshot() Snapshot {
	ratio, ratioOK := it.CTotOverCFlip()
	return Snapshot{
		Iteration: it.iteration,
		FCalc:     it.fCalc,
		F000:      it.f000,
		Map:       it.rho.Clone(),
		G:         it.g,
		Delta:     it.delta,
		Strategy:  it.strategy.Kind,
		R1:        it.R1Factor(),
		Ratio:     ratio,
		RatioOK:   ratioOK,
	}
}

// Delta returns the flipping threshold.
func (it *Iterator) Delta() float64 { return it.delta }

// SetDelta changes the flipping threshold; negative values are clamped to 0.
func (it *Iterator) SetDelta(delta float64) {
	it.delta = math.Max(delta, 0)
}

// Iteration returns the number of steps since the last restart.
func (it *Iterator) Iteration() int { return it.iteration }

// FObs returns the prepared P1 amplitudes.
func (it *Iterator) FObs() *reciprocal.Set { return it.fObs }

// OriginalFObs returns f_obs as given at construction.
func (it *Iterator) OriginalFObs() *reciprocal.Set { return it.original }

// FCalc returns the current structure factors.
func (it *Iterator) FCalc() *reciprocal.Set { return it.fCalc }

// F000 returns the current F000.
func (it *Iterator) F000() float64 { return it.f000 }

// Strategy returns the modification strategy.
func (it *Iterator) Strategy() Strategy { return it.strategy }

// ResolutionFactor returns the grid step as a fraction of d_min.
func (it *Iterator) ResolutionFactor() float64 { return it.resolutionFactor }

// Grid returns the map grid.
func (it *Iterator) Grid() density.Gridding { return it.transform.Grid() }

// R1Factor returns R1 between |f_obs| and the structure factors of the last
// modified map; before the first step f_calc is used.
func (it *Iterator) R1Factor() float64 {
	if it.diag.r1 != nil {
		return *it.diag.r1
	}
	other := it.g
	if other == nil {
		other = it.fCalc
	}
	r1, err := it.fObs.R1Factor(other)
	if err != nil {
		r1 = math.NaN()
	}
	it.diag.r1 = &r1
	return r1
}

// CTot returns the sum of the current map.
func (it *Iterator) CTot() float64 {
	if it.diag.cTot == nil {
		v := it.rho.CTot()
		it.diag.cTot = &v
	}
	return *it.diag.cTot
}

// CFlip returns the sum of |ρ| over cells below delta.
func (it *Iterator) CFlip(delta float64) float64 {
	if v, ok := it.diag.cFlip[delta]; ok {
		return v
	}
	if it.diag.cFlip == nil {
		it.diag.cFlip = make(map[float64]float64)
	}
	v := it.rho.CFlip(delta)
	it.diag.cFlip[delta] = v
	return v
}

// CTotOverCFlip returns cTot/cFlip at the current delta; ok is false when
// no cell lies below delta.
func (it *Iterator) CTotOverCFlip() (float64, bool) {
	cFlip := it.CFlip(it.delta)
	if cFlip == 0 {
		return 0, false
	}
	return it.CTot() / cFlip, true
}

// FlippedFractionAsDelta returns the threshold flipping the given fraction
// of cells of the current map, clamped to be nonnegative.
func (it *Iterator) FlippedFractionAsDelta(fraction float64) float64 {
	if v, ok := it.diag.deltaQ[fraction]; ok {
		return v
	}
	if it.diag.deltaQ == nil {
		it.diag.deltaQ = make(map[float64]float64)
	}
	v := math.Max(it.rho.FlippedFractionAsDelta(fraction), 0)
	it.diag.deltaQ[fraction] = v
	return v
}
