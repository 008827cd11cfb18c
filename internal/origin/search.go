// Package origin locates the origin of a charge flipping solution.
//
// Charge flipping works in P1, so its solution sits at an arbitrary origin.
// Search scores every candidate shift by how well the shifted structure
// factors obey the space-group symmetry of the observed data, and returns the
// best candidates.
package origin

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"charge-flip/internal/density"
	"charge-flip/internal/reciprocal"
	"charge-flip/pkg/crystal"
	"charge-flip/pkg/geometry"
)

// ErrNoData is returned when there is nothing to search with.
var ErrNoData = errors.New("origin search: no structure factors")

// Params controls Search.
type Params struct {
	// GridResolutionFactor is the correlation grid step as a fraction of d_min.
	GridResolutionFactor float64 `yaml:"grid_resolution_factor" json:"grid_resolution_factor"`
	// PeakCutoff is the minimum peak height relative to the highest.
	PeakCutoff float64 `yaml:"peak_cutoff" json:"peak_cutoff"`
	// MinCrossDistance, in Å, separates reported peaks; 0 selects d_min/2.
	MinCrossDistance float64 `yaml:"min_cross_distance" json:"min_cross_distance"`
	Interpolate      bool    `yaml:"interpolate" json:"interpolate"`
	MaxPeaks         int     `yaml:"max_peaks" json:"max_peaks"`
	// ReturnMap keeps the correlation map in the result.
	ReturnMap bool `yaml:"-" json:"-"`
}

// DefaultParams returns the search parameters tuned for substructure-size
// problems.
func DefaultParams() Params {
	return Params{
		GridResolutionFactor: 1.0 / 3,
		PeakCutoff:           0.5,
		Interpolate:          true,
	}
}

// WithMap returns a copy of p that keeps the correlation map.
func (p Params) WithMap() Params {
	p.ReturnMap = true
	return p
}

// WithMaxPeaks returns a copy of p limited to n peaks.
func (p Params) WithMaxPeaks(n int) Params {
	p.MaxPeaks = n
	return p
}

// Result holds the ranked origin candidates. Map is set only when requested
// and the group has more than the identity.
type Result struct {
	Peaks []Peak
	Map   *density.Map
}

// Best returns the highest peak.
func (r Result) Best() (Peak, bool) {
	if len(r.Peaks) == 0 {
		return Peak{}, false
	}
	return r.Peaks[0], true
}

// Search scores origin shifts of fCalc (P1, one member per Friedel pair)
// against the space group of fObs. Applying a peak's Site with
// Set.ShiftOrigin moves fCalc onto that origin.
//
// Only the symmetry and resolution of fObs are used. The score measures how
// consistent the shifted fCalc is with itself under the group and is not
// weighted by the observed amplitudes; fCalc already carries them after
// phase transfer.
func Search(fObs, fCalc *reciprocal.Set, p Params) (Result, error) {
	if fObs == nil || fCalc == nil || fCalc.Len() == 0 {
		return Result{}, ErrNoData
	}
	group := fObs.SpaceGroup()
	if group.Order() <= 1 {
		// every origin is equivalent in P1
		return Result{Peaks: []Peak{{Height: 1}}}, nil
	}

	grid := density.NewGridding(fCalc, p.GridResolutionFactor)
	transform := density.NewTransform(fCalc.Cell(), grid)
	corr, err := CorrelationMap(transform, group, fCalc)
	if err != nil {
		return Result{}, err
	}

	minDist := p.MinCrossDistance
	if minDist <= 0 {
		if d := fObs.DMin(); !math.IsInf(d, 0) {
			minDist = d / 2
		}
	}
	peaks := PeakSearch(corr, fCalc.Cell(), PeakParams{
		Cutoff:           p.PeakCutoff,
		MinCrossDistance: minDist,
		Interpolate:      p.Interpolate,
		MaxPeaks:         p.MaxPeaks,
	})
	res := Result{Peaks: peaks}
	if p.ReturnMap {
		res.Map = corr
	}
	return res, nil
}

// CorrelationMap evaluates, at every grid point s,
//
//	C(s) = Re Σ_R Σ_k F(kR)*·F(k)·exp(-2πi k·T)·exp(-2πi (k - kR)·s)
//
// over the non-identity operators (R, T) of group, with F the structure
// factors of fCalc shifted to origin s. C peaks where the shifted factors
// satisfy F(kR) = F(k)·exp(-2πi k·T). The sum is accumulated on the grid at
// k - kR and synthesised with one FFT.
func CorrelationMap(transform *density.Transform, group crystal.SpaceGroup, fCalc *reciprocal.Set) (*density.Map, error) {
	full := fullSphere(fCalc)
	grid := transform.Grid()
	buf := make([]complex128, grid.Size())
	for _, op := range group.Ops {
		if op.IsIdentity() {
			continue
		}
		for _, k := range full.order {
			fk := full.values[k]
			kr := op.MillerTimes(k)
			fkr, ok := full.values[kr]
			if !ok {
				continue
			}
			term := cmplx.Conj(fkr) * fk * cmplx.Rect(1, -2*math.Pi*op.PhaseShift(k))
			q := crystal.Miller{k[0] - kr[0], k[1] - kr[1], k[2] - kr[2]}
			buf[grid.Index(q[0], q[1], q[2])] += term
		}
	}
	m, err := transform.SynthesizeGrid(buf)
	if err != nil {
		return nil, fmt.Errorf("correlation map: %w", err)
	}
	return m, nil
}

// sphere is a P1 set with both Friedel mates, in a fixed order.
type sphere struct {
	order  []crystal.Miller
	values map[crystal.Miller]complex128
}

func fullSphere(s *reciprocal.Set) sphere {
	sp := sphere{values: make(map[crystal.Miller]complex128, 2*s.Len())}
	add := func(h crystal.Miller, f complex128) {
		if _, seen := sp.values[h]; seen {
			return
		}
		sp.values[h] = f
		sp.order = append(sp.order, h)
	}
	for i := 0; i < s.Len(); i++ {
		h := s.Index(i)
		if h.IsZero() {
			continue
		}
		f := s.Value(i)
		add(h, f)
		add(h.Neg(), cmplx.Conj(f))
	}
	return sp
}

// ApplyBest shifts fCalc to the best origin found by Search.
func ApplyBest(fCalc *reciprocal.Set, res Result) (*reciprocal.Set, geometry.Vec3) {
	best, ok := res.Best()
	if !ok {
		return fCalc, geometry.Vec3{}
	}
	return fCalc.ShiftOrigin(best.Site), best.Site
}
