package origin

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"charge-flip/internal/density"
	"charge-flip/internal/reciprocal"
	"charge-flip/internal/synth"
	"charge-flip/pkg/crystal"
	"charge-flip/pkg/geometry"
)

var cubic8 = crystal.UnitCell{A: 8, B: 8, C: 8, Alpha: 90, Beta: 90, Gamma: 90}

func handmadeMap() *density.Map {
	m := density.NewMap(density.Gridding{N: [3]int{8, 8, 8}})
	set := func(i, j, k int, v float64) { m.Data[m.Grid.Index(i, j, k)] = v }
	set(2, 2, 2, 3)
	set(1, 2, 2, 1)
	set(3, 2, 2, 2)
	set(6, 6, 6, 2)
	set(2, 2, 5, 1)
	return m
}

func TestPeakSearch(t *testing.T) {
	m := handmadeMap()

	peaks := PeakSearch(m, cubic8, PeakParams{Cutoff: 0.5})
	require.Len(t, peaks, 2)
	assert.Equal(t, [3]int{2, 2, 2}, peaks[0].Grid)
	assert.Equal(t, geometry.Vec3{X: 0.25, Y: 0.25, Z: 0.25}, peaks[0].Site)
	assert.Equal(t, 3.0, peaks[0].Height)
	assert.Equal(t, [3]int{6, 6, 6}, peaks[1].Grid)

	peaks = PeakSearch(m, cubic8, PeakParams{Cutoff: 0.5, Interpolate: true})
	require.Len(t, peaks, 2)
	assert.InDelta(t, (2+1.0/6)/8, peaks[0].Site.X, 1e-12)
	assert.InDelta(t, 0.25, peaks[0].Site.Y, 1e-12)
	assert.InDelta(t, 3+1.0/24, peaks[0].Height, 1e-12)
	assert.InDelta(t, 2, peaks[1].Height, 1e-12)

	peaks = PeakSearch(m, cubic8, PeakParams{Cutoff: 0.2})
	assert.Len(t, peaks, 3, "lower cutoff admits the third peak")

	peaks = PeakSearch(m, cubic8, PeakParams{Cutoff: 0.5, MaxPeaks: 1})
	assert.Len(t, peaks, 1)

	peaks = PeakSearch(m, cubic8, PeakParams{Cutoff: 0.5, MinCrossDistance: 10})
	require.Len(t, peaks, 1)
	assert.Equal(t, [3]int{2, 2, 2}, peaks[0].Grid)

	empty := density.NewMap(m.Grid)
	assert.Nil(t, PeakSearch(empty, cubic8, PeakParams{}))
}

func TestPeakSearchPlateau(t *testing.T) {
	m := density.NewMap(density.Gridding{N: [3]int{6, 6, 6}})
	m.Data[m.Grid.Index(1, 1, 1)] = 1
	m.Data[m.Grid.Index(1, 1, 2)] = 1
	peaks := PeakSearch(m, cubic8, PeakParams{Cutoff: 0.5})
	require.Len(t, peaks, 1)
	assert.Equal(t, [3]int{1, 1, 1}, peaks[0].Grid)
}

func TestSearchP1(t *testing.T) {
	s, err := synth.Generate(synth.DefaultConfig().WithCell(cubic8).WithAtoms(3, 6))
	require.NoError(t, err)
	res, err := Search(s.FObs, s.True, DefaultParams())
	require.NoError(t, err)
	require.Len(t, res.Peaks, 1)
	assert.Equal(t, geometry.Vec3{}, res.Peaks[0].Site)
	assert.Equal(t, 1.0, res.Peaks[0].Height)
	assert.Nil(t, res.Map)

	shifted, site := ApplyBest(s.True, res)
	assert.Equal(t, geometry.Vec3{}, site)
	assert.Equal(t, s.True.Data(), shifted.Data())
}

func TestSearchRejectsEmpty(t *testing.T) {
	_, err := Search(nil, nil, DefaultParams())
	assert.ErrorIs(t, err, ErrNoData)
}

// misplaced generates a structure in group, expands it to P1 and moves its
// origin by a grid-aligned shift.
func misplaced(t *testing.T, symbol string, atoms int) (synth.Structure, *reciprocal.Set) {
	t.Helper()
	group, err := crystal.Lookup(symbol)
	require.NoError(t, err)
	s, err := synth.Generate(synth.DefaultConfig().
		WithCell(cubic8).
		WithGroup(group).
		WithAtoms(atoms, 6).
		WithSeed(4))
	require.NoError(t, err)

	p1 := s.True.ExpandToP1()
	grid := density.NewGridding(p1, DefaultParams().GridResolutionFactor)
	for _, n := range grid.N {
		require.Zero(t, n%2, "origin candidates at 1/2 must lie on the grid")
	}
	s0 := geometry.Vec3{
		X: 3 / float64(grid.N[0]),
		Y: 5 / float64(grid.N[1]),
		Z: 7 / float64(grid.N[2]),
	}
	return s, p1.ShiftOrigin(s0)
}

// symmetryResidual returns max |F(kR) - F(k)·exp(-2πi k·T)| over the
// operators of group, relative to the largest amplitude.
func symmetryResidual(group crystal.SpaceGroup, set *reciprocal.Set) float64 {
	full := fullSphere(set)
	var worst, top float64
	for _, f := range full.values {
		top = math.Max(top, cmplx.Abs(f))
	}
	for _, op := range group.Ops {
		for _, k := range full.order {
			fkr, ok := full.values[op.MillerTimes(k)]
			if !ok {
				continue
			}
			want := full.values[k] * cmplx.Rect(1, -2*math.Pi*op.PhaseShift(k))
			worst = math.Max(worst, cmplx.Abs(fkr-want))
		}
	}
	return worst / top
}

func TestSearchIgnoresObservedAmplitudes(t *testing.T) {
	s, shifted := misplaced(t, "P-1", 4)

	a, err := Search(s.FObs, shifted, DefaultParams())
	require.NoError(t, err)
	b, err := Search(s.FObs.Scale(7), shifted, DefaultParams())
	require.NoError(t, err)
	require.NotEmpty(t, a.Peaks)
	assert.Equal(t, a.Peaks, b.Peaks)
}

func TestSearchRecoversCentrosymmetricOrigin(t *testing.T) {
	s, shifted := misplaced(t, "P-1", 4)
	require.Greater(t, symmetryResidual(s.Group, shifted), 0.1)

	res, err := Search(s.FObs, shifted, DefaultParams().WithMap())
	require.NoError(t, err)
	require.NotEmpty(t, res.Peaks)
	require.NotNil(t, res.Map)

	fixed, site := ApplyBest(shifted, res)
	assert.Equal(t, res.Peaks[0].Site, site)
	assert.Less(t, symmetryResidual(s.Group, fixed), 1e-6)

	// centrosymmetric phases are 0 or π
	top := 0.0
	for _, a := range fixed.Amplitudes() {
		top = math.Max(top, a)
	}
	for i := 0; i < fixed.Len(); i++ {
		assert.InDelta(t, 0, imag(fixed.Value(i))/top, 1e-6, "reflection %v", fixed.Index(i))
	}

	// the eight inversion centres score alike
	for _, p := range res.Peaks {
		assert.LessOrEqual(t, p.Height, res.Peaks[0].Height)
	}
	assert.GreaterOrEqual(t, len(res.Peaks), 2)
}

func TestSearchScrewAxisOrigin(t *testing.T) {
	s, shifted := misplaced(t, "P21", 3)
	require.Greater(t, symmetryResidual(s.Group, shifted), 0.1)

	res, err := Search(s.FObs, shifted, DefaultParams().WithMaxPeaks(4))
	require.NoError(t, err)
	require.NotEmpty(t, res.Peaks)
	assert.LessOrEqual(t, len(res.Peaks), 4)

	fixed, _ := ApplyBest(shifted, res)
	assert.Less(t, symmetryResidual(s.Group, fixed), 1e-6)
}
