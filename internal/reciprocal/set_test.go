package reciprocal

import (
	"math"
	"math/cmplx"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"charge-flip/pkg/crystal"
	"charge-flip/pkg/geometry"
)

var cubic = crystal.UnitCell{A: 8, B: 8, C: 8, Alpha: 90, Beta: 90, Gamma: 90}

func randomSet(t *testing.T, seed int64) *Set {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	var indices []crystal.Miller
	var data []complex128
	for h := 0; h <= 2; h++ {
		for k := -2; k <= 2; k++ {
			for l := -2; l <= 2; l++ {
				m := crystal.Miller{h, k, l}
				if !m.InUpperHalf() {
					continue
				}
				indices = append(indices, m)
				data = append(data, cmplx.Rect(0.5+rng.Float64(), 2*math.Pi*rng.Float64()))
			}
		}
	}
	s, err := New(cubic, crystal.P1(), indices, data)
	require.NoError(t, err)
	return s
}

func assertSameData(t *testing.T, want, got *Set, tol float64) {
	t.Helper()
	require.Equal(t, want.Len(), got.Len())
	for i := 0; i < want.Len(); i++ {
		assert.Equal(t, want.Index(i), got.Index(i))
		assert.InDelta(t, 0, cmplx.Abs(want.Value(i)-got.Value(i)), tol, "reflection %v", want.Index(i))
	}
}

func TestNewLengthMismatch(t *testing.T) {
	_, err := New(cubic, crystal.P1(), []crystal.Miller{{1, 0, 0}}, nil)
	assert.Error(t, err)
	_, err = FromAmplitudes(crystal.UnitCell{}, crystal.P1(), nil, nil)
	assert.Error(t, err, "invalid cell")
}

func TestPhaseTransferRoundTrip(t *testing.T) {
	a := randomSet(t, 3)
	back, err := a.PhaseTransfer(a)
	require.NoError(t, err)
	assertSameData(t, a, back, 1e-12)
}

func TestPhaseTransferKeepsAmplitudes(t *testing.T) {
	a := randomSet(t, 4)
	b := randomSet(t, 5)
	c, err := a.PhaseTransfer(b)
	require.NoError(t, err)
	assert.InDeltaSlice(t, a.Amplitudes(), c.Amplitudes(), 1e-12)
	for i, p := range c.Phases() {
		assert.InDelta(t, 0, cmplx.Abs(cmplx.Rect(1, p)-cmplx.Rect(1, b.Phases()[i])), 1e-12)
	}
}

func TestPhaseTransferMismatch(t *testing.T) {
	a := randomSet(t, 1)
	b := a.Select([]int{0, 1})
	_, err := a.PhaseTransfer(b)
	assert.ErrorIs(t, err, ErrIndexMismatch)

	swapped := a.Select(append([]int{1, 0}, seq(2, a.Len())...))
	_, err = a.PhaseTransfer(swapped)
	assert.ErrorIs(t, err, ErrIndexMismatch)
}

func seq(from, to int) []int {
	var out []int
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}

func TestExpandToP1(t *testing.T) {
	p21, err := crystal.Lookup("P21")
	require.NoError(t, err)
	f := cmplx.Rect(2, 0.3)
	s, err := New(cubic, p21, []crystal.Miller{{1, 1, 2}, {0, 2, 0}}, []complex128{f, 3})
	require.NoError(t, err)

	p1 := s.ExpandToP1()
	assert.Equal(t, 1, p1.SpaceGroup().Order())
	require.Equal(t, 3, p1.Len())
	assert.Equal(t, crystal.Miller{1, 1, 2}, p1.Index(0))
	assert.Equal(t, crystal.Miller{1, -1, 2}, p1.Index(1))
	assert.Equal(t, crystal.Miller{0, 2, 0}, p1.Index(2))
	// F(-1 1 -2) = F(1 1 2)·e^{-iπ}, stored as its Friedel mate
	assert.InDelta(t, 0, cmplx.Abs(p1.Value(1)-cmplx.Conj(-f)), 1e-12)
	assert.InDelta(t, 0, cmplx.Abs(p1.Value(2)-3), 1e-12)
}

func TestExpandToP1KeepsRedundantObservations(t *testing.T) {
	p21, err := crystal.Lookup("P21")
	require.NoError(t, err)
	// (1 1 2) and (-1 1 -2) are mates under the 2-fold screw axis
	s, err := FromAmplitudes(cubic, p21,
		[]crystal.Miller{{1, 1, 2}, {-1, 1, -2}, {1, 0, 0}, {-1, 0, 0}},
		[]float64{2, 4, 1, 3})
	require.NoError(t, err)

	p1 := s.ExpandToP1()
	assert.Equal(t, 6, p1.Len())

	m := p1.MergeEquivalents()
	require.Equal(t, 3, m.Len())
	assert.Equal(t, []crystal.Miller{{1, 1, 2}, {1, -1, 2}, {1, 0, 0}}, m.Indices())
	assert.InDeltaSlice(t, []float64{3, 3, 2}, m.Amplitudes(), 1e-12)
}

func TestEliminateSystematicAbsences(t *testing.T) {
	p21, err := crystal.Lookup("P21")
	require.NoError(t, err)
	s, err := FromAmplitudes(cubic, p21,
		[]crystal.Miller{{0, 1, 0}, {0, 2, 0}, {0, 3, 0}, {1, 1, 0}},
		[]float64{1, 2, 3, 4})
	require.NoError(t, err)

	out := s.EliminateSystematicAbsences()
	assert.Equal(t, []crystal.Miller{{0, 2, 0}, {1, 1, 0}}, out.Indices())
	assert.Equal(t, 4, s.Len(), "receiver untouched")
}

func TestMergeEquivalents(t *testing.T) {
	s, err := FromAmplitudes(cubic, crystal.P1(),
		[]crystal.Miller{{1, 0, 0}, {-1, 0, 0}, {0, 1, 0}},
		[]float64{3, 5, 2})
	require.NoError(t, err)

	m := s.MergeEquivalents()
	require.Equal(t, 2, m.Len())
	assert.Equal(t, crystal.Miller{1, 0, 0}, m.Index(0))
	assert.InDelta(t, 4, real(m.Value(0)), 1e-12)
	assert.InDelta(t, 2, real(m.Value(1)), 1e-12)
}

func TestShiftOriginInverse(t *testing.T) {
	a := randomSet(t, 7)
	shift := geometry.Vec3{X: 0.13, Y: 0.71, Z: 0.4}
	back := a.ShiftOrigin(shift).ShiftOrigin(shift.Scale(-1))
	assertSameData(t, a, back, 1e-12)
	assert.InDeltaSlice(t, a.Amplitudes(), a.ShiftOrigin(shift).Amplitudes(), 1e-12)
}

func TestRandomizePhases(t *testing.T) {
	a := randomSet(t, 8)
	r1 := a.RandomizePhases(rand.New(rand.NewSource(42)))
	r2 := a.RandomizePhases(rand.New(rand.NewSource(42)))
	assert.InDeltaSlice(t, a.Amplitudes(), r1.Amplitudes(), 1e-12)
	assertSameData(t, r1, r2, 0)
}

func TestR1Factor(t *testing.T) {
	a := randomSet(t, 9)
	r, err := a.R1Factor(a.Scale(2.5))
	require.NoError(t, err)
	assert.InDelta(t, 0, r, 1e-12, "least-squares scale absorbs a constant factor")

	b := randomSet(t, 10)
	r, err = a.R1Factor(b)
	require.NoError(t, err)
	assert.Greater(t, r, 0.0)

	zero := a.Scale(0)
	r, err = zero.R1Factor(a)
	require.NoError(t, err)
	assert.Equal(t, 0.0, r)

	_, err = a.R1Factor(nil)
	assert.ErrorIs(t, err, ErrIndexMismatch)
}

func TestSortPermutation(t *testing.T) {
	s, err := FromAmplitudes(cubic, crystal.P1(),
		[]crystal.Miller{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}, {1, 1, 0}},
		[]float64{2, 5, 2, 1})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0, 2, 3}, s.SortPermutation(true))
	assert.Equal(t, []int{3, 0, 2, 1}, s.SortPermutation(false))
	assert.Equal(t, crystal.Miller{0, 1, 0}, s.Select(s.SortPermutation(true)).Index(0))
}

func TestDMinAndMaxIndices(t *testing.T) {
	s, err := FromAmplitudes(cubic, crystal.P1(),
		[]crystal.Miller{{1, 0, 0}, {2, -3, 1}},
		[]float64{1, 1})
	require.NoError(t, err)
	assert.Equal(t, [3]int{2, 3, 1}, s.MaxIndices())
	assert.InDelta(t, 8/math.Sqrt(14), s.DMin(), 1e-9)
	assert.True(t, s.HasData())
	assert.False(t, s.Scale(0).HasData())
}
