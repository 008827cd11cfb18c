package synth

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"charge-flip/pkg/crystal"
	"charge-flip/pkg/geometry"
)

func TestGenerateP1(t *testing.T) {
	c := DefaultConfig()
	s, err := Generate(c)
	require.NoError(t, err)

	assert.Len(t, s.Atoms, c.Atoms)
	assert.Len(t, s.Sites, c.Atoms)
	assert.Equal(t, 48.0, s.F000())
	assert.Equal(t, s.True.Len(), s.FObs.Len())
	for i, a := range s.FObs.Amplitudes() {
		assert.InDelta(t, cmplx.Abs(s.True.Value(i)), a, 1e-12)
		assert.Zero(t, imag(s.FObs.Value(i)))
	}
	for i, a := range s.Sites {
		for _, b := range s.Sites[:i] {
			assert.GreaterOrEqual(t, c.Cell.Distance(a.Site, b.Site), c.MinDistance)
		}
	}
	assert.GreaterOrEqual(t, s.FObs.DMin(), c.DMin-1e-9)
}

func TestGenerateIsDeterministic(t *testing.T) {
	a, err := Generate(DefaultConfig().WithSeed(9))
	require.NoError(t, err)
	b, err := Generate(DefaultConfig().WithSeed(9))
	require.NoError(t, err)
	c, err := Generate(DefaultConfig().WithSeed(10))
	require.NoError(t, err)

	assert.Equal(t, a.Atoms, b.Atoms)
	assert.Equal(t, a.True.Data(), b.True.Data())
	assert.NotEqual(t, a.Atoms, c.Atoms)
}

func TestGenerateWithSymmetry(t *testing.T) {
	p21, err := crystal.Lookup("P21")
	require.NoError(t, err)
	s, err := Generate(DefaultConfig().WithGroup(p21).WithAtoms(4, 8))
	require.NoError(t, err)

	assert.Len(t, s.Atoms, 4)
	assert.Len(t, s.Sites, 8)
	assert.Equal(t, 64.0, s.F000())
	for i := 0; i < s.True.Len(); i++ {
		h := s.True.Index(i)
		assert.False(t, p21.IsSystematicallyAbsent(h), "%v", h)
		assert.Equal(t, h, p21.CanonicalIndex(h))
	}
}

func TestGenerateCrowded(t *testing.T) {
	c := DefaultConfig().
		WithCell(crystal.UnitCell{A: 3, B: 3, C: 3, Alpha: 90, Beta: 90, Gamma: 90}).
		WithAtoms(30, 6)
	_, err := Generate(c)
	assert.ErrorIs(t, err, ErrCrowded)

	_, err = Generate(DefaultConfig().WithAtoms(0, 6))
	assert.Error(t, err)
}

func TestUniqueIndices(t *testing.T) {
	cell := crystal.UnitCell{A: 5, B: 5, C: 5, Alpha: 90, Beta: 90, Gamma: 90}
	indices, err := UniqueIndices(cell, crystal.P1(), 2.4)
	require.NoError(t, err)
	// |h|² <= 4 over one half of reciprocal space
	assert.Len(t, indices, 16)
	seen := map[crystal.Miller]bool{}
	for _, h := range indices {
		assert.False(t, h.IsZero())
		assert.False(t, seen[h.Neg()], "Friedel mate of %v listed too", h)
		seen[h] = true
		assert.GreaterOrEqual(t, cell.DSpacing(h), 2.4)
	}
}

func TestStructureFactors(t *testing.T) {
	cell := crystal.UnitCell{A: 4, B: 4, C: 4, Alpha: 90, Beta: 90, Gamma: 90}
	sites := []Atom{
		{Site: geometry.Vec3{}, Z: 2},
		{Site: geometry.Vec3{X: 0.5}, Z: 2},
	}
	f, err := StructureFactors(cell, sites, []crystal.Miller{{1, 0, 0}, {2, 0, 0}, {0, 1, 0}}, 0)
	require.NoError(t, err)
	assert.InDelta(t, 0, cmplx.Abs(f[0]), 1e-12, "the two atoms cancel")
	assert.InDelta(t, 4, real(f[1]), 1e-12)
	assert.InDelta(t, 4, real(f[2]), 1e-12)

	damped, err := StructureFactors(cell, sites, []crystal.Miller{{2, 0, 0}}, 2)
	require.NoError(t, err)
	// s = 1/d = 0.5 Å⁻¹
	assert.InDelta(t, 4*math.Exp(-2*0.25/4), real(damped[0]), 1e-12)
}
