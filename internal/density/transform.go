package density

import (
	"errors"
	"fmt"
	"math/cmplx"

	"charge-flip/internal/reciprocal"
	"charge-flip/pkg/crystal"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Transform converts between P1 structure factors and density maps on a
// fixed grid. Conventions:
//
//	ρ(x) = 1/V · Σ_h F(h)·exp(-2πi h·x)
//	F(h) = V/N · Σ_x ρ(x)·exp(+2πi h·x)
//
// Structure factor sets hold one member of each Friedel pair; the other is
// implied by F(-h) = F(h)*.
type Transform struct {
	cell   crystal.UnitCell
	grid   Gridding
	volume float64
	plans  [3]*fourier.CmplxFFT
}

// NewTransform prepares FFT plans for grid.
func NewTransform(cell crystal.UnitCell, grid Gridding) *Transform {
	t := &Transform{cell: cell, grid: grid, volume: cell.Volume()}
	for i := 0; i < 3; i++ {
		t.plans[i] = fourier.NewCmplxFFT(grid.N[i])
	}
	return t
}

// Grid returns the grid the transform works on.
func (t *Transform) Grid() Gridding { return t.grid }

// Scale returns V/N, the factor taking a grid sum to a cell integral.
func (t *Transform) Scale() float64 {
	return t.volume / float64(t.grid.Size())
}

func (t *Transform) slot(h crystal.Miller) int {
	return t.grid.Index(h[0], h[1], h[2])
}

// ToMap synthesises the density of f and f000, on an absolute scale.
func (t *Transform) ToMap(f *reciprocal.Set, f000 float64) (*Map, error) {
	if t.volume <= 0 {
		return nil, errors.New("density transform: cell has no volume")
	}
	buf := make([]complex128, t.grid.Size())
	for i := 0; i < f.Len(); i++ {
		h := f.Index(i)
		if h.IsZero() {
			continue
		}
		v := f.Value(i)
		buf[t.slot(h)] += v
		buf[t.slot(h.Neg())] += cmplx.Conj(v)
	}
	buf[0] += complex(f000, 0)
	t.fft3(buf, true)

	m := NewMap(t.grid)
	inv := 1 / t.volume
	for i, v := range buf {
		m.Data[i] = real(v) * inv
	}
	return m, nil
}

// ToStructureFactors analyses m at the indices of template and returns the
// structure factors together with F000.
func (t *Transform) ToStructureFactors(m *Map, template *reciprocal.Set) (*reciprocal.Set, float64, error) {
	if m.Grid != t.grid {
		return nil, 0, fmt.Errorf("density transform: map grid %v does not match %v", m.Grid.N, t.grid.N)
	}
	buf := make([]complex128, len(m.Data))
	for i, v := range m.Data {
		buf[i] = complex(v, 0)
	}
	t.fft3(buf, false)

	scale := complex(t.Scale(), 0)
	data := make([]complex128, template.Len())
	for i := range data {
		data[i] = buf[t.slot(template.Index(i))] * scale
	}
	g, err := reciprocal.New(template.Cell(), template.SpaceGroup(), template.Indices(), data)
	if err != nil {
		return nil, 0, err
	}
	return g, real(buf[0]) * t.Scale(), nil
}

// fft3 transforms buf in place along each axis. toReal selects the kernel
// exp(-2πi·jk/n) used for synthesis; otherwise exp(+2πi·jk/n).
func (t *Transform) fft3(buf []complex128, toReal bool) {
	n := t.grid.N
	strides := [3]int{n[1] * n[2], n[2], 1}
	for axis := 0; axis < 3; axis++ {
		length := n[axis]
		if length == 1 {
			continue
		}
		plan := t.plans[axis]
		stride := strides[axis]
		line := make([]complex128, length)
		for start := range buf {
			if (start/stride)%length != 0 {
				continue
			}
			for p := 0; p < length; p++ {
				line[p] = buf[start+p*stride]
			}
			if toReal {
				plan.Coefficients(line, line)
			} else {
				plan.Sequence(line, line)
			}
			for p := 0; p < length; p++ {
				buf[start+p*stride] = line[p]
			}
		}
	}
}

// SynthesizeGrid takes Fourier coefficients already laid out on the grid
// (slot of h at Gridding.Index(h)) and returns the real part of
// Σ_h c(h)·exp(-2πi h·x) at every grid point, without volume scaling.
// buf is overwritten.
func (t *Transform) SynthesizeGrid(buf []complex128) (*Map, error) {
	if len(buf) != t.grid.Size() {
		return nil, fmt.Errorf("density transform: %d coefficients for a grid of %d", len(buf), t.grid.Size())
	}
	t.fft3(buf, true)
	m := NewMap(t.grid)
	for i, v := range buf {
		m.Data[i] = real(v)
	}
	return m, nil
}
