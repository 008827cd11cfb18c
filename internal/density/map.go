// Package density provides real-space electron density maps on crystal grids
// and the Fourier transforms relating them to structure factors.
package density

import (
	"math"
	"sort"

	"charge-flip/internal/reciprocal"

	"gonum.org/v1/gonum/floats"
)

// Gridding is the number of grid points along each cell edge.
type Gridding struct {
	N [3]int
}

// NewGridding derives a grid from the reflections of set: along each axis
// the grid must hold 2·hmax+1 points (no aliasing between distinct
// reflections) and hmax/resolutionFactor points (sampling step of
// d_min·resolutionFactor). Sizes are rounded up to products of 2, 3 and 5.
func NewGridding(set *reciprocal.Set, resolutionFactor float64) Gridding {
	if resolutionFactor <= 0 || resolutionFactor > 0.5 {
		resolutionFactor = 0.5
	}
	hmax := set.MaxIndices()
	var g Gridding
	for i := 0; i < 3; i++ {
		n := 2*hmax[i] + 1
		if m := int(math.Ceil(float64(hmax[i]) / resolutionFactor)); m > n {
			n = m
		}
		g.N[i] = nextSmooth(n)
	}
	return g
}

// nextSmooth returns the smallest integer >= n with no prime factor above 5.
func nextSmooth(n int) int {
	if n < 1 {
		return 1
	}
	for ; ; n++ {
		m := n
		for _, p := range []int{2, 3, 5} {
			for m%p == 0 {
				m /= p
			}
		}
		if m == 1 {
			return n
		}
	}
}

// Size returns the total number of grid points.
func (g Gridding) Size() int {
	return g.N[0] * g.N[1] * g.N[2]
}

// Index returns the linear index of grid point (i, j, k), wrapping each
// coordinate periodically.
func (g Gridding) Index(i, j, k int) int {
	return (wrap(i, g.N[0])*g.N[1]+wrap(j, g.N[1]))*g.N[2] + wrap(k, g.N[2])
}

// Coords returns the grid point of a linear index.
func (g Gridding) Coords(idx int) (i, j, k int) {
	k = idx % g.N[2]
	idx /= g.N[2]
	j = idx % g.N[1]
	i = idx / g.N[1]
	return i, j, k
}

func wrap(i, n int) int {
	i %= n
	if i < 0 {
		i += n
	}
	return i
}

// Map is a real-valued scalar field sampled on a Gridding, in row-major
// order with the last axis fastest.
type Map struct {
	Grid Gridding
	Data []float64
}

// NewMap returns a zero map on g.
func NewMap(g Gridding) *Map {
	return &Map{Grid: g, Data: make([]float64, g.Size())}
}

// At returns the value at grid point (i, j, k), periodic in each axis.
func (m *Map) At(i, j, k int) float64 {
	return m.Data[m.Grid.Index(i, j, k)]
}

// Clone returns a deep copy.
func (m *Map) Clone() *Map {
	return &Map{Grid: m.Grid, Data: append([]float64(nil), m.Data...)}
}

// CTot returns the sum of all map values.
func (m *Map) CTot() float64 {
	return floats.Sum(m.Data)
}

// CFlip returns the sum of |ρ| over the cells below delta.
func (m *Map) CFlip(delta float64) float64 {
	var sum float64
	for _, v := range m.Data {
		if v < delta {
			sum += math.Abs(v)
		}
	}
	return sum
}

// FlippedFractionAsDelta returns the threshold below which the given
// fraction of cells lie.
func (m *Map) FlippedFractionAsDelta(fraction float64) float64 {
	if len(m.Data) == 0 {
		return 0
	}
	sorted := append([]float64(nil), m.Data...)
	sort.Float64s(sorted)
	i := int(fraction * float64(len(sorted)))
	if i < 0 {
		i = 0
	}
	if i >= len(sorted) {
		i = len(sorted) - 1
	}
	return sorted[i]
}
