// Package reciprocal provides sets of structure factors indexed by Miller
// index, with the symmetry and phase manipulations charge flipping needs.
//
// A Set is treated as an immutable value: every operation returns a new Set
// and leaves its receiver untouched.
package reciprocal

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"math/rand"
	"sort"

	"charge-flip/pkg/crystal"
	"charge-flip/pkg/geometry"

	"gonum.org/v1/gonum/floats"
)

// ErrIndexMismatch is returned when two sets that must share indices do not.
var ErrIndexMismatch = errors.New("reciprocal sets do not share indices")

// Set holds structure factors on a list of Miller indices.
type Set struct {
	cell    crystal.UnitCell
	group   crystal.SpaceGroup
	indices []crystal.Miller
	data    []complex128
}

// New creates a set; indices and data must have equal length.
func New(cell crystal.UnitCell, group crystal.SpaceGroup, indices []crystal.Miller, data []complex128) (*Set, error) {
	if len(indices) != len(data) {
		return nil, fmt.Errorf("%d indices but %d structure factors", len(indices), len(data))
	}
	if err := cell.Validate(); err != nil {
		return nil, err
	}
	if len(group.Ops) == 0 {
		group = crystal.P1()
	}
	return &Set{
		cell:    cell,
		group:   group,
		indices: append([]crystal.Miller(nil), indices...),
		data:    append([]complex128(nil), data...),
	}, nil
}

// FromAmplitudes creates a set of real, zero-phase structure factors.
func FromAmplitudes(cell crystal.UnitCell, group crystal.SpaceGroup, indices []crystal.Miller, amplitudes []float64) (*Set, error) {
	if len(indices) != len(amplitudes) {
		return nil, fmt.Errorf("%d indices but %d amplitudes", len(indices), len(amplitudes))
	}
	data := make([]complex128, len(amplitudes))
	for i, a := range amplitudes {
		data[i] = complex(a, 0)
	}
	return New(cell, group, indices, data)
}

func (s *Set) derive(indices []crystal.Miller, data []complex128) *Set {
	return &Set{cell: s.cell, group: s.group, indices: indices, data: data}
}

// Len returns the number of reflections.
func (s *Set) Len() int { return len(s.indices) }

// Cell returns the unit cell.
func (s *Set) Cell() crystal.UnitCell { return s.cell }

// SpaceGroup returns the space group.
func (s *Set) SpaceGroup() crystal.SpaceGroup { return s.group }

// Index returns the i-th Miller index.
func (s *Set) Index(i int) crystal.Miller { return s.indices[i] }

// Value returns the i-th structure factor.
func (s *Set) Value(i int) complex128 { return s.data[i] }

// Indices returns a copy of the Miller indices.
func (s *Set) Indices() []crystal.Miller {
	return append([]crystal.Miller(nil), s.indices...)
}

// Data returns a copy of the structure factors.
func (s *Set) Data() []complex128 {
	return append([]complex128(nil), s.data...)
}

// Amplitudes returns |F| for every reflection.
func (s *Set) Amplitudes() []float64 {
	out := make([]float64, len(s.data))
	for i, f := range s.data {
		out[i] = cmplx.Abs(f)
	}
	return out
}

// Phases returns arg F in radians for every reflection; 0 for F = 0.
func (s *Set) Phases() []float64 {
	out := make([]float64, len(s.data))
	for i, f := range s.data {
		out[i] = cmplx.Phase(f)
	}
	return out
}

// HasData reports whether at least one amplitude is nonzero.
func (s *Set) HasData() bool {
	for _, f := range s.data {
		if f != 0 {
			return true
		}
	}
	return false
}

// MaxIndices returns max |h|, |k|, |l| over the set.
func (s *Set) MaxIndices() [3]int {
	var out [3]int
	for _, h := range s.indices {
		for i := 0; i < 3; i++ {
			if a := abs(h[i]); a > out[i] {
				out[i] = a
			}
		}
	}
	return out
}

// DMin returns the smallest d-spacing in the set, or +Inf when empty.
func (s *Set) DMin() float64 {
	d, err := s.cell.DSpacings(s.indices)
	if err != nil || len(d) == 0 {
		return math.Inf(1)
	}
	return floats.Min(d)
}

// EliminateSystematicAbsences drops reflections forced to zero by symmetry.
func (s *Set) EliminateSystematicAbsences() *Set {
	var indices []crystal.Miller
	var data []complex128
	for i, h := range s.indices {
		if s.group.IsSystematicallyAbsent(h) {
			continue
		}
		indices = append(indices, h)
		data = append(data, s.data[i])
	}
	return s.derive(indices, data)
}

// ExpandToP1 generates every symmetry mate of every reflection and stores
// the result as non-anomalous P1 data: one entry per Friedel pair, in the
// upper half of reciprocal space. F000 is dropped. Order follows the input
// and then the operator list.
//
// Mates of one reflection that coincide (special positions, centric
// reflections) are stored once. Separate observations of the same index are
// all kept, so redundant data can be averaged by MergeEquivalents.
func (s *Set) ExpandToP1() *Set {
	seen := make(map[crystal.Miller]bool, s.group.Order())
	var indices []crystal.Miller
	var data []complex128
	for i, h := range s.indices {
		clear(seen)
		for _, eq := range s.group.Equivalents(h) {
			k := eq.Index
			if k.IsZero() {
				continue
			}
			f := s.data[i] * cmplx.Rect(1, 2*math.Pi*eq.Shift)
			if !k.InUpperHalf() {
				k = k.Neg()
				f = cmplx.Conj(f)
			}
			if seen[k] {
				continue
			}
			seen[k] = true
			indices = append(indices, k)
			data = append(data, f)
		}
	}
	out := s.derive(indices, data)
	out.group = crystal.P1()
	return out
}

// MergeEquivalents merges reflections that are symmetry or Friedel mates
// under the set's group. The merged value is the mean amplitude with phase
// zero; phases do not survive merging.
func (s *Set) MergeEquivalents() *Set {
	slot := make(map[crystal.Miller]int, len(s.indices))
	var indices []crystal.Miller
	var sums []float64
	var counts []int
	for i, h := range s.indices {
		key := s.group.CanonicalIndex(h)
		j, ok := slot[key]
		if !ok {
			j = len(indices)
			slot[key] = j
			rep := h
			if s.group.Order() == 1 && !rep.IsZero() && !rep.InUpperHalf() {
				rep = rep.Neg()
			}
			indices = append(indices, rep)
			sums = append(sums, 0)
			counts = append(counts, 0)
		}
		sums[j] += cmplx.Abs(s.data[i])
		counts[j]++
	}
	data := make([]complex128, len(indices))
	for j := range indices {
		data[j] = complex(sums[j]/float64(counts[j]), 0)
	}
	return s.derive(indices, data)
}

// DiscardPhases replaces every structure factor by its amplitude.
func (s *Set) DiscardPhases() *Set {
	data := make([]complex128, len(s.data))
	for i, f := range s.data {
		data[i] = complex(cmplx.Abs(f), 0)
	}
	return s.derive(append([]crystal.Miller(nil), s.indices...), data)
}

// PhaseTransfer returns |s| combined with the phases of source. The two sets
// must hold the same indices in the same order.
func (s *Set) PhaseTransfer(source *Set) (*Set, error) {
	if err := s.checkMatching(source); err != nil {
		return nil, err
	}
	return s.WithPhases(source.Phases())
}

// WithPhases returns |s| combined with the given phases in radians.
func (s *Set) WithPhases(phases []float64) (*Set, error) {
	if len(phases) != len(s.data) {
		return nil, fmt.Errorf("%w: %d phases for %d reflections", ErrIndexMismatch, len(phases), len(s.data))
	}
	data := make([]complex128, len(s.data))
	for i, f := range s.data {
		data[i] = cmplx.Rect(cmplx.Abs(f), phases[i])
	}
	return s.derive(append([]crystal.Miller(nil), s.indices...), data), nil
}

// RandomizePhases returns |s| with phases drawn uniformly from [0, 2π).
func (s *Set) RandomizePhases(rng *rand.Rand) *Set {
	phases := make([]float64, len(s.data))
	for i := range phases {
		phases[i] = 2 * math.Pi * rng.Float64()
	}
	out, _ := s.WithPhases(phases)
	return out
}

// ShiftOrigin moves the origin of the underlying density to shift
// (fractional): the new density is ρ'(x) = ρ(x + shift), i.e.
// F'(h) = F(h)·exp(-2πi h·shift).
func (s *Set) ShiftOrigin(shift geometry.Vec3) *Set {
	data := make([]complex128, len(s.data))
	for i, f := range s.data {
		data[i] = f * cmplx.Rect(1, -2*math.Pi*s.indices[i].Dot(shift))
	}
	return s.derive(append([]crystal.Miller(nil), s.indices...), data)
}

// Scale multiplies every structure factor by k.
func (s *Set) Scale(k float64) *Set {
	data := make([]complex128, len(s.data))
	for i, f := range s.data {
		data[i] = f * complex(k, 0)
	}
	return s.derive(append([]crystal.Miller(nil), s.indices...), data)
}

// SortPermutation returns the permutation ordering reflections by amplitude,
// descending when descending is true. Ties keep their original order.
func (s *Set) SortPermutation(descending bool) []int {
	amps := s.Amplitudes()
	perm := make([]int, len(amps))
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(a, b int) bool {
		if descending {
			return amps[perm[a]] > amps[perm[b]]
		}
		return amps[perm[a]] < amps[perm[b]]
	})
	return perm
}

// Select returns the reflections at the given positions, in that order.
func (s *Set) Select(perm []int) *Set {
	indices := make([]crystal.Miller, len(perm))
	data := make([]complex128, len(perm))
	for i, p := range perm {
		indices[i] = s.indices[p]
		data[i] = s.data[p]
	}
	return s.derive(indices, data)
}

// R1Factor returns Σ||F| - k|G|| / Σ|F| between s (F) and other (G), with
// k the least-squares scale Σ|F||G| / Σ|G|². Indices must match. A set with
// no amplitude returns 0.
func (s *Set) R1Factor(other *Set) (float64, error) {
	if err := s.checkMatching(other); err != nil {
		return 0, err
	}
	f := s.Amplitudes()
	g := other.Amplitudes()
	num := floats.Dot(f, g)
	den := floats.Dot(g, g)
	k := 1.0
	if den > 0 {
		k = num / den
	}
	var diff, sum float64
	for i := range f {
		diff += math.Abs(f[i] - k*g[i])
		sum += f[i]
	}
	if sum == 0 {
		return 0, nil
	}
	return diff / sum, nil
}

func (s *Set) checkMatching(other *Set) error {
	if other == nil || len(other.indices) != len(s.indices) {
		return ErrIndexMismatch
	}
	for i, h := range s.indices {
		if other.indices[i] != h {
			return fmt.Errorf("%w: %v vs %v at %d", ErrIndexMismatch, h, other.indices[i], i)
		}
	}
	return nil
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
