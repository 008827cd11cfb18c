// Package synth generates small synthetic crystal structures and their
// structure factors, for testing and for trying the solver without data.
package synth

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"math/rand"

	"charge-flip/internal/reciprocal"
	"charge-flip/pkg/crystal"
	"charge-flip/pkg/geometry"
)

// Atom is a point scatterer at a fractional site.
type Atom struct {
	Site geometry.Vec3 `json:"site" yaml:"site"`
	Z    float64       `json:"z" yaml:"z"`
}

// Config describes the structure to generate.
type Config struct {
	Cell  crystal.UnitCell
	Group crystal.SpaceGroup
	// Atoms is the number of atoms in the asymmetric unit.
	Atoms int
	Z     float64
	// B is the isotropic displacement parameter in Å².
	B    float64
	DMin float64
	// MinDistance is the closest approach, in Å, between two atoms.
	MinDistance float64
	Seed        int64
}

// DefaultConfig returns a 10 Å cubic P1 cell with eight carbon-like atoms at
// 1 Å resolution.
func DefaultConfig() Config {
	return Config{
		Cell:        crystal.UnitCell{A: 10, B: 10, C: 10, Alpha: 90, Beta: 90, Gamma: 90},
		Group:       crystal.P1(),
		Atoms:       8,
		Z:           6,
		B:           1.5,
		DMin:        1.0,
		MinDistance: 1.4,
		Seed:        1,
	}
}

// WithCell returns a copy of c with a different cell.
func (c Config) WithCell(cell crystal.UnitCell) Config {
	c.Cell = cell
	return c
}

// WithGroup returns a copy of c with a different space group.
func (c Config) WithGroup(g crystal.SpaceGroup) Config {
	c.Group = g
	return c
}

// WithAtoms returns a copy of c with n atoms of atomic number z.
func (c Config) WithAtoms(n int, z float64) Config {
	c.Atoms = n
	c.Z = z
	return c
}

// WithResolution returns a copy of c truncated at dMin.
func (c Config) WithResolution(dMin float64) Config {
	c.DMin = dMin
	return c
}

// WithSeed returns a copy of c with a different seed.
func (c Config) WithSeed(seed int64) Config {
	c.Seed = seed
	return c
}

// ErrCrowded is returned when the atoms cannot be placed at the requested
// minimum distance.
var ErrCrowded = errors.New("synth: cannot place atoms at the requested distance")

// Structure is a generated crystal.
type Structure struct {
	Cell  crystal.UnitCell
	Group crystal.SpaceGroup
	// Atoms holds the asymmetric unit.
	Atoms []Atom
	// Sites holds every atom in the cell.
	Sites []Atom
	B     float64
	// True holds the exact structure factors on the unique reflections.
	True *reciprocal.Set
	// FObs holds their amplitudes.
	FObs *reciprocal.Set
}

// F000 returns the number of electrons in the cell.
func (s Structure) F000() float64 {
	var sum float64
	for _, a := range s.Sites {
		sum += a.Z
	}
	return sum
}

// Generate places the atoms and computes their structure factors.
func Generate(c Config) (Structure, error) {
	if err := c.Cell.Validate(); err != nil {
		return Structure{}, err
	}
	if c.Atoms < 1 || c.DMin <= 0 {
		return Structure{}, fmt.Errorf("synth: need at least one atom and a positive d_min")
	}
	group := c.Group
	if len(group.Ops) == 0 {
		group = crystal.P1()
	}
	rng := rand.New(rand.NewSource(c.Seed))

	var atoms, sites []Atom
	const maxTries = 10000
	for tries := 0; len(atoms) < c.Atoms; tries++ {
		if tries == maxTries {
			return Structure{}, fmt.Errorf("%w: placed %d of %d", ErrCrowded, len(atoms), c.Atoms)
		}
		x := geometry.Vec3{X: rng.Float64(), Y: rng.Float64(), Z: rng.Float64()}
		mates := images(group, x)
		if !fits(c.Cell, sites, mates, c.MinDistance) {
			continue
		}
		atoms = append(atoms, Atom{Site: x, Z: c.Z})
		for _, m := range mates {
			sites = append(sites, Atom{Site: m, Z: c.Z})
		}
	}

	indices, err := UniqueIndices(c.Cell, group, c.DMin)
	if err != nil {
		return Structure{}, err
	}
	data, err := StructureFactors(c.Cell, sites, indices, c.B)
	if err != nil {
		return Structure{}, err
	}
	truth, err := reciprocal.New(c.Cell, group, indices, data)
	if err != nil {
		return Structure{}, err
	}
	return Structure{
		Cell:  c.Cell,
		Group: group,
		Atoms: atoms,
		Sites: sites,
		B:     c.B,
		True:  truth,
		FObs:  truth.DiscardPhases(),
	}, nil
}

// images returns the distinct symmetry mates of x, wrapped into the cell.
func images(g crystal.SpaceGroup, x geometry.Vec3) []geometry.Vec3 {
	var out []geometry.Vec3
	for _, op := range g.Ops {
		var y geometry.Vec3
		for i := 0; i < 3; i++ {
			v := op.T.At(i)
			for j := 0; j < 3; j++ {
				v += float64(op.R[i][j]) * x.At(j)
			}
			switch i {
			case 0:
				y.X = v
			case 1:
				y.Y = v
			default:
				y.Z = v
			}
		}
		y = y.Wrap()
		dup := false
		for _, o := range out {
			d := o.Sub(y).MinImage()
			if math.Abs(d.X)+math.Abs(d.Y)+math.Abs(d.Z) < 1e-6 {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, y)
		}
	}
	return out
}

// fits reports whether every new site keeps minDist from the placed sites
// and from the other new sites.
func fits(cell crystal.UnitCell, placed []Atom, mates []geometry.Vec3, minDist float64) bool {
	if minDist <= 0 {
		return true
	}
	for i, m := range mates {
		for _, a := range placed {
			if cell.Distance(a.Site, m) < minDist {
				return false
			}
		}
		for _, o := range mates[:i] {
			if cell.Distance(o, m) < minDist {
				return false
			}
		}
	}
	return true
}

// UniqueIndices lists the reflections with d >= dMin that are neither 000
// nor systematically absent, one per set of symmetry and Friedel mates.
func UniqueIndices(cell crystal.UnitCell, group crystal.SpaceGroup, dMin float64) ([]crystal.Miller, error) {
	gs, err := cell.ReciprocalMetric()
	if err != nil {
		return nil, err
	}
	limit := 1 / (dMin * dMin)
	hmax := [3]int{
		int(math.Ceil(cell.A / dMin)),
		int(math.Ceil(cell.B / dMin)),
		int(math.Ceil(cell.C / dMin)),
	}
	var out []crystal.Miller
	for h := -hmax[0]; h <= hmax[0]; h++ {
		for k := -hmax[1]; k <= hmax[1]; k++ {
			for l := -hmax[2]; l <= hmax[2]; l++ {
				m := crystal.Miller{h, k, l}
				if m.IsZero() || group.CanonicalIndex(m) != m || group.IsSystematicallyAbsent(m) {
					continue
				}
				v := geometry.Vec3{X: float64(h), Y: float64(k), Z: float64(l)}
				if gs.QuadraticForm(v) > limit {
					continue
				}
				out = append(out, m)
			}
		}
	}
	return out, nil
}

// StructureFactors evaluates F(h) = Σ f(s)·exp(2πi h·x) over sites, with the
// Gaussian form factor f(s) = Z·exp(-B·s²/4), s = 1/d.
func StructureFactors(cell crystal.UnitCell, sites []Atom, indices []crystal.Miller, b float64) ([]complex128, error) {
	d, err := cell.DSpacings(indices)
	if err != nil {
		return nil, err
	}
	out := make([]complex128, len(indices))
	for i, h := range indices {
		s2 := 0.0
		if !math.IsInf(d[i], 1) {
			s2 = 1 / (d[i] * d[i])
		}
		damp := math.Exp(-b * s2 / 4)
		var f complex128
		for _, a := range sites {
			f += complex(a.Z*damp, 0) * cmplx.Rect(1, 2*math.Pi*h.Dot(a.Site))
		}
		out[i] = f
	}
	return out, nil
}
