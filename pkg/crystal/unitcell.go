// Package crystal provides unit cells, Miller indices and symmetry operators.
package crystal

import (
	"fmt"
	"math"

	"charge-flip/pkg/geometry"

	"gonum.org/v1/gonum/mat"
)

// Miller is a reciprocal-lattice index (h, k, l).
type Miller [3]int

// Neg returns -h.
func (h Miller) Neg() Miller {
	return Miller{-h[0], -h[1], -h[2]}
}

// IsZero reports whether h is the 000 index.
func (h Miller) IsZero() bool {
	return h[0] == 0 && h[1] == 0 && h[2] == 0
}

// Dot returns h·x for a fractional vector x.
func (h Miller) Dot(x geometry.Vec3) float64 {
	return float64(h[0])*x.X + float64(h[1])*x.Y + float64(h[2])*x.Z
}

// InUpperHalf reports whether h lies in the half of reciprocal space used to
// store non-anomalous P1 data: h>0, or h=0 and k>0, or h=k=0 and l>0.
func (h Miller) InUpperHalf() bool {
	switch {
	case h[0] != 0:
		return h[0] > 0
	case h[1] != 0:
		return h[1] > 0
	default:
		return h[2] > 0
	}
}

// Less orders indices lexicographically.
func (h Miller) Less(other Miller) bool {
	for i := 0; i < 3; i++ {
		if h[i] != other[i] {
			return h[i] < other[i]
		}
	}
	return false
}

func (h Miller) String() string {
	return fmt.Sprintf("(%d %d %d)", h[0], h[1], h[2])
}

// UnitCell holds lattice parameters; lengths in Å, angles in degrees.
type UnitCell struct {
	A     float64 `json:"a" yaml:"a"`
	B     float64 `json:"b" yaml:"b"`
	C     float64 `json:"c" yaml:"c"`
	Alpha float64 `json:"alpha" yaml:"alpha"`
	Beta  float64 `json:"beta" yaml:"beta"`
	Gamma float64 `json:"gamma" yaml:"gamma"`
}

// NewUnitCell validates and returns a unit cell.
func NewUnitCell(a, b, c, alpha, beta, gamma float64) (UnitCell, error) {
	u := UnitCell{A: a, B: b, C: c, Alpha: alpha, Beta: beta, Gamma: gamma}
	if err := u.Validate(); err != nil {
		return UnitCell{}, err
	}
	return u, nil
}

// Validate checks that the parameters describe a real lattice.
func (u UnitCell) Validate() error {
	if u.A <= 0 || u.B <= 0 || u.C <= 0 {
		return fmt.Errorf("unit cell lengths must be positive: %.4g %.4g %.4g", u.A, u.B, u.C)
	}
	for _, angle := range []float64{u.Alpha, u.Beta, u.Gamma} {
		if angle <= 0 || angle >= 180 {
			return fmt.Errorf("unit cell angle out of range: %.4g", angle)
		}
	}
	if u.volumeFactor() <= 0 {
		return fmt.Errorf("unit cell angles %.4g %.4g %.4g do not form a lattice", u.Alpha, u.Beta, u.Gamma)
	}
	return nil
}

func (u UnitCell) cosines() (ca, cb, cg float64) {
	rad := math.Pi / 180
	return math.Cos(u.Alpha * rad), math.Cos(u.Beta * rad), math.Cos(u.Gamma * rad)
}

func (u UnitCell) volumeFactor() float64 {
	ca, cb, cg := u.cosines()
	return 1 - ca*ca - cb*cb - cg*cg + 2*ca*cb*cg
}

// Volume returns the cell volume in Å³.
func (u UnitCell) Volume() float64 {
	return u.A * u.B * u.C * math.Sqrt(u.volumeFactor())
}

// Metric returns the direct-space metric tensor G.
func (u UnitCell) Metric() geometry.Mat3 {
	ca, cb, cg := u.cosines()
	return geometry.Mat3{
		{u.A * u.A, u.A * u.B * cg, u.A * u.C * cb},
		{u.A * u.B * cg, u.B * u.B, u.B * u.C * ca},
		{u.A * u.C * cb, u.B * u.C * ca, u.C * u.C},
	}
}

// ReciprocalMetric returns G* = G⁻¹.
func (u UnitCell) ReciprocalMetric() (geometry.Mat3, error) {
	g := mat.NewDense(3, 3, u.Metric().Flat())
	var inv mat.Dense
	if err := inv.Inverse(g); err != nil {
		return geometry.Mat3{}, fmt.Errorf("invert metric: %w", err)
	}
	return geometry.Mat3FromFlat(inv.RawMatrix().Data), nil
}

// DSpacing returns the interplanar spacing of h in Å, or +Inf for 000.
func (u UnitCell) DSpacing(h Miller) float64 {
	d, err := u.DSpacings([]Miller{h})
	if err != nil {
		return math.NaN()
	}
	return d[0]
}

// DSpacings returns the interplanar spacing of every index, inverting the
// metric only once.
func (u UnitCell) DSpacings(indices []Miller) ([]float64, error) {
	gs, err := u.ReciprocalMetric()
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(indices))
	for i, h := range indices {
		if h.IsZero() {
			out[i] = math.Inf(1)
			continue
		}
		v := geometry.Vec3{X: float64(h[0]), Y: float64(h[1]), Z: float64(h[2])}
		out[i] = 1 / math.Sqrt(gs.QuadraticForm(v))
	}
	return out, nil
}

// Length returns the cartesian length in Å of a fractional vector.
func (u UnitCell) Length(frac geometry.Vec3) float64 {
	return math.Sqrt(math.Max(u.Metric().QuadraticForm(frac), 0))
}

// Distance returns the distance in Å between two fractional sites, taking
// the nearest lattice image of the difference.
func (u UnitCell) Distance(a, b geometry.Vec3) float64 {
	return u.Length(b.Sub(a).MinImage())
}
