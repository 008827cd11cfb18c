package crystal

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"charge-flip/pkg/geometry"
)

// ErrBadSymOp is returned when a symmetry operator cannot be parsed.
var ErrBadSymOp = errors.New("bad symmetry operator")

// SymOp is a symmetry operation x' = R·x + T on fractional coordinates.
type SymOp struct {
	R [3][3]int
	T geometry.Vec3
}

// IdentityOp returns x,y,z.
func IdentityOp() SymOp {
	return SymOp{R: [3][3]int{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}}
}

// ParseSymOp parses an operator in the usual "x,y,z" notation, for example
// "-x,y+1/2,-z+1/2". Only unit coefficients on x, y and z are accepted.
func ParseSymOp(s string) (SymOp, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return SymOp{}, fmt.Errorf("%w: %q: want 3 components", ErrBadSymOp, s)
	}
	var op SymOp
	var t [3]float64
	for i, part := range parts {
		row, ti, err := parseRow(part)
		if err != nil {
			return SymOp{}, fmt.Errorf("%w: %q: %v", ErrBadSymOp, s, err)
		}
		op.R[i] = row
		t[i] = ti
	}
	op.T = geometry.Vec3{X: t[0], Y: t[1], Z: t[2]}.Wrap()
	return op, nil
}

func parseRow(s string) ([3]int, float64, error) {
	var row [3]int
	var t float64
	s = strings.ReplaceAll(strings.ToLower(s), " ", "")
	if s == "" {
		return row, 0, errors.New("empty component")
	}
	sign := 1
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '+':
			sign = 1
			i++
		case c == '-':
			sign = -1
			i++
		case c == 'x' || c == 'y' || c == 'z':
			row[c-'x'] += sign
			sign = 1
			i++
		case (c >= '0' && c <= '9') || c == '.':
			j := i
			for j < len(s) && ((s[j] >= '0' && s[j] <= '9') || s[j] == '.' || s[j] == '/') {
				j++
			}
			if j < len(s) && s[j] >= 'x' && s[j] <= 'z' {
				return row, 0, fmt.Errorf("unsupported coefficient %q", s[i:j+1])
			}
			v, err := parseFraction(s[i:j])
			if err != nil {
				return row, 0, err
			}
			t += float64(sign) * v
			sign = 1
			i = j
		default:
			return row, 0, fmt.Errorf("unexpected character %q", c)
		}
	}
	return row, t, nil
}

func parseFraction(s string) (float64, error) {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, err
	}
	if !found {
		return n, nil
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return 0, errors.New("zero denominator")
	}
	return n / d, nil
}

// String formats the operator back into x,y,z notation.
func (op SymOp) String() string {
	names := [3]string{"x", "y", "z"}
	out := make([]string, 3)
	for i := 0; i < 3; i++ {
		var b strings.Builder
		for j := 0; j < 3; j++ {
			switch op.R[i][j] {
			case 0:
				continue
			case 1:
				if b.Len() > 0 {
					b.WriteByte('+')
				}
			case -1:
				b.WriteByte('-')
			default:
				fmt.Fprintf(&b, "%+d", op.R[i][j])
			}
			b.WriteString(names[j])
		}
		if t := op.T.At(i); t != 0 {
			if b.Len() > 0 {
				b.WriteByte('+')
			}
			b.WriteString(formatFraction(t))
		}
		if b.Len() == 0 {
			b.WriteByte('0')
		}
		out[i] = b.String()
	}
	return strings.Join(out, ",")
}

func formatFraction(t float64) string {
	for _, d := range []int{2, 3, 4, 6, 8, 12} {
		n := t * float64(d)
		if math.Abs(n-math.Round(n)) < 1e-9 {
			return fmt.Sprintf("%d/%d", int(math.Round(n)), d)
		}
	}
	return strconv.FormatFloat(t, 'g', 6, 64)
}

// IsIdentity reports whether op is x,y,z.
func (op SymOp) IsIdentity() bool {
	return op.R == IdentityOp().R && op.T == (geometry.Vec3{})
}

// IsInversion reports whether the rotation part is -1 (any translation).
func (op SymOp) IsInversion() bool {
	return op.R == [3][3]int{{-1, 0, 0}, {0, -1, 0}, {0, 0, -1}}
}

// MillerTimes returns the row-vector product h·R.
func (op SymOp) MillerTimes(h Miller) Miller {
	var out Miller
	for j := 0; j < 3; j++ {
		for i := 0; i < 3; i++ {
			out[j] += h[i] * op.R[i][j]
		}
	}
	return out
}

// PhaseShift returns h·T in cycles.
func (op SymOp) PhaseShift(h Miller) float64 {
	return h.Dot(op.T)
}

// Equivalent is a symmetry mate of an index together with the phase shift,
// in cycles, relating its structure factor to the original: F(h·R) = F(h)·e^{2πi·Shift}.
type Equivalent struct {
	Index Miller
	Shift float64
}

// SpaceGroup is a named list of symmetry operators, identity first.
type SpaceGroup struct {
	Symbol string
	Ops    []SymOp
}

// NewSpaceGroup builds a group from operators in x,y,z notation. The
// identity is added when missing.
func NewSpaceGroup(symbol string, xyz ...string) (SpaceGroup, error) {
	g := SpaceGroup{Symbol: symbol, Ops: []SymOp{IdentityOp()}}
	for _, s := range xyz {
		op, err := ParseSymOp(s)
		if err != nil {
			return SpaceGroup{}, err
		}
		if op.IsIdentity() {
			continue
		}
		g.Ops = append(g.Ops, op)
	}
	return g, nil
}

// P1 returns the trivial group.
func P1() SpaceGroup {
	return SpaceGroup{Symbol: "P1", Ops: []SymOp{IdentityOp()}}
}

// Order returns the number of operators, centring included.
func (g SpaceGroup) Order() int {
	return len(g.Ops)
}

// IsCentric reports whether the group contains an inversion.
func (g SpaceGroup) IsCentric() bool {
	for _, op := range g.Ops {
		if op.IsInversion() {
			return true
		}
	}
	return false
}

// XYZ returns the operators in x,y,z notation.
func (g SpaceGroup) XYZ() []string {
	out := make([]string, len(g.Ops))
	for i, op := range g.Ops {
		out[i] = op.String()
	}
	return out
}

// Equivalents returns h·R for every operator with its phase shift.
// F(h·R) = F(h)·exp(-2πi h·T) for an operator x' = R·x + T.
func (g SpaceGroup) Equivalents(h Miller) []Equivalent {
	out := make([]Equivalent, len(g.Ops))
	for i, op := range g.Ops {
		out[i] = Equivalent{Index: op.MillerTimes(h), Shift: -op.PhaseShift(h)}
	}
	return out
}

// IsSystematicallyAbsent reports whether symmetry forces F(h) = 0.
func (g SpaceGroup) IsSystematicallyAbsent(h Miller) bool {
	for _, op := range g.Ops {
		if op.MillerTimes(h) != h {
			continue
		}
		s := op.PhaseShift(h)
		if math.Abs(s-math.Round(s)) > 1e-6 {
			return true
		}
	}
	return false
}

// CanonicalIndex returns the representative of h among its symmetry mates
// and their Friedel opposites: the lexicographically largest.
func (g SpaceGroup) CanonicalIndex(h Miller) Miller {
	best := h
	for _, op := range g.Ops {
		m := op.MillerTimes(h)
		for _, c := range [2]Miller{m, m.Neg()} {
			if best.Less(c) {
				best = c
			}
		}
	}
	return best
}

var builtinGroups = map[string][]string{
	"p1":      nil,
	"p-1":     {"-x,-y,-z"},
	"p2":      {"-x,y,-z"},
	"p21":     {"-x,y+1/2,-z"},
	"c2":      {"-x,y,-z", "x+1/2,y+1/2,z", "-x+1/2,y+1/2,-z"},
	"p21/c":   {"-x,y+1/2,-z+1/2", "-x,-y,-z", "x,-y+1/2,z+1/2"},
	"p212121": {"-x+1/2,-y,z+1/2", "-x,y+1/2,-z+1/2", "x+1/2,-y+1/2,-z"},
}

// Lookup returns one of the few groups known by symbol (P1, P-1, P2, P21,
// C2, P21/c, P212121). Other groups must be given as explicit operators.
func Lookup(symbol string) (SpaceGroup, error) {
	key := strings.ToLower(strings.NewReplacer(" ", "", "_", "").Replace(symbol))
	ops, ok := builtinGroups[key]
	if !ok {
		return SpaceGroup{}, fmt.Errorf("unknown space group %q: supply symmetry operators explicitly", symbol)
	}
	return NewSpaceGroup(symbol, ops...)
}
