// Package section cuts two-dimensional sections out of density maps and
// renders them as images.
package section

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strings"

	"charge-flip/internal/density"
	"charge-flip/pkg/colorutil"
)

// Axis is the cell axis normal to a section.
type Axis int

const (
	AxisA Axis = iota
	AxisB
	AxisC
)

func (a Axis) String() string {
	switch a {
	case AxisA:
		return "a"
	case AxisB:
		return "b"
	case AxisC:
		return "c"
	default:
		return "unknown"
	}
}

// ParseAxis accepts a, b, c or x, y, z.
func ParseAxis(s string) (Axis, error) {
	switch strings.ToLower(s) {
	case "a", "x":
		return AxisA, nil
	case "b", "y":
		return AxisB, nil
	case "c", "z", "":
		return AxisC, nil
	default:
		return 0, fmt.Errorf("unknown section axis %q", s)
	}
}

// Section is a plane of grid values. Columns run along the first in-plane
// axis (b for an a-section, a otherwise), rows along the second.
type Section struct {
	Axis   Axis
	Level  int
	Width  int
	Height int
	Values []float64
}

// At returns the value at column x, row y.
func (s Section) At(x, y int) float64 {
	return s.Values[y*s.Width+x]
}

// Cut extracts the plane at grid index level along axis. The level wraps
// periodically.
func Cut(m *density.Map, axis Axis, level int) (Section, error) {
	n := m.Grid.N
	var u, v int
	switch axis {
	case AxisA:
		u, v = 1, 2
	case AxisB:
		u, v = 0, 2
	case AxisC:
		u, v = 0, 1
	default:
		return Section{}, fmt.Errorf("unknown section axis %d", axis)
	}
	s := Section{Axis: axis, Width: n[u], Height: n[v]}
	s.Level = ((level % n[axis]) + n[axis]) % n[axis]
	s.Values = make([]float64, s.Width*s.Height)
	var p [3]int
	p[axis] = s.Level
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			p[u], p[v] = x, y
			s.Values[y*s.Width+x] = m.At(p[0], p[1], p[2])
		}
	}
	return s, nil
}

// Range returns the smallest and largest value.
func (s Section) Range() (lo, hi float64) {
	if len(s.Values) == 0 {
		return 0, 0
	}
	lo, hi = s.Values[0], s.Values[0]
	for _, v := range s.Values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

// Render draws the section with the diverging color map, scaled so that the
// largest |value| saturates. Each grid point becomes a scale×scale block.
func Render(s Section, scale int) *image.RGBA {
	scale = max(scale, 1)
	img := image.NewRGBA(image.Rect(0, 0, s.Width*scale, s.Height*scale))
	lo, hi := s.Range()
	norm := math.Max(math.Abs(lo), math.Abs(hi))
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			v := 0.0
			if norm > 0 {
				v = s.At(x, y) / norm
			}
			block := image.Rect(x*scale, y*scale, (x+1)*scale, (y+1)*scale)
			draw.Draw(img, block, &image.Uniform{colorutil.Diverging(v)}, image.Point{}, draw.Src)
		}
	}
	return img
}

// Mark draws a small cross centred on the fractional in-plane position
// (fx, fy) of a rendered section.
func Mark(img *image.RGBA, s Section, fx, fy float64, c color.Color) {
	b := img.Bounds()
	cx := int(math.Round(wrapUnit(fx) * float64(b.Dx())))
	cy := int(math.Round(wrapUnit(fy) * float64(b.Dy())))
	arm := max(b.Dx()/s.Width, 2)
	for d := -arm; d <= arm; d++ {
		img.Set(cx+d, cy, c)
		img.Set(cx, cy+d, c)
	}
}

func wrapUnit(x float64) float64 {
	return x - math.Floor(x)
}
