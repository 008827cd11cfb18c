// Package colorutil provides the color maps used to render density sections.
package colorutil

import (
	"image/color"
	"math"
)

// Fixed colors of the diverging map and the peak markers.
var (
	Black  = color.RGBA{R: 0, G: 0, B: 0, A: 255}
	White  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	Blue   = color.RGBA{R: 33, G: 102, B: 172, A: 255}
	Red    = color.RGBA{R: 178, G: 24, B: 43, A: 255}
	Yellow = color.RGBA{R: 255, G: 255, B: 0, A: 255}
)

// Lerp interpolates between a and b; t is clamped to [0, 1].
func Lerp(a, b color.RGBA, t float64) color.RGBA {
	t = clamp(t, 0, 1)
	mix := func(x, y uint8) uint8 {
		return uint8(math.Round(float64(x) + (float64(y)-float64(x))*t))
	}
	return color.RGBA{R: mix(a.R, b.R), G: mix(a.G, b.G), B: mix(a.B, b.B), A: mix(a.A, b.A)}
}

// Diverging maps v in [-1, 1] to blue (negative), white (zero) and red
// (positive). Values outside the range saturate.
func Diverging(v float64) color.RGBA {
	if math.IsNaN(v) {
		return Black
	}
	if v < 0 {
		return Lerp(White, Blue, -v)
	}
	return Lerp(White, Red, v)
}

// Grayscale maps v in [0, 1] to black through white.
func Grayscale(v float64) color.RGBA {
	return Lerp(Black, White, v)
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
