// Package geometry provides basic 3D value types used throughout the application.
package geometry

import (
	"math"
)

// Vec3 represents a 3D vector, in fractional or cartesian coordinates
// depending on context.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// NewVec3 creates a new Vec3.
func NewVec3(x, y, z float64) Vec3 {
	return Vec3{X: x, Y: y, Z: z}
}

// Add returns the sum of two vectors.
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

// Sub returns the difference of two vectors.
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Scale returns the vector scaled by a factor.
func (v Vec3) Scale(factor float64) Vec3 {
	return Vec3{X: v.X * factor, Y: v.Y * factor, Z: v.Z * factor}
}

// Dot returns the scalar product.
func (v Vec3) Dot(other Vec3) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

// At returns component i (0, 1 or 2).
func (v Vec3) At(i int) float64 {
	switch i {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

// Wrap returns the vector with every component reduced to [0, 1).
func (v Vec3) Wrap() Vec3 {
	return Vec3{X: wrapUnit(v.X), Y: wrapUnit(v.Y), Z: wrapUnit(v.Z)}
}

// MinImage returns the vector with every component reduced to [-0.5, 0.5).
// For a fractional difference vector this is the nearest lattice image.
func (v Vec3) MinImage() Vec3 {
	return Vec3{X: minImage(v.X), Y: minImage(v.Y), Z: minImage(v.Z)}
}

func wrapUnit(x float64) float64 {
	x -= math.Floor(x)
	if x >= 1 {
		// -1e-17 floors to -1 and leaves exactly 1
		x = 0
	}
	return x
}

func minImage(x float64) float64 {
	x = wrapUnit(x)
	if x >= 0.5 {
		x--
	}
	return x
}

// Mat3 is a 3x3 row-major matrix.
type Mat3 [3][3]float64

// Identity3 returns the identity matrix.
func Identity3() Mat3 {
	return Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// MulVec returns m * v (v as a column vector).
func (m Mat3) MulVec(v Vec3) Vec3 {
	return Vec3{
		X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

// QuadraticForm returns v^T m v.
func (m Mat3) QuadraticForm(v Vec3) float64 {
	return v.Dot(m.MulVec(v))
}

// Flat returns the matrix as a row-major slice, the layout gonum expects.
func (m Mat3) Flat() []float64 {
	return []float64{
		m[0][0], m[0][1], m[0][2],
		m[1][0], m[1][1], m[1][2],
		m[2][0], m[2][1], m[2][2],
	}
}

// Mat3FromFlat builds a Mat3 from a row-major slice of length 9.
func Mat3FromFlat(s []float64) Mat3 {
	var m Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m[i][j] = s[3*i+j]
		}
	}
	return m
}
