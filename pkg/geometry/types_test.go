package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrap(t *testing.T) {
	assert.Equal(t, Vec3{X: 0.25, Y: 0.5, Z: 0}, NewVec3(1.25, -0.5, 3).Wrap())
	assert.Equal(t, 0.0, NewVec3(-1e-17, 0, 0).Wrap().X)
}

func TestMinImage(t *testing.T) {
	assert.Equal(t, Vec3{X: -0.25, Y: -0.5, Z: 0.25}, NewVec3(0.75, 0.5, -1.75).MinImage())
}

func TestMat3(t *testing.T) {
	m := Mat3{{2, 0, 0}, {0, 3, 0}, {1, 0, 4}}
	v := NewVec3(1, 2, 3)
	assert.Equal(t, Vec3{X: 2, Y: 6, Z: 13}, m.MulVec(v))
	assert.Equal(t, 2.0+12+39, m.QuadraticForm(v))
	assert.Equal(t, m, Mat3FromFlat(m.Flat()))
	assert.Equal(t, v, Identity3().MulVec(v))
}
