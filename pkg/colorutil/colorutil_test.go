package colorutil

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiverging(t *testing.T) {
	assert.Equal(t, White, Diverging(0))
	assert.Equal(t, Red, Diverging(1))
	assert.Equal(t, Blue, Diverging(-1))
	assert.Equal(t, Red, Diverging(7), "saturates")
	assert.Equal(t, Black, Diverging(math.NaN()))

	half := Diverging(0.5)
	assert.Greater(t, half.R, Red.R)
	assert.Less(t, half.G, White.G)
}

func TestLerp(t *testing.T) {
	assert.Equal(t, Black, Lerp(Black, White, -1))
	assert.Equal(t, White, Lerp(Black, White, 2))
	assert.Equal(t, uint8(128), Lerp(Black, White, 0.5).R)
	assert.Equal(t, Grayscale(0.25), Lerp(Black, White, 0.25))
}
