package section

import (
	"image"
	_ "image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "golang.org/x/image/tiff"

	"charge-flip/internal/density"
	"charge-flip/pkg/colorutil"
)

// rampMap holds 100·i + 10·j + k at grid point (i, j, k).
func rampMap() *density.Map {
	m := density.NewMap(density.Gridding{N: [3]int{2, 3, 4}})
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 4; k++ {
				m.Data[m.Grid.Index(i, j, k)] = float64(100*i + 10*j + k)
			}
		}
	}
	return m
}

func TestCut(t *testing.T) {
	m := rampMap()
	tests := []struct {
		axis          Axis
		level         int
		width, height int
		x, y          int
		want          float64
	}{
		{AxisC, 2, 2, 3, 1, 2, 122},
		{AxisC, -1, 2, 3, 0, 1, 13},
		{AxisB, 1, 2, 4, 1, 3, 113},
		{AxisA, 1, 3, 4, 2, 3, 123},
	}
	for _, tt := range tests {
		t.Run(tt.axis.String(), func(t *testing.T) {
			s, err := Cut(m, tt.axis, tt.level)
			require.NoError(t, err)
			assert.Equal(t, tt.width, s.Width)
			assert.Equal(t, tt.height, s.Height)
			assert.Equal(t, tt.want, s.At(tt.x, tt.y))
		})
	}

	_, err := Cut(m, Axis(7), 0)
	assert.Error(t, err)
}

func TestParseAxis(t *testing.T) {
	for in, want := range map[string]Axis{"a": AxisA, "Y": AxisB, "c": AxisC, "": AxisC} {
		got, err := ParseAxis(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseAxis("w")
	assert.Error(t, err)
}

func TestRender(t *testing.T) {
	s := Section{Width: 3, Height: 1, Values: []float64{-2, 0, 4}}
	img := Render(s, 2)
	assert.Equal(t, image.Rect(0, 0, 6, 2), img.Bounds())
	assert.Equal(t, colorutil.Diverging(-0.5), img.RGBAAt(1, 1))
	assert.Equal(t, colorutil.White, img.RGBAAt(2, 0))
	assert.Equal(t, colorutil.Red, img.RGBAAt(5, 1))

	flat := Render(Section{Width: 2, Height: 2, Values: make([]float64, 4)}, 1)
	assert.Equal(t, colorutil.White, flat.RGBAAt(1, 1))
}

func TestMark(t *testing.T) {
	s := Section{Width: 4, Height: 4, Values: make([]float64, 16)}
	img := Render(s, 4)
	Mark(img, s, 0.5, 0.5, colorutil.Yellow)
	assert.Equal(t, colorutil.Yellow, img.RGBAAt(8, 8))
	assert.Equal(t, colorutil.Yellow, img.RGBAAt(12, 8))
	assert.Equal(t, colorutil.White, img.RGBAAt(12, 12))
}

func TestSave(t *testing.T) {
	img := Render(Section{Width: 3, Height: 2, Values: []float64{1, 2, 3, -1, -2, -3}}, 3)
	dir := t.TempDir()
	for _, name := range []string{"s.png", "s.tiff"} {
		path := filepath.Join(dir, name)
		require.NoError(t, Save(path, img))

		f, err := os.Open(path)
		require.NoError(t, err)
		decoded, format, err := image.Decode(f)
		f.Close()
		require.NoError(t, err, name)
		assert.Equal(t, img.Bounds(), decoded.Bounds(), format)
		r, g, b, _ := decoded.At(7, 1).RGBA()
		wr, wg, wb, _ := img.At(7, 1).RGBA()
		assert.Equal(t, [3]uint32{wr, wg, wb}, [3]uint32{r, g, b}, format)
	}

	assert.Error(t, Save(filepath.Join(dir, "s.bmp"), img))
	assert.True(t, IsSupportedFormat("MAP.TIF"))
}
