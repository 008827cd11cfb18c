package origin

import (
	"sort"

	"charge-flip/internal/density"
	"charge-flip/pkg/crystal"
	"charge-flip/pkg/geometry"
)

// Peak is a local maximum of a map.
type Peak struct {
	// Site is the fractional position, interpolated when requested.
	Site geometry.Vec3
	// Height is the map value at Site.
	Height float64
	// Grid is the grid point the peak was found at.
	Grid [3]int
}

// PeakParams controls PeakSearch.
type PeakParams struct {
	// Cutoff is the minimum height relative to the map maximum.
	Cutoff float64
	// MinCrossDistance, in Å, is the minimum distance between two reported
	// peaks; 0 disables the filter.
	MinCrossDistance float64
	// Interpolate refines positions with a quadratic fit along each axis.
	Interpolate bool
	// MaxPeaks limits the number of peaks returned; 0 means no limit.
	MaxPeaks int
}

type candidate struct {
	index  int
	grid   [3]int
	site   geometry.Vec3
	height float64
}

// PeakSearch returns the peaks of m ranked by decreasing height.
func PeakSearch(m *density.Map, cell crystal.UnitCell, p PeakParams) []Peak {
	if len(m.Data) == 0 {
		return nil
	}
	top := m.Data[0]
	for _, v := range m.Data[1:] {
		top = max(top, v)
	}
	if top <= 0 {
		return nil
	}
	floor := p.Cutoff * top

	n := m.Grid.N
	var cands []candidate
	for idx, v := range m.Data {
		if v < floor || !isLocalMax(m, idx) {
			continue
		}
		i, j, k := m.Grid.Coords(idx)
		c := candidate{index: idx, grid: [3]int{i, j, k}, height: v}
		offset := [3]float64{}
		if p.Interpolate {
			c.height, offset = interpolate(m, i, j, k)
		}
		c.site = geometry.Vec3{
			X: (float64(i) + offset[0]) / float64(n[0]),
			Y: (float64(j) + offset[1]) / float64(n[1]),
			Z: (float64(k) + offset[2]) / float64(n[2]),
		}.Wrap()
		cands = append(cands, c)
	}
	sort.SliceStable(cands, func(a, b int) bool {
		if cands[a].height != cands[b].height {
			return cands[a].height > cands[b].height
		}
		return cands[a].index < cands[b].index
	})

	var peaks []Peak
	for _, c := range cands {
		if p.MaxPeaks > 0 && len(peaks) == p.MaxPeaks {
			break
		}
		if p.MinCrossDistance > 0 && tooClose(cell, peaks, c.site, p.MinCrossDistance) {
			continue
		}
		peaks = append(peaks, Peak{Site: c.site, Height: c.height, Grid: c.grid})
	}
	return peaks
}

// isLocalMax compares a point with its 26 periodic neighbours. On a plateau
// only the point with the lowest linear index qualifies.
func isLocalMax(m *density.Map, idx int) bool {
	v := m.Data[idx]
	i, j, k := m.Grid.Coords(idx)
	for di := -1; di <= 1; di++ {
		for dj := -1; dj <= 1; dj++ {
			for dk := -1; dk <= 1; dk++ {
				if di == 0 && dj == 0 && dk == 0 {
					continue
				}
				other := m.Grid.Index(i+di, j+dj, k+dk)
				if other == idx {
					continue
				}
				w := m.Data[other]
				if w > v || (w == v && other < idx) {
					return false
				}
			}
		}
	}
	return true
}

// interpolate fits a parabola through each axis' three points and returns
// the refined height with the sub-grid offsets.
func interpolate(m *density.Map, i, j, k int) (float64, [3]float64) {
	v0 := m.At(i, j, k)
	steps := [3][3]int{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	var offset [3]float64
	height := v0
	for axis, s := range steps {
		if m.Grid.N[axis] < 3 {
			continue
		}
		minus := m.At(i-s[0], j-s[1], k-s[2])
		plus := m.At(i+s[0], j+s[1], k+s[2])
		curv := minus - 2*v0 + plus
		if curv >= 0 {
			continue
		}
		d := 0.5 * (minus - plus) / curv
		d = min(max(d, -0.5), 0.5)
		offset[axis] = d
		height += -0.25 * (minus - plus) * d
	}
	return height, offset
}

func tooClose(cell crystal.UnitCell, peaks []Peak, site geometry.Vec3, minDist float64) bool {
	for _, q := range peaks {
		if cell.Distance(q.Site, site) < minDist {
			return true
		}
	}
	return false
}
