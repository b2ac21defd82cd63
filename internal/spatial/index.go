package spatial

import (
	"math"
	"slices"

	"github.com/paulmach/orb"

	"github.com/roadpulse/roadpulse/internal/network"
)

const (
	// bruteForceThreshold is the network size below which a linear scan beats
	// building the grid.
	bruteForceThreshold = 32
	// minCellSize keeps the grid from exploding for tiny match radii.
	minCellSize = 50.0
)

type cellKey struct {
	x, y int64
}

// gridIndex buckets segments into the square working-plane cells their
// edges pass through. It is read-only after construction and safe for
// concurrent queries.
type gridIndex struct {
	cellSize float64
	cells    map[cellKey][]int
}

func newGridIndex(segments []*network.Segment, cellSize float64) *gridIndex {
	g := &gridIndex{
		cellSize: math.Max(cellSize, minCellSize),
		cells:    make(map[cellKey][]int),
	}
	for i, s := range segments {
		for j := 0; j+1 < len(s.Projected); j++ {
			g.insertEdge(i, s.Projected[j], s.Projected[j+1])
		}
	}
	return g
}

// insertEdge registers segment i in every cell within one cell of a point
// sampled along a→b every half cell. Every point of the edge lies within a
// quarter cell of some sample, so its own cell is covered.
func (g *gridIndex) insertEdge(i int, a, b orb.Point) {
	step := g.cellSize / 2
	n := int(math.Ceil(math.Hypot(b[0]-a[0], b[1]-a[1]) / step))
	for k := 0; k <= n; k++ {
		t := 0.0
		if n > 0 {
			t = float64(k) / float64(n)
		}
		cx, cy := g.cell(orb.Point{a[0] + t*(b[0]-a[0]), a[1] + t*(b[1]-a[1])})
		for x := cx - 1; x <= cx+1; x++ {
			for y := cy - 1; y <= cy+1; y++ {
				g.add(cellKey{x, y}, i)
			}
		}
	}
}

// add appends i to the cell unless it was the last segment added there.
// Segments are inserted in order, so this de-duplicates per segment.
func (g *gridIndex) add(k cellKey, i int) {
	ids := g.cells[k]
	if n := len(ids); n > 0 && ids[n-1] == i {
		return
	}
	g.cells[k] = append(ids, i)
}

func (g *gridIndex) cell(p orb.Point) (int64, int64) {
	return int64(math.Floor(p[0] / g.cellSize)), int64(math.Floor(p[1] / g.cellSize))
}

// candidates appends to buf the indices of segments whose cells intersect the
// square of half-width radius around p. The result is sorted and unique.
func (g *gridIndex) candidates(p orb.Point, radius float64, buf []int) []int {
	buf = buf[:0]
	minX, minY := g.cell(orb.Point{p[0] - radius, p[1] - radius})
	maxX, maxY := g.cell(orb.Point{p[0] + radius, p[1] + radius})
	for x := minX; x <= maxX; x++ {
		for y := minY; y <= maxY; y++ {
			buf = append(buf, g.cells[cellKey{x, y}]...)
		}
	}
	slices.Sort(buf)
	return slices.Compact(buf)
}
