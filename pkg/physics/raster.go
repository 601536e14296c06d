package physics

import (
	"math"
	"sync"
)

// Cell is an integer grid coordinate of a Rasterizer.
type Cell struct {
	X int
	Y int
}

// Rasterizer buckets points into a square grid of rasterCount x rasterCount
// cells over the unit square and answers neighbor queries from the 3x3 block
// of cells around a point. It is built once per step and never updated.
type Rasterizer struct {
	count     int
	cellOf    []int   // item index -> cell index
	items     [][]int // cell index (y*count+x) -> item indices in insertion order
	adjacency [][]int
}

// adjacencyCache holds the cell adjacency tables keyed by raster count. The
// tables depend only on the count, so one copy serves every simulation.
var adjacencyCache = struct {
	sync.RWMutex
	byCount map[int][][]int
}{byCount: make(map[int][][]int)}

// NewRasterizer indexes centers. Item i of the rasterizer is centers[i].
func NewRasterizer(centers []Vector2D, rasterCount int) *Rasterizer {
	if rasterCount < 1 {
		rasterCount = 1
	}

	r := &Rasterizer{
		count:     rasterCount,
		cellOf:    make([]int, len(centers)),
		items:     make([][]int, rasterCount*rasterCount),
		adjacency: adjacencyFor(rasterCount),
	}

	for i, center := range centers {
		cell := r.cellFor(center)
		idx := cell.Y*r.count + cell.X
		r.cellOf[i] = idx
		r.items[idx] = append(r.items[idx], i)
	}

	return r
}

// Len returns the number of indexed items.
func (r *Rasterizer) Len() int {
	return len(r.cellOf)
}

// CellOf returns the cell item i was bucketed into.
func (r *Rasterizer) CellOf(i int) Cell {
	idx := r.cellOf[i]
	return Cell{X: idx % r.count, Y: idx / r.count}
}

// Neighbors returns every other item in the same cell as item i or in one of
// its Moore-neighborhood cells. Out of range indices have no neighbors.
func (r *Rasterizer) Neighbors(i int) []int {
	return r.AppendNeighbors(nil, i)
}

// AppendNeighbors is Neighbors writing into dst, so a caller can reuse one
// buffer across queries.
func (r *Rasterizer) AppendNeighbors(dst []int, i int) []int {
	if i < 0 || i >= len(r.cellOf) {
		return dst
	}

	for _, cell := range r.adjacency[r.cellOf[i]] {
		for _, other := range r.items[cell] {
			if other != i {
				dst = append(dst, other)
			}
		}
	}
	return dst
}

func (r *Rasterizer) cellFor(center Vector2D) Cell {
	return Cell{X: r.bucket(center.X), Y: r.bucket(center.Y)}
}

func (r *Rasterizer) bucket(coordinate float64) int {
	scaled := coordinate * float64(r.count)
	if math.IsNaN(scaled) || scaled < 0 {
		return 0
	}
	if scaled >= float64(r.count-1) {
		return r.count - 1
	}
	return int(scaled)
}

// adjacencyFor returns the cached adjacency table for rasterCount, computing
// it on first use.
func adjacencyFor(rasterCount int) [][]int {
	adjacencyCache.RLock()
	table, ok := adjacencyCache.byCount[rasterCount]
	adjacencyCache.RUnlock()
	if ok {
		return table
	}

	adjacencyCache.Lock()
	defer adjacencyCache.Unlock()

	// Another simulation may have filled it while we waited for the lock
	if table, ok := adjacencyCache.byCount[rasterCount]; ok {
		return table
	}

	table = computeAdjacency(rasterCount)
	adjacencyCache.byCount[rasterCount] = table
	return table
}

// computeAdjacency lists, for every cell, the cells of its 3x3 block clipped
// at the grid edges, including the cell itself.
func computeAdjacency(rasterCount int) [][]int {
	table := make([][]int, rasterCount*rasterCount)

	for y := 0; y < rasterCount; y++ {
		for x := 0; x < rasterCount; x++ {
			neighbors := make([]int, 0, 9)
			for nx := max(0, x-1); nx <= min(x+1, rasterCount-1); nx++ {
				for ny := max(0, y-1); ny <= min(y+1, rasterCount-1); ny++ {
					neighbors = append(neighbors, ny*rasterCount+nx)
				}
			}
			table[y*rasterCount+x] = neighbors
		}
	}

	return table
}
