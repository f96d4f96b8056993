// Package tiling splits a masked raster into overlapping windows, turns the
// usable ones into normalized 8-bit tiles and indexes them by grid position.
package tiling

import (
	"errors"
	"fmt"
	"math"
)

// ErrConfiguration reports tiling parameters that cannot produce a grid.
var ErrConfiguration = errors.New("invalid tiling configuration")

// DefaultOverlap is the fraction of a tile shared with its neighbour.
const DefaultOverlap = 0.2

// Window is one position of the sliding window, in pixels and grid cells.
type Window struct {
	GridRow  int
	GridCol  int
	RowStart int
	ColStart int
	RowSize  int
	ColSize  int
}

// Grid is the ordered set of windows covering a raster.
type Grid struct {
	BlockSize int
	Stride    int
	RowStarts []int
	ColStarts []int

	rows int
	cols int
}

// Stride is the step between consecutive window starts:
// floor(blockSize * (1 - overlap)).
func Stride(blockSize int, overlap float64) (int, error) {
	if blockSize <= 0 {
		return 0, fmt.Errorf("%w: tile size %d must be positive", ErrConfiguration, blockSize)
	}
	if overlap < 0 || overlap >= 1 || math.IsNaN(overlap) {
		return 0, fmt.Errorf("%w: overlap %g must be in [0, 1)", ErrConfiguration, overlap)
	}
	stride := int(math.Floor(float64(blockSize) * (1 - overlap)))
	if stride < 1 {
		return 0, fmt.Errorf("%w: tile size %d with overlap %g gives stride %d", ErrConfiguration, blockSize, overlap, stride)
	}
	return stride, nil
}

// Plan lays out windows of blockSize pixels every stride pixels over a raster
// of rows x cols. The last window on each axis is clipped to the raster.
func Plan(rows, cols, blockSize int, overlap float64) (*Grid, error) {
	stride, err := Stride(blockSize, overlap)
	if err != nil {
		return nil, err
	}
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%w: raster is %dx%d", ErrConfiguration, rows, cols)
	}
	return &Grid{
		BlockSize: blockSize,
		Stride:    stride,
		RowStarts: starts(rows, stride),
		ColStarts: starts(cols, stride),
		rows:      rows,
		cols:      cols,
	}, nil
}

func starts(extent, stride int) []int {
	s := make([]int, 0, (extent+stride-1)/stride)
	for i := 0; i < extent; i += stride {
		s = append(s, i)
	}
	return s
}

// windowSize keeps the nominal size unless the window would reach the edge.
func windowSize(start, blockSize, extent int) int {
	if start+blockSize < extent {
		return blockSize
	}
	return extent - start
}

// RowCount is the number of window rows.
func (g *Grid) RowCount() int { return len(g.RowStarts) }

// ColCount is the number of window columns.
func (g *Grid) ColCount() int { return len(g.ColStarts) }

// Len is the total number of windows.
func (g *Grid) Len() int { return len(g.RowStarts) * len(g.ColStarts) }

// Window returns the window at a grid position.
func (g *Grid) Window(gridRow, gridCol int) Window {
	r, c := g.RowStarts[gridRow], g.ColStarts[gridCol]
	return Window{
		GridRow:  gridRow,
		GridCol:  gridCol,
		RowStart: r,
		ColStart: c,
		RowSize:  windowSize(r, g.BlockSize, g.rows),
		ColSize:  windowSize(c, g.BlockSize, g.cols),
	}
}

// At returns the i-th window in row-major order.
func (g *Grid) At(i int) Window {
	return g.Window(i/len(g.ColStarts), i%len(g.ColStarts))
}

// Windows lists every window in row-major order.
func (g *Grid) Windows() []Window {
	out := make([]Window, 0, g.Len())
	for i := 0; i < g.Len(); i++ {
		out = append(out, g.At(i))
	}
	return out
}
