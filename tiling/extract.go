package tiling

import (
	"fmt"

	"github.com/akhenakh/tiledivide/raster"
)

// Channels is the number of channels in a tile image.
const Channels = 3

// DefaultCornerBand is the band whose corners decide if a window is empty.
const DefaultCornerBand = 3

var (
	// MaskedBands are the raster bands that are masked and tiled.
	MaskedBands = []int{2, 3, 4}
	// ChannelBands is the band feeding each tile channel, in channel order.
	ChannelBands = [Channels]int{4, 2, 3}
)

// Tile is an accepted window rendered to an interleaved rows x cols x 3 image.
type Tile struct {
	// ID is dense and 0-based in acceptance order; -1 until indexed.
	ID       int
	GridRow  int
	GridCol  int
	RowStart int
	ColStart int
	Rows     int
	Cols     int
	GeoULY   float64
	GeoULX   float64
	Pix      []uint8
}

// Params is the per-tile parameter vector
// [grid_row, grid_col, geo_ul_y, geo_ul_x, id].
func (t *Tile) Params() []float64 {
	return []float64{float64(t.GridRow), float64(t.GridCol), t.GeoULY, t.GeoULX, float64(t.ID)}
}

// Shape is the image shape as [rows, cols, channels].
func (t *Tile) Shape() []int {
	return []int{t.Rows, t.Cols, Channels}
}

// At returns one channel value of the pixel at (row, col).
func (t *Tile) At(row, col, channel int) uint8 {
	return t.Pix[(row*t.Cols+col)*Channels+channel]
}

// Extractor crops, filters and normalizes windows of a masked raster. It only
// reads shared state and is safe for concurrent use.
type Extractor struct {
	cols        int
	originX     float64
	originY     float64
	pixelWidth  float64
	pixelHeight float64
	channels    [Channels][]float32
	corner      []float32
}

// NewExtractor prepares extraction from masked, which must hold bands 2, 3
// and 4 of r. cornerBand selects the band whose corners are checked.
func NewExtractor(r *raster.GeoRaster, masked []raster.Band, cornerBand int) (*Extractor, error) {
	byNumber := make(map[int][]float32, len(masked))
	for _, b := range masked {
		if len(b.Data) != r.Rows*r.Cols {
			return nil, fmt.Errorf("%w: masked band %d has %d pixels, raster is %dx%d",
				raster.ErrShapeMismatch, b.Number, len(b.Data), r.Rows, r.Cols)
		}
		byNumber[b.Number] = b.Data
	}

	e := &Extractor{
		cols:        r.Cols,
		originX:     r.OriginX,
		originY:     r.OriginY,
		pixelWidth:  r.PixelWidth,
		pixelHeight: r.PixelHeight,
	}
	for i, n := range ChannelBands {
		data, ok := byNumber[n]
		if !ok {
			return nil, fmt.Errorf("%w: masked band %d", raster.ErrMissingInput, n)
		}
		e.channels[i] = data
	}
	corner, ok := byNumber[cornerBand]
	if !ok {
		return nil, fmt.Errorf("%w: corner band %d is not one of %v", ErrConfiguration, cornerBand, MaskedBands)
	}
	e.corner = corner
	return e, nil
}

// Empty reports whether all four corner pixels of the corner band are zero.
// Only the corners are inspected.
func (e *Extractor) Empty(w Window) bool {
	top := w.RowStart * e.cols
	bottom := (w.RowStart + w.RowSize - 1) * e.cols
	left, right := w.ColStart, w.ColStart+w.ColSize-1
	return e.corner[top+left] == 0 && e.corner[top+right] == 0 &&
		e.corner[bottom+left] == 0 && e.corner[bottom+right] == 0
}

// Extract renders the window, or reports false when it is empty.
func (e *Extractor) Extract(w Window) (*Tile, bool) {
	if e.Empty(w) {
		return nil, false
	}

	n := w.RowSize * w.ColSize
	stack := make([]float64, n*Channels)
	for r := 0; r < w.RowSize; r++ {
		src := (w.RowStart+r)*e.cols + w.ColStart
		dst := r * w.ColSize * Channels
		for c := 0; c < w.ColSize; c++ {
			for ch := 0; ch < Channels; ch++ {
				stack[dst+c*Channels+ch] = float64(e.channels[ch][src+c])
			}
		}
	}

	pix := Normalize(stack)
	plane := make([]uint8, n)
	for ch := 0; ch < Channels; ch++ {
		for i := 0; i < n; i++ {
			plane[i] = pix[i*Channels+ch]
		}
		for i, v := range EqualizeHist(plane) {
			pix[i*Channels+ch] = v
		}
	}

	return &Tile{
		ID:       -1,
		GridRow:  w.GridRow,
		GridCol:  w.GridCol,
		RowStart: w.RowStart,
		ColStart: w.ColStart,
		Rows:     w.RowSize,
		Cols:     w.ColSize,
		GeoULY:   e.originY + float64(w.RowStart)*e.pixelHeight,
		GeoULX:   e.originX + float64(w.ColStart)*e.pixelWidth,
		Pix:      pix,
	}, true
}
