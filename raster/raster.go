// Package raster holds the decoded input raster and its water mask as
// immutable values, and loads both from GeoTIFF sources.
package raster

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
)

var (
	// ErrMissingInput reports a raster or mask that is absent or unreadable.
	ErrMissingInput = errors.New("missing input")
	// ErrShapeMismatch reports bands or masks whose dimensions disagree.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrRotated reports a geotransform with non-zero rotation terms.
	ErrRotated = errors.New("rotated geotransform not supported")
)

// Band is one spectral band, row-major, numbered from 1 as in the source file.
type Band struct {
	Number int
	Data   []float32
}

// GeoRaster is a decoded multi-band raster with a north-up geotransform.
// Only the bands that were loaded are present.
type GeoRaster struct {
	Name        string
	Rows        int
	Cols        int
	OriginX     float64
	OriginY     float64
	PixelWidth  float64
	PixelHeight float64
	Bands       []Band
}

// Band returns band n (1-based).
func (r *GeoRaster) Band(n int) (Band, bool) {
	for _, b := range r.Bands {
		if b.Number == n {
			return b, true
		}
	}
	return Band{}, false
}

// PixelToCoord returns the geographic position of the upper-left corner of pixel (row, col).
func (r *GeoRaster) PixelToCoord(row, col int) orb.Point {
	return orb.Point{
		r.OriginX + float64(col)*r.PixelWidth,
		r.OriginY + float64(row)*r.PixelHeight,
	}
}

// Extent is the geographic bounding box of the whole raster.
func (r *GeoRaster) Extent() orb.Bound {
	ul, lr := r.PixelToCoord(0, 0), r.PixelToCoord(r.Rows, r.Cols)
	return orb.MultiPoint{ul, lr}.Bound()
}

// Validate checks that every band covers Rows x Cols pixels.
func (r *GeoRaster) Validate() error {
	if r.Rows <= 0 || r.Cols <= 0 {
		return fmt.Errorf("%w: raster is %dx%d", ErrShapeMismatch, r.Rows, r.Cols)
	}
	for _, b := range r.Bands {
		if len(b.Data) != r.Rows*r.Cols {
			return fmt.Errorf("%w: band %d has %d pixels, raster is %dx%d",
				ErrShapeMismatch, b.Number, len(b.Data), r.Rows, r.Cols)
		}
	}
	return nil
}

// WaterMask is a single band of {0,1} aligned pixel-for-pixel with a raster;
// 0 marks water.
type WaterMask struct {
	Rows int
	Cols int
	Mask []float32
}

// Validate checks the mask against its own dimensions.
func (m *WaterMask) Validate() error {
	if len(m.Mask) != m.Rows*m.Cols {
		return fmt.Errorf("%w: mask has %d pixels, declared %dx%d", ErrShapeMismatch, len(m.Mask), m.Rows, m.Cols)
	}
	return nil
}

// ApplyMask multiplies the requested bands by the mask and returns new bands
// in the requested order. Neither input is modified.
func ApplyMask(r *GeoRaster, m *WaterMask, bands ...int) ([]Band, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if m.Rows != r.Rows || m.Cols != r.Cols {
		return nil, fmt.Errorf("%w: mask is %dx%d, raster is %dx%d", ErrShapeMismatch, m.Rows, m.Cols, r.Rows, r.Cols)
	}

	out := make([]Band, 0, len(bands))
	for _, n := range bands {
		src, ok := r.Band(n)
		if !ok {
			return nil, fmt.Errorf("%w: band %d not loaded", ErrMissingInput, n)
		}
		data := make([]float32, len(src.Data))
		for i, v := range src.Data {
			data[i] = v * m.Mask[i]
		}
		out = append(out, Band{Number: n, Data: data})
	}
	return out, nil
}
