package tiling

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/akhenakh/tiledivide/raster"
)

// testRaster builds a raster holding bands 2, 3 and 4.
func testRaster(rows, cols int, value func(band, row, col int) float32) *raster.GeoRaster {
	r := &raster.GeoRaster{
		Name: "scene", Rows: rows, Cols: cols,
		OriginX: 1000, OriginY: 2000, PixelWidth: 2, PixelHeight: -3,
	}
	for _, n := range MaskedBands {
		data := make([]float32, rows*cols)
		for row := 0; row < rows; row++ {
			for col := 0; col < cols; col++ {
				data[row*cols+col] = value(n, row, col)
			}
		}
		r.Bands = append(r.Bands, raster.Band{Number: n, Data: data})
	}
	return r
}

func gradient(band, row, col int) float32 {
	return float32(band*100 + row*7 + col + 1)
}

func ones(rows, cols int) *raster.WaterMask {
	m := &raster.WaterMask{Rows: rows, Cols: cols, Mask: make([]float32, rows*cols)}
	for i := range m.Mask {
		m.Mask[i] = 1
	}
	return m
}

func extractor(t *testing.T, r *raster.GeoRaster, m *raster.WaterMask, cornerBand int) *Extractor {
	t.Helper()
	masked, err := raster.ApplyMask(r, m, MaskedBands...)
	require.NoError(t, err)
	e, err := NewExtractor(r, masked, cornerBand)
	require.NoError(t, err)
	return e
}

func TestExtractSingleTile(t *testing.T) {
	r := testRaster(10, 10, gradient)
	e := extractor(t, r, ones(10, 10), DefaultCornerBand)

	g, err := Plan(r.Rows, r.Cols, 10, 0)
	require.NoError(t, err)
	require.Equal(t, 1, g.Len())

	tile, ok := e.Extract(g.At(0))
	require.True(t, ok)
	require.Equal(t, []int{10, 10, 3}, tile.Shape())
	require.Len(t, tile.Pix, 300)
	require.Equal(t, -1, tile.ID)
	require.InDelta(t, 2000, tile.GeoULY, 1e-9)
	require.InDelta(t, 1000, tile.GeoULX, 1e-9)

	// every channel is equalized over the full range
	for ch := 0; ch < Channels; ch++ {
		var lo, hi uint8 = 255, 0
		for row := 0; row < tile.Rows; row++ {
			for col := 0; col < tile.Cols; col++ {
				v := tile.At(row, col, ch)
				lo, hi = min(lo, v), max(hi, v)
			}
		}
		require.Equal(t, uint8(0), lo)
		require.Equal(t, uint8(255), hi)
	}
}

func TestExtractChannelOrder(t *testing.T) {
	values := map[int][]float32{
		4: {0, 255},
		2: {100, 100},
		3: {20, 20},
	}
	r := testRaster(1, 2, func(band, _, col int) float32 { return values[band][col] })
	e := extractor(t, r, ones(1, 2), DefaultCornerBand)

	tile, ok := e.Extract(Window{RowSize: 1, ColSize: 2})
	require.True(t, ok)
	require.Equal(t, []uint8{0, 100, 20, 255, 100, 20}, tile.Pix)
}

func TestExtractGeoMetadata(t *testing.T) {
	r := testRaster(12, 12, gradient)
	e := extractor(t, r, ones(12, 12), DefaultCornerBand)
	g, err := Plan(12, 12, 10, 0.2)
	require.NoError(t, err)

	tile, ok := e.Extract(g.Window(1, 1))
	require.True(t, ok)
	require.Equal(t, 4, tile.Rows)
	require.Equal(t, 4, tile.Cols)
	require.InDelta(t, 2000-8*3, tile.GeoULY, 1e-9)
	require.InDelta(t, 1000+8*2, tile.GeoULX, 1e-9)

	tile.ID = 3
	require.Equal(t, []float64{1, 1, 1976, 1016, 3}, tile.Params())
}

func TestExtractCornerRejection(t *testing.T) {
	tests := []struct {
		name     string
		zero     [][2]int
		accepted bool
	}{
		{"all corners zero", [][2]int{{0, 0}, {0, 4}, {4, 0}, {4, 4}}, false},
		{"three corners zero", [][2]int{{0, 0}, {0, 4}, {4, 0}}, true},
		{"interior zero only", [][2]int{{2, 2}}, true},
		{"no zeros", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := testRaster(5, 5, func(band, row, col int) float32 {
				if band != 3 {
					return gradient(band, row, col)
				}
				for _, z := range tt.zero {
					if z[0] == row && z[1] == col {
						return 0
					}
				}
				return gradient(band, row, col)
			})
			e := extractor(t, r, ones(5, 5), DefaultCornerBand)
			_, ok := e.Extract(Window{RowSize: 5, ColSize: 5})
			require.Equal(t, tt.accepted, ok)
		})
	}
}

func TestExtractCornerBandIsConfigurable(t *testing.T) {
	// band 4 has zero corners, band 3 does not
	r := testRaster(3, 3, func(band, row, col int) float32 {
		if band == 4 && row != 1 && col != 1 {
			return 0
		}
		return gradient(band, row, col)
	})
	w := Window{RowSize: 3, ColSize: 3}

	_, ok := extractor(t, r, ones(3, 3), 3).Extract(w)
	require.True(t, ok)
	_, ok = extractor(t, r, ones(3, 3), 4).Extract(w)
	require.False(t, ok)
}

func TestNewExtractorErrors(t *testing.T) {
	r := testRaster(4, 4, gradient)
	masked, err := raster.ApplyMask(r, ones(4, 4), MaskedBands...)
	require.NoError(t, err)

	_, err = NewExtractor(r, masked, 5)
	require.ErrorIs(t, err, ErrConfiguration)

	_, err = NewExtractor(r, masked[:2], DefaultCornerBand)
	require.ErrorIs(t, err, raster.ErrMissingInput)

	short := []raster.Band{masked[0], masked[1], {Number: 4, Data: make([]float32, 3)}}
	_, err = NewExtractor(r, short, DefaultCornerBand)
	require.ErrorIs(t, err, raster.ErrShapeMismatch)
}

func TestExtractWithGapKeepsIDsDense(t *testing.T) {
	// 2x2 grid; the top-right window has zero corners on band 3
	zero := map[[2]int]bool{{0, 10}: true, {0, 19}: true, {9, 10}: true, {9, 19}: true}
	r := testRaster(20, 20, func(band, row, col int) float32 {
		if band == 3 && zero[[2]int{row, col}] {
			return 0
		}
		return gradient(band, row, col)
	})
	e := extractor(t, r, ones(20, 20), DefaultCornerBand)
	g, err := Plan(20, 20, 10, 0)
	require.NoError(t, err)

	idx := NewIndex()
	idx.SetTotals(g.RowCount(), g.ColCount())
	for _, w := range g.Windows() {
		tile, ok := e.Extract(w)
		if !ok {
			continue
		}
		require.NoError(t, idx.Add(tile))
	}

	require.Equal(t, 3, idx.Len())
	_, ok := idx.ID(0, 1)
	require.False(t, ok)
	for want, pos := range []Position{{0, 0}, {1, 0}, {1, 1}} {
		id, ok := idx.ID(pos.Row, pos.Col)
		require.True(t, ok)
		require.Equal(t, want, id)
	}
	rows, cols := idx.Totals()
	require.Equal(t, 2, rows)
	require.Equal(t, 2, cols)
}

func TestExtractAllWater(t *testing.T) {
	r := testRaster(12, 12, gradient)
	water := &raster.WaterMask{Rows: 12, Cols: 12, Mask: make([]float32, 144)}
	e := extractor(t, r, water, DefaultCornerBand)
	g, err := Plan(12, 12, 10, 0.2)
	require.NoError(t, err)

	for _, w := range g.Windows() {
		_, ok := e.Extract(w)
		require.False(t, ok)
	}
}
