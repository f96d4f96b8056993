package divide

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/akhenakh/tiledivide/internal/tifftest"
	"github.com/akhenakh/tiledivide/raster"
	"github.com/akhenakh/tiledivide/store"
	"github.com/akhenakh/tiledivide/tiling"
)

type memSink struct {
	seqs  []int
	tiles []*tiling.Tile
	fail  int
}

func (s *memSink) WriteTile(seq int, t *tiling.Tile) error {
	if s.fail > 0 && seq == s.fail {
		return errors.New("disk full")
	}
	s.seqs = append(s.seqs, seq)
	s.tiles = append(s.tiles, t)
	return nil
}

func testRaster(rows, cols int, value func(band, row, col int) float32) *raster.GeoRaster {
	r := &raster.GeoRaster{
		Name: "scene", Rows: rows, Cols: cols,
		OriginX: 300000, OriginY: 4500000, PixelWidth: 0.5, PixelHeight: -0.5,
	}
	for _, n := range tiling.MaskedBands {
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

func land(band, row, col int) float32 {
	return float32(band*50 + (row*13+col*17)%101 + 1)
}

func mask(rows, cols int, water func(row, col int) bool) *raster.WaterMask {
	m := &raster.WaterMask{Rows: rows, Cols: cols, Mask: make([]float32, rows*cols)}
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			if !water(row, col) {
				m.Mask[row*cols+col] = 1
			}
		}
	}
	return m
}

func noWater(int, int) bool { return false }

func newDivider(t *testing.T, opts Options) *Divider {
	t.Helper()
	d, err := New(opts, nil, nil)
	require.NoError(t, err)
	return d
}

func options(block int, overlap float64, workers int) Options {
	o := DefaultOptions()
	o.BlockSize, o.Overlap, o.Workers = block, overlap, workers
	return o
}

func TestRunSingleTile(t *testing.T) {
	d := newDivider(t, options(10, 0, 1))
	sink := &memSink{}

	idx, sum, err := d.Run(context.Background(), testRaster(10, 10, land), mask(10, 10, noWater), sink)
	require.NoError(t, err)
	require.Equal(t, 1, sum.Windows)
	require.Equal(t, 1, sum.Accepted)
	require.Equal(t, []int{1}, sink.seqs)
	require.Equal(t, 10, sink.tiles[0].Rows)
	require.Equal(t, 10, sink.tiles[0].Cols)

	rows, cols := idx.Totals()
	require.Equal(t, 1, rows)
	require.Equal(t, 1, cols)
}

func TestRunRemainderWindows(t *testing.T) {
	d := newDivider(t, options(10, 0.2, 2))
	sink := &memSink{}

	idx, sum, err := d.Run(context.Background(), testRaster(12, 12, land), mask(12, 12, noWater), sink)
	require.NoError(t, err)
	require.Equal(t, 4, sum.Accepted)
	require.Equal(t, 4, idx.Len())

	last := sink.tiles[3]
	require.Equal(t, 1, last.GridRow)
	require.Equal(t, 1, last.GridCol)
	require.Equal(t, []int{4, 4, 3}, last.Shape())
	require.InDelta(t, 4500000-8*0.5, last.GeoULY, 1e-9)
	require.InDelta(t, 300000+8*0.5, last.GeoULX, 1e-9)
}

func TestRunWaterGapKeepsIDsDense(t *testing.T) {
	// the top-right window of a 2x2 grid is water
	water := func(row, col int) bool { return row < 10 && col >= 10 }
	d := newDivider(t, options(10, 0, 1))
	sink := &memSink{}

	idx, sum, err := d.Run(context.Background(), testRaster(20, 20, land), mask(20, 20, water), sink)
	require.NoError(t, err)
	require.Equal(t, 3, sum.Accepted)
	require.Equal(t, 1, sum.Rejected)

	_, ok := idx.ID(0, 1)
	require.False(t, ok)
	id, ok := idx.ID(1, 0)
	require.True(t, ok)
	require.Equal(t, 1, id)
	require.Equal(t, []int{1, 2, 3}, sink.seqs)
	for i, tile := range sink.tiles {
		require.Equal(t, i, tile.ID)
		require.Equal(t, float64(i), tile.Params()[4])
	}
}

func TestRunAllWater(t *testing.T) {
	d := newDivider(t, options(10, 0.2, 3))
	sink := &memSink{}

	idx, sum, err := d.Run(context.Background(), testRaster(30, 30, land), mask(30, 30, func(int, int) bool { return true }), sink)
	require.NoError(t, err)
	require.Equal(t, 16, sum.Windows)
	require.Equal(t, 16, sum.Rejected)
	require.Zero(t, idx.Len())
	require.Empty(t, sink.tiles)
}

func TestRunParallelMatchesSequential(t *testing.T) {
	water := func(row, col int) bool { return (row/9+col/11)%3 == 0 }
	r := testRaster(97, 83, land)
	m := mask(97, 83, water)

	run := func(workers int) (*tiling.Index, *memSink) {
		d := newDivider(t, options(16, 0.2, workers))
		sink := &memSink{}
		idx, _, err := d.Run(context.Background(), r, m, sink)
		require.NoError(t, err)
		return idx, sink
	}

	seqIdx, seqSink := run(1)
	require.NotZero(t, seqIdx.Len())
	for _, workers := range []int{2, 5, 8} {
		parIdx, parSink := run(workers)
		require.Equal(t, seqIdx.Len(), parIdx.Len())
		require.Equal(t, seqSink.seqs, parSink.seqs)
		for i := range seqSink.tiles {
			require.Equal(t, seqSink.tiles[i], parSink.tiles[i])
		}
	}
}

func TestRunErrors(t *testing.T) {
	d := newDivider(t, options(10, 0.2, 1))

	_, _, err := d.Run(context.Background(), testRaster(12, 12, land), mask(12, 10, noWater), &memSink{})
	require.ErrorIs(t, err, raster.ErrShapeMismatch)

	_, _, err = d.Run(context.Background(), testRaster(12, 12, land), mask(12, 12, noWater), &memSink{fail: 2})
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = d.Run(ctx, testRaster(12, 12, land), mask(12, 12, noWater), &memSink{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Options)
	}{
		{"zero block size", func(o *Options) { o.BlockSize = 0 }},
		{"overlap of one", func(o *Options) { o.Overlap = 1 }},
		{"no workers", func(o *Options) { o.Workers = 0 }},
		{"unmasked corner band", func(o *Options) { o.CornerBand = 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := DefaultOptions()
			tt.modify(&o)
			_, err := New(o, nil, nil)
			require.ErrorIs(t, err, tiling.ErrConfiguration)
		})
	}
	require.NoError(t, DefaultOptions().Validate())
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	d, err := New(options(10, 0, 1), nil, metrics)
	require.NoError(t, err)

	water := func(row, col int) bool { return row < 10 && col >= 10 }
	_, _, err = d.Run(context.Background(), testRaster(20, 20, land), mask(20, 20, water), &memSink{})
	require.NoError(t, err)

	value := func(c prometheus.Metric) *dto.Metric {
		var m dto.Metric
		require.NoError(t, c.Write(&m))
		return &m
	}
	require.Equal(t, 3.0, value(metrics.Windows.WithLabelValues("accepted")).GetCounter().GetValue())
	require.Equal(t, 1.0, value(metrics.Windows.WithLabelValues("rejected")).GetCounter().GetValue())
	require.Equal(t, 3.0, value(metrics.TilesWritten).GetCounter().GetValue())
	require.Equal(t, uint64(1), value(metrics.RunDuration).GetHistogram().GetSampleCount())

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 3)
}

// writeScene writes a 30x30 four band scene and its mask, water on the first
// ten columns.
func writeScene(t *testing.T, dir string) (image, maskDir string) {
	t.Helper()
	scene := tifftest.Fixture{
		Width: 30, Height: 30, Bands: 4, Bits: 16, Compression: tifftest.Deflate, RowsPerStrip: 8,
		Tiepoint:   []float64{0, 0, 0, 300000, 4500000, 0},
		PixelScale: []float64{0.5, 0.5, 0},
	}
	b, err := scene.Encode()
	require.NoError(t, err)
	image = filepath.Join(dir, "input", "scene_a.ortho.tif")
	require.NoError(t, os.MkdirAll(filepath.Dir(image), 0o755))
	require.NoError(t, os.WriteFile(image, b, 0o644))

	pix := make([]uint16, 30*30)
	for i := range pix {
		if i%30 >= 10 {
			pix[i] = 1
		}
	}
	m := tifftest.Fixture{Width: 30, Height: 30, Bands: 1, Bits: 8, Pixels: [][]uint16{pix}}
	b, err = m.Encode()
	require.NoError(t, err)
	maskDir = filepath.Join(dir, "masks")
	maskPath := filepath.Join(maskDir, "scene_a", "scene_a_watermask.tif")
	require.NoError(t, os.MkdirAll(filepath.Dir(maskPath), 0o755))
	require.NoError(t, os.WriteFile(maskPath, b, 0o644))
	return image, maskDir
}

func TestProcess(t *testing.T) {
	dir := t.TempDir()
	image, maskDir := writeScene(t, dir)
	paths := DefaultPaths(filepath.Join(dir, "work"), maskDir, image)
	require.Equal(t, filepath.Join(dir, "work", "divided_img", "scene_a", "image_data.db"), paths.ImageStore)

	d := newDivider(t, options(10, 0.2, 4))
	sum, err := d.Process(context.Background(), paths)
	require.NoError(t, err)
	// windows starting at column 0 are entirely water
	require.Equal(t, 16, sum.Windows)
	require.Equal(t, 12, sum.Accepted)

	r, err := store.OpenTileReader(paths.ImageStore, paths.ParamStore)
	require.NoError(t, err)
	defer r.Close()
	require.Equal(t, 12, r.Len())
	pw, ph := r.Values()
	require.Equal(t, 0.5, pw)
	require.Equal(t, -0.5, ph)

	idx, err := store.ReadIndex(paths.NeighborsDir, "scene_a")
	require.NoError(t, err)
	require.Equal(t, 12, idx.Len())
	rows, cols := idx.Totals()
	require.Equal(t, 4, rows)
	require.Equal(t, 4, cols)

	for seq := 1; seq <= r.Len(); seq++ {
		tile, err := r.Tile(seq)
		require.NoError(t, err)
		require.Equal(t, seq-1, tile.ID)
		pos, ok := idx.Position(tile.ID)
		require.True(t, ok)
		require.Equal(t, tiling.Position{Row: tile.GridRow, Col: tile.GridCol}, pos)
		require.NotZero(t, tile.GridCol)
		require.InDelta(t, 4500000-float64(tile.GridRow*8)*0.5, tile.GeoULY, 1e-9)
		require.InDelta(t, 300000+float64(tile.GridCol*8)*0.5, tile.GeoULX, 1e-9)
	}
}

func TestProcessMissingMask(t *testing.T) {
	dir := t.TempDir()
	image, _ := writeScene(t, dir)
	paths := DefaultPaths(filepath.Join(dir, "work"), filepath.Join(dir, "elsewhere"), image)

	_, err := newDivider(t, options(10, 0.2, 1)).Process(context.Background(), paths)
	require.ErrorIs(t, err, raster.ErrMissingInput)

	_, err = os.Stat(filepath.Join(dir, "work"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestProcessFailureLeavesNothingPublished(t *testing.T) {
	dir := t.TempDir()
	image, maskDir := writeScene(t, dir)
	paths := DefaultPaths(filepath.Join(dir, "work"), maskDir, image)

	// a regular file where the index directory should be
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "work"), 0o755))
	require.NoError(t, os.WriteFile(paths.NeighborsDir, []byte("x"), 0o644))

	_, err := newDivider(t, options(10, 0.2, 2)).Process(context.Background(), paths)
	require.ErrorIs(t, err, store.ErrPartialWrite)

	entries, err := os.ReadDir(filepath.Dir(paths.ImageStore))
	require.NoError(t, err)
	require.Empty(t, entries)
}
