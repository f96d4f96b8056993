// Package divide runs the whole tiling pipeline for one raster: masking,
// window planning, parallel extraction, id assignment and persistence.
package divide

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/akhenakh/tiledivide/raster"
	"github.com/akhenakh/tiledivide/store"
	"github.com/akhenakh/tiledivide/tiling"
)

// DefaultBlockSize is the nominal tile edge in pixels.
const DefaultBlockSize = 200

// windows extracted per worker between two reductions
const batchPerWorker = 16

// Options tune a run.
type Options struct {
	BlockSize  int
	Overlap    float64
	CornerBand int
	Workers    int

	CacheMaxSize      int64
	CacheItemsToPrune uint32
}

// DefaultOptions returns the reference tiling with a single worker.
func DefaultOptions() Options {
	return Options{
		BlockSize:         DefaultBlockSize,
		Overlap:           tiling.DefaultOverlap,
		CornerBand:        tiling.DefaultCornerBand,
		Workers:           1,
		CacheMaxSize:      1024,
		CacheItemsToPrune: 100,
	}
}

// Validate reports options that cannot run.
func (o Options) Validate() error {
	if _, err := tiling.Stride(o.BlockSize, o.Overlap); err != nil {
		return err
	}
	if o.Workers < 1 {
		return fmt.Errorf("%w: workers %d must be at least 1", tiling.ErrConfiguration, o.Workers)
	}
	switch o.CornerBand {
	case 2, 3, 4:
	default:
		return fmt.Errorf("%w: corner band %d is not one of %v", tiling.ErrConfiguration, o.CornerBand, tiling.MaskedBands)
	}
	return nil
}

// Sink receives accepted tiles in id order. seq is t.ID+1.
type Sink interface {
	WriteTile(seq int, t *tiling.Tile) error
}

// Summary describes a finished run.
type Summary struct {
	Name     string
	GridRows int
	GridCols int
	Windows  int
	Accepted int
	Rejected int
	Duration time.Duration
}

// Divider turns rasters into tiles.
type Divider struct {
	opts    Options
	logger  *slog.Logger
	metrics *Metrics
}

// New validates opts and returns a Divider. metrics may be nil.
func New(opts Options, logger *slog.Logger, metrics *Metrics) (*Divider, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Divider{opts: opts, logger: logger, metrics: metrics}, nil
}

// Run divides r masked by m and hands every accepted tile to sink. Windows
// are extracted concurrently but ids, index entries and sink writes follow
// row-major window order, so the result does not depend on Workers.
func (d *Divider) Run(ctx context.Context, r *raster.GeoRaster, m *raster.WaterMask, sink Sink) (*tiling.Index, Summary, error) {
	start := time.Now()
	sum := Summary{Name: r.Name}

	masked, err := raster.ApplyMask(r, m, tiling.MaskedBands...)
	if err != nil {
		return nil, sum, err
	}
	grid, err := tiling.Plan(r.Rows, r.Cols, d.opts.BlockSize, d.opts.Overlap)
	if err != nil {
		return nil, sum, err
	}
	ex, err := tiling.NewExtractor(r, masked, d.opts.CornerBand)
	if err != nil {
		return nil, sum, err
	}

	idx := tiling.NewIndex()
	idx.SetTotals(grid.RowCount(), grid.ColCount())
	sum.GridRows, sum.GridCols, sum.Windows = grid.RowCount(), grid.ColCount(), grid.Len()
	d.logger.Debug("grid planned", "name", r.Name, "grid_rows", sum.GridRows, "grid_cols", sum.GridCols,
		"stride", grid.Stride, "block_size", grid.BlockSize)

	batch := make([]*tiling.Tile, d.opts.Workers*batchPerWorker)
	for first := 0; first < grid.Len(); first += len(batch) {
		if err := ctx.Err(); err != nil {
			return nil, sum, err
		}
		n := min(len(batch), grid.Len()-first)

		var g errgroup.Group
		g.SetLimit(d.opts.Workers)
		for i := 0; i < n; i++ {
			i := i
			g.Go(func() error {
				batch[i] = nil
				if t, ok := ex.Extract(grid.At(first + i)); ok {
					batch[i] = t
				}
				return nil
			})
		}
		_ = g.Wait()

		for _, t := range batch[:n] {
			if t == nil {
				sum.Rejected++
				d.metrics.Windows.WithLabelValues("rejected").Inc()
				continue
			}
			if err := idx.Add(t); err != nil {
				return nil, sum, err
			}
			if err := sink.WriteTile(t.ID+1, t); err != nil {
				return nil, sum, fmt.Errorf("writing tile %d: %w", t.ID, err)
			}
			sum.Accepted++
			d.metrics.Windows.WithLabelValues("accepted").Inc()
			d.metrics.TilesWritten.Inc()
		}
	}

	sum.Duration = time.Since(start)
	d.metrics.RunDuration.Observe(sum.Duration.Seconds())
	d.logger.Info("raster divided", "name", r.Name, "windows", sum.Windows,
		"accepted", sum.Accepted, "rejected", sum.Rejected, "duration", sum.Duration)
	return idx, sum, nil
}

// Paths locates the inputs and outputs of one run.
type Paths struct {
	Image string
	// Mask overrides the mask derived from MaskDir.
	Mask         string
	MaskDir      string
	ImageStore   string
	ParamStore   string
	NeighborsDir string
}

// DefaultPaths lays outputs out under workerRoot:
// divided_img/<name>/image_data.db, divided_img/<name>/image_param.db and
// neighbors/ for the index files.
func DefaultPaths(workerRoot, maskDir, image string) Paths {
	name := raster.BaseName(image)
	return Paths{
		Image:        image,
		MaskDir:      maskDir,
		ImageStore:   filepath.Join(workerRoot, "divided_img", name, "image_data.db"),
		ParamStore:   filepath.Join(workerRoot, "divided_img", name, "image_param.db"),
		NeighborsDir: filepath.Join(workerRoot, "neighbors"),
	}
}

// MaskPath is the water mask used for the image.
func (p Paths) MaskPath() string {
	if p.Mask != "" {
		return p.Mask
	}
	return raster.WaterMaskPath(p.MaskDir, p.Image)
}

// Process loads the image and its water mask, divides it and publishes the
// tile stores and index files. Nothing is published unless every step
// succeeds.
func (d *Divider) Process(ctx context.Context, p Paths) (Summary, error) {
	loader := raster.Loader{
		CacheMaxSize:      d.opts.CacheMaxSize,
		CacheItemsToPrune: d.opts.CacheItemsToPrune,
		Logger:            d.logger,
	}
	r, err := loader.LoadRaster(ctx, p.Image, tiling.MaskedBands...)
	if err != nil {
		return Summary{}, err
	}
	m, err := loader.LoadMask(ctx, p.MaskPath())
	if err != nil {
		return Summary{}, err
	}

	w, err := store.CreateTileWriter(p.ImageStore, p.ParamStore)
	if err != nil {
		return Summary{}, err
	}
	idx, sum, err := d.Run(ctx, r, m, w)
	if err == nil {
		err = w.Finish(r.PixelWidth, r.PixelHeight, idx.Len())
	}
	var files []store.Publisher
	if err == nil {
		files, err = store.StageIndex(p.NeighborsDir, r.Name, idx)
	}
	if err == nil {
		err = store.PublishAll(append(w.Publishers(), files...)...)
	}
	if err != nil {
		if derr := w.Discard(); derr != nil {
			d.logger.Warn("discarding unpublished stores", "error", derr)
		}
		return sum, err
	}

	d.logger.Info("tiles published", "name", r.Name, "image_store", p.ImageStore,
		"param_store", p.ParamStore, "neighbors_dir", p.NeighborsDir, "tiles", idx.Len())
	return sum, nil
}
