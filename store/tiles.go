package store

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/akhenakh/tiledivide/tiling"
)

// Dataset names. Tile datasets are numbered from 1.
const (
	ImagePrefix = "image_"
	ParamPrefix = "param_"
	ValuesName  = "values"
)

// ImageName is the dataset holding the seq-th tile image.
func ImageName(seq int) string { return ImagePrefix + strconv.Itoa(seq) }

// ParamName is the dataset holding the seq-th parameter vector.
func ParamName(seq int) string { return ParamPrefix + strconv.Itoa(seq) }

// TileWriter writes tile images and parameter vectors into two containers.
type TileWriter struct {
	images *ContainerWriter
	params *ContainerWriter
	next   int
}

// CreateTileWriter stages the image and parameter containers.
func CreateTileWriter(imagePath, paramPath string) (*TileWriter, error) {
	images, err := CreateContainer(imagePath)
	if err != nil {
		return nil, err
	}
	params, err := CreateContainer(paramPath)
	if err != nil {
		_ = images.Discard()
		return nil, err
	}
	return &TileWriter{images: images, params: params, next: 1}, nil
}

// WriteTile stores t as image_seq and param_seq. Sequence numbers start at 1,
// follow each other and equal t.ID+1.
func (w *TileWriter) WriteTile(seq int, t *tiling.Tile) error {
	if seq != w.next || t.ID != seq-1 {
		return fmt.Errorf("%w: tile %d written as %d, expected %d", ErrPartialWrite, t.ID, seq, w.next)
	}
	if err := w.images.PutUint8(ImageName(seq), t.Shape(), t.Pix); err != nil {
		return err
	}
	params := t.Params()
	if err := w.params.PutFloat64(ParamName(seq), []int{len(params)}, params); err != nil {
		return err
	}
	w.next++
	return nil
}

// Written is the number of tiles written so far.
func (w *TileWriter) Written() int { return w.next - 1 }

// Finish appends the values summary [pixel_width, pixel_height, count] to
// both containers and closes them. count must match the tiles written.
func (w *TileWriter) Finish(pixelWidth, pixelHeight float64, count int) error {
	if count != w.Written() {
		return fmt.Errorf("%w: summary says %d tiles, %d written", ErrPartialWrite, count, w.Written())
	}
	values := []float64{pixelWidth, pixelHeight, float64(count)}
	for _, c := range []*ContainerWriter{w.images, w.params} {
		if err := c.PutFloat64(ValuesName, []int{len(values)}, values); err != nil {
			return err
		}
		if err := c.Close(); err != nil {
			return err
		}
	}
	return nil
}

// Publishers returns both containers for PublishAll.
func (w *TileWriter) Publishers() []Publisher {
	return []Publisher{w.images, w.params}
}

// Discard drops both containers.
func (w *TileWriter) Discard() error {
	return errors.Join(w.images.Discard(), w.params.Discard())
}

// TileReader reads tiles back from a published pair of containers.
type TileReader struct {
	images *Container
	params *Container
	values []float64
}

// OpenTileReader opens the image and parameter containers.
func OpenTileReader(imagePath, paramPath string) (*TileReader, error) {
	images, err := OpenContainer(imagePath)
	if err != nil {
		return nil, err
	}
	params, err := OpenContainer(paramPath)
	if err != nil {
		images.Close()
		return nil, err
	}
	values, _, err := params.Float64(ValuesName)
	if err == nil && len(values) != 3 {
		err = fmt.Errorf("values has %d entries", len(values))
	}
	if err != nil {
		images.Close()
		params.Close()
		return nil, err
	}
	return &TileReader{images: images, params: params, values: values}, nil
}

// Close releases both containers.
func (r *TileReader) Close() error {
	return errors.Join(r.images.Close(), r.params.Close())
}

// Len is the number of stored tiles.
func (r *TileReader) Len() int { return int(r.values[2]) }

// Values returns the pixel size recorded with the tiles.
func (r *TileReader) Values() (pixelWidth, pixelHeight float64) {
	return r.values[0], r.values[1]
}

// Tile reads the seq-th tile (1-based). Pixel offsets are not persisted and
// are left at zero.
func (r *TileReader) Tile(seq int) (*tiling.Tile, error) {
	pix, shape, err := r.images.Uint8(ImageName(seq))
	if err != nil {
		return nil, err
	}
	if len(shape) != 3 || shape[2] != tiling.Channels {
		return nil, fmt.Errorf("%s has shape %v", ImageName(seq), shape)
	}
	p, _, err := r.params.Float64(ParamName(seq))
	if err != nil {
		return nil, err
	}
	if len(p) != 5 {
		return nil, fmt.Errorf("%s has %d entries", ParamName(seq), len(p))
	}
	return &tiling.Tile{
		ID:      int(p[4]),
		GridRow: int(p[0]),
		GridCol: int(p[1]),
		GeoULY:  p[2],
		GeoULX:  p[3],
		Rows:    shape[0],
		Cols:    shape[1],
		Pix:     pix,
	}, nil
}
