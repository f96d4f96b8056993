package raster

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/akhenakh/tiledivide/geotiff"
)

// Loader reads rasters and water masks through the GeoTIFF reader.
type Loader struct {
	CacheMaxSize      int64
	CacheItemsToPrune uint32
	Logger            *slog.Logger
}

// BaseName is the image identifier: the file name up to its first dot.
func BaseName(location string) string {
	name := filepath.Base(filepath.FromSlash(location))
	if i := strings.IndexByte(name, '.'); i >= 0 {
		name = name[:i]
	}
	return name
}

// WaterMaskPath is where the mask for an image lives:
// <maskDir>/<name>/<name>_watermask.tif.
func WaterMaskPath(maskDir, imageLocation string) string {
	name := BaseName(imageLocation)
	return filepath.Join(maskDir, name, name+"_watermask.tif")
}

func (l Loader) open(ctx context.Context, location string) (*geotiff.GeoTIFF, func() error, error) {
	src, err := geotiff.OpenSource(ctx, location)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrMissingInput, location, err)
	}
	geo, err := geotiff.Open(src, l.CacheMaxSize, l.CacheItemsToPrune)
	if err != nil {
		src.Close()
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrMissingInput, location, err)
	}
	return geo, func() error {
		geo.Close()
		return src.Close()
	}, nil
}

// LoadRaster decodes the given bands (1-based) of the raster at location.
func (l Loader) LoadRaster(ctx context.Context, location string, bands ...int) (*GeoRaster, error) {
	geo, closeFn, err := l.open(ctx, location)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	gt := geo.GeoTransform()
	if !gt.IsNorthUp() {
		return nil, fmt.Errorf("%w: %s", ErrRotated, location)
	}

	r := &GeoRaster{
		Name:        BaseName(location),
		Rows:        geo.Height(),
		Cols:        geo.Width(),
		OriginX:     gt.OriginX,
		OriginY:     gt.OriginY,
		PixelWidth:  gt.PixelWidth,
		PixelHeight: gt.PixelHeight,
	}
	for _, n := range bands {
		if n > geo.BandCount() {
			return nil, fmt.Errorf("%w: %s has %d bands, band %d requested", ErrMissingInput, location, geo.BandCount(), n)
		}
		data, err := geo.ReadBand(n)
		if err != nil {
			return nil, fmt.Errorf("%w: %s band %d: %v", ErrMissingInput, location, n, err)
		}
		r.Bands = append(r.Bands, Band{Number: n, Data: data})
	}

	l.logger().Info("raster loaded", "location", location, "rows", r.Rows, "cols", r.Cols,
		"bands", geo.BandCount(), "extent", r.Extent())
	return r, nil
}

// LoadMask decodes band 1 of the mask at location.
func (l Loader) LoadMask(ctx context.Context, location string) (*WaterMask, error) {
	geo, closeFn, err := l.open(ctx, location)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	data, err := geo.ReadBand(1)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMissingInput, location, err)
	}
	l.logger().Info("water mask loaded", "location", location, "rows", geo.Height(), "cols", geo.Width())
	return &WaterMask{Rows: geo.Height(), Cols: geo.Width(), Mask: data}, nil
}

func (l Loader) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}
