package geotiff

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
)

// GTRasterTypeGeoKey and its PixelIsPoint value, from the GeoKeyDirectory.
const (
	gtRasterTypeGeoKey = 1025
	rasterPixelIsPoint = 2
)

// GeoTransform is the affine pixel-to-model transform in GDAL order:
//
//	x = OriginX + col*PixelWidth + row*RowRotation
//	y = OriginY + col*ColRotation + row*PixelHeight
type GeoTransform struct {
	OriginX     float64
	PixelWidth  float64
	RowRotation float64
	OriginY     float64
	ColRotation float64
	PixelHeight float64
}

// IdentityTransform is used for rasters without georeferencing tags.
var IdentityTransform = GeoTransform{PixelWidth: 1, PixelHeight: 1}

// IsNorthUp reports whether both rotation terms are zero.
func (gt GeoTransform) IsNorthUp() bool {
	return gt.RowRotation == 0 && gt.ColRotation == 0
}

// PixelToCoord returns the model coordinate of the upper-left corner of pixel (row, col).
func (gt GeoTransform) PixelToCoord(row, col int) orb.Point {
	r, c := float64(row), float64(col)
	return orb.Point{
		gt.OriginX + c*gt.PixelWidth + r*gt.RowRotation,
		gt.OriginY + c*gt.ColRotation + r*gt.PixelHeight,
	}
}

// Bounds returns the model-space extent of a raster of the given size.
func (gt GeoTransform) Bounds(rows, cols int) orb.Bound {
	b := orb.Bound{Min: gt.PixelToCoord(0, 0), Max: gt.PixelToCoord(0, 0)}
	b = b.Extend(gt.PixelToCoord(rows, 0))
	b = b.Extend(gt.PixelToCoord(0, cols))
	return b.Extend(gt.PixelToCoord(rows, cols))
}

// Bounds returns the model-space extent of the image.
func (g *GeoTIFF) Bounds() orb.Bound {
	return g.transform.Bounds(int(g.imageLength), int(g.imageWidth))
}

// readTransform builds the geotransform from ModelTransformation, or from
// ModelTiepoint and ModelPixelScale.
func (g *GeoTIFF) readTransform() (GeoTransform, error) {
	var gt GeoTransform
	if tag, ok := g.tags[ModelTransformation]; ok {
		m, ok := tag.doubleDataValue()
		if !ok || len(m) < 16 {
			return gt, errors.New("invalid ModelTransformation tag")
		}
		gt = GeoTransform{
			OriginX: m[3], PixelWidth: m[0], RowRotation: m[1],
			OriginY: m[7], ColRotation: m[4], PixelHeight: m[5],
		}
	} else {
		tiePointTag, hasTie := g.tags[ModelTiepoint]
		scaleTag, hasScale := g.tags[ModelPixelScale]
		if !hasTie || !hasScale {
			return IdentityTransform, nil
		}
		tie, ok := tiePointTag.doubleDataValue()
		if !ok || len(tie) < 6 {
			return gt, errors.New("invalid ModelTiepoint tag")
		}
		scale, ok := scaleTag.doubleDataValue()
		if !ok || len(scale) < 2 {
			return gt, errors.New("invalid ModelPixelScale tag")
		}
		// Y scale is stored positive for north-up images.
		gt = GeoTransform{
			OriginX:     tie[3] - tie[0]*scale[0],
			PixelWidth:  scale[0],
			OriginY:     tie[4] + tie[1]*scale[1],
			PixelHeight: -scale[1],
		}
	}

	if g.rasterType() == rasterPixelIsPoint {
		gt.OriginX -= 0.5 * (gt.PixelWidth + gt.RowRotation)
		gt.OriginY -= 0.5 * (gt.ColRotation + gt.PixelHeight)
	}
	if gt.PixelWidth == 0 || gt.PixelHeight == 0 {
		return gt, fmt.Errorf("degenerate pixel size %gx%g", gt.PixelWidth, gt.PixelHeight)
	}
	return gt, nil
}

// rasterType reads GTRasterTypeGeoKey, defaulting to PixelIsArea (1).
func (g *GeoTIFF) rasterType() uint16 {
	dir, ok := g.tags[GeoKeyDirectory]
	if !ok || len(dir.shortData) < 4 {
		return 1
	}
	keys := dir.shortData
	n := int(keys[3])
	for i := 0; i < n && 4+4*i+3 < len(keys); i++ {
		entry := keys[4+4*i : 4+4*i+4]
		// A TIFFTagLocation of 0 means the value is stored inline.
		if entry[0] == gtRasterTypeGeoKey && entry[1] == 0 {
			return entry[3]
		}
	}
	return 1
}
