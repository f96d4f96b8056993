// Package tifftest builds small GeoTIFF files for tests.
package tifftest

import (
	"bytes"
	"compress/lzw"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// Layout and compression codes, as written to the file.
const (
	Chunky   = 1
	Separate = 2

	None    = 1
	LZW     = 5
	Deflate = 8
)

const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagPredictor       = 317
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagSampleFormat    = 339
	tagPixelScale      = 33550
	tagTiepoint        = 33922

	typeShort  = 3
	typeLong   = 4
	typeDouble = 12
)

// Fixture describes a little-endian unsigned-integer GeoTIFF.
type Fixture struct {
	Width, Height int
	Bands         int
	Bits          int // 8 or 16
	Planar        int // Chunky when zero
	Compression   int // None when zero
	Predictor     bool
	RowsPerStrip  int // strips when TileSize is zero; whole image when zero
	TileSize      int
	// Pixels, when set, holds one row-major slice per band. Otherwise Value is used.
	Pixels [][]uint16
	// Tiepoint and PixelScale are written as ModelTiepoint and ModelPixelScale when set.
	Tiepoint   []float64
	PixelScale []float64
}

// Value is the synthetic sample for band (0-based) at (x, y).
func (f Fixture) Value(band, x, y int) uint16 {
	if f.Pixels != nil {
		return f.Pixels[band][y*f.Width+x]
	}
	v := band*997 + y*31 + x*7 + 3
	if f.Bits == 8 {
		return uint16(v % 256)
	}
	return uint16(v % 65536)
}

type entry struct {
	tag, typ uint16
	count    uint32
	data     []byte
}

// Encode writes the fixture as a classic TIFF.
func (f Fixture) Encode() ([]byte, error) {
	if f.Planar == 0 {
		f.Planar = Chunky
	}
	if f.Compression == 0 {
		f.Compression = None
	}
	if f.Bits != 8 && f.Bits != 16 {
		return nil, fmt.Errorf("unsupported bits %d", f.Bits)
	}
	if f.Pixels != nil && len(f.Pixels) != f.Bands {
		return nil, fmt.Errorf("%d pixel bands for %d bands", len(f.Pixels), f.Bands)
	}

	bw, bl := f.Width, f.RowsPerStrip
	if f.TileSize > 0 {
		bw, bl = f.TileSize, f.TileSize
	}
	if bl <= 0 {
		bl = f.Height
	}
	across := (f.Width + bw - 1) / bw
	down := (f.Height + bl - 1) / bl
	planes, spp := 1, f.Bands
	if f.Planar == Separate {
		planes, spp = f.Bands, 1
	}

	var blocks [][]byte
	for p := 0; p < planes; p++ {
		for by := 0; by < down; by++ {
			for bx := 0; bx < across; bx++ {
				raw := f.block(p, bx, by, bw, bl, spp)
				b, err := f.compress(raw)
				if err != nil {
					return nil, err
				}
				blocks = append(blocks, b)
			}
		}
	}

	var body bytes.Buffer
	body.Write([]byte{'I', 'I', 42, 0, 0, 0, 0, 0})
	offsets := make([]uint32, len(blocks))
	counts := make([]uint32, len(blocks))
	for i, b := range blocks {
		offsets[i] = uint32(body.Len())
		counts[i] = uint32(len(b))
		body.Write(b)
		if body.Len()%2 == 1 {
			body.WriteByte(0)
		}
	}

	bits := make([]uint16, f.Bands)
	for i := range bits {
		bits[i] = uint16(f.Bits)
	}
	entries := []entry{
		{tagImageWidth, typeLong, 1, le32(uint32(f.Width))},
		{tagImageLength, typeLong, 1, le32(uint32(f.Height))},
		{tagBitsPerSample, typeShort, uint32(f.Bands), le16(bits...)},
		{tagCompression, typeShort, 1, le16(uint16(f.Compression))},
		{tagPhotometric, typeShort, 1, le16(1)},
		{tagSamplesPerPixel, typeShort, 1, le16(uint16(f.Bands))},
		{tagPlanarConfig, typeShort, 1, le16(uint16(f.Planar))},
		{tagSampleFormat, typeShort, 1, le16(1)},
	}
	if f.Predictor {
		entries = append(entries, entry{tagPredictor, typeShort, 1, le16(2)})
	}
	if f.TileSize > 0 {
		entries = append(entries,
			entry{tagTileWidth, typeLong, 1, le32(uint32(bw))},
			entry{tagTileLength, typeLong, 1, le32(uint32(bl))},
			entry{tagTileOffsets, typeLong, uint32(len(offsets)), le32(offsets...)},
			entry{tagTileByteCounts, typeLong, uint32(len(counts)), le32(counts...)},
		)
	} else {
		entries = append(entries,
			entry{tagStripOffsets, typeLong, uint32(len(offsets)), le32(offsets...)},
			entry{tagRowsPerStrip, typeLong, 1, le32(uint32(bl))},
			entry{tagStripByteCounts, typeLong, uint32(len(counts)), le32(counts...)},
		)
	}
	if f.Tiepoint != nil {
		entries = append(entries,
			entry{tagPixelScale, typeDouble, uint32(len(f.PixelScale)), leF64(f.PixelScale...)},
			entry{tagTiepoint, typeDouble, uint32(len(f.Tiepoint)), leF64(f.Tiepoint...)},
		)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	ifdOffset := body.Len()
	extraOffset := ifdOffset + 2 + 12*len(entries) + 4
	var ifd, extra bytes.Buffer
	ifd.Write(le16(uint16(len(entries))))
	for _, e := range entries {
		ifd.Write(le16(e.tag, e.typ))
		ifd.Write(le32(e.count))
		if len(e.data) <= 4 {
			inline := make([]byte, 4)
			copy(inline, e.data)
			ifd.Write(inline)
			continue
		}
		ifd.Write(le32(uint32(extraOffset + extra.Len())))
		extra.Write(e.data)
		if extra.Len()%2 == 1 {
			extra.WriteByte(0)
		}
	}
	ifd.Write(le32(0))

	out := body.Bytes()
	binary.LittleEndian.PutUint32(out[4:], uint32(ifdOffset))
	out = append(out, ifd.Bytes()...)
	return append(out, extra.Bytes()...), nil
}

// block renders the raw, uncompressed bytes of one strip or tile.
func (f Fixture) block(plane, bx, by, bw, bl, spp int) []byte {
	rows := bl
	if f.TileSize == 0 && by*bl+rows > f.Height {
		rows = f.Height - by*bl
	}
	var raw []byte
	for y := 0; y < rows; y++ {
		line := make([]uint16, bw*spp)
		for x := 0; x < bw; x++ {
			ix, iy := bx*bw+x, by*bl+y
			if ix >= f.Width || iy >= f.Height {
				continue
			}
			for s := 0; s < spp; s++ {
				band := s
				if f.Planar == Separate {
					band = plane
				}
				line[x*spp+s] = f.Value(band, ix, iy)
			}
		}
		if f.Predictor {
			for i := len(line) - 1; i >= spp; i-- {
				line[i] -= line[i-spp]
				if f.Bits == 8 {
					line[i] &= 0xff
				}
			}
		}
		for _, v := range line {
			if f.Bits == 8 {
				raw = append(raw, byte(v))
			} else {
				raw = append(raw, le16(v)...)
			}
		}
	}
	return raw
}

func (f Fixture) compress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	switch f.Compression {
	case Deflate:
		z := zlib.NewWriter(&buf)
		if _, err := z.Write(raw); err != nil {
			return nil, err
		}
		if err := z.Close(); err != nil {
			return nil, err
		}
	case LZW:
		// Short inputs never reach the code width where TIFF's early change
		// differs from compress/lzw.
		w := lzw.NewWriter(&buf, lzw.MSB, 8)
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	default:
		buf.Write(raw)
	}
	return buf.Bytes(), nil
}

// LE16 encodes little-endian uint16 values.
func LE16(v ...uint16) []byte { return le16(v...) }

func le16(v ...uint16) []byte {
	b := make([]byte, 2*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint16(b[2*i:], x)
	}
	return b
}

func le32(v ...uint32) []byte {
	b := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(b[4*i:], x)
	}
	return b
}

func leF64(v ...float64) []byte {
	b := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(b[8*i:], math.Float64bits(x))
	}
	return b
}
