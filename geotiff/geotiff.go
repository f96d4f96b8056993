package geotiff

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/karlseguin/ccache/v3"
	"golang.org/x/image/tiff/lzw"
	"golang.org/x/sync/singleflight"
)

// ErrUnsupported is returned for TIFF layouts the reader cannot decode.
var ErrUnsupported = errors.New("unsupported tiff layout")

// blockTTL bounds how long a decoded block stays in the cache.
const blockTTL = 10 * time.Minute

// head represents the TIFF file header information
type head struct {
	byteOrder binary.ByteOrder // Byte order (little endian or big endian)
	isBigTIFF bool             // Whether this is a BigTIFF file format
	ifdOffset uint64           // Offset to the first Image File Directory (IFD)
}

// iFDEntry represents a single entry in an Image File Directory (IFD)
type iFDEntry struct {
	Tag         Tag       // TIFF tag identifier
	FType       fieldType // Data type of the field
	Count       uint64    // Number of values of the specified type
	ValueOffset uint64    // Offset to the value data, or the value itself if it fits inline
	ValueBytes  []byte    // Inline value data for small values
}

// tagData holds the parsed data for a TIFF tag in various typed formats
type tagData struct {
	fType      fieldType // The field type of this tag data
	length     uint32    // Number of elements in the data
	byteData   []uint8   // Raw bytes for BYTE, SBYTE, UNDEFINED and any type read opaquely
	asciiData  string    // String data (ASCII type)
	shortData  []uint16  // 16-bit unsigned integer data (SHORT type)
	longData   []uint32  // 32-bit unsigned integer data (LONG type)
	floatData  []float32 // 32-bit floating point data (FLOAT type)
	doubleData []float64 // 64-bit floating point data (DOUBLE type)
	uint64Data []uint64  // 64-bit unsigned integer data (LONG8/IFD8 types)
}

type Tags map[Tag]tagData

type Tag uint16

// GeoTIFF is a parsed single-image GeoTIFF whose bands can be read in full.
// Both tiled and stripped layouts are exposed as a grid of blocks.
type GeoTIFF struct {
	// reader is the underlying source. It must also implement io.ReaderAt.
	reader io.ReadSeeker

	byteOrder binary.ByteOrder
	tags      Tags
	isBigTIFF bool

	imageWidth  uint32
	imageLength uint32

	samplesPerPixel uint16
	planar          uint16

	// blockWidth and blockLength are the tile size for tiled images, or
	// imageWidth x RowsPerStrip for stripped images.
	blockWidth  uint32
	blockLength uint32
	tiled       bool

	blockOffsets    []uint64
	blockByteCounts []uint64

	bitsPerSample uint16
	sampleFormat  uint16
	compression   uint16
	predictor     uint16

	transform GeoTransform

	// blockCache holds decoded blocks as float32 samples, so reading several
	// bands of a pixel-interleaved file decompresses every block once.
	blockCache *ccache.Cache[[]float32]

	// inflightData makes concurrent readers of the same block share one decode.
	inflightData singleflight.Group

	blocksAcross int
	blocksDown   int
}

// fieldTypeLen is the length of every field type in bytes
var fieldTypeLen = [...]uint32{
	zeroByte, oneByte, oneByte, twoByte, // 0-3
	fourByte, eightByte, oneByte, oneByte, // 4-7
	twoByte, fourByte, eightByte, fourByte, // 8-11
	eightByte, // 12 (DOUBLE)
	0, 0, 0,   // 13-15 (Reserved)
	eightByte, eightByte, eightByte, // 16-18 (LONG8, SLONG8, IFD8)
}

var fieldTypeToLabel = map[fieldType]string{
	BYTE:      "BYTE",
	ASCII:     "ASCII",
	SHORT:     "SHORT",
	LONG:      "LONG",
	RATIONAL:  "RATIONAL",
	SBYTE:     "SBYTE",
	UNDEFINED: "UNDEFINED",
	SSHORT:    "SSHORT",
	SLONG:     "SLONG",
	SRATIONAL: "SRATIONAL",
	FLOAT:     "FLOAT",
	DOUBLE:    "DOUBLE",
	LONG8:     "LONG8",
	SLONG8:    "SLONG8",
	IFD8:      "IFD8",
}

func (f fieldType) String() string {
	v, ok := fieldTypeToLabel[f]
	if !ok {
		return fmt.Sprintf("unrecognized field type %d", f)
	}
	return v
}

// bytes returns the number of bytes in each data type
//
// returns 0 if unrecognized
func (f fieldType) bytes() uint32 {
	if f == 0 || int(f) >= len(fieldTypeLen) {
		return fieldTypeLen[0]
	}
	return fieldTypeLen[int(f)]
}

func (t Tag) String() string {
	v, ok := tagToLabel[t]
	if !ok {
		return fmt.Sprintf("%d", t)
	}
	return v
}

// Open parses the first image of a GeoTIFF. cacheSize and itemsToPrune size
// the decoded block cache.
func Open(r io.ReadSeeker, cacheSize int64, itemsToPrune uint32) (*GeoTIFF, error) {
	gTags, header, err := readTags(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read tiff tags: %w", err)
	}

	g := &GeoTIFF{
		reader:     r,
		tags:       gTags,
		byteOrder:  header.byteOrder,
		isBigTIFF:  header.isBigTIFF,
		blockCache: ccache.New(ccache.Configure[[]float32]().MaxSize(cacheSize).ItemsToPrune(itemsToPrune)),
	}

	if width, ok := g.getUint(ImageWidth); ok {
		g.imageWidth = uint32(width)
	} else {
		return nil, errors.New("missing or invalid tag: ImageWidth")
	}
	if length, ok := g.getUint(ImageLength); ok {
		g.imageLength = uint32(length)
	} else {
		return nil, errors.New("missing or invalid tag: ImageLength")
	}
	if g.imageWidth == 0 || g.imageLength == 0 {
		return nil, fmt.Errorf("empty image %dx%d", g.imageWidth, g.imageLength)
	}

	g.samplesPerPixel = 1
	if spp, ok := g.getUint(SamplesPerPixel); ok && spp > 0 {
		g.samplesPerPixel = uint16(spp)
	}
	g.planar = PlanarChunky
	if pc, ok := g.getUint(PlanarConfiguration); ok {
		g.planar = uint16(pc)
	}

	if err := g.readSampleLayout(); err != nil {
		return nil, err
	}
	if err := g.readBlockLayout(); err != nil {
		return nil, err
	}

	gt, err := g.readTransform()
	if err != nil {
		return nil, err
	}
	g.transform = gt

	return g, nil
}

func (g *GeoTIFF) readSampleLayout() error {
	g.bitsPerSample = 1
	if t, ok := g.tags[BitsPerSample]; ok && len(t.shortData) > 0 {
		g.bitsPerSample = t.shortData[0]
		for _, b := range t.shortData[1:] {
			if b != g.bitsPerSample {
				return fmt.Errorf("%w: mixed bits per sample %v", ErrUnsupported, t.shortData)
			}
		}
	}

	g.sampleFormat = SampleFormatUint
	if sf, ok := g.getUint(SampleFormat); ok {
		g.sampleFormat = uint16(sf)
	}

	switch {
	case g.sampleFormat == SampleFormatFloat && (g.bitsPerSample == 32 || g.bitsPerSample == 64):
	case (g.sampleFormat == SampleFormatUint || g.sampleFormat == SampleFormatInt) &&
		(g.bitsPerSample == 8 || g.bitsPerSample == 16 || g.bitsPerSample == 32):
	default:
		return fmt.Errorf("%w: sample format %d with %d bits", ErrUnsupported, g.sampleFormat, g.bitsPerSample)
	}

	g.compression = Uncompressed
	if comp, ok := g.getUint(Compression); ok {
		g.compression = uint16(comp)
	}
	g.predictor = PredictorNone
	if pred, ok := g.getUint(Predictor); ok {
		g.predictor = uint16(pred)
	}
	return nil
}

func (g *GeoTIFF) readBlockLayout() error {
	if tw, ok := g.getUint(TileWidth); ok {
		g.tiled = true
		g.blockWidth = uint32(tw)
		tl, ok := g.getUint(TileLength)
		if !ok {
			return errors.New("missing or invalid tag: TileLength")
		}
		g.blockLength = uint32(tl)
		if g.blockOffsets, ok = g.get64bitSlice(TileOffsets); !ok {
			return errors.New("missing or invalid tag: TileOffsets")
		}
		if g.blockByteCounts, ok = g.get64bitSlice(TileByteCounts); !ok {
			return errors.New("missing or invalid tag: TileByteCounts")
		}
	} else {
		g.blockWidth = g.imageWidth
		g.blockLength = g.imageLength
		if rps, ok := g.getUint(RowsPerStrip); ok && rps > 0 && rps < uint64(g.imageLength) {
			g.blockLength = uint32(rps)
		}
		var ok bool
		if g.blockOffsets, ok = g.get64bitSlice(StripOffsets); !ok {
			return errors.New("missing or invalid tag: StripOffsets")
		}
		if g.blockByteCounts, ok = g.get64bitSlice(StripByteCounts); !ok {
			return errors.New("missing or invalid tag: StripByteCounts")
		}
	}
	if g.blockWidth == 0 || g.blockLength == 0 {
		return fmt.Errorf("invalid block size %dx%d", g.blockWidth, g.blockLength)
	}

	g.blocksAcross = int(g.imageWidth+g.blockWidth-1) / int(g.blockWidth)
	g.blocksDown = int(g.imageLength+g.blockLength-1) / int(g.blockLength)

	want := g.blocksAcross * g.blocksDown
	if g.planar == PlanarSeparate {
		want *= int(g.samplesPerPixel)
	}
	if len(g.blockOffsets) < want || len(g.blockByteCounts) < want {
		return fmt.Errorf("expected %d blocks, found %d offsets and %d byte counts",
			want, len(g.blockOffsets), len(g.blockByteCounts))
	}
	return nil
}

// Width returns the raster width in pixels.
func (g *GeoTIFF) Width() int { return int(g.imageWidth) }

// Height returns the raster height in pixels.
func (g *GeoTIFF) Height() int { return int(g.imageLength) }

// BandCount returns the number of samples per pixel.
func (g *GeoTIFF) BandCount() int { return int(g.samplesPerPixel) }

// GeoTransform returns the affine pixel-to-model transform.
func (g *GeoTIFF) GeoTransform() GeoTransform { return g.transform }

// Close stops the block cache. It does not close the underlying reader.
func (g *GeoTIFF) Close() {
	g.blockCache.Stop()
}

// ReadBand decodes the whole of band (1-based) into a row-major slice of
// Width()*Height() samples.
func (g *GeoTIFF) ReadBand(band int) ([]float32, error) {
	if band < 1 || band > int(g.samplesPerPixel) {
		return nil, fmt.Errorf("band %d out of range [1, %d]", band, g.samplesPerPixel)
	}
	width, height := int(g.imageWidth), int(g.imageLength)
	bw, bl := int(g.blockWidth), int(g.blockLength)
	out := make([]float32, width*height)

	// Within a decoded block a pixel spans `stride` samples starting at `sample`.
	stride, sample, planeOffset := int(g.samplesPerPixel), band-1, 0
	if g.planar == PlanarSeparate {
		stride, sample = 1, 0
		planeOffset = (band - 1) * g.blocksAcross * g.blocksDown
	}

	for by := 0; by < g.blocksDown; by++ {
		for bx := 0; bx < g.blocksAcross; bx++ {
			blockNum := planeOffset + by*g.blocksAcross + bx
			data, err := g.getBlockData(blockNum)
			if err != nil {
				return nil, fmt.Errorf("failed to get data for block %d: %w", blockNum, err)
			}
			x0, y0 := bx*bw, by*bl
			for y := 0; y < bl && y0+y < height; y++ {
				row := out[(y0+y)*width:]
				for x := 0; x < bw && x0+x < width; x++ {
					idx := (y*bw+x)*stride + sample
					if idx >= len(data) {
						return nil, fmt.Errorf("block %d is short: sample %d of %d", blockNum, idx, len(data))
					}
					row[x0+x] = data[idx]
				}
			}
		}
	}
	return out, nil
}

// readHeader parses the TIFF file header to determine byte order, file format, and IFD location
func readHeader(r io.Reader) (head, error) {
	var h head

	var byteOrderBytes uint16
	if err := binary.Read(r, binary.BigEndian, &byteOrderBytes); err != nil {
		return h, err
	}

	switch byteOrderBytes {
	case littleEndian:
		h.byteOrder = binary.LittleEndian
	case bigEndian:
		h.byteOrder = binary.BigEndian
	default:
		return h, errors.New("invalid byte order")
	}

	var identifier uint16
	if err := binary.Read(r, h.byteOrder, &identifier); err != nil {
		return h, err
	}

	switch identifier {
	case tiffIdentifier:
		var offset32 uint32
		if err := binary.Read(r, h.byteOrder, &offset32); err != nil {
			return h, err
		}
		h.ifdOffset = uint64(offset32)
	case bigTiffIdentifier:
		h.isBigTIFF = true
		var bytesize, reserved uint16
		if err := binary.Read(r, h.byteOrder, &bytesize); err != nil {
			return h, err
		}
		if bytesize != bigTiffBytesize {
			return h, errors.New("invalid BigTIFF bytesize")
		}
		if err := binary.Read(r, h.byteOrder, &reserved); err != nil {
			return h, err
		}
		if err := binary.Read(r, h.byteOrder, &h.ifdOffset); err != nil {
			return h, err
		}
	default:
		return h, fmt.Errorf("invalid tiff identifier: %d", identifier)
	}
	return h, nil
}

// readTags reads the first IFD only; later IFDs hold overviews or masks.
func readTags(r io.ReadSeeker) (Tags, head, error) {
	tags := make(Tags)
	h, err := readHeader(r)
	if err != nil {
		return nil, h, err
	}

	if h.ifdOffset == 0 {
		return nil, h, errors.New("file contains no IFDs")
	}
	if _, err := r.Seek(int64(h.ifdOffset), io.SeekStart); err != nil {
		return nil, h, err
	}

	var numEntries uint64
	if h.isBigTIFF {
		if err := binary.Read(r, h.byteOrder, &numEntries); err != nil {
			return nil, h, err
		}
	} else {
		var numEntries16 uint16
		if err := binary.Read(r, h.byteOrder, &numEntries16); err != nil {
			return nil, h, err
		}
		numEntries = uint64(numEntries16)
	}

	entryLen := 12
	inlineDataSize := uint64(4)
	if h.isBigTIFF {
		entryLen = 20
		inlineDataSize = 8
	}
	ifdBlock := make([]byte, entryLen*int(numEntries))
	if _, err := io.ReadFull(r, ifdBlock); err != nil {
		return nil, h, fmt.Errorf("failed to read IFD block: %w", err)
	}
	ifdReader := bytes.NewReader(ifdBlock)

	for i := uint64(0); i < numEntries; i++ {
		var entry iFDEntry
		var tag, ftype uint16
		binary.Read(ifdReader, h.byteOrder, &tag)
		binary.Read(ifdReader, h.byteOrder, &ftype)
		entry.Tag = Tag(tag)
		entry.FType = fieldType(ftype)
		if entry.FType.bytes() == 0 {
			slog.Warn("skipping tiff tag with unrecognized field type", "tag", entry.Tag, "type", uint16(entry.FType))
			ifdReader.Seek(int64(entryLen-4), io.SeekCurrent)
			continue
		}

		offsetBytes := make([]byte, 8)
		if h.isBigTIFF {
			binary.Read(ifdReader, h.byteOrder, &entry.Count)
			ifdReader.Read(offsetBytes)
			entry.ValueOffset = h.byteOrder.Uint64(offsetBytes)
		} else {
			var count32, offset32 uint32
			binary.Read(ifdReader, h.byteOrder, &count32)
			binary.Read(ifdReader, h.byteOrder, &offset32)
			entry.Count = uint64(count32)
			entry.ValueOffset = uint64(offset32)
			h.byteOrder.PutUint32(offsetBytes, offset32)
		}

		if totalBytes := uint64(entry.FType.bytes()) * entry.Count; totalBytes <= inlineDataSize {
			entry.ValueBytes = offsetBytes[:totalBytes]
		}

		tagvalue, err := entry.value(r, h.byteOrder)
		if err != nil {
			return nil, h, fmt.Errorf("tag %s: %w", entry.Tag, err)
		}
		tags[entry.Tag] = *tagvalue
	}
	return tags, h, nil
}

func (ifd *iFDEntry) value(r io.ReadSeeker, byteOrder binary.ByteOrder) (*tagData, error) {
	t := tagData{fType: ifd.FType, length: uint32(ifd.Count)}
	var reader io.Reader
	if len(ifd.ValueBytes) > 0 || ifd.Count == 0 {
		reader = bytes.NewReader(ifd.ValueBytes)
	} else {
		readerAt, ok := r.(io.ReaderAt)
		if !ok {
			return nil, errors.New("reader does not implement io.ReaderAt")
		}
		reader = io.NewSectionReader(readerAt, int64(ifd.ValueOffset), int64(ifd.FType.bytes())*int64(ifd.Count))
	}
	switch ifd.FType {
	case ASCII:
		p := make([]uint8, ifd.Count)
		if err := binary.Read(reader, byteOrder, p); err != nil {
			return nil, err
		}
		t.asciiData = string(bytes.Trim(p, "\x00"))
	case SHORT:
		t.shortData = make([]uint16, ifd.Count)
		if err := binary.Read(reader, byteOrder, &t.shortData); err != nil {
			return nil, err
		}
	case LONG:
		t.longData = make([]uint32, ifd.Count)
		if err := binary.Read(reader, byteOrder, &t.longData); err != nil {
			return nil, err
		}
	case FLOAT:
		t.floatData = make([]float32, ifd.Count)
		if err := binary.Read(reader, byteOrder, t.floatData); err != nil {
			return nil, err
		}
	case DOUBLE:
		t.doubleData = make([]float64, ifd.Count)
		if err := binary.Read(reader, byteOrder, &t.doubleData); err != nil {
			return nil, err
		}
	case LONG8, IFD8:
		t.uint64Data = make([]uint64, ifd.Count)
		if err := binary.Read(reader, byteOrder, &t.uint64Data); err != nil {
			return nil, err
		}
	default:
		t.byteData = make([]uint8, uint64(ifd.FType.bytes())*ifd.Count)
		if _, err := io.ReadFull(reader, t.byteData); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

// getBlockData returns a block decoded to float32 samples, from the cache when possible.
func (g *GeoTIFF) getBlockData(blockNum int) ([]float32, error) {
	key := strconv.Itoa(blockNum)
	if item := g.blockCache.Get(key); item != nil && !item.Expired() {
		return item.Value(), nil
	}

	v, err, _ := g.inflightData.Do(key, func() (interface{}, error) {
		raw, err := g.fetchAndDecompressBlock(blockNum)
		if err != nil {
			return nil, err
		}
		if err := g.undoPredictor(raw, blockNum); err != nil {
			return nil, err
		}
		samples, err := g.decodeSamples(raw)
		if err != nil {
			return nil, err
		}
		g.blockCache.Set(key, samples, blockTTL)
		return samples, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

// fetchAndDecompressBlock performs the I/O to read and decompress a single block.
func (g *GeoTIFF) fetchAndDecompressBlock(blockNum int) ([]byte, error) {
	if blockNum < 0 || blockNum >= len(g.blockOffsets) {
		return nil, fmt.Errorf("block index %d out of bounds", blockNum)
	}

	offset := g.blockOffsets[blockNum]
	byteCount := g.blockByteCounts[blockNum]
	blockBytes := make([]byte, byteCount)

	readerAt, ok := g.reader.(io.ReaderAt)
	if !ok {
		return nil, errors.New("reader does not support ReadAt for block fetching")
	}
	if _, err := readerAt.ReadAt(blockBytes, int64(offset)); err != nil {
		return nil, fmt.Errorf("failed to read block %d from source: %w", blockNum, err)
	}

	switch g.compression {
	case Uncompressed:
		return blockBytes, nil
	case DEFLATE, DEFLATELegacy:
		z, err := zlib.NewReader(bytes.NewReader(blockBytes))
		if err != nil {
			return nil, fmt.Errorf("failed to create zlib reader for block: %w", err)
		}
		defer z.Close()
		out, err := io.ReadAll(z)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress block data: %w", err)
		}
		return out, nil
	case LZW:
		lr := lzw.NewReader(bytes.NewReader(blockBytes), lzw.MSB, 8)
		defer lr.Close()
		out, err := io.ReadAll(lr)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress lzw block: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: compression %d", ErrUnsupported, g.compression)
	}
}

// samplesPerBlockPixel is the number of interleaved samples per pixel inside a block.
func (g *GeoTIFF) samplesPerBlockPixel() int {
	if g.planar == PlanarSeparate {
		return 1
	}
	return int(g.samplesPerPixel)
}

func (g *GeoTIFF) undoPredictor(raw []byte, blockNum int) error {
	switch g.predictor {
	case PredictorNone:
		return nil
	case PredictorHorizontal:
	default:
		return fmt.Errorf("%w: predictor %d", ErrUnsupported, g.predictor)
	}
	if g.sampleFormat == SampleFormatFloat {
		return fmt.Errorf("%w: horizontal predictor on float samples", ErrUnsupported)
	}
	spp := g.samplesPerBlockPixel()
	undoHorizontalPrediction(raw, g.byteOrder, int(g.bitsPerSample)/8, int(g.blockWidth)*spp, spp)
	return nil
}

// undoHorizontalPrediction reverses horizontal differencing in place. rowSamples
// is the number of samples per block row and stride the samples per pixel.
// Integer overflow wraps, matching the encoder.
func undoHorizontalPrediction(buf []byte, order binary.ByteOrder, sampleBytes, rowSamples, stride int) {
	rowBytes := rowSamples * sampleBytes
	if rowBytes == 0 {
		return
	}
	for rowStart := 0; rowStart+rowBytes <= len(buf); rowStart += rowBytes {
		row := buf[rowStart : rowStart+rowBytes]
		for i := stride; i < rowSamples; i++ {
			cur, prev := i*sampleBytes, (i-stride)*sampleBytes
			switch sampleBytes {
			case 1:
				row[cur] += row[prev]
			case 2:
				order.PutUint16(row[cur:], order.Uint16(row[cur:])+order.Uint16(row[prev:]))
			case 4:
				order.PutUint32(row[cur:], order.Uint32(row[cur:])+order.Uint32(row[prev:]))
			}
		}
	}
}

// decodeSamples converts raw block bytes into float32 samples.
func (g *GeoTIFF) decodeSamples(raw []byte) ([]float32, error) {
	order := g.byteOrder
	switch g.sampleFormat {
	case SampleFormatUint:
		switch g.bitsPerSample {
		case 8:
			out := make([]float32, len(raw))
			for i, b := range raw {
				out[i] = float32(b)
			}
			return out, nil
		case 16:
			out := make([]float32, len(raw)/2)
			for i := range out {
				out[i] = float32(order.Uint16(raw[2*i:]))
			}
			return out, nil
		case 32:
			out := make([]float32, len(raw)/4)
			for i := range out {
				out[i] = float32(order.Uint32(raw[4*i:]))
			}
			return out, nil
		}
	case SampleFormatInt:
		switch g.bitsPerSample {
		case 8:
			out := make([]float32, len(raw))
			for i, b := range raw {
				out[i] = float32(int8(b))
			}
			return out, nil
		case 16:
			out := make([]float32, len(raw)/2)
			for i := range out {
				out[i] = float32(int16(order.Uint16(raw[2*i:])))
			}
			return out, nil
		case 32:
			out := make([]float32, len(raw)/4)
			for i := range out {
				out[i] = float32(int32(order.Uint32(raw[4*i:])))
			}
			return out, nil
		}
	case SampleFormatFloat:
		switch g.bitsPerSample {
		case 32:
			out := make([]float32, len(raw)/4)
			for i := range out {
				out[i] = math.Float32frombits(order.Uint32(raw[4*i:]))
			}
			return out, nil
		case 64:
			out := make([]float32, len(raw)/8)
			for i := range out {
				out[i] = float32(math.Float64frombits(order.Uint64(raw[8*i:])))
			}
			return out, nil
		}
	}
	return nil, fmt.Errorf("%w: sample format %d with %d bits", ErrUnsupported, g.sampleFormat, g.bitsPerSample)
}

func (g *GeoTIFF) getUint(tag Tag) (uint64, bool) {
	t, ok := g.tags[tag]
	if !ok {
		return 0, false
	}
	if t.fType == SHORT && len(t.shortData) > 0 {
		return uint64(t.shortData[0]), true
	}
	if t.fType == LONG && len(t.longData) > 0 {
		return uint64(t.longData[0]), true
	}
	if (t.fType == LONG8 || t.fType == IFD8) && len(t.uint64Data) > 0 {
		return t.uint64Data[0], true
	}
	return 0, false
}

func (g *GeoTIFF) get64bitSlice(tag Tag) ([]uint64, bool) {
	t, ok := g.tags[tag]
	if !ok {
		return nil, false
	}
	switch t.fType {
	case LONG8, IFD8:
		return t.uint64Data, true
	case LONG:
		res := make([]uint64, len(t.longData))
		for i, v := range t.longData {
			res[i] = uint64(v)
		}
		return res, true
	case SHORT:
		res := make([]uint64, len(t.shortData))
		for i, v := range t.shortData {
			res[i] = uint64(v)
		}
		return res, true
	}
	return nil, false
}

func (td tagData) doubleDataValue() ([]float64, bool) {
	if td.fType == DOUBLE {
		return td.doubleData, true
	}
	return nil, false
}
