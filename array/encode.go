package array

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression defines the block compression applied to chunk data.
type Compression uint8

const (
	// CompressionNone stores chunk blocks uncompressed.
	CompressionNone Compression = 0
	// CompressionLZ4 uses LZ4 block compression (fast, good for hot data).
	CompressionLZ4 Compression = 1
	// CompressionZSTD uses ZSTD block compression (better ratio).
	CompressionZSTD Compression = 2
)

// String returns the canonical name of the compression type.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return "unknown"
	}
}

const (
	formatVersion = 1
	headerMagic   = "KYMA"
)

// ErrBadFormat indicates a blob that is not a kymflow array.
var ErrBadFormat = errors.New("not a kymflow array blob")

// ZSTD encoder/decoder pools for efficiency.
var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Encode serializes the array to its chunked binary form.
//
// Layout: magic, version, dtype, compression, ndim, shape[ndim] and
// chunks[ndim] as uint32, then one block per chunk in row-major grid order.
// Block header: [uncompressed uint32][compressed uint32][data]; a compressed
// size of zero marks a raw block. Axes labels live in the group attrs, not
// in the binary blob.
func Encode(a *NDArray, comp Compression) ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if a.Chunks == nil {
		return nil, fmt.Errorf("array has no chunk layout")
	}

	ndim := a.NDim()
	out := make([]byte, 0, len(a.Data)/2+64)
	out = append(out, headerMagic...)
	out = append(out, formatVersion, byte(a.DType), byte(comp), byte(ndim))
	for _, dim := range a.Shape {
		out = binary.LittleEndian.AppendUint32(out, uint32(dim))
	}
	for _, c := range a.Chunks {
		out = binary.LittleEndian.AppendUint32(out, uint32(c))
	}

	itemSize := a.DType.Size()
	strides := elemStrides(a.Shape)
	grid := chunkGrid(a.Shape, a.Chunks)

	chunkBuf := make([]byte, chunkByteSize(a.Chunks, itemSize))
	g := make([]int, ndim)
	for {
		n := gatherChunk(a.Data, chunkBuf, a.Shape, a.Chunks, strides, g, itemSize)
		block, err := compressBlock(chunkBuf[:n], comp)
		if err != nil {
			return nil, err
		}
		out = append(out, block...)
		if !advance(g, grid) {
			break
		}
	}
	return out, nil
}

// Info describes an encoded array without its data. The header fits in the
// first HeaderMaxSize bytes of the blob, so callers can stat an array with a
// single small range read.
type Info struct {
	Shape       []int
	DType       DType
	Chunks      []int
	Compression Compression
}

// HeaderMaxSize bounds the encoded header length (5-dimensional case).
const HeaderMaxSize = 8 + 8*5

// DecodeInfo parses only the header of an encoded array blob.
func DecodeInfo(data []byte) (Info, error) {
	if len(data) < 8 || string(data[:4]) != headerMagic {
		return Info{}, ErrBadFormat
	}
	if data[4] != formatVersion {
		return Info{}, fmt.Errorf("%w: unsupported version %d", ErrBadFormat, data[4])
	}
	dtype := DType(data[5])
	if dtype.Size() == 0 {
		return Info{}, fmt.Errorf("%w: invalid dtype byte %d", ErrBadFormat, data[5])
	}
	comp := Compression(data[6])
	ndim := int(data[7])
	if ndim < 2 || ndim > 5 {
		return Info{}, fmt.Errorf("%w: invalid ndim %d", ErrBadFormat, ndim)
	}
	if len(data) < 8+8*ndim {
		return Info{}, ErrBadFormat
	}
	info := Info{DType: dtype, Compression: comp, Shape: make([]int, ndim), Chunks: make([]int, ndim)}
	off := 8
	for i := range info.Shape {
		info.Shape[i] = int(binary.LittleEndian.Uint32(data[off:]))
		off += 4
	}
	for i := range info.Chunks {
		info.Chunks[i] = int(binary.LittleEndian.Uint32(data[off:]))
		off += 4
	}
	return info, nil
}

// Decode deserializes a chunked binary array blob.
func Decode(data []byte) (*NDArray, error) {
	if len(data) < 8 || string(data[:4]) != headerMagic {
		return nil, ErrBadFormat
	}
	if data[4] != formatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadFormat, data[4])
	}
	dtype := DType(data[5])
	if dtype.Size() == 0 {
		return nil, fmt.Errorf("%w: invalid dtype byte %d", ErrBadFormat, data[5])
	}
	comp := Compression(data[6])
	ndim := int(data[7])
	if ndim < 2 || ndim > 5 {
		return nil, fmt.Errorf("%w: invalid ndim %d", ErrBadFormat, ndim)
	}

	off := 8
	if len(data) < off+8*ndim {
		return nil, ErrBadFormat
	}
	shape := make([]int, ndim)
	chunks := make([]int, ndim)
	for i := range shape {
		shape[i] = int(binary.LittleEndian.Uint32(data[off:]))
		off += 4
	}
	for i := range chunks {
		chunks[i] = int(binary.LittleEndian.Uint32(data[off:]))
		off += 4
	}

	a, err := New(dtype, shape...)
	if err != nil {
		return nil, err
	}
	a.Chunks = chunks
	if err := a.Validate(); err != nil {
		return nil, err
	}

	itemSize := dtype.Size()
	strides := elemStrides(shape)
	grid := chunkGrid(shape, chunks)

	chunkBuf := make([]byte, chunkByteSize(chunks, itemSize))
	g := make([]int, ndim)
	for {
		want := chunkExtentBytes(shape, chunks, g, itemSize)
		n, consumed, err := decompressBlock(data[off:], chunkBuf[:want], comp)
		if err != nil {
			return nil, err
		}
		if n != want {
			return nil, fmt.Errorf("%w: chunk block size %d, want %d", ErrBadFormat, n, want)
		}
		off += consumed
		scatterChunk(a.Data, chunkBuf[:n], shape, chunks, strides, g, itemSize)
		if !advance(g, grid) {
			break
		}
	}
	return a, nil
}

func compressBlock(src []byte, comp Compression) ([]byte, error) {
	header := make([]byte, 8)
	binary.LittleEndian.PutUint32(header, uint32(len(src)))

	switch comp {
	case CompressionNone:
		// compressed size 0 marks a raw block
		return append(header, src...), nil

	case CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(src)))
		n, err := lz4.CompressBlock(src, dst, nil)
		if err != nil {
			return nil, err
		}
		if n == 0 || n >= len(src) {
			// incompressible, store raw
			return append(header, src...), nil
		}
		binary.LittleEndian.PutUint32(header[4:], uint32(n))
		return append(header, dst[:n]...), nil

	case CompressionZSTD:
		enc := getZstdEncoder()
		dst := enc.EncodeAll(src, nil)
		zstdEncoderPool.Put(enc)
		if len(dst) >= len(src) {
			return append(header, src...), nil
		}
		binary.LittleEndian.PutUint32(header[4:], uint32(len(dst)))
		return append(header, dst...), nil

	default:
		return nil, fmt.Errorf("unknown compression type %d", comp)
	}
}

// decompressBlock decodes one block from data into dst. It returns the number
// of bytes written to dst and the number of input bytes consumed.
func decompressBlock(data, dst []byte, comp Compression) (int, int, error) {
	if len(data) < 8 {
		return 0, 0, ErrBadFormat
	}
	uncompressed := int(binary.LittleEndian.Uint32(data))
	compressed := int(binary.LittleEndian.Uint32(data[4:]))

	if compressed == 0 {
		if len(data) < 8+uncompressed {
			return 0, 0, ErrBadFormat
		}
		n := copy(dst, data[8:8+uncompressed])
		return n, 8 + uncompressed, nil
	}
	if len(data) < 8+compressed {
		return 0, 0, ErrBadFormat
	}
	payload := data[8 : 8+compressed]

	switch comp {
	case CompressionLZ4:
		n, err := lz4.UncompressBlock(payload, dst)
		if err != nil {
			return 0, 0, err
		}
		return n, 8 + compressed, nil

	case CompressionZSTD:
		dec := getZstdDecoder()
		out, err := dec.DecodeAll(payload, dst[:0])
		zstdDecoderPool.Put(dec)
		if err != nil {
			return 0, 0, err
		}
		return len(out), 8 + compressed, nil

	default:
		return 0, 0, fmt.Errorf("compressed block with compression type %d", comp)
	}
}

// elemStrides returns per-axis strides in elements for a C-order layout.
func elemStrides(shape []int) []int {
	strides := make([]int, len(shape))
	strides[len(shape)-1] = 1
	for i := len(shape) - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * shape[i+1]
	}
	return strides
}

func chunkGrid(shape, chunks []int) []int {
	grid := make([]int, len(shape))
	for i := range shape {
		grid[i] = (shape[i] + chunks[i] - 1) / chunks[i]
	}
	return grid
}

func chunkByteSize(chunks []int, itemSize int) int {
	n := itemSize
	for _, c := range chunks {
		n *= c
	}
	return n
}

// chunkExtent returns the clipped extent of the chunk at grid coords g.
func chunkExtent(shape, chunks, g []int) []int {
	e := make([]int, len(shape))
	for i := range shape {
		e[i] = min(chunks[i], shape[i]-g[i]*chunks[i])
	}
	return e
}

func chunkExtentBytes(shape, chunks, g []int, itemSize int) int {
	n := itemSize
	for _, e := range chunkExtent(shape, chunks, g) {
		n *= e
	}
	return n
}

// advance steps odometer g through the chunk grid in row-major order.
// It returns false after the last position.
func advance(g, grid []int) bool {
	for i := len(g) - 1; i >= 0; i-- {
		g[i]++
		if g[i] < grid[i] {
			return true
		}
		g[i] = 0
	}
	return false
}

// gatherChunk copies the chunk at grid coords g out of the full array into
// dst, row by row, and returns the number of bytes written.
func gatherChunk(src, dst []byte, shape, chunks, strides, g []int, itemSize int) int {
	return copyChunk(src, dst, shape, chunks, strides, g, itemSize, true)
}

// scatterChunk copies a contiguous chunk buffer back into the full array.
func scatterChunk(dst, src []byte, shape, chunks, strides, g []int, itemSize int) {
	copyChunk(dst, src, shape, chunks, strides, g, itemSize, false)
}

// copyChunk walks every row of the chunk at grid coords g. With gather=true
// it copies full->chunk, otherwise chunk->full. Rows are contiguous runs
// along the last axis.
func copyChunk(full, chunk []byte, shape, chunks, strides, g []int, itemSize int, gather bool) int {
	ndim := len(shape)
	extent := chunkExtent(shape, chunks, g)

	origin := make([]int, ndim)
	for i := range origin {
		origin[i] = g[i] * chunks[i]
	}

	rowBytes := extent[ndim-1] * itemSize
	chunkOff := 0

	// odometer over all axes except the last
	idx := make([]int, ndim-1)
	for {
		srcElem := origin[ndim-1]
		for i := 0; i < ndim-1; i++ {
			srcElem += (origin[i] + idx[i]) * strides[i]
		}
		fullOff := srcElem * itemSize

		if gather {
			copy(chunk[chunkOff:chunkOff+rowBytes], full[fullOff:fullOff+rowBytes])
		} else {
			copy(full[fullOff:fullOff+rowBytes], chunk[chunkOff:chunkOff+rowBytes])
		}
		chunkOff += rowBytes

		carried := true
		for i := ndim - 2; i >= 0; i-- {
			idx[i]++
			if idx[i] < extent[i] {
				carried = false
				break
			}
			idx[i] = 0
		}
		if carried {
			break
		}
	}
	return chunkOff
}
