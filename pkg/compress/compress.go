// Package compress retains raw tool output compactly. Reports from symbolic
// executors run to megabytes of JSON; runs that keep raw output for audit
// store it as zstd blobs and inflate on demand.
package compress

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Algorithm represents a compression algorithm.
type Algorithm string

const (
	AlgorithmZSTD Algorithm = "zstd"
	AlgorithmNone Algorithm = "none"
)

// ParseAlgorithm maps a config value to an Algorithm. Empty means zstd.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(s))) {
	case "", AlgorithmZSTD:
		return AlgorithmZSTD, nil
	case AlgorithmNone:
		return AlgorithmNone, nil
	default:
		return "", fmt.Errorf("unsupported compression algorithm: %s", s)
	}
}

// Level represents compression level.
type Level int

const (
	LevelFastest Level = 1
	LevelDefault Level = 3
	LevelBest    Level = 9
)

// MinSize is the payload size below which Pack stores data as-is.
const MinSize = 256

// Blob is a retained payload.
type Blob struct {
	Algorithm    Algorithm `json:"algorithm"`
	OriginalSize int       `json:"original_size"`
	Data         []byte    `json:"data"`
}

// Ratio returns stored/original size, 1 for empty blobs.
func (b Blob) Ratio() float64 {
	if b.OriginalSize == 0 {
		return 1
	}
	return float64(len(b.Data)) / float64(b.OriginalSize)
}

// Compressor packs and unpacks blobs. Safe for concurrent use.
type Compressor struct {
	algorithm Algorithm
	level     Level

	encoders sync.Pool
	decoders sync.Pool
}

// NewCompressor creates a new compressor with the specified algorithm and level.
func NewCompressor(algorithm Algorithm, level Level) *Compressor {
	c := &Compressor{
		algorithm: algorithm,
		level:     level,
	}
	c.encoders.New = func() any {
		enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(int(level))))
		return enc
	}
	c.decoders.New = func() any {
		dec, _ := zstd.NewReader(nil)
		return dec
	}
	return c
}

// Algorithm returns the compression algorithm.
func (c *Compressor) Algorithm() Algorithm {
	return c.algorithm
}

// Pack stores data, compressing it unless it is small or the compressor
// is configured with AlgorithmNone. The input slice is copied.
func (c *Compressor) Pack(data []byte) (Blob, error) {
	if c.algorithm == AlgorithmNone || len(data) < MinSize {
		return Blob{Algorithm: AlgorithmNone, OriginalSize: len(data), Data: bytes.Clone(data)}, nil
	}
	if c.algorithm != AlgorithmZSTD {
		return Blob{}, fmt.Errorf("unsupported compression algorithm: %s", c.algorithm)
	}

	enc := c.encoders.Get().(*zstd.Encoder)
	defer c.encoders.Put(enc)

	var buf bytes.Buffer
	enc.Reset(&buf)
	if _, err := enc.Write(data); err != nil {
		return Blob{}, fmt.Errorf("zstd write error: %w", err)
	}
	if err := enc.Close(); err != nil {
		return Blob{}, fmt.Errorf("zstd close error: %w", err)
	}
	return Blob{Algorithm: AlgorithmZSTD, OriginalSize: len(data), Data: buf.Bytes()}, nil
}

// Unpack returns the original bytes of b.
func (c *Compressor) Unpack(b Blob) ([]byte, error) {
	switch b.Algorithm {
	case AlgorithmNone, "":
		return bytes.Clone(b.Data), nil
	case AlgorithmZSTD:
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", b.Algorithm)
	}

	dec := c.decoders.Get().(*zstd.Decoder)
	defer c.decoders.Put(dec)

	if err := dec.Reset(bytes.NewReader(b.Data)); err != nil {
		return nil, fmt.Errorf("zstd reset error: %w", err)
	}
	out, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress error: %w", err)
	}
	if len(out) != b.OriginalSize {
		return nil, fmt.Errorf("zstd size mismatch: got %d, want %d", len(out), b.OriginalSize)
	}
	return out, nil
}

// Default is the shared zstd compressor.
var Default = NewCompressor(AlgorithmZSTD, LevelDefault)
