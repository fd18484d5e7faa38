package transform

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

const (
	AlgZstd = "zstd"
	AlgS2   = "s2"
)

// Compressor is a reversible byte transform.
type Compressor interface {
	Algorithm() string
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte) ([]byte, error)
}

// Zstd compresses with klauspost/compress/zstd. EncodeAll/DecodeAll are safe
// for concurrent use, so one instance serves the whole store.
type Zstd struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstd builds a zstd compressor. level <= 0 selects the default level.
func NewZstd(level int) (*Zstd, error) {
	lvl := zstd.SpeedDefault
	if level > 0 {
		lvl = zstd.EncoderLevelFromZstd(level)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(lvl), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("zstd: encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		return nil, fmt.Errorf("zstd: decoder: %w", err)
	}
	return &Zstd{enc: enc, dec: dec}, nil
}

func (z *Zstd) Algorithm() string { return AlgZstd }

func (z *Zstd) Compress(src []byte) ([]byte, error) {
	return z.enc.EncodeAll(src, make([]byte, 0, len(src)/2)), nil
}

func (z *Zstd) Decompress(src []byte) ([]byte, error) {
	out, err := z.dec.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	return out, nil
}

// Close releases decoder goroutines.
func (z *Zstd) Close() {
	z.dec.Close()
	_ = z.enc.Close()
}

// S2 is the faster, lower-ratio Snappy-compatible alternative.
type S2 struct{}

func (S2) Algorithm() string                  { return AlgS2 }
func (S2) Compress(src []byte) ([]byte, error) { return s2.Encode(nil, src), nil }
func (S2) Decompress(src []byte) ([]byte, error) {
	out, err := s2.Decode(nil, src)
	if err != nil {
		return nil, fmt.Errorf("s2: %w", err)
	}
	return out, nil
}

var (
	defaultZstdOnce sync.Once
	defaultZstd     *Zstd
	defaultZstdErr  error
)

// DefaultCompressor returns a shared zstd compressor at the default level.
func DefaultCompressor() (Compressor, error) {
	defaultZstdOnce.Do(func() {
		defaultZstd, defaultZstdErr = NewZstd(0)
	})
	if defaultZstdErr != nil {
		return nil, defaultZstdErr
	}
	return defaultZstd, nil
}

// CompressorByName returns a compressor for alg ("zstd" or "s2").
func CompressorByName(alg string) (Compressor, error) {
	switch alg {
	case "", AlgZstd:
		return DefaultCompressor()
	case AlgS2:
		return S2{}, nil
	default:
		return nil, fmt.Errorf("transform: unknown compression %q", alg)
	}
}
