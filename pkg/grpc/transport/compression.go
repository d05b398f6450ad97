package transport

import (
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"

	"github.com/KevoDB/bucketscan/pkg/grpc/storagepb"
)

var (
	// ErrUnknownCodec is returned when an unsupported compression codec is specified
	ErrUnknownCodec = errors.New("unknown compression codec")

	// ErrInvalidCompressedData is returned when compressed data cannot be decompressed
	ErrInvalidCompressedData = errors.New("invalid compressed data")
)

// minCompressSize is the smallest body worth compressing
const minCompressSize = 256

// CompressionManager compresses and decompresses range read bodies
type CompressionManager struct {
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder

	mu sync.Mutex
}

// NewCompressionManager creates a manager with the default zstd level
func NewCompressionManager() (*CompressionManager, error) {
	return NewCompressionManagerWithLevel(zstd.SpeedDefault)
}

// NewCompressionManagerWithLevel creates a manager with a specific zstd level
func NewCompressionManagerWithLevel(level zstd.EncoderLevel) (*CompressionManager, error) {
	zstdEncoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, fmt.Errorf("failed to create ZSTD encoder with level %v: %w", level, err)
	}

	zstdDecoder, err := zstd.NewReader(nil)
	if err != nil {
		zstdEncoder.Close()
		return nil, fmt.Errorf("failed to create ZSTD decoder: %w", err)
	}

	return &CompressionManager{
		zstdEncoder: zstdEncoder,
		zstdDecoder: zstdDecoder,
	}, nil
}

// Compress compresses data with codec. Small bodies are left as they are and
// reported with CodecNone, so callers must send the returned codec.
func (c *CompressionManager) Compress(data []byte, codec storagepb.Codec) ([]byte, storagepb.Codec, error) {
	if len(data) < minCompressSize {
		return data, storagepb.CodecNone, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// closed managers send bodies uncompressed
	if c.zstdEncoder == nil {
		return data, storagepb.CodecNone, nil
	}

	switch codec {
	case storagepb.CodecNone:
		return data, codec, nil

	case storagepb.CodecZstd:
		return c.zstdEncoder.EncodeAll(data, nil), codec, nil

	case storagepb.CodecSnappy:
		return snappy.Encode(nil, data), codec, nil

	default:
		return nil, storagepb.CodecNone, fmt.Errorf("%w: %v", ErrUnknownCodec, codec)
	}
}

// Decompress reverses Compress
func (c *CompressionManager) Decompress(data []byte, codec storagepb.Codec) ([]byte, error) {
	if len(data) == 0 || codec == storagepb.CodecNone {
		return data, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch codec {
	case storagepb.CodecZstd:
		if c.zstdDecoder == nil {
			return nil, fmt.Errorf("%w: compression manager closed", ErrInvalidCompressedData)
		}
		result, err := c.zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCompressedData, err)
		}
		return result, nil

	case storagepb.CodecSnappy:
		result, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCompressedData, err)
		}
		return result, nil

	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownCodec, codec)
	}
}

// Close releases the zstd encoder and decoder
func (c *CompressionManager) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.zstdEncoder != nil {
		c.zstdEncoder.Close()
		c.zstdEncoder = nil
	}

	if c.zstdDecoder != nil {
		c.zstdDecoder.Close()
		c.zstdDecoder = nil
	}

	return nil
}
