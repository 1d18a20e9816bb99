package treefile

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression tags the payload encoding. Values are stored in the file
// header and must not change.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionZstd Compression = 1
	CompressionLZ4  Compression = 2
)

var errIncompressible = errors.New("treefile: payload incompressible")

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

// ParseCompression maps a config or flag value to a tag. Empty means none.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return 0, fmt.Errorf("%w: unknown compression %q", ErrInvalidFile, name)
	}
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("treefile: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = newZstdDecoder(MaxPayload)
	if err != nil {
		panic("treefile: zstd decoder initialization failed: " + err.Error())
	}
}

// newZstdDecoder caps the memory a single frame may inflate to.
func newZstdDecoder(limit uint64) (*zstd.Decoder, error) {
	return zstd.NewReader(nil, zstd.WithDecoderMaxMemory(limit))
}

// compress returns errIncompressible when the encoded form is not smaller.
func compress(data []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		out := zstdEncoder.EncodeAll(data, nil)
		if len(out) >= len(data) {
			return nil, errIncompressible
		}
		return out, nil
	case CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 || n >= len(data) {
			return nil, errIncompressible
		}
		return dst[:n], nil
	default:
		return nil, fmt.Errorf("%w: unsupported compression %s", ErrInvalidFile, c)
	}
}

func decompress(data []byte, c Compression, size int) ([]byte, error) {
	return decompressWith(zstdDecoder, data, c, size)
}

func decompressWith(zd *zstd.Decoder, data []byte, c Compression, size int) ([]byte, error) {
	switch c {
	case CompressionNone:
		if len(data) != size {
			return nil, fmt.Errorf("%w: payload holds %d bytes, header says %d", ErrInvalidFile, len(data), size)
		}
		return data, nil
	case CompressionZstd:
		out, err := zd.DecodeAll(data, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrInvalidFile, err)
		}
		if len(out) != size {
			return nil, fmt.Errorf("%w: zstd payload is %d bytes, header says %d", ErrInvalidFile, len(out), size)
		}
		return out, nil
	case CompressionLZ4:
		out := make([]byte, size)
		n, err := lz4.UncompressBlock(data, out)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrInvalidFile, err)
		}
		if n != size {
			return nil, fmt.Errorf("%w: lz4 payload is %d bytes, header says %d", ErrInvalidFile, n, size)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unsupported compression %s", ErrInvalidFile, c)
	}
}
