package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how chunk payloads are encoded at rest.
type Compression byte

const (
	CompressionNone Compression = iota
	CompressionZstd
	CompressionLZ4
)

var ErrBadPayload = errors.New("malformed chunk payload")

// maxChunkLen caps the length header of an lz4 payload.
const maxChunkLen = 1 << 30

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("compression(%d)", byte(c))
	}
}

// ParseCompression resolves a configured compression name. Empty means none.
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}

// Codec turns raw chunk bytes into stored payloads and back. A payload is a
// one-byte Compression tag followed by the body, so Decode reads payloads
// written under any setting. Content hashes are always taken over raw bytes.
//
// A Codec is safe for concurrent use.
type Codec struct {
	mode Compression
	enc  *zstd.Encoder
	dec  *zstd.Decoder
}

// NewCodec returns a codec that encodes with mode.
func NewCodec(mode Compression) (*Codec, error) {
	if mode > CompressionLZ4 {
		return nil, fmt.Errorf("unknown compression %d", mode)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &Codec{mode: mode, enc: enc, dec: dec}, nil
}

func (c *Codec) Mode() Compression { return c.mode }

// Encode returns the payload for data. Data that does not shrink is stored
// uncompressed.
func (c *Codec) Encode(data []byte) []byte {
	switch c.mode {
	case CompressionZstd:
		out := c.enc.EncodeAll(data, []byte{byte(CompressionZstd)})
		if len(out) < len(data)+1 {
			return out
		}
	case CompressionLZ4:
		// lz4 blocks do not record their decompressed size
		buf := make([]byte, 1+binary.MaxVarintLen64+lz4.CompressBlockBound(len(data)))
		buf[0] = byte(CompressionLZ4)
		h := 1 + binary.PutUvarint(buf[1:], uint64(len(data)))
		n, err := lz4.CompressBlock(data, buf[h:], nil)
		if err == nil && n > 0 && h+n < len(data)+1 {
			return buf[:h+n]
		}
	}
	out := make([]byte, 1+len(data))
	out[0] = byte(CompressionNone)
	copy(out[1:], data)
	return out
}

// Decode returns the raw bytes of payload.
func (c *Codec) Decode(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, ErrBadPayload
	}
	body := payload[1:]
	switch Compression(payload[0]) {
	case CompressionNone:
		return append([]byte(nil), body...), nil
	case CompressionZstd:
		out, err := c.dec.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrBadPayload, err)
		}
		return out, nil
	case CompressionLZ4:
		return decodeLZ4(body)
	default:
		return nil, fmt.Errorf("%w: unknown tag %d", ErrBadPayload, payload[0])
	}
}

func decodeLZ4(body []byte) ([]byte, error) {
	size, n := binary.Uvarint(body)
	if n <= 0 || size > maxChunkLen {
		return nil, fmt.Errorf("%w: lz4 length header", ErrBadPayload)
	}
	out := make([]byte, size)
	m, err := lz4.UncompressBlock(body[n:], out)
	if err != nil || uint64(m) != size {
		return nil, fmt.Errorf("%w: lz4: decoded %d of %d bytes: %v", ErrBadPayload, m, size, err)
	}
	return out, nil
}

// Close releases the zstd workers.
func (c *Codec) Close() {
	c.enc.Close()
	c.dec.Close()
}
