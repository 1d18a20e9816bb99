package pattern

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

const (
	crcSize           = 4
	defaultPrefixSize = 4
	defaultTagSize    = 4
)

// Field names of a decoded checksum chunk.
const (
	ChunkLength = "length"
	ChunkCRC    = "crc"
)

// checksumChunkKind is a length-prefixed chunk {length, tag, payload, crc}
// whose trailing CRC-32 covers tag and payload. The decoded value carries the
// tag in Text and the payload in Bytes.
type checksumChunkKind struct{}

func (checksumChunkKind) Tag() string { return KindChecksumChunk }

func (checksumChunkKind) RequiresChildren() bool { return false }

func chunkLayout(p *Params) (prefix, tag int) {
	prefix, tag = defaultPrefixSize, defaultTagSize
	if p.Prefix > 0 {
		prefix = p.Prefix
	}
	if p.TagSize > 0 {
		tag = p.TagSize
	}
	return prefix, tag
}

func (checksumChunkKind) Check(p *Params) error {
	if p.Prefix < 0 || p.Prefix > 8 {
		return fmt.Errorf("%w: chunk prefix %d not in 1..8", ErrInvalidParams, p.Prefix)
	}
	if p.TagSize < 0 {
		return fmt.Errorf("%w: negative tag size", ErrInvalidParams)
	}
	return p.checkEndian()
}

func (checksumChunkKind) Size(in Input) (int, error) {
	prefix, tag := chunkLayout(in.Params)
	if len(in.Rest) < prefix {
		return 0, fmt.Errorf("%w: chunk length prefix needs %d bytes, %d remaining", ErrTruncated, prefix, len(in.Rest))
	}
	n := getUint(in.Params.order(), in.Rest[:prefix])
	total := uint64(prefix+tag+crcSize) + n
	if total > uint64(len(in.Rest)) {
		return 0, fmt.Errorf("%w: chunk declares %d payload bytes, %d remaining", ErrTruncated, n, len(in.Rest)-prefix-tag-crcSize)
	}
	return int(total), nil
}

func (checksumChunkKind) Decode(in Input, raw []byte) (Value, error) {
	prefix, tag := chunkLayout(in.Params)
	if len(raw) < prefix+tag+crcSize {
		return Value{}, fmt.Errorf("%w: chunk of %d bytes", ErrTruncated, len(raw))
	}
	body := raw[prefix : len(raw)-crcSize]
	stored := binary.BigEndian.Uint32(raw[len(raw)-crcSize:])
	if got := crc32.ChecksumIEEE(body); got != stored {
		return Value{}, fmt.Errorf("%w: stored %08x, computed %08x", ErrChecksumMismatch, stored, got)
	}
	v := Fields(
		FieldValue{Name: ChunkLength, Value: getUint(in.Params.order(), raw[:prefix])},
		FieldValue{Name: ChunkCRC, Value: uint64(stored)},
	)
	v.Text = string(body[:tag])
	v.Bytes = bytes.Clone(body[tag:])
	return v, nil
}

// Encode rebuilds the whole chunk, recomputing the length prefix and CRC.
func (checksumChunkKind) Encode(p *Params, v Value) ([]byte, error) {
	prefix, tag := chunkLayout(p)
	if len(v.Text) != tag {
		return nil, fmt.Errorf("%w: chunk tag %q is not %d bytes", ErrLengthMismatch, v.Text, tag)
	}
	if !fits(uint64(len(v.Bytes)), prefix*8) {
		return nil, fmt.Errorf("%w: payload of %d bytes overflows %d-byte length", ErrOutOfRange, len(v.Bytes), prefix)
	}
	out := make([]byte, prefix, prefix+tag+len(v.Bytes)+crcSize)
	putUint(p.order(), out, uint64(len(v.Bytes)))
	out = append(out, v.Text...)
	out = append(out, v.Bytes...)
	out = binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(out[prefix:]))
	return out, nil
}

// crc32Kind is a stored CRC-32 over the raw bytes of the fields it covers.
type crc32Kind struct{}

func (crc32Kind) Tag() string { return KindCRC32 }

func (crc32Kind) Check(p *Params) error {
	if len(p.Covers) == 0 {
		return fmt.Errorf("%w: crc32 requires covers", ErrInvalidParams)
	}
	if p.Size != 0 && p.Size != crcSize {
		return fmt.Errorf("%w: crc32 size must be 4", ErrInvalidParams)
	}
	return p.checkEndian()
}

func (crc32Kind) Size(Input) (int, error) { return crcSize, nil }

func (k crc32Kind) Decode(in Input, raw []byte) (Value, error) {
	stored := getUint(in.Params.order(), raw)
	covered := make([][]byte, 0, len(in.Params.Covers))
	for _, ref := range in.Params.Covers {
		if in.Scope == nil {
			return Value{}, fmt.Errorf("%w: %s", ErrUnknownRef, ref)
		}
		b, ok := in.Scope.Raw(ref)
		if !ok {
			return Value{}, fmt.Errorf("%w: %s", ErrUnknownRef, ref)
		}
		covered = append(covered, b)
	}
	want, err := k.Derive(in.Params, covered)
	if err != nil {
		return Value{}, err
	}
	if want.Uint != stored {
		return Value{}, fmt.Errorf("%w: stored %08x, computed %08x", ErrChecksumMismatch, stored, want.Uint)
	}
	return Uint(stored), nil
}

func (crc32Kind) Encode(p *Params, v Value) ([]byte, error) {
	n, ok := v.Number()
	if !ok {
		return nil, fmt.Errorf("%w: crc32 expects a number, got %s", ErrValueType, v.Type)
	}
	if !fits(n, 32) {
		return nil, fmt.Errorf("%w: %d does not fit in 32 bits", ErrOutOfRange, n)
	}
	out := make([]byte, crcSize)
	putUint(p.order(), out, n)
	return out, nil
}

func (crc32Kind) Derive(_ *Params, covered [][]byte) (Value, error) {
	h := crc32.NewIEEE()
	for _, b := range covered {
		h.Write(b)
	}
	return Uint(uint64(h.Sum32())), nil
}
