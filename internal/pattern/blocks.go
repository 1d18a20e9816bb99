package pattern

import (
	"bytes"
	"fmt"
)

const maxSubBlock = 255

// subBlocksKind is a run of [len][data] sub-blocks closed by a zero-length
// block. Its span is found by scanning forward to the zero marker.
type subBlocksKind struct{}

func (subBlocksKind) Tag() string { return KindSubBlocks }

func (subBlocksKind) Size(in Input) (int, error) {
	rest := in.Rest
	i := 0
	for {
		if i >= len(rest) {
			return 0, fmt.Errorf("%w: sub-block run has no zero-length block", ErrMissingTerminator)
		}
		n := int(rest[i])
		i++
		if n == 0 {
			return i, nil
		}
		i += n
		if i > len(rest) {
			return 0, fmt.Errorf("%w: sub-block of %d bytes, %d remaining", ErrTruncated, n, len(rest)-(i-n))
		}
	}
}

func (subBlocksKind) Decode(_ Input, raw []byte) (Value, error) {
	var entries [][]byte
	for i := 0; i < len(raw); {
		n := int(raw[i])
		i++
		if n == 0 {
			if i != len(raw) {
				return Value{}, fmt.Errorf("%w: data after zero-length block", ErrLengthMismatch)
			}
			return Table(entries), nil
		}
		if i+n > len(raw) {
			return Value{}, fmt.Errorf("%w: sub-block of %d bytes", ErrTruncated, n)
		}
		entries = append(entries, raw[i:i+n])
		i += n
	}
	return Value{}, fmt.Errorf("%w: sub-block run has no zero-length block", ErrMissingTerminator)
}

// Encode writes table entries as sub-blocks. A bytes value is split into
// maximal sub-blocks.
func (subBlocksKind) Encode(_ *Params, v Value) ([]byte, error) {
	var entries [][]byte
	switch v.Type {
	case TypeTable:
		entries = v.Table
	case TypeBytes:
		for b := v.Bytes; len(b) > 0; {
			n := min(len(b), maxSubBlock)
			entries = append(entries, b[:n])
			b = b[n:]
		}
	default:
		return nil, fmt.Errorf("%w: subblocks expects a table, got %s", ErrValueType, v.Type)
	}
	var buf bytes.Buffer
	for i, e := range entries {
		if len(e) == 0 || len(e) > maxSubBlock {
			return nil, fmt.Errorf("%w: sub-block %d has %d bytes", ErrOutOfRange, i, len(e))
		}
		buf.WriteByte(byte(len(e)))
		buf.Write(e)
	}
	buf.WriteByte(0)
	return buf.Bytes(), nil
}

// prefixedKind is a payload preceded by its own length.
type prefixedKind struct{}

func (prefixedKind) Tag() string { return KindPrefixed }

func (prefixedKind) Check(p *Params) error {
	if p.Prefix < 1 || p.Prefix > 8 {
		return fmt.Errorf("%w: length prefix %d not in 1..8", ErrInvalidParams, p.Prefix)
	}
	return p.checkEndian()
}

func (prefixedKind) Size(in Input) (int, error) {
	p := in.Params
	if len(in.Rest) < p.Prefix {
		return 0, fmt.Errorf("%w: length prefix needs %d bytes, %d remaining", ErrTruncated, p.Prefix, len(in.Rest))
	}
	n := getUint(p.order(), in.Rest[:p.Prefix])
	if n > uint64(len(in.Rest)-p.Prefix) {
		return 0, fmt.Errorf("%w: block declares %d bytes, %d remaining", ErrTruncated, n, len(in.Rest)-p.Prefix)
	}
	return p.Prefix + int(n), nil
}

func (prefixedKind) Decode(in Input, raw []byte) (Value, error) {
	return Bytes(raw[in.Params.Prefix:]), nil
}

func (prefixedKind) Encode(p *Params, v Value) ([]byte, error) {
	b, ok := v.Literal()
	if !ok {
		return nil, fmt.Errorf("%w: prefixed expects text or bytes, got %s", ErrValueType, v.Type)
	}
	if !fits(uint64(len(b)), p.Prefix*8) {
		return nil, fmt.Errorf("%w: %d bytes overflow a %d-byte prefix", ErrOutOfRange, len(b), p.Prefix)
	}
	out := make([]byte, p.Prefix, p.Prefix+len(b))
	putUint(p.order(), out, uint64(len(b)))
	return append(out, b...), nil
}
