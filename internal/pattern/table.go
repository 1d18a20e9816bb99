package pattern

import (
	"bytes"
	"fmt"
)

const defaultEntrySize = 3

// paletteKind is an indexed table of fixed-size entries. Its span comes from
// an entry count, a byte length, or a fixed size, and collapses to zero when
// the present flag is clear.
type paletteKind struct{}

func (paletteKind) Tag() string { return KindPalette }

func (paletteKind) Check(p *Params) error {
	if p.Entry < 0 {
		return fmt.Errorf("%w: negative entry size", ErrInvalidParams)
	}
	switch p.Rule {
	case "", RuleDirect, RulePow2:
	default:
		return fmt.Errorf("%w: palette rule %q", ErrInvalidParams, p.Rule)
	}
	if p.Rule != "" && p.Count == "" {
		return fmt.Errorf("%w: palette rule needs a count reference", ErrInvalidParams)
	}
	set := 0
	for _, ok := range []bool{p.Count != "", p.Length != "", p.Size > 0, p.Rest} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: exactly one of count, length, size, or rest required", ErrInvalidParams)
	}
	return nil
}

func entrySize(p *Params) int {
	if p.Entry > 0 {
		return p.Entry
	}
	return defaultEntrySize
}

func (paletteKind) Size(in Input) (int, error) {
	p := in.Params
	if p.Present != "" {
		flag, err := in.Ref(p.Present)
		if err != nil {
			return 0, err
		}
		if flag == 0 {
			return 0, nil
		}
	}
	if p.Count == "" {
		return span(in)
	}
	c, err := in.Ref(p.Count)
	if err != nil {
		return 0, err
	}
	if p.Rule == RulePow2 {
		if c > 30 {
			return 0, fmt.Errorf("%w: pow2 exponent %d", ErrOutOfRange, c)
		}
		c = 1 << (c + 1)
	}
	n := c * uint64(entrySize(p))
	if n > uint64(len(in.Rest)) {
		return 0, fmt.Errorf("%w: palette needs %d bytes, %d remaining", ErrTruncated, n, len(in.Rest))
	}
	return int(n), nil
}

func (paletteKind) Decode(in Input, raw []byte) (Value, error) {
	entry := entrySize(in.Params)
	if len(raw)%entry != 0 {
		return Value{}, fmt.Errorf("%w: %d bytes is not a multiple of entry size %d", ErrLengthMismatch, len(raw), entry)
	}
	entries := make([][]byte, 0, len(raw)/entry)
	for off := 0; off < len(raw); off += entry {
		entries = append(entries, raw[off:off+entry])
	}
	return Table(entries), nil
}

func (paletteKind) Encode(p *Params, v Value) ([]byte, error) {
	entry := entrySize(p)
	switch v.Type {
	case TypeTable:
		var buf bytes.Buffer
		for i, e := range v.Table {
			if len(e) != entry {
				return nil, fmt.Errorf("%w: entry %d has %d bytes, want %d", ErrLengthMismatch, i, len(e), entry)
			}
			buf.Write(e)
		}
		return buf.Bytes(), nil
	case TypeBytes:
		if len(v.Bytes)%entry != 0 {
			return nil, fmt.Errorf("%w: %d bytes is not a multiple of entry size %d", ErrLengthMismatch, len(v.Bytes), entry)
		}
		return bytes.Clone(v.Bytes), nil
	default:
		return nil, fmt.Errorf("%w: palette expects a table, got %s", ErrValueType, v.Type)
	}
}

// Resize inverts the count rule for a palette that now spans n bytes.
func (paletteKind) Resize(p *Params, n int) (uint64, error) {
	if p.Count == "" {
		return ResizeRef(nil, p, n)
	}
	entry := entrySize(p)
	if n%entry != 0 {
		return 0, fmt.Errorf("%w: %d bytes is not a multiple of entry size %d", ErrOutOfRange, n, entry)
	}
	c := uint64(n / entry)
	if p.Rule != RulePow2 {
		return c, nil
	}
	for exp := uint64(0); exp <= 30; exp++ {
		if 1<<(exp+1) == c {
			return exp, nil
		}
	}
	return 0, fmt.Errorf("%w: %d entries is not a power of two of at least 2", ErrOutOfRange, c)
}
