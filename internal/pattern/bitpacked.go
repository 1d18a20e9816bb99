package pattern

import "fmt"

// bitPackedKind decodes a fixed descriptor of named bit fields. Fields are
// read most significant bit first; a byte-aligned field wider than one byte
// is read as a whole integer in the configured byte order.
type bitPackedKind struct{}

func (bitPackedKind) Tag() string { return KindBitPacked }

func (bitPackedKind) Check(p *Params) error {
	if len(p.Fields) == 0 {
		return fmt.Errorf("%w: bitpacked requires fields", ErrInvalidParams)
	}
	seen := make(map[string]struct{}, len(p.Fields))
	total := 0
	for _, f := range p.Fields {
		if f.Name == "" {
			return fmt.Errorf("%w: bit field without name", ErrInvalidParams)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("%w: duplicate bit field %q", ErrInvalidParams, f.Name)
		}
		seen[f.Name] = struct{}{}
		if f.Bits < 1 || f.Bits > 64 {
			return fmt.Errorf("%w: bit field %q width %d not in 1..64", ErrInvalidParams, f.Name, f.Bits)
		}
		total += f.Bits
	}
	if total%8 != 0 {
		return fmt.Errorf("%w: bit fields total %d bits, not a whole number of bytes", ErrInvalidParams, total)
	}
	return p.checkEndian()
}

func (bitPackedKind) Size(in Input) (int, error) {
	total := 0
	for _, f := range in.Params.Fields {
		total += f.Bits
	}
	return total / 8, nil
}

func (bitPackedKind) Decode(in Input, raw []byte) (Value, error) {
	p := in.Params
	fields := make([]FieldValue, 0, len(p.Fields))
	off := 0
	for _, f := range p.Fields {
		fields = append(fields, FieldValue{Name: f.Name, Value: readField(p.order(), raw, off, f.Bits)})
		off += f.Bits
	}
	return Fields(fields...), nil
}

func (bitPackedKind) Encode(p *Params, v Value) ([]byte, error) {
	if v.Type != TypeFields {
		return nil, fmt.Errorf("%w: bitpacked expects fields, got %s", ErrValueType, v.Type)
	}
	total := 0
	for _, f := range p.Fields {
		total += f.Bits
	}
	out := make([]byte, total/8)
	off := 0
	for _, f := range p.Fields {
		n, ok := v.Field(f.Name)
		if !ok {
			return nil, fmt.Errorf("%w: missing bit field %q", ErrValueType, f.Name)
		}
		if !fits(n, f.Bits) {
			return nil, fmt.Errorf("%w: %s=%d does not fit in %d bits", ErrOutOfRange, f.Name, n, f.Bits)
		}
		writeField(p.order(), out, off, f.Bits, n)
		off += f.Bits
	}
	return out, nil
}

func wholeBytes(off, bits int) bool {
	return off%8 == 0 && bits%8 == 0 && bits > 8
}

func readField(order Endian, b []byte, off, bits int) uint64 {
	if wholeBytes(off, bits) {
		return getUint(order, b[off/8:(off+bits)/8])
	}
	var v uint64
	for i := 0; i < bits; i++ {
		bit := off + i
		v = v<<1 | uint64(b[bit/8]>>(7-bit%8)&1)
	}
	return v
}

func writeField(order Endian, b []byte, off, bits int, v uint64) {
	if wholeBytes(off, bits) {
		putUint(order, b[off/8:(off+bits)/8], v)
		return
	}
	for i := 0; i < bits; i++ {
		bit := off + i
		if v>>uint(bits-1-i)&1 == 1 {
			b[bit/8] |= 1 << uint(7-bit%8)
		}
	}
}
