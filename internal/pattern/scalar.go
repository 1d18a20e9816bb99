package pattern

import (
	"bytes"
	"fmt"
)

type magicKind struct{}

func (magicKind) Tag() string { return KindMagic }

func (magicKind) Check(p *Params) error {
	lits, err := p.Literals()
	if err != nil {
		return err
	}
	for _, lit := range lits[1:] {
		if len(lit) != len(lits[0]) {
			return fmt.Errorf("%w: magic literals differ in length", ErrInvalidParams)
		}
	}
	return nil
}

func (magicKind) Size(in Input) (int, error) {
	lits, err := in.Params.Literals()
	if err != nil {
		return 0, err
	}
	return len(lits[0]), nil
}

func (magicKind) Decode(in Input, raw []byte) (Value, error) {
	if !matchLiteral(in.Params, raw, true) {
		return Value{}, fmt.Errorf("%w: got %x", ErrMagicMismatch, raw)
	}
	return literalValue(raw), nil
}

func (magicKind) Encode(p *Params, v Value) ([]byte, error) {
	b, ok := v.Literal()
	if !ok {
		return nil, fmt.Errorf("%w: magic expects text or bytes, got %s", ErrValueType, v.Type)
	}
	if !matchLiteral(p, b, true) {
		return nil, fmt.Errorf("%w: %x is not an accepted literal", ErrMagicMismatch, b)
	}
	return bytes.Clone(b), nil
}

func (magicKind) Match(p *Params, rest []byte) bool {
	return matchLiteral(p, rest, false)
}

// terminatorKind marks the end of a repeated pattern. Its span is the literal
// that matched at the cursor.
type terminatorKind struct{ magicKind }

func (terminatorKind) Tag() string { return KindTerminator }

func (terminatorKind) Check(p *Params) error {
	_, err := p.Literals()
	return err
}

func (terminatorKind) Size(in Input) (int, error) {
	lits, err := in.Params.Literals()
	if err != nil {
		return 0, err
	}
	for _, lit := range lits {
		if bytes.HasPrefix(in.Rest, lit) {
			return len(lit), nil
		}
	}
	return 0, fmt.Errorf("%w: terminator not present", ErrMagicMismatch)
}

func matchLiteral(p *Params, b []byte, exact bool) bool {
	lits, err := p.Literals()
	if err != nil {
		return false
	}
	for _, lit := range lits {
		if exact && bytes.Equal(b, lit) {
			return true
		}
		if !exact && bytes.HasPrefix(b, lit) {
			return true
		}
	}
	return false
}

func literalValue(raw []byte) Value {
	for _, c := range raw {
		if c < 0x20 || c > 0x7e {
			return Bytes(raw)
		}
	}
	return Text(string(raw))
}

type uintKind struct{}

func (uintKind) Tag() string { return KindUint }

func (uintKind) Check(p *Params) error {
	if p.Size < 1 || p.Size > 8 {
		return fmt.Errorf("%w: uint size %d not in 1..8", ErrInvalidParams, p.Size)
	}
	return p.checkEndian()
}

func (uintKind) Size(in Input) (int, error) {
	return in.Params.Size, nil
}

func (uintKind) Decode(in Input, raw []byte) (Value, error) {
	return Uint(getUint(in.Params.order(), raw)), nil
}

func (uintKind) Encode(p *Params, v Value) ([]byte, error) {
	n, ok := v.Number()
	if !ok {
		return nil, fmt.Errorf("%w: uint expects a number, got %s", ErrValueType, v.Type)
	}
	if !fits(n, p.Size*8) {
		return nil, fmt.Errorf("%w: %d does not fit in %d bytes", ErrOutOfRange, n, p.Size)
	}
	out := make([]byte, p.Size)
	putUint(p.order(), out, n)
	return out, nil
}

type textKind struct{}

func (textKind) Tag() string { return KindText }
func (textKind) Check(p *Params) error { return checkSpan(p) }
func (textKind) Size(in Input) (int, error) { return span(in) }

func (textKind) Decode(_ Input, raw []byte) (Value, error) {
	return Text(string(raw)), nil
}

func (textKind) Encode(p *Params, v Value) ([]byte, error) {
	return encodeSpan(p, v)
}

type bytesKind struct{}

func (bytesKind) Tag() string { return KindBytes }
func (bytesKind) Check(p *Params) error { return checkSpan(p) }
func (bytesKind) Size(in Input) (int, error) { return span(in) }

func (bytesKind) Decode(_ Input, raw []byte) (Value, error) {
	return Bytes(raw), nil
}

func (bytesKind) Encode(p *Params, v Value) ([]byte, error) {
	return encodeSpan(p, v)
}

type paddingKind struct{}

func (paddingKind) Tag() string { return KindPadding }

func (paddingKind) Check(p *Params) error {
	if p.Align < 0 {
		return fmt.Errorf("%w: negative align", ErrInvalidParams)
	}
	if p.Align > 0 {
		return nil
	}
	return checkSpan(p)
}

func (k paddingKind) Size(in Input) (int, error) {
	if n, ok := k.Pad(in.Params, in.Pos); ok {
		// a final unpadded record is tolerated at the end of a region
		return min(n, len(in.Rest)), nil
	}
	return span(in)
}

func (paddingKind) Pad(p *Params, pos int) (int, bool) {
	if p == nil || p.Align <= 0 {
		return 0, false
	}
	return (p.Align - pos%p.Align) % p.Align, true
}

func (paddingKind) Decode(_ Input, raw []byte) (Value, error) {
	return Bytes(raw), nil
}

func (paddingKind) Encode(p *Params, v Value) ([]byte, error) {
	b, ok := v.Literal()
	if !ok {
		return nil, fmt.Errorf("%w: padding expects bytes, got %s", ErrValueType, v.Type)
	}
	return bytes.Clone(b), nil
}

func encodeSpan(p *Params, v Value) ([]byte, error) {
	b, ok := v.Literal()
	if !ok {
		return nil, fmt.Errorf("%w: expected text or bytes, got %s", ErrValueType, v.Type)
	}
	if p.Size > 0 && p.Length == "" && !p.Rest && len(b) != p.Size {
		return nil, fmt.Errorf("%w: fixed size %d, got %d bytes", ErrLengthMismatch, p.Size, len(b))
	}
	return bytes.Clone(b), nil
}
