package pattern

import "fmt"

// Open is the size reported by kinds whose span is decided by their children.
const Open = -1

// Built-in kind tags.
const (
	KindMagic         = "magic"
	KindUint          = "uint"
	KindText          = "text"
	KindBytes         = "bytes"
	KindPadding       = "padding"
	KindPrefixed      = "prefixed"
	KindBitPacked     = "bitpacked"
	KindPalette       = "palette"
	KindChecksumChunk = "checksum_chunk"
	KindCRC32         = "crc32"
	KindSubBlocks     = "subblocks"
	KindTerminator    = "terminator"
	KindGroup         = "group"
	KindSwitch        = "switch"
)

// Context exposes previously decoded values of the current scope and its
// ancestors. It is read-only.
type Context interface {
	Lookup(ref string) (Value, bool)
	Raw(ref string) ([]byte, bool)
}

// Input is what a kind sees at the cursor.
type Input struct {
	Params *Params
	// Rest holds the bytes from the cursor to the end of the enclosing region.
	Rest []byte
	// Pos is the cursor relative to the start of the enclosing scope.
	Pos int
	// Offset is the absolute cursor in the input buffer.
	Offset int
	Scope  Context
}

// Ref resolves a numeric reference through the scope.
func (in Input) Ref(ref string) (uint64, error) {
	if in.Scope == nil {
		return 0, fmt.Errorf("%w: %s", ErrUnknownRef, ref)
	}
	v, ok := in.Scope.Lookup(ref)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownRef, ref)
	}
	n, ok := v.Number()
	if !ok {
		return 0, fmt.Errorf("%w: %s is %s, not a number", ErrValueType, ref, v.Type)
	}
	return n, nil
}

// Kind is a registry entry. Everything beyond the tag is an optional
// capability discovered by type assertion.
type Kind interface {
	Tag() string
}

// Sizer resolves how many bytes the pattern occupies at the cursor, or Open.
type Sizer interface {
	Size(in Input) (int, error)
}

// Decoder maps the pattern's raw span to a value.
type Decoder interface {
	Decode(in Input, raw []byte) (Value, error)
}

// Encoder maps a value back to raw bytes.
type Encoder interface {
	Encode(p *Params, v Value) ([]byte, error)
}

// Matcher reports whether rest begins with the pattern. Terminators use it.
type Matcher interface {
	Match(p *Params, rest []byte) bool
}

// Resizer returns the value the size reference must hold for the pattern to
// occupy n bytes.
type Resizer interface {
	Resize(p *Params, n int) (uint64, error)
}

// Deriver recomputes a value from the bytes of the fields it covers.
type Deriver interface {
	Derive(p *Params, covered [][]byte) (Value, error)
}

// Selector produces the value a switch dispatches on.
type Selector interface {
	Select(in Input) (Value, error)
}

// Checker validates params when a grammar is built.
type Checker interface {
	Check(p *Params) error
}

// Composite marks kinds that may carry a sub-grammar.
type Composite interface {
	RequiresChildren() bool
}

// Aligner marks padding kinds. Pad reports the fill length needed at pos when
// the pattern aligns to a boundary.
type Aligner interface {
	Pad(p *Params, pos int) (int, bool)
}

// ResizeRef computes the new value of a size reference for a pattern that
// now spans n bytes. Kinds without a Resizer fall back to n - adjust.
func ResizeRef(k Kind, p *Params, n int) (uint64, error) {
	if r, ok := k.(Resizer); ok {
		return r.Resize(p, n)
	}
	if p == nil || p.Length == "" {
		return 0, fmt.Errorf("%w: resize without a length reference", ErrUnsupported)
	}
	v := n - p.Adjust
	if v < 0 {
		return 0, fmt.Errorf("%w: length %d below adjust %d", ErrOutOfRange, n, p.Adjust)
	}
	return uint64(v), nil
}

// span sizes kinds that take a fixed size, a referenced length, or the rest
// of the region.
func span(in Input) (int, error) {
	p := in.Params
	switch {
	case p.Length != "":
		n, err := in.Ref(p.Length)
		if err != nil {
			return 0, err
		}
		total := int(n) + p.Adjust
		if n > uint64(len(in.Rest))+uint64(max(0, -p.Adjust)) || total < 0 {
			return 0, fmt.Errorf("%w: %s=%d leaves %d bytes, %d remaining", ErrTruncated, p.Length, n, total, len(in.Rest))
		}
		return total, nil
	case p.Rest:
		return len(in.Rest), nil
	default:
		return p.Size, nil
	}
}

func checkSpan(p *Params) error {
	set := 0
	if p.Length != "" {
		set++
	}
	if p.Rest {
		set++
	}
	if p.Size > 0 {
		set++
	}
	if set != 1 {
		return fmt.Errorf("%w: exactly one of size, length, or rest required", ErrInvalidParams)
	}
	return nil
}
