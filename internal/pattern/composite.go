package pattern

import "fmt"

const defaultPeek = 1

// groupKind is a plain composite. It is sized by a length reference or fixed
// size when given, otherwise by its children.
type groupKind struct{}

func (groupKind) Tag() string { return KindGroup }

func (groupKind) RequiresChildren() bool { return true }

func (groupKind) Check(p *Params) error {
	return checkCompositeSpan(p)
}

func (groupKind) Size(in Input) (int, error) {
	return compositeSpan(in)
}

// switchKind dispatches to one of several sub-grammars on a referenced value
// or on bytes peeked at the cursor.
type switchKind struct{}

func (switchKind) Tag() string { return KindSwitch }

func (switchKind) RequiresChildren() bool { return true }

func (switchKind) Check(p *Params) error {
	if p.Peek < 0 || p.Peek > 8 {
		return fmt.Errorf("%w: peek %d not in 0..8", ErrInvalidParams, p.Peek)
	}
	if p.On != "" && p.Peek > 0 {
		return fmt.Errorf("%w: switch takes on or peek, not both", ErrInvalidParams)
	}
	return checkCompositeSpan(p)
}

func (switchKind) Size(in Input) (int, error) {
	return compositeSpan(in)
}

func (switchKind) Select(in Input) (Value, error) {
	p := in.Params
	if p.On != "" {
		if in.Scope == nil {
			return Value{}, fmt.Errorf("%w: %s", ErrUnknownRef, p.On)
		}
		v, ok := in.Scope.Lookup(p.On)
		if !ok {
			return Value{}, fmt.Errorf("%w: %s", ErrUnknownRef, p.On)
		}
		return v, nil
	}
	peek := defaultPeek
	if p.Peek > 0 {
		peek = p.Peek
	}
	if len(in.Rest) < peek {
		return Value{}, fmt.Errorf("%w: switch peeks %d bytes, %d remaining", ErrTruncated, peek, len(in.Rest))
	}
	return Uint(getUint(BigEndian, in.Rest[:peek])), nil
}

func checkCompositeSpan(p *Params) error {
	if p.Length == "" && p.Size == 0 && !p.Rest {
		return nil
	}
	return checkSpan(p)
}

func compositeSpan(in Input) (int, error) {
	p := in.Params
	if p.Length == "" && p.Size == 0 && !p.Rest {
		return Open, nil
	}
	return span(in)
}
