package pattern

import (
	"fmt"
	"sort"
	"sync"
)

// Registry stores pattern kinds by tag. It is safe for concurrent reads once
// registration is finished.
type Registry struct {
	items map[string]Kind
}

// NewRegistry creates an empty kind registry.
func NewRegistry() *Registry {
	return &Registry{items: make(map[string]Kind)}
}

var defaultRegistry = sync.OnceValue(func() *Registry {
	r := NewRegistry()
	if err := RegisterBuiltins(r); err != nil {
		panic(err)
	}
	return r
})

// Default returns the shared registry of built-in kinds. Callers must not
// register into it; build a private registry with NewRegistry instead.
func Default() *Registry {
	return defaultRegistry()
}

// Register adds a kind to the registry.
func (r *Registry) Register(k Kind) error {
	if k == nil {
		return ErrKindNil
	}
	tag := k.Tag()
	if !isValidTag(tag) {
		return fmt.Errorf("%w: %q", ErrInvalidTag, tag)
	}
	if _, ok := r.items[tag]; ok {
		return fmt.Errorf("%w: %s", ErrKindExists, tag)
	}
	r.items[tag] = k
	return nil
}

// Resolve returns a kind by tag.
func (r *Registry) Resolve(tag string) (Kind, bool) {
	k, ok := r.items[tag]
	return k, ok
}

// Tags returns registered tags in sorted order.
func (r *Registry) Tags() []string {
	tags := make([]string, 0, len(r.items))
	for tag := range r.items {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// LengthOf resolves the span of tag at the cursor. It returns Open when the
// pattern's children decide its length.
func (r *Registry) LengthOf(tag string, in Input) (int, error) {
	k, err := r.lookup(tag)
	if err != nil {
		return 0, err
	}
	s, ok := k.(Sizer)
	if !ok {
		return 0, fmt.Errorf("%w: %s has no length rule", ErrUnsupported, tag)
	}
	n, err := s.Size(in)
	if err != nil {
		return 0, err
	}
	if n == Open {
		return Open, nil
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: negative length %d", ErrOutOfRange, n)
	}
	if n > len(in.Rest) {
		return 0, fmt.Errorf("%w: need %d bytes, %d remaining", ErrTruncated, n, len(in.Rest))
	}
	return n, nil
}

// Decode sizes and decodes one leaf pattern at the cursor, returning the value
// and the number of bytes consumed.
func (r *Registry) Decode(tag string, in Input) (Value, int, error) {
	n, err := r.LengthOf(tag, in)
	if err != nil {
		return Value{}, 0, err
	}
	if n == Open {
		return Value{}, 0, fmt.Errorf("%w: %s is sized by its children", ErrUnsupported, tag)
	}
	k, _ := r.Resolve(tag)
	raw := in.Rest[:n]
	d, ok := k.(Decoder)
	if !ok {
		return Bytes(raw), n, nil
	}
	v, err := d.Decode(in, raw)
	if err != nil {
		return Value{}, 0, err
	}
	return v, n, nil
}

// Encode maps v back to raw bytes using the kind's encoder.
func (r *Registry) Encode(tag string, p *Params, v Value) ([]byte, error) {
	k, err := r.lookup(tag)
	if err != nil {
		return nil, err
	}
	e, ok := k.(Encoder)
	if !ok {
		return nil, fmt.Errorf("%w: %s cannot encode", ErrUnsupported, tag)
	}
	if p == nil {
		p = &Params{}
	}
	return e.Encode(p, v)
}

func (r *Registry) lookup(tag string) (Kind, error) {
	k, ok := r.items[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, tag)
	}
	return k, nil
}

func isValidTag(tag string) bool {
	if tag == "" {
		return false
	}
	for i := 0; i < len(tag); i++ {
		c := tag[i]
		isLower := c >= 'a' && c <= 'z'
		isDigit := c >= '0' && c <= '9'
		if !(isLower || isDigit || c == '_') {
			return false
		}
		if i == 0 && !isLower {
			return false
		}
	}
	return true
}
