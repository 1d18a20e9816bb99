package pattern

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Endian selects the byte order of multi-byte integers.
type Endian string

const (
	BigEndian    Endian = "big"
	LittleEndian Endian = "little"
)

// BitField is one named run of bits inside a bit-packed descriptor.
type BitField struct {
	Name string `toml:"name" yaml:"name" json:"name"`
	Bits int    `toml:"bits" yaml:"bits" json:"bits"`
}

// Params is the parameter set a grammar attaches to one pattern. Each kind
// reads the subset it understands; unused fields stay zero.
type Params struct {
	Size    int        `toml:"size" yaml:"size,omitempty" json:"size,omitempty"`
	Endian  Endian     `toml:"endian" yaml:"endian,omitempty" json:"endian,omitempty"`
	Value   string     `toml:"value" yaml:"value,omitempty" json:"value,omitempty"`
	Values  []string   `toml:"values" yaml:"values,omitempty" json:"values,omitempty"`
	Hex     string     `toml:"hex" yaml:"hex,omitempty" json:"hex,omitempty"`
	Length  string     `toml:"length" yaml:"length,omitempty" json:"length,omitempty"`
	Adjust  int        `toml:"adjust" yaml:"adjust,omitempty" json:"adjust,omitempty"`
	Count   string     `toml:"count" yaml:"count,omitempty" json:"count,omitempty"`
	Rule    string     `toml:"rule" yaml:"rule,omitempty" json:"rule,omitempty"`
	Present string     `toml:"present" yaml:"present,omitempty" json:"present,omitempty"`
	Entry   int        `toml:"entry" yaml:"entry,omitempty" json:"entry,omitempty"`
	Prefix  int        `toml:"prefix" yaml:"prefix,omitempty" json:"prefix,omitempty"`
	TagSize int        `toml:"tag_size" yaml:"tag_size,omitempty" json:"tag_size,omitempty"`
	Fields  []BitField `toml:"fields" yaml:"fields,omitempty" json:"fields,omitempty"`
	Covers  []string   `toml:"covers" yaml:"covers,omitempty" json:"covers,omitempty"`
	Peek    int        `toml:"peek" yaml:"peek,omitempty" json:"peek,omitempty"`
	On      string     `toml:"on" yaml:"on,omitempty" json:"on,omitempty"`
	Align   int        `toml:"align" yaml:"align,omitempty" json:"align,omitempty"`
	Rest    bool       `toml:"rest" yaml:"rest,omitempty" json:"rest,omitempty"`
}

// Count rules understood by the palette kind.
const (
	RuleDirect = "direct"
	RulePow2   = "pow2"
)

// SizeRef returns the reference whose value determined the pattern's length.
func (p *Params) SizeRef() string {
	if p == nil {
		return ""
	}
	if p.Length != "" {
		return p.Length
	}
	return p.Count
}

// Refs lists every context reference the params read during decoding.
func (p *Params) Refs() []string {
	if p == nil {
		return nil
	}
	refs := make([]string, 0, 4+len(p.Covers))
	for _, ref := range []string{p.Length, p.Count, p.Present, p.On} {
		if ref != "" {
			refs = append(refs, ref)
		}
	}
	return append(refs, p.Covers...)
}

// Literals returns the accepted byte strings for magic and terminator kinds.
func (p *Params) Literals() ([][]byte, error) {
	out := make([][]byte, 0, 1+len(p.Values))
	if p.Value != "" {
		out = append(out, []byte(p.Value))
	}
	for _, v := range p.Values {
		out = append(out, []byte(v))
	}
	if p.Hex != "" {
		b, err := hex.DecodeString(strings.ReplaceAll(p.Hex, " ", ""))
		if err != nil {
			return nil, fmt.Errorf("%w: hex %q: %v", ErrInvalidParams, p.Hex, err)
		}
		out = append(out, b)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: value, values, or hex required", ErrInvalidParams)
	}
	return out, nil
}

func (p *Params) order() Endian {
	if p.Endian == LittleEndian {
		return LittleEndian
	}
	return BigEndian
}

func (p *Params) checkEndian() error {
	switch p.Endian {
	case "", BigEndian, LittleEndian:
		return nil
	default:
		return fmt.Errorf("%w: endian %q", ErrInvalidParams, p.Endian)
	}
}

func getUint(order Endian, b []byte) uint64 {
	var v uint64
	if order == LittleEndian {
		for i := len(b) - 1; i >= 0; i-- {
			v = v<<8 | uint64(b[i])
		}
		return v
	}
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func putUint(order Endian, b []byte, v uint64) {
	n := len(b)
	for i := 0; i < n; i++ {
		shift := uint(8 * i)
		if order == LittleEndian {
			b[i] = byte(v >> shift)
		} else {
			b[n-1-i] = byte(v >> shift)
		}
	}
}

func fits(v uint64, bits int) bool {
	if bits >= 64 {
		return true
	}
	return v < uint64(1)<<uint(bits)
}
