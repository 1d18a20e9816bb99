package pattern

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// ValueType tags the populated part of a Value.
type ValueType string

const (
	TypeNone   ValueType = ""
	TypeUint   ValueType = "uint"
	TypeText   ValueType = "text"
	TypeBytes  ValueType = "bytes"
	TypeFields ValueType = "fields"
	TypeTable  ValueType = "table"
)

// FieldValue is one named unsigned field of a composite value.
type FieldValue struct {
	Name  string `json:"name" yaml:"name"`
	Value uint64 `json:"value" yaml:"value"`
}

// Value is a decoded pattern value. Type names the primary payload; the
// checksum chunk kind also fills Text and Bytes alongside its Fields.
type Value struct {
	Type   ValueType    `json:"type,omitempty" yaml:"type,omitempty"`
	Uint   uint64       `json:"uint,omitempty" yaml:"uint,omitempty"`
	Text   string       `json:"text,omitempty" yaml:"text,omitempty"`
	Bytes  []byte       `json:"bytes,omitempty" yaml:"bytes,omitempty"`
	Fields []FieldValue `json:"fields,omitempty" yaml:"fields,omitempty"`
	Table  [][]byte     `json:"table,omitempty" yaml:"table,omitempty"`
}

// Uint creates an unsigned scalar value.
func Uint(v uint64) Value {
	return Value{Type: TypeUint, Uint: v}
}

// Text creates a text value.
func Text(s string) Value {
	return Value{Type: TypeText, Text: s}
}

// Bytes creates a byte-string value holding a copy of b.
func Bytes(b []byte) Value {
	return Value{Type: TypeBytes, Bytes: bytes.Clone(b)}
}

// Fields creates an ordered field-set value.
func Fields(fields ...FieldValue) Value {
	out := make([]FieldValue, len(fields))
	copy(out, fields)
	return Value{Type: TypeFields, Fields: out}
}

// Table creates a table value holding copies of entries.
func Table(entries [][]byte) Value {
	out := make([][]byte, len(entries))
	for i, e := range entries {
		out[i] = bytes.Clone(e)
	}
	return Value{Type: TypeTable, Table: out}
}

// Field returns the named field of a field-set value.
func (v Value) Field(name string) (uint64, bool) {
	for _, f := range v.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return 0, false
}

// WithField returns a copy of v with the named field replaced.
func (v Value) WithField(name string, u uint64) (Value, bool) {
	out := v.Clone()
	for i := range out.Fields {
		if out.Fields[i].Name == name {
			out.Fields[i].Value = u
			return out, true
		}
	}
	return v, false
}

// Number interprets v as an unsigned quantity for length and flag references.
func (v Value) Number() (uint64, bool) {
	switch v.Type {
	case TypeUint:
		return v.Uint, true
	case TypeText:
		n, err := strconv.ParseUint(strings.TrimSpace(v.Text), 0, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// Literal returns the raw bytes of a text or bytes value.
func (v Value) Literal() ([]byte, bool) {
	switch v.Type {
	case TypeText:
		return []byte(v.Text), true
	case TypeBytes:
		return v.Bytes, true
	default:
		return nil, false
	}
}

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	out := v
	if v.Bytes != nil {
		out.Bytes = bytes.Clone(v.Bytes)
	}
	if v.Fields != nil {
		out.Fields = make([]FieldValue, len(v.Fields))
		copy(out.Fields, v.Fields)
	}
	if v.Table != nil {
		out.Table = make([][]byte, len(v.Table))
		for i, e := range v.Table {
			out.Table[i] = bytes.Clone(e)
		}
	}
	return out
}

// String renders a short human-readable summary.
func (v Value) String() string {
	switch v.Type {
	case TypeUint:
		return fmt.Sprintf("%d (0x%x)", v.Uint, v.Uint)
	case TypeText:
		return strconv.Quote(v.Text)
	case TypeBytes:
		return shortHex(v.Bytes)
	case TypeFields:
		parts := make([]string, 0, len(v.Fields)+1)
		if v.Text != "" {
			parts = append(parts, strconv.Quote(v.Text))
		}
		for _, f := range v.Fields {
			parts = append(parts, fmt.Sprintf("%s=%d", f.Name, f.Value))
		}
		return strings.Join(parts, " ")
	case TypeTable:
		return fmt.Sprintf("%d entries", len(v.Table))
	default:
		return ""
	}
}

func shortHex(b []byte) string {
	const max = 16
	if len(b) <= max {
		return hex.EncodeToString(b)
	}
	return fmt.Sprintf("%s... (%d bytes)", hex.EncodeToString(b[:max]), len(b))
}
