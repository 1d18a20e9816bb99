package tree

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/binform/internal/pattern"
)

var (
	ErrNotFound = errors.New("tree: node not found")
	ErrNotLeaf  = errors.New("tree: node is not a leaf")
	ErrCoverage = errors.New("tree: coverage violation")
)

const (
	KindRoot   = "root"
	KindRepeat = "repeat"
)

// Link points at the field that supplied a node's length. Field names a
// sub-field of a bit-packed or chunk value and is empty for scalars.
type Link struct {
	Path  string `json:"path"`
	Field string `json:"field,omitempty"`
}

// Node is one decomposed fragment. Leaves own their raw bytes; composites
// own their children, whose spans concatenate to the composite's span.
type Node struct {
	Name      string          `json:"name"`
	Path      string          `json:"path"`
	Kind      string          `json:"kind"`
	Params    *pattern.Params `json:"params,omitempty"`
	Offset    int             `json:"offset"`
	Length    int             `json:"length"`
	Raw       []byte          `json:"raw,omitempty"`
	Value     pattern.Value   `json:"value"`
	Children  []*Node         `json:"children,omitempty"`
	Composite bool            `json:"composite,omitempty"`
	Padding   bool            `json:"padding,omitempty"`
	SizeRef   *Link           `json:"size_ref,omitempty"`
	Covers    []string        `json:"covers,omitempty"`
	Edited    bool            `json:"edited,omitempty"`
}

// Tree is a decomposition rooted at a synthetic node spanning the input.
type Tree struct {
	Grammar string `json:"grammar"`
	Root    *Node  `json:"root"`
}

// JoinPath appends name to a dotted parent path.
func JoinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

// Bytes returns the node's span: its raw bytes for a leaf, the concatenation
// of its children otherwise.
func (n *Node) Bytes() []byte {
	if !n.Composite {
		return n.Raw
	}
	return n.AppendBytes(make([]byte, 0, n.Length))
}

// AppendBytes appends the node's span to dst.
func (n *Node) AppendBytes(dst []byte) []byte {
	if !n.Composite {
		return append(dst, n.Raw...)
	}
	for _, c := range n.Children {
		dst = c.AppendBytes(dst)
	}
	return dst
}

// Child returns the direct child with the given name.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (n *Node) clone() *Node {
	out := *n
	out.Raw = bytes.Clone(n.Raw)
	out.Value = n.Value.Clone()
	if n.SizeRef != nil {
		ref := *n.SizeRef
		out.SizeRef = &ref
	}
	out.Covers = append([]string(nil), n.Covers...)
	if n.Children != nil {
		out.Children = make([]*Node, len(n.Children))
		for i, c := range n.Children {
			out.Children[i] = c.clone()
		}
	}
	return &out
}

// Bytes concatenates every leaf in order.
func (t *Tree) Bytes() []byte {
	return t.Root.Bytes()
}

// Find returns the node at a dotted path. The empty path is the root.
func (t *Tree) Find(path string) (*Node, bool) {
	n := t.Root
	if path == "" {
		return n, n != nil
	}
	for _, seg := range strings.Split(path, ".") {
		if n = n.Child(seg); n == nil {
			return nil, false
		}
	}
	return n, true
}

// Walk visits nodes in pre-order. Returning an error stops the walk.
func (t *Tree) Walk(fn func(n *Node, depth int) error) error {
	return walk(t.Root, 0, fn)
}

func walk(n *Node, depth int, fn func(*Node, int) error) error {
	if err := fn(n, depth); err != nil {
		return err
	}
	for _, c := range n.Children {
		if err := walk(c, depth+1, fn); err != nil {
			return err
		}
	}
	return nil
}

// Leaves returns every leaf in order.
func (t *Tree) Leaves() []*Node {
	var out []*Node
	_ = t.Walk(func(n *Node, _ int) error {
		if !n.Composite {
			out = append(out, n)
		}
		return nil
	})
	return out
}

// Clone returns a deep copy. Params are shared; they belong to the grammar
// and are never mutated.
func (t *Tree) Clone() *Tree {
	return &Tree{Grammar: t.Grammar, Root: t.Root.clone()}
}

// Set replaces the value of the leaf at path and marks it edited.
func (t *Tree) Set(path string, v pattern.Value) error {
	n, ok := t.Find(path)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if n.Composite {
		return fmt.Errorf("%w: %s", ErrNotLeaf, path)
	}
	n.Value = v.Clone()
	n.Edited = true
	return nil
}

// SetField replaces one field of a field-set leaf.
func (t *Tree) SetField(path, field string, u uint64) error {
	n, ok := t.Find(path)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	v, ok := n.Value.WithField(field, u)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrNotFound, path, field)
	}
	return t.Set(path, v)
}

// Edited reports whether any node was edited.
func (t *Tree) Edited() bool {
	found := errors.New("found")
	return t.Walk(func(n *Node, _ int) error {
		if n.Edited {
			return found
		}
		return nil
	}) != nil
}

// Check verifies that every composite is exactly covered by its children and
// that the root spans size bytes.
func (t *Tree) Check(size int) error {
	if t.Root.Offset != 0 || t.Root.Length != size {
		return fmt.Errorf("%w: root spans @%d+%d, input has %d bytes", ErrCoverage, t.Root.Offset, t.Root.Length, size)
	}
	return t.Walk(func(n *Node, _ int) error {
		if !n.Composite {
			if len(n.Raw) != n.Length {
				return fmt.Errorf("%w: %s holds %d bytes, spans %d", ErrCoverage, n.Path, len(n.Raw), n.Length)
			}
			return nil
		}
		next := n.Offset
		for _, c := range n.Children {
			if c.Offset != next {
				return fmt.Errorf("%w: %s starts @%d, expected @%d", ErrCoverage, c.Path, c.Offset, next)
			}
			next += c.Length
		}
		if next != n.Offset+n.Length {
			return fmt.Errorf("%w: children of %q end @%d, node ends @%d", ErrCoverage, n.Path, next, n.Offset+n.Length)
		}
		return nil
	})
}

// Renumber recomputes every offset and composite length from leaf bytes.
func (t *Tree) Renumber() {
	renumber(t.Root, 0)
}

func renumber(n *Node, off int) int {
	n.Offset = off
	if !n.Composite {
		n.Length = len(n.Raw)
		return off + n.Length
	}
	end := off
	for _, c := range n.Children {
		end = renumber(c, end)
	}
	n.Length = end - off
	return end
}
