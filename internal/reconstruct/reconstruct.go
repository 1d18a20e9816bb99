package reconstruct

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/binform/internal/pattern"
	"github.com/danmuck/binform/internal/tree"
)

// ReconstructionError reports an edit that cannot be re-encoded. The tree it
// was applied to is left untouched.
type ReconstructionError struct {
	Pattern string
	Offset  int
	Err     error
}

func (e *ReconstructionError) Error() string {
	return fmt.Sprintf("reconstruct: pattern=%s offset=%d: %v", e.Pattern, e.Offset, e.Err)
}

func (e *ReconstructionError) Unwrap() error {
	return e.Err
}

// Reconstruct serializes t. An unedited tree is the concatenation of its leaf
// bytes; an edited tree is first passed through Apply.
func Reconstruct(t *tree.Tree, reg *pattern.Registry) ([]byte, error) {
	if !t.Edited() {
		return t.Bytes(), nil
	}
	out, err := Apply(t, reg)
	if err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// Apply re-encodes the edited leaves of a copy of t and cascades through the
// links recorded at decomposition: size references of nodes whose length
// changed, alignment padding in resized composites, checksums covering
// changed nodes, and decoders of changed composites. Offsets are renumbered
// and edit marks cleared on the returned tree.
func Apply(t *tree.Tree, reg *pattern.Registry) (*tree.Tree, error) {
	if reg == nil {
		reg = pattern.Default()
	}
	a := &applier{
		reg:     reg,
		tree:    t.Clone(),
		parents: make(map[*tree.Node]*tree.Node),
		covers:  make(map[string][]*tree.Node),
		changed: make(map[*tree.Node]bool),
	}
	if err := a.tree.Walk(func(n *tree.Node, _ int) error {
		if n.Params == nil && n.Kind != tree.KindRoot && n.Kind != tree.KindRepeat {
			return a.fail(n, fmt.Errorf("%w: %s node has no params", pattern.ErrInvalidParams, n.Kind))
		}
		for _, c := range n.Children {
			a.parents[c] = n
		}
		for _, p := range n.Covers {
			a.covers[p] = append(a.covers[p], n)
		}
		if n.Edited && !n.Composite {
			a.queue = append(a.queue, n)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	if err := a.run(); err != nil {
		return nil, err
	}
	a.tree.Renumber()
	_ = a.tree.Walk(func(n *tree.Node, _ int) error {
		n.Edited = false
		return nil
	})
	log.Debug().Str("grammar", a.tree.Grammar).Int("encoded", a.encoded).Int("changed", len(a.changed)).Msg("edits applied")
	return a.tree, nil
}

type applier struct {
	reg     *pattern.Registry
	tree    *tree.Tree
	parents map[*tree.Node]*tree.Node
	covers  map[string][]*tree.Node
	changed map[*tree.Node]bool
	queue   []*tree.Node
	encoded int
}

func (a *applier) fail(n *tree.Node, err error) error {
	var rerr *ReconstructionError
	if errors.As(err, &rerr) {
		return err
	}
	return &ReconstructionError{Pattern: n.Path, Offset: n.Offset, Err: err}
}

func (a *applier) run() error {
	for len(a.queue) > 0 {
		n := a.queue[0]
		a.queue = a.queue[1:]
		if err := a.reencode(n); err != nil {
			return err
		}
	}
	if err := a.rederive(); err != nil {
		return err
	}
	return a.revalidate()
}

func (a *applier) kind(n *tree.Node) (pattern.Kind, error) {
	k, ok := a.reg.Resolve(n.Kind)
	if !ok {
		return nil, a.fail(n, fmt.Errorf("%w: %s", pattern.ErrUnknownKind, n.Kind))
	}
	return k, nil
}

func (a *applier) mark(n *tree.Node) {
	for x := n; x != nil; x = a.parents[x] {
		a.changed[x] = true
	}
}

// reencode regenerates one leaf and settles the lengths of its ancestors.
func (a *applier) reencode(n *tree.Node) error {
	raw, err := a.reg.Encode(n.Kind, n.Params, n.Value)
	if err != nil {
		return a.fail(n, err)
	}
	a.encoded++
	before := n.Length
	n.Raw = raw
	n.Length = len(raw)
	a.mark(n)
	if n.Length != before {
		if err := a.resize(n); err != nil {
			return err
		}
	}
	for x := a.parents[n]; x != nil; x = a.parents[x] {
		before := x.Length
		a.realign(x)
		x.Length = 0
		for _, c := range x.Children {
			x.Length += c.Length
		}
		if x.Length == before {
			break
		}
		if err := a.resize(x); err != nil {
			return err
		}
	}
	return nil
}

// resize rewrites the size reference of n after its length changed and
// queues the source for re-encoding.
func (a *applier) resize(n *tree.Node) error {
	if n.SizeRef == nil {
		return nil
	}
	k, err := a.kind(n)
	if err != nil {
		return err
	}
	want, err := pattern.ResizeRef(k, n.Params, n.Length)
	if err != nil {
		return a.fail(n, err)
	}
	src, ok := a.tree.Find(n.SizeRef.Path)
	if !ok {
		return a.fail(n, fmt.Errorf("%w: size source %s", pattern.ErrUnknownRef, n.SizeRef.Path))
	}
	var next pattern.Value
	if f := n.SizeRef.Field; f != "" {
		if cur, _ := src.Value.Field(f); cur == want {
			return nil
		}
		if next, ok = src.Value.WithField(f, want); !ok {
			return a.fail(n, fmt.Errorf("%w: %s.%s", pattern.ErrUnknownRef, src.Path, f))
		}
	} else {
		if cur, ok := src.Value.Number(); ok && cur == want {
			return nil
		}
		next = pattern.Uint(want)
	}
	src.Value = next
	src.Edited = true
	a.queue = append(a.queue, src)
	return nil
}

// realign refits alignment padding inside x after a sibling moved.
func (a *applier) realign(x *tree.Node) {
	for i, c := range x.Children {
		if !c.Padding {
			continue
		}
		k, ok := a.reg.Resolve(c.Kind)
		if !ok {
			continue
		}
		al, ok := k.(pattern.Aligner)
		if !ok {
			continue
		}
		pad, ok := al.Pad(c.Params, a.relPos(x, i))
		if !ok || pad == c.Length {
			continue
		}
		c.Raw = make([]byte, pad)
		c.Value = pattern.Bytes(c.Raw)
		c.Length = pad
		a.mark(c)
	}
}

// relPos is the position of x.Children[i] relative to the start of the scope
// it was decoded in. Repeat containers do not open a scope.
func (a *applier) relPos(x *tree.Node, i int) int {
	pos := 0
	for _, c := range x.Children[:i] {
		pos += c.Length
	}
	if x.Kind != tree.KindRepeat {
		return pos
	}
	if p := a.parents[x]; p != nil {
		for _, s := range p.Children {
			if s == x {
				break
			}
			pos += s.Length
		}
	}
	return pos
}

func (a *applier) changedNodes() []*tree.Node {
	out := make([]*tree.Node, 0, len(a.changed))
	for n := range a.changed {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Path < out[j].Path
	})
	return out
}

// rederive recomputes checksums whose coverage includes a changed node until
// no checksum moves.
func (a *applier) rederive() error {
	for pass := 0; pass <= len(a.covers); pass++ {
		moved := false
		seen := make(map[*tree.Node]bool)
		for _, n := range a.changedNodes() {
			for _, cn := range a.covers[n.Path] {
				if seen[cn] {
					continue
				}
				seen[cn] = true
				ok, err := a.derive(cn)
				if err != nil {
					return err
				}
				moved = moved || ok
			}
		}
		if !moved {
			return nil
		}
	}
	return nil
}

func (a *applier) derive(n *tree.Node) (bool, error) {
	k, err := a.kind(n)
	if err != nil {
		return false, err
	}
	d, ok := k.(pattern.Deriver)
	if !ok {
		return false, a.fail(n, fmt.Errorf("%w: %s cannot derive", pattern.ErrUnsupported, n.Kind))
	}
	covered := make([][]byte, 0, len(n.Covers))
	for _, p := range n.Covers {
		src, ok := a.tree.Find(p)
		if !ok {
			return false, a.fail(n, fmt.Errorf("%w: %s", pattern.ErrUnknownRef, p))
		}
		covered = append(covered, src.Bytes())
	}
	v, err := d.Derive(n.Params, covered)
	if err != nil {
		return false, a.fail(n, err)
	}
	raw, err := a.reg.Encode(n.Kind, n.Params, v)
	if err != nil {
		return false, a.fail(n, err)
	}
	if len(raw) != n.Length {
		return false, a.fail(n, fmt.Errorf("%w: derived %d bytes over %d", pattern.ErrLengthMismatch, len(raw), n.Length))
	}
	if bytes.Equal(raw, n.Raw) {
		return false, nil
	}
	n.Raw = raw
	n.Value = v
	a.encoded++
	a.mark(n)
	return true, nil
}

// revalidate re-runs the decoder of every changed composite that has one,
// refreshing its value and catching an inconsistent rebuild.
func (a *applier) revalidate() error {
	for _, n := range a.changedNodes() {
		if !n.Composite {
			continue
		}
		k, ok := a.reg.Resolve(n.Kind)
		if !ok {
			continue
		}
		dec, ok := k.(pattern.Decoder)
		if !ok {
			continue
		}
		b := n.Bytes()
		v, err := dec.Decode(pattern.Input{Params: n.Params, Rest: b, Offset: n.Offset}, b)
		if err != nil {
			return a.fail(n, err)
		}
		n.Value = v
	}
	return nil
}
