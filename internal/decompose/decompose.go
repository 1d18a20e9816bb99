package decompose

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/binform/internal/grammar"
	"github.com/danmuck/binform/internal/pattern"
	"github.com/danmuck/binform/internal/tree"
)

// TrailingName names the padding node that absorbs bytes after the last
// pattern when a grammar allows trailing data.
const TrailingName = "trailing"

// Limits bounds the work one decomposition may do.
type Limits struct {
	MaxInputBytes int
	MaxDepth      int
	MaxRepeat     int
}

// DefaultLimits returns conservative bounds for untrusted input.
func DefaultLimits() Limits {
	return Limits{
		MaxInputBytes: 256 << 20,
		MaxDepth:      64,
		MaxRepeat:     1 << 20,
	}
}

type options struct {
	limits Limits
}

type Option func(*options)

// WithLimits overrides DefaultLimits. Zero fields disable that bound.
func WithLimits(l Limits) Option {
	return func(o *options) {
		o.limits = l
	}
}

// ParseError reports the pattern path and absolute offset where
// decomposition stopped.
type ParseError struct {
	Pattern string
	Offset  int
	Err     error
}

func (e *ParseError) Error() string {
	name := e.Pattern
	if name == "" {
		name = "<root>"
	}
	return fmt.Sprintf("decompose: pattern=%s offset=%d: %v", name, e.Offset, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

type decomposer struct {
	reg    *pattern.Registry
	buf    []byte
	limits Limits
	nodes  int
}

// Decompose parses buf against g. It returns a tree covering every byte of
// buf, or a ParseError and no tree.
func Decompose(g *grammar.Grammar, buf []byte, opts ...Option) (*tree.Tree, error) {
	o := options{limits: DefaultLimits()}
	for _, opt := range opts {
		opt(&o)
	}
	if limit := o.limits.MaxInputBytes; limit > 0 && len(buf) > limit {
		return nil, &ParseError{Err: fmt.Errorf("%w: input of %d bytes exceeds %d", pattern.ErrLimit, len(buf), limit)}
	}
	magic := g.Magic()
	if !bytes.HasPrefix(buf, magic) {
		got := buf[:min(len(buf), len(magic))]
		return nil, &ParseError{Pattern: g.Specs()[0].Name, Err: fmt.Errorf("%w: %s expects %x, got %x", pattern.ErrMagicMismatch, g.Name(), magic, got)}
	}

	d := &decomposer{reg: g.Registry(), buf: buf, limits: o.limits}
	root := &tree.Node{Kind: tree.KindRoot, Composite: true}
	end, err := d.sequence(g.Specs(), newScope(nil), root, 0, len(buf), 0)
	if err != nil {
		log.Debug().Str("grammar", g.Name()).Err(err).Msg("decompose failed")
		return nil, err
	}
	if end < len(buf) {
		if !g.AllowTrailing() {
			return nil, &ParseError{Offset: end, Err: fmt.Errorf("%w: %d bytes after last pattern", pattern.ErrTrailingData, len(buf)-end)}
		}
		root.Children = append(root.Children, &tree.Node{
			Name:    TrailingName,
			Path:    TrailingName,
			Kind:    pattern.KindPadding,
			Params:  &pattern.Params{Rest: true},
			Offset:  end,
			Length:  len(buf) - end,
			Raw:     bytes.Clone(buf[end:]),
			Value:   pattern.Bytes(buf[end:]),
			Padding: true,
		})
	}
	root.Length = len(buf)
	log.Debug().Str("grammar", g.Name()).Int("bytes", len(buf)).Int("nodes", d.nodes).Msg("decomposed")
	return &tree.Tree{Grammar: g.Name(), Root: root}, nil
}

func fail(path string, off int, err error) error {
	var perr *ParseError
	if errors.As(err, &perr) {
		return err
	}
	return &ParseError{Pattern: path, Offset: off, Err: err}
}

// sequence decodes specs in order between start and end, appending nodes to
// parent and recording them in sc. It returns the cursor after the last spec.
func (d *decomposer) sequence(specs []grammar.Spec, sc *scope, parent *tree.Node, start, end, depth int) (int, error) {
	pos := start
	for i := range specs {
		s := &specs[i]
		var (
			n   *tree.Node
			err error
		)
		if s.Repeat {
			n, err = d.repeat(s, sc, parent.Path, pos, end, start, depth)
		} else {
			n, err = d.single(s, s.Name, sc, parent.Path, pos, end, start, depth)
		}
		if err != nil {
			return 0, err
		}
		parent.Children = append(parent.Children, n)
		sc.names[s.Name] = n
		pos += n.Length
	}
	return pos, nil
}

// single decodes one instance of s at pos. origin is the start of the
// enclosing scope, used for alignment.
func (d *decomposer) single(s *grammar.Spec, name string, sc *scope, parentPath string, pos, end, origin, depth int) (*tree.Node, error) {
	path := tree.JoinPath(parentPath, name)
	if max := d.limits.MaxDepth; max > 0 && depth > max {
		return nil, fail(path, pos, fmt.Errorf("%w: nesting deeper than %d", pattern.ErrLimit, max))
	}
	k, ok := d.reg.Resolve(s.Kind)
	if !ok {
		return nil, fail(path, pos, fmt.Errorf("%w: %s", pattern.ErrUnknownKind, s.Kind))
	}
	in := pattern.Input{Params: &s.Params, Rest: d.buf[pos:end], Pos: pos - origin, Offset: pos, Scope: sc}
	size, err := d.reg.LengthOf(s.Kind, in)
	if err != nil {
		return nil, fail(path, pos, err)
	}
	d.nodes++
	n := &tree.Node{Name: name, Path: path, Kind: s.Kind, Params: &s.Params, Offset: pos}
	if _, ok := k.(pattern.Aligner); ok {
		n.Padding = true
	}
	sc.link(n, s)
	dec, hasDecoder := k.(pattern.Decoder)

	if len(s.Children) == 0 && len(s.Cases) == 0 {
		if size == pattern.Open {
			return nil, fail(path, pos, fmt.Errorf("%w: %s is sized by children it does not have", pattern.ErrUnsupported, s.Kind))
		}
		raw := d.buf[pos : pos+size]
		n.Raw = bytes.Clone(raw)
		n.Length = size
		n.Value = pattern.Bytes(raw)
		if hasDecoder {
			if n.Value, err = dec.Decode(in, raw); err != nil {
				return nil, fail(path, pos, err)
			}
		}
		return n, nil
	}

	n.Composite = true
	regionEnd := end
	if size != pattern.Open {
		regionEnd = pos + size
		if hasDecoder {
			if n.Value, err = dec.Decode(in, d.buf[pos:regionEnd]); err != nil {
				return nil, fail(path, pos, err)
			}
		}
	}
	children := s.Children
	if sel, ok := k.(pattern.Selector); ok {
		v, err := sel.Select(in)
		if err != nil {
			return nil, fail(path, pos, err)
		}
		c, ok := s.Select(v)
		if !ok {
			return nil, fail(path, pos, fmt.Errorf("%w: %s", pattern.ErrNoCase, v))
		}
		children = c.Children
		n.Value = v
	}
	childEnd, err := d.sequence(children, newScope(sc), n, pos, regionEnd, depth+1)
	if err != nil {
		return nil, err
	}
	if size != pattern.Open && childEnd != regionEnd {
		return nil, fail(path, childEnd, fmt.Errorf("%w: children cover %d of %d bytes", pattern.ErrLengthMismatch, childEnd-pos, size))
	}
	n.Length = childEnd - pos
	if size == pattern.Open && hasDecoder {
		in.Rest = d.buf[pos:childEnd]
		if n.Value, err = dec.Decode(in, in.Rest); err != nil {
			return nil, fail(path, pos, err)
		}
	}
	return n, nil
}

// repeat decodes instances of s into a container node until the terminator
// matches at an instance boundary, the until condition holds, or, with
// until_end, the region is exhausted.
func (d *decomposer) repeat(s *grammar.Spec, sc *scope, parentPath string, pos, end, origin, depth int) (*tree.Node, error) {
	path := tree.JoinPath(parentPath, s.Name)
	c := &tree.Node{Name: s.Name, Path: path, Kind: tree.KindRepeat, Offset: pos, Composite: true}
	cur := pos
	var matcher pattern.Matcher
	if s.Terminator != nil {
		tk, ok := d.reg.Resolve(s.Terminator.Kind)
		if !ok {
			return nil, fail(path, pos, fmt.Errorf("%w: %s", pattern.ErrUnknownKind, s.Terminator.Kind))
		}
		matcher, _ = tk.(pattern.Matcher)
	}
	for i := 0; ; i++ {
		if matcher != nil && matcher.Match(&s.Terminator.Params, d.buf[cur:end]) {
			t, err := d.single(s.Terminator, s.Terminator.Name, sc, path, cur, end, origin, depth+1)
			if err != nil {
				return nil, err
			}
			c.Children = append(c.Children, t)
			cur += t.Length
			break
		}
		if cur >= end {
			if s.UntilEnd {
				break
			}
			return nil, fail(path, cur, fmt.Errorf("%w: region ends after %d instances", pattern.ErrMissingTerminator, i))
		}
		if max := d.limits.MaxRepeat; max > 0 && i >= max {
			return nil, fail(path, cur, fmt.Errorf("%w: more than %d instances", pattern.ErrLimit, max))
		}
		item, err := d.single(s, strconv.Itoa(i), sc, path, cur, end, origin, depth+1)
		if err != nil {
			return nil, err
		}
		if item.Length == 0 {
			return nil, fail(item.Path, cur, pattern.ErrNoProgress)
		}
		c.Children = append(c.Children, item)
		cur += item.Length
		if s.Until != nil && untilMet(item, s.Until) {
			break
		}
	}
	c.Length = cur - pos
	return c, nil
}

func untilMet(item *tree.Node, u *grammar.Until) bool {
	v := item.Value
	if u.Field != "" {
		child := item.Child(u.Field)
		if child == nil {
			return false
		}
		v = child.Value
	}
	return grammar.Matches(u.Equals, v)
}

// scope maps names decoded at one nesting level. Lookups fall through to
// the parent, so inner scopes see outer fields but not the reverse.
type scope struct {
	parent *scope
	names  map[string]*tree.Node
}

func newScope(parent *scope) *scope {
	return &scope{parent: parent, names: make(map[string]*tree.Node)}
}

// node resolves a dotted reference. The head is found through the scope
// chain, middle segments walk children, and a final segment that is not a
// child names a field of the node's value.
func (s *scope) node(ref string) (*tree.Node, string, bool) {
	head, rest, _ := strings.Cut(ref, ".")
	var n *tree.Node
	for cur := s; cur != nil && n == nil; cur = cur.parent {
		n = cur.names[head]
	}
	if n == nil {
		return nil, "", false
	}
	if rest == "" {
		return n, "", true
	}
	segs := strings.Split(rest, ".")
	for i, seg := range segs {
		if c := n.Child(seg); c != nil {
			n = c
			continue
		}
		if i == len(segs)-1 {
			return n, seg, true
		}
		return nil, "", false
	}
	return n, "", true
}

func (s *scope) Lookup(ref string) (pattern.Value, bool) {
	n, field, ok := s.node(ref)
	if !ok {
		return pattern.Value{}, false
	}
	if field == "" {
		return n.Value, true
	}
	u, ok := n.Value.Field(field)
	if !ok {
		return pattern.Value{}, false
	}
	return pattern.Uint(u), true
}

func (s *scope) Raw(ref string) ([]byte, bool) {
	n, field, ok := s.node(ref)
	if !ok || field != "" {
		return nil, false
	}
	return n.Bytes(), true
}

// link records the size reference and checksum coverage of n as absolute
// paths so edits can be cascaded without re-resolving scopes.
func (s *scope) link(n *tree.Node, spec *grammar.Spec) {
	if ref := spec.SizeRef(); ref != "" {
		if src, field, ok := s.node(ref); ok {
			n.SizeRef = &tree.Link{Path: src.Path, Field: field}
		}
	}
	for _, ref := range spec.Covers {
		if src, _, ok := s.node(ref); ok {
			n.Covers = append(n.Covers, src.Path)
		}
	}
}
