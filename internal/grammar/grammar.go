package grammar

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/danmuck/binform/internal/pattern"
)

// DefaultTerminatorName names a terminator spec declared without a name.
const DefaultTerminatorName = "terminator"

// Description is the document form of a grammar.
type Description struct {
	Name          string `toml:"name" yaml:"name"`
	Description   string `toml:"description" yaml:"description"`
	Magic         string `toml:"magic" yaml:"magic"`
	MagicHex      string `toml:"magic_hex" yaml:"magic_hex"`
	AllowTrailing bool   `toml:"allow_trailing" yaml:"allow_trailing"`
	Patterns      []Spec `toml:"patterns" yaml:"patterns"`
}

// Spec is one pattern entry. Params are flattened into the spec in both
// document formats.
type Spec struct {
	Name           string `toml:"name" yaml:"name"`
	Kind           string `toml:"kind" yaml:"kind"`
	pattern.Params `yaml:",inline"`
	Children       []Spec `toml:"children" yaml:"children,omitempty"`
	Cases          []Case `toml:"cases" yaml:"cases,omitempty"`
	Repeat         bool   `toml:"repeat" yaml:"repeat,omitempty"`
	UntilEnd       bool   `toml:"until_end" yaml:"until_end,omitempty"`
	Until          *Until `toml:"until" yaml:"until,omitempty"`
	Terminator     *Spec  `toml:"terminator" yaml:"terminator,omitempty"`
}

// Case is one branch of a switch spec.
type Case struct {
	Match    string `toml:"match" yaml:"match"`
	Default  bool   `toml:"default" yaml:"default"`
	Children []Spec `toml:"children" yaml:"children"`
}

// Until ends a repeat once a field of the latest instance equals a value.
// An empty field tests the instance's own value.
type Until struct {
	Field  string `toml:"field" yaml:"field"`
	Equals string `toml:"equals" yaml:"equals"`
}

// Grammar is a validated, read-only container description.
type Grammar struct {
	name          string
	description   string
	magic         []byte
	specs         []Spec
	allowTrailing bool
	registry      *pattern.Registry
}

func (g *Grammar) Name() string                { return g.name }
func (g *Grammar) Description() string         { return g.description }
func (g *Grammar) Magic() []byte               { return bytes.Clone(g.magic) }
func (g *Grammar) AllowTrailing() bool         { return g.allowTrailing }
func (g *Grammar) Registry() *pattern.Registry { return g.registry }

// Specs returns the top-level specs. They must be treated as read-only.
func (g *Grammar) Specs() []Spec {
	return g.specs
}

// Select returns the case matching v, falling back to the default case.
func (s *Spec) Select(v pattern.Value) (*Case, bool) {
	var fallback *Case
	for i := range s.Cases {
		c := &s.Cases[i]
		if c.Default {
			if fallback == nil {
				fallback = c
			}
			continue
		}
		if Matches(c.Match, v) {
			return c, true
		}
	}
	return fallback, fallback != nil
}

// Matches compares a document literal against a decoded value. Numbers accept
// any strconv base prefix; byte strings are written in hex.
func Matches(match string, v pattern.Value) bool {
	switch v.Type {
	case pattern.TypeText:
		return v.Text == match
	case pattern.TypeUint:
		n, err := strconv.ParseUint(strings.TrimSpace(match), 0, 64)
		return err == nil && n == v.Uint
	case pattern.TypeBytes:
		b, err := hex.DecodeString(strings.ReplaceAll(match, " ", ""))
		return err == nil && bytes.Equal(b, v.Bytes)
	default:
		return false
	}
}

// New validates d against reg and builds an immutable Grammar.
func New(d Description, reg *pattern.Registry) (*Grammar, error) {
	if reg == nil {
		reg = pattern.Default()
	}
	name := strings.TrimSpace(d.Name)
	if !isValidGrammarName(name) {
		return nil, &GrammarError{Grammar: d.Name, Reason: "invalid grammar name", Err: ErrInvalidName}
	}
	magic, err := magicOf(d)
	if err != nil {
		return nil, &GrammarError{Grammar: name, Reason: "magic signature", Err: err}
	}
	if len(d.Patterns) == 0 {
		return nil, &GrammarError{Grammar: name, Reason: "no patterns", Err: ErrMalformed}
	}
	specs := cloneSpecs(d.Patterns)
	v := validator{grammar: name, reg: reg}
	if err := v.specs(specs, "", nil); err != nil {
		return nil, err
	}
	return &Grammar{
		name:          name,
		description:   d.Description,
		magic:         magic,
		specs:         specs,
		allowTrailing: d.AllowTrailing,
		registry:      reg,
	}, nil
}

func magicOf(d Description) ([]byte, error) {
	switch {
	case d.Magic != "" && d.MagicHex != "":
		return nil, fmt.Errorf("%w: magic and magic_hex are exclusive", ErrMalformed)
	case d.Magic != "":
		return []byte(d.Magic), nil
	case d.MagicHex != "":
		b, err := hex.DecodeString(strings.ReplaceAll(d.MagicHex, " ", ""))
		if err != nil {
			return nil, fmt.Errorf("%w: magic_hex: %v", ErrMalformed, err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: magic signature required", ErrMalformed)
	}
}

type frame struct {
	names  map[string]*Spec
	parent *frame
}

func (f *frame) resolve(head string) (*Spec, bool) {
	for cur := f; cur != nil; cur = cur.parent {
		if s, ok := cur.names[head]; ok {
			return s, true
		}
	}
	return nil, false
}

type validator struct {
	grammar string
	reg     *pattern.Registry
}

func (v validator) fail(path, reason string, err error) error {
	return &GrammarError{Grammar: v.grammar, Pattern: path, Reason: reason, Err: err}
}

func (v validator) specs(specs []Spec, parent string, outer *frame) error {
	f := &frame{names: make(map[string]*Spec, len(specs)), parent: outer}
	for i := range specs {
		s := &specs[i]
		path := joinPath(parent, s.Name)
		if !isValidSpecName(s.Name) {
			return v.fail(path, fmt.Sprintf("invalid pattern name %q", s.Name), ErrInvalidName)
		}
		if _, dup := f.names[s.Name]; dup {
			return v.fail(path, "name already used in this scope", ErrDuplicateName)
		}
		if err := v.spec(s, path, f); err != nil {
			return err
		}
		f.names[s.Name] = s
	}
	return nil
}

func (v validator) spec(s *Spec, path string, f *frame) error {
	k, ok := v.reg.Resolve(s.Kind)
	if !ok {
		return v.fail(path, fmt.Sprintf("kind %q", s.Kind), pattern.ErrUnknownKind)
	}
	if c, ok := k.(pattern.Checker); ok {
		if err := c.Check(&s.Params); err != nil {
			return v.fail(path, "params", err)
		}
	}
	for _, ref := range s.Refs() {
		head, _, _ := strings.Cut(ref, ".")
		if _, ok := f.resolve(head); !ok {
			return v.fail(path, fmt.Sprintf("reference %q is not an earlier field", ref), ErrUnresolvedRef)
		}
	}

	comp, isComposite := k.(pattern.Composite)
	_, isSelector := k.(pattern.Selector)
	switch {
	case len(s.Children) > 0 && !isComposite:
		return v.fail(path, fmt.Sprintf("kind %q takes no children", s.Kind), ErrMalformed)
	case len(s.Cases) > 0 && !isSelector:
		return v.fail(path, fmt.Sprintf("kind %q takes no cases", s.Kind), ErrMalformed)
	case isSelector && len(s.Cases) == 0:
		return v.fail(path, "switch requires cases", ErrMalformed)
	case isSelector && len(s.Children) > 0:
		return v.fail(path, "switch declares children through cases", ErrMalformed)
	case isComposite && !isSelector && comp.RequiresChildren() && len(s.Children) == 0:
		return v.fail(path, fmt.Sprintf("kind %q requires children", s.Kind), ErrMalformed)
	}

	if err := v.specs(s.Children, path, f); err != nil {
		return err
	}
	defaults := 0
	for i, c := range s.Cases {
		if c.Default {
			defaults++
		} else if c.Match == "" {
			return v.fail(path, fmt.Sprintf("case %d has no match value", i), ErrMalformed)
		}
		if err := v.specs(c.Children, path, f); err != nil {
			return err
		}
	}
	if defaults > 1 {
		return v.fail(path, "more than one default case", ErrMalformed)
	}
	return v.repeat(s, path, isSelector)
}

func (v validator) repeat(s *Spec, path string, isSelector bool) error {
	modes := 0
	if s.Terminator != nil {
		modes++
	}
	if s.Until != nil {
		modes++
	}
	if s.UntilEnd {
		modes++
	}
	if !s.Repeat {
		if modes > 0 {
			return v.fail(path, "terminator, until, and until_end apply to repeated patterns only", ErrMalformed)
		}
		return nil
	}
	if modes != 1 {
		return v.fail(path, "repeat needs exactly one of terminator, until, or until_end", ErrMalformed)
	}

	if u := s.Until; u != nil && u.Field != "" && !hasChild(s, u.Field) {
		return v.fail(path, fmt.Sprintf("until field %q is not a child", u.Field), ErrUnresolvedRef)
	}

	t := s.Terminator
	if t == nil {
		return nil
	}
	if t.Name == "" {
		t.Name = DefaultTerminatorName
	}
	tpath := joinPath(path, t.Name)
	if !isValidSpecName(t.Name) {
		return v.fail(tpath, fmt.Sprintf("invalid pattern name %q", t.Name), ErrInvalidName)
	}
	k, ok := v.reg.Resolve(t.Kind)
	if !ok {
		return v.fail(tpath, fmt.Sprintf("kind %q", t.Kind), pattern.ErrUnknownKind)
	}
	if _, ok := k.(pattern.Matcher); !ok {
		return v.fail(tpath, fmt.Sprintf("kind %q cannot match a terminator", t.Kind), ErrMalformed)
	}
	if c, ok := k.(pattern.Checker); ok {
		if err := c.Check(&t.Params); err != nil {
			return v.fail(tpath, "params", err)
		}
	}
	if isSelector && s.On == "" {
		return v.collisions(s, path)
	}
	return nil
}

// collisions rejects a peeked switch whose case value equals the terminator,
// since that case could never be reached at an instance boundary.
func (v validator) collisions(s *Spec, path string) error {
	lits, err := s.Terminator.Literals()
	if err != nil {
		return v.fail(path, "terminator", err)
	}
	peek := 1
	if s.Peek > 0 {
		peek = s.Peek
	}
	for _, lit := range lits {
		if len(lit) < peek {
			continue
		}
		var tv uint64
		for _, c := range lit[:peek] {
			tv = tv<<8 | uint64(c)
		}
		for _, c := range s.Cases {
			if !c.Default && Matches(c.Match, pattern.Uint(tv)) {
				return v.fail(path, fmt.Sprintf("case %s", c.Match), ErrAmbiguousTerminator)
			}
		}
	}
	return nil
}

func hasChild(s *Spec, name string) bool {
	for _, c := range s.Children {
		if c.Name == name {
			return true
		}
	}
	for _, cs := range s.Cases {
		for _, c := range cs.Children {
			if c.Name == name {
				return true
			}
		}
	}
	return false
}

func cloneSpecs(in []Spec) []Spec {
	if in == nil {
		return nil
	}
	out := make([]Spec, len(in))
	for i, s := range in {
		out[i] = cloneSpec(s)
	}
	return out
}

func cloneSpec(s Spec) Spec {
	out := s
	out.Values = append([]string(nil), s.Values...)
	out.Fields = append([]pattern.BitField(nil), s.Fields...)
	out.Covers = append([]string(nil), s.Covers...)
	out.Children = cloneSpecs(s.Children)
	if s.Cases != nil {
		out.Cases = make([]Case, len(s.Cases))
		for i, c := range s.Cases {
			out.Cases[i] = Case{Match: c.Match, Default: c.Default, Children: cloneSpecs(c.Children)}
		}
	}
	if s.Until != nil {
		u := *s.Until
		out.Until = &u
	}
	if s.Terminator != nil {
		t := cloneSpec(*s.Terminator)
		out.Terminator = &t
	}
	return out
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

func isValidGrammarName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		isLower := c >= 'a' && c <= 'z'
		isDigit := c >= '0' && c <= '9'
		if !(isLower || isDigit || c == '-' || c == '_') {
			return false
		}
	}
	return true
}

// isValidSpecName rejects dots, which separate path segments, and all-digit
// names, which are reserved for repeat instances.
func isValidSpecName(name string) bool {
	if name == "" || strings.ContainsAny(name, ". \t") {
		return false
	}
	for i := 0; i < len(name); i++ {
		if name[i] < '0' || name[i] > '9' {
			return true
		}
	}
	return false
}
