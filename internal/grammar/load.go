package grammar

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/binform/internal/pattern"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Format is a description document encoding.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// BuiltinSource marks grammars served from the embedded set.
const BuiltinSource = "builtin"

//go:embed builtin/*
var builtinFS embed.FS

var extensions = map[string]Format{
	".toml": FormatTOML,
	".yaml": FormatYAML,
	".yml":  FormatYAML,
}

var searchOrder = []string{".toml", ".yaml", ".yml"}

// FormatOf infers the document format from a file extension.
func FormatOf(path string) (Format, bool) {
	f, ok := extensions[strings.ToLower(filepath.Ext(path))]
	return f, ok
}

// Decode parses a description document without validating it. Unknown keys
// are rejected in both formats.
func Decode(data []byte, format Format) (Description, error) {
	var d Description
	switch format {
	case FormatTOML:
		meta, err := toml.Decode(string(data), &d)
		if err != nil {
			return Description{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return Description{}, fmt.Errorf("%w: unknown keys %s", ErrMalformed, strings.Join(keys, ", "))
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&d); err != nil {
			return Description{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	default:
		return Description{}, fmt.Errorf("%w: unsupported format %q", ErrMalformed, format)
	}
	return d, nil
}

// Parse decodes and validates a description document.
func Parse(data []byte, format Format, reg *pattern.Registry) (*Grammar, error) {
	d, err := Decode(data, format)
	if err != nil {
		return nil, &GrammarError{Grammar: d.Name, Reason: "decode " + string(format), Err: err}
	}
	return New(d, reg)
}

// LoadFile reads and validates one description file.
func LoadFile(path string, reg *pattern.Registry) (*Grammar, error) {
	format, ok := FormatOf(path)
	if !ok {
		return nil, &GrammarError{Grammar: filepath.Base(path), Reason: "unknown description extension", Err: ErrMalformed}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &GrammarError{Grammar: filepath.Base(path), Reason: "read description", Err: err}
	}
	g, err := Parse(data, format, reg)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("grammar", g.Name()).Str("source", path).Msg("grammar loaded")
	return g, nil
}

// Load resolves a grammar by name from dirs in order, then from the built-in
// set. A name with a description extension is treated as a file path.
func Load(name string, dirs []string, reg *pattern.Registry) (*Grammar, error) {
	if _, ok := FormatOf(name); ok {
		return LoadFile(name, reg)
	}
	for _, dir := range dirs {
		for _, ext := range searchOrder {
			path := filepath.Join(dir, name+ext)
			if _, err := os.Stat(path); err == nil {
				return LoadFile(path, reg)
			}
		}
	}
	return Builtin(name, reg)
}

// Builtin loads an embedded grammar by name.
func Builtin(name string, reg *pattern.Registry) (*Grammar, error) {
	entries, err := fs.ReadDir(builtinFS, "builtin")
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		base := e.Name()
		format, ok := FormatOf(base)
		if !ok || strings.TrimSuffix(base, filepath.Ext(base)) != name {
			continue
		}
		data, err := builtinFS.ReadFile("builtin/" + base)
		if err != nil {
			return nil, err
		}
		g, err := Parse(data, format, reg)
		if err != nil {
			return nil, err
		}
		log.Debug().Str("grammar", g.Name()).Str("source", BuiltinSource).Msg("grammar loaded")
		return g, nil
	}
	return nil, &GrammarError{Grammar: name, Reason: "no description in search path or built-ins", Err: ErrNotFound}
}

// Entry names one available grammar and where it comes from.
type Entry struct {
	Name   string
	Source string
}

// List returns every grammar visible through dirs plus the built-ins, sorted
// by name. A directory entry shadows a built-in of the same name.
func List(dirs []string) ([]Entry, error) {
	seen := make(map[string]Entry)
	for _, dir := range dirs {
		files, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			if _, ok := FormatOf(f.Name()); !ok {
				continue
			}
			name := strings.TrimSuffix(f.Name(), filepath.Ext(f.Name()))
			if _, ok := seen[name]; !ok {
				seen[name] = Entry{Name: name, Source: filepath.Join(dir, f.Name())}
			}
		}
	}
	for _, name := range BuiltinNames() {
		if _, ok := seen[name]; !ok {
			seen[name] = Entry{Name: name, Source: BuiltinSource}
		}
	}
	out := make([]Entry, 0, len(seen))
	for _, e := range seen {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// BuiltinNames lists the embedded grammars in sorted order.
func BuiltinNames() []string {
	entries, err := fs.ReadDir(builtinFS, "builtin")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if _, ok := FormatOf(e.Name()); ok {
			names = append(names, strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
		}
	}
	sort.Strings(names)
	return names
}
