package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/binform/internal/decompose"
	"github.com/danmuck/binform/internal/treefile"
)

// DefaultPath is where the CLI looks for a config when none is given.
const DefaultPath = "binform.toml"

var ErrInvalid = errors.New("config: invalid")

// Config holds engine settings. Zero limits disable the matching bound.
type Config struct {
	GrammarDirs     []string
	Limits          decompose.Limits
	Workers         int
	TreeCompression treefile.Compression
}

type fileConfig struct {
	GrammarDirs     []string `toml:"grammar_dirs"`
	MaxInputBytes   int      `toml:"max_input_bytes"`
	MaxDepth        int      `toml:"max_depth"`
	MaxRepeat       int      `toml:"max_repeat"`
	Workers         int      `toml:"workers"`
	TreeCompression string   `toml:"tree_compression"`
}

// Default returns the settings used when no config file exists.
func Default() Config {
	return Config{
		Limits:          decompose.DefaultLimits(),
		Workers:         runtime.GOMAXPROCS(0),
		TreeCompression: treefile.CompressionZstd,
	}
}

// Load reads path over the defaults. Keys absent from the file keep their
// default values.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %q in %s", ErrInvalid, undecoded[0].String(), path)
	}
	return apply(Default(), raw, meta)
}

// Parse decodes a config document held in memory.
func Parse(doc string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(doc, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config parse failed: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %q", ErrInvalid, undecoded[0].String())
	}
	return apply(Default(), raw, meta)
}

func apply(cfg Config, raw fileConfig, meta toml.MetaData) (Config, error) {
	if meta.IsDefined("grammar_dirs") {
		cfg.GrammarDirs = normalizeDirs(raw.GrammarDirs)
	}
	if meta.IsDefined("max_input_bytes") {
		cfg.Limits.MaxInputBytes = raw.MaxInputBytes
	}
	if meta.IsDefined("max_depth") {
		cfg.Limits.MaxDepth = raw.MaxDepth
	}
	if meta.IsDefined("max_repeat") {
		cfg.Limits.MaxRepeat = raw.MaxRepeat
	}
	if meta.IsDefined("workers") {
		cfg.Workers = raw.Workers
	}
	if meta.IsDefined("tree_compression") {
		c, err := treefile.ParseCompression(strings.TrimSpace(raw.TreeCompression))
		if err != nil {
			return Config{}, fmt.Errorf("%w: tree_compression: %v", ErrInvalid, err)
		}
		cfg.TreeCompression = c
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects negative limits and a non-positive worker count.
func Validate(cfg Config) error {
	switch {
	case cfg.Limits.MaxInputBytes < 0:
		return fmt.Errorf("%w: max_input_bytes must be >= 0", ErrInvalid)
	case cfg.Limits.MaxDepth < 0:
		return fmt.Errorf("%w: max_depth must be >= 0", ErrInvalid)
	case cfg.Limits.MaxRepeat < 0:
		return fmt.Errorf("%w: max_repeat must be >= 0", ErrInvalid)
	case cfg.Workers < 1:
		return fmt.Errorf("%w: workers must be >= 1", ErrInvalid)
	}
	for i, dir := range cfg.GrammarDirs {
		if dir == "" {
			return fmt.Errorf("%w: grammar_dirs[%d] is empty", ErrInvalid, i)
		}
	}
	return nil
}

func normalizeDirs(in []string) []string {
	out := make([]string, 0, len(in))
	for _, dir := range in {
		v := strings.TrimSpace(dir)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
