// Package engine ties grammar lookup, decomposition, reconstruction, and
// validation together for callers that work with files.
package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/binform/internal/config"
	"github.com/danmuck/binform/internal/decompose"
	"github.com/danmuck/binform/internal/grammar"
	"github.com/danmuck/binform/internal/pattern"
	"github.com/danmuck/binform/internal/reconstruct"
	"github.com/danmuck/binform/internal/tree"
	"github.com/danmuck/binform/internal/treefile"
	"github.com/danmuck/binform/internal/validate"
)

type Engine struct {
	cfg config.Config
	reg *pattern.Registry
}

// New builds an engine. A nil registry uses the built-in kinds.
func New(cfg config.Config, reg *pattern.Registry) *Engine {
	if reg == nil {
		reg = pattern.Default()
	}
	return &Engine{cfg: cfg, reg: reg}
}

func (e *Engine) Config() config.Config { return e.cfg }

// Grammar resolves name against the configured grammar dirs, then the
// built-ins. A name with an extension is read as a file path.
func (e *Engine) Grammar(name string) (*grammar.Grammar, error) {
	return grammar.Load(name, e.cfg.GrammarDirs, e.reg)
}

// Grammars lists every grammar reachable by Grammar.
func (e *Engine) Grammars() ([]grammar.Entry, error) {
	return grammar.List(e.cfg.GrammarDirs)
}

// ReadFile reads path whole, refusing inputs larger than max_input_bytes.
func (e *Engine) ReadFile(path string) ([]byte, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	limit := e.cfg.Limits.MaxInputBytes
	if limit <= 0 {
		return io.ReadAll(fh)
	}
	buf, err := io.ReadAll(io.LimitReader(fh, int64(limit)+1))
	if err != nil {
		return nil, err
	}
	if len(buf) > limit {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", pattern.ErrLimit, path, limit)
	}
	return buf, nil
}

func (e *Engine) Decompose(g *grammar.Grammar, buf []byte) (*tree.Tree, error) {
	return decompose.Decompose(g, buf, decompose.WithLimits(e.cfg.Limits))
}

func (e *Engine) Reconstruct(t *tree.Tree) ([]byte, error) {
	return reconstruct.Reconstruct(t, e.reg)
}

// Report is the certification outcome for one file. Err is nil when the
// file decomposed and reconstructed to identical bytes.
type Report struct {
	Path    string
	Grammar string
	Size    int
	Nodes   int
	Digest  treefile.Digest
	Elapsed time.Duration
	Err     error
}

// Certify decomposes buf, reconstructs it, and compares the two buffers.
func (e *Engine) Certify(g *grammar.Grammar, path string, buf []byte) (r Report) {
	start := time.Now()
	r = Report{Path: path, Grammar: g.Name(), Size: len(buf), Digest: treefile.Sum(buf)}
	defer func() { r.Elapsed = time.Since(start) }()

	t, err := e.Decompose(g, buf)
	if err != nil {
		r.Err = err
		return r
	}
	_ = t.Walk(func(*tree.Node, int) error {
		r.Nodes++
		return nil
	})
	out, err := e.Reconstruct(t)
	if err != nil {
		r.Err = err
		return r
	}
	r.Err = validate.Compare(buf, out)
	return r
}

// Batch certifies paths concurrently, at most workers at a time. Per-file
// failures land in the reports; only cancellation aborts the batch.
func (e *Engine) Batch(ctx context.Context, g *grammar.Grammar, paths []string) ([]Report, error) {
	reports := make([]Report, len(paths))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(max(e.cfg.Workers, 1))
	for i, path := range paths {
		i, path := i, path
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			buf, err := e.ReadFile(path)
			if err != nil {
				reports[i] = Report{Path: path, Grammar: g.Name(), Err: err}
				return nil
			}
			reports[i] = e.Certify(g, path, buf)
			log.Debug().Str("path", path).Int("bytes", len(buf)).Err(reports[i].Err).Msg("certified")
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return reports, err
	}
	return reports, nil
}
