// Package transform rewrites the images of a document tree into responsive
// image markup.
//
// A transform classifies the tree once, then processes two groups of
// occurrences concurrently: markdown-origin images, which are replaced by a
// synthesized tag, and embedded-markup nodes, which get a metadata attribute
// spliced into every matching tag. Work is all-or-nothing. Every occurrence
// computes its edit first and the tree is only touched once both groups have
// finished without a fatal error.
//
//	t := transform.New(cfg, assets.NewResolver(ix, ix), image.NewGenerator(proc),
//	    transform.WithLogger(logger))
//	stats, err := t.Transform(ctx, transform.Document{Tree: root, Parent: path})
package transform

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/aellingwood/fluidimg/internal/assets"
	"github.com/aellingwood/fluidimg/internal/config"
	"github.com/aellingwood/fluidimg/internal/errors"
	"github.com/aellingwood/fluidimg/internal/image"
	"github.com/aellingwood/fluidimg/internal/mdast"
)

// Resolver maps an image reference to a file. *assets.Resolver implements it.
type Resolver interface {
	Resolve(src, parent string) (*assets.File, error)
}

// Generator derives image metadata for a file. *image.Generator implements it.
type Generator interface {
	Generate(ctx context.Context, file *assets.File, cfg config.Config) (*image.Metadata, error)
}

// Document is one transform input.
type Document struct {
	// Tree is rewritten in place on success.
	Tree *mdast.Node
	// Parent identifies the document for the resolver's directory lookup.
	Parent string
	// Path names the document in errors and logs. Defaults to Parent.
	Path string
	// Options is the document's own configuration layer, usually taken from
	// front matter. It sits between the invocation config and inline options.
	Options config.Layer
}

// Stats summarizes a transform.
type Stats struct {
	Images    int // markdown-origin occurrences
	Tags      int // matching tags inside embedded markup
	Rewritten int // occurrences that received metadata
	Demoted   int // parents turned into generic containers
}

// Transformer rewrites document trees. It holds no per-document state and is
// safe for concurrent use.
type Transformer struct {
	config    config.Config
	resolver  Resolver
	generator Generator
	logger    *log.Logger
}

// Option configures a Transformer.
type Option func(*Transformer)

// WithLogger sets the logger. Resolution misses and rewrites are logged at
// debug level.
func WithLogger(l *log.Logger) Option {
	return func(t *Transformer) {
		if l != nil {
			t.logger = l
		}
	}
}

// New creates a Transformer for the effective invocation config cfg.
func New(cfg config.Config, resolver Resolver, generator Generator, opts ...Option) *Transformer {
	t := &Transformer{
		config:    cfg,
		resolver:  resolver,
		generator: generator,
		logger:    log.NewWithOptions(io.Discard, log.Options{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Transform rewrites doc.Tree. On error the tree's markup, node kinds and
// values are left as they were; only reference nodes may have had their url
// and title filled in from definitions.
func (t *Transformer) Transform(ctx context.Context, doc Document) (Stats, error) {
	if doc.Tree == nil {
		return Stats{}, errors.New(errors.ErrCodeInvalidInput, "document %s has no tree", doc.name())
	}

	cfg := config.Merge(t.config, doc.Options)
	if err := cfg.Validate(); err != nil {
		return Stats{}, errors.Wrap(errors.ErrCodeInvalidOptions, err, "document %s", doc.name())
	}

	cls := Classify(doc.Tree, cfg.ReplaceMarkdownImageParent)
	stats := Stats{Images: len(cls.Markdown)}

	limit := cfg.Concurrency
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	sem := semaphore.NewWeighted(int64(limit))

	markdownEdits := make([]func(), len(cls.Markdown))
	markupEdits := make([]func(), len(cls.Markup))
	var tags, rewritten atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runGroup(gctx, sem, len(cls.Markdown), func(ctx context.Context, i int) error {
			edit, err := t.mutateMarkdown(ctx, doc, cfg, cls.Markdown[i])
			if edit != nil {
				markdownEdits[i] = edit
				rewritten.Add(1)
			}
			return err
		})
	})
	g.Go(func() error {
		return runGroup(gctx, sem, len(cls.Markup), func(ctx context.Context, i int) error {
			res, err := t.mutateMarkup(ctx, doc, cfg, cls.Markup[i])
			tags.Add(int64(res.tags))
			if res.edit != nil {
				markupEdits[i] = res.edit
				rewritten.Add(int64(res.rewritten))
			}
			return err
		})
	})
	if err := g.Wait(); err != nil {
		return Stats{}, err
	}

	var changed []*mdast.Node
	for i, edit := range markdownEdits {
		if edit != nil {
			edit()
			changed = append(changed, cls.Markdown[i])
		}
	}
	for i, edit := range markupEdits {
		if edit != nil {
			edit()
			changed = append(changed, cls.Markup[i])
		}
	}
	demoted := cls.demoted(changed)
	for _, parent := range demoted {
		parent.Type = mdast.KindContainer
	}

	stats.Tags = int(tags.Load())
	stats.Rewritten = int(rewritten.Load())
	stats.Demoted = len(demoted)
	return stats, nil
}

// runGroup runs task for 0..n-1 and waits for all of them. The first failure
// cancels the tasks that have not started yet. sem bounds the number of tasks
// running across all groups.
func runGroup(ctx context.Context, sem *semaphore.Weighted, n int, task func(ctx context.Context, i int) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := range n {
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			return task(ctx, i)
		})
	}
	return g.Wait()
}

// derive resolves src and generates its metadata. Resolution misses are
// logged and yield nil metadata with no error.
func (t *Transformer) derive(ctx context.Context, doc Document, cfg config.Config, src string) (*image.Metadata, error) {
	file, err := t.resolver.Resolve(src, doc.Parent)
	if err != nil {
		if errors.IsResolutionMiss(err) {
			t.logger.Debug("skipping image", "document", doc.name(), "src", src, "reason", errors.UserMessage(err))
			return nil, nil
		}
		return nil, err
	}

	md, err := t.generator.Generate(ctx, file, cfg)
	if err != nil {
		if errors.IsResolutionMiss(err) {
			t.logger.Debug("skipping image", "document", doc.name(), "src", src, "reason", errors.UserMessage(err))
			return nil, nil
		}
		return nil, err
	}
	return md, nil
}

// fail attaches the document and node to a fatal error.
func fail(doc Document, where string, err error) error {
	return fmt.Errorf("%s: %s: %w", doc.name(), where, err)
}

func (d Document) name() string {
	if d.Path != "" {
		return d.Path
	}
	return d.Parent
}
