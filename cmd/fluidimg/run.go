package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aellingwood/fluidimg/internal/assets"
	"github.com/aellingwood/fluidimg/internal/batch"
	"github.com/aellingwood/fluidimg/internal/config"
	"github.com/aellingwood/fluidimg/internal/image"
	"github.com/aellingwood/fluidimg/internal/mdast"
	"github.com/aellingwood/fluidimg/internal/transform"
)

// runOptions are the per-invocation inputs of a transform run.
type runOptions struct {
	input     string
	assetsDir string
	format    string
	output    string
	jobs      int
}

// loadConfig resolves the effective invocation config: defaults, then the
// config file when present, then flag overrides.
func loadConfig(cmd *cobra.Command, overrides map[string]any) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")

	cfg := config.Default()
	if _, err := os.Stat(configPath); err == nil || cmd.Flags().Changed("config") {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	cfg = cfg.WithOverrides(overrides)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readDocument loads path as a tree. JSON input is read as an mdast tree;
// anything else is parsed as markdown, with its front matter becoming the
// document's options layer.
func readDocument(path string) (*mdast.Node, config.Layer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, config.Layer{}, fmt.Errorf("reading %s: %w", path, err)
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		tree, err := mdast.Decode(bytes.NewReader(raw))
		if err != nil {
			return nil, config.Layer{}, fmt.Errorf("%s: %w", path, err)
		}
		return tree, config.Layer{}, nil
	}

	meta, body, err := mdast.SplitFrontMatter(raw)
	if err != nil {
		return nil, config.Layer{}, fmt.Errorf("%s: %w", path, err)
	}
	layer, err := config.LayerFromMap(meta)
	if err != nil {
		return nil, config.Layer{}, fmt.Errorf("%s: front matter: %w", path, err)
	}
	return mdast.Parse(body), layer, nil
}

// pipeline transforms documents against one asset index and one image
// processor, so variants shared between documents are generated once.
type pipeline struct {
	index       *assets.Index
	transformer *transform.Transformer
	format      string
	logger      *log.Logger
}

// newPipeline indexes assetRoot plus the documents themselves and wires the
// resolver, generator and transformer for cfg.
func newPipeline(cfg *config.Config, assetRoot string, docs []string, format string, logger *log.Logger) (*pipeline, error) {
	index, err := assets.Scan(assetRoot)
	if err != nil {
		return nil, fmt.Errorf("indexing assets: %w", err)
	}
	for _, doc := range docs {
		index = index.Add(assets.NewFile(doc))
	}
	logger.Debug("indexed assets", "root", assetRoot, "files", index.Len())

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting working directory: %w", err)
	}
	generator := image.NewGenerator(image.NewProcessor(cfg.Images, cwd))

	return &pipeline{
		index:       index,
		transformer: transform.New(*cfg, assets.NewResolver(index, index), generator, transform.WithLogger(logger)),
		format:      format,
		logger:      logger,
	}, nil
}

// run transforms the document at absPath, naming it name in errors, and
// writes the rewritten tree to output (stdout when empty).
func (p *pipeline) run(ctx context.Context, absPath, name, output string, stdout io.Writer) (transform.Stats, error) {
	tree, layer, err := readDocument(absPath)
	if err != nil {
		return transform.Stats{}, err
	}

	stats, err := p.transformer.Transform(ctx, transform.Document{
		Tree:    tree,
		Parent:  absPath,
		Path:    name,
		Options: layer,
	})
	if err != nil {
		return stats, err
	}
	return stats, writeTree(tree, p.format, output, stdout)
}

// runTransform transforms opts.input. A directory input transforms every
// document below it, writing each tree next to its source or, with --output,
// to the same relative path below the output directory.
func runTransform(ctx context.Context, cfg *config.Config, opts runOptions, stdout io.Writer, logger *log.Logger) (transform.Stats, error) {
	absInput, err := filepath.Abs(opts.input)
	if err != nil {
		return transform.Stats{}, fmt.Errorf("resolving %s: %w", opts.input, err)
	}
	info, err := os.Stat(absInput)
	if err != nil {
		return transform.Stats{}, err
	}

	if !info.IsDir() {
		root := opts.assetsDir
		if root == "" {
			root = filepath.Dir(absInput)
		}
		p, err := newPipeline(cfg, root, []string{absInput}, opts.format, logger)
		if err != nil {
			return transform.Stats{}, err
		}
		return p.run(ctx, absInput, opts.input, opts.output, stdout)
	}

	docs, err := batch.Discover(absInput, cfg.Images.OutputDir, cfg.Images.CacheDir)
	if err != nil {
		return transform.Stats{}, err
	}
	logger.Debug("discovered documents", "root", opts.input, "count", len(docs))

	root := opts.assetsDir
	if root == "" {
		root = absInput
	}
	paths := make([]string, len(docs))
	for i, d := range docs {
		paths[i] = d.Path
	}
	p, err := newPipeline(cfg, root, paths, opts.format, logger)
	if err != nil {
		return transform.Stats{}, err
	}

	var (
		mu    sync.Mutex
		total transform.Stats
	)
	err = batch.Run(ctx, docs, opts.jobs, func(ctx context.Context, d batch.Document) error {
		output := outputPath(d.Path, opts.format)
		if opts.output != "" {
			output = filepath.Join(opts.output, filepath.FromSlash(outputPath(d.Rel, opts.format)))
		}
		stats, err := p.run(ctx, d.Path, filepath.Join(opts.input, filepath.FromSlash(d.Rel)), output, stdout)
		if err != nil {
			return err
		}
		logger.Debug("transformed", "document", d.Rel, "rewritten", stats.Rewritten, "output", output)

		mu.Lock()
		defer mu.Unlock()
		total.Images += stats.Images
		total.Tags += stats.Tags
		total.Rewritten += stats.Rewritten
		total.Demoted += stats.Demoted
		return nil
	})
	return total, err
}

// writeTree encodes tree in format to output, or to stdout when no output
// path is set.
func writeTree(tree *mdast.Node, format, output string, stdout io.Writer) error {
	var buf bytes.Buffer
	switch format {
	case "json", "":
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		if err := enc.Encode(tree); err != nil {
			return fmt.Errorf("encoding tree: %w", err)
		}
	case "yaml", "yml":
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(tree); err != nil {
			return fmt.Errorf("encoding tree: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("encoding tree: %w", err)
		}
	default:
		return fmt.Errorf("unknown output format %q (want json or yaml)", format)
	}

	if output == "" {
		_, err := stdout.Write(buf.Bytes())
		return err
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	if err := os.WriteFile(output, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", output, err)
	}
	return nil
}

// outputPath derives the default output file of a document, e.g. post.md
// becomes post.fluid.json.
func outputPath(input, format string) string {
	ext := format
	switch ext {
	case "":
		ext = "json"
	case "yml":
		ext = "yaml"
	}
	base := input[:len(input)-len(filepath.Ext(input))]
	return base + ".fluid." + ext
}
