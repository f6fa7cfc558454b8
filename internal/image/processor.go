package image

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/aellingwood/fluidimg/internal/assets"
	"github.com/aellingwood/fluidimg/internal/config"
	"github.com/aellingwood/fluidimg/internal/errors"
	"github.com/cespare/xxhash/v2"
	"github.com/disintegration/imaging"
	"github.com/gen2brain/webp"
	"golang.org/x/sync/singleflight"
)

const (
	defaultMaxWidth = 800
	defaultQuality  = 80
	// previewWidth is the width of the blurred placeholder embedded as base64.
	previewWidth = 20
)

// Processor is the default FluidProcessor. It writes resized variants to the
// configured output directory and remembers results per source content and
// arguments, so the same image referenced twice is encoded once. Processor is
// safe for concurrent use.
type Processor struct {
	config   config.ImageConfig
	cache    *Cache
	group    singleflight.Group
	mu       sync.Mutex
	registry map[string]*FluidResult // keyed by cache key
}

// FluidResult is the raw output of one fluid processing call.
type FluidResult struct {
	AspectRatio        float64
	Src                string
	SrcSet             string
	Base64             string
	PresentationWidth  int
	PresentationHeight int
	Variants           []Variant
}

// Variant describes a single generated image file.
type Variant struct {
	Width  int
	Height int
	Format string // "webp", "jpeg", "png"
	URL    string // URL path for use in markup
	Path   string // filesystem path
}

// NewProcessor creates a Processor with the given image configuration.
// Relative output and cache directories are taken from projectRoot. An empty
// CacheDir disables the build cache.
func NewProcessor(cfg config.ImageConfig, projectRoot string) *Processor {
	cfg.OutputDir = underRoot(projectRoot, cfg.OutputDir)
	var cache *Cache
	if cfg.CacheDir != "" {
		cfg.CacheDir = underRoot(projectRoot, cfg.CacheDir)
		// Without a cache every run re-encodes, which is slower but correct.
		cache, _ = NewCache(cfg.CacheDir)
	}
	return &Processor{
		config:   cfg,
		cache:    cache,
		registry: make(map[string]*FluidResult),
	}
}

func underRoot(root, dir string) string {
	if dir == "" || filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(root, dir)
}

// Fluid generates the breakpoint variants of file and returns its fluid
// result. Widths are fractions and multiples of args.MaxWidth that do not
// exceed the source width; no variant is ever upscaled.
//
// File naming: {name}-{key}-{width}w.{ext} (e.g. hero-1f3a9c0e-400w.webp),
// where key covers the source content and the arguments.
func (p *Processor) Fluid(ctx context.Context, file *assets.File, args config.FluidArgs) (*FluidResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !isSupportedImage(file.Extension) {
		return nil, errors.New(errors.ErrCodeUnsupported, "%s: %q images cannot be resized", file.AbsolutePath, file.Extension)
	}

	hash, err := HashFile(file.AbsolutePath)
	if err != nil {
		return nil, fmt.Errorf("hashing %s: %w", file.AbsolutePath, err)
	}
	key, err := cacheKey(hash, args)
	if err != nil {
		return nil, err
	}

	if res := p.lookup(key); res != nil {
		return res, nil
	}

	// Concurrent calls for the same key share one encode so two goroutines
	// never write the same output file.
	v, err, _ := p.group.Do(key, func() (any, error) {
		if res := p.lookup(key); res != nil {
			return res, nil
		}
		res, err := p.process(ctx, file, hash, key, args)
		if err != nil {
			return nil, err
		}
		p.register(key, res)
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*FluidResult), nil
}

func (p *Processor) process(ctx context.Context, file *assets.File, hash, key string, args config.FluidArgs) (*FluidResult, error) {
	maxWidth := args.MaxWidth
	if maxWidth <= 0 {
		maxWidth = defaultMaxWidth
	}
	quality := args.Quality
	if quality <= 0 || quality > 100 {
		quality = defaultQuality
	}
	format, err := targetFormat(args.ToFormat, file.Extension)
	if err != nil {
		return nil, err
	}

	stem := fmt.Sprintf("%s-%s", slug(file.Name), key[:8])

	if p.cache != nil {
		if entry, ok := p.cache.Lookup(key); ok {
			variants, err := p.cache.CopyToOutput(entry.Variants, p.config.OutputDir, p.config.URLPrefix)
			if err == nil {
				return assemble(entry.AspectRatio, entry.Base64, entry.PresentationWidth, entry.PresentationHeight, variants), nil
			}
			// Cache copy failed, fall through and regenerate.
		}
	}

	srcImg, err := imaging.Open(file.AbsolutePath, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("opening image %s: %w", file.AbsolutePath, err)
	}
	bounds := srcImg.Bounds()
	srcWidth, srcHeight := bounds.Dx(), bounds.Dy()
	if srcWidth == 0 || srcHeight == 0 {
		return nil, fmt.Errorf("image %s has no pixels", file.AbsolutePath)
	}

	// A maxHeight crops every variant to the maxWidth:maxHeight ratio.
	aspect := float64(srcWidth) / float64(srcHeight)
	crop := args.MaxHeight > 0
	if crop {
		aspect = float64(maxWidth) / float64(args.MaxHeight)
	}

	resize := func(w int) image.Image {
		h := heightFor(w, aspect)
		if crop {
			return imaging.Fill(srcImg, w, h, imaging.Center, imaging.Lanczos)
		}
		return imaging.Resize(srcImg, w, 0, imaging.Lanczos)
	}

	if err := os.MkdirAll(p.config.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	var (
		variants []Variant
		cached   []CachedVariant
	)
	for _, width := range breakpoints(args.SrcSetBreakpoints, maxWidth, srcWidth) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resized := resize(width)
		height := resized.Bounds().Dy()

		filename := fmt.Sprintf("%s-%dw.%s", stem, width, formatExtension(format))
		outPath := filepath.Join(p.config.OutputDir, filename)
		if err := encodeImage(resized, outPath, format, quality); err != nil {
			return nil, fmt.Errorf("encoding %s: %w", outPath, err)
		}

		variants = append(variants, Variant{
			Width:  width,
			Height: height,
			Format: format,
			URL:    joinURL(p.config.URLPrefix, filename),
			Path:   outPath,
		})
		cached = append(cached, CachedVariant{
			Width:    width,
			Height:   height,
			Format:   format,
			Filename: filename,
		})
	}

	preview, err := placeholder(resize(min(previewWidth, srcWidth)), format, quality)
	if err != nil {
		return nil, fmt.Errorf("encoding placeholder for %s: %w", file.AbsolutePath, err)
	}

	presentationWidth := min(maxWidth, srcWidth)
	presentationHeight := heightFor(presentationWidth, aspect)

	if p.cache != nil {
		p.cache.Keep(p.config.OutputDir, cached)
		_ = p.cache.Store(key, &CacheEntry{
			Source:             file.AbsolutePath,
			ContentHash:        hash,
			AspectRatio:        aspect,
			Base64:             preview,
			PresentationWidth:  presentationWidth,
			PresentationHeight: presentationHeight,
			Variants:           cached,
		})
	}

	return assemble(aspect, preview, presentationWidth, presentationHeight, variants), nil
}

// assemble builds a FluidResult from sorted variants. The primary source is
// the smallest variant at least as wide as the presentation width.
func assemble(aspect float64, preview string, pw, ph int, variants []Variant) *FluidResult {
	res := &FluidResult{
		AspectRatio:        aspect,
		Base64:             preview,
		PresentationWidth:  pw,
		PresentationHeight: ph,
		Variants:           variants,
	}
	if len(variants) == 0 {
		return res
	}
	res.Src = variants[len(variants)-1].URL
	for _, v := range variants {
		if v.Width >= pw {
			res.Src = v.URL
			break
		}
	}
	res.SrcSet = buildSrcSet(variants)
	return res
}

func buildSrcSet(variants []Variant) string {
	parts := make([]string, len(variants))
	for i, v := range variants {
		parts[i] = v.URL + " " + strconv.Itoa(v.Width) + "w"
	}
	return strings.Join(parts, ", ")
}

// breakpoints returns the ascending variant widths for an image srcWidth
// pixels wide. Custom breakpoints replace the default fractions of maxWidth;
// maxWidth itself is always a candidate. Widths above the source are dropped
// and the source width is added instead, so the largest usable size is
// always available.
func breakpoints(custom []int, maxWidth, srcWidth int) []int {
	candidates := []int{maxWidth / 4, maxWidth / 2, maxWidth, maxWidth * 3 / 2, maxWidth * 2}
	if len(custom) > 0 {
		candidates = append(slices.Clone(custom), maxWidth)
	}

	var out []int
	overflow := false
	for _, w := range candidates {
		switch {
		case w <= 0:
		case w > srcWidth:
			overflow = true
		case !slices.Contains(out, w):
			out = append(out, w)
		}
	}
	if overflow && !slices.Contains(out, srcWidth) {
		out = append(out, srcWidth)
	}
	slices.Sort(out)
	return out
}

var unsafeNameRe = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// slug makes a file name safe to appear unquoted in a srcset.
func slug(name string) string {
	s := strings.Trim(unsafeNameRe.ReplaceAllString(name, "-"), "-")
	if s == "" {
		return "image"
	}
	return s
}

func heightFor(width int, aspect float64) int {
	return max(1, int(math.Round(float64(width)/aspect)))
}

// cacheKey hashes the source content hash together with the arguments.
// encoding/json sorts map keys, so equal arguments give equal keys.
func cacheKey(contentHash string, args config.FluidArgs) (string, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encoding fluid arguments: %w", err)
	}
	h := xxhash.New()
	_, _ = h.WriteString(contentHash)
	_, _ = h.Write(data)
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// lookup returns a result already produced in this process, if any.
func (p *Processor) lookup(key string) *FluidResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.registry[key]
}

// register stores a FluidResult in the registry under the given key.
func (p *Processor) register(key string, res *FluidResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registry[key] = res
}

// isSupportedImage reports whether files with the given extension can be
// decoded and resized.
func isSupportedImage(ext string) bool {
	switch strings.ToLower(ext) {
	case "jpg", "jpeg", "png", "webp", "tif", "tiff", "bmp":
		return true
	}
	return false
}

// targetFormat maps a toFormat option onto a concrete format name. An empty
// option keeps the source format where it can be written.
func targetFormat(toFormat, srcExt string) (string, error) {
	switch strings.ToLower(toFormat) {
	case "":
		return sourceFormat(srcExt), nil
	case "jpg", "jpeg":
		return "jpeg", nil
	case "png":
		return "png", nil
	case "webp":
		return "webp", nil
	}
	return "", errors.New(errors.ErrCodeInvalidOptions, "unsupported toFormat %q", toFormat)
}

// sourceFormat returns the output format that preserves a source extension.
func sourceFormat(ext string) string {
	switch strings.ToLower(ext) {
	case "png":
		return "png"
	case "webp":
		return "webp"
	default:
		return "jpeg"
	}
}

// formatExtension returns the file extension (without dot) for a format name.
func formatExtension(format string) string {
	switch format {
	case "webp":
		return "webp"
	case "png":
		return "png"
	default:
		return "jpg"
	}
}

// mimeType returns the media type for a format name.
func mimeType(format string) string {
	switch format {
	case "webp":
		return "image/webp"
	case "png":
		return "image/png"
	default:
		return "image/jpeg"
	}
}

// placeholder encodes img as a data URL.
func placeholder(img image.Image, format string, quality int) (string, error) {
	var buf bytes.Buffer
	if err := encode(&buf, img, format, quality); err != nil {
		return "", err
	}
	return "data:" + mimeType(format) + ";base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// encodeImage writes img to outPath in the specified format.
func encodeImage(img image.Image, outPath, format string, quality int) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return err
	}
	f, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := encode(f, img, format, quality); err != nil {
		return err
	}
	return f.Close()
}

func encode(w io.Writer, img image.Image, format string, quality int) error {
	switch format {
	case "webp":
		if err := webp.Encode(w, img, webp.Options{Quality: quality}); err != nil {
			return fmt.Errorf("encoding webp: %w", err)
		}
	case "png":
		if err := png.Encode(w, img); err != nil {
			return fmt.Errorf("encoding png: %w", err)
		}
	default: // jpeg
		if err := jpeg.Encode(w, img, &jpeg.Options{Quality: quality}); err != nil {
			return fmt.Errorf("encoding jpeg: %w", err)
		}
	}
	return nil
}
