package image

import (
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/aellingwood/fluidimg/internal/assets"
	"github.com/aellingwood/fluidimg/internal/config"
	"github.com/aellingwood/fluidimg/internal/errors"
)

// createTestJPEG writes a plain-colour JPEG of the given dimensions to path.
func createTestJPEG(t *testing.T, path string, w, h int) *assets.File {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 100, G: 150, B: 200, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatal(err)
	}
	return assets.NewFile(path)
}

// createTestPNG writes a plain-colour PNG of the given dimensions to path.
func createTestPNG(t *testing.T, path string, w, h int) *assets.File {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 50, G: 100, B: 150, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return assets.NewFile(path)
}

func testImageConfig() config.ImageConfig {
	return config.ImageConfig{
		OutputDir: filepath.Join("public", "static"),
		URLPrefix: "/static",
		CacheDir:  filepath.Join(".fluidimg", "cache"),
	}
}

func variantWidths(vs []Variant) []int {
	var out []int
	for _, v := range vs {
		out = append(out, v.Width)
	}
	return out
}

// ---------------------------------------------------------------
// Processor tests
// ---------------------------------------------------------------

func TestFluid_PNG(t *testing.T) {
	root := t.TempDir()
	file := createTestPNG(t, filepath.Join(root, "content", "wide.png"), 1000, 500)

	proc := NewProcessor(testImageConfig(), root)
	res, err := proc.Fluid(context.Background(), file, config.FluidArgs{MaxWidth: 400, Quality: 80})
	if err != nil {
		t.Fatalf("Fluid: %v", err)
	}

	if res.AspectRatio != 2 {
		t.Errorf("AspectRatio = %v; want 2", res.AspectRatio)
	}
	if got, want := variantWidths(res.Variants), []int{100, 200, 400, 600, 800}; !slices.Equal(got, want) {
		t.Errorf("widths = %v; want %v", got, want)
	}
	if res.PresentationWidth != 400 || res.PresentationHeight != 200 {
		t.Errorf("presentation = %dx%d; want 400x200", res.PresentationWidth, res.PresentationHeight)
	}
	if !strings.HasPrefix(res.Src, "/static/wide-") || !strings.HasSuffix(res.Src, "-400w.png") {
		t.Errorf("Src = %q", res.Src)
	}
	if !strings.HasPrefix(res.Base64, "data:image/png;base64,") {
		t.Errorf("Base64 = %q", res.Base64)
	}
	if n := strings.Count(res.SrcSet, ", ") + 1; n != 5 {
		t.Errorf("srcset entries = %d; want 5 (%q)", n, res.SrcSet)
	}

	for _, v := range res.Variants {
		if _, err := os.Stat(v.Path); err != nil {
			t.Errorf("variant file missing: %s", v.Path)
		}
		if filepath.Dir(v.Path) != filepath.Join(root, "public", "static") {
			t.Errorf("variant written to %s", v.Path)
		}
		if v.Height != v.Width/2 {
			t.Errorf("variant %dw height = %d", v.Width, v.Height)
		}
	}
}

func TestFluid_NoUpscaling(t *testing.T) {
	root := t.TempDir()
	file := createTestJPEG(t, filepath.Join(root, "small.jpg"), 300, 200)

	proc := NewProcessor(testImageConfig(), root)
	res, err := proc.Fluid(context.Background(), file, config.FluidArgs{MaxWidth: 800})
	if err != nil {
		t.Fatalf("Fluid: %v", err)
	}

	if got, want := variantWidths(res.Variants), []int{200, 300}; !slices.Equal(got, want) {
		t.Errorf("widths = %v; want %v", got, want)
	}
	if res.PresentationWidth != 300 || res.PresentationHeight != 200 {
		t.Errorf("presentation = %dx%d; want 300x200", res.PresentationWidth, res.PresentationHeight)
	}
	if !strings.HasSuffix(res.Src, "-300w.jpg") {
		t.Errorf("Src = %q; want the full-size variant", res.Src)
	}
	if !strings.HasPrefix(res.Base64, "data:image/jpeg;base64,") {
		t.Errorf("Base64 = %q", res.Base64)
	}
}

func TestFluid_MaxHeightCrops(t *testing.T) {
	root := t.TempDir()
	file := createTestPNG(t, filepath.Join(root, "square.png"), 400, 400)

	proc := NewProcessor(testImageConfig(), root)
	res, err := proc.Fluid(context.Background(), file, config.FluidArgs{MaxWidth: 200, MaxHeight: 100})
	if err != nil {
		t.Fatalf("Fluid: %v", err)
	}

	if res.AspectRatio != 2 {
		t.Errorf("AspectRatio = %v; want 2", res.AspectRatio)
	}
	for _, v := range res.Variants {
		if v.Height != v.Width/2 {
			t.Errorf("variant %dw height = %d; want %d", v.Width, v.Height, v.Width/2)
		}
	}
	if res.PresentationHeight != 100 {
		t.Errorf("PresentationHeight = %d; want 100", res.PresentationHeight)
	}
}

func TestFluid_ToFormatWebp(t *testing.T) {
	root := t.TempDir()
	file := createTestPNG(t, filepath.Join(root, "photo.png"), 200, 100)

	proc := NewProcessor(testImageConfig(), root)
	res, err := proc.Fluid(context.Background(), file, config.FluidArgs{MaxWidth: 100, ToFormat: "webp"})
	if err != nil {
		t.Fatalf("Fluid: %v", err)
	}
	for _, v := range res.Variants {
		if v.Format != "webp" || !strings.HasSuffix(v.URL, ".webp") {
			t.Errorf("variant = %+v; want webp", v)
		}
	}
	if !strings.HasPrefix(res.Base64, "data:image/webp;base64,") {
		t.Errorf("Base64 = %q", res.Base64)
	}
}

func TestFluid_SameKeyProcessedOnce(t *testing.T) {
	root := t.TempDir()
	file := createTestJPEG(t, filepath.Join(root, "a.jpg"), 120, 80)
	proc := NewProcessor(testImageConfig(), root)
	args := config.FluidArgs{MaxWidth: 100}

	var wg sync.WaitGroup
	results := make([]*FluidResult, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = proc.Fluid(context.Background(), file, args)
		}()
	}
	wg.Wait()

	for i := range results {
		if errs[i] != nil {
			t.Fatalf("call %d: %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Errorf("call %d returned a different result", i)
		}
	}

	// Different arguments are a different result.
	other, err := proc.Fluid(context.Background(), file, config.FluidArgs{MaxWidth: 60})
	if err != nil {
		t.Fatal(err)
	}
	if other == results[0] {
		t.Error("different arguments should not share a result")
	}
}

func TestFluid_CacheHit(t *testing.T) {
	root := t.TempDir()
	file := createTestJPEG(t, filepath.Join(root, "hero.jpg"), 400, 300)
	args := config.FluidArgs{MaxWidth: 200}

	first, err := NewProcessor(testImageConfig(), root).Fluid(context.Background(), file, args)
	if err != nil {
		t.Fatalf("first Fluid: %v", err)
	}

	// Remove the output; a fresh processor restores it from the cache.
	if err := os.RemoveAll(filepath.Join(root, "public")); err != nil {
		t.Fatal(err)
	}

	second, err := NewProcessor(testImageConfig(), root).Fluid(context.Background(), file, args)
	if err != nil {
		t.Fatalf("second Fluid: %v", err)
	}
	if second.Src != first.Src || second.SrcSet != first.SrcSet || second.Base64 != first.Base64 {
		t.Errorf("cached result differs:\nfirst  %+v\nsecond %+v", first, second)
	}
	for _, v := range second.Variants {
		if _, err := os.Stat(v.Path); err != nil {
			t.Errorf("variant not restored: %s", v.Path)
		}
	}
}

func TestFluid_Errors(t *testing.T) {
	root := t.TempDir()
	proc := NewProcessor(testImageConfig(), root)
	pngFile := createTestPNG(t, filepath.Join(root, "a.png"), 10, 10)

	gif := filepath.Join(root, "anim.gif")
	if err := os.WriteFile(gif, []byte("GIF89a"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := proc.Fluid(context.Background(), assets.NewFile(gif), config.FluidArgs{})
	if !errors.Is(err, errors.ErrCodeUnsupported) {
		t.Errorf("gif: err = %v; want UNSUPPORTED", err)
	}

	_, err = proc.Fluid(context.Background(), pngFile, config.FluidArgs{ToFormat: "avif"})
	if !errors.Is(err, errors.ErrCodeInvalidOptions) {
		t.Errorf("avif: err = %v; want INVALID_OPTIONS", err)
	}

	broken := filepath.Join(root, "broken.jpg")
	if err := os.WriteFile(broken, []byte("not a jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := proc.Fluid(context.Background(), assets.NewFile(broken), config.FluidArgs{}); err == nil {
		t.Error("expected decode error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := proc.Fluid(ctx, pngFile, config.FluidArgs{}); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestBreakpoints(t *testing.T) {
	tests := []struct {
		name     string
		custom   []int
		maxWidth int
		srcWidth int
		want     []int
	}{
		{"large source", nil, 800, 2000, []int{200, 400, 800, 1200, 1600}},
		{"source between", nil, 800, 1000, []int{200, 400, 800, 1000}},
		{"tiny source", nil, 800, 100, []int{100}},
		{"exact double", nil, 400, 800, []int{100, 200, 400, 600, 800}},
		{"custom", []int{300, 500}, 400, 1000, []int{300, 400, 500}},
		{"custom dedup", []int{300, 300, 0}, 400, 350, []int{300, 350}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := breakpoints(tt.custom, tt.maxWidth, tt.srcWidth)
			if !slices.Equal(got, tt.want) {
				t.Errorf("breakpoints = %v; want %v", got, tt.want)
			}
		})
	}
}

func TestAssemblePicksPresentationVariant(t *testing.T) {
	variants := []Variant{
		{Width: 200, URL: "a-200.png"},
		{Width: 400, URL: "a-400.png"},
		{Width: 800, URL: "a-800.png"},
	}
	res := assemble(1.5, "", 400, 267, variants)
	if res.Src != "a-400.png" {
		t.Errorf("Src = %q; want a-400.png", res.Src)
	}
	if res.SrcSet != "a-200.png 200w, a-400.png 400w, a-800.png 800w" {
		t.Errorf("SrcSet = %q", res.SrcSet)
	}

	// Falls back to the largest variant.
	res = assemble(1.5, "", 1000, 667, variants)
	if res.Src != "a-800.png" {
		t.Errorf("Src = %q; want a-800.png", res.Src)
	}
}

func TestCacheKey(t *testing.T) {
	a, err := cacheKey("h", config.FluidArgs{MaxWidth: 400, Extra: map[string]any{"b": 1, "a": 2}})
	if err != nil {
		t.Fatal(err)
	}
	b, _ := cacheKey("h", config.FluidArgs{MaxWidth: 400, Extra: map[string]any{"a": 2, "b": 1}})
	c, _ := cacheKey("h", config.FluidArgs{MaxWidth: 400, ToFormat: "webp"})
	d, _ := cacheKey("other", config.FluidArgs{MaxWidth: 400, Extra: map[string]any{"b": 1, "a": 2}})

	if a != b {
		t.Errorf("equal arguments gave different keys: %q vs %q", a, b)
	}
	if a == c || a == d {
		t.Error("different inputs gave the same key")
	}
}

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"hero":         "hero",
		"my photo (1)": "my-photo-1",
		"__x__":        "__x__",
		"---":          "image",
		"":             "image",
	}
	for in, want := range tests {
		if got := slug(in); got != want {
			t.Errorf("slug(%q) = %q; want %q", in, got, want)
		}
	}
}

func TestTargetFormat(t *testing.T) {
	tests := []struct {
		toFormat, ext, want string
	}{
		{"", "png", "png"},
		{"", "jpg", "jpeg"},
		{"", "webp", "webp"},
		{"", "tiff", "jpeg"},
		{"JPG", "png", "jpeg"},
		{"webp", "jpg", "webp"},
	}
	for _, tt := range tests {
		got, err := targetFormat(tt.toFormat, tt.ext)
		if err != nil || got != tt.want {
			t.Errorf("targetFormat(%q, %q) = %q, %v; want %q", tt.toFormat, tt.ext, got, err, tt.want)
		}
	}
}
