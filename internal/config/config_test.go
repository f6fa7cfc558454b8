package config

import (
	"os"
	"path/filepath"
	"testing"
)

// writeConfig writes content to a file named name inside a temp directory and
// returns its path.
func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

// ---------------------------------------------------------------------------
// TestDefault
// ---------------------------------------------------------------------------

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.ElementName != "Img" {
		t.Errorf("ElementName: got %q, want %q", cfg.ElementName, "Img")
	}
	if cfg.MetadataAttribute != "metadata" {
		t.Errorf("MetadataAttribute: got %q, want %q", cfg.MetadataAttribute, "metadata")
	}
	if !cfg.ReplaceMarkdownImageParent {
		t.Error("ReplaceMarkdownImageParent: got false, want true")
	}

	args, err := cfg.FluidArgs()
	if err != nil {
		t.Fatalf("FluidArgs() error: %v", err)
	}
	if args.MaxWidth != 800 {
		t.Errorf("MaxWidth: got %d, want %d", args.MaxWidth, 800)
	}
	if args.Quality != 80 {
		t.Errorf("Quality: got %d, want %d", args.Quality, 80)
	}

	flags, err := cfg.OutputFlags()
	if err != nil {
		t.Fatalf("OutputFlags() error: %v", err)
	}
	if !flags.Base64 || flags.WithWebp || flags.LimitPresentationSize {
		t.Errorf("unexpected default output flags: %+v", flags)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// TestMerge
// ---------------------------------------------------------------------------

func TestMergeLayering(t *testing.T) {
	invocation := Layer{Fluid: Values{"maxWidth": 400}}
	occurrence := Layer{Fluid: Values{"quality": 50}}

	cfg := Merge(*Default(), invocation, occurrence)

	args, err := cfg.FluidArgs()
	if err != nil {
		t.Fatal(err)
	}
	if args.MaxWidth != 400 {
		t.Errorf("MaxWidth: got %d, want 400", args.MaxWidth)
	}
	if args.Quality != 50 {
		t.Errorf("Quality: got %d, want 50", args.Quality)
	}
}

func TestMergeHigherLayerWins(t *testing.T) {
	cfg := Merge(*Default(),
		Layer{Fluid: Values{"quality": 60}},
		Layer{Fluid: Values{"quality": 30}},
	)
	args, err := cfg.FluidArgs()
	if err != nil {
		t.Fatal(err)
	}
	if args.Quality != 30 {
		t.Errorf("Quality: got %d, want 30", args.Quality)
	}
	if args.MaxWidth != 800 {
		t.Errorf("MaxWidth: got %d, want default 800", args.MaxWidth)
	}
}

func TestMergeDoesNotMutateBase(t *testing.T) {
	base := *Default()
	_ = Merge(base, Layer{
		ElementName: strPtr("Picture"),
		Fluid:       Values{"maxWidth": 100},
		Output:      Values{"withWebp": true},
	})

	if base.ElementName != "Img" {
		t.Errorf("base ElementName changed to %q", base.ElementName)
	}
	if base.Fluid["maxWidth"] != 800 {
		t.Errorf("base fluid maxWidth changed to %v", base.Fluid["maxWidth"])
	}
	if base.Output["withWebp"] != false {
		t.Errorf("base output withWebp changed to %v", base.Output["withWebp"])
	}
}

func TestMergeCaseInsensitiveKeys(t *testing.T) {
	cfg := Merge(*Default(), Layer{Fluid: Values{"maxwidth": 320}})

	if len(cfg.Fluid) != 2 {
		t.Fatalf("expected folded keys to replace defaults, got %v", cfg.Fluid)
	}
	args, err := cfg.FluidArgs()
	if err != nil {
		t.Fatal(err)
	}
	if args.MaxWidth != 320 {
		t.Errorf("MaxWidth: got %d, want 320", args.MaxWidth)
	}
}

func TestMergeUnknownKeysPassThrough(t *testing.T) {
	cfg := Merge(*Default(), Layer{Fluid: Values{"duotone": "sepia"}})
	args, err := cfg.FluidArgs()
	if err != nil {
		t.Fatal(err)
	}
	if args.Extra["duotone"] != "sepia" {
		t.Errorf("expected unknown key in Extra, got %v", args.Extra)
	}
}

func TestMergeScalarLayers(t *testing.T) {
	cfg := Merge(*Default(), Layer{
		ElementName:                strPtr("Figure"),
		MetadataAttribute:          strPtr("fluid"),
		ReplaceMarkdownImageParent: boolPtr(false),
	})
	if cfg.ElementName != "Figure" || cfg.MetadataAttribute != "fluid" || cfg.ReplaceMarkdownImageParent {
		t.Errorf("scalar layer not applied: %+v", cfg)
	}
}

func TestFluidArgsWeakTyping(t *testing.T) {
	// Inline options arrive as JSON, so numbers are float64 and may even be
	// quoted strings.
	cfg := Merge(*Default(), Layer{Fluid: Values{"maxWidth": float64(640), "quality": "70"}})
	args, err := cfg.FluidArgs()
	if err != nil {
		t.Fatal(err)
	}
	if args.MaxWidth != 640 || args.Quality != 70 {
		t.Errorf("got %+v", args)
	}
}

// ---------------------------------------------------------------------------
// TestLoad
// ---------------------------------------------------------------------------

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "fluidimg.yaml", `
elementName: Picture
replaceMarkdownImageParent: false
concurrency: 3
fluid:
  maxWidth: 1200
output:
  withWebp: true
images:
  urlPrefix: /assets
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.ElementName != "Picture" {
		t.Errorf("ElementName: got %q, want %q", cfg.ElementName, "Picture")
	}
	if cfg.ReplaceMarkdownImageParent {
		t.Error("ReplaceMarkdownImageParent: got true, want false")
	}
	if cfg.Concurrency != 3 {
		t.Errorf("Concurrency: got %d, want 3", cfg.Concurrency)
	}
	if cfg.Images.URLPrefix != "/assets" {
		t.Errorf("URLPrefix: got %q, want %q", cfg.Images.URLPrefix, "/assets")
	}
	if cfg.Images.CacheDir != Default().Images.CacheDir {
		t.Errorf("CacheDir should keep its default, got %q", cfg.Images.CacheDir)
	}

	args, err := cfg.FluidArgs()
	if err != nil {
		t.Fatal(err)
	}
	if args.MaxWidth != 1200 {
		t.Errorf("MaxWidth: got %d, want 1200", args.MaxWidth)
	}
	if args.Quality != 80 {
		t.Errorf("Quality should keep its default, got %d", args.Quality)
	}

	flags, err := cfg.OutputFlags()
	if err != nil {
		t.Fatal(err)
	}
	if !flags.WithWebp || !flags.Base64 {
		t.Errorf("unexpected output flags: %+v", flags)
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, "fluidimg.toml", `
elementName = "Img"

[fluid]
quality = 55
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	args, err := cfg.FluidArgs()
	if err != nil {
		t.Fatal(err)
	}
	if args.Quality != 55 || args.MaxWidth != 800 {
		t.Errorf("got %+v", args)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoadInvalid(t *testing.T) {
	path := writeConfig(t, "bad.yaml", "elementName: \"1nvalid tag\"\n")
	if _, err := Load(path); err == nil {
		t.Error("expected validation error")
	}
}

// ---------------------------------------------------------------------------
// TestValidate
// ---------------------------------------------------------------------------

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"member expression", func(c *Config) { c.ElementName = "Gallery.Img" }, false},
		{"empty element", func(c *Config) { c.ElementName = "" }, true},
		{"element with space", func(c *Config) { c.ElementName = "My Img" }, true},
		{"empty attribute", func(c *Config) { c.MetadataAttribute = "" }, true},
		{"attribute with equals", func(c *Config) { c.MetadataAttribute = "a=b" }, true},
		{"negative concurrency", func(c *Config) { c.Concurrency = -1 }, true},
		{"undecodable fluid", func(c *Config) { c.Fluid = Values{"maxWidth": []string{"x"}} }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// TestWithOverrides
// ---------------------------------------------------------------------------

func TestWithOverrides(t *testing.T) {
	cfg := Default().WithOverrides(map[string]any{
		"elementName": "Picture",
		"maxWidth":    1024,
		"withWebp":    true,
		"base64":      false,
		"concurrency": 2,
		"urlPrefix":   "/img",
		"cacheDir":    "tmp/cache",
		"ignored":     "value",
	})

	if cfg.ElementName != "Picture" {
		t.Errorf("ElementName: got %q", cfg.ElementName)
	}
	if cfg.Concurrency != 2 {
		t.Errorf("Concurrency: got %d", cfg.Concurrency)
	}
	if cfg.Images.URLPrefix != "/img" {
		t.Errorf("URLPrefix: got %q", cfg.Images.URLPrefix)
	}
	if cfg.Images.CacheDir != "tmp/cache" {
		t.Errorf("CacheDir: got %q", cfg.Images.CacheDir)
	}
	args, _ := cfg.FluidArgs()
	if args.MaxWidth != 1024 || args.Quality != 80 {
		t.Errorf("fluid: got %+v", args)
	}
	flags, _ := cfg.OutputFlags()
	if !flags.WithWebp || flags.Base64 {
		t.Errorf("output: got %+v", flags)
	}
}

func TestLayerFromMap(t *testing.T) {
	l, err := LayerFromMap(map[string]any{
		"title": "A post",
		"fluid": map[string]any{"maxWidth": 500},
	})
	if err != nil {
		t.Fatal(err)
	}
	if l.Fluid["maxWidth"] != 500 {
		t.Errorf("Fluid: got %v", l.Fluid)
	}
	if l.ElementName != nil || l.Output != nil {
		t.Errorf("unexpected fields set: %+v", l)
	}

	empty, err := LayerFromMap(nil)
	if err != nil || empty.Fluid != nil {
		t.Errorf("empty map: got %+v, %v", empty, err)
	}
}
