// Package image produces responsive image metadata for resolved assets.
//
// The Generator shapes processor output into the metadata embedded in the
// rewritten document. Processor is the default on-disk implementation: it
// resizes sources with imaging, encodes jpeg, png and webp variants, and keeps
// a build cache so unchanged images are not re-encoded across runs.
package image

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// cacheManifestVersion is bumped when the cache format changes.
const cacheManifestVersion = "1"

// Cache manages processed image variants on disk so that unchanged images
// are not re-processed across runs. All methods are safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	dir      string        // e.g. .fluidimg/cache/
	manifest CacheManifest // loaded from manifest.json
}

// CacheManifest is the top-level structure persisted as manifest.json.
type CacheManifest struct {
	Version string                 `json:"version"`
	Entries map[string]*CacheEntry `json:"entries"` // keyed by cache key
}

// CacheEntry records one processing result. The cache key already covers the
// source content and the processing arguments, so a matching key is a hit as
// long as the variant files are still present.
type CacheEntry struct {
	Source             string          `json:"source"`
	ContentHash        string          `json:"contentHash"`
	AspectRatio        float64         `json:"aspectRatio"`
	Base64             string          `json:"base64,omitempty"`
	PresentationWidth  int             `json:"presentationWidth"`
	PresentationHeight int             `json:"presentationHeight"`
	Variants           []CachedVariant `json:"variants"`
}

// CachedVariant describes one generated file stored in the cache directory.
type CachedVariant struct {
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Format   string `json:"format"`
	Filename string `json:"filename"` // just the filename, stored in cache dir
}

// NewCache creates a Cache rooted at cacheDir. If a manifest.json already
// exists there it is loaded; otherwise an empty manifest is initialised.
func NewCache(cacheDir string) (*Cache, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	c := &Cache{
		dir: cacheDir,
		manifest: CacheManifest{
			Version: cacheManifestVersion,
			Entries: make(map[string]*CacheEntry),
		},
	}

	data, err := os.ReadFile(filepath.Join(cacheDir, "manifest.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("reading cache manifest: %w", err)
	}

	var m CacheManifest
	if err := json.Unmarshal(data, &m); err != nil {
		// Corrupt manifest, start fresh.
		return c, nil
	}
	if m.Version != cacheManifestVersion {
		return c, nil
	}
	if m.Entries == nil {
		m.Entries = make(map[string]*CacheEntry)
	}
	c.manifest = m
	return c, nil
}

// Lookup returns the entry stored under key. It misses when any of the
// entry's variant files has disappeared from the cache directory.
func (c *Cache) Lookup(key string) (*CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.manifest.Entries[key]
	if !ok {
		return nil, false
	}
	for _, v := range entry.Variants {
		if _, err := os.Stat(filepath.Join(c.dir, v.Filename)); err != nil {
			return nil, false
		}
	}
	return entry, true
}

// Store adds or replaces the entry for key and persists the manifest.
func (c *Cache) Store(key string, entry *CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.manifest.Entries[key] = entry
	return c.saveManifest()
}

// Keep copies generated variant files from outputDir into the cache
// directory. Failures are ignored; a missing file only turns a later lookup
// into a miss.
func (c *Cache) Keep(outputDir string, variants []CachedVariant) {
	for _, cv := range variants {
		_ = copyFile(filepath.Join(outputDir, cv.Filename), filepath.Join(c.dir, cv.Filename))
	}
}

// CopyToOutput copies cached variant files from the cache directory into
// outputDir and returns a slice of Variant with URLs constructed from
// urlPrefix.
func (c *Cache) CopyToOutput(variants []CachedVariant, outputDir, urlPrefix string) ([]Variant, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	result := make([]Variant, 0, len(variants))
	for _, cv := range variants {
		src := filepath.Join(c.dir, cv.Filename)
		dst := filepath.Join(outputDir, cv.Filename)
		if err := copyFile(src, dst); err != nil {
			return nil, fmt.Errorf("copying cached variant %s: %w", cv.Filename, err)
		}
		result = append(result, Variant{
			Width:  cv.Width,
			Height: cv.Height,
			Format: cv.Format,
			URL:    joinURL(urlPrefix, cv.Filename),
			Path:   dst,
		})
	}
	return result, nil
}

// saveManifest writes the manifest to manifest.json. Callers hold c.mu.
func (c *Cache) saveManifest() error {
	data, err := json.MarshalIndent(c.manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling cache manifest: %w", err)
	}
	return os.WriteFile(filepath.Join(c.dir, "manifest.json"), data, 0o644)
}

// HashFile returns the xxhash64 hex digest of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// copyFile copies a single file from src to dst, creating parent directories
// as needed.
func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// joinURL appends filename to a URL prefix with exactly one slash between.
func joinURL(prefix, filename string) string {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		return filename
	}
	return prefix + "/" + filename
}
