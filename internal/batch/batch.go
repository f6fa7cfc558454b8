// Package batch finds the documents below a directory and transforms them
// with a bounded worker pool.
package batch

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
)

// Extensions lists the document extensions Discover picks up.
var Extensions = []string{".md", ".markdown", ".mdx"}

// Document is one discovered input.
type Document struct {
	// Path is the absolute path of the document.
	Path string
	// Rel is Path relative to the discovery root, in slash form.
	Rel string
}

// Discover walks root and returns every document in it in lexical order.
// Hidden directories and the directories in ignore are skipped.
func Discover(root string, ignore ...string) ([]Document, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", root, err)
	}
	skip := make(map[string]bool, len(ignore))
	for _, dir := range ignore {
		if abs, err := filepath.Abs(dir); err == nil {
			skip[abs] = true
		}
	}

	var docs []Document
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != absRoot && (strings.HasPrefix(d.Name(), ".") || skip[path]) {
				return filepath.SkipDir
			}
			return nil
		}
		if !slices.Contains(Extensions, strings.ToLower(filepath.Ext(path))) {
			return nil
		}

		rel, err := filepath.Rel(absRoot, path)
		if err != nil {
			return fmt.Errorf("computing relative path for %s: %w", path, err)
		}
		docs = append(docs, Document{Path: path, Rel: filepath.ToSlash(rel)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	return docs, nil
}

// Run calls fn for each document on up to workers goroutines (runtime.NumCPU
// when workers <= 0). The first error stops the remaining documents from
// being started and is returned; documents already running finish.
func Run(ctx context.Context, docs []Document, workers int, fn func(context.Context, Document) error) error {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if len(docs) == 0 {
		return nil
	}
	if workers > len(docs) {
		workers = len(docs)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan Document)
	errCh := make(chan error, 1)
	var once sync.Once
	var wg sync.WaitGroup

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for doc := range jobs {
				if err := fn(ctx, doc); err != nil {
					once.Do(func() {
						errCh <- fmt.Errorf("transforming %s: %w", doc.Rel, err)
						cancel()
					})
					return
				}
			}
		}()
	}

send:
	for _, doc := range docs {
		select {
		case jobs <- doc:
		case <-ctx.Done():
			break send
		}
	}
	close(jobs)

	wg.Wait()
	close(errCh)

	if err, ok := <-errCh; ok {
		return err
	}
	return ctx.Err()
}
