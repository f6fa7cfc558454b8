// Package assets indexes the files a document may reference and resolves
// document-relative image references against that index.
package assets

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// File is one entry of the asset index.
type File struct {
	ID           string `json:"id"           yaml:"id"`
	AbsolutePath string `json:"absolutePath" yaml:"absolutePath"`
	Dir          string `json:"dir"          yaml:"dir"`
	Name         string `json:"name"         yaml:"name"`
	Extension    string `json:"extension"    yaml:"extension"`
	Size         int64  `json:"size"         yaml:"size"`
}

// NewFile builds a File record for an absolute path. The ID is the path
// itself, which keeps IDs unique within an index.
func NewFile(absPath string) *File {
	base := filepath.Base(absPath)
	ext := filepath.Ext(base)
	return &File{
		ID:           absPath,
		AbsolutePath: absPath,
		Dir:          filepath.Dir(absPath),
		Name:         strings.TrimSuffix(base, ext),
		Extension:    strings.TrimPrefix(strings.ToLower(ext), "."),
	}
}

// Index is an ordered, read-only collection of files. It is safe for
// concurrent use once built.
type Index struct {
	files []*File
	byID  map[string]*File
}

// NewIndex builds an Index over files, keeping their order.
func NewIndex(files []*File) *Index {
	ix := &Index{
		files: files,
		byID:  make(map[string]*File, len(files)),
	}
	for _, f := range files {
		if _, dup := ix.byID[f.ID]; !dup {
			ix.byID[f.ID] = f
		}
	}
	return ix
}

// Scan walks root and indexes every regular file below it. Hidden
// directories such as .git and the image cache are skipped.
func Scan(root string) (*Index, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving asset root %s: %w", root, err)
	}

	var files []*File
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != absRoot && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		f := NewFile(path)
		if info, err := d.Info(); err == nil {
			f.Size = info.Size()
		}
		files = append(files, f)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning assets in %s: %w", absRoot, err)
	}
	return NewIndex(files), nil
}

// Add returns a new Index with f appended. Used to register the document
// being transformed when it lives outside the scanned tree.
func (ix *Index) Add(f *File) *Index {
	if _, ok := ix.byID[f.ID]; ok {
		return ix
	}
	files := make([]*File, 0, len(ix.files)+1)
	files = append(files, ix.files...)
	return NewIndex(append(files, f))
}

// Files returns the indexed files in order.
func (ix *Index) Files() []*File {
	return ix.files
}

// Len returns the number of indexed files.
func (ix *Index) Len() int {
	return len(ix.files)
}

// Node returns the file with the given ID.
func (ix *Index) Node(id string) (*File, bool) {
	f, ok := ix.byID[id]
	return f, ok
}

// Dir returns the directory of the file identified by parent. It is the
// document context accessor: a document's parent is the file it was read
// from.
func (ix *Index) Dir(parent string) (string, bool) {
	f, ok := ix.byID[parent]
	if !ok || f.Dir == "" {
		return "", false
	}
	return f.Dir, true
}

// FindByPath returns the first file whose absolute path equals absPath once
// both are in forward-slash form.
func (ix *Index) FindByPath(absPath string) (*File, bool) {
	want := filepath.ToSlash(absPath)
	for _, f := range ix.files {
		if filepath.ToSlash(f.AbsolutePath) == want {
			return f, true
		}
	}
	return nil, false
}

// Open opens the file for reading.
func (f *File) Open() (*os.File, error) {
	return os.Open(f.AbsolutePath)
}
