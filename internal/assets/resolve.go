package assets

import (
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/aellingwood/fluidimg/internal/errors"
)

// DirLookup returns the containing directory of a document given its parent
// reference.
type DirLookup interface {
	Dir(parent string) (string, bool)
}

// PathLookup finds a file by absolute path.
type PathLookup interface {
	FindByPath(absPath string) (*File, bool)
}

// skippedExtensions lists formats that are never processed: animated GIFs
// cannot be re-encoded safely and vector images are already resolution
// independent.
var skippedExtensions = map[string]bool{
	"gif":  true,
	"svg":  true,
	"svgz": true,
}

// schemeRe matches a URL scheme such as https: or data:.
var schemeRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z\d+\-.]*:`)

// Resolver maps document-relative image references to indexed files.
type Resolver struct {
	files PathLookup
	dirs  DirLookup
}

// NewResolver creates a Resolver. An *Index satisfies both arguments.
func NewResolver(files PathLookup, dirs DirLookup) *Resolver {
	return &Resolver{files: files, dirs: dirs}
}

// Resolve returns the file that src refers to from the document identified
// by parent. Failures are resolution misses: ErrCodeUnsupported for external
// references and skipped formats, ErrCodeNotFound when the document has no
// directory or no indexed file matches.
func (r *Resolver) Resolve(src, parent string) (*File, error) {
	if !IsRelative(src) {
		return nil, errors.New(errors.ErrCodeUnsupported, "%q is not a relative reference", src)
	}
	if ext := Extension(src); skippedExtensions[ext] {
		return nil, errors.New(errors.ErrCodeUnsupported, "%q has unprocessable format %q", src, ext)
	}

	dir, ok := r.dirs.Dir(parent)
	if !ok {
		return nil, errors.New(errors.ErrCodeNotFound, "document %q has no directory to resolve %q against", parent, src)
	}

	base := filepath.ToSlash(dir)
	if f, ok := r.files.FindByPath(path.Join(base, src)); ok {
		return f, nil
	}
	if unescaped, err := url.PathUnescape(src); err == nil && unescaped != src {
		if f, ok := r.files.FindByPath(path.Join(base, unescaped)); ok {
			return f, nil
		}
	}
	return nil, errors.New(errors.ErrCodeNotFound, "no asset matches %q relative to %s", src, dir)
}

// IsRelative reports whether src is a relative reference that can be
// resolved against a document directory. URLs with a scheme, protocol
// relative URLs, rooted paths and bare fragments are not.
func IsRelative(src string) bool {
	switch {
	case src == "":
		return false
	case schemeRe.MatchString(src):
		return false
	case strings.HasPrefix(src, "/"), strings.HasPrefix(src, `\`):
		return false
	case strings.HasPrefix(src, "#"):
		return false
	}
	return true
}

// Extension returns the lower-cased extension of a reference without the dot,
// ignoring any query string or fragment.
func Extension(src string) string {
	if i := strings.IndexAny(src, "?#"); i >= 0 {
		src = src[:i]
	}
	return strings.TrimPrefix(strings.ToLower(path.Ext(src)), ".")
}
