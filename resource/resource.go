// Package resource resolves request paths to files below a served root directory.
package resource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

var (
	ErrNotFound  = errors.New("resource not found")
	ErrForbidden = errors.New("resource not accessible")
)

const (
	IndexFile          = "index.html"
	DefaultContentType = "text/plain; charset=utf-8"
)

// Representation is the fetched state of a resource.
type Representation struct {
	Content      []byte
	ContentType  string
	LastModified time.Time
}

// Root serves files below a single directory.
type Root struct {
	dir string
}

func NewRoot(dir string) (Root, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Root{}, fmt.Errorf("resolving root %q: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Root{}, fmt.Errorf("opening root %q: %w", dir, err)
	}
	if !info.IsDir() {
		return Root{}, fmt.Errorf("root %q is not a directory", dir)
	}
	// containment is checked on real paths
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}
	return Root{dir: abs}, nil
}

func (r Root) Dir() string {
	return r.dir
}

// Resolve maps an URL path to a file below the root.
// Paths that leave the root, also through symlinks, give ErrForbidden.
func (r Root) Resolve(urlPath string) (Resource, error) {
	if IsTraversal(urlPath) {
		return Resource{}, ErrForbidden
	}
	clean := path.Clean("/" + urlPath)
	name := filepath.Join(r.dir, filepath.FromSlash(clean))

	info, err := os.Stat(name)
	if err != nil {
		return Resource{}, statError(err)
	}
	if info.IsDir() {
		name = filepath.Join(name, IndexFile)
		if info, err = os.Stat(name); err != nil {
			return Resource{}, statError(err)
		}
	}
	if !info.Mode().IsRegular() {
		return Resource{}, ErrForbidden
	}
	real, err := filepath.EvalSymlinks(name)
	if err != nil {
		return Resource{}, statError(err)
	}
	if !r.contains(real) {
		return Resource{}, ErrForbidden
	}
	f, err := os.Open(real)
	if err != nil {
		return Resource{}, statError(err)
	}
	f.Close()
	return Resource{path: real}, nil
}

// IsTraversal reports whether an URL path tries to leave the directory it is resolved in.
// It is checked before cleaning, as "/../x" would otherwise clean to "/x".
func IsTraversal(urlPath string) bool {
	if strings.ContainsRune(urlPath, 0) {
		return true
	}
	for _, seg := range strings.Split(urlPath, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

func (r Root) contains(name string) bool {
	rel, err := filepath.Rel(r.dir, name)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func statError(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %v", ErrForbidden, err)
	default:
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
}

// Resource is a resolved file.
type Resource struct {
	path string
}

func (r Resource) Path() string {
	return r.path
}

// Fetch reads the whole resource.
func (r Resource) Fetch(ctx context.Context) (Representation, error) {
	if err := ctx.Err(); err != nil {
		return Representation{}, err
	}
	f, err := os.Open(r.path)
	if err != nil {
		return Representation{}, statError(err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return Representation{}, statError(err)
	}
	content := make([]byte, 0, info.Size())
	buf := make([]byte, 32*1024)
	for {
		n, err := f.Read(buf)
		content = append(content, buf[:n]...)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return Representation{}, fmt.Errorf("reading %s: %w", r.path, err)
		}
		if err := ctx.Err(); err != nil {
			return Representation{}, err
		}
	}
	return Representation{
		Content:      content,
		ContentType:  ContentType(r.path),
		LastModified: info.ModTime(),
	}, nil
}

// ContentType guesses the media type from the file extension.
func ContentType(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return DefaultContentType
}
