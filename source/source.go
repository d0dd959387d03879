// Package source resolves component names to TSX source text.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	DefaultPattern = "**/*.{tsx,jsx}"
	DefaultMaxSize = 1 << 20
)

// Extensions are tried in order when resolving a name.
var Extensions = []string{".tsx", ".jsx", ".ts", ".js"}

var (
	ErrNotFound    = errors.New("component not found")
	ErrInvalidName = errors.New("invalid component name")
	ErrTooLarge    = errors.New("component source too large")
)

// Resolver maps a component name to its source.
type Resolver interface {
	Resolve(ctx context.Context, name string) (string, error)
}

// Option configures a Dir.
type Option func(*Dir)

// WithPattern sets the doublestar pattern List matches.
func WithPattern(pattern string) Option {
	return func(d *Dir) {
		d.pattern = pattern
	}
}

// WithMaxSize caps the size of a source file.
func WithMaxSize(n int64) Option {
	return func(d *Dir) {
		d.maxSize = n
	}
}

// Dir resolves names against a directory tree: "forms/Login" is
// forms/Login.tsx (or .jsx, .ts, .js) below the root.
type Dir struct {
	fsys    fs.FS
	pattern string
	maxSize int64
}

var _ Resolver = (*Dir)(nil)

func NewDir(root string, opts ...Option) *Dir {
	return NewFS(os.DirFS(root), opts...)
}

func NewFS(fsys fs.FS, opts ...Option) *Dir {
	d := &Dir{fsys: fsys, pattern: DefaultPattern, maxSize: DefaultMaxSize}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dir) Resolve(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name = strings.TrimPrefix(path.Clean("/"+strings.TrimSpace(name)), "/")
	if name == "" || strings.Contains(name, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	candidates := []string{name}
	if !hasExtension(name) {
		candidates = candidates[:0]
		for _, ext := range Extensions {
			candidates = append(candidates, name+ext)
		}
	}

	for _, p := range candidates {
		if !fs.ValidPath(p) {
			return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
		src, err := d.read(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		return src, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, name)
}

func (d *Dir) read(p string) (string, error) {
	f, err := d.fsys.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", p, err)
	}
	if info.IsDir() {
		return "", fs.ErrNotExist
	}

	data, err := io.ReadAll(io.LimitReader(f, d.maxSize+1))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", p, err)
	}
	if int64(len(data)) > d.maxSize {
		return "", fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, p, d.maxSize)
	}
	return string(data), nil
}

// List returns the names of every component matching the pattern, sorted,
// without extensions.
func (d *Dir) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	matches, err := doublestar.Glob(d.fsys, d.pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", d.pattern, err)
	}

	seen := make(map[string]bool, len(matches))
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		name := strings.TrimSuffix(m, path.Ext(m))
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func hasExtension(name string) bool {
	ext := path.Ext(name)
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}
