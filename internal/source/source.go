// Package source resolves raw parser source text by filename.
package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrNotFound is returned when no source exists for a filename.
var ErrNotFound = errors.New("source not found")

// Provider returns the raw source text for a filename.
type Provider interface {
	Lookup(ctx context.Context, filename string) (string, error)
}

// Dir reads sources from files under a root directory.
type Dir struct {
	root string
}

// NewDir returns a provider rooted at root.
func NewDir(root string) *Dir {
	return &Dir{root: root}
}

// Root returns the directory sources are read from.
func (d *Dir) Root() string {
	return d.root
}

// Lookup reads root/filename. Names that would resolve outside root are
// reported as not found.
func (d *Dir) Lookup(ctx context.Context, filename string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := filepath.Clean(filepath.FromSlash(filename))
	if name == "." || filepath.IsAbs(name) || name == ".." || strings.HasPrefix(name, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w", filename, ErrNotFound)
	}

	data, err := os.ReadFile(filepath.Join(d.root, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", filename, ErrNotFound)
		}
		return "", fmt.Errorf("failed to read source %s: %w", filename, err)
	}
	return string(data), nil
}

// Map serves sources from memory.
type Map map[string]string

func (m Map) Lookup(ctx context.Context, filename string) (string, error) {
	s, ok := m[filename]
	if !ok {
		return "", fmt.Errorf("%s: %w", filename, ErrNotFound)
	}
	return s, nil
}

// Cached memoizes successful lookups of an underlying provider.
type Cached struct {
	next  Provider
	cache *lru.Cache[string, string]
}

// NewCached wraps next with an LRU cache of size entries.
func NewCached(next Provider, size int) (*Cached, error) {
	if size <= 0 {
		size = 256
	}
	c, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create source cache: %w", err)
	}
	return &Cached{next: next, cache: c}, nil
}

func (c *Cached) Lookup(ctx context.Context, filename string) (string, error) {
	if s, ok := c.cache.Get(filename); ok {
		return s, nil
	}
	s, err := c.next.Lookup(ctx, filename)
	if err != nil {
		return "", err
	}
	c.cache.Add(filename, s)
	return s, nil
}

// Purge drops every cached entry.
func (c *Cached) Purge() {
	c.cache.Purge()
}
