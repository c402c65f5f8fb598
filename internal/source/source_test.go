package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDir_Lookup(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "FooParser.js"), []byte("class FooParser {}"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "Bar.js"), []byte("bar"), 0o644))

	d := NewDir(root)

	got, err := d.Lookup(context.Background(), "FooParser.js")
	require.NoError(t, err)
	assert.Equal(t, "class FooParser {}", got)

	got, err = d.Lookup(context.Background(), "sub/Bar.js")
	require.NoError(t, err)
	assert.Equal(t, "bar", got)
}

func TestDir_NotFound(t *testing.T) {
	root := t.TempDir()
	outside := filepath.Join(filepath.Dir(root), "secret.js")
	_ = os.WriteFile(outside, []byte("x"), 0o644)
	defer os.Remove(outside)

	d := NewDir(root)

	tests := []string{"missing.js", "../secret.js", "", "/etc/passwd"}
	for _, name := range tests {
		_, err := d.Lookup(context.Background(), name)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("%q: expected ErrNotFound, got %v", name, err)
		}
	}
}

type countingProvider struct {
	Map
	calls int
}

func (c *countingProvider) Lookup(ctx context.Context, filename string) (string, error) {
	c.calls++
	return c.Map.Lookup(ctx, filename)
}

func TestCached(t *testing.T) {
	next := &countingProvider{Map: Map{"a.js": "A"}}
	c, err := NewCached(next, 2)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		got, err := c.Lookup(context.Background(), "a.js")
		require.NoError(t, err)
		assert.Equal(t, "A", got)
	}
	assert.Equal(t, 1, next.calls)

	_, err = c.Lookup(context.Background(), "b.js")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = c.Lookup(context.Background(), "b.js")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 3, next.calls, "misses are not cached")

	c.Purge()
	_, _ = c.Lookup(context.Background(), "a.js")
	assert.Equal(t, 4, next.calls)
}
