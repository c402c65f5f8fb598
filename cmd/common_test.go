package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valpere/parserport/internal"
	"github.com/valpere/parserport/internal/completion"
	"github.com/valpere/parserport/internal/config"
	"github.com/valpere/parserport/internal/source"
	"github.com/valpere/parserport/internal/upload"
)

func TestBuildBackend(t *testing.T) {
	ctx := context.Background()

	b, err := buildBackend(ctx, config.LLMConfig{Backend: "ollama"})
	require.NoError(t, err)
	assert.Equal(t, "ollama", b.Name())

	b, err = buildBackend(ctx, config.LLMConfig{Backend: "openai", APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, "openai", b.Name())

	_, err = buildBackend(ctx, config.LLMConfig{Backend: "gemini"})
	assert.True(t, errors.Is(err, completion.ErrMissingCredential))

	_, err = buildBackend(ctx, config.LLMConfig{Backend: "claude"})
	assert.Error(t, err)
}

func TestBuildUploader(t *testing.T) {
	u, err := buildUploader(config.UploadConfig{Backend: "none"})
	require.NoError(t, err)
	assert.Nil(t, u)

	u, err = buildUploader(config.UploadConfig{Backend: "fileio", FileIOURL: upload.DefaultFileIOURL})
	require.NoError(t, err)
	assert.Equal(t, "fileio", u.Name())

	u, err = buildUploader(config.UploadConfig{Backend: "s3", S3: upload.S3Config{
		Endpoint: "localhost:9000", Bucket: "parsers", AccessKey: "a", SecretKey: "b",
	}})
	require.NoError(t, err)
	assert.Equal(t, "s3", u.Name())

	_, err = buildUploader(config.UploadConfig{Backend: "ftp"})
	assert.Error(t, err)
}

func TestBuildSources(t *testing.T) {
	c := &config.Config{Paths: config.PathsConfig{SourcesDir: t.TempDir()}}

	p, err := buildSources(c)
	require.NoError(t, err)
	assert.IsType(t, &source.Dir{}, p)

	c.Convert.CacheSize = 8
	p, err = buildSources(c)
	require.NoError(t, err)
	assert.IsType(t, &source.Cached{}, p)
}

func TestFindRecord(t *testing.T) {
	records := []internal.ParserRecord{
		{SourceFilename: "foo.js", ClassName: "FooParser"},
		{SourceFilename: "bar.js", ClassName: "BarParser"},
	}
	rec, ok := findRecord(records, "BarParser")
	require.True(t, ok)
	assert.Equal(t, "bar.js", rec.SourceFilename)

	_, ok = findRecord(records, "Missing")
	assert.False(t, ok)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}

func TestRender(t *testing.T) {
	for _, format := range []string{"table", "csv", "markdown"} {
		tw := table.NewWriter()
		var buf bytes.Buffer
		tw.SetOutputMirror(&buf)
		tw.AppendHeader(table.Row{"ID", "Status"})
		tw.AppendRow(table.Row{"r1", "success"})
		require.NoError(t, render(tw, format))
		assert.Contains(t, buf.String(), "success", format)
	}

	assert.Error(t, render(table.NewWriter(), "xml"))
}
