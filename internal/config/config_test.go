package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")

	cfg, err := Load(NewViper(""))
	require.NoError(t, err)

	assert.Equal(t, "gemini", cfg.LLM.Backend)
	assert.Equal(t, 0.2, cfg.LLM.Params.Temperature)
	assert.Equal(t, 4096, cfg.LLM.Params.MaxOutputTokens)
	assert.Equal(t, 120*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, "webtoepub_js_parsers", cfg.Paths.SourcesDir)
	assert.Equal(t, "generated_parsers", cfg.Paths.OutputDir)
	assert.Equal(t, "parsers_data.json", cfg.Extractor.Output)
	assert.Equal(t, "webtoepub_js_parsers", cfg.Extractor.SourceDir)
	assert.Equal(t, "node generate_json.js", cfg.Extractor.Command)
	assert.Equal(t, "fileio", cfg.Upload.Backend)
	assert.Equal(t, 1, cfg.Convert.Concurrency)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PARSERPORT_LLM_BACKEND", "OpenAI")
	t.Setenv("PARSERPORT_LLM_TEMPERATURE", "0.5")
	t.Setenv("PARSERPORT_CONVERT_CONCURRENCY", "4")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(NewViper(""))
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.LLM.Backend)
	assert.Equal(t, 0.5, cfg.LLM.Params.Temperature)
	assert.Equal(t, 4, cfg.Convert.Concurrency)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
}

func TestLoad_ExplicitKeyWins(t *testing.T) {
	t.Setenv("PARSERPORT_LLM_API_KEY", "explicit")
	t.Setenv("GEMINI_API_KEY", "fallback")

	cfg, err := Load(NewViper(""))
	require.NoError(t, err)
	assert.Equal(t, "explicit", cfg.LLM.APIKey)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parserport.yaml")
	content := `
llm:
  backend: ollama
  model: qwen2.5-coder:14b
  timeout: 30s
upload:
  backend: none
paths:
  lang: de
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	v := NewViper(path)
	require.NoError(t, ReadFile(v, true))
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "ollama", cfg.LLM.Backend)
	assert.Equal(t, "qwen2.5-coder:14b", cfg.LLM.Model)
	assert.Equal(t, 30*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, "none", cfg.Upload.Backend)
	assert.Equal(t, "de", cfg.Paths.Lang)
}

func TestReadFile_Missing(t *testing.T) {
	v := NewViper(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, ReadFile(v, true))

	// The default search path may be empty.
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	defer os.Chdir(wd)
	assert.NoError(t, ReadFile(NewViper(""), false))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.LLM.Backend = "claude" }},
		{"temperature", func(c *Config) { c.LLM.Params.Temperature = 3 }},
		{"tokens", func(c *Config) { c.LLM.Params.MaxOutputTokens = 0 }},
		{"concurrency", func(c *Config) { c.Convert.Concurrency = 0 }},
		{"upload backend", func(c *Config) { c.Upload.Backend = "ftp" }},
		{"s3 without bucket", func(c *Config) { c.Upload.Backend = "s3"; c.Upload.S3.Endpoint = "localhost:9000" }},
		{"empty paths", func(c *Config) { c.Paths.OutputDir = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(NewViper(""))
			require.NoError(t, err)
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}
}
