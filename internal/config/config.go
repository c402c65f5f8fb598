// Package config loads parserport settings from defaults, an optional YAML
// file, PARSERPORT_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/valpere/parserport/internal/completion"
	"github.com/valpere/parserport/internal/extractor"
	"github.com/valpere/parserport/internal/upload"
)

const EnvPrefix = "PARSERPORT"

type Config struct {
	Paths     PathsConfig      `mapstructure:"paths"`
	LLM       LLMConfig        `mapstructure:"llm"`
	Extractor extractor.Config `mapstructure:"extractor"`
	Upload    UploadConfig     `mapstructure:"upload"`
	Convert   ConvertConfig    `mapstructure:"convert"`
	Server    ServerConfig     `mapstructure:"server"`
	Log       LogConfig        `mapstructure:"log"`
}

type PathsConfig struct {
	SourcesDir string `mapstructure:"sources_dir"`
	OutputDir  string `mapstructure:"output_dir"`
	Records    string `mapstructure:"records"`
	Archive    string `mapstructure:"archive"`
	Database   string `mapstructure:"database"`
	Lang       string `mapstructure:"lang"`
}

type LLMConfig struct {
	Backend           string            `mapstructure:"backend"`
	Model             string            `mapstructure:"model"`
	APIKey            string            `mapstructure:"api_key"`
	BaseURL           string            `mapstructure:"base_url"`
	Params            completion.Params `mapstructure:",squash"`
	Timeout           time.Duration     `mapstructure:"timeout"`
	RequestsPerMinute int               `mapstructure:"requests_per_minute"`
}

type UploadConfig struct {
	// Backend is one of fileio, s3 or none.
	Backend   string          `mapstructure:"backend"`
	FileIOURL string          `mapstructure:"fileio_url"`
	Timeout   time.Duration   `mapstructure:"timeout"`
	S3        upload.S3Config `mapstructure:"s3"`
}

type ConvertConfig struct {
	Concurrency int  `mapstructure:"concurrency"`
	Extract     bool `mapstructure:"extract"`
	Memory      bool `mapstructure:"memory"`
	CacheSize   int  `mapstructure:"cache_size"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("paths.sources_dir", "webtoepub_js_parsers")
	v.SetDefault("paths.output_dir", "generated_parsers")
	v.SetDefault("paths.records", "parsers_data.json")
	v.SetDefault("paths.archive", "parsers.zip")
	v.SetDefault("paths.database", "parserport.db")
	v.SetDefault("paths.lang", "en")

	v.SetDefault("llm.backend", "gemini")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.temperature", completion.DefaultTemperature)
	v.SetDefault("llm.max_output_tokens", completion.DefaultMaxOutputTokens)
	v.SetDefault("llm.timeout", completion.DefaultTimeout)
	v.SetDefault("llm.requests_per_minute", 0)

	v.SetDefault("extractor.command", extractor.DefaultCommand)
	v.SetDefault("extractor.install_command", extractor.DefaultInstallCommand)
	v.SetDefault("extractor.work_dir", "")
	v.SetDefault("extractor.timeout", extractor.DefaultTimeout)

	v.SetDefault("upload.backend", "fileio")
	v.SetDefault("upload.fileio_url", upload.DefaultFileIOURL)
	v.SetDefault("upload.timeout", upload.DefaultTimeout)
	v.SetDefault("upload.s3.endpoint", "")
	v.SetDefault("upload.s3.region", "")
	v.SetDefault("upload.s3.access_key", "")
	v.SetDefault("upload.s3.secret_key", "")
	v.SetDefault("upload.s3.bucket", "")
	v.SetDefault("upload.s3.prefix", "parsers")
	v.SetDefault("upload.s3.use_ssl", true)
	v.SetDefault("upload.s3.expiry", upload.DefaultPresignExpiry)

	v.SetDefault("convert.concurrency", 1)
	v.SetDefault("convert.extract", true)
	v.SetDefault("convert.memory", true)
	v.SetDefault("convert.cache_size", 256)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// NewViper returns a viper instance reading PARSERPORT_* variables, with
// defaults applied. configFile may be empty.
func NewViper(configFile string) *viper.Viper {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("parserport")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// ReadFile reads the config file when one exists. A missing default file is
// not an error; a missing explicit file is.
func ReadFile(v *viper.Viper, explicit bool) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && !explicit {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// Load decodes v into a Config and fills the API key from the provider's
// conventional variable when unset.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.LLM.Backend = strings.ToLower(strings.TrimSpace(cfg.LLM.Backend))
	cfg.Upload.Backend = strings.ToLower(strings.TrimSpace(cfg.Upload.Backend))
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = fallbackAPIKey(cfg.LLM.Backend)
	}
	if cfg.Extractor.SourceDir == "" {
		cfg.Extractor.SourceDir = cfg.Paths.SourcesDir
	}
	if cfg.Extractor.Output == "" {
		cfg.Extractor.Output = cfg.Paths.Records
	}
	return &cfg, nil
}

func fallbackAPIKey(backend string) string {
	var names []string
	switch backend {
	case "gemini":
		names = []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}
	case "openai":
		names = []string{"OPENAI_API_KEY", "OPENROUTER_API_KEY"}
	}
	for _, n := range names {
		if val := strings.TrimSpace(os.Getenv(n)); val != "" {
			return val
		}
	}
	return ""
}

// Validate reports settings that would make a run fail later. Credentials
// are checked when the completion backend is built.
func (c *Config) Validate() error {
	var errs []error

	switch c.LLM.Backend {
	case "gemini", "openai", "ollama":
	default:
		errs = append(errs, fmt.Errorf("llm.backend: unknown backend %q", c.LLM.Backend))
	}
	if c.LLM.Params.Temperature < 0 || c.LLM.Params.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature: must be between 0 and 2, got %v", c.LLM.Params.Temperature))
	}
	if c.LLM.Params.MaxOutputTokens <= 0 {
		errs = append(errs, fmt.Errorf("llm.max_output_tokens: must be positive"))
	}
	if c.LLM.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("llm.timeout: must be positive"))
	}
	if c.LLM.RequestsPerMinute < 0 {
		errs = append(errs, fmt.Errorf("llm.requests_per_minute: must not be negative"))
	}

	switch c.Upload.Backend {
	case "fileio", "none":
	case "s3":
		if c.Upload.S3.Endpoint == "" || c.Upload.S3.Bucket == "" {
			errs = append(errs, fmt.Errorf("upload.s3: endpoint and bucket are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("upload.backend: unknown backend %q", c.Upload.Backend))
	}

	if c.Convert.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("convert.concurrency: must be at least 1"))
	}
	if c.Paths.SourcesDir == "" || c.Paths.OutputDir == "" || c.Paths.Records == "" {
		errs = append(errs, fmt.Errorf("paths: sources_dir, output_dir and records are required"))
	}

	return errors.Join(errs...)
}
