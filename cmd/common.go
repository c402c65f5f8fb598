/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/valpere/parserport/internal/artifact"
	"github.com/valpere/parserport/internal/completion"
	"github.com/valpere/parserport/internal/config"
	"github.com/valpere/parserport/internal/extractor"
	"github.com/valpere/parserport/internal/metrics"
	"github.com/valpere/parserport/internal/orchestrator"
	"github.com/valpere/parserport/internal/pipeline"
	"github.com/valpere/parserport/internal/source"
	"github.com/valpere/parserport/internal/store"
	"github.com/valpere/parserport/internal/upload"
	"github.com/valpere/parserport/internal/validator"
)

// buildBackend constructs the completion backend named in the LLM settings.
func buildBackend(ctx context.Context, llm config.LLMConfig) (completion.Backend, error) {
	switch llm.Backend {
	case "gemini":
		b, err := completion.NewGeminiBackend(ctx, completion.GeminiConfig{
			APIKey:  llm.APIKey,
			Model:   llm.Model,
			BaseURL: llm.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	case "openai":
		b, err := completion.NewOpenAIBackend(completion.OpenAIConfig{
			APIKey:  llm.APIKey,
			Model:   llm.Model,
			BaseURL: llm.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	case "ollama":
		return completion.NewOllamaBackend(llm.BaseURL, llm.Model, &http.Client{}), nil
	default:
		return nil, fmt.Errorf("unknown backend: %s", llm.Backend)
	}
}

func buildCompleter(ctx context.Context, c *config.Config, m *metrics.Metrics) (*completion.Client, error) {
	backend, err := buildBackend(ctx, c.LLM)
	if err != nil {
		return nil, err
	}
	if ob, ok := backend.(*completion.OllamaBackend); ok {
		if err := ob.IsAvailable(ctx); err != nil {
			logger.Warn("ollama is not reachable", zap.Error(err))
		}
	}
	return completion.New(backend,
		completion.WithParams(c.LLM.Params),
		completion.WithTimeout(c.LLM.Timeout),
		completion.WithRateLimit(c.LLM.RequestsPerMinute),
		completion.WithLogger(logger.Named("completion")),
		completion.WithMetrics(m),
	), nil
}

// buildUploader returns nil when uploads are disabled.
func buildUploader(u config.UploadConfig) (upload.Uploader, error) {
	switch u.Backend {
	case "none", "":
		return nil, nil
	case "fileio":
		return upload.NewFileIO(u.FileIOURL, u.Timeout), nil
	case "s3":
		s3, err := upload.NewS3(u.S3)
		if err != nil {
			return nil, err
		}
		return s3, nil
	default:
		return nil, fmt.Errorf("unknown upload backend: %s", u.Backend)
	}
}

func buildSources(c *config.Config) (source.Provider, error) {
	dir := source.NewDir(c.Paths.SourcesDir)
	if c.Convert.CacheSize <= 0 {
		return dir, nil
	}
	return source.NewCached(dir, c.Convert.CacheSize)
}

// app holds everything a conversion command needs.
type app struct {
	completer *completion.Client
	loop      *orchestrator.Loop
	driver    *orchestrator.Driver
	pipeline  *pipeline.Pipeline
	store     *store.Store
	metrics   *metrics.Metrics
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warn("failed to close database", zap.Error(err))
		}
	}
}

// buildApp wires the full conversion stack from the loaded configuration.
func buildApp(ctx context.Context, c *config.Config, useStore bool) (*app, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	m := metrics.New()
	completer, err := buildCompleter(ctx, c, m)
	if err != nil {
		return nil, err
	}
	sources, err := buildSources(c)
	if err != nil {
		return nil, err
	}
	uploader, err := buildUploader(c.Upload)
	if err != nil {
		return nil, err
	}

	a := &app{completer: completer, metrics: m}
	var memory orchestrator.Memory
	if useStore && c.Paths.Database != "" {
		st, err := store.New(c.Paths.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		a.store = st
		if c.Convert.Memory {
			memory = st
		}
	}

	a.loop = orchestrator.NewLoop(completer, validator.New(), logger.Named("loop"), m)
	a.driver = orchestrator.NewDriver(a.loop, sources, orchestrator.DriverConfig{
		Concurrency: c.Convert.Concurrency,
		Memory:      memory,
		Logger:      logger.Named("driver"),
		Metrics:     m,
	})

	p := &pipeline.Pipeline{
		RecordsPath: c.Paths.Records,
		Loop:        a.loop,
		Sources:     sources,
		Memory:      memory,
		Concurrency: c.Convert.Concurrency,
		Sink:        artifact.NewSink(c.Paths.OutputDir, c.Paths.Lang, logger.Named("artifact")),
		ArchivePath: c.Paths.Archive,
		Store:       a.store,
		Uploader:    uploader,
		Backend:     completer.Name(),
		Logger:      logger.Named("pipeline"),
		Metrics:     m,
	}
	if c.Convert.Extract {
		p.Extractor = extractor.New(c.Extractor, logger.Named("extractor"))
	}
	a.pipeline = p
	return a, nil
}
