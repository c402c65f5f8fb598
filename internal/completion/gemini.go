package completion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	genai "google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiConfig configures the Gemini backend.
type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	// HTTPClient is optional; tests point it at an httptest server.
	HTTPClient *http.Client
}

// GeminiBackend calls the Generative Language API through the official genai SDK.
type GeminiBackend struct {
	cli   *genai.Client
	model string
}

// NewGeminiBackend builds a Gemini backend. It fails with ErrMissingCredential
// before any network traffic when no API key is configured.
func NewGeminiBackend(ctx context.Context, cfg GeminiConfig) (*GeminiBackend, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini: %w", ErrMissingCredential)
	}
	model := cfg.Model
	if model == "" {
		model = DefaultGeminiModel
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	cli, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create client: %w", err)
	}
	return &GeminiBackend{cli: cli, model: model}, nil
}

func (g *GeminiBackend) Name() string {
	return "gemini"
}

// Generate sends prompt as a single user turn and extracts the first
// candidate's first text part.
func (g *GeminiBackend) Generate(ctx context.Context, prompt string, params Params) (string, error) {
	resp, err := g.cli.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: prompt}}}},
		&genai.GenerateContentConfig{
			Temperature:     genai.Ptr(float32(params.Temperature)),
			MaxOutputTokens: int32(params.MaxOutputTokens),
		},
	)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return "", &StatusError{Code: apiErr.Code, Message: apiErr.Message}
		}
		return "", err
	}

	return g.extractText(resp)
}

func (g *GeminiBackend) extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", &ContentError{Backend: g.Name(), Reason: "empty response"}
	}
	if len(resp.Candidates) == 0 {
		reason := "no candidates returned"
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			reason = fmt.Sprintf("prompt blocked: %s", resp.PromptFeedback.BlockReason)
		}
		return "", &ContentError{Backend: g.Name(), Reason: reason}
	}

	cand := resp.Candidates[0]
	if cand == nil || cand.Content == nil || len(cand.Content.Parts) == 0 || cand.Content.Parts[0] == nil {
		reason := "candidate has no content"
		if cand != nil && cand.FinishReason != "" {
			reason = fmt.Sprintf("candidate has no content (finish reason %s)", cand.FinishReason)
		}
		return "", &ContentError{Backend: g.Name(), Reason: reason}
	}

	text := cand.Content.Parts[0].Text
	if strings.TrimSpace(text) == "" {
		return "", &ContentError{Backend: g.Name(), Reason: "candidate text is empty"}
	}
	return text, nil
}
