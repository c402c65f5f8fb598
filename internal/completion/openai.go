package completion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAIConfig configures an OpenAI-compatible backend. Pointing BaseURL at
// https://openrouter.ai/api/v1 serves OpenRouter as well.
type OpenAIConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// OpenAIBackend calls a chat completions endpoint.
type OpenAIBackend struct {
	client openai.Client
	model  string
}

// NewOpenAIBackend builds an OpenAI-compatible backend. The SDK's own retries
// are disabled; Client owns the retry policy.
func NewOpenAIBackend(cfg OpenAIConfig) (*OpenAIBackend, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai: %w", ErrMissingCredential)
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &OpenAIBackend{client: openai.NewClient(opts...), model: model}, nil
}

func (o *OpenAIBackend) Name() string {
	return "openai"
}

func (o *OpenAIBackend) Generate(ctx context.Context, prompt string, params Params) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(o.model),
		Messages:            []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
		Temperature:         openai.Float(params.Temperature),
		MaxCompletionTokens: openai.Int(int64(params.MaxOutputTokens)),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", &StatusError{Code: apiErr.StatusCode, Message: apiErr.Message}
		}
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", &ContentError{Backend: o.Name(), Reason: "empty choices"}
	}
	choice := resp.Choices[0]
	if choice.FinishReason == "content_filter" {
		return "", &ContentError{Backend: o.Name(), Reason: "response blocked by content filter"}
	}
	if strings.TrimSpace(choice.Message.Content) == "" {
		return "", &ContentError{Backend: o.Name(), Reason: "choice has no content"}
	}
	return choice.Message.Content, nil
}
