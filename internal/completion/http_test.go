package completion

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewBackends_MissingCredential(t *testing.T) {
	_, err := NewGeminiBackend(context.Background(), GeminiConfig{})
	if !errors.Is(err, ErrMissingCredential) {
		t.Errorf("gemini: expected ErrMissingCredential, got %v", err)
	}

	_, err = NewOpenAIBackend(OpenAIConfig{APIKey: "  "})
	if !errors.Is(err, ErrMissingCredential) {
		t.Errorf("openai: expected ErrMissingCredential, got %v", err)
	}
}

// number reads a JSON number from a decoded body.
func number(t *testing.T, m map[string]any, key string) float64 {
	t.Helper()
	v, ok := m[key].(float64)
	if !ok {
		t.Fatalf("%s missing or not a number in %v", key, m)
	}
	return v
}

func TestGeminiBackend_Generate(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"class A:\n    pass"}]},"finishReason":"STOP"}]}`))
	}))
	defer srv.Close()

	b, err := NewGeminiBackend(context.Background(), GeminiConfig{APIKey: "k", BaseURL: srv.URL, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("NewGeminiBackend: %v", err)
	}

	text, err := b.Generate(context.Background(), "convert", DefaultParams())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "class A:\n    pass" {
		t.Errorf("text = %q", text)
	}

	gen, ok := body["generationConfig"].(map[string]any)
	if !ok {
		t.Fatalf("generationConfig missing: %v", body)
	}
	if temp := number(t, gen, "temperature"); math.Abs(temp-0.2) > 1e-6 {
		t.Errorf("temperature = %v, want 0.2", temp)
	}
	if tokens := number(t, gen, "maxOutputTokens"); tokens != 4096 {
		t.Errorf("maxOutputTokens = %v, want 4096", tokens)
	}
}

func TestGeminiBackend_ContentErrors(t *testing.T) {
	tests := []struct {
		name     string
		response string
		reason   string
	}{
		{"blocked prompt", `{"promptFeedback":{"blockReason":"SAFETY"}}`, "prompt blocked: SAFETY"},
		{"no candidates", `{"candidates":[]}`, "no candidates returned"},
		{"empty parts", `{"candidates":[{"content":{"role":"model","parts":[]},"finishReason":"SAFETY"}]}`, "finish reason SAFETY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.response))
			}))
			defer srv.Close()

			b, err := NewGeminiBackend(context.Background(), GeminiConfig{APIKey: "k", BaseURL: srv.URL, HTTPClient: srv.Client()})
			if err != nil {
				t.Fatalf("NewGeminiBackend: %v", err)
			}

			_, err = b.Generate(context.Background(), "convert", DefaultParams())
			var ce *ContentError
			if !errors.As(err, &ce) {
				t.Fatalf("expected ContentError, got %v", err)
			}
			if !strings.Contains(ce.Reason, tt.reason) {
				t.Errorf("reason = %q, want it to contain %q", ce.Reason, tt.reason)
			}
		})
	}
}

func TestGeminiBackend_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":401,"message":"API key not valid","status":"UNAUTHENTICATED"}}`))
	}))
	defer srv.Close()

	b, err := NewGeminiBackend(context.Background(), GeminiConfig{APIKey: "k", BaseURL: srv.URL, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("NewGeminiBackend: %v", err)
	}

	_, err = b.Generate(context.Background(), "convert", DefaultParams())
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Code != 401 || se.Retryable() {
		t.Errorf("got code %d retryable=%v, want 401 and not retryable", se.Code, se.Retryable())
	}
}

func TestOpenAIBackend_Generate(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer k" {
			t.Errorf("Authorization = %q, want Bearer k", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"m","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"class B:\n    pass"}}]}`))
	}))
	defer srv.Close()

	b, err := NewOpenAIBackend(OpenAIConfig{APIKey: "k", Model: "m", BaseURL: srv.URL + "/v1/"})
	if err != nil {
		t.Fatalf("NewOpenAIBackend: %v", err)
	}

	text, err := b.Generate(context.Background(), "convert", DefaultParams())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "class B:\n    pass" {
		t.Errorf("text = %q", text)
	}
	if body["model"] != "m" {
		t.Errorf("model = %v, want m", body["model"])
	}
	if temp := number(t, body, "temperature"); math.Abs(temp-0.2) > 1e-6 {
		t.Errorf("temperature = %v, want 0.2", temp)
	}
	if tokens := number(t, body, "max_completion_tokens"); tokens != 4096 {
		t.Errorf("max_completion_tokens = %v, want 4096", tokens)
	}
}

func TestOpenAIBackend_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		payload string
		check   func(t *testing.T, err error)
	}{
		{
			name:    "content filter",
			status:  http.StatusOK,
			payload: `{"id":"c1","object":"chat.completion","created":1,"model":"m","choices":[{"index":0,"finish_reason":"content_filter","message":{"role":"assistant","content":""}}]}`,
			check: func(t *testing.T, err error) {
				var ce *ContentError
				if !errors.As(err, &ce) {
					t.Errorf("expected ContentError, got %v", err)
				}
			},
		},
		{
			name:    "empty choices",
			status:  http.StatusOK,
			payload: `{"id":"c1","object":"chat.completion","created":1,"model":"m","choices":[]}`,
			check: func(t *testing.T, err error) {
				var ce *ContentError
				if !errors.As(err, &ce) {
					t.Errorf("expected ContentError, got %v", err)
				}
			},
		},
		{
			name:    "rate limited",
			status:  http.StatusTooManyRequests,
			payload: `{"error":{"message":"slow down","type":"rate_limit"}}`,
			check: func(t *testing.T, err error) {
				var se *StatusError
				if !errors.As(err, &se) {
					t.Fatalf("expected StatusError, got %v", err)
				}
				if se.Code != 429 || !se.Retryable() {
					t.Errorf("got code %d retryable=%v, want 429 and retryable", se.Code, se.Retryable())
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.payload))
			}))
			defer srv.Close()

			b, err := NewOpenAIBackend(OpenAIConfig{APIKey: "k", Model: "m", BaseURL: srv.URL + "/v1/"})
			if err != nil {
				t.Fatalf("NewOpenAIBackend: %v", err)
			}

			_, err = b.Generate(context.Background(), "convert", DefaultParams())
			tt.check(t, err)
		})
	}
}

func TestOllamaBackend_Generate(t *testing.T) {
	var req ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"response":"class C:\n    pass","done":true}`))
	}))
	defer srv.Close()

	b := NewOllamaBackend(srv.URL, "coder", nil)
	text, err := b.Generate(context.Background(), "convert", DefaultParams())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "class C:\n    pass" {
		t.Errorf("text = %q", text)
	}
	if req.Model != "coder" || req.Stream {
		t.Errorf("model = %q stream = %v, want coder and false", req.Model, req.Stream)
	}
	if req.Options.NumPredict != 4096 {
		t.Errorf("num_predict = %d, want 4096", req.Options.NumPredict)
	}
}

func TestOllamaBackend_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	b := NewOllamaBackend(srv.URL, "", nil)
	_, err := b.Generate(context.Background(), "convert", DefaultParams())
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Code != 404 {
		t.Errorf("code = %d, want 404", se.Code)
	}
	if !strings.Contains(se.Message, "model not found") {
		t.Errorf("message = %q, want the server body", se.Message)
	}
}

func TestClient_RetriesServerErrorsOverHTTP(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"response":"ok","done":true}`))
	}))
	defer srv.Close()

	c := New(NewOllamaBackend(srv.URL, "", nil), WithBaseDelay(time.Millisecond))
	text, err := c.Complete(context.Background(), "convert")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != "ok" {
		t.Errorf("text = %q, want ok", text)
	}
	if n := atomic.LoadInt32(&hits); n != 3 {
		t.Errorf("hits = %d, want 3", n)
	}
}

func TestClient_PerRequestTimeout(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := New(NewOllamaBackend(srv.URL, "", nil), WithTimeout(30*time.Millisecond), WithBaseDelay(time.Millisecond))
	_, err := c.Complete(context.Background(), "convert")

	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != MaxTransportAttempts {
		t.Errorf("hits = %d, want %d", n, MaxTransportAttempts)
	}
}
