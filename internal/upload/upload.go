// Package upload publishes the generated archive and returns a download URL.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultFileIOURL = "https://file.io"
	DefaultTimeout   = 60 * time.Second
)

// Uploader stores a local file somewhere reachable and returns its URL.
type Uploader interface {
	Name() string
	Upload(ctx context.Context, path string) (string, error)
}

// FileIO uploads to an anonymous file host that accepts a multipart "file"
// field and answers with {"success": bool, "link": string}.
type FileIO struct {
	url    string
	client *http.Client
}

func NewFileIO(url string, timeout time.Duration) *FileIO {
	if url == "" {
		url = DefaultFileIOURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &FileIO{url: url, client: &http.Client{Timeout: timeout}}
}

func (f *FileIO) Name() string {
	return "fileio"
}

func (f *FileIO) Upload(ctx context.Context, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, &body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("upload returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result struct {
		Success *bool  `json:"success"`
		Link    string `json:"link"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	if result.Success != nil && !*result.Success {
		return "", fmt.Errorf("upload rejected: %s", result.Message)
	}
	if result.Link == "" {
		return "", fmt.Errorf("upload response has no link")
	}
	return result.Link, nil
}
