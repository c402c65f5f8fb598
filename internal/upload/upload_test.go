package upload

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeZip(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "parsers.zip")
	require.NoError(t, os.WriteFile(p, []byte("PK\x03\x04fake"), 0o644))
	return p
}

func TestFileIO_Upload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "parsers.zip", hdr.Filename)
		assert.Equal(t, "PK\x03\x04fake", string(data))
		_, _ = w.Write([]byte(`{"success":true,"key":"abc","link":"https://file.io/abc"}`))
	}))
	defer srv.Close()

	u := NewFileIO(srv.URL, time.Second)
	link, err := u.Upload(context.Background(), writeZip(t))
	require.NoError(t, err)
	assert.Equal(t, "https://file.io/abc", link)
}

func TestFileIO_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		payload string
		want    string
	}{
		{"server error", http.StatusBadGateway, "bad gateway", "status 502"},
		{"rejected", http.StatusOK, `{"success":false,"message":"quota exceeded"}`, "quota exceeded"},
		{"no link", http.StatusOK, `{"success":true}`, "no link"},
		{"not json", http.StatusOK, `<html>`, "decode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.payload))
			}))
			defer srv.Close()

			_, err := NewFileIO(srv.URL, time.Second).Upload(context.Background(), writeZip(t))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFileIO_MissingFile(t *testing.T) {
	_, err := NewFileIO("http://127.0.0.1:1", time.Second).Upload(context.Background(), filepath.Join(t.TempDir(), "none.zip"))
	assert.Error(t, err)
}

// fakeS3 answers the bucket and object calls the uploader makes.
type fakeS3 struct {
	mu      sync.Mutex
	buckets map[string]bool
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 2)
	bucket := parts[0]
	switch {
	case len(parts) == 1 && r.Method == http.MethodHead:
		if !f.buckets[bucket] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case len(parts) == 1 && r.Method == http.MethodPut:
		f.buckets[bucket] = true
		w.WriteHeader(http.StatusOK)
	case len(parts) == 2 && r.Method == http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		f.objects[bucket+"/"+parts[1]] = data
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func TestS3_Upload(t *testing.T) {
	fake := &fakeS3{buckets: map[string]bool{}, objects: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	u, err := NewS3(S3Config{
		Endpoint:  strings.TrimPrefix(srv.URL, "http://"),
		AccessKey: "key",
		SecretKey: "secret",
		Bucket:    "parsers",
		Prefix:    "runs/",
	})
	require.NoError(t, err)
	u.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	link, err := u.Upload(context.Background(), writeZip(t))
	require.NoError(t, err)

	assert.True(t, fake.buckets["parsers"], "bucket created")
	data, ok := fake.objects["parsers/runs/20260102T030405Z-parsers.zip"]
	require.True(t, ok, "object stored: %v", fake.objects)
	assert.Equal(t, "PK\x03\x04fake", string(data))
	assert.Contains(t, link, "/parsers/runs/20260102T030405Z-parsers.zip")
	assert.Contains(t, link, "X-Amz-Signature=")
}

func TestNewS3_Validation(t *testing.T) {
	tests := []S3Config{
		{},
		{Endpoint: "localhost:9000"},
		{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b"},
	}
	for _, cfg := range tests {
		if _, err := NewS3(cfg); err == nil {
			t.Errorf("expected error for %+v", cfg)
		}
	}
}
