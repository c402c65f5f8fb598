// Package artifact derives output filenames for generated parsers, writes
// them to disk and bundles them into a zip archive.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"go.uber.org/zap"

	"github.com/valpere/parserport/internal"
)

const DefaultLang = "en"

var (
	capitalWordRe = regexp.MustCompile(`(.)([A-Z][a-z]+)`)
	lowerUpperRe  = regexp.MustCompile(`([a-z0-9])([A-Z])`)
)

// SnakeCase converts a CamelCase class name to snake_case.
func SnakeCase(name string) string {
	s := capitalWordRe.ReplaceAllString(name, "${1}_${2}")
	s = lowerUpperRe.ReplaceAllString(s, "${1}_${2}")
	return strings.ToLower(s)
}

// Bucket returns the lowercase first letter of className, or "_" when it is
// not a letter.
func Bucket(className string) string {
	for _, r := range className {
		if unicode.IsLetter(r) {
			return string(unicode.ToLower(r))
		}
		return "_"
	}
	return "_"
}

// FileName returns the Python module name for className.
func FileName(className string) string {
	return SnakeCase(className) + ".py"
}

// RelPath returns lang/bucket/file.py using forward slashes.
func RelPath(lang, className string) string {
	if lang == "" {
		lang = DefaultLang
	}
	return lang + "/" + Bucket(className) + "/" + FileName(className)
}

// Header is written before the generated code.
func Header(sourceFilename string) string {
	return fmt.Sprintf("# Auto-generated from %s\n", sourceFilename)
}

// Sink writes generated parsers under a root directory. It is safe for
// concurrent use.
type Sink struct {
	root   string
	lang   string
	logger *zap.Logger

	mu      sync.Mutex
	written map[string]string
}

func NewSink(root, lang string, logger *zap.Logger) *Sink {
	if lang == "" {
		lang = DefaultLang
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{root: root, lang: lang, logger: logger, written: make(map[string]string)}
}

// Root returns the output directory.
func (s *Sink) Root() string {
	return s.root
}

// Reset removes and recreates the output directory.
func (s *Sink) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.RemoveAll(s.root); err != nil {
		return fmt.Errorf("failed to clear output directory: %w", err)
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	s.written = make(map[string]string)
	return nil
}

// Write stores code for rec and returns the path relative to the root. When
// another record already produced the same path in this run, the file is
// overwritten and a warning is logged.
func (s *Sink) Write(rec internal.ParserRecord, code string) (string, error) {
	rel := RelPath(s.lang, rec.ClassName)
	full := filepath.Join(s.root, filepath.FromSlash(rel))

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.written[rel]; ok {
		s.logger.Warn("generated file overwritten",
			zap.String("path", rel),
			zap.String("previous_source", prev),
			zap.String("source", rec.SourceFilename),
		)
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory for %s: %w", rel, err)
	}
	content := Header(rec.SourceFilename) + code
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", rel, err)
	}

	s.written[rel] = rec.SourceFilename
	return rel, nil
}

// Written returns the number of distinct paths written since the last Reset.
func (s *Sink) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.written)
}
