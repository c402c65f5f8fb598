package internal

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

// Role is one of the fixed selector roles extracted from a source parser.
type Role string

const (
	RoleContent Role = "content"
	RoleTitle   Role = "title"
	RoleAuthor  Role = "author"
	RoleCover   Role = "cover"
)

// Roles lists every selector role in prompt order.
var Roles = []Role{RoleContent, RoleTitle, RoleAuthor, RoleCover}

// Selectors holds the selector expression per role. An empty string means no
// selector was extracted for that role; JSON null and missing keys decode to "".
type Selectors struct {
	Content string `json:"content"`
	Title   string `json:"title"`
	Author  string `json:"author"`
	Cover   string `json:"cover"`
}

// Get returns the selector for role.
func (s Selectors) Get(role Role) string {
	switch role {
	case RoleContent:
		return s.Content
	case RoleTitle:
		return s.Title
	case RoleAuthor:
		return s.Author
	case RoleCover:
		return s.Cover
	}
	return ""
}

// ParserRecord is one parser definition to translate, as produced by the
// extraction step.
type ParserRecord struct {
	SourceFilename string    `json:"js_filename"`
	ClassName      string    `json:"class_name"`
	BaseURLs       []string  `json:"base_urls"`
	Selectors      Selectors `json:"selectors"`
}

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate reports whether the record carries the fields every conversion needs.
func (r ParserRecord) Validate() error {
	if strings.TrimSpace(r.SourceFilename) == "" {
		return fmt.Errorf("js_filename is required")
	}
	if r.ClassName == "" {
		return fmt.Errorf("class_name is required")
	}
	if !identifierRe.MatchString(r.ClassName) {
		return fmt.Errorf("class_name %q is not a valid identifier", r.ClassName)
	}
	return nil
}

// LoadRecords decodes a JSON array of parser records.
func LoadRecords(r io.Reader) ([]ParserRecord, error) {
	var records []ParserRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode parser records: %w", err)
	}
	return records, nil
}

// LoadRecordsFile reads parser records from a JSON file.
func LoadRecordsFile(path string) ([]ParserRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open records file: %w", err)
	}
	defer f.Close()
	return LoadRecords(f)
}
