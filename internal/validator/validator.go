// Package validator checks that generated code is syntactically valid Python.
package validator

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// maxSnippetLength caps the offending text quoted in a diagnostic.
const maxSnippetLength = 40

// Result is the outcome of a syntax check. Diagnostic, Line and Column are
// set only when Valid is false; Line and Column are 1-based.
type Result struct {
	Valid      bool
	Diagnostic string
	Line       int
	Column     int
}

// Validator parses Python source with tree-sitter. The code is never executed.
// A Validator is safe for concurrent use; each check gets its own parser.
type Validator struct {
	lang *sitter.Language
}

// New creates a Validator for the Python grammar.
func New() *Validator {
	return &Validator{lang: python.GetLanguage()}
}

// Check parses code and reports the first syntax error, if any. Python 2
// forms the grammar tolerates are reported as errors.
func (v *Validator) Check(ctx context.Context, code string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Diagnostic: fmt.Sprintf("parser failure: %v", r)}
		}
	}()

	if strings.TrimSpace(code) == "" {
		return Result{Diagnostic: "empty code"}
	}

	src := []byte(code)

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(v.lang)

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return Result{Diagnostic: fmt.Sprintf("parse aborted: %v", err)}
	}
	defer tree.Close()

	root := tree.RootNode()
	if !root.HasError() {
		return checkLegacy(root, src)
	}

	node := firstError(root)
	if node == nil {
		// HasError without a located node; report the whole module.
		node = root
	}

	return describe(node, src)
}

// firstError returns the earliest ERROR or MISSING node under n in document order.
func firstError(n *sitter.Node) *sitter.Node {
	if n == nil {
		return nil
	}
	if n.IsMissing() || n.Type() == "ERROR" {
		return n
	}
	if !n.HasError() {
		return nil
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if found := firstError(n.Child(i)); found != nil {
			return found
		}
	}
	return nil
}

func describe(n *sitter.Node, src []byte) Result {
	pos := n.StartPoint()
	line := int(pos.Row) + 1
	col := int(pos.Column) + 1

	var msg string
	if n.IsMissing() {
		msg = fmt.Sprintf("missing %q", n.Type())
	} else {
		msg = "invalid syntax"
		if snippet := snippetOf(n, src); snippet != "" {
			msg = fmt.Sprintf("invalid syntax near %q", snippet)
		}
	}

	return Result{
		Diagnostic: fmt.Sprintf("%s (line %d, column %d)", msg, line, col),
		Line:       line,
		Column:     col,
	}
}

func snippetOf(n *sitter.Node, src []byte) string {
	text := n.Content(src)
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	text = strings.TrimSpace(text)
	if r := []rune(text); len(r) > maxSnippetLength {
		text = string(r[:maxSnippetLength]) + "..."
	}
	return text
}
