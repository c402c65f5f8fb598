package validator

import (
	"bytes"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// The grammar still accepts several Python 2 forms that a Python 3 parser
// rejects. legacyWalker finds the earliest of them.
type legacyWalker struct {
	src      []byte
	literals [][2]uint32
	found    bool
	offset   uint32
	msg      string
}

// checkLegacy returns a non-valid Result for the first Python 2 construct in
// the tree, or a valid one when there is none.
func checkLegacy(root *sitter.Node, src []byte) Result {
	w := &legacyWalker{src: src}
	w.walk(root)
	w.scanBackticks()
	if !w.found {
		return Result{Valid: true}
	}

	line, col := position(src, w.offset)
	return Result{
		Diagnostic: fmt.Sprintf("%s (line %d, column %d)", w.msg, line, col),
		Line:       line,
		Column:     col,
	}
}

func (w *legacyWalker) flagAt(offset uint32, msg string) {
	if !w.found || offset < w.offset {
		w.found = true
		w.offset = offset
		w.msg = msg
	}
}

func (w *legacyWalker) flag(n *sitter.Node, msg string) {
	w.flagAt(n.StartByte(), msg)
}

func (w *legacyWalker) walk(n *sitter.Node) {
	if n == nil {
		return
	}

	switch n.Type() {
	case "string", "comment":
		w.literals = append(w.literals, [2]uint32{n.StartByte(), n.EndByte()})
		return
	case "print_statement":
		w.flag(n, "print statement is not valid Python 3, use print()")
		return
	case "exec_statement":
		w.flag(n, "exec statement is not valid Python 3, use exec()")
		return
	case "<>":
		w.flag(n, `operator "<>" is not valid Python 3, use "!="`)
		return
	case "parameters", "lambda_parameters":
		w.checkParameters(n)
	case "except_clause":
		for i := 0; i < int(n.ChildCount()); i++ {
			if c := n.Child(i); c != nil && c.Type() == "," {
				w.flag(c, `"except X, e" is not valid Python 3, use "except X as e"`)
			}
		}
	case "raise_statement":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if c := n.NamedChild(i); c != nil && c.Type() == "expression_list" {
				w.flag(c, `"raise E, msg" is not valid Python 3, use "raise E(msg)"`)
			}
		}
	case "integer":
		w.checkInteger(n)
	}

	for i := 0; i < int(n.ChildCount()); i++ {
		w.walk(n.Child(i))
	}
}

// checkParameters rejects a positional parameter without a default after one
// with a default, and tuple unpacking in a parameter list.
func (w *legacyWalker) checkParameters(n *sitter.Node) {
	seenDefault := false
	for i := 0; i < int(n.NamedChildCount()); i++ {
		p := n.NamedChild(i)
		if p == nil {
			continue
		}
		switch p.Type() {
		case "default_parameter", "typed_default_parameter":
			seenDefault = true
		case "typed_parameter":
			if first := p.NamedChild(0); first != nil && first.Type() != "identifier" {
				// *args: T or **kwargs: T
				return
			}
			if seenDefault {
				w.flag(p, "non-default argument follows default argument")
				return
			}
		case "identifier":
			if seenDefault {
				w.flag(p, "non-default argument follows default argument")
				return
			}
		case "tuple_pattern":
			w.flag(p, "tuple parameter unpacking is not valid Python 3")
		case "list_splat_pattern", "dictionary_splat_pattern", "keyword_separator":
			return
		}
	}
}

func (w *legacyWalker) checkInteger(n *sitter.Node) {
	text := n.Content(w.src)
	if text == "" {
		return
	}
	if last := text[len(text)-1]; last == 'l' || last == 'L' {
		w.flag(n, fmt.Sprintf("long integer suffix in %q is not valid Python 3", text))
		return
	}
	if len(text) > 1 && text[0] == '0' && text[1] >= '0' && text[1] <= '9' {
		if strings.Trim(text, "0_") != "" {
			w.flag(n, fmt.Sprintf("leading zeros in %q are not valid Python 3, use 0o", text))
		}
	}
}

// scanBackticks flags a backtick outside string literals and comments. Python 3
// has no backtick repr.
func (w *legacyWalker) scanBackticks() {
	for i, c := range w.src {
		if c != '`' {
			continue
		}
		off := uint32(i)
		if w.inLiteral(off) {
			continue
		}
		w.flagAt(off, "backtick repr is not valid Python 3, use repr()")
		return
	}
}

func (w *legacyWalker) inLiteral(off uint32) bool {
	for _, r := range w.literals {
		if off >= r[0] && off < r[1] {
			return true
		}
	}
	return false
}

// position converts a byte offset to a 1-based line and byte column.
func position(src []byte, off uint32) (line, col int) {
	if int(off) > len(src) {
		off = uint32(len(src))
	}
	before := src[:off]
	line = bytes.Count(before, []byte{'\n'}) + 1
	col = len(before) - (bytes.LastIndexByte(before, '\n') + 1) + 1
	return line, col
}
