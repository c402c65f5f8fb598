// Package prompt builds the translation and self-correction prompts sent to
// the completion endpoint. Every function is pure.
package prompt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/valpere/parserport/internal"
)

// BaseClass is the parser abstraction every generated class must inherit from.
const BaseClass = "lncrawl.parser.WebToEpubParser"

// Kind distinguishes the first prompt of a conversion from the repair prompts.
type Kind int

const (
	KindInitial Kind = iota
	KindCorrective
)

func (k Kind) String() string {
	if k == KindCorrective {
		return "corrective"
	}
	return "initial"
}

// methodNames maps each selector role to the Python method implementing it.
var methodNames = map[internal.Role]string{
	internal.RoleContent: "find_content",
	internal.RoleTitle:   "extract_title",
	internal.RoleAuthor:  "extract_author",
	internal.RoleCover:   "find_cover_image_url",
}

// MethodName returns the Python method name for role.
func MethodName(role internal.Role) string {
	return methodNames[role]
}

// Initial builds the conversion prompt for rec. source is the raw JavaScript
// text of the parser.
func Initial(rec internal.ParserRecord, source string) string {
	var sb strings.Builder

	sb.WriteString("You are an expert code converter. Convert the following JavaScript web scraper parser class into a Python class.\n\n")

	sb.WriteString("**Rules:**\n")
	fmt.Fprintf(&sb, "1. The new Python class must inherit from `%s`.\n", BaseClass)
	fmt.Fprintf(&sb, "2. Use the exact class name: `%s`.\n", rec.ClassName)
	fmt.Fprintf(&sb, "3. The `base_url` must be a Python list of strings: %s.\n", baseURLList(rec.BaseURLs))
	methods := make([]string, 0, len(internal.Roles))
	for _, role := range internal.Roles {
		methods = append(methods, "`"+MethodName(role)+"`")
	}
	fmt.Fprintf(&sb, "4. Implement the following methods if their corresponding selector is present: %s.\n", strings.Join(methods, ", "))
	sb.WriteString("5. The methods should use `dom.select_one('{selector}')` to find the element, with the selector listed below.\n")
	sb.WriteString("6. For methods where no selector was extracted, add a comment indicating that it needs manual implementation and call the super method.\n")
	sb.WriteString("7. Always include a placeholder `get_chapter_urls` method that returns an empty list and has a comment explaining it needs manual implementation.\n")
	sb.WriteString("8. The final output must be ONLY the Python code, with no explanations or markdown fences.\n\n")

	sb.WriteString("**Extracted Selectors:**\n")
	for _, role := range internal.Roles {
		sel := rec.Selectors.Get(role)
		if sel == "" {
			fmt.Fprintf(&sb, "- %s (%s): none extracted, needs manual implementation\n", roleLabel(role), MethodName(role))
			continue
		}
		fmt.Fprintf(&sb, "- %s (%s): %s\n", roleLabel(role), MethodName(role), sel)
	}

	sb.WriteString("\n**JavaScript Source Code:**\n```javascript\n")
	sb.WriteString(strings.TrimRight(source, "\n"))
	sb.WriteString("\n```\n")

	return sb.String()
}

// Corrective asks the model to repair previousCode given the validator's
// diagnostic. Both are embedded verbatim.
func Corrective(previousCode, diagnostic string) string {
	return fmt.Sprintf(`The Python code you previously generated had a syntax error. Please fix it.

**Error:**
%s

**Incorrect Python Code:**
`+"```python\n%s\n```"+`

Return ONLY the corrected, valid Python code, with no explanations.
`, diagnostic, previousCode)
}

// Resend repeats initialPrompt after an attempt that produced no code at all,
// prefixed with the diagnostic describing what went wrong.
func Resend(initialPrompt, diagnostic string) string {
	return fmt.Sprintf(`Your previous answer could not be used.

**Error:**
%s

Answer the original request again. Return ONLY the Python code.

%s`, diagnostic, initialPrompt)
}

func baseURLList(urls []string) string {
	if urls == nil {
		urls = []string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(urls); err != nil {
		return "[]"
	}
	return strings.TrimSpace(buf.String())
}

func roleLabel(role internal.Role) string {
	s := string(role)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
