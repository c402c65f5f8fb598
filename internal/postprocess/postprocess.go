// Package postprocess removes common LLM artifacts from generated code.
//
// It is applied to the raw text returned by any completion backend before the
// code is validated, so that fences and chatter never reach the parser.
package postprocess

import (
	"regexp"
	"strings"
)

// Clean strips leading reasoning blocks, leading prose echoes and markdown
// fences, and trims the result. The steps repeat until the text stops
// changing, so Clean(Clean(s)) == Clean(s). A pass that changes the text
// always shortens it, so the loop terminates.
func Clean(text string) string {
	text = strings.TrimSpace(text)
	for {
		next := cleanPass(text)
		if next == text {
			return text
		}
		text = next
	}
}

func cleanPass(text string) string {
	text = stripReasoning(text)
	text = removeInstructionEchoes(text)
	text = removeCodeFences(text)
	return strings.TrimSpace(text)
}

// reasoningRe matches one closed reasoning block at the start of the text;
// an unclosed tag is kept.
var reasoningRe = regexp.MustCompile(
	`(?is)^\s*(?:<think>.*?</think>|<thinking>.*?</thinking>|<reasoning>.*?</reasoning>|<reflection>.*?</reflection>)`,
)

// stripReasoning removes reasoning blocks that precede the code. Blocks after
// the first line of code are left alone.
func stripReasoning(text string) string {
	for {
		loc := reasoningRe.FindStringIndex(text)
		if loc == nil {
			return strings.TrimSpace(text)
		}
		text = text[loc[1]:]
	}
}

// echoPatterns match an introduction such as "Here is the corrected code:".
// They are anchored at the start and end at a colon.
var echoPatterns = []*regexp.Regexp{
	// "Here is / Here's [the] [corrected|fixed|converted] [Python] code:"
	regexp.MustCompile(`(?i)^here(?:'s| is)(?: the)? (?:corrected |fixed |converted |updated |complete )?(?:python )?(?:code|class|implementation|parser)[^\n:]*:`),
	// "Certainly / Sure / Of course[,] here is [the] code:"
	regexp.MustCompile(`(?i)^(?:certainly|sure|of course)[,.!]? here(?:'s| is)(?: the)? (?:corrected |fixed |converted |updated |complete )?(?:python )?(?:code|class|implementation|parser)[^\n:]*:`),
}

func removeInstructionEchoes(text string) string {
	for {
		stripped := false
		for _, re := range echoPatterns {
			if loc := re.FindStringIndex(text); loc != nil && loc[0] == 0 {
				text = strings.TrimSpace(text[loc[1]:])
				stripped = true
			}
		}
		if !stripped {
			return text
		}
	}
}

// fencedBlockRe captures the body of a ``` fenced block, with an optional
// language tag on the opening line.
var fencedBlockRe = regexp.MustCompile("(?s)```[A-Za-z0-9_+-]*[ \t]*\r?\n(.*?)\r?\n?```")

// fenceLineRe matches a line consisting only of a fence marker.
var fenceLineRe = regexp.MustCompile("(?m)^[ \t]*```[A-Za-z0-9_+-]*[ \t]*$\r?\n?")

// removeCodeFences keeps the bodies of all fenced blocks, in order, and drops
// the prose around them. Text without a closed block only loses its fence lines.
func removeCodeFences(text string) string {
	if blocks := fencedBlockRe.FindAllStringSubmatch(text, -1); len(blocks) > 0 {
		bodies := make([]string, 0, len(blocks))
		for _, m := range blocks {
			if body := strings.TrimSpace(m[1]); body != "" {
				bodies = append(bodies, body)
			}
		}
		text = strings.Join(bodies, "\n\n")
	}
	text = fenceLineRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}
