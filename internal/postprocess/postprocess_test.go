package postprocess

import "testing"

const sampleCode = "from lncrawl.parser import WebToEpubParser\n\n\nclass FooParser(WebToEpubParser):\n    base_url = [\"https://foo.bar\"]\n\n    def get_chapter_urls(self, dom):\n        # Needs manual implementation.\n        return []"

func TestStripReasoning(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "no thinking blocks",
			input:    "x = 1",
			expected: "x = 1",
		},
		{
			name:     "think block before code",
			input:    "<think>Converting the class</think>\nx = 1",
			expected: "x = 1",
		},
		{
			name:     "reasoning block",
			input:    "<reasoning>Analyzing selectors</reasoning>x = 1",
			expected: "x = 1",
		},
		{
			name:     "multiple leading blocks",
			input:    "<thinking>First</thinking>\n<reflection>Second</reflection>\nx = 1",
			expected: "x = 1",
		},
		{
			name:     "block after code is kept",
			input:    "x = 1\n<reflection>Second</reflection>",
			expected: "x = 1\n<reflection>Second</reflection>",
		},
		{
			name:     "tags inside a string are kept",
			input:    "s = '<think>a</think>'\nx = 1",
			expected: "s = '<think>a</think>'\nx = 1",
		},
		{
			name:     "unclosed tag is kept",
			input:    "s = '<think>'",
			expected: "s = '<think>'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := stripReasoning(tt.input)
			if result != tt.expected {
				t.Errorf("stripReasoning(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestRemoveInstructionEchoes(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "no echo",
			input:    "x = 1",
			expected: "x = 1",
		},
		{
			name:     "here is the code",
			input:    "Here is the code:\nx = 1",
			expected: "x = 1",
		},
		{
			name:     "here's the corrected python code",
			input:    "Here's the corrected Python code:\nx = 1",
			expected: "x = 1",
		},
		{
			name:     "sure prefix",
			input:    "Sure, here is the converted class:\nx = 1",
			expected: "x = 1",
		},
		{
			name:     "repeated echo",
			input:    "Here is the code:\nHere is the code:\nx = 1",
			expected: "x = 1",
		},
		{
			name:     "echo without colon is kept",
			input:    "Here is the code\nx = 1",
			expected: "Here is the code\nx = 1",
		},
		{
			name:     "echo not at start is kept",
			input:    "x = 1\nHere is the code: y",
			expected: "x = 1\nHere is the code: y",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := removeInstructionEchoes(tt.input)
			if result != tt.expected {
				t.Errorf("removeInstructionEchoes(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestRemoveCodeFences(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain code",
			input:    "x = 1",
			expected: "x = 1",
		},
		{
			name:     "python fence",
			input:    "```python\nx = 1\n```",
			expected: "x = 1",
		},
		{
			name:     "bare fence",
			input:    "```\nx = 1\n```",
			expected: "x = 1",
		},
		{
			name:     "fence with trailing prose",
			input:    "```python\nx = 1\n```\nThis class converts the parser.",
			expected: "x = 1",
		},
		{
			name:     "unterminated fence",
			input:    "```python\nx = 1\n",
			expected: "x = 1",
		},
		{
			name:     "crlf fence",
			input:    "```py\r\nx = 1\r\n```",
			expected: "x = 1",
		},
		{
			name:     "imports and class in separate blocks",
			input:    "```python\nfrom lncrawl.parser import WebToEpubParser\n```\n\nThen the class:\n\n```python\nclass FooParser(WebToEpubParser):\n    pass\n```",
			expected: "from lncrawl.parser import WebToEpubParser\n\nclass FooParser(WebToEpubParser):\n    pass",
		},
		{
			name:     "backticks inside a string are kept",
			input:    "s = '```'",
			expected: "s = '```'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := removeCodeFences(tt.input)
			if result != tt.expected {
				t.Errorf("removeCodeFences(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestClean(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "clean code",
			input:    sampleCode,
			expected: sampleCode,
		},
		{
			name:     "surrounding whitespace",
			input:    "\n\n" + sampleCode + "\n\n",
			expected: sampleCode,
		},
		{
			name:     "echo inside a fence",
			input:    "```python\nHere is the code:\n" + sampleCode + "\n```",
			expected: sampleCode,
		},
		{
			name:     "two fenced blocks",
			input:    "Here is the code:\n```python\nfrom lncrawl.parser import WebToEpubParser\n```\n```python\nclass FooParser(WebToEpubParser):\n    pass\n```",
			expected: "from lncrawl.parser import WebToEpubParser\n\nclass FooParser(WebToEpubParser):\n    pass",
		},
		{
			name:     "full cleanup pipeline",
			input:    "<think>plan</think>Here is the converted code:\n```python\n" + sampleCode + "\n```\n",
			expected: sampleCode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Clean(tt.input)
			if result != tt.expected {
				t.Errorf("Clean(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestClean_Idempotent(t *testing.T) {
	inputs := []string{
		"",
		sampleCode,
		"```python\n" + sampleCode + "\n```",
		"Sure, here's the fixed code:\n```\n" + sampleCode + "\n```",
		"<reasoning>x</reasoning>\n" + sampleCode,
		"```python\nx = 1",
		"Here is the code:\nHere is the code:\nx = 1",
		"s = '<think>a</think>'\nx = 1",
		"```python\nHere is the code:\nx = 1\n```",
		"```python\nimport re\n```\n```python\nx = 1\n```",
		"<think>a</think>\nSure, here is the code:\n```python\nx = 1\n```",
	}

	for _, in := range inputs {
		once := Clean(in)
		twice := Clean(once)
		if once != twice {
			t.Errorf("Clean not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestClean_LeavesCleanCodeUnchanged(t *testing.T) {
	inputs := []string{
		sampleCode,
		"s = '<think>a</think>'\nx = 1",
		"s = '```'\nx = 1",
		"x = 1\n# Here is the code: below\ny = 2",
	}

	for _, in := range inputs {
		if got := Clean(in); got != in {
			t.Errorf("Clean changed clean code %q into %q", in, got)
		}
	}
}
