package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random identifier for runs, tasks and correlation.
func NewID() string { return uuid.NewString() }

// ExtractJSON pulls the first JSON object out of model output: it strips
// markdown code fences and surrounding prose. It returns "" when no object
// delimiters are found.
func ExtractJSON(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "```"); i >= 0 {
		rest := text[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:] // drop the language tag line
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			rest = rest[:end]
		}
		text = strings.TrimSpace(rest)
	}

	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return ""
	}
	return text[start : end+1]
}
