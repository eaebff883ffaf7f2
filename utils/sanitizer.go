package utils

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// StrictPolicy removes all markup from backend-supplied content. Message
// bodies, subjects and excerpts cross this boundary exactly once, at
// normalization time, so nothing downstream ever handles HTML.
var StrictPolicy *bluemonday.Policy

func init() {
	StrictPolicy = bluemonday.StrictPolicy()
}

// StripHTML removes all HTML tags from content and decodes entities.
func StripHTML(raw string) string {
	return strings.TrimSpace(html.UnescapeString(StrictPolicy.Sanitize(raw)))
}

// Excerpt strips markup and truncates to at most max runes, appending an
// ellipsis when something was cut.
func Excerpt(raw string, max int) string {
	text := StripHTML(raw)
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return strings.TrimSpace(string(runes[:max])) + "…"
}
