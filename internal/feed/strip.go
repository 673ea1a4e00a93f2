package feed

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var strict = bluemonday.StrictPolicy()

// StripSummary flattens an entry summary to a single plain-text
// line: tags removed, entities decoded, runs of whitespace collapsed
// to one space. Best effort; never fails.
func StripSummary(raw string) string {
	text := strict.Sanitize(raw)
	text = html.UnescapeString(text)
	return strings.Join(strings.Fields(text), " ")
}
