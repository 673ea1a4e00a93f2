package feed

import (
	"net/url"
	"strings"
)

// ExtractURL unwraps a redirect/tracking link: everything after the
// last "url=" is taken as the destination, percent-decoded, and given
// an "http:" scheme when it starts with a slash. Links without a
// "url=" parameter pass through untouched.
//
// Best effort: exotic redirect formats can yield odd results (a bare
// "/path" target becomes "http:/path").
func ExtractURL(link string) string {
	i := strings.LastIndex(link, "url=")
	if i < 0 {
		return link
	}
	candidate := link[i+len("url="):]
	if dec, err := url.PathUnescape(candidate); err == nil {
		candidate = dec
	}
	if !strings.HasPrefix(candidate, "http") && strings.HasPrefix(candidate, "/") {
		candidate = "http:" + candidate
	}
	return candidate
}
