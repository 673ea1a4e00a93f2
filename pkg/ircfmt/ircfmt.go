package ircfmt

import "unicode/utf8"

// mIRC control codes.
const (
	bold  = "\x02"
	color = "\x03"
)

// Separator is the grey "::" divider between message fields, spaces
// included.
const Separator = " " + color + "14::" + color + " "

// MaxSafeLen is the per-message byte budget. IRC caps a full protocol
// line at 512 bytes including the server-added sender prefix and the
// trailing CRLF; 400 bytes of payload leaves room for that framing.
const MaxSafeLen = 400

const ellipsis = "..."

// Bold wraps s in bold toggles.
func Bold(s string) string { return bold + s + bold }

// SourcePrefix returns the "[name] " label used when several feeds
// share one channel. Empty when labeling is off or the feed carries
// no display name.
func SourcePrefix(name string, multi bool) string {
	if !multi || name == "" {
		return ""
	}
	return "[" + name + "] "
}

// Message renders one entry announcement:
//
//	[source] <title> :: link :: description...
//
// The description is optional and is cut so the whole line never
// exceeds MaxSafeLen bytes. When at least three bytes of budget
// remain the cut ends in "...", otherwise it is a hard cut. A base
// line that already overflows the budget is returned unchanged; the
// budget bounds the description, never the title or link.
func Message(title, link, prefix, desc string) string {
	base := prefix + Bold(title) + Separator + link
	if desc == "" {
		return base
	}
	remaining := MaxSafeLen - len(base) - len(Separator)
	if remaining <= 0 {
		return base
	}
	if len(desc) > remaining {
		if remaining >= len(ellipsis) {
			desc = cut(desc, remaining-len(ellipsis)) + ellipsis
		} else {
			desc = cut(desc, remaining)
		}
	}
	return base + Separator + desc
}

// cut truncates s to at most n bytes without splitting a UTF-8
// sequence.
func cut(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
