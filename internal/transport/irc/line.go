package irc

import "strings"

// ircMessage is one parsed inbound protocol line.
type ircMessage struct {
	prefix  string // sender prefix without the leading ':'
	nick    string // nick part of a user prefix, whole prefix for servers
	command string // upper-cased command or 3-digit numeric
	params  []string
}

// parseLine splits ":prefix COMMAND p1 p2 :trailing" into its parts.
// The trailing parameter, when present, becomes the last entry of
// params. Empty or malformed lines report ok=false.
func parseLine(raw string) (ircMessage, bool) {
	line := strings.TrimRight(raw, "\r\n")
	if line == "" {
		return ircMessage{}, false
	}

	var m ircMessage
	rest := line
	if strings.HasPrefix(rest, ":") {
		sp := strings.IndexByte(rest, ' ')
		if sp < 0 {
			return ircMessage{}, false
		}
		m.prefix = rest[1:sp]
		rest = rest[sp+1:]
	}

	trailing := ""
	hasTrailing := false
	if strings.HasPrefix(rest, ":") {
		trailing = rest[1:]
		hasTrailing = true
		rest = ""
	} else if i := strings.Index(rest, " :"); i >= 0 {
		trailing = rest[i+2:]
		hasTrailing = true
		rest = rest[:i]
	}

	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return ircMessage{}, false
	}
	m.command = strings.ToUpper(fields[0])
	m.params = fields[1:]
	if hasTrailing {
		m.params = append(m.params, trailing)
	}

	if i := strings.IndexByte(m.prefix, '!'); i >= 0 {
		m.nick = m.prefix[:i]
	} else {
		m.nick = m.prefix
	}
	return m, true
}

// last returns the final parameter, usually the trailing text.
func (m ircMessage) last() string {
	if len(m.params) == 0 {
		return ""
	}
	return m.params[len(m.params)-1]
}

const ctcpDelim = "\x01"

// ctcpPayload extracts the CTCP payload from a PRIVMSG text.
// ok=false means a plain chat message.
func ctcpPayload(text string) (string, bool) {
	if !strings.HasPrefix(text, ctcpDelim) {
		return "", false
	}
	return strings.TrimSuffix(text[1:], ctcpDelim), true
}

func isChannel(target string) bool {
	if target == "" {
		return false
	}
	switch target[0] {
	case '#', '&', '+', '!':
		return true
	}
	return false
}
