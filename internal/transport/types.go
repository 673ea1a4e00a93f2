package transport

import "context"

type UpdateKind string

const (
	UpdateConnected    UpdateKind = "connected"    // server accepted registration (001)
	UpdateJoined       UpdateKind = "joined"       // channel join confirmed (366)
	UpdateDisconnected UpdateKind = "disconnected" // connection lost or closed by server
	UpdateMessage      UpdateKind = "message"      // inbound PRIVMSG
	UpdateVersion      UpdateKind = "version"      // CTCP VERSION query
)

type Update struct {
	Kind         UpdateKind
	Message      *Message
	Joined       *Joined
	Disconnected *Disconnected
	Version      *Version
}

type Message struct {
	Nick    string // sender nick
	Target  string // our nick for private messages, channel name otherwise
	Text    string
	Private bool
}

type Joined struct {
	Channel string
}

type Disconnected struct {
	Reason string
}

type Version struct {
	Nick string // who asked
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	// Connect (re)establishes the server connection using the configured
	// identity. Safe to call after a Disconnected update; the gateway owns
	// retry policy.
	Connect() error

	Join(channel string) error
	SendMessage(target, text string) error
	SendNotice(target, text string) error
	CTCPReply(nick, text string) error
	IsConnected() bool
}
