package gateway

// Bus payloads. Small and flat so the metrics service and the debug
// endpoints can consume them without reaching back into the gateway.

type PollEvent struct {
	Feeds int
}

type DeliverEvent struct {
	FeedURL string
	Title   string
}

type DisconnectEvent struct {
	Reason string
}
