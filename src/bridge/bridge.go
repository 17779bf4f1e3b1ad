package bridge

// Subscriber consumes already-serialized change events from the upstream
// pub/sub bus and feeds them to a broadcast target. Implementations relay
// payloads verbatim; the publishing side owns the wire format.
type Subscriber interface {
	// Start subscribes to the configured channel. One attempt; callers
	// wanting resilience use StartWithRetry on implementations that
	// offer it.
	Start() error

	// Stop releases the subscription and closes the bus connection.
	Stop() error

	// Available reports whether the subscription is live.
	Available() bool
}

// BroadcastTarget is implemented by the hub to fan payloads out to
// authenticated connections.
type BroadcastTarget interface {
	Broadcast(payload []byte)
}
