package wsclient

// Status represents the engine's view of the logical connection, which
// may span many physical socket lifetimes.
type Status int

const (
	// StatusDisconnected means no socket is open and no connect is in flight.
	StatusDisconnected Status = iota

	// StatusConnecting means a dial or authentication handshake is in flight.
	StatusConnecting

	// StatusAuthenticated means the relay accepted the bearer token.
	StatusAuthenticated

	// StatusError means the last attempt failed; a retry may be pending.
	StatusError
)

// String returns the string representation of a Status.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusAuthenticated:
		return "authenticated"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}
