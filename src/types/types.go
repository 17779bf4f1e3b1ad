package types

// Frame type values used on the wire.
const (
	TypeAuth        = "auth"
	TypePing        = "ping"
	TypePong        = "pong"
	TypeAuthSuccess = "auth_success"
	TypeAuthError   = "auth_error"
	TypeError       = "error"

	// EventPrefix marks forwarded change-event frames (finding.created,
	// finding.updated, finding.deleted). The relay never parses these;
	// they are broadcast verbatim as published by the backend.
	EventPrefix = "finding."
)

// ClientMessage is an inbound frame from a connection.
type ClientMessage struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
}

// AuthSuccess is sent after a valid auth message. UserID keeps whatever
// JSON type the token carried (number or string).
type AuthSuccess struct {
	Type   string `json:"type"`
	UserID any    `json:"userId"`
}

// AuthError is sent when an auth message is rejected.
type AuthError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ErrorMessage reports a protocol error to the offending connection.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Pong is the heartbeat reply. It works before authentication.
type Pong struct {
	Type string `json:"type"`
}

// Identity is the verified subject of a bearer token.
type Identity struct {
	UserID any      `json:"userId"`
	Email  string   `json:"email"`
	Roles  []string `json:"roles"`
}

// Conn abstracts a WebSocket connection for testability. The read side
// returns raw bytes so malformed frames can be detected before decoding.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}
