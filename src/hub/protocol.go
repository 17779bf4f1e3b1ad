package hub

import (
	"encoding/json"

	"github.com/secaudit/findings-relay/src/types"
)

// handleFrame runs the per-connection protocol state machine. States are
// unauthenticated and authenticated; a connection moves forward on a
// valid auth message and never reverts except by removal. Runs on the
// hub loop.
func (h *Hub) handleFrame(c *Client, data []byte) {
	// Frames queued behind the connection's own unregistration are
	// dropped: a removed connection must never regain state.
	h.mu.RLock()
	_, registered := h.clients[c.ID]
	h.mu.RUnlock()
	if !registered {
		return
	}

	var msg types.ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.reply(c, types.ErrorMessage{Type: types.TypeError, Message: "Invalid JSON"})
		return
	}

	switch msg.Type {
	case types.TypeAuth:
		h.handleAuth(c, msg.Token)
	case types.TypePing:
		// Heartbeat works pre-auth to keep idle sockets alive during slow auth.
		h.reply(c, types.Pong{Type: types.TypePong})
	default:
		if !h.IsAuthenticated(c.ID) {
			h.reply(c, types.ErrorMessage{Type: types.TypeError, Message: "Not authenticated"})
			return
		}
		// Authenticated traffic with an unknown type is reserved for
		// future message kinds and ignored.
	}
}

func (h *Hub) handleAuth(c *Client, token string) {
	if token == "" {
		h.reply(c, types.AuthError{Type: types.TypeAuthError, Message: "Token required"})
		return
	}

	ident, ok := h.verifier.Validate(token)
	if !ok {
		h.reply(c, types.AuthError{Type: types.TypeAuthError, Message: "Invalid token"})
		return
	}

	// Re-auth overwrites any prior identity.
	h.mu.Lock()
	h.identities[c.ID] = ident
	h.mu.Unlock()

	h.reply(c, types.AuthSuccess{Type: types.TypeAuthSuccess, UserID: ident.UserID})

	h.logger.Info().
		Str("client_id", c.ID).
		Interface("user_id", ident.UserID).
		Msg("connection authenticated")
}

// reply marshals and queues a frame for one connection. A connection
// that cannot accept the reply is treated as dead and removed.
func (h *Hub) reply(c *Client, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error().Err(err).Msg("marshal reply")
		return
	}
	if !c.enqueue(data) {
		h.logger.Warn().Str("client_id", c.ID).Msg("reply failed, removing connection")
		h.removeClient(c)
	}
}
