package hub

import "github.com/secaudit/findings-relay/src/types"

// IsAuthenticated reports whether the connection has presented a valid token.
func (h *Hub) IsAuthenticated(clientID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.identities[clientID]
	return ok
}

// Identity returns the auth state for a connection, if authenticated.
func (h *Hub) Identity(clientID string) (types.Identity, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ident, ok := h.identities[clientID]
	return ident, ok
}

// Counts returns the total and authenticated connection counts.
func (h *Hub) Counts() (total, authenticated int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients), len(h.identities)
}

// ConnectedClients returns the IDs of all live connections.
func (h *Hub) ConnectedClients() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	return ids
}

// OnConnection registers a callback for new connections.
func (h *Hub) OnConnection(cb func(clientID string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onConnect = append(h.onConnect, cb)
}

// OnDisconnection registers a callback for removed connections.
func (h *Hub) OnDisconnection(cb func(clientID string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDisconn = append(h.onDisconn, cb)
}
