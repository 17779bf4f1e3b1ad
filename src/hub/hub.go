package hub

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/secaudit/findings-relay/src/types"
)

// TokenVerifier validates a bearer token and returns the subject identity.
// Defined here to avoid a hub -> auth dependency; the auth package's
// Verifier satisfies it.
type TokenVerifier interface {
	Validate(token string) (types.Identity, bool)
}

// Hub is the connection registry: it owns every live connection and its
// authentication state, and fans upstream payloads out to the
// authenticated subset. All mutation is serialized on the Run loop;
// the maps are additionally mutex-guarded for the query paths.
type Hub struct {
	clients    map[string]*Client
	identities map[string]types.Identity // clientID -> auth state, always a subset of clients

	register   chan *Client
	unregister chan *Client
	inbound    chan frame
	broadcast  chan []byte

	verifier  TokenVerifier
	onConnect []func(string)
	onDisconn []func(string)

	mu     sync.RWMutex
	logger zerolog.Logger
	done   chan struct{}
}

// frame is one raw inbound message from a connection.
type frame struct {
	client *Client
	data   []byte
}

// New creates a new Hub instance.
func New(verifier TokenVerifier, logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		identities: make(map[string]types.Identity),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan frame, 256),
		broadcast:  make(chan []byte, 256),
		verifier:   verifier,
		logger:     logger.With().Str("component", "hub").Logger(),
		done:       make(chan struct{}),
	}
}

// Run starts the hub event loop. Call in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case f := <-h.inbound:
			h.handleFrame(f.client, f.data)
		case payload := <-h.broadcast:
			h.fanOut(payload)
		case <-h.done:
			return
		}
	}
}

// Stop halts the hub event loop.
func (h *Hub) Stop() {
	close(h.done)
}

// Register queues a new connection. It starts unauthenticated.
// A no-op once the hub is stopped.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

// Unregister queues a connection for removal. A no-op once the hub is
// stopped, so straggling read pumps never block during shutdown.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Broadcast queues a payload for verbatim fan-out to every currently
// authenticated connection. Satisfies bridge.BroadcastTarget. A no-op
// once the hub is stopped.
func (h *Hub) Broadcast(payload []byte) {
	select {
	case h.broadcast <- payload:
	case <-h.done:
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()

	h.logger.Info().Str("client_id", c.ID).Msg("connection opened")

	for _, cb := range h.onConnect {
		cb(c.ID)
	}
}

// removeClient deletes the connection and any auth state. Idempotent:
// removing an unknown connection is a no-op. Auth state is cleared
// unconditionally so the authenticated set can never outlive the
// connection set.
func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	_, known := h.clients[c.ID]
	delete(h.clients, c.ID)
	delete(h.identities, c.ID)
	h.mu.Unlock()
	if !known {
		return
	}

	c.Close()
	h.logger.Info().Str("client_id", c.ID).Msg("connection closed")

	for _, cb := range h.onDisconn {
		cb(c.ID)
	}
}

// fanOut delivers payload to every authenticated connection. A dead
// connection (closed or full buffer) is removed and never blocks
// delivery to the rest. Runs on the hub loop.
func (h *Hub) fanOut(payload []byte) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.identities))
	for id := range h.identities {
		if c, ok := h.clients[id]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.enqueue(payload) {
			delivered++
			continue
		}
		h.logger.Warn().Str("client_id", c.ID).Msg("send failed, removing connection")
		h.removeClient(c)
	}

	h.logger.Debug().Int("delivered", delivered).Msg("payload broadcast")
}
