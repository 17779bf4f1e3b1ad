package server

import (
	"net"
	"strings"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"github.com/secaudit/findings-relay/config"
	"github.com/secaudit/findings-relay/src/bridge"
	"github.com/secaudit/findings-relay/src/hub"
)

// Server exposes the relay over HTTP: /ws upgrades to the WebSocket
// protocol, everything else is served by a Fiber app (/health, /ws/info).
// The upgrade happens at the fasthttp level because Fiber routes cannot
// hijack the underlying RequestCtx.
type Server struct {
	cfg      *config.Config
	hub      *hub.Hub
	bus      bridge.Subscriber
	logger   zerolog.Logger
	app      *fiber.App
	srv      *fasthttp.Server
	upgrader websocket.FastHTTPUpgrader
}

// New creates a server around the given registry. bus may be nil when
// the relay runs without an upstream subscription (tests).
func New(cfg *config.Config, h *hub.Hub, bus bridge.Subscriber, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		hub:    h,
		bus:    bus,
		logger: logger.With().Str("component", "server").Logger(),
		upgrader: websocket.FastHTTPUpgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			// Browser clients connect from the UI origin.
			CheckOrigin: func(*fasthttp.RequestCtx) bool { return true },
		},
	}

	s.app = fiber.New()
	s.app.Get("/health", s.handleHealth)
	s.app.Get("/ws/info", s.handleInfo)

	s.srv = &fasthttp.Server{Handler: s.handle}
	return s
}

// Serve accepts connections on the given listener until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	return s.srv.Serve(ln)
}

// Shutdown stops accepting new connections. Existing WebSocket
// connections are not drained; they end when their clients go away.
func (s *Server) Shutdown() error {
	return s.srv.Shutdown()
}

func (s *Server) handle(ctx *fasthttp.RequestCtx) {
	if string(ctx.Path()) == "/ws" {
		s.handleUpgrade(ctx)
		return
	}
	s.app.Handler()(ctx)
}

func (s *Server) handleUpgrade(ctx *fasthttp.RequestCtx) {
	upgrade := string(ctx.Request.Header.Peek("Upgrade"))
	if !strings.EqualFold(upgrade, "websocket") {
		ctx.SetStatusCode(fasthttp.StatusUpgradeRequired)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"error":"upgrade_required","message":"WebSocket upgrade required"}`)
		return
	}

	clientID := uuid.New().String()

	err := s.upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
		client := hub.NewClient(clientID, &wsConn{conn}, s.hub)
		s.hub.Register(client)
		go client.WritePump()
		client.ReadPump()
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("websocket upgrade failed")
	}
}

func (s *Server) handleHealth(c fiber.Ctx) error {
	busUp := s.bus != nil && s.bus.Available()
	status := "ok"
	if s.bus != nil && !busUp {
		status = "degraded"
	}
	total, authenticated := s.hub.Counts()
	return c.JSON(fiber.Map{
		"status":        status,
		"bus":           busUp,
		"connections":   total,
		"authenticated": authenticated,
	})
}

func (s *Server) handleInfo(c fiber.Ctx) error {
	total, authenticated := s.hub.Counts()
	return c.JSON(fiber.Map{
		"websocket":     true,
		"endpoint":      "/ws",
		"connections":   total,
		"authenticated": authenticated,
	})
}

// wsConn adapts fasthttp/websocket.Conn to types.Conn. All frames are
// JSON text.
type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := w.conn.ReadMessage()
	return data, err
}

func (w *wsConn) WriteMessage(data []byte) error {
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) Close() error { return w.conn.Close() }
