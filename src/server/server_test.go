package server

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secaudit/findings-relay/config"
	"github.com/secaudit/findings-relay/src/auth"
	"github.com/secaudit/findings-relay/src/hub"
	"github.com/secaudit/findings-relay/src/wsclient"
)

// startTestServer boots a full relay (real verifier, hub, fasthttp
// listener on an ephemeral port) and returns the hub, the listen
// address, and the private key for minting tokens.
func startTestServer(t *testing.T) (*hub.Hub, string, *rsa.PrivateKey) {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	keyPath := filepath.Join(t.TempDir(), "public.pem")
	require.NoError(t, os.WriteFile(keyPath,
		pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o600))

	verifier := auth.NewVerifier(keyPath, zerolog.Nop())
	require.NoError(t, verifier.EnsureKey())

	h := hub.New(verifier, zerolog.Nop())
	go h.Run()
	t.Cleanup(func() { h.Stop() })

	srv := New(config.Default(), h, nil, zerolog.Nop())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	return h, ln.Addr().String(), priv
}

func mintToken(t *testing.T, priv *rsa.PrivateKey, userID any, email string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub":      userID,
		"username": email,
		"roles":    []string{"ROLE_USER"},
		"exp":      time.Now().Add(time.Hour).Unix(),
	}).SignedString(priv)
	require.NoError(t, err)
	return token
}

func TestHealthEndpoint(t *testing.T) {
	_, addr, _ := startTestServer(t)

	resp, err := http.Get("http://" + addr + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var health map[string]any
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, float64(0), health["connections"])
}

func TestUpgradeRequiredOnPlainRequest(t *testing.T) {
	_, addr, _ := startTestServer(t)

	resp, err := http.Get("http://" + addr + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

func TestPingBeforeAuthOverRealSocket(t *testing.T) {
	h, addr, _ := startTestServer(t)

	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))

	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "pong", frame["type"])

	total, authed := h.Counts()
	assert.Equal(t, 1, total)
	assert.Equal(t, 0, authed, "ping must not authenticate")
}

func TestInvalidTokenOverRealSocket(t *testing.T) {
	h, addr, _ := startTestServer(t)

	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "token": "garbage"}))

	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "auth_error", frame["type"])
	assert.Equal(t, "Invalid token", frame["message"])

	// The connection survives the rejection.
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "pong", frame["type"])

	_, authed := h.Counts()
	assert.Equal(t, 0, authed)
}

func TestEndToEndBroadcastThroughEngine(t *testing.T) {
	h, addr, priv := startTestServer(t)

	engine := wsclient.New("ws://" + addr + "/ws")
	defer engine.Disconnect()

	var mu sync.Mutex
	var events []wsclient.Event
	engine.OnEvent(func(ev wsclient.Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	engine.Connect(mintToken(t, priv, "7", "alice@example.com"))

	require.Eventually(t, func() bool {
		return engine.Status() == wsclient.StatusAuthenticated
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "7", engine.UserID())

	payload := `{"type":"finding.updated","data":{"id":"SF3","riskLevel":"high"},"userId":7,"timestamp":"2024-01-01T00:00:00Z"}`
	h.Broadcast([]byte(payload))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "finding.updated", events[0].Type)
	assert.JSONEq(t, `{"id":"SF3","riskLevel":"high"}`, string(events[0].Data))
	assert.Equal(t, "2024-01-01T00:00:00Z", events[0].Timestamp)
	// Authored by the connected user and still delivered.
	assert.True(t, events[0].AuthoredBy(engine.UserID()))
}

func TestBroadcastSkipsUnauthenticatedOverRealSockets(t *testing.T) {
	h, addr, priv := startTestServer(t)

	authed, resp1, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	require.NoError(t, err)
	if resp1 != nil && resp1.Body != nil {
		resp1.Body.Close()
	}
	defer authed.Close()

	bystander, resp2, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	require.NoError(t, err)
	if resp2 != nil && resp2.Body != nil {
		resp2.Body.Close()
	}
	defer bystander.Close()

	require.NoError(t, authed.WriteJSON(map[string]string{
		"type":  "auth",
		"token": mintToken(t, priv, "7", "alice@example.com"),
	}))
	var frame map[string]any
	require.NoError(t, authed.ReadJSON(&frame))
	require.Equal(t, "auth_success", frame["type"])

	payload := `{"type":"finding.created","data":{"id":"SF9"},"userId":2,"timestamp":"2024-01-01T00:00:00Z"}`
	h.Broadcast([]byte(payload))

	_, raw, err := authed.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, payload, string(raw), "payload forwarded verbatim")

	// The unauthenticated socket must stay silent.
	require.NoError(t, bystander.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err = bystander.ReadMessage()
	assert.Error(t, err, "unauthenticated connection must receive nothing")
}
