package bridge

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockBroadcastTarget records payloads forwarded by the subscriber.
type mockBroadcastTarget struct {
	mu       sync.Mutex
	received [][]byte
}

func (m *mockBroadcastTarget) Broadcast(payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = append(m.received, payload)
}

func (m *mockBroadcastTarget) getReceived() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([][]byte, len(m.received))
	copy(cp, m.received)
	return cp
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestDefaultRedisConfig(t *testing.T) {
	cfg := DefaultRedisConfig()
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 6379, cfg.Port)
	assert.Empty(t, cfg.Password)
	assert.Equal(t, 0, cfg.DB)
	assert.Equal(t, "findings", cfg.Channel)
	assert.Equal(t, "localhost:6379", cfg.Addr())
}

func TestRedisConfigFromEnv(t *testing.T) {
	t.Setenv("REDIS_HOST", "redis.example.com")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("REDIS_PASSWORD", "secret")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("WS_CHANNEL", "findings-test")

	cfg := RedisConfigFromEnv()
	assert.Equal(t, "redis.example.com", cfg.Host)
	assert.Equal(t, 6380, cfg.Port)
	assert.Equal(t, "secret", cfg.Password)
	assert.Equal(t, 3, cfg.DB)
	assert.Equal(t, "findings-test", cfg.Channel)
	assert.Equal(t, "redis.example.com:6380", cfg.Addr())
}

func TestRedisConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("REDIS_HOST", "")
	t.Setenv("REDIS_PORT", "")
	t.Setenv("WS_CHANNEL", "")

	cfg := RedisConfigFromEnv()
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 6379, cfg.Port)
	assert.Equal(t, "findings", cfg.Channel)
}

func TestRedisConfigFromEnvInvalidPort(t *testing.T) {
	t.Setenv("REDIS_PORT", "not-a-number")
	t.Setenv("REDIS_DB", "also-not")

	cfg := RedisConfigFromEnv()
	assert.Equal(t, 6379, cfg.Port)
	assert.Equal(t, 0, cfg.DB)
}

func TestSubscriberUnavailableBeforeStart(t *testing.T) {
	target := &mockBroadcastTarget{}
	s := NewRedisSubscriber(DefaultRedisConfig(), target, testLogger())
	assert.False(t, s.Available())
}

func TestHandlePayloadForwardsVerbatim(t *testing.T) {
	target := &mockBroadcastTarget{}
	s := NewRedisSubscriber(DefaultRedisConfig(), target, testLogger())

	payload := `{"type":"finding.updated","data":{"id":"SF3"},"userId":7,"timestamp":"2024-01-01T00:00:00Z"}`
	s.handlePayload([]byte(payload))

	received := target.getReceived()
	require.Len(t, received, 1)
	assert.Equal(t, payload, string(received[0]), "payload must not be parsed or rewritten")
}

func TestBackOffSequence(t *testing.T) {
	bo := newBackOff()

	expected := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, want := range expected {
		assert.Equal(t, want, bo.NextBackOff(), "attempt %d", i)
	}
}

func TestStopCancelsRetryLoop(t *testing.T) {
	target := &mockBroadcastTarget{}
	cfg := DefaultRedisConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 1 // nothing listens here
	s := NewRedisSubscriber(cfg, target, testLogger())

	s.StartWithRetry()

	done := make(chan error, 1)
	go func() { done <- s.Stop() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not cancel the retry loop")
	}
	assert.False(t, s.Available())
}
