package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisSubscriber bridges the backend's Redis pub/sub channel to the
// connection registry: every payload received on the channel is handed
// to the broadcast target unmodified. Bus loss never crashes the
// process or drops connected clients; broadcasting simply pauses while
// the resubscribe loop runs.
type RedisSubscriber struct {
	client  *redis.Client
	channel string
	target  BroadcastTarget
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	active bool
}

// NewRedisSubscriber creates a subscriber for the configured channel.
func NewRedisSubscriber(cfg *RedisConfig, target BroadcastTarget, logger zerolog.Logger) *RedisSubscriber {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithCancel(context.Background())

	return &RedisSubscriber{
		client:  client,
		channel: cfg.Channel,
		target:  target,
		logger:  logger.With().Str("component", "redis-subscriber").Logger(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start pings the bus and subscribes once. A failure leaves the
// subscriber inactive; use StartWithRetry to keep trying in the
// background.
func (s *RedisSubscriber) Start() error {
	if err := s.client.Ping(s.ctx).Err(); err != nil {
		return err
	}
	return s.subscribe()
}

// StartWithRetry subscribes in the background, retrying with exponential
// backoff (1s doubling to a 30s cap) until the bus is reachable or the
// subscriber is stopped.
func (s *RedisSubscriber) StartWithRetry() {
	s.wg.Add(1)
	go s.retryLoop()
}

func (s *RedisSubscriber) subscribe() error {
	sub := s.client.Subscribe(s.ctx, s.channel)

	// Wait for subscription confirmation.
	if _, err := sub.Receive(s.ctx); err != nil {
		_ = sub.Close()
		return err
	}

	s.mu.Lock()
	s.active = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.listen(sub)

	s.logger.Info().Str("channel", s.channel).Msg("subscribed to event bus")
	return nil
}

func (s *RedisSubscriber) retryLoop() {
	defer s.wg.Done()

	bo := newBackOff()
	for {
		wait := bo.NextBackOff()
		s.logger.Warn().Dur("retry_in", wait).Msg("event bus unavailable, will retry")

		select {
		case <-s.ctx.Done():
			return
		case <-time.After(wait):
		}

		if err := s.subscribe(); err != nil {
			s.logger.Error().Err(err).Msg("event bus resubscribe failed")
			continue
		}
		return
	}
}

// Stop unsubscribes and closes the bus connection.
func (s *RedisSubscriber) Stop() error {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	return s.client.Close()
}

// Available reports whether the subscription is live.
func (s *RedisSubscriber) Available() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// listen forwards bus payloads to the broadcast target. If the
// subscription channel closes while the subscriber is still supposed to
// be running, the resubscribe loop takes over.
func (s *RedisSubscriber) listen(sub *redis.PubSub) {
	defer s.wg.Done()
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				s.mu.Lock()
				s.active = false
				s.mu.Unlock()

				select {
				case <-s.ctx.Done():
				default:
					s.logger.Error().Str("channel", s.channel).Msg("event bus subscription lost")
					s.wg.Add(1)
					go s.retryLoop()
				}
				return
			}
			s.handlePayload([]byte(msg.Payload))
		case <-s.ctx.Done():
			return
		}
	}
}

// handlePayload forwards one event to the registry verbatim. The payload
// is never parsed here; the publishing backend owns the format. This
// path must stay fast, it only enqueues non-blocking sends.
func (s *RedisSubscriber) handlePayload(payload []byte) {
	s.logger.Debug().Int("bytes", len(payload)).Msg("relaying bus event")
	s.target.Broadcast(payload)
}

func newBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}
