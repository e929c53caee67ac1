package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pdarray-engine/config"
	"pdarray-engine/internal/events"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrRedisDisabled is returned when a client is requested for a disabled config
var ErrRedisDisabled = errors.New("redis is not enabled in configuration")

const (
	defaultQueueSize    = 1024
	defaultMaxFailures  = 3
	defaultRetryAfter   = 30 * time.Second
	defaultPublishLimit = 3 * time.Second
)

// Publisher is the subset of *redis.Client the sink needs
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// NewRedisClient connects to Redis and verifies connectivity.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, ErrRedisDisabled
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MinIdleConns: 1,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Address, err)
	}
	return client, nil
}

// RedisSink publishes every bus event as JSON on a Redis channel.
//
// Events are encoded synchronously inside the bus callback, since levels keep
// mutating after publication, and sent by a background worker so a slow Redis
// never stalls bar processing. After maxFailures consecutive errors the sink
// drops events until retryAfter has elapsed.
type RedisSink struct {
	client  Publisher
	channel string
	logger  zerolog.Logger

	queue chan []byte
	done  chan struct{}
	wg    sync.WaitGroup

	mu          sync.Mutex
	healthy     bool
	failures    int
	openedAt    time.Time
	maxFailures int
	retryAfter  time.Duration
	published   int
	dropped     int
}

// NewRedisSink creates a sink; call Start before subscribing it.
func NewRedisSink(client Publisher, channel string, logger zerolog.Logger) *RedisSink {
	return &RedisSink{
		client:      client,
		channel:     channel,
		logger:      logger.With().Str("component", "RedisSink").Str("channel", channel).Logger(),
		queue:       make(chan []byte, defaultQueueSize),
		done:        make(chan struct{}),
		healthy:     true,
		maxFailures: defaultMaxFailures,
		retryAfter:  defaultRetryAfter,
	}
}

// Start launches the publishing worker
func (s *RedisSink) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop drains queued events and waits for the worker.
func (s *RedisSink) Stop() {
	close(s.done)
	s.wg.Wait()
}

// Attach subscribes the sink to every event on bus.
func (s *RedisSink) Attach(bus *events.EventBus) events.SubscriptionID {
	return bus.SubscribeAll(s.Handle)
}

// Handle encodes ev and queues it. A full queue drops the event.
func (s *RedisSink) Handle(ev events.Event) {
	data, err := Encode(ev)
	if err != nil {
		s.logger.Error().Err(err).Str("event", string(ev.Type)).Msg("Failed to encode event")
		return
	}
	select {
	case s.queue <- data:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		s.logger.Warn().Str("event", string(ev.Type)).Msg("Publish queue full, dropping event")
	}
}

// Stats returns the number of published and dropped events
func (s *RedisSink) Stats() (published, dropped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.published, s.dropped
}

// IsHealthy returns whether Redis is currently accepting publishes
func (s *RedisSink) IsHealthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthy
}

func (s *RedisSink) run() {
	defer s.wg.Done()
	for {
		select {
		case data := <-s.queue:
			s.send(data)
		case <-s.done:
			for {
				select {
				case data := <-s.queue:
					s.send(data)
				default:
					return
				}
			}
		}
	}
}

func (s *RedisSink) send(data []byte) {
	if !s.allow() {
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultPublishLimit)
	defer cancel()

	if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
		s.recordFailure(err)
		return
	}
	s.recordSuccess()
}

// allow reports whether a publish may be attempted. An open breaker lets one
// attempt through once retryAfter has passed.
func (s *RedisSink) allow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.healthy {
		return true
	}
	return time.Since(s.openedAt) >= s.retryAfter
}

func (s *RedisSink) recordFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures++
	s.dropped++
	if s.failures >= s.maxFailures {
		if s.healthy {
			s.logger.Warn().Err(err).Int("failures", s.failures).Msg("Redis marked unhealthy, dropping events")
		}
		s.healthy = false
		s.openedAt = time.Now()
		return
	}
	s.logger.Debug().Err(err).Msg("Publish failed")
}

func (s *RedisSink) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.healthy {
		s.logger.Info().Msg("Redis recovered")
	}
	s.healthy = true
	s.failures = 0
	s.published++
}
