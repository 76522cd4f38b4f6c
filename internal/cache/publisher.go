// Package cache pushes bot events and the latest performance snapshot to Redis
// for external displays.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
	"trader-bot/internal/events"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// EventsChannel is the pub/sub channel every bus event is mirrored to.
	EventsChannel = "signalbot:events"
	// PerformanceKey holds the latest PERFORMANCE_UPDATED payload.
	PerformanceKey = "signalbot:performance:latest"

	DefaultPerformanceTTL = 10 * time.Minute

	opTimeout   = 3 * time.Second
	maxFailures = 3
)

// ErrUnavailable is returned while the circuit breaker considers Redis down.
var ErrUnavailable = errors.New("redis unavailable")

type redisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Close() error
}

// Publisher mirrors bus events to Redis with graceful degradation: after
// maxFailures consecutive errors it stops trying until retryAfter has passed.
type Publisher struct {
	client redisClient
	ttl    time.Duration
	logger *zap.Logger

	mu           sync.Mutex
	failureCount int
	openUntil    time.Time
	retryAfter   time.Duration
}

// NewPublisher connects to Redis. A failed ping is logged and the publisher
// starts in degraded mode rather than failing startup.
func NewPublisher(addr, password string, logger *zap.Logger) *Publisher {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  opTimeout,
		WriteTimeout: opTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis 初始连接失败，以降级模式运行", zap.String("addr", addr), zap.Error(err))
	} else {
		logger.Info("Redis 连接成功", zap.String("addr", addr))
	}
	return newPublisher(client, logger)
}

func newPublisher(client redisClient, logger *zap.Logger) *Publisher {
	return &Publisher{
		client:     client,
		ttl:        DefaultPerformanceTTL,
		logger:     logger,
		retryAfter: 30 * time.Second,
	}
}

// Attach subscribes the publisher to every bus event.
func (p *Publisher) Attach(bus *events.EventBus) {
	bus.SubscribeAll(func(event events.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		if err := p.Handle(ctx, event); err != nil && !errors.Is(err, ErrUnavailable) {
			p.logger.Debug("redis publish failed", zap.String("event", string(event.Type)), zap.Error(err))
		}
	})
}

// Handle publishes one event and, for performance updates, refreshes the cached snapshot.
func (p *Publisher) Handle(ctx context.Context, event events.Event) error {
	if !p.available() {
		return ErrUnavailable
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.Type, err)
	}

	if err := p.client.Publish(ctx, EventsChannel, payload).Err(); err != nil {
		p.recordFailure()
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	if event.Type == events.EventPerformanceUpdated {
		if err := p.client.Set(ctx, PerformanceKey, payload, p.ttl).Err(); err != nil {
			p.recordFailure()
			return fmt.Errorf("cache performance: %w", err)
		}
	}
	p.recordSuccess()
	return nil
}

// LatestPerformance returns the cached PERFORMANCE_UPDATED event, or nil if expired.
func (p *Publisher) LatestPerformance(ctx context.Context) (*events.Event, error) {
	if !p.available() {
		return nil, ErrUnavailable
	}
	raw, err := p.client.Get(ctx, PerformanceKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		p.recordFailure()
		return nil, fmt.Errorf("get %s: %w", PerformanceKey, err)
	}
	p.recordSuccess()

	var event events.Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, fmt.Errorf("decode %s: %w", PerformanceKey, err)
	}
	return &event, nil
}

func (p *Publisher) Close() error {
	return p.client.Close()
}

func (p *Publisher) available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.openUntil.IsZero() || time.Now().After(p.openUntil)
}

func (p *Publisher) recordFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failureCount++
	if p.failureCount >= maxFailures {
		if p.openUntil.IsZero() {
			p.logger.Warn("Redis 连续失败，暂停推送", zap.Int("failures", p.failureCount))
		}
		p.openUntil = time.Now().Add(p.retryAfter)
	}
}

func (p *Publisher) recordSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.openUntil.IsZero() {
		p.logger.Info("Redis 已恢复")
	}
	p.failureCount = 0
	p.openUntil = time.Time{}
}
