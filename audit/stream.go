package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultStream is the Redis stream audit events are appended to
	DefaultStream = "smartscan:audit"
	// DefaultPublishTimeout bounds a single XADD
	DefaultPublishTimeout = 3 * time.Second
	// DefaultMaxLen caps the stream length (approximate trimming)
	DefaultMaxLen = 100000
)

// RedisConfig holds the connection settings for the audit stream
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
}

// StreamAuditor appends events to a Redis stream with XADD
type StreamAuditor struct {
	client *redis.Client
	stream string
}

// NewStreamAuditor connects to Redis and verifies the connection with a ping
func NewStreamAuditor(cfg *RedisConfig) (*StreamAuditor, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	stream := cfg.Stream
	if stream == "" {
		stream = DefaultStream
	}

	slog.Info("Audit stream initialized", "addr", cfg.Addr, "stream", stream)
	return &StreamAuditor{client: rdb, stream: stream}, nil
}

// IsEnabled returns true once connected
func (a *StreamAuditor) IsEnabled() bool {
	return a != nil && a.client != nil
}

// LogEvent publishes the event asynchronously (fire-and-forget).
// A background context is used so the write outlives the request.
func (a *StreamAuditor) LogEvent(_ context.Context, event *Event) {
	if !a.IsEnabled() || event == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultPublishTimeout)
		defer cancel()
		if _, err := a.Publish(ctx, event); err != nil {
			slog.Error("Failed to publish audit event", "action", event.Action, "error", err)
		}
	}()
}

// Publish appends the event synchronously and returns the stream message ID
func (a *StreamAuditor) Publish(ctx context.Context, event *Event) (string, error) {
	msgID, err := a.client.XAdd(ctx, &redis.XAddArgs{
		Stream: a.stream,
		MaxLen: DefaultMaxLen,
		Approx: true,
		Values: event.Values(),
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to XADD to stream %s: %w", a.stream, err)
	}
	return msgID, nil
}

// Recent returns up to count of the newest stream entries, newest first
func (a *StreamAuditor) Recent(ctx context.Context, count int64) ([]redis.XMessage, error) {
	msgs, err := a.client.XRevRangeN(ctx, a.stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read stream %s: %w", a.stream, err)
	}
	return msgs, nil
}

// HealthCheck verifies Redis connectivity
func (a *StreamAuditor) HealthCheck(ctx context.Context) error {
	return a.client.Ping(ctx).Err()
}

// Close gracefully closes the Redis connection
func (a *StreamAuditor) Close() error {
	return a.client.Close()
}
