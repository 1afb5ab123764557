package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisSink forwards hub events to Redis pub/sub, one channel per owner:
// "<prefix>:<owner>:events".
type RedisSink struct {
	client  publisher
	prefix  string
	timeout time.Duration
	logger  *zap.Logger
}

func NewRedisSink(client publisher, prefix string, logger *zap.Logger) *RedisSink {
	if prefix == "" {
		prefix = "memlayer"
	}
	return &RedisSink{
		client:  client,
		prefix:  prefix,
		timeout: 2 * time.Second,
		logger:  logger,
	}
}

// NewRedisClient parses a redis:// URL and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (s *RedisSink) Channel(ownerID string) string {
	return fmt.Sprintf("%s:%s:events", s.prefix, ownerID)
}

// Handle is a Listener.
func (s *RedisSink) Handle(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		s.logger.Error("marshal notification", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.client.Publish(ctx, s.Channel(e.OwnerID), payload).Err(); err != nil {
		s.logger.Warn("redis publish failed",
			zap.String("channel", s.Channel(e.OwnerID)),
			zap.Error(err),
		)
	}
}
