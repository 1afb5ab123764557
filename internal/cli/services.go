package cli

import (
	"context"
	"fmt"

	"github.com/Harshitk-cp/memlayer/internal/api"
	"github.com/Harshitk-cp/memlayer/internal/config"
	"github.com/Harshitk-cp/memlayer/internal/notify"
	"github.com/Harshitk-cp/memlayer/internal/service"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// openServices builds the engine over pool. Mutations made by a command are
// announced the same way the server announces them; the returned func drains
// pending notifications and must run before the command exits.
func openServices(ctx context.Context, pool *pgxpool.Pool) (*api.Services, func(), error) {
	logger := newLogger()
	hub, closeHub, err := newNotifier(ctx, logger)
	if err != nil {
		return nil, nil, err
	}

	var n service.Notifier
	if hub != nil {
		n = hub
	}
	svcs, err := api.NewServices(pool, n, logger)
	if err != nil {
		closeHub()
		return nil, nil, err
	}
	return svcs, closeHub, nil
}

// newNotifier returns a started hub forwarding to redis when REDIS_URL is
// set, and a nil hub otherwise.
func newNotifier(ctx context.Context, logger *zap.Logger) (*notify.Hub, func(), error) {
	url := config.RedisURL()
	if url == "" {
		return nil, func() {}, nil
	}

	rdb, err := notify.NewRedisClient(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("notifications: %w", err)
	}
	hub := notify.NewHub(config.NotifyBuffer(), logger)
	hub.Subscribe(notify.NewRedisSink(rdb, config.RedisChannelPrefix(), logger).Handle)
	hub.Start()

	return hub, func() {
		hub.Stop()
		if err := rdb.Close(); err != nil {
			logger.Warn("close redis", zap.Error(err))
		}
	}, nil
}
