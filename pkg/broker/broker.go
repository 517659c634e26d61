// Package broker provides the Redis connection used for review task queues
// and verdict notifications.
package broker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"

	"github.com/JaimeStill/sitegraph/pkg/lifecycle"
)

// System owns the Redis client and its lifecycle.
type System interface {
	Client() *redis.Client
	// Key joins parts onto the configured key prefix.
	Key(parts ...string) string
	Start(lc *lifecycle.Coordinator) error
}

type broker struct {
	client *redis.Client
	cfg    Config
	logger *slog.Logger
}

// New creates the Redis client. No connection is made until Start.
func New(cfg *Config, logger *slog.Logger) System {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeoutDuration(),
	})

	return &broker{
		client: client,
		cfg:    *cfg,
		logger: logger.With("system", "broker"),
	}
}

func (b *broker) Client() *redis.Client {
	return b.client
}

func (b *broker) Key(parts ...string) string {
	return b.cfg.Key(parts...)
}

func (b *broker) Start(lc *lifecycle.Coordinator) error {
	b.logger.Info("starting broker connection", "addr", b.cfg.Addr)

	lc.OnStartup(func() error {
		ctx, cancel := context.WithTimeout(lc.Context(), b.cfg.DialTimeoutDuration())
		defer cancel()

		if err := b.client.Ping(ctx).Err(); err != nil {
			b.logger.Error("broker ping failed", "error", err)
			return fmt.Errorf("ping redis: %w", err)
		}

		b.logger.Info("broker connection established")
		return nil
	})

	lc.OnShutdown(func() {
		<-lc.Context().Done()
		if err := b.client.Close(); err != nil {
			b.logger.Error("broker close failed", "error", err)
			return
		}
		b.logger.Info("broker connection closed")
	})

	return nil
}
