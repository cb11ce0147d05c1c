package queue

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/botforge-backend/internal/platform/logger"
)

const DefaultWakeChannel = "botforge:jobs:wake"

// Notifier wakes idle workers when a job is enqueued.
type Notifier interface {
	Notify(ctx context.Context) error
	Wake() <-chan struct{}
	Ping(ctx context.Context) error
}

type localNotifier struct {
	ch chan struct{}
}

// NewLocalNotifier wakes workers in the same process only.
func NewLocalNotifier() Notifier {
	return &localNotifier{ch: make(chan struct{}, 1)}
}

func (n *localNotifier) Notify(context.Context) error {
	select {
	case n.ch <- struct{}{}:
	default:
	}
	return nil
}

func (n *localNotifier) Wake() <-chan struct{} { return n.ch }

func (n *localNotifier) Ping(context.Context) error { return nil }

type redisNotifier struct {
	local   *localNotifier
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

// NewRedisNotifier publishes wake-ups on a redis channel so workers in other
// processes see them. The subscription lives until ctx is done.
func NewRedisNotifier(ctx context.Context, log *logger.Logger, rdb *goredis.Client, channel string) (Notifier, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if channel == "" {
		channel = DefaultWakeChannel
	}
	n := &redisNotifier{
		local:   &localNotifier{ch: make(chan struct{}, 1)},
		log:     log.With("component", "QueueNotifier"),
		rdb:     rdb,
		channel: channel,
	}

	sub := rdb.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				_ = n.local.Notify(ctx)
			}
		}
	}()
	return n, nil
}

func (n *redisNotifier) Notify(ctx context.Context) error {
	_ = n.local.Notify(ctx)
	return n.rdb.Publish(ctx, n.channel, "1").Err()
}

func (n *redisNotifier) Wake() <-chan struct{} { return n.local.Wake() }

func (n *redisNotifier) Ping(ctx context.Context) error { return n.rdb.Ping(ctx).Err() }
