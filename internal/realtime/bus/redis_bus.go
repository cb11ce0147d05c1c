package bus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/botforge-backend/internal/platform/envutil"
	"github.com/yungbote/botforge-backend/internal/platform/logger"
	"github.com/yungbote/botforge-backend/internal/realtime"
)

const (
	DefaultChannel = "botforge:sse"

	resubscribeMin = 500 * time.Millisecond
	resubscribeMax = 15 * time.Second
	slowDelivery   = time.Second
)

type Config struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// ConfigFromEnv reads REDIS_ADDR, REDIS_PASSWORD, REDIS_DB and REDIS_CHANNEL.
func ConfigFromEnv() Config {
	return Config{
		Addr:     envutil.String("REDIS_ADDR", ""),
		Password: envutil.String("REDIS_PASSWORD", ""),
		DB:       envutil.Int("REDIS_DB", 0),
		Channel:  envutil.String("REDIS_CHANNEL", DefaultChannel),
	}
}

func (c Config) Enabled() bool { return strings.TrimSpace(c.Addr) != "" }

// NewClient dials redis and pings it once. The caller owns the client.
func NewClient(ctx context.Context, cfg Config) (*goredis.Client, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

type redisBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
	origin  string
	now     func() time.Time
}

// NewRedisBus publishes and subscribes on channel using rdb. It does not close rdb.
func NewRedisBus(log *logger.Logger, rdb *goredis.Client, channel string) (Bus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if rdb == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if strings.TrimSpace(channel) == "" {
		channel = DefaultChannel
	}
	origin := ulid.Make().String()
	return &redisBus{
		log:     log.With("component", "RedisSSEBus", "origin", origin),
		rdb:     rdb,
		channel: channel,
		origin:  origin,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func (b *redisBus) Publish(ctx context.Context, msg realtime.SSEMessage) error {
	raw, err := Encode(b.origin, b.now(), msg)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

func (b *redisBus) StartForwarder(ctx context.Context, onMsg func(m realtime.SSEMessage)) error {
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}
	sub, err := b.subscribe(ctx)
	if err != nil {
		return err
	}
	go b.forward(ctx, sub, onMsg)
	return nil
}

func (b *redisBus) subscribe(ctx context.Context) (*goredis.PubSub, error) {
	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", b.channel, err)
	}
	return sub, nil
}

func (b *redisBus) forward(ctx context.Context, sub *goredis.PubSub, onMsg func(realtime.SSEMessage)) {
	wait := resubscribeMin
	for {
		b.drain(ctx, sub, onMsg)
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		for {
			b.log.Warn("redis subscription dropped, resubscribing", "channel", b.channel, "wait", wait.String())
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			var err error
			if sub, err = b.subscribe(ctx); err == nil {
				wait = resubscribeMin
				break
			}
			wait = min(wait*2, resubscribeMax)
		}
	}
}

// drain returns when ctx ends or the subscription channel closes.
func (b *redisBus) drain(ctx context.Context, sub *goredis.PubSub, onMsg func(realtime.SSEMessage)) {
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			if m == nil {
				continue
			}
			env, err := Decode([]byte(m.Payload))
			if err != nil {
				b.log.Warn("bad redis SSE payload", "error", err)
				continue
			}
			if lag := b.now().Sub(env.SentAt); !env.SentAt.IsZero() && lag > slowDelivery {
				b.log.Debug("slow realtime delivery", "channel", env.Message.Channel, "from", env.Origin, "lag", lag.String())
			}
			onMsg(env.Message)
		}
	}
}
