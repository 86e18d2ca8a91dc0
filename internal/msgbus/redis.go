package msgbus

import (
	"context"
	"errors"
	"time"

	"tradecore/pkg/utils"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// StreamClient - подмножество redis.Client, нужное мосту
type StreamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XRead(ctx context.Context, a *redis.XReadArgs) *redis.XStreamSliceCmd
	Close() error
}

// RedisConfig - настройки моста в Redis Streams
type RedisConfig struct {
	BridgeConfig
	Stream string
	MaxLen int64
	Block  time.Duration
	Count  int64
}

// RedisBridge пересылает события шины в Redis Stream (XADD) и
// публикует в шину записи, прочитанные из того же потока (XREAD)
type RedisBridge struct {
	*bridgeCore
	client StreamClient
	cfg    RedisConfig
	lastID string
}

func NewRedisBridge(bus *Bus, client StreamClient, cfg RedisConfig) *RedisBridge {
	if cfg.Stream == "" {
		cfg.Stream = "tradecore:events"
	}
	if cfg.Block <= 0 {
		cfg.Block = time.Second
	}
	if cfg.Count <= 0 {
		cfg.Count = 100
	}
	return &RedisBridge{
		bridgeCore: newBridgeCore("redis", bus, nil, cfg.BridgeConfig),
		client:     client,
		cfg:        cfg,
		lastID:     "$",
	}
}

// NewRedisClient создаёт клиента go-redis
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
}

// Run подписывается на шину и работает до отмены ctx
func (r *RedisBridge) Run(ctx context.Context) error {
	if err := r.attach(); err != nil {
		return err
	}
	defer r.detach()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.pump(ctx, r.send) })
	g.Go(func() error { return r.consume(ctx) })
	return g.Wait()
}

func (r *RedisBridge) send(ctx context.Context, m outbound) error {
	args := &redis.XAddArgs{
		Stream: r.cfg.Stream,
		Values: map[string]any{"topic": m.topic, "envelope": string(m.data)},
	}
	if r.cfg.MaxLen > 0 {
		args.MaxLen = r.cfg.MaxLen
		args.Approx = true
	}
	return r.client.XAdd(ctx, args).Err()
}

func (r *RedisBridge) consume(ctx context.Context) error {
	for ctx.Err() == nil {
		if err := r.readOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.log.Warn("stream read failed", utils.Err(err))
			select {
			case <-ctx.Done():
			case <-time.After(r.cfg.Block):
			}
		}
	}
	return nil
}

// readOnce читает одну пачку записей потока
func (r *RedisBridge) readOnce(ctx context.Context) error {
	streams, err := r.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{r.cfg.Stream, r.lastID},
		Count:   r.cfg.Count,
		Block:   r.cfg.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, s := range streams {
		for _, m := range s.Messages {
			r.lastID = m.ID
			raw, ok := m.Values["envelope"].(string)
			if !ok {
				continue
			}
			r.receive([]byte(raw))
		}
	}
	return nil
}

func (r *RedisBridge) Close() error {
	r.detach()
	return r.client.Close()
}
