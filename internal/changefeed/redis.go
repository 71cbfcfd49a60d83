package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"sarathi/internal/config"
	"sarathi/internal/logger"
)

const channelPrefix = "sarathi:changes:"

type pubsubCmdable interface {
	Ping(context.Context) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// Redis fans changes out over Redis pub/sub so every server process sees every write.
type Redis struct {
	store pubsubCmdable
	raw   *redis.Client
	logg  *logger.Logger
}

// NewRedis connects to cfg.URL and verifies connectivity.
func NewRedis(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger) (*Redis, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis url is required")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	raw := redis.NewClient(opts)
	if err := raw.Ping(ctx).Err(); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Redis{store: raw, raw: raw, logg: logg}, nil
}

// Channel returns the pub/sub channel carrying changes of one document.
func Channel(collection Collection, id string) string {
	return channelPrefix + topic(collection, id)
}

func (r *Redis) Publish(ctx context.Context, c Change) error {
	if r == nil || r.store == nil {
		return errors.New("redis client not initialized")
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return r.store.Publish(ctx, Channel(c.Collection, c.ID), payload).Err()
}

func (r *Redis) Subscribe(ctx context.Context, collection Collection, id string, h Handler) (func(), error) {
	if r == nil || r.store == nil {
		return nil, errors.New("redis client not initialized")
	}
	if h == nil {
		return nil, errors.New("changefeed: nil handler")
	}
	ps := r.store.Subscribe(ctx, Channel(collection, id))
	// Wait for the subscription to be confirmed so no publish after return is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s/%s: %w", collection, id, err)
	}

	var closed atomic.Bool
	msgs := ps.Channel()
	go func() {
		for msg := range msgs {
			if closed.Load() {
				continue
			}
			c, err := decodeMessage(msg.Payload)
			if err != nil {
				r.logg.WarnErr(context.Background(), "dropping malformed change", err)
				continue
			}
			h(c)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			closed.Store(true)
			_ = ps.Close()
		})
	}, nil
}

// Ping checks connectivity; used by the readiness check.
func (r *Redis) Ping(ctx context.Context) error {
	if r == nil || r.store == nil {
		return errors.New("redis client not initialized")
	}
	return r.store.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	if r == nil || r.raw == nil {
		return nil
	}
	return r.raw.Close()
}

func decodeMessage(payload string) (Change, error) {
	var c Change
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return Change{}, err
	}
	if c.Collection == "" || c.ID == "" {
		return Change{}, errors.New("change without collection or id")
	}
	return c, nil
}
