package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	Prefix       string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Redis stores audio in a shared redis so replicas reuse each other's
// synthesis. Availability follows the outcome of the last command.
type Redis struct {
	client    *redis.Client
	prefix    string
	available atomic.Bool
	logger    *slog.Logger
}

// NewRedis connects and pings once. A failed ping is not an error: the
// cache starts unavailable and recovers on the next successful command.
func NewRedis(ctx context.Context, opts RedisOptions, logger *slog.Logger) *Redis {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 500 * time.Millisecond
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 250 * time.Millisecond
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 250 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:         opts.Addr,
			Password:     opts.Password,
			DB:           opts.DB,
			DialTimeout:  opts.DialTimeout,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
			MaxRetries:   1,
		}),
		prefix: opts.Prefix,
		logger: logger,
	}
	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := r.client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis cache unavailable", slog.String("addr", opts.Addr), slog.String("error", err.Error()))
		return r
	}
	r.available.Store(true)
	return r
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		r.available.Store(true)
		return nil, false, nil
	}
	if err != nil {
		r.markDown(err)
		return nil, false, err
	}
	r.available.Store(true)
	return val, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		r.markDown(err)
		return err
	}
	r.available.Store(true)
	return nil
}

func (r *Redis) markDown(err error) {
	if r.available.Swap(false) {
		r.logger.Warn("redis cache went unavailable", slog.String("error", err.Error()))
	}
}

func (r *Redis) Available() bool { return r.available.Load() }

func (r *Redis) Name() string { return "redis" }

func (r *Redis) Close() error {
	r.available.Store(false)
	return r.client.Close()
}

var _ Cache = (*Redis)(nil)
