package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	logx "kavitabot/pkg/logx"
)

const defaultRedisPrefix = "kavitabot:"

type redisStore struct {
	client *redis.Client
	prefix string
	log    logx.Logger
}

// openRedis accepts a redis:// or rediss:// URL. Documents never expire.
func openRedis(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("redis dsn is required")
	}
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &redisStore{client: client, prefix: prefix, log: log}, nil
}

func (s *redisStore) Load(ctx context.Context, name string) ([]byte, error) {
	b, err := s.client.Get(ctx, s.prefix+name).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return b, err
}

func (s *redisStore) Save(ctx context.Context, name string, data []byte) error {
	err := s.client.Set(ctx, s.prefix+name, data, 0).Err()
	if err == nil {
		s.log.Debug("document saved", logx.String("name", name), logx.Int("bytes", len(data)))
	}
	return err
}

func (s *redisStore) Close() error { return s.client.Close() }
