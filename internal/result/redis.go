package result

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration.
type Config struct {
	Addr     string
	Password string
	DB       int

	// TTL bounds artifact retention. Zero keeps artifacts until an
	// external retention policy removes them.
	TTL time.Duration
}

// Redis implements Store on a Redis hash per artifact.
type Redis struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedis connects and verifies the connection.
func NewRedis(cfg *Config, logger *slog.Logger) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Connected to Redis",
		slog.String("addr", cfg.Addr),
		slog.Int("db", cfg.DB),
	)

	return &Redis{rdb: rdb, ttl: cfg.TTL, logger: logger}, nil
}

func (r *Redis) Put(ctx context.Context, key string, artifact *Artifact) error {
	fields := map[string]interface{}{
		"data":         artifact.Data,
		"content_type": artifact.ContentType,
	}
	if len(artifact.Meta) > 0 {
		meta, err := json.Marshal(artifact.Meta)
		if err != nil {
			return fmt.Errorf("failed to marshal artifact meta: %w", err)
		}
		fields["meta"] = string(meta)
	}

	pipe := r.rdb.TxPipeline()
	// Replace wholesale so a second Put is last-write-wins.
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, fields)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store artifact %s: %w", key, err)
	}

	r.logger.Debug("Artifact stored",
		slog.String("key", key),
		slog.Int("size", len(artifact.Data)),
	)
	return nil
}

func (r *Redis) Get(ctx context.Context, key string) (*Artifact, error) {
	fields, err := r.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch artifact %s: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	artifact := &Artifact{
		Data:        []byte(fields["data"]),
		ContentType: fields["content_type"],
	}
	if meta, ok := fields["meta"]; ok && meta != "" {
		if err := json.Unmarshal([]byte(meta), &artifact.Meta); err != nil {
			return nil, fmt.Errorf("failed to unmarshal artifact meta: %w", err)
		}
	}
	return artifact, nil
}

// Ping checks the Redis connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
