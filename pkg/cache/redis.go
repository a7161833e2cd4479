package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/reqshield/reqshield/pkg/models"
)

const redisKeyPrefix = "reqshield:analysis:"

// RedisStore is the Redis-backed analysis cache for multi-instance
// deployments. Analyses are stored as JSON with a native Redis TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStore connects to the Redis at redisURL (redis://host:port/db)
// and verifies the connection with a short ping.
func NewRedisStore(redisURL string, ttl time.Duration, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisStore{
		client: client,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "analysis_cache")),
	}, nil
}

// Get implements Store. Any Redis or decode failure is a miss.
func (r *RedisStore) Get(ctx context.Context, key string) (*models.RiskAnalysis, bool) {
	data, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.logger.Debug("cache read failed", zap.Error(err))
		}
		return nil, false
	}

	var analysis models.RiskAnalysis
	if err := json.Unmarshal(data, &analysis); err != nil {
		r.logger.Warn("cache entry corrupted", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &analysis, true
}

// Set implements Store. Write failures are logged and otherwise ignored.
func (r *RedisStore) Set(ctx context.Context, key string, analysis *models.RiskAnalysis) {
	data, err := json.Marshal(analysis)
	if err != nil {
		r.logger.Warn("cache encode failed", zap.Error(err))
		return
	}
	if err := r.client.Set(ctx, redisKeyPrefix+key, data, r.ttl).Err(); err != nil {
		r.logger.Warn("cache write failed", zap.Error(err))
	}
}

// Close releases the underlying Redis connection.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
