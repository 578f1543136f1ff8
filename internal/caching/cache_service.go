package caching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"bizledger/internal/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "bizledger"

// CacheService holds derived dashboard data and payment idempotency keys.
// A cache miss is reported as (nil, nil).
type CacheService interface {
	GetSummary(ctx context.Context, currency string) (*models.InvoiceSummary, error)
	SetSummary(ctx context.Context, currency string, summary *models.InvoiceSummary, ttl time.Duration) error
	InvalidateSummary(ctx context.Context) error

	// ReserveIdempotencyKey returns false when key was already reserved within ttl.
	ReserveIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseIdempotencyKey(ctx context.Context, key string) error

	Ping(ctx context.Context) error
}

type redisCacheService struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisCacheService connects to addr, which may carry a redis:// or rediss:// scheme.
func NewRedisCacheService(addr, password string, db int, logger *zap.Logger) CacheService {
	parsedAddr := strings.TrimPrefix(strings.TrimPrefix(addr, "redis://"), "rediss://")

	client := redis.NewClient(&redis.Options{
		Addr:     parsedAddr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		logger.Warn("redis ping failed on initialization", zap.String("addr", parsedAddr), zap.Error(err))
	} else {
		logger.Debug("redis connection established", zap.String("addr", parsedAddr))
	}

	return &redisCacheService{client: client, logger: logger}
}

func summaryKey(currency string) string {
	return fmt.Sprintf("%s:summary:%s", keyPrefix, strings.ToUpper(currency))
}

func idempotencyKey(key string) string {
	return fmt.Sprintf("%s:idempotency:payment:%s", keyPrefix, key)
}

func (r *redisCacheService) GetSummary(ctx context.Context, currency string) (*models.InvoiceSummary, error) {
	data, err := r.client.Get(ctx, summaryKey(currency)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var summary models.InvoiceSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

func (r *redisCacheService) SetSummary(ctx context.Context, currency string, summary *models.InvoiceSummary, ttl time.Duration) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, summaryKey(currency), data, ttl).Err()
}

func (r *redisCacheService) InvalidateSummary(ctx context.Context) error {
	pattern := fmt.Sprintf("%s:summary:*", keyPrefix)
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *redisCacheService) ReserveIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, idempotencyKey(key), time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

func (r *redisCacheService) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	return r.client.Del(ctx, idempotencyKey(key)).Err()
}

func (r *redisCacheService) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

type noopCacheService struct{}

// NewNoopCacheService is used when Redis is not configured. Summaries are always
// recomputed and idempotency keys are accepted without deduplication.
func NewNoopCacheService() CacheService {
	return noopCacheService{}
}

func (noopCacheService) GetSummary(context.Context, string) (*models.InvoiceSummary, error) {
	return nil, nil
}

func (noopCacheService) SetSummary(context.Context, string, *models.InvoiceSummary, time.Duration) error {
	return nil
}

func (noopCacheService) InvalidateSummary(context.Context) error { return nil }

func (noopCacheService) ReserveIdempotencyKey(context.Context, string, time.Duration) (bool, error) {
	return true, nil
}

func (noopCacheService) ReleaseIdempotencyKey(context.Context, string) error { return nil }

func (noopCacheService) Ping(context.Context) error { return nil }
