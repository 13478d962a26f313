package registry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/predixa/mlops/pkg/models"
)

// productionCacheKey holds the JSON of the current production version so the
// serving layer's hot path can resolve the artifact reference without a
// database round trip.
const productionCacheKey = "mlops:model:production"

// ProductionCache is a best-effort redis cache of the production model
// reference. Every method is safe on a nil receiver and degrades to a no-op
// on redis errors; the database remains the source of truth.
type ProductionCache struct {
	logger *zap.Logger
	rdb    *redis.Client
	ttl    time.Duration
}

// NewProductionCache creates a cache around an existing redis client.
func NewProductionCache(logger *zap.Logger, rdb *redis.Client, ttl time.Duration) *ProductionCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ProductionCache{logger: logger, rdb: rdb, ttl: ttl}
}

// Get returns the cached production version, or nil on miss or error.
func (c *ProductionCache) Get(ctx context.Context) *models.ModelVersion {
	if c == nil || c.rdb == nil {
		return nil
	}
	raw, err := c.rdb.Get(ctx, productionCacheKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Debug("production cache read failed", zap.Error(err))
		}
		return nil
	}
	var mv models.ModelVersion
	if err := json.Unmarshal(raw, &mv); err != nil {
		c.logger.Warn("production cache entry malformed, dropping", zap.Error(err))
		c.Invalidate(ctx)
		return nil
	}
	return &mv
}

// Set stores the production version with the configured TTL.
func (c *ProductionCache) Set(ctx context.Context, mv *models.ModelVersion) {
	if c == nil || c.rdb == nil || mv == nil {
		return
	}
	raw, err := json.Marshal(mv)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, productionCacheKey, raw, c.ttl).Err(); err != nil {
		c.logger.Debug("production cache write failed", zap.Error(err))
	}
}

// Invalidate drops the cached entry. Called on every transition that touches
// the production status.
func (c *ProductionCache) Invalidate(ctx context.Context) {
	if c == nil || c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, productionCacheKey).Err(); err != nil {
		c.logger.Debug("production cache invalidation failed", zap.Error(err))
	}
}
