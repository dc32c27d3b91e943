package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"docintel-backend/internal/logger"
	"docintel-backend/models"
)

// ResultCache keeps completed document results in Redis so repeated status
// and result reads skip MongoDB.
type ResultCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewResultCache creates a cache with the given TTL
func NewResultCache(rdb *redis.Client, ttl time.Duration) *ResultCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ResultCache{rdb: rdb, ttl: ttl}
}

func resultKey(documentID string) string {
	return fmt.Sprintf("result:%s", documentID)
}

// Get returns the cached result or nil on a miss
func (c *ResultCache) Get(ctx context.Context, documentID string) (*models.DocumentResult, error) {
	data, err := c.rdb.Get(ctx, resultKey(documentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var result models.DocumentResult
	if err := json.Unmarshal(data, &result); err != nil {
		// Stale or corrupt entry; drop it and treat as a miss.
		c.rdb.Del(ctx, resultKey(documentID))
		return nil, nil
	}
	return &result, nil
}

// Set stores a completed result
func (c *ResultCache) Set(ctx context.Context, result *models.DocumentResult) {
	data, err := json.Marshal(result)
	if err != nil {
		logger.Warn("failed to marshal result for cache", "document_id", result.DocumentID, "error", err)
		return
	}
	if err := c.rdb.Set(ctx, resultKey(result.DocumentID), data, c.ttl).Err(); err != nil {
		logger.Warn("failed to cache result", "document_id", result.DocumentID, "error", err)
	}
}

// Invalidate drops the cached result, used before reprocessing
func (c *ResultCache) Invalidate(ctx context.Context, documentID string) {
	if err := c.rdb.Del(ctx, resultKey(documentID)).Err(); err != nil {
		logger.Warn("failed to invalidate cached result", "document_id", documentID, "error", err)
	}
}
