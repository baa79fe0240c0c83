package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/andresuchdata/smy-billing/backend-go/internal/config"
	"github.com/andresuchdata/smy-billing/backend-go/internal/domain"
)

const batchKeyPrefix = "import_batch:"

// BatchCache holds finished import batches with their row errors.
type BatchCache interface {
	GetBatch(ctx context.Context, batchID string) (*domain.ImportBatch, bool, error)
	SetBatch(ctx context.Context, batch *domain.ImportBatch) error
	InvalidateBatch(ctx context.Context, batchID string) error
}

type redisBatchCache struct {
	client *redis.Client
	ttl    time.Duration
}

type noopBatchCache struct{}

// NewBatchCache returns a Redis-backed cache, or a no-op one when client is nil.
func NewBatchCache(client *redis.Client, cfg config.CacheConfig) BatchCache {
	if client == nil {
		return &noopBatchCache{}
	}
	return &redisBatchCache{client: client, ttl: ttlFromSeconds(cfg.BatchTTLSeconds)}
}

func NewNoopBatchCache() BatchCache {
	return &noopBatchCache{}
}

func (c *redisBatchCache) GetBatch(ctx context.Context, batchID string) (*domain.ImportBatch, bool, error) {
	payload, err := c.client.Get(ctx, batchKey(batchID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	var batch domain.ImportBatch
	if err := json.Unmarshal(payload, &batch); err != nil {
		return nil, false, fmt.Errorf("decode import batch cache: %w", err)
	}
	return &batch, true, nil
}

func (c *redisBatchCache) SetBatch(ctx context.Context, batch *domain.ImportBatch) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode import batch cache: %w", err)
	}
	if err := c.client.Set(ctx, batchKey(batch.BatchID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (c *redisBatchCache) InvalidateBatch(ctx context.Context, batchID string) error {
	return c.client.Del(ctx, batchKey(batchID)).Err()
}

func (n *noopBatchCache) GetBatch(ctx context.Context, batchID string) (*domain.ImportBatch, bool, error) {
	return nil, false, nil
}

func (n *noopBatchCache) SetBatch(ctx context.Context, batch *domain.ImportBatch) error {
	return nil
}

func (n *noopBatchCache) InvalidateBatch(ctx context.Context, batchID string) error {
	return nil
}

func batchKey(batchID string) string {
	return batchKeyPrefix + batchID
}
