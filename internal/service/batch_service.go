package service

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/smy-billing/backend-go/internal/cache"
	"github.com/andresuchdata/smy-billing/backend-go/internal/domain"
	"github.com/andresuchdata/smy-billing/backend-go/internal/repository"
)

const defaultBatchListLimit = 20

type BatchService struct {
	repo  repository.BatchRepository
	cache cache.BatchCache
}

func NewBatchService(repo repository.BatchRepository, cacheImpl cache.BatchCache) *BatchService {
	if cacheImpl == nil {
		cacheImpl = cache.NewNoopBatchCache()
	}
	return &BatchService{repo: repo, cache: cacheImpl}
}

// GetBatch returns a batch with its row errors. Batches still processing are
// never cached since their counters change.
func (s *BatchService) GetBatch(ctx context.Context, batchID string) (*domain.ImportBatch, error) {
	if batch, ok, err := s.cache.GetBatch(ctx, batchID); err == nil && ok {
		return batch, nil
	} else if err != nil {
		log.Warn().Err(err).Str("batch_id", batchID).Msg("import batch: cache get failed")
	}

	batch, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	if batch.Status != domain.BatchStatusProcessing {
		if err := s.cache.SetBatch(ctx, batch); err != nil {
			log.Warn().Err(err).Str("batch_id", batchID).Msg("import batch: cache set failed")
		}
	}
	return batch, nil
}

func (s *BatchService) ListBatches(ctx context.Context, limit int) ([]domain.ImportBatch, error) {
	if limit <= 0 {
		limit = defaultBatchListLimit
	}
	return s.repo.ListBatches(ctx, limit)
}
