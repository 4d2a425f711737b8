package repository

import (
	"context"
	"sync/atomic"
	"time"

	"storesync/internal/domain"
	"storesync/internal/models"

	"github.com/rs/zerolog"
)

// FailoverSnapshotRepository prefers the primary (Redis) repository and
// degrades to the in-memory fallback when it fails, probing the primary
// again after a cooldown.
type FailoverSnapshotRepository struct {
	primary   domain.SnapshotRepository
	fallback  domain.SnapshotRepository
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck time.Time
}

func NewFailoverSnapshotRepository(primary, fallback domain.SnapshotRepository, logger *zerolog.Logger) *FailoverSnapshotRepository {
	return &FailoverSnapshotRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverSnapshotRepository) GetSnapshot(ctx context.Context) (*models.QueueSnapshot, error) {
	if !r.isDown.Load() {
		snap, err := r.primary.GetSnapshot(ctx)
		if err == nil {
			return snap, nil
		}
		r.logger.Error().Err(err).Msg("Primary snapshot repository failed, falling back to memory")
		r.isDown.Store(true)
		r.lastCheck = time.Now()
	}

	// Try to recover after 1 minute
	if r.isDown.Load() && time.Since(r.lastCheck) > time.Minute {
		snap, err := r.primary.GetSnapshot(ctx)
		if err == nil {
			r.isDown.Store(false)
			return snap, nil
		}
		r.lastCheck = time.Now()
	}

	return r.fallback.GetSnapshot(ctx)
}

func (r *FailoverSnapshotRepository) SetSnapshot(ctx context.Context, snap *models.QueueSnapshot) error {
	if !r.isDown.Load() {
		err := r.primary.SetSnapshot(ctx, snap)
		if err == nil {
			// Mirror into the fallback so a later failover still serves
			// the freshest snapshot.
			_ = r.fallback.SetSnapshot(ctx, snap)
			return nil
		}
		r.logger.Error().Err(err).Msg("Primary snapshot repository failed, falling back to memory")
		r.isDown.Store(true)
		r.lastCheck = time.Now()
	}

	return r.fallback.SetSnapshot(ctx, snap)
}
