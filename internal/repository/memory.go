package repository

import (
	"context"
	"sync"
	"time"

	"storesync/internal/models"
)

// MemorySnapshotRepository is the in-process fallback used when Redis is
// absent or unavailable.
type MemorySnapshotRepository struct {
	mu      sync.RWMutex
	snap    *models.QueueSnapshot
	savedAt time.Time
	ttl     time.Duration
}

func NewMemorySnapshotRepository(ttl time.Duration) *MemorySnapshotRepository {
	return &MemorySnapshotRepository{ttl: ttl}
}

func (r *MemorySnapshotRepository) GetSnapshot(_ context.Context) (*models.QueueSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.snap == nil {
		return nil, nil
	}
	if r.ttl > 0 && time.Since(r.savedAt) > r.ttl {
		return nil, nil
	}

	copied := *r.snap
	return &copied, nil
}

func (r *MemorySnapshotRepository) SetSnapshot(_ context.Context, snap *models.QueueSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *snap
	r.snap = &copied
	r.savedAt = time.Now()
	return nil
}
