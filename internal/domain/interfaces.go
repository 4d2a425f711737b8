package domain

import (
	"context"

	"storesync/internal/models"
)

// SubmissionStore is the durable local queue of not-yet-confirmed writes.
type SubmissionStore interface {
	// Enqueue inserts or overwrites a submission by id. The write is flushed
	// to persistent storage before Enqueue returns; failures propagate.
	Enqueue(ctx context.Context, sub *models.PendingSubmission) error
	// Dequeue removes a submission by id. Absent ids are a no-op.
	Dequeue(ctx context.Context, id string) error
	// ListAll returns every queued submission in no guaranteed order.
	ListAll(ctx context.Context) ([]models.PendingSubmission, error)
	// Count returns the number of queued submissions without deserializing payloads.
	Count(ctx context.Context) (int, error)
	// Clear removes all submissions unconditionally.
	Clear(ctx context.Context) error
}

// RemoteStore is the hosted database boundary: idempotent upsert by a
// caller-specified conflict key, plus a cheap liveness probe.
type RemoteStore interface {
	Upsert(ctx context.Context, collection string, records []models.Record, conflictColumns []string) error
	Health(ctx context.Context) error
}

// Reachability reports the current network state toward the remote store.
type Reachability interface {
	Online() bool
}

// EventPublisher fans out domain events to in-process subscribers.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// Drainer flushes the pending queue against the remote store.
type Drainer interface {
	Drain(ctx context.Context) (models.DrainResult, error)
}

// SnapshotRepository caches the queue-status snapshot for UI polling.
type SnapshotRepository interface {
	GetSnapshot(ctx context.Context) (*models.QueueSnapshot, error)
	SetSnapshot(ctx context.Context, snap *models.QueueSnapshot) error
}
