package worker

import (
	"context"
	"time"

	"storesync/internal/domain"
	"storesync/internal/events"
	"storesync/internal/metrics"
	"storesync/internal/models"

	"github.com/rs/zerolog"
)

// DrainWorker owns the triggering policy for the drain path: it wakes on
// connectivity recovery, on explicit kicks ("sync now"), and on a periodic
// poll as a safety net, then lets the coordinator do the actual replay.
type DrainWorker struct {
	drainer      domain.Drainer
	store        domain.SubmissionStore
	snapshots    domain.SnapshotRepository
	retryPolicy  RetryPolicy
	pollInterval time.Duration
	kick         chan struct{}
	logger       *zerolog.Logger
}

// NewDrainWorker builds a worker with sane defaults.
func NewDrainWorker(drainer domain.Drainer, store domain.SubmissionStore, snapshots domain.SnapshotRepository, retry RetryPolicy, pollInterval time.Duration, logger *zerolog.Logger) *DrainWorker {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}
	if pollInterval <= 0 {
		pollInterval = time.Duration(models.DefaultPollIntervalSeconds) * time.Second
	}

	return &DrainWorker{
		drainer:      drainer,
		store:        store,
		snapshots:    snapshots,
		retryPolicy:  retry,
		pollInterval: pollInterval,
		kick:         make(chan struct{}, 1),
		logger:       logger,
	}
}

// BindEvents wires the worker to connectivity transitions.
func (w *DrainWorker) BindEvents(bus *events.EventBus) {
	if bus == nil {
		return
	}
	bus.Subscribe(events.EventOnline, func(*events.Event) error {
		w.Kick()
		return nil
	})
}

// Kick requests a drain pass without blocking. Coalesces with a pending kick.
func (w *DrainWorker) Kick() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Start launches the main loop; stops when ctx is done.
func (w *DrainWorker) Start(ctx context.Context) {
	w.logger.Info().Dur("poll_interval", w.pollInterval).Msg("drain worker: started")
	defer w.logger.Info().Msg("drain worker: stopped")

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.kick:
		case <-time.After(w.pollInterval):
		}

		pending, err := w.store.Count(ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("drain worker: count pending")
			continue
		}
		metrics.SetQueueDepth(pending)
		if pending == 0 {
			w.updateSnapshot(ctx, 0, nil)
			attempt = 0
			continue
		}

		start := time.Now()
		result, err := w.drainer.Drain(ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("drain worker: drain pass failed")
			w.scheduleRetry(&attempt)
			continue
		}
		metrics.ObserveDrain(time.Since(start), result.Failed)

		remaining, countErr := w.store.Count(ctx)
		if countErr != nil {
			w.logger.Error().Err(countErr).Msg("drain worker: count after drain")
			remaining = pending - result.Synced
		}
		metrics.SetQueueDepth(remaining)
		w.updateSnapshot(ctx, remaining, &result)

		if result.Failed > 0 {
			w.scheduleRetry(&attempt)
			continue
		}
		attempt = 0
	}
}

// scheduleRetry arms a delayed kick with exponential backoff. Once the
// attempt budget is spent the periodic poll remains the only trigger until
// a drain pass succeeds again.
func (w *DrainWorker) scheduleRetry(attempt *int) {
	*attempt++
	if *attempt > w.retryPolicy.MaxRetries {
		w.logger.Warn().Int("attempts", *attempt-1).Msg("drain worker: backoff budget spent, waiting for poll or kick")
		return
	}
	delay := w.retryPolicy.NextDelay(*attempt)
	w.logger.Info().Dur("delay", delay).Int("attempt", *attempt).Msg("drain worker: scheduling retry")
	time.AfterFunc(delay, w.Kick)
}

func (w *DrainWorker) updateSnapshot(ctx context.Context, pending int, result *models.DrainResult) {
	if w.snapshots == nil {
		return
	}

	snap := &models.QueueSnapshot{PendingCount: pending}
	if result != nil {
		snap.LastDrainAt = time.Now()
		snap.LastSynced = result.Synced
		snap.LastFailed = result.Failed
	} else if prev, err := w.snapshots.GetSnapshot(ctx); err == nil && prev != nil {
		snap.LastDrainAt = prev.LastDrainAt
		snap.LastSynced = prev.LastSynced
		snap.LastFailed = prev.LastFailed
	}

	if err := w.snapshots.SetSnapshot(ctx, snap); err != nil {
		w.logger.Warn().Err(err).Msg("drain worker: update snapshot")
	}
}
