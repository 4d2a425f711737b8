package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"storesync/internal/domain"
	"storesync/internal/events"
	"storesync/internal/metrics"
	"storesync/internal/models"
	"storesync/internal/remote"

	"github.com/rs/zerolog"
)

// Status messages delivered through the submit callbacks. The UI layer owns
// localization; these are the canonical English strings.
const (
	MsgSynced           = "submitted"
	MsgQueuedOffline    = "saved locally, will sync when online"
	MsgQueuedNetwork    = "network unstable, saved locally and queued for sync"
	MsgQueuedInterrupt  = "network interrupted, saved locally and queued for sync"
	MsgEnqueueFailed    = "failed to save offline"
	MsgItemsFailed      = "items were not saved, please retry"
	MsgRemoteRejected   = "remote store rejected the submission"
	MsgUnknownType      = "unknown submission type"
	MsgMissingSessionID = "session id is required"
)

// ErrRemoteNotConfigured is returned by Replay when no remote client exists.
var ErrRemoteNotConfigured = errors.New("remote store is not configured")

// SubmitRequest is one logical write: a session header plus its item rows.
// The coordinator routes it; it does not inspect the records.
type SubmitRequest struct {
	Type      models.SubmissionType
	StoreID   string
	SessionID string
	Session   models.Record
	Items     []models.Record
}

// Coordinator decides, per write, between a direct remote attempt and the
// local queue, and replays the queue on demand.
type Coordinator struct {
	store  domain.SubmissionStore
	remote domain.RemoteStore // nil means queue-only mode
	reach  domain.Reachability
	bus    domain.EventPublisher
	logger *zerolog.Logger
}

func New(store domain.SubmissionStore, remoteStore domain.RemoteStore, reach domain.Reachability, bus domain.EventPublisher, logger *zerolog.Logger) *Coordinator {
	return &Coordinator{
		store:  store,
		remote: remoteStore,
		reach:  reach,
		bus:    bus,
		logger: logger,
	}
}

type attemptStage int

const (
	stageSession attemptStage = iota
	stageItems
)

// attemptError carries which upsert step failed during a direct attempt.
type attemptError struct {
	stage attemptStage
	err   error
}

func (e *attemptError) Error() string { return e.err.Error() }
func (e *attemptError) Unwrap() error { return e.err }

// panicError marks a recovered panic from the remote client. Panics during a
// write attempt are far more likely runtime/connectivity faults than
// application errors, so they take the safe offline path.
type panicError struct {
	value interface{}
}

func (e *panicError) Error() string { return fmt.Sprintf("remote client panic: %v", e.value) }

// Submit routes one write. Exactly one of onSuccess/onError is invoked
// exactly once before Submit returns.
func (c *Coordinator) Submit(ctx context.Context, req SubmitRequest, onSuccess, onError func(message string)) {
	if onSuccess == nil {
		onSuccess = func(string) {}
	}
	if onError == nil {
		onError = func(string) {}
	}

	if !req.Type.Valid() {
		onError(fmt.Sprintf("%s: %q", MsgUnknownType, req.Type))
		return
	}
	if req.SessionID == "" {
		onError(MsgMissingSessionID)
		return
	}

	if c.remote == nil || (c.reach != nil && !c.reach.Online()) {
		c.enqueue(ctx, req, MsgQueuedOffline, onSuccess, onError)
		return
	}

	err := c.attemptDirect(ctx, req)
	if err == nil {
		metrics.IncSubmission(string(req.Type), models.OutcomeSynced)
		c.publish(events.EventSubmissionSynced, req, "", models.OutcomeSynced, MsgSynced)
		onSuccess(MsgSynced)
		return
	}

	var pe *panicError
	if errors.As(err, &pe) {
		c.logger.Warn().Err(pe).
			Str("type", string(req.Type)).
			Str("session_id", req.SessionID).
			Msg("interrupted remote attempt, falling back to queue")
		c.enqueue(ctx, req, MsgQueuedInterrupt, onSuccess, onError)
		return
	}

	var ae *attemptError
	if errors.As(err, &ae) && ae.stage == stageItems {
		// The session header is live remotely. Re-queuing the whole request
		// would duplicate item semantics on replay, so surface the failure
		// and let the user retry explicitly.
		c.logger.Error().Err(ae.err).
			Str("type", string(req.Type)).
			Str("session_id", req.SessionID).
			Msg("items upsert failed after session upsert")
		metrics.IncSubmission(string(req.Type), models.OutcomeFailed)
		c.publish(events.EventSubmissionFailed, req, "", models.OutcomeFailed, MsgItemsFailed)
		onError(fmt.Sprintf("%s: %v", MsgItemsFailed, ae.err))
		return
	}

	if remote.IsTransient(err) {
		c.logger.Warn().Err(err).
			Str("type", string(req.Type)).
			Str("session_id", req.SessionID).
			Msg("transient remote failure, falling back to queue")
		c.enqueue(ctx, req, MsgQueuedNetwork, onSuccess, onError)
		return
	}

	c.logger.Error().Err(err).
		Str("type", string(req.Type)).
		Str("session_id", req.SessionID).
		Msg("remote rejected submission")
	metrics.IncSubmission(string(req.Type), models.OutcomeFailed)
	c.publish(events.EventSubmissionFailed, req, "", models.OutcomeFailed, MsgRemoteRejected)
	onError(fmt.Sprintf("%s: %v", MsgRemoteRejected, err))
}

// attemptDirect performs the two-step remote write: session first, then
// items. Items are meaningless without their parent session, so a mid-write
// failure leaves at most a session without items, never dangling items.
// A panic inside the remote client is reclassified as a transient fault.
func (c *Coordinator) attemptDirect(ctx context.Context, req SubmitRequest) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()

	if upsertErr := c.remote.Upsert(ctx, req.Type.SessionCollection(), []models.Record{req.Session}, models.SessionConflictColumns); upsertErr != nil {
		return &attemptError{stage: stageSession, err: upsertErr}
	}

	if len(req.Items) > 0 {
		if upsertErr := c.remote.Upsert(ctx, req.Type.ItemCollection(), req.Items, req.Type.ItemConflictColumns()); upsertErr != nil {
			return &attemptError{stage: stageItems, err: upsertErr}
		}
	}
	return nil
}

func (c *Coordinator) enqueue(ctx context.Context, req SubmitRequest, message string, onSuccess, onError func(string)) {
	sub := models.NewPendingSubmission(req.Type, req.StoreID, req.SessionID, models.Payload{
		Session: req.Session,
		Items:   req.Items,
	})

	if err := c.store.Enqueue(ctx, sub); err != nil {
		// Losing a queued write is a correctness violation; this must reach
		// the user as a hard failure.
		c.logger.Error().Err(err).
			Str("submission_id", sub.ID).
			Msg("failed to persist pending submission")
		metrics.IncSubmission(string(req.Type), models.OutcomeFailed)
		onError(fmt.Sprintf("%s: %v", MsgEnqueueFailed, err))
		return
	}

	c.logger.Info().
		Str("submission_id", sub.ID).
		Str("type", string(req.Type)).
		Str("store_id", req.StoreID).
		Msg("submission queued")
	metrics.IncSubmission(string(req.Type), models.OutcomeQueued)
	c.publish(events.EventSubmissionQueued, req, sub.ID, models.OutcomeQueued, message)
	onSuccess(message)
}

// Drain replays every queued submission against the remote store. Failures
// leave their submission queued and never abort the batch, so one poisoned
// entry cannot block the rest.
func (c *Coordinator) Drain(ctx context.Context) (models.DrainResult, error) {
	var result models.DrainResult

	subs, err := c.store.ListAll(ctx)
	if err != nil {
		return result, fmt.Errorf("list pending submissions: %w", err)
	}
	if len(subs) == 0 {
		return result, nil
	}

	sort.Slice(subs, func(i, j int) bool { return subs[i].CreatedAt < subs[j].CreatedAt })

	c.logger.Info().Int("pending", len(subs)).Msg("draining pending submissions")
	if len(subs) >= models.DefaultDrainBatchLog {
		c.logger.Warn().Int("pending", len(subs)).Msg("large backlog, drain pass may take a while")
	}

	for i := range subs {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		sub := &subs[i]
		if err := c.Replay(ctx, sub); err != nil {
			result.Failed++
			c.logger.Warn().Err(err).
				Str("submission_id", sub.ID).
				Msg("replay failed, submission stays queued")
			continue
		}

		if err := c.store.Dequeue(ctx, sub.ID); err != nil {
			// Remote write confirmed but local removal failed; the next
			// drain re-applies the idempotent upserts and removes it then.
			result.Failed++
			c.logger.Error().Err(err).
				Str("submission_id", sub.ID).
				Msg("dequeue after successful replay failed")
			continue
		}

		result.Synced++
		metrics.IncSubmission(string(sub.Type), models.OutcomeSynced)
		if c.bus != nil {
			_ = c.bus.PublishJSON(events.EventSubmissionSynced, events.SubmissionEventPayload{
				SubmissionID: sub.ID,
				Type:         string(sub.Type),
				StoreID:      sub.StoreID,
				SessionID:    sub.SessionID,
				Outcome:      models.OutcomeSynced,
			})
		}
	}

	c.logger.Info().
		Int("synced", result.Synced).
		Int("failed", result.Failed).
		Msg("drain finished")
	return result, nil
}

// Replay re-attempts one queued submission: session upsert, then items.
// Both must succeed; a partial application stays queued and the session
// upsert simply re-applies on the next pass.
func (c *Coordinator) Replay(ctx context.Context, sub *models.PendingSubmission) error {
	if c.remote == nil {
		return ErrRemoteNotConfigured
	}

	if err := c.remote.Upsert(ctx, sub.Type.SessionCollection(), []models.Record{sub.Payload.Session}, models.SessionConflictColumns); err != nil {
		return fmt.Errorf("session upsert: %w", err)
	}

	if len(sub.Payload.Items) > 0 {
		if err := c.remote.Upsert(ctx, sub.Type.ItemCollection(), sub.Payload.Items, sub.Type.ItemConflictColumns()); err != nil {
			return fmt.Errorf("items upsert: %w", err)
		}
	}
	return nil
}

func (c *Coordinator) publish(eventType string, req SubmitRequest, submissionID, outcome, message string) {
	if c.bus == nil {
		return
	}
	_ = c.bus.PublishJSON(eventType, events.SubmissionEventPayload{
		SubmissionID: submissionID,
		Type:         string(req.Type),
		StoreID:      req.StoreID,
		SessionID:    req.SessionID,
		Outcome:      outcome,
		Message:      message,
	})
}
