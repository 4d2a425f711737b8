package models

import (
	"fmt"
	"time"
)

// SubmissionType selects which remote collections a submission targets.
type SubmissionType string

const (
	TypeInventory  SubmissionType = "inventory"
	TypeOrder      SubmissionType = "order"
	TypeSettlement SubmissionType = "settlement"
)

// Valid reports whether t is one of the known submission types.
func (t SubmissionType) Valid() bool {
	switch t {
	case TypeInventory, TypeOrder, TypeSettlement:
		return true
	}
	return false
}

// SessionCollection returns the remote collection holding session headers.
func (t SubmissionType) SessionCollection() string {
	return string(t) + "_sessions"
}

// ItemCollection returns the remote collection holding item rows.
// Settlement rows live in settlement_values; the rest use {type}_items.
func (t SubmissionType) ItemCollection() string {
	if t == TypeSettlement {
		return "settlement_values"
	}
	return string(t) + "_items"
}

// ItemConflictColumns returns the composite natural key used for item upserts.
func (t SubmissionType) ItemConflictColumns() []string {
	if t == TypeSettlement {
		return []string{"session_id", "field_id"}
	}
	return []string{"session_id", "product_id"}
}

// SessionConflictColumns is the upsert key for session headers.
var SessionConflictColumns = []string{"id"}

// Record is a single row destined for a remote collection. The queue and
// coordinator treat its contents as opaque.
type Record map[string]any

// Payload is the exact write content of one submission: the session header
// plus its item rows.
type Payload struct {
	Session Record   `json:"session"`
	Items   []Record `json:"items,omitempty"`
}

// PendingSubmission is a queued write awaiting remote confirmation.
type PendingSubmission struct {
	ID        string         `json:"id"`
	Type      SubmissionType `json:"type"`
	StoreID   string         `json:"store_id"`
	SessionID string         `json:"session_id"`
	Payload   Payload        `json:"payload"`
	CreatedAt int64          `json:"created_at"`
}

// SubmissionID builds the deterministic queue key {type}_{sessionId}_{millis}.
// It orders naturally by creation time and keeps rapid resubmissions distinct.
func SubmissionID(t SubmissionType, sessionID string, createdAt int64) string {
	return fmt.Sprintf("%s_%s_%d", t, sessionID, createdAt)
}

// NewPendingSubmission stamps a submission with its id and creation time.
func NewPendingSubmission(t SubmissionType, storeID, sessionID string, payload Payload) *PendingSubmission {
	now := time.Now().UnixMilli()
	return &PendingSubmission{
		ID:        SubmissionID(t, sessionID, now),
		Type:      t,
		StoreID:   storeID,
		SessionID: sessionID,
		Payload:   payload,
		CreatedAt: now,
	}
}

// DrainResult aggregates one drain pass over the pending queue.
type DrainResult struct {
	Synced int `json:"synced"`
	Failed int `json:"failed"`
}

// QueueSnapshot is the cached queue status served to UI badge polling.
type QueueSnapshot struct {
	PendingCount int       `json:"pending_count"`
	LastDrainAt  time.Time `json:"last_drain_at"`
	LastSynced   int       `json:"last_synced"`
	LastFailed   int       `json:"last_failed"`
}
