// Package txlog records every sync run as a transaction: an append-only
// sequence of events per transaction plus a derived current-state view that
// a rollback tool can replay.
package txlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound         = errors.New("transaction not found")
	ErrNotStarted       = errors.New("transaction not started")
	ErrAlreadyStarted   = errors.New("transaction already started")
	ErrAlreadyFinalized = errors.New("transaction already finalized")
	ErrUnknownChange    = errors.New("unknown change id")
)

// Status is the lifecycle status of a transaction.
type Status string

const (
	StatusStarted   Status = "STARTED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether s ends a transaction.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ChangeStatus is the status of one recorded change.
type ChangeStatus string

const (
	ChangePending ChangeStatus = "PENDING"
	ChangeSuccess ChangeStatus = "SUCCESS"
	ChangeFailed  ChangeStatus = "FAILED"
)

// Process types.
const (
	ProcessSyncStates = "SYNC_STATES"
	ProcessNotes      = "NOTES"
	ProcessTags       = "TAGS"
)

// Kind identifies an event.
type Kind string

const (
	KindStarted        Kind = "started"
	KindMetadata       Kind = "metadata"
	KindChangeAdded    Kind = "change_added"
	KindChangeResolved Kind = "change_resolved"
	KindCompleted      Kind = "completed"
	KindFailed         Kind = "failed"
	KindCancelled      Kind = "cancelled"
)

// Event is one immutable entry of a transaction's log.
type Event struct {
	ID            string          `json:"id"`
	TransactionID string          `json:"transaction_id"`
	Seq           int             `json:"seq"`
	Kind          Kind            `json:"kind"`
	At            time.Time       `json:"at"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// Change is one attempted modification of a remote record.
type Change struct {
	ID           string            `json:"change_id"`
	System       string            `json:"system"`
	Operation    string            `json:"operation"`
	TicketID     string            `json:"ticket_id"`
	Field        string            `json:"field"`
	OldValue     string            `json:"old_value"`
	NewValue     string            `json:"new_value"`
	RollbackData map[string]string `json:"rollback_data,omitempty"`
	Status       ChangeStatus      `json:"status"`
	Timestamp    time.Time         `json:"timestamp"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// Closure is the block written when a transaction reaches a terminal status.
type Closure struct {
	At      time.Time      `json:"timestamp"`
	Reason  string         `json:"reason,omitempty"`
	Summary map[string]any `json:"summary,omitempty"`
}

// Transaction is the derived view of a transaction's events.
type Transaction struct {
	ID           string         `json:"transaction_id"`
	ProcessType  string         `json:"process_type"`
	Timestamp    time.Time      `json:"timestamp"`
	Description  string         `json:"description"`
	Metadata     map[string]any `json:"metadata"`
	Status       Status         `json:"status"`
	Changes      []Change       `json:"changes"`
	Completion   *Closure       `json:"completion,omitempty"`
	Failure      *Closure       `json:"failure,omitempty"`
	Cancellation *Closure       `json:"cancellation,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
	LastSeq      int            `json:"last_seq"`
}

// Counts returns the number of changes per status.
func (t *Transaction) Counts() (pending, success, failed int) {
	for _, c := range t.Changes {
		switch c.Status {
		case ChangePending:
			pending++
		case ChangeSuccess:
			success++
		case ChangeFailed:
			failed++
		}
	}
	return pending, success, failed
}

// Summary is a listing row for a transaction.
type Summary struct {
	ID          string    `json:"transaction_id"`
	ProcessType string    `json:"process_type"`
	Status      Status    `json:"status"`
	Description string    `json:"description"`
	StartedAt   time.Time `json:"started_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Changes     int       `json:"changes"`
	Successes   int       `json:"successes"`
	Failures    int       `json:"failures"`
}

// Summarize builds the listing row for t.
func Summarize(t *Transaction) Summary {
	_, ok, failed := t.Counts()
	return Summary{
		ID:          t.ID,
		ProcessType: t.ProcessType,
		Status:      t.Status,
		Description: t.Description,
		StartedAt:   t.Timestamp,
		UpdatedAt:   t.UpdatedAt,
		Changes:     len(t.Changes),
		Successes:   ok,
		Failures:    failed,
	}
}

// ListFilter narrows a transaction listing.
type ListFilter struct {
	ProcessType string
	Status      Status
	Limit       int
}

// Match reports whether s passes the filter, ignoring Limit.
func (f ListFilter) Match(s Summary) bool {
	if f.ProcessType != "" && s.ProcessType != f.ProcessType {
		return false
	}
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	return true
}

// NewTransactionID derives an id from the process type and start time.
func NewTransactionID(processType string, at time.Time) string {
	return fmt.Sprintf("%s_%s", processType, at.Format("20060102_150405"))
}
