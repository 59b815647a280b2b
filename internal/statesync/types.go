// Package statesync reconciles the Freshdesk status mirrored in Clarity with
// the status exported from Freshdesk: validate both exports, compare them,
// resolve the Clarity identifiers of every difference and apply the updates
// under a recorded transaction.
package statesync

import (
	"context"
	"time"
)

// Canonical column names after validation.
const (
	ColumnTicketID     = "Ticket ID"
	ColumnSourceStatus = "Estado"
	ColumnID           = "ID"
	ColumnMirrorStatus = "Estado Freshdesk"
)

// ProcessDescription is the transaction description of a sync run.
const ProcessDescription = "Freshdesk to Clarity state synchronization"

// RemoteIDs are the two Clarity identifiers an update call needs.
type RemoteIDs struct {
	InvestmentID string `json:"investment_id"`
	InternalID   string `json:"internal_id"`
}

// Complete reports whether both identifiers are present.
func (r RemoteIDs) Complete() bool {
	return r.InvestmentID != "" && r.InternalID != ""
}

// Difference is one ticket whose mirrored status disagrees with the source.
// IDs is nil until the resolver fills it.
type Difference struct {
	TicketID       string     `json:"ticket_id"`
	SourceStatus   string     `json:"source_status"`
	CurrentStatus  string     `json:"current_status"`
	ProposedStatus string     `json:"proposed_status"`
	IDs            *RemoteIDs `json:"ids,omitempty"`
}

// Result tags an outcome.
type Result string

const (
	ResultSuccess Result = "success"
	ResultError   Result = "error"
)

// Outcome is the immutable record of one attempted update.
type Outcome struct {
	TicketID        string    `json:"ticket_id"`
	PriorStatus     string    `json:"prior_status"`
	AttemptedStatus string    `json:"attempted_status"`
	SourceStatus    string    `json:"source_status"`
	Result          Result    `json:"result"`
	Error           string    `json:"error,omitempty"`
	IDs             RemoteIDs `json:"ids"`
	At              time.Time `json:"at"`
}

// IDResolverFunc looks up the Clarity identifiers for a ticket code.
type IDResolverFunc func(ctx context.Context, ticketID string) (RemoteIDs, error)

// UpdaterFunc writes status into the mirror field of the record identified by ids.
type UpdaterFunc func(ctx context.Context, ids RemoteIDs, status string) error

// State is a stage of a sync run.
type State string

const (
	StateValidating State = "VALIDATING"
	StateAnalyzing  State = "ANALYZING"
	StateComparing  State = "COMPARING"
	StateResolving  State = "RESOLVING"
	StateAwaiting   State = "AWAITING_CONFIRMATION"
	StateApplying   State = "APPLYING"
	StateReporting  State = "REPORTING"
	StateCompleted  State = "COMPLETED"
	StateCancelled  State = "CANCELLED"
	StateFailed     State = "FAILED"
)

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}
