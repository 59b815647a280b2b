package statesync

import (
	"errors"
	"fmt"

	"github.com/hyperengineering/syncdesk/internal/remote"
)

// ErrCancelled is returned when the operator declines to continue.
var ErrCancelled = errors.New("cancelled by user")

// ErrNothingResolved aborts a run whose differences all failed resolution.
var ErrNothingResolved = errors.New("no difference could be resolved in Clarity")

// StrictError fails a strict run that skipped rows.
type StrictError struct {
	Unmapped      int
	NoCounterpart int
}

func (e *StrictError) Error() string {
	return fmt.Sprintf("strict mode: %d rows with unmapped status, %d rows without counterpart", e.Unmapped, e.NoCounterpart)
}

// RunError is a run-aborting failure with the state it happened in.
type RunError struct {
	State State
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s: %v", e.State, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Hint returns an actionable next step for the operator.
func (e *RunError) Hint() string {
	var strict *StrictError
	switch {
	case IsValidationError(e.Err):
		return "check that the Freshdesk export has 'Ticket ID' and 'Estado' columns and the Clarity export has an ID and an 'Estado Freshdesk' column"
	case errors.As(e.Err, &strict):
		return "fix the unmapped statuses or missing tickets in the exports, or disable sync.strict"
	case remote.IsAuth(e.Err):
		return "re-authenticate: check the Clarity user and password, then run the sync again"
	case errors.Is(e.Err, ErrNothingResolved):
		return "check the Clarity credentials, connectivity to the Clarity server and API permissions; confirm the tickets exist in Clarity"
	case remote.IsRateLimited(e.Err):
		return "the API rate limit was exhausted; retry later or with fewer tickets"
	default:
		return "see the log file for details"
	}
}
