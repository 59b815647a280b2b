package statesync

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyperengineering/syncdesk/internal/clarity"
	"github.com/hyperengineering/syncdesk/internal/txlog"
)

// ChangeRecorder mirrors every attempted change into the transaction.
type ChangeRecorder interface {
	AddChange(ctx context.Context, c txlog.Change) (string, error)
	ResolveChange(ctx context.Context, changeID string, success bool, errMsg string) error
}

// ApplyResult is the result of Apply. Successes+Failures always equals the
// number of inputs.
type ApplyResult struct {
	Successes int
	Failures  int
	Outcomes  []Outcome
}

// Applier issues one update per resolved difference, sequentially.
type Applier struct {
	Update   UpdaterFunc
	Recorder ChangeRecorder
	Progress ProgressFunc
	Logger   *slog.Logger
	Now      func() time.Time
}

// Apply runs every update in input order. A failed update is recorded and
// the batch continues. Retries belong to the gateway, not here.
func (a *Applier) Apply(ctx context.Context, resolved []Difference) *ApplyResult {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := a.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	result := &ApplyResult{Outcomes: make([]Outcome, 0, len(resolved))}
	for i, d := range resolved {
		var ids RemoteIDs
		if d.IDs != nil {
			ids = *d.IDs
		}

		changeID := a.recordPending(ctx, d, ids, logger)

		err := a.Update(ctx, ids, d.ProposedStatus)
		out := Outcome{
			TicketID:        d.TicketID,
			PriorStatus:     d.CurrentStatus,
			AttemptedStatus: d.ProposedStatus,
			SourceStatus:    d.SourceStatus,
			Result:          ResultSuccess,
			IDs:             ids,
			At:              now(),
		}
		if err != nil {
			out.Result = ResultError
			out.Error = err.Error()
			result.Failures++
			logger.Error("clarity update failed", "ticket_id", d.TicketID, "status", d.ProposedStatus, "error", err)
		} else {
			result.Successes++
			logger.Info("clarity updated", "ticket_id", d.TicketID, "from", d.CurrentStatus, "to", d.ProposedStatus)
		}
		result.Outcomes = append(result.Outcomes, out)

		if a.Recorder != nil && changeID != "" {
			if rerr := a.Recorder.ResolveChange(ctx, changeID, err == nil, out.Error); rerr != nil {
				logger.Error("record change outcome", "ticket_id", d.TicketID, "error", rerr)
			}
		}
		if a.Progress != nil {
			a.Progress(i+1, len(resolved), d.TicketID)
		}
	}
	return result
}

func (a *Applier) recordPending(ctx context.Context, d Difference, ids RemoteIDs, logger *slog.Logger) string {
	if a.Recorder == nil {
		return ""
	}
	id, err := a.Recorder.AddChange(ctx, txlog.Change{
		System:    clarity.System,
		Operation: "UPDATE",
		TicketID:  d.TicketID,
		Field:     clarity.MirrorField,
		OldValue:  d.CurrentStatus,
		NewValue:  d.ProposedStatus,
		RollbackData: map[string]string{
			"investment_id":             ids.InvestmentID,
			"internal_id":               ids.InternalID,
			"freshdesk_estado_original": d.SourceStatus,
		},
	})
	if err != nil {
		// The in-memory view keeps the change even when a sink fails.
		logger.Error("record pending change", "ticket_id", d.TicketID, "error", err)
	}
	return id
}
