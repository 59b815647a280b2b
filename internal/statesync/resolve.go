package statesync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hyperengineering/syncdesk/internal/clarity"
	"github.com/hyperengineering/syncdesk/internal/remote"
)

// Drop reasons.
const (
	DropNotFound   = "not found in Clarity"
	DropMissingIDs = "missing _parentId or _internalId"
	DropAuth       = "Clarity rejected the credentials"
	DropRemote     = "Clarity lookup failed"
)

// Drop is a difference removed from the apply set.
type Drop struct {
	TicketID string `json:"ticket_id"`
	Reason   string `json:"reason"`
	Detail   string `json:"detail,omitempty"`
}

// Resolution is the result of Resolve.
type Resolution struct {
	Resolved    []Difference
	Dropped     []Drop
	DropReasons map[string]int
}

// ProgressFunc observes per-item progress of a batch.
type ProgressFunc func(done, total int, ticketID string)

// Resolve looks up the Clarity identifiers of every difference, one call at
// a time. Differences that cannot be resolved are dropped, never retried
// here. The returned differences are copies with IDs set; the input is left
// untouched. Only cancellation of ctx is returned as an error.
func Resolve(ctx context.Context, diffs []Difference, resolve IDResolverFunc, progress ProgressFunc, logger *slog.Logger) (*Resolution, error) {
	if logger == nil {
		logger = slog.Default()
	}
	res := &Resolution{
		Resolved:    make([]Difference, 0, len(diffs)),
		Dropped:     []Drop{},
		DropReasons: map[string]int{},
	}

	for i, d := range diffs {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		ids, err := resolve(ctx, d.TicketID)
		switch {
		case err != nil && ctx.Err() != nil:
			return res, ctx.Err()
		case err != nil:
			res.drop(d.TicketID, dropReason(err), err.Error())
			logger.Warn("ticket not resolved", "ticket_id", d.TicketID, "code", remote.TextCode(err), "error", err)
		case !ids.Complete():
			res.drop(d.TicketID, DropMissingIDs, "")
			logger.Warn("ticket lacks clarity ids", "ticket_id", d.TicketID)
		default:
			resolved := d
			resolved.IDs = &RemoteIDs{InvestmentID: ids.InvestmentID, InternalID: ids.InternalID}
			res.Resolved = append(res.Resolved, resolved)
		}

		if progress != nil {
			progress(i+1, len(diffs), d.TicketID)
		}
	}

	logger.Info("clarity ids resolved", "resolved", len(res.Resolved), "dropped", len(res.Dropped))
	return res, nil
}

func (r *Resolution) drop(ticketID, reason, detail string) {
	r.Dropped = append(r.Dropped, Drop{TicketID: ticketID, Reason: reason, Detail: detail})
	r.DropReasons[reason]++
}

func dropReason(err error) string {
	switch {
	case remote.IsNotFound(err):
		return DropNotFound
	case remote.IsAuth(err):
		return DropAuth
	default:
		return DropRemote
	}
}

// TaskFinder is the Clarity lookup capability.
type TaskFinder interface {
	FindTask(ctx context.Context, code string) (*clarity.Task, error)
}

// MirrorUpdater is the Clarity update capability.
type MirrorUpdater interface {
	UpdateMirrorStatus(ctx context.Context, parentID, internalID, status string) error
}

// ClarityResolver adapts a TaskFinder to an IDResolverFunc.
func ClarityResolver(f TaskFinder) IDResolverFunc {
	return func(ctx context.Context, ticketID string) (RemoteIDs, error) {
		task, err := f.FindTask(ctx, ticketID)
		if err != nil {
			return RemoteIDs{}, err
		}
		return RemoteIDs{InvestmentID: task.ParentID, InternalID: task.InternalID}, nil
	}
}

// ClarityUpdater adapts a MirrorUpdater to an UpdaterFunc.
func ClarityUpdater(u MirrorUpdater) UpdaterFunc {
	return func(ctx context.Context, ids RemoteIDs, status string) error {
		if !ids.Complete() {
			return fmt.Errorf("update %q: incomplete clarity ids %+v", status, ids)
		}
		return u.UpdateMirrorStatus(ctx, ids.InvestmentID, ids.InternalID, status)
	}
}
