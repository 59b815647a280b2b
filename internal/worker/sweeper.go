// Package worker runs background maintenance for the serve command.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyperengineering/syncdesk/internal/txlog"
)

// AbandonedReason prefixes the failure reason of swept transactions.
const AbandonedReason = "abandoned: no activity since"

// EventJournal defines the journal operations the sweeper needs.
// Implemented by store.SQLiteStore.
type EventJournal interface {
	List(ctx context.Context, filter txlog.ListFilter) ([]txlog.Summary, error)
	Events(ctx context.Context, id string) ([]txlog.Event, error)
}

// StaleSweeper closes transactions left STARTED by a process that died
// before finalizing them. Each one is failed with its changes left as
// recorded, so pending changes stay visible for manual review.
type StaleSweeper struct {
	journal  EventJournal
	sinks    []txlog.Sink
	interval time.Duration
	maxAge   time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewStaleSweeper creates a sweeper. Closing events go to every sink in
// sinks; the journal itself is normally one of them.
func NewStaleSweeper(j EventJournal, sinks []txlog.Sink, interval, maxAge time.Duration, logger *slog.Logger) *StaleSweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &StaleSweeper{
		journal:  j,
		sinks:    sinks,
		interval: interval,
		maxAge:   maxAge,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.With("component", "worker", "worker", "stale-sweeper"),
	}
}

// Run sweeps immediately, then on each tick. It blocks until ctx is cancelled.
func (s *StaleSweeper) Run(ctx context.Context) {
	s.logger.Info("stale sweeper started",
		"interval", s.interval.String(),
		"stale_after", s.maxAge.String(),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stale sweeper stopped", "reason", "context_cancelled")
			return
		case <-ticker.C:
			s.sweepAndLog(ctx)
		}
	}
}

func (s *StaleSweeper) sweepAndLog(ctx context.Context) {
	n, err := s.Sweep(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("sweep completed", "transactions_failed", n)
	}
}

// Sweep fails every STARTED transaction idle for longer than maxAge and
// returns how many it closed. A transaction that cannot be closed is logged
// and skipped.
func (s *StaleSweeper) Sweep(ctx context.Context) (int, error) {
	started, err := s.journal.List(ctx, txlog.ListFilter{Status: txlog.StatusStarted})
	if err != nil {
		return 0, fmt.Errorf("list started transactions: %w", err)
	}

	threshold := s.now().Add(-s.maxAge)
	closed := 0
	for _, sum := range started {
		if ctx.Err() != nil {
			return closed, ctx.Err()
		}
		if sum.UpdatedAt.After(threshold) {
			continue
		}
		if err := s.fail(ctx, sum); err != nil {
			s.logger.Warn("could not close stale transaction", "transaction_id", sum.ID, "error", err)
			continue
		}
		closed++
		s.logger.Info("stale transaction failed",
			"transaction_id", sum.ID,
			"process_type", sum.ProcessType,
			"last_activity", sum.UpdatedAt.Format(time.RFC3339),
		)
	}
	return closed, nil
}

func (s *StaleSweeper) fail(ctx context.Context, sum txlog.Summary) error {
	events, err := s.journal.Events(ctx, sum.ID)
	if err != nil {
		return err
	}
	rec, err := txlog.Resume(s.sinks, events, txlog.WithClock(s.now), txlog.WithRecorderLogger(s.logger))
	if err != nil {
		return err
	}
	reason := fmt.Sprintf("%s %s", AbandonedReason, sum.UpdatedAt.Format(time.RFC3339))
	return rec.Fail(ctx, reason, map[string]any{"swept": true})
}
