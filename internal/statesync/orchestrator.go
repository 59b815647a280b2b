package statesync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/hyperengineering/syncdesk/internal/table"
	"github.com/hyperengineering/syncdesk/internal/txlog"
)

// TransactionRecorder is the transaction write API a run needs.
type TransactionRecorder interface {
	ChangeRecorder
	Begin(ctx context.Context, processType, description string, metadata map[string]any) (string, error)
	SetMetadata(ctx context.Context, kv map[string]any) error
	Complete(ctx context.Context, summary map[string]any) error
	Fail(ctx context.Context, reason string, summary map[string]any) error
	Cancel(ctx context.Context, reason string, summary map[string]any) error
	Finalized() bool
}

// Options tunes a run.
type Options struct {
	// Strict fails the run when any row is skipped as unmapped or without
	// counterpart.
	Strict    bool
	FoldCase  bool
	ExportDir string
}

// Input is the pair of exports to reconcile.
type Input struct {
	Source *table.Table
	Target *table.Table
}

// Report describes a finished run.
type Report struct {
	TransactionID string
	State         State
	Reached       State
	Interrupted   bool
	Validation    *ValidationResult
	Analysis      *Analysis
	Comparison    *Comparison
	Resolution    *Resolution
	Applied       *ApplyResult
	Exports       []string
}

// Orchestrator drives one sync run through its states. Every run that
// starts a transaction ends it exactly once, whatever happens in between.
type Orchestrator struct {
	Recorder  TransactionRecorder
	Resolve   IDResolverFunc
	Update    UpdaterFunc
	Prompter  Prompter
	Presenter *Presenter
	Rules     []ColumnRule
	Options   Options
	Logger    *slog.Logger
	Now       func() time.Time
}

// Run executes the pipeline. A cancelled run (by the operator or through
// ctx) returns a nil error and a report in state CANCELLED; failures return
// a *RunError.
func (o *Orchestrator) Run(ctx context.Context, in Input) (rep *Report, err error) {
	o.defaults()
	rep = &Report{Reached: StateValidating}

	// Transaction writes and the apply batch must outlive an interrupt.
	wctx := context.WithoutCancel(ctx)

	defer func() {
		if p := recover(); p != nil {
			o.Logger.Error("sync panicked", "state", rep.Reached, "panic", p, "stack", string(debug.Stack()))
			err = &RunError{State: rep.Reached, Err: fmt.Errorf("unexpected error: %v", p)}
		}
		rep.State = classify(err)
		o.finalize(wctx, rep, err)
		switch rep.State {
		case StateCancelled:
			o.Presenter.Warn("Sync cancelled: %v", err)
			o.printPartial(rep)
			err = nil
		case StateFailed:
			o.Presenter.Failed(err)
		default:
			o.Presenter.Success("Sync completed (transaction %s)", rep.TransactionID)
		}
	}()

	id, err := o.Recorder.Begin(wctx, txlog.ProcessSyncStates, ProcessDescription, map[string]any{
		"source_file": tableName(in.Source),
		"target_file": tableName(in.Target),
		"strict":      o.Options.Strict,
		"fold_case":   o.Options.FoldCase,
	})
	rep.TransactionID = id
	if err != nil {
		return rep, &RunError{State: StateValidating, Err: fmt.Errorf("start transaction: %w", err)}
	}
	o.Logger.Info("sync started", "transaction_id", id)

	return rep, o.run(ctx, wctx, in, rep)
}

func (o *Orchestrator) run(ctx, wctx context.Context, in Input, rep *Report) error {
	p := o.Presenter

	// VALIDATING
	if err := o.enter(ctx, rep, StateValidating); err != nil {
		return err
	}
	p.Section("File validation")
	vr, err := Validate(in.Source, in.Target, o.Rules)
	if err != nil {
		return &RunError{State: StateValidating, Err: err}
	}
	rep.Validation = vr
	p.Validation(vr)
	o.metadata(wctx, map[string]any{
		"total_tickets_freshdesk": vr.Source.Len(),
		"total_tickets_clarity":   vr.Target.Len(),
		"matching_ids":            vr.Overlap.Matched,
		"only_freshdesk":          vr.Overlap.OnlySource,
		"only_clarity":            vr.Overlap.OnlyTarget,
	})

	// ANALYZING
	if err := o.enter(ctx, rep, StateAnalyzing); err != nil {
		return err
	}
	p.Section("Status analysis")
	rep.Analysis = Analyze(vr.Source, vr.Target)
	p.Analysis(rep.Analysis)
	proceed, err := o.Prompter.Confirm(ctx, "Continue with the detailed comparison?")
	if err != nil {
		return promptError(StateAnalyzing, err)
	}
	if !proceed {
		return &RunError{State: StateAnalyzing, Err: ErrCancelled}
	}

	// COMPARING
	if err := o.enter(ctx, rep, StateComparing); err != nil {
		return err
	}
	p.Section("State comparison")
	cmp := Compare(vr.Source, vr.Target, CompareOptions{FoldCase: o.Options.FoldCase})
	rep.Comparison = cmp
	p.Comparison(cmp)
	o.metadata(wctx, map[string]any{
		"differences":    cmp.Stats.Different,
		"consistent":     cmp.Stats.Consistent,
		"unmapped":       cmp.Stats.Unmapped,
		"no_counterpart": cmp.Stats.NoCounterpart,
	})
	if o.Options.Strict && (cmp.Stats.Unmapped > 0 || cmp.Stats.NoCounterpart > 0) {
		return &RunError{State: StateComparing, Err: &StrictError{
			Unmapped:      cmp.Stats.Unmapped,
			NoCounterpart: cmp.Stats.NoCounterpart,
		}}
	}
	if len(cmp.Differences) == 0 {
		return nil
	}

	// RESOLVING
	if err := o.enter(ctx, rep, StateResolving); err != nil {
		return err
	}
	p.Section("Clarity id resolution")
	res, err := Resolve(ctx, cmp.Differences, o.Resolve, p.Progress("Resolving Clarity ids"), o.Logger)
	rep.Resolution = res
	if err != nil {
		return &RunError{State: StateResolving, Err: err}
	}
	p.Resolution(res)
	o.metadata(wctx, map[string]any{
		"resolved": len(res.Resolved),
		"dropped":  len(res.Dropped),
	})
	if len(res.Resolved) == 0 {
		return &RunError{State: StateResolving, Err: ErrNothingResolved}
	}

	// AWAITING_CONFIRMATION
	if err := o.enter(ctx, rep, StateAwaiting); err != nil {
		return err
	}
	p.Section("Confirmation")
	p.Pairs(pairsOf(res.Resolved))
	options := []string{"Apply changes", "Export proposed changes to Excel", "Show details", "Cancel"}
	for confirmed := false; !confirmed; {
		choice, err := o.Prompter.Choose(ctx, fmt.Sprintf("Apply %d changes to Clarity?", len(res.Resolved)), options)
		if err != nil {
			return promptError(StateAwaiting, err)
		}
		switch choice {
		case 0:
			confirmed = true
		case 1:
			path, err := ExportProposed(o.Options.ExportDir, res.Resolved, o.Now())
			if err != nil {
				p.Error("%v", err)
				continue
			}
			rep.Exports = append(rep.Exports, path)
			p.Success("Proposed changes exported to %s", path)
		case 2:
			p.Details(res.Resolved)
		default:
			return &RunError{State: StateAwaiting, Err: ErrCancelled}
		}
	}

	// APPLYING runs the whole batch even if ctx is cancelled meanwhile.
	rep.Reached = StateApplying
	p.Section("Applying changes")
	applier := &Applier{
		Update:   o.Update,
		Recorder: o.Recorder,
		Progress: p.Progress("Updating Clarity"),
		Logger:   o.Logger,
		Now:      o.Now,
	}
	rep.Applied = applier.Apply(wctx, res.Resolved)
	rep.Interrupted = ctx.Err() != nil

	// REPORTING
	rep.Reached = StateReporting
	p.Section("Final report")
	p.Final(rep.Applied)
	if rep.Interrupted {
		return &RunError{State: StateApplying, Err: ctx.Err()}
	}
	export, err := o.Prompter.Confirm(ctx, "Export results to Excel?")
	if err != nil {
		// The batch is done; a dead prompt only skips the export.
		o.Logger.Warn("results export prompt", "error", err)
		return nil
	}
	if export {
		path, err := ExportResults(o.Options.ExportDir, rep.Applied.Outcomes, o.Now())
		if err != nil {
			p.Error("%v", err)
		} else {
			rep.Exports = append(rep.Exports, path)
			p.Success("Results exported to %s", path)
		}
	}
	return nil
}

func (o *Orchestrator) defaults() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	if o.Presenter == nil {
		o.Presenter = NewPresenter(io.Discard)
	}
	if o.Options.ExportDir == "" {
		o.Options.ExportDir = "."
	}
}

// enter moves the run to s unless ctx is already cancelled.
func (o *Orchestrator) enter(ctx context.Context, rep *Report, s State) error {
	rep.Reached = s
	if err := ctx.Err(); err != nil {
		return &RunError{State: s, Err: err}
	}
	o.Logger.Debug("sync state", "transaction_id", rep.TransactionID, "state", s)
	return nil
}

func (o *Orchestrator) metadata(ctx context.Context, kv map[string]any) {
	if err := o.Recorder.SetMetadata(ctx, kv); err != nil {
		o.Logger.Error("record transaction metadata", "error", err)
	}
}

func (o *Orchestrator) finalize(ctx context.Context, rep *Report, err error) {
	if o.Recorder.Finalized() {
		return
	}
	summary := rep.summary()
	var ferr error
	switch rep.State {
	case StateCompleted:
		ferr = o.Recorder.Complete(ctx, summary)
	case StateCancelled:
		ferr = o.Recorder.Cancel(ctx, err.Error(), summary)
	default:
		ferr = o.Recorder.Fail(ctx, err.Error(), summary)
	}
	if ferr != nil {
		o.Logger.Error("finalize transaction", "transaction_id", rep.TransactionID, "state", rep.State, "error", ferr)
		return
	}
	o.Logger.Info("sync finished", "transaction_id", rep.TransactionID, "state", rep.State, "reached", rep.Reached)
}

func (o *Orchestrator) printPartial(rep *Report) {
	s := rep.summary()
	o.Presenter.Info("Reached %s; differences %v, resolved %v, applied %v, failed %v",
		rep.Reached, s["differences_found"], s["tickets_resolved"], s["applied"], s["failed"])
}

// summary returns the counts known so far.
func (r *Report) summary() map[string]any {
	s := map[string]any{
		"state_reached":     string(r.Reached),
		"interrupted":       r.Interrupted,
		"differences_found": 0,
		"tickets_resolved":  0,
		"tickets_dropped":   0,
		"applied":           0,
		"failed":            0,
	}
	if r.Comparison != nil {
		s["differences_found"] = len(r.Comparison.Differences)
	}
	if r.Resolution != nil {
		s["tickets_resolved"] = len(r.Resolution.Resolved)
		s["tickets_dropped"] = len(r.Resolution.Dropped)
	}
	if r.Applied != nil {
		s["applied"] = r.Applied.Successes
		s["failed"] = r.Applied.Failures
	}
	if len(r.Exports) > 0 {
		s["exports"] = r.Exports
	}
	return s
}

func classify(err error) State {
	switch {
	case err == nil:
		return StateCompleted
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return StateCancelled
	default:
		return StateFailed
	}
}

// promptError maps a prompt failure: closed input cancels, anything else fails.
func promptError(s State, err error) error {
	if errors.Is(err, io.EOF) {
		return &RunError{State: s, Err: ErrCancelled}
	}
	return &RunError{State: s, Err: err}
}

func pairsOf(diffs []Difference) []Pair {
	idx := make(map[[2]string]int)
	var pairs []Pair
	for _, d := range diffs {
		key := [2]string{d.CurrentStatus, d.ProposedStatus}
		if i, ok := idx[key]; ok {
			pairs[i].Count++
			continue
		}
		idx[key] = len(pairs)
		pairs = append(pairs, Pair{Current: d.CurrentStatus, Proposed: d.ProposedStatus, Count: 1})
	}
	return pairs
}

func tableName(t *table.Table) string {
	if t == nil {
		return ""
	}
	return t.Name
}
