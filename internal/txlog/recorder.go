package txlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Sink receives every event of a transaction.
type Sink interface {
	Append(ctx context.Context, ev Event) error
}

// Reader serves recorded transactions.
type Reader interface {
	Get(ctx context.Context, id string) (*Transaction, error)
	List(ctx context.Context, filter ListFilter) ([]Summary, error)
}

// Writer is the write surface of a Recorder used by batch jobs.
type Writer interface {
	Begin(ctx context.Context, processType, description string, metadata map[string]any) (string, error)
	AddChange(ctx context.Context, c Change) (string, error)
	ResolveChange(ctx context.Context, changeID string, success bool, errMsg string) error
	Complete(ctx context.Context, summary map[string]any) error
	Fail(ctx context.Context, reason string, summary map[string]any) error
	Cancel(ctx context.Context, reason string, summary map[string]any) error
}

var _ Writer = (*Recorder)(nil)

// existenceChecker is implemented by sinks that can detect id collisions.
type existenceChecker interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// Recorder is the write side of one transaction. It keeps the derived view in
// memory and fans each event out to its sinks. A sink failure is returned to
// the caller but never rolls back the in-memory view, so finalization can
// still be attempted.
type Recorder struct {
	sinks  []Sink
	now    func() time.Time
	logger *slog.Logger

	mu  sync.Mutex
	tx  *Transaction
	seq int
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithClock overrides the time source.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// WithRecorderLogger sets the logger for sink failures.
func WithRecorderLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = l }
}

// NewRecorder creates a recorder writing to sinks.
func NewRecorder(sinks []Sink, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		sinks:  sinks,
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resume reopens a recorded transaction from its events so it can be
// finalized by a process other than the one that started it.
func Resume(sinks []Sink, events []Event, opts ...RecorderOption) (*Recorder, error) {
	t, err := Reduce(events)
	if err != nil {
		return nil, err
	}
	r := NewRecorder(sinks, opts...)
	r.tx = t
	for _, ev := range events {
		if ev.Seq > r.seq {
			r.seq = ev.Seq
		}
	}
	return r, nil
}

// Begin starts the transaction and returns its id. Ids that already exist in
// a sink get a numeric suffix.
func (r *Recorder) Begin(ctx context.Context, processType, description string, metadata map[string]any) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.tx != nil {
		return "", ErrAlreadyStarted
	}

	at := r.now()
	id, err := r.uniqueID(ctx, NewTransactionID(processType, at))
	if err != nil {
		return "", err
	}

	return id, r.emit(ctx, id, KindStarted, at, startedPayload{
		ProcessType: processType,
		Description: description,
		Metadata:    metadata,
	})
}

// SetMetadata merges kv into the transaction metadata.
func (r *Recorder) SetMetadata(ctx context.Context, kv map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkOpen(); err != nil {
		return err
	}
	return r.emit(ctx, r.tx.ID, KindMetadata, r.now(), kv)
}

// AddChange records a PENDING change and returns its id.
func (r *Recorder) AddChange(ctx context.Context, c Change) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkOpen(); err != nil {
		return "", err
	}
	at := r.now()
	c.ID = ulid.Make().String()
	c.Status = ChangePending
	c.Timestamp = at
	c.CompletedAt = nil
	c.Error = ""
	return c.ID, r.emit(ctx, r.tx.ID, KindChangeAdded, at, c)
}

// ResolveChange moves a change to SUCCESS or FAILED.
func (r *Recorder) ResolveChange(ctx context.Context, changeID string, success bool, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkOpen(); err != nil {
		return err
	}
	status := ChangeSuccess
	if !success {
		status = ChangeFailed
	}
	return r.emit(ctx, r.tx.ID, KindChangeResolved, r.now(), resolvedPayload{
		ChangeID: changeID,
		Status:   status,
		Error:    errMsg,
	})
}

// Complete finalizes the transaction as COMPLETED.
func (r *Recorder) Complete(ctx context.Context, summary map[string]any) error {
	return r.close(ctx, KindCompleted, "", summary)
}

// Fail finalizes the transaction as FAILED.
func (r *Recorder) Fail(ctx context.Context, reason string, summary map[string]any) error {
	return r.close(ctx, KindFailed, reason, summary)
}

// Cancel finalizes the transaction as CANCELLED.
func (r *Recorder) Cancel(ctx context.Context, reason string, summary map[string]any) error {
	return r.close(ctx, KindCancelled, reason, summary)
}

// Transaction returns a snapshot of the current view, or nil before Begin.
func (r *Recorder) Transaction() *Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tx == nil {
		return nil
	}
	cp := *r.tx
	cp.Changes = append([]Change(nil), r.tx.Changes...)
	cp.Metadata = make(map[string]any, len(r.tx.Metadata))
	for k, v := range r.tx.Metadata {
		cp.Metadata[k] = v
	}
	return &cp
}

// Finalized reports whether a terminal event has been recorded.
func (r *Recorder) Finalized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tx != nil && r.tx.Status.Terminal()
}

func (r *Recorder) close(ctx context.Context, kind Kind, reason string, summary map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkOpen(); err != nil {
		return err
	}
	merged := BuildSummary(r.tx)
	for k, v := range summary {
		merged[k] = v
	}
	return r.emit(ctx, r.tx.ID, kind, r.now(), closurePayload{Reason: reason, Summary: merged})
}

func (r *Recorder) checkOpen() error {
	if r.tx == nil {
		return ErrNotStarted
	}
	if r.tx.Status.Terminal() {
		return fmt.Errorf("%s is %s: %w", r.tx.ID, r.tx.Status, ErrAlreadyFinalized)
	}
	return nil
}

// emit applies the event locally, then writes it to every sink.
func (r *Recorder) emit(ctx context.Context, txID string, kind Kind, at time.Time, payload any) error {
	ev, err := newEvent(txID, r.seq+1, kind, at, ulid.Make().String(), payload)
	if err != nil {
		return err
	}
	next, err := Apply(r.tx, ev)
	if err != nil {
		return err
	}
	r.tx = next
	r.seq = ev.Seq

	var errs []error
	for _, s := range r.sinks {
		if err := s.Append(ctx, ev); err != nil {
			r.logger.Error("transaction sink write failed", "transaction_id", txID, "kind", kind, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Recorder) uniqueID(ctx context.Context, base string) (string, error) {
	id := base
	for n := 2; ; n++ {
		taken := false
		for _, s := range r.sinks {
			ec, ok := s.(existenceChecker)
			if !ok {
				continue
			}
			exists, err := ec.Exists(ctx, id)
			if err != nil {
				return "", fmt.Errorf("check transaction id: %w", err)
			}
			if exists {
				taken = true
				break
			}
		}
		if !taken {
			return id, nil
		}
		id = fmt.Sprintf("%s_%d", base, n)
	}
}
