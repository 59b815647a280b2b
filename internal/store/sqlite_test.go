package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperengineering/syncdesk/internal/txlog"
	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func stepClock(start time.Time) func() time.Time {
	t := start
	return func() time.Time {
		now := t
		t = t.Add(time.Second)
		return now
	}
}

var t0 = time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)

func TestRunMigrations_CreatesTables(t *testing.T) {
	// Given: A fresh database
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "m.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	// When: Migrations run twice
	if err := RunMigrations(db); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	if err := RunMigrations(db); err != nil {
		t.Fatalf("second RunMigrations() should be idempotent, got %v", err)
	}

	// Then: Both journal tables are queryable
	for _, q := range []string{
		`SELECT id, process_type, status, started_at, view FROM transactions LIMIT 0`,
		`SELECT id, transaction_id, seq, kind, payload, created_at FROM transaction_events LIMIT 0`,
	} {
		if _, err := db.Exec(q); err != nil {
			t.Errorf("%s: %v", q, err)
		}
	}
}

func TestSQLiteStore_RecorderRoundTrip(t *testing.T) {
	// Given: A recorder writing to the journal
	ctx := context.Background()
	s := newTestStore(t)
	rec := txlog.NewRecorder([]txlog.Sink{s}, txlog.WithClock(stepClock(t0)))

	// When: A run records changes and fails
	id, err := rec.Begin(ctx, txlog.ProcessSyncStates, "sync", map[string]any{"source_file": "a.xlsx"})
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	c1, _ := rec.AddChange(ctx, txlog.Change{System: "clarity", TicketID: "101", OldValue: "Abierta", NewValue: "Resuelto"})
	c2, _ := rec.AddChange(ctx, txlog.Change{System: "clarity", TicketID: "102", OldValue: "Abierta", NewValue: "Cerrada"})
	if err := rec.ResolveChange(ctx, c1, true, ""); err != nil {
		t.Fatal(err)
	}
	if err := rec.ResolveChange(ctx, c2, false, "timeout"); err != nil {
		t.Fatal(err)
	}
	if err := rec.Fail(ctx, "remote unavailable", nil); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}

	// Then: The stored view matches the in-memory view
	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != txlog.StatusFailed || got.Failure == nil || got.Failure.Reason != "remote unavailable" {
		t.Fatalf("view = %+v", got)
	}
	if len(got.Changes) != 2 || got.Changes[1].Error != "timeout" {
		t.Errorf("changes = %+v", got.Changes)
	}

	// And: Replaying the event log reproduces it
	replayed, err := s.Replay(ctx, id)
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if replayed.Status != got.Status || replayed.LastSeq != got.LastSeq || len(replayed.Changes) != 2 {
		t.Errorf("replayed = %+v, stored = %+v", replayed, got)
	}

	events, err := s.Events(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 6 {
		t.Errorf("events = %d, want 6", len(events))
	}
	if events[0].Kind != txlog.KindStarted || events[5].Kind != txlog.KindFailed {
		t.Errorf("event kinds = %s..%s", events[0].Kind, events[5].Kind)
	}
}

func TestSQLiteStore_RejectsOutOfOrderAndDuplicates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mem := &captureSink{}
	rec := txlog.NewRecorder([]txlog.Sink{mem}, txlog.WithClock(stepClock(t0)))
	if _, err := rec.Begin(ctx, txlog.ProcessNotes, "", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := rec.AddChange(ctx, txlog.Change{TicketID: "1"}); err != nil {
		t.Fatal(err)
	}

	if err := s.Append(ctx, mem.events[0]); err != nil {
		t.Fatalf("Append(started) error = %v", err)
	}

	// Skipping ahead is rejected
	skipped := mem.events[1]
	skipped.Seq = 5
	if err := s.Append(ctx, skipped); !errors.Is(err, ErrSequenceGap) {
		t.Errorf("Append(seq 5) error = %v, want ErrSequenceGap", err)
	}

	// A second start for the same id is rejected
	if err := s.Append(ctx, mem.events[0]); !errors.Is(err, txlog.ErrAlreadyStarted) {
		t.Errorf("Append(started twice) error = %v, want ErrAlreadyStarted", err)
	}

	// Events for unknown transactions are rejected
	orphan := mem.events[1]
	orphan.TransactionID = "NOTES_19990101_000000"
	if err := s.Append(ctx, orphan); !errors.Is(err, txlog.ErrNotFound) {
		t.Errorf("Append(orphan) error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_RejectsEventsAfterTerminal(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mem := &captureSink{}
	rec := txlog.NewRecorder([]txlog.Sink{s, mem}, txlog.WithClock(stepClock(t0)))
	id, _ := rec.Begin(ctx, txlog.ProcessTags, "", nil)
	if err := rec.Complete(ctx, nil); err != nil {
		t.Fatal(err)
	}

	late := mem.events[1]
	late.Seq = 3
	late.ID = "late"
	late.Kind = txlog.KindFailed
	if err := s.Append(ctx, late); !errors.Is(err, txlog.ErrAlreadyFinalized) {
		t.Errorf("Append(after completed) error = %v, want ErrAlreadyFinalized", err)
	}

	got, _ := s.Get(ctx, id)
	if got.Status != txlog.StatusCompleted {
		t.Errorf("Status = %s, want COMPLETED", got.Status)
	}
}

func TestSQLiteStore_ListAndExists(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	clock := stepClock(t0)

	var ids []string
	for _, p := range []string{txlog.ProcessSyncStates, txlog.ProcessNotes, txlog.ProcessSyncStates} {
		rec := txlog.NewRecorder([]txlog.Sink{s}, txlog.WithClock(clock))
		id, err := rec.Begin(ctx, p, p, nil)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	all, err := s.List(ctx, txlog.ListFilter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 3 || all[0].ID != ids[2] || all[2].ID != ids[0] {
		t.Errorf("List() order = %+v", all)
	}

	filtered, _ := s.List(ctx, txlog.ListFilter{ProcessType: txlog.ProcessSyncStates, Status: txlog.StatusStarted, Limit: 1})
	if len(filtered) != 1 || filtered[0].ID != ids[2] {
		t.Errorf("filtered = %+v", filtered)
	}

	ok, err := s.Exists(ctx, ids[1])
	if err != nil || !ok {
		t.Errorf("Exists(%s) = %v, %v", ids[1], ok, err)
	}
	ok, _ = s.Exists(ctx, "missing")
	if ok {
		t.Error("Exists(missing) = true")
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, txlog.ErrNotFound) {
		t.Errorf("Get(missing) error = %v", err)
	}
}

func TestSQLiteStore_UniqueIDAcrossRecorders(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	fixed := func() time.Time { return t0 }

	a := txlog.NewRecorder([]txlog.Sink{s}, txlog.WithClock(fixed))
	b := txlog.NewRecorder([]txlog.Sink{s}, txlog.WithClock(fixed))
	idA, err := a.Begin(ctx, txlog.ProcessSyncStates, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	idB, err := b.Begin(ctx, txlog.ProcessSyncStates, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if idB != idA+"_2" {
		t.Errorf("second id = %q, want %q", idB, idA+"_2")
	}
}

type captureSink struct {
	events []txlog.Event
}

func (c *captureSink) Append(_ context.Context, ev txlog.Event) error {
	c.events = append(c.events, ev)
	return nil
}

func TestSQLiteStore_Snapshot(t *testing.T) {
	// Given: a journal with one finished transaction
	ctx := context.Background()
	s := newTestStore(t)
	rec := txlog.NewRecorder([]txlog.Sink{s}, txlog.WithClock(stepClock(t0)))
	id, err := rec.Begin(ctx, txlog.ProcessTags, "retag", nil)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := rec.Complete(ctx, nil); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	// When
	path := filepath.Join(t.TempDir(), "snap", "journal.db")
	if err := s.Snapshot(ctx, path); err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}

	// Then: the copy opens as a journal with the same transaction
	copied, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	defer copied.Close()
	tx, err := copied.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() from snapshot error = %v", err)
	}
	if tx.Status != txlog.StatusCompleted {
		t.Errorf("status = %s", tx.Status)
	}

	// And: a second snapshot to the same path fails
	if err := s.Snapshot(ctx, path); err == nil {
		t.Error("expected error when snapshot path exists")
	}
}
