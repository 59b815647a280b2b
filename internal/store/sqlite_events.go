package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hyperengineering/syncdesk/internal/txlog"
)

// queryContext is satisfied by both *sql.DB and *sql.Tx.
type queryContext interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const insertEventSQL = `
	INSERT INTO transaction_events (id, transaction_id, seq, kind, payload, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

// Append records ev and updates the transaction view in one database
// transaction. Events must arrive in sequence order.
func (s *SQLiteStore) Append(ctx context.Context, ev txlog.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var view *txlog.Transaction
	if ev.Kind == txlog.KindStarted {
		exists := false
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM transactions WHERE id = ?)`, ev.TransactionID).Scan(&exists); err != nil {
			return fmt.Errorf("check transaction: %w", err)
		}
		if exists {
			return fmt.Errorf("%s: %w", ev.TransactionID, txlog.ErrAlreadyStarted)
		}
		if view, err = txlog.Apply(nil, ev); err != nil {
			return err
		}
		if err := insertView(ctx, tx, view); err != nil {
			return err
		}
	} else {
		if view, err = loadView(ctx, tx, ev.TransactionID); err != nil {
			return err
		}
		if ev.Seq != view.LastSeq+1 {
			return fmt.Errorf("%s: got seq %d after %d: %w", ev.TransactionID, ev.Seq, view.LastSeq, ErrSequenceGap)
		}
		if _, err := txlog.Apply(view, ev); err != nil {
			return err
		}
		if err := updateView(ctx, tx, view); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, insertEventSQL,
		ev.ID, ev.TransactionID, ev.Seq, string(ev.Kind),
		nullablePayload(ev.Payload), ev.At.UTC().Format(time.RFC3339Nano),
	); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s seq %d: %w", ev.TransactionID, ev.Seq, ErrDuplicateEvent)
		}
		return fmt.Errorf("append event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Get returns the current view of a transaction.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*txlog.Transaction, error) {
	return loadView(ctx, s.db, id)
}

// List returns transaction summaries, newest first.
func (s *SQLiteStore) List(ctx context.Context, filter txlog.ListFilter) ([]txlog.Summary, error) {
	query := `
		SELECT id, process_type, status, description, started_at, updated_at, changes, successes, failures
		FROM transactions`
	var where []string
	var args []any
	if filter.ProcessType != "" {
		where = append(where, "process_type = ?")
		args = append(args, filter.ProcessType)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	out := make([]txlog.Summary, 0)
	for rows.Next() {
		var sum txlog.Summary
		var status, startedAt, updatedAt string
		if err := rows.Scan(&sum.ID, &sum.ProcessType, &status, &sum.Description,
			&startedAt, &updatedAt, &sum.Changes, &sum.Successes, &sum.Failures); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		sum.Status = txlog.Status(status)
		sum.StartedAt = parseTime("started_at", startedAt)
		sum.UpdatedAt = parseTime("updated_at", updatedAt)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Events returns the event log of a transaction in sequence order.
func (s *SQLiteStore) Events(ctx context.Context, id string) ([]txlog.Event, error) {
	return loadEvents(ctx, s.db, id)
}

// Replay rebuilds the transaction view from its event log alone.
func (s *SQLiteStore) Replay(ctx context.Context, id string) (*txlog.Transaction, error) {
	events, err := loadEvents(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return txlog.Reduce(events)
}

func loadEvents(ctx context.Context, q queryContext, id string) ([]txlog.Event, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, transaction_id, seq, kind, payload, created_at
		FROM transaction_events
		WHERE transaction_id = ?
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := make([]txlog.Event, 0)
	for rows.Next() {
		var ev txlog.Event
		var kind, createdAt string
		var payload sql.NullString
		if err := rows.Scan(&ev.ID, &ev.TransactionID, &ev.Seq, &kind, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Kind = txlog.Kind(kind)
		if payload.Valid {
			ev.Payload = json.RawMessage(payload.String)
		}
		ev.At = parseTime("created_at", createdAt)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%s: %w", id, txlog.ErrNotFound)
	}
	return events, nil
}

func loadView(ctx context.Context, q queryContext, id string) (*txlog.Transaction, error) {
	var doc string
	err := q.QueryRowContext(ctx, `SELECT view FROM transactions WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, txlog.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	var view txlog.Transaction
	if err := json.Unmarshal([]byte(doc), &view); err != nil {
		return nil, fmt.Errorf("parse transaction view %s: %w", id, err)
	}
	if view.Metadata == nil {
		view.Metadata = map[string]any{}
	}
	return &view, nil
}

func insertView(ctx context.Context, tx *sql.Tx, view *txlog.Transaction) error {
	doc, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("encode transaction view: %w", err)
	}
	sum := txlog.Summarize(view)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions (id, process_type, description, status, started_at, updated_at,
			last_seq, changes, successes, failures, view)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, view.ID, view.ProcessType, view.Description, string(view.Status),
		view.Timestamp.UTC().Format(time.RFC3339Nano), view.UpdatedAt.UTC().Format(time.RFC3339Nano),
		view.LastSeq, sum.Changes, sum.Successes, sum.Failures, string(doc))
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func updateView(ctx context.Context, tx *sql.Tx, view *txlog.Transaction) error {
	doc, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("encode transaction view: %w", err)
	}
	sum := txlog.Summarize(view)
	_, err = tx.ExecContext(ctx, `
		UPDATE transactions
		SET status = ?, updated_at = ?, last_seq = ?, changes = ?, successes = ?, failures = ?, view = ?
		WHERE id = ?
	`, string(view.Status), view.UpdatedAt.UTC().Format(time.RFC3339Nano), view.LastSeq,
		sum.Changes, sum.Successes, sum.Failures, string(doc), view.ID)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	return nil
}

// nullablePayload converts a json.RawMessage to a sql-friendly value.
// Returns nil for empty payloads, string otherwise.
func nullablePayload(p json.RawMessage) any {
	if len(p) == 0 {
		return nil
	}
	return string(p)
}

func parseTime(column, value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		slog.Warn("transactions: failed to parse timestamp", "column", column, "value", value, "error", err)
	}
	return t
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
