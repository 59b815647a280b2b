// Package store persists transaction event logs in SQLite. Every event is
// kept as an immutable row and the derived transaction view is maintained
// alongside it, so readers never replay on the hot path.
package store

import (
	"context"

	"github.com/hyperengineering/syncdesk/internal/txlog"
)

// Journal defines the contract for transaction event storage.
type Journal interface {
	txlog.Sink
	txlog.Reader
	Exists(ctx context.Context, id string) (bool, error)
	Events(ctx context.Context, id string) ([]txlog.Event, error)
	Replay(ctx context.Context, id string) (*txlog.Transaction, error)
	Close() error
}

var _ Journal = (*SQLiteStore)(nil)
