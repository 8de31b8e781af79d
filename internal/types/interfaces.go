// internal/types/interfaces.go
package types

import (
	"context"
)

// SetStore keeps the history of sticker sets created by this bot.
type SetStore interface {
	Record(ctx context.Context, rec *SetRecord) error
	Exists(ctx context.Context, name string) (bool, error)
	List(ctx context.Context, limit int) ([]*SetRecord, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]*SetRecord, error)
}

// EventStore is an append-only per-run event log.
type EventStore interface {
	Append(ctx context.Context, event *RunEvent) error
	Tail(ctx context.Context, runID RunID, limit int) ([]*RunEvent, error)
	Count(ctx context.Context, runID RunID) (int64, error)
}
