// Package state provides the persistent stores: a SQLite history of created
// sticker sets and a JSONL event log per pipeline run.
package state

import "github.com/user/boardsticker/internal/types"

// Compile-time interface compliance checks.
var _ types.SetStore = (*SetStore)(nil)
var _ types.EventStore = (*EventStore)(nil)
