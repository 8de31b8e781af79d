// internal/state/event.go
package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/boardsticker/internal/types"
)

// EventStore is a JSONL-backed append-only log of pipeline run events.
// Events are stored per run in runs/<runID>/events.jsonl.
type EventStore struct {
	root  string
	mu    sync.Mutex
	locks map[types.RunID]*sync.Mutex
	seqs  map[types.RunID]int64
}

// NewEventStore creates a new file-backed EventStore rooted at the given directory.
func NewEventStore(root string) *EventStore {
	return &EventStore{
		root:  root,
		locks: make(map[types.RunID]*sync.Mutex),
		seqs:  make(map[types.RunID]int64),
	}
}

// getLock returns the per-run mutex, creating one if it doesn't exist.
func (e *EventStore) getLock(runID types.RunID) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	if lock, ok := e.locks[runID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	e.locks[runID] = lock
	return lock
}

func (e *EventStore) eventsPath(runID types.RunID) string {
	return filepath.Join(e.root, "runs", string(runID), "events.jsonl")
}

// count reads the event file and counts lines. Caller must hold the run lock.
func (e *EventStore) count(runID types.RunID) (int64, error) {
	f, err := os.Open(e.eventsPath(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	var count int64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		count++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan events file: %w", err)
	}
	return count, nil
}

// Append adds an event to the run's log with an auto-incremented sequence number.
func (e *EventStore) Append(_ context.Context, event *types.RunEvent) error {
	lock := e.getLock(event.RunID)
	lock.Lock()
	defer lock.Unlock()

	dir := filepath.Dir(e.eventsPath(event.RunID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}

	// Sequence numbers are cached after the first count of an existing file.
	seq, ok := e.lastSeq(event.RunID)
	if !ok {
		existing, err := e.count(event.RunID)
		if err != nil {
			return err
		}
		seq = existing
	}
	event.Seq = seq + 1
	if event.At.IsZero() {
		event.At = time.Now()
	}

	// Marshal the event to JSON
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// Append to the events file
	f, err := os.OpenFile(e.eventsPath(event.RunID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	e.mu.Lock()
	e.seqs[event.RunID] = event.Seq
	e.mu.Unlock()
	return nil
}

func (e *EventStore) lastSeq(runID types.RunID) (int64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	seq, ok := e.seqs[runID]
	return seq, ok
}

// Tail returns the last N events for the given run. limit <= 0 returns all.
func (e *EventStore) Tail(_ context.Context, runID types.RunID, limit int) ([]*types.RunEvent, error) {
	lock := e.getLock(runID)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.Open(e.eventsPath(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	var events []*types.RunEvent
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var event types.RunEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		events = append(events, &event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan events file: %w", err)
	}

	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}

	return events, nil
}

// Count returns the number of events for the given run.
func (e *EventStore) Count(_ context.Context, runID types.RunID) (int64, error) {
	lock := e.getLock(runID)
	lock.Lock()
	defer lock.Unlock()

	return e.count(runID)
}

// Forget drops cached per-run state once a run will not append again.
func (e *EventStore) Forget(runID types.RunID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.locks, runID)
	delete(e.seqs, runID)
}
