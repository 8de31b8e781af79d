package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/user/boardsticker/internal/board"
	"github.com/user/boardsticker/internal/pipeline"
	"github.com/user/boardsticker/internal/types"
)

// keepFinished bounds how many completed runs stay visible to Runs.
const keepFinished = 100

// Runner executes one pipeline request.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// Gateway accepts sticker set requests, queues them per board, and tracks
// their progress.
type Gateway struct {
	events types.EventStore
	Queue  *Queue
	runner Runner

	mu       sync.RWMutex
	runs     map[types.RunID]*Run
	finished []types.RunID

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Gateway with the given concurrency limit for simultaneous
// pipeline runs. events may be nil.
func New(events types.EventStore, maxConcurrent ...int64) *Gateway {
	var concurrency int64 = 2
	if len(maxConcurrent) > 0 && maxConcurrent[0] > 0 {
		concurrency = maxConcurrent[0]
	}
	g := &Gateway{
		events: events,
		Queue:  NewQueue(concurrency),
		runs:   make(map[types.RunID]*Run),
	}
	g.Queue.SetProcessor(g.process)
	return g
}

// SetRunner sets the pipeline every dequeued run is handed to.
func (g *Gateway) SetRunner(r Runner) {
	g.runner = r
}

// Start initialises the gateway's context and starts the internal queue.
func (g *Gateway) Start(ctx context.Context) {
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.Queue.Start(g.ctx)
}

// Stop cancels the gateway context, stops the queue, and waits for any
// outstanding work to finish.
func (g *Gateway) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.Queue.Stop()
}

// RunOption configures optional behavior on a Run.
type RunOption func(*Run)

// WithOnComplete sets a callback invoked once the run reaches a terminal state.
func WithOnComplete(fn func(res *pipeline.Result, err error)) RunOption {
	return func(r *Run) { r.OnComplete = fn }
}

// LaneFor returns the lane that serializes runs for the board at rawURL.
func LaneFor(rawURL string) types.LaneKey {
	b, err := board.Parse(rawURL)
	if err != nil {
		return types.NewLaneKey("board", rawURL)
	}
	return types.NewLaneKey("board", b.Owner, b.Name, b.Section)
}

// Submit wraps req in a Run and enqueues it on its board's lane.
func (g *Gateway) Submit(_ context.Context, req pipeline.Request, opts ...RunOption) (*Run, error) {
	if req.BoardURL == "" {
		return nil, errors.New("board url required")
	}
	run := NewRun(LaneFor(req.BoardURL), req)
	for _, opt := range opts {
		opt(run)
	}

	g.mu.Lock()
	g.runs[run.ID] = run
	g.mu.Unlock()

	if err := g.Queue.Enqueue(run); err != nil {
		g.mu.Lock()
		delete(g.runs, run.ID)
		g.mu.Unlock()
		return nil, fmt.Errorf("enqueue run: %w", err)
	}
	slog.Info("run queued", "run_id", run.ID, "lane", run.Lane, "user_id", req.UserID)
	return run, nil
}

// process is the queue processor: it runs the pipeline and reports the
// outcome to the run's callback.
func (g *Gateway) process(run *Run) error {
	if g.runner == nil {
		err := errors.New("no pipeline runner configured")
		g.complete(run, nil, err)
		return err
	}

	run.start()
	ctx := run.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	res, err := g.runner.Run(ctx, run.Request)
	g.complete(run, res, err)
	return err
}

func (g *Gateway) complete(run *Run, res *pipeline.Result, err error) {
	run.finish(res, err)

	g.mu.Lock()
	g.finished = append(g.finished, run.ID)
	for len(g.finished) > keepFinished {
		delete(g.runs, g.finished[0])
		g.finished = g.finished[1:]
	}
	g.mu.Unlock()

	if fs, ok := g.events.(interface{ Forget(types.RunID) }); ok {
		fs.Forget(run.ID)
	}
	if run.OnComplete != nil {
		run.OnComplete(res, err)
	}
}

// Observe receives pipeline events, updates the matching run and appends
// them to the event log. Register it with pipeline.WithObserver.
func (g *Gateway) Observe(ev types.RunEvent) {
	g.mu.RLock()
	run := g.runs[ev.RunID]
	g.mu.RUnlock()
	if run != nil {
		run.observe(ev)
	}

	if g.events == nil {
		return
	}
	ctx := g.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := g.events.Append(context.WithoutCancel(ctx), &ev); err != nil {
		slog.Warn("failed to append run event", "run_id", ev.RunID, "error", err)
	}
}

// Get returns the run with the given id, if it is still tracked.
func (g *Gateway) Get(id types.RunID) (*Run, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	run, ok := g.runs[id]
	return run, ok
}

// Runs returns snapshots of all tracked runs, newest first.
func (g *Gateway) Runs() []RunInfo {
	g.mu.RLock()
	infos := make([]RunInfo, 0, len(g.runs))
	for _, run := range g.runs {
		infos = append(infos, run.Info())
	}
	g.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.After(infos[j].CreatedAt) })
	return infos
}

// Active returns snapshots of runs that are queued or running.
func (g *Gateway) Active() []RunInfo {
	var active []RunInfo
	for _, info := range g.Runs() {
		if info.Status == RunStatusQueued || info.Status == RunStatusRunning {
			active = append(active, info)
		}
	}
	return active
}
