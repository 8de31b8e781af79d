package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/user/boardsticker/internal/pipeline"
	"github.com/user/boardsticker/internal/types"
)

// RunStatus represents the lifecycle state of a Run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run tracks a single pipeline request from enqueue to completion.
type Run struct {
	ID         types.RunID
	Lane       types.LaneKey
	Request    pipeline.Request
	Ctx        context.Context
	CreatedAt  time.Time
	OnComplete func(res *pipeline.Result, err error)

	mu        sync.Mutex
	status    RunStatus
	phase     pipeline.Phase
	processed int
	total     int
	startedAt *time.Time
	endedAt   *time.Time
	result    *pipeline.Result
	err       error
}

// NewRun creates a Run in the Queued state for the given lane and request.
func NewRun(lane types.LaneKey, req pipeline.Request) *Run {
	if req.RunID == "" {
		req.RunID = types.NewRunID()
	}
	return &Run{
		ID:        req.RunID,
		Lane:      lane,
		Request:   req,
		CreatedAt: time.Now(),
		status:    RunStatusQueued,
	}
}

// RunInfo is a point-in-time copy of a Run's state.
type RunInfo struct {
	ID        types.RunID    `json:"id"`
	Lane      types.LaneKey  `json:"lane"`
	BoardURL  string         `json:"board_url"`
	UserID    int64          `json:"user_id"`
	Status    RunStatus      `json:"status"`
	Phase     pipeline.Phase `json:"phase,omitempty"`
	Processed int            `json:"processed"`
	Total     int            `json:"total"`
	SetName   string         `json:"set_name,omitempty"`
	SetURL    string         `json:"set_url,omitempty"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	StartedAt *time.Time     `json:"started_at,omitempty"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`
}

// Info returns a snapshot safe to hand to other goroutines.
func (r *Run) Info() RunInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	info := RunInfo{
		ID:        r.ID,
		Lane:      r.Lane,
		BoardURL:  r.Request.BoardURL,
		UserID:    r.Request.UserID,
		Status:    r.status,
		Phase:     r.phase,
		Processed: r.processed,
		Total:     r.total,
		CreatedAt: r.CreatedAt,
		StartedAt: r.startedAt,
		EndedAt:   r.endedAt,
	}
	if r.result != nil {
		info.SetName = r.result.Name
		info.SetURL = r.result.URL
	}
	if r.err != nil {
		info.Error = r.err.Error()
	}
	return info
}

// Status returns the current lifecycle state.
func (r *Run) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Run) start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	r.status = RunStatusRunning
	r.startedAt = &now
}

func (r *Run) finish(res *pipeline.Result, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	r.endedAt = &now
	r.result = res
	r.err = err
	if err != nil {
		r.status = RunStatusFailed
	} else {
		r.status = RunStatusComplete
	}
}

func (r *Run) observe(ev types.RunEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev.Phase != "" {
		r.phase = pipeline.Phase(ev.Phase)
	}
	if ev.Type == "progress" {
		r.processed = ev.Processed
		r.total = ev.Total
	}
}
