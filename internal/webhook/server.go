// internal/webhook/server.go
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/user/boardsticker/internal/board"
	"github.com/user/boardsticker/internal/gateway"
	"github.com/user/boardsticker/internal/pipeline"
	"github.com/user/boardsticker/internal/types"
)

const (
	defaultEventLimit = 200
	defaultSetLimit   = 50
)

// Runs is the part of the gateway the HTTP API needs.
type Runs interface {
	Submit(ctx context.Context, req pipeline.Request, opts ...gateway.RunOption) (*gateway.Run, error)
	Runs() []gateway.RunInfo
	Active() []gateway.RunInfo
	Get(id types.RunID) (*gateway.Run, bool)
}

// Server exposes run status and set history over HTTP and accepts new
// sticker set requests.
type Server struct {
	runs   Runs
	sets   types.SetStore
	events types.EventStore
	mux    *http.ServeMux
}

// NewServer creates a Server. sets and events may be nil; their endpoints
// then answer 503.
func NewServer(runs Runs, sets types.SetStore, events types.EventStore) *Server {
	s := &Server{
		runs:   runs,
		sets:   sets,
		events: events,
		mux:    http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/runs", s.handleRuns)
	s.mux.HandleFunc("GET /api/runs/{id}", s.handleRun)
	s.mux.HandleFunc("GET /api/runs/{id}/events", s.handleRunEvents)
	s.mux.HandleFunc("GET /api/sets", s.handleSets)
	s.mux.HandleFunc("POST /api/sets", s.handleCreateSet)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"active": len(s.runs.Active()),
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs := s.runs.Runs()
	if r.URL.Query().Get("active") == "true" {
		runs = s.runs.Active()
	}
	if runs == nil {
		runs = []gateway.RunInfo{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.runs.Get(types.RunID(r.PathValue("id")))
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, run.Info())
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, "event log not configured")
		return
	}
	runID := types.RunID(r.PathValue("id"))
	limit := queryInt(r, "limit", defaultEventLimit)

	events, err := s.events.Tail(r.Context(), runID, limit)
	if err != nil {
		slog.Error("tail events failed", "run_id", runID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if events == nil {
		events = []*types.RunEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleSets(w http.ResponseWriter, r *http.Request) {
	if s.sets == nil {
		writeError(w, http.StatusServiceUnavailable, "set history not configured")
		return
	}
	limit := queryInt(r, "limit", defaultSetLimit)

	var (
		recs []*types.SetRecord
		err  error
	)
	if q := r.URL.Query().Get("user"); q != "" {
		userID, perr := strconv.ParseInt(q, 10, 64)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "user must be a numeric id")
			return
		}
		recs, err = s.sets.ListByUser(r.Context(), userID, limit)
	} else {
		recs, err = s.sets.List(r.Context(), limit)
	}
	if err != nil {
		slog.Error("list sets failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if recs == nil {
		recs = []*types.SetRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// createSetRequest is the JSON body for POST /api/sets.
type createSetRequest struct {
	BoardURL string `json:"board_url"`
	UserID   int64  `json:"user_id"`
}

func (s *Server) handleCreateSet(w http.ResponseWriter, r *http.Request) {
	var req createSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.BoardURL == "" || req.UserID == 0 {
		writeError(w, http.StatusBadRequest, "board_url and user_id are required")
		return
	}
	if _, err := board.Parse(req.BoardURL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, err := s.runs.Submit(r.Context(), pipeline.Request{UserID: req.UserID, BoardURL: req.BoardURL})
	switch {
	case errors.Is(err, gateway.ErrQueueFull):
		writeError(w, http.StatusTooManyRequests, "too many pending runs for this board")
		return
	case errors.Is(err, gateway.ErrQueueStopped):
		writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	case err != nil:
		slog.Error("submit run failed", "board_url", req.BoardURL, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": string(run.ID)})
}

func queryInt(r *http.Request, key string, def int) int {
	if q := r.URL.Query().Get(key); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			return n
		}
	}
	return def
}
