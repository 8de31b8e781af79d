// Package pipeline turns a board of images into a populated sticker set.
//
// A run is a small state machine:
//
//	Validating -> InitialBatch -> Created -> IncrementalBatch -> Complete
//
// with Failed reachable from every non-terminal phase. The platform accepts
// at most one creation call with a bounded first batch, so the first
// InitialBatchSize images go out in a single create and every later image is
// added one call at a time.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/user/boardsticker/internal/retry"
	"github.com/user/boardsticker/internal/types"
)

// Defaults for Config.
const (
	DefaultMaxImages        = 120
	DefaultInitialBatchSize = 50
	DefaultTagInterval      = 4 * time.Second
)

// Phase is one state of a run.
type Phase string

const (
	PhaseValidating       Phase = "validating"
	PhaseInitialBatch     Phase = "initial_batch"
	PhaseCreated          Phase = "created"
	PhaseIncrementalBatch Phase = "incremental_batch"
	PhaseComplete         Phase = "complete"
	PhaseFailed           Phase = "failed"
)

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseFailed
}

// PartialPolicy decides what happens to a remote set that was created but
// could not be fully populated.
type PartialPolicy string

const (
	// PartialDelete removes the half-built set before failing.
	PartialDelete PartialPolicy = "delete"
	// PartialKeep leaves the set in place and records it as partial.
	PartialKeep PartialPolicy = "keep"
)

var (
	ErrTooManyImages   = errors.New("too many images")
	ErrEmptyBoard      = errors.New("board has no images")
	ErrNoValidStickers = errors.New("no valid stickers")
)

// BoardSource fetches board images into local staging.
type BoardSource interface {
	Resolve(ctx context.Context, rawURL string) (*types.Board, error)
	Count(ctx context.Context, b *types.Board) (int, error)
	Download(ctx context.Context, b *types.Board) ([]types.ImageAsset, error)
	Cleanup(ctx context.Context, b *types.Board) error
}

// Locker is optionally implemented by a BoardSource that can serialize
// runs for the same board across processes.
type Locker interface {
	Lock(ctx context.Context, b *types.Board) (func(), error)
}

// Preparer encodes, uploads and tags one image.
type Preparer interface {
	Prepare(ctx context.Context, userID int64, path string) (*types.Sticker, error)
}

// Namer picks a fresh set name for a board.
type Namer interface {
	Resolve(ctx context.Context, owner, board string) (string, error)
}

// Platform is the subset of the messaging platform a run writes to.
type Platform interface {
	CreateStickerSet(ctx context.Context, userID int64, name, title string, stickers []types.Sticker) error
	AddStickerToSet(ctx context.Context, userID int64, name string, sticker types.Sticker) error
	DeleteStickerSet(ctx context.Context, name string) error
}

// Reporter shows the requester one live status line. Each call replaces
// the previous text.
type Reporter interface {
	Report(ctx context.Context, text string) error
}

// Observer receives a run's phase transitions and progress.
type Observer func(ev types.RunEvent)

// Config tunes an Orchestrator. Zero values take the defaults.
type Config struct {
	MaxImages        int
	InitialBatchSize int
	// TagInterval is the global minimum gap between tagging calls, used
	// only for the remaining-time estimate.
	TagInterval   time.Duration
	PartialPolicy PartialPolicy
}

func (c Config) withDefaults() Config {
	if c.MaxImages <= 0 {
		c.MaxImages = DefaultMaxImages
	}
	if c.InitialBatchSize <= 0 {
		c.InitialBatchSize = DefaultInitialBatchSize
	}
	if c.TagInterval < 0 {
		c.TagInterval = 0
	}
	if c.PartialPolicy == "" {
		c.PartialPolicy = PartialDelete
	}
	return c
}

// Request asks for one board to become one sticker set.
type Request struct {
	RunID    types.RunID
	UserID   int64
	BoardURL string
	Reporter Reporter
}

// Result describes a finished set.
type Result struct {
	RunID    types.RunID `json:"run_id"`
	Name     string      `json:"name"`
	URL      string      `json:"url"`
	Board    types.Board `json:"board"`
	Stickers int         `json:"stickers"`
	Skipped  int         `json:"skipped"`
}

// Orchestrator runs the pipeline. It holds no per-run state and is safe
// for concurrent use; the only state shared between runs lives in the
// collaborators (the tagging throttle in particular).
type Orchestrator struct {
	cfg      Config
	board    BoardSource
	preparer Preparer
	namer    Namer
	platform Platform
	store    types.SetStore
	retry    *retry.Policy
	observer Observer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStore records every created set in the history store.
func WithStore(store types.SetStore) Option {
	return func(o *Orchestrator) { o.store = store }
}

// WithRetryPolicy sets the policy used for the compensating delete.
func WithRetryPolicy(p *retry.Policy) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.retry = p
		}
	}
}

// WithObserver registers a callback for phase and progress events.
func WithObserver(fn Observer) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

// New creates an Orchestrator.
func New(cfg Config, board BoardSource, preparer Preparer, namer Namer, platform Platform, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg.withDefaults(),
		board:    board,
		preparer: preparer,
		namer:    namer,
		platform: platform,
		retry:    retry.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// Run drives one request to a terminal phase. On failure the error is
// returned after local staging has been cleaned up; a partial Result may
// accompany it when the board was already resolved.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	if req.RunID == "" {
		req.RunID = types.NewRunID()
	}
	r := &run{
		o:        o,
		req:      req,
		phase:    PhaseValidating,
		reporter: req.Reporter,
	}
	if r.reporter == nil {
		r.reporter = nopReporter{}
	}
	return r.execute(ctx)
}

type nopReporter struct{}

func (nopReporter) Report(context.Context, string) error { return nil }
