package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/user/boardsticker/internal/apperr"
	"github.com/user/boardsticker/internal/types"
)

// run is the mutable state of one Orchestrator.Run call.
type run struct {
	o        *Orchestrator
	req      Request
	phase    Phase
	reporter Reporter

	board  *types.Board
	assets []types.ImageAsset
	name   string

	initial []types.Sticker
	next    int
	added   int
	skipped int
	created bool

	cleanup func()
	unlock  func()
}

func (r *run) execute(ctx context.Context) (*Result, error) {
	defer r.release()

	r.emit(types.RunEvent{Type: "phase", Phase: string(r.phase)})
	for !r.phase.Terminal() {
		next, err := r.step(ctx)
		if err != nil {
			r.fail(ctx, err)
			return r.result(), err
		}
		r.transition(next)
	}

	r.record(ctx, types.SetStatusComplete)
	r.report(ctx, "Sticker set created: "+types.SetURL(r.name))
	return r.result(), nil
}

func (r *run) step(ctx context.Context) (Phase, error) {
	switch r.phase {
	case PhaseValidating:
		return r.validate(ctx)
	case PhaseInitialBatch:
		return r.initialBatch(ctx)
	case PhaseCreated:
		return r.afterCreate()
	case PhaseIncrementalBatch:
		return r.incrementalBatch(ctx)
	default:
		return PhaseFailed, fmt.Errorf("no transition from phase %s", r.phase)
	}
}

func (r *run) transition(next Phase) {
	slog.Info("pipeline phase", "run_id", r.req.RunID, "from", r.phase, "to", next, "set", r.name)
	r.phase = next
	r.emit(types.RunEvent{Type: "phase", Phase: string(next)})
}

// validate resolves and sizes the board before any download, then stages
// its images locally.
func (r *run) validate(ctx context.Context) (Phase, error) {
	b, err := r.o.board.Resolve(ctx, r.req.BoardURL)
	if err != nil {
		return PhaseFailed, err
	}
	r.board = b

	if locker, ok := r.o.board.(Locker); ok {
		unlock, err := locker.Lock(ctx, b)
		if err != nil {
			return PhaseFailed, apperr.IO("lock board staging", "", err)
		}
		r.unlock = unlock
	}

	count, err := r.o.board.Count(ctx, b)
	if err != nil {
		return PhaseFailed, err
	}
	if err := r.checkSize(count); err != nil {
		return PhaseFailed, err
	}

	r.report(ctx, "Downloading images...")
	r.cleanup = func() {
		if err := r.o.board.Cleanup(context.WithoutCancel(ctx), b); err != nil {
			slog.Warn("failed to clean up board staging", "run_id", r.req.RunID,
				"owner", b.Owner, "board", b.Name, "error", err)
		}
	}

	assets, err := r.o.board.Download(ctx, b)
	if err != nil {
		return PhaseFailed, err
	}
	if err := r.checkSize(len(assets)); err != nil {
		return PhaseFailed, err
	}
	r.assets = assets
	return PhaseInitialBatch, nil
}

func (r *run) checkSize(n int) error {
	if n > r.o.cfg.MaxImages {
		return apperr.Validation("validate board", "",
			fmt.Errorf("%w: %d exceeds %d", ErrTooManyImages, n, r.o.cfg.MaxImages))
	}
	if n == 0 {
		return apperr.Validation("validate board", "", ErrEmptyBoard)
	}
	return nil
}

// initialBatch prepares the first batch and creates the set with exactly
// one platform call. Individual image failures are skipped.
func (r *run) initialBatch(ctx context.Context) (Phase, error) {
	name, err := r.o.namer.Resolve(ctx, r.board.Owner, boardLabel(r.board))
	if err != nil {
		return PhaseFailed, fmt.Errorf("resolve set name: %w", err)
	}
	r.name = name

	total := len(r.assets)
	n := min(r.o.cfg.InitialBatchSize, total)
	for i, asset := range r.assets[:n] {
		r.progress(ctx, i+1, total)
		st, err := r.o.preparer.Prepare(ctx, r.req.UserID, asset.Path)
		if err != nil {
			if isCancel(ctx, err) {
				return PhaseFailed, err
			}
			r.skipped++
			slog.Warn("skipping image", "run_id", r.req.RunID, "path", asset.Path,
				"kind", apperr.KindOf(err), "error", err)
			continue
		}
		r.initial = append(r.initial, *st)
	}
	r.next = n

	if len(r.initial) == 0 {
		return PhaseFailed, apperr.Validation("initial batch", "", ErrNoValidStickers)
	}

	if err := r.o.platform.CreateStickerSet(ctx, r.req.UserID, r.name, r.name, r.initial); err != nil {
		return PhaseFailed, apperr.External("create sticker set "+r.name, err)
	}
	r.created = true
	return PhaseCreated, nil
}

func (r *run) afterCreate() (Phase, error) {
	if r.next < len(r.assets) {
		return PhaseIncrementalBatch, nil
	}
	return PhaseComplete, nil
}

// incrementalBatch adds the remaining images one call at a time. Any
// failure aborts the run.
func (r *run) incrementalBatch(ctx context.Context) (Phase, error) {
	total := len(r.assets)
	for ; r.next < total; r.next++ {
		asset := r.assets[r.next]
		r.progress(ctx, r.next+1, total)

		st, err := r.o.preparer.Prepare(ctx, r.req.UserID, asset.Path)
		if err != nil {
			return PhaseFailed, fmt.Errorf("sticker %d/%d: %w", r.next+1, total, err)
		}
		if err := r.o.platform.AddStickerToSet(ctx, r.req.UserID, r.name, *st); err != nil {
			return PhaseFailed, apperr.External(fmt.Sprintf("add sticker %d/%d to %s", r.next+1, total, r.name), err)
		}
		r.added++
	}
	return PhaseComplete, nil
}

// fail moves the run to Failed and applies the partial-set policy when a
// remote set already exists.
func (r *run) fail(ctx context.Context, cause error) {
	slog.Error("pipeline failed", "run_id", r.req.RunID, "phase", r.phase, "set", r.name, "error", cause)
	from := r.phase
	r.phase = PhaseFailed
	r.emit(types.RunEvent{Type: "phase", Phase: string(PhaseFailed), Message: fmt.Sprintf("%s: %v", from, cause)})

	if !r.created {
		return
	}

	status := types.SetStatusPartial
	if r.o.cfg.PartialPolicy == PartialDelete {
		cctx := context.WithoutCancel(ctx)
		err := r.o.retry.Execute(cctx, func(ctx context.Context) error {
			return r.o.platform.DeleteStickerSet(ctx, r.name)
		})
		if err != nil {
			slog.Error("failed to delete partial sticker set", "run_id", r.req.RunID, "set", r.name, "error", err)
		} else {
			slog.Info("deleted partial sticker set", "run_id", r.req.RunID, "set", r.name)
			status = types.SetStatusDeleted
		}
	}
	r.record(ctx, status)
}

// release runs on every exit path. Staged files are kept after a
// successful run.
func (r *run) release() {
	if r.phase != PhaseComplete && r.cleanup != nil {
		r.cleanup()
	}
	if r.unlock != nil {
		r.unlock()
	}
}

func (r *run) record(ctx context.Context, status types.SetStatus) {
	if r.o.store == nil || r.name == "" {
		return
	}
	rec := &types.SetRecord{
		Name:     r.name,
		Title:    r.name,
		Owner:    r.board.Owner,
		Board:    boardLabel(r.board),
		UserID:   r.req.UserID,
		Stickers: len(r.initial) + r.added,
		Skipped:  r.skipped,
		Status:   status,
	}
	if status == types.SetStatusDeleted {
		rec.Stickers = 0
	}
	if err := r.o.store.Record(context.WithoutCancel(ctx), rec); err != nil {
		slog.Warn("failed to record sticker set", "run_id", r.req.RunID, "set", r.name, "error", err)
	}
}

// progress announces the image about to be processed. processed is
// 1-based and counts that image.
func (r *run) progress(ctx context.Context, processed, total int) {
	remaining := Remaining(processed, total, r.o.cfg.TagInterval)
	r.emit(types.RunEvent{Type: "progress", Phase: string(r.phase), Processed: processed, Total: total})
	r.report(ctx, ProgressText(processed, total, remaining))
}

func (r *run) report(ctx context.Context, text string) {
	if err := r.reporter.Report(ctx, text); err != nil {
		slog.Warn("failed to report progress", "run_id", r.req.RunID, "error", err)
	}
}

func (r *run) emit(ev types.RunEvent) {
	if r.o.observer == nil {
		return
	}
	ev.RunID = r.req.RunID
	ev.At = time.Now()
	r.o.observer(ev)
}

func (r *run) result() *Result {
	res := &Result{
		RunID:    r.req.RunID,
		Name:     r.name,
		Stickers: len(r.initial) + r.added,
		Skipped:  r.skipped,
	}
	if r.name != "" {
		res.URL = types.SetURL(r.name)
	}
	if r.board != nil {
		res.Board = *r.board
	}
	return res
}

// Remaining estimates the time left once processed of total images are
// done, assuming tagging dominates.
func Remaining(processed, total int, interval time.Duration) time.Duration {
	left := total - processed
	if left < 0 {
		left = 0
	}
	return time.Duration(left) * interval
}

// ProgressText is the live status line shown while a run works.
func ProgressText(processed, total int, remaining time.Duration) string {
	return fmt.Sprintf("Processing %d/%d stickers...\n⏳ ~%ds remaining",
		processed, total, int(remaining.Round(time.Second)/time.Second))
}

func boardLabel(b *types.Board) string {
	if b.Section != "" {
		return b.Name + "_" + b.Section
	}
	return b.Name
}

func isCancel(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
