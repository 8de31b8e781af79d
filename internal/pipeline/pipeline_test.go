package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/boardsticker/internal/apperr"
	"github.com/user/boardsticker/internal/retry"
	"github.com/user/boardsticker/internal/types"
)

// trace is the ordered log of collaborator calls shared by all fakes.
type trace struct {
	mu      sync.Mutex
	entries []string
}

func (t *trace) add(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, fmt.Sprintf(format, args...))
}

func (t *trace) all() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.entries...)
}

func (t *trace) count(prefix string) int {
	n := 0
	for _, e := range t.all() {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}

type fakeBoard struct {
	tr          *trace
	count       int
	countErr    error
	assets      []types.ImageAsset
	downloadErr error
	cleanupErr  error
}

func (f *fakeBoard) Resolve(ctx context.Context, rawURL string) (*types.Board, error) {
	f.tr.add("resolve")
	return &types.Board{URL: rawURL, Owner: "alice", Name: "cats"}, nil
}

func (f *fakeBoard) Count(ctx context.Context, b *types.Board) (int, error) {
	f.tr.add("count")
	return f.count, f.countErr
}

func (f *fakeBoard) Download(ctx context.Context, b *types.Board) ([]types.ImageAsset, error) {
	f.tr.add("download")
	return f.assets, f.downloadErr
}

func (f *fakeBoard) Cleanup(ctx context.Context, b *types.Board) error {
	f.tr.add("cleanup")
	return f.cleanupErr
}

type lockingBoard struct {
	*fakeBoard
}

func (l *lockingBoard) Lock(ctx context.Context, b *types.Board) (func(), error) {
	l.tr.add("lock")
	return func() { l.tr.add("unlock") }, nil
}

type fakePreparer struct {
	tr          *trace
	PrepareFunc func(ctx context.Context, userID int64, path string) (*types.Sticker, error)
}

func (f *fakePreparer) Prepare(ctx context.Context, userID int64, path string) (*types.Sticker, error) {
	f.tr.add("prepare %s", path)
	if f.PrepareFunc != nil {
		return f.PrepareFunc(ctx, userID, path)
	}
	return &types.Sticker{FileID: "id-" + path, EmojiList: []string{"🐱"}, Source: path}, nil
}

type fakeNamer struct {
	tr *trace
}

func (f *fakeNamer) Resolve(ctx context.Context, owner, board string) (string, error) {
	f.tr.add("name")
	return owner + "_" + board + "_1_by_bot", nil
}

type fakePlatform struct {
	tr         *trace
	created    [][]types.Sticker
	AddFunc    func(n int) error
	DeleteFunc func() error
	adds       int
}

func (f *fakePlatform) CreateStickerSet(ctx context.Context, userID int64, name, title string, stickers []types.Sticker) error {
	f.tr.add("create %d", len(stickers))
	f.created = append(f.created, stickers)
	return nil
}

func (f *fakePlatform) AddStickerToSet(ctx context.Context, userID int64, name string, sticker types.Sticker) error {
	f.adds++
	f.tr.add("add")
	if f.AddFunc != nil {
		return f.AddFunc(f.adds)
	}
	return nil
}

func (f *fakePlatform) DeleteStickerSet(ctx context.Context, name string) error {
	f.tr.add("delete %s", name)
	if f.DeleteFunc != nil {
		return f.DeleteFunc()
	}
	return nil
}

type fakeReporter struct {
	tr  *trace
	err error
}

func (f *fakeReporter) Report(ctx context.Context, text string) error {
	if strings.HasPrefix(text, "Processing") {
		f.tr.add("progress %s", strings.SplitN(text, "\n", 2)[0])
	} else {
		f.tr.add("report %s", text)
	}
	return f.err
}

type memStore struct {
	mu      sync.Mutex
	records map[string]types.SetRecord
}

func (m *memStore) Record(ctx context.Context, rec *types.SetRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records == nil {
		m.records = make(map[string]types.SetRecord)
	}
	m.records[rec.Name] = *rec
	return nil
}

func (m *memStore) Exists(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[name]
	return ok, nil
}

func (m *memStore) List(ctx context.Context, limit int) ([]*types.SetRecord, error) {
	return nil, nil
}

func (m *memStore) ListByUser(ctx context.Context, userID int64, limit int) ([]*types.SetRecord, error) {
	return nil, nil
}

type harness struct {
	tr       *trace
	board    *fakeBoard
	preparer *fakePreparer
	platform *fakePlatform
	reporter *fakeReporter
	store    *memStore
	phases   []Phase
}

func newHarness(n int) *harness {
	tr := &trace{}
	assets := make([]types.ImageAsset, n)
	for i := range assets {
		assets[i] = types.ImageAsset{Path: fmt.Sprintf("/staging/alice/cats/%03d.png", i), Size: 100}
	}
	return &harness{
		tr:       tr,
		board:    &fakeBoard{tr: tr, count: n, assets: assets},
		preparer: &fakePreparer{tr: tr},
		platform: &fakePlatform{tr: tr},
		reporter: &fakeReporter{tr: tr},
		store:    &memStore{},
	}
}

func (h *harness) orchestrator(cfg Config, opts ...Option) *Orchestrator {
	opts = append([]Option{
		WithStore(h.store),
		WithObserver(func(ev types.RunEvent) {
			if ev.Type == "phase" {
				h.phases = append(h.phases, Phase(ev.Phase))
			}
		}),
		WithRetryPolicy(&retry.Policy{MaxAttempts: 2, InitialDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond}),
	}, opts...)
	return New(cfg, h.board, h.preparer, &fakeNamer{tr: h.tr}, h.platform, opts...)
}

func (h *harness) run(t *testing.T, cfg Config, opts ...Option) (*Result, error) {
	t.Helper()
	return h.orchestrator(cfg, opts...).Run(context.Background(), Request{
		RunID:    "run-1",
		UserID:   42,
		BoardURL: "https://www.pinterest.com/alice/cats/",
		Reporter: h.reporter,
	})
}

func TestRunRejectsOverLimitBeforeDownload(t *testing.T) {
	h := newHarness(0)
	h.board.count = 121

	_, err := h.run(t, Config{})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTooManyImages)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, []string{"resolve", "count"}, h.tr.all())
	assert.Equal(t, []Phase{PhaseValidating, PhaseFailed}, h.phases)
}

func TestRunAcceptsExactLimit(t *testing.T) {
	h := newHarness(120)

	res, err := h.run(t, Config{})
	require.NoError(t, err)
	assert.Equal(t, 120, res.Stickers)
}

func TestRunRejectsEmptyBoard(t *testing.T) {
	h := newHarness(0)

	_, err := h.run(t, Config{})

	assert.ErrorIs(t, err, ErrEmptyBoard)
	assert.Zero(t, h.tr.count("download"))
}

func TestRunRejectsDownloadOverLimit(t *testing.T) {
	h := newHarness(130)
	h.board.count = 100

	_, err := h.run(t, Config{})

	assert.ErrorIs(t, err, ErrTooManyImages)
	assert.Zero(t, h.tr.count("prepare"))
	assert.Equal(t, 1, h.tr.count("cleanup"), "downloaded files are cleaned up")
}

func TestRunSmallBoardCreatesOnce(t *testing.T) {
	for _, n := range []int{1, 7, 50} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			h := newHarness(n)

			res, err := h.run(t, Config{})
			require.NoError(t, err)

			assert.Equal(t, 1, h.tr.count("create"))
			assert.Zero(t, h.tr.count("add"))
			require.Len(t, h.platform.created, 1)
			assert.Len(t, h.platform.created[0], n)

			assert.Equal(t, "alice_cats_1_by_bot", res.Name)
			assert.Equal(t, "https://t.me/addstickers/alice_cats_1_by_bot", res.URL)
			assert.Equal(t, n, res.Stickers)
			assert.Equal(t, []Phase{PhaseValidating, PhaseInitialBatch, PhaseCreated, PhaseComplete}, h.phases)
			assert.Zero(t, h.tr.count("cleanup"), "success keeps staged files")

			entries := h.tr.all()
			assert.Equal(t, "report Sticker set created: "+res.URL, entries[len(entries)-1])
			assert.Equal(t, types.SetStatusComplete, h.store.records[res.Name].Status)
		})
	}
}

func TestRunTwoPhaseBatching(t *testing.T) {
	h := newHarness(73)

	res, err := h.run(t, Config{})
	require.NoError(t, err)

	assert.Equal(t, 1, h.tr.count("create"))
	require.Len(t, h.platform.created, 1)
	assert.Len(t, h.platform.created[0], 50)
	assert.Equal(t, 23, h.tr.count("add"))
	assert.Equal(t, 73, res.Stickers)
	assert.Equal(t, []Phase{PhaseValidating, PhaseInitialBatch, PhaseCreated, PhaseIncrementalBatch, PhaseComplete}, h.phases)

	// After the create, every add is preceded by exactly one progress update.
	entries := h.tr.all()
	createIdx := -1
	for i, e := range entries {
		if strings.HasPrefix(e, "create") {
			createIdx = i
			break
		}
	}
	require.GreaterOrEqual(t, createIdx, 0)
	tail := entries[createIdx+1:]
	for i := 0; i < 23; i++ {
		base := i * 3
		require.Greater(t, len(tail), base+2)
		assert.Equal(t, fmt.Sprintf("progress Processing %d/73 stickers...", 51+i), tail[base])
		assert.True(t, strings.HasPrefix(tail[base+1], "prepare "), tail[base+1])
		assert.Equal(t, "add", tail[base+2])
	}
}

func TestRunProgressPrecedesEachImage(t *testing.T) {
	h := newHarness(3)

	_, err := h.run(t, Config{})
	require.NoError(t, err)

	want := []string{
		"resolve", "count",
		"report Downloading images...",
		"download", "name",
		"progress Processing 1/3 stickers...", "prepare /staging/alice/cats/000.png",
		"progress Processing 2/3 stickers...", "prepare /staging/alice/cats/001.png",
		"progress Processing 3/3 stickers...", "prepare /staging/alice/cats/002.png",
		"create 3",
		"report Sticker set created: https://t.me/addstickers/alice_cats_1_by_bot",
	}
	assert.Equal(t, want, h.tr.all())
}

func TestRunAllInitialFailuresNoCreate(t *testing.T) {
	h := newHarness(5)
	h.preparer.PrepareFunc = func(ctx context.Context, userID int64, path string) (*types.Sticker, error) {
		return nil, apperr.Validation("decode image", path, errors.New("bad header"))
	}

	_, err := h.run(t, Config{})

	assert.ErrorIs(t, err, ErrNoValidStickers)
	assert.Zero(t, h.tr.count("create"))
	assert.Zero(t, h.tr.count("delete"))
	assert.Equal(t, 1, h.tr.count("cleanup"))
	assert.Empty(t, h.store.records)
}

func TestRunSkipsFailedInitialImages(t *testing.T) {
	h := newHarness(60)
	h.preparer.PrepareFunc = func(ctx context.Context, userID int64, path string) (*types.Sticker, error) {
		if strings.HasSuffix(path, "003.png") || strings.HasSuffix(path, "010.png") {
			return nil, apperr.External("upload sticker file", errors.New("bad gateway"))
		}
		return &types.Sticker{FileID: path, EmojiList: []string{"🐱"}}, nil
	}

	res, err := h.run(t, Config{})
	require.NoError(t, err)

	require.Len(t, h.platform.created, 1)
	assert.Len(t, h.platform.created[0], 48)
	assert.Equal(t, 10, h.tr.count("add"))
	assert.Equal(t, 58, res.Stickers)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 2, h.store.records[res.Name].Skipped)
}

func TestRunIncrementalFailureDeletesSet(t *testing.T) {
	h := newHarness(55)
	h.platform.AddFunc = func(n int) error {
		if n == 3 {
			return errors.New("Bad Request: STICKERS_TOO_MUCH")
		}
		return nil
	}

	res, err := h.run(t, Config{PartialPolicy: PartialDelete})

	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrExternalService)
	assert.Equal(t, 1, h.tr.count("delete alice_cats_1_by_bot"))
	assert.Equal(t, 1, h.tr.count("cleanup"))
	assert.Equal(t, 52, res.Stickers)
	assert.Equal(t, PhaseFailed, h.phases[len(h.phases)-1])

	rec := h.store.records["alice_cats_1_by_bot"]
	assert.Equal(t, types.SetStatusDeleted, rec.Status)
	assert.Zero(t, rec.Stickers)
}

func TestRunIncrementalFailureKeepsSet(t *testing.T) {
	h := newHarness(55)
	h.preparer.PrepareFunc = func(ctx context.Context, userID int64, path string) (*types.Sticker, error) {
		if strings.HasSuffix(path, "052.png") {
			return nil, apperr.Validation("decode image", path, errors.New("truncated"))
		}
		return &types.Sticker{FileID: path, EmojiList: []string{"🐱"}}, nil
	}

	_, err := h.run(t, Config{PartialPolicy: PartialKeep})

	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Zero(t, h.tr.count("delete"))
	assert.Equal(t, 2, h.tr.count("add"))
	assert.Equal(t, 1, h.tr.count("cleanup"))

	rec := h.store.records["alice_cats_1_by_bot"]
	assert.Equal(t, types.SetStatusPartial, rec.Status)
	assert.Equal(t, 52, rec.Stickers)
}

func TestRunDeleteFailureRecordsPartial(t *testing.T) {
	h := newHarness(51)
	h.platform.AddFunc = func(n int) error { return errors.New("connection reset") }
	h.platform.DeleteFunc = func() error { return errors.New("timeout") }

	_, err := h.run(t, Config{})

	require.Error(t, err)
	assert.Equal(t, 2, h.tr.count("delete"), "delete is retried per policy")
	assert.Equal(t, types.SetStatusPartial, h.store.records["alice_cats_1_by_bot"].Status)
}

func TestRunReporterErrorsAreNotFatal(t *testing.T) {
	h := newHarness(4)
	h.reporter.err = errors.New("message is not modified")

	res, err := h.run(t, Config{})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Stickers)
}

func TestRunCancelledDuringInitialBatch(t *testing.T) {
	h := newHarness(10)
	ctx, cancel := context.WithCancel(context.Background())
	h.preparer.PrepareFunc = func(c context.Context, userID int64, path string) (*types.Sticker, error) {
		if strings.HasSuffix(path, "002.png") {
			cancel()
			return nil, c.Err()
		}
		return &types.Sticker{FileID: path, EmojiList: []string{"🐱"}}, nil
	}

	_, err := h.orchestrator(Config{}).Run(ctx, Request{UserID: 1, BoardURL: "u", Reporter: h.reporter})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, h.tr.count("create"))
	assert.Equal(t, 1, h.tr.count("cleanup"), "cleanup runs even after cancellation")
}

func TestRunLocksBoard(t *testing.T) {
	h := newHarness(2)
	lb := &lockingBoard{fakeBoard: h.board}

	orch := New(Config{}, lb, h.preparer, &fakeNamer{tr: h.tr}, h.platform)
	_, err := orch.Run(context.Background(), Request{UserID: 1, BoardURL: "u"})
	require.NoError(t, err)

	entries := h.tr.all()
	assert.Equal(t, "lock", entries[1])
	assert.Equal(t, "unlock", entries[len(entries)-1])
}

func TestRunCleanupAfterFailureBeforeUnlock(t *testing.T) {
	h := newHarness(3)
	h.board.downloadErr = apperr.External("download board", errors.New("HTTP 403"))
	lb := &lockingBoard{fakeBoard: h.board}

	_, err := New(Config{}, lb, h.preparer, &fakeNamer{tr: h.tr}, h.platform).
		Run(context.Background(), Request{UserID: 1, BoardURL: "u"})
	require.Error(t, err)

	entries := h.tr.all()
	require.GreaterOrEqual(t, len(entries), 2)
	assert.Equal(t, []string{"cleanup", "unlock"}, entries[len(entries)-2:])
}

func TestRunCustomBatchSize(t *testing.T) {
	h := newHarness(10)

	_, err := h.run(t, Config{InitialBatchSize: 4, MaxImages: 10})
	require.NoError(t, err)
	assert.Len(t, h.platform.created[0], 4)
	assert.Equal(t, 6, h.tr.count("add"))
}

func TestRunAssignsRunID(t *testing.T) {
	h := newHarness(1)
	res, err := h.orchestrator(Config{}).Run(context.Background(), Request{UserID: 1, BoardURL: "u"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.RunID)
}

func TestProgressText(t *testing.T) {
	assert.Equal(t, "Processing 1/73 stickers...\n⏳ ~288s remaining",
		ProgressText(1, 73, Remaining(1, 73, DefaultTagInterval)))
	assert.Equal(t, "Processing 73/73 stickers...\n⏳ ~0s remaining",
		ProgressText(73, 73, Remaining(73, 73, DefaultTagInterval)))
}

func TestRemaining(t *testing.T) {
	assert.Equal(t, 92*time.Second, Remaining(50, 73, 4*time.Second))
	assert.Zero(t, Remaining(10, 5, 4*time.Second))
	assert.Zero(t, Remaining(1, 5, 0))
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultMaxImages, cfg.MaxImages)
	assert.Equal(t, DefaultInitialBatchSize, cfg.InitialBatchSize)
	assert.Equal(t, PartialDelete, cfg.PartialPolicy)
}
