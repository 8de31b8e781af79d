package board

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/user/boardsticker/internal/types"
)

const lockRetryDelay = 200 * time.Millisecond

// Lock takes an exclusive file lock on the board's staging directory so two
// processes never download into the same place. It blocks until the lock is
// free or ctx is done. The returned func releases it.
func (s *Source) Lock(ctx context.Context, b *types.Board) (func(), error) {
	path := s.Dir(b) + ".lock"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	fl := flock.New(path)
	ok, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("lock board %s/%s: %w", b.Owner, b.Name, err)
	}
	if !ok {
		return nil, fmt.Errorf("lock board %s/%s: not acquired", b.Owner, b.Name)
	}

	return func() {
		if err := fl.Unlock(); err != nil {
			slog.Warn("failed to release board lock", "path", path, "error", err)
		}
	}, nil
}

// Sweep removes board directories that have not been modified for longer
// than retention and are not locked by a running pipeline. It returns the
// number of directories removed.
func (s *Source) Sweep(retention time.Duration) (int, error) {
	owners, err := os.ReadDir(s.staging)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read staging dir: %w", err)
	}

	cutoff := time.Now().Add(-retention)
	removed := 0
	for _, owner := range owners {
		if !owner.IsDir() {
			continue
		}
		ownerDir := filepath.Join(s.staging, owner.Name())
		boards, err := os.ReadDir(ownerDir)
		if err != nil {
			slog.Warn("sweep: read owner dir", "dir", ownerDir, "error", err)
			continue
		}
		for _, bd := range boards {
			if !bd.IsDir() {
				continue
			}
			dir := filepath.Join(ownerDir, bd.Name())
			if !s.expired(dir, cutoff) {
				continue
			}
			fl := flock.New(dir + ".lock")
			ok, err := fl.TryLock()
			if err != nil || !ok {
				continue
			}
			if err := os.RemoveAll(dir); err != nil {
				slog.Warn("sweep: remove board dir", "dir", dir, "error", err)
			} else {
				removed++
			}
			// Never unlink the lock file; waiters may already hold it open.
			_ = fl.Unlock()
		}
		removeIfEmpty(ownerDir)
	}
	return removed, nil
}

func (s *Source) expired(dir string, cutoff time.Time) bool {
	info, err := os.Stat(dir)
	if err != nil {
		return false
	}
	if info.ModTime().After(cutoff) {
		return false
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		fi, err := e.Info()
		if err != nil || fi.ModTime().After(cutoff) {
			return false
		}
	}
	return true
}

func removeIfEmpty(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) > 0 {
		return
	}
	if err := os.Remove(dir); err != nil {
		slog.Debug("sweep: remove empty owner dir", "dir", dir, "error", err)
	}
}
