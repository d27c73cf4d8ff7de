package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// lockDirMode is the permission of lock file directories run creates.
const lockDirMode = 0o755

// acquireRunLock takes an exclusive lock on path, creating its parent
// directory first. It retries at lockRetryInterval until the lock is free
// or ctx is done.
func acquireRunLock(ctx context.Context, path string) (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(path), lockDirMode); err != nil {
		return nil, fmt.Errorf("acquire run lock %s: create directory: %w", path, err)
	}

	fl := flock.New(path)

	locked, err := fl.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		return nil, fmt.Errorf("acquire run lock %s: %w", path, err)
	}
	if !locked {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("acquire run lock %s: %w", path, ctx.Err())
		}
		return nil, fmt.Errorf("acquire run lock %s: lock not acquired", path)
	}
	return fl, nil
}

// releaseRunLock unlocks and closes the lock file. The file stays on disk:
// removing it could invalidate a lock another run has just acquired.
func releaseRunLock(log *slog.Logger, fl *flock.Flock) {
	if fl == nil {
		return
	}
	if err := fl.Close(); err != nil {
		log.Debug("failed to release run lock", "path", fl.Path(), "error", err)
	}
}
