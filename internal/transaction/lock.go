package transaction

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// StaleLockThreshold is the maximum age of a lock before another
	// process may take it over.
	StaleLockThreshold = 10 * time.Minute

	lockFileName = "install-path.lock"
)

// ErrLockExists signals that another install, uninstall, or
// reconciliation holds the install path.
var ErrLockExists = errors.New("install path is locked: another operation may be in progress")

// Lock serializes operations over one install path. Installs,
// uninstalls, and reconciliation must all hold it, since
// reconciliation must never observe a half-swapped destination.
type Lock struct {
	path string
}

// AcquireLock takes the install-path lock, stored under dir. Lock
// creation is atomic via O_CREATE|O_EXCL. A lock older than
// StaleLockThreshold is assumed abandoned and replaced.
func AcquireLock(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	lockPath := filepath.Join(dir, lockFileName)

	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}
		if stale, _ := isLockStale(lockPath); !stale {
			return nil, ErrLockExists
		}
		os.Remove(lockPath)
		file, err = os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
		if err != nil {
			return nil, ErrLockExists
		}
	}

	meta := fmt.Sprintf("pid=%d\ntimestamp=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if _, err := file.WriteString(meta); err != nil {
		file.Close()
		os.Remove(lockPath)
		return nil, fmt.Errorf("write lock metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(lockPath)
		return nil, fmt.Errorf("close lock file: %w", err)
	}

	return &Lock{path: lockPath}, nil
}

// Release removes the lock file.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// isLockStale reports whether the lock's recorded timestamp (falling
// back to file mtime) is older than StaleLockThreshold.
func isLockStale(lockPath string) (bool, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return false, err
	}

	for _, line := range strings.Split(string(data), "\n") {
		rest, ok := strings.CutPrefix(line, "timestamp=")
		if !ok {
			continue
		}
		ts, err := time.Parse(time.RFC3339, strings.TrimSpace(rest))
		if err != nil {
			break
		}
		return time.Since(ts) > StaleLockThreshold, nil
	}

	info, err := os.Stat(lockPath)
	if err != nil {
		return false, err
	}
	return time.Since(info.ModTime()) > StaleLockThreshold, nil
}
