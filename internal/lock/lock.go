// Package lock provides the cross-process single-instance lock that keeps
// two trading cycles from running at once.
package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
)

const (
	// DefaultAcquireTimeout bounds the wait for a contended lock.
	DefaultAcquireTimeout = 30 * time.Second

	// StaleAge is the file age past which a held lock is considered
	// abandoned and may be stolen.
	StaleAge = 10 * time.Minute

	retryInterval = 500 * time.Millisecond
)

// RunLock is an exclusive file lock with pid bookkeeping and stale-lock
// recovery.
type RunLock struct {
	path           string
	fl             *flock.Flock
	acquireTimeout time.Duration
	log            zerolog.Logger
}

func New(path string, logger zerolog.Logger) *RunLock {
	return &RunLock{
		path:           path,
		fl:             flock.New(path),
		acquireTimeout: DefaultAcquireTimeout,
		log:            logger.With().Str("component", "lock").Logger(),
	}
}

// SetAcquireTimeout overrides the contended-wait bound.
func (l *RunLock) SetAcquireTimeout(d time.Duration) {
	if d > 0 {
		l.acquireTimeout = d
	}
}

// Acquire takes the lock, waiting up to the acquire timeout. If the lock is
// held but its file is older than StaleAge, the lock is stolen: the file is
// removed and acquisition retried. On success the owning pid and timestamp
// are written into the file.
func (l *RunLock) Acquire(ctx context.Context) error {
	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create lock dir: %w", err)
		}
	}

	deadline := time.Now().Add(l.acquireTimeout)
	stole := false

	for {
		locked, err := l.fl.TryLock()
		if err != nil {
			return fmt.Errorf("try lock %s: %w", l.path, err)
		}
		if locked {
			if err := l.writeOwner(); err != nil {
				l.fl.Unlock()
				return err
			}
			l.log.Debug().Str("path", l.path).Int("pid", os.Getpid()).Msg("lock acquired")
			return nil
		}

		if !stole && l.isStale() {
			owner, _ := l.ownerPID()
			l.log.Warn().Str("path", l.path).Int("stale_owner_pid", owner).Msg("stealing stale lock")
			// Removing the file invalidates the holder's inode; the
			// next TryLock takes a fresh lock on the new file.
			if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("steal stale lock: %w", err)
			}
			l.fl = flock.New(l.path)
			stole = true
			continue
		}

		if time.Now().After(deadline) {
			owner, _ := l.ownerPID()
			return fmt.Errorf("lock %s held by pid %d: %w", l.path, owner, ErrContended)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}

// ErrContended marks a timed-out acquisition against a live holder.
var ErrContended = fmt.Errorf("lock contended")

// Release drops the lock and removes the file.
func (l *RunLock) Release() error {
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("unlock %s: %w", l.path, err)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	l.log.Debug().Str("path", l.path).Msg("lock released")
	return nil
}

func (l *RunLock) writeOwner() error {
	content := fmt.Sprintf("%d %s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(l.path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write lock owner: %w", err)
	}
	return nil
}

func (l *RunLock) isStale() bool {
	info, err := os.Stat(l.path)
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) > StaleAge
}

// ownerPID reads the pid recorded in the lock file.
func (l *RunLock) ownerPID() (int, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty lock file")
	}
	return strconv.Atoi(fields[0])
}
