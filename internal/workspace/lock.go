package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
)

// ErrBusy is returned when a workspace is already locked by another process.
type ErrBusy struct {
	WorkspaceID string
	HeldBy      string
}

func (e *ErrBusy) Error() string {
	if e.HeldBy != "" {
		return fmt.Sprintf("workspace %s is busy (locked by pid %s)", e.WorkspaceID, e.HeldBy)
	}
	return fmt.Sprintf("workspace %s is busy", e.WorkspaceID)
}

// Lock is an advisory, process-wide guard against concurrent lifecycle
// mutation on one workspace, backed by a flock(2) file.
type Lock struct {
	id         string
	flock      *flock.Flock
	ownerPath  string
	lockedOnce bool
}

// NewLock creates (but does not acquire) the advisory lock for a workspace.
func (s *Store) NewLock(id string) *Lock {
	dir := s.workspaceDir(id)
	return &Lock{
		id:        id,
		flock:     flock.New(filepath.Join(dir, "lock")),
		ownerPath: filepath.Join(dir, "lock.owner"),
	}
}

// TryLock attempts to acquire the lock without blocking. On success it
// records the current PID in the lock's sibling owner marker. On failure
// it returns *ErrBusy naming the PID recorded by whoever holds the lock.
func (l *Lock) TryLock() error {
	if err := os.MkdirAll(filepath.Dir(l.flock.Path()), 0o755); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}

	ok, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring workspace lock: %w", err)
	}
	if !ok {
		heldBy := ""
		if data, readErr := os.ReadFile(l.ownerPath); readErr == nil {
			heldBy = strings.TrimSpace(string(data))
		}
		return &ErrBusy{WorkspaceID: l.id, HeldBy: heldBy}
	}

	l.lockedOnce = true
	owner := strconv.Itoa(os.Getpid())
	if err := writeAtomic(l.ownerPath, []byte(owner), 0o644); err != nil {
		_ = l.flock.Unlock()
		l.lockedOnce = false
		return fmt.Errorf("recording lock owner: %w", err)
	}
	return nil
}

// Unlock releases the lock and removes the owner marker. Safe to call even
// if TryLock was never successfully called.
func (l *Lock) Unlock() error {
	if !l.lockedOnce {
		return nil
	}
	_ = os.Remove(l.ownerPath)
	return l.flock.Unlock()
}
