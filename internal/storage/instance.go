package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

const instanceLockFileName = "ei.lock"

// InstanceClaim is the payload written into ei.lock: which process holds
// the single running-engine slot.
type InstanceClaim struct {
	PID      int    `json:"pid"`
	Started  int64  `json:"started"` // unix-ms
	Frontend string `json:"frontend,omitempty"`
}

// InstanceLock enforces "at most one running engine instance per profile
// directory", with the crash-recovery rule that a stale claim (process no
// longer alive) can be stolen rather than blocking forever.
type InstanceLock struct {
	path string
	lock *FileLock
}

// NewInstanceLock returns the instance lock for the given profile directory.
func NewInstanceLock(dir string) *InstanceLock {
	path := filepath.Join(dir, instanceLockFileName)
	return &InstanceLock{path: path, lock: NewFileLock(path)}
}

// Acquire claims the instance slot for this process. If an existing claim's
// PID is no longer alive, the stale lock is stolen and overwritten.
func (il *InstanceLock) Acquire(ctx context.Context, frontend string) error {
	if existing, err := il.readClaim(); err == nil {
		if processAlive(existing.PID) {
			return fmt.Errorf("storage: instance already running (pid %d, started %s)",
				existing.PID, time.UnixMilli(existing.Started).Format(time.RFC3339))
		}
	}

	if !il.lock.TryLock() {
		return fmt.Errorf("storage: could not acquire instance lock at %s", il.path)
	}

	claim := InstanceClaim{
		PID:      os.Getpid(),
		Started:  time.Now().UnixMilli(),
		Frontend: frontend,
	}
	data, err := json.Marshal(claim)
	if err != nil {
		il.lock.Unlock()
		return fmt.Errorf("storage: marshal instance claim: %w", err)
	}
	if f := il.lock.File(); f != nil {
		if err := f.Truncate(0); err != nil {
			il.lock.Unlock()
			return fmt.Errorf("storage: truncate instance lock: %w", err)
		}
		if _, err := f.WriteAt(data, 0); err != nil {
			il.lock.Unlock()
			return fmt.Errorf("storage: write instance claim: %w", err)
		}
	}
	return nil
}

// Release drops the instance claim.
func (il *InstanceLock) Release() error {
	return il.lock.Unlock()
}

func (il *InstanceLock) readClaim() (InstanceClaim, error) {
	var claim InstanceClaim
	data, err := os.ReadFile(il.path)
	if err != nil {
		return claim, err
	}
	if err := json.Unmarshal(data, &claim); err != nil {
		return claim, err
	}
	return claim, nil
}

// processAlive reports whether pid names a live process, via signal 0 (no
// actual signal delivered, just existence/permission check).
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, syscall.Signal(0))
	return err == nil
}
