package training

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrLockHeld is returned when another live training process owns the lock.
var ErrLockHeld = errors.New("another training run holds the lock")

// Locker is a named mutex guarding the training run. Acquire returns a
// release function that must run on every exit path.
type Locker interface {
	Acquire() (release func(), err error)
}

// FileLock is a PID-file lock. A lock whose recorded owner is no longer
// alive is treated as stale and cleared before acquiring.
type FileLock struct {
	Path string
}

func NewFileLock(path string) *FileLock {
	return &FileLock{Path: path}
}

func (l *FileLock) Acquire() (func(), error) {
	if dir := filepath.Dir(l.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create lock dir: %w", err)
		}
	}
	if err := l.clearStale(); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(l.Path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			// Lost the race to another process that just acquired it.
			return nil, ErrLockHeld
		}
		return nil, fmt.Errorf("create lock file: %w", err)
	}
	if _, err := file.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		file.Close()
		os.Remove(l.Path)
		return nil, fmt.Errorf("write lock file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(l.Path)
		return nil, err
	}
	return func() { os.Remove(l.Path) }, nil
}

func (l *FileLock) clearStale() error {
	payload, err := os.ReadFile(l.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read lock file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(payload)))
	if err == nil && processAlive(pid) {
		return ErrLockHeld
	}
	// Unparseable or dead owner: remove the stale lock.
	if err := os.Remove(l.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear stale lock: %w", err)
	}
	return nil
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to another user.
	return errors.Is(err, syscall.EPERM)
}
