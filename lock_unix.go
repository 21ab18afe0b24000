//go:build unix

package jsonlt

import (
	"errors"
	"syscall"
)

func flockOp(mode LockMode) int {
	if mode == LockExclusive {
		return syscall.LOCK_EX
	}
	return syscall.LOCK_SH
}

// lock blocks until the flock is granted.
func (l *fileLock) lock(mode LockMode) error {
	return syscall.Flock(int(l.f.Fd()), flockOp(mode))
}

// tryLock attempts the flock without blocking. Returns false when another
// process holds a conflicting lock.
func (l *fileLock) tryLock(mode LockMode) (bool, error) {
	err := syscall.Flock(int(l.f.Fd()), flockOp(mode)|syscall.LOCK_NB)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN) {
		return false, nil
	}
	return false, err
}

func (l *fileLock) unlock() error {
	return syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
}
