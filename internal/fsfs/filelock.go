package fsfs

import (
	"os"

	"golang.org/x/sys/unix"
)

// FileLock is an exclusive, advisory file lock backed by flock(2), used
// for the repository write-lock, the txn-current-lock, and each txn's
// proto-rev lock: all three share this one primitive.
type FileLock struct {
	file *os.File
}

// AcquireFileLock opens (creating if necessary) the lock file at path and
// attempts a non-blocking exclusive flock. On contention it returns
// KindRepBeingWritten ("another process"); callers that need a genuinely
// different failure mode (e.g. the repository write-lock, which blocks
// rather than fails) should use AcquireFileLockBlocking instead.
func AcquireFileLock(path string) (*FileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, newErr(KindCorrupt, "opening lock file", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK || err == unix.EAGAIN {
			return nil, newErr(KindRepBeingWritten, "lock held by another process", err)
		}
		return nil, newErr(KindCorrupt, "flock failed", err)
	}
	return &FileLock{file: f}, nil
}

// AcquireFileLockBlocking opens and locks path, blocking until the lock is
// available. Used for the whole-repository write-lock, which commits are
// expected to wait on rather than retry.
func AcquireFileLockBlocking(path string) (*FileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, newErr(KindCorrupt, "opening lock file", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, newErr(KindCorrupt, "flock failed", err)
	}
	return &FileLock{file: f}, nil
}

// Unlock releases the lock and closes the lock file handle.
func (l *FileLock) Unlock() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	err := l.file.Close()
	l.file = nil
	return err
}
