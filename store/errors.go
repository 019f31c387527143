package store

import (
	"errors"
	"fmt"
)

var (
	ErrLockTimeout    = errors.New("timeout acquiring lock")
	ErrLockEscalation = errors.New("lost lock while escalating from read to write")
	ErrNotMbox        = errors.New("file is not in mbox format")
	ErrUnknownUID     = errors.New("unknown uid")
	ErrClosed         = errors.New("index is closed")
	ErrKeyword        = errors.New("invalid keyword or too many keywords")
)

// SyscallError is returned for failing operations on the file system. Err is
// typically an *os.PathError or a syscall.Errno, use errors.Is on the
// SyscallError to check for specific errors.
type SyscallError struct {
	Op   string // E.g. "open", "flock", "rename".
	Path string
	Err  error
}

func (e *SyscallError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *SyscallError) Unwrap() error {
	return e.Err
}

// syscallErr wraps err in a SyscallError and remembers it for LastError.
func (ix *Index) syscallErr(op, path string, err error) error {
	se := &SyscallError{op, path, err}
	ix.lastErr = se
	return se
}

// LastError returns the most recent failed file system operation, or nil.
func (ix *Index) LastError() *SyscallError {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.lastErr
}
