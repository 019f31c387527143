//go:build !windows

package store

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

func flockFile(f *os.File, lt LockType, nonblock bool) error {
	var how int
	switch lt {
	case LockNone:
		how = unix.LOCK_UN
	case LockRead:
		how = unix.LOCK_SH
	default:
		how = unix.LOCK_EX
	}
	if nonblock {
		how |= unix.LOCK_NB
	}
	for {
		err := unix.Flock(int(f.Fd()), how)
		if err != unix.EINTR {
			return err
		}
	}
}

func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EWOULDBLOCK)
}
