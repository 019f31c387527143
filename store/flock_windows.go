package store

import (
	"errors"
	"os"
)

var errFlockUnsupported = errors.New("flock not supported on this platform, use dotlock")

func flockFile(f *os.File, lt LockType, nonblock bool) error {
	if lt == LockNone {
		return nil
	}
	return errFlockUnsupported
}

func isWouldBlock(err error) bool {
	return false
}
