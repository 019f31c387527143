package store

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/exp/slices"

	"github.com/mjl-/mboxstore/mbox"
	"github.com/mjl-/mboxstore/mlog"
)

// LockType is the kind of lock held on the mbox file.
type LockType int

const (
	LockNone  LockType = iota
	LockRead           // Shared, for reading the mbox file.
	LockWrite          // Exclusive, for changing the mbox file.
)

func (lt LockType) String() string {
	switch lt {
	case LockNone:
		return "none"
	case LockRead:
		return "read"
	case LockWrite:
		return "write"
	}
	return fmt.Sprintf("lock%d", int(lt))
}

// Interval between attempts to get a lock held by another process.
var lockPollInterval = 50 * time.Millisecond

// Lock acquires lock lt on the mbox file, and keeps it until Unlock is called.
// Operations acquire the locks they need themselves, and afterwards return to
// the lock requested with Lock. Holding a lock across operations gives a
// consistent view of the mbox file and index. Changing a read lock into a write
// lock is not atomic, if it fails, ErrLockEscalation is returned and no lock
// is held anymore.
func (ix *Index) Lock(lt LockType) error {
	if err := ix.begin(); err != nil {
		return err
	}
	defer ix.end()

	if err := ix.setLock(max(lt, ix.readersLock())); err != nil {
		return err
	}
	ix.userLock = lt
	return nil
}

// Unlock releases a lock acquired with Lock. A read lock is kept while
// messages opened with OpenMail are not yet closed.
func (ix *Index) Unlock() error {
	if err := ix.begin(); err != nil {
		return err
	}
	defer ix.end()

	ix.userLock = LockNone
	return nil
}

func (ix *Index) readersLock() LockType {
	if ix.mailReaders > 0 {
		return LockRead
	}
	return LockNone
}

// ensureLock makes sure at least lock lt is held. The lock is returned to
// the level needed outside of operations by end.
func (ix *Index) ensureLock(lt LockType) error {
	if ix.lockType >= lt {
		return nil
	}
	return ix.setLock(lt)
}

// settle sets the lock to what is needed outside operations, and closes mbox
// files replaced by a rewrite that are no longer used.
func (ix *Index) settle() {
	want := max(ix.userLock, ix.readersLock())
	if ix.lockType != want {
		if err := ix.setLock(want); err != nil {
			ix.log.Errorx("changing lock after operation", err, mlog.Field("lock", want))
		}
	}
	if ix.mailReaders == 0 {
		for _, f := range ix.oldFiles {
			ix.log.Check(f.Close(), "closing replaced mbox file")
		}
		ix.oldFiles = nil
	}
}

func (ix *Index) hasLockMethod(m string) bool {
	return slices.Contains(ix.opts.LockMethods, m)
}

// setLock changes the held lock to lt.
func (ix *Index) setLock(lt LockType) error {
	if lt == ix.lockType {
		return nil
	}
	if lt == LockNone {
		ix.releaseLock()
		return nil
	}
	if err := ix.fileOpen(false); err != nil {
		return err
	}

	t0 := time.Now()
	deadline := t0.Add(ix.opts.LockTimeout)
	escalate := ix.lockType == LockRead && lt == LockWrite
	for attempt := 0; ; attempt++ {
		err := ix.acquire(lt, deadline)
		if err == nil {
			var replaced bool
			replaced, err = ix.fileReplaced()
			if err == nil && !replaced {
				break
			} else if err == nil {
				// Another process replaced the file, e.g. after removing messages. Our view of
				// the file is no longer valid.
				ix.log.Debug("mbox file was replaced, reopening", mlog.Field("attempt", attempt))
				if escalate {
					err = fmt.Errorf("mbox file was replaced")
				} else if attempt >= 2 {
					err = fmt.Errorf("mbox file keeps being replaced")
				} else if err = ix.fileOpen(true); err == nil {
					continue
				}
			}
		}
		ix.releaseLock()
		if escalate {
			ix.userLock = LockNone
			ix.log.Debugx("escalating lock failed", err)
			return fmt.Errorf("%w: %w", ErrLockEscalation, err)
		}
		return err
	}
	metricLockWait.WithLabelValues(lt.String()).Observe(float64(time.Since(t0)) / float64(time.Second))
	return nil
}

// acquire gets the locks for lt with the configured lock methods. For write
// locks, the dotlock is taken first.
func (ix *Index) acquire(lt LockType, deadline time.Time) error {
	var newDotlock bool
	if lt == LockWrite && ix.hasLockMethod("dotlock") && !ix.dotlock {
		if err := ix.dotlockAcquire(deadline); err != nil {
			return err
		}
		newDotlock = true
	}
	if ix.hasLockMethod("flock") {
		if err := ix.flockWait(lt, deadline); err != nil {
			if newDotlock {
				ix.dotlockRelease()
			}
			return err
		}
	}
	if lt == LockRead && ix.dotlock {
		ix.dotlockRelease()
	}
	ix.lockType = lt
	return nil
}

func (ix *Index) flockWait(lt LockType, deadline time.Time) error {
	for {
		err := flockFile(ix.f, lt, true)
		if err == nil {
			return nil
		} else if !isWouldBlock(err) {
			return ix.syscallErr("flock", ix.Path, err)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: flock %s", ErrLockTimeout, ix.Path)
		}
		time.Sleep(lockPollInterval)
	}
}

func (ix *Index) dotlockPath() string {
	return ix.Path + ".lock"
}

func (ix *Index) dotlockAcquire(deadline time.Time) error {
	p := ix.dotlockPath()
	for {
		f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
		if err == nil {
			_, err := fmt.Fprintf(f, "%d\n", os.Getpid())
			ix.log.Check(err, "writing pid to dotlock")
			ix.log.Check(f.Close(), "closing dotlock")
			ix.dotlock = true
			return nil
		} else if !os.IsExist(err) {
			return ix.syscallErr("create", p, err)
		}

		if fi, err := os.Stat(p); err == nil && time.Since(fi.ModTime()) > ix.opts.DotlockStale {
			ix.log.Info("removing stale dotlock", mlog.Field("path", p), mlog.Field("modtime", fi.ModTime()))
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				return ix.syscallErr("remove", p, err)
			}
			continue
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: dotlock %s", ErrLockTimeout, p)
		}
		time.Sleep(lockPollInterval)
	}
}

func (ix *Index) dotlockRelease() {
	if !ix.dotlock {
		return
	}
	ix.dotlock = false
	err := os.Remove(ix.dotlockPath())
	ix.log.Check(err, "removing dotlock")
}

func (ix *Index) releaseLock() {
	ix.closeStream()
	if ix.lockType != LockNone && ix.f != nil && ix.hasLockMethod("flock") {
		err := flockFile(ix.f, LockNone, false)
		ix.log.Check(err, "releasing flock")
	}
	ix.dotlockRelease()
	ix.lockType = LockNone
}

// fileReplaced returns whether the path of the mbox file now refers to another
// file than the opened file.
func (ix *Index) fileReplaced() (bool, error) {
	pfi, err := os.Stat(ix.Path)
	if err != nil {
		return false, ix.syscallErr("stat", ix.Path, err)
	}
	ffi, err := ix.f.Stat()
	if err != nil {
		return false, ix.syscallErr("fstat", ix.Path, err)
	}
	return !os.SameFile(pfi, ffi), nil
}

// fileOpen ensures the mbox file is open. With force, a currently open file is
// closed first, releasing its locks.
func (ix *Index) fileOpen(force bool) error {
	if ix.f != nil && !force {
		return nil
	}
	ix.closeFD()
	f, err := os.OpenFile(ix.Path, os.O_RDWR, 0)
	if err != nil {
		return ix.syscallErr("open", ix.Path, err)
	}
	ix.f = f
	return nil
}

// closeStream drops the buffered view of the file, keeping the file open.
func (ix *Index) closeStream() {
	ix.stream = nil
}

// closeFD releases locks and closes the mbox file. If mail readers may still
// be reading from the file, it is closed when they are done.
func (ix *Index) closeFD() {
	if ix.f == nil {
		return
	}
	ix.releaseLock()
	if ix.mailReaders > 0 {
		ix.oldFiles = append(ix.oldFiles, ix.f)
	} else {
		ix.log.Check(ix.f.Close(), "closing mbox file")
	}
	ix.f = nil
}

func (ix *Index) fstat() (os.FileInfo, error) {
	fi, err := ix.f.Stat()
	if err != nil {
		return nil, ix.syscallErr("fstat", ix.Path, err)
	}
	return fi, nil
}

// getStream returns a stream for reading the mbox file at offset, with at
// least lock lt held.
func (ix *Index) getStream(offset int64, lt LockType) (*mbox.Stream, error) {
	if err := ix.fileOpen(false); err != nil {
		return nil, err
	}
	if ix.lockType < lt {
		if err := ix.setLock(lt); err != nil {
			return nil, err
		}
	}
	fi, err := ix.fstat()
	if err != nil {
		return nil, err
	}
	if ix.stream == nil || ix.stream.Size() != fi.Size() {
		ix.stream = mbox.NewStream(ix.f, fi.Size())
	}
	ix.stream.SetLimit(-1)
	ix.stream.SetOffset(offset)
	return ix.stream, nil
}
