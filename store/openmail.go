package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mjl-/bstore"

	"github.com/mjl-/mboxstore/mbox"
	"github.com/mjl-/mboxstore/message"
	"github.com/mjl-/mboxstore/mlog"
)

// MailReader reads a message from the mbox file, starting after the "From "
// line and ending before the separator of the next message. A read lock on the
// mbox file is held until the MailReader is closed.
//
// The bytes are returned as stored in the mbox file. Messages added with Append
// have body lines starting with "From " escaped as ">From " and CRLF line
// endings converted to LF. Messages written by other programs are returned
// as they wrote them.
type MailReader struct {
	*io.SectionReader
	ix     *Index
	closed bool
}

// Close releases the read lock held for the reader, unless other readers or a
// lock from Index.Lock still need it.
func (mr *MailReader) Close() error {
	if mr.closed {
		return nil
	}
	mr.closed = true

	ix := mr.ix
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.mailReaders--
	if !ix.closed {
		ix.settle()
	}
	return nil
}

// OpenMail returns a reader for the message of rec, with its received time. The
// current record for the UID of rec is used, so records from before a rewrite
// can still be opened. If the message is no longer present, deleted is true
// and no reader is returned. The reader must be closed.
func (ix *Index) OpenMail(ctx context.Context, rec Record) (mr *MailReader, received time.Time, deleted bool, rerr error) {
	if err := ix.begin(); err != nil {
		return nil, time.Time{}, false, err
	}
	defer ix.end()

	ix.mailReaders++
	cur, ok, err := ix.openRecord(ctx, rec.UID)
	if err != nil || !ok {
		ix.mailReaders--
		return nil, time.Time{}, !ok && err == nil, err
	}
	mr = &MailReader{
		SectionReader: io.NewSectionReader(ix.f, cur.Offset+cur.FromSize, cur.Size()),
		ix:            ix,
	}
	return mr, cur.Received, false, nil
}

// openRecord looks up the record for uid and checks the message is still at
// its offset. If not, the index is synced and the check repeated.
func (ix *Index) openRecord(ctx context.Context, uid UID) (Record, bool, error) {
	for attempt := 0; ; attempt++ {
		rec, err := bstore.QueryDB[Record](ctx, ix.DB).FilterEqual("UID", uid).Get()
		if errors.Is(err, bstore.ErrAbsent) {
			return Record{}, false, nil
		} else if err != nil {
			return Record{}, false, fmt.Errorf("get record: %w", err)
		}

		ok, err := ix.checkBoundaries(rec)
		if err != nil {
			return Record{}, false, err
		} else if ok {
			return rec, true, nil
		} else if attempt > 0 {
			ix.log.Info("message not found at indexed offset after sync", mlog.Field("uid", uid), mlog.Field("offset", rec.Offset))
			return Record{}, false, nil
		}
		ix.log.Debug("message not at indexed offset, syncing", mlog.Field("uid", uid), mlog.Field("offset", rec.Offset))
		if _, err := ix.sync(ctx, true); err != nil {
			return Record{}, false, err
		}
	}
}

// checkBoundaries checks the "From " line of rec is at its offset, and that the
// message ends at the end of the file or at the next "From " line.
func (ix *Index) checkBoundaries(rec Record) (bool, error) {
	s, err := ix.getStream(rec.Offset, LockRead)
	if err != nil {
		return false, err
	}
	if rec.End() > s.Size() {
		return false, nil
	}
	line, err := s.ReadLine()
	if err == io.EOF {
		return false, nil
	} else if err != nil {
		return false, ix.syscallErr("read", ix.Path, err)
	}
	if !mbox.IsFromLine(line) || int64(len(line)) != rec.FromSize {
		return false, nil
	}
	if rec.End() < s.Size() {
		s.SetOffset(rec.End())
		if !mbox.IsFromLine(s.Peek(len("From "))) {
			return false, nil
		}
	}
	return true, nil
}

// Envelope returns the envelope parsed from the header of the message of rec.
func (ix *Index) Envelope(ctx context.Context, rec Record) (message.Envelope, error) {
	if err := ix.begin(); err != nil {
		return message.Envelope{}, err
	}
	defer ix.end()

	if err := ix.ensureLock(LockRead); err != nil {
		return message.Envelope{}, err
	}
	cur, ok, err := ix.openRecord(ctx, rec.UID)
	if err != nil {
		return message.Envelope{}, err
	} else if !ok {
		return message.Envelope{}, fmt.Errorf("%w: %d", ErrUnknownUID, rec.UID)
	}
	header := make([]byte, cur.HeaderSize-cur.FromSize)
	if _, err := ix.f.ReadAt(header, cur.Offset+cur.FromSize); err != nil {
		return message.Envelope{}, ix.syscallErr("read", ix.Path, err)
	}
	return message.ParseEnvelope(header)
}
