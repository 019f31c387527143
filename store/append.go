package store

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	gombox "github.com/emersion/go-mbox"
	"github.com/mjl-/bstore"

	"github.com/mjl-/mboxstore/mbox"
	"github.com/mjl-/mboxstore/mbxio"
	"github.com/mjl-/mboxstore/message"
	"github.com/mjl-/mboxstore/mlog"
)

// AppendOptions are the optional parameters for Append.
type AppendOptions struct {
	From     string    // Envelope sender for the "From " line. Default from Options.
	Received time.Time // Time for the "From " line. Default now.

	Flags    mbox.Flags // System flags, stored in the Status and X-Status headers. Recent is ignored.
	Keywords []string   // Custom flags, stored in the X-Keywords header.
}

// newlineHoldWriter writes to w, holding back a trailing "\n" or "\r\n" until
// more data is written. The go-mbox message writer ends a message with "\n\n",
// so the held back line ending of the last line is dropped.
type newlineHoldWriter struct {
	w    io.Writer
	held []byte
}

func (w *newlineHoldWriter) Write(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	if len(w.held) > 0 {
		if _, err := w.w.Write(w.held); err != nil {
			return 0, err
		}
		w.held = nil
	}
	keep := 0
	if bytes.HasSuffix(buf, []byte("\r\n")) {
		keep = 2
	} else if buf[len(buf)-1] == '\n' {
		keep = 1
	}
	if n := len(buf) - keep; n > 0 {
		if _, err := w.w.Write(buf[:n]); err != nil {
			return 0, err
		}
	}
	w.held = append([]byte(nil), buf[len(buf)-keep:]...)
	return len(buf), nil
}

// Append adds the message read from r at the end of the mbox file and returns
// its new record. Any Status, X-Status and X-Keywords headers in the message
// are replaced by headers for the flags in opts. A write lock is held while
// writing the message and updating the index.
func (ix *Index) Append(ctx context.Context, r io.Reader, opts AppendOptions) (Record, error) {
	if err := ix.begin(); err != nil {
		return Record{}, err
	}
	defer ix.end()

	defer observeOp("append", time.Now())

	if err := ix.ensureLock(LockWrite); err != nil {
		return Record{}, err
	}
	return ix.append(ctx, r, opts)
}

func (ix *Index) append(ctx context.Context, r io.Reader, opts AppendOptions) (rrec Record, rerr error) {
	log := ix.log.WithContext(ctx)

	// New messages are found by syncing after writing, so start from an index that
	// is current.
	if _, err := ix.sync(ctx, false); err != nil {
		return Record{}, fmt.Errorf("sync before append: %w", err)
	}

	if ix.opts.MaxMessageSize > 0 {
		r = &mbxio.LimitReader{R: r, Limit: ix.opts.MaxMessageSize}
	}
	br := bufio.NewReader(r)
	header, err := message.ReadHeaders(br)
	if err != nil && !errors.Is(err, message.ErrHeaderSeparator) {
		return Record{}, fmt.Errorf("reading message header: %w", err)
	}

	flags := opts.Flags & (mbox.FlagsSystem &^ mbox.FlagRecent)
	table := mbox.NewCustomFlags(ix.table.Names())
	for _, kw := range opts.Keywords {
		i, ok := table.Ensure(kw)
		if !ok {
			return Record{}, fmt.Errorf("%w: %q", ErrKeyword, kw)
		}
		flags |= mbox.CustomFlag(i)
	}
	header = mbox.SetStatusHeaders(header, flags, table)

	fi, err := ix.fstat()
	if err != nil {
		return Record{}, err
	}
	origSize := fi.Size()
	offset := origSize
	ix.closeStream()

	defer func() {
		if rerr == nil {
			return
		}
		// Don't leave a partial message behind.
		if err := ix.f.Truncate(origSize); err != nil {
			log.Errorx("truncating mbox file after failed append", err, mlog.Field("size", origSize))
			ix.state = StateUnverified
		}
	}()

	// Make sure the previous message ends with a newline and a blank line.
	if offset > 0 {
		n := min(offset, 3)
		tail := make([]byte, n)
		if _, err := ix.f.ReadAt(tail, offset-n); err != nil {
			return Record{}, ix.syscallErr("read", ix.Path, err)
		}
		var pad string
		switch {
		case bytes.HasSuffix(tail, []byte("\n\n")) || bytes.HasSuffix(tail, []byte("\n\r\n")):
		case bytes.HasSuffix(tail, []byte("\n")):
			pad = "\n"
		default:
			pad = "\n\n"
		}
		if pad != "" {
			if _, err := ix.f.WriteAt([]byte(pad), offset); err != nil {
				return Record{}, ix.syscallErr("write", ix.Path, err)
			}
			offset += int64(len(pad))
		}
	}

	from := opts.From
	if from == "" {
		from = ix.opts.FromAddress
	}
	received := opts.Received
	if received.IsZero() {
		received = time.Now()
	}

	bw := bufio.NewWriter(io.NewOffsetWriter(ix.f, offset))
	mw := gombox.NewWriter(bw)
	w, err := mw.CreateMessage(from, received.UTC())
	if err != nil {
		return Record{}, fmt.Errorf("starting message: %w", err)
	}
	hw := &newlineHoldWriter{w: w}
	if _, err := hw.Write(header); err != nil {
		return Record{}, ix.syscallErr("write", ix.Path, err)
	}
	if _, err := io.Copy(hw, br); err != nil {
		return Record{}, fmt.Errorf("writing message: %w", err)
	}
	// Close ends the last line and adds the blank separator line.
	if err := mw.Close(); err != nil {
		return Record{}, fmt.Errorf("finishing message: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return Record{}, ix.syscallErr("write", ix.Path, err)
	}
	if !ix.opts.NoFsync {
		if err := ix.f.Sync(); err != nil {
			return Record{}, ix.syscallErr("fsync", ix.Path, err)
		}
	}

	if _, err := ix.sync(ctx, false); err != nil {
		return Record{}, fmt.Errorf("sync after append: %w", err)
	}
	rec, err := bstore.QueryDB[Record](ctx, ix.DB).FilterEqual("Offset", offset).Get()
	if err != nil {
		return Record{}, fmt.Errorf("looking up appended message at offset %d: %w", offset, err)
	}

	metricAppend.Inc()
	log.Info("message appended", mlog.Field("uid", rec.UID), mlog.Field("offset", rec.Offset), mlog.Field("size", rec.Size()))
	return rec, nil
}
