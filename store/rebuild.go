package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mjl-/bstore"

	"github.com/mjl-/mboxstore/mbox"
	"github.com/mjl-/mboxstore/mlog"
)

// Rebuild discards all records and parses the entire mbox file again. Messages
// that are still present in the same order keep their UID, recognized by their
// fingerprint. Flags changed in the index but not yet written to the mbox file
// are kept for those messages. A write lock is held during the rebuild.
func (ix *Index) Rebuild(ctx context.Context) error {
	if err := ix.begin(); err != nil {
		return err
	}
	defer ix.end()
	return ix.rebuild(ctx, "explicit")
}

func newRecord(m mbox.Message, mtime time.Time) Record {
	received := m.Received
	if received.IsZero() {
		received = mtime
	}
	return Record{
		Offset:        m.Offset,
		FromSize:      m.FromSize,
		HeaderSize:    m.HeaderSize,
		BodySize:      m.BodySize,
		SepSize:       m.SepSize,
		Flags:         m.Flags,
		Received:      received,
		Digest:        m.Digest,
		ContentLength: m.ContentLength,
	}
}

// scanAll parses all messages in s, which must be positioned at the start of
// the file. Empty lines before the first message are skipped.
func scanAll(ctx context.Context, s *mbox.Stream, table *mbox.CustomFlags) ([]mbox.Message, error) {
	mbox.SkipEmptyLines(s)
	var l []mbox.Message
	for !s.EOF() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, err := mbox.Scan(s, table)
		if errors.Is(err, mbox.ErrNoFromLine) {
			return nil, fmt.Errorf("%w: %v", ErrNotMbox, err)
		} else if err != nil {
			return nil, err
		}
		l = append(l, m)
	}
	return l, nil
}

// matchDigest returns the index of the first record in l, starting at index
// start, with the same fingerprint, or -1.
func matchDigest(l []Record, start int, digest []byte) int {
	for i := start; i < len(l); i++ {
		if bytes.Equal(l[i].Digest, digest) {
			return i
		}
	}
	return -1
}

func (ix *Index) rebuild(ctx context.Context, reason string) (rerr error) {
	log := ix.log.WithContext(ctx)
	t0 := time.Now()
	defer observeOp("rebuild", t0)
	metricRebuild.WithLabelValues(reason).Inc()
	log.Info("rebuilding index", mlog.Field("reason", reason))

	if err := ix.ensureLock(LockWrite); err != nil {
		return err
	}

	ix.state = StateRebuilding
	defer func() {
		if rerr != nil {
			ix.state = StateUnverified
		} else {
			ix.state = StateConsistent
		}
	}()

	s, err := ix.getStream(0, LockWrite)
	if err != nil {
		return err
	}
	fi, err := ix.fstat()
	if err != nil {
		return err
	}

	var table *mbox.CustomFlags
	var nmsgs, nkept int
	err = ix.DB.Write(ctx, func(tx *bstore.Tx) error {
		meta, err := txMeta(tx)
		if err != nil {
			return err
		}
		old, err := bstore.QueryTx[Record](tx).SortAsc("Offset").List()
		if err != nil {
			return fmt.Errorf("listing records: %w", err)
		}

		table = mbox.NewCustomFlags(meta.CustomFlags)
		msgs, err := scanAll(ctx, s, table)
		if err != nil {
			return err
		}
		nmsgs = len(msgs)

		if _, err := bstore.QueryTx[Record](tx).Delete(); err != nil {
			return fmt.Errorf("removing records: %w", err)
		}

		var oi int
		var last UID
		for _, m := range msgs {
			rec := newRecord(m, fi.ModTime())
			if j := matchDigest(old, oi, m.Digest); j >= 0 && old[j].UID > last {
				o := old[j]
				rec.ID = o.ID
				rec.UID = o.UID
				if o.Dirty {
					rec.Flags = o.Flags
					rec.Dirty = true
				} else {
					rec.Flags |= o.Flags & mbox.FlagRecent
				}
				oi = j + 1
				nkept++
			} else {
				rec.UID = meta.NextUID
				rec.Flags |= mbox.FlagRecent
			}
			if rec.UID >= meta.NextUID {
				meta.NextUID = rec.UID + 1
			}
			last = rec.UID
			if err := tx.Insert(&rec); err != nil {
				return fmt.Errorf("inserting record: %w", err)
			}
		}

		meta.FileSize = fi.Size()
		meta.FileModTime = fi.ModTime()
		meta.CustomFlags = table.Names()
		meta.Rebuilds++
		meta.LastRebuild = time.Now()
		return tx.Update(&meta)
	})
	if err != nil {
		log.Errorx("rebuilding index", err, mlog.Field("reason", reason))
		return fmt.Errorf("rebuilding index: %w", err)
	}
	ix.table = table

	log.Info("index rebuilt",
		mlog.Field("messages", nmsgs),
		mlog.Field("uidskept", nkept),
		mlog.Field("duration", time.Since(t0)))
	return nil
}
