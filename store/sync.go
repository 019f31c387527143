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

// Sync updates the index with changes to the mbox file, holding at least lock
// lt, and at least a read lock. If the size and modification time of the file
// are unchanged since the last sync, nothing is done. Otherwise the last
// indexed message is checked to still be present, and messages after it are
// added. If the file changed in other ways, the index is rebuilt. Changes is
// true if records were added, changed or removed.
func (ix *Index) Sync(ctx context.Context, lt LockType) (changes bool, rerr error) {
	if err := ix.begin(); err != nil {
		return false, err
	}
	defer ix.end()

	if err := ix.ensureLock(max(lt, LockRead)); err != nil {
		return false, err
	}
	return ix.sync(ctx, false)
}

// SyncFull is like Sync, but also verifies that all indexed messages are still
// present at their offsets with the same header fingerprint. Flags of messages
// changed in the file by other programs are updated in the index, unless the
// record has flag changes not yet written to the file.
func (ix *Index) SyncFull(ctx context.Context) (changes bool, rerr error) {
	if err := ix.begin(); err != nil {
		return false, err
	}
	defer ix.end()

	if err := ix.ensureLock(LockRead); err != nil {
		return false, err
	}
	return ix.sync(ctx, true)
}

// verifyRecord parses the message at the offset of rec and returns a reason if
// it isn't the message described by rec. The last message in the file may have
// grown.
func verifyRecord(s *mbox.Stream, table *mbox.CustomFlags, rec Record, last bool) (mbox.Message, string, error) {
	if rec.Offset >= s.Size() {
		return mbox.Message{}, "message beyond end of file", nil
	}
	s.SetOffset(rec.Offset)
	m, err := mbox.Scan(s, table)
	if errors.Is(err, mbox.ErrNoFromLine) {
		return m, "no message at offset", nil
	} else if err != nil {
		return m, "", err
	}
	switch {
	case m.FromSize != rec.FromSize || m.HeaderSize != rec.HeaderSize:
		return m, "header size changed", nil
	case !bytes.Equal(m.Digest, rec.Digest):
		return m, "header changed", nil
	case !last && m.BodySize != rec.BodySize:
		return m, "body size changed", nil
	case m.End() < rec.End():
		return m, "message shrunk", nil
	}
	return m, "", nil
}

// Mismatch is an indexed message that does not match the mbox file.
type Mismatch struct {
	UID    UID
	Offset int64
	Reason string
}

// Verify compares all indexed messages against the mbox file, like SyncFull,
// but without changing the index.
func (ix *Index) Verify(ctx context.Context) ([]Mismatch, error) {
	if err := ix.begin(); err != nil {
		return nil, err
	}
	defer ix.end()

	s, err := ix.getStream(0, LockRead)
	if err != nil {
		return nil, err
	}
	records, err := bstore.QueryDB[Record](ctx, ix.DB).SortAsc("Offset").List()
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	var l []Mismatch
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_, reason, err := verifyRecord(s, ix.table, rec, i == len(records)-1)
		if err != nil {
			return nil, err
		} else if reason != "" {
			l = append(l, Mismatch{rec.UID, rec.Offset, reason})
		}
	}
	return l, nil
}

func (ix *Index) sync(ctx context.Context, full bool) (changes bool, rerr error) {
	log := ix.log.WithContext(ctx)
	kind := "incremental"
	op := "sync"
	if full {
		kind = "full"
		op = "syncfull"
	}
	defer observeOp(op, time.Now())

	s, err := ix.getStream(0, LockRead)
	if err != nil {
		return false, err
	}
	fi, err := ix.fstat()
	if err != nil {
		return false, err
	}
	meta, err := ix.Meta(ctx)
	if err != nil {
		return false, fmt.Errorf("get index metadata: %w", err)
	}

	if !full && fi.Size() == meta.FileSize && fi.ModTime().Equal(meta.FileModTime) {
		ix.state = StateConsistent
		metricSync.WithLabelValues("quick", "unchanged").Inc()
		return false, nil
	}

	ix.state = StateSyncing
	defer func() {
		if rerr != nil {
			ix.state = StateUnverified
			metricSync.WithLabelValues(kind, "error").Inc()
		}
	}()

	rebuild := func(reason string, offset int64) (bool, error) {
		log.Info("mbox file changed unexpectedly, rebuilding index", mlog.Field("reason", reason), mlog.Field("offset", offset))
		metricSync.WithLabelValues(kind, "rebuild").Inc()
		return true, ix.rebuild(ctx, reason)
	}

	if fi.Size() < meta.FileSize {
		return rebuild("file shrunk", fi.Size())
	}

	q := bstore.QueryDB[Record](ctx, ix.DB).SortAsc("Offset")
	if !full {
		q = bstore.QueryDB[Record](ctx, ix.DB).SortDesc("Offset").Limit(1)
	}
	records, err := q.List()
	if err != nil {
		return false, fmt.Errorf("listing records: %w", err)
	}

	table := mbox.NewCustomFlags(meta.CustomFlags)
	var updates []Record

	// Messages may be preceded by empty lines only.
	mbox.SkipEmptyLines(s)
	start := s.Offset()
	if full && len(records) > 0 && records[0].Offset != start {
		return rebuild("data before first message", start)
	}

	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		last := i == len(records)-1
		m, reason, err := verifyRecord(s, table, rec, last)
		if err != nil {
			return false, err
		} else if reason != "" {
			return rebuild(reason, rec.Offset)
		}
		nrec := rec
		nrec.BodySize = m.BodySize
		nrec.SepSize = m.SepSize
		nrec.ContentLength = m.ContentLength
		if full && !rec.Dirty && m.Flags != rec.Flags&^mbox.FlagRecent {
			nrec.Flags = m.Flags | rec.Flags&mbox.FlagRecent
		}
		if nrec.BodySize != rec.BodySize || nrec.SepSize != rec.SepSize || nrec.ContentLength != rec.ContentLength || nrec.Flags != rec.Flags {
			updates = append(updates, nrec)
		}
		start = m.End()
	}

	// Parse messages added after the last indexed message.
	s.SetOffset(start)
	var added []mbox.Message
	for !s.EOF() {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		m, err := mbox.Scan(s, table)
		if errors.Is(err, mbox.ErrNoFromLine) {
			return rebuild("no message at offset", s.Offset())
		} else if err != nil {
			return false, err
		}
		added = append(added, m)
	}

	err = ix.DB.Write(ctx, func(tx *bstore.Tx) error {
		meta, err := txMeta(tx)
		if err != nil {
			return err
		}
		for _, rec := range updates {
			if err := tx.Update(&rec); err != nil {
				return fmt.Errorf("updating record: %w", err)
			}
		}
		for _, m := range added {
			rec := newRecord(m, fi.ModTime())
			rec.UID = meta.NextUID
			rec.Flags |= mbox.FlagRecent
			meta.NextUID++
			if err := tx.Insert(&rec); err != nil {
				return fmt.Errorf("inserting record: %w", err)
			}
		}
		meta.FileSize = fi.Size()
		meta.FileModTime = fi.ModTime()
		meta.CustomFlags = table.Names()
		return tx.Update(&meta)
	})
	if err != nil {
		return false, fmt.Errorf("updating index: %w", err)
	}
	ix.table = table
	ix.state = StateConsistent

	changes = len(updates) > 0 || len(added) > 0
	result := "unchanged"
	if changes {
		result = "changed"
	}
	metricSync.WithLabelValues(kind, result).Inc()
	if changes {
		log.Debug("index synced", mlog.Field("updated", len(updates)), mlog.Field("added", len(added)), mlog.Field("full", full))
	}
	return changes, nil
}
