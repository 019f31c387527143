package store

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mjl-/bstore"

	"github.com/mjl-/mboxstore/mbox"
	"github.com/mjl-/mboxstore/mbxio"
	"github.com/mjl-/mboxstore/mlog"
)

// RewriteResult describes the changes made by Rewrite.
type RewriteResult struct {
	Expunged  []UID  // Removed messages.
	Rewritten int    // Messages with flags written to their header.
	Size      int64  // Of new mbox file.
	Backup    string // Path to previous mbox file, if kept.
}

// countWriter counts the bytes written.
type countWriter struct {
	w io.Writer
	n int64
}

func (w *countWriter) Write(buf []byte) (int, error) {
	n, err := w.w.Write(buf)
	w.n += int64(n)
	return n, err
}

// Rewrite writes a new mbox file without the messages marked deleted, and with
// the Status, X-Status and X-Keywords headers of messages with changed flags
// regenerated. The new file replaces the old file atomically with a rename,
// after which the index is updated in a single transaction. If nothing needs to
// change, the file is left alone. A write lock is held during the rewrite.
func (ix *Index) Rewrite(ctx context.Context) (RewriteResult, error) {
	if err := ix.begin(); err != nil {
		return RewriteResult{}, err
	}
	defer ix.end()

	defer observeOp("rewrite", time.Now())

	if err := ix.ensureLock(LockWrite); err != nil {
		return RewriteResult{}, err
	}
	return ix.rewrite(ctx)
}

func (ix *Index) rewrite(ctx context.Context) (res RewriteResult, rerr error) {
	log := ix.log.WithContext(ctx)

	if _, err := ix.sync(ctx, false); err != nil {
		return res, fmt.Errorf("sync before rewrite: %w", err)
	}

	records, err := bstore.QueryDB[Record](ctx, ix.DB).SortAsc("Offset").List()
	if err != nil {
		return res, fmt.Errorf("listing records: %w", err)
	}
	var need bool
	for _, r := range records {
		if r.Dirty || r.Flags.Has(mbox.FlagDeleted) {
			need = true
			break
		}
	}
	if !need {
		log.Debug("no changes for rewrite")
		return res, nil
	}

	fi, err := ix.fstat()
	if err != nil {
		return res, err
	}
	dir := filepath.Dir(ix.Path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(ix.Path)+".rewrite-*")
	if err != nil {
		return res, ix.syscallErr("create", dir, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmp != nil {
			log.Check(tmp.Close(), "closing temporary mbox file after error")
			log.Check(os.Remove(tmpName), "removing temporary mbox file after error")
		}
	}()
	if err := tmp.Chmod(fi.Mode().Perm()); err != nil {
		return res, ix.syscallErr("chmod", tmpName, err)
	}
	// Other processes opening the file after the rename must wait for us.
	if ix.hasLockMethod("flock") {
		if err := flockFile(tmp, LockWrite, true); err != nil {
			return res, ix.syscallErr("flock", tmpName, err)
		}
	}

	bw := bufio.NewWriter(tmp)
	cw := &countWriter{w: bw}
	copyRange := func(off, n int64) error {
		if _, err := io.Copy(cw, io.NewSectionReader(ix.f, off, n)); err != nil {
			return fmt.Errorf("copying message data at offset %d: %w", off, err)
		}
		return nil
	}

	var kept []Record
	var expungedIDs []int64
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if r.Flags.Has(mbox.FlagDeleted) {
			res.Expunged = append(res.Expunged, r.UID)
			expungedIDs = append(expungedIDs, r.ID)
			continue
		}

		nr := r
		nr.Offset = cw.n
		if !r.Dirty {
			if err := copyRange(r.Offset, r.HeaderSize+r.BodySize); err != nil {
				return res, err
			}
			kept = append(kept, nr)
			continue
		}

		if err := copyRange(r.Offset, r.FromSize); err != nil {
			return res, err
		}
		header := make([]byte, r.HeaderSize-r.FromSize)
		if _, err := ix.f.ReadAt(header, r.Offset+r.FromSize); err != nil {
			return res, ix.syscallErr("read", ix.Path, err)
		}
		header = mbox.SetStatusHeaders(header, r.Flags, ix.table)
		if _, err := cw.Write(header); err != nil {
			return res, ix.syscallErr("write", tmpName, err)
		}
		if err := copyRange(r.Offset+r.HeaderSize, r.BodySize); err != nil {
			return res, err
		}
		nr.HeaderSize = r.FromSize + int64(len(header))
		nr.Dirty = false
		kept = append(kept, nr)
		res.Rewritten++
	}
	res.Size = cw.n

	if err := bw.Flush(); err != nil {
		return res, ix.syscallErr("write", tmpName, err)
	}
	if !ix.opts.NoFsync {
		if err := tmp.Sync(); err != nil {
			return res, ix.syscallErr("fsync", tmpName, err)
		}
	}

	if ix.opts.RewriteBackup {
		bak := ix.Path + ".bak"
		if err := os.Remove(bak); err != nil && !os.IsNotExist(err) {
			return res, ix.syscallErr("remove", bak, err)
		}
		// A copy reads from our handle, the file at the path was verified to be the
		// same when locking.
		if err := mbxio.LinkOrCopy(log, bak, ix.Path, &mbxio.AtReader{R: ix.f}, !ix.opts.NoFsync); err != nil {
			return res, ix.syscallErr("link", bak, err)
		}
		res.Backup = bak
	}

	if err := os.Rename(tmpName, ix.Path); err != nil {
		return res, ix.syscallErr("rename", tmpName, err)
	}
	if !ix.opts.NoFsync {
		if err := mbxio.SyncDir(dir); err != nil {
			log.Errorx("sync directory after rename", err)
		}
	}

	// Continue with the new file, its locks are already held. The old file may
	// still be read by mail readers.
	nf := tmp
	tmp = nil
	ix.closeStream()
	if ix.mailReaders > 0 {
		ix.oldFiles = append(ix.oldFiles, ix.f)
	} else {
		log.Check(ix.f.Close(), "closing previous mbox file")
	}
	ix.f = nf

	nfi, err := ix.fstat()
	if err != nil {
		ix.state = StateUnverified
		return res, err
	}

	err = ix.DB.Write(ctx, func(tx *bstore.Tx) error {
		if len(res.Expunged) > 0 {
			if _, err := bstore.QueryTx[Record](tx).FilterIDs(expungedIDs).Delete(); err != nil {
				return fmt.Errorf("removing expunged records: %w", err)
			}
		}
		for _, r := range kept {
			if err := tx.Update(&r); err != nil {
				return fmt.Errorf("updating record: %w", err)
			}
		}
		meta, err := txMeta(tx)
		if err != nil {
			return err
		}
		meta.FileSize = nfi.Size()
		meta.FileModTime = nfi.ModTime()
		return tx.Update(&meta)
	})
	if err != nil {
		// The file has been replaced, the next sync will rebuild the index.
		ix.state = StateUnverified
		return res, fmt.Errorf("updating index after rewrite: %w", err)
	}

	metricExpunged.Add(float64(len(res.Expunged)))
	log.Info("mbox file rewritten",
		mlog.Field("expunged", len(res.Expunged)),
		mlog.Field("rewritten", res.Rewritten),
		mlog.Field("size", res.Size))
	return res, nil
}
