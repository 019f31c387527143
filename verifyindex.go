package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/mjl-/bstore"

	"github.com/mjl-/mboxstore/mbox"
	"github.com/mjl-/mboxstore/store"
)

func cmdVerifyindex(c *cmd) {
	c.params = "[-fix] mbox"
	c.help = `Verify the index database of an mbox file.

Verifyindex checks that the index database is a valid BoltDB/bstore database,
and that the records are consistent with each other: UIDs are ascending with
file offsets, messages do not overlap, UIDs are below the next UID and custom
flags are known. Then all messages in the index are compared against the mbox
file, without making changes.

With -fix, a full sync is done, which updates the index for changes in the mbox
file, and rebuilds the index if it cannot be updated.
`
	var fix bool
	c.flag.BoolVar(&fix, "fix", false, "update or rebuild the index to match the mbox file")
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}

	mustLoadConfig()
	mboxPath := filepath.Clean(args[0])
	dbpath := indexPath(mboxPath)

	var fail bool
	checkf := func(err error, path, format string, args ...any) {
		if err == nil {
			return
		}
		fail = true
		log.Printf("error: %s: %s: %v", path, fmt.Sprintf(format, args...), err)
	}

	if _, err := os.Stat(dbpath); err != nil && errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("no index database at %s", dbpath)
	}

	// Check BoltDB consistency before bstore opens the file and possibly upgrades
	// its schema.
	bdb, err := bolt.Open(dbpath, 0600, &bolt.Options{Timeout: 5 * time.Second, ReadOnly: true})
	xcheckf(err, "open database with bolt")
	err = bdb.View(func(tx *bolt.Tx) error {
		for err := range tx.Check() {
			checkf(err, dbpath, "bolt database problem")
		}
		return nil
	})
	checkf(err, dbpath, "reading bolt database")
	if err := bdb.Close(); err != nil {
		log.Printf("closing database file: %v", err)
	}

	ix := xopenIndex(c, mboxPath, false)
	defer xcloseIndex(ix)

	// Parse all records of all types, including fields no longer known.
	err = ix.DB.Read(ctxbg, func(tx *bstore.Tx) error {
		types, err := tx.Types()
		checkf(err, dbpath, "getting bstore types from database")
		if err != nil {
			return nil
		}
		for _, t := range types {
			var fields []string
			err := tx.Records(t, &fields, func(m map[string]any) error {
				return nil
			})
			checkf(err, dbpath, "parsing record for type %q", t)
		}
		return nil
	})
	checkf(err, dbpath, "checking database file")

	meta, err := ix.Meta(ctxbg)
	xcheckf(err, "get index meta data")
	if meta.UIDValidity == 0 {
		checkf(errors.New("zero uidvalidity"), dbpath, "checking meta")
	}

	records, err := ix.RecordsByOffsetRange(ctxbg, 0, 0)
	xcheckf(err, "listing records")
	var prev *store.Record
	customMask := mbox.Flags(0)
	for i := range meta.CustomFlags {
		customMask |= mbox.CustomFlag(i)
	}
	for i := range records {
		r := records[i]
		if r.UID >= meta.NextUID {
			checkf(fmt.Errorf("uid %d not below next uid %d", r.UID, meta.NextUID), dbpath, "checking record")
		}
		if r.FromSize <= 0 || r.HeaderSize < r.FromSize || r.SepSize > r.BodySize {
			checkf(fmt.Errorf("uid %d has inconsistent sizes, from %d, header %d, body %d, separator %d", r.UID, r.FromSize, r.HeaderSize, r.BodySize, r.SepSize), dbpath, "checking record")
		}
		if r.End() > meta.FileSize {
			checkf(fmt.Errorf("uid %d ends at %d, beyond indexed file size %d", r.UID, r.End(), meta.FileSize), dbpath, "checking record")
		}
		if custom := r.Flags &^ mbox.FlagsSystem; custom&^customMask != 0 {
			checkf(fmt.Errorf("uid %d has unknown custom flags %#x", r.UID, uint32(custom&^customMask)), dbpath, "checking record")
		}
		if prev != nil {
			if r.UID <= prev.UID {
				checkf(fmt.Errorf("uid %d at offset %d not above uid %d at offset %d", r.UID, r.Offset, prev.UID, prev.Offset), dbpath, "checking record order")
			}
			if r.Offset < prev.End() {
				checkf(fmt.Errorf("uid %d at offset %d overlaps uid %d ending at %d", r.UID, r.Offset, prev.UID, prev.End()), dbpath, "checking record order")
			}
		}
		prev = &records[i]
	}

	// Verify every indexed message against the file.
	mismatches, err := ix.Verify(ctxbg)
	xcheckf(err, "verifying messages")
	for _, m := range mismatches {
		checkf(errors.New(m.Reason), mboxPath, "checking message with uid %d at offset %d", m.UID, m.Offset)
	}

	if fix {
		changes, err := ix.SyncFull(ctxbg)
		xcheckf(err, "full sync")
		fmt.Printf("index updated: %v\n", changes)
		return
	}
	if fail {
		log.Fatalf("errors were found")
	}
	fmt.Println("no problems found")
}
