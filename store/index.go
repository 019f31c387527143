/*
Package store keeps an index of the messages in an mbox file.

The index is a bstore database with a Record per message, holding its offset,
the sizes of the "From " line, header and body, its flags and a fingerprint of
its header. Records are kept current with the mbox file by Sync, which only
parses messages appended since the last sync, and SyncFull, which also
verifies all existing records. When the file was changed in a way that can't
be followed, e.g. by another program removing messages, the index is rebuilt
from scratch. Messages are added with Append, and messages marked deleted are
removed by Rewrite, which also writes flag changes back into the message
headers.

Access to the mbox file is coordinated with other programs through flock(2)
and/or dotlock files, see Index.Lock.
*/
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mjl-/bstore"

	"github.com/mjl-/mboxstore/config"
	"github.com/mjl-/mboxstore/mbox"
	"github.com/mjl-/mboxstore/mlog"
)

var xlog = mlog.New("store")

// UID identifies a message in a mailbox. UIDs are assigned in increasing order
// and not reused for another message.
type UID uint32

// State of the index compared to the mbox file.
type State int

const (
	StateUnverified State = iota // Not yet compared with the file since opening, or after a failed rebuild.
	StateRebuilding
	StateSyncing
	StateConsistent
)

func (s State) String() string {
	switch s {
	case StateUnverified:
		return "unverified"
	case StateRebuilding:
		return "rebuilding"
	case StateSyncing:
		return "syncing"
	case StateConsistent:
		return "consistent"
	}
	return fmt.Sprintf("state%d", int(s))
}

// Record is the index entry for a message in the mbox file.
type Record struct {
	ID  int64
	UID UID `bstore:"nonzero,unique"`

	Offset     int64 `bstore:"index"` // Of the "From " line.
	FromSize   int64 // "From " line including line ending.
	HeaderSize int64 // "From " line, header and blank line.
	BodySize   int64 // Including separator. Offset+HeaderSize+BodySize is the next message or end of file.
	SepSize    int64 // Blank line at end of body.

	Flags         mbox.Flags
	Received      time.Time
	Digest        []byte // MD5 fingerprint of some header fields.
	ContentLength int64  // Declared in header, -1 if absent.

	// Flags were changed in the index but not yet written to the message header.
	Dirty bool
}

// End returns the offset just after the message.
func (r Record) End() int64 {
	return r.Offset + r.HeaderSize + r.BodySize
}

// Size returns the size of the message without "From " line and separator.
func (r Record) Size() int64 {
	return r.HeaderSize - r.FromSize + r.BodySize - r.SepSize
}

// Meta is the singleton with index-wide data.
type Meta struct {
	ID          int64 // Always 1.
	UIDValidity uint32
	NextUID     UID

	// File size and modification time of the mbox file when last synced.
	FileSize    int64
	FileModTime time.Time

	// Custom flag names, their index is the custom flag index in Flags.
	CustomFlags []string

	Rebuilds    int
	LastRebuild time.Time
}

// DBTypes are the types stored in the index database.
var DBTypes = []any{Meta{}, Record{}}

// InitialUIDValidity returns a UIDValidity used when initializing a new index.
// Can be set for reproducible test results.
var InitialUIDValidity = func() uint32 {
	return uint32(time.Now().Unix() >> 1) // A 2-second resolution will get us far enough beyond 2038.
}

// Options for opening an index.
type Options struct {
	// Path to the index database. If empty, it is derived from IndexDir and the
	// mbox path.
	IndexPath string
	IndexDir  string

	LockMethods  []string // "flock" and/or "dotlock". Default flock.
	LockTimeout  time.Duration
	DotlockStale time.Duration

	NoFsync       bool
	RewriteBackup bool   // Keep previous mbox file as "<mbox>.bak" after a rewrite.
	FromAddress   string // Envelope sender in "From " lines of appended messages.

	// Maximum size of appended messages, 0 for no limit.
	MaxMessageSize int64

	// Create the mbox file if it doesn't exist.
	Create bool
}

// OptionsFromConfig returns options with the settings from the configuration
// file.
func OptionsFromConfig(c config.Static) Options {
	return Options{
		IndexDir:      c.IndexDir,
		LockMethods:   c.Lock.Methods,
		LockTimeout:   c.Lock.Timeout,
		DotlockStale:  c.Lock.DotlockStale,
		NoFsync:       c.NoFsync,
		RewriteBackup: c.RewriteBackup,
		FromAddress:   c.FromAddress,

		MaxMessageSize: c.MaxMessageSize,
	}
}

// IndexPath returns the path of the index database for the mbox file.
func IndexPath(mboxPath, indexDir string) string {
	name := filepath.Base(mboxPath)
	if indexDir == "" {
		return filepath.Join(filepath.Dir(mboxPath), "."+name+".index.db")
	}
	return filepath.Join(indexDir, name+".index.db")
}

// Index is an opened index for an mbox file. An Index is meant for a single
// mailbox session, its methods serialize on a mutex.
type Index struct {
	Path   string // Of mbox file.
	DBPath string
	DB     *bstore.DB

	opts Options
	log  *mlog.Log

	mu sync.Mutex // For all fields below.

	closed bool
	state  State
	table  *mbox.CustomFlags // Of Meta.CustomFlags.

	f        *os.File
	stream   *mbox.Stream
	lockType LockType // Currently held.
	userLock LockType // As requested through Lock/Unlock.
	dotlock  bool

	// Number of open MailReaders. While > 0, a read lock is kept. Files replaced by
	// a rewrite are kept open in oldFiles until the readers are closed.
	mailReaders int
	oldFiles    []*os.File

	lastErr *SyscallError
}

// Open opens the index for the mbox file at mboxPath, creating the index
// database if it doesn't exist yet. The index is not compared with the mbox
// file, call Sync for that. If log is nil, a logger for the store package is
// used.
func Open(ctx context.Context, log *mlog.Log, mboxPath string, opts Options) (rix *Index, rerr error) {
	if log == nil {
		log = xlog
	}
	log = log.WithContext(ctx).Fields(mlog.Field("mailbox", mboxPath))

	if opts.LockTimeout <= 0 {
		opts.LockTimeout = config.DefaultLockTimeout
	}
	if opts.DotlockStale <= 0 {
		opts.DotlockStale = config.DefaultDotlockStale
	}
	if len(opts.LockMethods) == 0 {
		opts.LockMethods = []string{"flock"}
	}
	if opts.FromAddress == "" {
		opts.FromAddress = config.DefaultFromAddress
	}

	ix := &Index{Path: mboxPath, opts: opts, log: log}

	if opts.Create {
		f, err := os.OpenFile(mboxPath, os.O_RDWR|os.O_CREATE, 0600)
		if err != nil {
			return nil, ix.syscallErr("create", mboxPath, err)
		}
		log.Check(f.Close(), "closing created mbox file")
	} else if _, err := os.Stat(mboxPath); err != nil {
		return nil, ix.syscallErr("stat", mboxPath, err)
	}

	ix.DBPath = opts.IndexPath
	if ix.DBPath == "" {
		ix.DBPath = IndexPath(mboxPath, opts.IndexDir)
	}
	if opts.IndexDir != "" {
		if err := os.MkdirAll(opts.IndexDir, 0770); err != nil {
			return nil, ix.syscallErr("mkdir", opts.IndexDir, err)
		}
	}

	isNew := false
	if _, err := os.Stat(ix.DBPath); err != nil && os.IsNotExist(err) {
		isNew = true
	}

	db, err := bstore.Open(ctx, ix.DBPath, &bstore.Options{Timeout: 5 * time.Second, Perm: 0660}, DBTypes...)
	if err != nil {
		return nil, fmt.Errorf("open index database: %w", err)
	}
	ix.DB = db

	defer func() {
		if rerr != nil {
			log.Check(db.Close(), "closing index database after error")
			if isNew {
				log.Check(os.Remove(ix.DBPath), "removing new index database after error")
			}
		}
	}()

	var meta Meta
	err = db.Write(ctx, func(tx *bstore.Tx) error {
		meta = Meta{ID: 1}
		err := tx.Get(&meta)
		if err == nil {
			return nil
		} else if !errors.Is(err, bstore.ErrAbsent) {
			return err
		}
		meta = Meta{ID: 1, UIDValidity: InitialUIDValidity(), NextUID: 1}
		return tx.Insert(&meta)
	})
	if err != nil {
		return nil, fmt.Errorf("initializing index: %w", err)
	}
	ix.table = mbox.NewCustomFlags(meta.CustomFlags)

	log.Debug("opened index", mlog.Field("index", ix.DBPath), mlog.Field("new", isNew), mlog.Field("uidvalidity", meta.UIDValidity))
	return ix, nil
}

// Close releases locks, closes the mbox file and the index database.
func (ix *Index) Close() error {
	if err := ix.begin(); err != nil {
		return err
	}
	defer ix.mu.Unlock()

	ix.closed = true
	ix.closeFD()
	for _, f := range ix.oldFiles {
		ix.log.Check(f.Close(), "closing replaced mbox file")
	}
	ix.oldFiles = nil
	return ix.DB.Close()
}

// State returns the state of the index compared to the mbox file.
func (ix *Index) State() State {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.state
}

// Meta returns the index metadata.
func (ix *Index) Meta(ctx context.Context) (Meta, error) {
	meta := Meta{ID: 1}
	err := ix.DB.Get(ctx, &meta)
	return meta, err
}

func txMeta(tx *bstore.Tx) (Meta, error) {
	meta := Meta{ID: 1}
	err := tx.Get(&meta)
	if err != nil {
		err = fmt.Errorf("get index metadata: %w", err)
	}
	return meta, err
}

// begin locks the index for an operation, failing if the index is closed.
// Every successful begin must be followed by end.
func (ix *Index) begin() error {
	ix.mu.Lock()
	if ix.closed {
		ix.mu.Unlock()
		return ErrClosed
	}
	return nil
}

// end sets the lock on the mbox file to what is needed between operations and
// unlocks the index.
func (ix *Index) end() {
	ix.settle()
	ix.mu.Unlock()
}
