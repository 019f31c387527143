package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/mjl-/bstore"

	"github.com/mjl-/mboxstore/mbox"
)

// FlagMode is how SetFlags changes flags.
type FlagMode int

const (
	FlagReplace FlagMode = iota // Set flags to exactly the given flags. Recent is kept.
	FlagAdd
	FlagRemove
)

var systemFlags = []struct {
	name string
	flag mbox.Flags
}{
	{imap.SeenFlag, mbox.FlagSeen},
	{imap.AnsweredFlag, mbox.FlagAnswered},
	{imap.FlaggedFlag, mbox.FlagFlagged},
	{imap.DeletedFlag, mbox.FlagDeleted},
	{imap.DraftFlag, mbox.FlagDraft},
	{imap.RecentFlag, mbox.FlagRecent},
}

// systemFlag returns the flag for a system flag name, matched
// case-insensitively. \Recent cannot be set by clients.
func systemFlag(name string) (mbox.Flags, error) {
	c := imap.CanonicalFlag(name)
	for _, sf := range systemFlags {
		if c != sf.name {
			continue
		} else if sf.flag == mbox.FlagRecent {
			return 0, fmt.Errorf(`%w: \Recent cannot be changed`, ErrKeyword)
		}
		return sf.flag, nil
	}
	return 0, fmt.Errorf("%w: unknown system flag %q", ErrKeyword, name)
}

// ParseFlags splits IMAP flag names into system flags and custom flags, e.g.
// for AppendOptions. System flags start with a backslash.
func ParseFlags(names []string) (mbox.Flags, []string, error) {
	var flags mbox.Flags
	var keywords []string
	for _, name := range names {
		if !strings.HasPrefix(name, `\`) {
			keywords = append(keywords, name)
			continue
		}
		f, err := systemFlag(name)
		if err != nil {
			return 0, nil, err
		}
		flags |= f
	}
	return flags, keywords, nil
}

// parseFlags returns the flags for IMAP flag names. System flags start with a
// backslash and are matched case-insensitively, other names are custom flags.
// With create, unknown custom flags are added to table, otherwise they are
// ignored.
func parseFlags(table *mbox.CustomFlags, names []string, create bool) (mbox.Flags, error) {
	var flags mbox.Flags
	for _, name := range names {
		if strings.HasPrefix(name, `\`) {
			f, err := systemFlag(name)
			if err != nil {
				return 0, err
			}
			flags |= f
			continue
		}

		var i int
		var ok bool
		if create {
			i, ok = table.Ensure(name)
			if !ok {
				return 0, fmt.Errorf("%w: %q", ErrKeyword, name)
			}
		} else if i, ok = table.Lookup(name); !ok {
			continue
		}
		flags |= mbox.CustomFlag(i)
	}
	return flags, nil
}

// FlagNames returns the IMAP flag names for flags.
func (ix *Index) FlagNames(flags mbox.Flags) []string {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	var l []string
	for _, sf := range systemFlags {
		if flags.Has(sf.flag) {
			l = append(l, sf.name)
		}
	}
	return append(l, ix.table.FlagNames(flags)...)
}

// CustomFlagNames returns the names of the custom flags of the mailbox.
func (ix *Index) CustomFlagNames(ctx context.Context) ([]string, error) {
	meta, err := ix.Meta(ctx)
	if err != nil {
		return nil, err
	}
	return meta.CustomFlags, nil
}

// SetFlags changes the flags of the messages with uids. Flags are IMAP flag
// names, like `\Seen` or custom flags. Only the index is changed, changed
// records are marked dirty so Rewrite writes their flags to the mbox file. The
// records that changed are returned.
func (ix *Index) SetFlags(ctx context.Context, uids []UID, mode FlagMode, flags []string) (changed []Record, rerr error) {
	if err := ix.begin(); err != nil {
		return nil, err
	}
	defer ix.end()

	table := mbox.NewCustomFlags(ix.table.Names())
	mask, err := parseFlags(table, flags, mode != FlagRemove)
	if err != nil {
		return nil, err
	}

	err = ix.DB.Write(ctx, func(tx *bstore.Tx) error {
		for _, uid := range uids {
			rec, err := bstore.QueryTx[Record](tx).FilterEqual("UID", uid).Get()
			if errors.Is(err, bstore.ErrAbsent) {
				return fmt.Errorf("%w: %d", ErrUnknownUID, uid)
			} else if err != nil {
				return fmt.Errorf("get record: %w", err)
			}

			var nf mbox.Flags
			switch mode {
			case FlagReplace:
				nf = mask | rec.Flags&mbox.FlagRecent
			case FlagAdd:
				nf = rec.Flags | mask
			case FlagRemove:
				nf = rec.Flags &^ mask
			}
			if nf == rec.Flags {
				continue
			}
			rec.Flags = nf
			rec.Dirty = true
			if err := tx.Update(&rec); err != nil {
				return fmt.Errorf("updating record: %w", err)
			}
			changed = append(changed, rec)
		}

		if table.Len() != ix.table.Len() {
			meta, err := txMeta(tx)
			if err != nil {
				return err
			}
			meta.CustomFlags = table.Names()
			return tx.Update(&meta)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	ix.table = table
	return changed, nil
}
