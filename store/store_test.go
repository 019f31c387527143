package store

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	gombox "github.com/emersion/go-mbox"

	"github.com/mjl-/mboxstore/mbox"
	"github.com/mjl-/mboxstore/mbxio"
)

var ctxbg = context.Background()

func tcheck(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %s", msg, err)
	}
}

func tcompare(t *testing.T, got, exp any) {
	t.Helper()
	if !reflect.DeepEqual(got, exp) {
		t.Fatalf("got:\n%#v\nexpected:\n%#v", got, exp)
	}
}

const (
	from1 = "From a@example.org Mon Jan  2 15:04:05 2006\n"
	hdr1  = "Subject: one\nStatus: RO\n\n"
	m1    = from1 + hdr1 + "body one\n\n"
	from2 = "From b@example.org Tue Jan  3 10:00:00 2006\n"
	hdr2  = "Subject: two\nContent-Length: 9\n\n"
	m2    = from2 + hdr2 + "body two\n\n"
	from3 = "From c@example.org Wed Jan  4 11:00:00 2006\n"
	m3    = from3 + "Subject: three\n\nbody three\n"
)

func newTestIndex(t *testing.T, content string, opts Options) (*Index, string) {
	t.Helper()
	p := filepath.Join(t.TempDir(), "INBOX")
	err := os.WriteFile(p, []byte(content), 0600)
	tcheck(t, err, "write mbox file")
	opts.NoFsync = true
	ix, err := Open(ctxbg, nil, p, opts)
	tcheck(t, err, "open index")
	t.Cleanup(func() {
		err := ix.Close()
		if err != nil && !errors.Is(err, ErrClosed) {
			t.Errorf("closing index: %v", err)
		}
	})
	return ix, p
}

func tsync(t *testing.T, ix *Index, expChanges bool) {
	t.Helper()
	changes, err := ix.Sync(ctxbg, LockNone)
	tcheck(t, err, "sync")
	tcompare(t, changes, expChanges)
}

func trecords(t *testing.T, ix *Index) []Record {
	t.Helper()
	l, err := ix.Records(ctxbg)
	tcheck(t, err, "list records")
	return l
}

func uids(l []Record) []UID {
	var r []UID
	for _, rec := range l {
		r = append(r, rec.UID)
	}
	return r
}

// countMessages parses the mbox file with an independent parser.
func countMessages(t *testing.T, p string) int {
	t.Helper()
	f, err := os.Open(p)
	tcheck(t, err, "open mbox file")
	defer f.Close()
	r := gombox.NewReader(f)
	var n int
	for {
		_, err := r.NextMessage()
		if err == io.EOF {
			break
		}
		tcheck(t, err, "next message")
		n++
	}
	return n
}

func readMail(t *testing.T, ix *Index, rec Record) string {
	t.Helper()
	mr, _, deleted, err := ix.OpenMail(ctxbg, rec)
	tcheck(t, err, "open mail")
	tcompare(t, deleted, false)
	defer mr.Close()
	buf, err := io.ReadAll(mr)
	tcheck(t, err, "read mail")
	return string(buf)
}

func TestSync(t *testing.T) {
	ix, p := newTestIndex(t, "\n"+m1+m2, Options{})
	tcompare(t, ix.State(), StateUnverified)

	tsync(t, ix, true)
	tcompare(t, ix.State(), StateConsistent)
	tsync(t, ix, false)

	l := trecords(t, ix)
	tcompare(t, len(l), 2)
	r1 := l[0]
	tcompare(t, r1.UID, UID(1))
	tcompare(t, r1.Offset, int64(1))
	tcompare(t, r1.FromSize, int64(len(from1)))
	tcompare(t, r1.HeaderSize, int64(len(from1+hdr1)))
	tcompare(t, r1.BodySize, int64(len("body one\n\n")))
	tcompare(t, r1.SepSize, int64(1))
	tcompare(t, r1.Flags, mbox.FlagSeen|mbox.FlagRecent)
	tcompare(t, r1.ContentLength, int64(-1))
	if !r1.Received.Equal(time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC)) {
		t.Fatalf("got received %v", r1.Received)
	}
	r2 := l[1]
	tcompare(t, r2.UID, UID(2))
	tcompare(t, r2.Offset, r1.End())
	tcompare(t, r2.End(), int64(1+len(m1+m2)))
	tcompare(t, r2.ContentLength, int64(9))
	tcompare(t, r2.SepSize, int64(1))

	tcompare(t, readMail(t, ix, r1), hdr1+"body one\n")

	// Message added by another program.
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_APPEND, 0)
	tcheck(t, err, "open mbox for append")
	_, err = f.Write([]byte(m3))
	tcheck(t, err, "append to mbox")
	err = f.Close()
	tcheck(t, err, "close mbox")

	tsync(t, ix, true)
	l = trecords(t, ix)
	tcompare(t, uids(l), []UID{1, 2, 3})
	tcompare(t, l[2].Offset, r2.End())
	tcompare(t, l[2].SepSize, int64(0))

	n, err := ix.Count(ctxbg)
	tcheck(t, err, "count")
	tcompare(t, n, 3)

	changes, err := ix.SyncFull(ctxbg)
	tcheck(t, err, "sync full")
	tcompare(t, changes, false)

	meta, err := ix.Meta(ctxbg)
	tcheck(t, err, "meta")
	tcompare(t, meta.NextUID, UID(4))
	tcompare(t, meta.Rebuilds, 0)
}

func TestEmpty(t *testing.T) {
	p := filepath.Join(t.TempDir(), "Empty")
	ix, err := Open(ctxbg, nil, p, Options{Create: true, NoFsync: true})
	tcheck(t, err, "open with create")
	defer ix.Close()

	tsync(t, ix, false)
	tsync(t, ix, false)
	n, err := ix.Count(ctxbg)
	tcheck(t, err, "count")
	tcompare(t, n, 0)

	err = ix.Rebuild(ctxbg)
	tcheck(t, err, "rebuild")
	tcompare(t, len(trecords(t, ix)), 0)

	// Not creating a missing mbox file is an error.
	_, err = Open(ctxbg, nil, filepath.Join(t.TempDir(), "Missing"), Options{})
	var serr *SyscallError
	if !errors.As(err, &serr) || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("got err %v, expected syscall error for missing file", err)
	}
}

func TestNotMbox(t *testing.T) {
	ix, _ := newTestIndex(t, "hello\n", Options{})
	_, err := ix.Sync(ctxbg, LockRead)
	if !errors.Is(err, ErrNotMbox) {
		t.Fatalf("got err %v, expected ErrNotMbox", err)
	}
	tcompare(t, ix.State(), StateUnverified)
}

func TestAppendRebuild(t *testing.T) {
	ix, p := newTestIndex(t, m1+m2, Options{})
	tsync(t, ix, true)

	received := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	rec, err := ix.Append(ctxbg, strings.NewReader("Subject: test\nStatus: RO\n\nhello\n"), AppendOptions{
		From:     "x@example.org",
		Received: received,
		Flags:    mbox.FlagFlagged,
		Keywords: []string{"$Forwarded"},
	})
	tcheck(t, err, "append")
	tcompare(t, rec.UID, UID(3))
	tcompare(t, rec.Offset, int64(len(m1+m2)))
	tcompare(t, rec.Flags, mbox.FlagFlagged|mbox.CustomFlag(0)|mbox.FlagRecent)
	if !rec.Received.Equal(received) {
		t.Fatalf("got received %v, expected %v", rec.Received, received)
	}
	names, err := ix.CustomFlagNames(ctxbg)
	tcheck(t, err, "custom flag names")
	tcompare(t, names, []string{"$Forwarded"})
	tcompare(t, ix.FlagNames(rec.Flags), []string{`\Flagged`, `\Recent`, "$Forwarded"})

	tcompare(t, countMessages(t, p), 3)
	tcompare(t, readMail(t, ix, rec), "Subject: test\nStatus: O\nX-Status: F\nX-Keywords: $Forwarded\n\nhello\n")

	// Appending to a file without trailing newline.
	rec2, err := ix.Append(ctxbg, strings.NewReader("Subject: second\n\nno newline"), AppendOptions{})
	tcheck(t, err, "append")
	tcompare(t, rec2.UID, UID(4))
	tcompare(t, countMessages(t, p), 4)
	tcompare(t, readMail(t, ix, rec2), "Subject: second\nStatus: O\n\nno newline\n")

	before := trecords(t, ix)
	tcompare(t, before[2].End(), rec2.Offset)

	// A rebuild finds the same messages at the same offsets with the same UIDs.
	err = ix.Rebuild(ctxbg)
	tcheck(t, err, "rebuild")
	tcompare(t, trecords(t, ix), before)
	meta, err := ix.Meta(ctxbg)
	tcheck(t, err, "meta")
	tcompare(t, meta.Rebuilds, 1)
	tcompare(t, meta.NextUID, UID(5))

	tsync(t, ix, false)
	changes, err := ix.SyncFull(ctxbg)
	tcheck(t, err, "sync full")
	tcompare(t, changes, false)

	_, err = ix.Append(ctxbg, strings.NewReader("Subject: bad\n\n"), AppendOptions{Keywords: []string{"bad keyword"}})
	if !errors.Is(err, ErrKeyword) {
		t.Fatalf("got err %v, expected ErrKeyword", err)
	}
	tcompare(t, len(trecords(t, ix)), 4)
}

func TestAppendExact(t *testing.T) {
	ix, p := newTestIndex(t, m1, Options{})
	tsync(t, ix, true)

	received := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	from := mbox.FromLine("x@example.org", received)
	opts := AppendOptions{From: "x@example.org", Received: received}

	// Body lines starting with "From " are escaped, the message is followed by a
	// single blank line.
	rec, err := ix.Append(ctxbg, strings.NewReader("Subject: third\n\nFrom here on\nx\n"), opts)
	tcheck(t, err, "append")
	exp := from + "Subject: third\nStatus: O\n\n>From here on\nx\n\n"
	data, err := os.ReadFile(p)
	tcheck(t, err, "read mbox")
	tcompare(t, string(data), m1+exp)
	tcompare(t, rec.Offset, int64(len(m1)))
	tcompare(t, rec.End(), int64(len(m1+exp)))
	tcompare(t, rec.SepSize, int64(1))
	tcompare(t, readMail(t, ix, rec), "Subject: third\nStatus: O\n\n>From here on\nx\n")

	// CRLF line endings are stored as LF, without an extra line.
	_, err = ix.Append(ctxbg, strings.NewReader("Subject: crlf\r\n\r\nline\r\n"), opts)
	tcheck(t, err, "append")
	exp2 := from + "Subject: crlf\nStatus: O\n\nline\n\n"

	// Empty body.
	_, err = ix.Append(ctxbg, strings.NewReader("Subject: empty\n\n"), opts)
	tcheck(t, err, "append")
	exp3 := from + "Subject: empty\nStatus: O\n\n\n"

	data, err = os.ReadFile(p)
	tcheck(t, err, "read mbox")
	tcompare(t, string(data), m1+exp+exp2+exp3)
	tcompare(t, countMessages(t, p), 4)

	changes, err := ix.SyncFull(ctxbg)
	tcheck(t, err, "sync full")
	tcompare(t, changes, false)
}

func TestAppendMaxSize(t *testing.T) {
	ix, p := newTestIndex(t, m1, Options{MaxMessageSize: 20})
	tsync(t, ix, true)

	_, err := ix.Append(ctxbg, strings.NewReader("Subject: big\n\n"+strings.Repeat("x", 100)+"\n"), AppendOptions{})
	if !errors.Is(err, mbxio.ErrLimit) {
		t.Fatalf("got err %v, expected ErrLimit", err)
	}
	fi, err := os.Stat(p)
	tcheck(t, err, "stat mbox")
	tcompare(t, fi.Size(), int64(len(m1)))
	tcompare(t, len(trecords(t, ix)), 1)

	_, err = ix.Append(ctxbg, strings.NewReader("Subject: s\n\nok\n"), AppendOptions{})
	tcheck(t, err, "append small message")
	tcompare(t, countMessages(t, p), 2)
}

func TestTruncated(t *testing.T) {
	ix, p := newTestIndex(t, m1+m2, Options{})
	tsync(t, ix, true)

	err := os.Truncate(p, int64(len(m1+m2)-4))
	tcheck(t, err, "truncate")

	changes, err := ix.SyncFull(ctxbg)
	tcheck(t, err, "sync full")
	tcompare(t, changes, true)
	tcompare(t, ix.State(), StateConsistent)

	l := trecords(t, ix)
	tcompare(t, uids(l), []UID{1, 2})
	tcompare(t, l[1].BodySize, int64(len("body t")))
	tcompare(t, l[1].End(), int64(len(m1+m2)-4))

	meta, err := ix.Meta(ctxbg)
	tcheck(t, err, "meta")
	tcompare(t, meta.Rebuilds, 1)
}

func TestSyncFullChangedHeader(t *testing.T) {
	ix, p := newTestIndex(t, m1+m2, Options{})
	tsync(t, ix, true)

	// Same size, different subject.
	f, err := os.OpenFile(p, os.O_WRONLY, 0)
	tcheck(t, err, "open mbox")
	_, err = f.WriteAt([]byte("uno"), int64(len(from1+"Subject: ")))
	tcheck(t, err, "write")
	err = f.Close()
	tcheck(t, err, "close")

	mismatches, err := ix.Verify(ctxbg)
	tcheck(t, err, "verify")
	tcompare(t, mismatches, []Mismatch{{1, 0, "header changed"}})
	tcompare(t, uids(trecords(t, ix)), []UID{1, 2})

	changes, err := ix.SyncFull(ctxbg)
	tcheck(t, err, "sync full")
	tcompare(t, changes, true)

	mismatches, err = ix.Verify(ctxbg)
	tcheck(t, err, "verify")
	tcompare(t, len(mismatches), 0)

	// UIDs must be ascending with offset, the second message can't keep its UID.
	tcompare(t, uids(trecords(t, ix)), []UID{3, 4})
}

// A message in the middle with a body shorter than its Content-Length causes a
// rebuild, both when the file shrinks and when a later message grows by the
// same amount.
func TestSyncFullShortenedMiddle(t *testing.T) {
	short2 := from2 + hdr2 + "body\n\n"
	long3 := from3 + "Subject: three\n\nbody three!!!!\n"
	for _, content := range []string{short2 + m3, short2 + long3} {
		ix, p := newTestIndex(t, m1+m2+m3, Options{})
		tsync(t, ix, true)

		err := os.WriteFile(p, []byte(m1+content), 0600)
		tcheck(t, err, "write mbox")

		changes, err := ix.SyncFull(ctxbg)
		tcheck(t, err, "sync full")
		tcompare(t, changes, true)
		meta, err := ix.Meta(ctxbg)
		tcheck(t, err, "meta")
		tcompare(t, meta.Rebuilds, 1)

		l := trecords(t, ix)
		tcompare(t, uids(l), []UID{1, 2, 3})
		tcompare(t, l[2].Offset, int64(len(m1+short2)))
		tcompare(t, readMail(t, ix, l[1]), hdr2+"body\n")
	}
}

func TestSyncFullFlags(t *testing.T) {
	ix, p := newTestIndex(t, m1, Options{})
	tsync(t, ix, true)

	// Another program marks the message unread, in place.
	f, err := os.OpenFile(p, os.O_WRONLY, 0)
	tcheck(t, err, "open mbox")
	_, err = f.WriteAt([]byte("O "), int64(len(from1+"Subject: one\nStatus: ")))
	tcheck(t, err, "write")
	err = f.Close()
	tcheck(t, err, "close")

	changes, err := ix.SyncFull(ctxbg)
	tcheck(t, err, "sync full")
	tcompare(t, changes, true)
	l := trecords(t, ix)
	tcompare(t, l[0].UID, UID(1))
	tcompare(t, l[0].Flags, mbox.FlagRecent)
}

func TestSetFlags(t *testing.T) {
	ix, _ := newTestIndex(t, m1+m2, Options{})
	tsync(t, ix, true)

	changed, err := ix.SetFlags(ctxbg, []UID{1, 2}, FlagAdd, []string{`\seen`, "Work"})
	tcheck(t, err, "add flags")
	tcompare(t, uids(changed), []UID{1, 2})
	tcompare(t, changed[0].Flags, mbox.FlagSeen|mbox.FlagRecent|mbox.CustomFlag(0))
	tcompare(t, changed[0].Dirty, true)

	l := trecords(t, ix)
	tcompare(t, l[0].Flags, mbox.FlagSeen|mbox.FlagRecent|mbox.CustomFlag(0))
	tcompare(t, l[0].Dirty, true)

	changed, err = ix.SetFlags(ctxbg, []UID{1}, FlagRemove, []string{"work", "unknown"})
	tcheck(t, err, "remove flags")
	tcompare(t, changed[0].Flags, mbox.FlagSeen|mbox.FlagRecent)

	changed, err = ix.SetFlags(ctxbg, []UID{1}, FlagReplace, []string{`\Draft`})
	tcheck(t, err, "replace flags")
	tcompare(t, changed[0].Flags, mbox.FlagDraft|mbox.FlagRecent)

	changed, err = ix.SetFlags(ctxbg, []UID{1}, FlagReplace, []string{`\Draft`})
	tcheck(t, err, "replace flags without change")
	tcompare(t, len(changed), 0)

	names, err := ix.CustomFlagNames(ctxbg)
	tcheck(t, err, "custom flag names")
	tcompare(t, names, []string{"Work"})

	_, err = ix.SetFlags(ctxbg, []UID{9}, FlagAdd, []string{`\Seen`})
	if !errors.Is(err, ErrUnknownUID) {
		t.Fatalf("got err %v, expected ErrUnknownUID", err)
	}
	for _, f := range []string{`\Recent`, `\Bogus`, "a(b"} {
		_, err = ix.SetFlags(ctxbg, []UID{1}, FlagAdd, []string{f})
		if !errors.Is(err, ErrKeyword) {
			t.Fatalf("flag %q: got err %v, expected ErrKeyword", f, err)
		}
	}
}

func TestParseFlags(t *testing.T) {
	flags, keywords, err := ParseFlags([]string{`\Seen`, `\FLAGGED`, "$Forwarded", "todo"})
	tcheck(t, err, "parse flags")
	tcompare(t, flags, mbox.FlagSeen|mbox.FlagFlagged)
	tcompare(t, keywords, []string{"$Forwarded", "todo"})

	for _, l := range [][]string{{`\Recent`}, {`\Bogus`}} {
		_, _, err := ParseFlags(l)
		if !errors.Is(err, ErrKeyword) {
			t.Fatalf("parsing %v: got err %v, expected ErrKeyword", l, err)
		}
	}
}

func TestRewrite(t *testing.T) {
	ix, p := newTestIndex(t, m1+m2+m3, Options{RewriteBackup: true})
	tsync(t, ix, true)

	// Nothing to do.
	res, err := ix.Rewrite(ctxbg)
	tcheck(t, err, "rewrite")
	tcompare(t, res, RewriteResult{})

	_, err = ix.SetFlags(ctxbg, []UID{2}, FlagAdd, []string{`\Deleted`})
	tcheck(t, err, "set deleted")
	_, err = ix.SetFlags(ctxbg, []UID{3}, FlagAdd, []string{`\Flagged`, "$Important"})
	tcheck(t, err, "set flagged")

	r1, err := ix.RecordByUID(ctxbg, 1)
	tcheck(t, err, "get record")
	r2, err := ix.RecordByUID(ctxbg, 2)
	tcheck(t, err, "get record")

	// Open message is readable during and after the rewrite.
	mr, _, _, err := ix.OpenMail(ctxbg, r1)
	tcheck(t, err, "open mail")

	res, err = ix.Rewrite(ctxbg)
	tcheck(t, err, "rewrite")
	newm3 := from3 + "Subject: three\nStatus: O\nX-Status: F\nX-Keywords: $Important\n\nbody three\n"
	tcompare(t, res.Expunged, []UID{2})
	tcompare(t, res.Rewritten, 1)
	tcompare(t, res.Size, int64(len(m1+newm3)))
	tcompare(t, res.Backup, p+".bak")

	buf, err := io.ReadAll(mr)
	tcheck(t, err, "read mail opened before rewrite")
	tcompare(t, string(buf), hdr1+"body one\n")
	err = mr.Close()
	tcheck(t, err, "close mail reader")

	data, err := os.ReadFile(p)
	tcheck(t, err, "read mbox")
	tcompare(t, string(data), m1+newm3)
	data, err = os.ReadFile(p + ".bak")
	tcheck(t, err, "read backup")
	tcompare(t, string(data), m1+m2+m3)
	tcompare(t, countMessages(t, p), 2)

	l := trecords(t, ix)
	tcompare(t, uids(l), []UID{1, 3})
	tcompare(t, l[1].Offset, int64(len(m1)))
	tcompare(t, l[1].Dirty, false)
	tcompare(t, l[1].End(), int64(len(m1+newm3)))

	// Expunged message is gone, stale records of kept messages still work.
	_, _, deleted, err := ix.OpenMail(ctxbg, r2)
	tcheck(t, err, "open expunged mail")
	tcompare(t, deleted, true)
	tcompare(t, readMail(t, ix, Record{UID: 3, Offset: 1234}), "Subject: three\nStatus: O\nX-Status: F\nX-Keywords: $Important\n\nbody three\n")
	tcompare(t, ix.lockType, LockNone)

	tsync(t, ix, false)
	changes, err := ix.SyncFull(ctxbg)
	tcheck(t, err, "sync full")
	tcompare(t, changes, false)

	// Flags were written to the file, a rebuild finds them.
	err = ix.Rebuild(ctxbg)
	tcheck(t, err, "rebuild")
	tcompare(t, trecords(t, ix), l)

	env, err := ix.Envelope(ctxbg, l[1])
	tcheck(t, err, "envelope")
	tcompare(t, env.Subject, "three")
	_, err = ix.Envelope(ctxbg, r2)
	if !errors.Is(err, ErrUnknownUID) {
		t.Fatalf("got err %v, expected ErrUnknownUID", err)
	}
}

func TestRebuildKeepsDirtyFlags(t *testing.T) {
	ix, _ := newTestIndex(t, m1+m2, Options{})
	tsync(t, ix, true)

	_, err := ix.SetFlags(ctxbg, []UID{2}, FlagAdd, []string{`\Answered`})
	tcheck(t, err, "set flags")
	err = ix.Rebuild(ctxbg)
	tcheck(t, err, "rebuild")

	rec, err := ix.RecordByUID(ctxbg, 2)
	tcheck(t, err, "get record")
	tcompare(t, rec.Flags, mbox.FlagAnswered|mbox.FlagRecent)
	tcompare(t, rec.Dirty, true)
}

func TestLookups(t *testing.T) {
	ix, _ := newTestIndex(t, m1+m2+m3, Options{})
	tsync(t, ix, true)

	l, err := ix.RecordsByUIDRange(ctxbg, 2, 0)
	tcheck(t, err, "uid range")
	tcompare(t, uids(l), []UID{2, 3})
	l, err = ix.RecordsByUIDRange(ctxbg, 1, 2)
	tcheck(t, err, "uid range")
	tcompare(t, uids(l), []UID{1, 2})

	l, err = ix.RecordsByOffsetRange(ctxbg, 1, int64(len(m1+m2)))
	tcheck(t, err, "offset range")
	tcompare(t, uids(l), []UID{2})
	l, err = ix.RecordsByOffsetRange(ctxbg, 0, 0)
	tcheck(t, err, "offset range")
	tcompare(t, uids(l), []UID{1, 2, 3})

	_, err = ix.RecordByUID(ctxbg, 10)
	if !errors.Is(err, ErrUnknownUID) {
		t.Fatalf("got err %v, expected ErrUnknownUID", err)
	}
	_, err = ix.RecordByUID(ctxbg, 0)
	if !errors.Is(err, ErrUnknownUID) {
		t.Fatalf("got err %v, expected ErrUnknownUID", err)
	}

	rec, err := ix.RecordByUID(ctxbg, 2)
	tcheck(t, err, "record by uid")
	tcompare(t, rec.UID, UID(2))
	tcompare(t, rec.Offset, int64(len(m1)))
	if rec.ID == 0 {
		t.Fatalf("record without id")
	}

	// Rebuild keeps record IDs with the UIDs, rewrite removes records by ID.
	err = ix.Rebuild(ctxbg)
	tcheck(t, err, "rebuild")
	nrec, err := ix.RecordByUID(ctxbg, 2)
	tcheck(t, err, "record by uid after rebuild")
	tcompare(t, nrec, rec)

	_, err = ix.SetFlags(ctxbg, []UID{1}, FlagAdd, []string{`\Deleted`})
	tcheck(t, err, "set flags")
	res, err := ix.Rewrite(ctxbg)
	tcheck(t, err, "rewrite")
	tcompare(t, res.Expunged, []UID{1})
	_, err = ix.RecordByUID(ctxbg, 1)
	if !errors.Is(err, ErrUnknownUID) {
		t.Fatalf("got err %v, expected ErrUnknownUID", err)
	}
	nrec, err = ix.RecordByUID(ctxbg, 2)
	tcheck(t, err, "record by uid after rewrite")
	tcompare(t, nrec.ID, rec.ID)
	tcompare(t, nrec.Offset, int64(0))
}

func TestReplacedFile(t *testing.T) {
	ix, p := newTestIndex(t, m1+m2, Options{})
	tsync(t, ix, true)

	// Another program removes the first message by writing a new file.
	tmp := p + ".new"
	err := os.WriteFile(tmp, []byte(m2), 0600)
	tcheck(t, err, "write new file")
	err = os.Rename(tmp, p)
	tcheck(t, err, "rename")

	tsync(t, ix, true)
	l := trecords(t, ix)
	tcompare(t, uids(l), []UID{2})
	tcompare(t, l[0].Offset, int64(0))
	tcompare(t, readMail(t, ix, l[0]), hdr2+"body two\n")
}

func TestClosed(t *testing.T) {
	ix, _ := newTestIndex(t, m1, Options{})
	err := ix.Close()
	tcheck(t, err, "close")

	_, err = ix.Sync(ctxbg, LockRead)
	tcompare(t, errors.Is(err, ErrClosed), true)
	_, err = ix.Records(ctxbg)
	tcompare(t, errors.Is(err, ErrClosed), true)
	err = ix.Close()
	tcompare(t, errors.Is(err, ErrClosed), true)
}
