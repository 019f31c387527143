package mbox

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"
)

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

func stream(s string) *Stream {
	return NewStream(strings.NewReader(s), int64(len(s)))
}

const (
	from1 = "From a@example.org Mon Jan  2 15:04:05 2006\n"
	msg1  = from1 + "Subject: one\nStatus: RO\nX-Status: AF\nX-Keywords: $Label1 work\n\nbody one\n\n"
	body2 = "From inside the body.\n"
	from3 = "From c@example.org Wed Jan  4 11:00:00 2006\n"
	msg3  = from3 + "Subject: three\nContent-Length: 1000\n\nshort\n"
)

var msg2 = "From b@example.org Tue Jan  3 10:00:00 2006\nSubject: two\nContent-Length: " + strconv.Itoa(len(body2)) + "\n\n" + body2 + "\n"

func TestScan(t *testing.T) {
	data := msg1 + msg2 + msg3
	s := stream(data)
	table := &CustomFlags{}

	m, err := Scan(s, table)
	tcheck(t, err, "scan first message")
	hs := int64(strings.Index(msg1, "\n\n") + 2)
	tcompare(t, m.Offset, int64(0))
	tcompare(t, m.FromSize, int64(len(from1)))
	tcompare(t, m.HeaderSize, hs)
	tcompare(t, m.BodySize, int64(len(msg1))-hs)
	tcompare(t, m.SepSize, int64(1))
	tcompare(t, m.Flags, FlagSeen|FlagAnswered|FlagFlagged|CustomFlag(0)|CustomFlag(1))
	tcompare(t, m.Sender, "a@example.org")
	tcompare(t, m.Received, time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC))
	tcompare(t, m.ContentLength, int64(-1))
	tcompare(t, table.Names(), []string{"$Label1", "work"})
	tcompare(t, s.Offset(), int64(len(msg1)))

	// Content-Length lets us skip over a "From " line in the body.
	m, err = Scan(s, table)
	tcheck(t, err, "scan second message")
	tcompare(t, m.Offset, int64(len(msg1)))
	tcompare(t, m.BodySize, int64(len(body2)+1))
	tcompare(t, m.SepSize, int64(1))
	tcompare(t, m.LengthMismatch, false)
	tcompare(t, m.End(), int64(len(msg1)+len(msg2)))

	// Content-Length beyond end of file, the body runs to the end of the file.
	m, err = Scan(s, table)
	tcheck(t, err, "scan third message")
	tcompare(t, m.ContentLength, int64(1000))
	tcompare(t, m.LengthMismatch, true)
	tcompare(t, m.BodySize, int64(len("short\n")))
	tcompare(t, m.SepSize, int64(0))
	tcompare(t, m.End(), int64(len(data)))
	tcompare(t, s.EOF(), true)
}

func TestScanNoContentLength(t *testing.T) {
	// Without Content-Length, a "From " line in the body starts a new message.
	data := from1 + "Subject: x\n\nhi\n" + body2 + "\n"
	s := stream(data)
	var n int
	for !s.EOF() {
		_, err := Scan(s, &CustomFlags{})
		tcheck(t, err, "scan")
		n++
	}
	tcompare(t, n, 2)
}

func TestScanErrors(t *testing.T) {
	_, err := Scan(stream("Subject: not mbox\n\n"), &CustomFlags{})
	if !errors.Is(err, ErrNoFromLine) {
		t.Fatalf("got err %v, expected ErrNoFromLine", err)
	}
	_, err = Scan(stream(""), &CustomFlags{})
	if !errors.Is(err, ErrNoFromLine) {
		t.Fatalf("got err %v, expected ErrNoFromLine for empty stream", err)
	}
}

func TestReceivedFallback(t *testing.T) {
	data := "From someone bogus date\nReceived: from a by b; Mon, 02 Jan 2006 15:04:05 +0000\nReceived: from c by d; Tue, 03 Jan 2006 15:04:05 +0000\n\nbody\n"
	m, err := Scan(stream(data), &CustomFlags{})
	tcheck(t, err, "scan")
	if !m.Received.Equal(time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC)) {
		t.Fatalf("got received %v, expected date from first received header", m.Received)
	}

	m, err = Scan(stream("From someone bogus\n\n"), &CustomFlags{})
	tcheck(t, err, "scan")
	tcompare(t, m.Received.IsZero(), true)
}

func TestDigest(t *testing.T) {
	digest := func(header string) []byte {
		t.Helper()
		m, err := Scan(stream(from1+header+"\nbody\n"), &CustomFlags{})
		tcheck(t, err, "scan")
		return m.Digest
	}
	d0 := digest("Subject: test\nReceived: from x; Mon, 02 Jan 2006 15:04:05 +0000\n")
	d1 := digest("Subject: test\nStatus: RO\nX-Status: A\nReceived: from x; Mon, 02 Jan 2006 15:04:05 +0000\n")
	d2 := digest("Subject: other\nReceived: from x; Mon, 02 Jan 2006 15:04:05 +0000\n")
	if !bytes.Equal(d0, d1) {
		t.Fatalf("status headers changed digest")
	}
	if bytes.Equal(d0, d2) {
		t.Fatalf("different subject has same digest")
	}

	// Without Received header, Message-ID is part of the digest.
	d3 := digest("Subject: test\nMessage-ID: <1@example.org>\n")
	d4 := digest("Subject: test\nMessage-ID: <2@example.org>\n")
	if bytes.Equal(d3, d4) {
		t.Fatalf("different message-id has same digest")
	}
	// With Received header, it is not.
	d5 := digest("Subject: test\nReceived: from x; Mon, 02 Jan 2006 15:04:05 +0000\nMessage-ID: <2@example.org>\n")
	if !bytes.Equal(d0, d5) {
		t.Fatalf("message-id changed digest while received header present")
	}
}

func TestHeaderContextReadLimit(t *testing.T) {
	data := from1 + "Content-Length: 3\n\nabcdef\n"
	s := stream(data)
	s.ReadLine()
	hc := NewHeaderContext(&CustomFlags{}, s)
	hc.SetReadLimit = true
	_, found, err := ReadHeader(s, hc.Field)
	tcheck(t, err, "read header")
	tcompare(t, found, true)
	hc.Done(s.Offset())
	line, err := s.ReadLine()
	tcheck(t, err, "read body")
	tcompare(t, string(line), "abc")
	tcompare(t, s.EOF(), true)
	hc.Free()
	tcompare(t, s.EOF(), false)
}

func TestReadHeaderFolding(t *testing.T) {
	data := "Subject: a\n\tlong subject\nbogus line\nTo: x\n\nbody"
	var fields []string
	size, found, err := ReadHeader(stream(data), func(name, value []byte) {
		fields = append(fields, string(name)+"="+string(value))
	})
	tcheck(t, err, "read header")
	tcompare(t, found, true)
	tcompare(t, size, int64(strings.Index(data, "\n\n")+2))
	tcompare(t, fields, []string{"Subject=a\tlong subject", "To=x"})

	// Header without separator, ends at next message.
	size, found, err = ReadHeader(stream("Subject: a\n"+from1), nil)
	tcheck(t, err, "read header")
	tcompare(t, found, false)
	tcompare(t, size, int64(len("Subject: a\n")))
}

func TestFraming(t *testing.T) {
	s := stream("\n\r\n\nFrom x")
	SkipEmptyLines(s)
	tcompare(t, s.Offset(), int64(4))
	tcompare(t, SkipCRLF(s), false)

	s = stream("A: b\r\n\r\nbody\r\n\r\nFrom y\n")
	tcompare(t, SkipHeader(s), true)
	tcompare(t, s.Offset(), int64(8))
	sep, err := SkipMessage(s)
	tcheck(t, err, "skip message")
	tcompare(t, sep, int64(2))
	tcompare(t, string(s.Peek(5)), "From ")

	data := "body\n\nFrom z\n"
	s = stream(data)
	verify := func(end int64, expSep int64, expOK bool) {
		t.Helper()
		sep, ok := VerifyEndOfBody(s, end)
		tcompare(t, ok, expOK)
		tcompare(t, sep, expSep)
	}
	verify(5, 1, true)
	verify(6, 0, true)
	verify(4, 0, false)
	verify(int64(len(data)), 0, true)
	verify(int64(len(data))-1, 1, true)
	verify(int64(len(data))+1, 0, false)
}

func TestStreamOffset(t *testing.T) {
	s := stream(msg1 + msg2)
	if _, ok := any(s).(io.Seeker); ok {
		t.Fatalf("stream implements io.Seeker with different semantics")
	}
	s.SetOffset(int64(len(msg1)))
	tcompare(t, s.Offset(), int64(len(msg1)))
	line, err := s.ReadLine()
	tcheck(t, err, "read line")
	tcompare(t, string(line), "From b@example.org Tue Jan  3 10:00:00 2006\n")
	s.SetOffset(0)
	tcompare(t, string(s.Peek(len(from1))), from1)
}

func TestFromLine(t *testing.T) {
	tm := time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC)
	line := FromLine("", tm)
	tcompare(t, line, "From MAILER-DAEMON Mon Jan  2 15:04:05 2006\n")
	xt, ok := ParseFromDate([]byte(line))
	tcompare(t, ok, true)
	tcompare(t, xt, tm)

	xt, ok = ParseFromDate([]byte("From x Mon Jan  2 15:04:05 2006 -0700\n"))
	tcompare(t, ok, true)
	tcompare(t, xt.Unix(), tm.Add(7*time.Hour).Unix())

	_, ok = ParseFromDate([]byte("From x\n"))
	tcompare(t, ok, false)
	_, ok = ParseFromDate([]byte("From x yesterday\n"))
	tcompare(t, ok, false)
	tcompare(t, FromSender([]byte("From x@y Mon Jan  2 15:04:05 2006\n")), "x@y")
}

func TestKeywords(t *testing.T) {
	table := NewCustomFlags([]string{"one"})
	var indices []int
	ParseKeywords([]byte("ONE, two\tthree,,\\Seen bad(word"), table, func(i int) {
		indices = append(indices, i)
	})
	tcompare(t, indices, []int{0, 1, 2})
	tcompare(t, table.Names(), []string{"one", "two", "three"})

	for i := table.Len(); i < MaxCustomFlags; i++ {
		_, ok := table.Ensure("kw" + strconv.Itoa(i))
		tcompare(t, ok, true)
	}
	_, ok := table.Ensure("overflow")
	tcompare(t, ok, false)
	indices = nil
	ParseKeywords([]byte("overflow two"), table, func(i int) {
		indices = append(indices, i)
	})
	tcompare(t, indices, []int{1})
	tcompare(t, table.Len(), MaxCustomFlags)
}

func TestFlags(t *testing.T) {
	f := FlagSeen | CustomFlag(3)
	tcompare(t, f.Has(FlagSeen), true)
	tcompare(t, f.Has(FlagSeen|FlagDeleted), false)
	tcompare(t, f.Set(FlagSeen|FlagDeleted, FlagDeleted), FlagDeleted|CustomFlag(3))
	tcompare(t, f.Custom(), []int{3})
	tcompare(t, f.String(), "seen,custom3")
	tcompare(t, FlagsSystem&CustomFlag(0), Flags(0))
}

func TestStatusHeaders(t *testing.T) {
	table := NewCustomFlags([]string{"a", "b"})
	header := "Subject: x\nStatus: O\nX-Keywords: a\n\tb\nTo: y\n\n"
	got := SetStatusHeaders([]byte(header), FlagSeen|FlagDeleted|FlagAnswered|CustomFlag(1), table)
	tcompare(t, string(got), "Subject: x\nTo: y\nStatus: RO\nX-Status: AD\nX-Keywords: b\n\n")

	got = SetStatusHeaders([]byte("Subject: x\r\n\r\n"), 0, table)
	tcompare(t, string(got), "Subject: x\r\nStatus: O\r\n\r\n")

	// Headers written can be parsed back into the same flags.
	flags := FlagFlagged | FlagDraft | CustomFlag(0) | CustomFlag(1)
	hdr := SetStatusHeaders(nil, flags, table)
	m, err := Scan(stream(from1+string(hdr)+"body\n"), table)
	tcheck(t, err, "scan")
	tcompare(t, m.Flags, flags)
}

func TestStatusHeadersFolding(t *testing.T) {
	var names []string
	for i := 0; i < 12; i++ {
		names = append(names, "keyword"+strconv.Itoa(i))
	}
	table := NewCustomFlags(names)
	var flags Flags
	for i := range names {
		flags |= CustomFlag(i)
	}
	hdr := StatusHeaders(flags, table)
	for _, line := range strings.Split(strings.TrimSuffix(string(hdr), "\n"), "\n") {
		if len(line) > 78 {
			t.Fatalf("line too long: %q", line)
		}
	}
	xtable := &CustomFlags{}
	m, err := Scan(stream(from1+string(hdr)+"\n"), xtable)
	tcheck(t, err, "scan")
	tcompare(t, m.Flags, flags)
	tcompare(t, xtable.Names(), names)
}
