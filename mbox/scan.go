package mbox

import (
	"fmt"
	"io"
	"time"

	"github.com/mjl-/mboxstore/mlog"
)

// Message describes the location and status of a message in an mbox file.
// Offset+HeaderSize+BodySize is the offset of the next message, or the end of
// the file.
type Message struct {
	Offset        int64 // Of the "From " line.
	FromSize      int64 // Size of "From " line including line ending.
	HeaderSize    int64 // "From " line, header and blank line.
	BodySize      int64 // Body, including the separator.
	SepSize       int64 // Size of separator at end of body, typically 1 for a blank line.
	Flags         Flags
	Sender        string    // From "From " line.
	Received      time.Time // From "From " line, or Received header. Zero if unknown.
	Digest        []byte
	ContentLength int64 // Declared body size, -1 if absent.

	// Content-Length was present but did not match the framing, the end of the
	// message was found by looking for the next "From " line.
	LengthMismatch bool
}

// End returns the offset just after the message.
func (m Message) End() int64 {
	return m.Offset + m.HeaderSize + m.BodySize
}

// Scan parses the message starting at the current position of s, which must be
// at a "From " line, and leaves s at the start of the next message or the end
// of the stream. Custom flags from X-Keywords headers are added to table.
//
// The body ends where the Content-Length header declares if the data at that
// offset is a valid end of message, see VerifyEndOfBody. Otherwise the body
// ends at the next "From " line.
func Scan(s *Stream, table *CustomFlags) (Message, error) {
	m := Message{Offset: s.Offset(), ContentLength: -1}

	line, err := s.ReadLine()
	if err == io.EOF || err == nil && !IsFromLine(line) {
		return m, fmt.Errorf("%w at offset %d", ErrNoFromLine, m.Offset)
	} else if err != nil {
		return m, fmt.Errorf("reading from line: %w", err)
	}
	m.FromSize = int64(len(line))
	m.Sender = FromSender(line)
	fromDate, fromDateOK := ParseFromDate(line)

	hc := NewHeaderContext(table, s)
	defer hc.Free()
	size, _, err := ReadHeader(s, hc.Field)
	if err != nil {
		return m, fmt.Errorf("reading header: %w", err)
	}
	m.HeaderSize = m.FromSize + size
	headerEnd := m.Offset + m.HeaderSize
	hc.Done(headerEnd)

	m.Flags = hc.Flags
	m.Digest = hc.Digest()
	m.ContentLength = hc.ContentLength
	if fromDateOK {
		m.Received = fromDate
	} else {
		m.Received = hc.Received
	}

	if m.ContentLength >= 0 {
		end := headerEnd + m.ContentLength
		if sep, ok := VerifyEndOfBody(s, end); ok {
			m.BodySize = m.ContentLength + sep
			m.SepSize = sep
			s.SetOffset(end + sep)
			return m, nil
		}
		m.LengthMismatch = true
		xlog.Debug("content-length does not match framing, looking for next message", mlog.Field("offset", m.Offset), mlog.Field("contentlength", m.ContentLength))
		s.SetOffset(headerEnd)
	}

	sep, err := SkipMessage(s)
	if err != nil {
		return m, fmt.Errorf("reading body: %w", err)
	}
	m.BodySize = s.Offset() - headerEnd
	m.SepSize = sep
	return m, nil
}
