package mbox

import (
	"bytes"
	"crypto/md5"
	"hash"
	"io"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/mjl-/mboxstore/mlog"
)

// ReadHeader reads a message header from s, calling fn (if not nil) for each
// header field with the field name and its unfolded value. Reading stops after
// the blank line ending the header (found is true), or before a "From " line or
// at the end of the stream (found is false). Lines that are not header fields
// are skipped. Size is the number of bytes consumed.
func ReadHeader(s *Stream, fn func(name, value []byte)) (size int64, found bool, err error) {
	start := s.Offset()
	var name, value []byte
	flush := func() {
		if name != nil && fn != nil {
			fn(name, unfold(value))
		}
		name, value = nil, nil
	}
	for {
		if IsFromLine(s.Peek(len(fromPrefix))) {
			flush()
			return s.Offset() - start, false, nil
		}
		line, err := s.ReadLine()
		if err == io.EOF {
			flush()
			return s.Offset() - start, false, nil
		} else if err != nil {
			return s.Offset() - start, false, err
		}
		if isBlankLine(line) {
			flush()
			return s.Offset() - start, true, nil
		}
		if line[0] == ' ' || line[0] == '\t' {
			if name != nil {
				value = append(value, line...)
			}
			continue
		}
		flush()
		i := bytes.IndexByte(line, ':')
		if i <= 0 {
			continue
		}
		name = bytes.TrimRight(line[:i], " \t")
		value = line[i+1:]
	}
}

func unfold(value []byte) []byte {
	value = bytes.ReplaceAll(value, []byte("\r\n"), nil)
	value = bytes.ReplaceAll(value, []byte("\n"), nil)
	return bytes.TrimSpace(value)
}

// HeaderContext gathers the information the index needs from the header of a
// single message while the header is read: flags from status headers, custom
// flags, the declared body size and a fingerprint of the message.
//
// The fingerprint is an MD5 hash over the first Received header,
// Delivered-To and Subject. When the message has no Received header, Date and
// Message-ID are included instead. The fingerprint stays the same when only
// status headers change.
type HeaderContext struct {
	Flags         Flags
	ContentLength int64     // From Content-Length header, -1 if absent or invalid.
	Received      time.Time // Date from the first Received header, if parsable.

	// If set, Done limits the stream to the end of the body as declared by the
	// Content-Length header.
	SetReadLimit bool
	HeaderEnd    int64 // Offset of the first body byte, set by Done.

	table      *CustomFlags
	stream     *Stream
	md5        hash.Hash
	received   bool
	date       []byte
	messageID  []byte
	digest     []byte
	limitedSet bool
}

// NewHeaderContext returns a context for reading a header from s. Custom flags
// are resolved and added in table.
func NewHeaderContext(table *CustomFlags, s *Stream) *HeaderContext {
	return &HeaderContext{
		ContentLength: -1,
		table:         table,
		stream:        s,
		md5:           md5.New(),
	}
}

func (c *HeaderContext) hash(name string, value []byte) {
	c.md5.Write([]byte(name))
	c.md5.Write([]byte{':'})
	c.md5.Write(value)
	c.md5.Write([]byte{'\n'})
}

// Field processes a single header field, it is typically passed to ReadHeader.
func (c *HeaderContext) Field(name, value []byte) {
	k := strings.ToLower(string(name))
	switch k {
	case "status":
		for _, ch := range value {
			switch ch {
			case 'R':
				c.Flags |= FlagSeen
			}
		}
	case "x-status":
		for _, ch := range value {
			switch ch {
			case 'A':
				c.Flags |= FlagAnswered
			case 'F':
				c.Flags |= FlagFlagged
			case 'T':
				c.Flags |= FlagDraft
			case 'D':
				c.Flags |= FlagDeleted
			}
		}
	case "x-keywords":
		if c.table != nil {
			ParseKeywords(value, c.table, func(index int) {
				c.Flags |= CustomFlag(index)
			})
		}
	case "content-length":
		n, err := strconv.ParseInt(string(value), 10, 64)
		if err != nil || n < 0 {
			xlog.Debug("ignoring invalid content-length", mlog.Field("value", string(value)))
			c.ContentLength = -1
		} else {
			c.ContentLength = n
		}
	case "received":
		if c.received {
			break
		}
		c.received = true
		c.hash(k, value)
		if i := bytes.LastIndexByte(value, ';'); i >= 0 {
			if t, err := mail.ParseDate(strings.TrimSpace(string(value[i+1:]))); err == nil {
				c.Received = t
			}
		}
	case "delivered-to", "subject":
		c.hash(k, value)
	case "date":
		c.date = append([]byte{}, value...)
	case "message-id":
		c.messageID = append([]byte{}, value...)
	}
}

// Done is called with the offset of the first body byte after the header has
// been read. If SetReadLimit is set and a Content-Length was found, the stream
// is limited to the declared end of the body.
func (c *HeaderContext) Done(headerEnd int64) {
	c.HeaderEnd = headerEnd
	if c.SetReadLimit && c.ContentLength >= 0 && c.stream != nil {
		c.stream.SetLimit(headerEnd + c.ContentLength)
		c.limitedSet = true
	}
}

// Digest returns the fingerprint of the message. No more fields must be passed
// after calling Digest.
func (c *HeaderContext) Digest() []byte {
	if c.digest == nil {
		if !c.received {
			if c.date != nil {
				c.hash("date", c.date)
			}
			if c.messageID != nil {
				c.hash("message-id", c.messageID)
			}
		}
		c.digest = c.md5.Sum(nil)
	}
	return c.digest
}

// Free releases the context, removing a read limit set on the stream.
func (c *HeaderContext) Free() {
	if c.limitedSet {
		c.stream.SetLimit(-1)
		c.limitedSet = false
	}
	c.stream = nil
	c.table = nil
}
