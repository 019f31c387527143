package mbox

import (
	"bytes"
	"io"
)

func isBlankLine(line []byte) bool {
	return len(line) == 1 && line[0] == '\n' || len(line) == 2 && line[0] == '\r' && line[1] == '\n'
}

// SkipCRLF consumes a single line ending, "\n" or "\r\n", if present.
func SkipCRLF(s *Stream) bool {
	buf := s.Peek(2)
	n := 0
	if len(buf) >= 1 && buf[0] == '\n' {
		n = 1
	} else if len(buf) == 2 && buf[0] == '\r' && buf[1] == '\n' {
		n = 2
	}
	if n == 0 {
		return false
	}
	s.Discard(int64(n))
	return true
}

// SkipEmptyLines consumes empty lines, as found at the start of some mbox
// files.
func SkipEmptyLines(s *Stream) {
	for SkipCRLF(s) {
	}
}

// SkipHeader consumes the message header, including the blank line separating
// header and body. False is returned if no blank line was found, the stream is
// then positioned at the first line that is not a header line.
func SkipHeader(s *Stream) bool {
	_, found, _ := ReadHeader(s, nil)
	return found
}

// SkipMessage consumes the body of a message, up to the next "From " line or
// the end of the stream. The size of the separator, the blank line just before
// the next message, is returned. It is part of the consumed data.
func SkipMessage(s *Stream) (sepSize int64, err error) {
	for {
		if IsFromLine(s.Peek(len(fromPrefix))) {
			return sepSize, nil
		}
		line, err := s.ReadLine()
		if err == io.EOF {
			return sepSize, nil
		} else if err != nil {
			return 0, err
		}
		if isBlankLine(line) {
			sepSize = int64(len(line))
		} else {
			sepSize = 0
		}
	}
}

// VerifyEndOfBody checks that a message body ends at offset end: the end of
// the file is at end, or a line ending followed by either the end of the file
// or a "From " line. The size of the line ending is returned as separator
// size. A "From " line directly at end is also accepted, with separator size
// 0. The stream is left positioned at end.
func VerifyEndOfBody(s *Stream, end int64) (sepSize int64, ok bool) {
	if end > s.Size() || end < 0 {
		return 0, false
	}
	s.SetOffset(end)
	buf := s.Peek(2 + len(fromPrefix))
	if len(buf) == 0 {
		return 0, true
	}
	if bytes.HasPrefix(buf, []byte("\r\n")) {
		sepSize = 2
	} else if buf[0] == '\n' {
		sepSize = 1
	}
	rest := buf[sepSize:]
	if sepSize > 0 && len(rest) == 0 {
		return sepSize, true
	}
	if IsFromLine(rest) {
		return sepSize, true
	}
	return 0, false
}
