package mbox

import (
	"bufio"
	"io"
)

// Stream is a buffered, seekable view of an mbox file for sequential reading.
// Reads can be limited to end before the end of the file, see SetLimit.
//
// Slices returned by Peek are only valid until the next call on the Stream.
type Stream struct {
	r     io.ReaderAt
	size  int64
	off   int64 // Offset of next byte returned.
	limit int64 // -1 when not limited.
	br    *bufio.Reader
}

// NewStream returns a stream reading from r, of which size bytes are readable.
// The stream starts at offset 0.
func NewStream(r io.ReaderAt, size int64) *Stream {
	s := &Stream{r: r, size: size, limit: -1}
	s.br = bufio.NewReaderSize(io.NewSectionReader(r, 0, size), 32*1024)
	return s
}

func (s *Stream) end() int64 {
	if s.limit >= 0 && s.limit < s.size {
		return s.limit
	}
	return s.size
}

func (s *Stream) reset() {
	n := s.end() - s.off
	if n < 0 {
		n = 0
	}
	s.br.Reset(io.NewSectionReader(s.r, s.off, n))
}

// SetOffset sets the offset for the next read.
func (s *Stream) SetOffset(off int64) {
	s.off = off
	s.reset()
}

// Offset returns the offset of the next byte to be read.
func (s *Stream) Offset() int64 {
	return s.off
}

// Size returns the size of the underlying file.
func (s *Stream) Size() int64 {
	return s.size
}

// SetLimit makes the stream return EOF at offset end. A negative end removes
// the limit.
func (s *Stream) SetLimit(end int64) {
	if end < 0 {
		end = -1
	}
	s.limit = end
	s.reset()
}

// EOF returns whether no more data can be read, either because the end of the
// file or the limit was reached.
func (s *Stream) EOF() bool {
	if s.off >= s.end() {
		return true
	}
	_, err := s.br.Peek(1)
	return err != nil
}

// Peek returns up to n bytes without consuming them. Fewer bytes are returned
// at the end of the stream.
func (s *Stream) Peek(n int) []byte {
	buf, _ := s.br.Peek(n)
	return buf
}

// ReadLine reads a line including its line ending. The last line of a file may
// not have a line ending. At the end of the stream, io.EOF is returned.
func (s *Stream) ReadLine() ([]byte, error) {
	var line []byte
	for {
		buf, err := s.br.ReadSlice('\n')
		s.off += int64(len(buf))
		line = append(line, buf...)
		if err == bufio.ErrBufferFull {
			continue
		}
		if err == io.EOF && len(line) > 0 {
			err = nil
		}
		return line, err
	}
}

// Read implements io.Reader.
func (s *Stream) Read(buf []byte) (int, error) {
	n, err := s.br.Read(buf)
	s.off += int64(n)
	return n, err
}

// Discard skips n bytes, returning the number of bytes skipped.
func (s *Stream) Discard(n int64) (int64, error) {
	var skipped int64
	for n > 0 {
		x := n
		if x > 1<<30 {
			x = 1 << 30
		}
		o, err := s.br.Discard(int(x))
		s.off += int64(o)
		skipped += int64(o)
		n -= int64(o)
		if err != nil {
			return skipped, err
		}
	}
	return skipped, nil
}
