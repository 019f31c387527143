package message

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

var ErrHeaderSeparator = errors.New("no header separator found")

// ReadHeaders returns the header of a message, including the blank line that
// separates header and body. Both bare newlines and crlf are accepted as line
// endings. Returns ErrHeaderSeparator if no header separator is found, along
// with the data read.
func ReadHeaders(msg *bufio.Reader) ([]byte, error) {
	buf := []byte{}
	for {
		line, err := msg.ReadBytes('\n')
		if err != io.EOF && err != nil {
			return nil, err
		}
		// A message can start with an empty line, meaning it has no header.
		if len(buf) == 0 && (bytes.Equal(line, []byte("\n")) || bytes.Equal(line, []byte("\r\n"))) {
			return line, nil
		}
		buf = append(buf, line...)
		if bytes.HasSuffix(buf, []byte("\n\n")) || bytes.HasSuffix(buf, []byte("\n\r\n")) {
			return buf, nil
		}
		if err == io.EOF {
			return buf, ErrHeaderSeparator
		}
	}
}
