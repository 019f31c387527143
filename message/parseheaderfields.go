package message

import (
	"bytes"
	"fmt"
	"net/mail"
	"net/textproto"
)

// ParseHeaderFields parses only the header fields in "fields" from the complete
// header buffer "header", while using "scratch" as temporary space, prevent lots
// of unneeded allocations when only a few headers are needed. Lines can end in
// a bare newline, as in mbox files, or crlf.
func ParseHeaderFields(header []byte, scratch []byte, fields [][]byte) (textproto.MIMEHeader, error) {
	// Gather the raw lines for the fields, with continuations, without the other
	// headers. Put them in a byte slice and only parse those headers.
	scratch = scratch[:0]
	var keepcontinuation bool
	for len(header) > 0 {
		if header[0] == ' ' || header[0] == '\t' {
			// Continuation.
			i := bytes.IndexByte(header, '\n')
			if i < 0 {
				i = len(header)
			} else {
				i++
			}
			if keepcontinuation {
				scratch = append(scratch, header[:i]...)
			}
			header = header[i:]
			continue
		}
		i := bytes.IndexByte(header, ':')
		if i < 0 || i > 0 && (header[i-1] == ' ' || header[i-1] == '\t') {
			i = bytes.IndexByte(header, '\n')
			if i < 0 {
				break
			}
			header = header[i+1:]
			keepcontinuation = false
			continue
		}
		k := header[:i]
		keepcontinuation = false
		for _, f := range fields {
			if bytes.EqualFold(k, f) {
				keepcontinuation = true
				break
			}
		}
		i = bytes.IndexByte(header, '\n')
		if i < 0 {
			i = len(header)
		} else {
			i++
		}
		if keepcontinuation {
			scratch = append(scratch, header[:i]...)
			if i == len(header) && header[i-1] != '\n' {
				scratch = append(scratch, '\n')
			}
		}
		header = header[i:]
	}

	if len(scratch) == 0 {
		return nil, nil
	}

	scratch = append(scratch, '\n')

	msg, err := mail.ReadMessage(bytes.NewReader(scratch))
	if err != nil {
		return nil, fmt.Errorf("reading message header: %v", err)
	}
	return textproto.MIMEHeader(msg.Header), nil
}
