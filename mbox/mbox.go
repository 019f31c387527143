// Package mbox parses and creates files in the mbox format.
//
// An mbox file is a concatenation of messages. Each message starts with a
// "From " line at column 0, holding the envelope sender and a timestamp,
// followed by the message header, a blank line and the body. A message ends
// at the next "From " line or the end of the file. The blank line before a
// "From " line is the separator of the previous message.
//
// The functions in this package operate on a Stream, a buffered view of the
// file that can be repositioned at message boundaries. Messages are parsed
// with Scan. The Content-Length header, when present and consistent with the
// file, is used to find the end of a message without looking at its body.
package mbox

import (
	"errors"
	"fmt"

	"github.com/mjl-/mboxstore/mlog"
)

var xlog = mlog.New("mbox")

var (
	// ErrCorrupt is matched by all framing errors, see CorruptError.
	ErrCorrupt = errors.New("mbox framing corrupt")

	// ErrNoFromLine is returned when a message is expected but the data does not
	// start with a "From " line.
	ErrNoFromLine = errors.New(`no "From " line`)
)

// CorruptError describes framing corruption at an offset in the file, such as
// a message body that does not end where it is declared to end.
type CorruptError struct {
	Offset int64
	Reason string
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("mbox framing corrupt at offset %d: %s", e.Offset, e.Reason)
}

// Is makes errors.Is(err, ErrCorrupt) match.
func (e *CorruptError) Is(target error) bool {
	return target == ErrCorrupt
}
