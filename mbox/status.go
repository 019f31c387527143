package mbox

import (
	"bytes"

	"github.com/mjl-/mboxstore/message"
)

var statusFields = [][]byte{[]byte("Status"), []byte("X-Status"), []byte("X-Keywords")}

// StatusHeaders returns the Status, X-Status and X-Keywords header lines that
// represent flags, with custom flag names from table. Recent is not stored in
// headers.
func StatusHeaders(flags Flags, table *CustomFlags) []byte {
	return statusHeaders(flags, table, "\n")
}

func statusHeaders(flags Flags, table *CustomFlags, nl string) []byte {
	var b bytes.Buffer
	if flags&FlagSeen != 0 {
		b.WriteString("Status: RO" + nl)
	} else {
		b.WriteString("Status: O" + nl)
	}

	var xs string
	for _, c := range []struct {
		flag Flags
		ch   string
	}{{FlagAnswered, "A"}, {FlagFlagged, "F"}, {FlagDraft, "T"}, {FlagDeleted, "D"}} {
		if flags&c.flag != 0 {
			xs += c.ch
		}
	}
	if xs != "" {
		b.WriteString("X-Status: " + xs + nl)
	}

	if table != nil {
		if names := table.FlagNames(flags); len(names) > 0 {
			hw := &message.HeaderWriter{LineEnd: nl}
			hw.Add("", "X-Keywords:")
			hw.Add(" ", names...)
			b.WriteString(hw.String())
		}
	}
	return b.Bytes()
}

func isStatusField(line []byte) bool {
	i := bytes.IndexByte(line, ':')
	if i <= 0 {
		return false
	}
	name := bytes.TrimRight(line[:i], " \t")
	for _, f := range statusFields {
		if bytes.EqualFold(name, f) {
			return true
		}
	}
	return false
}

// SetStatusHeaders returns a copy of header, the header block of a message
// without "From " line, with its Status, X-Status and X-Keywords fields
// replaced by fields for flags. The new fields are added at the end of the
// header. The returned header always ends with a blank line. The line ending
// of the first line in header is used for the new lines.
func SetStatusHeaders(header []byte, flags Flags, table *CustomFlags) []byte {
	nl := "\n"
	if i := bytes.IndexByte(header, '\n'); i > 0 && header[i-1] == '\r' {
		nl = "\r\n"
	}

	out := make([]byte, 0, len(header)+64)
	skip := false
	for len(header) > 0 {
		var line []byte
		if i := bytes.IndexByte(header, '\n'); i >= 0 {
			line, header = header[:i+1], header[i+1:]
		} else {
			line, header = header, nil
		}
		if isBlankLine(line) {
			break
		}
		if line[0] == ' ' || line[0] == '\t' {
			if !skip {
				out = append(out, line...)
			}
			continue
		}
		skip = isStatusField(line)
		if !skip {
			out = append(out, line...)
		}
	}
	if len(out) > 0 && out[len(out)-1] != '\n' {
		out = append(out, nl...)
	}
	out = append(out, statusHeaders(flags, table, nl)...)
	out = append(out, nl...)
	return out
}
