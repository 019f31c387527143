package message

import (
	"fmt"
	"strings"
)

// HeaderWriter helps create headers, folding to the next line when it would
// become too large. Useful for creating X-Keywords headers with many keywords.
type HeaderWriter struct {
	// Line ending, "\n" if empty. Mbox files use bare newlines.
	LineEnd string

	b        *strings.Builder
	lineLen  int
	nonfirst bool
}

func (w *HeaderWriter) lineEnd() string {
	if w.LineEnd == "" {
		return "\n"
	}
	return w.LineEnd
}

// Addf formats the string and calls Add.
func (w *HeaderWriter) Addf(separator string, format string, args ...any) {
	w.Add(separator, fmt.Sprintf(format, args...))
}

// Add adds texts, each separated by separator. Individual elements in text are
// not wrapped.
func (w *HeaderWriter) Add(separator string, texts ...string) {
	if w.b == nil {
		w.b = &strings.Builder{}
	}
	for _, text := range texts {
		n := len(text)
		if w.nonfirst && w.lineLen > 1 && w.lineLen+len(separator)+n > 78 {
			w.b.WriteString(strings.TrimRight(separator, " "))
			w.b.WriteString(w.lineEnd() + "\t")
			w.lineLen = 1
		} else if w.nonfirst && separator != "" {
			w.b.WriteString(separator)
			w.lineLen += len(separator)
		}
		w.b.WriteString(text)
		w.lineLen += len(text)
		w.nonfirst = true
	}
}

// String returns the header in string form, ending with the line ending.
func (w *HeaderWriter) String() string {
	if w.b == nil {
		return ""
	}
	return w.b.String() + w.lineEnd()
}
