package mbox

import (
	"strings"

	"golang.org/x/exp/slices"

	"github.com/mjl-/mboxstore/mlog"
)

// CustomFlags is the table of custom flag (keyword) names of a mailbox. The
// index of a name in the table is its bit position in Flags, see CustomFlag.
// Names are only added, up to MaxCustomFlags. Names are compared
// case-insensitively, the first spelling seen is kept.
type CustomFlags struct {
	names []string
}

// NewCustomFlags returns a table with names, as stored earlier. Invalid names
// and names beyond the capacity are ignored.
func NewCustomFlags(names []string) *CustomFlags {
	t := &CustomFlags{}
	for _, name := range names {
		t.Ensure(name)
	}
	return t
}

// Lookup returns the index of name.
func (t *CustomFlags) Lookup(name string) (int, bool) {
	i := slices.IndexFunc(t.names, func(s string) bool {
		return strings.EqualFold(s, name)
	})
	return i, i >= 0
}

// Ensure returns the index of name, adding it to the table if needed. False is
// returned if the name is not a valid keyword or the table is full.
func (t *CustomFlags) Ensure(name string) (int, bool) {
	if i, ok := t.Lookup(name); ok {
		return i, true
	}
	if !ValidKeyword(name) || len(t.names) >= MaxCustomFlags {
		return -1, false
	}
	t.names = append(t.names, name)
	return len(t.names) - 1, true
}

// Name returns the name for the custom flag at index, or the empty string.
func (t *CustomFlags) Name(index int) string {
	if index < 0 || index >= len(t.names) {
		return ""
	}
	return t.names[index]
}

// Names returns a copy of the names in the table, in bit order.
func (t *CustomFlags) Names() []string {
	return slices.Clone(t.names)
}

func (t *CustomFlags) Len() int {
	return len(t.names)
}

// FlagNames returns the names of the custom flags set in f.
func (t *CustomFlags) FlagNames(f Flags) []string {
	var l []string
	for _, i := range f.Custom() {
		if name := t.Name(i); name != "" {
			l = append(l, name)
		}
	}
	return l
}

// ValidKeyword returns whether s can be used as custom flag: a non-empty IMAP
// atom that is not a system flag.
func ValidKeyword(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c <= ' ' || c >= 0x7f || strings.ContainsRune(`(){%*"\]`, c) {
			return false
		}
	}
	return true
}

// ParseKeywords parses a keyword list as found in the X-Keywords header. Words
// are separated by whitespace and/or commas. For each word, the custom flag
// index is looked up or allocated in table, and fn is called with the index.
// Words that are not valid keywords or do not fit in the table are ignored.
func ParseKeywords(value []byte, table *CustomFlags, fn func(index int)) {
	words := strings.FieldsFunc(string(value), func(c rune) bool {
		return c == ',' || c == ' ' || c == '\t' || c == '\r' || c == '\n'
	})
	for _, w := range words {
		if i, ok := table.Ensure(w); ok {
			fn(i)
		} else {
			xlog.Trace("ignoring keyword", mlog.Field("keyword", w))
		}
	}
}
