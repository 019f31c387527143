package mbox

import (
	"strconv"
	"strings"
)

// Flags is a bitmask of system flags and custom flags. Custom flags are
// identified by their index in a CustomFlags table.
type Flags uint32

const (
	FlagSeen Flags = 1 << iota
	FlagAnswered
	FlagFlagged
	FlagDeleted
	FlagDraft
	FlagRecent
)

const customShift = 6

// FlagsSystem is the mask with all system flags.
const FlagsSystem Flags = 1<<customShift - 1

// MaxCustomFlags is the capacity of a CustomFlags table.
const MaxCustomFlags = 32 - customShift

var systemNames = []struct {
	flag Flags
	name string
}{
	{FlagSeen, "seen"},
	{FlagAnswered, "answered"},
	{FlagFlagged, "flagged"},
	{FlagDeleted, "deleted"},
	{FlagDraft, "draft"},
	{FlagRecent, "recent"},
}

// CustomFlag returns the flag for the custom flag at index in its table.
func CustomFlag(index int) Flags {
	if index < 0 || index >= MaxCustomFlags {
		panic("custom flag index out of range")
	}
	return 1 << (customShift + index)
}

// Has returns whether all flags in mask are set.
func (f Flags) Has(mask Flags) bool {
	return f&mask == mask
}

// Set returns a copy of f with flags in mask set to their value in flags.
func (f Flags) Set(mask, flags Flags) Flags {
	return f&^mask | flags&mask
}

// Custom returns the indices of the custom flags set.
func (f Flags) Custom() []int {
	var l []int
	for i := 0; i < MaxCustomFlags; i++ {
		if f&CustomFlag(i) != 0 {
			l = append(l, i)
		}
	}
	return l
}

// String returns the set system flags and custom flag indices, for logging.
func (f Flags) String() string {
	var l []string
	for _, sn := range systemNames {
		if f&sn.flag != 0 {
			l = append(l, sn.name)
		}
	}
	for _, i := range f.Custom() {
		l = append(l, "custom"+strconv.Itoa(i))
	}
	return strings.Join(l, ",")
}
