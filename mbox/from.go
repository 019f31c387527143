package mbox

import (
	"bytes"
	"strings"
	"time"
)

var fromPrefix = []byte("From ")

// Layouts for the timestamp in a "From " line. The first is the asctime format
// written by most programs, the others have been seen in the wild.
var fromLayouts = []string{
	time.ANSIC,
	"Mon Jan _2 15:04:05 2006 -0700",
	"Mon Jan _2 15:04:05 2006 MST",
	"Mon Jan _2 15:04 2006",
	time.UnixDate,
	time.RubyDate,
}

// IsFromLine returns whether line starts a new message.
func IsFromLine(line []byte) bool {
	return bytes.HasPrefix(line, fromPrefix)
}

func fromFields(line []byte) (sender, date string) {
	s := strings.TrimRight(string(line), "\r\n")
	t := strings.SplitN(s, " ", 3)
	if len(t) < 2 || t[0] != "From" {
		return "", ""
	}
	if len(t) == 3 {
		date = strings.TrimSpace(t[2])
	}
	return t[1], date
}

// ParseFromDate parses the timestamp from a "From " line. Timestamps without
// time zone are in UTC.
func ParseFromDate(line []byte) (time.Time, bool) {
	_, date := fromFields(line)
	if date == "" {
		return time.Time{}, false
	}
	for _, l := range fromLayouts {
		if t, err := time.Parse(l, date); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FromSender returns the envelope sender from a "From " line.
func FromSender(line []byte) string {
	sender, _ := fromFields(line)
	return sender
}

// FromLine returns a "From " line for a message from sender, received at t,
// including line ending.
func FromLine(sender string, t time.Time) string {
	if sender == "" {
		sender = "MAILER-DAEMON"
	}
	return "From " + sender + " " + t.UTC().Format(time.ANSIC) + "\n"
}
