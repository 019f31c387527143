package message

import (
	"bufio"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseEnvelope(t *testing.T) {
	header := strings.Join([]string{
		`From: "Jane Doe" <jane@example.org>`,
		"To: a@b.com, g: c@d.com;",
		"Cc: =?utf-8?q?J=C3=B6rg?= <j@example.org>",
		"Cc: k@example.org",
		"Subject: =?utf-8?q?hi_there?=",
		"Date: Mon, 02 Jan 2006 15:04:05 +0000",
		"Message-ID: <1@example.org>",
		"In-Reply-To: <0@example.org>",
		"X-Other: ignored",
		"",
		"",
	}, "\n")
	env, err := ParseEnvelope([]byte(header))
	tcheck(t, err, "parse envelope")
	tcompare(t, env.Date.Unix(), time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC).Unix())
	tcompare(t, env.Subject, "hi there")
	tcompare(t, env.From, []Address{plain("Jane Doe", "jane", "example.org")})
	tcompare(t, env.To, []Address{
		plain("", "a", "b.com"),
		{Kind: AddressGroupStart, Name: "g"},
		plain("", "c", "d.com"),
		{Kind: AddressGroupEnd},
	})
	tcompare(t, len(env.CC), 2)
	tcompare(t, env.CC[0].DecodedName(), "Jörg")
	tcompare(t, env.CC[1], plain("", "k", "example.org"))
	tcompare(t, env.Sender, []Address(nil))
	tcompare(t, env.ReplyTo, []Address(nil))
	tcompare(t, env.BCC, []Address(nil))
	tcompare(t, env.MessageID, "<1@example.org>")
	tcompare(t, env.InReplyTo, "<0@example.org>")

	env, err = ParseEnvelope(nil)
	tcheck(t, err, "parse empty envelope")
	tcompare(t, env, Envelope{})
}

func TestReadHeaders(t *testing.T) {
	check := func(msg, exp string, expErr error) {
		t.Helper()
		buf, err := ReadHeaders(bufio.NewReader(strings.NewReader(msg)))
		if !errors.Is(err, expErr) {
			t.Fatalf("got err %v, expected %v", err, expErr)
		}
		tcompare(t, string(buf), exp)
	}
	check("A: b\n\nbody", "A: b\n\n", nil)
	check("A: b\r\n\r\nbody\r\n", "A: b\r\n\r\n", nil)
	check("\nbody", "\n", nil)
	check("A: b\n", "A: b\n", ErrHeaderSeparator)
}

func TestHeaderWriter(t *testing.T) {
	hw := &HeaderWriter{LineEnd: "\r\n"}
	hw.Add("", "X-Keywords:")
	hw.Add(" ", "a", "b")
	tcompare(t, hw.String(), "X-Keywords: a b\r\n")

	hw = &HeaderWriter{}
	hw.Add("", "X:")
	hw.Add(" ", strings.Repeat("a", 40), strings.Repeat("b", 40))
	tcompare(t, hw.String(), "X: "+strings.Repeat("a", 40)+"\n\t"+strings.Repeat("b", 40)+"\n")
}
