package message

import (
	"net/mail"
	"strings"
	"time"

	"github.com/mjl-/mboxstore/mbxio"
)

// Envelope holds the basic/common message headers, with addresses parsed by
// ParseAddressList. The address fields keep group markers.
type Envelope struct {
	Date      time.Time
	Subject   string // Decoded.
	From      []Address
	Sender    []Address
	ReplyTo   []Address
	To        []Address
	CC        []Address
	BCC       []Address
	InReplyTo string
	MessageID string
}

var envelopeFields = [][]byte{
	[]byte("Date"),
	[]byte("Subject"),
	[]byte("From"),
	[]byte("Sender"),
	[]byte("Reply-To"),
	[]byte("To"),
	[]byte("Cc"),
	[]byte("Bcc"),
	[]byte("In-Reply-To"),
	[]byte("Message-Id"),
}

var headerBufpool = mbxio.NewBufpool(8, 4*1024)

// ParseEnvelope parses the envelope fields from a message header.
func ParseEnvelope(header []byte) (Envelope, error) {
	scratch := headerBufpool.Get()
	defer headerBufpool.Put(scratch)

	h, err := ParseHeaderFields(header, scratch, envelopeFields)
	if err != nil {
		return Envelope{}, err
	}
	get := func(k string) string {
		return strings.TrimSpace(h.Get(k))
	}
	addrs := func(k string) []Address {
		// Multiple fields are combined, as if they were a single list.
		l := h.Values(k)
		if len(l) == 0 {
			return nil
		}
		return ParseAddressList([]byte(strings.Join(l, ", ")))
	}

	var date time.Time
	if s := get("Date"); s != "" {
		date, _ = mail.ParseDate(s)
	}
	env := Envelope{
		Date:      date,
		Subject:   DecodeHeader(get("Subject")),
		From:      addrs("From"),
		Sender:    addrs("Sender"),
		ReplyTo:   addrs("Reply-To"),
		To:        addrs("To"),
		CC:        addrs("Cc"),
		BCC:       addrs("Bcc"),
		InReplyTo: get("In-Reply-To"),
		MessageID: get("Message-Id"),
	}
	return env, nil
}
