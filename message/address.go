// Package message parses message headers for indexing: RFC 822 tokens,
// address lists with groups and envelopes, and RFC 2047 encoded words.
package message

import (
	"fmt"
	"strings"

	"github.com/mjl-/mboxstore/mbxio"
)

// AddressKind distinguishes addresses from the markers around group members.
type AddressKind int

const (
	AddressPlain      AddressKind = iota
	AddressGroupStart             // Only Name is set, the group name.
	AddressGroupEnd               // No fields are set.
)

func (k AddressKind) String() string {
	switch k {
	case AddressPlain:
		return "plain"
	case AddressGroupStart:
		return "groupstart"
	case AddressGroupEnd:
		return "groupend"
	}
	return fmt.Sprintf("AddressKind(%d)", int(k))
}

// Address is an entry in an address list header field. Empty fields are
// absent.
type Address struct {
	Kind    AddressKind
	Name    string // Display name, from phrase or comment. Can be RFC 2047-encoded, see DecodedName.
	Mailbox string // Localpart.
	Domain  string
	Route   string // Obsolete source route, e.g. "@a,@b".
}

// DecodedName returns the display name with RFC 2047 encoded-words decoded.
// The raw name is returned if decoding fails.
func (a Address) DecodedName() string {
	if s, err := wordDecoder.DecodeHeader(a.Name); err == nil {
		return s
	}
	return a.Name
}

// String returns the address in a form for display.
func (a Address) String() string {
	switch a.Kind {
	case AddressGroupStart:
		return a.Name + ":"
	case AddressGroupEnd:
		return ";"
	}
	addr := a.Mailbox
	if a.Domain != "" {
		addr += "@" + a.Domain
	}
	if a.Route != "" {
		addr = a.Route + ":" + addr
	}
	if a.Name == "" && a.Route == "" {
		return addr
	}
	name := a.Name
	if name != "" && strings.ContainsAny(name, specials) {
		name = `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(name) + `"`
	}
	if name == "" {
		return "<" + addr + ">"
	}
	return name + " <" + addr + ">"
}

var (
	stopInit         = []Token{',', '@', '<', ':'}
	stopGroup        = []Token{',', '@', '<', ';'}
	stopDomain       = []Token{',', '<'}
	stopDomainGroup  = []Token{',', '<', ';'}
	stopPostAddr     = []Token{','}
	stopPostAddrGrp  = []Token{',', ';'}
	stopAddrRoute    = []Token{':', '>'}
	stopAddrMailbox  = []Token{'@', '>'}
	stopAddrDomain   = []Token{'>'}
	addressBufpool   = mbxio.NewBufpool(16, 256)
)

const tokenMismatch = "address parser: token %q not expected with stop tokens %q"

// ParseAddressList parses the value of an address list header field, such as
// To or Cc, into addresses. Three forms are recognized:
//
//	name <@route:mailbox@domain>, ...
//	mailbox@domain (name), ...
//	group: name <mailbox@domain>, mailbox2@domain2 (name2), ... ;, ...
//
// A group is returned as a group start entry with the group name, its member
// addresses and a group end entry. Parsing never fails: malformed input
// results in addresses with fewer fields set. An empty value results in no
// addresses.
func ParseAddressList(value []byte) []Address {
	if len(value) == 0 {
		return nil
	}

	arena := addressBufpool.Arena()
	defer arena.Release()
	mailbox := arena.Buf()
	domain := arena.Buf()
	route := arena.Buf()
	name := arena.Buf()
	comment := arena.Buf()

	var l []Address
	t := NewTokenizer(value)
	ingroup := false
	stop := stopInit
	next := mailbox // Buffer receiving the next phrase.
	for {
		var n int
		if next == name && len(*name) > 0 {
			// Continuing a name, separate with a space.
			*name = append(*name, ' ')
			n = len(*name)
		}
		t.GetString(next, comment, stop)
		if next == name && n > 0 && n == len(*name) {
			// Nothing added, remove the space again.
			*name = (*name)[:n-1]
		}

		switch tok := t.Token(); tok {
		case TokenEOF, ',', ';':
			if len(*mailbox) > 0 || len(*domain) > 0 || len(*route) > 0 || len(*name) > 0 {
				a := Address{
					Kind:    AddressPlain,
					Mailbox: string(*mailbox),
					Domain:  string(*domain),
					Route:   string(*route),
				}
				if next == name {
					a.Name = string(*name)
				} else {
					a.Name = string(*comment)
				}
				l = append(l, a)
			}
			if ingroup && tok == ';' {
				ingroup = false
				l = append(l, Address{Kind: AddressGroupEnd})
			}
			if tok == TokenEOF {
				if ingroup {
					l = append(l, Address{Kind: AddressGroupEnd})
				}
				return l
			}

			if ingroup {
				stop = stopGroup
			} else {
				stop = stopInit
			}
			*mailbox = (*mailbox)[:0]
			*domain = (*domain)[:0]
			*route = (*route)[:0]
			*name = (*name)[:0]
			*comment = (*comment)[:0]
			next = mailbox

		case '@':
			next = domain
			if ingroup {
				stop = stopDomainGroup
			} else {
				stop = stopDomain
			}

		case '<':
			// What we read so far was the display name.
			*name = append(*name, *mailbox...)
			*mailbox = (*mailbox)[:0]
			if len(*domain) > 0 {
				*name = append(*name, '@')
				*name = append(*name, *domain...)
				*domain = (*domain)[:0]
			}

			t.GetString(mailbox, nil, stopAddrMailbox)
			if t.Token() == '@' && len(*mailbox) == 0 {
				// Source route, up to the colon.
				*route = append(*route, '@')
				t.GetString(route, nil, stopAddrRoute)
				if t.Token() == ':' {
					t.GetString(mailbox, nil, stopAddrMailbox)
				}
			}
			if t.Token() == '@' {
				t.GetString(domain, nil, stopAddrDomain)
			}
			if tok := t.Token(); tok != '>' && tok != TokenEOF {
				panic(fmt.Sprintf(tokenMismatch, tok, stopAddrDomain))
			}

			next = name
			if ingroup {
				stop = stopPostAddrGrp
			} else {
				stop = stopPostAddr
			}

		case ':':
			l = append(l, Address{Kind: AddressGroupStart, Name: string(*mailbox)})
			*mailbox = (*mailbox)[:0]
			*comment = (*comment)[:0]
			ingroup = true
			stop = stopGroup

		default:
			// GetString only returns at a stop token or the end.
			panic(fmt.Sprintf(tokenMismatch, tok, stop))
		}
	}
}
