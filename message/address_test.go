package message

import (
	"reflect"
	"testing"
)

func tcheck(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %s", msg, err)
	}
}

func tcompare(t *testing.T, got, exp any) {
	t.Helper()
	if !reflect.DeepEqual(got, exp) {
		t.Fatalf("got:\n%#v\nexpected:\n%#v", got, exp)
	}
}

func plain(name, mailbox, domain string) Address {
	return Address{Kind: AddressPlain, Name: name, Mailbox: mailbox, Domain: domain}
}

func TestParseAddressList(t *testing.T) {
	groupStart := func(name string) Address {
		return Address{Kind: AddressGroupStart, Name: name}
	}
	groupEnd := Address{Kind: AddressGroupEnd}

	check := func(s string, exp []Address) {
		t.Helper()
		got := ParseAddressList([]byte(s))
		if !reflect.DeepEqual(got, exp) {
			t.Fatalf("parsing %q:\ngot      %#v\nexpected %#v", s, got, exp)
		}
	}

	check("", nil)
	check("a@b.com", []Address{plain("", "a", "b.com")})
	check("A <a@b.com>", []Address{plain("A", "a", "b.com")})
	check("a@b.com (A)", []Address{plain("A", "a", "b.com")})
	check("g: a@b.com, c@d.com;", []Address{groupStart("g"), plain("", "a", "b.com"), plain("", "c", "d.com"), groupEnd})

	check(`"Doe, John" <john@example.org>, jane@example.org`, []Address{plain("Doe, John", "john", "example.org"), plain("", "jane", "example.org")})
	check("John Doe <jd@example.org>", []Address{plain("John Doe", "jd", "example.org")})
	check("A <a@b.com> (comment)", []Address{plain("A", "a", "b.com")})
	check("a@b.com (x) (y)", []Address{plain("x y", "a", "b.com")})
	check("a@[1.2.3.4]", []Address{plain("", "a", "[1.2.3.4]")})
	check(`"a b"@c.com`, []Address{plain("", "a b", "c.com")})
	check("a@b.com,,c@d.com", []Address{plain("", "a", "b.com"), plain("", "c", "d.com")})
	check("a@b <c@d>", []Address{plain("a@b", "c", "d")})
	check("just-a-name", []Address{plain("", "just-a-name", "")})

	// Source route.
	check("<@route1,@route2:user@example.org>", []Address{{Kind: AddressPlain, Mailbox: "user", Domain: "example.org", Route: "@route1,@route2"}})

	// Groups, empty and unterminated.
	check("undisclosed-recipients:;", []Address{groupStart("undisclosed-recipients"), groupEnd})
	check("g: a@b.com", []Address{groupStart("g"), plain("", "a", "b.com"), groupEnd})
	check("g: A <a@b.com>; c@d.com", []Address{groupStart("g"), plain("A", "a", "b.com"), groupEnd, plain("", "c", "d.com")})

	// Malformed input does not cause a panic.
	for _, s := range []string{"<<>>", "<", ">", "@", ":", ";", "a@", "(unterminated", `"unterminated`, "a <b@c", "g: <@:>;;", "\\"} {
		ParseAddressList([]byte(s))
	}
}

func TestAddressString(t *testing.T) {
	tcompare(t, plain("", "a", "b.com").String(), "a@b.com")
	tcompare(t, plain("A", "a", "b.com").String(), "A <a@b.com>")
	tcompare(t, plain("Doe, John", "john", "example.org").String(), `"Doe, John" <john@example.org>`)
	tcompare(t, Address{Kind: AddressPlain, Mailbox: "a", Domain: "b", Route: "@r"}.String(), "<@r:a@b>")
	tcompare(t, Address{Kind: AddressGroupStart, Name: "g"}.String(), "g:")
	tcompare(t, Address{Kind: AddressGroupEnd}.String(), ";")
	tcompare(t, AddressGroupEnd.String(), "groupend")
}

func TestAddressDecodedName(t *testing.T) {
	l := ParseAddressList([]byte("=?utf-8?q?J=C3=B6rg?= <j@example.org>"))
	tcompare(t, len(l), 1)
	tcompare(t, l[0].Name, "=?utf-8?q?J=C3=B6rg?=")
	tcompare(t, l[0].DecodedName(), "Jörg")
}
