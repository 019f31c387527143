package message

import (
	"fmt"
	"io"
	"mime"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

func charsetEncoding(charset string) encoding.Encoding {
	enc, _ := ianaindex.MIME.Encoding(charset)
	if enc == nil {
		enc, _ = ianaindex.IANA.Encoding(charset)
	}
	return enc
}

// Decodes RFC 2047 encoded-words in display names and subjects.
var wordDecoder = mime.WordDecoder{
	CharsetReader: func(charset string, r io.Reader) (io.Reader, error) {
		switch strings.ToLower(charset) {
		case "", "us-ascii", "utf-8":
			return r, nil
		}
		enc := charsetEncoding(charset)
		if enc == nil {
			return r, fmt.Errorf("unknown charset %q", charset)
		}
		return enc.NewDecoder().Reader(r), nil
	},
}

// DecodeHeader decodes RFC 2047 encoded-words in s. The input is returned if
// it cannot be decoded.
func DecodeHeader(s string) string {
	if ds, err := wordDecoder.DecodeHeader(s); err == nil {
		return ds
	}
	return s
}
