package message

// Token is the kind of an RFC 822 lexical token. Specials are represented by
// their own byte value, e.g. '<' and ','.
type Token byte

const (
	TokenEOF      Token = 0
	TokenAtom     Token = 'A'
	TokenQString  Token = '"' // Value is the string without quotes, still escaped.
	TokenDLiteral Token = '[' // Value is the literal without brackets.
	TokenComment  Token = '(' // Value is the comment without outer parentheses.
)

// Specials that are returned as their own token. The opening characters of
// quoted strings, domain literals and comments start those tokens instead.
const specials = "()<>@,;:\\\".[]"

func isSpecial(c byte) bool {
	for i := 0; i < len(specials); i++ {
		if specials[i] == c {
			return true
		}
	}
	return false
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

// Tokenizer splits an RFC 822 structured header value into tokens. White space
// between tokens is skipped. Unterminated quoted strings, domain literals and
// comments end at the end of the data.
type Tokenizer struct {
	// If set, comments are skipped instead of returned as TokenComment.
	SkipComments bool

	data  []byte
	pos   int
	token Token
	value []byte
}

func NewTokenizer(data []byte) *Tokenizer {
	return &Tokenizer{data: data}
}

// Token returns the current token, as returned by the last call to Next.
func (t *Tokenizer) Token() Token {
	return t.token
}

// Value returns the text of the current atom, quoted string, domain literal or
// comment token.
func (t *Tokenizer) Value() []byte {
	return t.value
}

// Next moves to the next token and returns it. At the end of the data,
// TokenEOF is returned.
func (t *Tokenizer) Next() Token {
	for {
		for t.pos < len(t.data) && isSpace(t.data[t.pos]) {
			t.pos++
		}
		if t.pos >= len(t.data) {
			t.token, t.value = TokenEOF, nil
			return t.token
		}

		c := t.data[t.pos]
		switch c {
		case '(':
			t.token, t.value = TokenComment, t.comment()
			if t.SkipComments {
				continue
			}
		case '"':
			t.token, t.value = TokenQString, t.delimited('"')
		case '[':
			t.token, t.value = TokenDLiteral, t.delimited(']')
		default:
			if isSpecial(c) {
				t.pos++
				t.token, t.value = Token(c), nil
			} else {
				start := t.pos
				for t.pos < len(t.data) && !isSpecial(t.data[t.pos]) && !isSpace(t.data[t.pos]) {
					t.pos++
				}
				t.token, t.value = TokenAtom, t.data[start:t.pos]
			}
		}
		return t.token
	}
}

// comment reads a comment, allowing nested comments and quoted pairs.
func (t *Tokenizer) comment() []byte {
	t.pos++
	start := t.pos
	depth := 1
	for t.pos < len(t.data) {
		switch t.data[t.pos] {
		case '\\':
			t.pos++
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				v := t.data[start:t.pos]
				t.pos++
				return v
			}
		}
		t.pos++
	}
	t.pos = len(t.data)
	return t.data[start:]
}

// delimited reads a quoted string or domain literal up to end, allowing quoted
// pairs.
func (t *Tokenizer) delimited(end byte) []byte {
	t.pos++
	start := t.pos
	for t.pos < len(t.data) {
		switch t.data[t.pos] {
		case '\\':
			t.pos++
		case end:
			v := t.data[start:t.pos]
			t.pos++
			return v
		}
		t.pos++
	}
	t.pos = len(t.data)
	return t.data[start:]
}

func appendUnescaped(dst, v []byte) []byte {
	for i := 0; i < len(v); i++ {
		if v[i] == '\\' && i+1 < len(v) {
			i++
		}
		dst = append(dst, v[i])
	}
	return dst
}

// GetString reads tokens and appends their text to dst, until one of the stop
// tokens or the end of data is reached. The stop token remains the current
// token. Atoms, quoted strings and domain literals are separated by a single
// space, specials are appended as-is. Quoted strings are unescaped, domain
// literals keep their brackets. Comments are appended to comments (separated
// by a space) if it is not nil, and dropped otherwise.
func (t *Tokenizer) GetString(dst, comments *[]byte, stop []Token) {
	lastString := false
	for {
		tok := t.Next()
		if tok == TokenEOF {
			return
		}
		for _, st := range stop {
			if tok == st {
				return
			}
		}

		switch tok {
		case TokenComment:
			if comments != nil {
				if len(*comments) > 0 {
					*comments = append(*comments, ' ')
				}
				*comments = appendUnescaped(*comments, t.value)
			}
			continue
		case TokenQString:
			if lastString {
				*dst = append(*dst, ' ')
			}
			*dst = appendUnescaped(*dst, t.value)
		case TokenAtom:
			if lastString {
				*dst = append(*dst, ' ')
			}
			*dst = append(*dst, t.value...)
		case TokenDLiteral:
			if lastString {
				*dst = append(*dst, ' ')
			}
			*dst = append(*dst, '[')
			*dst = append(*dst, t.value...)
			*dst = append(*dst, ']')
		default:
			*dst = append(*dst, byte(tok))
		}
		lastString = tok == TokenAtom || tok == TokenQString || tok == TokenDLiteral
	}
}
