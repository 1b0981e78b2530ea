package parse

import (
	"strings"
)

// TokenKind identifies the type of a lexed token.
type TokenKind int

const (
	TokenText  TokenKind = iota // literal markup
	TokenSubst                  // ${expr} or {{=expr}}
	TokenMark                   // {{name content}} or {{/name}}
)

func (k TokenKind) String() string {
	switch k {
	case TokenText:
		return "text"
	case TokenSubst:
		return "subst"
	case TokenMark:
		return "mark"
	}
	return "unknown"
}

// Token is one lexical unit of a template. Pos and End are byte offsets into
// the source as given, before comments were removed.
type Token struct {
	Kind    TokenKind
	Val     string // raw text of the token
	Name    string // directive name, "=" for substitutions
	Content string // text after the name, up to the closing braces
	Close   bool   // true for {{/name}}
	Pos     int
	End     int
}

// stripped is comment-free template text with a map from each of its bytes
// back to the offset in the original source.
type stripped struct {
	text []byte
	pos  []int
}

func (s *stripped) add(c byte, pos int) {
	s.text = append(s.text, c)
	s.pos = append(s.pos, pos)
}

// offset maps an index into the stripped text to a source offset. An index at
// the end maps to the source length.
func (s *stripped) offset(i int, srcLen int) int {
	if i < len(s.pos) {
		return s.pos[i]
	}
	return srcLen
}

// stripHashComments removes non-nesting {# ... #} comments. An unterminated
// opener is left as text.
func stripHashComments(src string) *stripped {
	out := &stripped{text: make([]byte, 0, len(src)), pos: make([]int, 0, len(src))}
	for i := 0; i < len(src); {
		if strings.HasPrefix(src[i:], "{#") {
			if end := strings.Index(src[i+2:], "#}"); end >= 0 {
				i += 2 + end + 2
				continue
			}
		}
		out.add(src[i], i)
		i++
	}
	return out
}

// stripBangComments removes {{! ... }} comments. Inside a comment every "{{"
// opens another level and every "}}" closes one, so comments may contain
// whole directives. An unterminated comment runs to the end of the input.
func stripBangComments(in *stripped) *stripped {
	out := &stripped{text: make([]byte, 0, len(in.text)), pos: make([]int, 0, len(in.pos))}
	text := string(in.text)
	depth := 0
	for i := 0; i < len(text); {
		switch {
		case strings.HasPrefix(text[i:], "{{!"):
			depth++
			i += 3
		case strings.HasPrefix(text[i:], "{{"), strings.HasPrefix(text[i:], "}}"):
			if depth > 0 {
				if text[i] == '{' {
					depth++
				} else {
					depth--
				}
			} else {
				out.add(text[i], in.pos[i])
				out.add(text[i+1], in.pos[i+1])
			}
			i += 2
		default:
			if depth == 0 {
				out.add(text[i], in.pos[i])
			}
			i++
		}
	}
	return out
}

func isNameStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isNameChar(c byte) bool {
	return isNameStart(c) || c >= '0' && c <= '9'
}

// scanName returns the directive name at the start of s, if any.
func scanName(s string) string {
	if s == "" || !isNameStart(s[0]) {
		return ""
	}
	n := 1
	for n < len(s) && isNameChar(s[n]) {
		n++
	}
	return s[:n]
}

// scanMarker recognizes a substitution or directive marker at the start of
// s. It returns the token (without position) and its length in bytes.
func scanMarker(s string) (Token, bool) {
	if strings.HasPrefix(s, "${") {
		end := strings.IndexByte(s[2:], '}')
		if end < 0 {
			return Token{}, false
		}
		return Token{Kind: TokenSubst, Val: s[:end+3], Name: "=", Content: s[2 : end+2]}, true
	}
	if !strings.HasPrefix(s, "{{") || len(s) < 3 {
		return Token{}, false
	}
	if s[2] == '/' {
		name := scanName(s[3:])
		if name == "" {
			return Token{}, false
		}
		rest := s[3+len(name):]
		end := strings.Index(rest, "}}")
		if end < 0 || strings.TrimSpace(rest[:end]) != "" {
			return Token{}, false
		}
		n := 3 + len(name) + end + 2
		return Token{Kind: TokenMark, Val: s[:n], Name: name, Content: rest[:end], Close: true}, true
	}
	name := "="
	if s[2] != '=' {
		if name = scanName(s[2:]); name == "" {
			return Token{}, false
		}
	}
	rest := s[2+len(name):]
	end := strings.Index(rest, "}}")
	if end < 0 {
		return Token{}, false
	}
	n := 2 + len(name) + end + 2
	tok := Token{Kind: TokenMark, Val: s[:n], Name: name, Content: rest[:end]}
	if name == "=" {
		tok.Kind = TokenSubst
	}
	return tok, true
}

// Tokenize splits template source into text, substitution and marker tokens
// after removing comments. Malformed markers are never an error here: any
// '{' or '$' that does not start a marker is literal text, and adjacent text
// is merged into a single token.
func Tokenize(source string) []Token {
	s := stripBangComments(stripHashComments(source))
	text := string(s.text)

	var tokens []Token
	textStart := -1
	flush := func(end int) {
		if textStart < 0 {
			return
		}
		tokens = append(tokens, Token{
			Kind: TokenText,
			Val:  text[textStart:end],
			Pos:  s.offset(textStart, len(source)),
			End:  s.offset(end-1, len(source)) + 1,
		})
		textStart = -1
	}

	for i := 0; i < len(text); {
		if c := text[i]; c == '$' || c == '{' {
			if tok, ok := scanMarker(text[i:]); ok {
				flush(i)
				n := len(tok.Val)
				tok.Pos = s.offset(i, len(source))
				tok.End = s.offset(i+n-1, len(source)) + 1
				tokens = append(tokens, tok)
				i += n
				continue
			}
		}
		if textStart < 0 {
			textStart = i
		}
		i++
	}
	flush(len(text))
	return tokens
}
