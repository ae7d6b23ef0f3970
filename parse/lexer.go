package parse

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/quill-lang/quill/ast"
)

type TokenKind int

const (
	EOF TokenKind = iota
	IDENT
	NUMBER
	STRING
	KEYWORD
	PUNCT
)

func (k TokenKind) String() string {
	switch k {
	case EOF:
		return "EOF"
	case IDENT:
		return "IDENT"
	case NUMBER:
		return "NUMBER"
	case STRING:
		return "STRING"
	case KEYWORD:
		return "KEYWORD"
	case PUNCT:
		return "PUNCT"
	}
	return fmt.Sprintf("TokenKind(%d)", int(k))
}

type Token struct {
	Kind  TokenKind
	Text  string
	Num   float64
	Start ast.Position
	End   ast.Position
	// NewlineBefore is set when a line break separates this token from the previous one.
	NewlineBefore bool
}

var keywords = map[string]bool{
	"import": true,
	"as":     true,
	"export": true,
	"true":   true,
	"false":  true,
	"if":     true,
	"then":   true,
	"else":   true,
}

// Longest operators first so that the greedy scan picks them.
var punctuation = []string{
	"->", "==", "!=", "<=", ">=", "&&", "||",
	"+", "-", "*", "/", "^", "<", ">", "!", "=", "?", ":", ",", ";", ".",
	"(", ")", "[", "]", "{", "}", "|", "@",
}

var magnitudes = map[byte]float64{
	'k': 1e3,
	'M': 1e6,
	'B': 1e9,
	'T': 1e12,
}

type lexer struct {
	source string
	src    string
	pos    int
	line   int
	col    int
}

func newLexer(source, src string) *lexer {
	return &lexer{source: source, src: src, line: 1, col: 1}
}

func (l *lexer) position() ast.Position {
	return ast.Position{Line: l.line, Column: l.col, Offset: l.pos}
}

func (l *lexer) errorf(at ast.Position, format string, args ...any) error {
	return &lexError{loc: ast.Location{Source: l.source, Start: at, End: l.position()}, msg: fmt.Sprintf(format, args...)}
}

type lexError struct {
	loc ast.Location
	msg string
}

func (e *lexError) Error() string { return e.msg }

func (l *lexer) advance(n int) {
	for i := 0; i < n && l.pos < len(l.src); i++ {
		if l.src[l.pos] == '\n' {
			l.line++
			l.col = 1
		} else {
			l.col++
		}
		l.pos++
	}
}

// skipSpace consumes whitespace and comments and reports whether a newline was crossed.
func (l *lexer) skipSpace() (bool, error) {
	newline := false
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == '\n':
			newline = true
			l.advance(1)
		case c == ' ' || c == '\t' || c == '\r':
			l.advance(1)
		case strings.HasPrefix(l.src[l.pos:], "//"):
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.advance(1)
			}
		case strings.HasPrefix(l.src[l.pos:], "/*"):
			start := l.position()
			end := strings.Index(l.src[l.pos+2:], "*/")
			if end < 0 {
				return newline, l.errorf(start, "unterminated comment")
			}
			if strings.Contains(l.src[l.pos:l.pos+2+end], "\n") {
				newline = true
			}
			l.advance(end + 4)
		default:
			return newline, nil
		}
	}
	return newline, nil
}

func (l *lexer) tokens() ([]Token, error) {
	var out []Token
	for {
		nl, err := l.skipSpace()
		if err != nil {
			return nil, err
		}
		start := l.position()
		if l.pos >= len(l.src) {
			out = append(out, Token{Kind: EOF, Start: start, End: start, NewlineBefore: nl})
			return out, nil
		}
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		tok.Start = start
		tok.End = l.position()
		tok.NewlineBefore = nl
		out = append(out, tok)
	}
}

func (l *lexer) next() (Token, error) {
	start := l.position()
	c := l.src[l.pos]
	switch {
	case isDigit(c) || (c == '.' && l.pos+1 < len(l.src) && isDigit(l.src[l.pos+1])):
		return l.number()
	case c == '"' || c == '\'':
		return l.str(c)
	}
	r, size := utf8.DecodeRuneInString(l.src[l.pos:])
	if r == '_' || r == '$' || unicode.IsLetter(r) {
		begin := l.pos
		l.advance(size)
		for l.pos < len(l.src) {
			r, size = utf8.DecodeRuneInString(l.src[l.pos:])
			if r != '_' && r != '$' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
				break
			}
			l.advance(size)
		}
		text := l.src[begin:l.pos]
		if keywords[text] {
			return Token{Kind: KEYWORD, Text: text}, nil
		}
		return Token{Kind: IDENT, Text: text}, nil
	}
	for _, p := range punctuation {
		if strings.HasPrefix(l.src[l.pos:], p) {
			l.advance(len(p))
			return Token{Kind: PUNCT, Text: p}, nil
		}
	}
	return Token{}, l.errorf(start, "unexpected character %q", r)
}

func (l *lexer) number() (Token, error) {
	start := l.position()
	begin := l.pos
	for l.pos < len(l.src) && (isDigit(l.src[l.pos]) || l.src[l.pos] == '_') {
		l.advance(1)
	}
	if l.pos < len(l.src) && l.src[l.pos] == '.' && l.pos+1 < len(l.src) && isDigit(l.src[l.pos+1]) {
		l.advance(1)
		for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			l.advance(1)
		}
	}
	if l.pos < len(l.src) && (l.src[l.pos] == 'e' || l.src[l.pos] == 'E') {
		save := *l
		l.advance(1)
		if l.pos < len(l.src) && (l.src[l.pos] == '+' || l.src[l.pos] == '-') {
			l.advance(1)
		}
		if l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
				l.advance(1)
			}
		} else {
			*l = save
		}
	}
	text := strings.ReplaceAll(l.src[begin:l.pos], "_", "")
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return Token{}, l.errorf(start, "invalid number %q", text)
	}
	if l.pos < len(l.src) {
		if m, ok := magnitudes[l.src[l.pos]]; ok && !continuesIdent(l.src, l.pos+1) {
			l.advance(1)
			v *= m
		}
	}
	if l.pos < len(l.src) && continuesIdent(l.src, l.pos) {
		return Token{}, l.errorf(start, "invalid number suffix")
	}
	return Token{Kind: NUMBER, Text: l.src[begin:l.pos], Num: v}, nil
}

func (l *lexer) str(quote byte) (Token, error) {
	start := l.position()
	l.advance(1)
	var b strings.Builder
	for {
		if l.pos >= len(l.src) {
			return Token{}, l.errorf(start, "unterminated string")
		}
		c := l.src[l.pos]
		if c == quote {
			l.advance(1)
			return Token{Kind: STRING, Text: b.String()}, nil
		}
		if c == '\\' && l.pos+1 < len(l.src) {
			esc := l.src[l.pos+1]
			switch esc {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case '\\', '"', '\'':
				b.WriteByte(esc)
			default:
				return Token{}, l.errorf(l.position(), "unknown escape \\%c", esc)
			}
			l.advance(2)
			continue
		}
		b.WriteByte(c)
		l.advance(1)
	}
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func continuesIdent(src string, pos int) bool {
	if pos >= len(src) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(src[pos:])
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
