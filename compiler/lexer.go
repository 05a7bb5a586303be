package compiler

import (
	"fmt"
	"math"
	"unicode"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Lexer: tokenizer for bracketed combinator terms
// ---------------------------------------------------------------------------

// Lexer tokenizes combinator source text.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      rune // current character
	size    int  // byte length of ch, 0 at EOF
	line    int  // current line (1-based)
	col     int  // current column (1-based)
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{
		input: input,
		line:  1,
		col:   0,
	}
	l.readChar()
	return l
}

// readChar reads the next character.
func (l *Lexer) readChar() {
	if l.size > 0 && l.ch == '\n' {
		l.line++
		l.col = 0
	}
	l.col++
	if l.readPos >= len(l.input) {
		l.ch = 0
		l.size = 0
		l.pos = len(l.input)
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
	l.ch = r
	l.size = size
	l.pos = l.readPos
	l.readPos += size
}

func (l *Lexer) atEOF() bool {
	return l.size == 0
}

// position returns the current position.
func (l *Lexer) position() Position {
	return Position{
		Offset: l.pos,
		Line:   l.line,
		Column: l.col,
	}
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	l.skipWhitespace()

	pos := l.position()

	switch {
	case l.atEOF():
		return Token{Type: TokenEOF, Literal: "", Pos: pos}

	case l.ch == '(':
		l.readChar()
		return Token{Type: TokenLParen, Literal: "(", Pos: pos}

	case l.ch == ')':
		l.readChar()
		return Token{Type: TokenRParen, Literal: ")", Pos: pos}

	case l.ch == '[':
		l.readChar()
		return Token{Type: TokenLBracket, Literal: "[", Pos: pos}

	case l.ch == ']':
		l.readChar()
		return Token{Type: TokenRBracket, Literal: "]", Pos: pos}

	case l.ch == '{':
		l.readChar()
		return Token{Type: TokenLBrace, Literal: "{", Pos: pos}

	case l.ch == '}':
		l.readChar()
		return Token{Type: TokenRBrace, Literal: "}", Pos: pos}

	case isDigit(l.ch):
		return l.readNumber(pos)

	case l.ch == utf8.RuneError && l.size == 1:
		b := l.input[l.pos]
		l.readChar()
		return Token{Type: TokenError, Literal: fmt.Sprintf("invalid UTF-8 byte %#02x", b), Pos: pos}

	case l.ch < utf8.RuneSelf && !isAtomByte(l.ch):
		ch := l.ch
		l.readChar()
		return Token{Type: TokenError, Literal: fmt.Sprintf("unexpected character %U", ch), Pos: pos}

	default:
		// One ASCII letter or punctuation byte, or one multi-byte code point.
		lit := l.input[l.pos:l.readPos]
		l.readChar()
		return Token{Type: TokenAtom, Literal: lit, Pos: pos}
	}
}

// skipWhitespace skips Unicode whitespace between tokens.
func (l *Lexer) skipWhitespace() {
	for !l.atEOF() && unicode.IsSpace(l.ch) {
		l.readChar()
	}
}

// readNumber reads an unsigned integer literal with C-style base detection:
// 0x or 0X selects hex, a leading 0 selects octal, anything else decimal.
// Scanning stops at the first byte that is not a digit of the base, so
// "09" reads as 0 followed by 9. Overflow saturates before the value is
// narrowed to 29 bits.
func (l *Lexer) readNumber(pos Position) Token {
	start := l.pos
	base := uint64(10)

	if l.ch == '0' {
		base = 8
		rest := l.input[l.readPos:]
		if len(rest) >= 2 && (rest[0] == 'x' || rest[0] == 'X') && isHexDigit(rune(rest[1])) {
			base = 16
			l.readChar() // 0
			l.readChar() // x
		}
	}

	var n uint64
	overflow := false
	for !l.atEOF() {
		d, ok := digitValue(l.ch, base)
		if !ok {
			break
		}
		if n > (math.MaxUint64-d)/base {
			overflow = true
		} else {
			n = n*base + d
		}
		l.readChar()
	}
	if overflow {
		n = math.MaxUint64
	}

	return Token{
		Type:    TokenInteger,
		Literal: l.input[start:l.pos],
		Value:   uint32(n),
		Pos:     pos,
	}
}

func isDigit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}

func isHexDigit(ch rune) bool {
	return isDigit(ch) || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F')
}

// digitValue returns the value of ch as a digit in base.
func digitValue(ch rune, base uint64) (uint64, bool) {
	var d uint64
	switch {
	case isDigit(ch):
		d = uint64(ch - '0')
	case ch >= 'a' && ch <= 'f':
		d = uint64(ch-'a') + 10
	case ch >= 'A' && ch <= 'F':
		d = uint64(ch-'A') + 10
	default:
		return 0, false
	}
	if d >= base {
		return 0, false
	}
	return d, true
}

// isAtomByte reports whether an ASCII character can stand alone as an atom:
// letters and printable punctuation. Digits and brackets are handled before
// this is consulted.
func isAtomByte(ch rune) bool {
	return ch > ' ' && ch < 0x7f
}

// Tokenize returns every token up to and including the first EOF or error
// token.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF || tok.Type == TokenError {
			return tokens
		}
	}
}
