package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Token types for the combinator lexer
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError

	// Literals
	TokenInteger // 42, 0x2A, 052
	TokenAtom    // S, k, +, λ

	// Delimiters
	TokenLParen   // (
	TokenRParen   // )
	TokenLBracket // [
	TokenRBracket // ]
	TokenLBrace   // {
	TokenRBrace   // }
)

var tokenNames = map[TokenType]string{
	TokenEOF:      "EOF",
	TokenError:    "ERROR",
	TokenInteger:  "INTEGER",
	TokenAtom:     "ATOM",
	TokenLParen:   "(",
	TokenRParen:   ")",
	TokenLBracket: "[",
	TokenRBracket: "]",
	TokenLBrace:   "{",
	TokenRBrace:   "}",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

// IsOpener returns true for the three opening brackets.
func (t TokenType) IsOpener() bool {
	return t == TokenLParen || t == TokenLBracket || t == TokenLBrace
}

// IsCloser returns true for the three closing brackets.
func (t TokenType) IsCloser() bool {
	return t == TokenRParen || t == TokenRBracket || t == TokenRBrace
}

// Closer returns the closing bracket that matches an opener.
func (t TokenType) Closer() TokenType {
	switch t {
	case TokenLParen:
		return TokenRParen
	case TokenLBracket:
		return TokenRBracket
	case TokenLBrace:
		return TokenRBrace
	}
	return TokenError
}

// Position is a location in the source text.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based
	Column int // 1-based, in runes
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Token represents a lexical token.
type Token struct {
	Type    TokenType
	Literal string   // the raw text
	Value   uint32   // integer value, for TokenInteger
	Pos     Position // start position
}

func (t Token) String() string {
	switch t.Type {
	case TokenEOF:
		return "EOF"
	case TokenError:
		return fmt.Sprintf("ERROR(%s)", t.Literal)
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
}
