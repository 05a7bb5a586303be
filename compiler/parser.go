package compiler

import (
	"errors"
	"fmt"

	"github.com/chazu/ski/vm"
)

// ---------------------------------------------------------------------------
// Parser: builds right-threaded term sequences in a cell store
// ---------------------------------------------------------------------------

// ErrParse is wrapped by every *ParseError.
var ErrParse = errors.New("parse error")

// ParseError reports a malformed program. Parsing stops at the first error.
type ParseError struct {
	Pos   Position
	Token Token
	Msg   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("compiler: line %d, column %d: %s", e.Pos.Line, e.Pos.Column, e.Msg)
}

func (e *ParseError) Unwrap() error {
	return ErrParse
}

// Parser turns a token stream into cells.
type Parser struct {
	store  *vm.Store
	tokens []Token
	pos    int
}

// group is an open bracket whose sequence is being built.
type group struct {
	cell   vm.Value  // parent cell whose head holds the group
	closer TokenType // closer of the enclosing sequence
	open   Token
}

// NewParser tokenizes input for building into store.
func NewParser(store *vm.Store, input string) *Parser {
	return &Parser{
		store:  store,
		tokens: Tokenize(input),
	}
}

func (p *Parser) next() Token {
	tok := p.tokens[p.pos]
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return tok
}

func (p *Parser) peek() Token {
	return p.tokens[p.pos]
}

// Parse parses input as one top-level sequence, builds it in store and
// installs it as the program root. On error the root is left untouched.
func Parse(store *vm.Store, input string) (vm.Value, error) {
	p := NewParser(store, input)

	var root vm.Value
	err := vm.Guard(func() error {
		var err error
		root, err = p.Build()
		return err
	})
	if err != nil {
		return vm.Nil, err
	}
	store.SetRoot(root)
	return root, nil
}

// Build constructs the cells for the whole token stream and returns a
// reference to the first cell of the top-level sequence.
//
// Each term takes one cell: its head is the term (a leaf or a reference to
// a nested sequence), its tail the next term's cell or Nil. An empty
// sequence is a single cell with no head. Cells are reserved up front so
// no collection can move them while the builder holds references.
func (p *Parser) Build() (vm.Value, error) {
	p.store.Reserve(2*len(p.tokens) + 1)

	first := p.store.Alloc(1)
	cur := first
	closer := TokenEOF
	var stack []group

	for {
		tok := p.next()

		if tok.Type == closer {
			if len(stack) == 0 {
				return first, nil
			}
			g := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			cur, closer = g.cell, g.closer
		} else {
			switch {
			case tok.Type == TokenInteger:
				p.store.SetHead(cur, vm.FromUint(tok.Value))

			case tok.Type == TokenAtom:
				p.store.SetHead(cur, vm.FromAtomString(tok.Literal))

			case tok.Type.IsOpener():
				child := p.store.Alloc(1)
				p.store.SetHead(cur, child)
				stack = append(stack, group{cell: cur, closer: closer, open: tok})
				cur, closer = child, tok.Type.Closer()
				continue

			default:
				return vm.Nil, p.unexpected(tok, closer, stack)
			}
		}

		// The sequence ends without consuming a cell when the closer is next.
		if p.peek().Type == closer {
			continue
		}
		cell := p.store.Alloc(1)
		p.store.SetTail(cur, cell)
		cur = cell
	}
}

// unexpected builds the error for a token that is neither a term nor the
// expected closer.
func (p *Parser) unexpected(tok Token, closer TokenType, stack []group) error {
	var msg string
	switch {
	case tok.Type == TokenError:
		msg = tok.Literal
	case tok.Type == TokenEOF:
		open := stack[len(stack)-1].open
		msg = fmt.Sprintf("unterminated %q opened at line %d, column %d", open.Literal, open.Pos.Line, open.Pos.Column)
	case closer == TokenEOF:
		msg = fmt.Sprintf("unmatched closing bracket %q", tok.Literal)
	default:
		msg = fmt.Sprintf("mismatched closing bracket %q, expected %q", tok.Literal, closer.String())
	}
	return &ParseError{Pos: tok.Pos, Token: tok, Msg: msg}
}
