package compiler

import (
	"testing"

	"github.com/chazu/ski/vm"
)

var fuzzSeeds = []string{
	"", "S K K a", "SKKa", "S (K a) [b {c}]", "(((", ")))", "(a]",
	"0x1F 017 09 0x", "99999999999999999999999", "λ😀 x",
	"a\x01", "\xff\xfe", "()()[]{}", "S I I (S I I)",
}

// ---------------------------------------------------------------------------
// FuzzTokenize: the token stream always ends in EOF or a single error.
// ---------------------------------------------------------------------------

func FuzzTokenize(f *testing.F) {
	for _, s := range fuzzSeeds {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, input string) {
		toks := Tokenize(input)
		last := toks[len(toks)-1]
		if last.Type != TokenEOF && last.Type != TokenError {
			t.Fatalf("stream ends with %v", last)
		}
		for i, tok := range toks[:len(toks)-1] {
			if tok.Type == TokenEOF || tok.Type == TokenError {
				t.Fatalf("token[%d] = %v before the end of the stream", i, tok)
			}
			if next := toks[i+1]; next.Pos.Offset <= tok.Pos.Offset {
				t.Fatalf("offsets do not advance: %v then %v", tok, next)
			}
		}
	})
}

// ---------------------------------------------------------------------------
// FuzzParse: parsing never panics, and a printed program parses back to
// the same text.
// ---------------------------------------------------------------------------

func FuzzParse(f *testing.F) {
	for _, s := range fuzzSeeds {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, input string) {
		s := vm.NewStore(vm.WithInitialCapacity(64))
		if _, err := Parse(s, input); err != nil {
			return
		}
		printed := vm.FormatRoot(s, vm.StyleSpaced)

		again := vm.NewStore(vm.WithInitialCapacity(64))
		if _, err := Parse(again, printed); err != nil {
			t.Fatalf("printed form %q does not parse: %v", printed, err)
		}
		if reprinted := vm.FormatRoot(again, vm.StyleSpaced); reprinted != printed {
			t.Fatalf("round trip of %q: %q != %q", input, reprinted, printed)
		}
	})
}
