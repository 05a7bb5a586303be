package vm

import (
	"fmt"
	"strconv"
	"strings"
)

// Style selects the printer layout.
type Style uint8

const (
	// StyleSpaced separates elements with a single space: "S K (K a)".
	StyleSpaced Style = iota
	// StyleCompact juxtaposes atoms and follows each integer with a space:
	// "SK(Ka)".
	StyleCompact
)

var styleNames = map[string]Style{
	"spaced":  StyleSpaced,
	"compact": StyleCompact,
}

// ParseStyle maps a configuration name to a Style. The empty string selects
// StyleSpaced.
func ParseStyle(name string) (Style, error) {
	if name == "" {
		return StyleSpaced, nil
	}
	st, ok := styleNames[strings.ToLower(name)]
	if !ok {
		return StyleSpaced, fmt.Errorf("vm: unknown print style %q", name)
	}
	return st, nil
}

func (st Style) String() string {
	if st == StyleCompact {
		return "compact"
	}
	return "spaced"
}

// Groups cycle through these by nesting depth; the style the user typed is
// not preserved.
const (
	openers = "([{"
	closers = ")]}"
)

// Format renders the sequence seq as bracketed text.
func Format(s *Store, seq Value, style Style) string {
	var b strings.Builder
	formatSeq(&b, s, seq, 0, style)
	return b.String()
}

// FormatRoot renders the program root.
func FormatRoot(s *Store, style Style) string {
	return Format(s, s.Root(), style)
}

func formatSeq(b *strings.Builder, s *Store, seq Value, depth int, style Style) {
	first := true
	for c := seq; c != Nil; c = s.Tail(c) {
		h := s.Head(c)
		if h == Nil {
			return
		}
		if style == StyleSpaced && !first {
			b.WriteByte(' ')
		}
		first = false

		switch h.Kind() {
		case KindAtom:
			b.WriteString(h.AtomString())
		case KindUint:
			b.WriteString(strconv.FormatUint(uint64(h.Uint()), 10))
			if style == StyleCompact {
				b.WriteByte(' ')
			}
		case KindPair:
			b.WriteByte(openers[depth%3])
			formatSeq(b, s, h, depth+1, style)
			b.WriteByte(closers[depth%3])
		default:
			fmt.Fprintf(b, "<%s>", h.Kind())
		}
	}
}
