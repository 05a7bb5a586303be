package vm

import "testing"

// group marks a nested sequence in build's element list.
type group []any

// newTestStore returns a store large enough that building a test program
// never triggers a collection.
func newTestStore() *Store {
	return NewStore(WithInitialCapacity(1024))
}

// build lays out elems as a sequence in s and returns its first cell.
// Strings become atoms, ints become integers, groups nest and Values are
// stored as given, which lets tests share a sub-term between cells.
func build(t testing.TB, s *Store, elems ...any) Value {
	t.Helper()
	first := s.Alloc(1)
	cur := first
	for i, e := range elems {
		if i > 0 {
			cell := s.Alloc(1)
			s.SetTail(cur, cell)
			cur = cell
		}
		switch e := e.(type) {
		case string:
			s.SetHead(cur, FromAtomString(e))
		case int:
			s.SetHead(cur, FromUint(uint32(e)))
		case group:
			s.SetHead(cur, build(t, s, e...))
		case Value:
			s.SetHead(cur, e)
		default:
			t.Fatalf("build: unsupported element %T", e)
		}
	}
	return first
}

// program builds elems and installs them as the program root.
func program(t testing.TB, s *Store, elems ...any) Value {
	t.Helper()
	root := build(t, s, elems...)
	s.SetRoot(root)
	return root
}

func format(s *Store) string {
	return FormatRoot(s, StyleSpaced)
}

func expectPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s did not panic", name)
		}
	}()
	fn()
}
