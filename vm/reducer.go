package vm

import (
	"fmt"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Reducer: in-place S/K/I graph rewriting
// ---------------------------------------------------------------------------

var reduceLog = commonlog.GetLogger("ski.reduce")

// Rule identifies a rewrite rule.
type Rule uint8

const (
	RuleNone Rule = iota
	RuleS
	RuleK
	RuleI
)

func (r Rule) String() string {
	switch r {
	case RuleNone:
		return "none"
	case RuleS:
		return "S"
	case RuleK:
		return "K"
	case RuleI:
		return "I"
	}
	return fmt.Sprintf("Rule(%d)", r)
}

// Arity returns the number of arguments the rule consumes.
func (r Rule) Arity() int {
	switch r {
	case RuleS:
		return 3
	case RuleK:
		return 2
	case RuleI:
		return 1
	}
	return 0
}

// ruleFor maps a head value to its combinator. Single letters s, k and i
// match case-insensitively.
func ruleFor(head Value) Rule {
	if !head.IsAtom() {
		return RuleNone
	}
	b := head.AtomBytes()
	if b[1] != 0 {
		return RuleNone
	}
	switch b[0] {
	case 's', 'S':
		return RuleS
	case 'k', 'K':
		return RuleK
	case 'i', 'I':
		return RuleI
	}
	return RuleNone
}

// redex is a saturated combinator application found by the search.
type redex struct {
	slot Slot
	rule Rule
	need int // cells the rewrite allocates
}

// Step normalizes the program root and performs at most one rewrite,
// leftmost-outermost. It reports the rule that fired and whether any
// rewrite happened; false means the program is in normal form.
func Step(s *Store) (Rule, bool) {
	for {
		rx, ok := findRedex(s, RootSlot)
		if !ok {
			return RuleNone, false
		}
		// A collection moves every cell; search again from the root.
		if s.Reserve(rx.need) {
			reduceLog.Debugf("collection during %s step, searching again", rx.rule)
			continue
		}
		apply(s, rx)
		return rx.rule, true
	}
}

// findRedex walks the term in leftmost-outermost order. At each slot the
// head is tried first; if it cannot fire, the search moves into the first
// argument that is a non-empty group and fails when there is none. Later
// arguments are never searched. The search allocates nothing.
func findRedex(s *Store, sl Slot) (redex, bool) {
	Normalize(s, sl)
	cur := sl
	for {
		spine := s.slotHead(cur)
		if !s.IsCompound(spine) {
			return redex{}, false
		}

		rule := ruleFor(s.Head(spine))
		if rule != RuleNone && hasArgs(s, spine, rule.Arity()) {
			return redex{slot: cur, rule: rule, need: cellsNeeded(s, spine, rule)}, true
		}

		arg, ok := firstCompoundArg(s, spine)
		if !ok {
			return redex{}, false
		}
		cur = SlotOf(arg)
	}
}

// firstCompoundArg returns the first cell after spine whose head is a
// non-empty group.
func firstCompoundArg(s *Store, spine Value) (Value, bool) {
	for c := s.Tail(spine); c != Nil; c = s.Tail(c) {
		if s.IsCompound(s.Head(c)) {
			return c, true
		}
	}
	return Nil, false
}

// hasArgs reports whether the n cells after spine exist and hold a value.
func hasArgs(s *Store, spine Value, n int) bool {
	c := spine
	for ; n > 0; n-- {
		c = s.Tail(c)
		if c == Nil || s.Head(c) == Nil {
			return false
		}
	}
	return true
}

// nth returns the cell n positions after spine.
func nth(s *Store, spine Value, n int) Value {
	for ; n > 0; n-- {
		spine = s.Tail(spine)
	}
	return spine
}

func cellsNeeded(s *Store, spine Value, rule Rule) int {
	if rule != RuleS {
		return 0
	}
	need := 4
	if z := s.Head(nth(s, spine, 3)); z != Nil && z.IsPair() {
		need += countCells(s, z)
	}
	return need
}

// apply performs the rewrite. For S the four new cells and the copy of z
// come from space already reserved, so no collection can run here.
func apply(s *Store, rx redex) {
	spine := s.slotHead(rx.slot)

	switch rx.rule {
	case RuleS:
		// S x y z w... -> x z (y z) w...
		x := nth(s, spine, 1)
		y := s.Tail(x)
		z := s.Tail(y)
		w := s.Tail(z)

		z1 := s.Head(z)
		z2 := z1
		if z1 != Nil && z1.IsPair() {
			z2 = copyTerm(s, z1)
		}

		a := s.Alloc(1) // z
		b := s.Alloc(1) // (y z)
		c := s.Alloc(1) // y
		d := s.Alloc(1) // z copy

		s.setSlotHead(rx.slot, x)
		s.SetTail(x, a)
		s.SetHead(a, z1)
		s.SetTail(a, b)
		s.SetHead(b, c)
		s.SetTail(b, w)
		s.SetHead(c, s.Head(y))
		s.SetTail(c, d)
		s.SetHead(d, z2)

	case RuleK:
		// K x y w... -> x w...
		x := s.Tail(spine)
		y := s.Tail(x)
		s.setSlotHead(rx.slot, x)
		s.SetTail(x, s.Tail(y))

	case RuleI:
		// I x w... -> x w...
		s.setSlotHead(rx.slot, s.Tail(spine))
	}
}

// countCells returns how many cells copyTerm(seq) allocates.
func countCells(s *Store, seq Value) int {
	n := 0
	stack := []Value{seq}
	for len(stack) > 0 {
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for ; c != Nil; c = s.Tail(c) {
			n++
			if h := s.Head(c); h != Nil && h.IsPair() {
				stack = append(stack, h)
			}
		}
	}
	return n
}

// copyTerm deep-copies the sequence seq. Nested groups get fresh cells;
// leaves are shared, since immediates cannot be mutated.
func copyTerm(s *Store, seq Value) Value {
	type job struct{ from, to Value }

	root := s.Alloc(1)
	stack := []job{{seq, root}}
	for len(stack) > 0 {
		j := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		from, to := j.from, j.to
		for {
			h := s.Head(from)
			if h != Nil && h.IsPair() {
				child := s.Alloc(1)
				s.SetHead(to, child)
				stack = append(stack, job{h, child})
			} else {
				s.SetHead(to, h)
			}

			next := s.Tail(from)
			if next == Nil {
				break
			}
			cell := s.Alloc(1)
			s.SetTail(to, cell)
			from, to = next, cell
		}
	}
	return root
}
