package vm

// Slot names a cell whose Head holds a spine: cell 0 for the program root,
// or an argument cell holding a parenthesized group.
type Slot int

// RootSlot is the slot of the program root.
const RootSlot Slot = 0

// SlotOf returns the slot of the cell referenced by ref.
func SlotOf(ref Value) Slot {
	return Slot(ref.Index())
}

func (s *Store) slotHead(sl Slot) Value {
	return s.cells[sl].Head
}

func (s *Store) setSlotHead(sl Slot, v Value) {
	s.cells[sl].Head = v
}

// Normalize flattens the spine held by sl into left-associative form.
//
// While the spine's head element is itself a non-empty group, the group is
// spliced in its place: the group's last cell takes over the spine's tail
// and the group's first cell becomes the spine. Once the head is a leaf,
// every compound argument is normalized the same way, left to right.
// Normalize never allocates.
func Normalize(s *Store, sl Slot) {
	stack := []Slot{sl}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		spine := spliceHead(s, cur)
		if spine == Nil {
			continue
		}

		// Push compound arguments in reverse so they pop left to right.
		mark := len(stack)
		for c := s.Tail(spine); c != Nil; c = s.Tail(c) {
			if s.Head(c).IsPair() {
				stack = append(stack, SlotOf(c))
			}
		}
		for i, j := mark, len(stack)-1; i < j; i, j = i+1, j-1 {
			stack[i], stack[j] = stack[j], stack[i]
		}
	}
}

// spliceHead repeatedly splices a grouped head into the spine held by sl
// and returns the resulting spine, or Nil if there is nothing to walk.
func spliceHead(s *Store, sl Slot) Value {
	for {
		spine := s.slotHead(sl)
		if spine == Nil || !spine.IsPair() {
			return Nil
		}
		head := s.Head(spine)
		if head == Nil {
			return Nil
		}
		if !s.IsCompound(head) {
			return spine
		}

		last := head
		for s.Tail(last) != Nil {
			last = s.Tail(last)
		}
		s.SetTail(last, s.Tail(spine))
		s.setSlotHead(sl, head)
	}
}
