package vm

import (
	"time"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Copying collector
// ---------------------------------------------------------------------------

var gcLog = commonlog.GetLogger("ski.gc")

// GCStats holds statistics from a single collection.
type GCStats struct {
	Live        int // cells copied, including the root cell
	Reclaimed   int // used cells that were not copied
	OldCapacity int
	NewCapacity int
	Duration    time.Duration
}

// Relocation maps cell indices of the retired heap to their new indices.
type Relocation struct {
	forward []int // old index -> new index, -1 when the cell was garbage
}

// Lookup translates a reference into the retired heap. Leaves and Nil
// translate to themselves. The second result is false for references to
// cells that were reclaimed.
func (r *Relocation) Lookup(old Value) (Value, bool) {
	if old == Nil || !old.IsPair() {
		return old, true
	}
	i := old.Index()
	if i >= len(r.forward) || r.forward[i] < 0 {
		return Nil, false
	}
	return FromPair(r.forward[i]), true
}

// Len returns the number of old-heap slots covered by the table.
func (r *Relocation) Len() int {
	return len(r.forward)
}

// Collect forces a collection into a heap of the next capacity. The
// allocator normally decides when to collect; this entry point exists for
// tools and tests.
func (s *Store) Collect() *Relocation {
	s.ensure()
	target := s.nextCapacity
	if s.maxCells > 0 && target > s.maxCells {
		target = s.maxCells
	}
	return s.collect(target)
}

// collect copies everything reachable from the root cell into a new heap of
// target cells, breadth first. Each copied old cell is overwritten with a
// broken heart in its head and the forwarding reference in its tail, so a
// cell reached a second time is not copied again and sharing survives.
func (s *Store) collect(target int) *Relocation {
	start := time.Now()
	old := s.cells
	oldUsed := s.used
	oldCap := s.capacity

	heap := make([]Cell, target)
	heap[0] = old[0]
	old[0] = Cell{Head: BrokenHeart, Tail: FromPair(0)}

	free := 1
	for scan := 0; scan != free; scan++ {
		heap[scan].Head = evacuate(old, heap, heap[scan].Head, &free)
		heap[scan].Tail = evacuate(old, heap, heap[scan].Tail, &free)
	}

	reloc := &Relocation{forward: make([]int, oldUsed+1)}
	for i := range reloc.forward {
		if old[i].Head == BrokenHeart {
			reloc.forward[i] = old[i].Tail.Index()
		} else {
			reloc.forward[i] = -1
		}
	}

	s.cells = heap
	s.used = free - 1
	s.capacity = target
	s.nextCapacity = target * 3 / 2
	s.collections++

	stats := &GCStats{
		Live:        free,
		Reclaimed:   oldUsed + 1 - free,
		OldCapacity: oldCap,
		NewCapacity: target,
		Duration:    time.Since(start),
	}
	s.lastGC = stats
	gcLog.Debugf("collection %d: %d live, %d reclaimed, capacity %d -> %d in %s",
		s.collections, stats.Live, stats.Reclaimed, oldCap, target, stats.Duration)

	return reloc
}

// evacuate returns the new-heap value for field. Leaves and Nil are copied
// verbatim; a pair target is copied to free unless it was already
// forwarded.
func evacuate(old, heap []Cell, field Value, free *int) Value {
	if field == Nil || !field.IsPair() {
		return field
	}
	target := &old[field.Index()]
	if target.Head == BrokenHeart {
		return target.Tail
	}
	fwd := FromPair(*free)
	heap[*free] = *target
	*target = Cell{Head: BrokenHeart, Tail: fwd}
	*free++
	return fwd
}
