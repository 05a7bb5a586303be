package vm

import (
	"fmt"
	"io"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Store: the cell heap and its bump allocator
// ---------------------------------------------------------------------------

// DefaultInitialCapacity is the number of cells in the first heap.
const DefaultInitialCapacity = 0x10000

// minCapacity keeps floor(cap*3/2) strictly increasing.
const minCapacity = 4

var storeLog = commonlog.GetLogger("ski.store")

// Cell is the only heap-resident entity: a cons pair of two encoded words.
// Head holds an element (a leaf or a nested sequence), Tail the next cell
// of the same sequence or Nil.
type Cell struct {
	Head Value
	Tail Value
}

// Store owns the cell heap. Cell 0 is the root cell; its Head is the program
// root and survives every collection. Fresh cells are handed out from index
// 1 upward.
//
// A Store is not safe for concurrent use.
type Store struct {
	cells        []Cell
	used         int // index of the last allocated cell
	capacity     int
	nextCapacity int
	initial      int
	maxCells     int

	collections int
	lastGC      *GCStats
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithInitialCapacity sets the size of the first heap.
func WithInitialCapacity(n int) StoreOption {
	return func(s *Store) { s.initial = n }
}

// WithMaxCells caps heap growth. Zero means unbounded. Allocations that
// cannot be satisfied within the cap fail with ErrHeapExhausted.
func WithMaxCells(n int) StoreOption {
	return func(s *Store) { s.maxCells = n }
}

// NewStore creates an empty store. The heap itself is created on first use.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{initial: DefaultInitialCapacity}
	for _, opt := range opts {
		opt(s)
	}
	if s.initial < minCapacity {
		s.initial = minCapacity
	}
	if s.maxCells > 0 && s.maxCells < s.initial {
		s.initial = s.maxCells
	}
	return s
}

// ensure lazily creates the first heap.
func (s *Store) ensure() {
	if s.cells != nil {
		return
	}
	s.cells = make([]Cell, s.initial)
	s.capacity = s.initial
	s.nextCapacity = s.initial * 3 / 2
	s.used = 0
	storeLog.Debugf("heap created: %d cells", s.capacity)
}

// Alloc bump-allocates n contiguous zeroed cells and returns a reference to
// the first one. If the allocation would bring the used count to capacity-1,
// the collector runs first.
//
// Any Value held outside the heap is invalidated by a collection; callers
// that keep references across Alloc should use Reserve first.
func (s *Store) Alloc(n int) Value {
	if n <= 0 {
		panic("Store.Alloc: n must be positive")
	}
	s.ensure()
	s.makeRoom(n)

	start := s.used + 1
	s.used += n
	clear(s.cells[start : start+n])
	return FromPair(start)
}

// Reserve guarantees that the next n single-cell allocations will not
// trigger a collection. It reports whether a collection ran, in which case
// every reference held outside the heap must be re-derived from the root.
func (s *Store) Reserve(n int) bool {
	if n <= 0 {
		return false
	}
	s.ensure()
	return s.makeRoom(n)
}

// makeRoom collects until n cells fit below capacity-1. It panics with an
// *AllocationError when a collection makes no progress.
func (s *Store) makeRoom(n int) bool {
	collected := false
	for s.used+n >= s.capacity-1 {
		target := s.nextCapacity
		if s.maxCells > 0 && target > s.maxCells {
			target = s.maxCells
		}
		before, oldCap := s.used, s.capacity

		s.collect(target)
		collected = true

		if s.used+n >= s.capacity-1 && s.capacity == oldCap && s.used >= before {
			err := &AllocationError{
				Requested: n,
				Used:      s.used,
				Capacity:  s.capacity,
				Limit:     s.maxCells,
			}
			storeLog.Error(err.Error())
			panic(err)
		}
	}
	return collected
}

// ---------------------------------------------------------------------------
// Cell access
// ---------------------------------------------------------------------------

// Root returns the program root (cell 0's head).
func (s *Store) Root() Value {
	s.ensure()
	return s.cells[0].Head
}

// SetRoot replaces the program root.
func (s *Store) SetRoot(v Value) {
	s.ensure()
	s.cells[0].Head = v
}

// Head returns the head field of the referenced cell.
func (s *Store) Head(ref Value) Value {
	return s.cells[ref.Index()].Head
}

// Tail returns the tail field of the referenced cell.
func (s *Store) Tail(ref Value) Value {
	return s.cells[ref.Index()].Tail
}

// SetHead overwrites the head field of the referenced cell.
func (s *Store) SetHead(ref, v Value) {
	s.cells[ref.Index()].Head = v
}

// SetTail overwrites the tail field of the referenced cell.
func (s *Store) SetTail(ref, v Value) {
	s.cells[ref.Index()].Tail = v
}

// IsNil reports whether v is the empty list: either the absent word or a
// pair whose cell has no head.
func (s *Store) IsNil(v Value) bool {
	if v == Nil {
		return true
	}
	return v.IsPair() && s.cells[v.Index()].Head == Nil
}

// IsCompound reports whether v references a non-empty sub-sequence.
func (s *Store) IsCompound(v Value) bool {
	return v.IsPair() && !s.IsNil(v)
}

// ---------------------------------------------------------------------------
// Statistics and shutdown
// ---------------------------------------------------------------------------

// StoreStats is a snapshot of allocator bookkeeping.
type StoreStats struct {
	Capacity     int
	NextCapacity int
	Used         int
	MaxCells     int
	Collections  int
	LastGC       *GCStats
}

// Stats returns the current allocator bookkeeping.
func (s *Store) Stats() StoreStats {
	return StoreStats{
		Capacity:     s.capacity,
		NextCapacity: s.nextCapacity,
		Used:         s.used,
		MaxCells:     s.maxCells,
		Collections:  s.collections,
		LastGC:       s.lastGC,
	}
}

// Shutdown dumps the heap for inspection and releases it. Every used cell is
// logged at debug level; if w is non-nil a CBOR heap image is written to it.
// A later allocation starts over with a fresh heap.
func (s *Store) Shutdown(w io.Writer) error {
	if s.cells == nil {
		return nil
	}

	if storeLog.AllowLevel(commonlog.Debug) {
		for i := 0; i <= s.used; i++ {
			storeLog.Debugf("%4d={%v, %v}", i, s.cells[i].Head, s.cells[i].Tail)
		}
	}

	var err error
	if w != nil {
		var data []byte
		data, err = MarshalImage(s.Image())
		if err == nil {
			_, err = w.Write(data)
		}
		if err != nil {
			err = fmt.Errorf("vm: write heap image: %w", err)
		}
	}

	s.cells = nil
	s.used = 0
	s.capacity = 0
	s.nextCapacity = 0
	return err
}
