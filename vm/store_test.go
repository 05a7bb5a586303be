package vm

import (
	"bytes"
	"errors"
	"testing"
)

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNewStoreIsLazy(t *testing.T) {
	s := NewStore()
	if got := s.Stats().Capacity; got != 0 {
		t.Errorf("capacity before first use = %d, want 0", got)
	}

	if s.Root() != Nil {
		t.Error("a fresh store should have no program")
	}
	st := s.Stats()
	if st.Capacity != DefaultInitialCapacity {
		t.Errorf("Capacity = %d, want %d", st.Capacity, DefaultInitialCapacity)
	}
	if st.NextCapacity != DefaultInitialCapacity*3/2 {
		t.Errorf("NextCapacity = %d, want %d", st.NextCapacity, DefaultInitialCapacity*3/2)
	}
	if st.Used != 0 {
		t.Errorf("Used = %d, want 0", st.Used)
	}
}

func TestNewStoreOptions(t *testing.T) {
	tests := []struct {
		name string
		opts []StoreOption
		want int
	}{
		{"minimum", []StoreOption{WithInitialCapacity(1)}, minCapacity},
		{"explicit", []StoreOption{WithInitialCapacity(100)}, 100},
		{"clamped to max", []StoreOption{WithInitialCapacity(100), WithMaxCells(10)}, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore(tt.opts...)
			s.Root()
			if got := s.Stats().Capacity; got != tt.want {
				t.Errorf("Capacity = %d, want %d", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

func TestAllocIsContiguousAndZeroed(t *testing.T) {
	s := NewStore(WithInitialCapacity(16))

	a := s.Alloc(3)
	b := s.Alloc(1)
	if a.Index() != 1 {
		t.Errorf("first allocation at %d, want 1", a.Index())
	}
	if b.Index() != 4 {
		t.Errorf("second allocation at %d, want 4", b.Index())
	}
	for i := 1; i <= 4; i++ {
		ref := FromPair(i)
		if s.Head(ref) != Nil || s.Tail(ref) != Nil {
			t.Errorf("cell %d = {%v, %v}, want zeroed", i, s.Head(ref), s.Tail(ref))
		}
	}
	if got := s.Stats().Used; got != 4 {
		t.Errorf("Used = %d, want 4", got)
	}
}

func TestAllocRejectsNonPositive(t *testing.T) {
	s := NewStore()
	expectPanic(t, "Alloc(0)", func() { s.Alloc(0) })
}

func TestAllocCollectsGarbage(t *testing.T) {
	s := NewStore(WithInitialCapacity(8))

	// Nothing is reachable, so the first collection reclaims every cell.
	var last Value
	for i := 0; i < 7; i++ {
		last = s.Alloc(1)
	}
	st := s.Stats()
	if st.Collections != 1 {
		t.Fatalf("Collections = %d, want 1", st.Collections)
	}
	if last.Index() != 1 {
		t.Errorf("allocation after collection at %d, want 1", last.Index())
	}
	if st.Capacity != 12 {
		t.Errorf("Capacity = %d, want 12", st.Capacity)
	}
	if st.LastGC == nil || st.LastGC.Live != 1 || st.LastGC.Reclaimed != 6 {
		t.Errorf("LastGC = %+v, want 1 live and 6 reclaimed", st.LastGC)
	}
}

func TestGrowthSequence(t *testing.T) {
	s := NewStore(WithInitialCapacity(4))

	// Prepend to a list held by the root so every cell stays live. The root
	// is read after Alloc, so a collection cannot leave a stale reference.
	caps := []int{}
	for i := 1; i <= 40; i++ {
		c := s.Alloc(1)
		s.SetHead(c, FromUint(uint32(i)))
		s.SetTail(c, s.Root())
		s.SetRoot(c)

		if cap := s.Stats().Capacity; len(caps) == 0 || caps[len(caps)-1] != cap {
			caps = append(caps, cap)
		}
	}

	want := []int{4, 6, 9, 13, 19, 28, 42}
	if len(caps) != len(want) {
		t.Fatalf("capacities = %v, want %v", caps, want)
	}
	for i := range want {
		if caps[i] != want[i] {
			t.Fatalf("capacities = %v, want %v", caps, want)
		}
	}

	n := uint32(40)
	for c := s.Root(); c != Nil; c = s.Tail(c) {
		if got := s.Head(c).Uint(); got != n {
			t.Fatalf("list element = %d, want %d", got, n)
		}
		n--
	}
	if n != 0 {
		t.Errorf("list is missing %d elements", n)
	}
}

func TestReserve(t *testing.T) {
	s := NewStore(WithInitialCapacity(16))

	if s.Reserve(0) {
		t.Error("Reserve(0) should not collect")
	}
	if s.Reserve(5) {
		t.Error("Reserve(5) in an empty heap of 16 should not collect")
	}
	if !s.Reserve(20) {
		t.Fatal("Reserve(20) should collect to make room")
	}

	collections := s.Stats().Collections
	for i := 0; i < 20; i++ {
		s.Alloc(1)
	}
	if got := s.Stats().Collections; got != collections {
		t.Errorf("allocations after Reserve collected %d times", got-collections)
	}
}

func TestMaxCellsExhaustion(t *testing.T) {
	s := NewStore(WithInitialCapacity(8), WithMaxCells(8))

	err := Guard(func() error {
		for i := 0; i < 100; i++ {
			c := s.Alloc(1)
			s.SetTail(c, s.Root())
			s.SetRoot(c)
		}
		return nil
	})
	if !errors.Is(err, ErrHeapExhausted) {
		t.Fatalf("error = %v, want ErrHeapExhausted", err)
	}
	var ae *AllocationError
	if !errors.As(err, &ae) {
		t.Fatalf("error = %T, want *AllocationError", err)
	}
	if ae.Limit != 8 || ae.Capacity != 8 || ae.Requested != 1 {
		t.Errorf("AllocationError = %+v", ae)
	}
}

func TestMaxCellsReusesGarbage(t *testing.T) {
	s := NewStore(WithInitialCapacity(8), WithMaxCells(8))

	err := Guard(func() error {
		for i := 0; i < 100; i++ {
			s.Alloc(1)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Guard returned error: %v", err)
	}
	if got := s.Stats().Capacity; got != 8 {
		t.Errorf("Capacity = %d, want 8", got)
	}
}

func TestGuardPropagatesOtherPanics(t *testing.T) {
	defer func() {
		if r := recover(); r != "other" {
			t.Errorf("recovered %v, want %q", r, "other")
		}
	}()
	Guard(func() error { panic("other") })
}

// ---------------------------------------------------------------------------
// Cell access
// ---------------------------------------------------------------------------

func TestIsNil(t *testing.T) {
	s := newTestStore()
	empty := build(t, s)
	full := build(t, s, "a")

	if !s.IsNil(Nil) {
		t.Error("IsNil(Nil) = false")
	}
	if !s.IsNil(empty) {
		t.Error("IsNil(empty group) = false")
	}
	if s.IsNil(full) {
		t.Error("IsNil(non-empty group) = true")
	}
	if s.IsNil(FromAtomString("a")) {
		t.Error("IsNil(atom) = true")
	}
	if s.IsCompound(empty) || !s.IsCompound(full) || s.IsCompound(FromUint(1)) {
		t.Error("IsCompound mismatch")
	}
}

// ---------------------------------------------------------------------------
// Shutdown
// ---------------------------------------------------------------------------

func TestShutdownWritesImage(t *testing.T) {
	s := newTestStore()
	program(t, s, "S", group{"K", "a"}, 7)

	var buf bytes.Buffer
	if err := s.Shutdown(&buf); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}
	img, err := UnmarshalImage(buf.Bytes())
	if err != nil {
		t.Fatalf("UnmarshalImage: %v", err)
	}
	loaded, err := LoadImage(img)
	if err != nil {
		t.Fatalf("LoadImage: %v", err)
	}
	if got := format(loaded); got != "S (K a) 7" {
		t.Errorf("program = %q, want %q", got, "S (K a) 7")
	}

	if got := s.Stats().Capacity; got != 0 {
		t.Errorf("Capacity after Shutdown = %d, want 0", got)
	}
	if s.Root() != Nil {
		t.Error("a store restarted after Shutdown should be empty")
	}
}

func TestShutdownUnusedStore(t *testing.T) {
	var buf bytes.Buffer
	if err := NewStore().Shutdown(&buf); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("Shutdown of an unused store wrote %d bytes", buf.Len())
	}
}
