package vm

import (
	"errors"
	"fmt"
)

var (
	// ErrHeapExhausted is returned when the cell store cannot grow to satisfy
	// an allocation.
	ErrHeapExhausted = errors.New("vm: heap exhausted")

	// ErrCorruptImage is returned when a heap image fails validation.
	ErrCorruptImage = errors.New("vm: corrupt heap image")
)

// AllocationError describes a failed allocation. It unwraps to
// ErrHeapExhausted.
type AllocationError struct {
	Requested int // cells requested by the failing call
	Used      int // cells in use after the last collection
	Capacity  int // heap capacity after the last collection
	Limit     int // configured maximum, 0 if unbounded
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("vm: heap exhausted: need %d cells, %d of %d in use (limit %d)",
		e.Requested, e.Used, e.Capacity, e.Limit)
}

func (e *AllocationError) Unwrap() error {
	return ErrHeapExhausted
}

// Guard runs fn and converts an allocation failure raised inside the store
// into an ordinary error. Any other panic is propagated.
//
// The store unwinds with a panic so that the parser and reducer do not have
// to thread an error through every cell they touch.
func Guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if ae, ok := r.(*AllocationError); ok {
				err = ae
				return
			}
			panic(r)
		}
	}()
	return fn()
}
