package server

import (
	"errors"
	"fmt"
	"sync"

	"github.com/chazu/ski/vm"
)

// ErrWorkerStopped is returned by Do once the worker has been stopped.
var ErrWorkerStopped = errors.New("server: store worker stopped")

// storeRequest represents a unit of work to be executed on the store goroutine.
type storeRequest struct {
	fn   func(*vm.Store) (interface{}, error)
	done chan storeResult
}

// storeResult holds the return value from a store operation.
type storeResult struct {
	value interface{}
	err   error
}

// StoreWorker serializes all cell store access through a single goroutine.
// The reducer is single-threaded; every RPC and LSP handler goes through
// the worker. The heap is released after each request, so no term outlives
// the call that built it.
type StoreWorker struct {
	store    *vm.Store
	requests chan storeRequest
	quit     chan struct{}
	stopOnce sync.Once
}

// NewStoreWorker creates a StoreWorker owning a store built from opts and
// starts the processing goroutine.
func NewStoreWorker(opts ...vm.StoreOption) *StoreWorker {
	w := &StoreWorker{
		store:    vm.NewStore(opts...),
		requests: make(chan storeRequest, 64),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// loop processes store requests sequentially on a dedicated goroutine.
func (w *StoreWorker) loop() {
	for {
		select {
		case req := <-w.requests:
			result := w.execute(req.fn)
			req.done <- result
		case <-w.quit:
			return
		}
	}
}

// execute runs a function against the store, recovering from panics, then
// releases the heap.
func (w *StoreWorker) execute(fn func(*vm.Store) (interface{}, error)) storeResult {
	var result storeResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				result.err = fmt.Errorf("server: store worker: %v", r)
			}
		}()
		result.value, result.err = fn(w.store)
	}()
	if err := w.store.Shutdown(nil); err != nil && result.err == nil {
		result.err = err
	}
	return result
}

// Do submits a function for execution on the store goroutine and blocks
// until it completes. Returns the result and any error (including panics),
// or ErrWorkerStopped if the worker stops before running fn.
func (w *StoreWorker) Do(fn func(*vm.Store) (interface{}, error)) (interface{}, error) {
	req := storeRequest{
		fn:   fn,
		done: make(chan storeResult, 1),
	}
	select {
	case <-w.quit:
		return nil, ErrWorkerStopped
	default:
	}
	select {
	case w.requests <- req:
	case <-w.quit:
		return nil, ErrWorkerStopped
	}

	select {
	case result := <-req.done:
		return result.value, result.err
	case <-w.quit:
		// The loop may have finished this request just before quitting.
		select {
		case result := <-req.done:
			return result.value, result.err
		default:
			return nil, ErrWorkerStopped
		}
	}
}

// Stop shuts down the worker goroutine. It is safe to call more than once.
func (w *StoreWorker) Stop() {
	w.stopOnce.Do(func() { close(w.quit) })
}
