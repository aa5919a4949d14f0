package connection

import (
	"context"
	"sync"
)

// Future completes once with the outcome of a bind. Completed and
// Cancelled can be used in a select.
type Future struct {
	err       error
	completed chan struct{}
	cancelled chan struct{}
	done      bool
	mutex     sync.Mutex
}

func NewFuture() *Future {
	return &Future{
		completed: make(chan struct{}),
		cancelled: make(chan struct{}),
	}
}

func completedFuture(err error) *Future {
	f := NewFuture()
	f.Complete(err)
	return f
}

func (f *Future) Cancelled() <-chan struct{} { return f.cancelled }
func (f *Future) Completed() <-chan struct{} { return f.completed }

// Complete resolves the future; later calls are ignored
func (f *Future) Complete(err error) bool {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.done {
		return false
	}
	f.err = err
	close(f.completed)
	f.done = true
	return true
}

// Cancel resolves the future as abandoned
func (f *Future) Cancel(err error) bool {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.done {
		return false
	}
	f.err = err
	close(f.cancelled)
	f.done = true
	return true
}

// Err returns the result, nil while pending
func (f *Future) Err() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.err
}

// Wait blocks until the future resolves or ctx ends
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.completed:
	case <-f.cancelled:
	case <-ctx.Done():
		return ctx.Err()
	}
	return f.Err()
}
