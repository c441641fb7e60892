package node

import (
	"context"
	"fmt"
	"sync"
)

// Deferred is a handle to a subtree that is computed concurrently. It
// settles exactly once, to either a node or an error.
type Deferred struct {
	done   chan struct{}
	once   sync.Once
	result Node
	err    error
}

// Defer starts fn on its own goroutine. A panic in fn settles the handle
// with an error.
func Defer(ctx context.Context, fn func(ctx context.Context) (Node, error)) *Deferred {
	d := &Deferred{done: make(chan struct{})}
	go func() {
		var (
			result Node
			err    error
		)
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				result = nil
			}
			d.settle(result, err)
		}()
		result, err = fn(ctx)
	}()
	return d
}

// Resolved returns a handle that has already settled to n.
func Resolved(n Node) *Deferred {
	d := &Deferred{done: make(chan struct{})}
	d.settle(n, nil)
	return d
}

// Rejected returns a handle that has already settled to err.
func Rejected(err error) *Deferred {
	d := &Deferred{done: make(chan struct{})}
	d.settle(nil, err)
	return d
}

func (d *Deferred) settle(n Node, err error) {
	d.once.Do(func() {
		if n == nil && err == nil {
			n = Empty()
		}
		d.result = n
		d.err = err
		close(d.done)
	})
}

// Done is closed once the handle has settled.
func (d *Deferred) Done() <-chan struct{} {
	return d.done
}

// Result returns the settled value. It must only be called after Done is
// closed.
func (d *Deferred) Result() (Node, error) {
	return d.result, d.err
}

// Await blocks until the handle settles or ctx ends.
func (d *Deferred) Await(ctx context.Context) (Node, error) {
	select {
	case <-d.done:
		return d.result, d.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Suspense returns a boundary that shows fallback until fn settles. Any
// Pending inside fallback is replaced by its own fallback.
func Suspense(ctx context.Context, fallback Node, fn func(ctx context.Context) (Node, error)) *Pending {
	return &Pending{
		Handle:   Defer(ctx, fn),
		Fallback: settle(fallback),
	}
}

// Later wraps an existing handle in a boundary.
func Later(handle *Deferred, fallback Node) *Pending {
	return &Pending{Handle: handle, Fallback: settle(fallback)}
}
