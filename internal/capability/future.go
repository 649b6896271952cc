package capability

import (
	"context"
	"sync"
)

// Future is a value that resolves exactly once, either with a result or an
// error. It is the single suspension point used for every capability, whether
// the underlying API is callback or request based.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Rejected returns an already failed future.
func Rejected[T any](err error) *Future[T] {
	f := NewFuture[T]()
	f.Reject(err)
	return f
}

// Resolve completes the future with v. Only the first completion wins; it
// reports whether this call completed the future.
func (f *Future[T]) Resolve(v T) bool {
	won := false
	f.once.Do(func() {
		f.value = v
		won = true
		close(f.done)
	})
	return won
}

// Reject completes the future with err. Only the first completion wins.
func (f *Future[T]) Reject(err error) bool {
	won := false
	f.once.Do(func() {
		f.err = err
		won = true
		close(f.done)
	})
	return won
}

func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Await blocks until the future completes or ctx is done.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
