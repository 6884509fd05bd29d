package roomsync

import (
	"context"
	"sync"
)

// Deferred is a single-shot container with external resolve/reject, used for
// the pending-connect handshake and the ping/pong rendezvous. Resolve and
// Reject are idempotent after the first call: only the first call of either
// takes effect.
type Deferred[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

func NewDeferred[T any]() *Deferred[T] {
	return &Deferred[T]{done: make(chan struct{})}
}

func (self *Deferred[T]) Resolve(value T) {
	self.once.Do(func() {
		self.value = value
		close(self.done)
	})
}

func (self *Deferred[T]) Reject(err error) {
	self.once.Do(func() {
		self.err = err
		close(self.done)
	})
}

// Wait blocks until the deferred is resolved, rejected, or ctx is done,
// whichever comes first.
func (self *Deferred[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-self.done:
		return self.value, self.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done returns a channel that is closed once Resolve or Reject has been
// called.
func (self *Deferred[T]) Done() <-chan struct{} {
	return self.done
}
