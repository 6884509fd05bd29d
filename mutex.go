package roomsync

import (
	"context"
)

// Mutex is a single-slot lock backed by a buffered channel of size one, used
// as an interruptible semaphore rather than sync.Mutex so that acquisition
// can be abandoned when ctx is done (needed so Close does not hang waiting
// for a lock held by a drain step that will never run again).
type Mutex struct {
	slot chan struct{}
}

func NewMutex() *Mutex {
	m := &Mutex{slot: make(chan struct{}, 1)}
	m.slot <- struct{}{}
	return m
}

// WithLock runs fn while holding the lock. A panic inside fn still releases
// the lock. Returns ctx.Err() without running fn if ctx is done before the
// lock is acquired.
func (self *Mutex) WithLock(ctx context.Context, fn func()) error {
	select {
	case <-self.slot:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { self.slot <- struct{}{} }()
	fn()
	return nil
}
