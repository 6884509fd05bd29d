package roomsync

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestMutexSerializesAccess(self *testing.T) {
	m := NewMutex()
	counter := 0
	var wg chan struct{} = make(chan struct{}, 4)

	for i := 0; i < 4; i += 1 {
		go func() {
			m.WithLock(context.Background(), func() {
				v := counter
				time.Sleep(time.Millisecond)
				counter = v + 1
			})
			wg <- struct{}{}
		}()
	}
	for i := 0; i < 4; i += 1 {
		<-wg
	}

	assert.Equal(self, counter, 4)
}

func TestMutexWithLockCtxDone(self *testing.T) {
	m := NewMutex()
	ctx, cancel := context.WithCancel(context.Background())

	held := make(chan struct{})
	release := make(chan struct{})
	go m.WithLock(context.Background(), func() {
		close(held)
		<-release
	})
	<-held
	cancel()

	err := m.WithLock(ctx, func() {
		self.Fatal("fn must not run once ctx is done before the lock is acquired")
	})
	assert.Equal(self, err, context.Canceled)
	close(release)
}
