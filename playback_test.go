package roomsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestPlaybackHoldsPokeUntilJitterBufferElapses(self *testing.T) {
	store := newFakeStore("c1")
	now := time.UnixMilli(10_000)
	clock := func() time.Time { return now }

	recoverable := false
	var fatal error
	p := newPlayback(store, 100*time.Millisecond, newLogger(LogLevelDebug, nil, "t"), noopMetrics{}, clock,
		func() { recoverable = true },
		func(err error) { fatal = err },
	)

	cid := "server"
	p.enqueue(context.Background(), []PokeBody{{
		BaseCookie: Cookie{}, Cookie: ValidCookie(1), LastMutationID: 1,
		Timestamp: now.UnixMilli(), ClientID: &cid,
	}})

	// Immediately after enqueue, the clock has not advanced past the jitter
	// buffer hold, so nothing should have reached the store yet.
	time.Sleep(20 * time.Millisecond)
	store.mu.Lock()
	applied := len(store.pokes)
	store.mu.Unlock()
	assert.Equal(self, applied, 0)
	assert.Equal(self, recoverable, false)
	assert.Equal(self, fatal, nil)
}

// TestPlaybackDrainMergesContiguousPokesWithNoSourceClock covers pokes with
// no ClientID (no per-source clock to calibrate against), which are ripe
// the instant they're enqueued and merge immediately.
func TestPlaybackDrainMergesContiguousPokesWithNoSourceClock(self *testing.T) {
	store := newFakeStore("c1")
	now := time.UnixMilli(0)
	clock := func() time.Time { return now }

	p := newPlayback(store, 10*time.Millisecond, newLogger(LogLevelDebug, nil, "t"), noopMetrics{}, clock,
		func() {}, func(err error) {},
	)

	batch := []PokeBody{
		{BaseCookie: Cookie{}, Cookie: ValidCookie(1), LastMutationID: 1, Patch: []PatchEntry{[]byte(`{"a":1}`)}},
		{BaseCookie: ValidCookie(1), Cookie: ValidCookie(2), LastMutationID: 2, Patch: []PatchEntry{[]byte(`{"b":2}`)}},
	}
	p.buffer = batch

	result := p.drainLocked(context.Background())
	assert.Equal(self, result.more, false)
	assert.Equal(self, result.recoverable, false)

	assert.Equal(self, len(store.pokes), 1)
	combined := store.pokes[0]
	assert.Equal(self, combined.BaseCookie.Valid, false)
	assert.Equal(self, combined.Cookie, ValidCookie(2))
	assert.Equal(self, combined.LastMutationID, int64(2))
	assert.Equal(self, len(combined.Patch), 2)
}

// TestPlaybackCalibratesOffsetAndMergesWithinJitterWindow covers S1: pokes
// carrying a source ClientID are held for a full jitter-buffer window from
// first observation (first-observation clock-offset calibration), then
// merge together once that window elapses.
func TestPlaybackCalibratesOffsetAndMergesWithinJitterWindow(self *testing.T) {
	store := newFakeStore("c1")
	now := time.UnixMilli(1_000)
	clock := func() time.Time { return now }

	p := newPlayback(store, 10*time.Millisecond, newLogger(LogLevelDebug, nil, "t"), noopMetrics{}, clock,
		func() {}, func(err error) {},
	)

	cid := "server"
	p.buffer = []PokeBody{
		{BaseCookie: Cookie{}, Cookie: ValidCookie(1), LastMutationID: 1, Timestamp: 1_000, ClientID: &cid, Patch: []PatchEntry{[]byte(`{"a":1}`)}},
		{BaseCookie: ValidCookie(1), Cookie: ValidCookie(2), LastMutationID: 2, Timestamp: 1_000, ClientID: &cid, Patch: []PatchEntry{[]byte(`{"b":2}`)}},
	}

	// First drain just calibrates the offset for "server" against the
	// receiving clock and holds both pokes for the jitter buffer.
	result := p.drainLocked(context.Background())
	assert.Equal(self, result.more, true)
	assert.Equal(self, len(store.pokes), 0)
	offset, seen := p.offsets[cid]
	assert.Equal(self, seen, true)
	assert.Equal(self, offset, int64(0))

	// Advance the clock past the jitter buffer: both pokes are ripe in the
	// same drain and merge into one combined poke.
	now = now.Add(10 * time.Millisecond)
	result = p.drainLocked(context.Background())
	assert.Equal(self, result.more, false)
	assert.Equal(self, len(store.pokes), 1)
	combined := store.pokes[0]
	assert.Equal(self, combined.Cookie, ValidCookie(2))
	assert.Equal(self, combined.LastMutationID, int64(2))
	assert.Equal(self, len(combined.Patch), 2)
}

func TestPlaybackRecoverableStoreErrorClearsBuffer(self *testing.T) {
	store := newFakeStore("c1")
	store.pokeErr = newStoreError(errors.New(unexpectedBaseCookieSignature))

	p := newPlayback(store, 10*time.Millisecond, newLogger(LogLevelDebug, nil, "t"), noopMetrics{}, time.Now,
		func() {}, func(err error) {},
	)
	p.buffer = []PokeBody{{Cookie: ValidCookie(1), LastMutationID: 1}}

	result := p.drainLocked(context.Background())
	assert.Equal(self, result.recoverable, true)
	assert.Equal(self, len(p.buffer), 0)
}
