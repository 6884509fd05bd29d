package roomsync

import (
	"context"
	"errors"
	"time"

	"golang.org/x/exp/maps"
)

const minFrameTickCadence = 16 * time.Millisecond

// playback implements the poke playback pipeline (§4.5): buffering,
// per-source clock-offset calibration, jitter-buffer pacing, contiguous
// merge, and serialized application to the store.
type playback struct {
	mutex *Mutex

	buffer  []PokeBody
	offsets map[string]int64
	ticking bool

	jitterBuffer time.Duration
	tickCadence  time.Duration

	store   Store
	log     *logger
	metrics MetricsSink
	now     func() time.Time

	// onRecoverable is invoked (never while the mutex is held) when the
	// store rejects a poke for an unexpected base cookie - the connection
	// must be torn down and will resume from LastMutationIDReceived.
	onRecoverable func()
	// onFatal is invoked (never while the mutex is held) for any other
	// store error.
	onFatal func(err error)
}

func newPlayback(store Store, jitterBuffer time.Duration, log *logger, metrics MetricsSink, now func() time.Time, onRecoverable func(), onFatal func(err error)) *playback {
	cadence := jitterBuffer / 4
	if cadence < minFrameTickCadence {
		cadence = minFrameTickCadence
	}
	return &playback{
		mutex:         NewMutex(),
		offsets:       map[string]int64{},
		jitterBuffer:  jitterBuffer,
		tickCadence:   cadence,
		store:         store,
		log:           log,
		metrics:       metrics,
		now:           now,
		onRecoverable: onRecoverable,
		onFatal:       onFatal,
	}
}

// enqueue appends pokes to the buffer, preserving arrival order exactly, and
// starts the drain loop if one is not already running.
func (self *playback) enqueue(ctx context.Context, pokes []PokeBody) {
	if len(pokes) == 0 {
		return
	}
	shouldStart := false
	self.mutex.WithLock(ctx, func() {
		self.buffer = append(self.buffer, pokes...)
		if !self.ticking {
			self.ticking = true
			shouldStart = true
		}
	})
	if shouldStart {
		go self.loop(ctx)
	}
}

// reset drops all buffered pokes and calibration state. Called on every
// disconnect (§4.4): the server is expected to resume from
// LastMutationIDReceived on reconnect, reissuing anything not yet applied.
func (self *playback) reset(ctx context.Context) {
	self.mutex.WithLock(ctx, func() {
		self.buffer = nil
		self.offsets = map[string]int64{}
		self.ticking = false
	})
}

// offsetsSnapshot returns a copy of the per-source clock offsets currently
// in effect, for host-side diagnostics. Cloning avoids handing out a map the
// drain loop still mutates concurrently.
func (self *playback) offsetsSnapshot(ctx context.Context) map[string]int64 {
	var snap map[string]int64
	self.mutex.WithLock(ctx, func() {
		snap = maps.Clone(self.offsets)
	})
	return snap
}

type drainResult struct {
	more        bool
	recoverable bool
	fatal       error
}

func (self *playback) loop(ctx context.Context) {
	for {
		if !sleep(ctx, self.tickCadence) {
			return
		}
		var result drainResult
		if err := self.mutex.WithLock(ctx, func() { result = self.drainLocked(ctx) }); err != nil {
			return
		}
		switch {
		case result.recoverable:
			self.onRecoverable()
			return
		case result.fatal != nil:
			self.onFatal(result.fatal)
			return
		case !result.more:
			return
		}
	}
}

// drainLocked runs the drain step described in §4.5. Must be called with
// self.mutex held.
func (self *playback) drainLocked(ctx context.Context) drainResult {
	nowMillis := self.now().UnixMilli()

	batch := make([]PokeBody, 0, len(self.buffer))
	for len(self.buffer) > 0 {
		p := self.buffer[0]
		if p.ClientID != nil {
			cid := *p.ClientID
			offset, seen := self.offsets[cid]
			if !seen {
				// First-observation calibration: the absolute offset may be
				// wrong, but it is applied consistently to every later poke
				// from this source, preserving relative pacing.
				// TODO(offset-drift): if the server gap between observation
				// and the next delivery is large, this can apply a poke too
				// early. No remediation is prescribed; behavior preserved.
				offset = nowMillis - p.Timestamp
				self.offsets[cid] = offset
			}
			pokeDeadline := offset + p.Timestamp + self.jitterBuffer.Milliseconds()
			if pokeDeadline > nowMillis {
				break
			}
		}
		batch = append(batch, p)
		self.buffer = self.buffer[1:]
	}

	if len(batch) == 0 {
		return drainResult{more: len(self.buffer) > 0}
	}

	combined := PokeCombined{
		BaseCookie:     batch[0].BaseCookie,
		Cookie:         batch[len(batch)-1].Cookie,
		LastMutationID: batch[len(batch)-1].LastMutationID,
	}
	patchCount := 0
	for _, p := range batch {
		combined.Patch = append(combined.Patch, p.Patch...)
		patchCount += len(p.Patch)
	}

	err := self.store.Poke(ctx, combined)
	if err != nil {
		var storeErr *StoreError
		if !errors.As(err, &storeErr) {
			storeErr = newStoreError(err)
		}
		self.ticking = false
		if storeErr.Recoverable {
			self.log.infof("poke rejected: unexpected base cookie, disconnecting")
			self.buffer = nil
			return drainResult{recoverable: true}
		}
		self.log.errorf("poke failed: %s", storeErr)
		return drainResult{fatal: storeErr}
	}

	self.metrics.IncPokeApplied(patchCount)

	more := len(self.buffer) > 0
	if !more {
		self.ticking = false
	}
	return drainResult{more: more}
}
