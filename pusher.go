package roomsync

import (
	"context"
	"math/rand"
	"time"
)

// push is installed as the store's Pusher (§4.6). It waits for a live
// connection (kicking off a connect attempt if none is in flight), then
// sends one push envelope per mutation, skipping any whose id has already
// been sent on the current connection (the monotonic id guard).
func (self *Client) push(ctx context.Context, req PushRequest) (PushResponse, error) {
	self.mu.Lock()
	if self.closed {
		self.mu.Unlock()
		return PushResponse{}, ErrClosed
	}
	hasSocket := self.sock != nil
	pending := self.pendingConnect
	self.mu.Unlock()

	if !hasSocket {
		go self.connect(self.closeCtx)
	}

	mergedCtx, cancel := withCloseCancel(ctx, self.closeCtx)
	defer cancel()

	sock, err := pending.Wait(mergedCtx)
	if err != nil {
		return PushResponse{}, newTransportError(err)
	}

	if self.opts.MaxRandomPushLatency > 0 {
		d := time.Duration(rand.Int63n(int64(self.opts.MaxRandomPushLatency)))
		if !sleep(mergedCtx, d) {
			return PushResponse{}, mergedCtx.Err()
		}
	}

	err = self.pusherMutex.WithLock(mergedCtx, func() {
		for _, m := range req.Mutations {
			self.mu.Lock()
			if m.ID <= self.lastMutationIDSent {
				self.mu.Unlock()
				self.metrics.IncMutationSkipped()
				continue
			}
			self.lastMutationIDSent = m.ID
			self.mu.Unlock()

			data, err := encodePush(pushBody{
				Mutations:     []Mutation{m},
				ClientGroupID: req.ClientGroupID,
				ProfileID:     req.ProfileID,
				Timestamp:     self.now().UnixMilli(),
			})
			if err != nil {
				self.log.errorf("encode push for mutation %d: %s", m.ID, err)
				continue
			}
			if err := sock.Write(data); err != nil {
				self.log.infof("push write failed for mutation %d: %s", m.ID, err)
				continue
			}
			self.metrics.IncMutationPushed()
		}
	})
	if err != nil {
		return PushResponse{}, newTransportError(err)
	}

	return PushResponse{HTTPStatusCode: 200}, nil
}
