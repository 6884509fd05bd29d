package roomsync

import (
	"context"
)

// resolveAuth returns the token to present on the next connect attempt,
// preferring the dynamic opts.GetAuth hook over the static opts.Auth field
// when both are set.
func (self *Client) resolveAuth(ctx context.Context) (string, error) {
	if self.opts.GetAuth != nil {
		return self.opts.GetAuth(ctx)
	}
	return self.opts.Auth, nil
}

// watchdogLoop is the single long-lived goroutine driving the connection
// state machine forward (§4.4, §5): it pings while Connected, dials while
// Disconnected, and paces reconnect attempts with a bounded exponential
// backoff.
func (self *Client) watchdogLoop() {
	defer self.wg.Done()

	ctx := self.closeCtx
	for {
		self.mu.Lock()
		state := self.state
		sock := self.sock
		authTok := self.connAuth
		self.mu.Unlock()

		if state == Connected {
			self.ping(ctx)

			wait := watchdogInterval
			refreshing := false
			if d, ok := refreshDelay(authTok, self.now(), authRefreshMargin); ok && d < wait {
				wait = d
				refreshing = true
			}
			if !sleep(ctx, wait) {
				return
			}
			if refreshing {
				self.mu.Lock()
				stillCurrent := self.sock == sock && self.state == Connected
				self.mu.Unlock()
				if stillCurrent {
					self.log.infof("auth nearing expiry, reconnecting to refresh")
					self.disconnect(sock, "proactive auth refresh")
				}
			}
			continue
		}

		self.connect(ctx)

		self.mu.Lock()
		nowConnected := self.state == Connected
		self.mu.Unlock()
		if nowConnected {
			if !sleep(ctx, watchdogInterval) {
				return
			}
			continue
		}

		self.mu.Lock()
		wait := self.reconnectBackoff.NextBackOff()
		self.mu.Unlock()
		if !sleep(ctx, wait) {
			return
		}
	}
}

// connect attempts a single Disconnected -> Connecting -> Connected
// transition (§4.4). It is a no-op if the client is not currently
// Disconnected, so concurrent callers (the watchdog and a pusher wanting to
// force an early attempt) never race each other into two live sockets.
func (self *Client) connect(ctx context.Context) {
	self.mu.Lock()
	if self.state != Disconnected || self.closed {
		self.mu.Unlock()
		return
	}
	attempt := newAttemptID()
	self.state = Connecting
	self.attempt = attempt
	self.mu.Unlock()

	self.log.infof("connecting (attempt %s)", attempt)
	self.metrics.IncConnectAttempt()

	cookie, err := fetchBaseCookie(ctx, self.store)
	if err != nil {
		self.log.errorf("connect %s: fetch base cookie: %s", attempt, err)
		self.failConnect(attempt)
		return
	}

	auth, err := self.resolveAuth(ctx)
	if err != nil {
		self.log.errorf("connect %s: resolve auth: %s", attempt, err)
		self.failConnect(attempt)
		return
	}

	self.mu.Lock()
	lastMutationIDReceived := self.lastMutationIDReceived
	self.mu.Unlock()

	sock, err := dialSocket(ctx, self.opts.Dialer, attempt, self.opts.SocketOrigin, self.store.ClientID(), self.opts.RoomID, auth, cookie, lastMutationIDReceived, self.now())
	if err != nil {
		self.log.errorf("connect %s: dial: %s", attempt, err)
		self.failConnect(attempt)
		return
	}

	self.mu.Lock()
	if self.attempt != attempt || self.state != Connecting {
		// Superseded by a Close or a disconnect that happened mid-dial.
		self.mu.Unlock()
		sock.Close()
		return
	}
	self.sock = sock
	self.connAuth = auth
	self.mu.Unlock()

	self.wg.Add(1)
	go self.dispatch(sock)
}

// failConnect reverts a Connecting attempt back to Disconnected, but only if
// it is still the current attempt: a stale failure arriving after the
// client has already moved on (closed, or superseded by a fresher attempt)
// must not clobber newer state.
func (self *Client) failConnect(attempt attemptID) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.attempt != attempt || self.state != Connecting {
		return
	}
	self.state = Disconnected
	self.lastMutationIDSent = -1
}

// ping sends a ping envelope and races the matching pong against
// pingDeadline (§4.4). A missed pong or a write failure disconnects the
// socket; the watchdog's next loop iteration will redial.
func (self *Client) ping(ctx context.Context) {
	self.mu.Lock()
	sock := self.sock
	pd := NewDeferred[struct{}]()
	self.pingDeferred = pd
	self.mu.Unlock()

	if sock == nil {
		return
	}

	data, err := encodePing()
	if err != nil {
		self.log.errorf("encode ping: %s", err)
		return
	}

	sent := self.now()
	if err := sock.Write(data); err != nil {
		self.log.infof("ping write failed: %s", err)
		self.disconnect(sock, "ping write failed")
		return
	}

	if err := deadline(ctx, pingDeadline, pd.Done()); err != nil {
		self.metrics.IncDisconnect("ping timeout")
		self.log.infof("ping timeout, disconnecting")
		self.disconnect(sock, "ping timeout")
		return
	}
	self.metrics.ObservePingRTT(self.now().Sub(sent))
}

// disconnect tears down sock and moves the client to Disconnected, if sock
// is still the live socket (a stale disconnect for an already-replaced
// socket is a no-op against state, though the passed socket is still
// closed defensively).
//
// PendingConnect is only replaced here, not in failConnect: a pusher
// blocked waiting on a Connecting attempt that never reaches Connected
// should keep waiting across the next attempt rather than being handed a
// spurious rejection.
func (self *Client) disconnect(sock *socket, reason string) {
	self.mu.Lock()
	if self.sock != sock {
		self.mu.Unlock()
		sock.Close()
		return
	}
	wasConnected := self.state == Connected
	self.state = Disconnected
	self.sock = nil
	self.lastMutationIDSent = -1
	if wasConnected {
		self.pendingConnect = NewDeferred[*socket]()
	}
	self.mu.Unlock()

	sock.Close()
	self.playback.reset(context.Background())

	self.log.infof("disconnected: %s", reason)
	if wasConnected {
		self.metrics.IncDisconnect(reason)
		self.fireOnlineChange(false)
	}
}

// dispatch pumps decoded downstream envelopes for one socket's lifetime.
func (self *Client) dispatch(sock *socket) {
	defer self.wg.Done()
	for {
		select {
		case down, ok := <-sock.receive:
			if !ok {
				return
			}
			self.handleDownstream(sock, down)
		case <-sock.closed:
			self.disconnect(sock, "transport closed")
			return
		case <-self.closeCtx.Done():
			return
		}
	}
}

func (self *Client) handleDownstream(sock *socket, down Downstream) {
	switch down.Tag {
	case DownstreamConnected:
		self.mu.Lock()
		if self.sock != sock {
			self.mu.Unlock()
			return
		}
		self.state = Connected
		self.lastMutationIDSent = -1
		pc := self.pendingConnect
		self.reconnectBackoff.Reset()
		self.mu.Unlock()

		pc.Resolve(sock)
		self.metrics.IncConnectSuccess()
		self.log.infof("connected")
		self.fireOnlineChange(true)

	case DownstreamError:
		self.log.errorf("server error: %s", down.ErrorMessage)
		self.disconnect(sock, "server error: "+down.ErrorMessage)

	case DownstreamPong:
		self.mu.Lock()
		pd := self.pingDeferred
		self.mu.Unlock()
		if pd != nil {
			pd.Resolve(struct{}{})
		}

	case DownstreamPoke:
		if len(down.Pokes) > 0 {
			self.mu.Lock()
			for _, p := range down.Pokes {
				if p.LastMutationID > self.lastMutationIDReceived {
					self.lastMutationIDReceived = p.LastMutationID
				}
			}
			self.mu.Unlock()
		}
		self.playback.enqueue(self.closeCtx, down.Pokes)
	}
}

// onPokeRecoverable handles a *StoreError with Recoverable == true surfaced
// by the playback pipeline (§4.5): the base cookie chain broke, so the
// connection is torn down and will resume from LastMutationIDReceived on
// the next connect.
func (self *Client) onPokeRecoverable() {
	self.mu.Lock()
	sock := self.sock
	self.mu.Unlock()
	if sock != nil {
		self.disconnect(sock, "unexpected base cookie")
	}
}

// onPokeFatal handles any other store error while applying a poke. The
// connection is torn down defensively; a store bug that keeps rejecting
// pokes will otherwise wedge the pipeline permanently.
func (self *Client) onPokeFatal(err error) {
	self.log.errorf("fatal poke error: %s", err)
	self.mu.Lock()
	sock := self.sock
	self.mu.Unlock()
	if sock != nil {
		self.disconnect(sock, "store error: "+err.Error())
	}
}
