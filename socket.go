package roomsync

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

const socketSendBufferSize = 16
const socketReceiveBufferSize = 16

// buildSocketURL constructs the /connect URL described in §6.1. baseCookie
// is encoded as an empty string when null (genesis).
func buildSocketURL(origin string, clientID string, roomID string, baseCookie Cookie, lastMutationIDReceived int64, now time.Time) (string, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return "", newConfigError("invalid socket origin %q: %s", origin, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return "", newConfigError("socket origin must use ws:// or wss://, got %q", origin)
	}
	u.Path = "/connect"

	baseCookieStr := ""
	if baseCookie.Valid {
		baseCookieStr = strconv.FormatInt(baseCookie.Value, 10)
	}

	q := u.Query()
	q.Set("clientID", clientID)
	q.Set("roomID", roomID)
	q.Set("baseCookie", baseCookieStr)
	q.Set("ts", strconv.FormatInt(now.UnixMilli(), 10))
	q.Set("lmid", strconv.FormatInt(lastMutationIDReceived, 10))
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// subProtocolForAuth conveys the auth token via the websocket sub-protocol
// field, URL-encoded. An empty token means no sub-protocol is offered.
func subProtocolForAuth(token string) []string {
	if token == "" {
		return nil
	}
	return []string{url.QueryEscape(token)}
}

// socket wraps an open *websocket.Conn with a read pump and a write pump,
// following the send/receive goroutine-pair pattern used throughout the
// reference codebase's transport layer. Writes are serialized through the
// send channel because gorilla/websocket forbids concurrent writers.
type socket struct {
	attempt attemptID
	conn    *websocket.Conn

	send    chan []byte
	receive chan Downstream

	group  *errgroup.Group
	cancel context.CancelFunc
	closed chan struct{}
}

// dialSocket opens the duplex connection and starts its pumps. A nil dialer
// means websocket.DefaultDialer.
func dialSocket(
	ctx context.Context,
	dialer *websocket.Dialer,
	attempt attemptID,
	origin string,
	clientID string,
	roomID string,
	auth string,
	baseCookie Cookie,
	lastMutationIDReceived int64,
	now time.Time,
) (*socket, error) {
	target, err := buildSocketURL(origin, clientID, roomID, baseCookie, lastMutationIDReceived, now)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	dialerWithProto := *dialer
	dialerWithProto.Subprotocols = subProtocolForAuth(auth)

	conn, _, err := dialerWithProto.DialContext(ctx, target, header)
	if err != nil {
		return nil, newTransportError(fmt.Errorf("dial %s: %w", target, err))
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	group, pumpCtx := errgroup.WithContext(pumpCtx)

	s := &socket{
		attempt: attempt,
		conn:    conn,
		send:    make(chan []byte, socketSendBufferSize),
		receive: make(chan Downstream, socketReceiveBufferSize),
		group:   group,
		cancel:  cancel,
		closed:  make(chan struct{}),
	}

	group.Go(func() error { return s.writePump(pumpCtx) })
	group.Go(func() error { return s.readPump(pumpCtx) })

	go func() {
		s.group.Wait()
		conn.Close()
		close(s.closed)
	}()

	return s, nil
}

func (self *socket) writePump(ctx context.Context) error {
	// Closing the connection on exit unblocks readPump's ReadMessage, which
	// does not observe ctx.
	defer self.conn.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data := <-self.send:
			if err := self.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				self.cancel()
				return newTransportError(err)
			}
		}
	}
}

func (self *socket) readPump(ctx context.Context) error {
	for {
		_, data, err := self.conn.ReadMessage()
		if err != nil {
			self.cancel()
			return newTransportError(err)
		}
		down, err := decodeDownstream(data)
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			self.cancel()
			return err
		}
		select {
		case self.receive <- down:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Write enqueues data for the write pump. Returns an error immediately if
// the socket has already closed, rather than blocking forever on a dead
// send channel.
func (self *socket) Write(data []byte) error {
	select {
	case self.send <- data:
		return nil
	case <-self.closed:
		return newTransportError(fmt.Errorf("socket closed"))
	}
}

// Close tears down both pumps and the underlying connection. Idempotent.
func (self *socket) Close() {
	self.cancel()
	<-self.closed
}
