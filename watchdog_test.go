package roomsync

import (
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/gorilla/websocket"
)

// waitForEvents polls until at least n online-change events have been
// recorded or the deadline passes, since the connection lifecycle runs on
// its own goroutines.
func waitForEvents(mu *sync.Mutex, events *[]bool, n int, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		mu.Lock()
		got := len(*events)
		mu.Unlock()
		if got >= n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// TestOutOfOrderBaseCookieTriggersDisconnectCycle exercises S3: a poke the
// store rejects with the unexpected-base-cookie signature must tear the
// connection down and fire onOnlineChange(false), not just log and carry on.
func TestOutOfOrderBaseCookieTriggersDisconnectCycle(self *testing.T) {
	fs := newFakeServer(self)
	defer fs.close()

	store := newFakeStore("c1")
	store.mu.Lock()
	store.pokeErr = newStoreError(errors.New(unexpectedBaseCookieSignature))
	store.mu.Unlock()

	fs.onConnect = func(conn *websocket.Conn, r *http.Request) {
		conn.WriteMessage(websocket.TextMessage, []byte(`["connected", {}]`))
		conn.WriteMessage(websocket.TextMessage, []byte(`["poke", {"baseCookie": null, "cookie": 1, "lastMutationID": 1, "patch": [], "timestamp": 0}]`))
	}

	var mu sync.Mutex
	var events []bool
	c, err := New(store, Options{
		UserID:       "u1",
		RoomID:       "r1",
		SocketOrigin: fs.wsOrigin(),
		OnOnlineChange: func(online bool) {
			mu.Lock()
			events = append(events, online)
			mu.Unlock()
		},
	})
	assert.Equal(self, err, nil)
	defer c.Close()

	waitForEvents(&mu, &events, 2, 3*time.Second)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(self, len(events) >= 2, true)
	assert.Equal(self, events[0], true)
	assert.Equal(self, events[1], false)
}

// TestPingTimeoutDisconnects exercises S5: a server that stops answering
// pings must be dropped once the 2s ping deadline elapses.
func TestPingTimeoutDisconnects(self *testing.T) {
	fs := newFakeServer(self)
	defer fs.close()

	store := newFakeStore("c1")

	fs.onConnect = func(conn *websocket.Conn, r *http.Request) {
		conn.WriteMessage(websocket.TextMessage, []byte(`["connected", {}]`))
		// Deliberately never answers subsequent pings.
	}

	var mu sync.Mutex
	var events []bool
	c, err := New(store, Options{
		UserID:       "u1",
		RoomID:       "r1",
		SocketOrigin: fs.wsOrigin(),
		OnOnlineChange: func(online bool) {
			mu.Lock()
			events = append(events, online)
			mu.Unlock()
		},
	})
	assert.Equal(self, err, nil)
	defer c.Close()

	// connected -> ping sent -> 2s ping deadline -> disconnected.
	waitForEvents(&mu, &events, 2, 6*time.Second)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(self, len(events) >= 2, true)
	assert.Equal(self, events[0], true)
	assert.Equal(self, events[1], false)
}

// TestReconnectURLCarriesLastMutationIDReceived exercises S6: after a poke
// advances LastMutationIDReceived, a reconnect's URL must carry it as lmid
// so the server knows where to resume.
func TestReconnectURLCarriesLastMutationIDReceived(self *testing.T) {
	fs := newFakeServer(self)
	defer fs.close()

	store := newFakeStore("c1")

	var first atomic.Bool
	first.Store(true)
	fs.onConnect = func(conn *websocket.Conn, r *http.Request) {
		conn.WriteMessage(websocket.TextMessage, []byte(`["connected", {}]`))
		if first.CompareAndSwap(true, false) {
			conn.WriteMessage(websocket.TextMessage, []byte(`["poke", {"baseCookie": null, "cookie": 1, "lastMutationID": 7, "patch": [], "timestamp": 0}]`))
			time.Sleep(50 * time.Millisecond)
			conn.Close()
		}
	}

	c, err := New(store, Options{
		UserID:       "u1",
		RoomID:       "r1",
		SocketOrigin: fs.wsOrigin(),
	})
	assert.Equal(self, err, nil)
	defer c.Close()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && fs.connCount() < 2 {
		time.Sleep(10 * time.Millisecond)
	}

	assert.Equal(self, fs.connCount() >= 2, true)
	secondURL := fs.urlAt(1)
	assert.Equal(self, secondURL.Query().Get("lmid"), "7")
}
