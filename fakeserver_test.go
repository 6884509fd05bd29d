package roomsync

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

// fakeServer is the "fake *websocket.Conn-shaped transport seam" the
// connection lifecycle scenarios drive against: a real httptest server
// upgrading real websocket connections, so dialSocket's dial/read/write
// pumps run unmodified against it.
type fakeServer struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns []*websocket.Conn
	urls  []*url.URL

	onConnect func(conn *websocket.Conn, r *http.Request)
}

func newFakeServer(t *testing.T) *fakeServer {
	fs := &fakeServer{t: t}
	mux := http.NewServeMux()
	mux.HandleFunc("/connect", func(w http.ResponseWriter, r *http.Request) {
		conn, err := fs.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.mu.Lock()
		fs.conns = append(fs.conns, conn)
		fs.urls = append(fs.urls, r.URL)
		onConnect := fs.onConnect
		fs.mu.Unlock()
		if onConnect != nil {
			onConnect(conn, r)
		}
	})
	fs.srv = httptest.NewServer(mux)
	return fs
}

// wsOrigin returns the server's address as a ws:// SocketOrigin.
func (self *fakeServer) wsOrigin() string {
	return "ws" + strings.TrimPrefix(self.srv.URL, "http")
}

func (self *fakeServer) close() {
	self.srv.Close()
}

func (self *fakeServer) connCount() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return len(self.conns)
}

func (self *fakeServer) urlAt(i int) *url.URL {
	self.mu.Lock()
	defer self.mu.Unlock()
	if i >= len(self.urls) {
		return nil
	}
	return self.urls[i]
}
