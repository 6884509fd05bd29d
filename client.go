package roomsync

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ConnectionState mirrors §3's ConnectionState: Disconnected is initial and,
// once Close is called, terminal.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (self ConnectionState) String() string {
	switch self {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

const watchdogInterval = 5 * time.Second
const pingDeadline = 2 * time.Second

// authRefreshMargin is how far ahead of a JWT-shaped auth token's exp claim
// the watchdog proactively reconnects to pick up a fresh token, rather than
// waiting for the server to reject the stale one.
const authRefreshMargin = 30 * time.Second

// Client is the public façade (§4.8): a room-scoped synchronization session
// wrapping an external Store with connection lifecycle, poke playback, and
// mutation push.
type Client struct {
	opts    Options
	store   Store
	log     *logger
	metrics MetricsSink

	playback *playback

	pusherMutex *Mutex

	closeCtx    context.Context
	closeCancel context.CancelFunc
	closeOnce   sync.Once
	wg          sync.WaitGroup

	mu                     sync.Mutex
	state                  ConnectionState
	sock                   *socket
	pendingConnect         *Deferred[*socket]
	pingDeferred           *Deferred[struct{}]
	lastMutationIDSent     int64
	lastMutationIDReceived int64
	attempt                attemptID
	closed                 bool
	connAuth               string

	reconnectBackoff backoff.BackOff
}

// New constructs a Client bound to store and connects it to roomID on
// opts.SocketOrigin. It returns a *ConfigError if opts is invalid; the
// connection itself is established asynchronously by the watchdog.
func New(store Store, opts Options) (*Client, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	log := newLogger(opts.LogLevel, opts.LogSinks, "roomsync")

	closeCtx, closeCancel := context.WithCancel(context.Background())

	self := &Client{
		opts:                   opts,
		store:                  store,
		log:                    log,
		metrics:                opts.Metrics,
		pusherMutex:            NewMutex(),
		closeCtx:               closeCtx,
		closeCancel:            closeCancel,
		state:                  Disconnected,
		pendingConnect:         NewDeferred[*socket](),
		lastMutationIDSent:     -1,
		lastMutationIDReceived: 0,
		reconnectBackoff:       newReconnectBackoff(),
	}

	self.playback = newPlayback(
		store,
		opts.Buffer,
		log.sub("playback"),
		opts.Metrics,
		opts.Now,
		self.onPokeRecoverable,
		self.onPokeFatal,
	)

	store.SetPusher(self.push)

	self.wg.Add(1)
	go self.watchdogLoop()

	return self, nil
}

func newReconnectBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.Multiplier = 2
	b.MaxInterval = watchdogInterval
	b.MaxElapsedTime = 0 // never gives up; the watchdog itself is the retry driver
	return b
}

func (self *Client) now() time.Time {
	return self.opts.Now()
}

// ClientID returns the store-assigned replica id.
func (self *Client) ClientID() string {
	return self.store.ClientID()
}

// Auth returns the static Options.Auth token. When Options.GetAuth is set,
// connect attempts use the token GetAuth returns instead.
func (self *Client) Auth() string {
	return self.opts.Auth
}

// IdbName mirrors the reference client's naming-derived identifier: a
// stable string a host can use to key local storage by room and schema.
func (self *Client) IdbName() string {
	return self.opts.RoomID + "/" + self.opts.SchemaVersion
}

func (self *Client) SchemaVersion() string {
	return self.opts.SchemaVersion
}

// Closed reports whether Close has been called.
func (self *Client) Closed() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.closed
}

// State returns the current connection state, mainly useful for tests and
// host-side health checks.
func (self *Client) State() ConnectionState {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.state
}

// Stats returns a snapshot of the injected metrics sink's counters, if it is
// a *VictoriaMetricsSink. Other sinks (including the default no-op) yield
// the zero Snapshot.
func (self *Client) Stats() Snapshot {
	if vm, ok := self.metrics.(*VictoriaMetricsSink); ok {
		return vm.Snapshot()
	}
	return Snapshot{}
}

// DebugClockOffsets returns the playback pipeline's current per-source clock
// offset calibration, for host-side diagnostics dashboards.
func (self *Client) DebugClockOffsets() map[string]int64 {
	return self.playback.offsetsSnapshot(self.closeCtx)
}

// Subscribe forwards to the store.
func (self *Client) Subscribe(body json.RawMessage, handlers SubscriptionHandlers) func() {
	return self.store.Subscribe(body, handlers)
}

// Query forwards to the store.
func (self *Client) Query(ctx context.Context, body json.RawMessage) (json.RawMessage, error) {
	return self.store.Query(ctx, body)
}

// ExperimentalWatch registers a raw change-feed callback. It is implemented
// as a Subscribe over the same body/handler seam the store already exposes;
// hosts wanting the finer-grained diff callback should query their store's
// native watch API directly if the delegated store offers one distinct from
// Subscribe.
func (self *Client) ExperimentalWatch(onChange func(diff json.RawMessage), body json.RawMessage) func() {
	return self.store.Subscribe(body, SubscriptionHandlers{
		OnData: onChange,
	})
}

// Mutate applies a named mutator optimistically and enqueues it for push.
func (self *Client) Mutate(ctx context.Context, name string, args json.RawMessage) (Mutation, error) {
	return self.store.Mutate(ctx, name, args)
}

// Close disconnects and closes the store. Idempotent: a second call is a
// no-op and leaves observable state unchanged.
func (self *Client) Close() error {
	var storeErr error
	self.closeOnce.Do(func() {
		self.mu.Lock()
		self.closed = true
		sock := self.sock
		self.sock = nil
		self.state = Disconnected
		self.mu.Unlock()

		self.closeCancel()

		if sock != nil {
			sock.Close()
		}
		self.playback.reset(context.Background())
		self.wg.Wait()

		storeErr = self.store.Close()
	})
	return storeErr
}

func (self *Client) fireOnlineChange(online bool) {
	self.log.safeCall("onOnlineChange", func() {
		self.opts.OnOnlineChange(online)
	})
}
