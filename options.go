package roomsync

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const DefaultJitterBuffer = 250 * time.Millisecond

// Options configures a Client. UserID and a valid SocketOrigin are the only
// required fields; everything else has a documented default.
type Options struct {
	UserID       string
	RoomID       string
	SocketOrigin string

	Auth    string
	GetAuth func(ctx context.Context) (string, error)

	SchemaVersion string

	LogLevel LogLevel
	LogSinks []io.Writer

	// Buffer is the jitter buffer (§4.5): the hold time before a poke is
	// eligible for application. A zero or negative value means the default,
	// 250ms.
	Buffer time.Duration

	// MaxRandomPushLatency is a test/simulation affordance (§4.6): when
	// positive, the pusher sleeps a uniformly random duration in
	// [0, MaxRandomPushLatency) before sending. Default 0 (disabled).
	MaxRandomPushLatency time.Duration

	OnOnlineChange func(online bool)

	Metrics MetricsSink
	Dialer  *websocket.Dialer

	// Now overrides the monotonic clock used throughout the connection and
	// playback pipeline. Defaults to time.Now; tests substitute a
	// controllable clock.
	Now func() time.Time
}

func (self Options) withDefaults() Options {
	if self.Buffer <= 0 {
		self.Buffer = DefaultJitterBuffer
	}
	if self.Metrics == nil {
		self.Metrics = noopMetrics{}
	}
	if self.Now == nil {
		self.Now = time.Now
	}
	if self.OnOnlineChange == nil {
		self.OnOnlineChange = func(bool) {}
	}
	return self
}

func (self Options) validate() error {
	if strings.TrimSpace(self.UserID) == "" {
		return newConfigError("userID is required")
	}
	if err := validateSocketOrigin(self.SocketOrigin); err != nil {
		return err
	}
	return nil
}

func validateSocketOrigin(origin string) error {
	switch {
	case strings.HasPrefix(origin, "ws://"):
		return nil
	case strings.HasPrefix(origin, "wss://"):
		return nil
	default:
		return newConfigError("socketOrigin must start with ws:// or wss://, got %q", origin)
	}
}
