package roomsync

import (
	"github.com/oklog/ulid/v2"
)

// attemptID correlates the log lines and metrics of a single dial attempt
// (Connecting -> Connected or Connecting -> Disconnected). It never appears
// on the wire and is never visible to the store.
type attemptID string

func newAttemptID() attemptID {
	return attemptID(ulid.Make().String())
}

func (self attemptID) String() string {
	return string(self)
}
