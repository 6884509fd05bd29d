package roomsync

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigError is fatal at construction: a bad socket origin scheme, an empty
// user id, or any other option that cannot be made to work regardless of
// connectivity.
type ConfigError struct {
	Msg string
}

func (self *ConfigError) Error() string {
	return fmt.Sprintf("roomsync: config error: %s", self.Msg)
}

func newConfigError(format string, a ...any) *ConfigError {
	return &ConfigError{Msg: fmt.Sprintf(format, a...)}
}

// ProtocolError is a violation of the downstream envelope contract: an
// unexpected tag. Recoverable via disconnect and reconnect. A poke whose
// base cookie does not chain from the store's current cookie is reported by
// the store and surfaces as a recoverable *StoreError, not a ProtocolError.
type ProtocolError struct {
	Msg string
}

func (self *ProtocolError) Error() string {
	return fmt.Sprintf("roomsync: protocol error: %s", self.Msg)
}

func newProtocolError(format string, a ...any) *ProtocolError {
	return &ProtocolError{Msg: fmt.Sprintf(format, a...)}
}

// TransportError wraps a socket-level failure: a failed dial, a read or write
// failure, a write to a closed socket, or a push that could not obtain a
// connected socket. A ping that goes unanswered disconnects without
// producing a TransportError.
type TransportError struct {
	Err error
}

func (self *TransportError) Error() string {
	return fmt.Sprintf("roomsync: transport error: %s", self.Err)
}

func (self *TransportError) Unwrap() error {
	return self.Err
}

func newTransportError(err error) *TransportError {
	return &TransportError{Err: err}
}

// StoreError wraps an error returned by the external Store. Recoverable is
// true when the error's message matches the "unexpected base cookie"
// signature the store uses to signal an out-of-order poke; the connection
// should be torn down and the server will resume from LastMutationIDReceived.
type StoreError struct {
	Err         error
	Recoverable bool
}

func (self *StoreError) Error() string {
	return fmt.Sprintf("roomsync: store error: %s", self.Err)
}

func (self *StoreError) Unwrap() error {
	return self.Err
}

const unexpectedBaseCookieSignature = "unexpected base cookie for poke"

func newStoreError(err error) *StoreError {
	return &StoreError{
		Err:         err,
		Recoverable: err != nil && strings.Contains(err.Error(), unexpectedBaseCookieSignature),
	}
}

// ErrClosed is returned by the pusher when the store invokes it after Close.
// The forwarding facade operations (Subscribe, Query, Mutate) do not check
// for Close and never return it.
var ErrClosed = errors.New("roomsync: closed")
