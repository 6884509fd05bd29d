package roomsync

import (
	"context"
	"encoding/json"
)

// PullRequest is the shape the store hands to a puller when it wants to
// resume from the server. This module only ever installs the transient
// puller described in §4.7 (the Puller Shim), which never lets the pull
// actually proceed to the network.
type PullRequest struct {
	ClientGroupID string `json:"clientGroupID"`
	Cookie        Cookie `json:"cookie"`
}

// PullResponse is what a puller must resolve with. The shim returns a stub
// successful response with no patch, so the store makes no progress and
// simply reports back the cookie it pulled with.
type PullResponse struct {
	Cookie         Cookie       `json:"cookie"`
	LastMutationID int64        `json:"lastMutationID"`
	Patch          []PatchEntry `json:"patch"`
	HTTPStatusCode int          `json:"httpStatusCode"`
	ErrorMessage   string       `json:"errorMessage"`
}

// Puller is the store's pluggable inbound plugin. Store implementations
// invoke it to materialize a PullResponse; this module installs one
// transiently to read the store's current cookie (§4.7).
type Puller func(ctx context.Context, req PullRequest) (PullResponse, error)

// PushRequest is what the store hands to a pusher: an ordered batch of
// mutations to deliver, plus whatever else the store's push protocol
// carries (opaque to this module beyond the mutation list).
type PushRequest struct {
	Mutations     []Mutation
	ClientGroupID string
	ProfileID     string
}

// PushResponse is what a pusher must return. Delivery is best-effort over
// the socket; the store re-invokes the pusher on its own retry cycle, so a
// pusher failure here is reported but not fatal to the store.
type PushResponse struct {
	HTTPStatusCode int
	ErrorMessage   string
}

// Pusher is the store's pluggable outbound plugin, implemented by
// (*Client).push in this module (§4.6).
type Pusher func(ctx context.Context, req PushRequest) (PushResponse, error)

// PokeCombined is the single, merged poke this module ever hands to the
// store's Poke method - the result of the playback pipeline's drain-and-merge
// step (§4.5). The store enforces the base-cookie chain and returns a
// *StoreError with Recoverable == true when combined.BaseCookie does not
// match its current cookie.
type PokeCombined struct {
	BaseCookie     Cookie
	Cookie         Cookie
	LastMutationID int64
	Patch          []PatchEntry
}

// SubscriptionHandlers mirrors the store's subscribe callback surface.
type SubscriptionHandlers struct {
	OnData  func(result json.RawMessage)
	OnError func(err error)
	OnDone  func()
}

// Store is the external, offline-first replica this module wraps. It is a
// collaborator, not something this module implements in production: storage
// and conflict resolution are delegated per the Non-goals. A minimal
// in-memory fake satisfying this interface lives in the test files to
// exercise the invariants in SPEC_FULL.md §8.
type Store interface {
	// ClientID is the store-assigned id for this replica.
	ClientID() string

	// Auth returns the current auth token the store was constructed or
	// refreshed with.
	Auth() string

	// Poke applies a single combined delta. It returns a *StoreError
	// (Recoverable == true) if combined.BaseCookie does not chain from the
	// store's current cookie.
	Poke(ctx context.Context, combined PokeCombined) error

	// Mutate looks up a registered mutator by name and applies args
	// optimistically, returning the new mutation id.
	Mutate(ctx context.Context, name string, args json.RawMessage) (Mutation, error)

	// Subscribe registers a query and callback pair, returning an unsubscribe
	// function.
	Subscribe(body json.RawMessage, handlers SubscriptionHandlers) (unsubscribe func())

	// Query runs a one-shot read against the current replica state.
	Query(ctx context.Context, body json.RawMessage) (json.RawMessage, error)

	// SetPusher installs the function the store calls whenever it has
	// mutations to deliver.
	SetPusher(pusher Pusher)

	// SetPuller installs the function the store calls to resume from the
	// server. Installing a new puller replaces the previous one.
	SetPuller(puller Puller)

	// TriggerPull forces an immediate pull cycle, invoking whatever puller
	// is currently installed. The Puller Shim (§4.7) relies on this to make
	// the store call its transient cookie-capturing puller on demand rather
	// than waiting for the store's own pull schedule.
	TriggerPull(ctx context.Context) error

	// Close releases the store's resources. Idempotent.
	Close() error
}
