package roomsync

import (
	"context"
	"encoding/json"
	"sync"
)

// fakeStore is a minimal in-memory Store satisfying the interface for
// testing the connection lifecycle and playback pipeline without a real
// offline-first replica underneath.
type fakeStore struct {
	mu sync.Mutex

	clientID string
	auth     string

	cookie         Cookie
	lastMutationID int64

	pusher Pusher
	puller Puller

	pokes       []PokeCombined
	pokeErr     error
	closed      bool
	closeCalled int
}

func newFakeStore(clientID string) *fakeStore {
	return &fakeStore{clientID: clientID}
}

func (self *fakeStore) ClientID() string { return self.clientID }
func (self *fakeStore) Auth() string     { return self.auth }

func (self *fakeStore) Poke(ctx context.Context, combined PokeCombined) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.pokeErr != nil {
		err := self.pokeErr
		self.pokeErr = nil
		return err
	}
	self.cookie = combined.Cookie
	self.lastMutationID = combined.LastMutationID
	self.pokes = append(self.pokes, combined)
	return nil
}

func (self *fakeStore) Mutate(ctx context.Context, name string, args json.RawMessage) (Mutation, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.lastMutationID++
	return Mutation{ID: self.lastMutationID, ClientID: self.clientID, Name: name, Args: args}, nil
}

func (self *fakeStore) Subscribe(body json.RawMessage, handlers SubscriptionHandlers) func() {
	return func() {}
}

func (self *fakeStore) Query(ctx context.Context, body json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`null`), nil
}

func (self *fakeStore) SetPusher(pusher Pusher) {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.pusher = pusher
}

func (self *fakeStore) SetPuller(puller Puller) {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.puller = puller
}

func (self *fakeStore) TriggerPull(ctx context.Context) error {
	self.mu.Lock()
	puller := self.puller
	cookie := self.cookie
	self.mu.Unlock()
	if puller == nil {
		return nil
	}
	_, err := puller(ctx, PullRequest{Cookie: cookie})
	return err
}

func (self *fakeStore) Close() error {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.closed = true
	self.closeCalled++
	return nil
}
