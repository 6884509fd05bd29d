package roomsync

import (
	"context"
)

// fetchBaseCookie is the Puller Shim (§4.7): the store exposes no direct
// getter for its current base cookie, so this transiently installs a puller
// that captures the cookie from the pull request, resolves a deferred with
// it, and returns a stub successful pull response so the store makes no
// actual progress against the network. Triggered once per connect attempt.
func fetchBaseCookie(ctx context.Context, store Store) (Cookie, error) {
	captured := NewDeferred[Cookie]()

	store.SetPuller(func(ctx context.Context, req PullRequest) (PullResponse, error) {
		captured.Resolve(req.Cookie)
		return PullResponse{
			Cookie:         req.Cookie,
			LastMutationID: 0,
			Patch:          nil,
			HTTPStatusCode: 200,
			ErrorMessage:   "",
		}, nil
	})

	if err := store.TriggerPull(ctx); err != nil {
		return Cookie{}, newStoreError(err)
	}

	return captured.Wait(ctx)
}
