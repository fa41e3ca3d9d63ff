// Package registry tracks the node identifiers in use so no two nodes
// sharing a registry claim the same identifier.
package registry

import (
	"errors"
	"math/rand/v2"
	"sync"

	"github.com/ardanlabs/powledger/foundation/blockchain/peer"
)

// ErrIDInUse is returned when the identifier is already registered.
var ErrIDInUse = errors.New("node id already in use")

// ErrExhausted is returned when a random identifier could not be found.
var ErrExhausted = errors.New("no free node id found")

// maxAttempts bounds the search for a free random identifier.
const maxAttempts = 1024

// Registry is a set of identifiers guarded by its own lock.
type Registry struct {
	mu  sync.Mutex
	ids map[peer.ID]struct{}
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{
		ids: make(map[peer.ID]struct{}),
	}
}

// Register claims the identifier. The check and the insert happen
// under the same lock.
func (r *Registry) Register(id peer.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ids[id]; exists {
		return ErrIDInUse
	}

	r.ids[id] = struct{}{}
	return nil
}

// RegisterRandom claims a random identifier that is not in use.
func (r *Registry) RegisterRandom() (peer.ID, error) {
	for range maxAttempts {
		id := peer.ID(rand.Uint32())

		switch err := r.Register(id); {
		case err == nil:
			return id, nil
		case errors.Is(err, ErrIDInUse):
			continue
		default:
			return 0, err
		}
	}

	return 0, ErrExhausted
}

// Release frees the identifier so it can be claimed again. It reports
// false if the identifier was not registered.
func (r *Registry) Release(id peer.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ids[id]; !exists {
		return false
	}

	delete(r.ids, id)
	return true
}

// Registered reports whether the identifier is currently claimed.
func (r *Registry) Registered(id peer.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, exists := r.ids[id]
	return exists
}
