package contacts

import (
	"sync"

	"github.com/google/uuid"
)

// Keylock serializes work per contact ID. No two evaluations of the same
// contact may run concurrently; evaluations of different contacts may.
// Entries are reference counted and removed once released, so the map does
// not grow with the total contact population.
type Keylock struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*lockEntry
}

type lockEntry struct {
	refs int
	mu   sync.Mutex
}

// NewKeylock creates an empty per-contact lock registry.
func NewKeylock() *Keylock {
	return &Keylock{entries: make(map[uuid.UUID]*lockEntry)}
}

// Lock blocks until the contact's lock is held and returns the release func.
func (k *Keylock) Lock(id uuid.UUID) func() {
	k.mu.Lock()
	entry, ok := k.entries[id]
	if !ok {
		entry = &lockEntry{}
		k.entries[id] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.entries, id)
		}
		k.mu.Unlock()
	}
}
