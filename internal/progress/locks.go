package progress

import (
	"sync"

	"github.com/google/uuid"
)

type pairKey struct {
	userID uuid.UUID
	bookID uuid.UUID
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// keyedMutex serializes work on one (user, book) pair while letting
// different pairs proceed in parallel. Entries are dropped once unused.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[pairKey]*lockEntry
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{entries: make(map[pairKey]*lockEntry)}
}

// lock blocks until the pair is free and returns the matching unlock
func (k *keyedMutex) lock(userID, bookID uuid.UUID) func() {
	key := pairKey{userID, bookID}

	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &lockEntry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}
