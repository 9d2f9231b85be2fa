package timers

import (
	"slices"
	"sync"
)

// keyedMutex hands out one mutex per timer id.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock locks id and returns the matching unlock function.
func (k *keyedMutex) Lock(id string) func() {
	k.mu.Lock()

	entry, ok := k.locks[id]
	if !ok {
		entry = new(keyedEntry)
		k.locks[id] = entry
	}

	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		k.mu.Lock()

		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, id)
		}

		k.mu.Unlock()
	}
}

// LockAll locks every id in sorted order and returns one unlock function.
func (k *keyedMutex) LockAll(ids []string) func() {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	unlocks := make([]func(), 0, len(sorted))
	for _, id := range sorted {
		unlocks = append(unlocks, k.Lock(id))
	}

	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}
