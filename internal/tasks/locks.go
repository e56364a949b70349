// internal/tasks/locks.go
package tasks

import (
	"sync"

	"github.com/google/uuid"
)

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Locks hands out one mutex per arena. Entries are dropped once nobody holds
// or waits on them, so the map only grows with concurrently touched arenas.
type Locks struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*lockEntry
}

// NewLocks returns an empty lock table.
func NewLocks() *Locks {
	return &Locks{entries: make(map[uuid.UUID]*lockEntry)}
}

// Lock acquires the arena's mutex and returns the matching unlock.
func (l *Locks) Lock(id uuid.UUID) (unlock func()) {
	l.mu.Lock()
	e, ok := l.entries[id]
	if !ok {
		e = &lockEntry{}
		l.entries[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.entries, id)
		}
		l.mu.Unlock()
	}
}
