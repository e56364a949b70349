// internal/tasks/registry.go
package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Scope names the kind of wait running for an arena.
type Scope string

const (
	ScopeConfirmation Scope = "confirmation"
	ScopeCancelOffer  Scope = "cancel_offer"
	ScopeRanked       Scope = "ranked"
	ScopeClose        Scope = "close"
)

// Key identifies a long-lived wait. PlayerID is uuid.Nil for arena-wide waits.
type Key struct {
	ArenaID  uuid.UUID
	Scope    Scope
	PlayerID uuid.UUID
}

// Handle is a running wait.
type Handle struct {
	key    Key
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// Done is closed when the wait's function has returned.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Cancel asks the wait to stop. It does not block.
func (h *Handle) Cancel() { h.cancel() }

// Registry owns every cancellable wait, keyed by arena and scope.
// Starting a wait under a key that is already running cancels the old one.
type Registry struct {
	mu      sync.Mutex
	handles map[Key]*Handle
	gen     uint64
	wg      sync.WaitGroup
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[Key]*Handle)}
}

// Go runs fn in its own goroutine under key. fn must return once ctx is done.
func (r *Registry) Go(parent context.Context, key Key, fn func(ctx context.Context)) *Handle {
	ctx, cancel := context.WithCancel(parent)
	r.mu.Lock()
	if prev, ok := r.handles[key]; ok {
		prev.cancel()
	}
	r.gen++
	h := &Handle{key: key, gen: r.gen, cancel: cancel, done: make(chan struct{})}
	r.handles[key] = h
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer close(h.done)
		defer r.release(h)
		defer cancel()
		fn(ctx)
	}()
	return h
}

// After runs fn once d has elapsed on clock, unless the handle is cancelled first.
func (r *Registry) After(parent context.Context, key Key, clock clockwork.Clock, d time.Duration, fn func(ctx context.Context)) *Handle {
	return r.Go(parent, key, func(ctx context.Context) {
		timer := clock.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.Chan():
			fn(ctx)
		}
	})
}

func (r *Registry) release(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.handles[h.key]; ok && cur.gen == h.gen {
		delete(r.handles, h.key)
	}
}

// Active reports whether a wait is running under key.
func (r *Registry) Active(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handles[key]
	return ok
}

// Get returns the wait running under key.
func (r *Registry) Get(key Key) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[key]
	return h, ok
}

// Current reports whether h is still the wait registered under its key.
func (r *Registry) Current(h *Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.handles[h.key]
	return ok && cur.gen == h.gen
}

// Cancel stops the wait under key. It returns false when nothing was running.
func (r *Registry) Cancel(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[key]
	if !ok {
		return false
	}
	h.cancel()
	delete(r.handles, key)
	return true
}

// CancelArena stops every wait belonging to arenaID, optionally skipping one
// scope (the caller's own), and returns how many were cancelled.
func (r *Registry) CancelArena(arenaID uuid.UUID, except ...Scope) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
next:
	for k, h := range r.handles {
		if k.ArenaID != arenaID {
			continue
		}
		for _, s := range except {
			if k.Scope == s {
				continue next
			}
		}
		h.cancel()
		delete(r.handles, k)
		n++
	}
	return n
}

// Shutdown cancels everything and waits for the goroutines to exit.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	for k, h := range r.handles {
		h.cancel()
		delete(r.handles, k)
	}
	r.mu.Unlock()
	r.wg.Wait()
}
