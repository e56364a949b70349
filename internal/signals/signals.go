// internal/signals/signals.go
package signals

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind names an external signal.
type Kind string

const (
	KindAccept      Kind = "accept"
	KindDecline     Kind = "decline"
	KindEarlyCancel Kind = "early_cancel"
	KindCharacter   Kind = "character"
	KindStage       Kind = "stage"
	KindVote        Kind = "vote"
)

// Signal is a discrete input from a participant about one arena.
type Signal struct {
	ArenaID  uuid.UUID `json:"arena_id"`
	PlayerID uuid.UUID `json:"player_id"`
	Kind     Kind      `json:"kind"`
	Value    string    `json:"value,omitempty"`
	At       time.Time `json:"at"`
}

// Predicate selects the signals a subscription wants.
type Predicate func(Signal) bool

// ForArena matches signals for arenaID whose kind is one of kinds
// (any kind when none are given).
func ForArena(arenaID uuid.UUID, kinds ...Kind) Predicate {
	return func(s Signal) bool {
		if s.ArenaID != arenaID {
			return false
		}
		return len(kinds) == 0 || slices.Contains(kinds, s.Kind)
	}
}

// FromPlayer narrows p to a single participant.
func FromPlayer(p Predicate, playerID uuid.UUID) Predicate {
	return func(s Signal) bool {
		return s.PlayerID == playerID && p(s)
	}
}

const subscriptionBuffer = 16

// Hub fans signals out to the waits currently interested in them.
// A signal nobody is waiting for is dropped.
type Hub struct {
	mu   sync.Mutex
	subs map[uint64]*Subscription
	next uint64
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]*Subscription)}
}

// Subscription is one registered wait.
type Subscription struct {
	id   uint64
	hub  *Hub
	pred Predicate
	ch   chan Signal
}

// Subscribe registers pred. The caller must Close the subscription.
func (h *Hub) Subscribe(pred Predicate) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	sub := &Subscription{id: h.next, hub: h, pred: pred, ch: make(chan Signal, subscriptionBuffer)}
	h.subs[sub.id] = sub
	return sub
}

// Publish delivers sig to every matching subscription and returns how many
// received it. Delivery never blocks; a full subscriber misses the signal.
func (h *Hub) Publish(sig Signal) int {
	if sig.At.IsZero() {
		sig.At = time.Now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := 0
	for _, sub := range h.subs {
		if !sub.pred(sig) {
			continue
		}
		select {
		case sub.ch <- sig:
			delivered++
		default:
		}
	}
	return delivered
}

// Waiting reports whether any subscription would accept sig.
func (h *Hub) Waiting(sig Signal) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		if sub.pred(sig) {
			return true
		}
	}
	return false
}

// C exposes the delivery channel for use in select loops.
func (s *Subscription) C() <-chan Signal { return s.ch }

// Close unregisters the subscription. Safe to call more than once.
// Signals already buffered are discarded with it.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	delete(s.hub.subs, s.id)
}

// Next blocks for the next signal or until ctx ends.
func (s *Subscription) Next(ctx context.Context) (Signal, error) {
	select {
	case sig := <-s.ch:
		return sig, nil
	case <-ctx.Done():
		return Signal{}, ctx.Err()
	}
}

// Await subscribes, returns the first matching signal and unsubscribes.
func (h *Hub) Await(ctx context.Context, pred Predicate) (Signal, error) {
	sub := h.Subscribe(pred)
	defer sub.Close()
	return sub.Next(ctx)
}
