// internal/events/events.go
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sergioBarril/smashbot/internal/models"
	"github.com/sirupsen/logrus"
)

// Type names a lifecycle event.
type Type string

const (
	MatchFound    Type = "match_found"
	Accepted      Type = "accepted"
	Rejected      Type = "rejected"
	BothTimedOut  Type = "both_timed_out"
	Playing       Type = "playing"
	GameScored    Type = "game_scored"
	SetComplete   Type = "set_complete"
	SetAbandoned  Type = "set_abandoned"
	ArenaClosed   Type = "arena_closed"
	SearchLost    Type = "search_lost"
	SearchUpdated Type = "search_updated"
)

// Event is a fact about an arena, published for the historian.
type Event struct {
	Type    Type           `json:"type"`
	ArenaID uuid.UUID      `json:"arena_id"`
	Mode    models.Mode    `json:"mode,omitempty"`
	Players []uuid.UUID    `json:"players,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
	At      time.Time      `json:"at"`
}

// For builds an event describing arena a.
func For(t Type, a *models.Arena, payload map[string]any) Event {
	return Event{
		Type:    t,
		ArenaID: a.ID,
		Mode:    a.Mode,
		Players: a.PlayerIDs(),
		Payload: payload,
		At:      time.Now(),
	}
}

// Sink receives events. Publishing is best-effort.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Emit publishes ev and logs a failure instead of returning it.
func Emit(ctx context.Context, sink Sink, log logrus.FieldLogger, ev Event) {
	if sink == nil {
		return
	}
	if err := sink.Publish(ctx, ev); err != nil {
		log.WithFields(logrus.Fields{
			"arena": ev.ArenaID,
			"event": ev.Type,
		}).WithError(err).Warn("failed to publish arena event")
	}
}

// Recorder keeps events in memory. Used by tests and local runs without redis.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many events of type t were recorded.
func (r *Recorder) Count(t Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}
