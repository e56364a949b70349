// internal/store/roster.go
package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sergioBarril/smashbot/internal/errcode"
	"github.com/sergioBarril/smashbot/internal/ladder"
	"github.com/sergioBarril/smashbot/internal/models"
)

// MemoryRoster keeps player tier assignments in process memory.
type MemoryRoster struct {
	ladder *ladder.Ladder

	mu    sync.RWMutex
	tiers map[uuid.UUID]uuid.UUID
}

func NewMemoryRoster(l *ladder.Ladder) *MemoryRoster {
	return &MemoryRoster{ladder: l, tiers: make(map[uuid.UUID]uuid.UUID)}
}

// PlayerTier returns nil for players that were never assigned a tier.
func (r *MemoryRoster) PlayerTier(_ context.Context, playerID uuid.UUID) (*models.Tier, error) {
	r.mu.RLock()
	id, ok := r.tiers[playerID]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	t, _ := r.ladder.Get(id)
	return t, nil
}

// SetPlayerTier assigns a tier, or clears it when tierID is nil.
func (r *MemoryRoster) SetPlayerTier(_ context.Context, playerID uuid.UUID, tierID *uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tierID == nil {
		delete(r.tiers, playerID)
		return nil
	}
	if _, ok := r.ladder.Get(*tierID); !ok {
		return errcode.New(errcode.Invalid, "unknown tier %s", *tierID)
	}
	r.tiers[playerID] = *tierID
	return nil
}
