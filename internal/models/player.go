// internal/models/player.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// Player is a participant known to the engine. TierID is nil for unranked players.
type Player struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name"`
	TierID    *uuid.UUID `json:"tier_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
