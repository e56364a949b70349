// internal/models/tier.go
package models

import "github.com/google/uuid"

// Tier is one rung of the community ladder. Tiers are ordered by Weight
// (higher is stronger) but two tiers are only the same tier when their IDs match.
type Tier struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Weight    int       `json:"weight"`
	ChannelID string    `json:"channel_id,omitempty"`
}

// Same reports identity equality.
func (t *Tier) Same(other *Tier) bool {
	if t == nil || other == nil {
		return t == other
	}
	return t.ID == other.ID
}
