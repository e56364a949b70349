// internal/ladder/ladder.go
package ladder

import (
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/sergioBarril/smashbot/internal/errcode"
	"github.com/sergioBarril/smashbot/internal/models"
)

// Ladder is the community tier list, ordered by weight ascending.
type Ladder struct {
	tiers []models.Tier
	byID  map[uuid.UUID]int
}

// New builds a ladder. Weights and IDs must be unique.
func New(tiers []models.Tier) (*Ladder, error) {
	sorted := slices.Clone(tiers)
	slices.SortFunc(sorted, func(a, b models.Tier) int { return a.Weight - b.Weight })

	l := &Ladder{tiers: sorted, byID: make(map[uuid.UUID]int, len(sorted))}
	for i, t := range sorted {
		if i > 0 && sorted[i-1].Weight == t.Weight {
			return nil, fmt.Errorf("tiers %s and %s share weight %d", sorted[i-1].Name, t.Name, t.Weight)
		}
		if _, dup := l.byID[t.ID]; dup {
			return nil, fmt.Errorf("duplicate tier id %s", t.ID)
		}
		l.byID[t.ID] = i
	}
	return l, nil
}

// All returns the tiers, weakest first.
func (l *Ladder) All() []models.Tier {
	return slices.Clone(l.tiers)
}

// Get returns the tier with the given ID.
func (l *Ladder) Get(id uuid.UUID) (*models.Tier, bool) {
	i, ok := l.byID[id]
	if !ok {
		return nil, false
	}
	t := l.tiers[i]
	return &t, true
}

// ByChannel returns the tier whose inbound channel is channelID.
func (l *Ladder) ByChannel(channelID string) (*models.Tier, bool) {
	for _, t := range l.tiers {
		if t.ChannelID != "" && t.ChannelID == channelID {
			return &t, true
		}
	}
	return nil, false
}

// Lowest returns the weakest tier, or nil for an empty ladder.
func (l *Ladder) Lowest() *models.Tier {
	if len(l.tiers) == 0 {
		return nil
	}
	t := l.tiers[0]
	return &t
}

// Highest returns the strongest tier, or nil for an empty ladder.
func (l *Ladder) Highest() *models.Tier {
	if len(l.tiers) == 0 {
		return nil
	}
	t := l.tiers[len(l.tiers)-1]
	return &t
}

// Between returns every tier with lo.Weight <= weight <= hi.Weight.
func (l *Ladder) Between(lo, hi *models.Tier) []models.Tier {
	var out []models.Tier
	for _, t := range l.tiers {
		if t.Weight >= lo.Weight && t.Weight <= hi.Weight {
			out = append(out, t)
		}
	}
	return out
}

// BandFor derives a FRIENDLY search band: from the tier of the channel the
// player searched in (the lowest tier when from is nil) up to their own tier.
func (l *Ladder) BandFor(own, from *models.Tier) (Band, error) {
	if own == nil {
		return Band{}, errcode.New(errcode.NoTierAssigned, "player has no tier")
	}
	if from == nil {
		from = l.Lowest()
		if from == nil {
			return Band{}, errcode.New(errcode.NoTierAssigned, "ladder is empty")
		}
	}
	if from.Weight > own.Weight {
		return Band{}, errcode.BadTiers(*own, *from)
	}
	return Band{Min: from, Max: own}, nil
}

// Diff returns the tiers covered by next but not prev (added) and by prev but
// not next (removed).
func (l *Ladder) Diff(prev, next Band) (added, removed []models.Tier) {
	for _, t := range l.tiers {
		inPrev := prev.Contains(&t)
		inNext := next.Contains(&t)
		switch {
		case inNext && !inPrev:
			added = append(added, t)
		case inPrev && !inNext:
			removed = append(removed, t)
		}
	}
	return added, removed
}
