// internal/ladder/band.go
package ladder

import "github.com/sergioBarril/smashbot/internal/models"

// Band is an inclusive [Min, Max] tier range.
type Band struct {
	Min *models.Tier
	Max *models.Tier
}

// Valid reports whether both ends are set and ordered.
func (b Band) Valid() bool {
	return b.Min != nil && b.Max != nil && b.Min.Weight <= b.Max.Weight
}

// Overlaps reports whether the two bands share at least one weight.
func (b Band) Overlaps(other Band) bool {
	if !b.Valid() || !other.Valid() {
		return false
	}
	return other.Min.Weight <= b.Max.Weight && other.Max.Weight >= b.Min.Weight
}

// Contains reports whether t falls inside the band.
func (b Band) Contains(t *models.Tier) bool {
	if !b.Valid() || t == nil {
		return false
	}
	return t.Weight >= b.Min.Weight && t.Weight <= b.Max.Weight
}

// Equal compares band ends by tier identity.
func (b Band) Equal(other Band) bool {
	return b.Min.Same(other.Min) && b.Max.Same(other.Max)
}

// BandOf reads the band stored on an arena row.
func BandOf(a *models.Arena) Band {
	return Band{Min: a.MinTier, Max: a.MaxTier}
}
