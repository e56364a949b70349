// internal/models/arena.go
package models

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Mode selects the matchmaking pool an arena belongs to.
type Mode string

const (
	ModeFriendly Mode = "FRIENDLY"
	ModeRanked   Mode = "RANKED"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeFriendly || m == ModeRanked
}

// ArenaStatus is the arena-level state.
//
//	SEARCHING -> CONFIRMATION -> PLAYING -> CLOSED
//	SEARCHING <-> WAITING (paused while its owner is confirming elsewhere)
type ArenaStatus string

const (
	StatusSearching    ArenaStatus = "SEARCHING"
	StatusWaiting      ArenaStatus = "WAITING"
	StatusConfirmation ArenaStatus = "CONFIRMATION"
	StatusPlaying      ArenaStatus = "PLAYING"
	StatusClosed       ArenaStatus = "CLOSED"
)

// InPool reports whether the arena is still an open search request.
func (s ArenaStatus) InPool() bool {
	return s == StatusSearching || s == StatusWaiting
}

// PlayerStatus is the per-occupant state inside an arena.
type PlayerStatus string

const (
	PlayerWaiting      PlayerStatus = "WAITING"
	PlayerConfirmation PlayerStatus = "CONFIRMATION"
	PlayerAccepted     PlayerStatus = "ACCEPTED"
	PlayerPlaying      PlayerStatus = "PLAYING"
	PlayerDone         PlayerStatus = "DONE"
)

// ArenaPlayer is one occupant. MinTier/MaxTier/Rejected are the occupant's
// own search, kept so the occupant can be put back in the pool unchanged.
type ArenaPlayer struct {
	PlayerID uuid.UUID    `json:"player_id"`
	Status   PlayerStatus `json:"status"`
	MinTier  *Tier        `json:"min_tier,omitempty"`
	MaxTier  *Tier        `json:"max_tier,omitempty"`
	Rejected []uuid.UUID  `json:"rejected,omitempty"`
}

// Arena is both a pending search request and, once paired, the session.
type Arena struct {
	ID        uuid.UUID     `json:"id"`
	Mode      Mode          `json:"mode"`
	Status    ArenaStatus   `json:"status"`
	MinTier   *Tier         `json:"min_tier,omitempty"`
	MaxTier   *Tier         `json:"max_tier,omitempty"`
	CreatedBy uuid.UUID     `json:"created_by"`
	Rejected  []uuid.UUID   `json:"rejected,omitempty"`
	Players   []ArenaPlayer `json:"players"`
	ChannelID *string       `json:"channel_id,omitempty"`
	GameSetID *uuid.UUID    `json:"game_set_id,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// NewSearch builds a fresh SEARCHING row for playerID.
func NewSearch(playerID uuid.UUID, mode Mode, minTier, maxTier *Tier, rejected []uuid.UUID, now time.Time) *Arena {
	rej := slices.Clone(rejected)
	return &Arena{
		ID:        uuid.New(),
		Mode:      mode,
		Status:    StatusSearching,
		MinTier:   minTier,
		MaxTier:   maxTier,
		CreatedBy: playerID,
		Rejected:  rej,
		Players: []ArenaPlayer{{
			PlayerID: playerID,
			Status:   PlayerWaiting,
			MinTier:  minTier,
			MaxTier:  maxTier,
			Rejected: slices.Clone(rej),
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Player returns the occupant entry for id, or nil.
func (a *Arena) Player(id uuid.UUID) *ArenaPlayer {
	for i := range a.Players {
		if a.Players[i].PlayerID == id {
			return &a.Players[i]
		}
	}
	return nil
}

// HasPlayer reports whether id occupies the arena.
func (a *Arena) HasPlayer(id uuid.UUID) bool {
	return a.Player(id) != nil
}

// Other returns the occupant that is not id. Only meaningful with two players.
func (a *Arena) Other(id uuid.UUID) *ArenaPlayer {
	for i := range a.Players {
		if a.Players[i].PlayerID != id {
			return &a.Players[i]
		}
	}
	return nil
}

// PlayerIDs returns the occupant IDs in order.
func (a *Arena) PlayerIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(a.Players))
	for _, p := range a.Players {
		ids = append(ids, p.PlayerID)
	}
	return ids
}

// AllPlayers reports whether every occupant is in status s.
func (a *Arena) AllPlayers(s PlayerStatus) bool {
	if len(a.Players) == 0 {
		return false
	}
	for _, p := range a.Players {
		if p.Status != s {
			return false
		}
	}
	return true
}

// SetPlayersStatus sets every occupant to s.
func (a *Arena) SetPlayersStatus(s PlayerStatus) {
	for i := range a.Players {
		a.Players[i].Status = s
	}
}

// HasRejected reports whether id is in the arena's rejected set.
func (a *Arena) HasRejected(id uuid.UUID) bool {
	return slices.Contains(a.Rejected, id)
}

// Clone returns a deep copy. Tiers are shared; they are treated as immutable.
func (a *Arena) Clone() *Arena {
	if a == nil {
		return nil
	}
	c := *a
	c.Rejected = slices.Clone(a.Rejected)
	c.Players = make([]ArenaPlayer, len(a.Players))
	for i, p := range a.Players {
		p.Rejected = slices.Clone(p.Rejected)
		c.Players[i] = p
	}
	if a.ChannelID != nil {
		ch := *a.ChannelID
		c.ChannelID = &ch
	}
	if a.GameSetID != nil {
		gs := *a.GameSetID
		c.GameSetID = &gs
	}
	return &c
}

// Validate checks the structural invariants every stored arena must hold.
func (a *Arena) Validate() error {
	if !a.Mode.Valid() {
		return fmt.Errorf("arena %s: unknown mode %q", a.ID, a.Mode)
	}
	if len(a.Players) == 0 || len(a.Players) > 2 {
		return fmt.Errorf("arena %s: %d players", a.ID, len(a.Players))
	}
	if a.MinTier != nil && a.MaxTier != nil && a.MinTier.Weight > a.MaxTier.Weight {
		return fmt.Errorf("arena %s: min tier %s above max tier %s", a.ID, a.MinTier.Name, a.MaxTier.Name)
	}
	switch a.Status {
	case StatusSearching, StatusWaiting:
		if len(a.Players) != 1 {
			return fmt.Errorf("arena %s: %s with %d players", a.ID, a.Status, len(a.Players))
		}
	case StatusConfirmation, StatusPlaying:
		if len(a.Players) != 2 {
			return fmt.Errorf("arena %s: %s with %d players", a.ID, a.Status, len(a.Players))
		}
		if a.Players[0].PlayerID == a.Players[1].PlayerID {
			return fmt.Errorf("arena %s: player paired with itself", a.ID)
		}
	case StatusClosed:
	default:
		return fmt.Errorf("arena %s: unknown status %q", a.ID, a.Status)
	}
	if (a.ChannelID != nil) != (a.Status == StatusPlaying) {
		return fmt.Errorf("arena %s: channel binding does not match status %s", a.ID, a.Status)
	}
	return nil
}
