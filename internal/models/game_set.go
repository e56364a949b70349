// internal/models/game_set.go
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SetFormat is the win condition of a ranked set.
type SetFormat string

const (
	FormatBO3  SetFormat = "BO3"
	FormatBO5  SetFormat = "BO5"
	FormatFT5  SetFormat = "FT5"
	FormatFT10 SetFormat = "FT10"
)

// WinsNeeded returns how many games a player must take to win the set.
func (f SetFormat) WinsNeeded() int {
	switch f {
	case FormatBO3:
		return 2
	case FormatBO5:
		return 3
	case FormatFT5:
		return 5
	case FormatFT10:
		return 10
	}
	return 0
}

// ParseSetFormat accepts "bo3", "BO5", "ft10" and so on.
func ParseSetFormat(s string) (SetFormat, error) {
	f := SetFormat(strings.ToUpper(strings.TrimSpace(s)))
	if f.WinsNeeded() == 0 {
		return "", fmt.Errorf("unknown set format %q", s)
	}
	return f, nil
}

// SetPhase tracks where the current game of a set is.
type SetPhase string

const (
	PhaseAwaitingPicks  SetPhase = "AWAITING_PICKS"
	PhaseStageDraft     SetPhase = "STAGE_DRAFT"
	PhaseAwaitingResult SetPhase = "AWAITING_RESULT"
	PhaseSetComplete    SetPhase = "SET_COMPLETE"
)

// StageBan records a single draft action.
type StageBan struct {
	PlayerID uuid.UUID `json:"player_id"`
	Stage    string    `json:"stage"`
}

// Game is one game of a set.
type Game struct {
	Number     int                  `json:"number"`
	Stage      string               `json:"stage,omitempty"`
	Characters map[uuid.UUID]string `json:"characters"`
	Bans       []StageBan           `json:"bans,omitempty"`
	WinnerID   *uuid.UUID           `json:"winner_id,omitempty"`
}

// GameSet is a best-of-N (or first-to-N) series inside one ranked arena.
type GameSet struct {
	ID         uuid.UUID    `json:"id"`
	ArenaID    uuid.UUID    `json:"arena_id"`
	Format     SetFormat    `json:"format"`
	Players    [2]uuid.UUID `json:"players"`
	Games      []Game       `json:"games"`
	Phase      SetPhase     `json:"phase"`
	WinnerID   *uuid.UUID   `json:"winner_id,omitempty"`
	Abandoned  bool         `json:"abandoned"`
	CreatedAt  time.Time    `json:"created_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
}

// Score returns the number of games won by each player.
func (s *GameSet) Score() map[uuid.UUID]int {
	score := map[uuid.UUID]int{s.Players[0]: 0, s.Players[1]: 0}
	for _, g := range s.Games {
		if g.WinnerID != nil {
			score[*g.WinnerID]++
		}
	}
	return score
}

// Finished reports whether the set no longer accepts games.
func (s *GameSet) Finished() bool {
	return s.WinnerID != nil || s.Abandoned
}

// Opponent returns the other player of the set.
func (s *GameSet) Opponent(id uuid.UUID) uuid.UUID {
	if s.Players[0] == id {
		return s.Players[1]
	}
	return s.Players[0]
}

// LastFinished returns the most recent scored game, or nil.
func (s *GameSet) LastFinished() *Game {
	for i := len(s.Games) - 1; i >= 0; i-- {
		if s.Games[i].WinnerID != nil {
			return &s.Games[i]
		}
	}
	return nil
}

// Clone returns a deep copy of the set.
func (s *GameSet) Clone() *GameSet {
	if s == nil {
		return nil
	}
	c := *s
	c.Games = make([]Game, len(s.Games))
	for i, g := range s.Games {
		chars := make(map[uuid.UUID]string, len(g.Characters))
		for k, v := range g.Characters {
			chars[k] = v
		}
		g.Characters = chars
		g.Bans = append([]StageBan(nil), g.Bans...)
		c.Games[i] = g
	}
	return &c
}
