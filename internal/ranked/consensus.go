// internal/ranked/consensus.go
package ranked

import (
	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

const (
	OptionPlayerOne = "player-one"
	OptionPlayerTwo = "player-two"
)

// agreement is how many matching votes score a game.
const agreement = 2

// VoteOptions maps each vote option to the player it names. Options are the
// slugs of the characters played, or player-one/player-two when both players
// used the same character.
func VoteOptions(players [2]uuid.UUID, characters map[uuid.UUID]string) map[string]uuid.UUID {
	a, b := characters[players[0]], characters[players[1]]
	if a == "" || b == "" || slug.Make(a) == slug.Make(b) {
		return map[string]uuid.UUID{OptionPlayerOne: players[0], OptionPlayerTwo: players[1]}
	}
	return map[string]uuid.UUID{slug.Make(a): players[0], slug.Make(b): players[1]}
}

// Tally collects result votes for one game. A player may change their vote.
type Tally struct {
	options map[string]uuid.UUID
	votes   map[uuid.UUID]string
}

func NewTally(options map[string]uuid.UUID) *Tally {
	return &Tally{options: options, votes: make(map[uuid.UUID]string, 2)}
}

// Vote records voter's choice. It returns false for an unknown option.
func (t *Tally) Vote(voter uuid.UUID, option string) bool {
	key := slug.Make(option)
	if _, ok := t.options[key]; !ok {
		return false
	}
	t.votes[voter] = key
	return true
}

// Winner returns the agreed winner once enough votes match.
func (t *Tally) Winner() (uuid.UUID, bool) {
	counts := make(map[string]int, len(t.options))
	for _, opt := range t.votes {
		counts[opt]++
		if counts[opt] >= agreement {
			return t.options[opt], true
		}
	}
	return uuid.Nil, false
}
