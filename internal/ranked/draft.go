// internal/ranked/draft.go
package ranked

import (
	"errors"
	"slices"

	"github.com/google/uuid"
	"github.com/sergioBarril/smashbot/internal/models"
)

var (
	ErrWrongTurn     = errors.New("not your turn")
	ErrIllegalStage  = errors.New("stage is not available")
	ErrDraftComplete = errors.New("draft already complete")
)

type Action string

const (
	ActionBan  Action = "ban"
	ActionPick Action = "pick"
)

// Step is one slot of a draft order.
type Step struct {
	Player uuid.UUID
	Action Action
}

// FirstGameOrder is the game 1 order: the coin winner bans, the other player
// bans twice, then the coin winner again.
func FirstGameOrder(first, other uuid.UUID) []Step {
	return []Step{
		{Player: first, Action: ActionBan},
		{Player: other, Action: ActionBan},
		{Player: other, Action: ActionBan},
		{Player: first, Action: ActionBan},
	}
}

// LaterGameOrder is the order for game 2 onwards: the previous loser bans
// three stages and the previous winner picks from what is left.
func LaterGameOrder(loser, winner uuid.UUID) []Step {
	return []Step{
		{Player: loser, Action: ActionBan},
		{Player: loser, Action: ActionBan},
		{Player: loser, Action: ActionBan},
		{Player: winner, Action: ActionPick},
	}
}

// Draft is the ban/pick elimination for a single game. It holds no locks;
// the set loop owns it.
type Draft struct {
	order     []Step
	cursor    int
	remaining []string
	bans      []models.StageBan
	stage     string
}

// NewDraft starts a draft over stages. A list of one stage is complete at once.
func NewDraft(stages []string, order []Step) *Draft {
	d := &Draft{order: order, remaining: slices.Clone(stages)}
	d.settle()
	return d
}

// Turn returns the step waiting to be played.
func (d *Draft) Turn() (Step, bool) {
	if d.Done() {
		return Step{}, false
	}
	return d.order[d.cursor], true
}

// Apply plays stage for player on the current step.
func (d *Draft) Apply(player uuid.UUID, stage string) error {
	step, ok := d.Turn()
	if !ok {
		return ErrDraftComplete
	}
	if step.Player != player {
		return ErrWrongTurn
	}
	i := slices.Index(d.remaining, stage)
	if i < 0 {
		return ErrIllegalStage
	}
	d.cursor++
	if step.Action == ActionPick {
		d.stage = stage
		return nil
	}
	d.remaining = slices.Delete(d.remaining, i, i+1)
	d.bans = append(d.bans, models.StageBan{PlayerID: player, Stage: stage})
	d.settle()
	return nil
}

// settle ends the draft once a single stage is left, or when the order runs
// out with several left, in which case the first remaining stage is played.
func (d *Draft) settle() {
	if d.stage != "" {
		return
	}
	switch {
	case len(d.remaining) == 1:
		d.stage = d.remaining[0]
	case d.cursor >= len(d.order) && len(d.remaining) > 0:
		d.stage = d.remaining[0]
	}
}

func (d *Draft) Done() bool { return d.stage != "" }

// Stage is the chosen stage, empty until the draft is done.
func (d *Draft) Stage() string { return d.stage }

func (d *Draft) Remaining() []string { return slices.Clone(d.remaining) }

func (d *Draft) Bans() []models.StageBan { return slices.Clone(d.bans) }
