// internal/ranked/engine.go
package ranked

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/jonboulle/clockwork"
	"github.com/sergioBarril/smashbot/internal/errcode"
	"github.com/sergioBarril/smashbot/internal/events"
	"github.com/sergioBarril/smashbot/internal/models"
	"github.com/sergioBarril/smashbot/internal/notify"
	"github.com/sergioBarril/smashbot/internal/signals"
	"github.com/sergioBarril/smashbot/internal/store"
	"github.com/sergioBarril/smashbot/internal/tasks"
	"github.com/sirupsen/logrus"
)

const DefaultStepTimeout = 10 * time.Minute

// Deps are the collaborators of an Engine.
type Deps struct {
	Store    store.Store
	Sets     store.GameSets
	Notifier notify.Notifier
	Signals  *signals.Hub
	Tasks    *tasks.Registry
	Locks    *tasks.Locks
	Events   events.Sink
	Clock    clockwork.Clock
	Log      logrus.FieldLogger
	// Coin returns 0 or 1 and decides who bans first in game 1.
	Coin func() int
}

type Config struct {
	StepTimeout  time.Duration
	Starters     []string
	Counterpicks []string
}

// Engine runs best-of-N sets inside RANKED arenas. Each set is one long-lived
// wait under the arena's ranked handle; players drive it with signals.
type Engine struct {
	Deps
	cfg        Config
	base       context.Context
	stages     *Catalog
	characters *Catalog
}

func New(base context.Context, deps Deps, cfg Config) *Engine {
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = DefaultStepTimeout
	}
	if len(cfg.Starters) == 0 {
		cfg.Starters = DefaultStarters
	}
	if cfg.Counterpicks == nil {
		cfg.Counterpicks = DefaultCounterpicks
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	if deps.Coin == nil {
		deps.Coin = func() int { return rand.IntN(2) }
	}
	return &Engine{
		Deps:       deps,
		cfg:        cfg,
		base:       base,
		stages:     StageCatalog(cfg.Starters, cfg.Counterpicks),
		characters: CharacterCatalog(),
	}
}

func rankedKey(arenaID uuid.UUID) tasks.Key {
	return tasks.Key{ArenaID: arenaID, Scope: tasks.ScopeRanked}
}

// StartSet creates a set for a PLAYING ranked arena and starts game 1.
func (e *Engine) StartSet(ctx context.Context, arenaID uuid.UUID, format models.SetFormat) (*models.GameSet, error) {
	if format.WinsNeeded() == 0 {
		return nil, errcode.New(errcode.Invalid, "unknown set format %q", format)
	}
	unlock := e.Locks.Lock(arenaID)
	a, err := e.rankedArena(ctx, arenaID)
	if err != nil {
		unlock()
		return nil, err
	}
	now := e.Clock.Now()
	set := &models.GameSet{
		ID:        uuid.New(),
		ArenaID:   arenaID,
		Format:    format,
		Players:   [2]uuid.UUID{a.Players[0].PlayerID, a.Players[1].PlayerID},
		Phase:     models.PhaseAwaitingPicks,
		CreatedAt: now,
	}
	if err := e.Sets.SaveGameSet(ctx, set); err != nil {
		unlock()
		return nil, fmt.Errorf("save set: %w", err)
	}
	a.GameSetID = &set.ID
	a.UpdatedAt = now
	if err := e.Store.UpdateArena(ctx, a); err != nil {
		unlock()
		return nil, err
	}
	unlock()

	e.Log.WithFields(logrus.Fields{"arena": arenaID, "set": set.ID, "format": format}).Info("ranked set started")
	e.run(set.Clone(), *a.ChannelID)
	e.post(ctx, *a.ChannelID, fmt.Sprintf("Ranked set started (%s). Pick your characters for game 1.", format))
	return set, nil
}

// Resume restarts the loop of an unfinished set after a restart. The game
// that was in flight is replayed from character picks; scored games are kept.
// It reports false when the arena has no set to resume or one is running.
func (e *Engine) Resume(ctx context.Context, arenaID uuid.UUID) (bool, error) {
	if _, running := e.Tasks.Get(rankedKey(arenaID)); running {
		return false, nil
	}
	unlock := e.Locks.Lock(arenaID)
	a, err := e.rankedArena(ctx, arenaID)
	if err != nil {
		unlock()
		return false, err
	}
	if a.GameSetID == nil {
		unlock()
		return false, nil
	}
	set, err := e.Sets.GetGameSet(ctx, *a.GameSetID)
	if err != nil {
		unlock()
		return false, err
	}
	if set.Finished() {
		unlock()
		return false, nil
	}
	dropUnscored(set)
	set.Phase = models.PhaseAwaitingPicks
	if err := e.Sets.SaveGameSet(ctx, set); err != nil {
		unlock()
		return false, fmt.Errorf("save resumed set: %w", err)
	}
	unlock()

	e.Log.WithFields(logrus.Fields{"arena": arenaID, "set": set.ID, "games": len(set.Games)}).Info("ranked set resumed")
	e.run(set.Clone(), *a.ChannelID)
	e.post(ctx, *a.ChannelID, fmt.Sprintf("The bot restarted. Game %d starts again from character picks.", len(set.Games)+1))
	return true, nil
}

func (e *Engine) rankedArena(ctx context.Context, arenaID uuid.UUID) (*models.Arena, error) {
	a, err := e.Store.GetArena(ctx, arenaID)
	if err != nil {
		return nil, err
	}
	if a.Mode != models.ModeRanked {
		return nil, errcode.New(errcode.Invalid, "arena %s is not ranked", arenaID)
	}
	if a.Status != models.StatusPlaying || a.ChannelID == nil {
		return nil, errcode.New(errcode.WrongPhase, "arena %s is %s", arenaID, a.Status)
	}
	return a, nil
}

// current loads the arena and its set on behalf of playerID.
func (e *Engine) current(ctx context.Context, arenaID, playerID uuid.UUID) (*models.Arena, *models.GameSet, error) {
	a, err := e.rankedArena(ctx, arenaID)
	if err != nil {
		return nil, nil, err
	}
	if !a.HasPlayer(playerID) {
		return nil, nil, errcode.New(errcode.NotParticipant, "player %s is not in arena %s", playerID, arenaID)
	}
	if a.GameSetID == nil {
		return a, nil, nil
	}
	set, err := e.Sets.GetGameSet(ctx, *a.GameSetID)
	if err != nil {
		return nil, nil, err
	}
	return a, set, nil
}

// CurrentSet returns the latest set of a ranked arena.
func (e *Engine) CurrentSet(ctx context.Context, arenaID uuid.UUID) (*models.GameSet, error) {
	a, err := e.Store.GetArena(ctx, arenaID)
	if err != nil {
		return nil, err
	}
	if a.GameSetID == nil {
		return nil, errcode.New(errcode.NotFound, "arena %s has no ranked set", arenaID)
	}
	return e.Sets.GetGameSet(ctx, *a.GameSetID)
}

// Pick submits playerID's character for the current game.
func (e *Engine) Pick(ctx context.Context, arenaID, playerID uuid.UUID, character string) error {
	name, ok := e.characters.Resolve(character)
	if !ok {
		return errcode.New(errcode.Invalid, "unknown character %q", character)
	}
	return e.signal(ctx, arenaID, playerID, signals.KindCharacter, name, models.PhaseAwaitingPicks)
}

// Stage bans or picks a stage, depending on whose turn it is.
func (e *Engine) Stage(ctx context.Context, arenaID, playerID uuid.UUID, stage string) error {
	name, ok := e.stages.Resolve(stage)
	if !ok {
		return errcode.New(errcode.Invalid, "unknown stage %q", stage)
	}
	return e.signal(ctx, arenaID, playerID, signals.KindStage, name, models.PhaseStageDraft)
}

// Vote reports who won the current game.
func (e *Engine) Vote(ctx context.Context, arenaID, playerID uuid.UUID, option string) error {
	_, set, err := e.current(ctx, arenaID, playerID)
	if err != nil {
		return err
	}
	if set == nil || set.Finished() || set.Phase != models.PhaseAwaitingResult || len(set.Games) == 0 {
		return errcode.New(errcode.WrongPhase, "arena %s is not waiting for a result", arenaID)
	}
	game := set.Games[len(set.Games)-1]
	opts := VoteOptions(set.Players, game.Characters)
	if _, ok := opts[slug.Make(option)]; !ok {
		return errcode.New(errcode.Invalid, "vote for one of %s", strings.Join(optionNames(opts), ", "))
	}
	return e.signal(ctx, arenaID, playerID, signals.KindVote, option, models.PhaseAwaitingResult)
}

func (e *Engine) signal(ctx context.Context, arenaID, playerID uuid.UUID, kind signals.Kind, value string, phase models.SetPhase) error {
	_, set, err := e.current(ctx, arenaID, playerID)
	if err != nil {
		return err
	}
	if set == nil || set.Finished() || set.Phase != phase {
		return errcode.New(errcode.WrongPhase, "arena %s is not in %s", arenaID, phase)
	}
	sig := signals.Signal{ArenaID: arenaID, PlayerID: playerID, Kind: kind, Value: value, At: e.Clock.Now()}
	if e.Signals.Publish(sig) == 0 {
		return errcode.New(errcode.WrongPhase, "arena %s has no set in progress", arenaID)
	}
	return nil
}

// Remake restarts the current game from character picks. The score is kept.
func (e *Engine) Remake(ctx context.Context, arenaID, playerID uuid.UUID) error {
	a, set, err := e.current(ctx, arenaID, playerID)
	if err != nil {
		return err
	}
	if set == nil || set.Finished() {
		return errcode.New(errcode.WrongPhase, "arena %s has no set in progress", arenaID)
	}
	if err := e.stop(ctx, arenaID); err != nil {
		return err
	}
	// reload: the stopped loop may have saved after we first read it
	set, err = e.Sets.GetGameSet(ctx, set.ID)
	if err != nil {
		return err
	}
	if set.Finished() {
		return errcode.New(errcode.WrongPhase, "set %s is already over", set.ID)
	}
	dropUnscored(set)
	set.Phase = models.PhaseAwaitingPicks
	if err := e.Sets.SaveGameSet(ctx, set); err != nil {
		return err
	}
	e.run(set.Clone(), *a.ChannelID)
	e.post(ctx, *a.ChannelID, fmt.Sprintf("Game %d is being remade. Pick your characters again.", len(set.Games)+1))
	return nil
}

// Rematch replaces the arena's set with a fresh one. An unfinished set is
// abandoned. An empty format reuses the previous set's format.
func (e *Engine) Rematch(ctx context.Context, arenaID, playerID uuid.UUID, format models.SetFormat) (*models.GameSet, error) {
	_, set, err := e.current(ctx, arenaID, playerID)
	if err != nil {
		return nil, err
	}
	if format == "" {
		format = models.FormatBO3
		if set != nil {
			format = set.Format
		}
	}
	if format.WinsNeeded() == 0 {
		return nil, errcode.New(errcode.Invalid, "unknown set format %q", format)
	}
	if err := e.stop(ctx, arenaID); err != nil {
		return nil, err
	}
	if set != nil {
		set, err = e.Sets.GetGameSet(ctx, set.ID)
		if err != nil {
			return nil, err
		}
		if !set.Finished() {
			e.abandon(ctx, set, "rematch")
		}
	}
	return e.StartSet(ctx, arenaID, format)
}

// stop cancels the running set loop and waits for it to exit.
func (e *Engine) stop(ctx context.Context, arenaID uuid.UUID) error {
	h, ok := e.Tasks.Get(rankedKey(arenaID))
	if !ok {
		return nil
	}
	h.Cancel()
	select {
	case <-h.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) run(set *models.GameSet, channelID string) {
	sub := e.Signals.Subscribe(signals.ForArena(set.ArenaID, signals.KindCharacter, signals.KindStage, signals.KindVote))
	e.Tasks.Go(e.base, rankedKey(set.ArenaID), func(ctx context.Context) {
		defer sub.Close()
		r := &setRun{
			Engine:  e,
			ctx:     ctx,
			sub:     sub,
			set:     set,
			channel: channelID,
			log:     e.Log.WithFields(logrus.Fields{"arena": set.ArenaID, "set": set.ID}),
		}
		r.play()
	})
}

func (e *Engine) post(ctx context.Context, channelID, text string) {
	if _, err := e.Notifier.Post(ctx, channelID, text); err != nil {
		e.Log.WithField("channel", channelID).WithError(err).Warn("failed to post in arena channel")
	}
}

func (e *Engine) direct(ctx context.Context, playerID uuid.UUID, text string) {
	if _, err := e.Notifier.Direct(ctx, playerID, text); err != nil {
		e.Log.WithField("player", playerID).WithError(err).Warn("failed to notify player")
	}
}

// abandon marks a set whose loop is no longer running as abandoned.
func (e *Engine) abandon(ctx context.Context, set *models.GameSet, reason string) {
	markAbandoned(set, e.Clock.Now())
	if err := e.Sets.SaveGameSet(ctx, set); err != nil {
		e.Log.WithField("set", set.ID).WithError(err).Error("failed to save abandoned set")
	}
	e.emit(ctx, set, events.SetAbandoned, map[string]any{"reason": reason})
}

func markAbandoned(set *models.GameSet, now time.Time) {
	dropUnscored(set)
	set.Abandoned = true
	set.FinishedAt = &now
}

func (e *Engine) emit(ctx context.Context, set *models.GameSet, t events.Type, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["set"] = set.ID
	payload["format"] = set.Format
	events.Emit(ctx, e.Events, e.Log, events.Event{
		Type:    t,
		ArenaID: set.ArenaID,
		Mode:    models.ModeRanked,
		Players: set.Players[:],
		Payload: payload,
		At:      e.Clock.Now(),
	})
}

// dropUnscored removes a trailing game that never got a winner.
func dropUnscored(set *models.GameSet) {
	if n := len(set.Games); n > 0 && set.Games[n-1].WinnerID == nil {
		set.Games = set.Games[:n-1]
	}
}

func optionNames(opts map[string]uuid.UUID) []string {
	names := make([]string, 0, len(opts))
	for k := range opts {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}

var errStepTimeout = errcode.New(errcode.ConsensusTimeout, "a ranked step timed out")

// setRun is the state of one running set loop.
type setRun struct {
	*Engine
	ctx     context.Context
	sub     *signals.Subscription
	set     *models.GameSet
	channel string
	log     logrus.FieldLogger
}

func (r *setRun) play() {
	for {
		winner, err := r.playGame()
		switch {
		case errors.Is(err, errStepTimeout):
			r.log.Info("ranked step timed out; abandoning set")
			markAbandoned(r.set, r.Clock.Now())
			if err := r.save(); err != nil {
				r.log.WithError(err).Warn("failed to save abandoned set")
				return
			}
			r.emit(r.ctx, r.set, events.SetAbandoned, map[string]any{"reason": "step timeout"})
			r.post(r.ctx, r.channel, "Nobody answered in time, so the set was abandoned. The arena stays open.")
			return
		case err != nil:
			if r.ctx.Err() == nil {
				r.log.WithError(err).Error("ranked set stopped")
			}
			return
		}

		score := r.set.Score()
		if score[winner] >= r.set.Format.WinsNeeded() {
			r.finish(winner, score)
			return
		}
		r.emit(r.ctx, r.set, events.GameScored, map[string]any{
			"game":   len(r.set.Games),
			"winner": winner,
			"stage":  r.set.Games[len(r.set.Games)-1].Stage,
		})
		r.post(r.ctx, r.channel, fmt.Sprintf("Score: %d-%d.", score[r.set.Players[0]], score[r.set.Players[1]]))
	}
}

func (r *setRun) finish(winner uuid.UUID, score map[uuid.UUID]int) {
	now := r.Clock.Now()
	r.set.WinnerID = &winner
	r.set.Phase = models.PhaseSetComplete
	r.set.FinishedAt = &now
	if err := r.save(); err != nil {
		r.log.WithError(err).Error("failed to save finished set")
		return
	}
	r.emit(r.ctx, r.set, events.SetComplete, map[string]any{"winner": winner, "games": len(r.set.Games)})
	r.log.WithField("winner", winner).Info("ranked set complete")
	r.post(r.ctx, r.channel, fmt.Sprintf("Set over! Final score %d-%d. The arena stays open until you are done.",
		score[r.set.Players[0]], score[r.set.Players[1]]))
}

// save persists the set unless the loop has been cancelled, so a superseded
// loop never overwrites its replacement.
func (r *setRun) save() error {
	unlock := r.Locks.Lock(r.set.ArenaID)
	defer unlock()
	if err := r.ctx.Err(); err != nil {
		return err
	}
	return r.Sets.SaveGameSet(r.ctx, r.set)
}

// await feeds signals of kind to handle until it reports done. The step
// fails with errStepTimeout after the configured timeout.
func (r *setRun) await(kind signals.Kind, handle func(signals.Signal) (bool, error)) error {
	deadlineAt := r.Clock.Now().Add(r.cfg.StepTimeout)
	timer := r.Clock.NewTimer(r.cfg.StepTimeout)
	defer timer.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return r.ctx.Err()
		case <-timer.Chan():
			return errStepTimeout
		case sig := <-r.sub.C():
			if sig.Kind != kind || !sig.At.Before(deadlineAt) {
				r.log.WithFields(logrus.Fields{"player": sig.PlayerID, "kind": sig.Kind}).Debug("ignoring out of step signal")
				continue
			}
			done, err := handle(sig)
			if err != nil || done {
				return err
			}
		}
	}
}

func (r *setRun) setPhase(p models.SetPhase) error {
	r.set.Phase = p
	return r.save()
}

func (r *setRun) playGame() (uuid.UUID, error) {
	dropUnscored(r.set)
	prev := r.set.LastFinished()
	n := len(r.set.Games) + 1
	r.set.Games = append(r.set.Games, models.Game{Number: n, Characters: map[uuid.UUID]string{}})
	game := &r.set.Games[len(r.set.Games)-1]
	if err := r.setPhase(models.PhaseAwaitingPicks); err != nil {
		return uuid.Nil, err
	}

	var stages []string
	var order []Step
	if prev == nil {
		if err := r.blindPicks(game); err != nil {
			return uuid.Nil, err
		}
		first := r.set.Players[r.Coin()&1]
		order = FirstGameOrder(first, r.set.Opponent(first))
		stages = r.cfg.Starters
	} else {
		winner := *prev.WinnerID
		loser := r.set.Opponent(winner)
		if err := r.orderedPicks(game, prev, winner, loser); err != nil {
			return uuid.Nil, err
		}
		order = LaterGameOrder(loser, winner)
		stages = append(slices.Clone(r.cfg.Starters), r.cfg.Counterpicks...)
	}

	if err := r.setPhase(models.PhaseStageDraft); err != nil {
		return uuid.Nil, err
	}
	if err := r.draft(game, NewDraft(stages, order)); err != nil {
		return uuid.Nil, err
	}

	if err := r.setPhase(models.PhaseAwaitingResult); err != nil {
		return uuid.Nil, err
	}
	return r.result(game)
}

func (r *setRun) blindPicks(game *models.Game) error {
	for _, p := range r.set.Players {
		r.direct(r.ctx, p, fmt.Sprintf("Game %d: pick your character. Your opponent won't see it until you both pick.", game.Number))
	}
	err := r.await(signals.KindCharacter, func(sig signals.Signal) (bool, error) {
		if _, picked := game.Characters[sig.PlayerID]; picked {
			r.direct(r.ctx, sig.PlayerID, "You already picked for this game.")
			return false, nil
		}
		game.Characters[sig.PlayerID] = sig.Value
		if err := r.save(); err != nil {
			return false, err
		}
		return len(game.Characters) == len(r.set.Players), nil
	})
	if err != nil {
		return err
	}
	a, b := r.set.Players[0], r.set.Players[1]
	r.post(r.ctx, r.channel, fmt.Sprintf("Game %d: %s vs %s.", game.Number, game.Characters[a], game.Characters[b]))
	return nil
}

// orderedPicks lets the previous winner pick first; the loser then picks
// knowing the winner's character.
func (r *setRun) orderedPicks(game, prev *models.Game, winner, loser uuid.UUID) error {
	r.direct(r.ctx, winner, fmt.Sprintf("Game %d: you won the last game, so you pick first. Your opponent played %s.",
		game.Number, prev.Characters[loser]))
	pickBy := func(player uuid.UUID) func(signals.Signal) (bool, error) {
		return func(sig signals.Signal) (bool, error) {
			if sig.PlayerID != player {
				r.direct(r.ctx, sig.PlayerID, "Wait for your opponent to pick first.")
				return false, nil
			}
			game.Characters[player] = sig.Value
			return true, r.save()
		}
	}
	if err := r.await(signals.KindCharacter, pickBy(winner)); err != nil {
		return err
	}
	r.direct(r.ctx, loser, fmt.Sprintf("Game %d: your opponent picked %s. Pick your character.", game.Number, game.Characters[winner]))
	return r.await(signals.KindCharacter, pickBy(loser))
}

func (r *setRun) draft(game *models.Game, d *Draft) error {
	for !d.Done() {
		step, _ := d.Turn()
		verb := "Ban"
		if step.Action == ActionPick {
			verb = "Pick"
		}
		r.direct(r.ctx, step.Player, fmt.Sprintf("Game %d: %s a stage: %s.", game.Number, verb, strings.Join(d.Remaining(), ", ")))
		err := r.await(signals.KindStage, func(sig signals.Signal) (bool, error) {
			switch err := d.Apply(sig.PlayerID, sig.Value); {
			case errors.Is(err, ErrWrongTurn):
				r.direct(r.ctx, sig.PlayerID, "It's not your turn to choose a stage.")
				return false, nil
			case errors.Is(err, ErrIllegalStage):
				r.direct(r.ctx, sig.PlayerID, fmt.Sprintf("%s is not available. Choose from: %s.", sig.Value, strings.Join(d.Remaining(), ", ")))
				return false, nil
			case err != nil:
				return false, err
			}
			game.Bans = d.Bans()
			return true, r.save()
		})
		if err != nil {
			return err
		}
	}
	game.Stage = d.Stage()
	if err := r.save(); err != nil {
		return err
	}
	r.post(r.ctx, r.channel, fmt.Sprintf("Game %d will be played on %s.", game.Number, game.Stage))
	return nil
}

func (r *setRun) result(game *models.Game) (uuid.UUID, error) {
	opts := VoteOptions(r.set.Players, game.Characters)
	tally := NewTally(opts)
	r.post(r.ctx, r.channel, fmt.Sprintf("When game %d is over, both vote for the winner: %s.",
		game.Number, strings.Join(optionNames(opts), " or ")))
	err := r.await(signals.KindVote, func(sig signals.Signal) (bool, error) {
		if !tally.Vote(sig.PlayerID, sig.Value) {
			r.direct(r.ctx, sig.PlayerID, fmt.Sprintf("Vote for one of: %s.", strings.Join(optionNames(opts), ", ")))
			return false, nil
		}
		_, agreed := tally.Winner()
		return agreed, nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	winner, _ := tally.Winner()
	game.WinnerID = &winner
	if err := r.save(); err != nil {
		return uuid.Nil, err
	}
	return winner, nil
}
