// internal/confirmation/coordinator.go
package confirmation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sergioBarril/smashbot/internal/errcode"
	"github.com/sergioBarril/smashbot/internal/events"
	"github.com/sergioBarril/smashbot/internal/matchmaking"
	"github.com/sergioBarril/smashbot/internal/models"
	"github.com/sergioBarril/smashbot/internal/notify"
	"github.com/sergioBarril/smashbot/internal/signals"
	"github.com/sergioBarril/smashbot/internal/store"
	"github.com/sergioBarril/smashbot/internal/tasks"
	"github.com/sirupsen/logrus"
)

const (
	DefaultMatchTimeout  = 900 * time.Second
	DefaultCancelTimeout = 90 * time.Second
)

// Pool is the part of the matcher the coordinator needs after a failed handshake.
type Pool interface {
	Requeue(ctx context.Context, r matchmaking.Requeue) (*matchmaking.MatchResult, error)
	Discard(ctx context.Context, playerID uuid.UUID) error
}

// Allocator binds a private channel to an accepted arena.
type Allocator interface {
	Allocate(ctx context.Context, arenaID uuid.UUID, mode models.Mode, players []uuid.UUID) (models.Channel, error)
	Release(ctx context.Context, channelID string) error
}

// SetStarter begins ranked play once a RANKED arena is PLAYING.
type SetStarter interface {
	StartSet(ctx context.Context, arenaID uuid.UUID, format models.SetFormat) (*models.GameSet, error)
}

// Deps are the collaborators of a Coordinator. Ranked may be nil.
type Deps struct {
	Store    store.Store
	Pool     Pool
	Alloc    Allocator
	Ranked   SetStarter
	Notifier notify.Notifier
	Signals  *signals.Hub
	Tasks    *tasks.Registry
	Locks    *tasks.Locks
	Events   events.Sink
	Clock    clockwork.Clock
	Log      logrus.FieldLogger
}

// Config holds the handshake timings.
type Config struct {
	MatchTimeout  time.Duration
	CancelTimeout time.Duration
	RankedFormat  models.SetFormat
}

// Coordinator runs the accept/decline handshake of every CONFIRMATION arena.
type Coordinator struct {
	Deps
	cfg  Config
	base context.Context

	// OnOutcome, when set, is called after an outcome has been applied.
	OnOutcome func(arenaID uuid.UUID, o Outcome)
}

// New builds a coordinator. Waits started by Confirm live under base, not
// under the context of whatever request produced the match.
func New(base context.Context, deps Deps, cfg Config) *Coordinator {
	if cfg.MatchTimeout <= 0 {
		cfg.MatchTimeout = DefaultMatchTimeout
	}
	if cfg.CancelTimeout <= 0 {
		cfg.CancelTimeout = DefaultCancelTimeout
	}
	if cfg.RankedFormat == "" {
		cfg.RankedFormat = models.FormatBO3
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
	return &Coordinator{Deps: deps, cfg: cfg, base: base}
}

func confirmationKey(arenaID uuid.UUID) tasks.Key {
	return tasks.Key{ArenaID: arenaID, Scope: tasks.ScopeConfirmation}
}

// Confirm starts the handshake for a freshly paired arena and returns at once.
// It is meant to be installed as the matcher's match hook.
func (c *Coordinator) Confirm(_ context.Context, arena *models.Arena) {
	// subscribe before returning so an immediate accept is never lost
	sub := c.subscribe(arena.ID)
	c.Tasks.Go(c.base, confirmationKey(arena.ID), func(ctx context.Context) {
		defer sub.Close()
		if c.closed(ctx, arena.ID) {
			c.orphaned(ctx, arena)
			return
		}
		o := c.wait(ctx, arena, sub)
		c.apply(ctx, arena, o)
	})
}

// closed reports whether arenaID was deleted, typically by a force close that
// raced the pairing.
func (c *Coordinator) closed(ctx context.Context, arenaID uuid.UUID) bool {
	unlock := c.Locks.Lock(arenaID)
	defer unlock()
	_, err := c.Store.GetArena(ctx, arenaID)
	return errors.Is(err, store.ErrNotFound)
}

// orphaned drops the paused searches of an arena that was closed before its
// handshake finished. Nothing else would ever resume or delete them.
func (c *Coordinator) orphaned(ctx context.Context, arena *models.Arena) {
	log := c.Log.WithField("arena", arena.ID)
	for _, pid := range arena.PlayerIDs() {
		if err := c.Pool.Discard(ctx, pid); err != nil {
			log.WithField("player", pid).WithError(err).Warn("failed to drop paused searches")
		}
	}
	log.Info("arena closed during confirmation")
}

func (c *Coordinator) subscribe(arenaID uuid.UUID) *signals.Subscription {
	return c.Signals.Subscribe(signals.ForArena(arenaID, signals.KindAccept, signals.KindDecline, signals.KindEarlyCancel))
}

// Abandon stops the handshake of arenaID without touching the arena.
func (c *Coordinator) Abandon(arenaID uuid.UUID) bool {
	return c.Tasks.Cancel(confirmationKey(arenaID))
}

// Accept records playerID's acceptance.
func (c *Coordinator) Accept(ctx context.Context, arenaID, playerID uuid.UUID) error {
	return c.signal(ctx, arenaID, playerID, signals.KindAccept)
}

// Decline rejects the pairing on behalf of playerID.
func (c *Coordinator) Decline(ctx context.Context, arenaID, playerID uuid.UUID) error {
	return c.signal(ctx, arenaID, playerID, signals.KindDecline)
}

// EarlyCancel lets a player who accepted stop waiting for an unresponsive
// opponent once the cancel window has opened.
func (c *Coordinator) EarlyCancel(ctx context.Context, arenaID, playerID uuid.UUID) error {
	return c.signal(ctx, arenaID, playerID, signals.KindEarlyCancel)
}

func (c *Coordinator) signal(ctx context.Context, arenaID, playerID uuid.UUID, kind signals.Kind) error {
	a, err := c.Store.GetArena(ctx, arenaID)
	if err != nil {
		return err
	}
	if !a.HasPlayer(playerID) {
		return errcode.New(errcode.NotParticipant, "player %s is not in arena %s", playerID, arenaID)
	}
	if a.Status != models.StatusConfirmation {
		return errcode.New(errcode.WrongPhase, "arena %s is %s", arenaID, a.Status)
	}
	sig := signals.Signal{ArenaID: arenaID, PlayerID: playerID, Kind: kind, At: c.Clock.Now()}
	if c.Signals.Publish(sig) == 0 {
		return errcode.New(errcode.WrongPhase, "arena %s is not waiting for confirmations", arenaID)
	}
	return nil
}

// Run waits for both answers and returns the outcome. It does not apply it.
// Run returns an Abandoned outcome as soon as ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context, arena *models.Arena) Outcome {
	sub := c.subscribe(arena.ID)
	defer sub.Close()
	return c.wait(ctx, arena, sub)
}

func (c *Coordinator) wait(ctx context.Context, arena *models.Arena, sub *signals.Subscription) Outcome {
	log := c.Log.WithField("arena", arena.ID)
	prompts := make(map[uuid.UUID]notify.MessageRef, 2)
	for _, p := range arena.Players {
		text := fmt.Sprintf("Match found (%s)! Accept or decline within %s.", arena.Mode, c.cfg.MatchTimeout)
		if ref, err := c.Notifier.Direct(ctx, p.PlayerID, text); err != nil {
			log.WithField("player", p.PlayerID).WithError(err).Warn("failed to send match prompt")
		} else {
			prompts[p.PlayerID] = ref
		}
	}

	deadlineAt := c.Clock.Now().Add(c.cfg.MatchTimeout)
	deadline := c.Clock.NewTimer(c.cfg.MatchTimeout)
	defer deadline.Stop()

	var (
		accepted   = make(map[uuid.UUID]bool, 2)
		offer      clockwork.Timer
		offerC     <-chan time.Time
		offerFor   uuid.UUID
		offerReady bool
	)
	defer func() {
		if offer != nil {
			offer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return Outcome{Kind: Abandoned}

		case <-deadline.Chan():
			var pending []uuid.UUID
			for _, p := range arena.Players {
				if !accepted[p.PlayerID] {
					pending = append(pending, p.PlayerID)
				}
			}
			if len(pending) == len(arena.Players) {
				return Outcome{Kind: BothTimedOut, Timeout: true}
			}
			return Outcome{Kind: Rejected, Timeout: true, Rejecter: pending[0]}

		case <-offerC:
			offerC = nil
			offerReady = true
			c.direct(ctx, log, offerFor, "Your opponent still hasn't answered. You can cancel the match now.")

		case sig := <-sub.C():
			if !arena.HasPlayer(sig.PlayerID) || !sig.At.Before(deadlineAt) {
				continue
			}
			switch sig.Kind {
			case signals.KindAccept:
				if accepted[sig.PlayerID] {
					continue
				}
				if err := c.markAccepted(ctx, arena.ID, sig.PlayerID); err != nil {
					log.WithField("player", sig.PlayerID).WithError(err).Warn("accept on an arena that left confirmation")
					return Outcome{Kind: Abandoned}
				}
				accepted[sig.PlayerID] = true
				if len(accepted) == len(arena.Players) {
					return Outcome{Kind: AllAccepted}
				}
				if ref, ok := prompts[sig.PlayerID]; ok {
					if err := c.Notifier.Edit(ctx, ref, "Accepted. Waiting for your opponent..."); err != nil {
						log.WithError(err).Debug("failed to edit match prompt")
					}
				}
				offerFor = sig.PlayerID
				offer = c.Clock.NewTimer(c.cfg.CancelTimeout)
				offerC = offer.Chan()

			case signals.KindDecline:
				return Outcome{Kind: Rejected, Rejecter: sig.PlayerID}

			case signals.KindEarlyCancel:
				if !offerReady || sig.PlayerID != offerFor {
					log.WithField("player", sig.PlayerID).Debug("early cancel before the window opened")
					continue
				}
				return Outcome{Kind: Rejected, Timeout: true, Rejecter: arena.Other(sig.PlayerID).PlayerID}
			}
		}
	}
}

func (c *Coordinator) markAccepted(ctx context.Context, arenaID, playerID uuid.UUID) error {
	unlock := c.Locks.Lock(arenaID)
	defer unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	a, err := c.Store.GetArena(ctx, arenaID)
	if err != nil {
		return err
	}
	if a.Status != models.StatusConfirmation {
		return errcode.New(errcode.WrongPhase, "arena %s is %s", arenaID, a.Status)
	}
	a.Player(playerID).Status = models.PlayerAccepted
	a.UpdatedAt = c.Clock.Now()
	return c.Store.UpdateArena(ctx, a)
}

func (c *Coordinator) direct(ctx context.Context, log logrus.FieldLogger, playerID uuid.UUID, text string) {
	if _, err := c.Notifier.Direct(ctx, playerID, text); err != nil {
		log.WithField("player", playerID).WithError(err).Warn("failed to notify player")
	}
}

func (c *Coordinator) apply(ctx context.Context, arena *models.Arena, o Outcome) {
	log := c.Log.WithFields(logrus.Fields{"arena": arena.ID, "outcome": o.Kind})
	switch o.Kind {
	case Abandoned:
		// a close cancels the wait and deletes the arena
		if detached := context.WithoutCancel(ctx); c.closed(detached, arena.ID) {
			c.orphaned(detached, arena)
			return
		}
		log.Info("confirmation abandoned")
		return
	case AllAccepted:
		o.Err = c.promote(ctx, arena.ID)
	case Rejected:
		c.reject(ctx, log, arena, o)
	case BothTimedOut:
		c.dropBoth(ctx, log, arena)
	}
	if c.OnOutcome != nil {
		c.OnOutcome(arena.ID, o)
	}
}

// promote allocates a channel and moves the arena to PLAYING. On allocation
// failure the arena stays in CONFIRMATION with both players ACCEPTED.
func (c *Coordinator) promote(ctx context.Context, arenaID uuid.UUID) error {
	log := c.Log.WithField("arena", arenaID)
	unlock := c.Locks.Lock(arenaID)
	if err := ctx.Err(); err != nil {
		unlock()
		return err
	}
	a, err := c.Store.GetArena(ctx, arenaID)
	if err != nil {
		unlock()
		return err
	}
	if a.Status != models.StatusConfirmation || !a.AllPlayers(models.PlayerAccepted) {
		unlock()
		return errcode.New(errcode.WrongPhase, "arena %s is not fully accepted", arenaID)
	}

	ch, err := c.Alloc.Allocate(ctx, a.ID, a.Mode, a.PlayerIDs())
	if err != nil {
		unlock()
		log.WithError(err).Error("failed to allocate arena channel")
		for _, pid := range a.PlayerIDs() {
			c.direct(ctx, log, pid, "Both players accepted but the arena could not be created. An admin has been notified.")
		}
		return errcode.Wrap(errcode.ResourceAllocationFailed, err, "allocate channel")
	}

	a.Status = models.StatusPlaying
	a.SetPlayersStatus(models.PlayerPlaying)
	a.ChannelID = &ch.ID
	a.UpdatedAt = c.Clock.Now()
	if err := c.Store.UpdateArena(ctx, a); err != nil {
		unlock()
		if relErr := c.Alloc.Release(ctx, ch.ID); relErr != nil {
			log.WithError(relErr).Error("failed to release channel after store failure")
		}
		return fmt.Errorf("promote arena %s: %w", arenaID, err)
	}
	unlock()

	log.WithField("channel", ch.Name).Info("arena is playing")
	events.Emit(ctx, c.Events, c.Log, events.For(events.Playing, a, map[string]any{"channel": ch.Name}))
	for _, pid := range a.PlayerIDs() {
		if err := c.Pool.Discard(ctx, pid); err != nil {
			log.WithField("player", pid).WithError(err).Warn("failed to drop paused searches")
		}
		c.direct(ctx, log, pid, fmt.Sprintf("Both players accepted. Head to %s!", ch.Name))
	}
	if _, err := c.Notifier.Post(ctx, ch.ID, "GLHF! Signal done when you are finished."); err != nil {
		log.WithError(err).Warn("failed to post arena welcome")
	}

	if a.Mode == models.ModeRanked && c.Ranked != nil {
		if _, err := c.Ranked.StartSet(c.base, a.ID, c.cfg.RankedFormat); err != nil {
			log.WithError(err).Error("failed to start ranked set")
		}
	}
	return nil
}

// RetryAllocation retries the PLAYING transition of an arena whose players
// both accepted but whose channel could not be allocated.
func (c *Coordinator) RetryAllocation(ctx context.Context, arenaID uuid.UUID) error {
	return c.promote(ctx, arenaID)
}

// remove deletes arenaID if it is still in CONFIRMATION and returns what was deleted.
func (c *Coordinator) remove(ctx context.Context, arenaID uuid.UUID) (*models.Arena, error) {
	unlock := c.Locks.Lock(arenaID)
	defer unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a, err := c.Store.GetArena(ctx, arenaID)
	if err != nil {
		return nil, err
	}
	if a.Status != models.StatusConfirmation {
		return nil, errcode.New(errcode.WrongPhase, "arena %s is %s", arenaID, a.Status)
	}
	if err := c.Store.DeleteArena(ctx, arenaID); err != nil {
		return nil, err
	}
	return a, nil
}

func (c *Coordinator) reject(ctx context.Context, log logrus.FieldLogger, arena *models.Arena, o Outcome) {
	a, err := c.remove(ctx, arena.ID)
	if err != nil {
		log.WithError(err).Warn("rejection not applied")
		if detached := context.WithoutCancel(ctx); c.closed(detached, arena.ID) {
			c.orphaned(detached, arena)
		}
		return
	}
	survivor := a.Other(o.Rejecter)
	log = log.WithFields(logrus.Fields{"rejecter": o.Rejecter, "survivor": survivor.PlayerID, "timeout": o.Timeout})
	events.Emit(ctx, c.Events, c.Log, events.For(events.Rejected, a, map[string]any{
		"rejecter": o.Rejecter,
		"timeout":  o.Timeout,
	}))

	if err := c.Pool.Discard(ctx, o.Rejecter); err != nil {
		log.WithError(err).Warn("failed to drop rejecter's paused searches")
	}
	if o.Timeout {
		c.direct(ctx, log, o.Rejecter, "You didn't answer in time, so your search was cancelled.")
	} else {
		c.direct(ctx, log, o.Rejecter, "You declined the match. Your search was cancelled.")
	}

	rejected := slices.Clone(survivor.Rejected)
	if !slices.Contains(rejected, o.Rejecter) {
		rejected = append(rejected, o.Rejecter)
	}
	res, err := c.Pool.Requeue(ctx, matchmaking.Requeue{
		PlayerID: survivor.PlayerID,
		Mode:     a.Mode,
		MinTier:  survivor.MinTier,
		MaxTier:  survivor.MaxTier,
		Rejected: rejected,
	})
	if err != nil {
		log.WithError(err).Error("failed to re-queue survivor")
		return
	}
	if !res.Matched {
		c.direct(ctx, log, survivor.PlayerID, "Your opponent didn't accept. You are back in the queue.")
	}
	log.Info("confirmation rejected")
}

func (c *Coordinator) dropBoth(ctx context.Context, log logrus.FieldLogger, arena *models.Arena) {
	a, err := c.remove(ctx, arena.ID)
	if err != nil {
		log.WithError(err).Warn("double timeout not applied")
		if detached := context.WithoutCancel(ctx); c.closed(detached, arena.ID) {
			c.orphaned(detached, arena)
		}
		return
	}
	events.Emit(ctx, c.Events, c.Log, events.For(events.BothTimedOut, a, nil))
	for _, pid := range a.PlayerIDs() {
		if err := c.Pool.Discard(ctx, pid); err != nil {
			log.WithField("player", pid).WithError(err).Warn("failed to drop paused searches")
		}
		c.direct(ctx, log, pid, "Nobody answered the match in time. Your search was cancelled.")
	}
	log.Info("both players timed out")
}
