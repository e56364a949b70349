// internal/arena/manager.go
package arena

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sergioBarril/smashbot/internal/errcode"
	"github.com/sergioBarril/smashbot/internal/events"
	"github.com/sergioBarril/smashbot/internal/models"
	"github.com/sergioBarril/smashbot/internal/notify"
	"github.com/sergioBarril/smashbot/internal/store"
	"github.com/sergioBarril/smashbot/internal/tasks"
	"github.com/sirupsen/logrus"
)

const (
	DefaultKeepFree   = 2
	DefaultCloseGrace = 2 * time.Minute
)

// Config controls channel naming and teardown.
type Config struct {
	ArenaPrefix  string
	RankedPrefix string
	// KeepFree is how many unbound channels per mode survive a release.
	KeepFree   int
	CloseGrace time.Duration
}

// Deps are the collaborators of a Manager.
type Deps struct {
	Store       store.Store
	Provisioner Provisioner
	Notifier    notify.Notifier
	Tasks       *tasks.Registry
	Locks       *tasks.Locks
	Events      events.Sink
	Clock       clockwork.Clock
	Log         logrus.FieldLogger
}

// Manager owns the pool of private arena channels and the end of every
// arena's life: done/resume, grace close, force close and crash recovery.
type Manager struct {
	store    store.Store
	prov     Provisioner
	notifier notify.Notifier
	tasks    *tasks.Registry
	locks    *tasks.Locks
	events   events.Sink
	clock    clockwork.Clock
	log      logrus.FieldLogger
	cfg      Config
	base     context.Context

	poolMu   sync.Mutex
	channels map[string]*models.Channel
	grants   map[string][]uuid.UUID
}

// NewManager builds a manager with an empty pool. Call Recover before serving.
func NewManager(base context.Context, deps Deps, cfg Config) *Manager {
	if cfg.ArenaPrefix == "" {
		cfg.ArenaPrefix = "Arena"
	}
	if cfg.RankedPrefix == "" {
		cfg.RankedPrefix = "Ranked"
	}
	if cfg.KeepFree < 0 {
		cfg.KeepFree = 0
	}
	if cfg.CloseGrace <= 0 {
		cfg.CloseGrace = DefaultCloseGrace
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
	return &Manager{
		store:    deps.Store,
		prov:     deps.Provisioner,
		notifier: deps.Notifier,
		tasks:    deps.Tasks,
		locks:    deps.Locks,
		events:   deps.Events,
		clock:    deps.Clock,
		log:      deps.Log,
		cfg:      cfg,
		base:     base,
		channels: make(map[string]*models.Channel),
		grants:   make(map[string][]uuid.UUID),
	}
}

func closeKey(arenaID uuid.UUID) tasks.Key {
	return tasks.Key{ArenaID: arenaID, Scope: tasks.ScopeClose}
}

// Done marks playerID as finished. Once both players are done the arena is
// closed after the grace period unless someone resumes. It reports whether
// both players are done. Repeating Done does not restart the grace period.
func (m *Manager) Done(ctx context.Context, arenaID, playerID uuid.UUID) (bool, error) {
	unlock := m.locks.Lock(arenaID)
	a, err := m.playing(ctx, arenaID, playerID)
	if err != nil {
		unlock()
		return false, err
	}
	p := a.Player(playerID)
	if p.Status == models.PlayerDone {
		unlock()
		return a.AllPlayers(models.PlayerDone), nil
	}
	p.Status = models.PlayerDone
	a.UpdatedAt = m.clock.Now()
	if err := m.store.UpdateArena(ctx, a); err != nil {
		unlock()
		return false, err
	}
	bothDone := a.AllPlayers(models.PlayerDone)
	if bothDone {
		m.scheduleClose(arenaID)
	}
	unlock()

	if !bothDone {
		m.post(ctx, a, "One player is done. Signal done as well to close the arena.")
		return false, nil
	}
	m.post(ctx, a, fmt.Sprintf("Both players are done. The arena closes in %s unless someone resumes.", m.cfg.CloseGrace))
	return true, nil
}

// Resume takes playerID back from DONE to PLAYING and cancels a pending close.
func (m *Manager) Resume(ctx context.Context, arenaID, playerID uuid.UUID) error {
	unlock := m.locks.Lock(arenaID)
	a, err := m.playing(ctx, arenaID, playerID)
	if err != nil {
		unlock()
		return err
	}
	p := a.Player(playerID)
	if p.Status != models.PlayerDone {
		unlock()
		return errcode.New(errcode.WrongPhase, "player %s is not done", playerID)
	}
	p.Status = models.PlayerPlaying
	a.UpdatedAt = m.clock.Now()
	if err := m.store.UpdateArena(ctx, a); err != nil {
		unlock()
		return err
	}
	cancelled := m.tasks.Cancel(closeKey(arenaID))
	unlock()

	if cancelled {
		m.post(ctx, a, "Close cancelled. Keep playing!")
	}
	return nil
}

// playing loads an arena that must be PLAYING with playerID in it. Caller holds the arena lock.
func (m *Manager) playing(ctx context.Context, arenaID, playerID uuid.UUID) (*models.Arena, error) {
	a, err := m.store.GetArena(ctx, arenaID)
	if err != nil {
		return nil, err
	}
	if !a.HasPlayer(playerID) {
		return nil, errcode.New(errcode.NotParticipant, "player %s is not in arena %s", playerID, arenaID)
	}
	if a.Status != models.StatusPlaying {
		return nil, errcode.New(errcode.WrongPhase, "arena %s is %s", arenaID, a.Status)
	}
	return a, nil
}

// scheduleClose arms the grace timer. The timer closes the arena only if both
// players are still done when it fires. Caller holds the arena lock.
func (m *Manager) scheduleClose(arenaID uuid.UUID) {
	m.tasks.After(m.base, closeKey(arenaID), m.clock, m.cfg.CloseGrace, func(ctx context.Context) {
		closed, err := m.closeIf(ctx, arenaID, "both players are done", func(a *models.Arena) bool {
			return a.Status == models.StatusPlaying && a.AllPlayers(models.PlayerDone)
		})
		log := m.log.WithField("arena", arenaID)
		switch {
		case err != nil:
			log.WithError(err).Warn("grace close failed")
		case !closed:
			log.Debug("grace close skipped, a player resumed")
		}
	})
}

// ForceClose closes an arena right away, whatever its status.
func (m *Manager) ForceClose(ctx context.Context, arenaID uuid.UUID, reason string) error {
	m.tasks.Cancel(closeKey(arenaID))
	return m.close(ctx, arenaID, reason)
}

// CancelAll closes every arena and search. It returns how many were closed.
func (m *Manager) CancelAll(ctx context.Context, reason string) (int, error) {
	all, err := m.store.ListArenas(ctx, store.Filter{})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range all {
		m.tasks.Cancel(closeKey(a.ID))
		if err := m.close(ctx, a.ID, reason); err != nil {
			m.log.WithField("arena", a.ID).WithError(err).Warn("failed to close arena")
			continue
		}
		n++
	}
	return n, nil
}

// close cancels every wait on the arena, deletes it, then frees its channel.
func (m *Manager) close(ctx context.Context, arenaID uuid.UUID, reason string) error {
	_, err := m.closeIf(ctx, arenaID, reason, nil)
	return err
}

// closeIf closes arenaID when cond, checked under the arena lock, holds. A nil
// cond always closes. It reports whether the arena was closed.
func (m *Manager) closeIf(ctx context.Context, arenaID uuid.UUID, reason string, cond func(*models.Arena) bool) (bool, error) {
	unlock := m.locks.Lock(arenaID)
	a, err := m.store.GetArena(ctx, arenaID)
	if err != nil {
		unlock()
		return false, err
	}
	if cond != nil && !cond(a) {
		unlock()
		return false, nil
	}
	m.tasks.CancelArena(arenaID, tasks.ScopeClose)
	if err := m.store.DeleteArena(ctx, arenaID); err != nil {
		unlock()
		return false, err
	}
	unlock()

	log := m.log.WithFields(logrus.Fields{"arena": arenaID, "status": a.Status, "reason": reason})
	if a.ChannelID != nil {
		if err := m.Release(ctx, *a.ChannelID); err != nil {
			log.WithError(err).Error("failed to release arena channel")
		}
	}
	events.Emit(ctx, m.events, m.log, events.For(events.ArenaClosed, a, map[string]any{
		"reason": reason,
		"status": a.Status,
	}))

	text := fmt.Sprintf("Your arena was closed: %s.", reason)
	if a.Status.InPool() {
		text = fmt.Sprintf("Your %s search was cancelled: %s.", a.Mode, reason)
	}
	for _, pid := range a.PlayerIDs() {
		if _, err := m.notifier.Direct(ctx, pid, text); err != nil {
			log.WithField("player", pid).WithError(err).Warn("failed to notify player")
		}
	}
	log.Info("arena closed")
	return true, nil
}

func (m *Manager) post(ctx context.Context, a *models.Arena, text string) {
	if a.ChannelID == nil {
		return
	}
	if _, err := m.notifier.Post(ctx, *a.ChannelID, text); err != nil {
		m.log.WithField("arena", a.ID).WithError(err).Warn("failed to post in arena channel")
	}
}

// RecoverReport summarises a startup reconciliation.
type RecoverReport struct {
	Channels  int
	Playing   int
	Discarded int
	// Rebound counts playing arenas that got a fresh channel because theirs
	// no longer existed.
	Rebound int
	// Ranked lists the PLAYING ranked arenas; their sets are resumed by the
	// ranked engine.
	Ranked []uuid.UUID
}

// Recover reconciles durable state after a restart. The channel pool is
// rebuilt from the provisioner, PLAYING arenas keep their channels, and
// WAITING and CONFIRMATION arenas are dropped because their handshakes died
// with the previous process.
func (m *Manager) Recover(ctx context.Context) (RecoverReport, error) {
	var rep RecoverReport
	m.poolMu.Lock()
	if err := m.loadChannelsLocked(ctx); err != nil {
		m.poolMu.Unlock()
		return rep, err
	}
	rep.Channels = len(m.channels)
	m.poolMu.Unlock()

	all, err := m.store.ListArenas(ctx, store.Filter{})
	if err != nil {
		return rep, err
	}
	for _, a := range all {
		switch a.Status {
		case models.StatusPlaying:
			rep.Playing++
			rebound, err := m.rebind(ctx, a)
			if err != nil {
				return rep, fmt.Errorf("rebind arena %s: %w", a.ID, err)
			}
			if rebound {
				rep.Rebound++
			}
			if a.AllPlayers(models.PlayerDone) {
				unlock := m.locks.Lock(a.ID)
				m.scheduleClose(a.ID)
				unlock()
			}
			if a.Mode == models.ModeRanked && a.GameSetID != nil {
				rep.Ranked = append(rep.Ranked, a.ID)
			}
		case models.StatusWaiting, models.StatusConfirmation:
			if err := m.store.DeleteArena(ctx, a.ID); err != nil {
				return rep, fmt.Errorf("discard arena %s: %w", a.ID, err)
			}
			rep.Discarded++
			events.Emit(ctx, m.events, m.log, events.For(events.SearchLost, a, map[string]any{"status": a.Status}))
			for _, pid := range a.PlayerIDs() {
				if _, err := m.notifier.Direct(ctx, pid, "The bot restarted and your pending match was lost. Please search again."); err != nil {
					m.log.WithField("player", pid).WithError(err).Warn("failed to notify player")
				}
			}
		}
	}
	m.log.WithFields(logrus.Fields{
		"channels":  rep.Channels,
		"playing":   rep.Playing,
		"discarded": rep.Discarded,
		"rebound":   rep.Rebound,
	}).Info("arena state recovered")
	return rep, nil
}

// rebind gives a PLAYING arena back its channel. When the channel no longer
// exists a fresh one is allocated and both players are granted again. It
// reports whether the arena moved to a new channel.
func (m *Manager) rebind(ctx context.Context, a *models.Arena) (bool, error) {
	m.poolMu.Lock()
	if a.ChannelID != nil {
		if ch, ok := m.channels[*a.ChannelID]; ok {
			id := a.ID
			ch.ArenaID = &id
			m.grants[ch.ID] = a.PlayerIDs()
			m.poolMu.Unlock()
			return false, nil
		}
	}
	m.poolMu.Unlock()

	log := m.log.WithField("arena", a.ID)
	if a.ChannelID != nil {
		log = log.WithField("channel", *a.ChannelID)
	}
	log.Warn("playing arena lost its channel")

	ch, err := m.Allocate(ctx, a.ID, a.Mode, a.PlayerIDs())
	if err != nil {
		return false, err
	}
	unlock := m.locks.Lock(a.ID)
	a.ChannelID = &ch.ID
	a.UpdatedAt = m.clock.Now()
	err = m.store.UpdateArena(ctx, a)
	unlock()
	if err != nil {
		if rerr := m.Release(ctx, ch.ID); rerr != nil {
			log.WithError(rerr).Error("failed to release channel after store failure")
		}
		return false, err
	}
	log.WithField("channel", ch.Name).Info("playing arena moved to a new channel")
	m.post(ctx, a, "The bot restarted and your arena channel was recreated here. Carry on!")
	return true, nil
}
