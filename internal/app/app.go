// internal/app/app.go
package app

import (
	"context"

	"github.com/jonboulle/clockwork"
	"github.com/sergioBarril/smashbot/internal/arena"
	"github.com/sergioBarril/smashbot/internal/channels"
	"github.com/sergioBarril/smashbot/internal/confirmation"
	"github.com/sergioBarril/smashbot/internal/events"
	"github.com/sergioBarril/smashbot/internal/ladder"
	"github.com/sergioBarril/smashbot/internal/matchmaking"
	"github.com/sergioBarril/smashbot/internal/models"
	"github.com/sergioBarril/smashbot/internal/notify"
	"github.com/sergioBarril/smashbot/internal/ranked"
	"github.com/sergioBarril/smashbot/internal/signals"
	"github.com/sergioBarril/smashbot/internal/store"
	"github.com/sergioBarril/smashbot/internal/tasks"
	"github.com/sirupsen/logrus"
)

// Options are the pieces that differ between deployments and tests.
type Options struct {
	Store  store.Store
	Sets   store.GameSets
	Roster matchmaking.Roster
	Ladder *ladder.Ladder
	Events events.Sink
	Clock  clockwork.Clock
	Log    logrus.FieldLogger

	Confirmation confirmation.Config
	Arena        arena.Config
	Ranked       ranked.Config
	// Coin overrides the first-ban coin flip.
	Coin func() int
}

// App is the wired engine.
type App struct {
	Store     store.Store
	Ladder    *ladder.Ladder
	Directory *channels.Directory
	Notify    *notify.Hub
	Tasks     *tasks.Registry
	Matcher   *matchmaking.Matcher
	Confirm   *confirmation.Coordinator
	Arenas    *arena.Manager
	Ranked    *ranked.Engine

	log logrus.FieldLogger
}

// New wires every component. Timers and waits started later run under base.
func New(base context.Context, o Options) *App {
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Log == nil {
		o.Log = logrus.StandardLogger()
	}
	if o.Events == nil {
		o.Events = events.Nop{}
	}
	if o.Confirmation.RankedFormat == "" {
		o.Confirmation.RankedFormat = models.FormatBO3
	}

	dir := channels.NewDirectory()
	hub := notify.NewHub(dir, o.Log.WithField("component", "notify"))
	reg := tasks.NewRegistry()
	locks := tasks.NewLocks()
	sigs := signals.NewHub()

	matcher := matchmaking.NewMatcher(o.Store, o.Ladder, o.Roster,
		matchmaking.WithClock(o.Clock),
		matchmaking.WithLogger(o.Log.WithField("component", "matcher")),
		matchmaking.WithEvents(o.Events),
	)
	mgr := arena.NewManager(base, arena.Deps{
		Store:       o.Store,
		Provisioner: dir,
		Notifier:    hub,
		Tasks:       reg,
		Locks:       locks,
		Events:      o.Events,
		Clock:       o.Clock,
		Log:         o.Log.WithField("component", "arena"),
	}, o.Arena)
	engine := ranked.New(base, ranked.Deps{
		Store:    o.Store,
		Sets:     o.Sets,
		Notifier: hub,
		Signals:  sigs,
		Tasks:    reg,
		Locks:    locks,
		Events:   o.Events,
		Clock:    o.Clock,
		Log:      o.Log.WithField("component", "ranked"),
		Coin:     o.Coin,
	}, o.Ranked)
	coord := confirmation.New(base, confirmation.Deps{
		Store:    o.Store,
		Pool:     matcher,
		Alloc:    mgr,
		Ranked:   engine,
		Notifier: hub,
		Signals:  sigs,
		Tasks:    reg,
		Locks:    locks,
		Events:   o.Events,
		Clock:    o.Clock,
		Log:      o.Log.WithField("component", "confirmation"),
	}, o.Confirmation)
	matcher.SetOnMatch(coord.Confirm)

	return &App{
		Store:     o.Store,
		Ladder:    o.Ladder,
		Directory: dir,
		Notify:    hub,
		Tasks:     reg,
		Matcher:   matcher,
		Confirm:   coord,
		Arenas:    mgr,
		Ranked:    engine,
		log:       o.Log,
	}
}

// Recover reconciles stored arenas after a restart and resumes the set loop
// of every ranked arena that was mid-set.
func (a *App) Recover(ctx context.Context) (arena.RecoverReport, error) {
	rep, err := a.Arenas.Recover(ctx)
	if err != nil {
		return rep, err
	}
	for _, id := range rep.Ranked {
		if _, err := a.Ranked.Resume(ctx, id); err != nil {
			a.log.WithField("arena", id).WithError(err).Error("failed to resume ranked set")
		}
	}
	return rep, nil
}

// Shutdown cancels every running wait and timer and waits for them to return.
func (a *App) Shutdown() {
	a.Tasks.Shutdown()
}
