package ranked

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sergioBarril/smashbot/internal/errcode"
	"github.com/sergioBarril/smashbot/internal/events"
	"github.com/sergioBarril/smashbot/internal/models"
	"github.com/sergioBarril/smashbot/internal/notify"
	"github.com/sergioBarril/smashbot/internal/signals"
	"github.com/sergioBarril/smashbot/internal/store"
	"github.com/sergioBarril/smashbot/internal/tasks"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stepTimeout = 5 * time.Minute

type setFixture struct {
	t      *testing.T
	ctx    context.Context
	store  *store.MemoryStore
	tasks  *tasks.Registry
	clock  *clockwork.FakeClock
	events *events.Recorder
	engine *Engine
	arena  *models.Arena
	p1, p2 uuid.UUID
}

func newSetFixture(t *testing.T) *setFixture {
	t.Helper()
	log, _ := logtest.NewNullLogger()
	f := &setFixture{
		t:      t,
		ctx:    context.Background(),
		store:  store.NewMemoryStore(),
		tasks:  tasks.NewRegistry(),
		clock:  clockwork.NewFakeClock(),
		events: &events.Recorder{},
		p1:     uuid.New(),
		p2:     uuid.New(),
	}
	f.engine = f.newEngine(log)

	a := models.NewSearch(f.p1, models.ModeRanked, nil, nil, nil, f.clock.Now())
	a.Players = append(a.Players, models.ArenaPlayer{PlayerID: f.p2})
	a.Status = models.StatusPlaying
	a.SetPlayersStatus(models.PlayerPlaying)
	channel := "ranked-1"
	a.ChannelID = &channel
	require.NoError(t, f.store.CreateArena(f.ctx, a))
	f.arena = a
	t.Cleanup(f.tasks.Shutdown)
	return f
}

func (f *setFixture) newEngine(log logrus.FieldLogger) *Engine {
	return New(f.ctx, Deps{
		Store:    f.store,
		Sets:     f.store,
		Notifier: notify.NewHub(nil, log),
		Signals:  signals.NewHub(),
		Tasks:    f.tasks,
		Locks:    tasks.NewLocks(),
		Events:   f.events,
		Clock:    f.clock,
		Log:      log,
		Coin:     func() int { return 0 },
	}, Config{StepTimeout: stepTimeout})
}

// restart stops every running loop and builds a fresh engine over the same
// store, the way a new process would.
func (f *setFixture) restart() {
	f.t.Helper()
	f.tasks.Shutdown()
	f.tasks = tasks.NewRegistry()
	f.t.Cleanup(f.tasks.Shutdown)
	log, _ := logtest.NewNullLogger()
	f.engine = f.newEngine(log)
}

func (f *setFixture) set() *models.GameSet {
	f.t.Helper()
	s, err := f.engine.CurrentSet(f.ctx, f.arena.ID)
	require.NoError(f.t, err)
	return s
}

// waitFor blocks until the current game is number n and in phase p.
func (f *setFixture) waitFor(n int, p models.SetPhase) {
	f.t.Helper()
	require.Eventually(f.t, func() bool {
		s := f.set()
		return len(s.Games) == n && s.Phase == p
	}, 2*time.Second, 2*time.Millisecond, "game %d never reached %s", n, p)
}

func (f *setFixture) pick(p uuid.UUID, character string) {
	f.t.Helper()
	require.NoError(f.t, f.engine.Pick(f.ctx, f.arena.ID, p, character))
}

func (f *setFixture) stage(p uuid.UUID, stage string) {
	f.t.Helper()
	require.NoError(f.t, f.engine.Stage(f.ctx, f.arena.ID, p, stage))
}

func (f *setFixture) vote(p uuid.UUID, option string) {
	f.t.Helper()
	require.NoError(f.t, f.engine.Vote(f.ctx, f.arena.ID, p, option))
}

// firstGame plays game 1 with p1 banning first and p1 winning on Smashville.
func (f *setFixture) firstGame() {
	f.waitFor(1, models.PhaseAwaitingPicks)
	f.pick(f.p1, "mario")
	f.pick(f.p2, "Fox")

	f.waitFor(1, models.PhaseStageDraft)
	f.stage(f.p1, "bf")
	f.stage(f.p2, "Small Battlefield")
	f.stage(f.p2, "fd")
	f.stage(f.p1, "ps2")

	f.waitFor(1, models.PhaseAwaitingResult)
	f.vote(f.p1, "mario")
	f.vote(f.p2, "mario")
}

func TestBestOfThreeSweep(t *testing.T) {
	f := newSetFixture(t)
	_, err := f.engine.StartSet(f.ctx, f.arena.ID, models.FormatBO3)
	require.NoError(t, err)

	f.firstGame()

	f.waitFor(2, models.PhaseAwaitingPicks)
	g1 := f.set().Games[0]
	assert.Equal(t, "Smashville", g1.Stage)
	assert.Equal(t, "Mario", g1.Characters[f.p1])
	assert.Equal(t, "Fox", g1.Characters[f.p2])
	require.NotNil(t, g1.WinnerID)
	assert.Equal(t, f.p1, *g1.WinnerID)
	assert.Len(t, g1.Bans, 4)

	// the winner picks first; the loser's pick is queued behind it
	f.pick(f.p1, "Mario")
	f.pick(f.p2, "Falco")

	f.waitFor(2, models.PhaseStageDraft)
	f.stage(f.p2, "Battlefield")
	f.stage(f.p2, "Smashville")
	f.stage(f.p2, "Final Destination")
	f.stage(f.p1, "Town and City")

	f.waitFor(2, models.PhaseAwaitingResult)
	assert.Equal(t, "Town and City", f.set().Games[1].Stage)
	f.vote(f.p2, "mario")
	f.vote(f.p1, "mario")

	require.Eventually(t, func() bool {
		return f.set().Phase == models.PhaseSetComplete
	}, 2*time.Second, 2*time.Millisecond)
	s := f.set()
	require.NotNil(t, s.WinnerID)
	assert.Equal(t, f.p1, *s.WinnerID)
	assert.Equal(t, map[uuid.UUID]int{f.p1: 2, f.p2: 0}, s.Score())
	assert.Equal(t, 1, f.events.Count(events.SetComplete))
	assert.Equal(t, 1, f.events.Count(events.GameScored))

	a, err := f.store.GetArena(f.ctx, f.arena.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPlaying, a.Status)
}

func TestVoteNeedsAgreement(t *testing.T) {
	f := newSetFixture(t)
	_, err := f.engine.StartSet(f.ctx, f.arena.ID, models.FormatBO3)
	require.NoError(t, err)

	f.waitFor(1, models.PhaseAwaitingPicks)
	f.pick(f.p1, "Fox")
	f.pick(f.p2, "Fox")
	f.waitFor(1, models.PhaseStageDraft)
	for _, s := range []struct {
		p     uuid.UUID
		stage string
	}{{f.p1, "bf"}, {f.p2, "sbf"}, {f.p2, "fd"}, {f.p1, "sv"}} {
		f.stage(s.p, s.stage)
	}
	f.waitFor(1, models.PhaseAwaitingResult)

	// same character on both sides: vote by seat
	err = f.engine.Vote(f.ctx, f.arena.ID, f.p1, "fox")
	assert.ErrorIs(t, err, errcode.ErrInvalid)

	f.vote(f.p1, OptionPlayerOne)
	f.vote(f.p2, OptionPlayerTwo)
	f.vote(f.p2, OptionPlayerOne)

	f.waitFor(2, models.PhaseAwaitingPicks)
	g1 := f.set().Games[0]
	assert.Equal(t, "Pokémon Stadium 2", g1.Stage)
	require.NotNil(t, g1.WinnerID)
	assert.Equal(t, f.p1, *g1.WinnerID)
}

func TestRemakeRestartsTheSameGame(t *testing.T) {
	f := newSetFixture(t)
	_, err := f.engine.StartSet(f.ctx, f.arena.ID, models.FormatBO3)
	require.NoError(t, err)
	f.firstGame()

	f.waitFor(2, models.PhaseAwaitingPicks)
	f.pick(f.p1, "Mario")
	f.pick(f.p2, "Falco")
	f.waitFor(2, models.PhaseStageDraft)

	require.NoError(t, f.engine.Remake(f.ctx, f.arena.ID, f.p2))

	f.waitFor(2, models.PhaseAwaitingPicks)
	s := f.set()
	assert.Empty(t, s.Games[1].Characters)
	assert.Equal(t, map[uuid.UUID]int{f.p1: 1, f.p2: 0}, s.Score())

	// the previous winner still picks first
	f.pick(f.p1, "Luigi")
	f.pick(f.p2, "Falco")
	f.waitFor(2, models.PhaseStageDraft)
	assert.Equal(t, "Luigi", f.set().Games[1].Characters[f.p1])
}

func TestResumeContinuesSetAfterRestart(t *testing.T) {
	f := newSetFixture(t)
	_, err := f.engine.StartSet(f.ctx, f.arena.ID, models.FormatBO3)
	require.NoError(t, err)
	f.firstGame()

	f.waitFor(2, models.PhaseAwaitingPicks)
	f.pick(f.p1, "Mario")
	f.pick(f.p2, "Falco")
	f.waitFor(2, models.PhaseStageDraft)

	f.restart()

	err = f.engine.Pick(f.ctx, f.arena.ID, f.p1, "Mario")
	assert.Equal(t, errcode.WrongPhase, errcode.CodeOf(err))

	resumed, err := f.engine.Resume(f.ctx, f.arena.ID)
	require.NoError(t, err)
	assert.True(t, resumed)

	f.waitFor(2, models.PhaseAwaitingPicks)
	s := f.set()
	assert.Empty(t, s.Games[1].Characters)
	assert.Equal(t, map[uuid.UUID]int{f.p1: 1, f.p2: 0}, s.Score())

	again, err := f.engine.Resume(f.ctx, f.arena.ID)
	require.NoError(t, err)
	assert.False(t, again)

	f.pick(f.p1, "Mario")
	f.pick(f.p2, "Falco")
	f.waitFor(2, models.PhaseStageDraft)
}

func TestResumeSkipsFinishedSets(t *testing.T) {
	f := newSetFixture(t)
	resumed, err := f.engine.Resume(f.ctx, f.arena.ID)
	require.NoError(t, err)
	assert.False(t, resumed)

	set, err := f.engine.StartSet(f.ctx, f.arena.ID, models.FormatBO3)
	require.NoError(t, err)
	f.restart()
	done := f.set()
	markAbandoned(done, f.clock.Now())
	require.NoError(t, f.store.SaveGameSet(f.ctx, done))

	resumed, err = f.engine.Resume(f.ctx, f.arena.ID)
	require.NoError(t, err)
	assert.False(t, resumed)
	assert.Equal(t, set.ID, f.set().ID)
}

func TestStepTimeoutAbandonsSetButKeepsArena(t *testing.T) {
	f := newSetFixture(t)
	_, err := f.engine.StartSet(f.ctx, f.arena.ID, models.FormatBO5)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(f.ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	f.clock.Advance(stepTimeout)

	require.Eventually(t, func() bool { return f.set().Abandoned }, 2*time.Second, 2*time.Millisecond)
	assert.Empty(t, f.set().Games)
	assert.Equal(t, 1, f.events.Count(events.SetAbandoned))

	a, err := f.store.GetArena(f.ctx, f.arena.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPlaying, a.Status)
	assert.ErrorIs(t, f.engine.Pick(f.ctx, f.arena.ID, f.p1, "Mario"), errcode.ErrWrongPhase)
}

func TestRematchSupersedesRunningSet(t *testing.T) {
	f := newSetFixture(t)
	first, err := f.engine.StartSet(f.ctx, f.arena.ID, models.FormatBO3)
	require.NoError(t, err)
	f.firstGame()
	f.waitFor(2, models.PhaseAwaitingPicks)

	second, err := f.engine.Rematch(f.ctx, f.arena.ID, f.p2, models.FormatFT5)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, models.FormatFT5, second.Format)

	old, err := f.store.GetGameSet(f.ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, old.Abandoned)
	assert.Len(t, old.Games, 1)

	assert.Equal(t, second.ID, f.set().ID)
	f.waitFor(1, models.PhaseAwaitingPicks)
	f.pick(f.p2, "Sheik")
}

func TestSignalsAreValidated(t *testing.T) {
	f := newSetFixture(t)

	assert.ErrorIs(t, f.engine.Pick(f.ctx, f.arena.ID, f.p1, "Mario"), errcode.ErrWrongPhase)

	_, err := f.engine.StartSet(f.ctx, f.arena.ID, models.FormatBO3)
	require.NoError(t, err)
	f.waitFor(1, models.PhaseAwaitingPicks)

	assert.ErrorIs(t, f.engine.Pick(f.ctx, f.arena.ID, f.p1, "Waluigi"), errcode.ErrInvalid)
	assert.ErrorIs(t, f.engine.Pick(f.ctx, f.arena.ID, uuid.New(), "Mario"), errcode.ErrNotParticipant)
	assert.ErrorIs(t, f.engine.Stage(f.ctx, f.arena.ID, f.p1, "bf"), errcode.ErrWrongPhase)
	assert.ErrorIs(t, f.engine.Vote(f.ctx, f.arena.ID, f.p1, "mario"), errcode.ErrWrongPhase)

	_, err = f.engine.StartSet(f.ctx, f.arena.ID, models.SetFormat("BO7"))
	assert.ErrorIs(t, err, errcode.ErrInvalid)
}

func TestStartSetRequiresRankedPlayingArena(t *testing.T) {
	f := newSetFixture(t)
	friendly := models.NewSearch(uuid.New(), models.ModeFriendly, nil, nil, nil, f.clock.Now())
	require.NoError(t, f.store.CreateArena(f.ctx, friendly))

	_, err := f.engine.StartSet(f.ctx, friendly.ID, models.FormatBO3)
	assert.ErrorIs(t, err, errcode.ErrInvalid)
}
