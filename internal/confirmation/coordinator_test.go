package confirmation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sergioBarril/smashbot/internal/arena"
	"github.com/sergioBarril/smashbot/internal/channels"
	"github.com/sergioBarril/smashbot/internal/errcode"
	"github.com/sergioBarril/smashbot/internal/events"
	"github.com/sergioBarril/smashbot/internal/ladder"
	"github.com/sergioBarril/smashbot/internal/matchmaking"
	"github.com/sergioBarril/smashbot/internal/models"
	"github.com/sergioBarril/smashbot/internal/notify"
	"github.com/sergioBarril/smashbot/internal/signals"
	"github.com/sergioBarril/smashbot/internal/store"
	"github.com/sergioBarril/smashbot/internal/tasks"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	matchTimeout  = 15 * time.Minute
	cancelTimeout = 90 * time.Second
)

type staticRoster struct{ tier *models.Tier }

func (r staticRoster) PlayerTier(context.Context, uuid.UUID) (*models.Tier, error) {
	return r.tier, nil
}

// flakyAllocator fails the first n allocations.
type flakyAllocator struct {
	Allocator
	mu    sync.Mutex
	fails int
}

func (f *flakyAllocator) Allocate(ctx context.Context, arenaID uuid.UUID, mode models.Mode, players []uuid.UUID) (models.Channel, error) {
	f.mu.Lock()
	if f.fails > 0 {
		f.fails--
		f.mu.Unlock()
		return models.Channel{}, errors.New("guild is out of channels")
	}
	f.mu.Unlock()
	return f.Allocator.Allocate(ctx, arenaID, mode, players)
}

type recordingStarter struct {
	mu     sync.Mutex
	arenas []uuid.UUID
}

func (r *recordingStarter) StartSet(_ context.Context, arenaID uuid.UUID, format models.SetFormat) (*models.GameSet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.arenas = append(r.arenas, arenaID)
	return &models.GameSet{ID: uuid.New(), ArenaID: arenaID, Format: format}, nil
}

func (r *recordingStarter) started() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uuid.UUID(nil), r.arenas...)
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	store    *store.MemoryStore
	dir      *channels.Directory
	hub      *notify.Hub
	tasks    *tasks.Registry
	clock    *clockwork.FakeClock
	events   *events.Recorder
	matcher  *matchmaking.Matcher
	mgr      *arena.Manager
	alloc    *flakyAllocator
	starter  *recordingStarter
	coord    *Coordinator
	outcomes chan Outcome
}

func newHarness(t *testing.T, allocFails int) *harness {
	t.Helper()
	log, _ := logtest.NewNullLogger()
	tier := models.Tier{ID: uuid.New(), Name: "Tier 2", Weight: 2}
	l, err := ladder.New([]models.Tier{{ID: uuid.New(), Name: "Tier 3", Weight: 1}, tier})
	require.NoError(t, err)

	h := &harness{
		t:        t,
		ctx:      context.Background(),
		store:    store.NewMemoryStore(),
		dir:      channels.NewDirectory(),
		tasks:    tasks.NewRegistry(),
		clock:    clockwork.NewFakeClock(),
		events:   &events.Recorder{},
		starter:  &recordingStarter{},
		outcomes: make(chan Outcome, 8),
	}
	h.hub = notify.NewHub(h.dir, log)
	locks := tasks.NewLocks()
	h.matcher = matchmaking.NewMatcher(h.store, l, staticRoster{tier: &tier},
		matchmaking.WithClock(h.clock), matchmaking.WithLogger(log), matchmaking.WithEvents(h.events))
	h.mgr = arena.NewManager(h.ctx, arena.Deps{
		Store: h.store, Provisioner: h.dir, Notifier: h.hub,
		Tasks: h.tasks, Locks: locks, Events: h.events, Clock: h.clock, Log: log,
	}, arena.Config{})
	h.alloc = &flakyAllocator{Allocator: h.mgr, fails: allocFails}
	h.coord = New(h.ctx, Deps{
		Store:    h.store,
		Pool:     h.matcher,
		Alloc:    h.alloc,
		Ranked:   h.starter,
		Notifier: h.hub,
		Signals:  signals.NewHub(),
		Tasks:    h.tasks,
		Locks:    locks,
		Events:   h.events,
		Clock:    h.clock,
		Log:      log,
	}, Config{MatchTimeout: matchTimeout, CancelTimeout: cancelTimeout})
	h.coord.OnOutcome = func(_ uuid.UUID, o Outcome) { h.outcomes <- o }
	h.matcher.SetOnMatch(h.coord.Confirm)
	t.Cleanup(h.tasks.Shutdown)
	return h
}

// pair submits two searches and returns the resulting CONFIRMATION arena.
func (h *harness) pair(mode models.Mode, p1, p2 uuid.UUID) *models.Arena {
	h.t.Helper()
	first, err := h.matcher.Submit(h.ctx, matchmaking.SearchRequest{PlayerID: p1, Mode: mode})
	require.NoError(h.t, err)
	require.False(h.t, first.Matched)
	second, err := h.matcher.Submit(h.ctx, matchmaking.SearchRequest{PlayerID: p2, Mode: mode})
	require.NoError(h.t, err)
	require.True(h.t, second.Matched)
	require.Equal(h.t, models.StatusConfirmation, second.Arena.Status)
	return second.Arena
}

// blockUntilTimers waits until n timers are armed on the fake clock.
func (h *harness) blockUntilTimers(n int) {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(h.ctx, 2*time.Second)
	defer cancel()
	require.NoError(h.t, h.clock.BlockUntilContext(ctx, n))
}

func (h *harness) outcome() Outcome {
	h.t.Helper()
	select {
	case o := <-h.outcomes:
		return o
	case <-time.After(2 * time.Second):
		h.t.Fatal("no confirmation outcome")
		return Outcome{}
	}
}

func (h *harness) rows(playerID uuid.UUID) []*models.Arena {
	h.t.Helper()
	rows, err := h.store.ListArenas(h.ctx, store.Filter{PlayerID: playerID})
	require.NoError(h.t, err)
	return rows
}

func (h *harness) lastMessage(playerID uuid.UUID) string {
	hist := h.hub.History(playerID)
	if len(hist) == 0 {
		return ""
	}
	return hist[len(hist)-1].Text
}

func TestBothAcceptMovesArenaToPlaying(t *testing.T) {
	h := newHarness(t, 0)
	p1, p2 := uuid.New(), uuid.New()
	a := h.pair(models.ModeFriendly, p1, p2)

	require.NoError(t, h.coord.Accept(h.ctx, a.ID, p2))
	require.NoError(t, h.coord.Accept(h.ctx, a.ID, p1))

	o := h.outcome()
	assert.Equal(t, AllAccepted, o.Kind)
	require.NoError(t, o.Err)

	got, err := h.store.GetArena(h.ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPlaying, got.Status)
	assert.True(t, got.AllPlayers(models.PlayerPlaying))
	require.NotNil(t, got.ChannelID)
	assert.ElementsMatch(t, []uuid.UUID{p1, p2}, h.dir.Members(*got.ChannelID))
	assert.Equal(t, 1, h.events.Count(events.Playing))
	assert.Empty(t, h.starter.started())
}

func TestRankedArenaStartsSet(t *testing.T) {
	h := newHarness(t, 0)
	p1, p2 := uuid.New(), uuid.New()
	a := h.pair(models.ModeRanked, p1, p2)

	require.NoError(t, h.coord.Accept(h.ctx, a.ID, p1))
	require.NoError(t, h.coord.Accept(h.ctx, a.ID, p2))

	assert.Equal(t, AllAccepted, h.outcome().Kind)
	assert.Equal(t, []uuid.UUID{a.ID}, h.starter.started())
}

func TestDeclineRequeuesOnlyTheSurvivor(t *testing.T) {
	h := newHarness(t, 0)
	p1, p2 := uuid.New(), uuid.New()
	a := h.pair(models.ModeFriendly, p1, p2)

	require.NoError(t, h.coord.Decline(h.ctx, a.ID, p2))

	o := h.outcome()
	assert.Equal(t, Rejected, o.Kind)
	assert.False(t, o.Timeout)
	assert.Equal(t, p2, o.Rejecter)

	_, err := h.store.GetArena(h.ctx, a.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, h.rows(p2))

	rows := h.rows(p1)
	require.Len(t, rows, 1)
	assert.Equal(t, models.StatusSearching, rows[0].Status)
	assert.True(t, rows[0].HasRejected(p2))
	assert.Contains(t, h.lastMessage(p1), "back in the queue")
	assert.Contains(t, h.lastMessage(p2), "declined")
}

func TestRequeuedSurvivorDoesNotMeetRejecterAgain(t *testing.T) {
	h := newHarness(t, 0)
	p1, p2 := uuid.New(), uuid.New()
	a := h.pair(models.ModeFriendly, p1, p2)
	require.NoError(t, h.coord.Decline(h.ctx, a.ID, p1))
	h.outcome()

	res, err := h.matcher.Submit(h.ctx, matchmaking.SearchRequest{PlayerID: p1, Mode: models.ModeFriendly})
	require.NoError(t, err)
	assert.False(t, res.Matched)
}

func TestSurvivorMatchesWaitingPlayerOnRequeue(t *testing.T) {
	h := newHarness(t, 0)
	p1, p2, p3 := uuid.New(), uuid.New(), uuid.New()
	a := h.pair(models.ModeFriendly, p1, p2)
	third, err := h.matcher.Submit(h.ctx, matchmaking.SearchRequest{PlayerID: p3, Mode: models.ModeFriendly})
	require.NoError(t, err)
	require.False(t, third.Matched)

	require.NoError(t, h.coord.Decline(h.ctx, a.ID, p2))
	assert.Equal(t, Rejected, h.outcome().Kind)

	rows := h.rows(p1)
	require.Len(t, rows, 1)
	assert.Equal(t, models.StatusConfirmation, rows[0].Status)
	assert.ElementsMatch(t, []uuid.UUID{p1, p3}, rows[0].PlayerIDs())
	assert.NotContains(t, h.lastMessage(p1), "back in the queue")
}

func TestTimeoutAfterOneAcceptRejectsTheSilentPlayer(t *testing.T) {
	h := newHarness(t, 0)
	p1, p2 := uuid.New(), uuid.New()
	a := h.pair(models.ModeFriendly, p1, p2)

	h.blockUntilTimers(1)
	require.NoError(t, h.coord.Accept(h.ctx, a.ID, p1))
	h.blockUntilTimers(2)
	h.clock.Advance(matchTimeout)

	o := h.outcome()
	assert.Equal(t, Rejected, o.Kind)
	assert.True(t, o.Timeout)
	assert.Equal(t, p2, o.Rejecter)

	rows := h.rows(p1)
	require.Len(t, rows, 1)
	assert.Equal(t, models.StatusSearching, rows[0].Status)
	assert.True(t, rows[0].HasRejected(p2))
	assert.Empty(t, h.rows(p2))
	assert.Contains(t, h.lastMessage(p2), "didn't answer in time")
}

func TestNobodyAnswersDropsBoth(t *testing.T) {
	h := newHarness(t, 0)
	p1, p2 := uuid.New(), uuid.New()
	a := h.pair(models.ModeFriendly, p1, p2)

	h.blockUntilTimers(1)
	h.clock.Advance(matchTimeout)

	o := h.outcome()
	assert.Equal(t, BothTimedOut, o.Kind)
	assert.Empty(t, h.rows(p1))
	assert.Empty(t, h.rows(p2))
	_, err := h.store.GetArena(h.ctx, a.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 1, h.events.Count(events.BothTimedOut))
}

func TestEarlyCancelAfterWindowRejectsOpponent(t *testing.T) {
	h := newHarness(t, 0)
	p1, p2 := uuid.New(), uuid.New()
	a := h.pair(models.ModeFriendly, p1, p2)

	h.blockUntilTimers(1)
	require.NoError(t, h.coord.Accept(h.ctx, a.ID, p1))
	h.blockUntilTimers(2)
	h.clock.Advance(cancelTimeout)
	require.Eventually(t, func() bool {
		return strings.Contains(h.lastMessage(p1), "cancel the match now")
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.coord.EarlyCancel(h.ctx, a.ID, p1))

	o := h.outcome()
	assert.Equal(t, Rejected, o.Kind)
	assert.True(t, o.Timeout)
	assert.Equal(t, p2, o.Rejecter)
	rows := h.rows(p1)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].HasRejected(p2))
}

func TestEarlyCancelBeforeWindowIsIgnored(t *testing.T) {
	h := newHarness(t, 0)
	p1, p2 := uuid.New(), uuid.New()
	a := h.pair(models.ModeFriendly, p1, p2)

	h.blockUntilTimers(1)
	require.NoError(t, h.coord.Accept(h.ctx, a.ID, p1))
	require.NoError(t, h.coord.EarlyCancel(h.ctx, a.ID, p1))
	require.NoError(t, h.coord.Decline(h.ctx, a.ID, p2))

	o := h.outcome()
	assert.Equal(t, Rejected, o.Kind)
	assert.False(t, o.Timeout)
	assert.Equal(t, p2, o.Rejecter)
}

func TestAbandonLeavesArenaUntouched(t *testing.T) {
	h := newHarness(t, 0)
	p1, p2 := uuid.New(), uuid.New()
	a := h.pair(models.ModeFriendly, p1, p2)

	require.True(t, h.coord.Abandon(a.ID))
	require.Eventually(t, func() bool {
		return !h.tasks.Active(confirmationKey(a.ID))
	}, 2*time.Second, 5*time.Millisecond)

	got, err := h.store.GetArena(h.ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmation, got.Status)
	select {
	case o := <-h.outcomes:
		t.Fatalf("unexpected outcome %s", o.Kind)
	default:
	}
	err = h.coord.Accept(h.ctx, a.ID, p1)
	assert.ErrorIs(t, err, errcode.ErrWrongPhase)
}

func TestForceCloseDuringConfirmationDropsPausedSearches(t *testing.T) {
	h := newHarness(t, 0)
	p1, p2 := uuid.New(), uuid.New()
	_, err := h.matcher.Submit(h.ctx, matchmaking.SearchRequest{PlayerID: p1, Mode: models.ModeRanked})
	require.NoError(t, err)
	a := h.pair(models.ModeFriendly, p1, p2)
	h.blockUntilTimers(1)

	rows := h.rows(p1)
	require.Len(t, rows, 2)

	require.NoError(t, h.mgr.ForceClose(h.ctx, a.ID, "closed by an admin"))
	require.Eventually(t, func() bool {
		return !h.tasks.Active(confirmationKey(a.ID)) && len(h.rows(p1)) == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, h.rows(p2))
}

func TestConfirmOnClosedArenaSendsNoPrompt(t *testing.T) {
	h := newHarness(t, 0)
	p1, p2 := uuid.New(), uuid.New()
	paused := models.NewSearch(p1, models.ModeRanked, nil, nil, nil, h.clock.Now())
	paused.Status = models.StatusWaiting
	require.NoError(t, h.store.CreateArena(h.ctx, paused))

	// paired, then closed before the handshake started
	a := models.NewSearch(p1, models.ModeFriendly, nil, nil, nil, h.clock.Now())
	a.Players = append(a.Players, models.ArenaPlayer{PlayerID: p2})
	a.Status = models.StatusConfirmation
	a.SetPlayersStatus(models.PlayerConfirmation)
	h.coord.Confirm(h.ctx, a)

	require.Eventually(t, func() bool {
		return !h.tasks.Active(confirmationKey(a.ID)) && len(h.rows(p1)) == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, h.hub.History(p1))
	assert.Empty(t, h.hub.History(p2))
	err := h.coord.Accept(h.ctx, a.ID, p1)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAllocationFailureKeepsConfirmationUntilRetry(t *testing.T) {
	h := newHarness(t, 1)
	p1, p2 := uuid.New(), uuid.New()
	a := h.pair(models.ModeFriendly, p1, p2)

	require.NoError(t, h.coord.Accept(h.ctx, a.ID, p1))
	require.NoError(t, h.coord.Accept(h.ctx, a.ID, p2))

	o := h.outcome()
	assert.Equal(t, AllAccepted, o.Kind)
	assert.ErrorIs(t, o.Err, errcode.ErrResourceAllocationFailed)

	got, err := h.store.GetArena(h.ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmation, got.Status)
	assert.True(t, got.AllPlayers(models.PlayerAccepted))

	require.NoError(t, h.coord.RetryAllocation(h.ctx, a.ID))
	got, err = h.store.GetArena(h.ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPlaying, got.Status)
}

func TestSignalValidation(t *testing.T) {
	h := newHarness(t, 0)
	p1, p2 := uuid.New(), uuid.New()
	a := h.pair(models.ModeFriendly, p1, p2)

	assert.ErrorIs(t, h.coord.Accept(h.ctx, a.ID, uuid.New()), errcode.ErrNotParticipant)
	assert.ErrorIs(t, h.coord.Accept(h.ctx, uuid.New(), p1), errcode.ErrNotFound)
}
