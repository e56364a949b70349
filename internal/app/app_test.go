package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sergioBarril/smashbot/internal/errcode"
	"github.com/sergioBarril/smashbot/internal/ladder"
	"github.com/sergioBarril/smashbot/internal/models"
	"github.com/sergioBarril/smashbot/internal/store"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp(t *testing.T, mem *store.MemoryStore, clock clockwork.Clock) *App {
	t.Helper()
	log, _ := logtest.NewNullLogger()
	l, err := ladder.New([]models.Tier{{ID: uuid.New(), Name: "Tier 1", Weight: 1}})
	require.NoError(t, err)
	a := New(context.Background(), Options{
		Store:  mem,
		Sets:   mem,
		Roster: store.NewMemoryRoster(l),
		Ladder: l,
		Clock:  clock,
		Log:    log,
		Coin:   func() int { return 0 },
	})
	t.Cleanup(a.Shutdown)
	return a
}

func TestRecoverResumesRankedSetOnNewChannel(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	clock := clockwork.NewFakeClock()
	before := newApp(t, mem, clock)

	p1, p2 := uuid.New(), uuid.New()
	a := models.NewSearch(p1, models.ModeRanked, nil, nil, nil, clock.Now())
	a.Players = append(a.Players, models.ArenaPlayer{PlayerID: p2})
	ch, err := before.Arenas.Allocate(ctx, a.ID, models.ModeRanked, a.PlayerIDs())
	require.NoError(t, err)
	a.Status = models.StatusPlaying
	a.SetPlayersStatus(models.PlayerPlaying)
	a.ChannelID = &ch.ID
	require.NoError(t, mem.CreateArena(ctx, a))
	_, err = before.Ranked.StartSet(ctx, a.ID, models.FormatBO3)
	require.NoError(t, err)
	require.NoError(t, before.Ranked.Pick(ctx, a.ID, p1, "Mario"))
	before.Shutdown()

	after := newApp(t, mem, clock)
	assert.ErrorIs(t, after.Ranked.Pick(ctx, a.ID, p1, "Mario"), errcode.ErrWrongPhase)

	rep, err := after.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Playing)
	assert.Equal(t, 1, rep.Rebound)
	assert.Equal(t, []uuid.UUID{a.ID}, rep.Ranked)

	got, err := mem.GetArena(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ChannelID)
	assert.ElementsMatch(t, a.PlayerIDs(), after.Directory.Members(*got.ChannelID))

	require.Eventually(t, func() bool {
		return after.Ranked.Pick(ctx, a.ID, p1, "Mario") == nil
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, after.Ranked.Pick(ctx, a.ID, p2, "Fox"))
	require.Eventually(t, func() bool {
		set, err := after.Ranked.CurrentSet(ctx, a.ID)
		return err == nil && set.Phase == models.PhaseStageDraft
	}, 2*time.Second, 5*time.Millisecond)
}
