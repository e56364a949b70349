package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sergioBarril/smashbot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSearch(mode models.Mode, at time.Time) *models.Arena {
	tier := &models.Tier{ID: uuid.New(), Name: "Tier 2", Weight: 2}
	return models.NewSearch(uuid.New(), mode, tier, tier, nil, at)
}

func TestCreateGetReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a := newSearch(models.ModeFriendly, time.Now())
	require.NoError(t, s.CreateArena(ctx, a))

	a.Status = models.StatusClosed
	got, err := s.GetArena(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSearching, got.Status)

	got.Players[0].Status = models.PlayerDone
	again, err := s.GetArena(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlayerWaiting, again.Players[0].Status)
}

func TestWritesValidateInvariants(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a := newSearch(models.ModeFriendly, time.Now())
	a.Status = models.StatusPlaying
	require.Error(t, s.CreateArena(ctx, a), "PLAYING with one player and no channel")

	b := newSearch(models.ModeRanked, time.Now())
	require.NoError(t, s.CreateArena(ctx, b))
	ch := "arena-1"
	b.ChannelID = &ch
	require.Error(t, s.UpdateArena(ctx, b), "channel bound outside PLAYING")
}

func TestListOrdersOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	late := newSearch(models.ModeFriendly, now.Add(time.Second))
	early := newSearch(models.ModeFriendly, now)
	sameAsEarly := newSearch(models.ModeFriendly, now)
	ranked := newSearch(models.ModeRanked, now.Add(-time.Second))

	for _, a := range []*models.Arena{late, early, sameAsEarly, ranked} {
		require.NoError(t, s.CreateArena(ctx, a))
	}

	list, err := s.ListArenas(ctx, Filter{Mode: models.ModeFriendly, Statuses: []models.ArenaStatus{models.StatusSearching}})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, early.ID, list[0].ID)
	assert.Equal(t, sameAsEarly.ID, list[1].ID)
	assert.Equal(t, late.ID, list[2].ID)

	mine, err := s.ListArenas(ctx, Filter{PlayerID: ranked.CreatedBy})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, ranked.ID, mine[0].ID)
}

func TestInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	keep := newSearch(models.ModeFriendly, time.Now())
	require.NoError(t, s.CreateArena(ctx, keep))

	boom := errors.New("boom")
	err := s.InTx(ctx, func(q Queries) error {
		require.NoError(t, q.DeleteArena(ctx, keep.ID))
		require.NoError(t, q.CreateArena(ctx, newSearch(models.ModeRanked, time.Now())))
		return boom
	})
	require.ErrorIs(t, err, boom)

	list, err := s.ListArenas(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, keep.ID, list[0].ID)
}

func TestInTxCommits(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a := newSearch(models.ModeFriendly, time.Now())
	require.NoError(t, s.CreateArena(ctx, a))

	err := s.InTx(ctx, func(q Queries) error {
		cur, err := q.GetArena(ctx, a.ID)
		if err != nil {
			return err
		}
		cur.Status = models.StatusWaiting
		return q.UpdateArena(ctx, cur)
	})
	require.NoError(t, err)

	got, err := s.GetArena(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, got.Status)
}

func TestGetMissingIsNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.GetArena(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, s.DeleteArena(context.Background(), uuid.New()), ErrNotFound)
}

func TestGameSetRoundTripIsolated(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	p1, p2 := uuid.New(), uuid.New()
	gs := &models.GameSet{
		ID:      uuid.New(),
		Format:  models.FormatBO3,
		Players: [2]uuid.UUID{p1, p2},
		Games:   []models.Game{{Number: 1, Characters: map[uuid.UUID]string{p1: "Fox"}}},
	}
	require.NoError(t, s.SaveGameSet(ctx, gs))
	gs.Games[0].Characters[p1] = "Falco"

	got, err := s.GetGameSet(ctx, gs.ID)
	require.NoError(t, err)
	assert.Equal(t, "Fox", got.Games[0].Characters[p1])
}
