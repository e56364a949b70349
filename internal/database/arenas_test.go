package database

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sergioBarril/smashbot/internal/models"
	"github.com/sergioBarril/smashbot/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)

func TestBuildListQueryWithoutFilter(t *testing.T) {
	sql, args := buildListQuery(store.Filter{})
	assert.NotContains(t, sql, "WHERE")
	assert.Contains(t, sql, "ORDER BY created_at, seq")
	assert.Empty(t, args)
}

func TestBuildListQueryNumbersPlaceholders(t *testing.T) {
	player := uuid.New()
	sql, args := buildListQuery(store.Filter{
		Mode:     models.ModeRanked,
		Statuses: []models.ArenaStatus{models.StatusSearching, models.StatusWaiting},
		PlayerID: player,
	})

	assert.Contains(t, sql, "WHERE mode = $1 AND status = ANY($2) AND players @> $3::jsonb")
	require.Len(t, args, 3)
	assert.Equal(t, "RANKED", args[0])
	assert.Equal(t, []string{"SEARCHING", "WAITING"}, args[1])
	assert.Equal(t, `[{"player_id":"`+player.String()+`"}]`, args[2])
}

func TestBuildListQueryPlayerOnly(t *testing.T) {
	sql, args := buildListQuery(store.Filter{PlayerID: uuid.New()})
	assert.Contains(t, sql, "WHERE players @> $1::jsonb")
	assert.Len(t, args, 1)
}

func TestEncodeArenaNeverWritesNullRejected(t *testing.T) {
	a := models.NewSearch(uuid.New(), models.ModeFriendly, nil, nil, nil, testNow)
	rejected, players, err := encodeArena(a)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(rejected))
	assert.Contains(t, string(players), a.CreatedBy.String())
}

func TestTierIDOfNil(t *testing.T) {
	assert.Nil(t, tierID(nil))
	tier := &models.Tier{ID: uuid.New()}
	require.NotNil(t, tierID(tier))
	assert.Equal(t, tier.ID, *tierID(tier))
}
