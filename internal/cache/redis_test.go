package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sergioBarril/smashbot/internal/events"
	"github.com/sergioBarril/smashbot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeList struct {
	key    string
	values [][]byte
	err    error
}

func (f *fakeList) RPush(ctx context.Context, key string, values ...any) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	f.key = key
	for _, v := range values {
		f.values = append(f.values, v.([]byte))
	}
	cmd.SetVal(int64(len(f.values)))
	return cmd
}

func TestPublishPushesJSON(t *testing.T) {
	list := &fakeList{}
	pub := NewPublisher(list, "")

	ev := events.Event{
		Type:    events.Playing,
		ArenaID: uuid.New(),
		Mode:    models.ModeRanked,
		Players: []uuid.UUID{uuid.New(), uuid.New()},
		At:      time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC),
	}
	require.NoError(t, pub.Publish(context.Background(), ev))

	assert.Equal(t, DefaultQueueName, list.key)
	require.Len(t, list.values, 1)
	var got events.Event
	require.NoError(t, json.Unmarshal(list.values[0], &got))
	assert.Equal(t, ev.Type, got.Type)
	assert.Equal(t, ev.ArenaID, got.ArenaID)
	assert.Equal(t, ev.Players, got.Players)
	assert.True(t, ev.At.Equal(got.At))
}

func TestPublishReportsRedisFailure(t *testing.T) {
	pub := NewPublisher(&fakeList{err: errors.New("connection refused")}, "q")
	err := pub.Publish(context.Background(), events.Event{Type: events.ArenaClosed})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'q'")
}
