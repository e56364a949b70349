package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sergioBarril/smashbot/internal/models"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSink struct{}

func (failingSink) Publish(context.Context, Event) error { return errors.New("queue down") }

func TestForDescribesArena(t *testing.T) {
	p1, p2 := uuid.New(), uuid.New()
	a := &models.Arena{
		ID:      uuid.New(),
		Mode:    models.ModeRanked,
		Players: []models.ArenaPlayer{{PlayerID: p1}, {PlayerID: p2}},
	}
	ev := For(SetComplete, a, map[string]any{"winner": p1})

	assert.Equal(t, SetComplete, ev.Type)
	assert.Equal(t, a.ID, ev.ArenaID)
	assert.Equal(t, models.ModeRanked, ev.Mode)
	assert.Equal(t, []uuid.UUID{p1, p2}, ev.Players)
	assert.WithinDuration(t, time.Now(), ev.At, time.Second)
}

func TestEmitLogsFailures(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	ev := Event{Type: ArenaClosed, ArenaID: uuid.New()}

	Emit(context.Background(), failingSink{}, log, ev)

	require.Len(t, hook.Entries, 1)
	entry := hook.LastEntry()
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, ev.ArenaID, entry.Data["arena"])
	assert.Equal(t, ArenaClosed, entry.Data["event"])

	// a nil sink is a no-op
	Emit(context.Background(), nil, log, ev)
	assert.Len(t, hook.Entries, 1)
}

func TestRecorderCounts(t *testing.T) {
	var r Recorder
	ctx := context.Background()
	require.NoError(t, r.Publish(ctx, Event{Type: Accepted}))
	require.NoError(t, r.Publish(ctx, Event{Type: Accepted}))
	require.NoError(t, r.Publish(ctx, Event{Type: Playing}))

	assert.Equal(t, 2, r.Count(Accepted))
	assert.Equal(t, 0, r.Count(Rejected))
	assert.Len(t, r.Events(), 3)
}
