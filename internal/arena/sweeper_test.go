package arena

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sergioBarril/smashbot/internal/models"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClock(t *testing.T) {
	h, m, err := ParseClock("05:30")
	require.NoError(t, err)
	assert.Equal(t, uint(5), h)
	assert.Equal(t, uint(30), m)

	for _, bad := range []string{"", "5", "24:00", "12:60", "aa:bb", "-1:00"} {
		_, _, err := ParseClock(bad)
		assert.Error(t, err, bad)
	}
}

func TestSweeperRejectsBadTime(t *testing.T) {
	e := newEnv(t, Config{})
	log, _ := logtest.NewNullLogger()
	_, err := NewSweeper(e.ctx, e.mgr, "25:00", time.UTC, e.clock, log)
	assert.Error(t, err)
}

func TestSweepClosesEverything(t *testing.T) {
	e := newEnv(t, Config{})
	e.playing(t, models.ModeFriendly)
	require.NoError(t, e.store.CreateArena(e.ctx, models.NewSearch(uuid.New(), models.ModeRanked, nil, nil, nil, e.clock.Now())))

	log, _ := logtest.NewNullLogger()
	sw, err := NewSweeper(e.ctx, e.mgr, "05:00", time.UTC, e.clock, log)
	require.NoError(t, err)
	sw.Start()
	defer func() { _ = sw.Shutdown() }()

	assert.Equal(t, 2, sw.Sweep(e.ctx))
	assert.Equal(t, 0, sw.Sweep(e.ctx))
}
