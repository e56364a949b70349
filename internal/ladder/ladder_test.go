package ladder

import (
	"testing"

	"github.com/google/uuid"
	"github.com/sergioBarril/smashbot/internal/errcode"
	"github.com/sergioBarril/smashbot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTiers() []models.Tier {
	return []models.Tier{
		{ID: uuid.New(), Name: "Tier 4", Weight: 1, ChannelID: "c4"},
		{ID: uuid.New(), Name: "Tier 1", Weight: 4, ChannelID: "c1"},
		{ID: uuid.New(), Name: "Tier 3", Weight: 2, ChannelID: "c3"},
		{ID: uuid.New(), Name: "Tier 2", Weight: 3, ChannelID: "c2"},
	}
}

func TestNewSortsByWeight(t *testing.T) {
	l, err := New(testTiers())
	require.NoError(t, err)

	all := l.All()
	require.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Weight, all[i].Weight)
	}
	assert.Equal(t, 1, l.Lowest().Weight)
	assert.Equal(t, 4, l.Highest().Weight)
}

func TestNewRejectsDuplicateWeights(t *testing.T) {
	tiers := testTiers()
	tiers[1].Weight = 1
	_, err := New(tiers)
	require.Error(t, err)
}

func TestBandForUsesChannelTierAsFloor(t *testing.T) {
	l, err := New(testTiers())
	require.NoError(t, err)
	own, _ := l.ByChannel("c1")
	from, _ := l.ByChannel("c3")

	band, err := l.BandFor(own, from)
	require.NoError(t, err)
	assert.Equal(t, 2, band.Min.Weight)
	assert.Equal(t, 4, band.Max.Weight)
	assert.Len(t, l.Between(band.Min, band.Max), 3)
}

func TestBandForDefaultsToLowest(t *testing.T) {
	l, err := New(testTiers())
	require.NoError(t, err)
	own, _ := l.ByChannel("c2")

	band, err := l.BandFor(own, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, band.Min.Weight)
	assert.True(t, band.Max.Same(own))
}

func TestBandForRejectsHigherChannel(t *testing.T) {
	l, err := New(testTiers())
	require.NoError(t, err)
	own, _ := l.ByChannel("c3")
	from, _ := l.ByChannel("c1")

	_, err = l.BandFor(own, from)
	require.ErrorIs(t, err, errcode.ErrTierMismatch)

	var coded *errcode.Error
	require.ErrorAs(t, err, &coded)
	require.Len(t, coded.Tiers, 2)
	assert.Equal(t, own.ID, coded.Tiers[0].ID)
	assert.Equal(t, from.ID, coded.Tiers[1].ID)
}

func TestBandForWithoutTier(t *testing.T) {
	l, err := New(testTiers())
	require.NoError(t, err)
	_, err = l.BandFor(nil, nil)
	require.ErrorIs(t, err, errcode.ErrNoTierAssigned)
}

func TestOverlaps(t *testing.T) {
	w := func(n int) *models.Tier { return &models.Tier{ID: uuid.New(), Weight: n} }
	cases := []struct {
		name string
		a, b Band
		want bool
	}{
		{"inside", Band{w(3), w(3)}, Band{w(2), w(4)}, true},
		{"touching edge", Band{w(1), w(2)}, Band{w(2), w(4)}, true},
		{"disjoint below", Band{w(1), w(1)}, Band{w(2), w(4)}, false},
		{"disjoint above", Band{w(5), w(6)}, Band{w(2), w(4)}, false},
		{"invalid band", Band{w(4), w(2)}, Band{w(2), w(4)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.a.Overlaps(tc.b))
			assert.Equal(t, tc.want, tc.b.Overlaps(tc.a))
		})
	}
}

func TestDiffReportsSymmetricDifference(t *testing.T) {
	l, err := New(testTiers())
	require.NoError(t, err)
	all := l.All()

	prev := Band{Min: &all[0], Max: &all[2]}
	next := Band{Min: &all[1], Max: &all[3]}
	added, removed := l.Diff(prev, next)

	require.Len(t, added, 1)
	assert.Equal(t, all[3].ID, added[0].ID)
	require.Len(t, removed, 1)
	assert.Equal(t, all[0].ID, removed[0].ID)

	added, removed = l.Diff(prev, prev)
	assert.Empty(t, added)
	assert.Empty(t, removed)
}
