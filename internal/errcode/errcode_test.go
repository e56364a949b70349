package errcode

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/sergioBarril/smashbot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("submit: %w", New(AlreadyInPool, "player %d", 7))
	assert.True(t, errors.Is(err, ErrAlreadyInPool))
	assert.False(t, errors.Is(err, ErrNotInPool))
	assert.Equal(t, AlreadyInPool, CodeOf(err))
	assert.Equal(t, http.StatusConflict, HTTPStatus(err))
}

func TestBadTiersCarriesBothTiers(t *testing.T) {
	own := models.Tier{ID: uuid.New(), Name: "Tier 3", Weight: 3}
	from := models.Tier{ID: uuid.New(), Name: "Tier 1", Weight: 5}
	err := BadTiers(own, from)

	require.Len(t, err.Tiers, 2)
	assert.Equal(t, own.ID, err.Tiers[0].ID)
	assert.Equal(t, from.ID, err.Tiers[1].ID)
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(err))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("provisioner down")
	err := Wrap(ResourceAllocationFailed, cause, "allocate")
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrResourceAllocationFailed)
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(cause))
}
