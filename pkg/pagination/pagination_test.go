package pagination

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeysetRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 0, 0, 123, time.FixedZone("x", 3600))
	id := uuid.New()

	got, err := Decode(Keyset{At: at, ID: id}.Encode())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.At.Equal(at))
	assert.Equal(t, id, got.ID)
}

func TestDecodeEmptyIsFirstPage(t *testing.T) {
	got, err := Decode("  ")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for _, token := range []string{"not-base64!", "e30", "bnVsbA"} {
		_, err := Decode(token)
		assert.Error(t, err, token)
	}
}

func TestLimitClamps(t *testing.T) {
	assert.Equal(t, DefaultLimit, Limit(0))
	assert.Equal(t, MaxLimit, Limit(MaxLimit+1))
	assert.Equal(t, 7, Limit(7))
}

func TestTrimReturnsCursorOnlyWhenMoreRows(t *testing.T) {
	now := time.Now()
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	key := func(id uuid.UUID) Keyset { return Keyset{At: now, ID: id} }

	page, next := Trim(ids, 2, key)
	assert.Len(t, page, 2)
	require.NotEmpty(t, next)
	k, err := Decode(next)
	require.NoError(t, err)
	assert.Equal(t, ids[1], k.ID)

	page, next = Trim(ids[:2], 2, key)
	assert.Len(t, page, 2)
	assert.Empty(t, next)
}
