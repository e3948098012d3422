package blacklist

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/purchase-gateway/internal/adapter"
)

func TestRedisBlacklist(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	bl := NewRedisBlacklist(client, time.Hour)
	card := adapter.FingerprintOf(adapter.Card{Number: "4000000000009979", ExpMonth: 4, ExpYear: 2030})
	assert.Equal(t, "card-blacklist:400000:9979:04:2030", cardKey(card))

	listed, err := bl.Check(ctx, card)
	require.NoError(t, err)
	assert.False(t, listed)

	require.NoError(t, bl.Add(ctx, card))
	listed, err = bl.Check(ctx, card)
	require.NoError(t, err)
	assert.True(t, listed)

	other := card
	other.ExpYear = 2031
	listed, err = bl.Check(ctx, other)
	require.NoError(t, err)
	assert.False(t, listed, "expiry is part of the fingerprint")

	mr.FastForward(2 * time.Hour)
	listed, err = bl.Check(ctx, card)
	require.NoError(t, err)
	assert.False(t, listed, "entries expire")
}
