//go:build integration

package offercache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yzernik/squeakroad-sub000/internal/squeak"
)

func TestRedisCache(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	r, err := NewRedis(ctx, &redis.Options{Addr: addr})
	require.NoError(t, err)
	defer r.Close()
	r.now = func() time.Time { return time.Unix(1_700_003_598, 0) }

	o := testOffer("203.0.113.5")
	require.NoError(t, r.Put(ctx, o))
	got, err := r.Get(ctx, o.SqueakHash, "203.0.113.5")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, o.PaymentHash, got.PaymentHash)
	assert.Equal(t, o.PeerAddress, got.PeerAddress)

	time.Sleep(2500 * time.Millisecond)
	got, err = r.Get(ctx, o.SqueakHash, "203.0.113.5")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = r.Get(ctx, squeak.Hash{0xff}, "nowhere")
	assert.NoError(t, err)
}
