package offercache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yzernik/squeakroad-sub000/internal/models"
	"github.com/yzernik/squeakroad-sub000/internal/squeak"
)

func testOffer(host string) models.SentOffer {
	return models.SentOffer{
		SqueakHash:     squeak.Hash{0x01},
		PaymentHash:    models.Hash32{0x02},
		PriceMsat:      1000,
		PaymentRequest: "lnfake1",
		InvoiceTime:    1_700_000_000,
		InvoiceExpiry:  3600,
		PeerAddress:    models.PeerAddress{Network: models.NetworkIPv4, Host: host, Port: 8555},
	}
}

func TestMemoryPutGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.now = func() time.Time { return time.Unix(1_700_000_100, 0) }

	require.NoError(t, m.Put(ctx, testOffer("203.0.113.5")))
	got, err := m.Get(ctx, squeak.Hash{0x01}, "203.0.113.5")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.Hash32{0x02}, got.PaymentHash)

	miss, err := m.Get(ctx, squeak.Hash{0x01}, "198.51.100.1")
	require.NoError(t, err)
	assert.Nil(t, miss)
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Unix(1_700_000_100, 0)
	m.now = func() time.Time { return now }

	require.NoError(t, m.Put(ctx, testOffer("203.0.113.5")))
	assert.Equal(t, 1, m.Len())

	now = now.Add(time.Hour)
	got, err := m.Get(ctx, squeak.Hash{0x01}, "203.0.113.5")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 0, m.Len())

	assert.ErrorIs(t, m.Put(ctx, testOffer("203.0.113.5")), ErrExpired)
}

func TestMemoryDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.now = func() time.Time { return time.Unix(1_700_000_100, 0) }
	require.NoError(t, m.Put(ctx, testOffer("203.0.113.5")))
	require.NoError(t, m.Delete(ctx, squeak.Hash{0x01}, "203.0.113.5"))
	assert.Equal(t, 0, m.Len())
	assert.NoError(t, m.Close())
}
