//go:build integration

package storage

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/yzernik/squeakroad-sub000/internal/config"
	"github.com/yzernik/squeakroad-sub000/internal/models"
	"github.com/yzernik/squeakroad-sub000/internal/squeak"
)

var testStore *Store

func TestMain(m *testing.M) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("squeaknode"),
		postgres.WithUsername("squeaknode"),
		postgres.WithPassword("password"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		log.Printf("failed to start container: %s", err)
		return
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			log.Printf("failed to terminate container: %s", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable", "application_name=test")
	if err != nil {
		log.Fatalf("failed to get connection string: %v", err)
	}
	testStore, err = Open(ctx, config.DBConfig{URL: connStr, MaxOpenConns: 4})
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	if err := testStore.Init(ctx); err != nil {
		log.Fatalf("failed to init schema: %v", err)
	}
	code := m.Run()
	_ = testStore.Close()
	os.Exit(code)
}

func TestIntegrationLookupRange(t *testing.T) {
	ctx := context.Background()
	priv, err := squeak.GenerateSigningKey()
	require.NoError(t, err)
	header := testHeader(t)
	for h := int32(0); h < 100; h++ {
		sq, _, err := squeak.MakeSqueak(priv, "hello", squeak.Anchor{Height: h, Hash: chainhash.Hash{byte(h)}, Time: 1700000000}, nil, nil)
		require.NoError(t, err)
		got, err := testStore.InsertSqueak(ctx, sq, header)
		require.NoError(t, err)
		require.NotNil(t, got)
	}

	hashes, err := testStore.LookupSqueaks(ctx, []squeak.PubKey{squeak.PubKeyOf(priv)}, 30, 50)
	require.NoError(t, err)
	assert.Len(t, hashes, 21)
}

func TestIntegrationDuplicateInsertsAreSilent(t *testing.T) {
	ctx := context.Background()
	sq := testSqueak(t, "twice")
	first, err := testStore.InsertSqueak(ctx, sq, testHeader(t))
	require.NoError(t, err)
	require.NotNil(t, first)
	second, err := testStore.InsertSqueak(ctx, sq, testHeader(t))
	require.NoError(t, err)
	assert.Nil(t, second)

	payment := models.ReceivedPayment{SqueakHash: sq.Hash(), PaymentHash: models.Hash32{0xaa}, PriceMsat: 1000000, SettleIndex: 42,
		PeerAddress: models.PeerAddress{Network: models.NetworkIPv4, Host: "203.0.113.5", Port: 8555}}
	id, err := testStore.InsertReceivedPayment(ctx, payment)
	require.NoError(t, err)
	require.NotNil(t, id)
	again, err := testStore.InsertReceivedPayment(ctx, payment)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestIntegrationRetentionSkipsLikedAndSigned(t *testing.T) {
	ctx := context.Background()
	signer, err := squeak.GenerateSigningKey()
	require.NoError(t, err)
	profile := models.SigningProfile{ProfileInfo: models.ProfileInfo{Name: "retention-alice", PubKey: squeak.PubKeyOf(signer)}}
	copy(profile.PrivateKey[:], signer.Serialize())
	_, err = testStore.InsertProfile(ctx, profile)
	require.NoError(t, err)

	anchor := squeak.Anchor{Height: 500, Hash: chainhash.Hash{5}, Time: 1700000000}
	own, _, err := squeak.MakeSqueak(signer, "mine", anchor, nil, nil)
	require.NoError(t, err)
	liked := testSqueak(t, "liked")
	stale := testSqueak(t, "stale")

	old := testStore.now
	testStore.now = func() time.Time { return time.Now().Add(-30 * 24 * time.Hour) }
	for _, sq := range []squeak.Squeak{own, liked, stale} {
		_, err := testStore.InsertSqueak(ctx, sq, testHeader(t))
		require.NoError(t, err)
	}
	testStore.now = old
	require.NoError(t, testStore.SetSqueakLiked(ctx, liked.Hash()))

	hashes, err := testStore.GetOldSqueaksToDelete(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Contains(t, hashes, stale.Hash())
	assert.NotContains(t, hashes, own.Hash())
	assert.NotContains(t, hashes, liked.Hash())
}

func TestIntegrationUserConfig(t *testing.T) {
	ctx := context.Background()
	cfg, err := testStore.GetUserConfig(ctx, "integration")
	require.NoError(t, err)
	assert.Nil(t, cfg.SellPriceMsat)

	require.NoError(t, testStore.SetSellPrice(ctx, "integration", 0))
	cfg, err = testStore.GetUserConfig(ctx, "integration")
	require.NoError(t, err)
	require.NotNil(t, cfg.SellPriceMsat)
	assert.Equal(t, int64(0), *cfg.SellPriceMsat)

	require.NoError(t, testStore.ClearSellPrice(ctx, "integration"))
	cfg, err = testStore.GetUserConfig(ctx, "integration")
	require.NoError(t, err)
	assert.Nil(t, cfg.SellPriceMsat)
}
