package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yzernik/squeakroad-sub000/internal/bitcoin"
	"github.com/yzernik/squeakroad-sub000/internal/eventbus"
	"github.com/yzernik/squeakroad-sub000/internal/lightning"
	"github.com/yzernik/squeakroad-sub000/internal/lightning/lntest"
	"github.com/yzernik/squeakroad-sub000/internal/metrics"
	"github.com/yzernik/squeakroad-sub000/internal/models"
	"github.com/yzernik/squeakroad-sub000/internal/squeak"
	"github.com/yzernik/squeakroad-sub000/internal/storage/storetest"
)

type fakeChain struct {
	height int32
	err    error
}

func blockHash(height int32) chainhash.Hash {
	return chainhash.DoubleHashH([]byte{byte(height), byte(height >> 8)})
}

func (c *fakeChain) GetBestBlockInfo(ctx context.Context) (bitcoin.BlockInfo, error) {
	return c.GetBlockInfoByHeight(ctx, c.height)
}

func (c *fakeChain) GetBlockInfoByHeight(ctx context.Context, height int32) (bitcoin.BlockInfo, error) {
	if c.err != nil {
		return bitcoin.BlockInfo{}, c.err
	}
	return bitcoin.BlockInfo{Height: height, Hash: blockHash(height), Header: []byte{0x01}}, nil
}

type recordingBus struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (b *recordingBus) Publish(ev eventbus.Event) {
	b.mu.Lock()
	b.events = append(b.events, ev)
	b.mu.Unlock()
}

func (b *recordingBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

var testConfig = Config{
	MaxSqueaks:                     100,
	MaxSqueaksPerPublicKeyPerBlock: 5,
	SqueakRetention:                time.Hour,
	SentOfferRetentionS:            60,
	ReceivedOfferRetentionS:        60,
}

type harness struct {
	engine *Engine
	store  *storetest.Memory
	node   *lntest.Node
	bus    *recordingBus
	chain  *fakeChain
}

func newHarness(t *testing.T, net *lntest.Network, pubkey string) *harness {
	t.Helper()
	h := &harness{
		store: storetest.NewMemory(),
		node:  net.NewNode(pubkey),
		bus:   &recordingBus{},
		chain: &fakeChain{height: 120},
	}
	h.engine = New(h.store, h.chain, h.node, h.bus, metrics.New(), testConfig, zerolog.Nop())
	return h
}

func newSigningProfile(t *testing.T, store *storetest.Memory, name string) models.SigningProfile {
	t.Helper()
	priv, err := squeak.GenerateSigningKey()
	require.NoError(t, err)
	p := models.SigningProfile{ProfileInfo: models.ProfileInfo{Name: name, PubKey: squeak.PubKeyOf(priv)}}
	copy(p.PrivateKey[:], priv.Serialize())
	id, err := store.InsertProfile(context.Background(), p)
	require.NoError(t, err)
	require.NotNil(t, id)
	p.ID = *id
	return p
}

func TestMakeAndUnlockRoundTrip(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, lntest.NewNetwork(), "seller")
	alice := newSigningProfile(t, h.store, "alice")

	sq, key, err := h.engine.MakeSqueak(ctx, alice, "hello", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(120), sq.BlockHeight)
	assert.Equal(t, blockHash(120), sq.BlockHash)

	hash, err := h.engine.SaveSqueak(ctx, sq)
	require.NoError(t, err)
	require.NotNil(t, hash)
	assert.Len(t, hash[:], 32)
	_, unlocked := h.store.Content(*hash)
	assert.False(t, unlocked)

	require.NoError(t, h.engine.SaveSecretKey(ctx, *hash, key))
	content, unlocked := h.store.Content(*hash)
	assert.True(t, unlocked)
	assert.Equal(t, "hello", content)

	require.Equal(t, 2, h.bus.count())
	assert.IsType(t, eventbus.NewSqueak{}, h.bus.events[0])
	assert.IsType(t, eventbus.NewSecretKey{}, h.bus.events[1])
}

func TestSaveSqueakDuplicateReturnsNil(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, lntest.NewNetwork(), "seller")
	alice := newSigningProfile(t, h.store, "alice")
	sq, _, err := h.engine.MakeSqueak(ctx, alice, "hello", nil, nil)
	require.NoError(t, err)

	first, err := h.engine.SaveSqueak(ctx, sq)
	require.NoError(t, err)
	require.NotNil(t, first)
	second, err := h.engine.SaveSqueak(ctx, sq)
	require.NoError(t, err)
	assert.Nil(t, second)
	assert.Equal(t, 1, h.bus.count())
}

func TestSaveSqueakRejectsWrongBlockHash(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, lntest.NewNetwork(), "seller")
	priv, err := squeak.GenerateSigningKey()
	require.NoError(t, err)
	sq, _, err := squeak.MakeSqueak(priv, "forged", squeak.Anchor{Height: 50, Hash: chainhash.Hash{0xde, 0xad}}, nil, nil)
	require.NoError(t, err)

	_, err = h.engine.SaveSqueak(ctx, sq)
	assert.ErrorIs(t, err, ErrBlockHashMismatch)
}

func TestSaveSqueakRejectsTamperedSqueak(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, lntest.NewNetwork(), "seller")
	alice := newSigningProfile(t, h.store, "alice")
	sq, _, err := h.engine.MakeSqueak(ctx, alice, "hello", nil, nil)
	require.NoError(t, err)
	sq.Nonce++

	_, err = h.engine.SaveSqueak(ctx, sq)
	assert.ErrorIs(t, err, ErrInvalidSqueak)
}

func TestSaveSqueakEnforcesLimits(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, lntest.NewNetwork(), "seller")
	alice := newSigningProfile(t, h.store, "alice")
	for i := 0; i < testConfig.MaxSqueaksPerPublicKeyPerBlock; i++ {
		sq, _, err := h.engine.MakeSqueak(ctx, alice, "hello", nil, nil)
		require.NoError(t, err)
		_, err = h.engine.SaveSqueak(ctx, sq)
		require.NoError(t, err)
	}
	sq, _, err := h.engine.MakeSqueak(ctx, alice, "one too many", nil, nil)
	require.NoError(t, err)
	_, err = h.engine.SaveSqueak(ctx, sq)
	assert.ErrorIs(t, err, ErrMaxSqueaksPerBlock)

	h.engine.cfg.MaxSqueaks = testConfig.MaxSqueaksPerPublicKeyPerBlock
	h.chain.height = 121
	sq, _, err = h.engine.MakeSqueak(ctx, alice, "next block", nil, nil)
	require.NoError(t, err)
	_, err = h.engine.SaveSqueak(ctx, sq)
	assert.ErrorIs(t, err, ErrMaxSqueaks)
}

func TestMakeSqueakSurfacesBitcoinErrors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, lntest.NewNetwork(), "seller")
	alice := newSigningProfile(t, h.store, "alice")
	h.chain.err = bitcoin.ErrRequest

	_, _, err := h.engine.MakeSqueak(ctx, alice, "hello", nil, nil)
	assert.ErrorIs(t, err, bitcoin.ErrRequest)
}

func TestSaveSecretKeyRejectsWrongKey(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, lntest.NewNetwork(), "seller")
	alice := newSigningProfile(t, h.store, "alice")
	sq, key, err := h.engine.MakeSqueak(ctx, alice, "hello", nil, nil)
	require.NoError(t, err)
	hash, err := h.engine.SaveSqueak(ctx, sq)
	require.NoError(t, err)

	key[0] ^= 0xff
	assert.ErrorIs(t, h.engine.SaveSecretKey(ctx, *hash, key), ErrInvalidSecretKey)
	assert.ErrorIs(t, h.engine.SaveSecretKey(ctx, squeak.Hash{1}, key), ErrSqueakNotFound)
}

func TestPrivateSqueakUnlocksForRecipient(t *testing.T) {
	ctx := context.Background()
	author := newHarness(t, lntest.NewNetwork(), "author")
	alice := newSigningProfile(t, author.store, "alice")
	reader := newHarness(t, lntest.NewNetwork(), "reader")
	bob := newSigningProfile(t, reader.store, "bob")

	sq, key, err := author.engine.MakeSqueak(ctx, alice, "for bob", nil, bob)
	require.NoError(t, err)
	require.True(t, sq.IsPrivate())

	// A third node without either private key keeps the squeak locked.
	stranger := newHarness(t, lntest.NewNetwork(), "stranger")
	hash, err := stranger.engine.SaveSqueak(ctx, sq)
	require.NoError(t, err)
	require.NoError(t, stranger.engine.SaveSecretKey(ctx, *hash, key))
	_, unlocked := stranger.store.Content(*hash)
	assert.False(t, unlocked)
	assert.ErrorIs(t, stranger.engine.UnlockSqueak(ctx, *hash), ErrNoDecryptionKey)

	hash, err = reader.engine.SaveSqueak(ctx, sq)
	require.NoError(t, err)
	require.NoError(t, reader.engine.SaveSecretKey(ctx, *hash, key))
	content, unlocked := reader.store.Content(*hash)
	assert.True(t, unlocked)
	assert.Equal(t, "for bob", content)
}

func TestResqueakUnlocksWithoutContent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, lntest.NewNetwork(), "seller")
	alice := newSigningProfile(t, h.store, "alice")
	sq, key, err := h.engine.MakeResqueak(ctx, alice, squeak.Hash{9}, nil)
	require.NoError(t, err)
	hash, err := h.engine.SaveSqueak(ctx, sq)
	require.NoError(t, err)
	require.NoError(t, h.engine.SaveSecretKey(ctx, *hash, key))
	content, unlocked := h.store.Content(*hash)
	assert.True(t, unlocked)
	assert.Empty(t, content)
}

type saleFixture struct {
	seller, buyer *harness
	net           *lntest.Network
	sq            squeak.Squeak
	key           squeak.SecretKey
	peer          models.PeerAddress
}

func newSaleFixture(t *testing.T) *saleFixture {
	t.Helper()
	ctx := context.Background()
	net := lntest.NewNetwork()
	f := &saleFixture{
		net:    net,
		seller: newHarness(t, net, "seller"),
		buyer:  newHarness(t, net, "buyer"),
		peer:   models.PeerAddress{Network: models.NetworkIPv4, Host: "203.0.113.5", Port: 8555},
	}
	alice := newSigningProfile(t, f.seller.store, "alice")
	var err error
	f.sq, f.key, err = f.seller.engine.MakeSqueak(ctx, alice, "hello", nil, nil)
	require.NoError(t, err)
	hash, err := f.seller.engine.SaveSqueak(ctx, f.sq)
	require.NoError(t, err)
	require.NoError(t, f.seller.engine.SaveSecretKey(ctx, *hash, f.key))
	_, err = f.buyer.engine.SaveSqueak(ctx, f.sq)
	require.NoError(t, err)
	return f
}

func TestSellSqueakOffer(t *testing.T) {
	ctx := context.Background()
	f := newSaleFixture(t)

	offer, err := f.seller.engine.CreateOffer(ctx, f.sq, f.key, f.peer, 1_000_000)
	require.NoError(t, err)
	assert.NotZero(t, offer.ID)
	assert.Equal(t, int64(1_000_000), offer.PriceMsat)
	assert.Equal(t, f.peer, offer.PeerAddress)

	preimage, ok := f.net.Preimage(offer.PaymentRequest)
	require.True(t, ok)
	assert.Equal(t, f.key, squeak.SecretKey(squeak.SubTweak(preimage, offer.Nonce)))
	assert.Equal(t, models.Hash32(lightning.PaymentHashOf(preimage)), offer.PaymentHash)

	wire, err := f.seller.engine.PackageOffer(ctx, offer)
	require.NoError(t, err)
	assert.Equal(t, f.sq.Hash().String(), wire.SqueakHash)
	assert.Equal(t, offer.Nonce.String(), wire.Nonce)
	assert.Equal(t, offer.PaymentRequest, wire.PaymentRequest)
	assert.Equal(t, "127.0.0.1", wire.Host)
	assert.Equal(t, 9735, wire.Port)
}

func TestPackageOfferUsesExternalOverride(t *testing.T) {
	f := newSaleFixture(t)
	f.seller.engine.cfg.LightningExternalHost = "ln.example.com"
	f.seller.engine.cfg.LightningExternalPort = 9999
	wire, err := f.seller.engine.PackageOffer(context.Background(), models.SentOffer{SqueakHash: f.sq.Hash()})
	require.NoError(t, err)
	assert.Equal(t, "ln.example.com", wire.Host)
	assert.Equal(t, 9999, wire.Port)
}

func TestUnpackOfferRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newSaleFixture(t)
	offer, err := f.seller.engine.CreateOffer(ctx, f.sq, f.key, f.peer, 1_000_000)
	require.NoError(t, err)
	wire, err := f.seller.engine.PackageOffer(ctx, offer)
	require.NoError(t, err)

	received, err := f.buyer.engine.UnpackOffer(ctx, f.sq, wire, f.peer)
	require.NoError(t, err)
	assert.Equal(t, offer.PaymentHash, received.PaymentHash)
	assert.Equal(t, offer.Nonce, received.Nonce)
	assert.Equal(t, offer.PriceMsat, received.PriceMsat)
	assert.Equal(t, f.sq.PaymentPoint, received.PaymentPoint)
	assert.Equal(t, "seller", received.SellerDestination)

	again, err := f.buyer.engine.UnpackOffer(ctx, f.sq, wire, f.peer)
	require.NoError(t, err)
	assert.Zero(t, again.ID)

	wire.SqueakHash = squeak.Hash{1}.String()
	_, err = f.buyer.engine.UnpackOffer(ctx, f.sq, wire, f.peer)
	assert.ErrorIs(t, err, ErrOfferMismatch)
}

func TestBuyerPaysAndUnlocks(t *testing.T) {
	ctx := context.Background()
	f := newSaleFixture(t)
	offer, err := f.seller.engine.CreateOffer(ctx, f.sq, f.key, f.peer, 1_000_000)
	require.NoError(t, err)
	wire, err := f.seller.engine.PackageOffer(ctx, offer)
	require.NoError(t, err)
	received, err := f.buyer.engine.UnpackOffer(ctx, f.sq, wire, f.peer)
	require.NoError(t, err)

	var paid string
	f.buyer.node.PayHook = func(pr string) (lightning.Payment, error) {
		paid = pr
		preimage := squeak.AddTweak(f.key, offer.Nonce)
		return lightning.Payment{Preimage: preimage[:]}, nil
	}
	sent, err := f.buyer.engine.PayOffer(ctx, received)
	require.NoError(t, err)
	assert.Equal(t, offer.PaymentRequest, paid)
	assert.Equal(t, f.key, sent.SecretKey)
	assert.True(t, sent.Valid)

	stored, ok := f.buyer.store.ReceivedOfferByPaymentHash(received.PaymentHash)
	require.True(t, ok)
	assert.True(t, stored.Paid)
	content, unlocked := f.buyer.store.Content(f.sq.Hash())
	assert.True(t, unlocked)
	assert.Equal(t, "hello", content)
}

func TestPayOfferInvalidDerivedKeyIsRecorded(t *testing.T) {
	ctx := context.Background()
	f := newSaleFixture(t)
	offer, err := f.seller.engine.CreateOffer(ctx, f.sq, f.key, f.peer, 1_000_000)
	require.NoError(t, err)
	wire, _ := f.seller.engine.PackageOffer(ctx, offer)
	received, err := f.buyer.engine.UnpackOffer(ctx, f.sq, wire, f.peer)
	require.NoError(t, err)

	f.buyer.node.PayHook = func(string) (lightning.Payment, error) {
		bogus, _ := squeak.RandomScalar()
		return lightning.Payment{Preimage: bogus[:]}, nil
	}
	sent, err := f.buyer.engine.PayOffer(ctx, received)
	assert.ErrorIs(t, err, ErrInvalidDerivedKey)
	assert.False(t, sent.Valid)

	payments, err := f.buyer.store.GetSentPayments(ctx, 10)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.False(t, payments[0].Valid)
	_, unlocked := f.buyer.store.Content(f.sq.Hash())
	assert.False(t, unlocked)
}

func TestPayOfferFailureStoresNothing(t *testing.T) {
	ctx := context.Background()
	f := newSaleFixture(t)
	offer, err := f.seller.engine.CreateOffer(ctx, f.sq, f.key, f.peer, 1_000_000)
	require.NoError(t, err)
	wire, _ := f.seller.engine.PackageOffer(ctx, offer)
	received, err := f.buyer.engine.UnpackOffer(ctx, f.sq, wire, f.peer)
	require.NoError(t, err)

	f.buyer.node.PayHook = func(string) (lightning.Payment, error) {
		return lightning.Payment{Error: "no route"}, nil
	}
	_, err = f.buyer.engine.PayOffer(ctx, received)
	assert.ErrorIs(t, err, ErrPaymentFailed)

	f.buyer.node.PayHook = func(string) (lightning.Payment, error) {
		return lightning.Payment{}, errors.New("rpc down")
	}
	_, err = f.buyer.engine.PayOffer(ctx, received)
	assert.Error(t, err)

	f.buyer.node.PayHook = func(string) (lightning.Payment, error) {
		return lightning.Payment{Preimage: make([]byte, 31)}, nil
	}
	_, err = f.buyer.engine.PayOffer(ctx, received)
	assert.ErrorIs(t, err, ErrPaymentFailed)
	assert.ErrorContains(t, err, "invalid preimage length 31")

	payments, err := f.buyer.store.GetSentPayments(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestPayOfferThroughNetworkSettlesSeller(t *testing.T) {
	ctx := context.Background()
	f := newSaleFixture(t)
	offer, err := f.seller.engine.CreateOffer(ctx, f.sq, f.key, f.peer, 1_000_000)
	require.NoError(t, err)
	wire, _ := f.seller.engine.PackageOffer(ctx, offer)
	received, err := f.buyer.engine.UnpackOffer(ctx, f.sq, wire, f.peer)
	require.NoError(t, err)

	stream, err := f.seller.node.SubscribeInvoices(ctx, 0)
	require.NoError(t, err)
	defer stream.Cancel()

	sent, err := f.buyer.engine.PayOffer(ctx, received)
	require.NoError(t, err)
	assert.True(t, sent.Valid)

	inv, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, [32]byte(offer.PaymentHash), inv.PaymentHash)
}

func TestDeleteExpiredOffersAndOldSqueaks(t *testing.T) {
	ctx := context.Background()
	f := newSaleFixture(t)
	_, err := f.seller.engine.CreateOffer(ctx, f.sq, f.key, f.peer, 1000)
	require.NoError(t, err)

	f.seller.store.Now = func() time.Time { return time.Unix(1_700_000_000+3600+61, 0) }
	sent, received, err := f.seller.engine.DeleteExpiredOffers(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, sent)
	assert.EqualValues(t, 0, received)

	f.buyer.store.AgeSqueak(f.sq.Hash(), 2*time.Hour)
	n, err := f.buyer.engine.DeleteOldSqueaks(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	// authored by a local signing profile, so it survives retention
	f.seller.store.Now = time.Now
	f.seller.store.AgeSqueak(f.sq.Hash(), 2*time.Hour)
	n, err = f.seller.engine.DeleteOldSqueaks(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}
