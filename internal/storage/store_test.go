package storage

import (
	"bytes"
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yzernik/squeakroad-sub000/internal/models"
	"github.com/yzernik/squeakroad-sub000/internal/squeak"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s := New(db)
	s.now = func() time.Time { return fixedNow }
	return s, mock
}

func testSqueak(t *testing.T, content string) squeak.Squeak {
	t.Helper()
	priv, err := squeak.GenerateSigningKey()
	require.NoError(t, err)
	sq, _, err := squeak.MakeSqueak(priv, content, squeak.Anchor{Height: 10, Hash: chainhash.Hash{1}, Time: 1700000000}, nil, nil)
	require.NoError(t, err)
	return sq
}

func testHeader(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	h := wire.BlockHeader{Version: 1, Timestamp: time.Unix(1700000000, 0)}
	require.NoError(t, h.Serialize(&buf))
	return buf.Bytes()
}

func TestInitCreatesEveryTable(t *testing.T) {
	s, mock := newMockStore(t)
	for range schema {
		mock.ExpectExec("CREATE").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	require.NoError(t, s.Init(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())

	joined := ""
	for _, stmt := range schema {
		joined += stmt
	}
	for _, table := range []string{"squeak", "profile", "peer", "received_offer", "sent_offer", "received_payment", "sent_payment", "config", "twitter_account", `"user"`} {
		assert.Contains(t, joined, "CREATE TABLE IF NOT EXISTS "+table+" (")
	}
}

func TestInsertSqueakReturnsHash(t *testing.T) {
	s, mock := newMockStore(t)
	sq := testSqueak(t, "hello")
	hash := sq.Hash()
	header := testHeader(t)
	mock.ExpectQuery("INSERT INTO squeak").
		WithArgs(hash[:], fixedNow.UnixMilli(), sq.Serialize(), nil, nil, sq.BlockHash[:], sq.BlockHeight, int64(sq.Time), sq.Author[:], nil, header).
		WillReturnRows(sqlmock.NewRows([]string{"hash"}).AddRow(hash[:]))

	got, err := s.InsertSqueak(context.Background(), sq, header)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, hash, *got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertSqueakDuplicateIsSilent(t *testing.T) {
	s, mock := newMockStore(t)
	sq := testSqueak(t, "hello")
	mock.ExpectQuery("INSERT INTO squeak").WillReturnRows(sqlmock.NewRows([]string{"hash"}))
	mock.ExpectQuery("INSERT INTO squeak").WillReturnError(&pgconn.PgError{Code: uniqueViolation})

	for i := 0; i < 2; i++ {
		got, err := s.InsertSqueak(context.Background(), sq, testHeader(t))
		require.NoError(t, err)
		assert.Nil(t, got)
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSqueakRoundTrip(t *testing.T) {
	s, mock := newMockStore(t)
	sq := testSqueak(t, "hello")
	hash := sq.Hash()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT squeak FROM squeak WHERE hash = $1`)).
		WithArgs(hash[:]).
		WillReturnRows(sqlmock.NewRows([]string{"squeak"}).AddRow(sq.Serialize()))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT squeak FROM squeak WHERE hash = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"squeak"}))

	got, err := s.GetSqueak(context.Background(), hash)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, hash, got.Hash())

	missing, err := s.GetSqueak(context.Background(), squeak.Hash{9})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestGetSqueakSecretKeyLocked(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT secret_key FROM squeak").
		WillReturnRows(sqlmock.NewRows([]string{"secret_key"}).AddRow(nil))

	key, err := s.GetSqueakSecretKey(context.Background(), squeak.Hash{1})
	require.NoError(t, err)
	assert.Nil(t, key)
}

func TestLookupSqueaksWithoutPubKeysSkipsQuery(t *testing.T) {
	s, mock := newMockStore(t)
	hashes, err := s.LookupSqueaks(context.Background(), nil, 0, 100)
	require.NoError(t, err)
	assert.Empty(t, hashes)
	assert.NotNil(t, hashes)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupSqueaksBindsEveryPubKey(t *testing.T) {
	s, mock := newMockStore(t)
	a, b := squeak.PubKey{1}, squeak.PubKey{2}
	h1, h2 := squeak.Hash{7}, squeak.Hash{8}
	mock.ExpectQuery(regexp.QuoteMeta(`author_public_key IN ($1, $2) AND block_height >= $3 AND block_height <= $4`)).
		WithArgs(a[:], b[:], int32(30), int32(50)).
		WillReturnRows(sqlmock.NewRows([]string{"hash"}).AddRow(h1[:]).AddRow(h2[:]))

	hashes, err := s.LookupSqueaks(context.Background(), []squeak.PubKey{a, b}, 30, 50)
	require.NoError(t, err)
	assert.Equal(t, []squeak.Hash{h1, h2}, hashes)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNumberOfSqueaksWithPubKeyAtHeight(t *testing.T) {
	s, mock := newMockStore(t)
	author := squeak.PubKey{3}
	mock.ExpectQuery("SELECT COUNT").WithArgs(author[:], int32(12)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	n, err := s.GetNumberOfSqueaksWithPubKeyAtHeight(context.Background(), author, 12)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestOldSqueaksUseRetentionCutoff(t *testing.T) {
	s, mock := newMockStore(t)
	retention := 7 * 24 * time.Hour
	cutoff := fixedNow.Add(-retention).UnixMilli()
	h := squeak.Hash{5}
	mock.ExpectQuery(regexp.QuoteMeta(`s.liked_time_ms IS NULL`)).WithArgs(cutoff).
		WillReturnRows(sqlmock.NewRows([]string{"hash"}).AddRow(h[:]))
	mock.ExpectExec("DELETE FROM squeak s").WithArgs(cutoff).WillReturnResult(sqlmock.NewResult(0, 1))

	hashes, err := s.GetOldSqueaksToDelete(context.Background(), retention)
	require.NoError(t, err)
	assert.Equal(t, []squeak.Hash{h}, hashes)

	n, err := s.DeleteOldSqueaks(context.Background(), retention)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Contains(t, oldSqueakFilter, "p.private_key IS NOT NULL")
	require.NoError(t, mock.ExpectationsWereMet())
}

var entryCols = []string{"squeak", "block_header", "content", "liked_time_ms", "created_time_ms", "author_name", "signing", "recipient_name"}

func TestGetSqueakEntryHydratesResqueak(t *testing.T) {
	s, mock := newMockStore(t)
	priv, err := squeak.GenerateSigningKey()
	require.NoError(t, err)
	anchor := squeak.Anchor{Height: 10, Hash: chainhash.Hash{1}, Time: 1700000000}
	inner, _, err := squeak.MakeSqueak(priv, "original", anchor, nil, nil)
	require.NoError(t, err)
	outer, _, err := squeak.MakeResqueak(priv, inner.Hash(), anchor, nil)
	require.NoError(t, err)
	header := testHeader(t)

	outerHash, innerHash := outer.Hash(), inner.Hash()
	mock.ExpectQuery("SELECT s.squeak").WithArgs(outerHash[:]).
		WillReturnRows(sqlmock.NewRows(entryCols).AddRow(outer.Serialize(), header, nil, nil, int64(1), "alice", true, nil))
	mock.ExpectQuery("SELECT s.squeak").WithArgs(innerHash[:]).
		WillReturnRows(sqlmock.NewRows(entryCols).AddRow(inner.Serialize(), header, "original", int64(99), int64(2), "alice", true, nil))

	entry, err := s.GetSqueakEntry(context.Background(), outerHash)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, outerHash, entry.Hash)
	require.NotNil(t, entry.ResqueakedHash)
	assert.Equal(t, innerHash, *entry.ResqueakedHash)
	assert.Equal(t, int64(1700000000), entry.BlockTime)
	assert.True(t, entry.IsAuthorSigning)
	assert.False(t, entry.IsUnlocked)
	require.NotNil(t, entry.Resqueaked)
	assert.True(t, entry.Resqueaked.IsUnlocked)
	assert.Equal(t, "original", *entry.Resqueaked.Content)
	assert.Equal(t, int64(99), *entry.Resqueaked.LikedTimeMs)
	assert.Nil(t, entry.Resqueaked.Resqueaked)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProfileDistinguishesSigningFromContact(t *testing.T) {
	s, mock := newMockStore(t)
	priv, err := squeak.GenerateSigningKey()
	require.NoError(t, err)
	pub := squeak.PubKeyOf(priv)
	cols := []string{"profile_id", "created_time_ms", "profile_name", "private_key", "public_key", "following", "profile_image"}
	mock.ExpectQuery("FROM profile WHERE profile_id").WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(int64(1), int64(0), "alice", priv.Serialize(), pub[:], true, nil))
	mock.ExpectQuery("FROM profile WHERE profile_id").WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(int64(2), int64(0), "bob", nil, pub[:], false, nil))
	mock.ExpectQuery("FROM profile WHERE profile_id").WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(cols))

	alice, err := s.GetProfile(context.Background(), 1)
	require.NoError(t, err)
	sp, ok := alice.(models.SigningProfile)
	require.True(t, ok)
	assert.Equal(t, "alice", sp.Name)
	signer, err := sp.Signer()
	require.NoError(t, err)
	assert.Equal(t, pub, squeak.PubKeyOf(signer))

	bob, err := s.GetProfile(context.Background(), 2)
	require.NoError(t, err)
	assert.False(t, models.IsSigning(bob))

	none, err := s.GetProfile(context.Background(), 3)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestInsertProfileConflictReturnsNil(t *testing.T) {
	s, mock := newMockStore(t)
	p := models.ContactProfile{ProfileInfo: models.ProfileInfo{Name: "bob", PubKey: squeak.PubKey{4}}}
	mock.ExpectQuery("INSERT INTO profile").
		WithArgs(fixedNow.UnixMilli(), "bob", nil, p.PubKey[:], false, nil).
		WillReturnRows(sqlmock.NewRows([]string{"profile_id"}))

	id, err := s.InsertProfile(context.Background(), p)
	require.NoError(t, err)
	assert.Nil(t, id)
}

func TestInsertPeer(t *testing.T) {
	s, mock := newMockStore(t)
	addr := models.PeerAddress{Network: models.NetworkIPv4, Host: "203.0.113.5", Port: 8555}
	mock.ExpectQuery("INSERT INTO peer").
		WithArgs(fixedNow.UnixMilli(), nil, "IPV4", "203.0.113.5", 8555, true).
		WillReturnRows(sqlmock.NewRows([]string{"peer_id"}).AddRow(int64(7)))

	id, err := s.InsertPeer(context.Background(), "", addr, true)
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, int64(7), *id)
}

func TestSentOfferLookupAndExpiry(t *testing.T) {
	s, mock := newMockStore(t)
	payHash := models.Hash32{1}
	squeakHash := squeak.Hash{2}
	cols := []string{"sent_offer_id", "created_time_ms", "squeak_hash", "payment_hash", "nonce", "price_msat",
		"payment_request", "invoice_time", "invoice_expiry", "peer_network", "peer_host", "peer_port", "paid"}
	mock.ExpectQuery("FROM sent_offer WHERE payment_hash").WithArgs(payHash[:]).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(int64(3), int64(0), squeakHash[:], payHash[:], make([]byte, 32),
			int64(1000000), "lnfake1", int64(1700000000), int64(3600), "IPV4", "203.0.113.5", 8555, false))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM sent_offer WHERE invoice_time + invoice_expiry + $1 < $2`)).
		WithArgs(int64(86400), fixedNow.Unix()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	offer, err := s.GetSentOfferByPaymentHash(context.Background(), payHash)
	require.NoError(t, err)
	require.NotNil(t, offer)
	assert.Equal(t, squeakHash, offer.SqueakHash)
	assert.Equal(t, uint16(8555), offer.PeerAddress.Port)
	assert.Equal(t, time.Unix(1700003600, 0), offer.ExpiresAt())

	n, err := s.DeleteExpiredSentOffers(context.Background(), 86400)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSettleIndexQueries(t *testing.T) {
	s, mock := newMockStore(t)
	hash := models.Hash32{0x42}
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COALESCE(MAX(settle_index), 0) FROM received_payment`)).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(42)))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE received_payment SET settle_index = 0`)).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE received_payment SET settle_index = $1 WHERE payment_hash = $2 AND settle_index < $1`)).
		WithArgs(int64(42), hash[:]).
		WillReturnResult(sqlmock.NewResult(0, 1))

	idx, err := s.GetLatestSettleIndex(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), idx)
	require.NoError(t, s.ClearReceivedPaymentSettleIndices(context.Background()))
	require.NoError(t, s.SetReceivedPaymentSettleIndex(context.Background(), hash, 42))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserConfigInsertsLazily(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "user"`)).WithArgs("default", fixedNow.UnixMilli()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO config").WithArgs("default").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT sell_price_msat FROM config").WithArgs("default").
		WillReturnRows(sqlmock.NewRows([]string{"sell_price_msat"}).AddRow(nil))

	cfg, err := s.GetUserConfig(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, "default", cfg.Username)
	assert.Nil(t, cfg.SellPriceMsat)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentSummary(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("FROM received_payment").
		WillReturnRows(sqlmock.NewRows([]string{"count", "sum"}).AddRow(int64(2), int64(2000000)))
	mock.ExpectQuery("FROM sent_payment").
		WillReturnRows(sqlmock.NewRows([]string{"count", "sum"}).AddRow(int64(1), int64(1000)))

	sum, err := s.GetPaymentSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.PaymentSummary{NumReceivedPayments: 2, AmountEarnedMsat: 2000000, NumSentPayments: 1, AmountSpentMsat: 1000}, sum)
}
