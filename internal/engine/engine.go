// Package engine authors, validates and unlocks squeaks and runs both sides
// of the atomic squeak sale.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/yzernik/squeakroad-sub000/internal/apperr"
	"github.com/yzernik/squeakroad-sub000/internal/bitcoin"
	"github.com/yzernik/squeakroad-sub000/internal/eventbus"
	"github.com/yzernik/squeakroad-sub000/internal/lightning"
	"github.com/yzernik/squeakroad-sub000/internal/metrics"
	"github.com/yzernik/squeakroad-sub000/internal/models"
	"github.com/yzernik/squeakroad-sub000/internal/squeak"
)

var (
	ErrMaxSqueaks           = apperr.ResourceExhausted("max squeaks reached")
	ErrMaxSqueaksPerBlock   = apperr.ResourceExhausted("max squeaks per public key per block reached")
	ErrInvalidSqueak        = apperr.InvalidArg("invalid squeak")
	ErrBlockHashMismatch    = apperr.InvalidArg("squeak block hash does not match the block at its height")
	ErrSqueakNotFound       = apperr.NotFound("squeak not found")
	ErrInvalidSecretKey     = apperr.InvalidArg("secret key does not match squeak")
	ErrSqueakLocked         = apperr.FailedPrecondition("squeak secret key not available")
	ErrNoDecryptionKey      = apperr.FailedPrecondition("no local private key can decrypt squeak")
	ErrOfferMismatch        = apperr.InvalidArg("offer does not match squeak")
	ErrPaymentPointMismatch = apperr.InvalidArg("offer payment point does not match squeak")
	ErrPaymentFailed        = apperr.Unavailable("lightning payment failed")
	ErrInvalidDerivedKey    = apperr.FailedPrecondition("derived secret key does not match payment point")
)

// withCause attaches cause to a package sentinel; errors.Is still matches it.
func withCause(sentinel, cause error) error {
	var ae *apperr.Error
	if !errors.As(sentinel, &ae) {
		return sentinel
	}
	return apperr.Wrap(ae.Code, ae.Message, cause)
}

// Store is the persistence the engine needs.
type Store interface {
	InsertSqueak(ctx context.Context, sq squeak.Squeak, blockHeader []byte) (*squeak.Hash, error)
	GetSqueak(ctx context.Context, hash squeak.Hash) (*squeak.Squeak, error)
	GetSqueakSecretKey(ctx context.Context, hash squeak.Hash) (*squeak.SecretKey, error)
	SetSqueakSecretKey(ctx context.Context, hash squeak.Hash, key squeak.SecretKey) error
	SetSqueakContent(ctx context.Context, hash squeak.Hash, content string) error
	GetNumberOfSqueaks(ctx context.Context) (int, error)
	GetNumberOfSqueaksWithPubKeyAtHeight(ctx context.Context, author squeak.PubKey, height int32) (int, error)
	GetProfileByPubKey(ctx context.Context, pubkey squeak.PubKey) (models.Profile, error)
	InsertSentOffer(ctx context.Context, o models.SentOffer) (*int64, error)
	InsertReceivedOffer(ctx context.Context, o models.ReceivedOffer) (*int64, error)
	SetReceivedOfferPaid(ctx context.Context, paymentHash models.Hash32) error
	InsertSentPayment(ctx context.Context, p models.SentPayment) (*int64, error)
	DeleteExpiredSentOffers(ctx context.Context, retentionS int64) (int64, error)
	DeleteExpiredReceivedOffers(ctx context.Context, retentionS int64) (int64, error)
	DeleteOldSqueaks(ctx context.Context, retention time.Duration) (int64, error)
}

// Blockchain is the read-only view of Bitcoin the engine anchors squeaks to.
type Blockchain interface {
	GetBestBlockInfo(ctx context.Context) (bitcoin.BlockInfo, error)
	GetBlockInfoByHeight(ctx context.Context, height int32) (bitcoin.BlockInfo, error)
}

type Publisher interface {
	Publish(ev eventbus.Event)
}

type Config struct {
	MaxSqueaks                     int
	MaxSqueaksPerPublicKeyPerBlock int
	SqueakRetention                time.Duration
	SentOfferRetentionS            int64
	ReceivedOfferRetentionS        int64
	// LightningExternalHost overrides the host advertised in offers.
	LightningExternalHost string
	LightningExternalPort int
}

type Engine struct {
	store   Store
	chain   Blockchain
	ln      lightning.Client
	bus     Publisher
	metrics *metrics.Metrics
	cfg     Config
	log     zerolog.Logger
	now     func() time.Time
}

func New(store Store, chain Blockchain, ln lightning.Client, bus Publisher, m *metrics.Metrics, cfg Config, logger zerolog.Logger) *Engine {
	return &Engine{
		store:   store,
		chain:   chain,
		ln:      ln,
		bus:     bus,
		metrics: m,
		cfg:     cfg,
		log:     logger.With().Str("component", "engine").Logger(),
		now:     time.Now,
	}
}
