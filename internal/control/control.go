// Package control is the single entry point the servers, workers and the
// dashboard use to act on the node.
package control

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/yzernik/squeakroad-sub000/internal/apperr"
	"github.com/yzernik/squeakroad-sub000/internal/engine"
	"github.com/yzernik/squeakroad-sub000/internal/eventbus"
	"github.com/yzernik/squeakroad-sub000/internal/models"
	"github.com/yzernik/squeakroad-sub000/internal/offercache"
	"github.com/yzernik/squeakroad-sub000/internal/squeak"
)

var (
	ErrProfileNotFound   = apperr.NotFound("profile not found")
	ErrNotSigningProfile = apperr.InvalidArg("profile has no private key")
	ErrEmptyProfileName  = apperr.InvalidArg("profile name is required")
	ErrProfileExists     = apperr.AlreadyExists("profile already exists")
	ErrPeerNotFound      = apperr.NotFound("peer not found")
	ErrPeerExists        = apperr.AlreadyExists("peer already exists")
	ErrOfferNotFound     = apperr.NotFound("offer not found")
	ErrNoOffers          = apperr.FailedPrecondition("no offers available for squeak")
	ErrNegativePrice     = apperr.InvalidArg("sell price must not be negative")
	ErrPaymentRequired   = apperr.PaymentRequired("secret key requires payment")
	ErrInvalidImage      = apperr.InvalidArg("invalid profile image")
)

// Store is everything the controller reads and writes.
type Store interface {
	engine.Store
	Ping(ctx context.Context) error

	SetSqueakLiked(ctx context.Context, hash squeak.Hash) error
	SetSqueakUnliked(ctx context.Context, hash squeak.Hash) error
	DeleteSqueak(ctx context.Context, hash squeak.Hash) error
	LookupSqueaks(ctx context.Context, authors []squeak.PubKey, minHeight, maxHeight int32) ([]squeak.Hash, error)
	GetSqueakEntry(ctx context.Context, hash squeak.Hash) (*models.SqueakEntry, error)
	GetTimelineSqueakEntries(ctx context.Context, limit int) ([]models.SqueakEntry, error)
	GetSqueakEntriesForPubKey(ctx context.Context, author squeak.PubKey, limit int) ([]models.SqueakEntry, error)
	GetReplySqueakEntries(ctx context.Context, hash squeak.Hash, limit int) ([]models.SqueakEntry, error)
	GetLikedSqueakEntries(ctx context.Context, limit int) ([]models.SqueakEntry, error)

	InsertProfile(ctx context.Context, p models.Profile) (*int64, error)
	GetProfile(ctx context.Context, id int64) (models.Profile, error)
	GetProfileByName(ctx context.Context, name string) (models.Profile, error)
	GetProfiles(ctx context.Context) ([]models.Profile, error)
	GetSigningProfiles(ctx context.Context) ([]models.Profile, error)
	GetContactProfiles(ctx context.Context) ([]models.Profile, error)
	GetFollowingProfiles(ctx context.Context) ([]models.Profile, error)
	SetProfileFollowing(ctx context.Context, id int64, following bool) error
	RenameProfile(ctx context.Context, id int64, name string) error
	SetProfileImage(ctx context.Context, id int64, image []byte) error
	DeleteProfile(ctx context.Context, id int64) error

	InsertPeer(ctx context.Context, name string, addr models.PeerAddress, autoconnect bool) (*int64, error)
	GetPeer(ctx context.Context, id int64) (*models.Peer, error)
	GetPeerByAddress(ctx context.Context, addr models.PeerAddress) (*models.Peer, error)
	GetPeers(ctx context.Context) ([]models.Peer, error)
	GetAutoconnectPeers(ctx context.Context) ([]models.Peer, error)
	SetPeerAutoconnect(ctx context.Context, id int64, autoconnect bool) error
	SetPeerShareForFree(ctx context.Context, id int64, free bool) error
	RenamePeer(ctx context.Context, id int64, name string) error
	DeletePeer(ctx context.Context, id int64) error

	GetSentOfferByPaymentHash(ctx context.Context, hash models.Hash32) (*models.SentOffer, error)
	GetSentOffers(ctx context.Context, limit int) ([]models.SentOffer, error)
	GetReceivedOffer(ctx context.Context, id int64) (*models.ReceivedOffer, error)
	GetReceivedOffers(ctx context.Context, hash squeak.Hash) ([]models.ReceivedOffer, error)
	GetReceivedPayments(ctx context.Context, limit int) ([]models.ReceivedPayment, error)
	GetSentPayments(ctx context.Context, limit int) ([]models.SentPayment, error)
	GetPaymentSummary(ctx context.Context) (models.PaymentSummary, error)

	GetUserConfig(ctx context.Context, username string) (models.UserConfig, error)
	SetSellPrice(ctx context.Context, username string, priceMsat int64) error
	ClearSellPrice(ctx context.Context, username string) error
}

// PeerClient talks to other nodes; peerclient.Client implements it.
type PeerClient interface {
	GetSqueak(ctx context.Context, addr models.PeerAddress, hash squeak.Hash) (*squeak.Squeak, error)
	GetSecretKey(ctx context.Context, addr models.PeerAddress, hash squeak.Hash) (*squeak.SecretKey, error)
	GetOffer(ctx context.Context, addr models.PeerAddress, hash squeak.Hash) (*models.Offer, error)
	Lookup(ctx context.Context, addr models.PeerAddress, authors []squeak.PubKey, minBlock, maxBlock int32) ([]squeak.Hash, error)
}

type Ledger interface {
	Reprocess(ctx context.Context) error
}

type Config struct {
	Params    squeak.Params
	Username  string
	PriceMsat int64
	// ExternalAddress and ExternalPort are where other nodes reach this one.
	ExternalAddress       string
	ExternalPort          uint16
	InterestBlockInterval int32
}

type Controller struct {
	store  Store
	engine *engine.Engine
	chain  engine.Blockchain
	offers offercache.Cache
	peers  PeerClient
	ledger Ledger
	bus    *eventbus.Bus
	cfg    Config
	log    zerolog.Logger
}

type Deps struct {
	Store  Store
	Engine *engine.Engine
	Chain  engine.Blockchain
	Offers offercache.Cache
	Peers  PeerClient
	Ledger Ledger
	Bus    *eventbus.Bus
}

func New(deps Deps, cfg Config, logger zerolog.Logger) *Controller {
	if deps.Offers == nil {
		deps.Offers = offercache.NewMemory()
	}
	return &Controller{
		store:  deps.Store,
		engine: deps.Engine,
		chain:  deps.Chain,
		offers: deps.Offers,
		peers:  deps.Peers,
		ledger: deps.Ledger,
		bus:    deps.Bus,
		cfg:    cfg,
		log:    logger.With().Str("component", "control").Logger(),
	}
}

func (c *Controller) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}

// DefaultPeerPort is substituted when a saved peer is given port 0.
func (c *Controller) DefaultPeerPort() uint16 {
	if c.cfg.ExternalPort != 0 {
		return c.cfg.ExternalPort
	}
	return c.cfg.Params.DefaultPort
}

// ExternalAddress is the address this node advertises to peers.
func (c *Controller) ExternalAddress() models.PeerAddress {
	return models.PeerAddress{Network: models.NetworkIPv4, Host: c.cfg.ExternalAddress, Port: c.DefaultPeerPort()}
}

func (c *Controller) Network() string { return c.cfg.Params.Name }

// ReprocessReceivedPayments restarts settlement tracking from index 0.
func (c *Controller) ReprocessReceivedPayments(ctx context.Context) error {
	return c.ledger.Reprocess(ctx)
}

// DeleteExpiredOffers and DeleteOldSqueaks back the retention workers.
func (c *Controller) DeleteExpiredOffers(ctx context.Context) error {
	sent, received, err := c.engine.DeleteExpiredOffers(ctx)
	if err != nil {
		return err
	}
	if sent+received > 0 {
		c.log.Info().Int64("sent", sent).Int64("received", received).Msg("deleted expired offers")
	}
	return nil
}

func (c *Controller) DeleteOldSqueaks(ctx context.Context) error {
	n, err := c.engine.DeleteOldSqueaks(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		c.log.Info().Int64("count", n).Msg("deleted old squeaks")
	}
	return nil
}
