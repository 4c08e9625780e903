package control

import (
	"context"

	"github.com/yzernik/squeakroad-sub000/internal/models"
	"github.com/yzernik/squeakroad-sub000/internal/squeak"
)

func (c *Controller) signingProfile(ctx context.Context, id int64) (models.SigningProfile, error) {
	p, err := c.store.GetProfile(ctx, id)
	if err != nil {
		return models.SigningProfile{}, err
	}
	if p == nil {
		return models.SigningProfile{}, ErrProfileNotFound
	}
	sp, ok := p.(models.SigningProfile)
	if !ok {
		return models.SigningProfile{}, ErrNotSigningProfile
	}
	return sp, nil
}

// MakeSqueak authors, stores and unlocks a squeak. recipientID, when set,
// makes it private to that profile.
func (c *Controller) MakeSqueak(ctx context.Context, profileID int64, content string, replyTo *squeak.Hash, recipientID *int64) (squeak.Hash, error) {
	profile, err := c.signingProfile(ctx, profileID)
	if err != nil {
		return squeak.Hash{}, err
	}
	var recipient models.Profile
	if recipientID != nil {
		if recipient, err = c.store.GetProfile(ctx, *recipientID); err != nil {
			return squeak.Hash{}, err
		}
		if recipient == nil {
			return squeak.Hash{}, ErrProfileNotFound
		}
	}
	sq, key, err := c.engine.MakeSqueak(ctx, profile, content, replyTo, recipient)
	if err != nil {
		return squeak.Hash{}, err
	}
	return c.saveOwn(ctx, sq, key)
}

func (c *Controller) MakeResqueak(ctx context.Context, profileID int64, resqueaked squeak.Hash, replyTo *squeak.Hash) (squeak.Hash, error) {
	profile, err := c.signingProfile(ctx, profileID)
	if err != nil {
		return squeak.Hash{}, err
	}
	sq, key, err := c.engine.MakeResqueak(ctx, profile, resqueaked, replyTo)
	if err != nil {
		return squeak.Hash{}, err
	}
	return c.saveOwn(ctx, sq, key)
}

func (c *Controller) saveOwn(ctx context.Context, sq squeak.Squeak, key squeak.SecretKey) (squeak.Hash, error) {
	hash := sq.Hash()
	if _, err := c.engine.SaveSqueak(ctx, sq); err != nil {
		return squeak.Hash{}, err
	}
	if err := c.engine.SaveSecretKey(ctx, hash, key); err != nil {
		return squeak.Hash{}, err
	}
	return hash, nil
}

func (c *Controller) GetSqueak(ctx context.Context, hash squeak.Hash) (*squeak.Squeak, error) {
	return c.store.GetSqueak(ctx, hash)
}

func (c *Controller) GetSqueakEntry(ctx context.Context, hash squeak.Hash) (*models.SqueakEntry, error) {
	return c.store.GetSqueakEntry(ctx, hash)
}

func (c *Controller) GetTimelineSqueakEntries(ctx context.Context, limit int) ([]models.SqueakEntry, error) {
	return c.store.GetTimelineSqueakEntries(ctx, limit)
}

func (c *Controller) GetSqueakEntriesForPubKey(ctx context.Context, author squeak.PubKey, limit int) ([]models.SqueakEntry, error) {
	return c.store.GetSqueakEntriesForPubKey(ctx, author, limit)
}

func (c *Controller) GetReplySqueakEntries(ctx context.Context, hash squeak.Hash, limit int) ([]models.SqueakEntry, error) {
	return c.store.GetReplySqueakEntries(ctx, hash, limit)
}

func (c *Controller) GetLikedSqueakEntries(ctx context.Context, limit int) ([]models.SqueakEntry, error) {
	return c.store.GetLikedSqueakEntries(ctx, limit)
}

func (c *Controller) LikeSqueak(ctx context.Context, hash squeak.Hash) error {
	return c.store.SetSqueakLiked(ctx, hash)
}

func (c *Controller) UnlikeSqueak(ctx context.Context, hash squeak.Hash) error {
	return c.store.SetSqueakUnliked(ctx, hash)
}

func (c *Controller) DeleteSqueak(ctx context.Context, hash squeak.Hash) error {
	return c.store.DeleteSqueak(ctx, hash)
}

func (c *Controller) LookupSqueaks(ctx context.Context, authors []squeak.PubKey, minBlock, maxBlock int32) ([]squeak.Hash, error) {
	return c.store.LookupSqueaks(ctx, authors, minBlock, maxBlock)
}

// SaveSqueak stores a squeak received out of band.
func (c *Controller) SaveSqueak(ctx context.Context, sq squeak.Squeak) (*squeak.Hash, error) {
	return c.engine.SaveSqueak(ctx, sq)
}

// UnlockSqueak retries decryption, for example after a recipient's signing
// profile has been imported.
func (c *Controller) UnlockSqueak(ctx context.Context, hash squeak.Hash) error {
	return c.engine.UnlockSqueak(ctx, hash)
}

// GetSecretKeyForPeer hands out the key only when the peer pays nothing for
// it. A squeak without a stored key yields nil.
func (c *Controller) GetSecretKeyForPeer(ctx context.Context, hash squeak.Hash, peer models.PeerAddress) (*squeak.SecretKey, error) {
	key, err := c.store.GetSqueakSecretKey(ctx, hash)
	if err != nil || key == nil {
		return nil, err
	}
	price, err := c.sellPriceFor(ctx, peer)
	if err != nil {
		return nil, err
	}
	if price > 0 {
		return nil, ErrPaymentRequired
	}
	return key, nil
}

// GetOfferForPeer prices the key of hash for peer, reusing an unpaid offer
// for the same peer host while its invoice is live. It returns nil when
// there is nothing to sell.
func (c *Controller) GetOfferForPeer(ctx context.Context, hash squeak.Hash, peer models.PeerAddress) (*models.Offer, error) {
	price, err := c.sellPriceFor(ctx, peer)
	if err != nil || price == 0 {
		return nil, err
	}
	sq, err := c.store.GetSqueak(ctx, hash)
	if err != nil || sq == nil {
		return nil, err
	}
	key, err := c.store.GetSqueakSecretKey(ctx, hash)
	if err != nil || key == nil {
		return nil, err
	}

	sent := c.cachedOffer(ctx, hash, peer)
	if sent == nil {
		created, err := c.engine.CreateOffer(ctx, *sq, *key, peer, price)
		if err != nil {
			return nil, err
		}
		if err := c.offers.Put(ctx, created); err != nil {
			c.log.Debug().Err(err).Str("squeak", hash.String()).Msg("offer not cached")
		}
		sent = &created
	}
	offer, err := c.engine.PackageOffer(ctx, *sent)
	if err != nil {
		return nil, err
	}
	return &offer, nil
}

// cachedOffer returns a cached offer that the store still shows unpaid.
func (c *Controller) cachedOffer(ctx context.Context, hash squeak.Hash, peer models.PeerAddress) *models.SentOffer {
	cached, err := c.offers.Get(ctx, hash, peer.Host)
	if err != nil {
		c.log.Warn().Err(err).Msg("offer cache lookup failed")
		return nil
	}
	if cached == nil {
		return nil
	}
	stored, err := c.store.GetSentOfferByPaymentHash(ctx, cached.PaymentHash)
	if err != nil || stored == nil || stored.Paid {
		_ = c.offers.Delete(ctx, hash, peer.Host)
		return nil
	}
	return stored
}
