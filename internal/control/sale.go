package control

import (
	"context"

	"github.com/yzernik/squeakroad-sub000/internal/models"
	"github.com/yzernik/squeakroad-sub000/internal/squeak"
)

// GetSellPriceMsat returns the user's override, else the node default.
func (c *Controller) GetSellPriceMsat(ctx context.Context) (int64, error) {
	uc, err := c.store.GetUserConfig(ctx, c.cfg.Username)
	if err != nil {
		return 0, err
	}
	if uc.SellPriceMsat != nil {
		return *uc.SellPriceMsat, nil
	}
	return c.cfg.PriceMsat, nil
}

func (c *Controller) GetDefaultSellPriceMsat() int64 { return c.cfg.PriceMsat }

func (c *Controller) SetSellPriceMsat(ctx context.Context, priceMsat int64) error {
	if priceMsat < 0 {
		return ErrNegativePrice
	}
	return c.store.SetSellPrice(ctx, c.cfg.Username, priceMsat)
}

func (c *Controller) ClearSellPriceMsat(ctx context.Context) error {
	return c.store.ClearSellPrice(ctx, c.cfg.Username)
}

func (c *Controller) sellPriceFor(ctx context.Context, peer models.PeerAddress) (int64, error) {
	free, err := c.sharesForFree(ctx, peer.Host)
	if err != nil {
		return 0, err
	}
	if free {
		return 0, nil
	}
	return c.GetSellPriceMsat(ctx)
}

func (c *Controller) GetSentOffers(ctx context.Context, limit int) ([]models.SentOffer, error) {
	return c.store.GetSentOffers(ctx, limit)
}

func (c *Controller) GetReceivedOffer(ctx context.Context, id int64) (*models.ReceivedOffer, error) {
	o, err := c.store.GetReceivedOffer(ctx, id)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, ErrOfferNotFound
	}
	return o, nil
}

// GetReceivedOffers lists unpaid, unexpired offers for hash, cheapest first.
func (c *Controller) GetReceivedOffers(ctx context.Context, hash squeak.Hash) ([]models.ReceivedOffer, error) {
	return c.store.GetReceivedOffers(ctx, hash)
}

func (c *Controller) GetReceivedPayments(ctx context.Context, limit int) ([]models.ReceivedPayment, error) {
	return c.store.GetReceivedPayments(ctx, limit)
}

func (c *Controller) GetSentPayments(ctx context.Context, limit int) ([]models.SentPayment, error) {
	return c.store.GetSentPayments(ctx, limit)
}

func (c *Controller) GetPaymentSummary(ctx context.Context) (models.PaymentSummary, error) {
	return c.store.GetPaymentSummary(ctx)
}

// PayOffer pays a stored received offer.
func (c *Controller) PayOffer(ctx context.Context, receivedOfferID int64) (models.SentPayment, error) {
	offer, err := c.GetReceivedOffer(ctx, receivedOfferID)
	if err != nil {
		return models.SentPayment{}, err
	}
	return c.engine.PayOffer(ctx, *offer)
}

// BuySqueak pays the cheapest known offer for hash, asking peers for
// offers first when none is stored.
func (c *Controller) BuySqueak(ctx context.Context, hash squeak.Hash) (models.SentPayment, error) {
	offers, err := c.store.GetReceivedOffers(ctx, hash)
	if err != nil {
		return models.SentPayment{}, err
	}
	if len(offers) == 0 {
		if _, err := c.DownloadOffers(ctx, hash); err != nil {
			return models.SentPayment{}, err
		}
		if offers, err = c.store.GetReceivedOffers(ctx, hash); err != nil {
			return models.SentPayment{}, err
		}
	}
	if len(offers) == 0 {
		return models.SentPayment{}, ErrNoOffers
	}
	return c.engine.PayOffer(ctx, offers[0])
}
