package control

import (
	"context"

	"github.com/yzernik/squeakroad-sub000/internal/eventbus"
	"github.com/yzernik/squeakroad-sub000/internal/models"
	"github.com/yzernik/squeakroad-sub000/internal/squeak"
)

// EntryIterator yields squeak entries as they are saved or unlocked.
type EntryIterator struct {
	hashes *eventbus.Iterator[squeak.Hash]
	store  Store
	keep   func(models.SqueakEntry) bool
}

// Next blocks until a matching entry changes. It returns
// eventbus.ErrClosed after Cancel.
func (it *EntryIterator) Next(ctx context.Context) (models.SqueakEntry, error) {
	for {
		hash, err := it.hashes.Next(ctx)
		if err != nil {
			return models.SqueakEntry{}, err
		}
		entry, err := it.store.GetSqueakEntry(ctx, hash)
		if err != nil {
			return models.SqueakEntry{}, err
		}
		if entry != nil && it.keep(*entry) {
			return *entry, nil
		}
	}
}

func (it *EntryIterator) Cancel() { it.hashes.Cancel() }

func squeakHashOf(ev eventbus.Event) (squeak.Hash, bool) {
	switch e := ev.(type) {
	case eventbus.NewSqueak:
		return e.Squeak.Hash(), true
	case eventbus.NewSecretKey:
		return e.Squeak.Hash(), true
	}
	return squeak.Hash{}, false
}

func (c *Controller) subscribeEntries(keep func(models.SqueakEntry) bool) (*EntryIterator, error) {
	sub, err := c.bus.Subscribe("")
	if err != nil {
		return nil, err
	}
	return &EntryIterator{
		hashes: eventbus.Filter(sub, squeakHashOf),
		store:  c.store,
		keep:   keep,
	}, nil
}

// SubscribeSqueakEntries follows every saved or unlocked squeak.
func (c *Controller) SubscribeSqueakEntries() (*EntryIterator, error) {
	return c.subscribeEntries(func(models.SqueakEntry) bool { return true })
}

// SubscribeSqueakEntry follows a single squeak.
func (c *Controller) SubscribeSqueakEntry(hash squeak.Hash) (*EntryIterator, error) {
	return c.subscribeEntries(func(e models.SqueakEntry) bool { return e.Hash == hash })
}

func (c *Controller) SubscribeReplySqueakEntries(hash squeak.Hash) (*EntryIterator, error) {
	return c.subscribeEntries(func(e models.SqueakEntry) bool {
		return e.ReplyTo != nil && *e.ReplyTo == hash
	})
}

func (c *Controller) SubscribeSqueakEntriesForPubKey(author squeak.PubKey) (*EntryIterator, error) {
	return c.subscribeEntries(func(e models.SqueakEntry) bool { return e.Author == author })
}

// SubscribeTimelineSqueakEntries follows squeaks by followed profiles. The
// following set is read per event so later follows take effect.
func (c *Controller) SubscribeTimelineSqueakEntries() (*EntryIterator, error) {
	return c.subscribeEntries(func(e models.SqueakEntry) bool {
		p, err := c.store.GetProfileByPubKey(context.Background(), e.Author)
		return err == nil && p != nil && p.Info().Following
	})
}

func (c *Controller) SubscribeReceivedPayments() (*eventbus.Iterator[models.ReceivedPayment], error) {
	sub, err := c.bus.Subscribe("")
	if err != nil {
		return nil, err
	}
	return eventbus.Filter(sub, func(ev eventbus.Event) (models.ReceivedPayment, bool) {
		e, ok := ev.(eventbus.NewReceivedPayment)
		return e.Payment, ok
	}), nil
}

func (c *Controller) SubscribeReceivedOffers(hash squeak.Hash) (*eventbus.Iterator[models.ReceivedOffer], error) {
	sub, err := c.bus.Subscribe("")
	if err != nil {
		return nil, err
	}
	return eventbus.Filter(sub, func(ev eventbus.Event) (models.ReceivedOffer, bool) {
		e, ok := ev.(eventbus.NewReceivedOffer)
		return e.Offer, ok && e.Offer.SqueakHash == hash
	}), nil
}
