package control

import (
	"context"
	"errors"

	"github.com/yzernik/squeakroad-sub000/internal/models"
	"github.com/yzernik/squeakroad-sub000/internal/peerclient"
	"github.com/yzernik/squeakroad-sub000/internal/squeak"
)

// DownloadSqueak fetches hash from every autoconnect peer, along with its
// secret key when a peer gives it away and offers when a peer sells it.
// Per-peer failures are logged and skipped.
func (c *Controller) DownloadSqueak(ctx context.Context, hash squeak.Hash) (models.DownloadResult, error) {
	peers, err := c.store.GetAutoconnectPeers(ctx)
	if err != nil {
		return models.DownloadResult{}, err
	}
	res := models.DownloadResult{NumPeers: len(peers)}
	for _, p := range peers {
		n, err := c.downloadFrom(ctx, p.Address, hash)
		if err != nil {
			c.log.Debug().Err(err).Str("peer", p.Address.String()).Str("squeak", hash.String()).Msg("download squeak failed")
			continue
		}
		res.NumDownloaded += n
	}
	return res, nil
}

func (c *Controller) downloadFrom(ctx context.Context, addr models.PeerAddress, hash squeak.Hash) (int, error) {
	downloaded := 0
	local, err := c.store.GetSqueak(ctx, hash)
	if err != nil {
		return 0, err
	}
	if local == nil {
		sq, err := c.peers.GetSqueak(ctx, addr, hash)
		if err != nil || sq == nil {
			return 0, err
		}
		saved, err := c.engine.SaveSqueak(ctx, *sq)
		if err != nil {
			return 0, err
		}
		if saved != nil {
			downloaded++
		}
	}
	key, err := c.store.GetSqueakSecretKey(ctx, hash)
	if err != nil || key != nil {
		return downloaded, err
	}
	if err := c.downloadSecretKey(ctx, addr, hash); err != nil {
		return downloaded, err
	}
	return downloaded, nil
}

func (c *Controller) downloadSecretKey(ctx context.Context, addr models.PeerAddress, hash squeak.Hash) error {
	key, err := c.peers.GetSecretKey(ctx, addr, hash)
	if errors.Is(err, peerclient.ErrPaymentRequired) {
		_, err = c.downloadOffer(ctx, addr, hash)
		return err
	}
	if err != nil || key == nil {
		return err
	}
	return c.engine.SaveSecretKey(ctx, hash, *key)
}

// DownloadOffers asks every autoconnect peer to price the key of hash.
func (c *Controller) DownloadOffers(ctx context.Context, hash squeak.Hash) (models.DownloadResult, error) {
	peers, err := c.store.GetAutoconnectPeers(ctx)
	if err != nil {
		return models.DownloadResult{}, err
	}
	res := models.DownloadResult{NumPeers: len(peers)}
	for _, p := range peers {
		ok, err := c.downloadOffer(ctx, p.Address, hash)
		if err != nil {
			c.log.Debug().Err(err).Str("peer", p.Address.String()).Str("squeak", hash.String()).Msg("download offer failed")
			continue
		}
		if ok {
			res.NumDownloaded++
		}
	}
	return res, nil
}

func (c *Controller) downloadOffer(ctx context.Context, addr models.PeerAddress, hash squeak.Hash) (bool, error) {
	sq, err := c.store.GetSqueak(ctx, hash)
	if err != nil || sq == nil {
		return false, err
	}
	offer, err := c.peers.GetOffer(ctx, addr, hash)
	if err != nil || offer == nil {
		return false, err
	}
	received, err := c.engine.UnpackOffer(ctx, *sq, *offer, addr)
	if err != nil {
		return false, err
	}
	return received.ID != 0, nil
}

// interestRange is the block window the node fetches squeaks for.
func (c *Controller) interestRange(ctx context.Context) (int32, int32, error) {
	best, err := c.chain.GetBestBlockInfo(ctx)
	if err != nil {
		return 0, 0, err
	}
	lo := best.Height - c.cfg.InterestBlockInterval
	if lo < 0 {
		lo = 0
	}
	return lo, best.Height, nil
}

// DownloadTimeline pulls squeaks by followed profiles within the interest
// window from every autoconnect peer.
func (c *Controller) DownloadTimeline(ctx context.Context) (models.DownloadResult, error) {
	following, err := c.store.GetFollowingProfiles(ctx)
	if err != nil {
		return models.DownloadResult{}, err
	}
	authors := make([]squeak.PubKey, 0, len(following))
	for _, p := range following {
		authors = append(authors, p.Info().PubKey)
	}
	return c.DownloadSqueaksByAuthors(ctx, authors)
}

func (c *Controller) DownloadSqueaksByAuthors(ctx context.Context, authors []squeak.PubKey) (models.DownloadResult, error) {
	peers, err := c.store.GetAutoconnectPeers(ctx)
	if err != nil {
		return models.DownloadResult{}, err
	}
	res := models.DownloadResult{NumPeers: len(peers)}
	if len(authors) == 0 || len(peers) == 0 {
		return res, nil
	}
	minBlock, maxBlock, err := c.interestRange(ctx)
	if err != nil {
		return res, err
	}
	for _, p := range peers {
		hashes, err := c.peers.Lookup(ctx, p.Address, authors, minBlock, maxBlock)
		if err != nil {
			c.log.Debug().Err(err).Str("peer", p.Address.String()).Msg("lookup failed")
			continue
		}
		for _, h := range hashes {
			n, err := c.downloadFrom(ctx, p.Address, h)
			if err != nil {
				c.log.Debug().Err(err).Str("peer", p.Address.String()).Str("squeak", h.String()).Msg("download squeak failed")
				continue
			}
			res.NumDownloaded += n
		}
	}
	return res, nil
}
