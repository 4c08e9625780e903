package control

import (
	"context"
	"strings"

	"github.com/yzernik/squeakroad-sub000/internal/apperr"
	"github.com/yzernik/squeakroad-sub000/internal/eventbus"
	"github.com/yzernik/squeakroad-sub000/internal/models"
)

// CreatePeer saves a peer. Port 0 means the default peer port.
func (c *Controller) CreatePeer(ctx context.Context, name string, addr models.PeerAddress) (int64, error) {
	if addr.Port == 0 {
		addr.Port = c.DefaultPeerPort()
	}
	if err := addr.Validate(); err != nil {
		return 0, apperr.Wrap(apperr.CodeInvalidArgument, "invalid peer address", err)
	}
	id, err := c.store.InsertPeer(ctx, strings.TrimSpace(name), addr, false)
	if err != nil {
		return 0, err
	}
	if id == nil {
		return 0, ErrPeerExists
	}
	c.log.Info().Int64("id", *id).Str("addr", addr.String()).Msg("saved peer")
	return *id, nil
}

func (c *Controller) GetPeer(ctx context.Context, id int64) (*models.Peer, error) {
	p, err := c.store.GetPeer(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrPeerNotFound
	}
	return p, nil
}

func (c *Controller) GetPeerByAddress(ctx context.Context, addr models.PeerAddress) (*models.Peer, error) {
	if addr.Port == 0 {
		addr.Port = c.DefaultPeerPort()
	}
	p, err := c.store.GetPeerByAddress(ctx, addr)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrPeerNotFound
	}
	return p, nil
}

func (c *Controller) GetPeers(ctx context.Context) ([]models.Peer, error) {
	return c.store.GetPeers(ctx)
}

func (c *Controller) GetAutoconnectPeers(ctx context.Context) ([]models.Peer, error) {
	return c.store.GetAutoconnectPeers(ctx)
}

func (c *Controller) SetPeerAutoconnect(ctx context.Context, id int64, autoconnect bool) error {
	if _, err := c.GetPeer(ctx, id); err != nil {
		return err
	}
	if err := c.store.SetPeerAutoconnect(ctx, id, autoconnect); err != nil {
		return err
	}
	c.bus.Publish(eventbus.UpdateSubscriptions{})
	return nil
}

func (c *Controller) SetPeerShareForFree(ctx context.Context, id int64, free bool) error {
	if _, err := c.GetPeer(ctx, id); err != nil {
		return err
	}
	return c.store.SetPeerShareForFree(ctx, id, free)
}

func (c *Controller) RenamePeer(ctx context.Context, id int64, name string) error {
	if _, err := c.GetPeer(ctx, id); err != nil {
		return err
	}
	return c.store.RenamePeer(ctx, id, strings.TrimSpace(name))
}

func (c *Controller) DeletePeer(ctx context.Context, id int64) error {
	if err := c.store.DeletePeer(ctx, id); err != nil {
		return err
	}
	c.bus.Publish(eventbus.UpdateSubscriptions{})
	return nil
}

// sharesForFree reports whether a saved peer on host gets keys at no cost.
func (c *Controller) sharesForFree(ctx context.Context, host string) (bool, error) {
	peers, err := c.store.GetPeers(ctx)
	if err != nil {
		return false, err
	}
	for _, p := range peers {
		if p.ShareForFree && p.Address.Host == host {
			return true, nil
		}
	}
	return false, nil
}
