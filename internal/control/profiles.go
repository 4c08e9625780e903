package control

import (
	"bytes"
	"context"
	"encoding/hex"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strings"

	"github.com/nfnt/resize"

	"github.com/yzernik/squeakroad-sub000/internal/apperr"
	"github.com/yzernik/squeakroad-sub000/internal/eventbus"
	"github.com/yzernik/squeakroad-sub000/internal/models"
	"github.com/yzernik/squeakroad-sub000/internal/squeak"
)

const profileImageSize = 120

func profileName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyProfileName
	}
	return name, nil
}

func (c *Controller) insertProfile(ctx context.Context, p models.Profile) (int64, error) {
	id, err := c.store.InsertProfile(ctx, p)
	if err != nil {
		return 0, err
	}
	if id == nil {
		return 0, ErrProfileExists
	}
	c.log.Info().Int64("id", *id).Str("name", p.Info().Name).Bool("signing", models.IsSigning(p)).Msg("created profile")
	return *id, nil
}

// CreateSigningProfile generates a fresh key pair.
func (c *Controller) CreateSigningProfile(ctx context.Context, name string) (int64, error) {
	name, err := profileName(name)
	if err != nil {
		return 0, err
	}
	priv, err := squeak.GenerateSigningKey()
	if err != nil {
		return 0, err
	}
	p := models.SigningProfile{ProfileInfo: models.ProfileInfo{Name: name, PubKey: squeak.PubKeyOf(priv)}}
	copy(p.PrivateKey[:], priv.Serialize())
	return c.insertProfile(ctx, p)
}

// ImportSigningProfile stores an existing hex private key.
func (c *Controller) ImportSigningProfile(ctx context.Context, name, privateKeyHex string) (int64, error) {
	name, err := profileName(name)
	if err != nil {
		return 0, err
	}
	raw, err := hex.DecodeString(privateKeyHex)
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeInvalidArgument, "invalid private key", err)
	}
	priv, err := squeak.ParsePrivateKey(raw)
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeInvalidArgument, "invalid private key", err)
	}
	p := models.SigningProfile{ProfileInfo: models.ProfileInfo{Name: name, PubKey: squeak.PubKeyOf(priv)}}
	copy(p.PrivateKey[:], priv.Serialize())
	return c.insertProfile(ctx, p)
}

func (c *Controller) CreateContactProfile(ctx context.Context, name string, pubkey squeak.PubKey) (int64, error) {
	name, err := profileName(name)
	if err != nil {
		return 0, err
	}
	if _, err := pubkey.Key(); err != nil {
		return 0, apperr.Wrap(apperr.CodeInvalidArgument, "invalid public key", err)
	}
	return c.insertProfile(ctx, models.ContactProfile{ProfileInfo: models.ProfileInfo{Name: name, PubKey: pubkey}})
}

func (c *Controller) GetProfile(ctx context.Context, id int64) (models.Profile, error) {
	p, err := c.store.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrProfileNotFound
	}
	return p, nil
}

func (c *Controller) GetProfileByName(ctx context.Context, name string) (models.Profile, error) {
	p, err := c.store.GetProfileByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrProfileNotFound
	}
	return p, nil
}

func (c *Controller) GetProfiles(ctx context.Context) ([]models.Profile, error) {
	return c.store.GetProfiles(ctx)
}

func (c *Controller) GetSigningProfiles(ctx context.Context) ([]models.Profile, error) {
	return c.store.GetSigningProfiles(ctx)
}

func (c *Controller) GetContactProfiles(ctx context.Context) ([]models.Profile, error) {
	return c.store.GetContactProfiles(ctx)
}

func (c *Controller) GetFollowingProfiles(ctx context.Context) ([]models.Profile, error) {
	return c.store.GetFollowingProfiles(ctx)
}

// SetProfileFollowing changes the timeline; downloaders are told to
// recompute what they fetch.
func (c *Controller) SetProfileFollowing(ctx context.Context, id int64, following bool) error {
	if _, err := c.GetProfile(ctx, id); err != nil {
		return err
	}
	if err := c.store.SetProfileFollowing(ctx, id, following); err != nil {
		return err
	}
	c.bus.Publish(eventbus.UpdateSubscriptions{})
	return nil
}

func (c *Controller) RenameProfile(ctx context.Context, id int64, name string) error {
	name, err := profileName(name)
	if err != nil {
		return err
	}
	if _, err := c.GetProfile(ctx, id); err != nil {
		return err
	}
	return c.store.RenameProfile(ctx, id, name)
}

func (c *Controller) DeleteProfile(ctx context.Context, id int64) error {
	if err := c.store.DeleteProfile(ctx, id); err != nil {
		return err
	}
	c.bus.Publish(eventbus.UpdateSubscriptions{})
	return nil
}

// SetProfileImage stores raw (PNG, JPEG or GIF) as a PNG thumbnail.
func (c *Controller) SetProfileImage(ctx context.Context, id int64, raw []byte) error {
	if _, err := c.GetProfile(ctx, id); err != nil {
		return err
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return apperr.Wrap(apperr.CodeInvalidArgument, "invalid profile image", err)
	}
	thumb := resize.Thumbnail(profileImageSize, profileImageSize, img, resize.Lanczos3)
	var buf bytes.Buffer
	if err := png.Encode(&buf, thumb); err != nil {
		return err
	}
	return c.store.SetProfileImage(ctx, id, buf.Bytes())
}

func (c *Controller) ClearProfileImage(ctx context.Context, id int64) error {
	return c.store.SetProfileImage(ctx, id, nil)
}

// GetProfilePrivateKey exports a signing profile's key as hex.
func (c *Controller) GetProfilePrivateKey(ctx context.Context, id int64) (string, error) {
	sp, err := c.signingProfile(ctx, id)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sp.PrivateKey[:]), nil
}
