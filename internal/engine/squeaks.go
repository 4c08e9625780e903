package engine

import (
	"context"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/yzernik/squeakroad-sub000/internal/eventbus"
	"github.com/yzernik/squeakroad-sub000/internal/models"
	"github.com/yzernik/squeakroad-sub000/internal/squeak"
)

func (e *Engine) anchor(ctx context.Context) (squeak.Anchor, error) {
	block, err := e.chain.GetBestBlockInfo(ctx)
	if err != nil {
		return squeak.Anchor{}, err
	}
	return squeak.Anchor{Height: block.Height, Hash: block.Hash, Time: uint32(e.now().Unix())}, nil
}

// MakeSqueak signs content as profile, anchored to the current best block.
// A non-nil recipient makes the squeak private.
func (e *Engine) MakeSqueak(ctx context.Context, profile models.SigningProfile, content string, replyTo *squeak.Hash, recipient models.Profile) (squeak.Squeak, squeak.SecretKey, error) {
	signer, err := profile.Signer()
	if err != nil {
		return squeak.Squeak{}, squeak.SecretKey{}, withCause(ErrInvalidSqueak, err)
	}
	anchor, err := e.anchor(ctx)
	if err != nil {
		return squeak.Squeak{}, squeak.SecretKey{}, err
	}
	var to *squeak.PubKey
	if recipient != nil {
		pk := recipient.Info().PubKey
		to = &pk
	}
	sq, key, err := squeak.MakeSqueak(signer, content, anchor, replyTo, to)
	if err != nil {
		return squeak.Squeak{}, squeak.SecretKey{}, withCause(ErrInvalidSqueak, err)
	}
	return sq, key, nil
}

// MakeResqueak signs a squeak quoting resqueaked.
func (e *Engine) MakeResqueak(ctx context.Context, profile models.SigningProfile, resqueaked squeak.Hash, replyTo *squeak.Hash) (squeak.Squeak, squeak.SecretKey, error) {
	signer, err := profile.Signer()
	if err != nil {
		return squeak.Squeak{}, squeak.SecretKey{}, withCause(ErrInvalidSqueak, err)
	}
	anchor, err := e.anchor(ctx)
	if err != nil {
		return squeak.Squeak{}, squeak.SecretKey{}, err
	}
	sq, key, err := squeak.MakeResqueak(signer, resqueaked, anchor, replyTo)
	if err != nil {
		return squeak.Squeak{}, squeak.SecretKey{}, withCause(ErrInvalidSqueak, err)
	}
	return sq, key, nil
}

// SaveSqueak validates and stores sq. A squeak that is already stored
// returns (nil, nil).
func (e *Engine) SaveSqueak(ctx context.Context, sq squeak.Squeak) (*squeak.Hash, error) {
	if err := squeak.CheckSqueak(sq); err != nil {
		return nil, withCause(ErrInvalidSqueak, err)
	}
	total, err := e.store.GetNumberOfSqueaks(ctx)
	if err != nil {
		return nil, err
	}
	if total >= e.cfg.MaxSqueaks {
		return nil, ErrMaxSqueaks
	}
	perBlock, err := e.store.GetNumberOfSqueaksWithPubKeyAtHeight(ctx, sq.Author, sq.BlockHeight)
	if err != nil {
		return nil, err
	}
	if perBlock >= e.cfg.MaxSqueaksPerPublicKeyPerBlock {
		return nil, ErrMaxSqueaksPerBlock
	}
	block, err := e.chain.GetBlockInfoByHeight(ctx, sq.BlockHeight)
	if err != nil {
		return nil, err
	}
	if block.Hash != sq.BlockHash {
		return nil, ErrBlockHashMismatch
	}
	hash, err := e.store.InsertSqueak(ctx, sq, block.Header)
	if err != nil || hash == nil {
		return nil, err
	}
	e.metrics.IncSqueaksSaved()
	e.log.Debug().Str("hash", hash.String()).Int32("height", sq.BlockHeight).Msg("saved squeak")
	e.bus.Publish(eventbus.NewSqueak{Squeak: sq})
	return hash, nil
}

// SaveSecretKey attaches key to a stored squeak and unlocks it when a
// decryption key is at hand.
func (e *Engine) SaveSecretKey(ctx context.Context, hash squeak.Hash, key squeak.SecretKey) error {
	sq, err := e.store.GetSqueak(ctx, hash)
	if err != nil {
		return err
	}
	if sq == nil {
		return ErrSqueakNotFound
	}
	if err := squeak.CheckSecretKey(*sq, key); err != nil {
		return withCause(ErrInvalidSecretKey, err)
	}
	if err := e.store.SetSqueakSecretKey(ctx, hash, key); err != nil {
		return err
	}
	e.metrics.IncSecretKeysSaved()
	e.bus.Publish(eventbus.NewSecretKey{Squeak: *sq, SecretKey: key})
	err = e.unlock(ctx, *sq, key)
	if sq.IsPrivate() && errors.Is(err, ErrNoDecryptionKey) {
		return nil
	}
	return err
}

// UnlockSqueak decrypts a squeak whose secret key is stored and records the
// plaintext.
func (e *Engine) UnlockSqueak(ctx context.Context, hash squeak.Hash) error {
	sq, err := e.store.GetSqueak(ctx, hash)
	if err != nil {
		return err
	}
	if sq == nil {
		return ErrSqueakNotFound
	}
	key, err := e.store.GetSqueakSecretKey(ctx, hash)
	if err != nil {
		return err
	}
	if key == nil {
		return ErrSqueakLocked
	}
	return e.unlock(ctx, *sq, *key)
}

func (e *Engine) unlock(ctx context.Context, sq squeak.Squeak, key squeak.SecretKey) error {
	hash := sq.Hash()
	if sq.IsResqueak() {
		return e.store.SetSqueakContent(ctx, hash, "")
	}
	var priv *btcec.PrivateKey
	if sq.IsPrivate() {
		var err error
		if priv, err = e.decryptionKey(ctx, sq); err != nil {
			return err
		}
	}
	content, err := squeak.DecryptContent(sq, key, priv)
	if err != nil {
		return withCause(ErrInvalidSecretKey, err)
	}
	return e.store.SetSqueakContent(ctx, hash, content)
}

// decryptionKey finds a signing profile for the recipient, then the author.
func (e *Engine) decryptionKey(ctx context.Context, sq squeak.Squeak) (*btcec.PrivateKey, error) {
	for _, pk := range []squeak.PubKey{sq.Recipient, sq.Author} {
		p, err := e.store.GetProfileByPubKey(ctx, pk)
		if err != nil {
			return nil, err
		}
		if sp, ok := p.(models.SigningProfile); ok {
			return sp.Signer()
		}
	}
	return nil, ErrNoDecryptionKey
}
