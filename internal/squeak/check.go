package squeak

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/yzernik/squeakroad-sub000/internal/crypto"
)

var (
	ErrUnknownVersion     = errors.New("unknown squeak version")
	ErrBadSignature       = errors.New("squeak signature verification failed")
	ErrBadPaymentPoint    = errors.New("squeak payment point is not a valid point")
	ErrBadContentLength   = errors.New("squeak payload has the wrong length")
	ErrSecretKeyMismatch  = errors.New("secret key does not match payment point")
	ErrPrivateKeyRequired = errors.New("private squeak requires the author or recipient private key")
	ErrNotParticipant     = errors.New("private key belongs to neither author nor recipient")
	ErrNoContent          = errors.New("resqueak has no content")
)

// CheckSqueak validates structure and signature.
func CheckSqueak(s Squeak) error {
	if s.Version != Version1 {
		return ErrUnknownVersion
	}
	if s.IsReply() && s.IsResqueak() {
		return ErrReplyResqueak
	}
	if s.IsResqueak() {
		if len(s.EncContent) != 0 || s.IsPrivate() {
			return ErrBadContentLength
		}
	} else if len(s.EncContent) != crypto.CiphertextLength {
		return ErrBadContentLength
	}
	if !s.PaymentPoint.Valid() {
		return ErrBadPaymentPoint
	}
	if s.IsPrivate() {
		if _, err := s.Recipient.Key(); err != nil {
			return fmt.Errorf("invalid recipient key: %w", err)
		}
	}
	author, err := s.Author.Key()
	if err != nil {
		return fmt.Errorf("invalid author key: %w", err)
	}
	sig, err := schnorr.ParseSignature(s.Sig[:])
	if err != nil {
		return ErrBadSignature
	}
	h := s.Hash()
	if !sig.Verify(h[:], author) {
		return ErrBadSignature
	}
	return nil
}

// CheckSecretKey reports whether key reproduces the squeak's payment point.
func CheckSecretKey(s Squeak, key SecretKey) error {
	point, err := PaymentPointOf(key)
	if err != nil || point != s.PaymentPoint {
		return ErrSecretKeyMismatch
	}
	return nil
}

// DecryptContent recovers the plaintext. priv is required for private
// squeaks and ignored otherwise.
func DecryptContent(s Squeak, key SecretKey, priv *btcec.PrivateKey) (string, error) {
	if s.IsResqueak() {
		return "", ErrNoContent
	}
	if err := CheckSecretKey(s, key); err != nil {
		return "", err
	}
	material, err := contentKeyMaterial(key, priv, s.Author, s.Recipient)
	if err != nil {
		return "", err
	}
	box, err := crypto.NewBox(material)
	if err != nil {
		return "", err
	}
	plain, err := box.Open(s.IV[:], s.EncContent)
	if err != nil {
		return "", fmt.Errorf("decrypt squeak content: %w", err)
	}
	if !utf8.Valid(plain) {
		return "", ErrContentInvalid
	}
	return string(plain), nil
}
