package squeak

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/yzernik/squeakroad-sub000/internal/crypto"
)

var (
	ErrContentTooLong = errors.New("squeak content exceeds 280 characters")
	ErrContentInvalid = errors.New("squeak content must be valid UTF-8 without NUL bytes")
	ErrReplyResqueak  = errors.New("squeak cannot be both a reply and a resqueak")
)

// Anchor is the block a new squeak commits to.
type Anchor struct {
	Height int32
	Hash   chainhash.Hash
	Time   uint32
}

// MakeSqueak builds and signs a squeak carrying content. recipient, when set,
// makes the squeak private to that key.
func MakeSqueak(signer *btcec.PrivateKey, content string, anchor Anchor, replyTo *Hash, recipient *PubKey) (Squeak, SecretKey, error) {
	if err := validateContent(content); err != nil {
		return Squeak{}, SecretKey{}, err
	}
	s, key, err := newUnsigned(signer, anchor)
	if err != nil {
		return Squeak{}, SecretKey{}, err
	}
	if replyTo != nil {
		s.ReplyTo = *replyTo
	}
	if recipient != nil {
		s.Recipient = *recipient
	}
	material, err := contentKeyMaterial(key, signer, s.Author, s.Recipient)
	if err != nil {
		return Squeak{}, SecretKey{}, err
	}
	box, err := crypto.NewBox(material)
	if err != nil {
		return Squeak{}, SecretKey{}, err
	}
	s.EncContent, err = box.Seal(s.IV[:], []byte(content))
	if err != nil {
		return Squeak{}, SecretKey{}, err
	}
	if err := sign(&s, signer); err != nil {
		return Squeak{}, SecretKey{}, err
	}
	return s, key, nil
}

// MakeResqueak builds a signed squeak quoting resqueaked. It carries no payload.
func MakeResqueak(signer *btcec.PrivateKey, resqueaked Hash, anchor Anchor, replyTo *Hash) (Squeak, SecretKey, error) {
	if resqueaked.IsZero() {
		return Squeak{}, SecretKey{}, errors.New("resqueak requires a squeak hash")
	}
	if replyTo != nil && !replyTo.IsZero() {
		return Squeak{}, SecretKey{}, ErrReplyResqueak
	}
	s, key, err := newUnsigned(signer, anchor)
	if err != nil {
		return Squeak{}, SecretKey{}, err
	}
	s.Resqueak = resqueaked
	if err := sign(&s, signer); err != nil {
		return Squeak{}, SecretKey{}, err
	}
	return s, key, nil
}

func newUnsigned(signer *btcec.PrivateKey, anchor Anchor) (Squeak, SecretKey, error) {
	if signer == nil {
		return Squeak{}, SecretKey{}, errors.New("missing signing key")
	}
	raw, err := RandomScalar()
	if err != nil {
		return Squeak{}, SecretKey{}, err
	}
	key := SecretKey(raw)
	point, err := PaymentPointOf(raw)
	if err != nil {
		return Squeak{}, SecretKey{}, err
	}
	s := Squeak{
		Version:      Version1,
		BlockHash:    anchor.Hash,
		BlockHeight:  anchor.Height,
		PaymentPoint: point,
		Time:         anchor.Time,
		Author:       PubKeyOf(signer),
	}
	if _, err := rand.Read(s.IV[:]); err != nil {
		return Squeak{}, SecretKey{}, err
	}
	var nonce [4]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return Squeak{}, SecretKey{}, err
	}
	s.Nonce = binary.LittleEndian.Uint32(nonce[:])
	return s, key, nil
}

func sign(s *Squeak, signer *btcec.PrivateKey) error {
	h := s.Hash()
	sig, err := schnorr.Sign(signer, h[:])
	if err != nil {
		return err
	}
	copy(s.Sig[:], sig.Serialize())
	return nil
}

func validateContent(content string) error {
	if !utf8.ValidString(content) || strings.ContainsRune(content, 0) {
		return ErrContentInvalid
	}
	if utf8.RuneCountInString(content) > MaxContentRunes {
		return ErrContentTooLong
	}
	return nil
}

// contentKeyMaterial returns the HKDF input for a payload. Private squeaks mix
// in the ECDH x-coordinate between author and recipient; priv may belong to
// either party.
func contentKeyMaterial(key SecretKey, priv *btcec.PrivateKey, author, recipient PubKey) ([]byte, error) {
	material := append([]byte{}, key[:]...)
	if recipient.IsZero() {
		return material, nil
	}
	if priv == nil {
		return nil, ErrPrivateKeyRequired
	}
	self := PubKeyOf(priv)
	var other PubKey
	switch self {
	case author:
		other = recipient
	case recipient:
		other = author
	default:
		return nil, ErrNotParticipant
	}
	otherKey, err := other.Key()
	if err != nil {
		return nil, err
	}
	shared := secp256k1.GenerateSharedSecret(priv, otherKey)
	return append(material, shared...), nil
}
