package squeak

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const (
	HashSize         = 32
	PubKeySize       = 32
	SecretKeySize    = 32
	PaymentPointSize = 33
	SignatureSize    = 64
)

// Hash identifies a squeak on the network.
type Hash [HashSize]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

func (h Hash) IsZero() bool { return h == Hash{} }

func ParseHash(s string) (Hash, error) {
	var h Hash
	if err := decodeFixed(s, h[:]); err != nil {
		return h, fmt.Errorf("invalid squeak hash: %w", err)
	}
	return h, nil
}

// HashFromBytes copies b into a Hash.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, fmt.Errorf("invalid squeak hash length %d", len(b))
	}
	copy(h[:], b)
	return h, nil
}

// SecretKey is the scalar that decrypts a squeak payload.
type SecretKey [SecretKeySize]byte

func (k SecretKey) String() string { return hex.EncodeToString(k[:]) }

func SecretKeyFromBytes(b []byte) (SecretKey, error) {
	var k SecretKey
	if len(b) != SecretKeySize {
		return k, fmt.Errorf("invalid secret key length %d", len(b))
	}
	copy(k[:], b)
	return k, nil
}

// PubKey is an x-only BIP340 public key.
type PubKey [PubKeySize]byte

func (p PubKey) String() string { return hex.EncodeToString(p[:]) }

func (p PubKey) IsZero() bool { return p == PubKey{} }

// Key parses the x-only key into a curve point with even Y.
func (p PubKey) Key() (*btcec.PublicKey, error) {
	return schnorr.ParsePubKey(p[:])
}

func ParsePubKey(s string) (PubKey, error) {
	var p PubKey
	if err := decodeFixed(s, p[:]); err != nil {
		return p, fmt.Errorf("invalid public key: %w", err)
	}
	if _, err := p.Key(); err != nil {
		return p, fmt.Errorf("invalid public key: %w", err)
	}
	return p, nil
}

func PubKeyFromBytes(b []byte) (PubKey, error) {
	var p PubKey
	if len(b) != PubKeySize {
		return p, fmt.Errorf("invalid public key length %d", len(b))
	}
	copy(p[:], b)
	if _, err := p.Key(); err != nil {
		return p, fmt.Errorf("invalid public key: %w", err)
	}
	return p, nil
}

// PubKeyOf returns the x-only public key of priv.
func PubKeyOf(priv *btcec.PrivateKey) PubKey {
	var p PubKey
	copy(p[:], schnorr.SerializePubKey(priv.PubKey()))
	return p
}

// PaymentPoint is the compressed point k·G committing to a squeak's secret key.
type PaymentPoint [PaymentPointSize]byte

func (p PaymentPoint) String() string { return hex.EncodeToString(p[:]) }

func (p PaymentPoint) IsZero() bool { return p == PaymentPoint{} }

// Valid reports whether p decodes to a point on the curve.
func (p PaymentPoint) Valid() bool {
	_, err := secp256k1.ParsePubKey(p[:])
	return err == nil && (p[0] == 0x02 || p[0] == 0x03)
}

func PaymentPointFromBytes(b []byte) (PaymentPoint, error) {
	var p PaymentPoint
	if len(b) != PaymentPointSize {
		return p, fmt.Errorf("invalid payment point length %d", len(b))
	}
	copy(p[:], b)
	if !p.Valid() {
		return p, fmt.Errorf("payment point is not a compressed curve point")
	}
	return p, nil
}

// GenerateSigningKey returns a fresh private key for a signing profile.
func GenerateSigningKey() (*btcec.PrivateKey, error) {
	return btcec.NewPrivateKey()
}

// ParsePrivateKey decodes a 32-byte private key.
func ParsePrivateKey(b []byte) (*btcec.PrivateKey, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("invalid private key length %d", len(b))
	}
	var s secp256k1.ModNScalar
	if overflow := s.SetByteSlice(b); overflow || s.IsZero() {
		return nil, fmt.Errorf("private key out of range")
	}
	priv, _ := btcec.PrivKeyFromBytes(b)
	return priv, nil
}

func decodeFixed(s string, dst []byte) error {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(raw) != len(dst) {
		return fmt.Errorf("expected %d bytes, got %d", len(dst), len(raw))
	}
	copy(dst, raw)
	return nil
}

func (h Hash) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

func (h *Hash) UnmarshalText(b []byte) error {
	return decodeFixed(string(b), h[:])
}

func (k SecretKey) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *SecretKey) UnmarshalText(b []byte) error {
	return decodeFixed(string(b), k[:])
}

func (p PubKey) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *PubKey) UnmarshalText(b []byte) error {
	return decodeFixed(string(b), p[:])
}

func (p PaymentPoint) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *PaymentPoint) UnmarshalText(b []byte) error {
	return decodeFixed(string(b), p[:])
}
