package crypto

import (
	"bytes"
	"crypto/cipher"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	// PlaintextLength is the padded payload size of every squeak.
	PlaintextLength  = 1120
	CiphertextLength = PlaintextLength + chacha20poly1305.Overhead
	NonceSize        = chacha20poly1305.NonceSize
)

var contentInfo = []byte("squeak content key")

var (
	ErrPlaintextTooLong  = errors.New("plaintext exceeds padded length")
	ErrInvalidCiphertext = errors.New("invalid ciphertext length")
	ErrInvalidNonce      = errors.New("invalid nonce size")
)

// Box seals and opens fixed-size squeak payloads.
type Box struct {
	aead cipher.AEAD
}

// NewBox derives a ChaCha20-Poly1305 box from key material via HKDF-SHA256.
func NewBox(secret []byte) (*Box, error) {
	if len(secret) == 0 {
		return nil, errors.New("empty key material")
	}
	r := hkdf.New(sha256.New, secret, nil, contentInfo)
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return &Box{aead: aead}, nil
}

// Seal pads plaintext to PlaintextLength and encrypts it.
func (b *Box) Seal(nonce, plaintext []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, ErrInvalidNonce
	}
	padded, err := Pad(plaintext)
	if err != nil {
		return nil, err
	}
	return b.aead.Seal(nil, nonce, padded, nil), nil
}

// Open reverses Seal.
func (b *Box) Open(nonce, ciphertext []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, ErrInvalidNonce
	}
	if len(ciphertext) != CiphertextLength {
		return nil, ErrInvalidCiphertext
	}
	padded, err := b.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, err
	}
	return Unpad(padded), nil
}

// Pad right-fills data with zero bytes up to PlaintextLength.
func Pad(data []byte) ([]byte, error) {
	if len(data) > PlaintextLength {
		return nil, ErrPlaintextTooLong
	}
	out := make([]byte, PlaintextLength)
	copy(out, data)
	return out, nil
}

func Unpad(data []byte) []byte {
	return bytes.TrimRight(data, "\x00")
}
