package squeak

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/yzernik/squeakroad-sub000/internal/crypto"
)

const (
	Version1 uint32 = 1

	// MaxContentRunes bounds the plaintext of a squeak.
	MaxContentRunes = 280
)

// Squeak is a signed, payload-encrypted record anchored to a Bitcoin block.
type Squeak struct {
	Version      uint32
	ReplyTo      Hash
	Resqueak     Hash
	BlockHash    chainhash.Hash
	BlockHeight  int32
	PaymentPoint PaymentPoint
	IV           [crypto.NonceSize]byte
	Time         uint32
	Nonce        uint32
	Author       PubKey
	Recipient    PubKey
	EncContent   []byte
	Sig          [SignatureSize]byte
}

func (s Squeak) IsReply() bool { return !s.ReplyTo.IsZero() }

func (s Squeak) IsResqueak() bool { return !s.Resqueak.IsZero() }

func (s Squeak) IsPrivate() bool { return !s.Recipient.IsZero() }

// Hash is the byte-reversed double-SHA256 of the unsigned serialization.
func (s Squeak) Hash() Hash {
	digest := chainhash.DoubleHashB(s.headerBytes())
	var h Hash
	for i := range digest {
		h[HashSize-1-i] = digest[i]
	}
	return h
}

// Serialize returns the canonical wire encoding.
func (s Squeak) Serialize() []byte {
	var buf bytes.Buffer
	buf.Write(s.headerBytes())
	buf.Write(s.Sig[:])
	return buf.Bytes()
}

func (s Squeak) headerBytes() []byte {
	var buf bytes.Buffer
	le := binary.LittleEndian
	_ = binary.Write(&buf, le, s.Version)
	buf.Write(s.ReplyTo[:])
	buf.Write(s.Resqueak[:])
	buf.Write(s.BlockHash[:])
	_ = binary.Write(&buf, le, s.BlockHeight)
	buf.Write(s.PaymentPoint[:])
	buf.Write(s.IV[:])
	_ = binary.Write(&buf, le, s.Time)
	_ = binary.Write(&buf, le, s.Nonce)
	buf.Write(s.Author[:])
	buf.Write(s.Recipient[:])
	_ = wire.WriteVarBytes(&buf, 0, s.EncContent)
	return buf.Bytes()
}

// Deserialize parses the canonical encoding. Trailing bytes are rejected.
func Deserialize(data []byte) (Squeak, error) {
	var s Squeak
	r := bytes.NewReader(data)
	le := binary.LittleEndian
	fields := []any{
		&s.Version, &s.ReplyTo, &s.Resqueak, &s.BlockHash, &s.BlockHeight,
		&s.PaymentPoint, &s.IV, &s.Time, &s.Nonce, &s.Author, &s.Recipient,
	}
	for _, f := range fields {
		if err := binary.Read(r, le, f); err != nil {
			return Squeak{}, fmt.Errorf("decode squeak: %w", err)
		}
	}
	content, err := wire.ReadVarBytes(r, 0, crypto.CiphertextLength, "encContent")
	if err != nil {
		return Squeak{}, fmt.Errorf("decode squeak content: %w", err)
	}
	if len(content) > 0 {
		s.EncContent = content
	}
	if _, err := io.ReadFull(r, s.Sig[:]); err != nil {
		return Squeak{}, fmt.Errorf("decode squeak signature: %w", err)
	}
	if r.Len() != 0 {
		return Squeak{}, errors.New("decode squeak: trailing bytes")
	}
	return s, nil
}
