package models

import (
	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/yzernik/squeakroad-sub000/internal/squeak"
)

// Profile is either a SigningProfile or a ContactProfile.
type Profile interface {
	Info() ProfileInfo
	isProfile()
}

type ProfileInfo struct {
	ID            int64         `json:"id"`
	Name          string        `json:"name"`
	PubKey        squeak.PubKey `json:"pubkey"`
	Following     bool          `json:"following"`
	Image         []byte        `json:"image,omitempty"`
	CreatedTimeMs int64         `json:"created_time_ms"`
}

// SigningProfile holds a private key the node may author with.
type SigningProfile struct {
	ProfileInfo
	PrivateKey [32]byte `json:"-"`
}

func (p SigningProfile) Info() ProfileInfo { return p.ProfileInfo }
func (SigningProfile) isProfile()          {}

// Signer returns the profile's key for signing squeaks.
func (p SigningProfile) Signer() (*btcec.PrivateKey, error) {
	return squeak.ParsePrivateKey(p.PrivateKey[:])
}

// ContactProfile is an address-book entry without a private key.
type ContactProfile struct {
	ProfileInfo
}

func (p ContactProfile) Info() ProfileInfo { return p.ProfileInfo }
func (ContactProfile) isProfile()          {}

// IsSigning reports whether p carries a private key.
func IsSigning(p Profile) bool {
	_, ok := p.(SigningProfile)
	return ok
}
