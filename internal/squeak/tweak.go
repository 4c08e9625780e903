package squeak

import (
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

var ErrInvalidScalar = errors.New("scalar is zero or not below the group order")

// RandomScalar draws a uniform non-zero scalar mod n.
func RandomScalar() ([32]byte, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return [32]byte{}, err
	}
	return priv.Key.Bytes(), nil
}

// AddTweak returns (k + t) mod n.
func AddTweak(k, t [32]byte) [32]byte {
	var a, b secp256k1.ModNScalar
	a.SetBytes(&k)
	b.SetBytes(&t)
	a.Add(&b)
	return a.Bytes()
}

// SubTweak returns (k - t) mod n.
func SubTweak(k, t [32]byte) [32]byte {
	var a, b secp256k1.ModNScalar
	a.SetBytes(&k)
	b.SetBytes(&t)
	b.Negate()
	a.Add(&b)
	return a.Bytes()
}

// PaymentPointOf returns k·G in compressed form.
func PaymentPointOf(k [32]byte) (PaymentPoint, error) {
	var pp PaymentPoint
	var s secp256k1.ModNScalar
	if overflow := s.SetBytes(&k); overflow != 0 || s.IsZero() {
		return pp, ErrInvalidScalar
	}
	var p secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&s, &p)
	p.ToAffine()
	copy(pp[:], secp256k1.NewPublicKey(&p.X, &p.Y).SerializeCompressed())
	return pp, nil
}
