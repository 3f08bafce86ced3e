// Copyright 2025 Certen Protocol
//
// Aggregatable signature schemes for the signature aggregation protocol.
//
// A scheme supports same-message aggregation: signatures over a shared
// message add on the curve, public keys add likewise, and the aggregate
// verifies against the aggregated public key of the actual signer subset.

package blssig

import (
	"errors"
	"fmt"
)

// Scheme names accepted in configuration.
const (
	SchemeNameBLS12381 = "bls12-381"
	SchemeNameBN254    = "bn254"
)

var errNoInput = errors.New("nothing to aggregate")

// PrivateKey signs messages and derives its public key.
type PrivateKey interface {
	Sign(msg []byte) Signature
	PublicKey() PublicKey
	Bytes() []byte
}

// PublicKey verifies signatures.
type PublicKey interface {
	Bytes() []byte
	Verify(sig Signature, msg []byte) bool
	Equal(other PublicKey) bool
}

// Signature is an opaque signature value.
type Signature interface {
	Bytes() []byte
}

// Scheme bundles the operations of one aggregatable curve.
type Scheme interface {
	Name() string

	GenerateKeyPair() (PrivateKey, PublicKey, error)
	KeyPairFromSeed(seed []byte) (PrivateKey, PublicKey, error)

	PrivateKeyFromBytes(data []byte) (PrivateKey, error)
	PublicKeyFromBytes(data []byte) (PublicKey, error)
	SignatureFromBytes(data []byte) (Signature, error)

	AggregateSignatures(sigs []Signature) (Signature, error)
	AggregatePublicKeys(pks []PublicKey) (PublicKey, error)

	// VerifyAggregate checks an aggregate signature where every signer
	// signed the same message.
	VerifyAggregate(sig Signature, pks []PublicKey, msg []byte) bool
}

// ByName resolves a configured scheme name.
func ByName(name string) (Scheme, error) {
	switch name {
	case SchemeNameBLS12381:
		return BLS12381(), nil
	case SchemeNameBN254:
		return BN254(), nil
	default:
		return nil, fmt.Errorf("unknown signature scheme %q", name)
	}
}
