// Copyright 2025 Certen Protocol
//
// BLS12-381 aggregatable signatures.
//
// Signatures live on G1 (48 bytes compressed), public keys on G2 (96 bytes
// compressed). Verification is the pairing check
// e(sig, G2) == e(H(msg), pk); aggregation is point addition on either
// group.

package blssig

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"sync"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
)

// Domain separation tag for hashing messages onto G1.
const dst381 = "BLUEPRINT_BLS_SIG_BLS12381G1_XMD:SHA-256_SSWU_RO_"

// Serialized sizes (compressed points, 32-byte scalars).
const (
	PrivateKeySize381 = 32
	PublicKeySize381  = 96
	SignatureSize381  = 48
)

var (
	init381   sync.Once
	g1Gen381  bls12381.G1Affine
	g2Gen381  bls12381.G2Affine
	scheme381 = &bls381Scheme{}
)

func ensure381() {
	init381.Do(func() {
		_, _, g1, g2 := bls12381.Generators()
		g1Gen381 = g1
		g2Gen381 = g2
	})
}

// BLS12381 returns the BLS12-381 scheme.
func BLS12381() Scheme {
	ensure381()
	return scheme381
}

type bls381Scheme struct{}

type bls381Private struct{ scalar fr.Element }

type bls381Public struct{ point bls12381.G2Affine }

type bls381Signature struct{ point bls12381.G1Affine }

func (*bls381Scheme) Name() string { return SchemeNameBLS12381 }

func (s *bls381Scheme) GenerateKeyPair() (PrivateKey, PublicKey, error) {
	ensure381()
	var sk fr.Element
	if _, err := sk.SetRandom(); err != nil {
		return nil, nil, fmt.Errorf("generate random scalar: %w", err)
	}
	priv := &bls381Private{scalar: sk}
	return priv, priv.PublicKey(), nil
}

func (s *bls381Scheme) KeyPairFromSeed(seed []byte) (PrivateKey, PublicKey, error) {
	ensure381()
	if len(seed) < 32 {
		return nil, nil, errors.New("seed must be at least 32 bytes")
	}
	hash := sha256.Sum256(seed)
	var sk fr.Element
	sk.SetBytes(hash[:])
	priv := &bls381Private{scalar: sk}
	return priv, priv.PublicKey(), nil
}

func (s *bls381Scheme) PrivateKeyFromBytes(data []byte) (PrivateKey, error) {
	ensure381()
	if len(data) != PrivateKeySize381 {
		return nil, fmt.Errorf("invalid private key size: got %d, want %d", len(data), PrivateKeySize381)
	}
	var sk fr.Element
	sk.SetBytes(data)
	return &bls381Private{scalar: sk}, nil
}

func (s *bls381Scheme) PublicKeyFromBytes(data []byte) (PublicKey, error) {
	ensure381()
	var pk bls12381.G2Affine
	if _, err := pk.SetBytes(data); err != nil {
		return nil, fmt.Errorf("deserialize public key: %w", err)
	}
	return &bls381Public{point: pk}, nil
}

func (s *bls381Scheme) SignatureFromBytes(data []byte) (Signature, error) {
	ensure381()
	var sig bls12381.G1Affine
	if _, err := sig.SetBytes(data); err != nil {
		return nil, fmt.Errorf("deserialize signature: %w", err)
	}
	return &bls381Signature{point: sig}, nil
}

func (s *bls381Scheme) AggregateSignatures(sigs []Signature) (Signature, error) {
	ensure381()
	if len(sigs) == 0 {
		return nil, errNoInput
	}
	var agg bls12381.G1Jac
	agg.FromAffine(&sigs[0].(*bls381Signature).point)
	for _, sig := range sigs[1:] {
		var jac bls12381.G1Jac
		jac.FromAffine(&sig.(*bls381Signature).point)
		agg.AddAssign(&jac)
	}
	var out bls12381.G1Affine
	out.FromJacobian(&agg)
	return &bls381Signature{point: out}, nil
}

func (s *bls381Scheme) AggregatePublicKeys(pks []PublicKey) (PublicKey, error) {
	ensure381()
	if len(pks) == 0 {
		return nil, errNoInput
	}
	var agg bls12381.G2Jac
	agg.FromAffine(&pks[0].(*bls381Public).point)
	for _, pk := range pks[1:] {
		var jac bls12381.G2Jac
		jac.FromAffine(&pk.(*bls381Public).point)
		agg.AddAssign(&jac)
	}
	var out bls12381.G2Affine
	out.FromJacobian(&agg)
	return &bls381Public{point: out}, nil
}

func (s *bls381Scheme) VerifyAggregate(sig Signature, pks []PublicKey, msg []byte) bool {
	aggPk, err := s.AggregatePublicKeys(pks)
	if err != nil {
		return false
	}
	return aggPk.Verify(sig, msg)
}

func hashToG1381(msg []byte) (bls12381.G1Affine, error) {
	return bls12381.HashToG1(msg, []byte(dst381))
}

// Bytes returns the 32-byte scalar.
func (sk *bls381Private) Bytes() []byte {
	b := sk.scalar.Bytes()
	return b[:]
}

// PublicKey derives pk = sk * G2.
func (sk *bls381Private) PublicKey() PublicKey {
	var pk bls12381.G2Affine
	var skBig big.Int
	sk.scalar.BigInt(&skBig)
	pk.ScalarMultiplication(&g2Gen381, &skBig)
	return &bls381Public{point: pk}
}

// Sign computes sig = sk * H(msg).
func (sk *bls381Private) Sign(msg []byte) Signature {
	h, err := hashToG1381(msg)
	if err != nil {
		// Hashing to the curve only fails on malformed DSTs.
		panic(fmt.Sprintf("hash to G1: %v", err))
	}
	var sig bls12381.G1Affine
	var skBig big.Int
	sk.scalar.BigInt(&skBig)
	sig.ScalarMultiplication(&h, &skBig)
	return &bls381Signature{point: sig}
}

// Bytes returns the compressed G2 point.
func (pk *bls381Public) Bytes() []byte {
	b := pk.point.Bytes()
	return b[:]
}

// Verify checks e(sig, G2) == e(H(msg), pk).
func (pk *bls381Public) Verify(sig Signature, msg []byte) bool {
	s, ok := sig.(*bls381Signature)
	if !ok {
		return false
	}
	h, err := hashToG1381(msg)
	if err != nil {
		return false
	}
	var negPk bls12381.G2Affine
	negPk.Neg(&pk.point)

	valid, err := bls12381.PairingCheck(
		[]bls12381.G1Affine{s.point, h},
		[]bls12381.G2Affine{g2Gen381, negPk},
	)
	return err == nil && valid
}

// Equal compares the underlying points.
func (pk *bls381Public) Equal(other PublicKey) bool {
	o, ok := other.(*bls381Public)
	return ok && pk.point.Equal(&o.point)
}

// Bytes returns the compressed G1 point.
func (sig *bls381Signature) Bytes() []byte {
	b := sig.point.Bytes()
	return b[:]
}
