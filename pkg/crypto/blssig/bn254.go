// Copyright 2025 Certen Protocol
//
// BN254 aggregatable signatures. Same construction as the BLS12-381 scheme
// on the cheaper-to-verify-on-EVM curve: signatures on G1 (32 bytes
// compressed), public keys on G2 (64 bytes compressed).

package blssig

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"sync"

	bn254 "github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

const dst254 = "BLUEPRINT_BLS_SIG_BN254G1_XMD:SHA-256_SSWU_RO_"

var (
	init254   sync.Once
	g2Gen254  bn254.G2Affine
	scheme254 = &bn254Scheme{}
)

func ensure254() {
	init254.Do(func() {
		_, _, _, g2 := bn254.Generators()
		g2Gen254 = g2
	})
}

// BN254 returns the BN254 scheme.
func BN254() Scheme {
	ensure254()
	return scheme254
}

type bn254Scheme struct{}

type bn254Private struct{ scalar fr.Element }

type bn254Public struct{ point bn254.G2Affine }

type bn254Signature struct{ point bn254.G1Affine }

func (*bn254Scheme) Name() string { return SchemeNameBN254 }

func (s *bn254Scheme) GenerateKeyPair() (PrivateKey, PublicKey, error) {
	ensure254()
	var sk fr.Element
	if _, err := sk.SetRandom(); err != nil {
		return nil, nil, fmt.Errorf("generate random scalar: %w", err)
	}
	priv := &bn254Private{scalar: sk}
	return priv, priv.PublicKey(), nil
}

func (s *bn254Scheme) KeyPairFromSeed(seed []byte) (PrivateKey, PublicKey, error) {
	ensure254()
	if len(seed) < 32 {
		return nil, nil, errors.New("seed must be at least 32 bytes")
	}
	hash := sha256.Sum256(seed)
	var sk fr.Element
	sk.SetBytes(hash[:])
	priv := &bn254Private{scalar: sk}
	return priv, priv.PublicKey(), nil
}

func (s *bn254Scheme) PrivateKeyFromBytes(data []byte) (PrivateKey, error) {
	ensure254()
	if len(data) != 32 {
		return nil, fmt.Errorf("invalid private key size: got %d, want 32", len(data))
	}
	var sk fr.Element
	sk.SetBytes(data)
	return &bn254Private{scalar: sk}, nil
}

func (s *bn254Scheme) PublicKeyFromBytes(data []byte) (PublicKey, error) {
	ensure254()
	var pk bn254.G2Affine
	if _, err := pk.SetBytes(data); err != nil {
		return nil, fmt.Errorf("deserialize public key: %w", err)
	}
	return &bn254Public{point: pk}, nil
}

func (s *bn254Scheme) SignatureFromBytes(data []byte) (Signature, error) {
	ensure254()
	var sig bn254.G1Affine
	if _, err := sig.SetBytes(data); err != nil {
		return nil, fmt.Errorf("deserialize signature: %w", err)
	}
	return &bn254Signature{point: sig}, nil
}

func (s *bn254Scheme) AggregateSignatures(sigs []Signature) (Signature, error) {
	ensure254()
	if len(sigs) == 0 {
		return nil, errNoInput
	}
	var agg bn254.G1Jac
	agg.FromAffine(&sigs[0].(*bn254Signature).point)
	for _, sig := range sigs[1:] {
		var jac bn254.G1Jac
		jac.FromAffine(&sig.(*bn254Signature).point)
		agg.AddAssign(&jac)
	}
	var out bn254.G1Affine
	out.FromJacobian(&agg)
	return &bn254Signature{point: out}, nil
}

func (s *bn254Scheme) AggregatePublicKeys(pks []PublicKey) (PublicKey, error) {
	ensure254()
	if len(pks) == 0 {
		return nil, errNoInput
	}
	var agg bn254.G2Jac
	agg.FromAffine(&pks[0].(*bn254Public).point)
	for _, pk := range pks[1:] {
		var jac bn254.G2Jac
		jac.FromAffine(&pk.(*bn254Public).point)
		agg.AddAssign(&jac)
	}
	var out bn254.G2Affine
	out.FromJacobian(&agg)
	return &bn254Public{point: out}, nil
}

func (s *bn254Scheme) VerifyAggregate(sig Signature, pks []PublicKey, msg []byte) bool {
	aggPk, err := s.AggregatePublicKeys(pks)
	if err != nil {
		return false
	}
	return aggPk.Verify(sig, msg)
}

func hashToG1254(msg []byte) (bn254.G1Affine, error) {
	return bn254.HashToG1(msg, []byte(dst254))
}

func (sk *bn254Private) Bytes() []byte {
	b := sk.scalar.Bytes()
	return b[:]
}

func (sk *bn254Private) PublicKey() PublicKey {
	var pk bn254.G2Affine
	var skBig big.Int
	sk.scalar.BigInt(&skBig)
	pk.ScalarMultiplication(&g2Gen254, &skBig)
	return &bn254Public{point: pk}
}

func (sk *bn254Private) Sign(msg []byte) Signature {
	h, err := hashToG1254(msg)
	if err != nil {
		panic(fmt.Sprintf("hash to G1: %v", err))
	}
	var sig bn254.G1Affine
	var skBig big.Int
	sk.scalar.BigInt(&skBig)
	sig.ScalarMultiplication(&h, &skBig)
	return &bn254Signature{point: sig}
}

func (pk *bn254Public) Bytes() []byte {
	b := pk.point.Bytes()
	return b[:]
}

func (pk *bn254Public) Verify(sig Signature, msg []byte) bool {
	s, ok := sig.(*bn254Signature)
	if !ok {
		return false
	}
	h, err := hashToG1254(msg)
	if err != nil {
		return false
	}
	var negPk bn254.G2Affine
	negPk.Neg(&pk.point)

	valid, err := bn254.PairingCheck(
		[]bn254.G1Affine{s.point, h},
		[]bn254.G2Affine{g2Gen254, negPk},
	)
	return err == nil && valid
}

func (pk *bn254Public) Equal(other PublicKey) bool {
	o, ok := other.(*bn254Public)
	return ok && pk.point.Equal(&o.point)
}

func (sig *bn254Signature) Bytes() []byte {
	b := sig.point.Bytes()
	return b[:]
}
