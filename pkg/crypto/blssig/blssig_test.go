// Copyright 2025 Certen Protocol

package blssig

import (
	"bytes"
	"testing"
)

func schemes() []Scheme {
	return []Scheme{BLS12381(), BN254()}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	for _, s := range schemes() {
		t.Run(s.Name(), func(t *testing.T) {
			sk, pk, err := s.GenerateKeyPair()
			if err != nil {
				t.Fatalf("keygen failed: %v", err)
			}

			msg := []byte("result digest to co-sign")
			sig := sk.Sign(msg)

			if !pk.Verify(sig, msg) {
				t.Fatal("valid signature rejected")
			}
			if pk.Verify(sig, []byte("different message")) {
				t.Fatal("signature verified against a different message")
			}

			otherSk, _, _ := s.GenerateKeyPair()
			if pk.Verify(otherSk.Sign(msg), msg) {
				t.Fatal("foreign signature verified")
			}
		})
	}
}

func TestDeterministicSeedKeys(t *testing.T) {
	seed := []byte("deterministic seed material, at least thirty-two bytes long")
	for _, s := range schemes() {
		t.Run(s.Name(), func(t *testing.T) {
			sk1, pk1, err := s.KeyPairFromSeed(seed)
			if err != nil {
				t.Fatalf("seeded keygen failed: %v", err)
			}
			sk2, pk2, _ := s.KeyPairFromSeed(seed)

			if !bytes.Equal(sk1.Bytes(), sk2.Bytes()) || !pk1.Equal(pk2) {
				t.Error("same seed produced different keys")
			}

			if _, _, err := s.KeyPairFromSeed([]byte("short")); err == nil {
				t.Error("short seed accepted")
			}
		})
	}
}

func TestSerializationRoundTrip(t *testing.T) {
	for _, s := range schemes() {
		t.Run(s.Name(), func(t *testing.T) {
			sk, pk, _ := s.GenerateKeyPair()
			msg := []byte("serialize me")
			sig := sk.Sign(msg)

			sk2, err := s.PrivateKeyFromBytes(sk.Bytes())
			if err != nil {
				t.Fatalf("private key round trip: %v", err)
			}
			if !bytes.Equal(sk2.Sign(msg).Bytes(), sig.Bytes()) {
				t.Error("restored private key signs differently")
			}

			pk2, err := s.PublicKeyFromBytes(pk.Bytes())
			if err != nil {
				t.Fatalf("public key round trip: %v", err)
			}
			if !pk.Equal(pk2) {
				t.Error("public key round trip mismatch")
			}

			sig2, err := s.SignatureFromBytes(sig.Bytes())
			if err != nil {
				t.Fatalf("signature round trip: %v", err)
			}
			if !pk.Verify(sig2, msg) {
				t.Error("restored signature does not verify")
			}
		})
	}
}

func TestAggregateSameMessage(t *testing.T) {
	for _, s := range schemes() {
		t.Run(s.Name(), func(t *testing.T) {
			msg := []byte("shared message hash")
			const n = 4

			sigs := make([]Signature, n)
			pks := make([]PublicKey, n)
			for i := 0; i < n; i++ {
				sk, pk, err := s.GenerateKeyPair()
				if err != nil {
					t.Fatalf("keygen failed: %v", err)
				}
				sigs[i] = sk.Sign(msg)
				pks[i] = pk
			}

			agg, err := s.AggregateSignatures(sigs)
			if err != nil {
				t.Fatalf("aggregate failed: %v", err)
			}
			if !s.VerifyAggregate(agg, pks, msg) {
				t.Fatal("aggregate signature rejected")
			}

			// Dropping a contributor from the key set must break it.
			if s.VerifyAggregate(agg, pks[:n-1], msg) {
				t.Fatal("aggregate verified with a missing contributor")
			}

			// A subset aggregate verifies against the subset's keys.
			subSig, _ := s.AggregateSignatures(sigs[:2])
			if !s.VerifyAggregate(subSig, pks[:2], msg) {
				t.Fatal("subset aggregate rejected")
			}
		})
	}
}

func TestAggregateEmptyInput(t *testing.T) {
	for _, s := range schemes() {
		if _, err := s.AggregateSignatures(nil); err == nil {
			t.Errorf("%s: empty signature aggregation accepted", s.Name())
		}
		if _, err := s.AggregatePublicKeys(nil); err == nil {
			t.Errorf("%s: empty key aggregation accepted", s.Name())
		}
	}
}

func TestByName(t *testing.T) {
	for _, name := range []string{SchemeNameBLS12381, SchemeNameBN254} {
		s, err := ByName(name)
		if err != nil || s.Name() != name {
			t.Errorf("ByName(%q) = %v, %v", name, s, err)
		}
	}
	if _, err := ByName("ed25519"); err == nil {
		t.Error("non-aggregatable scheme accepted")
	}
}
