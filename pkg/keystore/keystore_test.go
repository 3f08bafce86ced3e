// Copyright 2025 Certen Protocol

package keystore

import (
	"errors"
	"testing"

	"github.com/certen/blueprint-runtime/pkg/crypto/blssig"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

func TestMissingKey(t *testing.T) {
	ks := NewInMemory()
	_, err := ks.Sign("nope", []byte("msg"))
	if !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestBLSSignRoundTrip(t *testing.T) {
	scheme := blssig.BLS12381()
	sk, pk, err := scheme.GenerateKeyPair()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}

	ks := NewInMemory()
	ks.InsertBLS("operator", KeyTypeBLS12381, sk)

	msg := []byte("result digest")
	sigBytes, err := ks.Sign("operator", msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sig, err := scheme.SignatureFromBytes(sigBytes)
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	if !pk.Verify(sig, msg) {
		t.Fatal("keystore signature does not verify")
	}

	pubs, err := ks.List(KeyTypeBLS12381)
	if err != nil || len(pubs) != 1 {
		t.Fatalf("List = %d keys, err %v", len(pubs), err)
	}
}

func TestECDSASignRecovers(t *testing.T) {
	sk, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	ks := NewInMemory()
	ks.InsertECDSA("submitter", sk)

	msg := []byte("tx payload")
	sig, err := ks.Sign("submitter", msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	recovered, err := ethcrypto.SigToPub(ethcrypto.Keccak256(msg), sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if ethcrypto.PubkeyToAddress(*recovered) != ethcrypto.PubkeyToAddress(sk.PublicKey) {
		t.Fatal("recovered address mismatch")
	}
}

func TestFSBackendPersistsKeys(t *testing.T) {
	dir := t.TempDir()

	fs, err := OpenFS(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := fs.Generate(KeyTypeBLS12381, "agg"); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := fs.Generate(KeyTypeECDSA, "evm"); err != nil {
		t.Fatalf("generate: %v", err)
	}

	sig1, err := fs.Sign("agg", []byte("m"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	// Re-open from disk: same keys, same signatures.
	reopened, err := OpenFS(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	sig2, err := reopened.Sign("agg", []byte("m"))
	if err != nil {
		t.Fatalf("sign after reopen: %v", err)
	}
	if string(sig1) != string(sig2) {
		t.Fatal("key did not survive the round trip")
	}

	pubs, err := reopened.List(KeyTypeECDSA)
	if err != nil || len(pubs) != 1 {
		t.Fatalf("List(ecdsa) = %d, err %v", len(pubs), err)
	}
}
