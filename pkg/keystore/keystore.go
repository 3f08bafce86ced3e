// Copyright 2025 Certen Protocol
//
// Keystore - local signing keys for the protocol adapters and the
// aggregation protocol. Two backends: in-memory (tests, ephemeral
// operators) and filesystem (hex key files under a data directory).

package keystore

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/certen/blueprint-runtime/pkg/crypto/blssig"

	"github.com/ChainSafe/go-schnorrkel"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// KeyType selects the signature scheme of a stored key.
type KeyType string

const (
	KeyTypeBLS12381 KeyType = "bls12-381"
	KeyTypeBN254    KeyType = "bn254"
	KeyTypeECDSA    KeyType = "ecdsa"
	KeyTypeSr25519  KeyType = "sr25519"
)

// ErrKeyNotFound is returned when no key matches the requested id.
var ErrKeyNotFound = errors.New("key not found")

// Keystore signs messages with locally held keys and lists public keys by
// type.
type Keystore interface {
	Sign(keyID string, msg []byte) ([]byte, error)
	List(kt KeyType) ([][]byte, error)
}

// The sr25519 signing context used across the substrate family.
var srContext = []byte("substrate")

type entry struct {
	keyType KeyType

	bls    blssig.PrivateKey
	ecdsa  *ecdsa.PrivateKey
	sr     *schnorrkel.SecretKey
	public []byte
}

// InMemory is a map-backed keystore.
type InMemory struct {
	keys map[string]entry
}

// NewInMemory creates an empty in-memory keystore.
func NewInMemory() *InMemory {
	return &InMemory{keys: make(map[string]entry)}
}

// InsertBLS stores an aggregatable key under the given id.
func (k *InMemory) InsertBLS(keyID string, kt KeyType, sk blssig.PrivateKey) {
	k.keys[keyID] = entry{keyType: kt, bls: sk, public: sk.PublicKey().Bytes()}
}

// InsertECDSA stores a secp256k1 key under the given id.
func (k *InMemory) InsertECDSA(keyID string, sk *ecdsa.PrivateKey) {
	k.keys[keyID] = entry{
		keyType: KeyTypeECDSA,
		ecdsa:   sk,
		public:  ethcrypto.FromECDSAPub(&sk.PublicKey),
	}
}

// InsertSr25519 stores a schnorrkel key under the given id.
func (k *InMemory) InsertSr25519(keyID string, sk *schnorrkel.SecretKey) error {
	pub, err := sk.Public()
	if err != nil {
		return fmt.Errorf("derive sr25519 public key: %w", err)
	}
	enc := pub.Encode()
	k.keys[keyID] = entry{keyType: KeyTypeSr25519, sr: sk, public: enc[:]}
	return nil
}

// Sign implements Keystore.
func (k *InMemory) Sign(keyID string, msg []byte) ([]byte, error) {
	e, ok := k.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	return signEntry(e, msg)
}

// List implements Keystore.
func (k *InMemory) List(kt KeyType) ([][]byte, error) {
	var out [][]byte
	for _, e := range k.keys {
		if e.keyType == kt {
			out = append(out, e.public)
		}
	}
	return out, nil
}

// ECDSAKey returns the raw secp256k1 key for transaction signing.
func (k *InMemory) ECDSAKey(keyID string) (*ecdsa.PrivateKey, error) {
	e, ok := k.keys[keyID]
	if !ok || e.keyType != KeyTypeECDSA {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	return e.ecdsa, nil
}

// Sr25519Key returns the raw schnorrkel key for extrinsic signing.
func (k *InMemory) Sr25519Key(keyID string) (*schnorrkel.SecretKey, error) {
	e, ok := k.keys[keyID]
	if !ok || e.keyType != KeyTypeSr25519 {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	return e.sr, nil
}

// BLSKey returns the raw aggregatable key for the aggregation protocol.
func (k *InMemory) BLSKey(keyID string) (blssig.PrivateKey, error) {
	e, ok := k.keys[keyID]
	if !ok || e.bls == nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	return e.bls, nil
}

func signEntry(e entry, msg []byte) ([]byte, error) {
	switch e.keyType {
	case KeyTypeBLS12381, KeyTypeBN254:
		return e.bls.Sign(msg).Bytes(), nil
	case KeyTypeECDSA:
		digest := ethcrypto.Keccak256(msg)
		return ethcrypto.Sign(digest, e.ecdsa)
	case KeyTypeSr25519:
		ctx := schnorrkel.NewSigningContext(srContext, msg)
		sig, err := e.sr.Sign(ctx)
		if err != nil {
			return nil, fmt.Errorf("sr25519 sign: %w", err)
		}
		enc := sig.Encode()
		return enc[:], nil
	default:
		return nil, fmt.Errorf("unsupported key type %q", e.keyType)
	}
}
