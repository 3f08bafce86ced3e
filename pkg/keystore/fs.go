// Copyright 2025 Certen Protocol
//
// Filesystem keystore backend. Keys live as hex files under
// <dir>/<key-type>/<key-id>.key with 0600 permissions.

package keystore

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/certen/blueprint-runtime/pkg/crypto/blssig"

	"github.com/ChainSafe/go-schnorrkel"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// FS is a directory-backed keystore. Keys are loaded eagerly at open time.
type FS struct {
	dir string
	mem *InMemory
}

// OpenFS loads every key file under dir. Missing directories are created.
func OpenFS(dir string) (*FS, error) {
	fs := &FS{dir: dir, mem: NewInMemory()}
	for _, kt := range []KeyType{KeyTypeBLS12381, KeyTypeBN254, KeyTypeECDSA, KeyTypeSr25519} {
		sub := filepath.Join(dir, string(kt))
		if err := os.MkdirAll(sub, 0o700); err != nil {
			return nil, fmt.Errorf("create keystore dir: %w", err)
		}
		files, err := os.ReadDir(sub)
		if err != nil {
			return nil, fmt.Errorf("read keystore dir: %w", err)
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".key") {
				continue
			}
			keyID := strings.TrimSuffix(f.Name(), ".key")
			if err := fs.load(kt, keyID, filepath.Join(sub, f.Name())); err != nil {
				return nil, fmt.Errorf("load key %s/%s: %w", kt, keyID, err)
			}
		}
	}
	return fs, nil
}

func (f *FS) load(kt KeyType, keyID, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	data, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return fmt.Errorf("decode hex: %w", err)
	}

	switch kt {
	case KeyTypeBLS12381, KeyTypeBN254:
		scheme, err := blssig.ByName(string(kt))
		if err != nil {
			return err
		}
		sk, err := scheme.PrivateKeyFromBytes(data)
		if err != nil {
			return err
		}
		f.mem.InsertBLS(keyID, kt, sk)
	case KeyTypeECDSA:
		sk, err := ethcrypto.ToECDSA(data)
		if err != nil {
			return err
		}
		f.mem.InsertECDSA(keyID, sk)
	case KeyTypeSr25519:
		if len(data) != 32 {
			return fmt.Errorf("sr25519 seed must be 32 bytes, got %d", len(data))
		}
		var seed [32]byte
		copy(seed[:], data)
		msk, err := schnorrkel.NewMiniSecretKeyFromRaw(seed)
		if err != nil {
			return err
		}
		return f.mem.InsertSr25519(keyID, msk.ExpandEd25519())
	}
	return nil
}

// Generate creates and persists a fresh key of the given type.
func (f *FS) Generate(kt KeyType, keyID string) error {
	var material []byte

	switch kt {
	case KeyTypeBLS12381, KeyTypeBN254:
		scheme, err := blssig.ByName(string(kt))
		if err != nil {
			return err
		}
		sk, _, err := scheme.GenerateKeyPair()
		if err != nil {
			return err
		}
		material = sk.Bytes()
	case KeyTypeECDSA:
		sk, err := ethcrypto.GenerateKey()
		if err != nil {
			return err
		}
		material = ethcrypto.FromECDSA(sk)
	case KeyTypeSr25519:
		var seed [32]byte
		if _, err := rand.Read(seed[:]); err != nil {
			return err
		}
		material = seed[:]
	default:
		return fmt.Errorf("unsupported key type %q", kt)
	}

	path := filepath.Join(f.dir, string(kt), keyID+".key")
	if err := os.WriteFile(path, []byte(hex.EncodeToString(material)), 0o600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	return f.load(kt, keyID, path)
}

// Sign implements Keystore.
func (f *FS) Sign(keyID string, msg []byte) ([]byte, error) {
	return f.mem.Sign(keyID, msg)
}

// ECDSAKey returns the raw secp256k1 key for transaction signing.
func (f *FS) ECDSAKey(keyID string) (*ecdsa.PrivateKey, error) {
	return f.mem.ECDSAKey(keyID)
}

// Sr25519Key returns the raw schnorrkel key for extrinsic signing.
func (f *FS) Sr25519Key(keyID string) (*schnorrkel.SecretKey, error) {
	return f.mem.Sr25519Key(keyID)
}

// BLSKey returns the raw aggregatable key for the aggregation protocol.
func (f *FS) BLSKey(keyID string) (blssig.PrivateKey, error) {
	return f.mem.BLSKey(keyID)
}

// List implements Keystore.
func (f *FS) List(kt KeyType) ([][]byte, error) {
	return f.mem.List(kt)
}
