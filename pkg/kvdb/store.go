// Copyright 2025 Certen Protocol
//
// Adapter-local persistent state over a cometbft-db backend. The core keeps
// no persistent state of its own; chain adapters use this store for their
// last-processed block numbers and nonce counters so restarts resume where
// they left off.

package kvdb

import (
	"encoding/binary"
	"fmt"

	dbm "github.com/cometbft/cometbft-db"
)

// Store wraps a dbm.DB with the runtime's key layout.
type Store struct {
	db dbm.DB
}

// NewStore wraps an existing database.
func NewStore(db dbm.DB) *Store {
	return &Store{db: db}
}

// OpenGoLevelDB opens (or creates) a goleveldb-backed store named name
// under dir.
func OpenGoLevelDB(name, dir string) (*Store, error) {
	db, err := dbm.NewGoLevelDB(name, dir)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return &Store{db: db}, nil
}

// NewMemStore returns an in-memory store for tests.
func NewMemStore() *Store {
	return &Store{db: dbm.NewMemDB()}
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func lastBlockKey(adapter string, serviceID uint64) []byte {
	return []byte(fmt.Sprintf("last-block/%s/%d", adapter, serviceID))
}

func nonceKey(adapter string, serviceID uint64) []byte {
	return []byte(fmt.Sprintf("nonce/%s/%d", adapter, serviceID))
}

func (s *Store) getUint64(key []byte) (uint64, bool, error) {
	v, err := s.db.Get(key)
	if err != nil {
		return 0, false, err
	}
	if len(v) != 8 {
		return 0, false, nil
	}
	return binary.BigEndian.Uint64(v), true, nil
}

func (s *Store) setUint64(key []byte, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	// SetSync for durable writes; adapters checkpoint infrequently.
	return s.db.SetSync(key, buf[:])
}

// LastProcessedBlock returns the stored block height for an adapter and
// service, if one was checkpointed.
func (s *Store) LastProcessedBlock(adapter string, serviceID uint64) (uint64, bool, error) {
	return s.getUint64(lastBlockKey(adapter, serviceID))
}

// SetLastProcessedBlock checkpoints a block height.
func (s *Store) SetLastProcessedBlock(adapter string, serviceID uint64, height uint64) error {
	return s.setUint64(lastBlockKey(adapter, serviceID), height)
}

// Nonce returns the stored nonce for an adapter and service.
func (s *Store) Nonce(adapter string, serviceID uint64) (uint64, bool, error) {
	return s.getUint64(nonceKey(adapter, serviceID))
}

// SetNonce stores a nonce.
func (s *Store) SetNonce(adapter string, serviceID uint64, nonce uint64) error {
	return s.setUint64(nonceKey(adapter, serviceID), nonce)
}
