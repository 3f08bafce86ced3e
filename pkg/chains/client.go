// Copyright 2025 Certen Protocol
//
// Chain client contract shared by the protocol adapter families.

package chains

import (
	"context"

	"github.com/certen/blueprint-runtime/pkg/job"
)

// BlockRef identifies one finalized block.
type BlockRef struct {
	Number uint64
	Hash   []byte
}

// Client is the per-protocol chain RPC boundary consumed by the adapters.
type Client interface {
	// SubscribeFinalizedBlocks streams finalized blocks in order. The
	// channel closes when the subscription ends.
	SubscribeFinalizedBlocks(ctx context.Context) (<-chan BlockRef, error)

	// FetchOperators returns the registered operators of a blueprint as
	// account id -> public key bytes.
	FetchOperators(ctx context.Context, blueprintID uint64) (map[string][]byte, error)

	// SubmitResultTx submits a job result on chain and returns the
	// transaction hash.
	SubmitResultTx(ctx context.Context, serviceID, callID uint64, body []byte) (string, error)

	// SubmitHeartbeat submits an operator liveness heartbeat.
	SubmitHeartbeat(ctx context.Context, serviceID uint64, payload []byte) error
}

// EventSource extracts this operator's job calls from finalized blocks.
// Each protocol family implements its own decoding.
type EventSource interface {
	// AdapterName scopes checkpoint keys in the adapter-local store.
	AdapterName() string

	SubscribeFinalizedBlocks(ctx context.Context) (<-chan BlockRef, error)

	// JobCalls decodes the job calls of one finalized block, with the
	// chain metadata (service_id, call_id, block_hash, block_number)
	// already stamped.
	JobCalls(ctx context.Context, block BlockRef) ([]*job.Call, error)
}
