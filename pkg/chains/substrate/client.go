// Copyright 2025 Certen Protocol
//
// Substrate-family chain client: SCALE event decoding, sr25519-signed
// result submission, and operator membership reads from pallet storage.

package substrate

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/certen/blueprint-runtime/pkg/chains"
	"github.com/certen/blueprint-runtime/pkg/job"
	"github.com/certen/blueprint-runtime/pkg/logging"

	"github.com/ChainSafe/go-schnorrkel"
	"github.com/pierrec/xxHash/xxHash64"
	"github.com/sirupsen/logrus"
)

// Pallet call indices of the services pallet.
const (
	palletIndex           = 51
	callIndexSubmitResult = 3
	callIndexHeartbeat    = 7
)

// DefaultPollInterval is how often finality is polled.
const DefaultPollInterval = 6 * time.Second

// The sr25519 signing context shared with the keystore.
var signingContext = []byte("substrate")

// twox128 is the substrate storage hasher: two xxhash64 runs with seeds
// 0 and 1, concatenated.
func twox128(data []byte) []byte {
	out := make([]byte, 16)
	binary.LittleEndian.PutUint64(out[0:8], xxHash64.Checksum(data, 0))
	binary.LittleEndian.PutUint64(out[8:16], xxHash64.Checksum(data, 1))
	return out
}

// operatorsStorageKey derives the storage key of the operators map entry
// for one blueprint: twox128("Services") ++ twox128("Operators") ++
// blueprint id (LE).
func operatorsStorageKey(blueprintID uint64) []byte {
	key := append(twox128([]byte("Services")), twox128([]byte("Operators"))...)
	var id [8]byte
	binary.LittleEndian.PutUint64(id[:], blueprintID)
	return append(key, id[:]...)
}

// Client implements chains.Client and chains.EventSource for the
// substrate protocol family.
type Client struct {
	rpc          RPC
	serviceID    uint64
	signer       *schnorrkel.SecretKey
	signerPub    [32]byte
	pollInterval time.Duration
	log          *logrus.Entry
}

// NewClient creates a substrate client signing with the given sr25519 key.
func NewClient(rpc RPC, serviceID uint64, signer *schnorrkel.SecretKey, pollInterval time.Duration) (*Client, error) {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	pub, err := signer.Public()
	if err != nil {
		return nil, fmt.Errorf("derive sr25519 public key: %w", err)
	}
	return &Client{
		rpc:          rpc,
		serviceID:    serviceID,
		signer:       signer,
		signerPub:    pub.Encode(),
		pollInterval: pollInterval,
		log:          logging.Component("substrate-client"),
	}, nil
}

// AdapterName implements chains.EventSource.
func (c *Client) AdapterName() string { return "substrate" }

// SubscribeFinalizedBlocks implements chains.Client and chains.EventSource
// by polling finality.
func (c *Client) SubscribeFinalizedBlocks(ctx context.Context) (<-chan chains.BlockRef, error) {
	number, hash, err := c.rpc.FinalizedHeadNumber(ctx)
	if err != nil {
		return nil, chains.Transient(fmt.Errorf("fetch finalized head: %w", err))
	}

	out := make(chan chains.BlockRef)
	go func() {
		defer close(out)

		select {
		case out <- chains.BlockRef{Number: number, Hash: hash}:
		case <-ctx.Done():
			return
		}
		last := number

		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			head, _, err := c.rpc.FinalizedHeadNumber(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.log.WithError(err).Warn("finality poll failed")
				continue
			}
			for n := last + 1; n <= head; n++ {
				blockHash, err := c.rpc.BlockHash(ctx, n)
				if err != nil {
					c.log.WithField("block", n).WithError(err).Warn("block hash fetch failed")
					break
				}
				select {
				case out <- chains.BlockRef{Number: n, Hash: blockHash}:
					last = n
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// JobCalls implements chains.EventSource.
func (c *Client) JobCalls(ctx context.Context, block chains.BlockRef) ([]*job.Call, error) {
	records, err := c.rpc.ServiceEvents(ctx, block.Hash)
	if err != nil {
		return nil, chains.Transient(fmt.Errorf("fetch service events: %w", err))
	}

	calls := make([]*job.Call, 0, len(records))
	for _, record := range records {
		ev, err := DecodeJobCalledEvent(record)
		if err != nil {
			c.log.WithField("block", block.Number).WithError(err).Error("undecodable event record")
			continue
		}
		if ev.ServiceID != c.serviceID {
			continue
		}

		call := job.NewCall(job.ID(ev.JobIndex), ev.Args)
		meta := call.Metadata()
		meta.InsertString(job.KeyServiceID, strconv.FormatUint(ev.ServiceID, 10))
		meta.InsertString(job.KeyCallID, strconv.FormatUint(ev.CallID, 10))
		meta.InsertString(job.KeyBlockHash, "0x"+hex.EncodeToString(block.Hash))
		meta.InsertString(job.KeyBlockNumber, strconv.FormatUint(block.Number, 10))
		calls = append(calls, call)
	}
	return calls, nil
}

// FetchOperators implements chains.Client from pallet storage.
func (c *Client) FetchOperators(ctx context.Context, blueprintID uint64) (map[string][]byte, error) {
	raw, err := c.rpc.GetStorage(ctx, operatorsStorageKey(blueprintID))
	if err != nil {
		return nil, chains.Transient(fmt.Errorf("read operators storage: %w", err))
	}
	if raw == nil {
		return map[string][]byte{}, nil
	}
	records, err := DecodeOperators(raw)
	if err != nil {
		return nil, chains.Permanent(err)
	}
	operators := make(map[string][]byte, len(records))
	for _, rec := range records {
		operators["0x"+hex.EncodeToString(rec.Account[:])] = rec.PubKey
	}
	return operators, nil
}

func (c *Client) signCall(call submitResultCall) ([]byte, error) {
	encoded, err := encodeCall(call)
	if err != nil {
		return nil, chains.Permanent(err)
	}
	sig, err := c.signer.Sign(schnorrkel.NewSigningContext(signingContext, encoded))
	if err != nil {
		return nil, chains.Permanent(fmt.Errorf("sr25519 sign: %w", err))
	}
	return encodeExtrinsic(call, c.signerPub, sig.Encode())
}

// SubmitResultTx implements chains.Client.
func (c *Client) SubmitResultTx(ctx context.Context, serviceID, callID uint64, body []byte) (string, error) {
	ext, err := c.signCall(submitResultCall{
		PalletIndex: palletIndex,
		CallIndex:   callIndexSubmitResult,
		ServiceID:   serviceID,
		CallID:      callID,
		Result:      body,
	})
	if err != nil {
		return "", err
	}
	txHash, err := c.rpc.SubmitExtrinsic(ctx, ext)
	if err != nil {
		return "", chains.Transient(fmt.Errorf("submit extrinsic: %w", err))
	}
	return txHash, nil
}

// SubmitHeartbeat implements chains.Client.
func (c *Client) SubmitHeartbeat(ctx context.Context, serviceID uint64, payload []byte) error {
	ext, err := c.signCall(submitResultCall{
		PalletIndex: palletIndex,
		CallIndex:   callIndexHeartbeat,
		ServiceID:   serviceID,
		Result:      payload,
	})
	if err != nil {
		return err
	}
	if _, err := c.rpc.SubmitExtrinsic(ctx, ext); err != nil {
		return chains.Transient(fmt.Errorf("submit heartbeat: %w", err))
	}
	return nil
}

var _ chains.Client = (*Client)(nil)
var _ chains.EventSource = (*Client)(nil)
