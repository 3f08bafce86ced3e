// Copyright 2025 Certen Protocol
//
// EVM event source - decodes JobCalled events from finalized blocks into
// job calls.

package evm

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/certen/blueprint-runtime/pkg/chains"
	"github.com/certen/blueprint-runtime/pkg/job"
	"github.com/certen/blueprint-runtime/pkg/logging"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"
)

// RPC is the subset of ethclient.Client the adapter consumes.
type RPC interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// DefaultPollInterval is how often the finalized head is polled.
const DefaultPollInterval = 6 * time.Second

// Source streams finalized blocks and decodes this service's JobCalled
// events.
type Source struct {
	rpc          RPC
	contract     common.Address
	serviceID    uint64
	pollInterval time.Duration
	log          *logrus.Entry
}

// NewSource creates an EVM event source for one services contract.
func NewSource(rpc RPC, contract common.Address, serviceID uint64, pollInterval time.Duration) *Source {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Source{
		rpc:          rpc,
		contract:     contract,
		serviceID:    serviceID,
		pollInterval: pollInterval,
		log:          logging.Component("evm-source"),
	}
}

// AdapterName implements chains.EventSource.
func (s *Source) AdapterName() string { return "evm" }

// SubscribeFinalizedBlocks implements chains.EventSource by polling the
// finalized head and emitting every finalized block once, in order.
func (s *Source) SubscribeFinalizedBlocks(ctx context.Context) (<-chan chains.BlockRef, error) {
	head, err := s.finalizedHeader(ctx)
	if err != nil {
		return nil, chains.Transient(fmt.Errorf("fetch finalized head: %w", err))
	}

	out := make(chan chains.BlockRef)
	go func() {
		defer close(out)
		last := head.Number.Uint64() - 1

		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		for {
			head, err := s.finalizedHeader(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.log.WithError(err).Warn("finalized head poll failed")
			} else {
				for n := last + 1; n <= head.Number.Uint64(); n++ {
					hdr := head
					if n != head.Number.Uint64() {
						hdr, err = s.rpc.HeaderByNumber(ctx, new(big.Int).SetUint64(n))
						if err != nil {
							s.log.WithField("block", n).WithError(err).Warn("header fetch failed")
							break
						}
					}
					select {
					case out <- chains.BlockRef{Number: n, Hash: hdr.Hash().Bytes()}:
						last = n
					case <-ctx.Done():
						return
					}
				}
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *Source) finalizedHeader(ctx context.Context) (*types.Header, error) {
	return s.rpc.HeaderByNumber(ctx, big.NewInt(rpc.FinalizedBlockNumber.Int64()))
}

// JobCalls implements chains.EventSource: filter this block's JobCalled
// logs for our service id and translate them.
func (s *Source) JobCalls(ctx context.Context, block chains.BlockRef) ([]*job.Call, error) {
	event := servicesABI().Events["JobCalled"]
	num := new(big.Int).SetUint64(block.Number)

	logs, err := s.rpc.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: num,
		ToBlock:   num,
		Addresses: []common.Address{s.contract},
		Topics: [][]common.Hash{
			{event.ID},
			{common.BigToHash(new(big.Int).SetUint64(s.serviceID))},
		},
	})
	if err != nil {
		return nil, chains.Transient(fmt.Errorf("filter logs: %w", err))
	}

	calls := make([]*job.Call, 0, len(logs))
	for _, lg := range logs {
		call, err := s.decodeLog(lg, block)
		if err != nil {
			// A malformed event is permanent for that log only.
			s.log.WithField("tx", lg.TxHash.Hex()).WithError(err).Error("undecodable JobCalled event")
			continue
		}
		calls = append(calls, call)
	}
	return calls, nil
}

func (s *Source) decodeLog(lg types.Log, block chains.BlockRef) (*job.Call, error) {
	vals, err := servicesABI().Unpack("JobCalled", lg.Data)
	if err != nil {
		return nil, chains.Permanent(fmt.Errorf("unpack event data: %w", err))
	}
	if len(vals) != 3 {
		return nil, chains.Permanent(fmt.Errorf("unexpected event arity %d", len(vals)))
	}
	jobIndex, ok1 := vals[0].(uint8)
	callID, ok2 := vals[1].(uint64)
	inputs, ok3 := vals[2].([]byte)
	if !ok1 || !ok2 || !ok3 {
		return nil, chains.Permanent(fmt.Errorf("unexpected event field types"))
	}

	call := job.NewCall(job.ID(jobIndex), inputs)
	meta := call.Metadata()
	meta.InsertString(job.KeyServiceID, strconv.FormatUint(s.serviceID, 10))
	meta.InsertString(job.KeyCallID, strconv.FormatUint(callID, 10))
	meta.InsertString(job.KeyBlockHash, "0x"+hex.EncodeToString(block.Hash))
	meta.InsertString(job.KeyBlockNumber, strconv.FormatUint(block.Number, 10))
	return call, nil
}
