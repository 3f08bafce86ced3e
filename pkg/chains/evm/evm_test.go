// Copyright 2025 Certen Protocol

package evm

import (
	"context"
	"math/big"
	"testing"

	"github.com/certen/blueprint-runtime/pkg/chains"
	"github.com/certen/blueprint-runtime/pkg/job"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// stubRPC serves canned logs.
type stubRPC struct {
	logs []types.Log
}

func (s *stubRPC) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(100)}, nil
}

func (s *stubRPC) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	var out []types.Log
	for _, lg := range s.logs {
		if lg.BlockNumber == q.FromBlock.Uint64() {
			out = append(out, lg)
		}
	}
	return out, nil
}

func (s *stubRPC) SendTransaction(context.Context, *types.Transaction) error { return nil }

func (s *stubRPC) PendingNonceAt(context.Context, common.Address) (uint64, error) { return 0, nil }

func (s *stubRPC) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func (s *stubRPC) ChainID(context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func (s *stubRPC) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return nil, nil
}

// packJobCalledLog builds a log the way the contract would emit it.
func packJobCalledLog(t *testing.T, serviceID uint64, jobIndex uint8, callID uint64, inputs []byte, blockNumber uint64) types.Log {
	t.Helper()
	event := servicesABI().Events["JobCalled"]
	data, err := event.Inputs.NonIndexed().Pack(jobIndex, callID, inputs)
	if err != nil {
		t.Fatalf("pack event data: %v", err)
	}
	return types.Log{
		Address: common.HexToAddress("0xC0FFEE"),
		Topics: []common.Hash{
			event.ID,
			common.BigToHash(new(big.Int).SetUint64(serviceID)),
		},
		Data:        data,
		BlockNumber: blockNumber,
	}
}

func TestJobCalledDecoding(t *testing.T) {
	contract := common.HexToAddress("0xC0FFEE")
	rpc := &stubRPC{
		logs: []types.Log{
			packJobCalledLog(t, 7, 2, 41, []byte("abi-encoded-args"), 55),
		},
	}
	src := NewSource(rpc, contract, 7, 0)

	blockHash := common.HexToHash("0xbeef")
	calls, err := src.JobCalls(context.Background(), chains.BlockRef{Number: 55, Hash: blockHash.Bytes()})
	if err != nil {
		t.Fatalf("job calls: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("decoded %d calls, want 1", len(calls))
	}

	call := calls[0]
	if call.JobID() != 2 {
		t.Errorf("job id = %d, want 2", call.JobID())
	}
	if string(call.Body()) != "abi-encoded-args" {
		t.Errorf("body = %q", call.Body())
	}
	checks := map[string]string{
		job.KeyServiceID:   "7",
		job.KeyCallID:      "41",
		job.KeyBlockNumber: "55",
		job.KeyBlockHash:   blockHash.Hex(),
	}
	for key, want := range checks {
		if got, _ := call.Metadata().GetString(key); got != want {
			t.Errorf("metadata %s = %q, want %q", key, got, want)
		}
	}
}

func TestJobCallsIgnoresOtherBlocks(t *testing.T) {
	contract := common.HexToAddress("0xC0FFEE")
	rpc := &stubRPC{
		logs: []types.Log{
			packJobCalledLog(t, 7, 0, 1, []byte("x"), 10),
		},
	}
	src := NewSource(rpc, contract, 7, 0)

	calls, err := src.JobCalls(context.Background(), chains.BlockRef{Number: 99, Hash: []byte{1}})
	if err != nil {
		t.Fatalf("job calls: %v", err)
	}
	if len(calls) != 0 {
		t.Errorf("unexpected calls from foreign block: %d", len(calls))
	}
}

func TestMalformedEventSkipped(t *testing.T) {
	contract := common.HexToAddress("0xC0FFEE")
	event := servicesABI().Events["JobCalled"]
	rpc := &stubRPC{
		logs: []types.Log{
			{
				Address:     contract,
				Topics:      []common.Hash{event.ID, common.BigToHash(big.NewInt(7))},
				Data:        []byte{0x01, 0x02}, // not decodable
				BlockNumber: 12,
			},
			packJobCalledLog(t, 7, 1, 5, []byte("good"), 12),
		},
	}
	src := NewSource(rpc, contract, 7, 0)

	calls, err := src.JobCalls(context.Background(), chains.BlockRef{Number: 12, Hash: []byte{2}})
	if err != nil {
		t.Fatalf("job calls: %v", err)
	}
	if len(calls) != 1 || string(calls[0].Body()) != "good" {
		t.Fatalf("malformed event not skipped cleanly: %d calls", len(calls))
	}
}
