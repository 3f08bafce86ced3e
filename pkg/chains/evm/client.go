// Copyright 2025 Certen Protocol
//
// EVM chain client - submits results and heartbeats to the services
// contract with ECDSA-signed transactions, and reads operator membership.

package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"

	"github.com/certen/blueprint-runtime/pkg/chains"
	"github.com/certen/blueprint-runtime/pkg/logging"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
)

const submitGasLimit = 500_000

// Client implements chains.Client against an EVM services contract.
type Client struct {
	rpc      RPC
	source   *Source
	contract common.Address
	key      *ecdsa.PrivateKey
	sender   common.Address

	// Guards the nonce fetch/sign/send sequence. Per-service ordering is
	// the submitter's job; this lock only prevents nonce races between
	// concurrent service queues.
	nonceMu sync.Mutex

	chainID *big.Int
	log     *logrus.Entry
}

// NewClient creates an EVM client for one services contract.
func NewClient(rpc RPC, contract common.Address, serviceID uint64, key *ecdsa.PrivateKey) *Client {
	return &Client{
		rpc:      rpc,
		source:   NewSource(rpc, contract, serviceID, 0),
		contract: contract,
		key:      key,
		sender:   ethcrypto.PubkeyToAddress(key.PublicKey),
		log:      logging.Component("evm-client"),
	}
}

// Source returns the event source half of the adapter.
func (c *Client) Source() *Source { return c.source }

// SubscribeFinalizedBlocks implements chains.Client.
func (c *Client) SubscribeFinalizedBlocks(ctx context.Context) (<-chan chains.BlockRef, error) {
	return c.source.SubscribeFinalizedBlocks(ctx)
}

// FetchOperators implements chains.Client via the operatorsOf view.
func (c *Client) FetchOperators(ctx context.Context, blueprintID uint64) (map[string][]byte, error) {
	input, err := servicesABI().Pack("operatorsOf", blueprintID)
	if err != nil {
		return nil, chains.Permanent(fmt.Errorf("pack operatorsOf: %w", err))
	}
	out, err := c.rpc.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: input}, nil)
	if err != nil {
		return nil, chains.Transient(fmt.Errorf("call operatorsOf: %w", err))
	}
	vals, err := servicesABI().Unpack("operatorsOf", out)
	if err != nil {
		return nil, chains.Permanent(fmt.Errorf("unpack operatorsOf: %w", err))
	}
	accounts, ok1 := vals[0].([]common.Address)
	keys, ok2 := vals[1].([][]byte)
	if !ok1 || !ok2 || len(accounts) != len(keys) {
		return nil, chains.Permanent(fmt.Errorf("malformed operatorsOf output"))
	}

	operators := make(map[string][]byte, len(accounts))
	for i, acct := range accounts {
		operators[acct.Hex()] = keys[i]
	}
	return operators, nil
}

// SubmitResultTx implements chains.Client.
func (c *Client) SubmitResultTx(ctx context.Context, serviceID, callID uint64, body []byte) (string, error) {
	input, err := servicesABI().Pack("submitResult", serviceID, callID, body)
	if err != nil {
		return "", chains.Permanent(fmt.Errorf("pack submitResult: %w", err))
	}
	tx, err := c.sendTx(ctx, input)
	if err != nil {
		return "", err
	}
	return tx.Hash().Hex(), nil
}

// SubmitHeartbeat implements chains.Client.
func (c *Client) SubmitHeartbeat(ctx context.Context, serviceID uint64, payload []byte) error {
	input, err := servicesABI().Pack("heartbeat", serviceID, payload)
	if err != nil {
		return chains.Permanent(fmt.Errorf("pack heartbeat: %w", err))
	}
	_, err = c.sendTx(ctx, input)
	return err
}

func (c *Client) sendTx(ctx context.Context, input []byte) (*types.Transaction, error) {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()

	if c.chainID == nil {
		id, err := c.rpc.ChainID(ctx)
		if err != nil {
			return nil, chains.Transient(fmt.Errorf("fetch chain id: %w", err))
		}
		c.chainID = id
	}

	nonce, err := c.rpc.PendingNonceAt(ctx, c.sender)
	if err != nil {
		return nil, chains.Transient(fmt.Errorf("fetch nonce: %w", err))
	}
	gasPrice, err := c.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return nil, chains.Transient(fmt.Errorf("suggest gas price: %w", err))
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.contract,
		Gas:      submitGasLimit,
		GasPrice: gasPrice,
		Data:     input,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return nil, chains.Permanent(fmt.Errorf("sign transaction: %w", err))
	}

	if err := c.rpc.SendTransaction(ctx, signed); err != nil {
		return nil, chains.Transient(fmt.Errorf("send transaction: %w", err))
	}
	c.log.WithFields(logrus.Fields{
		"tx":    signed.Hash().Hex(),
		"nonce": nonce,
	}).Debug("transaction sent")
	return signed, nil
}

var _ chains.Client = (*Client)(nil)
