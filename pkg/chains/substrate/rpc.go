// Copyright 2025 Certen Protocol
//
// Substrate node RPC boundary. The HTTP implementation speaks JSON-RPC 2.0
// and polls for finality; websocket subscriptions are a node-side luxury
// the adapter does not depend on.

package substrate

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// RPC is the node boundary the adapter consumes.
type RPC interface {
	// FinalizedHeadNumber returns the number and hash of the latest
	// finalized block.
	FinalizedHeadNumber(ctx context.Context) (uint64, []byte, error)

	// BlockHash resolves a block number to its hash.
	BlockHash(ctx context.Context, number uint64) ([]byte, error)

	// ServiceEvents returns the raw SCALE-encoded service event records
	// of a block.
	ServiceEvents(ctx context.Context, blockHash []byte) ([][]byte, error)

	// GetStorage reads a raw storage value.
	GetStorage(ctx context.Context, key []byte) ([]byte, error)

	// SubmitExtrinsic submits a signed extrinsic, returning its hash.
	SubmitExtrinsic(ctx context.Context, extrinsic []byte) (string, error)
}

// HTTPRPC is a JSON-RPC 2.0 client over HTTP.
type HTTPRPC struct {
	url    string
	client *http.Client
}

// NewHTTPRPC creates a client for a node's HTTP RPC endpoint.
func NewHTTPRPC(url string) *HTTPRPC {
	return &HTTPRPC{url: url, client: &http.Client{Timeout: 30 * time.Second}}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (r *HTTPRPC) call(ctx context.Context, method string, params []any, out any) error {
	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("rpc %s: %w", method, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rpc %s: status %d", method, resp.StatusCode)
	}

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("rpc %s: %w", method, err)
	}
	if decoded.Error != nil {
		return fmt.Errorf("rpc %s: %s (%d)", method, decoded.Error.Message, decoded.Error.Code)
	}
	return json.Unmarshal(decoded.Result, out)
}

func hexBytes(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}

type headerResult struct {
	Number string `json:"number"`
}

// FinalizedHeadNumber implements RPC.
func (r *HTTPRPC) FinalizedHeadNumber(ctx context.Context) (uint64, []byte, error) {
	var hashHex string
	if err := r.call(ctx, "chain_getFinalizedHead", nil, &hashHex); err != nil {
		return 0, nil, err
	}
	hash, err := hexBytes(hashHex)
	if err != nil {
		return 0, nil, fmt.Errorf("finalized head hash: %w", err)
	}

	var header headerResult
	if err := r.call(ctx, "chain_getHeader", []any{hashHex}, &header); err != nil {
		return 0, nil, err
	}
	var number uint64
	if _, err := fmt.Sscanf(strings.TrimPrefix(header.Number, "0x"), "%x", &number); err != nil {
		return 0, nil, fmt.Errorf("header number %q: %w", header.Number, err)
	}
	return number, hash, nil
}

// BlockHash implements RPC.
func (r *HTTPRPC) BlockHash(ctx context.Context, number uint64) ([]byte, error) {
	var hashHex string
	if err := r.call(ctx, "chain_getBlockHash", []any{number}, &hashHex); err != nil {
		return nil, err
	}
	return hexBytes(hashHex)
}

// ServiceEvents implements RPC via the services runtime API.
func (r *HTTPRPC) ServiceEvents(ctx context.Context, blockHash []byte) ([][]byte, error) {
	var rawHex []string
	if err := r.call(ctx, "services_jobEvents", []any{"0x" + hex.EncodeToString(blockHash)}, &rawHex); err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(rawHex))
	for _, h := range rawHex {
		data, err := hexBytes(h)
		if err != nil {
			return nil, fmt.Errorf("event record: %w", err)
		}
		out = append(out, data)
	}
	return out, nil
}

// GetStorage implements RPC.
func (r *HTTPRPC) GetStorage(ctx context.Context, key []byte) ([]byte, error) {
	var valueHex *string
	if err := r.call(ctx, "state_getStorage", []any{"0x" + hex.EncodeToString(key)}, &valueHex); err != nil {
		return nil, err
	}
	if valueHex == nil {
		return nil, nil
	}
	return hexBytes(*valueHex)
}

// SubmitExtrinsic implements RPC.
func (r *HTTPRPC) SubmitExtrinsic(ctx context.Context, extrinsic []byte) (string, error) {
	var txHash string
	if err := r.call(ctx, "author_submitExtrinsic", []any{"0x" + hex.EncodeToString(extrinsic)}, &txHash); err != nil {
		return "", err
	}
	return txHash, nil
}
