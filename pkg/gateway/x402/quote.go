// Copyright 2025 Certen Protocol
//
// Quote computation. A quote converts a job's base price in the native unit
// into each accepted token's smallest unit, applying the per-token rate and
// markup, and is sealed by a digest the facilitator verifies payments
// against.

package x402

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/certen/blueprint-runtime/pkg/config"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// nativeWei is the native unit's smallest-denomination scale (wei).
var nativeWei = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

const bpsDenominator = 10_000

// SettlementOption is one way to pay for a job.
type SettlementOption struct {
	Network  string `json:"network"`
	Asset    string `json:"asset"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
	PayTo    string `json:"pay_to"`
	// Amount in the token's smallest unit, as a decimal string.
	Amount string `json:"amount"`
}

// Quote is a priced job offer with an expiry.
type Quote struct {
	ServiceID uint64             `json:"-"`
	JobIndex  uint32             `json:"-"`
	Options   []SettlementOption `json:"settlement_options"`
	Digest    string             `json:"quote_digest"`
	ExpiresAt int64              `json:"expires_at"`
}

// tokenAmount converts a native base price into the token's smallest unit:
// base * rate * 10^decimals * (10000 + markup_bps) / (10^18 * 10000).
func tokenAmount(baseNative *big.Int, tok config.Token) *big.Int {
	amount := new(big.Int).Set(baseNative)
	amount.Mul(amount, new(big.Int).SetUint64(tok.RatePerNativeUnit))
	amount.Mul(amount, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(tok.Decimals)), nil))
	amount.Mul(amount, big.NewInt(bpsDenominator+int64(tok.MarkupBps)))
	amount.Div(amount, nativeWei)
	amount.Div(amount, big.NewInt(bpsDenominator))
	return amount
}

func quoteDigest(serviceID uint64, jobIndex uint32, options []SettlementOption, expiresAt int64) string {
	h := fmt.Sprintf("%d|%d|%d", serviceID, jobIndex, expiresAt)
	for _, opt := range options {
		h += fmt.Sprintf("|%s|%s|%s|%s", opt.Network, opt.Asset, opt.Amount, opt.PayTo)
	}
	return hex.EncodeToString(ethcrypto.Keccak256([]byte(h)))
}

// newQuote prices a job across the accepted tokens.
func newQuote(serviceID uint64, jobIndex uint32, baseNative *big.Int, tokens []config.Token, ttl time.Duration) *Quote {
	expiresAt := time.Now().Add(ttl).Unix()
	options := make([]SettlementOption, 0, len(tokens))
	for _, tok := range tokens {
		options = append(options, SettlementOption{
			Network:  tok.Network,
			Asset:    tok.Asset,
			Symbol:   tok.Symbol,
			Decimals: tok.Decimals,
			PayTo:    tok.PayTo,
			Amount:   tokenAmount(baseNative, tok).String(),
		})
	}
	return &Quote{
		ServiceID: serviceID,
		JobIndex:  jobIndex,
		Options:   options,
		Digest:    quoteDigest(serviceID, jobIndex, options, expiresAt),
		ExpiresAt: expiresAt,
	}
}

// quoteBook caches active quotes per job until they expire.
type quoteBook struct {
	mu     sync.Mutex
	quotes map[[2]uint64]*Quote
}

func newQuoteBook() *quoteBook {
	return &quoteBook{quotes: make(map[[2]uint64]*Quote)}
}

func (b *quoteBook) key(serviceID uint64, jobIndex uint32) [2]uint64 {
	return [2]uint64{serviceID, uint64(jobIndex)}
}

// current returns the live quote for a job, minting a fresh one via mint
// when none exists or the cached one expired.
func (b *quoteBook) current(serviceID uint64, jobIndex uint32, mint func() *Quote) *Quote {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := b.key(serviceID, jobIndex)
	if q, ok := b.quotes[key]; ok && time.Now().Unix() < q.ExpiresAt {
		return q
	}
	q := mint()
	b.quotes[key] = q
	return q
}
