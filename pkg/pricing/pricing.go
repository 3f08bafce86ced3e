// Copyright 2025 Certen Protocol
//
// Pricing oracles for the payment gateway. Prices are quoted in the native
// unit's smallest denomination (wei-equivalent) per (service_id, job_index).

package pricing

import (
	"math/big"
	"sync"
)

// JobKey identifies a priced job.
type JobKey struct {
	ServiceID uint64
	JobIndex  uint32
}

// Oracle resolves a job's base price in the native unit.
type Oracle interface {
	PriceNative(serviceID uint64, jobIndex uint32) (*big.Int, bool)
	Snapshot() map[JobKey]*big.Int
}

// Static is a fixed price table.
type Static struct {
	prices map[JobKey]*big.Int
}

// NewStatic creates an oracle over a fixed table. The map is copied.
func NewStatic(prices map[JobKey]*big.Int) *Static {
	out := make(map[JobKey]*big.Int, len(prices))
	for k, v := range prices {
		out[k] = new(big.Int).Set(v)
	}
	return &Static{prices: out}
}

// PriceNative implements Oracle.
func (s *Static) PriceNative(serviceID uint64, jobIndex uint32) (*big.Int, bool) {
	p, ok := s.prices[JobKey{ServiceID: serviceID, JobIndex: jobIndex}]
	if !ok {
		return nil, false
	}
	return new(big.Int).Set(p), true
}

// Snapshot implements Oracle.
func (s *Static) Snapshot() map[JobKey]*big.Int {
	out := make(map[JobKey]*big.Int, len(s.prices))
	for k, v := range s.prices {
		out[k] = new(big.Int).Set(v)
	}
	return out
}

// Scaled multiplies an inner oracle's prices by a surge factor expressed as
// a rational numerator/denominator.
type Scaled struct {
	inner Oracle

	mu  sync.RWMutex
	num *big.Int
	den *big.Int
}

// NewScaled wraps inner with an initial multiplier of num/den.
func NewScaled(inner Oracle, num, den uint64) *Scaled {
	if den == 0 {
		den = 1
	}
	return &Scaled{
		inner: inner,
		num:   new(big.Int).SetUint64(num),
		den:   new(big.Int).SetUint64(den),
	}
}

// SetMultiplier updates the surge factor at runtime.
func (s *Scaled) SetMultiplier(num, den uint64) {
	if den == 0 {
		den = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.num = new(big.Int).SetUint64(num)
	s.den = new(big.Int).SetUint64(den)
}

func (s *Scaled) scale(p *big.Int) *big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := new(big.Int).Mul(p, s.num)
	return out.Div(out, s.den)
}

// PriceNative implements Oracle.
func (s *Scaled) PriceNative(serviceID uint64, jobIndex uint32) (*big.Int, bool) {
	p, ok := s.inner.PriceNative(serviceID, jobIndex)
	if !ok {
		return nil, false
	}
	return s.scale(p), true
}

// Snapshot implements Oracle.
func (s *Scaled) Snapshot() map[JobKey]*big.Int {
	inner := s.inner.Snapshot()
	out := make(map[JobKey]*big.Int, len(inner))
	for k, v := range inner {
		out[k] = s.scale(v)
	}
	return out
}

// Feed is an externally fed price table updated at runtime, e.g. from an
// off-chain pricing service.
type Feed struct {
	mu     sync.RWMutex
	prices map[JobKey]*big.Int
}

// NewFeed creates an empty feed oracle.
func NewFeed() *Feed {
	return &Feed{prices: make(map[JobKey]*big.Int)}
}

// Update replaces the price for one job.
func (f *Feed) Update(key JobKey, price *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[key] = new(big.Int).Set(price)
}

// PriceNative implements Oracle.
func (f *Feed) PriceNative(serviceID uint64, jobIndex uint32) (*big.Int, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.prices[JobKey{ServiceID: serviceID, JobIndex: jobIndex}]
	if !ok {
		return nil, false
	}
	return new(big.Int).Set(p), true
}

// Snapshot implements Oracle.
func (f *Feed) Snapshot() map[JobKey]*big.Int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[JobKey]*big.Int, len(f.prices))
	for k, v := range f.prices {
		out[k] = new(big.Int).Set(v)
	}
	return out
}
