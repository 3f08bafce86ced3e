// Copyright 2025 Certen Protocol

package pricing

import (
	"math/big"
	"testing"
)

func TestStaticOracle(t *testing.T) {
	oracle := NewStatic(map[JobKey]*big.Int{
		{ServiceID: 1, JobIndex: 0}: big.NewInt(1_000_000_000_000_000), // 0.001 ETH
	})

	p, ok := oracle.PriceNative(1, 0)
	if !ok || p.Cmp(big.NewInt(1_000_000_000_000_000)) != 0 {
		t.Fatalf("price = %v, %v", p, ok)
	}
	if _, ok := oracle.PriceNative(1, 99); ok {
		t.Fatal("unknown job priced")
	}

	// Mutating a returned price must not corrupt the table.
	p.SetInt64(0)
	p2, _ := oracle.PriceNative(1, 0)
	if p2.Sign() == 0 {
		t.Fatal("oracle table aliased to caller")
	}
}

func TestScaledOracle(t *testing.T) {
	inner := NewStatic(map[JobKey]*big.Int{
		{ServiceID: 1, JobIndex: 0}: big.NewInt(1000),
	})
	surge := NewScaled(inner, 3, 2) // 1.5x

	p, ok := surge.PriceNative(1, 0)
	if !ok || p.Cmp(big.NewInt(1500)) != 0 {
		t.Fatalf("surged price = %v", p)
	}

	surge.SetMultiplier(1, 1)
	p, _ = surge.PriceNative(1, 0)
	if p.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("reset multiplier price = %v", p)
	}
}

func TestFeedOracle(t *testing.T) {
	feed := NewFeed()
	key := JobKey{ServiceID: 2, JobIndex: 1}

	if _, ok := feed.PriceNative(2, 1); ok {
		t.Fatal("empty feed priced a job")
	}

	feed.Update(key, big.NewInt(42))
	p, ok := feed.PriceNative(2, 1)
	if !ok || p.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("fed price = %v, %v", p, ok)
	}

	snap := feed.Snapshot()
	if snap[key].Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("snapshot = %v", snap)
	}
}
