// Copyright 2025 Certen Protocol

package tee

import (
	"context"
	"testing"
	"time"

	"github.com/certen/blueprint-runtime/pkg/job"
)

func sampleReport() *Report {
	return &Report{
		Provider:    ProviderIntelTdx,
		Measurement: []byte{0xaa, 0xbb},
		Evidence:    []byte("quote-bytes"),
		IssuedAt:    time.Now(),
	}
}

func okService() job.Service {
	return job.ServiceFunc(func(context.Context, *job.Call) (*job.Result, error) {
		return job.Ok([]byte("out")), nil
	})
}

func errService() job.Service {
	return job.ServiceFunc(func(context.Context, *job.Call) (*job.Result, error) {
		return job.Err("handler-error", []byte("bad")), nil
	})
}

func TestOkResultsAreStamped(t *testing.T) {
	handle := NewHandle()
	handle.Update(sampleReport())
	svc := NewLayer(handle).Wrap(okService())

	res, err := svc.CallJob(context.Background(), job.NewCall(0, nil))
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}

	meta := res.Metadata()
	for _, key := range []string{KeyProvider, KeyDigest, KeyMeasurement} {
		if _, ok := meta.Get(key); !ok {
			t.Errorf("missing metadata key %q", key)
		}
	}
	if v, _ := meta.GetString(KeyProvider); v != string(ProviderIntelTdx) {
		t.Errorf("provider = %q", v)
	}
	if v, _ := meta.GetString(KeyMeasurement); v != "aabb" {
		t.Errorf("measurement = %q", v)
	}
}

func TestErrResultsAreNeverStamped(t *testing.T) {
	handle := NewHandle()
	handle.Update(sampleReport())
	svc := NewLayer(handle).Wrap(errService())

	res, err := svc.CallJob(context.Background(), job.NewCall(0, nil))
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if res.Metadata() != nil {
		t.Fatal("Err result carries metadata")
	}
}

func TestEmptyHandleSkipsStamping(t *testing.T) {
	svc := NewLayer(NewHandle()).Wrap(okService())

	res, err := svc.CallJob(context.Background(), job.NewCall(0, nil))
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if res.Metadata().Len() != 0 {
		t.Errorf("empty handle stamped metadata: %v", res.Metadata().Entries())
	}
}

func TestContendedHandleSkipsStamping(t *testing.T) {
	handle := NewHandle()
	handle.Update(sampleReport())

	// Hold the write lock during the dispatch; the read path must skip.
	handle.mu.Lock()
	defer handle.mu.Unlock()

	svc := NewLayer(handle).Wrap(okService())
	res, err := svc.CallJob(context.Background(), job.NewCall(0, nil))
	if err != nil {
		t.Fatalf("call failed under contention: %v", err)
	}
	if res.Metadata().Len() != 0 {
		t.Errorf("contended handle stamped metadata")
	}
}
