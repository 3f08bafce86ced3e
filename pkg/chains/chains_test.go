// Copyright 2025 Certen Protocol

package chains

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/certen/blueprint-runtime/pkg/job"
	"github.com/certen/blueprint-runtime/pkg/kvdb"
)

// mockClient scripts SubmitResultTx outcomes.
type mockClient struct {
	mu       sync.Mutex
	failures int // transient failures before success
	permErr  error
	calls    []uint64 // call ids in submission order
	attempts int
}

func (m *mockClient) SubscribeFinalizedBlocks(context.Context) (<-chan BlockRef, error) {
	return nil, errors.New("not a block source")
}

func (m *mockClient) FetchOperators(context.Context, uint64) (map[string][]byte, error) {
	return nil, nil
}

func (m *mockClient) SubmitHeartbeat(context.Context, uint64, []byte) error {
	return nil
}

func (m *mockClient) SubmitResultTx(_ context.Context, _ uint64, callID uint64, _ []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if m.permErr != nil {
		return "", m.permErr
	}
	if m.failures > 0 {
		m.failures--
		return "", Transient(errors.New("rpc temporarily unavailable"))
	}
	m.calls = append(m.calls, callID)
	return fmt.Sprintf("0xtx%d", callID), nil
}

func chainResult(serviceID, callID uint64, body string) *job.Result {
	res := job.Ok([]byte(body))
	res.Metadata().InsertString(job.KeyServiceID, strconv.FormatUint(serviceID, 10))
	res.Metadata().InsertString(job.KeyCallID, strconv.FormatUint(callID, 10))
	return res
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestSubmitterFIFOPerService(t *testing.T) {
	client := &mockClient{}
	s := NewSubmitter("test", client)
	defer s.Close()

	ctx := context.Background()
	for i := uint64(1); i <= 5; i++ {
		if err := s.Consume(ctx, chainResult(1, i, "r")); err != nil {
			t.Fatalf("consume %d: %v", i, err)
		}
	}

	waitFor(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return len(client.calls) == 5
	}, "submissions incomplete")

	client.mu.Lock()
	defer client.mu.Unlock()
	for i, callID := range client.calls {
		if callID != uint64(i+1) {
			t.Fatalf("submission order broken: %v", client.calls)
		}
	}
}

func TestSubmitterRetriesTransientFailures(t *testing.T) {
	client := &mockClient{failures: 2}
	s := NewSubmitter("test", client)
	defer s.Close()

	if err := s.Consume(context.Background(), chainResult(1, 1, "r")); err != nil {
		t.Fatalf("consume: %v", err)
	}

	waitFor(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return len(client.calls) == 1
	}, "transient failures were not retried")

	client.mu.Lock()
	defer client.mu.Unlock()
	if client.attempts != 3 {
		t.Errorf("attempts = %d, want 3", client.attempts)
	}
}

func TestSubmitterStopsOnPermanentError(t *testing.T) {
	client := &mockClient{permErr: Permanent(errors.New("decode failure"))}
	s := NewSubmitter("test", client)
	defer s.Close()

	var failedMu sync.Mutex
	var failed []uint64
	s.OnPermanentFailure = func(_, callID uint64, _ error) {
		failedMu.Lock()
		defer failedMu.Unlock()
		failed = append(failed, callID)
	}

	if err := s.Consume(context.Background(), chainResult(1, 9, "r")); err != nil {
		t.Fatalf("consume: %v", err)
	}

	waitFor(t, func() bool {
		failedMu.Lock()
		defer failedMu.Unlock()
		return len(failed) == 1
	}, "permanent failure not surfaced")

	client.mu.Lock()
	defer client.mu.Unlock()
	if client.attempts != 1 {
		t.Errorf("permanent error retried: %d attempts", client.attempts)
	}
}

func TestSubmitterSkipsErrAndForeignResults(t *testing.T) {
	client := &mockClient{}
	s := NewSubmitter("test", client)
	defer s.Close()

	ctx := context.Background()
	if err := s.Consume(ctx, job.Err("handler-error", []byte("x"))); err != nil {
		t.Fatalf("consume err result: %v", err)
	}
	// Result without chain metadata, e.g. from a webhook-only job.
	if err := s.Consume(ctx, job.Ok([]byte("y"))); err != nil {
		t.Fatalf("consume foreign result: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	client.mu.Lock()
	defer client.mu.Unlock()
	if client.attempts != 0 {
		t.Errorf("unsubmittable results reached the chain: %d attempts", client.attempts)
	}
}

func TestErrorClassification(t *testing.T) {
	if !IsTransient(Transient(errors.New("x"))) {
		t.Error("explicit transient not recognized")
	}
	if IsTransient(Permanent(errors.New("x"))) {
		t.Error("explicit permanent treated as transient")
	}
	if !IsTransient(context.DeadlineExceeded) {
		t.Error("deadline not transient")
	}
	if IsTransient(errors.New("unclassified")) {
		t.Error("unclassified error treated as transient")
	}
	// Classification survives wrapping.
	wrapped := fmt.Errorf("submit: %w", Transient(errors.New("conn reset")))
	if !IsTransient(wrapped) {
		t.Error("wrapped transient lost its class")
	}
}

// scriptedSource replays blocks with canned job calls.
type scriptedSource struct {
	blocks chan BlockRef
	calls  map[uint64][]*job.Call
}

func (s *scriptedSource) AdapterName() string { return "scripted" }

func (s *scriptedSource) SubscribeFinalizedBlocks(context.Context) (<-chan BlockRef, error) {
	return s.blocks, nil
}

func (s *scriptedSource) JobCalls(_ context.Context, block BlockRef) ([]*job.Call, error) {
	return s.calls[block.Number], nil
}

func TestWatcherStreamsAndCheckpoints(t *testing.T) {
	store := kvdb.NewMemStore()
	defer store.Close()

	src := &scriptedSource{
		blocks: make(chan BlockRef, 3),
		calls: map[uint64][]*job.Call{
			10: {job.NewCall(0, []byte("a"))},
			12: {job.NewCall(0, []byte("b")), job.NewCall(1, []byte("c"))},
		},
	}
	src.blocks <- BlockRef{Number: 10}
	src.blocks <- BlockRef{Number: 11} // no calls
	src.blocks <- BlockRef{Number: 12}

	w := NewWatcher(src, store, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, want := range []string{"a", "b", "c"} {
		call, err := w.Next(ctx)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if string(call.Body()) != want {
			t.Errorf("call body = %q, want %q", call.Body(), want)
		}
	}

	last, ok, err := store.LastProcessedBlock("scripted", 1)
	if err != nil || !ok || last != 12 {
		t.Errorf("checkpoint = %d, %v, %v", last, ok, err)
	}
}

func TestWatcherSkipsProcessedBlocks(t *testing.T) {
	store := kvdb.NewMemStore()
	defer store.Close()
	if err := store.SetLastProcessedBlock("scripted", 1, 10); err != nil {
		t.Fatal(err)
	}

	src := &scriptedSource{
		blocks: make(chan BlockRef, 2),
		calls: map[uint64][]*job.Call{
			10: {job.NewCall(0, []byte("old"))},
			11: {job.NewCall(0, []byte("new"))},
		},
	}
	src.blocks <- BlockRef{Number: 10} // replayed block, below checkpoint
	src.blocks <- BlockRef{Number: 11}

	w := NewWatcher(src, store, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	call, err := w.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if string(call.Body()) != "new" {
		t.Errorf("replayed block not skipped: %q", call.Body())
	}
}
