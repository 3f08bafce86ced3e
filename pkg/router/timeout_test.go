// Copyright 2025 Certen Protocol

package router

import (
	"context"
	"testing"
	"time"

	"github.com/certen/blueprint-runtime/pkg/extract"
	"github.com/certen/blueprint-runtime/pkg/job"
)

func TestTimeoutLayerPassesFastHandlers(t *testing.T) {
	r := New().
		Route(0, func(b extract.Body) []byte { return b }).
		Layer(TimeoutLayer(time.Second))
	svc := r.AsService()

	results := dispatch(t, svc, job.NewCall(0, []byte("quick")))
	if len(results) != 1 || !results[0].IsOk() {
		t.Fatalf("fast handler harmed by timeout layer: %v", results)
	}
}

func TestTimeoutLayerCutsSlowHandlers(t *testing.T) {
	r := New().
		Route(0, func(ctx context.Context) *job.Result {
			select {
			case <-time.After(5 * time.Second):
				return job.Ok([]byte("too late"))
			case <-ctx.Done():
				return nil
			}
		}).
		Layer(TimeoutLayer(50 * time.Millisecond))
	svc := r.AsService()

	start := time.Now()
	results := dispatch(t, svc, job.NewCall(0, nil))
	if time.Since(start) > time.Second {
		t.Fatal("timeout layer did not cut the handler off")
	}
	if len(results) != 1 || results[0].ErrTag() != TagHandlerTimeout {
		t.Fatalf("expected handler-timeout result, got %v", results)
	}
}
