// Copyright 2025 Certen Protocol
//
// Per-route timeout middleware. There is no global handler deadline; routes
// opt in by layering this on.

package router

import (
	"context"
	"time"

	"github.com/certen/blueprint-runtime/pkg/job"
)

// TagHandlerTimeout discriminates results of timed-out handlers.
const TagHandlerTimeout = "handler-timeout"

// TimeoutLayer bounds each wrapped handler invocation to d. A handler that
// misses the deadline contributes an Err result; its context is cancelled
// so it can unwind.
func TimeoutLayer(d time.Duration) job.Layer {
	return job.LayerFunc(func(next job.Service) job.Service {
		return job.ServiceFunc(func(ctx context.Context, call *job.Call) (*job.Result, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			type outcome struct {
				res *job.Result
				err error
			}
			ch := make(chan outcome, 1)
			go func() {
				res, err := next.CallJob(ctx, call)
				ch <- outcome{res: res, err: err}
			}()

			select {
			case out := <-ch:
				return out.res, out.err
			case <-ctx.Done():
				if ctx.Err() == context.DeadlineExceeded {
					return job.Errf(TagHandlerTimeout, "handler exceeded %s", d), nil
				}
				return nil, ctx.Err()
			}
		})
	})
}
