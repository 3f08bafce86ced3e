// Copyright 2025 Certen Protocol
//
// Service and Layer - the route-level dispatch contract.

package job

import "context"

// Service accepts a job call and produces at most one result. A nil result
// with a nil error means the service produced nothing for this call.
//
// A non-nil error is a service-layer failure and aborts the whole dispatch;
// handler-level failures are expressed as Err results instead.
type Service interface {
	CallJob(ctx context.Context, call *Call) (*Result, error)
}

// ServiceFunc adapts a function to the Service interface.
type ServiceFunc func(ctx context.Context, call *Call) (*Result, error)

// CallJob implements Service.
func (f ServiceFunc) CallJob(ctx context.Context, call *Call) (*Result, error) {
	return f(ctx, call)
}

// Layer wraps a Service with additional processing. Layers compose: the
// outermost layer sees the call first and the result last.
type Layer interface {
	Wrap(next Service) Service
}

// LayerFunc adapts a function to the Layer interface.
type LayerFunc func(next Service) Service

// Wrap implements Layer.
func (f LayerFunc) Wrap(next Service) Service {
	return f(next)
}
