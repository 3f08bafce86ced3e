// Copyright 2025 Certen Protocol
//
// Adapter error classification. Transient errors (transport, 5xx, nonce
// conflicts) are retried with bounded exponential backoff; permanent errors
// (decode, auth, 4xx, bad config) are surfaced immediately and never
// retried.

package chains

import (
	"context"
	"errors"
	"net"
)

type classified struct {
	err       error
	transient bool
}

func (c *classified) Error() string { return c.err.Error() }

func (c *classified) Unwrap() error { return c.err }

// Transient marks an error as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classified{err: err, transient: true}
}

// Permanent marks an error as not retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &classified{err: err, transient: false}
}

// IsTransient reports whether an error should be retried. Explicit
// classification wins; unclassified network errors count as transient,
// everything else as permanent.
func IsTransient(err error) bool {
	var c *classified
	if errors.As(err, &c) {
		return c.transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}
