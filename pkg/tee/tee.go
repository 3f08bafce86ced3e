// Copyright 2025 Certen Protocol
//
// TEE attestation middleware - stamps an attestation digest onto outgoing
// job results so downstream verifiers can tie a result to an attested
// environment. The report itself is treated as opaque evidence.

package tee

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/certen/blueprint-runtime/pkg/job"
)

// Provider is the symbolic name of a TEE technology.
type Provider string

const (
	ProviderIntelTdx Provider = "intel-tdx"
	ProviderAmdSev   Provider = "amd-sev-snp"
	ProviderAwsNitro Provider = "aws-nitro"
	ProviderNone     Provider = "none"
)

// Metadata keys injected into Ok results.
const (
	KeyProvider    = "tee.provider"
	KeyDigest      = "tee.attestation.digest"
	KeyMeasurement = "tee.measurement"
)

// Report is an opaque attestation report plus the fields the middleware
// surfaces.
type Report struct {
	Provider    Provider
	Measurement []byte
	Evidence    []byte
	IssuedAt    time.Time
}

// Digest returns the hex-encoded SHA-256 digest of the report evidence.
func (r *Report) Digest() string {
	sum := sha256.Sum256(r.Evidence)
	return hex.EncodeToString(sum[:])
}

// Attestor produces the current attestation report, when one is available.
type Attestor interface {
	CurrentReport() (*Report, bool)
}

// Handle holds the current report behind a mutex. The read path uses
// TryLock and skips stamping on contention; only the refresh path blocks.
type Handle struct {
	mu     sync.Mutex
	report *Report
}

// NewHandle creates an empty handle.
func NewHandle() *Handle {
	return &Handle{}
}

// Update replaces the current report. Called by the refresh task.
func (h *Handle) Update(r *Report) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.report = r
}

// snapshot returns the current report without blocking. The second return
// is false when the lock is contended or no report is loaded.
func (h *Handle) snapshot() (*Report, bool) {
	if !h.mu.TryLock() {
		return nil, false
	}
	defer h.mu.Unlock()
	if h.report == nil {
		return nil, false
	}
	return h.report, true
}

// Layer stamps TEE metadata onto successful results. Err results are never
// stamped, and a contended or empty handle skips stamping without failing
// the dispatch.
type Layer struct {
	handle *Handle
}

// NewLayer creates the middleware around a report handle.
func NewLayer(handle *Handle) *Layer {
	return &Layer{handle: handle}
}

// Wrap implements job.Layer.
func (l *Layer) Wrap(next job.Service) job.Service {
	return job.ServiceFunc(func(ctx context.Context, call *job.Call) (*job.Result, error) {
		res, err := next.CallJob(ctx, call)
		if err != nil || res == nil || res.IsErr() {
			return res, err
		}
		if report, ok := l.handle.snapshot(); ok {
			meta := res.Metadata()
			meta.Insert(KeyProvider, []byte(report.Provider))
			meta.Insert(KeyDigest, []byte(report.Digest()))
			meta.Insert(KeyMeasurement, []byte(hex.EncodeToString(report.Measurement)))
		}
		return res, nil
	})
}

// Refresher polls an attestor and keeps a handle current. It runs as a
// background service in the runner.
type Refresher struct {
	attestor Attestor
	handle   *Handle
	interval time.Duration
}

// NewRefresher builds a refresh task with the given poll interval.
func NewRefresher(attestor Attestor, handle *Handle, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Refresher{attestor: attestor, handle: handle, interval: interval}
}

// Name implements runner.BackgroundService.
func (r *Refresher) Name() string { return "tee-refresher" }

// Start implements runner.BackgroundService.
func (r *Refresher) Start(ctx context.Context) (<-chan error, error) {
	if report, ok := r.attestor.CurrentReport(); ok {
		r.handle.Update(report)
	}
	done := make(chan error, 1)
	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if report, ok := r.attestor.CurrentReport(); ok {
					r.handle.Update(report)
				}
			case <-ctx.Done():
				done <- nil
				return
			}
		}
	}()
	return done, nil
}
