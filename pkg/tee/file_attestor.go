// Copyright 2025 Certen Protocol
//
// File attestor - reads the current attestation report from a file kept
// fresh by the platform's attestation agent. The report bytes are opaque
// evidence; the measurement is the report's SHA-256.

package tee

import (
	"crypto/sha256"
	"os"
	"time"
)

// FileAttestor loads attestation evidence from disk.
type FileAttestor struct {
	provider Provider
	path     string
}

// NewFileAttestor creates an attestor for the given evidence file.
func NewFileAttestor(provider Provider, path string) *FileAttestor {
	return &FileAttestor{provider: provider, path: path}
}

// CurrentReport implements Attestor.
func (f *FileAttestor) CurrentReport() (*Report, bool) {
	evidence, err := os.ReadFile(f.path)
	if err != nil || len(evidence) == 0 {
		return nil, false
	}
	measurement := sha256.Sum256(evidence)
	return &Report{
		Provider:    f.provider,
		Measurement: measurement[:],
		Evidence:    evidence,
		IssuedAt:    time.Now(),
	}, true
}
