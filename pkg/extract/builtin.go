// Copyright 2025 Certen Protocol
//
// Built-in extractors for common handler arguments.

package extract

import (
	"strconv"

	"github.com/certen/blueprint-runtime/pkg/job"
)

// Body consumes the call and yields its raw payload bytes.
type Body []byte

// ExtractFromCall implements CallExtractor.
func (b *Body) ExtractFromCall(call *job.Call, _ any) error {
	*b = Body(call.Body())
	return nil
}

// Context yields the router's bound context value. Extraction fails when the
// router context is not of type T.
type Context[T any] struct {
	Value T
}

// ExtractFromParts implements PartsExtractor.
func (c *Context[T]) ExtractFromParts(_ *job.Parts, ctxVal any) error {
	v, ok := ctxVal.(T)
	if !ok {
		return Reject(job.TagRejection, "router context is %T, not the requested type", ctxVal)
	}
	c.Value = v
	return nil
}

// Meta yields the call's metadata map.
type Meta struct {
	Metadata *job.Metadata
}

// ExtractFromParts implements PartsExtractor.
func (m *Meta) ExtractFromParts(parts *job.Parts, _ any) error {
	m.Metadata = parts.Metadata
	return nil
}

func metaUint(parts *job.Parts, key string) (uint64, error) {
	raw, ok := parts.Metadata.GetString(key)
	if !ok {
		return 0, Reject(job.TagRejection, "metadata key %q missing", key)
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, Reject(job.TagRejection, "metadata key %q is not numeric: %v", key, err)
	}
	return v, nil
}

// ServiceID yields the service_id metadata entry.
type ServiceID uint64

// ExtractFromParts implements PartsExtractor.
func (s *ServiceID) ExtractFromParts(parts *job.Parts, _ any) error {
	v, err := metaUint(parts, job.KeyServiceID)
	if err != nil {
		return err
	}
	*s = ServiceID(v)
	return nil
}

// CallID yields the call_id metadata entry.
type CallID uint64

// ExtractFromParts implements PartsExtractor.
func (c *CallID) ExtractFromParts(parts *job.Parts, _ any) error {
	v, err := metaUint(parts, job.KeyCallID)
	if err != nil {
		return err
	}
	*c = CallID(v)
	return nil
}

// BlockNumber yields the block_number metadata entry stamped by the chain
// adapters.
type BlockNumber uint64

// ExtractFromParts implements PartsExtractor.
func (b *BlockNumber) ExtractFromParts(parts *job.Parts, _ any) error {
	v, err := metaUint(parts, job.KeyBlockNumber)
	if err != nil {
		return err
	}
	*b = BlockNumber(v)
	return nil
}

// BlockHash yields the raw block_hash metadata value.
type BlockHash []byte

// ExtractFromParts implements PartsExtractor.
func (b *BlockHash) ExtractFromParts(parts *job.Parts, _ any) error {
	raw, ok := parts.Metadata.Get(job.KeyBlockHash)
	if !ok {
		return Reject(job.TagRejection, "metadata key %q missing", job.KeyBlockHash)
	}
	*b = BlockHash(raw)
	return nil
}

// Endpoint yields the webhook endpoint name, or the empty string when the
// call did not originate from a named endpoint. It never rejects.
type Endpoint string

// ExtractFromParts implements PartsExtractor.
func (e *Endpoint) ExtractFromParts(parts *job.Parts, _ any) error {
	raw, _ := parts.Metadata.GetString(job.KeyEndpoint)
	*e = Endpoint(raw)
	return nil
}
