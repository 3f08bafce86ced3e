// Copyright 2025 Certen Protocol
//
// JobCall - the unit of work entering the runtime.

package job

// Call is an immutable envelope carrying a job ID, an opaque body, and
// metadata. Cloning is cheap: the body bytes are shared between clones,
// metadata is copied.
type Call struct {
	id   ID
	body []byte
	meta *Metadata
}

// NewCall constructs a call with an empty metadata map.
func NewCall(id ID, body []byte) *Call {
	return &Call{id: id, body: body, meta: NewMetadata()}
}

// JobID returns the job identifier.
func (c *Call) JobID() ID {
	return c.id
}

// Body returns the opaque payload. Callers must not mutate it; the body is
// shared between clones.
func (c *Call) Body() []byte {
	return c.body
}

// Metadata returns the call's metadata map.
func (c *Call) Metadata() *Metadata {
	return c.meta
}

// Clone returns a copy sharing the body bytes with the receiver.
func (c *Call) Clone() *Call {
	return &Call{id: c.id, body: c.body, meta: c.meta.Clone()}
}

// Parts is the body-less half of a call: the job ID plus metadata.
type Parts struct {
	ID       ID
	Metadata *Metadata
}

// IntoParts splits the call into its parts and body. Re-joining with
// FromParts is a bit-exact round trip.
func (c *Call) IntoParts() (*Parts, []byte) {
	return &Parts{ID: c.id, Metadata: c.meta}, c.body
}

// FromParts is the inverse of IntoParts.
func FromParts(p *Parts, body []byte) *Call {
	meta := p.Metadata
	if meta == nil {
		meta = NewMetadata()
	}
	return &Call{id: p.ID, body: body, meta: meta}
}
