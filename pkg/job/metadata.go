// Copyright 2025 Certen Protocol
//
// Ordered metadata multimap attached to job calls and result heads.

package job

import "bytes"

// Canonical metadata keys stamped by the protocol adapters.
const (
	KeyServiceID   = "service_id"
	KeyCallID      = "call_id"
	KeyBlockHash   = "block_hash"
	KeyBlockNumber = "block_number"
	KeyEndpoint    = "endpoint"
	KeyPath        = "path"
)

// MetadataEntry is a single key/value pair. Keys are byte strings compared
// case-insensitively; the raw bytes of insertion are preserved.
type MetadataEntry struct {
	Key   []byte
	Value []byte
}

// Metadata is an ordered multimap of byte-string keys to opaque byte values.
// Iteration yields entries in insertion order. The zero value is usable.
type Metadata struct {
	entries []MetadataEntry
}

// NewMetadata returns an empty metadata map.
func NewMetadata() *Metadata {
	return &Metadata{}
}

func keyEq(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// Get returns the value of the first entry matching key, if any.
func (m *Metadata) Get(key string) ([]byte, bool) {
	k := []byte(key)
	for _, e := range m.entries {
		if keyEq(e.Key, k) {
			return e.Value, true
		}
	}
	return nil, false
}

// GetString returns the first value for key as a string.
func (m *Metadata) GetString(key string) (string, bool) {
	v, ok := m.Get(key)
	if !ok {
		return "", false
	}
	return string(v), true
}

// Insert sets key to value, replacing every existing entry for the key.
// The previous first value is returned if one existed. The new entry keeps
// the position of the first replaced entry, or is appended if the key was
// not present.
func (m *Metadata) Insert(key string, value []byte) ([]byte, bool) {
	k := []byte(key)
	var (
		prev     []byte
		replaced bool
		kept     = m.entries[:0]
	)
	for _, e := range m.entries {
		if keyEq(e.Key, k) {
			if !replaced {
				prev = e.Value
				replaced = true
				kept = append(kept, MetadataEntry{Key: k, Value: value})
			}
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	if !replaced {
		m.entries = append(m.entries, MetadataEntry{Key: k, Value: value})
	}
	return prev, replaced
}

// Append adds an entry for key without disturbing existing entries.
func (m *Metadata) Append(key string, value []byte) {
	m.entries = append(m.entries, MetadataEntry{Key: []byte(key), Value: value})
}

// InsertString is Insert with a string value.
func (m *Metadata) InsertString(key, value string) {
	m.Insert(key, []byte(value))
}

// Len returns the number of entries.
func (m *Metadata) Len() int {
	return len(m.entries)
}

// Entries returns the entries in insertion order. The slice must not be
// mutated by the caller.
func (m *Metadata) Entries() []MetadataEntry {
	return m.entries
}

// Clone returns a deep copy of the metadata.
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return NewMetadata()
	}
	out := &Metadata{entries: make([]MetadataEntry, len(m.entries))}
	for i, e := range m.entries {
		out.entries[i] = MetadataEntry{
			Key:   append([]byte(nil), e.Key...),
			Value: append([]byte(nil), e.Value...),
		}
	}
	return out
}

// Equal reports whether two metadata maps hold identical entries in the
// same order, compared bit-for-bit.
func (m *Metadata) Equal(other *Metadata) bool {
	if m.Len() != other.Len() {
		return false
	}
	for i, e := range m.entries {
		o := other.entries[i]
		if !bytes.Equal(e.Key, o.Key) || !bytes.Equal(e.Value, o.Value) {
			return false
		}
	}
	return true
}
