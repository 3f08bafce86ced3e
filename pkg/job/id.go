// Copyright 2025 Certen Protocol
//
// Job identifiers for the blueprint runtime.

package job

import "strconv"

// ID is the numeric identifier selecting a handler for a job call.
type ID uint32

// String returns the decimal representation of the ID.
func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseID parses a decimal job ID.
func ParseID(s string) (ID, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return ID(v), nil
}
