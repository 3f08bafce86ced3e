// Copyright 2025 Certen Protocol
//
// Wire messages of the signature aggregation protocol.

package aggregation

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/certen/blueprint-runtime/pkg/transport"
)

// Protocol rounds. Shares and aggregates flow on separate rounds so the
// transport shim can buffer them independently.
const (
	roundShare     uint8 = 1
	roundAck       uint8 = 2
	roundAggregate uint8 = 3
)

// signatureShare is a party's signature over the shared message hash.
type signatureShare struct {
	Party     transport.PartyIndex
	Signature []byte
}

func (m *signatureShare) encode() []byte {
	buf := make([]byte, 2+2+len(m.Signature))
	binary.BigEndian.PutUint16(buf[0:2], uint16(m.Party))
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(m.Signature)))
	copy(buf[4:], m.Signature)
	return buf
}

func decodeSignatureShare(data []byte) (*signatureShare, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("short signature share: %d bytes", len(data))
	}
	sigLen := int(binary.BigEndian.Uint16(data[2:4]))
	if len(data) != 4+sigLen {
		return nil, fmt.Errorf("signature share length mismatch")
	}
	return &signatureShare{
		Party:     transport.PartyIndex(binary.BigEndian.Uint16(data[0:2])),
		Signature: data[4:],
	}, nil
}

// ackShare is an aggregator's acknowledgement that it accepted a share.
type ackShare struct {
	Party transport.PartyIndex // the acknowledged share's owner
}

func (m *ackShare) encode() []byte {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], uint16(m.Party))
	return buf[:]
}

func decodeAckShare(data []byte) (*ackShare, error) {
	if len(data) != 2 {
		return nil, fmt.Errorf("short ack: %d bytes", len(data))
	}
	return &ackShare{Party: transport.PartyIndex(binary.BigEndian.Uint16(data))}, nil
}

// aggregatedSignature carries the final aggregate and its contributor set.
type aggregatedSignature struct {
	Contributors []transport.PartyIndex
	Signature    []byte
	TotalWeight  uint64
}

func (m *aggregatedSignature) encode() []byte {
	sorted := append([]transport.PartyIndex(nil), m.Contributors...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	buf := make([]byte, 2+2*len(sorted)+8+2+len(m.Signature))
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(sorted)))
	off := 2
	for _, p := range sorted {
		binary.BigEndian.PutUint16(buf[off:off+2], uint16(p))
		off += 2
	}
	binary.BigEndian.PutUint64(buf[off:off+8], m.TotalWeight)
	off += 8
	binary.BigEndian.PutUint16(buf[off:off+2], uint16(len(m.Signature)))
	off += 2
	copy(buf[off:], m.Signature)
	return buf
}

func decodeAggregatedSignature(data []byte) (*aggregatedSignature, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("short aggregate: %d bytes", len(data))
	}
	count := int(binary.BigEndian.Uint16(data[0:2]))
	need := 2 + 2*count + 8 + 2
	if len(data) < need {
		return nil, fmt.Errorf("truncated aggregate")
	}
	m := &aggregatedSignature{Contributors: make([]transport.PartyIndex, count)}
	off := 2
	for i := 0; i < count; i++ {
		m.Contributors[i] = transport.PartyIndex(binary.BigEndian.Uint16(data[off : off+2]))
		off += 2
	}
	m.TotalWeight = binary.BigEndian.Uint64(data[off : off+8])
	off += 8
	sigLen := int(binary.BigEndian.Uint16(data[off : off+2]))
	off += 2
	if len(data) != off+sigLen {
		return nil, fmt.Errorf("aggregate signature length mismatch")
	}
	m.Signature = data[off:]
	return m, nil
}
