// Copyright 2025 Certen Protocol
//
// SCALE codec types for the substrate-family services pallet.

package substrate

import (
	"bytes"
	"fmt"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
)

// JobCalledEvent is the pallet's job invocation event record.
type JobCalledEvent struct {
	ServiceID uint64
	JobIndex  uint32
	CallID    uint64
	Args      []byte
}

// Encode serializes the event with SCALE.
func (e *JobCalledEvent) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := scale.NewEncoder(&buf).Encode(e); err != nil {
		return nil, fmt.Errorf("scale encode event: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeJobCalledEvent parses a raw SCALE event record.
func DecodeJobCalledEvent(data []byte) (*JobCalledEvent, error) {
	var ev JobCalledEvent
	if err := scale.NewDecoder(bytes.NewReader(data)).Decode(&ev); err != nil {
		return nil, fmt.Errorf("scale decode event: %w", err)
	}
	return &ev, nil
}

// submitResultCall is the pallet call submitting a job result.
type submitResultCall struct {
	PalletIndex uint8
	CallIndex   uint8
	ServiceID   uint64
	CallID      uint64
	Result      []byte
}

// OperatorRecord is one entry of the pallet's operator storage map.
type OperatorRecord struct {
	Account [32]byte
	PubKey  []byte
}

// DecodeOperators parses the SCALE vector stored under the operators key.
func DecodeOperators(data []byte) ([]OperatorRecord, error) {
	var records []OperatorRecord
	if err := scale.NewDecoder(bytes.NewReader(data)).Decode(&records); err != nil {
		return nil, fmt.Errorf("scale decode operators: %w", err)
	}
	return records, nil
}

// signedExtrinsic is the simplified signed submission envelope: the call,
// the sr25519 signer, and the signature over the SCALE-encoded call.
type signedExtrinsic struct {
	Call      submitResultCall
	Signer    [32]byte
	Signature [64]byte
}

func encodeExtrinsic(call submitResultCall, signer [32]byte, signature [64]byte) ([]byte, error) {
	var buf bytes.Buffer
	ext := signedExtrinsic{Call: call, Signer: signer, Signature: signature}
	if err := scale.NewEncoder(&buf).Encode(ext); err != nil {
		return nil, fmt.Errorf("scale encode extrinsic: %w", err)
	}
	return buf.Bytes(), nil
}

func encodeCall(call submitResultCall) ([]byte, error) {
	var buf bytes.Buffer
	if err := scale.NewEncoder(&buf).Encode(call); err != nil {
		return nil, fmt.Errorf("scale encode call: %w", err)
	}
	return buf.Bytes(), nil
}
