// Copyright 2025 Certen Protocol
//
// Round-based transport shim - deterministic party-indexed broadcast/p2p
// messaging over the network service, used by the signature aggregation
// protocol. Messages are tagged (instance, round, sender); messages for
// future rounds are buffered, messages for completed rounds are discarded.
// Encryption and peer authentication are the network service's concern.

package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/certen/blueprint-runtime/pkg/logging"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// PartyIndex is an operator's position within a protocol instance.
type PartyIndex uint16

// Incoming is a raw message from the network service.
type Incoming struct {
	Peer string
	Data []byte
}

// NetworkService is the lower networking layer. Implementations handle
// peer authentication and encryption.
type NetworkService interface {
	Broadcast(ctx context.Context, topic string, msg []byte) error
	Send(ctx context.Context, peer string, msg []byte) error
	Subscribe() <-chan Incoming
}

// Inbound is a decoded round message.
type Inbound struct {
	Sender  PartyIndex
	Payload []byte
}

const envelopeHeader = 16 + 1 + 2 // instance + round + sender

func encodeEnvelope(instance uuid.UUID, round uint8, sender PartyIndex, payload []byte) []byte {
	buf := make([]byte, envelopeHeader+len(payload))
	copy(buf[:16], instance[:])
	buf[16] = round
	binary.BigEndian.PutUint16(buf[17:19], uint16(sender))
	copy(buf[envelopeHeader:], payload)
	return buf
}

func decodeEnvelope(data []byte) (uuid.UUID, uint8, PartyIndex, []byte, error) {
	if len(data) < envelopeHeader {
		return uuid.UUID{}, 0, 0, nil, fmt.Errorf("short envelope: %d bytes", len(data))
	}
	var instance uuid.UUID
	copy(instance[:], data[:16])
	round := data[16]
	sender := PartyIndex(binary.BigEndian.Uint16(data[17:19]))
	return instance, round, sender, data[envelopeHeader:], nil
}

const roundBuffer = 256

// RoundTransport multiplexes one protocol instance's messages by round.
type RoundTransport struct {
	net      NetworkService
	instance uuid.UUID
	self     PartyIndex
	peers    map[PartyIndex]string

	mu        sync.Mutex
	rounds    map[uint8]chan Inbound
	completed map[uint8]bool

	log *logrus.Entry
}

// New creates a transport for one protocol instance. peers maps every
// participating party to its network identity, including self.
func New(net NetworkService, instance uuid.UUID, self PartyIndex, peers map[PartyIndex]string) *RoundTransport {
	return &RoundTransport{
		net:      net,
		instance: instance,
		self:     self,
		peers:    peers,
		rounds:   make(map[uint8]chan Inbound),
		completed: make(map[uint8]bool),
		log: logging.Component("transport").
			WithField("instance", instance.String()).
			WithField("party", self),
	}
}

// Start launches the demultiplexing loop. It terminates when ctx is
// cancelled or the subscription channel closes.
func (t *RoundTransport) Start(ctx context.Context) {
	go t.readLoop(ctx)
}

func (t *RoundTransport) readLoop(ctx context.Context) {
	sub := t.net.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-sub:
			if !ok {
				return
			}
			t.dispatch(in)
		}
	}
}

func (t *RoundTransport) dispatch(in Incoming) {
	instance, round, sender, payload, err := decodeEnvelope(in.Data)
	if err != nil {
		t.log.WithError(err).Debug("dropping malformed envelope")
		return
	}
	if instance != t.instance || sender == t.self {
		return
	}

	t.mu.Lock()
	if t.completed[round] {
		t.mu.Unlock()
		t.log.WithField("round", round).Debug("dropping message for completed round")
		return
	}
	ch := t.roundChanLocked(round)
	t.mu.Unlock()

	select {
	case ch <- Inbound{Sender: sender, Payload: payload}:
	default:
		t.log.WithField("round", round).Warn("round buffer full, dropping message")
	}
}

func (t *RoundTransport) roundChanLocked(round uint8) chan Inbound {
	ch, ok := t.rounds[round]
	if !ok {
		ch = make(chan Inbound, roundBuffer)
		t.rounds[round] = ch
	}
	return ch
}

// Broadcast sends msg to every other party, tagged with the given round.
func (t *RoundTransport) Broadcast(ctx context.Context, round uint8, payload []byte) error {
	data := encodeEnvelope(t.instance, round, t.self, payload)
	return t.net.Broadcast(ctx, t.instance.String(), data)
}

// P2P sends msg to a single party, tagged with the given round.
func (t *RoundTransport) P2P(ctx context.Context, round uint8, target PartyIndex, payload []byte) error {
	peer, ok := t.peers[target]
	if !ok {
		return fmt.Errorf("unknown party %d", target)
	}
	data := encodeEnvelope(t.instance, round, t.self, payload)
	return t.net.Send(ctx, peer, data)
}

// Recv returns the next message tagged with the given round. Messages that
// arrived before the first Recv for the round are buffered and returned in
// arrival order.
func (t *RoundTransport) Recv(ctx context.Context, round uint8) (Inbound, error) {
	t.mu.Lock()
	if t.completed[round] {
		t.mu.Unlock()
		return Inbound{}, fmt.Errorf("round %d already completed", round)
	}
	ch := t.roundChanLocked(round)
	t.mu.Unlock()

	select {
	case in := <-ch:
		return in, nil
	case <-ctx.Done():
		return Inbound{}, ctx.Err()
	}
}

// TryRecv returns a buffered message for the round without blocking.
func (t *RoundTransport) TryRecv(round uint8) (Inbound, bool) {
	t.mu.Lock()
	ch := t.roundChanLocked(round)
	t.mu.Unlock()

	select {
	case in := <-ch:
		return in, true
	default:
		return Inbound{}, false
	}
}

// CompleteRound marks a round finished. Later messages for it are dropped.
func (t *RoundTransport) CompleteRound(round uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed[round] = true
	delete(t.rounds, round)
}

// Parties returns the indices of all participating parties.
func (t *RoundTransport) Parties() []PartyIndex {
	out := make([]PartyIndex, 0, len(t.peers))
	for p := range t.peers {
		out = append(out, p)
	}
	return out
}

// Self returns this operator's party index.
func (t *RoundTransport) Self() PartyIndex {
	return t.self
}
