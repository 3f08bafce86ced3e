// Copyright 2025 Certen Protocol
//
// Signature aggregation protocol.
//
// N operators co-sign a shared 32-byte message hash. Every party broadcasts
// its signature share; deterministically selected aggregators accumulate
// valid shares until the contributor weight meets the threshold, then
// broadcast the aggregate. Every party adopts the first valid aggregate it
// sees. Sessions live until an aggregate is adopted or the deadline fires.

package aggregation

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/certen/blueprint-runtime/pkg/crypto/blssig"
	"github.com/certen/blueprint-runtime/pkg/logging"
	"github.com/certen/blueprint-runtime/pkg/metrics"
	"github.com/certen/blueprint-runtime/pkg/transport"
	"github.com/sirupsen/logrus"
)

// Defaults per session.
const (
	DefaultRoundTimeout   = 15 * time.Second
	DefaultSessionTimeout = 60 * time.Second
)

// ThresholdNotMetError reports a session that timed out below threshold.
type ThresholdNotMetError struct {
	Current  uint64
	Required uint64
}

// Error implements the error interface.
func (e *ThresholdNotMetError) Error() string {
	return fmt.Sprintf("aggregation threshold not met: have weight %d, need %d", e.Current, e.Required)
}

// Config configures one protocol participant.
type Config struct {
	Scheme         blssig.Scheme
	NumAggregators uint32
	RoundTimeout   time.Duration
	SessionTimeout time.Duration
	Collectors     *metrics.Collectors
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.NumAggregators < 1 {
		out.NumAggregators = 1
	}
	if out.RoundTimeout <= 0 {
		out.RoundTimeout = DefaultRoundTimeout
	}
	if out.SessionTimeout <= 0 {
		out.SessionTimeout = DefaultSessionTimeout
	}
	return out
}

// Result is a completed session's output.
type Result struct {
	Contributors []transport.PartyIndex
	Signature    blssig.Signature
	TotalWeight  uint64
}

// Protocol is a single party's view of one aggregation session. The session
// state is owned by the task running Run.
type Protocol struct {
	cfg     Config
	weights WeightScheme
	pubkeys map[transport.PartyIndex]blssig.PublicKey
	secret  blssig.PrivateKey
	tr      *transport.RoundTransport
	log     *logrus.Entry
}

// New creates a protocol participant. pubkeys must bind every party,
// including self.
func New(
	cfg Config,
	weights WeightScheme,
	pubkeys map[transport.PartyIndex]blssig.PublicKey,
	secret blssig.PrivateKey,
	tr *transport.RoundTransport,
) *Protocol {
	return &Protocol{
		cfg:     cfg.withDefaults(),
		weights: weights,
		pubkeys: pubkeys,
		secret:  secret,
		tr:      tr,
		log:     logging.Component("aggregation").WithField("party", tr.Self()),
	}
}

// Aggregators returns the selected aggregator set for the message.
func (p *Protocol) Aggregators(msgHash [32]byte) []transport.PartyIndex {
	return SelectAggregators(p.pubkeys, msgHash, int(p.cfg.NumAggregators))
}

// IsAggregator reports whether this party aggregates for the message.
func (p *Protocol) IsAggregator(msgHash [32]byte) bool {
	for _, a := range p.Aggregators(msgHash) {
		if a == p.tr.Self() {
			return true
		}
	}
	return false
}

type protoEvent struct {
	round uint8
	in    transport.Inbound
	err   error
}

func (p *Protocol) pumpRound(ctx context.Context, round uint8, out chan<- protoEvent) {
	for {
		in, err := p.tr.Recv(ctx, round)
		if err != nil {
			return
		}
		select {
		case out <- protoEvent{round: round, in: in}:
		case <-ctx.Done():
			return
		}
	}
}

// Run executes the session and returns the first valid aggregate. On the
// session deadline it fails with ThresholdNotMetError carrying the weight
// accumulated so far.
func (p *Protocol) Run(ctx context.Context, msgHash [32]byte) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.SessionTimeout)
	defer cancel()
	defer p.tr.CompleteRound(roundShare)
	defer p.tr.CompleteRound(roundAck)
	defer p.tr.CompleteRound(roundAggregate)

	self := p.tr.Self()
	isAggregator := p.IsAggregator(msgHash)
	threshold := p.weights.ThresholdWeight()

	p.log.WithFields(logrus.Fields{
		"aggregator": isAggregator,
		"threshold":  threshold,
		"parties":    len(p.pubkeys),
	}).Debug("starting aggregation session")

	// Round 1: sign and broadcast our share.
	ownSig := p.secret.Sign(msgHash[:])
	share := &signatureShare{Party: self, Signature: ownSig.Bytes()}
	if err := p.tr.Broadcast(ctx, roundShare, share.encode()); err != nil {
		return nil, fmt.Errorf("broadcast signature share: %w", err)
	}

	events := make(chan protoEvent, 64)
	go p.pumpRound(ctx, roundShare, events)
	go p.pumpRound(ctx, roundAck, events)
	go p.pumpRound(ctx, roundAggregate, events)

	shares := map[transport.PartyIndex]blssig.Signature{self: ownSig}
	denied := map[transport.PartyIndex]bool{}
	acked := false
	broadcastAgg := false

	currentWeight := func() uint64 {
		var w uint64
		for party := range shares {
			w += p.weights.Weight(party)
		}
		return w
	}

	// Aggregators may already meet the threshold alone.
	if isAggregator {
		if res, err := p.maybeAggregate(ctx, shares, threshold, &broadcastAgg); err != nil {
			return nil, err
		} else if res != nil {
			p.recordOutcome("ok", res)
			return res, nil
		}
	}

	rebroadcast := time.NewTimer(p.cfg.RoundTimeout)
	defer rebroadcast.Stop()

	for {
		select {
		case <-ctx.Done():
			err := &ThresholdNotMetError{Current: currentWeight(), Required: threshold}
			p.recordOutcome("threshold_not_met", nil)
			return nil, err

		case <-rebroadcast.C:
			// No aggregator acknowledged our share within the round
			// timeout; send it once more in case the first broadcast
			// raced the subscription setup.
			if !acked {
				if err := p.tr.Broadcast(ctx, roundShare, share.encode()); err != nil && ctx.Err() == nil {
					p.log.WithError(err).Warn("share rebroadcast failed")
				}
			}

		case ev := <-events:
			switch ev.round {
			case roundAck:
				if _, err := decodeAckShare(ev.in.Payload); err == nil {
					acked = true
				}

			case roundShare:
				p.handleShare(ctx, ev.in, msgHash, shares, denied, isAggregator)
				if isAggregator {
					if res, err := p.maybeAggregate(ctx, shares, threshold, &broadcastAgg); err != nil {
						return nil, err
					} else if res != nil {
						p.recordOutcome("ok", res)
						return res, nil
					}
				}

			case roundAggregate:
				if res := p.adoptAggregate(ev.in, msgHash, threshold); res != nil {
					p.recordOutcome("ok", res)
					return res, nil
				}
			}
		}
	}
}

// handleShare verifies an inbound share against its claimed public key.
// Invalid shares are discarded and their senders placed on the session-local
// deny list.
func (p *Protocol) handleShare(
	ctx context.Context,
	in transport.Inbound,
	msgHash [32]byte,
	shares map[transport.PartyIndex]blssig.Signature,
	denied map[transport.PartyIndex]bool,
	isAggregator bool,
) {
	msg, err := decodeSignatureShare(in.Payload)
	if err != nil {
		p.log.WithError(err).Debug("discarding malformed share")
		return
	}
	if denied[msg.Party] {
		return
	}
	if _, seen := shares[msg.Party]; seen {
		return
	}
	pk, known := p.pubkeys[msg.Party]
	if !known || msg.Party != in.Sender {
		p.log.WithField("party", msg.Party).Debug("discarding share with mismatched sender")
		denied[in.Sender] = true
		return
	}
	sig, err := p.cfg.Scheme.SignatureFromBytes(msg.Signature)
	if err != nil || !pk.Verify(sig, msgHash[:]) {
		p.log.WithField("party", msg.Party).Warn("discarding invalid signature share")
		denied[msg.Party] = true
		return
	}

	shares[msg.Party] = sig
	if isAggregator {
		ack := &ackShare{Party: msg.Party}
		if err := p.tr.P2P(ctx, roundAck, msg.Party, ack.encode()); err != nil && ctx.Err() == nil {
			p.log.WithField("party", msg.Party).WithError(err).Debug("ack send failed")
		}
	}
}

// maybeAggregate aggregates and broadcasts once the accumulated weight
// meets the threshold. It returns the local result when aggregation
// happened.
func (p *Protocol) maybeAggregate(
	ctx context.Context,
	shares map[transport.PartyIndex]blssig.Signature,
	threshold uint64,
	done *bool,
) (*Result, error) {
	if *done {
		return nil, nil
	}
	var weight uint64
	contributors := make([]transport.PartyIndex, 0, len(shares))
	for party := range shares {
		weight += p.weights.Weight(party)
		contributors = append(contributors, party)
	}
	if weight < threshold {
		return nil, nil
	}
	sort.Slice(contributors, func(i, j int) bool { return contributors[i] < contributors[j] })

	sigs := make([]blssig.Signature, len(contributors))
	for i, party := range contributors {
		sigs[i] = shares[party]
	}
	agg, err := p.cfg.Scheme.AggregateSignatures(sigs)
	if err != nil {
		return nil, fmt.Errorf("aggregate shares: %w", err)
	}

	msg := &aggregatedSignature{
		Contributors: contributors,
		Signature:    agg.Bytes(),
		TotalWeight:  weight,
	}
	if err := p.tr.Broadcast(ctx, roundAggregate, msg.encode()); err != nil {
		return nil, fmt.Errorf("broadcast aggregate: %w", err)
	}
	*done = true

	p.log.WithFields(logrus.Fields{
		"contributors": len(contributors),
		"weight":       weight,
	}).Info("broadcast aggregated signature")

	return &Result{Contributors: contributors, Signature: agg, TotalWeight: weight}, nil
}

// adoptAggregate validates an inbound aggregate. When several valid
// aggregates are already queued, the lexicographically smallest serialized
// signature wins, so all parties converge deterministically.
func (p *Protocol) adoptAggregate(in transport.Inbound, msgHash [32]byte, threshold uint64) *Result {
	best := p.validateAggregate(in.Payload, msgHash, threshold)

	for {
		queued, ok := p.tr.TryRecv(roundAggregate)
		if !ok {
			break
		}
		candidate := p.validateAggregate(queued.Payload, msgHash, threshold)
		if candidate == nil {
			continue
		}
		if best == nil || bytes.Compare(candidate.Signature.Bytes(), best.Signature.Bytes()) < 0 {
			best = candidate
		}
	}
	return best
}

func (p *Protocol) validateAggregate(payload []byte, msgHash [32]byte, threshold uint64) *Result {
	msg, err := decodeAggregatedSignature(payload)
	if err != nil {
		p.log.WithError(err).Debug("discarding malformed aggregate")
		return nil
	}

	var weight uint64
	pks := make([]blssig.PublicKey, 0, len(msg.Contributors))
	for _, party := range msg.Contributors {
		pk, known := p.pubkeys[party]
		if !known {
			p.log.WithField("party", party).Debug("aggregate names unknown contributor")
			return nil
		}
		pks = append(pks, pk)
		weight += p.weights.Weight(party)
	}
	if weight < threshold {
		p.log.WithField("weight", weight).Debug("aggregate below threshold")
		return nil
	}

	sig, err := p.cfg.Scheme.SignatureFromBytes(msg.Signature)
	if err != nil {
		return nil
	}
	if !p.cfg.Scheme.VerifyAggregate(sig, pks, msgHash[:]) {
		p.log.Warn("discarding aggregate that fails verification")
		return nil
	}

	return &Result{Contributors: msg.Contributors, Signature: sig, TotalWeight: weight}
}

func (p *Protocol) recordOutcome(outcome string, res *Result) {
	if p.cfg.Collectors == nil {
		return
	}
	p.cfg.Collectors.AggregationSessions.WithLabelValues(outcome).Inc()
	if res != nil {
		p.cfg.Collectors.AggregationWeight.Set(float64(res.TotalWeight))
	}
}
