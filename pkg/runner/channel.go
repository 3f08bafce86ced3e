// Copyright 2025 Certen Protocol
//
// Channel-backed producers and consumers, used by the gateways and tests.

package runner

import (
	"context"
	"sync"

	"github.com/certen/blueprint-runtime/pkg/job"
)

// ChannelProducer exposes a channel as a Producer. Gateways push verified
// calls into it; the runner pulls them out. Closing the producer marks the
// stream finite.
type ChannelProducer struct {
	name string
	ch   chan *job.Call
	once sync.Once
}

// NewChannelProducer creates a producer with the given buffer size.
func NewChannelProducer(name string, buffer int) *ChannelProducer {
	return &ChannelProducer{name: name, ch: make(chan *job.Call, buffer)}
}

// Name implements Producer.
func (p *ChannelProducer) Name() string {
	return p.name
}

// Next implements Producer.
func (p *ChannelProducer) Next(ctx context.Context) (*job.Call, error) {
	select {
	case call, ok := <-p.ch:
		if !ok {
			return nil, ErrProducerDone
		}
		return call, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send pushes a call into the stream, blocking when the buffer is full.
func (p *ChannelProducer) Send(ctx context.Context, call *job.Call) error {
	select {
	case p.ch <- call:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the stream. Safe to call more than once.
func (p *ChannelProducer) Close() {
	p.once.Do(func() { close(p.ch) })
}

// ConsumerFunc adapts a function to the Consumer interface.
type ConsumerFunc struct {
	ConsumerName string
	Fn           func(ctx context.Context, res *job.Result) error
}

// Name implements Consumer.
func (c ConsumerFunc) Name() string {
	return c.ConsumerName
}

// Consume implements Consumer.
func (c ConsumerFunc) Consume(ctx context.Context, res *job.Result) error {
	return c.Fn(ctx, res)
}
